package repository

import (
	"encoding/json"

	"go.uber.org/zap"

	"outline-manager/internal/domain"
)

// migrate copies legacy records into the current key. It runs only while
// the current key is empty and never fails startup.
func (r *Repository) migrate() {
	if current, ok, err := r.store.Get(ServersKey); err != nil {
		r.logger.Error("failed to read servers for migration", zap.Error(err))
		return
	} else if ok && current != "" {
		return
	}

	raw, ok, err := r.store.Get(LegacyServersKey)
	if err != nil {
		r.logger.Error("failed to read legacy servers", zap.Error(err))
		return
	}
	if !ok || raw == "" {
		return
	}

	var legacy map[string]domain.ShadowsocksConfig
	if err := json.Unmarshal([]byte(raw), &legacy); err != nil {
		r.logger.Error("failed to parse legacy servers", zap.Error(err))
		return
	}

	migrated := make(map[string]domain.ServerConfig, len(legacy))
	for id, proxy := range legacy {
		p := proxy
		migrated[id] = domain.ServerConfig{Proxy: &p, Name: proxy.Name}
	}

	data, err := json.Marshal(migrated)
	if err != nil {
		r.logger.Error("failed to marshal migrated servers", zap.Error(err))
		return
	}
	if err := r.store.Set(ServersKey, string(data)); err != nil {
		r.logger.Error("failed to store migrated servers", zap.Error(err))
		return
	}

	r.logger.Info("migrated legacy servers", zap.Int("count", len(migrated)))
}
