// Package repository owns the set of configured servers and keeps it in
// sync with storage.
package repository

import (
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"outline-manager/internal/apperrors"
	"outline-manager/internal/domain"
	"outline-manager/internal/events"
	"outline-manager/internal/server"
	"outline-manager/internal/storage"
)

const (
	// LegacyServersKey holds {id: ShadowsocksConfig} from before dynamic keys.
	LegacyServersKey = "servers"
	// ServersKey holds {id: ServerConfig}.
	ServersKey = "servers_v1"
)

type Repository struct {
	store   storage.Store
	factory server.Factory
	queue   *events.Queue
	metrics domain.MetricsCollector
	logger  *zap.Logger
	newID   func() string

	mu      sync.Mutex
	servers map[string]domain.Server
	// lastForgotten is a single undo slot, overwritten by every forget.
	lastForgotten domain.Server
}

// New migrates legacy storage, then loads every persisted server. Storage
// that exists but cannot be parsed is returned as an error.
func New(
	store storage.Store,
	factory server.Factory,
	queue *events.Queue,
	metrics domain.MetricsCollector,
	logger *zap.Logger,
) (*Repository, error) {
	r := &Repository{
		store:   store,
		factory: factory,
		queue:   queue,
		metrics: metrics,
		logger:  logger.With(zap.String("component", "repository")),
		newID:   func() string { return uuid.New().String() },
		servers: make(map[string]domain.Server),
	}

	r.migrate()
	if err := r.load(); err != nil {
		return nil, err
	}
	r.metrics.SetServerCount(len(r.servers))
	return r, nil
}

// GetAll returns the servers ordered by id.
func (r *Repository) GetAll() []domain.Server {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]domain.Server, 0, len(r.servers))
	for _, s := range r.servers {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID() < out[j].ID() })
	return out
}

func (r *Repository) GetByID(id string) (domain.Server, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.servers[id]
	return s, ok
}

func (r *Repository) ContainsServer(cfg domain.ServerConfig) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.findMatch(cfg) != nil
}

func (r *Repository) findMatch(cfg domain.ServerConfig) domain.Server {
	for _, s := range r.servers {
		if domain.ConfigsMatch(s.Config(), cfg) {
			return s
		}
	}
	return nil
}

// Add tracks a new server. It fails with ServerAlreadyAddedError when an
// equivalent config exists and with UnsupportedCipherError for a proxy whose
// cipher is not allowed.
func (r *Repository) Add(cfg domain.ServerConfig) (domain.Server, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if existing := r.findMatch(cfg); existing != nil {
		return nil, &apperrors.ServerAlreadyAddedError{Server: existing}
	}
	if !domain.IsCipherSupported(cfg) {
		return nil, apperrors.NewUnsupportedCipherError(cfg.Proxy.Method)
	}

	id := r.newID()
	s, err := r.factory.NewServer(id, cfg)
	if err != nil {
		return nil, err
	}

	r.servers[id] = s
	if err := r.persist(); err != nil {
		delete(r.servers, id)
		r.factory.Release(id)
		return nil, err
	}

	r.recordMutation("add")
	r.logger.Info("server added", zap.String("server_id", id), zap.String("name", s.Name()))
	r.queue.Enqueue(events.NewServerAdded(s))
	return s, nil
}

// Update syncs a changed source URL into the stored config. Anything else in
// cfg is ignored, including the proxy.
func (r *Repository) Update(id string, cfg domain.ServerConfig) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.servers[id]
	if !ok {
		r.logger.Warn("cannot update nonexistent server", zap.String("server_id", id))
		return nil
	}

	current := s.Config()
	if sourceURL(current) == sourceURL(cfg) {
		return nil
	}
	if cfg.Source == nil {
		r.logger.Warn("ignoring update without source", zap.String("server_id", id))
		return nil
	}

	s.SetSource(*cfg.Source)
	if err := r.persist(); err != nil {
		if current.Source != nil {
			s.SetSource(*current.Source)
		}
		return err
	}

	r.recordMutation("update")
	r.logger.Debug("server source updated", zap.String("server_id", id), zap.String("url", cfg.Source.URL))
	return nil
}

func sourceURL(cfg domain.ServerConfig) string {
	if cfg.Source == nil {
		return ""
	}
	return cfg.Source.URL
}

func (r *Repository) Rename(id, name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.servers[id]
	if !ok {
		r.logger.Warn("cannot rename nonexistent server", zap.String("server_id", id))
		return nil
	}

	previous := s.Config().Name
	s.SetName(name)
	if err := r.persist(); err != nil {
		s.SetName(previous)
		return err
	}

	r.recordMutation("rename")
	r.queue.Enqueue(events.NewServerRenamed(s))
	return nil
}

func (r *Repository) Forget(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.servers[id]
	if !ok {
		r.logger.Warn("cannot remove nonexistent server", zap.String("server_id", id))
		return nil
	}

	delete(r.servers, id)
	if err := r.persist(); err != nil {
		r.servers[id] = s
		return err
	}
	// The previous forgotten server can no longer be restored.
	if prev := r.lastForgotten; prev != nil && prev.ID() != id {
		r.factory.Release(prev.ID())
	}
	r.lastForgotten = s

	r.recordMutation("forget")
	r.logger.Info("server forgotten", zap.String("server_id", id))
	r.queue.Enqueue(events.NewServerForgotten(s))
	return nil
}

// UndoForget restores the most recently forgotten server if its id matches.
func (r *Repository) UndoForget(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.lastForgotten == nil {
		r.logger.Warn("no forgotten server to restore", zap.String("server_id", id))
		return nil
	}
	if r.lastForgotten.ID() != id {
		r.logger.Warn("forgotten server id mismatch",
			zap.String("server_id", id),
			zap.String("last_forgotten_id", r.lastForgotten.ID()))
		return nil
	}

	s := r.lastForgotten
	r.servers[id] = s
	if err := r.persist(); err != nil {
		delete(r.servers, id)
		return err
	}
	r.lastForgotten = nil

	r.recordMutation("undo_forget")
	r.logger.Info("server restored", zap.String("server_id", id))
	r.queue.Enqueue(events.NewServerForgetUndone(s))
	return nil
}

func (r *Repository) recordMutation(op string) {
	r.metrics.RecordRepositoryOperation(op)
	r.metrics.SetServerCount(len(r.servers))
}

// persist writes the whole map as one record. Callers hold r.mu.
func (r *Repository) persist() error {
	record := make(map[string]domain.ServerConfig, len(r.servers))
	for id, s := range r.servers {
		record[id] = s.StoredConfig()
	}

	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed to marshal servers: %w", err)
	}
	if err := r.store.Set(ServersKey, string(data)); err != nil {
		return fmt.Errorf("failed to store servers: %w", err)
	}
	return nil
}

func (r *Repository) load() error {
	raw, ok, err := r.store.Get(ServersKey)
	if err != nil {
		return fmt.Errorf("failed to read servers: %w", err)
	}
	if !ok || raw == "" {
		return nil
	}

	var entries map[string]json.RawMessage
	if err := json.Unmarshal([]byte(raw), &entries); err != nil {
		return fmt.Errorf("failed to parse stored servers: %w", err)
	}

	for id, entry := range entries {
		var cfg domain.ServerConfig
		if err := json.Unmarshal(entry, &cfg); err != nil {
			r.logger.Error("skipping malformed server record", zap.String("server_id", id), zap.Error(err))
			continue
		}

		s, err := r.factory.NewServer(id, cfg)
		if err != nil {
			r.logger.Error("failed to load server", zap.String("server_id", id), zap.Error(err))
			continue
		}
		if !domain.IsCipherSupported(cfg) {
			s.SetErrorMessageID(domain.ErrorMessageUnsupportedCipher)
		}
		r.servers[id] = s
	}

	r.logger.Info("servers loaded", zap.Int("count", len(r.servers)))
	return nil
}
