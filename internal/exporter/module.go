package exporter

import (
	"context"
	"fmt"

	"go.uber.org/fx"
	"go.uber.org/zap"

	"outline-manager/internal/config"
	"outline-manager/internal/domain"
	"outline-manager/internal/exporter/uptimekuma"
	"outline-manager/internal/interfaces"
)

// Module exports the exporter module
var Module = fx.Options(
	fx.Provide(NewManager),
	fx.Provide(func(m *Manager) interfaces.ProbeExporter { return m }),
)

type watchedExporter struct {
	kind     string
	watches  map[string]struct{}
	exporter domain.Exporter
}

func (w watchedExporter) watching(serverID string) bool {
	if len(w.watches) == 0 {
		return true
	}
	_, ok := w.watches[serverID]
	return ok
}

// Manager fans probe results out to the configured exporters.
type Manager struct {
	exporters []watchedExporter
	logger    *zap.Logger
}

func NewManager(cfg *config.Config, logger *zap.Logger) (*Manager, error) {
	manager := &Manager{
		logger: logger.With(zap.String("component", "exporter")),
	}

	for _, expCfg := range cfg.Exporters {
		exporter, err := createExporter(&expCfg)
		if err != nil {
			return nil, fmt.Errorf("failed to create exporter %s: %w", expCfg.Type, err)
		}
		manager.Add(expCfg.Type, exporter, expCfg.Watches...)
	}

	return manager, nil
}

// Add registers an exporter for the given server ids, or for every server
// when none are given.
func (m *Manager) Add(kind string, exporter domain.Exporter, watches ...string) {
	w := watchedExporter{kind: kind, watches: make(map[string]struct{}, len(watches)), exporter: exporter}
	for _, id := range watches {
		w.watches[id] = struct{}{}
	}
	m.exporters = append(m.exporters, w)
}

func (m *Manager) Len() int {
	return len(m.exporters)
}

// Export pushes result to every exporter watching its server. Failures are
// logged and never returned.
func (m *Manager) Export(ctx context.Context, result domain.ProbeResult) {
	for _, w := range m.exporters {
		if !w.watching(result.ServerID) {
			continue
		}
		if err := w.exporter.Export(ctx, result); err != nil {
			m.logger.Error("failed to export probe result",
				zap.String("exporter", w.kind),
				zap.String("server_id", result.ServerID),
				zap.Bool("reachable", result.Reachable),
				zap.Error(err),
			)
		}
	}
}

func createExporter(cfg *config.ExporterConfig) (domain.Exporter, error) {
	switch cfg.Type {
	case config.ExporterTypeUptimeKuma:
		return uptimekuma.New(cfg.Raw)
	default:
		return nil, fmt.Errorf("unknown exporter type: %s", cfg.Type)
	}
}
