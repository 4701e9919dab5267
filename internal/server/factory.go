package server

import (
	"fmt"

	"go.uber.org/fx"
	"go.uber.org/zap"

	"outline-manager/internal/domain"
	"outline-manager/internal/events"
	"outline-manager/internal/tunnel"
)

var Module = fx.Options(
	fx.Provide(NewFactory),
)

// Factory builds the server bound to an id.
type Factory interface {
	NewServer(id string, cfg domain.ServerConfig) (domain.Server, error)
	// Release frees the tunnel of a server that will never be used again.
	Release(id string)
}

type factory struct {
	provider tunnel.Provider
	queue    *events.Queue
	metrics  domain.MetricsCollector
	logger   *zap.Logger
}

func NewFactory(
	provider tunnel.Provider,
	queue *events.Queue,
	metrics domain.MetricsCollector,
	logger *zap.Logger,
) Factory {
	return &factory{
		provider: provider,
		queue:    queue,
		metrics:  metrics,
		logger:   logger.With(zap.String("component", "server")),
	}
}

// NewServer rejects a bad config before any tunnel is allocated for it.
func (f *factory) NewServer(id string, cfg domain.ServerConfig) (domain.Server, error) {
	if err := validateConfig(id, cfg); err != nil {
		return nil, err
	}
	t, err := f.provider.Tunnel(id)
	if err != nil {
		return nil, fmt.Errorf("failed to get tunnel for server %s: %w", id, err)
	}
	s, err := New(id, cfg, t, f.queue, f.metrics, f.logger)
	if err != nil {
		f.provider.Release(id)
		return nil, err
	}
	return s, nil
}

func (f *factory) Release(id string) {
	f.provider.Release(id)
}
