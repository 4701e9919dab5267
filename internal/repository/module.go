package repository

import (
	"context"

	"go.uber.org/fx"
	"go.uber.org/zap"

	"outline-manager/internal/domain"
	"outline-manager/internal/events"
	"outline-manager/internal/interfaces"
)

var Module = fx.Options(
	fx.Provide(New),
	fx.Provide(func(r *Repository) interfaces.ServerRepository { return r }),
	fx.Invoke(registerSourceSync),
)

// registerSourceSync stores source URL changes reported by tunnels.
func registerSourceSync(lc fx.Lifecycle, queue *events.Queue, repo *Repository, logger *zap.Logger) {
	var unsubscribe func()
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			unsubscribe = queue.Subscribe(events.TypeServerConfigSourceURLChanged, func(e events.Event) {
				changed := e.(events.ServerConfigSourceURLChanged)
				cfg := domain.ServerConfig{Source: &domain.ProxyConfigSource{URL: changed.URL}}
				if err := repo.Update(changed.Server().ID(), cfg); err != nil {
					logger.Error("failed to store new source url",
						zap.String("server_id", changed.Server().ID()),
						zap.Error(err))
				}
			})
			return nil
		},
		OnStop: func(ctx context.Context) error {
			if unsubscribe != nil {
				unsubscribe()
			}
			return nil
		},
	})
}
