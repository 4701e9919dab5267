package worker

import (
	"context"
	"time"

	"go.uber.org/fx"
	"go.uber.org/zap"

	"outline-manager/internal/config"
	"outline-manager/internal/interfaces"
)

var Module = fx.Options(
	fx.Provide(PoolConfigFrom),
	fx.Provide(func(cfg *config.Config, repo interfaces.ServerRepository, logger *zap.Logger) Scheduler {
		return NewScheduler(
			time.Duration(cfg.Probe.Interval)*time.Second,
			repo,
			logger,
		)
	}),
	fx.Provide(NewPool),
	fx.Provide(func(p *Pool) interfaces.WorkerPool { return p }),
	fx.Invoke(registerHooks),
)

func registerHooks(lc fx.Lifecycle, pool *Pool) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			return pool.Start(ctx)
		},
		OnStop: func(ctx context.Context) error {
			return pool.Stop()
		},
	})
}
