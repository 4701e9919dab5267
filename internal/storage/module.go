package storage

import (
	"context"
	"io"

	"go.uber.org/fx"
	"go.uber.org/zap"

	"outline-manager/internal/config"
)

var Module = fx.Options(
	fx.Provide(provideStore),
)

func provideStore(lc fx.Lifecycle, cfg *config.Config, logger *zap.Logger) (Store, error) {
	store, err := New(cfg, logger)
	if err != nil {
		return nil, err
	}

	if closer, ok := store.(io.Closer); ok {
		lc.Append(fx.Hook{
			OnStop: func(ctx context.Context) error {
				return closer.Close()
			},
		})
	}

	logger.Info("storage ready",
		zap.String("backend", cfg.Storage.Backend),
		zap.String("path", cfg.Storage.Path))
	return store, nil
}
