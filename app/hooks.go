package app

import (
	"context"

	"go.uber.org/fx"
	"go.uber.org/zap"

	"outline-manager/internal/interfaces"
)

type hookParams struct {
	fx.In

	Logger     *zap.Logger
	Lifecycle  fx.Lifecycle
	Env        string `name:"env"`
	Repository interfaces.ServerRepository
}

func registerHooks(p hookParams) {
	p.Lifecycle.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			p.Logger.Info("starting application",
				zap.String("env", p.Env),
				zap.Int("servers", len(p.Repository.GetAll())))
			return nil
		},
		OnStop: func(ctx context.Context) error {
			p.Logger.Info("stopping application")
			return nil
		},
	})
}
