package events

import (
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Options(
	fx.Provide(provideQueue),
)

func provideQueue(lc fx.Lifecycle, logger *zap.Logger) *Queue {
	q := NewQueue(logger)
	lc.Append(fx.Hook{
		OnStop: q.Close,
	})
	return q
}
