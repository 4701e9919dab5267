package app

import (
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"

	"outline-manager/internal/common"
	"outline-manager/internal/config"
	"outline-manager/internal/console"
	"outline-manager/internal/events"
	"outline-manager/internal/exporter"
	"outline-manager/internal/metrics"
	"outline-manager/internal/reporter"
	"outline-manager/internal/repository"
	"outline-manager/internal/server"
	"outline-manager/internal/storage"
	"outline-manager/internal/tunnel"
	"outline-manager/internal/worker"
	"outline-manager/internal/xray"
)

// Modules assembles the application graph. Options that carry a ready-made
// dependency replace the module that would otherwise build it.
func Modules(options *common.ServiceOptions) fx.Option {
	opts := []fx.Option{
		// Provide application-wide dependencies
		fx.Supply(options.Logger),
		fx.Provide(fx.Annotate(
			func() string { return options.Env },
			fx.ResultTags(`name:"env"`),
		)),

		events.Module,
		metrics.Module,
		server.Module,
		repository.Module,
		exporter.Module,
		worker.Module,
		reporter.Module,

		// Configure fx logging
		fx.WithLogger(func(logger *zap.Logger) fxevent.Logger {
			return &fxevent.ZapLogger{Logger: logger}
		}),
	}

	if options.Config != nil {
		opts = append(opts, fx.Supply(options.Config))
	} else {
		opts = append(opts, config.Module)
	}

	if options.Store != nil {
		opts = append(opts, fx.Provide(func() storage.Store { return options.Store }))
	} else {
		opts = append(opts, storage.Module)
	}

	if options.TunnelProvider != nil {
		opts = append(opts, fx.Provide(func() tunnel.Provider { return options.TunnelProvider }))
	} else {
		opts = append(opts, xray.Module)
	}

	if options.ConsoleIn != nil {
		opts = append(opts,
			fx.Supply(console.IO{In: options.ConsoleIn, Out: options.ConsoleOut}),
			console.Module,
		)
	}

	return fx.Options(opts...)
}
