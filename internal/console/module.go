package console

import (
	"context"
	"io"

	"go.uber.org/fx"
	"go.uber.org/zap"

	"outline-manager/internal/events"
	"outline-manager/internal/interfaces"
)

// IO names the streams the shell talks over.
type IO struct {
	In  io.Reader
	Out io.Writer
}

var Module = fx.Options(
	fx.Provide(NewFromIO),
	fx.Invoke(registerHooks),
)

func NewFromIO(
	stdio IO,
	repo interfaces.ServerRepository,
	queue *events.Queue,
	errorReporter interfaces.ErrorReporter,
	logger *zap.Logger,
) *Shell {
	return New(repo, queue, errorReporter, stdio.In, stdio.Out, logger)
}

// registerHooks runs the shell in the background and shuts the app down
// when it exits.
func registerHooks(lc fx.Lifecycle, shell *Shell, shutdowner fx.Shutdowner, logger *zap.Logger) {
	ctx, cancel := context.WithCancel(context.Background())
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			go func() {
				err := shell.Run(ctx)
				if ctx.Err() != nil {
					return
				}
				if err != nil {
					logger.Error("console stopped", zap.Error(err))
				}
				if err := shutdowner.Shutdown(); err != nil {
					logger.Error("failed to request shutdown", zap.Error(err))
				}
			}()
			return nil
		},
		OnStop: func(context.Context) error {
			cancel()
			return nil
		},
	})
}
