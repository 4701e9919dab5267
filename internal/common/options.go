package common

import (
	"io"

	"go.uber.org/zap"

	"outline-manager/internal/config"
	"outline-manager/internal/storage"
	"outline-manager/internal/tunnel"
)

// ServiceOptions defines common options for the application
type ServiceOptions struct {
	Logger *zap.Logger
	Env    string
	// Config replaces file and environment loading when set.
	Config *config.Config
	// Store replaces the configured storage backend when set.
	Store storage.Store
	// TunnelProvider replaces the xray tunnels when set.
	TunnelProvider tunnel.Provider
	ConsoleIn      io.Reader
	ConsoleOut     io.Writer
}

// Option defines a service option modifier
type Option func(*ServiceOptions)

func WithLogger(logger *zap.Logger) Option {
	return func(o *ServiceOptions) {
		o.Logger = logger
	}
}

func WithEnv(env string) Option {
	return func(o *ServiceOptions) {
		o.Env = env
	}
}

func WithConfig(cfg *config.Config) Option {
	return func(o *ServiceOptions) {
		o.Config = cfg
	}
}

func WithStore(store storage.Store) Option {
	return func(o *ServiceOptions) {
		o.Store = store
	}
}

func WithTunnelProvider(provider tunnel.Provider) Option {
	return func(o *ServiceOptions) {
		o.TunnelProvider = provider
	}
}

// WithConsole enables the interactive shell on the given streams.
func WithConsole(in io.Reader, out io.Writer) Option {
	return func(o *ServiceOptions) {
		o.ConsoleIn = in
		o.ConsoleOut = out
	}
}
