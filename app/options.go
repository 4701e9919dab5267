package app

import (
	"fmt"

	"go.uber.org/zap"

	"outline-manager/internal/common"
)

const (
	EnvDevelopment = "development"
	EnvProduction  = "production"
)

// NewLogger returns a development logger unless env is production.
func NewLogger(env string) (*zap.Logger, error) {
	switch env {
	case EnvProduction:
		return zap.NewProduction()
	case "", EnvDevelopment:
		return zap.NewDevelopment()
	default:
		return nil, fmt.Errorf("unknown environment %q", env)
	}
}

// DefaultOptions returns default application options
func DefaultOptions(env string) ([]common.Option, error) {
	if env == "" {
		env = EnvDevelopment
	}
	logger, err := NewLogger(env)
	if err != nil {
		return nil, err
	}
	return []common.Option{
		common.WithLogger(logger),
		common.WithEnv(env),
	}, nil
}
