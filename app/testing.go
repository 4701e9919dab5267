package app

import (
	"context"
	"testing"
	"time"

	"go.uber.org/fx"
	"go.uber.org/fx/fxtest"
	"go.uber.org/zap"

	"outline-manager/internal/common"
)

// TestApplication provides testing functionality for the application
type TestApplication struct {
	tb      testing.TB
	testApp *fxtest.App
	service *common.ServiceOptions
	options []fx.Option
}

func NewTestApplication(tb testing.TB, opts ...common.Option) *TestApplication {
	options := &common.ServiceOptions{
		Logger: zap.NewNop(),
		Env:    "test",
	}
	for _, opt := range opts {
		opt(options)
	}

	return &TestApplication{
		tb:      tb,
		service: options,
		options: []fx.Option{},
	}
}

func (ta *TestApplication) WithOption(opt fx.Option) *TestApplication {
	ta.options = append(ta.options, opt)
	return ta
}

// Populate fills targets from the graph once Start has run.
func (ta *TestApplication) Populate(targets ...interface{}) *TestApplication {
	return ta.WithOption(fx.Populate(targets...))
}

func (ta *TestApplication) Start(ctx context.Context) error {
	testOptions := []fx.Option{
		Modules(ta.service),
		fx.Invoke(registerHooks),
	}

	// Add user-provided options
	testOptions = append(testOptions, ta.options...)

	// Configure test app
	testOptions = append(testOptions,
		fx.StartTimeout(10*time.Second),
		fx.StopTimeout(10*time.Second),
	)

	// Create test app
	ta.testApp = fxtest.New(
		ta.tb,
		testOptions...,
	)

	return ta.testApp.Start(ctx)
}

func (ta *TestApplication) Stop(ctx context.Context) error {
	if ta.testApp != nil {
		return ta.testApp.Stop(ctx)
	}
	return nil
}
