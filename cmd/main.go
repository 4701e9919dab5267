package main

import (
	"context"
	"log"
	"os"
	"time"

	"go.uber.org/zap"

	"outline-manager/app"
	"outline-manager/internal/common"
)

func main() {
	opts, err := app.DefaultOptions(os.Getenv("APP_ENV"))
	if err != nil {
		log.Fatalf("failed to create logger: %v", err)
	}

	application := app.NewApplication(append(opts,
		common.WithConsole(os.Stdin, os.Stdout),
	)...)
	logger := application.Logger()
	defer logger.Sync()

	if err := application.Err(); err != nil {
		logger.Fatal("failed to build application", zap.Error(err))
	}

	done := application.Done()

	// Start with background context
	if err := application.Start(context.Background()); err != nil {
		logger.Fatal("failed to start application", zap.Error(err))
	}

	// Wait for a signal or the console to exit
	sig := <-done
	logger.Info("received shutdown signal", zap.String("signal", sig.String()))

	// Stop with timeout
	stopCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := application.Stop(stopCtx); err != nil {
		logger.Fatal("failed to stop application gracefully", zap.Error(err))
	}
}
