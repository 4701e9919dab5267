package worker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"outline-manager/internal/config"
	"outline-manager/internal/domain"
	"outline-manager/internal/interfaces"
)

const jobBufferSize = 32

type Pool struct {
	workers         []Worker
	scheduler       Scheduler
	jobs            chan domain.Server
	logger          *zap.Logger
	wg              sync.WaitGroup
	cancel          context.CancelFunc
	mu              sync.Mutex
	isStarted       bool
	shutdownTimeout time.Duration
}

type PoolConfig struct {
	WorkerCount     int
	ShutdownTimeout time.Duration
	ProbeTimeout    time.Duration
	RetryCount      int
	RetryDelay      time.Duration
}

// PoolConfigFrom derives pool settings from the probe and tunnel sections.
func PoolConfigFrom(cfg *config.Config) PoolConfig {
	return PoolConfig{
		WorkerCount:     cfg.Probe.Workers,
		ShutdownTimeout: 30 * time.Second,
		ProbeTimeout:    time.Duration(cfg.Tunnel.DialTimeout) * time.Second,
		RetryCount:      2,
		RetryDelay:      time.Second,
	}
}

func NewPool(
	poolConfig PoolConfig,
	scheduler Scheduler,
	metrics domain.MetricsCollector,
	exporter interfaces.ProbeExporter,
	logger *zap.Logger,
) *Pool {
	jobs := make(chan domain.Server, jobBufferSize)
	workers := make([]Worker, poolConfig.WorkerCount)

	for i := 0; i < poolConfig.WorkerCount; i++ {
		workers[i] = NewWorker(
			i,
			jobs,
			workerConfig{
				probeTimeout: poolConfig.ProbeTimeout,
				retryCount:   poolConfig.RetryCount,
				retryDelay:   poolConfig.RetryDelay,
			},
			metrics,
			exporter,
			logger,
		)
	}

	shutdownTimeout := poolConfig.ShutdownTimeout
	if shutdownTimeout == 0 {
		shutdownTimeout = 30 * time.Second
	}

	return &Pool{
		workers:         workers,
		scheduler:       scheduler,
		jobs:            jobs,
		logger:          logger.With(zap.String("component", "probe")),
		shutdownTimeout: shutdownTimeout,
	}
}

// Start runs the scheduler and workers until Stop. A pool without workers
// is disabled and starts nothing.
func (p *Pool) Start(ctx context.Context) error {
	p.mu.Lock()
	if p.isStarted {
		p.mu.Unlock()
		return fmt.Errorf("worker pool already started")
	}
	if len(p.workers) == 0 {
		p.mu.Unlock()
		p.logger.Info("reachability probes disabled")
		return nil
	}
	p.isStarted = true

	// The fx start context ends once startup completes, so the pool gets
	// its own.
	poolCtx, cancel := context.WithCancel(context.Background())
	p.cancel = cancel
	p.mu.Unlock()

	p.logger.Debug("starting worker pool")

	// Start scheduler
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		p.scheduler.Start(poolCtx, p.jobs)
	}()

	for _, w := range p.workers {
		p.runWorker(poolCtx, w)
	}

	p.logger.Info("worker pool started",
		zap.Int("worker_count", len(p.workers)),
		zap.Int("job_buffer_size", cap(p.jobs)))

	return nil
}

func (p *Pool) runWorker(ctx context.Context, w Worker) {
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		defer p.handleWorkerPanic(ctx, w)
		w.Start(ctx)
	}()
}

func (p *Pool) Stop() error {
	p.mu.Lock()
	if !p.isStarted {
		p.mu.Unlock()
		return nil
	}
	p.isStarted = false
	cancel := p.cancel
	p.cancel = nil
	p.mu.Unlock()

	p.logger.Debug("stopping worker pool")
	if err := p.scheduler.Stop(); err != nil {
		p.logger.Warn("failed to stop scheduler", zap.Error(err))
	}
	if cancel != nil {
		cancel()
	}

	// Wait for all goroutines with timeout
	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.logger.Debug("worker pool stopped gracefully")
	case <-time.After(p.shutdownTimeout):
		return fmt.Errorf("worker pool shutdown timed out")
	}
	return nil
}

func (p *Pool) handleWorkerPanic(ctx context.Context, w Worker) {
	if r := recover(); r != nil {
		p.logger.Error("worker panic recovered",
			zap.Any("panic", r),
			zap.Stack("stack"))

		p.mu.Lock()
		restart := p.isStarted && ctx.Err() == nil
		p.mu.Unlock()
		if restart {
			p.runWorker(ctx, w)
			p.logger.Info("worker restarted after panic")
		}
	}
}
