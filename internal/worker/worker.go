package worker

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"outline-manager/internal/domain"
	"outline-manager/internal/interfaces"
)

// Worker represents a single worker that probes servers
type Worker interface {
	Start(context.Context)
	Stop()
}

type workerConfig struct {
	probeTimeout time.Duration
	retryCount   int
	retryDelay   time.Duration
}

type worker struct {
	id       int
	jobs     <-chan domain.Server
	logger   *zap.Logger
	stopOnce sync.Once
	stopChan chan struct{}
	config   workerConfig
	metrics  domain.MetricsCollector
	exporter interfaces.ProbeExporter
}

func NewWorker(
	id int,
	jobs <-chan domain.Server,
	cfg workerConfig,
	metrics domain.MetricsCollector,
	exporter interfaces.ProbeExporter,
	logger *zap.Logger,
) Worker {
	if cfg.retryCount < 1 {
		cfg.retryCount = 1
	}
	return &worker{
		id:       id,
		jobs:     jobs,
		logger:   logger.With(zap.Int("worker_id", id)),
		stopChan: make(chan struct{}),
		config:   cfg,
		metrics:  metrics,
		exporter: exporter,
	}
}

func (w *worker) Start(ctx context.Context) {
	w.logger.Debug("worker started")
	defer w.logger.Debug("worker stopped")

	for {
		select {
		case server, ok := <-w.jobs:
			if !ok {
				w.logger.Info("jobs channel closed")
				return
			}
			if err := w.processProbe(ctx, server); err != nil {
				w.logger.Error("probe failed",
					zap.String("server_id", server.ID()),
					zap.Error(err))
			}
		case <-ctx.Done():
			w.logger.Debug("context cancelled",
				zap.Error(ctx.Err()))
			return
		case <-w.stopChan:
			w.logger.Debug("received stop signal")
			return
		}
	}
}

func (w *worker) Stop() {
	w.stopOnce.Do(func() {
		close(w.stopChan)
	})
}

// processProbe checks reachability with retries. An unreachable server is a
// result, not an error; only a failing check is.
func (w *worker) processProbe(ctx context.Context, server domain.Server) error {
	var (
		reachable bool
		latency   time.Duration
		err       error
	)
	for attempt := 0; attempt < w.config.retryCount; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(w.config.retryDelay):
			case <-ctx.Done():
				return NewProbeError(server.ID(), "retry", ctx.Err())
			}
			w.logger.Debug("retrying reachability probe",
				zap.String("server_id", server.ID()),
				zap.Int("attempt", attempt+1))
		}

		start := time.Now()
		reachable, err = w.probeOnce(ctx, server)
		latency = time.Since(start)
		if err == nil && reachable {
			break
		}
	}

	result := domain.ProbeResult{
		ServerID:  server.ID(),
		Name:      server.Name(),
		Reachable: err == nil && reachable,
		Latency:   latency,
		Err:       err,
		Timestamp: time.Now(),
	}
	w.metrics.RecordReachability(server.ID(), result.Reachable)
	if w.exporter != nil {
		w.exporter.Export(ctx, result)
	}

	if err != nil {
		return NewProbeError(server.ID(), "reachability", err)
	}

	w.logger.Debug("probe finished",
		zap.String("server_id", server.ID()),
		zap.Bool("reachable", reachable),
		zap.Duration("latency", latency))
	return nil
}

func (w *worker) probeOnce(ctx context.Context, server domain.Server) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, w.config.probeTimeout)
	defer cancel()
	return server.CheckReachable(ctx)
}
