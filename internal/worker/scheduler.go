package worker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"outline-manager/internal/domain"
)

// ServerLister is the part of the repository the scheduler reads.
type ServerLister interface {
	GetAll() []domain.Server
}

type Scheduler interface {
	Start(context.Context, chan<- domain.Server)
	Stop() error
	IsHealthy() bool
}

type defaultScheduler struct {
	interval    time.Duration
	sendTimeout time.Duration
	servers     ServerLister
	logger      *zap.Logger
	mu          sync.RWMutex
	stopping    bool
}

func NewScheduler(
	interval time.Duration,
	servers ServerLister,
	logger *zap.Logger,
) Scheduler {
	return &defaultScheduler{
		interval:    interval,
		sendTimeout: 5 * time.Second,
		servers:     servers,
		logger:      logger.With(zap.String("component", "scheduler")),
	}
}

func (s *defaultScheduler) Start(ctx context.Context, jobs chan<- domain.Server) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	// Send initial batch of jobs
	if err := s.sendJobs(ctx, jobs); err != nil {
		s.logger.Error("failed to send initial jobs", zap.Error(err))
	}

	for {
		select {
		case <-ticker.C:
			if err := s.sendJobs(ctx, jobs); err != nil {
				s.logger.Error("failed to send jobs", zap.Error(err))
				continue
			}
		case <-ctx.Done():
			s.logger.Debug("scheduler stopped", zap.Error(ctx.Err()))
			return
		}
	}
}

// sendJobs queues every server that has a proxy endpoint. Source-backed
// servers only have one while connected.
func (s *defaultScheduler) sendJobs(ctx context.Context, jobs chan<- domain.Server) error {
	s.mu.RLock()
	if s.stopping {
		s.mu.RUnlock()
		return fmt.Errorf("scheduler is stopping")
	}
	s.mu.RUnlock()

	for _, server := range s.servers.GetAll() {
		if server.Config().Proxy == nil {
			continue
		}
		select {
		case jobs <- server:
			s.logger.Debug("sent job", zap.String("server_id", server.ID()))
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(s.sendTimeout):
			return fmt.Errorf("timed out sending job for server %s", server.ID())
		}
	}
	return nil
}

func (s *defaultScheduler) Stop() error {
	s.mu.Lock()
	s.stopping = true
	s.mu.Unlock()
	return nil
}

func (s *defaultScheduler) IsHealthy() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return !s.stopping
}
