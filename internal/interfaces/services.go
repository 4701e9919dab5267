package interfaces

import (
	"context"

	"outline-manager/internal/domain"
)

// ServerRepository defines the repository operations used outside the
// repository package
type ServerRepository interface {
	GetAll() []domain.Server
	GetByID(id string) (domain.Server, bool)
	Add(cfg domain.ServerConfig) (domain.Server, error)
	Update(id string, cfg domain.ServerConfig) error
	Rename(id, name string) error
	Forget(id string) error
	UndoForget(id string) error
	ContainsServer(cfg domain.ServerConfig) bool
}

// WorkerPool defines the interface for worker pool management
type WorkerPool interface {
	Start(context.Context) error
	Stop() error
}

// ErrorReporter defines the fire-and-forget error report sink
type ErrorReporter interface {
	Initialize(apiKey string)
	Send(correlationID string)
}

// ProbeExporter receives every reachability probe result
type ProbeExporter interface {
	Export(ctx context.Context, result domain.ProbeResult)
}
