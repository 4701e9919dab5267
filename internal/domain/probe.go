package domain

import (
	"context"
	"time"
)

// ProbeResult is the outcome of one reachability probe.
type ProbeResult struct {
	ServerID  string
	Name      string
	Reachable bool
	Latency   time.Duration
	Err       error
	Timestamp time.Time
}

// Exporter pushes probe results to an external monitor.
type Exporter interface {
	Export(ctx context.Context, result ProbeResult) error
}
