// Package tunnel defines the handle the server adapter drives. How a handle
// actually moves traffic is up to the implementation.
package tunnel

import (
	"context"
	"fmt"

	"outline-manager/internal/domain"
)

type Status int

// The zero value is StatusUnknown, so an unset Status never reads as
// connected.
const (
	StatusUnknown Status = iota
	StatusConnected
	StatusDisconnected
	StatusReconnecting
)

func (s Status) String() string {
	switch s {
	case StatusUnknown:
		return "unknown"
	case StatusConnected:
		return "connected"
	case StatusDisconnected:
		return "disconnected"
	case StatusReconnecting:
		return "reconnecting"
	default:
		return fmt.Sprintf("status(%d)", int(s))
	}
}

// Tunnel is one handle bound to a server id. Each callback slot holds a
// single function; registering again replaces the previous one.
type Tunnel interface {
	ID() string
	// FetchProxyConfig resolves the config's source into proxy candidates.
	FetchProxyConfig(ctx context.Context, cfg domain.ServerConfig) ([]domain.ShadowsocksConfig, error)
	Start(ctx context.Context, cfg domain.ServerConfig) error
	Stop(ctx context.Context) error
	IsRunning(ctx context.Context) (bool, error)
	IsReachable(ctx context.Context, cfg domain.ServerConfig) (bool, error)

	OnStatusChange(func(Status))
	OnConfigSourceURLChange(func(url string))
}

// Provider hands out the tunnel for a server id.
type Provider interface {
	Tunnel(id string) (Tunnel, error)
	// Release drops the handle bound to id and frees what it holds. A later
	// Tunnel call for the same id builds a fresh handle.
	Release(id string)
}
