package domain

import (
	"context"
	"time"
)

// ErrorMessageUnsupportedCipher tags servers loaded with a cipher that can
// no longer be used.
const ErrorMessageUnsupportedCipher = "error-unsupported-cipher"

// Server is one configured remote endpoint bound to a tunnel handle.
type Server interface {
	ID() string
	Name() string
	SetName(name string)
	Host() string
	// Config returns a copy of the current config.
	Config() ServerConfig
	// StoredConfig is the config to persist: Config without a proxy that
	// was fetched from the source.
	StoredConfig() ServerConfig
	SetSource(source ProxyConfigSource)
	ErrorMessageID() string
	SetErrorMessageID(id string)

	Connect(ctx context.Context) error
	Disconnect(ctx context.Context) error
	CheckRunning(ctx context.Context) (bool, error)
	CheckReachable(ctx context.Context) (bool, error)
}

type MetricsCollector interface {
	RecordRepositoryOperation(op string)
	SetServerCount(n int)
	RecordStatusChange(serverID, status string)
	RecordConnect(serverID string, duration time.Duration, err error)
	RecordReachability(serverID string, reachable bool)
}
