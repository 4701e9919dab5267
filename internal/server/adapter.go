package server

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"outline-manager/internal/apperrors"
	"outline-manager/internal/domain"
	"outline-manager/internal/events"
	"outline-manager/internal/tunnel"
)

// Adapter exposes a tunnel handle as a domain.Server and republishes the
// handle's notifications on the event queue.
type Adapter struct {
	id      string
	tunnel  tunnel.Tunnel
	queue   *events.Queue
	metrics domain.MetricsCollector
	logger  *zap.Logger

	mu             sync.RWMutex
	config         domain.ServerConfig
	errorMessageID string
	// ownProxy is the proxy the user supplied, if any. While fetched is
	// set, config.Proxy holds a proxy resolved from the source instead.
	ownProxy *domain.ShadowsocksConfig
	fetched  bool
}

var _ domain.Server = (*Adapter)(nil)

func New(
	id string,
	cfg domain.ServerConfig,
	t tunnel.Tunnel,
	queue *events.Queue,
	metrics domain.MetricsCollector,
	logger *zap.Logger,
) (*Adapter, error) {
	if err := validateConfig(id, cfg); err != nil {
		return nil, err
	}

	a := &Adapter{
		id:      id,
		tunnel:  t,
		queue:   queue,
		metrics: metrics,
		logger:  logger.With(zap.String("server_id", id)),
		config:  cfg.Clone(),
	}
	a.ownProxy = a.config.Clone().Proxy

	t.OnStatusChange(a.handleStatusChange)
	t.OnConfigSourceURLChange(a.handleSourceURLChange)

	return a, nil
}

func validateConfig(id string, cfg domain.ServerConfig) error {
	if cfg.Proxy == nil && cfg.Source == nil {
		return fmt.Errorf("server %s has neither proxy nor source: %w", id, apperrors.ErrIllegalServerConfiguration)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("server %s: %w", id, err)
	}
	return nil
}

func (a *Adapter) ID() string { return a.id }

func (a *Adapter) Name() string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return domain.DisplayName(a.config)
}

func (a *Adapter) SetName(name string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.config.Name = name
}

func (a *Adapter) Host() string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return domain.DisplayHost(a.config)
}

func (a *Adapter) Config() domain.ServerConfig {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.config.Clone()
}

// StoredConfig is Config without a proxy fetched at connect time.
func (a *Adapter) StoredConfig() domain.ServerConfig {
	a.mu.RLock()
	defer a.mu.RUnlock()
	cfg := a.config.Clone()
	if a.fetched {
		cfg.Proxy = cloneProxy(a.ownProxy)
	}
	return cfg
}

func (a *Adapter) SetSource(source domain.ProxyConfigSource) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.config.Source = &source
}

func (a *Adapter) ErrorMessageID() string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.errorMessageID
}

func (a *Adapter) SetErrorMessageID(id string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.errorMessageID = id
}

// Connect resolves a dynamic source if there is one, then starts the tunnel.
// A failed attempt never leaves a fetched proxy behind.
func (a *Adapter) Connect(ctx context.Context) error {
	start := time.Now()
	err := a.connect(ctx)
	a.metrics.RecordConnect(a.id, time.Since(start), err)
	if err != nil {
		a.logger.Warn("connect failed", zap.Error(err))
	}
	return err
}

func (a *Adapter) connect(ctx context.Context) error {
	cfg := a.Config()
	if cfg.Source == nil && cfg.Proxy == nil {
		return apperrors.ErrIllegalServerConfiguration
	}

	if cfg.Source != nil {
		candidates, err := a.tunnel.FetchProxyConfig(ctx, cfg)
		if err != nil {
			return a.rollback(err)
		}
		if len(candidates) == 0 {
			return a.rollback(fmt.Errorf("source returned no proxy config: %w", apperrors.ErrIllegalServerConfiguration))
		}

		// Only the first candidate is ever tried.
		a.mu.Lock()
		a.config.AdoptProxy(candidates[0])
		a.fetched = true
		cfg = a.config.Clone()
		a.mu.Unlock()

		if !domain.IsCipherSupported(cfg) {
			return a.rollback(apperrors.NewUnsupportedCipherError(cfg.Proxy.Method))
		}
	}

	if err := a.tunnel.Start(ctx, cfg); err != nil {
		return a.rollback(err)
	}

	a.logger.Info("tunnel started", zap.String("host", domain.DisplayHost(cfg)))
	return nil
}

func (a *Adapter) rollback(err error) error {
	a.clearFetchedProxy()
	return apperrors.Translate(err)
}

// Disconnect stops the tunnel. Failures are reported as RegularNativeError.
func (a *Adapter) Disconnect(ctx context.Context) error {
	err := a.tunnel.Stop(ctx)
	a.clearFetchedProxy()
	if err != nil {
		a.logger.Warn("disconnect failed", zap.Error(err))
		return &apperrors.RegularNativeError{Err: err}
	}
	return nil
}

// clearFetchedProxy puts back the user's own proxy, or none.
func (a *Adapter) clearFetchedProxy() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.fetched {
		return
	}
	a.config.Proxy = cloneProxy(a.ownProxy)
	a.fetched = false
}

func cloneProxy(p *domain.ShadowsocksConfig) *domain.ShadowsocksConfig {
	if p == nil {
		return nil
	}
	cp := *p
	return &cp
}

func (a *Adapter) CheckRunning(ctx context.Context) (bool, error) {
	return a.tunnel.IsRunning(ctx)
}

func (a *Adapter) CheckReachable(ctx context.Context) (bool, error) {
	return a.tunnel.IsReachable(ctx, a.Config())
}

func (a *Adapter) handleStatusChange(s tunnel.Status) {
	var e events.Event
	switch s {
	case tunnel.StatusConnected:
		e = events.NewServerConnected(a)
	case tunnel.StatusDisconnected:
		e = events.NewServerDisconnected(a)
	case tunnel.StatusReconnecting:
		e = events.NewServerReconnecting(a)
	default:
		a.logger.Warn("dropping unknown tunnel status", zap.Stringer("status", s))
		return
	}

	a.metrics.RecordStatusChange(a.id, s.String())
	a.queue.Enqueue(e)
}

func (a *Adapter) handleSourceURLChange(url string) {
	a.logger.Debug("config source url changed", zap.String("url", url))
	a.queue.Enqueue(events.NewServerConfigSourceURLChanged(a, url))
}
