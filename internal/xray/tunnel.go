package xray

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"

	"outline-manager/internal/apperrors"
	"outline-manager/internal/domain"
	"outline-manager/internal/fetch"
	"outline-manager/internal/tunnel"
)

// SourceFetcher resolves a dynamic access key.
type SourceFetcher interface {
	Fetch(ctx context.Context, rawURL string) (fetch.Result, error)
}

type TunnelOptions struct {
	ConfigPath      string
	Listen          string
	Port            int
	RestartAttempts int
	RestartDelay    time.Duration
	DialTimeout     time.Duration
}

// Tunnel runs one xray process exposing a local socks proxy for a server.
type Tunnel struct {
	id      string
	opts    TunnelOptions
	fetcher SourceFetcher
	runner  Runner
	logger  *zap.Logger

	// procMu serializes every runner Start and Stop.
	procMu sync.Mutex

	mu         sync.Mutex
	running    bool
	generation int
	onStatus   func(tunnel.Status)
	onURL      func(string)
}

var _ tunnel.Tunnel = (*Tunnel)(nil)

func NewTunnel(id string, opts TunnelOptions, fetcher SourceFetcher, runner Runner, logger *zap.Logger) *Tunnel {
	if opts.DialTimeout == 0 {
		opts.DialTimeout = 5 * time.Second
	}
	if opts.RestartDelay == 0 {
		opts.RestartDelay = time.Second
	}
	return &Tunnel{
		id:      id,
		opts:    opts,
		fetcher: fetcher,
		runner:  runner,
		logger:  logger.With(zap.String("component", "xray"), zap.String("server_id", id)),
	}
}

func (t *Tunnel) ID() string { return t.id }

// SocksAddress is where the local proxy listens while the tunnel runs.
func (t *Tunnel) SocksAddress() string {
	return net.JoinHostPort(t.opts.Listen, strconv.Itoa(t.opts.Port))
}

func (t *Tunnel) OnStatusChange(fn func(tunnel.Status)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onStatus = fn
}

func (t *Tunnel) OnConfigSourceURLChange(fn func(string)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onURL = fn
}

func (t *Tunnel) emitStatus(s tunnel.Status) {
	t.mu.Lock()
	fn := t.onStatus
	t.mu.Unlock()
	if fn != nil {
		fn(s)
	}
}

func (t *Tunnel) emitURL(url string) {
	t.mu.Lock()
	fn := t.onURL
	t.mu.Unlock()
	if fn != nil {
		fn(url)
	}
}

func (t *Tunnel) FetchProxyConfig(ctx context.Context, cfg domain.ServerConfig) ([]domain.ShadowsocksConfig, error) {
	if cfg.Source == nil {
		return nil, &apperrors.NativeError{Code: apperrors.IllegalServerConfiguration, Message: "config has no source"}
	}

	res, err := t.fetcher.Fetch(ctx, cfg.Source.URL)
	if err != nil {
		code := apperrors.ServerUnreachable
		if errors.Is(err, fetch.ErrInvalidResponse) {
			code = apperrors.IllegalServerConfiguration
		}
		return nil, &apperrors.NativeError{Code: code, Message: err.Error()}
	}

	if res.RedirectURL != "" {
		t.emitURL(res.RedirectURL)
	}
	return res.Proxies, nil
}

// Start writes the xray config for cfg.Proxy and launches the process. A
// running tunnel is restarted with the new config.
func (t *Tunnel) Start(ctx context.Context, cfg domain.ServerConfig) error {
	if cfg.Proxy == nil {
		return &apperrors.NativeError{Code: apperrors.IllegalServerConfiguration, Message: "config has no proxy"}
	}

	reachable, err := t.IsReachable(ctx, cfg)
	if err != nil {
		return err
	}
	if !reachable {
		return &apperrors.NativeError{
			Code:    apperrors.ServerUnreachable,
			Message: fmt.Sprintf("cannot reach %s", domain.DisplayHost(cfg)),
		}
	}

	xcfg, err := GenerateConfig(*cfg.Proxy, t.opts.Listen, t.opts.Port)
	if err != nil {
		return &apperrors.NativeError{Code: apperrors.IllegalServerConfiguration, Message: err.Error()}
	}
	if err := WriteConfig(t.opts.ConfigPath, xcfg); err != nil {
		return &apperrors.NativeError{Code: apperrors.ShadowsocksStartFailure, Message: err.Error()}
	}

	t.procMu.Lock()
	defer t.procMu.Unlock()

	t.mu.Lock()
	t.generation++
	gen := t.generation
	t.running = false
	t.mu.Unlock()

	if err := t.runner.Stop(); err != nil {
		t.logger.Warn("failed to stop previous xray process", zap.Error(err))
	}
	if err := t.runner.Start(t.opts.ConfigPath, t.exitHandler(gen)); err != nil {
		return &apperrors.NativeError{Code: apperrors.ShadowsocksStartFailure, Message: err.Error()}
	}

	t.mu.Lock()
	t.running = true
	t.mu.Unlock()

	t.logger.Info("tunnel connected",
		zap.String("host", domain.DisplayHost(cfg)),
		zap.String("socks", t.SocksAddress()))
	t.emitStatus(tunnel.StatusConnected)
	return nil
}

// exitHandler restarts the process after an unexpected exit, up to the
// configured number of attempts.
func (t *Tunnel) exitHandler(gen int) func(error) {
	return func(exitErr error) {
		if !t.current(gen) {
			return
		}
		t.logger.Warn("xray exited, reconnecting", zap.Error(exitErr))
		t.emitStatus(tunnel.StatusReconnecting)

		for attempt := 1; attempt <= t.opts.RestartAttempts; attempt++ {
			time.Sleep(time.Duration(attempt) * t.opts.RestartDelay)
			done, err := t.restart(gen)
			if done {
				return
			}
			t.logger.Warn("restart failed", zap.Int("attempt", attempt), zap.Error(err))
		}

		t.procMu.Lock()
		defer t.procMu.Unlock()
		t.mu.Lock()
		if t.generation != gen {
			t.mu.Unlock()
			return
		}
		t.running = false
		t.mu.Unlock()
		t.logger.Error("tunnel gave up reconnecting", zap.Int("attempts", t.opts.RestartAttempts))
		t.emitStatus(tunnel.StatusDisconnected)
	}
}

// restart relaunches the process for generation gen. done is true once the
// process is back or gen has been superseded by Start or Stop.
func (t *Tunnel) restart(gen int) (done bool, err error) {
	t.procMu.Lock()
	defer t.procMu.Unlock()

	if !t.current(gen) {
		return true, nil
	}
	if err := t.runner.Start(t.opts.ConfigPath, t.exitHandler(gen)); err != nil {
		return false, err
	}
	t.logger.Info("tunnel reconnected")
	t.emitStatus(tunnel.StatusConnected)
	return true, nil
}

func (t *Tunnel) current(gen int) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.running && t.generation == gen
}

func (t *Tunnel) Stop(ctx context.Context) error {
	t.procMu.Lock()
	defer t.procMu.Unlock()

	t.mu.Lock()
	wasRunning := t.running
	t.running = false
	t.generation++
	t.mu.Unlock()

	if err := t.runner.Stop(); err != nil {
		return fmt.Errorf("failed to stop xray: %w", err)
	}
	if wasRunning {
		t.logger.Info("tunnel disconnected")
		t.emitStatus(tunnel.StatusDisconnected)
	}
	return nil
}

func (t *Tunnel) IsRunning(ctx context.Context) (bool, error) {
	t.mu.Lock()
	running := t.running
	t.mu.Unlock()
	return running && t.runner.IsRunning(), nil
}

// IsReachable dials the proxy endpoint. A config without a proxy is reported
// unreachable.
func (t *Tunnel) IsReachable(ctx context.Context, cfg domain.ServerConfig) (bool, error) {
	if cfg.Proxy == nil {
		return false, nil
	}
	dialer := net.Dialer{Timeout: t.opts.DialTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", net.JoinHostPort(cfg.Proxy.Host, strconv.Itoa(cfg.Proxy.Port)))
	if err != nil {
		t.logger.Debug("proxy unreachable", zap.Error(err))
		return false, nil
	}
	_ = conn.Close()
	return true, nil
}
