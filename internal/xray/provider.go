package xray

import (
	"context"
	"fmt"
	"net/url"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/fx"
	"go.uber.org/zap"

	"outline-manager/internal/config"
	"outline-manager/internal/fetch"
	"outline-manager/internal/tunnel"
)

var Module = fx.Options(
	fx.Provide(
		fetch.NewFromConfig,
		func(f *fetch.Fetcher) SourceFetcher { return f },
		NewProvider,
		func(p *Provider) tunnel.Provider { return p },
	),
	fx.Invoke(registerShutdown),
)

// Provider hands out one Tunnel per server id. Each tunnel gets its own
// config file and socks port, counting up from the configured port. Ports
// of released tunnels are handed out again first.
type Provider struct {
	cfg       config.Tunnel
	fetcher   SourceFetcher
	logger    *zap.Logger
	newRunner func() Runner

	mu        sync.Mutex
	tunnels   map[string]*Tunnel
	nextPort  int
	freePorts []int
}

func NewProvider(cfg *config.Config, fetcher SourceFetcher, logger *zap.Logger) *Provider {
	logger = logger.With(zap.String("component", "xray"))
	binary := cfg.Tunnel.XrayBinary
	return &Provider{
		cfg:       cfg.Tunnel,
		fetcher:   fetcher,
		logger:    logger,
		newRunner: func() Runner { return NewRunner(binary, logger) },
		tunnels:   make(map[string]*Tunnel),
		nextPort:  cfg.Tunnel.SocksPort,
	}
}

func (p *Provider) Tunnel(id string) (tunnel.Tunnel, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if t, ok := p.tunnels[id]; ok {
		return t, nil
	}
	if id == "" {
		return nil, fmt.Errorf("server id cannot be empty")
	}

	var port int
	switch {
	case len(p.freePorts) > 0:
		port = p.freePorts[len(p.freePorts)-1]
		p.freePorts = p.freePorts[:len(p.freePorts)-1]
	case p.nextPort <= 65535:
		port = p.nextPort
		p.nextPort++
	default:
		return nil, fmt.Errorf("no socks port left for server %s", id)
	}

	t := NewTunnel(id, TunnelOptions{
		ConfigPath:      filepath.Join(p.cfg.ConfigsDir, url.PathEscape(id)+".json"),
		Listen:          p.cfg.SocksListen,
		Port:            port,
		RestartAttempts: p.cfg.RestartAttempts,
		DialTimeout:     time.Duration(p.cfg.DialTimeout) * time.Second,
	}, p.fetcher, p.newRunner(), p.logger)
	p.tunnels[id] = t

	p.logger.Debug("tunnel allocated",
		zap.String("server_id", id),
		zap.String("socks", t.SocksAddress()))
	return t, nil
}

// Release stops the tunnel bound to id and returns its port to the pool.
func (p *Provider) Release(id string) {
	p.mu.Lock()
	t, ok := p.tunnels[id]
	if !ok {
		p.mu.Unlock()
		return
	}
	delete(p.tunnels, id)
	p.mu.Unlock()

	if err := t.Stop(context.Background()); err != nil {
		p.logger.Error("failed to stop released tunnel", zap.String("server_id", id), zap.Error(err))
	}

	p.mu.Lock()
	p.freePorts = append(p.freePorts, t.opts.Port)
	p.mu.Unlock()

	p.logger.Debug("tunnel released", zap.String("server_id", id))
}

// StopAll stops every tunnel this provider handed out.
func (p *Provider) StopAll(ctx context.Context) error {
	p.mu.Lock()
	tunnels := make([]*Tunnel, 0, len(p.tunnels))
	for _, t := range p.tunnels {
		tunnels = append(tunnels, t)
	}
	p.mu.Unlock()

	var firstErr error
	for _, t := range tunnels {
		if err := t.Stop(ctx); err != nil {
			p.logger.Error("failed to stop tunnel", zap.String("server_id", t.ID()), zap.Error(err))
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

func registerShutdown(lc fx.Lifecycle, p *Provider) {
	lc.Append(fx.Hook{
		OnStop: p.StopAll,
	})
}
