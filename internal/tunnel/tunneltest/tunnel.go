// Package tunneltest provides a mock tunnel handle whose callbacks can be
// fired from tests.
package tunneltest

import (
	"context"
	"sync"

	"github.com/stretchr/testify/mock"

	"outline-manager/internal/domain"
	"outline-manager/internal/tunnel"
)

type Tunnel struct {
	mock.Mock

	id       string
	mu       sync.Mutex
	onStatus func(tunnel.Status)
	onURL    func(string)
}

func NewTunnel(id string) *Tunnel {
	return &Tunnel{id: id}
}

func (t *Tunnel) ID() string { return t.id }

func (t *Tunnel) FetchProxyConfig(ctx context.Context, cfg domain.ServerConfig) ([]domain.ShadowsocksConfig, error) {
	args := t.Called(ctx, cfg)
	var out []domain.ShadowsocksConfig
	if v := args.Get(0); v != nil {
		out = v.([]domain.ShadowsocksConfig)
	}
	return out, args.Error(1)
}

func (t *Tunnel) Start(ctx context.Context, cfg domain.ServerConfig) error {
	return t.Called(ctx, cfg).Error(0)
}

func (t *Tunnel) Stop(ctx context.Context) error {
	return t.Called(ctx).Error(0)
}

func (t *Tunnel) IsRunning(ctx context.Context) (bool, error) {
	args := t.Called(ctx)
	return args.Bool(0), args.Error(1)
}

func (t *Tunnel) IsReachable(ctx context.Context, cfg domain.ServerConfig) (bool, error) {
	args := t.Called(ctx, cfg)
	return args.Bool(0), args.Error(1)
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

// EmitStatus invokes the registered status callback, if any.
func (t *Tunnel) EmitStatus(s tunnel.Status) {
	t.mu.Lock()
	fn := t.onStatus
	t.mu.Unlock()
	if fn != nil {
		fn(s)
	}
}

// EmitSourceURL invokes the registered URL-change callback, if any.
func (t *Tunnel) EmitSourceURL(url string) {
	t.mu.Lock()
	fn := t.onURL
	t.mu.Unlock()
	if fn != nil {
		fn(url)
	}
}

// Provider returns the same mock per id, creating it on first use.
type Provider struct {
	mu       sync.Mutex
	tunnels  map[string]*Tunnel
	released []string
	// Setup, if set, runs on every newly created tunnel.
	Setup func(*Tunnel)
}

func NewProvider() *Provider {
	return &Provider{tunnels: make(map[string]*Tunnel)}
}

func (p *Provider) Tunnel(id string) (tunnel.Tunnel, error) {
	return p.Get(id), nil
}

func (p *Provider) Release(id string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.tunnels, id)
	p.released = append(p.released, id)
}

// Released lists the ids passed to Release, in call order.
func (p *Provider) Released() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.released...)
}

// Allocated reports whether a tunnel is currently bound to id.
func (p *Provider) Allocated(id string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.tunnels[id]
	return ok
}

func (p *Provider) Get(id string) *Tunnel {
	p.mu.Lock()
	defer p.mu.Unlock()
	if t, ok := p.tunnels[id]; ok {
		return t
	}
	t := NewTunnel(id)
	if p.Setup != nil {
		p.Setup(t)
	}
	p.tunnels[id] = t
	return t
}
