package integration_test

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"outline-manager/app"
	"outline-manager/internal/apperrors"
	"outline-manager/internal/common"
	"outline-manager/internal/config"
	"outline-manager/internal/domain"
	"outline-manager/internal/events"
	"outline-manager/internal/events/eventstest"
	"outline-manager/internal/interfaces"
	"outline-manager/internal/storage"
	"outline-manager/internal/tunnel"
	"outline-manager/internal/tunnel/tunneltest"
)

type testEnv struct {
	repo     interfaces.ServerRepository
	queue    *events.Queue
	store    *storage.MemoryStore
	recorder *eventstest.Recorder
}

func baseConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.Storage.Backend = config.StorageBackendMemory
	cfg.Storage.Path = ""
	cfg.Tunnel.ConfigsDir = t.TempDir()
	cfg.Tunnel.DialTimeout = 1
	cfg.Probe.Workers = 0
	return &cfg
}

func startApp(t *testing.T, opts ...common.Option) *testEnv {
	t.Helper()
	env := &testEnv{store: storage.NewMemoryStore()}

	ta := app.NewTestApplication(t, append([]common.Option{common.WithStore(env.store)}, opts...)...).
		Populate(&env.repo, &env.queue)

	ctx := context.Background()
	require.NoError(t, ta.Start(ctx))
	t.Cleanup(func() { require.NoError(t, ta.Stop(ctx)) })

	env.recorder = eventstest.NewRecorder(t, env.queue)
	return env
}

func (e *testEnv) storedServers(t *testing.T) map[string]domain.ServerConfig {
	t.Helper()
	raw, ok, err := e.store.Get("servers_v1")
	require.NoError(t, err)
	require.True(t, ok)
	var out map[string]domain.ServerConfig
	require.NoError(t, json.Unmarshal([]byte(raw), &out))
	return out
}

// fakeXray installs a shell script that stays up like xray until signalled.
func fakeXray(t *testing.T) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("shell scripts are not executable on windows")
	}
	binary := filepath.Join(t.TempDir(), "xray")
	require.NoError(t, os.WriteFile(binary, []byte("#!/bin/sh\nexec sleep 30\n"), 0755))
	return binary
}

// proxyEndpoint accepts TCP connections so reachability checks pass.
func proxyEndpoint(t *testing.T) (string, int) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { ln.Close() })
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			conn.Close()
		}
	}()
	addr := ln.Addr().(*net.TCPAddr)
	return addr.IP.String(), addr.Port
}

func TestDynamicServerLifecycle(t *testing.T) {
	host, port := proxyEndpoint(t)

	current := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, `{"server":%q,"server_port":%d,"password":"secret","method":"chacha20-ietf-poly1305"}`, host, port)
	}))
	defer current.Close()
	moved := httptest.NewServer(http.RedirectHandler(current.URL+"/key", http.StatusMovedPermanently))
	defer moved.Close()

	cfg := baseConfig(t)
	cfg.Tunnel.XrayBinary = fakeXray(t)
	env := startApp(t, common.WithConfig(cfg))

	server, err := env.repo.Add(domain.ServerConfig{Source: &domain.ProxyConfigSource{URL: moved.URL + "/key"}})
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, server.Connect(ctx))

	running, err := server.CheckRunning(ctx)
	require.NoError(t, err)
	assert.True(t, running)
	assert.Equal(t, host, server.Config().Proxy.Host)

	env.recorder.WaitFor(t, 3)
	assert.Equal(t, []events.Type{
		events.TypeServerAdded,
		events.TypeServerConfigSourceURLChanged,
		events.TypeServerConnected,
	}, env.recorder.Types())

	// The redirect target replaces the stored source url.
	require.Eventually(t, func() bool {
		return env.storedServers(t)[server.ID()].Source.URL == current.URL+"/key"
	}, defaultWait, pollInterval)
	assert.Nil(t, env.storedServers(t)[server.ID()].Proxy, "fetched proxy must not be persisted")

	require.NoError(t, server.Disconnect(ctx))
	env.recorder.WaitFor(t, 4)
	assert.Equal(t, events.TypeServerDisconnected, env.recorder.Types()[3])
	assert.Nil(t, server.Config().Proxy)
}

func TestUnreachableSource(t *testing.T) {
	source := httptest.NewServer(http.NotFoundHandler())
	source.Close()

	cfg := baseConfig(t)
	cfg.Tunnel.XrayBinary = fakeXray(t)
	env := startApp(t, common.WithConfig(cfg))

	server, err := env.repo.Add(domain.ServerConfig{Source: &domain.ProxyConfigSource{URL: source.URL}})
	require.NoError(t, err)

	err = server.Connect(context.Background())
	assert.ErrorIs(t, err, apperrors.ErrServerUnreachable)
	settled := env.recorder.Settle()
	require.Len(t, settled, 1)
	assert.Equal(t, events.TypeServerAdded, settled[0].Type())
}

func TestRepositoryEventsThroughApplication(t *testing.T) {
	provider := tunneltest.NewProvider()
	env := startApp(t,
		common.WithConfig(baseConfig(t)),
		common.WithTunnelProvider(provider),
	)

	server, err := env.repo.Add(domain.ServerConfig{
		Name:  "Office",
		Proxy: &domain.ShadowsocksConfig{Host: "203.0.113.1", Port: 8388, Method: "aes-256-gcm", Password: "p"},
	})
	require.NoError(t, err)
	require.NoError(t, env.repo.Rename(server.ID(), "Home"))
	require.NoError(t, env.repo.Forget(server.ID()))
	require.NoError(t, env.repo.UndoForget(server.ID()))

	provider.Get(server.ID()).EmitStatus(tunnel.StatusReconnecting)

	env.recorder.WaitFor(t, 5)
	assert.Equal(t, []events.Type{
		events.TypeServerAdded,
		events.TypeServerRenamed,
		events.TypeServerForgotten,
		events.TypeServerForgetUndone,
		events.TypeServerReconnecting,
	}, env.recorder.Types())

	assert.Equal(t, "Home", env.storedServers(t)[server.ID()].Name)
}

func TestSourceURLChangeIsPersisted(t *testing.T) {
	provider := tunneltest.NewProvider()
	env := startApp(t,
		common.WithConfig(baseConfig(t)),
		common.WithTunnelProvider(provider),
	)

	server, err := env.repo.Add(domain.ServerConfig{Source: &domain.ProxyConfigSource{URL: "https://old.example.com/key"}})
	require.NoError(t, err)

	provider.Get(server.ID()).EmitSourceURL("https://new.example.com/key")

	require.Eventually(t, func() bool {
		return env.storedServers(t)[server.ID()].Source.URL == "https://new.example.com/key"
	}, defaultWait, pollInterval)
	assert.Equal(t, "https://new.example.com/key", server.Config().Source.URL)
}
