package exporter

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"outline-manager/internal/config"
	"outline-manager/internal/domain"
)

type recordingExporter struct {
	mu   sync.Mutex
	seen []string
	err  error
}

func (r *recordingExporter) Export(ctx context.Context, result domain.ProbeResult) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.seen = append(r.seen, result.ServerID)
	return r.err
}

func TestManagerRoutesByWatches(t *testing.T) {
	m, err := NewManager(&config.Config{}, zap.NewNop())
	require.NoError(t, err)

	all := &recordingExporter{}
	office := &recordingExporter{}
	m.Add("all", all)
	m.Add("office", office, "office")

	m.Export(context.Background(), domain.ProbeResult{ServerID: "office"})
	m.Export(context.Background(), domain.ProbeResult{ServerID: "home"})

	assert.Equal(t, []string{"office", "home"}, all.seen)
	assert.Equal(t, []string{"office"}, office.seen)
}

func TestManagerLogsExportFailures(t *testing.T) {
	core, logs := observer.New(zap.ErrorLevel)
	m, err := NewManager(&config.Config{}, zap.New(core))
	require.NoError(t, err)

	failing := &recordingExporter{err: errors.New("push rejected")}
	ok := &recordingExporter{}
	m.Add("failing", failing)
	m.Add("ok", ok)

	m.Export(context.Background(), domain.ProbeResult{ServerID: "office"})

	assert.Equal(t, []string{"office"}, ok.seen, "one failing exporter must not block the rest")
	require.Equal(t, 1, logs.FilterMessage("failed to export probe result").Len())
}

func TestNewManagerFromConfig(t *testing.T) {
	var cfg config.Config
	require.NoError(t, json.Unmarshal([]byte(`{
		"exporters": [
			{"type": "uptime-kuma", "monitor_url": "https://kuma.example.com/api/push/abc"}
		]
	}`), &cfg))

	m, err := NewManager(&cfg, zap.NewNop())
	require.NoError(t, err)
	assert.Equal(t, 1, m.Len())

	cfg.Exporters[0].Type = "pagerduty"
	_, err = NewManager(&cfg, zap.NewNop())
	assert.ErrorContains(t, err, "unknown exporter type: pagerduty")
}
