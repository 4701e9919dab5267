package reporter

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"outline-manager/internal/config"
)

type capture struct {
	mu      sync.Mutex
	reports []Report
	auth    []string
}

func (c *capture) handler(status int) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var report Report
		_ = json.NewDecoder(r.Body).Decode(&report)
		c.mu.Lock()
		c.reports = append(c.reports, report)
		c.auth = append(c.auth, r.Header.Get("Authorization"))
		c.mu.Unlock()
		w.WriteHeader(status)
	}
}

func newReporter(endpoint, apiKey string, logger *zap.Logger) *Reporter {
	cfg := config.Default()
	cfg.Reporter.Endpoint = endpoint
	cfg.Reporter.APIKey = apiKey
	return New(&cfg, logger)
}

func TestSendPostsReport(t *testing.T) {
	c := &capture{}
	ts := httptest.NewServer(c.handler(http.StatusAccepted))
	defer ts.Close()

	r := newReporter(ts.URL, "key-1", zap.NewNop())
	fixed := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	r.now = func() time.Time { return fixed }

	r.Send("corr-1")
	require.NoError(t, r.Flush(context.Background()))

	require.Len(t, c.reports, 1)
	assert.Equal(t, "corr-1", c.reports[0].CorrelationID)
	assert.True(t, fixed.Equal(c.reports[0].Timestamp))
	assert.Equal(t, "Bearer key-1", c.auth[0])
}

func TestInitializeReplacesKey(t *testing.T) {
	c := &capture{}
	ts := httptest.NewServer(c.handler(http.StatusOK))
	defer ts.Close()

	r := newReporter(ts.URL, "", zap.NewNop())
	r.Send("a")
	require.NoError(t, r.Flush(context.Background()))
	r.Initialize("key-2")
	r.Send("b")
	require.NoError(t, r.Flush(context.Background()))

	assert.Equal(t, []string{"", "Bearer key-2"}, c.auth)
}

func TestSendFailureIsLogged(t *testing.T) {
	core, logs := observer.New(zapcore.WarnLevel)
	c := &capture{}
	ts := httptest.NewServer(c.handler(http.StatusInternalServerError))
	defer ts.Close()

	r := newReporter(ts.URL, "", zap.New(core))
	r.Send("corr-2")
	require.NoError(t, r.Flush(context.Background()))

	entries := logs.FilterMessage("failed to send error report").All()
	require.Len(t, entries, 1)
	assert.Equal(t, "corr-2", entries[0].ContextMap()["correlation_id"])
}

func TestSendWithoutEndpointLogsOnly(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	r := newReporter("", "", zap.New(core))

	r.Send("corr-3")
	require.NoError(t, r.Flush(context.Background()))
	assert.Equal(t, 1, logs.FilterMessage("error report recorded").Len())
}

func TestFlushHonoursContext(t *testing.T) {
	release := make(chan struct{})
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-release
	}))
	defer ts.Close()
	defer close(release)

	r := newReporter(ts.URL, "", zap.NewNop())
	r.Send("slow")

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, r.Flush(ctx), context.DeadlineExceeded)
}

func TestNewCorrelationID(t *testing.T) {
	a, b := NewCorrelationID(), NewCorrelationID()
	assert.NotEqual(t, a, b)
	_, err := uuid.Parse(a)
	assert.NoError(t, err)
}
