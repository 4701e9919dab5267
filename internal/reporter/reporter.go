// Package reporter ships error reports to a collection endpoint.
package reporter

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"outline-manager/internal/config"
	"outline-manager/internal/interfaces"
)

var Module = fx.Options(
	fx.Provide(New),
	fx.Provide(func(r *Reporter) interfaces.ErrorReporter { return r }),
	fx.Invoke(registerHooks),
)

// Report is the body posted for each Send.
type Report struct {
	CorrelationID string    `json:"correlation_id"`
	Timestamp     time.Time `json:"timestamp"`
}

// Reporter posts reports in the background. Without an endpoint it only
// logs them.
type Reporter struct {
	endpoint string
	client   *http.Client
	logger   *zap.Logger
	now      func() time.Time

	mu     sync.Mutex
	apiKey string
	wg     sync.WaitGroup
}

func New(cfg *config.Config, logger *zap.Logger) *Reporter {
	r := &Reporter{
		endpoint: cfg.Reporter.Endpoint,
		client:   &http.Client{Timeout: 10 * time.Second},
		logger:   logger.With(zap.String("component", "reporter")),
		now:      time.Now,
	}
	if cfg.Reporter.APIKey != "" {
		r.Initialize(cfg.Reporter.APIKey)
	}
	return r
}

// NewCorrelationID returns an id to attach to a report and to the log
// lines that describe the same failure.
func NewCorrelationID() string {
	return uuid.New().String()
}

func (r *Reporter) Initialize(apiKey string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.apiKey = apiKey
}

// Send never blocks on the network.
func (r *Reporter) Send(correlationID string) {
	if r.endpoint == "" {
		r.logger.Info("error report recorded", zap.String("correlation_id", correlationID))
		return
	}

	r.mu.Lock()
	apiKey := r.apiKey
	r.mu.Unlock()

	report := Report{CorrelationID: correlationID, Timestamp: r.now().UTC()}
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		if err := r.post(report, apiKey); err != nil {
			r.logger.Warn("failed to send error report",
				zap.String("correlation_id", correlationID),
				zap.Error(err))
			return
		}
		r.logger.Debug("error report sent", zap.String("correlation_id", correlationID))
	}()
}

func (r *Reporter) post(report Report, apiKey string) error {
	body, err := json.Marshal(report)
	if err != nil {
		return fmt.Errorf("failed to marshal report: %w", err)
	}

	req, err := http.NewRequest(http.MethodPost, r.endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+apiKey)
	}

	resp, err := r.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to post report: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("unexpected status code: %d", resp.StatusCode)
	}
	return nil
}

// Flush waits for in-flight reports or for ctx to end.
func (r *Reporter) Flush(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func registerHooks(lc fx.Lifecycle, r *Reporter) {
	lc.Append(fx.Hook{
		OnStop: r.Flush,
	})
}
