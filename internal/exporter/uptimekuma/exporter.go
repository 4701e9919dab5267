// Package uptimekuma pushes probe results to an Uptime Kuma push monitor.
package uptimekuma

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/go-playground/validator/v10"

	"outline-manager/internal/domain"
)

const defaultTimeout = 10 * time.Second

var validate = validator.New()

type Config struct {
	MonitorURL string `json:"monitor_url" validate:"required,url"`
}

type UptimeKuma struct {
	monitorURL string
	client     *http.Client
}

func New(rawConfig json.RawMessage) (domain.Exporter, error) {
	var cfg Config
	if err := json.Unmarshal(rawConfig, &cfg); err != nil {
		return nil, fmt.Errorf("invalid uptime kuma config: %w", err)
	}
	if err := validate.Struct(cfg); err != nil {
		return nil, fmt.Errorf("invalid uptime kuma config: %w", err)
	}

	return NewWithURL(cfg.MonitorURL), nil
}

func NewWithURL(monitorURL string) *UptimeKuma {
	return &UptimeKuma{
		monitorURL: monitorURL,
		client:     &http.Client{Timeout: defaultTimeout},
	}
}

// Export sends one heartbeat. Reachable servers push status=up with the
// probe latency; unreachable ones push status=down.
func (u *UptimeKuma) Export(ctx context.Context, result domain.ProbeResult) error {
	target, err := url.Parse(u.monitorURL)
	if err != nil {
		return fmt.Errorf("invalid monitor url: %w", err)
	}

	q := target.Query()
	if result.Reachable {
		q.Set("status", "up")
		q.Set("msg", "OK")
		q.Set("ping", fmt.Sprintf("%d", result.Latency.Milliseconds()))
	} else {
		q.Set("status", "down")
		msg := "unreachable"
		if result.Err != nil {
			msg = result.Err.Error()
		}
		q.Set("msg", msg)
	}
	target.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target.String(), nil)
	if err != nil {
		return err
	}
	resp, err := u.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		return fmt.Errorf("uptime kuma returned status %d", resp.StatusCode)
	}
	return nil
}
