// Package fetch downloads the proxy configs behind a dynamic access key.
package fetch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"outline-manager/internal/config"
	"outline-manager/internal/domain"
	"outline-manager/internal/link"
)

const (
	defaultTimeout      = 20 * time.Second
	defaultMaxBytes     = 1 << 20
	defaultMaxRedirects = 5
)

var (
	// ErrUnreachable covers transport failures and non-2xx answers.
	ErrUnreachable = errors.New("source unreachable")
	// ErrInvalidResponse means the body held no usable proxy config.
	ErrInvalidResponse = errors.New("invalid source response")

	errTooManyRedirects  = errors.New("too many redirects")
	errRedirectBadScheme = errors.New("redirect target scheme is not http/https")
)

type FetchError struct {
	URL    string
	Status int
	Kind   error
	Cause  error
}

func (e *FetchError) Error() string {
	msg := fmt.Sprintf("%v: %s", e.Kind, e.URL)
	if e.Status != 0 {
		msg = fmt.Sprintf("%s: status %d", msg, e.Status)
	}
	if e.Cause != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Cause)
	}
	return msg
}

func (e *FetchError) Unwrap() []error {
	if e.Cause == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Cause}
}

// Result is what a source URL resolved to. RedirectURL is set when every
// hop was a permanent redirect; callers should store it in place of the
// requested URL.
type Result struct {
	Proxies     []domain.ShadowsocksConfig
	RedirectURL string
}

type Options struct {
	Timeout      time.Duration
	MaxBytes     int64
	MaxRedirects int
}

type Fetcher struct {
	opts   Options
	logger *zap.Logger
}

func New(opts Options, logger *zap.Logger) *Fetcher {
	if opts.Timeout == 0 {
		opts.Timeout = defaultTimeout
	}
	if opts.MaxBytes == 0 {
		opts.MaxBytes = defaultMaxBytes
	}
	if opts.MaxRedirects == 0 {
		opts.MaxRedirects = defaultMaxRedirects
	}
	return &Fetcher{opts: opts, logger: logger.With(zap.String("component", "fetch"))}
}

// NewFromConfig builds a Fetcher using the tunnel fetch timeout.
func NewFromConfig(cfg *config.Config, logger *zap.Logger) *Fetcher {
	return New(Options{Timeout: time.Duration(cfg.Tunnel.FetchTimeout) * time.Second}, logger)
}

// Fetch GETs rawURL and decodes the body as Outline dynamic-key JSON, a JSON
// array of those, or a list of ss:// URIs.
func (f *Fetcher) Fetch(ctx context.Context, rawURL string) (Result, error) {
	u, err := url.Parse(rawURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		return Result{}, &FetchError{URL: rawURL, Kind: ErrInvalidResponse, Cause: errors.New("only http/https urls are allowed")}
	}

	var permanent string
	chainPermanent := true
	client := &http.Client{
		Timeout: f.opts.Timeout,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			if len(via) > f.opts.MaxRedirects {
				return errTooManyRedirects
			}
			if req.URL.Scheme != "http" && req.URL.Scheme != "https" {
				return errRedirectBadScheme
			}
			if chainPermanent && req.Response != nil && isPermanentRedirect(req.Response.StatusCode) {
				permanent = req.URL.String()
			} else {
				chainPermanent = false
			}
			return nil
		},
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return Result{}, &FetchError{URL: rawURL, Kind: ErrInvalidResponse, Cause: err}
	}

	resp, err := client.Do(req)
	if err != nil {
		var ne net.Error
		if errors.As(err, &ne) && ne.Timeout() {
			return Result{}, &FetchError{URL: rawURL, Kind: ErrUnreachable, Cause: fmt.Errorf("timeout: %w", err)}
		}
		return Result{}, &FetchError{URL: rawURL, Kind: ErrUnreachable, Cause: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return Result{}, &FetchError{URL: rawURL, Status: resp.StatusCode, Kind: ErrUnreachable}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, f.opts.MaxBytes+1))
	if err != nil {
		return Result{}, &FetchError{URL: rawURL, Kind: ErrUnreachable, Cause: err}
	}
	if int64(len(body)) > f.opts.MaxBytes {
		return Result{}, &FetchError{URL: rawURL, Kind: ErrInvalidResponse, Cause: fmt.Errorf("body exceeds %d bytes", f.opts.MaxBytes)}
	}

	proxies, err := Decode(string(body))
	if err != nil {
		return Result{}, &FetchError{URL: rawURL, Kind: ErrInvalidResponse, Cause: err}
	}

	result := Result{Proxies: proxies}
	if chainPermanent && permanent != "" && permanent != rawURL {
		result.RedirectURL = permanent
		f.logger.Info("source moved permanently",
			zap.String("from", rawURL),
			zap.String("to", permanent))
	}
	f.logger.Debug("source fetched",
		zap.String("url", rawURL),
		zap.Int("proxies", len(proxies)))
	return result, nil
}

func isPermanentRedirect(code int) bool {
	return code == http.StatusMovedPermanently || code == http.StatusPermanentRedirect
}

// outlineConfig is the dynamic access key document served by Outline.
type outlineConfig struct {
	Server     string `json:"server"`
	ServerPort int    `json:"server_port"`
	Password   string `json:"password"`
	Method     string `json:"method"`
	Name       string `json:"name,omitempty"`
}

func (c outlineConfig) proxy() domain.ShadowsocksConfig {
	return domain.ShadowsocksConfig{
		Host:     c.Server,
		Port:     c.ServerPort,
		Password: c.Password,
		Method:   c.Method,
		Name:     c.Name,
	}
}

// Decode parses a source body. An empty candidate list is an error.
func Decode(body string) ([]domain.ShadowsocksConfig, error) {
	body = strings.TrimSpace(strings.TrimPrefix(body, "\ufeff"))

	var proxies []domain.ShadowsocksConfig
	switch {
	case strings.HasPrefix(body, "{"):
		var doc outlineConfig
		if err := json.Unmarshal([]byte(body), &doc); err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
		proxies = append(proxies, doc.proxy())

	case strings.HasPrefix(body, "["):
		var docs []outlineConfig
		if err := json.Unmarshal([]byte(body), &docs); err != nil {
			return nil, fmt.Errorf("failed to parse config list: %w", err)
		}
		for _, doc := range docs {
			proxies = append(proxies, doc.proxy())
		}

	default:
		parsed, err := link.ParseProxyList(body)
		if err != nil {
			return nil, err
		}
		proxies = parsed
	}

	if len(proxies) == 0 {
		return nil, errors.New("no proxy configs found")
	}
	for i, p := range proxies {
		if p.Host == "" || p.Port < 1 || p.Port > 65535 || p.Method == "" || p.Password == "" {
			return nil, fmt.Errorf("proxy config %d is incomplete", i)
		}
	}
	return proxies, nil
}
