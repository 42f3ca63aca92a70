// Package remote implements the rate-limited HTTP client shared by every
// service fetcher. The client bounds concurrent in-flight calls with a
// counting permit pool, paces calls with a fixed inter-call delay, and
// surfaces failures as typed errors. It never retries on its own.
package remote

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"

	"github.com/kbcrawl/kbcrawl/internal/metrics"
)

// Config controls one service client.
type Config struct {
	// Service labels logs and metrics, e.g. "jira".
	Service string
	// BaseURL is the root of the remote API, without a trailing slash.
	BaseURL string
	// Username and APIToken are sent as basic auth when both are set.
	Username string
	APIToken string
	// MaxConcurrent bounds in-flight calls. Defaults to 5.
	MaxConcurrent int
	// CallDelay is the fixed pacing interval between calls. Defaults to 100ms.
	CallDelay time.Duration
	// RequestTimeout bounds one round trip. Defaults to 30s.
	RequestTimeout time.Duration
}

// Client is a rate-limited JSON API client for a single remote service.
type Client struct {
	cfg     Config
	http    *http.Client
	permits *semaphore.Weighted
	pacer   *rate.Limiter
	logger  *zap.Logger
}

// New constructs a Client for the given service.
func New(cfg Config, logger *zap.Logger) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("remote %s: base url is required", cfg.Service)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = 5
	}
	if cfg.CallDelay <= 0 {
		cfg.CallDelay = 100 * time.Millisecond
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 30 * time.Second
	}
	return &Client{
		cfg:     cfg,
		http:    &http.Client{Timeout: cfg.RequestTimeout},
		permits: semaphore.NewWeighted(int64(cfg.MaxConcurrent)),
		pacer:   rate.NewLimiter(rate.Every(cfg.CallDelay), 1),
		logger:  logger.With(zap.String("service", cfg.Service)),
	}, nil
}

// Service returns the configured service label.
func (c *Client) Service() string {
	return c.cfg.Service
}

// BaseURL returns the configured API root without a trailing slash.
func (c *Client) BaseURL() string {
	return c.cfg.BaseURL
}

// GetJSON performs a GET against path (joined to the base URL), decodes the
// JSON response into out when out is non-nil, and returns a *StatusError for
// any non-2xx response. The call permit is released on every exit path.
func (c *Client) GetJSON(ctx context.Context, path string, query url.Values, out any) error {
	body, err := c.get(ctx, path, query)
	if err != nil {
		return err
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("%s: decode response for %s: %w", c.cfg.Service, path, err)
	}
	return nil
}

// GetRaw performs a GET and returns the response body verbatim. Used for
// media/export endpoints that do not speak JSON.
func (c *Client) GetRaw(ctx context.Context, path string, query url.Values) ([]byte, error) {
	return c.get(ctx, path, query)
}

func (c *Client) get(ctx context.Context, path string, query url.Values) ([]byte, error) {
	waitStart := time.Now()
	if err := c.permits.Acquire(ctx, 1); err != nil {
		return nil, fmt.Errorf("%s: acquire call permit: %w", c.cfg.Service, err)
	}
	defer c.permits.Release(1)
	metrics.ObservePermitWait(c.cfg.Service, time.Since(waitStart))

	if err := c.pacer.Wait(ctx); err != nil {
		return nil, fmt.Errorf("%s: pacing wait: %w", c.cfg.Service, err)
	}

	target := c.cfg.BaseURL + "/" + strings.TrimLeft(path, "/")
	if len(query) > 0 {
		target += "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, fmt.Errorf("%s: build request: %w", c.cfg.Service, err)
	}
	req.Header.Set("Accept", "application/json")
	if c.cfg.Username != "" && c.cfg.APIToken != "" {
		req.SetBasicAuth(c.cfg.Username, c.cfg.APIToken)
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	duration := time.Since(start)
	if err != nil {
		metrics.ObserveRemoteRequest(c.cfg.Service, "network_error", duration)
		return nil, fmt.Errorf("%s: get %s: %w", c.cfg.Service, path, err)
	}
	defer resp.Body.Close() //nolint:errcheck // read-only body

	metrics.ObserveRemoteRequest(c.cfg.Service, strconv.Itoa(resp.StatusCode), duration)

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("%s: read response for %s: %w", c.cfg.Service, path, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		c.logger.Debug("remote call returned non-2xx",
			zap.String("path", path),
			zap.Int("status", resp.StatusCode),
		)
		return nil, &StatusError{
			Service: c.cfg.Service,
			Path:    path,
			Code:    resp.StatusCode,
		}
	}

	return body, nil
}

// Responses larger than this are truncated rather than buffered unbounded.
const maxResponseBytes = 32 << 20
