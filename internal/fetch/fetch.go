// Package fetch provides the rate-limited HTTP primitive that every source
// client delegates to. All outbound calls share the same resilience behavior:
// a token-less throttle enforcing a minimum interval between requests, bounded
// retries with exponential backoff and jitter on transient failures, and a
// circuit breaker that stops hammering an upstream that is clearly down.
package fetch

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"math/rand/v2"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/sony/gobreaker/v2"

	"github.com/couchcryptid/waterdata/internal/observability"
)

// Config holds the per-client settings. Constructed once, immutable after.
type Config struct {
	// Name labels metrics and the circuit breaker, e.g. "usgs".
	Name    string
	BaseURL string

	// Token, when set, is sent on every request. TokenHeader defaults to
	// "Authorization"; TokenPrefix (e.g. "Bearer") is prepended when non-empty.
	Token       string
	TokenHeader string
	TokenPrefix string

	// Headers are added to every request.
	Headers map[string]string

	// MinInterval is the minimum wall-clock gap between consecutive requests
	// from this client. Zero disables throttling.
	MinInterval time.Duration

	// Timeout is the per-request HTTP timeout. Defaults to 60s.
	Timeout time.Duration

	// Retry budget for transient failures (network errors, 429, 5xx).
	// Defaults: 3 retries, 500ms..10s backoff.
	MaxRetries int
	MinBackoff time.Duration
	MaxBackoff time.Duration
}

func (cfg Config) withDefaults() Config {
	if cfg.TokenHeader == "" {
		cfg.TokenHeader = "Authorization"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	} else if cfg.MaxRetries == 0 {
		cfg.MaxRetries = 3
	}
	if cfg.MinBackoff <= 0 {
		cfg.MinBackoff = 500 * time.Millisecond
	}
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = 10 * time.Second
	}
	return cfg
}

// Client issues throttled, retried HTTP requests. A Client owns its last-call
// timestamp; instances are independent but not safe for concurrent use from
// multiple goroutines without external synchronization.
type Client struct {
	cfg        Config
	httpClient *http.Client
	breaker    *gobreaker.CircuitBreaker[*http.Response]
	clock      clockwork.Clock
	metrics    *observability.Metrics
	logger     *slog.Logger
	lastCall   time.Time
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient overrides the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithClock swaps the time source, for deterministic throttle tests.
func WithClock(clock clockwork.Clock) Option {
	return func(c *Client) { c.clock = clock }
}

// WithMetrics attaches pipeline metrics.
func WithMetrics(m *observability.Metrics) Option {
	return func(c *Client) { c.metrics = m }
}

// NewClient creates a fetch client.
func NewClient(cfg Config, logger *slog.Logger, opts ...Option) *Client {
	cfg = cfg.withDefaults()

	cb := gobreaker.NewCircuitBreaker[*http.Response](gobreaker.Settings{
		Name:        cfg.Name,
		MaxRequests: 1,
		Interval:    60 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures > 5
		},
	})

	c := &Client{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		breaker:    cb,
		clock:      clockwork.NewRealClock(),
		logger:     logger,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// GetJSON issues a GET and decodes the JSON response into out.
func (c *Client) GetJSON(ctx context.Context, path string, params url.Values, out any) error {
	u := c.BuildURL(path, params)
	data, err := c.request(ctx, http.MethodGet, u, nil, "", "application/json")
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, out); err != nil {
		return &ParseError{URL: u, Format: "json", Err: err}
	}
	return nil
}

// GetJSONURL issues a GET against a complete URL (used by next-URL
// pagination) and decodes the JSON response into out.
func (c *Client) GetJSONURL(ctx context.Context, fullURL string, out any) error {
	data, err := c.request(ctx, http.MethodGet, fullURL, nil, "", "application/json")
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, out); err != nil {
		return &ParseError{URL: fullURL, Format: "json", Err: err}
	}
	return nil
}

// GetCSV issues a GET and parses the response as CSV, returning all records
// including the header row. Ragged rows are tolerated; an unparsable body is
// a ParseError.
func (c *Client) GetCSV(ctx context.Context, path string, params url.Values) ([][]string, error) {
	u := c.BuildURL(path, params)
	data, err := c.request(ctx, http.MethodGet, u, nil, "", "text/csv")
	if err != nil {
		return nil, err
	}
	r := csv.NewReader(bytes.NewReader(data))
	r.FieldsPerRecord = -1
	records, err := r.ReadAll()
	if err != nil {
		return nil, &ParseError{URL: u, Format: "csv", Err: err}
	}
	return records, nil
}

// GetRDB issues a GET and parses the USGS RDB (tab-delimited) format:
// '#' comment lines are stripped, the first remaining line is the header, and
// the following format line ("5s 15s ...") is skipped.
func (c *Client) GetRDB(ctx context.Context, path string, params url.Values) (header []string, rows [][]string, err error) {
	u := c.BuildURL(path, params)
	data, err := c.request(ctx, http.MethodGet, u, nil, "", "text/plain")
	if err != nil {
		return nil, nil, err
	}

	var lines []string
	for _, line := range strings.Split(string(data), "\n") {
		if strings.HasPrefix(line, "#") {
			continue
		}
		if strings.TrimSpace(line) == "" {
			continue
		}
		lines = append(lines, line)
	}
	if len(lines) < 2 {
		return nil, nil, &ParseError{URL: u, Format: "rdb", Err: errors.New("response has no data lines")}
	}

	header = strings.Split(lines[0], "\t")
	for _, line := range lines[2:] { // lines[1] is the column-format line
		rows = append(rows, strings.Split(line, "\t"))
	}
	return header, rows, nil
}

// PostJSON issues a POST with a JSON body and decodes the JSON response
// into out. Pass a nil out to discard the response.
func (c *Client) PostJSON(ctx context.Context, path string, body any, out any) error {
	u := c.BuildURL(path, nil)
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("encode request body: %w", err)
	}
	data, err := c.request(ctx, http.MethodPost, u, payload, "application/json", "application/json")
	if err != nil {
		return err
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return &ParseError{URL: u, Format: "json", Err: err}
	}
	return nil
}

// BuildURL joins path onto the configured base URL and encodes params.
// Paths that are already absolute URLs pass through unchanged.
func (c *Client) BuildURL(path string, params url.Values) string {
	var u string
	if strings.Contains(path, "://") {
		u = path
	} else {
		u = strings.TrimRight(c.cfg.BaseURL, "/") + "/" + strings.TrimLeft(path, "/")
	}
	if len(params) > 0 {
		u += "?" + params.Encode()
	}
	return u
}

// request runs the throttle-retry loop and returns the full response body.
func (c *Client) request(ctx context.Context, method, fullURL string, body []byte, contentType, accept string) ([]byte, error) {
	c.throttle()

	start := time.Now()
	defer func() {
		if c.metrics != nil {
			c.metrics.RequestDuration.WithLabelValues(c.cfg.Name).Observe(time.Since(start).Seconds())
		}
	}()

	var lastErr error
	var lastStatus int

	maxAttempts := 1 + c.cfg.MaxRetries
	for attempt := 0; attempt < maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, c.fail(fullURL, lastStatus, attempt, err)
		}

		req, err := c.newRequest(ctx, method, fullURL, body, contentType, accept)
		if err != nil {
			return nil, c.fail(fullURL, 0, attempt+1, err)
		}

		resp, err := c.breaker.Execute(func() (*http.Response, error) {
			r, doErr := c.httpClient.Do(req)
			if doErr != nil {
				return nil, doErr
			}
			// 429 and 5xx count as breaker failures and are retried below.
			if r.StatusCode == http.StatusTooManyRequests || r.StatusCode >= 500 {
				return r, fmt.Errorf("upstream returned %d", r.StatusCode)
			}
			return r, nil
		})

		if err == nil {
			data, readErr := io.ReadAll(resp.Body)
			resp.Body.Close()
			if readErr != nil {
				lastErr = readErr
				lastStatus = resp.StatusCode
				continue
			}
			if resp.StatusCode >= 200 && resp.StatusCode < 300 {
				c.countRequest("success")
				return data, nil
			}
			// Non-retryable client error (4xx other than 429).
			c.countRequest("error")
			return nil, &RetrievalError{
				URL:        fullURL,
				StatusCode: resp.StatusCode,
				Attempts:   attempt + 1,
				Err:        fmt.Errorf("%s", snippet(data)),
			}
		}

		lastErr = err
		var retryAfter string
		if resp != nil {
			lastStatus = resp.StatusCode
			retryAfter = resp.Header.Get("Retry-After")
			resp.Body.Close()
		}

		// An open breaker means the upstream is down; retrying locally is
		// pointless until the breaker half-opens.
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return nil, c.fail(fullURL, lastStatus, attempt+1, err)
		}

		if attempt < maxAttempts-1 {
			if c.metrics != nil {
				c.metrics.RetriesTotal.WithLabelValues(c.cfg.Name).Inc()
			}
			c.logger.Warn("request failed, retrying",
				"source", c.cfg.Name, "url", fullURL, "attempt", attempt+1, "error", err)
			c.clock.Sleep(c.backoff(attempt, retryAfter))
		}
	}

	return nil, c.fail(fullURL, lastStatus, maxAttempts, lastErr)
}

func (c *Client) newRequest(ctx context.Context, method, fullURL string, body []byte, contentType, accept string) (*http.Request, error) {
	var rd io.Reader
	if body != nil {
		rd = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, fullURL, rd)
	if err != nil {
		return nil, err
	}
	if accept != "" {
		req.Header.Set("Accept", accept)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	for k, v := range c.cfg.Headers {
		req.Header.Set(k, v)
	}
	if c.cfg.Token != "" {
		value := c.cfg.Token
		if c.cfg.TokenPrefix != "" {
			value = c.cfg.TokenPrefix + " " + value
		}
		req.Header.Set(c.cfg.TokenHeader, value)
	}
	return req, nil
}

// throttle sleeps off the remainder of MinInterval since the previous call.
func (c *Client) throttle() {
	if c.cfg.MinInterval <= 0 {
		return
	}
	if !c.lastCall.IsZero() {
		if wait := c.cfg.MinInterval - c.clock.Since(c.lastCall); wait > 0 {
			c.clock.Sleep(wait)
		}
	}
	c.lastCall = c.clock.Now()
}

// backoff computes the wait before the next attempt: Retry-After when the
// upstream sent one, otherwise exponential backoff with full jitter clamped
// to [MinBackoff, MaxBackoff].
func (c *Client) backoff(attempt int, retryAfter string) time.Duration {
	if retryAfter != "" {
		if seconds, err := strconv.Atoi(retryAfter); err == nil && seconds > 0 {
			if wait := time.Duration(seconds) * time.Second; wait <= c.cfg.MaxBackoff {
				return wait
			}
			return c.cfg.MaxBackoff
		}
	}

	base := float64(c.cfg.MinBackoff) * math.Pow(2, float64(attempt))
	if max := float64(c.cfg.MaxBackoff); base > max {
		base = max
	}
	minWait := float64(c.cfg.MinBackoff)
	if base <= minWait {
		return c.cfg.MinBackoff
	}
	return time.Duration(minWait + rand.Float64()*(base-minWait))
}

func (c *Client) fail(fullURL string, status, attempts int, err error) error {
	c.countRequest("error")
	return &RetrievalError{URL: fullURL, StatusCode: status, Attempts: attempts, Err: err}
}

func (c *Client) countRequest(outcome string) {
	if c.metrics != nil {
		c.metrics.RequestsTotal.WithLabelValues(c.cfg.Name, outcome).Inc()
	}
}

func snippet(body []byte) string {
	s := strings.TrimSpace(string(body))
	if len(s) > 256 {
		s = s[:256]
	}
	return s
}
