// Package delivery performs one logical send of one payload to the collector:
// JSON encoding, header injection, and exponential-backoff retry on
// transport failures.
//
// A completed exchange with a non-2xx status is terminal and never retried.
// Only failures to complete the exchange (refused connection, timeout,
// reset) are retried, up to MaxRetries times.
package delivery

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	operrors "github.com/randalmurphal/openpanel/pkg/openpanel/errors"
)

// Defaults applied by New and UpdateConfig.
const (
	DefaultBaseURL           = "https://api.openpanel.dev"
	DefaultMaxRetries        = 3
	DefaultInitialRetryDelay = 500 * time.Millisecond
	DefaultTimeout           = 10 * time.Second

	contentType = "application/json"

	// maxErrorBody bounds how much of a failed response is kept for the
	// error message.
	maxErrorBody = 512
)

// Config configures the delivery client.
type Config struct {
	// BaseURL is prepended to every path.
	// Default: https://api.openpanel.dev
	BaseURL string

	// Headers are sent with every request. Content-Type is always
	// application/json regardless of what is set here.
	Headers map[string]string

	// MaxRetries is the number of retries after the first attempt.
	// Default: 3. Use NoRetries=true to disable retries.
	MaxRetries int

	// NoRetries disables retry attempts. When true, MaxRetries is ignored.
	NoRetries bool

	// InitialRetryDelay is the wait before the first retry; each further
	// retry doubles it.
	// Default: 500ms
	InitialRetryDelay time.Duration

	// Timeout bounds a single attempt, including reading the response.
	// Default: 10s. Ignored when HTTPClient is set.
	Timeout time.Duration

	// HTTPClient overrides the client used for requests.
	HTTPClient *http.Client

	// Logger receives debug output for each exchange.
	// Default: slog.Default()
	Logger *slog.Logger

	// OnRetry is called before each backoff sleep.
	OnRetry func(attempt int, err error, backoff time.Duration)
}

// state is an immutable snapshot of the client configuration.
type state struct {
	baseURL string
	headers map[string]string
	retry   operrors.RetryConfig
	http    *http.Client
	logger  *slog.Logger
}

// Client sends payloads to the collector. It is safe for concurrent use;
// configuration changes swap in a complete new snapshot, so an in-flight
// request never sees a half-updated header set.
type Client struct {
	writeMu sync.Mutex // serializes UpdateConfig and AddHeader
	state   atomic.Pointer[state]
}

// New creates a client with the given configuration.
func New(cfg Config) *Client {
	c := &Client{}
	c.state.Store(newState(cfg))
	return c
}

func newState(cfg Config) *state {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.MaxRetries <= 0 && !cfg.NoRetries {
		cfg.MaxRetries = DefaultMaxRetries
	}
	if cfg.NoRetries {
		cfg.MaxRetries = 0
	}
	if cfg.InitialRetryDelay <= 0 {
		cfg.InitialRetryDelay = DefaultInitialRetryDelay
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: cfg.Timeout}
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	headers := make(map[string]string, len(cfg.Headers)+1)
	for k, v := range cfg.Headers {
		headers[k] = v
	}
	headers["Content-Type"] = contentType

	return &state{
		baseURL: cfg.BaseURL,
		headers: headers,
		retry: operrors.NewRetryConfig(
			operrors.WithMaxRetries(cfg.MaxRetries),
			operrors.WithInitialBackoff(cfg.InitialRetryDelay),
			operrors.WithRetryableFunc(operrors.IsRetryable),
			operrors.WithOnRetry(cfg.OnRetry),
		),
		http:   cfg.HTTPClient,
		logger: cfg.Logger,
	}
}

// UpdateConfig replaces the whole configuration, headers included.
func (c *Client) UpdateConfig(cfg Config) {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	c.state.Store(newState(cfg))
}

// AddHeader adds or replaces one header for subsequent requests.
func (c *Client) AddHeader(key, value string) {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	cur := c.state.Load()
	next := *cur
	next.headers = make(map[string]string, len(cur.headers)+1)
	for k, v := range cur.headers {
		next.headers[k] = v
	}
	next.headers[key] = value
	c.state.Store(&next)
}

// Headers returns a copy of the configured header set.
func (c *Client) Headers() map[string]string {
	cur := c.state.Load()
	out := make(map[string]string, len(cur.headers))
	for k, v := range cur.headers {
		out[k] = v
	}
	return out
}

// BaseURL returns the configured base URL.
func (c *Client) BaseURL() string {
	return c.state.Load().baseURL
}

// Outcome describes one logical send.
type Outcome struct {
	// Body is the response body of the successful attempt.
	Body []byte

	// StatusCode is the status of the last completed exchange, 0 if none.
	StatusCode int

	// Attempts is the number of requests made.
	Attempts int

	// Duration is the total time spent, backoff included.
	Duration time.Duration

	// Err is nil on success.
	Err error
}

// Fetch POSTs body, encoded as JSON, to BaseURL+path and returns the
// response body of a 2xx answer.
func (c *Client) Fetch(ctx context.Context, path string, body any) ([]byte, error) {
	out := c.Do(ctx, path, body)
	return out.Body, out.Err
}

// Do is Fetch with attempt accounting.
func (c *Client) Do(ctx context.Context, path string, body any) Outcome {
	st := c.state.Load()
	start := time.Now()

	endpoint := st.baseURL + path
	target, err := parseEndpoint(endpoint)
	if err != nil {
		return Outcome{Err: err, Duration: time.Since(start)}
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return Outcome{Err: &operrors.EncodingError{Err: err}, Duration: time.Since(start)}
	}

	var lastStatus int
	result := operrors.WithRetryContext(ctx, st.retry, func(ctx context.Context) ([]byte, error) {
		respBody, status, err := st.post(ctx, target, payload)
		if status != 0 {
			lastStatus = status
		}
		return respBody, err
	})

	return Outcome{
		Body:       result.Value,
		StatusCode: lastStatus,
		Attempts:   result.Attempts,
		Duration:   time.Since(start),
		Err:        result.Err,
	}
}

// post performs a single attempt.
func (s *state) post(ctx context.Context, target *url.URL, payload []byte) ([]byte, int, error) {
	endpoint := target.String()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, 0, &operrors.InvalidURLError{URL: endpoint, Err: err}
	}
	for k, v := range s.headers {
		req.Header.Set(k, v)
	}
	req.Header.Set("Content-Type", contentType)

	s.logger.Debug("openpanel sending",
		slog.String("endpoint", endpoint),
		slog.Int("size_bytes", len(payload)),
	)

	resp, err := s.http.Do(req)
	if err != nil {
		return nil, 0, &operrors.TransportError{Endpoint: endpoint, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		msg := http.StatusText(resp.StatusCode)
		if len(snippet) > 0 {
			msg = string(snippet)
		}
		s.logger.Debug("openpanel http error",
			slog.String("endpoint", endpoint),
			slog.Int("status", resp.StatusCode),
		)
		return nil, resp.StatusCode, &operrors.HTTPError{
			StatusCode: resp.StatusCode,
			Message:    msg,
			Endpoint:   endpoint,
		}
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resp.StatusCode, &operrors.TransportError{Endpoint: endpoint, Err: fmt.Errorf("read response: %w", err)}
	}

	s.logger.Debug("openpanel delivered",
		slog.String("endpoint", endpoint),
		slog.Int("status", resp.StatusCode),
	)
	return data, resp.StatusCode, nil
}

// parseEndpoint validates that raw is an absolute http(s) URL.
func parseEndpoint(raw string) (*url.URL, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return nil, &operrors.InvalidURLError{URL: raw, Err: err}
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, &operrors.InvalidURLError{URL: raw, Err: fmt.Errorf("unsupported scheme %q", u.Scheme)}
	}
	if u.Host == "" {
		return nil, &operrors.InvalidURLError{URL: raw, Err: fmt.Errorf("missing host")}
	}
	return u, nil
}

// ValidateBaseURL reports whether base can be used as a collector URL.
func ValidateBaseURL(base string) error {
	_, err := parseEndpoint(base)
	return err
}
