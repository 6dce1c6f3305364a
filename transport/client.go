// Package transport opens the chat event stream over HTTP.
package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/alexschlessinger/pollychat/messages"
	"github.com/sony/gobreaker/v2"
	"go.uber.org/zap"
)

// ChatPath is the endpoint the question is posted to.
const ChatPath = "/api/chat"

// Config configures the transport client.
type Config struct {
	// BaseURL is the server root, e.g. http://localhost:8000.
	BaseURL string

	// MaxRetries is the number of additional connection attempts after the
	// first one. Negative values are treated as zero.
	MaxRetries int

	// BaseDelay is the delay before the first retry; it doubles per attempt.
	BaseDelay time.Duration

	// MaxDelay caps the backoff delay. Zero means no cap.
	MaxDelay time.Duration

	// Timeout bounds connecting and waiting for response headers. It does not
	// limit how long the stream itself may run.
	Timeout time.Duration

	// HTTPClient overrides the default HTTP client.
	HTTPClient *http.Client

	// Breaker enables a circuit breaker around connection attempts.
	Breaker *BreakerConfig
}

// DefaultConfig returns the standard client settings.
func DefaultConfig() Config {
	return Config{
		BaseURL:    "http://localhost:8000",
		MaxRetries: 3,
		BaseDelay:  time.Second,
		MaxDelay:   10 * time.Second,
		Timeout:    30 * time.Second,
	}
}

// ChatRequest is the body posted to the chat endpoint.
type ChatRequest struct {
	Question string `json:"question"`
}

// StatusError is returned for non-2xx responses.
type StatusError struct {
	Code   int
	Status string
	Body   string
}

func (e *StatusError) Error() string {
	if e.Body != "" {
		return fmt.Sprintf("HTTP %d: %s: %s", e.Code, e.Status, e.Body)
	}
	return fmt.Sprintf("HTTP %d: %s", e.Code, e.Status)
}

// HTTPStatus returns the response status code.
func (e *StatusError) HTTPStatus() int { return e.Code }

// ErrEmptyBody is returned when a successful response carries no body.
var ErrEmptyBody = errors.New("response body is empty")

// Client posts questions and returns the raw event stream.
type Client struct {
	endpoint   string
	maxRetries int
	baseDelay  time.Duration
	maxDelay   time.Duration
	httpClient *http.Client
	breaker    *gobreaker.CircuitBreaker[io.ReadCloser]
}

// NewClient creates a client from cfg.
func NewClient(cfg Config) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, errors.New("transport: base URL is required")
	}
	base, err := url.Parse(strings.TrimRight(cfg.BaseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("transport: invalid base URL: %w", err)
	}
	if base.Scheme != "http" && base.Scheme != "https" {
		return nil, fmt.Errorf("transport: unsupported scheme %q", base.Scheme)
	}

	client := cfg.HTTPClient
	if client == nil {
		client = newHTTPClient(cfg.Timeout)
	}

	c := &Client{
		endpoint:   base.JoinPath(ChatPath).String(),
		maxRetries: max(cfg.MaxRetries, 0),
		baseDelay:  cfg.BaseDelay,
		maxDelay:   cfg.MaxDelay,
		httpClient: client,
	}
	if cfg.Breaker != nil {
		c.breaker = newBreaker("chat:"+base.Host, *cfg.Breaker)
	}
	return c, nil
}

// newHTTPClient builds a client whose timeouts cover connection setup and
// response headers only, so long streams are not cut off.
func newHTTPClient(timeout time.Duration) *http.Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &http.Client{
		Transport: &http.Transport{
			Proxy: http.ProxyFromEnvironment,
			DialContext: (&net.Dialer{
				Timeout:   timeout,
				KeepAlive: 30 * time.Second,
			}).DialContext,
			TLSHandshakeTimeout:   10 * time.Second,
			ResponseHeaderTimeout: timeout,
			MaxIdleConns:          10,
			IdleConnTimeout:       90 * time.Second,
			ForceAttemptHTTP2:     true,
		},
	}
}

// Endpoint returns the full chat URL.
func (c *Client) Endpoint() string { return c.endpoint }

// SendMessage posts question and returns the response body once the server
// has accepted the request. Connection failures are retried with exponential
// backoff; reading the returned stream is never retried. Errors are always
// *messages.ChatError.
func (c *Client) SendMessage(ctx context.Context, question string) (io.ReadCloser, error) {
	payload, err := json.Marshal(ChatRequest{Question: question})
	if err != nil {
		return nil, messages.NewChatError(messages.ErrorValidation, "encode request: "+err.Error(), err)
	}

	var lastErr error
	attempts := 0
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		attempts++
		body, err := c.connect(ctx, payload)
		if err == nil {
			zap.S().Debugw("transport_connected", "endpoint", c.endpoint, "attempt", attempts)
			return body, nil
		}
		lastErr = err

		if ctx.Err() != nil {
			return nil, messages.ClassifyError(ctx.Err())
		}
		if isBreakerRejection(err) {
			ce := messages.NewChatError(messages.ErrorConnection, "server unavailable: "+err.Error(), err)
			ce.Code = "circuit_open"
			return nil, ce
		}
		ce := messages.ClassifyError(err)
		if !messages.IsRetryable(ce) {
			zap.S().Debugw("transport_not_retryable", "attempt", attempts, "error", err)
			return nil, ce
		}

		if attempt < c.maxRetries {
			delay := Backoff(c.baseDelay, c.maxDelay, attempt)
			zap.S().Debugw("transport_retry",
				"attempt", attempts,
				"delay", delay,
				"error", err,
			)
			if err := sleep(ctx, delay); err != nil {
				return nil, messages.ClassifyError(err)
			}
		}
	}

	zap.S().Warnw("transport_retries_exhausted", "attempts", attempts, "error", lastErr)
	return nil, messages.NewChatError(messages.ErrorConnection,
		fmt.Sprintf("failed after %d attempts: %s", attempts, errorText(lastErr)), lastErr)
}

func (c *Client) connect(ctx context.Context, payload []byte) (io.ReadCloser, error) {
	if c.breaker == nil {
		return c.open(ctx, payload)
	}
	return c.breaker.Execute(func() (io.ReadCloser, error) {
		return c.open(ctx, payload)
	})
}

func (c *Client) open(ctx context.Context, payload []byte) (io.ReadCloser, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		_ = resp.Body.Close()
		return nil, &StatusError{
			Code:   resp.StatusCode,
			Status: http.StatusText(resp.StatusCode),
			Body:   strings.TrimSpace(string(snippet)),
		}
	}
	if resp.Body == nil || resp.Body == http.NoBody {
		if resp.Body != nil {
			_ = resp.Body.Close()
		}
		return nil, ErrEmptyBody
	}
	return resp.Body, nil
}

// Backoff returns the delay before retry number attempt (zero based):
// base doubled attempt times, capped at limit when limit is positive.
// Without a limit the delay saturates instead of overflowing.
func Backoff(base, limit time.Duration, attempt int) time.Duration {
	d := base
	for i := 0; i < attempt; i++ {
		if d > math.MaxInt64/2 {
			d = math.MaxInt64
			break
		}
		d *= 2
		if limit > 0 && d >= limit {
			return limit
		}
	}
	if limit > 0 && d > limit {
		return limit
	}
	return d
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func errorText(err error) string {
	if ce, ok := messages.AsChatError(err); ok {
		return ce.Message
	}
	if err == nil {
		return "unknown error"
	}
	return err.Error()
}
