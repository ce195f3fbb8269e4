// Package invoke performs capability calls: a JSON POST to an agent endpoint
// with a bounded wait and response shape checking.
package invoke

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/vinayprograms/orchestrator/internal/logging"
)

// DefaultTimeout bounds a single capability call.
const DefaultTimeout = 30 * time.Second

// maxResponseBytes caps how much of an agent response is read.
const maxResponseBytes = 8 << 20

// TransportError is a network failure, timeout or non-2xx status.
type TransportError struct {
	Endpoint   string
	StatusCode int // 0 when no response was received
	Err        error
}

func (e *TransportError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("call %s: status %d: %v", e.Endpoint, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("call %s: %v", e.Endpoint, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// Timeout reports whether the call ran out of time.
func (e *TransportError) Timeout() bool {
	if errors.Is(e.Err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(e.Err, &ne) && ne.Timeout()
}

// MalformedResponseError is a response body that is not JSON or lacks an
// expected field.
type MalformedResponseError struct {
	Endpoint string
	Reason   string
	Err      error
}

func (e *MalformedResponseError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("malformed response from %s: %s: %v", e.Endpoint, e.Reason, e.Err)
	}
	return fmt.Sprintf("malformed response from %s: %s", e.Endpoint, e.Reason)
}

func (e *MalformedResponseError) Unwrap() error { return e.Err }

// Client invokes agent capabilities over HTTP.
type Client struct {
	http    *http.Client
	timeout time.Duration
	logger  *logging.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the instrumented default client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithTimeout sets the per-call timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// New creates a Client. The default transport is traced with otelhttp.
func New(opts ...Option) *Client {
	c := &Client{
		http:    &http.Client{Transport: otelhttp.NewTransport(http.DefaultTransport)},
		timeout: DefaultTimeout,
		logger:  logging.Discard(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Invoke POSTs payload as JSON to endpoint, checks the response against
// required, and decodes it into out. It never retries.
func (c *Client) Invoke(ctx context.Context, endpoint string, payload, out any, required ...Field) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal request for %s: %w", endpoint, err)
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return &TransportError{Endpoint: endpoint, Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if id := logging.TraceIDFromContext(ctx); id != "" {
		req.Header.Set("X-Request-ID", id)
	}

	log := c.logger.FromContext(ctx)
	start := time.Now()

	resp, err := c.http.Do(req)
	if err != nil {
		terr := &TransportError{Endpoint: endpoint, Err: err}
		log.AgentCall(endpoint, time.Since(start), 0, terr)
		return terr
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		terr := &TransportError{Endpoint: endpoint, StatusCode: resp.StatusCode, Err: fmt.Errorf("read body: %w", err)}
		log.AgentCall(endpoint, time.Since(start), resp.StatusCode, terr)
		return terr
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		terr := &TransportError{Endpoint: endpoint, StatusCode: resp.StatusCode, Err: fmt.Errorf("%s", snippet(data))}
		log.AgentCall(endpoint, time.Since(start), resp.StatusCode, terr)
		return terr
	}
	log.AgentCall(endpoint, time.Since(start), resp.StatusCode, nil)

	if err := Check(data, required...); err != nil {
		return &MalformedResponseError{Endpoint: endpoint, Reason: err.Error()}
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return &MalformedResponseError{Endpoint: endpoint, Reason: "decode", Err: err}
	}
	return nil
}

func snippet(data []byte) string {
	const max = 200
	s := string(bytes.TrimSpace(data))
	if s == "" {
		return "empty body"
	}
	if len(s) > max {
		return s[:max] + "..."
	}
	return s
}
