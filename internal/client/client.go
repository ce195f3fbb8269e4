// Package client talks to a running orchestrator.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/vinayprograms/orchestrator/internal/agentcard"
	"github.com/vinayprograms/orchestrator/internal/report"
)

// APIError is a non-2xx orchestrator response.
type APIError struct {
	StatusCode int
	RequestID  string
	Detail     report.ErrorDetail
}

func (e *APIError) Error() string {
	msg := e.Detail.Message
	if msg == "" {
		msg = http.StatusText(e.StatusCode)
	}
	if e.Detail.Stage != "" {
		return fmt.Sprintf("%s (%d, stage %s): %s", e.Detail.Kind, e.StatusCode, e.Detail.Stage, msg)
	}
	if e.Detail.Kind != "" {
		return fmt.Sprintf("%s (%d): %s", e.Detail.Kind, e.StatusCode, msg)
	}
	return fmt.Sprintf("status %d: %s", e.StatusCode, msg)
}

// Client calls the orchestrator API.
type Client struct {
	base string
	http *http.Client
}

// New creates a Client for the orchestrator at base. A zero timeout means
// no client-side limit.
func New(base string, timeout time.Duration) *Client {
	return &Client{
		base: strings.TrimRight(base, "/"),
		http: &http.Client{
			Transport: otelhttp.NewTransport(http.DefaultTransport),
			Timeout:   timeout,
		},
	}
}

// CreateCourse runs a workflow and returns its report.
func (c *Client) CreateCourse(ctx context.Context, req report.CreateCourseRequest) (*report.CourseReport, error) {
	var out report.CourseReport
	if err := c.do(ctx, http.MethodPost, "/create_course", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Agents lists registered agent cards.
func (c *Client) Agents(ctx context.Context) (map[string]agentcard.Card, error) {
	out := map[string]agentcard.Card{}
	if err := c.do(ctx, http.MethodGet, "/agents", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Health returns the reported status string.
func (c *Client) Health(ctx context.Context) (string, error) {
	var out struct {
		Status string `json:"status"`
	}
	if err := c.do(ctx, http.MethodGet, "/health", nil, &out); err != nil {
		return "", err
	}
	return out.Status, nil
}

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.base+path, body)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		apiErr := &APIError{StatusCode: resp.StatusCode, RequestID: resp.Header.Get("X-Request-ID")}
		var rep report.ErrorReport
		if json.Unmarshal(data, &rep) == nil {
			apiErr.Detail = rep.Error
		} else {
			apiErr.Detail.Message = strings.TrimSpace(string(data))
		}
		return apiErr
	}

	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
