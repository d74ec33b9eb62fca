package toolservice

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/reviewmesh/orchestrator/telemetry"
	"github.com/reviewmesh/orchestrator/wire"
)

// Client calls a remote tool service's POST /call endpoint. It carries no
// retry logic of its own — the invoker applies the shared retry envelope on
// top of a single Call.
type Client struct {
	http *http.Client
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithHTTPClient overrides the underlying *http.Client.
func WithHTTPClient(c *http.Client) ClientOption {
	return func(cl *Client) { cl.http = c }
}

// NewClient constructs a Client with a default, timeout-less *http.Client —
// callers impose deadlines via the context passed to Call.
func NewClient(opts ...ClientOption) *Client {
	c := &Client{http: &http.Client{}}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	return c
}

// Call invokes tool on baseURL's /call endpoint with a bearer token (if
// non-empty) and the correlation ID header, returning the decoded
// ToolCallResponse. Any network or decoding failure is returned verbatim so
// the invoker's retry classifier can inspect it; HTTP non-2xx status is
// returned as a plain error carrying the status code.
func (c *Client) Call(ctx context.Context, baseURL, tool string, args map[string]any, token, correlationID string) (wire.ToolCallResponse, error) {
	body, err := json.Marshal(wire.ToolCallRequest{Tool: tool, Args: args})
	if err != nil {
		return wire.ToolCallResponse{}, fmt.Errorf("encode tool call request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, baseURL+"/call", bytes.NewReader(body))
	if err != nil {
		return wire.ToolCallResponse{}, fmt.Errorf("build tool call request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(telemetry.CorrelationIDHeader, correlationID)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return wire.ToolCallResponse{}, err
	}
	defer func() { _ = resp.Body.Close() }()

	var out wire.ToolCallResponse
	if decodeErr := json.NewDecoder(resp.Body).Decode(&out); decodeErr != nil {
		if resp.StatusCode != http.StatusOK {
			return wire.ToolCallResponse{}, fmt.Errorf("HTTP %d", resp.StatusCode)
		}
		return wire.ToolCallResponse{}, fmt.Errorf("decode tool call response: %w", decodeErr)
	}

	if resp.StatusCode != http.StatusOK {
		return out, fmt.Errorf("HTTP %d", resp.StatusCode)
	}
	return out, nil
}

// CallWithTimeout is a convenience wrapper that arms a context deadline of d
// before delegating to Call.
func (c *Client) CallWithTimeout(ctx context.Context, d time.Duration, baseURL, tool string, args map[string]any, token, correlationID string) (wire.ToolCallResponse, error) {
	ctx, cancel := context.WithTimeout(ctx, d)
	defer cancel()
	return c.Call(ctx, baseURL, tool, args, token, correlationID)
}
