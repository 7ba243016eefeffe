// Package bridgeclient is a Go SDK for UnityCtl's Bridge HTTP surface
// (§6.3), giving Go callers (the CLI driver, or any other automation) a
// typed wrapper around POST /rpc plus a reconnecting SSE log stream:
// an Option-configured Client, a retrying invoke(), typed sentinel
// errors, and a reconnecting event stream with a persisted cursor, all
// over plain HTTP+SSE rather than a stateful transport (auth is a
// non-goal; see DESIGN.md).
package bridgeclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

// Client is a typed HTTP client for a single Bridge instance.
type Client struct {
	httpClient *http.Client
	baseURL    string
	timeout    time.Duration
	retry      RetryConfig
}

// New creates a Client from the given options. WithBaseURL is required.
func New(opts ...Option) (*Client, error) {
	cfg := &clientConfig{
		timeout: 35 * time.Second, // strictly larger than the default 30s logical deadline (§9)
		retry:   DefaultRetryConfig(),
	}
	for _, o := range opts {
		o(cfg)
	}
	if cfg.baseURL == "" {
		return nil, fmt.Errorf("bridgeclient: base URL is required (use WithBaseURL)")
	}
	return &Client{
		httpClient: &http.Client{Timeout: cfg.timeout},
		baseURL:    cfg.baseURL,
		timeout:    cfg.timeout,
		retry:      cfg.retry,
	}, nil
}

// RPCResult mirrors the Bridge's ResponseMessage (§6.3) one-for-one.
type RPCResult struct {
	ID     string         `json:"id"`
	Status string         `json:"status"`
	Result map[string]any `json:"result,omitempty"`
	Error  *RPCError      `json:"error,omitempty"`
}

// RPCError mirrors bridge.ResponseError.
type RPCError struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
}

// IsOK reports whether the call succeeded at the Bridge level (distinct
// from transport-level errors, which come back as a non-nil error).
func (r *RPCResult) IsOK() bool { return r != nil && r.Status == "ok" }

// Call invokes POST /rpc with automatic retry on transient transport
// errors (peer unavailable, peer disconnected) per the retry policy; a
// TIMEOUT is never retried.
func (c *Client) Call(ctx context.Context, command string, args map[string]any, agentID string, timeout time.Duration) (*RPCResult, error) {
	var result *RPCResult
	err := c.invoke(ctx, func(callCtx context.Context) error {
		r, httpErr := c.doRPC(callCtx, command, args, agentID, timeout)
		if httpErr != nil {
			return httpErr
		}
		result = r
		return nil
	})
	return result, err
}

func (c *Client) doRPC(ctx context.Context, command string, args map[string]any, agentID string, timeout time.Duration) (*RPCResult, error) {
	body := map[string]any{"command": command}
	if len(args) > 0 {
		body["args"] = args
	}
	if agentID != "" {
		body["agentId"] = agentID
	}
	if timeout > 0 {
		body["timeout"] = timeout.Seconds()
	}

	encoded, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("bridgeclient: marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/rpc", bytes.NewReader(encoded))
	if err != nil {
		return nil, fmt.Errorf("bridgeclient: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPeerDisconnected, err)
	}
	defer resp.Body.Close()

	var result RPCResult
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("bridgeclient: decode response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		code := ""
		if result.Error != nil {
			code = result.Error.Code
		}
		if mapped := mapStatusCode(resp.StatusCode, code); mapped != nil {
			return nil, mapped
		}
		return nil, fmt.Errorf("bridgeclient: unexpected status %d", resp.StatusCode)
	}

	return &result, nil
}

// Health calls GET /health.
func (c *Client) Health(ctx context.Context) (map[string]any, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPeerDisconnected, err)
	}
	defer resp.Body.Close()
	var body map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, err
	}
	return body, nil
}

// LogEntry mirrors bridge.LogEntry (§4.5) one-for-one.
type LogEntry struct {
	SequenceNumber uint64    `json:"sequenceNumber"`
	Timestamp      time.Time `json:"timestamp"`
	Source         string    `json:"source"`
	Level          string    `json:"level"`
	Message        string    `json:"message"`
	StackTrace     string    `json:"stackTrace,omitempty"`
	Color          string    `json:"color,omitempty"`
}

// LogsTailResult mirrors the /logs/tail response body.
type LogsTailResult struct {
	Entries     []LogEntry `json:"entries"`
	Watermark   uint64     `json:"watermark"`
	ClearedAt   *time.Time `json:"clearedAt,omitempty"`
	ClearReason string     `json:"clearReason,omitempty"`
}

// LogsTailOptions mirrors the query parameters GET /logs/tail accepts.
// Lines <= 0 means "all buffered entries"; Source == "" or "all" means no
// source filter.
type LogsTailOptions struct {
	Lines  int
	Source string
	Full   bool
}

// LogsTail calls GET /logs/tail.
func (c *Client) LogsTail(ctx context.Context, opts LogsTailOptions) (*LogsTailResult, error) {
	q := url.Values{}
	if opts.Lines > 0 {
		q.Set("lines", strconv.Itoa(opts.Lines))
	}
	if opts.Source != "" {
		q.Set("source", opts.Source)
	}
	if opts.Full {
		q.Set("full", "true")
	}

	reqURL := c.baseURL + "/logs/tail"
	if encoded := q.Encode(); encoded != "" {
		reqURL += "?" + encoded
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, fmt.Errorf("bridgeclient: build request: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPeerDisconnected, err)
	}
	defer resp.Body.Close()

	var result LogsTailResult
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("bridgeclient: decode response: %w", err)
	}
	return &result, nil
}

// LogsClearResult mirrors the /logs/clear response body.
type LogsClearResult struct {
	Success   bool   `json:"success"`
	Watermark uint64 `json:"watermark"`
}

// LogsClear calls POST /logs/clear, advancing the Bridge's watermark so a
// subsequent non-full tail only sees entries accepted afterward.
func (c *Client) LogsClear(ctx context.Context, reason string) (*LogsClearResult, error) {
	reqURL := c.baseURL + "/logs/clear"
	if reason != "" {
		reqURL += "?" + (url.Values{"reason": {reason}}).Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, reqURL, nil)
	if err != nil {
		return nil, fmt.Errorf("bridgeclient: build request: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPeerDisconnected, err)
	}
	defer resp.Body.Close()

	var result LogsClearResult
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("bridgeclient: decode response: %w", err)
	}
	return &result, nil
}

// Close releases the underlying HTTP transport's idle connections.
func (c *Client) Close() error {
	c.httpClient.CloseIdleConnections()
	return nil
}
