package mcp

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// ErrUnavailable covers connection and handshake failures. The agent loop
// treats it as "proceed without tools", never as a hard failure.
var ErrUnavailable = errors.New("tool server unavailable")

// protocolVersion is the negotiated protocol revision sent in initialize.
const protocolVersion = "2024-11-05"

// ToolDescriptor is a tool as advertised by the server at connect time.
// Valid for the lifetime of one session.
type ToolDescriptor struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	InputSchema json.RawMessage `json:"inputSchema,omitempty"`
}

type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      *int64 `json:"id,omitempty"`
	Method  string `json:"method"`
	Params  any    `json:"params,omitempty"`
}

type rpcResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      *int64          `json:"id"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *rpcError       `json:"error,omitempty"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *rpcError) Error() string {
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

// Client is one protocol session: Disconnected until Connect succeeds, Ready
// between calls, Closed after Close. Not safe for concurrent Connect/Close,
// but calls may be issued from multiple goroutines once Ready.
type Client struct {
	baseURL     string
	credential  string
	httpClient  *http.Client
	callTimeout time.Duration

	nextID int64

	mu       sync.Mutex
	pending  map[int64]chan rpcResponse
	endpoint string

	endpointCh chan struct{}
	cancel     context.CancelFunc
	closeOnce  sync.Once
	readDone   chan struct{}
	readErr    error
}

// NewClient creates a disconnected client for the given SSE endpoint.
func NewClient(baseURL string, callTimeout time.Duration) *Client {
	return &Client{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		// No overall timeout: the GET holds the event stream open for the
		// whole session. Per-call deadlines are enforced by callTimeout.
		httpClient:  &http.Client{},
		callTimeout: callTimeout,
		pending:     make(map[int64]chan rpcResponse),
		endpointCh:  make(chan struct{}),
		readDone:    make(chan struct{}),
	}
}

// SetCredential attaches the caller's bearer credential to every request the
// session makes. Must be set before Connect.
func (c *Client) SetCredential(credential string) {
	c.credential = credential
}

// Connect opens the event stream, waits for the session endpoint
// announcement and performs the initialize handshake. Any failure is
// reported as ErrUnavailable.
func (c *Client) Connect(ctx context.Context) error {
	streamCtx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel

	req, err := http.NewRequestWithContext(streamCtx, http.MethodGet, c.baseURL, nil)
	if err != nil {
		cancel()
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	req.Header.Set("Accept", "text/event-stream")
	if c.credential != "" {
		req.Header.Set("Authorization", "Bearer "+c.credential)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		cancel()
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		cancel()
		return fmt.Errorf("%w: stream returned status %d", ErrUnavailable, resp.StatusCode)
	}

	go c.readLoop(resp.Body)

	// The server announces the session POST endpoint before anything else.
	select {
	case <-c.endpointCh:
	case <-c.readDone:
		c.Close()
		return fmt.Errorf("%w: stream closed before endpoint announcement", ErrUnavailable)
	case <-ctx.Done():
		c.Close()
		return fmt.Errorf("%w: %v", ErrUnavailable, ctx.Err())
	}

	if err := c.handshake(ctx); err != nil {
		c.Close()
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

func (c *Client) handshake(ctx context.Context) error {
	params := map[string]any{
		"protocolVersion": protocolVersion,
		"capabilities":    map[string]any{},
		"clientInfo": map[string]any{
			"name":    "hellocfo-engine",
			"version": "0.1.0",
		},
	}
	if _, err := c.call(ctx, "initialize", params); err != nil {
		return fmt.Errorf("initialize failed: %w", err)
	}
	// Fire-and-forget acknowledgement; the server expects it before serving
	// tools/list.
	return c.notify(ctx, "notifications/initialized", nil)
}

// readLoop consumes the event stream until the body closes or the session
// context is cancelled.
func (c *Client) readLoop(body io.ReadCloser) {
	defer close(c.readDone)
	defer body.Close()

	var asm FrameAssembler
	chunk := make([]byte, 4096)
	for {
		n, err := body.Read(chunk)
		if n > 0 {
			for _, f := range asm.Feed(chunk[:n]) {
				c.dispatch(f)
			}
		}
		if err != nil {
			if err != io.EOF {
				c.readErr = err
			}
			return
		}
	}
}

func (c *Client) dispatch(f Frame) {
	switch f.Event {
	case "endpoint":
		c.mu.Lock()
		first := c.endpoint == ""
		c.endpoint = c.resolveEndpoint(f.Data)
		c.mu.Unlock()
		if first {
			close(c.endpointCh)
		}
	case "message", "":
		var resp rpcResponse
		if err := json.Unmarshal([]byte(f.Data), &resp); err != nil {
			log.Printf("WARN: tool server sent undecodable frame: %v", err)
			return
		}
		if resp.ID == nil {
			// Server-initiated notification; nothing correlates to it.
			return
		}
		c.mu.Lock()
		ch, ok := c.pending[*resp.ID]
		if ok {
			delete(c.pending, *resp.ID)
		}
		c.mu.Unlock()
		if !ok {
			log.Printf("WARN: tool server response for unknown request id %d", *resp.ID)
			return
		}
		ch <- resp // buffered; resolved at most once by construction
	}
}

// resolveEndpoint resolves a possibly-relative session path against the
// stream URL.
func (c *Client) resolveEndpoint(raw string) string {
	base, err := url.Parse(c.baseURL)
	if err != nil {
		return raw
	}
	ref, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return raw
	}
	return base.ResolveReference(ref).String()
}

// call sends a correlated request and waits for the matching response, the
// per-call timeout, or cancellation. The pending entry is removed on every
// settle path.
func (c *Client) call(ctx context.Context, method string, params any) (json.RawMessage, error) {
	id := atomic.AddInt64(&c.nextID, 1)
	ch := make(chan rpcResponse, 1)

	c.mu.Lock()
	endpoint := c.endpoint
	c.pending[id] = ch
	c.mu.Unlock()

	if endpoint == "" {
		c.removePending(id)
		return nil, fmt.Errorf("session endpoint not established")
	}

	if err := c.post(ctx, rpcRequest{JSONRPC: "2.0", ID: &id, Method: method, Params: params}); err != nil {
		c.removePending(id)
		return nil, err
	}

	timer := time.NewTimer(c.callTimeout)
	defer timer.Stop()

	select {
	case resp := <-ch:
		if resp.Error != nil {
			return nil, resp.Error
		}
		return resp.Result, nil
	case <-timer.C:
		c.removePending(id)
		// The dispatcher may have raced the timer; prefer the response if
		// it already landed.
		select {
		case resp := <-ch:
			if resp.Error != nil {
				return nil, resp.Error
			}
			return resp.Result, nil
		default:
		}
		return nil, fmt.Errorf("request %d (%s) timed out after %s", id, method, c.callTimeout)
	case <-ctx.Done():
		c.removePending(id)
		return nil, ctx.Err()
	case <-c.readDone:
		c.removePending(id)
		return nil, fmt.Errorf("session closed while awaiting response to %s", method)
	}
}

// notify sends a request without an id; no response will ever correlate.
func (c *Client) notify(ctx context.Context, method string, params any) error {
	c.mu.Lock()
	endpoint := c.endpoint
	c.mu.Unlock()
	if endpoint == "" {
		return fmt.Errorf("session endpoint not established")
	}
	return c.post(ctx, rpcRequest{JSONRPC: "2.0", Method: method, Params: params})
}

func (c *Client) post(ctx context.Context, rpc rpcRequest) error {
	body, err := json.Marshal(rpc)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	c.mu.Lock()
	endpoint := c.endpoint
	c.mu.Unlock()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.credential != "" {
		req.Header.Set("Authorization", "Bearer "+c.credential)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode >= 300 {
		return fmt.Errorf("session endpoint returned status %d", resp.StatusCode)
	}
	return nil
}

func (c *Client) removePending(id int64) {
	c.mu.Lock()
	delete(c.pending, id)
	c.mu.Unlock()
}

// pendingCount reports outstanding correlated requests.
func (c *Client) pendingCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}

// ListTools asks the server for its current tool catalog.
func (c *Client) ListTools(ctx context.Context) ([]ToolDescriptor, error) {
	result, err := c.call(ctx, "tools/list", map[string]any{})
	if err != nil {
		return nil, fmt.Errorf("failed to list tools: %w", err)
	}
	var payload struct {
		Tools []ToolDescriptor `json:"tools"`
	}
	if err := json.Unmarshal(result, &payload); err != nil {
		return nil, fmt.Errorf("failed to decode tool list: %w", err)
	}
	return payload.Tools, nil
}

// CallTool invokes a named tool. The textual result is reassembled from the
// response's content fragments and truncated to the result ceiling.
func (c *Client) CallTool(ctx context.Context, name string, args map[string]any) (string, error) {
	result, err := c.call(ctx, "tools/call", map[string]any{
		"name":      name,
		"arguments": args,
	})
	if err != nil {
		return "", err
	}

	var payload struct {
		Content []struct {
			Type string `json:"type"`
			Text string `json:"text"`
		} `json:"content"`
		IsError bool `json:"isError"`
	}
	if err := json.Unmarshal(result, &payload); err != nil {
		return "", fmt.Errorf("failed to decode tool result: %w", err)
	}

	var parts []string
	for _, frag := range payload.Content {
		if frag.Type == "text" && frag.Text != "" {
			parts = append(parts, frag.Text)
		}
	}
	text := Truncate(strings.Join(parts, "\n"))

	if payload.IsError {
		return "", fmt.Errorf("tool %s failed: %s", name, text)
	}
	return text, nil
}

// Close cancels the read loop and tears down the session. Safe to call more
// than once and on a client that never connected.
func (c *Client) Close() {
	c.closeOnce.Do(func() {
		if c.cancel != nil {
			c.cancel()
		}
	})
}
