// Package mcpclient implements the protocol client side of the tool
// provider connection: connect with retry, discover tools, invoke tools, and
// shut down. One client owns exactly one logical connection; concurrent
// in-flight requests on that connection are correlated by request id.
package mcpclient

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/AltairaLabs/evalharness/internal/protocol"
	"github.com/AltairaLabs/evalharness/internal/redact"
	"github.com/AltairaLabs/evalharness/internal/retry"
)

// wsConn bundles one websocket connection with its teardown state. The done
// channel is closed exactly once, after err is set, so waiters can observe
// the reason the connection died.
type wsConn struct {
	ws        *websocket.Conn
	done      chan struct{}
	closeOnce sync.Once
	err       error
}

// Client manages one logical connection to a tool-provider endpoint.
// Safe for concurrent use; multiple calls may be in flight at once.
type Client struct {
	endpoint string
	auth     Auth
	timeouts Timeouts
	retry    retry.Policy
	logger   *slog.Logger

	mu    sync.Mutex // guards conn and tools
	conn  *wsConn
	tools []protocol.ToolDescriptor // discovery cache, client lifetime

	writeMu sync.Mutex // serializes socket writes

	nextID    atomic.Uint64
	pendingMu sync.Mutex
	pending   map[uint64]chan *protocol.Response
}

// New creates a client for the given endpoint. The connection is established
// lazily on first use.
func New(endpoint string, auth Auth, timeouts Timeouts, retryPolicy retry.Policy, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		endpoint: endpoint,
		auth:     auth,
		timeouts: timeouts,
		retry:    retryPolicy,
		logger:   logger,
		pending:  make(map[uint64]chan *protocol.Response),
	}
}

// Connect establishes the connection, retrying with exponential backoff per
// the retry policy. Calling Connect while already connected is a no-op.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.conn != nil {
		select {
		case <-c.conn.done:
			c.conn = nil // previous connection died, reconnect
		default:
			c.mu.Unlock()
			return nil
		}
	}
	c.mu.Unlock()

	header := c.handshakeHeader()
	dialer := websocket.Dialer{HandshakeTimeout: c.timeouts.Connect}

	var lastErr error
	for attempt := 0; ; attempt++ {
		dialCtx, cancel := context.WithTimeout(ctx, c.timeouts.Connect)
		ws, resp, err := dialer.DialContext(dialCtx, c.endpoint, header)
		cancel()
		if resp != nil && resp.Body != nil {
			resp.Body.Close()
		}
		if err == nil {
			wc := &wsConn{ws: ws, done: make(chan struct{})}
			c.mu.Lock()
			c.conn = wc
			c.mu.Unlock()
			go c.readLoop(wc)
			c.logger.InfoContext(ctx, "connected to tool provider",
				"endpoint", c.endpoint,
				"attempt", attempt,
			)
			return nil
		}

		lastErr = err
		if !c.retry.ShouldRetry(attempt) {
			break
		}
		delay := c.retry.Delay(attempt)
		c.logger.WarnContext(ctx, "connection attempt failed, retrying",
			"endpoint", c.endpoint,
			"attempt", attempt,
			"delay_ms", delay.Milliseconds(),
			"error", err,
		)
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return &TransportError{Op: "connect", Err: ctx.Err()}
		}
	}

	return &TransportError{Op: "connect", Err: lastErr}
}

// ListTools discovers the provider's tools. The result is cached for the
// lifetime of the client; there is no invalidation path, a fresh client must
// be constructed to re-discover.
func (c *Client) ListTools(ctx context.Context) ([]protocol.ToolDescriptor, error) {
	c.mu.Lock()
	if c.tools != nil {
		tools := c.tools
		c.mu.Unlock()
		return tools, nil
	}
	c.mu.Unlock()

	resp, err := c.call(ctx, protocol.MethodListTools, map[string]any{})
	if err != nil {
		return nil, err
	}
	if resp.Error != nil {
		return nil, &ProtocolError{
			Reason:    fmt.Sprintf("discovery failed: %s", resp.Error.Message),
			RequestID: resp.ID,
		}
	}

	var result protocol.ListToolsResult
	if err := json.Unmarshal(resp.Result, &result); err != nil {
		return nil, &ProtocolError{
			Reason:    fmt.Sprintf("malformed discovery result: %v", err),
			RequestID: resp.ID,
		}
	}

	c.mu.Lock()
	if c.tools == nil {
		if result.Tools == nil {
			result.Tools = []protocol.ToolDescriptor{}
		}
		c.tools = result.Tools
	}
	tools := c.tools
	c.mu.Unlock()

	c.logger.InfoContext(ctx, "discovered tools", "count", len(tools))
	return tools, nil
}

// CallTool invokes a named tool. A provider-reported business error comes
// back inside the InvocationResult; only transport and protocol failures are
// returned as errors.
func (c *Client) CallTool(ctx context.Context, name string, args map[string]any) (*protocol.InvocationResult, error) {
	c.logger.DebugContext(ctx, "calling tool", "tool", name, "args", redact.Args(args))

	resp, err := c.call(ctx, protocol.MethodCallTool, protocol.CallParams{Name: name, Arguments: args})
	if err != nil {
		return nil, err
	}
	if resp.Error != nil {
		return &protocol.InvocationResult{Err: resp.Error.Message}, nil
	}

	var raw any
	if len(resp.Result) > 0 {
		if err := json.Unmarshal(resp.Result, &raw); err != nil {
			return nil, &ProtocolError{
				Reason:    fmt.Sprintf("malformed result payload: %v", err),
				RequestID: resp.ID,
			}
		}
	}

	return &protocol.InvocationResult{
		Raw:  raw,
		Text: protocol.ExtractText(raw),
		Meta: protocol.ExtractMeta(raw),
	}, nil
}

// Close gracefully shuts the connection down. Safe to call multiple times;
// operations after Close lazily reconnect.
func (c *Client) Close() error {
	c.mu.Lock()
	wc := c.conn
	c.conn = nil
	c.mu.Unlock()
	if wc == nil {
		return nil
	}

	c.writeMu.Lock()
	deadline := time.Now().Add(1 * time.Second)
	_ = wc.ws.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
	c.writeMu.Unlock()

	c.teardown(wc, &TransportError{Op: "close", Err: ErrConnectionClosed})
	c.logger.Debug("connection closed", "endpoint", c.endpoint)
	return nil
}

// call sends one request and waits for its correlated response, bounded by
// the call timeout. Lazily connects first.
func (c *Client) call(ctx context.Context, method string, params any) (*protocol.Response, error) {
	if err := c.Connect(ctx); err != nil {
		return nil, err
	}

	c.mu.Lock()
	wc := c.conn
	c.mu.Unlock()
	if wc == nil {
		return nil, &TransportError{Op: "call", Err: ErrConnectionClosed}
	}

	id := c.nextID.Add(1)
	ch := make(chan *protocol.Response, 1)
	c.pendingMu.Lock()
	c.pending[id] = ch
	c.pendingMu.Unlock()
	defer func() {
		c.pendingMu.Lock()
		delete(c.pending, id)
		c.pendingMu.Unlock()
	}()

	c.writeMu.Lock()
	err := wc.ws.WriteJSON(protocol.Request{ID: id, Method: method, Params: params})
	c.writeMu.Unlock()
	if err != nil {
		return nil, &TransportError{Op: "send", Err: err}
	}

	timer := time.NewTimer(c.timeouts.Call)
	defer timer.Stop()

	select {
	case resp := <-ch:
		return resp, nil
	case <-timer.C:
		return nil, &TransportError{
			Op:  "call",
			Err: fmt.Errorf("%w after %s (method %s, id %d)", ErrCallTimeout, c.timeouts.Call, method, id),
		}
	case <-ctx.Done():
		return nil, &TransportError{Op: "call", Err: ctx.Err()}
	case <-wc.done:
		return nil, wc.err
	}
}

// readLoop dispatches inbound responses to their waiting callers by id.
// A response whose id matches no outstanding request is a protocol violation
// that kills the connection: it means the two sides have desynchronized.
func (c *Client) readLoop(wc *wsConn) {
	for {
		var resp protocol.Response
		if err := wc.ws.ReadJSON(&resp); err != nil {
			c.teardown(wc, &TransportError{Op: "read", Err: err})
			return
		}

		c.pendingMu.Lock()
		ch, ok := c.pending[resp.ID]
		if ok {
			delete(c.pending, resp.ID)
		}
		c.pendingMu.Unlock()

		if !ok {
			c.logger.Error("response id matches no outstanding request", "id", resp.ID)
			c.teardown(wc, &ProtocolError{
				Reason:    "response id matches no outstanding request",
				RequestID: resp.ID,
			})
			return
		}
		ch <- &resp
	}
}

// teardown closes one connection exactly once, recording the cause so
// in-flight callers waiting on wc.done see it.
func (c *Client) teardown(wc *wsConn, cause error) {
	wc.closeOnce.Do(func() {
		wc.err = cause
		_ = wc.ws.Close()
		close(wc.done)
	})

	c.mu.Lock()
	if c.conn == wc {
		c.conn = nil
	}
	c.mu.Unlock()
}

// handshakeHeader builds the connection headers from the configured auth and
// logs their redacted form.
func (c *Client) handshakeHeader() http.Header {
	header := http.Header{}
	if c.auth.Bearer != "" {
		header.Set("Authorization", "Bearer "+c.auth.Bearer)
		c.logger.Debug("using bearer auth", "token", redact.Secret(c.auth.Bearer))
	}
	for k, v := range c.auth.Headers {
		header.Set(k, v)
		c.logger.Debug("using auth header", "header", k, "value", redact.Secret(v))
	}
	return header
}
