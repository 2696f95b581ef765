package mcpclient

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/AltairaLabs/evalharness/internal/protocol"
	"github.com/AltairaLabs/evalharness/internal/retry"
)

var testUpgrader = websocket.Upgrader{}

// startProvider runs a fake tool-provider endpoint. handle is invoked for
// each inbound request; it is responsible for writing responses on conn.
func startProvider(t *testing.T, handle func(conn *websocket.Conn, writeMu *sync.Mutex, req protocol.Request)) (*httptest.Server, string) {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := testUpgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		var writeMu sync.Mutex
		for {
			var req protocol.Request
			if err := conn.ReadJSON(&req); err != nil {
				return
			}
			handle(conn, &writeMu, req)
		}
	}))
	t.Cleanup(srv.Close)
	return srv, "ws" + strings.TrimPrefix(srv.URL, "http")
}

func writeResponse(conn *websocket.Conn, writeMu *sync.Mutex, resp protocol.Response) {
	writeMu.Lock()
	defer writeMu.Unlock()
	_ = conn.WriteJSON(resp)
}

// echoProvider answers tools/list with the given descriptors and tools/call
// with a text payload naming the tool.
func echoProvider(t *testing.T, listCalls *atomic.Int64) (handler func(*websocket.Conn, *sync.Mutex, protocol.Request)) {
	tools := protocol.ListToolsResult{Tools: []protocol.ToolDescriptor{
		{Name: "calculate", Description: "Evaluate an expression"},
		{Name: "search_web", Description: "Search the web"},
	}}
	return func(conn *websocket.Conn, writeMu *sync.Mutex, req protocol.Request) {
		switch req.Method {
		case protocol.MethodListTools:
			if listCalls != nil {
				listCalls.Add(1)
			}
			result, _ := json.Marshal(tools)
			writeResponse(conn, writeMu, protocol.Response{ID: req.ID, Result: result})
		case protocol.MethodCallTool:
			params, _ := req.Params.(map[string]any)
			name, _ := params["name"].(string)
			result, _ := json.Marshal(map[string]any{"text": "ran " + name, "model": "test-model"})
			writeResponse(conn, writeMu, protocol.Response{ID: req.ID, Result: result})
		default:
			writeResponse(conn, writeMu, protocol.Response{ID: req.ID, Error: &protocol.RPCError{Message: "unknown method"}})
		}
	}
}

func testTimeouts() Timeouts {
	return Timeouts{Connect: 2 * time.Second, Call: 2 * time.Second}
}

func TestConnectIdempotent(t *testing.T) {
	_, url := startProvider(t, echoProvider(t, nil))
	client := New(url, Auth{}, testTimeouts(), retry.NoRetryPolicy(), nil)
	defer client.Close()

	ctx := context.Background()
	if err := client.Connect(ctx); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	if err := client.Connect(ctx); err != nil {
		t.Errorf("Second Connect failed: %v", err)
	}
}

func TestConnectFailureIsTransportError(t *testing.T) {
	client := New("ws://127.0.0.1:1/nothing", Auth{},
		Timeouts{Connect: 200 * time.Millisecond, Call: time.Second},
		retry.Policy{Retries: 1, Backoff: 10 * time.Millisecond}, nil)

	err := client.Connect(context.Background())
	if err == nil {
		t.Fatal("Expected connect error")
	}
	if !IsTransport(err) {
		t.Errorf("Expected TransportError, got %T: %v", err, err)
	}
}

func TestListToolsCached(t *testing.T) {
	var listCalls atomic.Int64
	_, url := startProvider(t, echoProvider(t, &listCalls))
	client := New(url, Auth{}, testTimeouts(), retry.NoRetryPolicy(), nil)
	defer client.Close()

	ctx := context.Background()
	first, err := client.ListTools(ctx)
	if err != nil {
		t.Fatalf("ListTools failed: %v", err)
	}
	if len(first) != 2 {
		t.Fatalf("Expected 2 tools, got %d", len(first))
	}

	second, err := client.ListTools(ctx)
	if err != nil {
		t.Fatalf("Second ListTools failed: %v", err)
	}
	if listCalls.Load() != 1 {
		t.Errorf("Expected 1 discovery request, got %d", listCalls.Load())
	}
	if &first[0] != &second[0] {
		t.Error("Expected the identical cached list on the second call")
	}
}

func TestCallTool(t *testing.T) {
	_, url := startProvider(t, echoProvider(t, nil))
	client := New(url, Auth{}, testTimeouts(), retry.NoRetryPolicy(), nil)
	defer client.Close()

	result, err := client.CallTool(context.Background(), "calculate", map[string]any{"expression": "2+2"})
	if err != nil {
		t.Fatalf("CallTool failed: %v", err)
	}
	if result.IsError() {
		t.Fatalf("Unexpected tool error: %s", result.Err)
	}
	if result.Text != "ran calculate" {
		t.Errorf("Expected extracted text, got %q", result.Text)
	}
	if result.Meta["model"] != "test-model" {
		t.Errorf("Expected model metadata, got %v", result.Meta)
	}
}

func TestCallToolBusinessError(t *testing.T) {
	_, url := startProvider(t, func(conn *websocket.Conn, writeMu *sync.Mutex, req protocol.Request) {
		writeResponse(conn, writeMu, protocol.Response{
			ID:    req.ID,
			Error: &protocol.RPCError{Message: "tool exploded"},
		})
	})
	client := New(url, Auth{}, testTimeouts(), retry.NoRetryPolicy(), nil)
	defer client.Close()

	result, err := client.CallTool(context.Background(), "calculate", nil)
	if err != nil {
		t.Fatalf("Expected business error as data, got call failure: %v", err)
	}
	if !result.IsError() {
		t.Fatal("Expected IsError")
	}
	if result.Err != "tool exploded" {
		t.Errorf("Expected provider message, got %q", result.Err)
	}
}

func TestOutOfOrderResponses(t *testing.T) {
	// The provider holds the response for tool "a" until "b" has been
	// answered, so responses arrive in order b, a.
	var held struct {
		sync.Mutex
		req *protocol.Request
	}
	_, url := startProvider(t, func(conn *websocket.Conn, writeMu *sync.Mutex, req protocol.Request) {
		params, _ := req.Params.(map[string]any)
		name, _ := params["name"].(string)
		switch name {
		case "a":
			held.Lock()
			r := req
			held.req = &r
			held.Unlock()
		case "b":
			result, _ := json.Marshal(map[string]any{"text": "result-b"})
			writeResponse(conn, writeMu, protocol.Response{ID: req.ID, Result: result})
			held.Lock()
			first := held.req
			held.req = nil
			held.Unlock()
			if first != nil {
				result, _ := json.Marshal(map[string]any{"text": "result-a"})
				writeResponse(conn, writeMu, protocol.Response{ID: first.ID, Result: result})
			}
		}
	})
	client := New(url, Auth{}, testTimeouts(), retry.NoRetryPolicy(), nil)
	defer client.Close()

	ctx := context.Background()
	type outcome struct {
		text string
		err  error
	}
	resultA := make(chan outcome, 1)

	go func() {
		result, err := client.CallTool(ctx, "a", nil)
		if err != nil {
			resultA <- outcome{err: err}
			return
		}
		resultA <- outcome{text: result.Text}
	}()

	// Let the "a" request reach the provider first.
	time.Sleep(100 * time.Millisecond)

	resultB, err := client.CallTool(ctx, "b", nil)
	if err != nil {
		t.Fatalf("CallTool b failed: %v", err)
	}
	if resultB.Text != "result-b" {
		t.Errorf("Expected result-b, got %q", resultB.Text)
	}

	a := <-resultA
	if a.err != nil {
		t.Fatalf("CallTool a failed: %v", a.err)
	}
	if a.text != "result-a" {
		t.Errorf("Expected result-a, got %q", a.text)
	}
}

func TestCallTimeout(t *testing.T) {
	_, url := startProvider(t, func(conn *websocket.Conn, writeMu *sync.Mutex, req protocol.Request) {
		// Never respond.
	})
	client := New(url, Auth{},
		Timeouts{Connect: time.Second, Call: 100 * time.Millisecond},
		retry.NoRetryPolicy(), nil)
	defer client.Close()

	_, err := client.CallTool(context.Background(), "calculate", nil)
	if err == nil {
		t.Fatal("Expected timeout error")
	}
	if !errors.Is(err, ErrCallTimeout) {
		t.Errorf("Expected ErrCallTimeout, got %v", err)
	}
	if !IsTransport(err) {
		t.Errorf("Expected TransportError, got %T", err)
	}
}

func TestCorrelationViolation(t *testing.T) {
	_, url := startProvider(t, func(conn *websocket.Conn, writeMu *sync.Mutex, req protocol.Request) {
		// Respond with an id that matches no outstanding request.
		writeResponse(conn, writeMu, protocol.Response{ID: req.ID + 9000, Result: json.RawMessage(`"x"`)})
	})
	client := New(url, Auth{}, testTimeouts(), retry.NoRetryPolicy(), nil)
	defer client.Close()

	_, err := client.CallTool(context.Background(), "calculate", nil)
	if err == nil {
		t.Fatal("Expected protocol error")
	}
	if !IsProtocol(err) {
		t.Errorf("Expected ProtocolError, got %T: %v", err, err)
	}
}

func TestReconnectAfterClose(t *testing.T) {
	var listCalls atomic.Int64
	_, url := startProvider(t, echoProvider(t, &listCalls))
	client := New(url, Auth{}, testTimeouts(), retry.NoRetryPolicy(), nil)

	ctx := context.Background()
	if _, err := client.ListTools(ctx); err != nil {
		t.Fatalf("ListTools failed: %v", err)
	}
	if err := client.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if err := client.Close(); err != nil {
		t.Fatalf("Second Close failed: %v", err)
	}

	// Operations after close lazily reconnect.
	result, err := client.CallTool(ctx, "calculate", nil)
	if err != nil {
		t.Fatalf("CallTool after close failed: %v", err)
	}
	if result.Text != "ran calculate" {
		t.Errorf("Expected extracted text, got %q", result.Text)
	}

	// The discovery cache survives reconnection.
	if _, err := client.ListTools(ctx); err != nil {
		t.Fatalf("ListTools after reconnect failed: %v", err)
	}
	if listCalls.Load() != 1 {
		t.Errorf("Expected discovery cache to survive reconnect, got %d requests", listCalls.Load())
	}
	_ = client.Close()
}

func TestAuthHeaderApplied(t *testing.T) {
	var gotAuth atomic.Value
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth.Store(r.Header.Get("Authorization"))
		conn, err := testUpgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		conn.Close()
	}))
	defer srv.Close()
	url := "ws" + strings.TrimPrefix(srv.URL, "http")

	client := New(url, Auth{Bearer: "sk-sekret-token"}, testTimeouts(), retry.NoRetryPolicy(), nil)
	defer client.Close()

	if err := client.Connect(context.Background()); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	if gotAuth.Load() != "Bearer sk-sekret-token" {
		t.Errorf("Expected bearer header on handshake, got %v", gotAuth.Load())
	}
}
