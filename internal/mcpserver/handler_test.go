package mcpserver

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/scribeworks/mcp-scribe/internal/store"
)

func newTestEngine() *server.MCPServer {
	engine := server.NewMCPServer("test-server", "0.0.1",
		server.WithToolCapabilities(false),
	)
	engine.AddTool(
		mcp.NewTool("echo",
			mcp.WithDescription("Echo the input text"),
			mcp.WithString("text", mcp.Required()),
		),
		func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			text, err := request.RequireString("text")
			if err != nil {
				return mcp.NewToolResultError(err.Error()), nil
			}
			return mcp.NewToolResultText(text), nil
		},
	)
	return engine
}

func newTestHandler(t *testing.T) (*Handler, *Registry, *store.TokenSet) {
	t.Helper()

	engine := newTestEngine()
	registry := NewRegistry(engine, 0, nil, nil)
	t.Cleanup(registry.Stop)

	tokens := store.NewTokenSet()
	tokens.Add("valid-token")

	return NewHandler(engine, registry, NewGate(tokens), false, nil, nil), registry, tokens
}

func postMessage(h *Handler, body, sessionID, token string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/mcp", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if sessionID != "" {
		req.Header.Set(SessionIDHeader, sessionID)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

const initializeBody = `{"jsonrpc":"2.0","id":1,"method":"initialize","params":{"protocolVersion":"2025-03-26","capabilities":{},"clientInfo":{"name":"test-client","version":"1.0"}}}`

// initSession runs the initialize exchange and returns the minted session id.
func initSession(t *testing.T, h *Handler) string {
	t.Helper()

	rec := postMessage(h, initializeBody, "", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("initialize status = %d: %s", rec.Code, rec.Body.String())
	}
	id := rec.Header().Get(SessionIDHeader)
	if id == "" {
		t.Fatal("initialize response missing session id header")
	}

	rec = postMessage(h, `{"jsonrpc":"2.0","method":"notifications/initialized"}`, id, "")
	if rec.Code != http.StatusAccepted {
		t.Fatalf("initialized notification status = %d, want 202", rec.Code)
	}
	return id
}

func TestInitializeCreatesSession(t *testing.T) {
	h, registry, _ := newTestHandler(t)

	id := initSession(t, h)
	if _, ok := registry.Get(id); !ok {
		t.Error("session id from header should be registered")
	}
	if registry.Len() != 1 {
		t.Errorf("registry.Len() = %d, want 1", registry.Len())
	}
}

func TestInitializeReusesLiveSession(t *testing.T) {
	h, registry, _ := newTestHandler(t)

	id := initSession(t, h)
	rec := postMessage(h, initializeBody, id, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("re-initialize status = %d", rec.Code)
	}
	if got := rec.Header().Get(SessionIDHeader); got != id {
		t.Errorf("re-initialize session id = %q, want %q", got, id)
	}
	if registry.Len() != 1 {
		t.Errorf("registry.Len() = %d, want 1", registry.Len())
	}
}

func TestToolCallRequiresBearer(t *testing.T) {
	h, _, _ := newTestHandler(t)
	id := initSession(t, h)

	body := `{"jsonrpc":"2.0","id":2,"method":"tools/call","params":{"name":"echo","arguments":{"text":"hi"}}}`
	rec := postMessage(h, body, id, "")
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rec.Code)
	}

	challenge := rec.Header().Get("WWW-Authenticate")
	if !strings.Contains(challenge, "resource_metadata=") {
		t.Errorf("WWW-Authenticate = %q, want resource_metadata challenge", challenge)
	}
	if !strings.Contains(challenge, "/.well-known/oauth-protected-resource") {
		t.Errorf("WWW-Authenticate = %q, want protected resource metadata URL", challenge)
	}
}

func TestToolCallWithBearer(t *testing.T) {
	h, _, _ := newTestHandler(t)
	id := initSession(t, h)

	body := `{"jsonrpc":"2.0","id":2,"method":"tools/call","params":{"name":"echo","arguments":{"text":"hello there"}}}`
	rec := postMessage(h, body, id, "valid-token")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}
	if !strings.Contains(rec.Body.String(), "hello there") {
		t.Errorf("response should carry the tool result, got %s", rec.Body.String())
	}
}

func TestRequestWithoutSessionIsRejected(t *testing.T) {
	h, _, _ := newTestHandler(t)

	body := `{"jsonrpc":"2.0","id":2,"method":"tools/call","params":{"name":"echo","arguments":{"text":"hi"}}}`

	tests := []struct {
		name      string
		sessionID string
	}{
		{"missing header", ""},
		{"unknown session", "bogus-session"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := postMessage(h, body, tt.sessionID, "valid-token")
			if rec.Code != http.StatusNotFound {
				t.Fatalf("status = %d, want 404", rec.Code)
			}

			var resp rpcErrorResponse
			if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
				t.Fatalf("decoding error envelope: %v", err)
			}
			if resp.Error.Code != rpcCodeSessionNotFound {
				t.Errorf("error code = %d, want %d", resp.Error.Code, rpcCodeSessionNotFound)
			}
		})
	}
}

func TestMalformedBody(t *testing.T) {
	h, _, _ := newTestHandler(t)

	rec := postMessage(h, "{not json", "", "")
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}

	rec = postMessage(h, `{"jsonrpc":"2.0","id":1}`, "", "")
	if rec.Code != http.StatusBadRequest {
		t.Errorf("missing method: status = %d, want 400", rec.Code)
	}
}

func TestTerminateSession(t *testing.T) {
	h, registry, _ := newTestHandler(t)
	id := initSession(t, h)

	req := httptest.NewRequest(http.MethodDelete, "/mcp", nil)
	req.Header.Set(SessionIDHeader, id)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("DELETE status = %d, want 200", rec.Code)
	}
	if registry.Len() != 0 {
		t.Errorf("registry.Len() = %d, want 0 after terminate", registry.Len())
	}

	// A request on the terminated session is an unknown session.
	body := `{"jsonrpc":"2.0","id":3,"method":"tools/call","params":{"name":"echo","arguments":{"text":"hi"}}}`
	if got := postMessage(h, body, id, "valid-token"); got.Code != http.StatusNotFound {
		t.Errorf("post-terminate status = %d, want 404", got.Code)
	}

	// Terminating again, or an unknown id, still succeeds.
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Errorf("repeat DELETE status = %d, want 200", rec.Code)
	}
}

func TestTerminateRequiresHeader(t *testing.T) {
	h, _, _ := newTestHandler(t)

	req := httptest.NewRequest(http.MethodDelete, "/mcp", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

func TestEventStreamDeliversNotifications(t *testing.T) {
	h, registry, _ := newTestHandler(t)
	id := initSession(t, h)

	sess, _ := registry.Get(id)

	req := httptest.NewRequest(http.MethodGet, "/mcp", nil)
	req.Header.Set(SessionIDHeader, id)
	rec := httptest.NewRecorder()

	streamDone := make(chan struct{})
	go func() {
		defer close(streamDone)
		h.ServeHTTP(rec, req)
	}()

	notification := mcp.JSONRPCNotification{JSONRPC: "2.0"}
	notification.Method = "notifications/tools/list_changed"
	sess.NotificationChannel() <- notification

	// Give the stream a moment to flush, then close the session to end it.
	time.Sleep(50 * time.Millisecond)
	registry.Terminate(context.Background(), id)

	select {
	case <-streamDone:
	case <-time.After(time.Second):
		t.Fatal("stream did not close after session termination")
	}

	body := rec.Body.String()
	if !strings.Contains(body, "event: message") {
		t.Errorf("stream body missing SSE event framing: %q", body)
	}
	if !strings.Contains(body, "notifications/tools/list_changed") {
		t.Errorf("stream body missing notification payload: %q", body)
	}
}

func TestEventStreamUnknownSession(t *testing.T) {
	h, _, _ := newTestHandler(t)

	req := httptest.NewRequest(http.MethodGet, "/mcp", nil)
	req.Header.Set(SessionIDHeader, "bogus")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}

	// Without the header at all the request is malformed, not unknown.
	req = httptest.NewRequest(http.MethodGet, "/mcp", nil)
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Errorf("missing header status = %d, want 400", rec.Code)
	}
}

func TestRegistrySweepReclaimsIdleSessions(t *testing.T) {
	engine := newTestEngine()
	registry := NewRegistry(engine, time.Minute, nil, nil)
	t.Cleanup(registry.Stop)

	sess, err := registry.Create(context.Background())
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	// Backdate the session past the idle timeout.
	sess.lastActive.Store(time.Now().Add(-2 * time.Minute).UnixNano())
	registry.sweep()

	if registry.Len() != 0 {
		t.Errorf("registry.Len() = %d, want 0 after sweep", registry.Len())
	}

	select {
	case <-sess.Done():
	default:
		t.Error("swept session should be closed")
	}
}

func TestConcurrentSessionCreation(t *testing.T) {
	engine := newTestEngine()
	registry := NewRegistry(engine, 0, nil, nil)
	t.Cleanup(registry.Stop)

	const n = 32
	ids := make(chan string, n)
	for i := 0; i < n; i++ {
		go func() {
			sess, err := registry.Create(context.Background())
			if err != nil {
				ids <- fmt.Sprintf("error: %v", err)
				return
			}
			ids <- sess.SessionID()
		}()
	}

	seen := make(map[string]bool, n)
	for i := 0; i < n; i++ {
		id := <-ids
		if seen[id] {
			t.Fatalf("duplicate session id %q", id)
		}
		seen[id] = true
	}
	if registry.Len() != n {
		t.Errorf("registry.Len() = %d, want %d", registry.Len(), n)
	}
}
