package mcpserver

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"runtime/debug"
	"strings"

	"github.com/mark3labs/mcp-go/server"

	"github.com/scribeworks/mcp-scribe/internal/instrumentation"
	"github.com/scribeworks/mcp-scribe/internal/oauth"
)

// SessionIDHeader carries the transport session identifier on every request
// and response after initialize.
const SessionIDHeader = "Mcp-Session-Id"

// maxBodyBytes bounds a single JSON-RPC request body.
const maxBodyBytes = 4 << 20

// JSON-RPC error codes
const (
	rpcCodeParseError      = -32700
	rpcCodeInvalidRequest  = -32600
	rpcCodeInternalError   = -32603
	rpcCodeSessionNotFound = -32001
)

// Handler serves the /mcp endpoint: POST for JSON-RPC exchanges, GET for the
// server-to-client event stream, DELETE for session termination.
type Handler struct {
	engine   *server.MCPServer
	registry *Registry
	gate     *Gate
	logger   *slog.Logger
	metrics  *instrumentation.Metrics

	trustProxy bool
}

// NewHandler creates the MCP endpoint handler.
func NewHandler(engine *server.MCPServer, registry *Registry, gate *Gate, trustProxy bool, logger *slog.Logger, inst *instrumentation.Instrumentation) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		engine:     engine,
		registry:   registry,
		gate:       gate,
		logger:     logger,
		metrics:    inst.Metrics(),
		trustProxy: trustProxy,
	}
}

// ServeHTTP dispatches on method. Any panic below becomes a JSON-RPC
// internal error instead of tearing the connection down.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	defer func() {
		if rec := recover(); rec != nil {
			h.logger.Error("Panic in MCP handler",
				"panic", fmt.Sprint(rec),
				"stack", string(debug.Stack()))
			h.writeRPCError(w, http.StatusInternalServerError, nil, rpcCodeInternalError, "internal error")
		}
	}()

	switch r.Method {
	case http.MethodPost:
		h.handlePost(w, r)
	case http.MethodGet:
		h.handleStream(w, r)
	case http.MethodDelete:
		h.handleTerminate(w, r)
	default:
		w.Header().Set("Allow", "POST, GET, DELETE")
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

// rpcProbe is the minimal envelope peek needed for routing: the method
// decides gating and session handling, the id distinguishes requests from
// notifications.
type rpcProbe struct {
	JSONRPC string          `json:"jsonrpc"`
	Method  string          `json:"method"`
	ID      json.RawMessage `json:"id"`
}

func (h *Handler) handlePost(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		h.writeRPCError(w, http.StatusBadRequest, nil, rpcCodeParseError, "failed to read request body")
		return
	}

	var probe rpcProbe
	if err := json.Unmarshal(body, &probe); err != nil {
		h.writeRPCError(w, http.StatusBadRequest, nil, rpcCodeParseError, "request body is not valid JSON")
		return
	}
	if probe.Method == "" {
		h.writeRPCError(w, http.StatusBadRequest, probe.ID, rpcCodeInvalidRequest, "method is required")
		return
	}

	if !h.gate.Allow(r, probe.Method) {
		h.writeUnauthorized(w, r)
		return
	}

	ctx := r.Context()
	sessionID := r.Header.Get(SessionIDHeader)

	var sess *Session
	if probe.Method == "initialize" {
		// A client re-sending initialize with a live session id keeps its
		// binding; otherwise a fresh session is created.
		var ok bool
		if sess, ok = h.registry.Get(sessionID); !ok {
			sess, err = h.registry.Create(ctx)
			if err != nil {
				h.logger.Error("Session creation failed", "error", err)
				h.writeRPCError(w, http.StatusInternalServerError, probe.ID, rpcCodeInternalError, "failed to create session")
				return
			}
		}
	} else {
		var ok bool
		if sess, ok = h.registry.Get(sessionID); !ok {
			h.writeRPCError(w, http.StatusNotFound, probe.ID, rpcCodeSessionNotFound, "session not found")
			return
		}
	}

	w.Header().Set(SessionIDHeader, sess.SessionID())

	ctx = h.engine.WithContext(ctx, sess)
	response := h.engine.HandleMessage(ctx, body)
	if response == nil {
		// Notifications produce no response body.
		w.WriteHeader(http.StatusAccepted)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(response); err != nil {
		h.logger.Error("Failed to write response", "session_id", sess.SessionID(), "error", err)
	}
}

// handleStream serves the server-to-client notification stream as SSE.
func (h *Handler) handleStream(w http.ResponseWriter, r *http.Request) {
	sessionID := r.Header.Get(SessionIDHeader)
	if sessionID == "" {
		h.writeRPCError(w, http.StatusBadRequest, nil, rpcCodeInvalidRequest, "Mcp-Session-Id header is required")
		return
	}

	sess, ok := h.registry.Get(sessionID)
	if !ok {
		h.writeRPCError(w, http.StatusNotFound, nil, rpcCodeSessionNotFound, "session not found")
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "Streaming not supported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set(SessionIDHeader, sess.SessionID())
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	h.logger.Debug("Event stream opened", "session_id", sess.SessionID())

	for {
		select {
		case notification := <-sess.notifications:
			data, err := json.Marshal(notification)
			if err != nil {
				h.logger.Error("Failed to marshal notification", "session_id", sess.SessionID(), "error", err)
				continue
			}
			fmt.Fprintf(w, "event: message\ndata: %s\n\n", data)
			flusher.Flush()
		case <-sess.Done():
			return
		case <-r.Context().Done():
			h.logger.Debug("Event stream closed by client", "session_id", sess.SessionID())
			return
		}
	}
}

// handleTerminate removes the session. Termination is idempotent: repeating
// it, or naming an unknown session, still succeeds.
func (h *Handler) handleTerminate(w http.ResponseWriter, r *http.Request) {
	sessionID := r.Header.Get(SessionIDHeader)
	if sessionID == "" {
		h.writeRPCError(w, http.StatusBadRequest, nil, rpcCodeInvalidRequest, "Mcp-Session-Id header is required")
		return
	}

	h.registry.Terminate(r.Context(), sessionID)
	w.WriteHeader(http.StatusOK)
}

// writeUnauthorized emits the RFC 6750 challenge pointing clients at the
// protected resource metadata, which is how agent clients find the
// authorization server.
func (h *Handler) writeUnauthorized(w http.ResponseWriter, r *http.Request) {
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	if h.trustProxy {
		if proto := r.Header.Get("X-Forwarded-Proto"); proto != "" {
			scheme = strings.TrimSpace(strings.Split(proto, ",")[0])
		}
	}

	w.Header().Set("WWW-Authenticate",
		fmt.Sprintf("Bearer resource_metadata=%q", scheme+"://"+r.Host+oauth.MetadataPathProtectedResource))
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	_ = json.NewEncoder(w).Encode(oauth.ErrorResponse{
		Error:            oauth.ErrorCodeInvalidToken,
		ErrorDescription: "Valid bearer token required",
	})
}

type rpcErrorBody struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type rpcErrorResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Error   rpcErrorBody    `json:"error"`
}

// writeRPCError writes a JSON-RPC error envelope with the given HTTP status.
func (h *Handler) writeRPCError(w http.ResponseWriter, status int, id json.RawMessage, code int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(rpcErrorResponse{
		JSONRPC: "2.0",
		ID:      id,
		Error:   rpcErrorBody{Code: code, Message: message},
	})
}
