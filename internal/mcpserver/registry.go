package mcpserver

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/mark3labs/mcp-go/server"

	"github.com/scribeworks/mcp-scribe/internal/instrumentation"
)

// DefaultIdleTimeout is how long a session may sit without a request before
// the sweep reclaims it. Zero disables idle reclamation.
const DefaultIdleTimeout = 30 * time.Minute

// Registry owns the live transport sessions. Creation is an atomic
// check-and-insert under one lock, so two concurrent initialize requests can
// never bind the same identifier.
type Registry struct {
	mu       sync.Mutex
	sessions map[string]*Session

	engine      *server.MCPServer
	logger      *slog.Logger
	metrics     *instrumentation.Metrics
	idleTimeout time.Duration

	stop     chan struct{}
	stopOnce sync.Once
}

// NewRegistry creates a session registry bound to the protocol engine and
// starts the idle sweep when idleTimeout is positive.
func NewRegistry(engine *server.MCPServer, idleTimeout time.Duration, logger *slog.Logger, inst *instrumentation.Instrumentation) *Registry {
	if logger == nil {
		logger = slog.Default()
	}

	r := &Registry{
		sessions:    make(map[string]*Session),
		engine:      engine,
		logger:      logger,
		metrics:     inst.Metrics(),
		idleTimeout: idleTimeout,
		stop:        make(chan struct{}),
	}

	if idleTimeout > 0 {
		go r.sweepLoop(time.Minute)
	}
	return r
}

// Create mints a fresh session identifier, inserts the session and registers
// it with the protocol engine.
func (r *Registry) Create(ctx context.Context) (*Session, error) {
	r.mu.Lock()
	var sess *Session
	for {
		id := uuid.NewString()
		if _, exists := r.sessions[id]; exists {
			continue
		}
		sess = newSession(id)
		r.sessions[id] = sess
		break
	}
	r.mu.Unlock()

	if err := r.engine.RegisterSession(ctx, sess); err != nil {
		r.mu.Lock()
		delete(r.sessions, sess.id)
		r.mu.Unlock()
		return nil, fmt.Errorf("registering session: %w", err)
	}

	r.metrics.RecordSessionOpened(ctx)
	r.logger.Info("Session created", "session_id", sess.id)
	return sess, nil
}

// Get looks up a session and records activity on it.
func (r *Registry) Get(id string) (*Session, bool) {
	if id == "" {
		return nil, false
	}
	r.mu.Lock()
	sess, ok := r.sessions[id]
	r.mu.Unlock()
	if ok {
		sess.Touch()
	}
	return sess, ok
}

// Terminate removes a session and unregisters it from the protocol engine.
// Terminating an unknown identifier is not an error; the reported bool only
// says whether anything was removed.
func (r *Registry) Terminate(ctx context.Context, id string) bool {
	r.mu.Lock()
	sess, ok := r.sessions[id]
	if ok {
		delete(r.sessions, id)
	}
	r.mu.Unlock()

	if !ok {
		return false
	}

	sess.close()
	r.engine.UnregisterSession(ctx, id)
	r.metrics.RecordSessionClosed(ctx)
	r.logger.Info("Session terminated", "session_id", id)
	return true
}

// Len returns the number of live sessions.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

func (r *Registry) sweepLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			r.sweep()
		case <-r.stop:
			return
		}
	}
}

// sweep terminates sessions idle past the timeout.
func (r *Registry) sweep() {
	cutoff := time.Now().Add(-r.idleTimeout)

	r.mu.Lock()
	var idle []string
	for id, sess := range r.sessions {
		if sess.LastActive().Before(cutoff) {
			idle = append(idle, id)
		}
	}
	r.mu.Unlock()

	for _, id := range idle {
		r.logger.Info("Reclaiming idle session", "session_id", id)
		r.Terminate(context.Background(), id)
	}
}

// Stop terminates the sweep goroutine and closes every live session.
func (r *Registry) Stop() {
	r.stopOnce.Do(func() { close(r.stop) })

	r.mu.Lock()
	ids := make([]string, 0, len(r.sessions))
	for id := range r.sessions {
		ids = append(ids, id)
	}
	r.mu.Unlock()

	for _, id := range ids {
		r.Terminate(context.Background(), id)
	}
}
