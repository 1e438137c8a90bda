// Package mcpserver implements the streamable HTTP transport for the MCP
// endpoint: the session registry keyed by Mcp-Session-Id, the request gate
// that enforces bearer authentication past the handshake, and the POST /
// GET-SSE / DELETE dispatch.
package mcpserver

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
)

// notificationBuffer bounds the per-session queue of server-to-client
// notifications. Sends drop when the subscriber cannot keep up.
const notificationBuffer = 64

// Session is one transport-level client binding. It implements
// server.ClientSession so protocol state (initialization, notifications) is
// tracked by the protocol engine per session.
type Session struct {
	id            string
	notifications chan mcp.JSONRPCNotification
	initialized   atomic.Bool
	createdAt     time.Time
	lastActive    atomic.Int64

	done      chan struct{}
	closeOnce sync.Once
}

func newSession(id string) *Session {
	s := &Session{
		id:            id,
		notifications: make(chan mcp.JSONRPCNotification, notificationBuffer),
		createdAt:     time.Now(),
		done:          make(chan struct{}),
	}
	s.Touch()
	return s
}

// SessionID returns the transport session identifier.
func (s *Session) SessionID() string { return s.id }

// NotificationChannel returns the channel the protocol engine pushes
// notifications into.
func (s *Session) NotificationChannel() chan<- mcp.JSONRPCNotification {
	return s.notifications
}

// Initialize marks the session as having completed the initialize exchange.
func (s *Session) Initialize() { s.initialized.Store(true) }

// Initialized reports whether the initialize exchange has completed.
func (s *Session) Initialized() bool { return s.initialized.Load() }

// Touch records activity for idle accounting.
func (s *Session) Touch() { s.lastActive.Store(time.Now().UnixNano()) }

// LastActive returns the time of the most recent request on this session.
func (s *Session) LastActive() time.Time {
	return time.Unix(0, s.lastActive.Load())
}

// Done is closed when the session is terminated. Open event streams use it
// to unblock.
func (s *Session) Done() <-chan struct{} { return s.done }

// close marks the session terminated. Idempotent.
func (s *Session) close() {
	s.closeOnce.Do(func() { close(s.done) })
}
