package security

import (
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"time"
)

// Auditor handles security event logging. Secrets are never logged; values
// that could identify an operator session are hashed first.
type Auditor struct {
	logger  *slog.Logger
	enabled bool
}

// NewAuditor creates a security auditor. When disabled all logging calls are
// no-ops.
func NewAuditor(logger *slog.Logger, enabled bool) *Auditor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Auditor{logger: logger, enabled: enabled}
}

// Event represents a security audit event.
type Event struct {
	Type      string
	ClientID  string
	IPAddress string
	Details   map[string]any
	Timestamp time.Time
}

// LogEvent logs a security event.
func (a *Auditor) LogEvent(event Event) {
	if a == nil || !a.enabled {
		return
	}

	event.Timestamp = time.Now()
	a.logger.Info("security_audit",
		"event_type", event.Type,
		"client_id", event.ClientID,
		"ip_address", event.IPAddress,
		"details", event.Details,
		"timestamp", event.Timestamp,
	)
}

// LogAuthFailure logs a failed password submission.
func (a *Auditor) LogAuthFailure(clientID, ip, reason string) {
	a.LogEvent(Event{
		Type:      "auth_failure",
		ClientID:  clientID,
		IPAddress: ip,
		Details:   map[string]any{"reason": reason},
	})
}

// LogLockout logs an IP being locked out of the approval endpoint.
func (a *Auditor) LogLockout(ip string, duration time.Duration) {
	a.LogEvent(Event{
		Type:      "lockout",
		IPAddress: ip,
		Details:   map[string]any{"duration": duration.String()},
	})
}

// LogCodeIssued logs issuance of an authorization code.
func (a *Auditor) LogCodeIssued(clientID, ip string) {
	a.LogEvent(Event{
		Type:      "code_issued",
		ClientID:  clientID,
		IPAddress: ip,
	})
}

// LogTokenIssued logs issuance of an access/refresh token pair.
func (a *Auditor) LogTokenIssued(clientID, ip, grantType string) {
	a.LogEvent(Event{
		Type:      "token_issued",
		ClientID:  clientID,
		IPAddress: ip,
		Details:   map[string]any{"grant_type": grantType},
	})
}

// HashForLogging produces a short stable hash of a sensitive value so events
// can be correlated in logs without exposing the value itself.
func HashForLogging(value string) string {
	if value == "" {
		return ""
	}
	sum := sha256.Sum256([]byte(value))
	return hex.EncodeToString(sum[:8])
}
