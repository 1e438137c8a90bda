package security

import (
	"log/slog"
	"sync"
	"time"
)

// failedAttempts tracks consecutive password failures from a single IP.
type failedAttempts struct {
	count       int
	lockedUntil time.Time
}

// Lockout throttles password guessing against the consent approval endpoint.
// It keeps a per-IP counter of consecutive failed submissions and imposes a
// timed lockout once the threshold is reached. All state is volatile and
// cleared by process restart.
type Lockout struct {
	mu        sync.Mutex
	attempts  map[string]*failedAttempts
	threshold int
	duration  time.Duration
	logger    *slog.Logger

	// now is replaceable for tests.
	now func() time.Time
}

// NewLockout creates a lockout guard. threshold is the number of consecutive
// failures that triggers a lockout, duration is how long the lockout lasts.
func NewLockout(threshold int, duration time.Duration, logger *slog.Logger) *Lockout {
	if logger == nil {
		logger = slog.Default()
	}
	return &Lockout{
		attempts:  make(map[string]*failedAttempts),
		threshold: threshold,
		duration:  duration,
		logger:    logger,
		now:       time.Now,
	}
}

// IsLockedOut reports whether the IP is currently locked out and, if so, the
// remaining lockout window. An elapsed lockout purges the record so the IP
// starts from a clean slate after the cool-down.
func (l *Lockout) IsLockedOut(ip string) (time.Duration, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	rec, ok := l.attempts[ip]
	if !ok || rec.lockedUntil.IsZero() {
		return 0, false
	}

	remaining := rec.lockedUntil.Sub(l.now())
	if remaining <= 0 {
		delete(l.attempts, ip)
		return 0, false
	}
	return remaining, true
}

// RecordFailure registers a failed password submission from the IP. It
// returns the number of attempts remaining before lockout; zero means the
// lockout was just triggered (or is already active).
func (l *Lockout) RecordFailure(ip string) int {
	l.mu.Lock()
	defer l.mu.Unlock()

	rec, ok := l.attempts[ip]
	if !ok {
		rec = &failedAttempts{}
		l.attempts[ip] = rec
	}

	rec.count++
	remaining := l.threshold - rec.count
	if remaining <= 0 {
		rec.lockedUntil = l.now().Add(l.duration)
		l.logger.Warn("IP locked out after repeated password failures",
			"ip", ip,
			"failures", rec.count,
			"lockout", l.duration)
		return 0
	}

	l.logger.Warn("Failed password attempt",
		"ip", ip,
		"failures", rec.count,
		"attempts_remaining", remaining)
	return remaining
}

// ClearOnSuccess wipes the failure history for an IP after a successful
// password submission.
func (l *Lockout) ClearOnSuccess(ip string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.attempts, ip)
}
