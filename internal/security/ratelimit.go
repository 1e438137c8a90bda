package security

import (
	"log/slog"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// limiterEntry pairs a token bucket with its last access time so idle
// buckets can be reclaimed.
type limiterEntry struct {
	limiter    *rate.Limiter
	lastAccess time.Time
}

// RateLimiter provides per-IP request rate limiting using a token bucket per
// identifier. Idle buckets are swept periodically to bound memory use.
type RateLimiter struct {
	mu       sync.Mutex
	limiters map[string]*limiterEntry
	rate     rate.Limit
	burst    int
	logger   *slog.Logger
	stop     chan struct{}
	stopOnce sync.Once
}

// NewRateLimiter creates a rate limiter allowing requestsPerSecond sustained
// requests with the given burst per identifier.
func NewRateLimiter(requestsPerSecond, burst int, logger *slog.Logger) *RateLimiter {
	if logger == nil {
		logger = slog.Default()
	}

	rl := &RateLimiter{
		limiters: make(map[string]*limiterEntry),
		rate:     rate.Limit(requestsPerSecond),
		burst:    burst,
		logger:   logger,
		stop:     make(chan struct{}),
	}

	go rl.sweepLoop(5 * time.Minute)
	return rl
}

// Allow reports whether a request from the identifier is within its budget.
func (rl *RateLimiter) Allow(identifier string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	entry, ok := rl.limiters[identifier]
	if !ok {
		entry = &limiterEntry{limiter: rate.NewLimiter(rl.rate, rl.burst)}
		rl.limiters[identifier] = entry
	}
	entry.lastAccess = time.Now()
	return entry.limiter.Allow()
}

func (rl *RateLimiter) sweepLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			rl.sweep(30 * time.Minute)
		case <-rl.stop:
			return
		}
	}
}

// sweep removes buckets that have not been touched within maxIdle.
func (rl *RateLimiter) sweep(maxIdle time.Duration) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := time.Now()
	removed := 0
	for id, entry := range rl.limiters {
		if now.Sub(entry.lastAccess) > maxIdle {
			delete(rl.limiters, id)
			removed++
		}
	}

	if removed > 0 {
		rl.logger.Debug("Rate limiter sweep completed",
			"removed", removed,
			"remaining", len(rl.limiters))
	}
}

// Stop terminates the background sweep goroutine.
func (rl *RateLimiter) Stop() {
	rl.stopOnce.Do(func() { close(rl.stop) })
}
