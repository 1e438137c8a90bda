package security

import (
	"log/slog"
	"testing"
	"time"
)

func testLogger() *slog.Logger {
	return slog.Default()
}

func TestLockout_ThresholdTriggersLockout(t *testing.T) {
	guard := NewLockout(5, 10*time.Minute, testLogger())
	ip := "203.0.113.7"

	// First four failures count down the remaining attempts.
	for i, want := range []int{4, 3, 2, 1} {
		got := guard.RecordFailure(ip)
		if got != want {
			t.Errorf("failure %d: attempts remaining = %d, want %d", i+1, got, want)
		}
		if _, locked := guard.IsLockedOut(ip); locked {
			t.Errorf("failure %d: locked out before threshold", i+1)
		}
	}

	// Fifth failure triggers the lockout.
	if got := guard.RecordFailure(ip); got != 0 {
		t.Errorf("fifth failure: attempts remaining = %d, want 0", got)
	}

	remaining, locked := guard.IsLockedOut(ip)
	if !locked {
		t.Fatal("IsLockedOut() = false after threshold reached")
	}
	if remaining <= 0 || remaining > 10*time.Minute {
		t.Errorf("remaining lockout = %v, want within (0, 10m]", remaining)
	}
}

func TestLockout_ElapsedLockoutPurgesRecord(t *testing.T) {
	guard := NewLockout(5, 10*time.Minute, testLogger())
	ip := "203.0.113.8"

	for i := 0; i < 5; i++ {
		guard.RecordFailure(ip)
	}
	if _, locked := guard.IsLockedOut(ip); !locked {
		t.Fatal("expected lockout after five failures")
	}

	// Advance the clock past the lockout window.
	guard.now = func() time.Time { return time.Now().Add(11 * time.Minute) }

	if _, locked := guard.IsLockedOut(ip); locked {
		t.Error("IsLockedOut() = true after window elapsed")
	}

	// The record was purged, so the counter starts over.
	guard.now = time.Now
	if got := guard.RecordFailure(ip); got != 4 {
		t.Errorf("attempts remaining after purge = %d, want 4", got)
	}
}

func TestLockout_ClearOnSuccessResetsCounter(t *testing.T) {
	guard := NewLockout(5, 10*time.Minute, testLogger())
	ip := "203.0.113.9"

	guard.RecordFailure(ip)
	guard.RecordFailure(ip)
	guard.ClearOnSuccess(ip)

	if got := guard.RecordFailure(ip); got != 4 {
		t.Errorf("attempts remaining after clear = %d, want 4", got)
	}
}

func TestLockout_IndependentPerIP(t *testing.T) {
	guard := NewLockout(5, 10*time.Minute, testLogger())

	for i := 0; i < 5; i++ {
		guard.RecordFailure("203.0.113.10")
	}

	if _, locked := guard.IsLockedOut("203.0.113.11"); locked {
		t.Error("unrelated IP reported locked out")
	}
}
