package store

import (
	"errors"
	"sync"
	"time"
)

var (
	// ErrCodeNotFound indicates the authorization code does not exist or was
	// already redeemed.
	ErrCodeNotFound = errors.New("authorization code not found")

	// ErrCodeExpired indicates the authorization code exists but its expiry
	// has passed. The code is purged as a side effect of the lookup.
	ErrCodeExpired = errors.New("authorization code expired")
)

// AuthorizationCode is an issued, single-use authorization code bound to the
// PKCE challenge captured at consent time.
type AuthorizationCode struct {
	Code                string
	ClientID            string
	RedirectURI         string
	CodeChallenge       string
	CodeChallengeMethod string
	CreatedAt           time.Time
	ExpiresAt           time.Time
}

// CodeStore holds outstanding authorization codes. Codes are removed on
// redemption (single use) and swept periodically once expired.
type CodeStore struct {
	mu       sync.Mutex
	codes    map[string]*AuthorizationCode
	stop     chan struct{}
	stopOnce sync.Once
}

// NewCodeStore creates a code store and starts its background sweep.
func NewCodeStore(sweepInterval time.Duration) *CodeStore {
	if sweepInterval <= 0 {
		sweepInterval = time.Minute
	}

	s := &CodeStore{
		codes: make(map[string]*AuthorizationCode),
		stop:  make(chan struct{}),
	}
	go s.sweepLoop(sweepInterval)
	return s
}

// Put stores an authorization code.
func (s *CodeStore) Put(code *AuthorizationCode) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.codes[code.Code] = code
}

// Consume atomically looks up and removes an authorization code, enforcing
// single use. Expired codes are purged and reported as ErrCodeExpired even
// when every other field would have matched.
func (s *CodeStore) Consume(code string) (*AuthorizationCode, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.codes[code]
	if !ok {
		return nil, ErrCodeNotFound
	}

	delete(s.codes, code)
	if time.Now().After(rec.ExpiresAt) {
		return nil, ErrCodeExpired
	}
	return rec, nil
}

// Len returns the number of outstanding codes.
func (s *CodeStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.codes)
}

func (s *CodeStore) sweepLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.sweep()
		case <-s.stop:
			return
		}
	}
}

// sweep removes codes that expired without being redeemed.
func (s *CodeStore) sweep() {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	for code, rec := range s.codes {
		if now.After(rec.ExpiresAt) {
			delete(s.codes, code)
		}
	}
}

// Stop terminates the background sweep goroutine.
func (s *CodeStore) Stop() {
	s.stopOnce.Do(func() { close(s.stop) })
}
