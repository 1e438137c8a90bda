// Package store holds the server's volatile state: the valid-token set and
// the authorization-code store. Both are memory-resident on purpose; a
// process restart invalidates every outstanding credential.
//
// Each store hides its map behind a narrow interface and guards it with a
// mutex, so a shared external backend could replace either one later without
// touching call sites.
package store

import "sync"

// TokenSet is the set of currently valid access and refresh tokens. A token
// is valid solely by membership; no per-token attributes are tracked.
type TokenSet struct {
	mu     sync.RWMutex
	tokens map[string]struct{}
}

// NewTokenSet creates an empty token set.
func NewTokenSet() *TokenSet {
	return &TokenSet{tokens: make(map[string]struct{})}
}

// Add inserts one or more tokens into the valid set.
func (s *TokenSet) Add(tokens ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, t := range tokens {
		if t == "" {
			continue
		}
		s.tokens[t] = struct{}{}
	}
}

// Contains reports whether the token is currently valid.
func (s *TokenSet) Contains(token string) bool {
	if token == "" {
		return false
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.tokens[token]
	return ok
}

// Len returns the number of valid tokens.
func (s *TokenSet) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.tokens)
}
