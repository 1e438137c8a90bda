package mcpserver

import (
	"net/http"
	"strings"

	"github.com/scribeworks/mcp-scribe/internal/store"
)

// handshakeMethods pass the gate without a bearer token so clients can
// discover capabilities and complete the authorization flow before they hold
// a token. Everything else on POST requires a valid bearer.
var handshakeMethods = map[string]struct{}{
	"initialize":                {},
	"notifications/initialized": {},
	"ping":                      {},
	"tools/list":                {},
	"prompts/list":              {},
	"resources/list":            {},
}

// Gate enforces bearer authentication on the MCP endpoint. Token validity is
// membership in the shared valid-token set.
type Gate struct {
	tokens *store.TokenSet
}

// NewGate creates a request gate over the valid-token set.
func NewGate(tokens *store.TokenSet) *Gate {
	return &Gate{tokens: tokens}
}

// Allow reports whether a POST carrying the given RPC method may proceed.
// GET and DELETE are not gated; stream subscription needs a live session id
// anyway, and termination must work for clients whose token is gone.
func (g *Gate) Allow(r *http.Request, method string) bool {
	if _, open := handshakeMethods[method]; open {
		return true
	}
	return g.tokens.Contains(bearerToken(r))
}

// bearerToken extracts the token from an Authorization: Bearer header. The
// scheme comparison is case insensitive per RFC 6750.
func bearerToken(r *http.Request) string {
	auth := r.Header.Get("Authorization")
	if auth == "" {
		return ""
	}
	parts := strings.SplitN(auth, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}
