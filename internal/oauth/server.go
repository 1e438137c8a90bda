// Package oauth implements the embedded OAuth 2.1 authorization server that
// gates the MCP endpoint: discovery metadata, a single-tenant dynamic
// registration shim, the password consent flow with per-IP lockout, and
// authorization-code / refresh-token grants with PKCE.
package oauth

import (
	"context"
	"crypto/subtle"
	"errors"
	"log/slog"
	"time"

	"golang.org/x/crypto/bcrypt"
	"golang.org/x/oauth2"

	"github.com/scribeworks/mcp-scribe/internal/instrumentation"
	"github.com/scribeworks/mcp-scribe/internal/security"
	"github.com/scribeworks/mcp-scribe/internal/store"
)

// Server implements the authorization server's business logic. HTTP concerns
// live in Handler; Server owns code issuance, grant validation and token
// minting against the shared stores.
type Server struct {
	config  *Config
	tokens  *store.TokenSet
	codes   *store.CodeStore
	guard   *security.Lockout
	auditor *security.Auditor
	metrics *instrumentation.Metrics
	logger  *slog.Logger
}

// NewServer creates an authorization server. The token set is shared with
// the request gate protecting the MCP endpoint.
func NewServer(config *Config, tokens *store.TokenSet, codes *store.CodeStore, inst *instrumentation.Instrumentation) (*Server, error) {
	if config == nil {
		return nil, errors.New("config is required")
	}
	config.applyDefaults()
	if err := config.Validate(); err != nil {
		return nil, err
	}

	s := &Server{
		config:  config,
		tokens:  tokens,
		codes:   codes,
		guard:   security.NewLockout(config.LockoutThreshold, config.LockoutDuration, config.Logger),
		auditor: security.NewAuditor(config.Logger, config.EnableAuditLogging),
		logger:  config.Logger,
	}
	if inst != nil {
		s.metrics = inst.Metrics()
	}
	return s, nil
}

// Config returns the server configuration.
func (s *Server) Config() *Config { return s.config }

// Guard returns the lockout guard for the approval endpoint.
func (s *Server) Guard() *security.Lockout { return s.guard }

// Tokens returns the shared valid-token set.
func (s *Server) Tokens() *store.TokenSet { return s.tokens }

// VerifyPassword checks the operator's consent password against the stored
// bcrypt hash. bcrypt is deliberately slow and compares in constant time.
func (s *Server) VerifyPassword(password string) error {
	return bcrypt.CompareHashAndPassword(s.config.PasswordHash, []byte(password))
}

// ValidateAuthorizeRequest checks the query parameters of an authorization
// request. redirect_uri and code_challenge must both be present; the client
// must be the provisioned one.
func (s *Server) ValidateAuthorizeRequest(responseType, clientID, redirectURI, codeChallenge string) error {
	if responseType != "code" {
		return ErrInvalidRequest("response_type must be \"code\"")
	}
	if clientID != s.config.ClientID {
		return ErrInvalidClient("unknown client_id")
	}
	if redirectURI == "" {
		return ErrInvalidRequest("redirect_uri is required")
	}
	if codeChallenge == "" {
		return ErrInvalidRequest("code_challenge is required")
	}
	return nil
}

// IssueCode mints a fresh unguessable authorization code bound to the PKCE
// challenge, redirect URI and client, expiring after CodeTTL.
func (s *Server) IssueCode(clientID, redirectURI, codeChallenge, codeChallengeMethod, clientIP string) string {
	if codeChallengeMethod == "" {
		codeChallengeMethod = PKCEMethodS256
	}

	now := time.Now()
	code := generateRandomToken()
	s.codes.Put(&store.AuthorizationCode{
		Code:                code,
		ClientID:            clientID,
		RedirectURI:         redirectURI,
		CodeChallenge:       codeChallenge,
		CodeChallengeMethod: codeChallengeMethod,
		CreatedAt:           now,
		ExpiresAt:           now.Add(s.config.CodeTTL),
	})

	s.auditor.LogCodeIssued(clientID, clientIP)
	return code
}

// ExchangeCode redeems an authorization code for a token pair. The code is
// deleted on lookup whether or not the exchange succeeds, enforcing single
// use; PKCE and client credentials are verified before minting.
func (s *Server) ExchangeCode(ctx context.Context, code, clientID, clientSecret, codeVerifier, clientIP string) (*TokenResponse, error) {
	rec, err := s.codes.Consume(code)
	if err != nil {
		if errors.Is(err, store.ErrCodeExpired) {
			return nil, ErrInvalidGrant("authorization code expired")
		}
		return nil, ErrInvalidGrant("authorization code is invalid")
	}

	if clientID != rec.ClientID {
		s.logger.Warn("Token exchange client mismatch", "ip", clientIP)
		return nil, ErrInvalidGrant("client_id does not match authorization code")
	}
	if clientSecret != "" && subtle.ConstantTimeCompare([]byte(clientSecret), []byte(s.config.ClientSecret)) != 1 {
		s.logger.Warn("Token exchange with wrong client secret", "client_id", clientID, "ip", clientIP)
		return nil, ErrInvalidClient("client authentication failed")
	}

	if err := VerifyPKCE(rec.CodeChallenge, rec.CodeChallengeMethod, codeVerifier); err != nil {
		s.logger.Warn("PKCE verification failed", "client_id", clientID, "ip", clientIP, "error", err)
		return nil, ErrInvalidGrant(err.Error())
	}

	resp := s.mintTokenPair()
	s.auditor.LogTokenIssued(clientID, clientIP, "authorization_code")
	s.metrics.RecordTokenIssued(ctx, "authorization_code")
	s.logger.Info("Authorization code exchanged", "client_id", clientID, "ip", clientIP)
	return resp, nil
}

// Refresh redeems a refresh token for a fresh token pair. Validity is
// membership in the valid-token set; superseded tokens stay valid until the
// process restarts.
func (s *Server) Refresh(ctx context.Context, refreshToken, clientIP string) (*TokenResponse, error) {
	if !s.tokens.Contains(refreshToken) {
		s.logger.Warn("Refresh with unknown token", "ip", clientIP)
		return nil, ErrInvalidGrant("refresh token is invalid")
	}

	resp := s.mintTokenPair()
	s.auditor.LogTokenIssued(s.config.ClientID, clientIP, "refresh_token")
	s.metrics.RecordTokenIssued(ctx, "refresh_token")
	return resp, nil
}

// mintTokenPair creates a new access+refresh pair and inserts both into the
// valid-token set.
func (s *Server) mintTokenPair() *TokenResponse {
	access := generateRandomToken()
	refresh := generateRandomToken()
	s.tokens.Add(access, refresh)

	return &TokenResponse{
		AccessToken:  access,
		TokenType:    "Bearer",
		ExpiresIn:    int64(s.config.TokenTTL.Seconds()),
		RefreshToken: refresh,
		Scope:        s.config.Scope,
	}
}

// generateRandomToken generates a cryptographically secure random token.
// Uses the same generator as PKCE verifiers for consistency.
func generateRandomToken() string {
	return oauth2.GenerateVerifier()
}
