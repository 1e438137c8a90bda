package oauth

import (
	"context"
	"errors"
	"testing"
	"time"

	"golang.org/x/crypto/bcrypt"
	"golang.org/x/oauth2"

	"github.com/scribeworks/mcp-scribe/internal/store"
)

const testPassword = "correct horse battery staple"

func newTestServer(t *testing.T) *Server {
	t.Helper()

	hash, err := bcrypt.GenerateFromPassword([]byte(testPassword), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("bcrypt.GenerateFromPassword() error = %v", err)
	}

	codes := store.NewCodeStore(time.Minute)
	t.Cleanup(codes.Stop)

	s, err := NewServer(&Config{
		ClientID:     "test-client",
		ClientSecret: "test-secret",
		PasswordHash: hash,
	}, store.NewTokenSet(), codes, nil)
	if err != nil {
		t.Fatalf("NewServer() error = %v", err)
	}
	return s
}

func TestNewServerRequiresConfig(t *testing.T) {
	if _, err := NewServer(nil, store.NewTokenSet(), nil, nil); err == nil {
		t.Error("NewServer(nil) should fail")
	}

	if _, err := NewServer(&Config{ClientID: "c"}, store.NewTokenSet(), nil, nil); err == nil {
		t.Error("NewServer() without password hash should fail")
	}
}

func TestVerifyPassword(t *testing.T) {
	s := newTestServer(t)

	if err := s.VerifyPassword(testPassword); err != nil {
		t.Errorf("VerifyPassword() error = %v, want nil", err)
	}
	if err := s.VerifyPassword("wrong"); err == nil {
		t.Error("VerifyPassword() with wrong password should fail")
	}
}

func TestValidateAuthorizeRequest(t *testing.T) {
	s := newTestServer(t)

	tests := []struct {
		name          string
		responseType  string
		clientID      string
		redirectURI   string
		codeChallenge string
		wantErr       bool
	}{
		{"valid", "code", "test-client", "http://localhost:8090/cb", "challenge", false},
		{"wrong response type", "token", "test-client", "http://localhost:8090/cb", "challenge", true},
		{"unknown client", "code", "other", "http://localhost:8090/cb", "challenge", true},
		{"missing redirect", "code", "test-client", "", "challenge", true},
		{"missing challenge", "code", "test-client", "http://localhost:8090/cb", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := s.ValidateAuthorizeRequest(tt.responseType, tt.clientID, tt.redirectURI, tt.codeChallenge)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateAuthorizeRequest() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestExchangeCode(t *testing.T) {
	s := newTestServer(t)
	ctx := context.Background()

	verifier := oauth2.GenerateVerifier()
	challenge := oauth2.S256ChallengeFromVerifier(verifier)
	code := s.IssueCode("test-client", "http://localhost:8090/cb", challenge, PKCEMethodS256, "127.0.0.1")

	resp, err := s.ExchangeCode(ctx, code, "test-client", "test-secret", verifier, "127.0.0.1")
	if err != nil {
		t.Fatalf("ExchangeCode() error = %v", err)
	}
	if resp.TokenType != "Bearer" {
		t.Errorf("TokenType = %q, want Bearer", resp.TokenType)
	}
	if resp.AccessToken == "" || resp.RefreshToken == "" {
		t.Error("ExchangeCode() returned empty tokens")
	}
	if resp.ExpiresIn != int64(DefaultTokenTTL.Seconds()) {
		t.Errorf("ExpiresIn = %d, want %d", resp.ExpiresIn, int64(DefaultTokenTTL.Seconds()))
	}
	if !s.tokens.Contains(resp.AccessToken) || !s.tokens.Contains(resp.RefreshToken) {
		t.Error("minted tokens should be in the valid set")
	}

	// Codes are single use: the second exchange must fail even with the same
	// valid verifier.
	if _, err := s.ExchangeCode(ctx, code, "test-client", "test-secret", verifier, "127.0.0.1"); err == nil {
		t.Error("second exchange of the same code should fail")
	}
}

func TestExchangeCodeWrongVerifierBurnsCode(t *testing.T) {
	s := newTestServer(t)
	ctx := context.Background()

	verifier := oauth2.GenerateVerifier()
	challenge := oauth2.S256ChallengeFromVerifier(verifier)
	code := s.IssueCode("test-client", "http://localhost:8090/cb", challenge, PKCEMethodS256, "127.0.0.1")

	if _, err := s.ExchangeCode(ctx, code, "test-client", "", oauth2.GenerateVerifier(), "127.0.0.1"); err == nil {
		t.Fatal("exchange with wrong verifier should fail")
	}

	// The failed attempt consumed the code; a retry with the correct
	// verifier must not succeed.
	if _, err := s.ExchangeCode(ctx, code, "test-client", "", verifier, "127.0.0.1"); err == nil {
		t.Error("code should be consumed by the failed exchange")
	}
}

func TestExchangeCodeClientMismatch(t *testing.T) {
	s := newTestServer(t)

	verifier := oauth2.GenerateVerifier()
	challenge := oauth2.S256ChallengeFromVerifier(verifier)
	code := s.IssueCode("test-client", "http://localhost:8090/cb", challenge, PKCEMethodS256, "127.0.0.1")

	_, err := s.ExchangeCode(context.Background(), code, "other-client", "", verifier, "127.0.0.1")
	var oauthErr *Error
	if !errors.As(err, &oauthErr) || oauthErr.Code != ErrorCodeInvalidGrant {
		t.Errorf("ExchangeCode() error = %v, want invalid_grant", err)
	}
}

func TestExchangeCodeWrongSecret(t *testing.T) {
	s := newTestServer(t)

	verifier := oauth2.GenerateVerifier()
	challenge := oauth2.S256ChallengeFromVerifier(verifier)
	code := s.IssueCode("test-client", "http://localhost:8090/cb", challenge, PKCEMethodS256, "127.0.0.1")

	_, err := s.ExchangeCode(context.Background(), code, "test-client", "wrong-secret", verifier, "127.0.0.1")
	var oauthErr *Error
	if !errors.As(err, &oauthErr) || oauthErr.Code != ErrorCodeInvalidClient {
		t.Errorf("ExchangeCode() error = %v, want invalid_client", err)
	}
}

func TestExchangeCodePlainMethod(t *testing.T) {
	s := newTestServer(t)

	verifier := oauth2.GenerateVerifier()
	code := s.IssueCode("test-client", "http://localhost:8090/cb", verifier, PKCEMethodPlain, "127.0.0.1")

	if _, err := s.ExchangeCode(context.Background(), code, "test-client", "", verifier, "127.0.0.1"); err != nil {
		t.Errorf("ExchangeCode() with plain method error = %v", err)
	}
}

func TestRefresh(t *testing.T) {
	s := newTestServer(t)
	ctx := context.Background()

	first := s.mintTokenPair()

	resp, err := s.Refresh(ctx, first.RefreshToken, "127.0.0.1")
	if err != nil {
		t.Fatalf("Refresh() error = %v", err)
	}
	if resp.AccessToken == first.AccessToken {
		t.Error("Refresh() should mint a fresh access token")
	}

	// No rotation: the original pair stays valid after the refresh.
	if !s.tokens.Contains(first.AccessToken) || !s.tokens.Contains(first.RefreshToken) {
		t.Error("previous tokens should remain valid after refresh")
	}

	if _, err := s.Refresh(ctx, "unknown-token", "127.0.0.1"); err == nil {
		t.Error("Refresh() with unknown token should fail")
	}
}

func TestAccessTokenAcceptedAsRefreshToken(t *testing.T) {
	// Validity is plain set membership, so the access token of a pair
	// redeems at the refresh grant too.
	s := newTestServer(t)
	pair := s.mintTokenPair()

	if _, err := s.Refresh(context.Background(), pair.AccessToken, "127.0.0.1"); err != nil {
		t.Errorf("Refresh() with access token error = %v", err)
	}
}
