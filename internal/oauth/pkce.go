package oauth

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
)

// PKCE code challenge methods (RFC 7636)
const (
	PKCEMethodS256  = "S256"
	PKCEMethodPlain = "plain"
)

// VerifyPKCE validates a code verifier against the challenge captured at
// consent time, per RFC 7636.
//
// For S256 the base64url (no padding) SHA-256 digest of the verifier must
// equal the challenge; for plain the verifier must equal the challenge
// byte-for-byte. Comparison is constant time in both cases.
func VerifyPKCE(challenge, method, verifier string) error {
	if verifier == "" {
		return fmt.Errorf("code_verifier is required")
	}

	// RFC 7636: code_verifier must be 43-128 characters of [A-Za-z0-9-._~]
	if len(verifier) < 43 || len(verifier) > 128 {
		return fmt.Errorf("code_verifier must be 43-128 characters")
	}
	for _, ch := range verifier {
		if (ch < 'A' || ch > 'Z') && (ch < 'a' || ch > 'z') && (ch < '0' || ch > '9') &&
			ch != '-' && ch != '.' && ch != '_' && ch != '~' {
			return fmt.Errorf("code_verifier contains invalid characters")
		}
	}

	var computed string
	switch method {
	case PKCEMethodS256:
		hash := sha256.Sum256([]byte(verifier))
		computed = base64.RawURLEncoding.EncodeToString(hash[:])
	case PKCEMethodPlain:
		computed = verifier
	default:
		return fmt.Errorf("unsupported code_challenge_method: %s", method)
	}

	if subtle.ConstantTimeCompare([]byte(computed), []byte(challenge)) != 1 {
		return fmt.Errorf("code_verifier does not match code_challenge")
	}
	return nil
}
