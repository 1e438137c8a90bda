package oauth

import (
	"fmt"
	"log/slog"
	"time"
)

// Default flow parameters
const (
	DefaultScope            = "mcp"
	DefaultCodeTTL          = 10 * time.Minute
	DefaultTokenTTL         = 24 * time.Hour
	DefaultLockoutThreshold = 5
	DefaultLockoutDuration  = 10 * time.Minute
)

// Config holds the authorization server configuration.
type Config struct {
	// ClientID is the identifier of the single pre-provisioned client.
	ClientID string

	// ClientSecret is the secret of the pre-provisioned client. Clients may
	// present it via HTTP Basic auth or body fields; public clients may omit
	// it entirely.
	ClientSecret string

	// DefaultRedirectURI is returned from the registration shim when the
	// request does not carry one.
	DefaultRedirectURI string

	// PasswordHash is the bcrypt hash of the operator's consent password.
	PasswordHash []byte

	// Scope is the single scope this server issues. Default "mcp".
	Scope string

	// CodeTTL is how long an authorization code stays redeemable.
	CodeTTL time.Duration

	// TokenTTL is the expires_in value advertised to clients. Token validity
	// is membership in the valid-token set; no server-side expiry is
	// enforced beyond process lifetime.
	TokenTTL time.Duration

	// LockoutThreshold is the number of consecutive failed password
	// submissions from one IP that triggers a lockout.
	LockoutThreshold int

	// LockoutDuration is how long a lockout lasts.
	LockoutDuration time.Duration

	// TrustProxy enables trusting X-Forwarded-For, X-Real-IP and
	// X-Forwarded-Proto headers. Only enable behind a trusted reverse proxy.
	TrustProxy bool

	// TrustedProxyCount is how many proxies to trust from the right of
	// X-Forwarded-For.
	TrustedProxyCount int

	// RateLimitPerSecond limits requests per IP on the discovery and
	// registration endpoints. Zero disables limiting.
	RateLimitPerSecond int

	// RateLimitBurst is the burst size for the per-IP limiter.
	RateLimitBurst int

	// EnableAuditLogging enables security audit logging.
	EnableAuditLogging bool

	// Logger for structured logging (optional, uses default if not provided)
	Logger *slog.Logger
}

// applyDefaults fills zero-valued fields with their defaults.
func (c *Config) applyDefaults() {
	if c.Scope == "" {
		c.Scope = DefaultScope
	}
	if c.CodeTTL <= 0 {
		c.CodeTTL = DefaultCodeTTL
	}
	if c.TokenTTL <= 0 {
		c.TokenTTL = DefaultTokenTTL
	}
	if c.LockoutThreshold <= 0 {
		c.LockoutThreshold = DefaultLockoutThreshold
	}
	if c.LockoutDuration <= 0 {
		c.LockoutDuration = DefaultLockoutDuration
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// Validate checks that the configuration is usable.
func (c *Config) Validate() error {
	if c.ClientID == "" {
		return fmt.Errorf("client ID is required")
	}
	if len(c.PasswordHash) == 0 {
		return fmt.Errorf("consent password hash is required")
	}
	return nil
}
