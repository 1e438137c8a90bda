// Package cmd wires the flags, configuration and HTTP server for the
// mcp-scribe binary.
package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/mark3labs/mcp-go/server"
	"github.com/spf13/cobra"
	"golang.org/x/crypto/bcrypt"

	"github.com/scribeworks/mcp-scribe/internal/instrumentation"
	"github.com/scribeworks/mcp-scribe/internal/mcpserver"
	"github.com/scribeworks/mcp-scribe/internal/oauth"
	"github.com/scribeworks/mcp-scribe/internal/security"
	"github.com/scribeworks/mcp-scribe/internal/store"
	"github.com/scribeworks/mcp-scribe/internal/tools"
)

const envPrefix = "MCP_SCRIBE_"

var (
	version string

	listenAddr        string
	clientID          string
	clientSecret      string
	redirectURI       string
	password          string
	passwordHash      string
	fetcher           string
	idleTimeout       time.Duration
	trustProxy        bool
	trustedProxyCount int
	rateLimit         int
	rateLimitBurst    int
	auditLog          bool
	metricsEnabled    bool
	logLevel          string
	logJSON           bool
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "mcp-scribe",
	Short: "Transcript tool server over MCP with embedded OAuth 2.1",
	Long: `mcp-scribe serves video transcript tools over the MCP streamable HTTP
transport and protects them with its own embedded OAuth 2.1 authorization
server.

Agent clients discover the authorization server through the standard
well-known documents, register via the single-tenant registration shim and
obtain tokens through the authorization-code flow with PKCE. Consent is a
single operator password; repeated wrong guesses lock the offending IP out.

Tool calls are forwarded to a media fetcher binary (yt-dlp by default) that
must be available on PATH.

Secrets can be supplied via flags or environment variables (MCP_SCRIBE_PASSWORD,
MCP_SCRIBE_PASSWORD_HASH, MCP_SCRIBE_CLIENT_ID, MCP_SCRIBE_CLIENT_SECRET);
prefer the environment for anything sensitive.`,
	RunE: runServe,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// SetVersion sets the version for the application
func SetVersion(v string) {
	version = v
	rootCmd.Version = v
}

func init() {
	rootCmd.Flags().StringVar(&listenAddr, "listen-addr", ":8090", "Listen address for the HTTP server")
	rootCmd.Flags().StringVar(&clientID, "client-id", "", "OAuth client ID of the single provisioned client (env: MCP_SCRIBE_CLIENT_ID)")
	rootCmd.Flags().StringVar(&clientSecret, "client-secret", "", "OAuth client secret; omit for a public client (env: MCP_SCRIBE_CLIENT_SECRET)")
	rootCmd.Flags().StringVar(&redirectURI, "redirect-uri", "", "Default redirect URI returned by the registration endpoint")
	rootCmd.Flags().StringVar(&password, "password", "", "Operator consent password; hashed with bcrypt at startup (env: MCP_SCRIBE_PASSWORD)")
	rootCmd.Flags().StringVar(&passwordHash, "password-hash", "", "Pre-computed bcrypt hash of the consent password (env: MCP_SCRIBE_PASSWORD_HASH)")
	rootCmd.Flags().StringVar(&fetcher, "fetcher", tools.DefaultFetcher, "Media fetcher binary used by the transcript tools")
	rootCmd.Flags().DurationVar(&idleTimeout, "session-idle-timeout", mcpserver.DefaultIdleTimeout, "Reclaim transport sessions idle for longer than this (0 disables)")
	rootCmd.Flags().BoolVar(&trustProxy, "trust-proxy", false, "Trust X-Forwarded-For / X-Forwarded-Proto headers (only behind a trusted reverse proxy)")
	rootCmd.Flags().IntVar(&trustedProxyCount, "trusted-proxy-count", 1, "Number of trusted proxies in front of the server")
	rootCmd.Flags().IntVar(&rateLimit, "rate-limit", 10, "Per-IP requests per second on discovery and registration endpoints (0 disables)")
	rootCmd.Flags().IntVar(&rateLimitBurst, "rate-limit-burst", 20, "Per-IP burst size for the rate limiter")
	rootCmd.Flags().BoolVar(&auditLog, "audit-log", true, "Emit security audit log events")
	rootCmd.Flags().BoolVar(&metricsEnabled, "metrics", false, "Enable OpenTelemetry metrics and traces")
	rootCmd.Flags().StringVar(&logLevel, "log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.Flags().BoolVar(&logJSON, "log-json", false, "Log in JSON instead of text")

	rootCmd.MarkFlagsMutuallyExclusive("password", "password-hash")
}

// envFallback fills flag values from the environment when the flag was not
// set on the command line.
func envFallback(cmd *cobra.Command, flag, env string, target *string) {
	if !cmd.Flags().Changed(flag) && *target == "" {
		if v := os.Getenv(envPrefix + env); v != "" {
			*target = v
		}
	}
}

func newLogger() (*slog.Logger, error) {
	var level slog.Level
	switch strings.ToLower(logLevel) {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		return nil, fmt.Errorf("unknown log level %q", logLevel)
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if logJSON {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	} else {
		handler = slog.NewTextHandler(os.Stderr, opts)
	}
	return slog.New(handler), nil
}

// resolvePasswordHash yields the bcrypt hash for the consent password,
// hashing a plaintext password at startup when no hash was supplied.
func resolvePasswordHash() ([]byte, error) {
	if passwordHash != "" {
		if _, err := bcrypt.Cost([]byte(passwordHash)); err != nil {
			return nil, fmt.Errorf("invalid password hash: %w", err)
		}
		return []byte(passwordHash), nil
	}
	if password != "" {
		hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
		if err != nil {
			return nil, fmt.Errorf("hashing password: %w", err)
		}
		return hash, nil
	}
	return nil, errors.New("a consent password is required: set --password, --password-hash or the matching environment variable")
}

func runServe(cmd *cobra.Command, args []string) error {
	envFallback(cmd, "client-id", "CLIENT_ID", &clientID)
	envFallback(cmd, "client-secret", "CLIENT_SECRET", &clientSecret)
	envFallback(cmd, "password", "PASSWORD", &password)
	envFallback(cmd, "password-hash", "PASSWORD_HASH", &passwordHash)

	logger, err := newLogger()
	if err != nil {
		return err
	}
	slog.SetDefault(logger)

	if cmd.Flags().Changed("password") {
		logger.Warn("Password passed via CLI flag is visible in process listings; prefer MCP_SCRIBE_PASSWORD")
	}

	hash, err := resolvePasswordHash()
	if err != nil {
		return err
	}

	inst, err := instrumentation.New(instrumentation.Config{
		ServiceName:    "mcp-scribe",
		ServiceVersion: version,
		Enabled:        metricsEnabled,
	})
	if err != nil {
		return fmt.Errorf("setting up instrumentation: %w", err)
	}

	tokens := store.NewTokenSet()
	codes := store.NewCodeStore(time.Minute)
	defer codes.Stop()

	authServer, err := oauth.NewServer(&oauth.Config{
		ClientID:           clientID,
		ClientSecret:       clientSecret,
		DefaultRedirectURI: redirectURI,
		PasswordHash:       hash,
		TrustProxy:         trustProxy,
		TrustedProxyCount:  trustedProxyCount,
		RateLimitPerSecond: rateLimit,
		RateLimitBurst:     rateLimitBurst,
		EnableAuditLogging: auditLog,
		Logger:             logger,
	}, tokens, codes, inst)
	if err != nil {
		return fmt.Errorf("configuring authorization server: %w", err)
	}
	authHandler := oauth.NewHandler(authServer, inst)
	defer authHandler.Stop()

	engine := server.NewMCPServer("mcp-scribe", version,
		server.WithToolCapabilities(false),
	)
	toolbox := tools.New(logger, inst, tools.WithFetcher(fetcher))
	toolbox.Register(engine)

	registry := mcpserver.NewRegistry(engine, idleTimeout, logger, inst)
	defer registry.Stop()
	mcpHandler := mcpserver.NewHandler(engine, registry, mcpserver.NewGate(tokens), trustProxy, logger, inst)

	mux := http.NewServeMux()
	authHandler.Routes(mux)
	mux.Handle("/mcp", mcpHandler)
	mux.HandleFunc("/health", healthHandler(time.Now()))

	srv := &http.Server{
		Addr:              listenAddr,
		Handler:           security.RequestID(security.Headers(mux)),
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		logger.Info("Server listening", "addr", listenAddr, "version", version)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	case <-ctx.Done():
	}

	logger.Info("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Shutdown incomplete", "error", err)
	}
	if err := inst.Shutdown(shutdownCtx); err != nil {
		logger.Error("Telemetry shutdown incomplete", "error", err)
	}
	return nil
}

// healthHandler reports liveness with version and uptime.
func healthHandler(started time.Time) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"status":  "ok",
			"service": "mcp-scribe",
			"version": version,
			"uptime":  time.Since(started).Round(time.Second).String(),
		})
	}
}
