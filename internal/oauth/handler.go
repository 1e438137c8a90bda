package oauth

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/scribeworks/mcp-scribe/internal/instrumentation"
	"github.com/scribeworks/mcp-scribe/internal/security"
)

// Well-known metadata paths
const (
	MetadataPathAuthorizationServer = "/.well-known/oauth-authorization-server"
	MetadataPathProtectedResource   = "/.well-known/oauth-protected-resource"
)

// Handler is a thin HTTP adapter for the authorization Server. It handles
// HTTP requests and delegates to the Server for business logic.
type Handler struct {
	server  *Server
	logger  *slog.Logger
	limiter *security.RateLimiter
	metrics *instrumentation.Metrics
	tracer  trace.Tracer
}

// NewHandler creates a new HTTP handler for the authorization server.
func NewHandler(server *Server, inst *instrumentation.Instrumentation) *Handler {
	h := &Handler{
		server: server,
		logger: server.config.Logger,
	}

	if server.config.RateLimitPerSecond > 0 {
		burst := server.config.RateLimitBurst
		if burst <= 0 {
			burst = server.config.RateLimitPerSecond
		}
		h.limiter = security.NewRateLimiter(server.config.RateLimitPerSecond, burst, h.logger)
	}

	if inst != nil {
		h.metrics = inst.Metrics()
		h.tracer = inst.Tracer("oauth.http")
	}

	return h
}

// Routes registers the OAuth endpoints on the mux.
func (h *Handler) Routes(mux *http.ServeMux) {
	mux.HandleFunc(MetadataPathAuthorizationServer, h.ServeAuthorizationServerMetadata)
	mux.HandleFunc(MetadataPathProtectedResource, h.ServeProtectedResourceMetadata)
	mux.HandleFunc("/register", h.ServeClientRegistration)
	mux.HandleFunc("/authorize", h.ServeAuthorization)
	mux.HandleFunc("/authorize/approve", h.ServeApproval)
	mux.HandleFunc("/token", h.ServeToken)
}

// Stop releases handler resources (the per-IP rate limiter sweep).
func (h *Handler) Stop() {
	if h.limiter != nil {
		h.limiter.Stop()
	}
}

// baseURL computes the externally observed scheme and host for the request.
// Endpoint URLs in discovery documents are derived from this, not from
// stored configuration, so the server works unchanged behind tunnels and
// reverse proxies.
func (h *Handler) baseURL(r *http.Request) string {
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	if h.server.config.TrustProxy {
		if proto := r.Header.Get("X-Forwarded-Proto"); proto != "" {
			scheme = strings.TrimSpace(strings.Split(proto, ",")[0])
		}
	}
	return scheme + "://" + r.Host
}

func (h *Handler) clientIP(r *http.Request) string {
	return security.ClientIP(r, h.server.config.TrustProxy, h.server.config.TrustedProxyCount)
}

// checkRateLimit applies the per-IP limiter to unauthenticated metadata
// endpoints. Returns true when the request was rejected.
func (h *Handler) checkRateLimit(w http.ResponseWriter, r *http.Request) bool {
	if h.limiter == nil {
		return false
	}
	ip := h.clientIP(r)
	if h.limiter.Allow(ip) {
		return false
	}

	h.logger.Warn("Rate limit exceeded", "ip", ip, "endpoint", r.URL.Path)
	w.Header().Set("Retry-After", "60")
	h.writeError(w, ErrorCodeRateLimitExceeded, "Rate limit exceeded. Please try again later.", http.StatusTooManyRequests)
	return true
}

// ServeAuthorizationServerMetadata serves RFC 8414 Authorization Server Metadata.
func (h *Handler) ServeAuthorizationServerMetadata(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if h.checkRateLimit(w, r) {
		return
	}

	base := h.baseURL(r)
	metadata := AuthorizationServerMetadata{
		Issuer:                            base,
		AuthorizationEndpoint:             base + "/authorize",
		TokenEndpoint:                     base + "/token",
		RegistrationEndpoint:              base + "/register",
		ResponseTypesSupported:            []string{"code"},
		GrantTypesSupported:               []string{"authorization_code", "refresh_token"},
		CodeChallengeMethodsSupported:     []string{PKCEMethodS256, PKCEMethodPlain},
		TokenEndpointAuthMethodsSupported: []string{"client_secret_basic", "client_secret_post", "none"},
		ScopesSupported:                   []string{h.server.config.Scope},
	}

	h.writeJSON(w, http.StatusOK, metadata)
}

// ServeProtectedResourceMetadata serves RFC 9728 Protected Resource Metadata.
func (h *Handler) ServeProtectedResourceMetadata(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if h.checkRateLimit(w, r) {
		return
	}

	base := h.baseURL(r)
	metadata := ProtectedResourceMetadata{
		Resource:               base,
		AuthorizationServers:   []string{base},
		BearerMethodsSupported: []string{"header"},
		ScopesSupported:        []string{h.server.config.Scope},
	}

	h.writeJSON(w, http.StatusOK, metadata)
}

// ServeClientRegistration handles RFC 7591 dynamic client registration.
//
// This is a single-tenant compatibility shim: whatever the request body
// contains, the response is the one operator-provisioned client. Agent
// clients expect the registration dance to work; there is no client table
// behind it.
func (h *Handler) ServeClientRegistration(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if h.checkRateLimit(w, r) {
		return
	}

	// The body is accepted but only the redirect URIs are echoed back.
	var req struct {
		RedirectURIs []string `json:"redirect_uris"`
	}
	_ = json.NewDecoder(r.Body).Decode(&req)

	redirectURIs := req.RedirectURIs
	if len(redirectURIs) == 0 && h.server.config.DefaultRedirectURI != "" {
		redirectURIs = []string{h.server.config.DefaultRedirectURI}
	}

	h.logger.Info("Client registration served", "ip", h.clientIP(r))

	h.writeJSON(w, http.StatusCreated, ClientRegistrationResponse{
		ClientID:                h.server.config.ClientID,
		ClientSecret:            h.server.config.ClientSecret,
		ClientIDIssuedAt:        time.Now().Unix(),
		RedirectURIs:            redirectURIs,
		GrantTypes:              []string{"authorization_code", "refresh_token"},
		ResponseTypes:           []string{"code"},
		TokenEndpointAuthMethod: "client_secret_post",
		Scope:                   h.server.config.Scope,
	})
}

// ServeAuthorization renders the consent page for a valid authorization
// request, or an HTML error page with status 400 otherwise. No code is
// issued here; that happens on approval.
func (h *Handler) ServeAuthorization(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	q := r.URL.Query()
	if err := h.server.ValidateAuthorizeRequest(q.Get("response_type"), q.Get("client_id"), q.Get("redirect_uri"), q.Get("code_challenge")); err != nil {
		h.renderFlowError(w, err)
		return
	}

	renderHTML(w, consentTmpl, http.StatusOK, consentData{
		ClientID:            q.Get("client_id"),
		RedirectURI:         q.Get("redirect_uri"),
		CodeChallenge:       q.Get("code_challenge"),
		CodeChallengeMethod: q.Get("code_challenge_method"),
		State:               q.Get("state"),
	})
}

// ServeApproval handles the consent form submission: lockout check, password
// verification, code issuance and the redirect back to the client.
func (h *Handler) ServeApproval(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	ctx := r.Context()
	var span trace.Span
	if h.tracer != nil {
		ctx, span = h.tracer.Start(ctx, "oauth.http.approval")
		defer span.End()
	}

	if err := r.ParseForm(); err != nil {
		renderHTML(w, errorPageTmpl, http.StatusBadRequest, errorPageData{
			Title:   "Invalid Request",
			Message: "The approval form could not be parsed.",
		})
		return
	}

	clientID := r.FormValue("client_id")
	redirectURI := r.FormValue("redirect_uri")
	codeChallenge := r.FormValue("code_challenge")
	codeChallengeMethod := r.FormValue("code_challenge_method")
	state := r.FormValue("state")

	// Re-validate: the hidden fields are attacker-controlled.
	if err := h.server.ValidateAuthorizeRequest("code", clientID, redirectURI, codeChallenge); err != nil {
		h.renderFlowError(w, err)
		return
	}

	ip := h.clientIP(r)
	if span != nil {
		span.SetAttributes(attribute.String("oauth.client_id", clientID))
	}

	if remaining, locked := h.server.guard.IsLockedOut(ip); locked {
		h.logger.Warn("Approval rejected: IP locked out", "ip", ip, "remaining", remaining)
		renderHTML(w, errorPageTmpl, http.StatusTooManyRequests, errorPageData{
			Title:   "Too Many Attempts",
			Message: fmt.Sprintf("Too many failed attempts. Try again in %s.", remaining.Round(time.Second)),
		})
		return
	}

	if err := h.server.VerifyPassword(r.FormValue("password")); err != nil {
		h.server.auditor.LogAuthFailure(clientID, ip, "wrong_password")
		h.metrics.RecordAuthAttempt(ctx, "failure")

		remaining := h.server.guard.RecordFailure(ip)
		if remaining == 0 {
			h.server.auditor.LogLockout(ip, h.server.config.LockoutDuration)
			h.metrics.RecordLockout(ctx)
			renderHTML(w, errorPageTmpl, http.StatusTooManyRequests, errorPageData{
				Title:   "Too Many Attempts",
				Message: fmt.Sprintf("Too many failed attempts. Try again in %s.", h.server.config.LockoutDuration),
			})
			return
		}

		renderHTML(w, errorPageTmpl, http.StatusForbidden, errorPageData{
			Title:   "Invalid Password",
			Message: fmt.Sprintf("Invalid password. %d attempts remaining.", remaining),
		})
		return
	}

	h.server.guard.ClearOnSuccess(ip)
	h.metrics.RecordAuthAttempt(ctx, "success")

	code := h.server.IssueCode(clientID, redirectURI, codeChallenge, codeChallengeMethod, ip)

	location, err := appendQuery(redirectURI, code, state)
	if err != nil {
		h.renderFlowError(w, ErrInvalidRequest("redirect_uri is not a valid URL"))
		return
	}

	h.logger.Info("Consent approved", "client_id", clientID, "ip", ip)
	http.Redirect(w, r, location, http.StatusFound)
}

// appendQuery appends the code and echoed state to the redirect URI's query
// string, preserving any query parameters it already carries.
func appendQuery(redirectURI, code, state string) (string, error) {
	u, err := url.Parse(redirectURI)
	if err != nil {
		return "", err
	}
	q := u.Query()
	q.Set("code", code)
	if state != "" {
		q.Set("state", state)
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// ServeToken handles the OAuth token endpoint.
func (h *Handler) ServeToken(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	ctx := r.Context()
	var span trace.Span
	if h.tracer != nil {
		ctx, span = h.tracer.Start(ctx, "oauth.http.token")
		defer span.End()
	}

	if err := r.ParseForm(); err != nil {
		h.writeError(w, ErrorCodeInvalidRequest, "Failed to parse request", http.StatusBadRequest)
		return
	}

	// Client credentials may arrive via a Basic auth header or body fields;
	// the header wins when both are present.
	clientID := r.FormValue("client_id")
	clientSecret := r.FormValue("client_secret")
	if basicID, basicSecret, ok := r.BasicAuth(); ok {
		clientID = basicID
		clientSecret = basicSecret
	}

	ip := h.clientIP(r)
	grantType := r.FormValue("grant_type")
	if span != nil {
		span.SetAttributes(attribute.String("oauth.grant_type", grantType))
	}

	var (
		resp *TokenResponse
		err  error
	)
	switch grantType {
	case "authorization_code":
		resp, err = h.server.ExchangeCode(ctx, r.FormValue("code"), clientID, clientSecret, r.FormValue("code_verifier"), ip)
	case "refresh_token":
		resp, err = h.server.Refresh(ctx, r.FormValue("refresh_token"), ip)
	default:
		h.writeError(w, ErrorCodeUnsupportedGrantType, fmt.Sprintf("Grant type %q not supported", grantType), http.StatusBadRequest)
		return
	}

	if err != nil {
		if span != nil {
			span.RecordError(err)
		}
		if oauthErr, ok := err.(*Error); ok {
			h.writeError(w, oauthErr.Code, oauthErr.Description, oauthErr.Status)
			return
		}
		h.writeError(w, ErrorCodeServerError, "Token request failed", http.StatusInternalServerError)
		return
	}

	h.writeJSON(w, http.StatusOK, resp)
}

// renderFlowError writes an authorization flow validation failure as an HTML
// error page. Codes are never issued on this path.
func (h *Handler) renderFlowError(w http.ResponseWriter, err error) {
	status := http.StatusBadRequest
	message := "The authorization request is invalid."
	if oauthErr, ok := err.(*Error); ok {
		message = oauthErr.Description
	}
	renderHTML(w, errorPageTmpl, status, errorPageData{
		Title:   "Authorization Failed",
		Message: message,
	})
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError writes an OAuth error response body.
func (h *Handler) writeError(w http.ResponseWriter, code, description string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(ErrorResponse{
		Error:            code,
		ErrorDescription: description,
	})
}
