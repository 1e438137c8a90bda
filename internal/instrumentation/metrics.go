package instrumentation

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metrics holds the metric instruments recorded by the server. All Record
// methods are nil-safe so components can hold a nil *Metrics when telemetry
// is not wired.
type Metrics struct {
	authAttempts   metric.Int64Counter
	tokensIssued   metric.Int64Counter
	lockouts       metric.Int64Counter
	sessionsActive metric.Int64UpDownCounter
	toolCalls      metric.Int64Counter
}

func newMetrics(meter metric.Meter) (*Metrics, error) {
	m := &Metrics{}
	var err error

	if m.authAttempts, err = meter.Int64Counter("oauth.auth_attempts",
		metric.WithDescription("Consent password submissions by outcome")); err != nil {
		return nil, err
	}
	if m.tokensIssued, err = meter.Int64Counter("oauth.tokens_issued",
		metric.WithDescription("Access/refresh token pairs issued by grant type")); err != nil {
		return nil, err
	}
	if m.lockouts, err = meter.Int64Counter("oauth.lockouts",
		metric.WithDescription("IP lockouts triggered on the approval endpoint")); err != nil {
		return nil, err
	}
	if m.sessionsActive, err = meter.Int64UpDownCounter("mcp.sessions_active",
		metric.WithDescription("Live transport sessions")); err != nil {
		return nil, err
	}
	if m.toolCalls, err = meter.Int64Counter("mcp.tool_calls",
		metric.WithDescription("Tool invocations by tool name and outcome")); err != nil {
		return nil, err
	}

	return m, nil
}

// RecordAuthAttempt records a consent password submission.
func (m *Metrics) RecordAuthAttempt(ctx context.Context, outcome string) {
	if m == nil {
		return
	}
	m.authAttempts.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}

// RecordTokenIssued records issuance of a token pair.
func (m *Metrics) RecordTokenIssued(ctx context.Context, grantType string) {
	if m == nil {
		return
	}
	m.tokensIssued.Add(ctx, 1, metric.WithAttributes(attribute.String("grant_type", grantType)))
}

// RecordLockout records an IP lockout.
func (m *Metrics) RecordLockout(ctx context.Context) {
	if m == nil {
		return
	}
	m.lockouts.Add(ctx, 1)
}

// RecordSessionOpened records a new transport session.
func (m *Metrics) RecordSessionOpened(ctx context.Context) {
	if m == nil {
		return
	}
	m.sessionsActive.Add(ctx, 1)
}

// RecordSessionClosed records a terminated transport session.
func (m *Metrics) RecordSessionClosed(ctx context.Context) {
	if m == nil {
		return
	}
	m.sessionsActive.Add(ctx, -1)
}

// RecordToolCall records a tool invocation.
func (m *Metrics) RecordToolCall(ctx context.Context, tool string, success bool) {
	if m == nil {
		return
	}
	m.toolCalls.Add(ctx, 1, metric.WithAttributes(
		attribute.String("tool", tool),
		attribute.Bool("success", success),
	))
}
