package observability

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// SecurityMetrics holds the instruments recorded by the authentication
// middleware and the admin endpoints.
type SecurityMetrics struct {
	authAttempts          metric.Int64Counter
	authFailures          metric.Int64Counter
	authSuccesses         metric.Int64Counter
	adminEndpointAccess   metric.Int64Counter
	unauthorizedAttempts  metric.Int64Counter
	tokenValidationErrors metric.Int64Counter
}

// InitSecurityMetrics creates the security instruments.
func InitSecurityMetrics() (*SecurityMetrics, error) {
	meter := otel.Meter(meterName + "/security")

	authAttempts, err := meter.Int64Counter(
		"security.auth.attempts.total",
		metric.WithDescription("Total number of authentication attempts"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create auth attempts counter: %w", err)
	}

	authFailures, err := meter.Int64Counter(
		"security.auth.failures.total",
		metric.WithDescription("Total number of authentication failures"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create auth failures counter: %w", err)
	}

	authSuccesses, err := meter.Int64Counter(
		"security.auth.successes.total",
		metric.WithDescription("Total number of successful authentications"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create auth successes counter: %w", err)
	}

	adminEndpointAccess, err := meter.Int64Counter(
		"security.admin.access.total",
		metric.WithDescription("Total number of admin endpoint access attempts"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create admin endpoint access counter: %w", err)
	}

	unauthorizedAttempts, err := meter.Int64Counter(
		"security.unauthorized.attempts.total",
		metric.WithDescription("Total number of unauthorized access attempts"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create unauthorized attempts counter: %w", err)
	}

	tokenValidationErrors, err := meter.Int64Counter(
		"security.token.validation_errors.total",
		metric.WithDescription("Total number of token validation errors"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create token validation errors counter: %w", err)
	}

	return &SecurityMetrics{
		authAttempts:          authAttempts,
		authFailures:          authFailures,
		authSuccesses:         authSuccesses,
		adminEndpointAccess:   adminEndpointAccess,
		unauthorizedAttempts:  unauthorizedAttempts,
		tokenValidationErrors: tokenValidationErrors,
	}, nil
}

// RecordAuthAttempt counts one authentication attempt against endpoint.
func (m *SecurityMetrics) RecordAuthAttempt(ctx context.Context, endpoint string) {
	m.authAttempts.Add(ctx, 1, metric.WithAttributes(
		attribute.String("endpoint", endpoint),
	))
}

// RecordAuthFailure counts one failed authentication with its reason.
func (m *SecurityMetrics) RecordAuthFailure(ctx context.Context, endpoint, reason string) {
	m.authFailures.Add(ctx, 1, metric.WithAttributes(
		attribute.String("endpoint", endpoint),
		attribute.String("reason", reason),
	))
}

// RecordAuthSuccess counts one successful authentication.
func (m *SecurityMetrics) RecordAuthSuccess(ctx context.Context, endpoint, issuer string) {
	m.authSuccesses.Add(ctx, 1, metric.WithAttributes(
		attribute.String("endpoint", endpoint),
		attribute.String("issuer", issuer),
	))
}

// RecordAdminEndpointAccess counts one admin endpoint call and its outcome.
func (m *SecurityMetrics) RecordAdminEndpointAccess(ctx context.Context, operation string, authenticated, success bool) {
	m.adminEndpointAccess.Add(ctx, 1, metric.WithAttributes(
		attribute.String("operation", operation),
		attribute.Bool("authenticated", authenticated),
		attribute.Bool("success", success),
	))
}

// RecordUnauthorizedAttempt counts one rejected request.
func (m *SecurityMetrics) RecordUnauthorizedAttempt(ctx context.Context, endpoint, reason string) {
	m.unauthorizedAttempts.Add(ctx, 1, metric.WithAttributes(
		attribute.String("endpoint", endpoint),
		attribute.String("reason", reason),
	))
}

// RecordTokenValidationError counts one token that failed validation.
func (m *SecurityMetrics) RecordTokenValidationError(ctx context.Context, errorType string) {
	m.tokenValidationErrors.Add(ctx, 1, metric.WithAttributes(
		attribute.String("error_type", errorType),
	))
}
