package observability

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// RequestMetrics holds the instruments for the query path. Request-level
// instruments are recorded by the HTTP middleware; the per-root-field
// instruments are recorded by resolvers through the context carrier, so one
// request selecting several root fields records one fetch sample per field.
type RequestMetrics struct {
	requestDuration metric.Float64Histogram
	requestCounter  metric.Int64Counter
	errorCounter    metric.Int64Counter
	activeRequests  metric.Int64UpDownCounter
	planDepth       metric.Int64Histogram
	fetchRows       metric.Int64Histogram
	mutationRows    metric.Int64Counter
}

// InitRequestMetrics creates the query-path instruments.
func InitRequestMetrics(logger *slog.Logger) (*RequestMetrics, error) {
	meter := otel.Meter(meterName)

	requestDuration, err := meter.Float64Histogram(
		"graphql.request.duration",
		metric.WithDescription("Duration of GraphQL requests in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create request duration histogram: %w", err)
	}

	requestCounter, err := meter.Int64Counter(
		"graphql.requests.total",
		metric.WithDescription("Total number of GraphQL requests"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create request counter: %w", err)
	}

	errorCounter, err := meter.Int64Counter(
		"graphql.errors.total",
		metric.WithDescription("Total number of GraphQL requests that returned errors"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create error counter: %w", err)
	}

	activeRequests, err := meter.Int64UpDownCounter(
		"graphql.requests.active",
		metric.WithDescription("Number of GraphQL requests currently executing"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create active requests counter: %w", err)
	}

	planDepth, err := meter.Int64Histogram(
		"plan.depth",
		metric.WithDescription("Relation nesting depth of compiled fetch plans"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create plan depth histogram: %w", err)
	}

	fetchRows, err := meter.Int64Histogram(
		"storage.fetch.rows",
		metric.WithDescription("Rows returned by one root-field fetch"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create fetch rows histogram: %w", err)
	}

	mutationRows, err := meter.Int64Counter(
		"storage.mutation.rows",
		metric.WithDescription("Rows written by mutations"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create mutation rows counter: %w", err)
	}

	logger.Info("request metrics initialized")
	return &RequestMetrics{
		requestDuration: requestDuration,
		requestCounter:  requestCounter,
		errorCounter:    errorCounter,
		activeRequests:  activeRequests,
		planDepth:       planDepth,
		fetchRows:       fetchRows,
		mutationRows:    mutationRows,
	}, nil
}

// RecordRequest records one finished request with its duration and outcome.
func (m *RequestMetrics) RecordRequest(ctx context.Context, duration time.Duration, hasErrors bool, operationType string) {
	attrs := []attribute.KeyValue{
		attribute.String("operation_type", operationType),
		attribute.Bool("has_errors", hasErrors),
	}

	m.requestDuration.Record(ctx, float64(duration.Milliseconds()), metric.WithAttributes(attrs...))
	m.requestCounter.Add(ctx, 1, metric.WithAttributes(attrs...))

	if hasErrors {
		m.errorCounter.Add(ctx, 1, metric.WithAttributes(
			attribute.String("operation_type", operationType),
		))
	}
}

// RecordFetch records one root-field read: the compiled plan's relation depth
// and the row count its single storage round trip returned.
func (m *RequestMetrics) RecordFetch(ctx context.Context, table string, rows, depth int) {
	attrs := metric.WithAttributes(attribute.String("table", table))
	m.planDepth.Record(ctx, int64(depth), attrs)
	m.fetchRows.Record(ctx, int64(rows), attrs)
}

// RecordMutation records rows written by one mutation root field.
func (m *RequestMetrics) RecordMutation(ctx context.Context, table, operation string, rows int64) {
	if rows <= 0 {
		return
	}
	m.mutationRows.Add(ctx, rows, metric.WithAttributes(
		attribute.String("table", table),
		attribute.String("operation", operation),
	))
}

// IncrementActiveRequests marks one request as executing.
func (m *RequestMetrics) IncrementActiveRequests(ctx context.Context) {
	m.activeRequests.Add(ctx, 1)
}

// DecrementActiveRequests marks one request as finished.
func (m *RequestMetrics) DecrementActiveRequests(ctx context.Context) {
	m.activeRequests.Add(ctx, -1)
}

type requestMetricsContextKey struct{}

// ContextWithRequestMetrics stores the instruments in the context so
// resolvers can record against them.
func ContextWithRequestMetrics(ctx context.Context, metrics *RequestMetrics) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, requestMetricsContextKey{}, metrics)
}

// RequestMetricsFromContext retrieves the instruments, or nil when the
// middleware did not install them.
func RequestMetricsFromContext(ctx context.Context) *RequestMetrics {
	if ctx == nil {
		return nil
	}
	metrics, _ := ctx.Value(requestMetricsContextKey{}).(*RequestMetrics)
	return metrics
}
