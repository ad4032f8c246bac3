package resolver

import (
	"context"

	"rel-graphql/internal/observability"
	"rel-graphql/internal/planner"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

func startResolverSpan(ctx context.Context, name, table string) (context.Context, trace.Span) {
	// graphql.Do permits a nil Context; the tracer does not.
	if ctx == nil {
		ctx = context.Background()
	}
	tracer := otel.Tracer("rel-graphql/resolver")
	return tracer.Start(ctx, name, trace.WithAttributes(attribute.String("db.table", table)))
}

func finishResolverSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
}

// recordFetch and recordMutation report to the request metrics when the HTTP
// middleware installed them; bare contexts (tests, library use) record
// nothing.
func recordFetch(ctx context.Context, table string, rows int, plan *planner.FetchPlan) {
	if m := observability.RequestMetricsFromContext(ctx); m != nil {
		m.RecordFetch(ctx, table, rows, plan.Depth())
	}
}

func recordMutation(ctx context.Context, table, operation string, rows int64) {
	if m := observability.RequestMetricsFromContext(ctx); m != nil {
		m.RecordMutation(ctx, table, operation, rows)
	}
}
