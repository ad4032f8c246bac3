// Package mysqlstore implements the storage capability over a MySQL-protocol
// database. One fetch plan compiles to one SQL statement: nested relations
// become correlated JSON_OBJECT/JSON_ARRAYAGG subqueries (a derived table
// when the child carries order or pagination), so a read stays one round
// trip regardless of nesting depth. Requires MySQL 8.0.14 or later, which
// allows outer references inside derived tables.
package mysqlstore

import (
	"context"
	"fmt"

	"rel-graphql/internal/dbexec"
	"rel-graphql/internal/planner"
	"rel-graphql/internal/storage"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Store executes fetch plans and writes against a MySQL-protocol database.
type Store struct {
	exec dbexec.QueryExecutor
}

var _ storage.Client = (*Store)(nil)

// New returns a Store running statements on the given executor.
func New(exec dbexec.QueryExecutor) *Store {
	return &Store{exec: exec}
}

// FindMany executes one fetch plan in a single statement and returns the
// matching rows with nested relation values decoded in place.
func (s *Store) FindMany(ctx context.Context, plan *planner.FetchPlan) ([]map[string]interface{}, error) {
	if plan == nil || plan.Root == nil {
		return nil, fmt.Errorf("mysqlstore: fetch plan is required")
	}

	query, args, err := compileFind(plan.Root)
	if err != nil {
		return nil, err
	}

	ctx, span := startSpan(ctx, "mysqlstore.FindMany", plan.Root.Table.Storage())
	defer span.End()

	rows, err := s.exec.QueryContext(ctx, query, args...)
	if err != nil {
		finishSpan(span, err)
		return nil, fmt.Errorf("query table %q: %w", plan.Root.Table.Name, err)
	}
	defer rows.Close()

	results, err := scanRows(rows, plan.Root)
	finishSpan(span, err)
	return results, err
}

func startSpan(ctx context.Context, name, table string) (context.Context, trace.Span) {
	tracer := otel.Tracer("rel-graphql/storage")
	return tracer.Start(ctx, name, trace.WithAttributes(attribute.String("db.table", table)))
}

func finishSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
}
