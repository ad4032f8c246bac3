// Package storage defines the capability the compiled operations execute
// against. A read submits one fetch plan and is answered in a single round
// trip; writes return the affected primary keys so the caller can re-select
// the written rows through the planner, honoring the original sub-selection.
package storage

import (
	"context"

	"rel-graphql/internal/filter"
	"rel-graphql/internal/planner"
	"rel-graphql/internal/schema"
)

// Client is the storage capability.
type Client interface {
	// FindMany executes one fetch plan and returns the matching rows. Nested
	// relation values are in place: a one-relation is a nested row map or
	// nil, a many-relation is a slice of row maps.
	FindMany(ctx context.Context, plan *planner.FetchPlan) ([]map[string]interface{}, error)

	// InsertMany writes values as new rows and returns each written row's
	// primary-key value, in input order.
	InsertMany(ctx context.Context, table *schema.Table, values []map[string]interface{}) ([]interface{}, error)

	// UpdateMany applies set to every row matching where (nil matches all
	// rows) and returns the primary-key values of the rows it updated.
	UpdateMany(ctx context.Context, table *schema.Table, set map[string]interface{}, where *filter.Where) ([]interface{}, error)

	// DeleteMany removes every row matching where (nil matches all rows) and
	// reports how many rows were removed.
	DeleteMany(ctx context.Context, table *schema.Table, where *filter.Where) (int64, error)
}
