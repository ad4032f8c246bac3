// Package resolver implements the five root-field operations over the
// planner and the storage capability: find-many, find-first, insert-many,
// update-many, delete-many. Each operation compiles its entire fetch plan
// before touching storage, so one root field costs one read round trip no
// matter how deep its relations nest. Mutations write first and then
// re-select the affected rows by primary key so their responses honor the
// caller's requested sub-selection, including relations; the write and the
// re-select are separate storage calls, so a concurrent writer can change
// rows in between.
package resolver

import (
	"context"
	"fmt"

	"rel-graphql/internal/filter"
	"rel-graphql/internal/naming"
	"rel-graphql/internal/planner"
	"rel-graphql/internal/schema"
	"rel-graphql/internal/storage"

	"github.com/graphql-go/graphql"
	"github.com/graphql-go/graphql/language/ast"
)

// Map is the unbound resolver map: one resolver per generated root field,
// keyed by field name.
type Map struct {
	Query    map[string]graphql.FieldResolveFn
	Mutation map[string]graphql.FieldResolveFn
}

// Config carries the list-limit knobs applied to read operations.
type Config struct {
	// DefaultLimit caps list levels that request no limit. Zero disables
	// the fallback.
	DefaultLimit int
	// MaxLimit rejects requested limits above it. Zero disables the cap.
	MaxLimit int
}

// Resolver builds operation resolvers for one schema over one storage
// client.
type Resolver struct {
	schema       *schema.Schema
	planner      *planner.Planner
	store        storage.Client
	defaultLimit int
	maxLimit     int
}

// New returns a Resolver. The planner carries the mandatory maximum relation
// depth; cfg's limits apply to find operations only, never to mutation
// re-fetches.
func New(s *schema.Schema, pl *planner.Planner, store storage.Client, cfg Config) (*Resolver, error) {
	if s == nil {
		return nil, fmt.Errorf("resolver: schema is required")
	}
	if pl == nil {
		return nil, fmt.Errorf("resolver: planner is required")
	}
	if store == nil {
		return nil, fmt.Errorf("resolver: storage client is required")
	}
	if cfg.DefaultLimit < 0 || cfg.MaxLimit < 0 {
		return nil, fmt.Errorf("resolver: limits must be non-negative")
	}
	if cfg.MaxLimit > 0 && cfg.DefaultLimit > cfg.MaxLimit {
		return nil, fmt.Errorf("resolver: default limit %d exceeds max limit %d", cfg.DefaultLimit, cfg.MaxLimit)
	}
	return &Resolver{
		schema:       s,
		planner:      pl,
		store:        store,
		defaultLimit: cfg.DefaultLimit,
		maxLimit:     cfg.MaxLimit,
	}, nil
}

// BuildMap returns resolvers for every table: {table}FindMany and
// {table}FindFirst under Query, plus {table}InsertMany, {table}UpdateMany,
// and {table}DeleteMany under Mutation when mutations is true.
func (r *Resolver) BuildMap(mutations bool) *Map {
	m := &Map{
		Query:    make(map[string]graphql.FieldResolveFn),
		Mutation: make(map[string]graphql.FieldResolveFn),
	}
	for _, table := range r.schema.Tables {
		base := naming.Camel(table.Name)
		m.Query[base+"FindMany"] = r.FindMany(table)
		m.Query[base+"FindFirst"] = r.FindFirst(table)
		if mutations {
			m.Mutation[base+"InsertMany"] = r.InsertMany(table)
			m.Mutation[base+"UpdateMany"] = r.UpdateMany(table)
			m.Mutation[base+"DeleteMany"] = r.DeleteMany(table)
		}
	}
	return m
}

// plan compiles the caller's selection tree for table. extra options stack
// on the request's fragments and variables.
func (r *Resolver) plan(p graphql.ResolveParams, table *schema.Table, args map[string]interface{}, extra ...planner.Option) (*planner.FetchPlan, error) {
	opts := append([]planner.Option{
		planner.WithFragments(p.Info.Fragments),
		planner.WithVariables(p.Info.VariableValues),
	}, extra...)
	return r.planner.Build(table, args, rootSelections(p), opts...)
}

// refetch re-selects rows by primary key using the caller's original
// sub-selection. The key filter goes through the public filter language, so
// the re-fetch is an ordinary find plan.
func (r *Resolver) refetch(ctx context.Context, p graphql.ResolveParams, table *schema.Table, keys []interface{}) ([]map[string]interface{}, error) {
	if len(keys) == 0 {
		return []map[string]interface{}{}, nil
	}
	pk := table.PrimaryKey()
	if pk == nil {
		return nil, fmt.Errorf("resolver: table %q has no primary key for re-fetch", table.Name)
	}

	args := map[string]interface{}{
		"where": map[string]interface{}{
			pk.Name: map[string]interface{}{"inArray": keys},
		},
	}
	fetchPlan, err := r.plan(p, table, args)
	if err != nil {
		return nil, err
	}
	return r.store.FindMany(ctx, fetchPlan)
}

// whereFilter compiles the optional where argument.
func whereFilter(table *schema.Table, args map[string]interface{}) (*filter.Where, error) {
	input, ok := args["where"].(map[string]interface{})
	if !ok {
		return nil, nil
	}
	return filter.Compile(table, input)
}

// rootSelections merges the sub-selections of every AST field backing the
// resolved root field.
func rootSelections(p graphql.ResolveParams) []ast.Selection {
	var selections []ast.Selection
	for _, field := range p.Info.FieldASTs {
		if field != nil && field.SelectionSet != nil {
			selections = append(selections, field.SelectionSet.Selections...)
		}
	}
	return selections
}

func copyArgs(args map[string]interface{}) map[string]interface{} {
	copied := make(map[string]interface{}, len(args)+1)
	for k, v := range args {
		copied[k] = v
	}
	return copied
}
