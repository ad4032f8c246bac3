package resolver

import (
	"fmt"

	"rel-graphql/internal/planner"
	"rel-graphql/internal/schema"

	"github.com/graphql-go/graphql"
)

// FindMany returns the list-query resolver for table. Arguments: where,
// orderBy, limit, offset.
func (r *Resolver) FindMany(table *schema.Table) graphql.FieldResolveFn {
	return func(p graphql.ResolveParams) (interface{}, error) {
		ctx, span := startResolverSpan(p.Context, "resolver.FindMany", table.Name)
		defer span.End()

		fetchPlan, err := r.plan(p, table, p.Args,
			planner.WithDefaultLimit(r.defaultLimit), planner.WithMaxLimit(r.maxLimit))
		if err != nil {
			finishResolverSpan(span, err)
			return nil, err
		}

		rows, err := r.store.FindMany(ctx, fetchPlan)
		finishResolverSpan(span, err)
		if err != nil {
			return nil, err
		}
		recordFetch(ctx, table.Name, len(rows), fetchPlan)
		return rows, nil
	}
}

// FindFirst returns the single-row query resolver for table. Arguments:
// where, orderBy, offset. Zero matches resolve to null, never an error.
func (r *Resolver) FindFirst(table *schema.Table) graphql.FieldResolveFn {
	return func(p graphql.ResolveParams) (interface{}, error) {
		ctx, span := startResolverSpan(p.Context, "resolver.FindFirst", table.Name)
		defer span.End()

		args := copyArgs(p.Args)
		args["limit"] = 1
		fetchPlan, err := r.plan(p, table, args,
			planner.WithDefaultLimit(r.defaultLimit), planner.WithMaxLimit(r.maxLimit))
		if err != nil {
			finishResolverSpan(span, err)
			return nil, err
		}

		rows, err := r.store.FindMany(ctx, fetchPlan)
		finishResolverSpan(span, err)
		if err != nil {
			return nil, err
		}
		recordFetch(ctx, table.Name, len(rows), fetchPlan)
		if len(rows) == 0 {
			return nil, nil
		}
		return rows[0], nil
	}
}

// InsertMany returns the bulk-insert resolver for table. Argument: values,
// a non-empty list of row objects. The response is the re-fetch of the
// written rows by primary key.
func (r *Resolver) InsertMany(table *schema.Table) graphql.FieldResolveFn {
	return func(p graphql.ResolveParams) (interface{}, error) {
		ctx, span := startResolverSpan(p.Context, "resolver.InsertMany", table.Name)
		defer span.End()

		values, err := insertValues(table, p.Args)
		if err != nil {
			finishResolverSpan(span, err)
			return nil, err
		}

		keys, err := r.store.InsertMany(ctx, table, values)
		if err != nil {
			finishResolverSpan(span, err)
			return nil, err
		}

		rows, err := r.refetch(ctx, p, table, keys)
		finishResolverSpan(span, err)
		if err != nil {
			return nil, err
		}
		recordMutation(ctx, table.Name, "insert", int64(len(keys)))
		return rows, nil
	}
}

// UpdateMany returns the bulk-update resolver for table. Arguments: set, a
// non-empty column map, and an optional where. The response is the re-fetch
// of the updated rows by primary key.
func (r *Resolver) UpdateMany(table *schema.Table) graphql.FieldResolveFn {
	return func(p graphql.ResolveParams) (interface{}, error) {
		ctx, span := startResolverSpan(p.Context, "resolver.UpdateMany", table.Name)
		defer span.End()

		set, _ := p.Args["set"].(map[string]interface{})
		if len(set) == 0 {
			err := &ValidationError{Table: table.Name, Argument: "set", Reason: "requires at least one column"}
			finishResolverSpan(span, err)
			return nil, err
		}
		where, err := whereFilter(table, p.Args)
		if err != nil {
			finishResolverSpan(span, err)
			return nil, err
		}

		keys, err := r.store.UpdateMany(ctx, table, set, where)
		if err != nil {
			finishResolverSpan(span, err)
			return nil, err
		}

		rows, err := r.refetch(ctx, p, table, keys)
		finishResolverSpan(span, err)
		if err != nil {
			return nil, err
		}
		recordMutation(ctx, table.Name, "update", int64(len(keys)))
		return rows, nil
	}
}

// DeleteMany returns the bulk-delete resolver for table. Argument: an
// optional where. Matching rows are captured with the caller's sub-selection
// before the delete applies; the captured rows are the response.
func (r *Resolver) DeleteMany(table *schema.Table) graphql.FieldResolveFn {
	return func(p graphql.ResolveParams) (interface{}, error) {
		ctx, span := startResolverSpan(p.Context, "resolver.DeleteMany", table.Name)
		defer span.End()

		fetchPlan, err := r.plan(p, table, p.Args)
		if err != nil {
			finishResolverSpan(span, err)
			return nil, err
		}
		rows, err := r.store.FindMany(ctx, fetchPlan)
		if err != nil {
			finishResolverSpan(span, err)
			return nil, err
		}

		where, err := whereFilter(table, p.Args)
		if err != nil {
			finishResolverSpan(span, err)
			return nil, err
		}
		deleted, err := r.store.DeleteMany(ctx, table, where)
		if err != nil {
			finishResolverSpan(span, err)
			return nil, err
		}
		recordMutation(ctx, table.Name, "delete", deleted)

		finishResolverSpan(span, nil)
		return rows, nil
	}
}

// insertValues validates and unwraps the values argument.
func insertValues(table *schema.Table, args map[string]interface{}) ([]map[string]interface{}, error) {
	raw, _ := args["values"].([]interface{})
	if len(raw) == 0 {
		return nil, &ValidationError{Table: table.Name, Argument: "values", Reason: "requires at least one entry"}
	}
	values := make([]map[string]interface{}, len(raw))
	for i, entry := range raw {
		value, ok := entry.(map[string]interface{})
		if !ok {
			return nil, &ValidationError{Table: table.Name, Argument: "values", Reason: fmt.Sprintf("entry %d must be an object", i)}
		}
		values[i] = value
	}
	return values, nil
}
