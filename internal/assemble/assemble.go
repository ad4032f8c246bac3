// Package assemble derives the complete query-language surface from a
// relational schema: one output type per table, the shared filter/order
// input family, find-many/find-first root fields, and optionally the
// insert/update/delete mutation fields. One build pass produces three
// coupled artifacts — the type-definition text, the unbound resolver map,
// and an executable schema — all rendered from one shared registry so they
// cannot drift apart.
package assemble

import (
	"fmt"

	"rel-graphql/internal/naming"
	"rel-graphql/internal/planner"
	"rel-graphql/internal/resolver"
	"rel-graphql/internal/schema"
	"rel-graphql/internal/storage"
	"rel-graphql/internal/typemap"

	"github.com/graphql-go/graphql"
)

// Options configures one build.
type Options struct {
	// Mutations controls whether mutation root fields are generated. Tables
	// without a primary key fail the build when this is on.
	Mutations bool

	// MaxDepth bounds relation nesting in compiled plans. Mandatory; the
	// root selection is depth 1, so it must be at least 1.
	MaxDepth int

	// DefaultLimit and MaxLimit are the read-side list limits handed to the
	// resolvers. Zero disables each.
	DefaultLimit int
	MaxLimit     int

	// Intercept, when set, wraps every generated root-field resolver before
	// it is bound. field is the root field's name. Interceptors see mutation
	// resolvers too.
	Intercept func(field string, resolve graphql.FieldResolveFn) graphql.FieldResolveFn
}

// Result is the coupled output of one build.
type Result struct {
	// SDL is the generated type-definition text.
	SDL string
	// Resolvers is the unbound resolver map keyed by root field name.
	Resolvers *resolver.Map
	// Schema is the executable schema wiring the same resolvers.
	Schema graphql.Schema
}

// columnField pairs a column with its resolved base type name.
type columnField struct {
	col  *schema.Column
	base string
}

// tableModel is the per-table generation model shared by the text renderer
// and the executable-schema builder.
type tableModel struct {
	table    *schema.Table
	typeName string
	rootName string
	columns  []columnField
}

// build aggregates everything one build pass produces before rendering.
type build struct {
	reg       *typemap.Registry
	models    []*tableModel
	byTable   map[string]*tableModel
	mutations bool
}

// Build derives the full surface for s over store. The returned resolvers
// are already bound into Result.Schema; the map is exposed so callers can
// wire them into their own runtime instead.
func Build(s *schema.Schema, store storage.Client, opts Options) (*Result, error) {
	if s == nil {
		return nil, fmt.Errorf("assemble: schema is required")
	}
	if store == nil {
		return nil, fmt.Errorf("assemble: storage client is required")
	}
	if opts.MaxDepth < 1 {
		return nil, fmt.Errorf("assemble: max depth must be at least 1, got %d", opts.MaxDepth)
	}
	if len(s.Tables) == 0 {
		return nil, fmt.Errorf("assemble: schema contains no tables")
	}

	reg := typemap.NewRegistry()
	typemap.PropagateKeyOverrides(reg, s)

	b, err := newBuild(reg, s, opts.Mutations)
	if err != nil {
		return nil, err
	}
	if err := checkNames(b); err != nil {
		return nil, err
	}

	pl, err := planner.New(s, opts.MaxDepth)
	if err != nil {
		return nil, err
	}
	res, err := resolver.New(s, pl, store, resolver.Config{
		DefaultLimit: opts.DefaultLimit,
		MaxLimit:     opts.MaxLimit,
	})
	if err != nil {
		return nil, err
	}
	resolvers := res.BuildMap(opts.Mutations)
	if opts.Intercept != nil {
		for field, resolve := range resolvers.Query {
			resolvers.Query[field] = opts.Intercept(field, resolve)
		}
		for field, resolve := range resolvers.Mutation {
			resolvers.Mutation[field] = opts.Intercept(field, resolve)
		}
	}

	execSchema, err := newExecBuilder(b, resolvers).schema()
	if err != nil {
		return nil, fmt.Errorf("assemble: %w", err)
	}

	return &Result{
		SDL:       renderSDL(b),
		Resolvers: resolvers,
		Schema:    execSchema,
	}, nil
}

// newBuild resolves every column's base type and validates the schema's
// shape for generation: tables need columns, relation targets must exist,
// relation names must not shadow columns, and every table needs a primary
// key when mutations are on.
func newBuild(reg *typemap.Registry, s *schema.Schema, mutations bool) (*build, error) {
	b := &build{
		reg:       reg,
		models:    make([]*tableModel, 0, len(s.Tables)),
		byTable:   make(map[string]*tableModel, len(s.Tables)),
		mutations: mutations,
	}

	for _, t := range s.Tables {
		typeName := naming.TypeName(t.Name)
		if naming.IsReservedTypeName(typeName) {
			return nil, fmt.Errorf("assemble: table %q maps to reserved type name %q", t.Name, typeName)
		}
		if len(t.Columns) == 0 {
			return nil, fmt.Errorf("assemble: table %q has no columns", t.Name)
		}
		if mutations && t.PrimaryKey() == nil {
			return nil, fmt.Errorf("assemble: table %q has no primary key; mutations require one", t.Name)
		}

		m := &tableModel{table: t, typeName: typeName, rootName: naming.Camel(t.Name)}
		for _, col := range t.Columns {
			base, err := typemap.BaseType(reg, t, col)
			if err != nil {
				return nil, fmt.Errorf("assemble: %w", err)
			}
			reg.FilterName(base)
			m.columns = append(m.columns, columnField{col: col, base: base})
		}

		relNames := make(map[string]struct{}, len(t.Relations))
		for _, rel := range t.Relations {
			if s.Table(rel.Target) == nil {
				return nil, fmt.Errorf("assemble: relation %q on table %q targets unknown table %q", rel.Name, t.Name, rel.Target)
			}
			if t.Column(rel.Name) != nil {
				return nil, fmt.Errorf("assemble: relation %q on table %q shadows a column of the same name", rel.Name, t.Name)
			}
			if _, ok := relNames[rel.Name]; ok {
				return nil, fmt.Errorf("assemble: table %q declares relation %q twice", t.Name, rel.Name)
			}
			relNames[rel.Name] = struct{}{}
		}

		b.models = append(b.models, m)
		b.byTable[t.Name] = m
	}
	return b, nil
}

// checkNames rejects builds whose generated type names collide, including
// collisions with the fixed shared types. The registry already keeps filter
// names collision-free among themselves; this guards across categories.
func checkNames(b *build) error {
	seen := map[string]string{
		"Query":        "a built-in type",
		"Mutation":     "a built-in type",
		"Subscription": "a built-in type",
		"Int":          "a built-in type",
		"Float":        "a built-in type",
		"String":       "a built-in type",
		"Boolean":      "a built-in type",
		"ID":           "a built-in type",
		"Direction":    "the shared sort direction enum",
		"OrderByEntry": "the shared sort entry input",
	}
	claim := func(name, what string) error {
		if prev, ok := seen[name]; ok {
			return fmt.Errorf("assemble: type name %q is generated twice (%s and %s)", name, prev, what)
		}
		seen[name] = what
		return nil
	}

	for _, name := range b.reg.Scalars() {
		if err := claim(name, "a declared scalar"); err != nil {
			return err
		}
	}
	for _, e := range b.reg.Enums() {
		if err := claim(e.Name, "a column enum"); err != nil {
			return err
		}
	}
	for _, entry := range b.reg.FilterEntries() {
		if err := claim(entry.Name, fmt.Sprintf("the filter input for %s", entry.Base)); err != nil {
			return err
		}
	}

	roots := make(map[string]string, len(b.models))
	for _, m := range b.models {
		what := fmt.Sprintf("table %q", m.table.Name)
		for _, suffix := range []string{"", "InsertInput", "UpdateInput", "Filters", "OrderBy"} {
			if err := claim(m.typeName+suffix, what); err != nil {
				return err
			}
		}
		if prev, ok := roots[m.rootName]; ok {
			return fmt.Errorf("assemble: tables %q and %q generate the same root field prefix %q", prev, m.table.Name, m.rootName)
		}
		roots[m.rootName] = m.table.Name
	}
	return nil
}
