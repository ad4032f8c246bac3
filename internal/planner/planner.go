package planner

import (
	"fmt"

	"rel-graphql/internal/filter"
	"rel-graphql/internal/order"
	"rel-graphql/internal/schema"

	"github.com/graphql-go/graphql/language/ast"
)

// SelectionNode is one compiled level of a fetch plan: the projected columns
// for one table, the filter/order/pagination bound at this level, and one
// child node per requested relation. A node is built fresh for one operation
// and never shared across operations.
type SelectionNode struct {
	Table   *schema.Table
	Columns []*schema.Column

	// Where is nil when the level carries no filter; storage must not emit a
	// WHERE clause for it.
	Where  *filter.Where
	Order  []order.Entry
	Limit  *int
	Offset *int

	// Relations holds one child per requested relation branch, in first-seen
	// selection order. Aliased selections of the same relation are distinct
	// branches.
	Relations []*RelationPlan
}

// RelationPlan binds a child selection to the relation that reaches it.
type RelationPlan struct {
	// Key is the response key the child's rows embed under: the selection's
	// alias when one is set, the relation name otherwise.
	Key      string
	Relation *schema.Relation
	Node     *SelectionNode
}

// FetchPlan is the storage-facing plan for one root field. The entire nested
// tree is compiled before any storage call is made, so executing one plan is
// one storage round trip regardless of nesting depth.
type FetchPlan struct {
	Root *SelectionNode
}

// Depth reports the plan's relation nesting depth; a plan with no relation
// children is depth 1.
func (p *FetchPlan) Depth() int {
	return nodeDepth(p.Root)
}

func nodeDepth(node *SelectionNode) int {
	if node == nil {
		return 0
	}
	deepest := 0
	for _, rel := range node.Relations {
		if d := nodeDepth(rel.Node); d > deepest {
			deepest = d
		}
	}
	return deepest + 1
}

type planOptions struct {
	fragments    map[string]ast.Definition
	variables    map[string]interface{}
	defaultLimit int
	maxLimit     int
}

// Option customizes plan construction.
type Option func(*planOptions)

// WithFragments provides the request's named fragments for selection
// expansion.
func WithFragments(fragments map[string]ast.Definition) Option {
	return func(o *planOptions) {
		o.fragments = fragments
	}
}

// WithVariables provides the operation's coerced variable values so relation
// field arguments may reference them.
func WithVariables(values map[string]interface{}) Option {
	return func(o *planOptions) {
		o.variables = values
	}
}

// WithDefaultLimit applies limit to every list-shaped level that does not
// request one. Zero disables the fallback.
func WithDefaultLimit(limit int) Option {
	return func(o *planOptions) {
		o.defaultLimit = limit
	}
}

// WithMaxLimit rejects any requested limit above max. Zero disables the cap.
func WithMaxLimit(max int) Option {
	return func(o *planOptions) {
		o.maxLimit = max
	}
}

// Planner compiles requested-field trees into fetch plans. The relation graph
// may contain cycles, so nesting is cut off at a mandatory maximum depth.
type Planner struct {
	schema   *schema.Schema
	maxDepth int
}

// New returns a Planner over the given schema. maxDepth bounds relation
// nesting: the root selection is depth 1, so maxDepth must be at least 1.
func New(s *schema.Schema, maxDepth int) (*Planner, error) {
	if s == nil {
		return nil, fmt.Errorf("planner: schema is required")
	}
	if maxDepth < 1 {
		return nil, fmt.Errorf("planner: max depth must be at least 1, got %d", maxDepth)
	}
	return &Planner{schema: s, maxDepth: maxDepth}, nil
}

// MaxDepth reports the nesting bound the planner was built with.
func (p *Planner) MaxDepth() int {
	return p.maxDepth
}

// Build compiles one root field's selection tree against table. args are the
// root field's coerced argument values (where, orderBy, limit, offset);
// selections is the field's sub-selection. Relation fields nested past the
// maximum depth are truncated, not rejected.
func (p *Planner) Build(table *schema.Table, args map[string]interface{}, selections []ast.Selection, opts ...Option) (*FetchPlan, error) {
	if table == nil {
		return nil, fmt.Errorf("planner: table is required")
	}

	options := &planOptions{}
	for _, opt := range opts {
		opt(options)
	}

	root, err := p.buildNode(table, args, selections, options, 1, true)
	if err != nil {
		return nil, err
	}
	return &FetchPlan{Root: root}, nil
}

func (p *Planner) buildNode(table *schema.Table, args map[string]interface{}, selections []ast.Selection, options *planOptions, depth int, listShaped bool) (*SelectionNode, error) {
	node := &SelectionNode{Table: table}

	if err := compileArguments(node, table, args); err != nil {
		return nil, err
	}
	if listShaped {
		if options.maxLimit > 0 && node.Limit != nil && *node.Limit > options.maxLimit {
			return nil, fmt.Errorf("planner: limit %d on table %q exceeds the maximum of %d", *node.Limit, table.Name, options.maxLimit)
		}
		if options.defaultLimit > 0 && node.Limit == nil {
			fallback := options.defaultLimit
			node.Limit = &fallback
		}
	}

	walk := newSelectionWalk(table, options.fragments)
	walk.visit(selections)
	if walk.err != nil {
		return nil, walk.err
	}

	if depth < p.maxDepth {
		for _, key := range walk.relationOrder {
			fields := walk.relations[key]
			rel := table.Relation(fields[0].Name.Value)
			target := p.schema.Table(rel.Target)
			if target == nil {
				return nil, fmt.Errorf("planner: relation %q on table %q references unknown table %q", rel.Name, table.Name, rel.Target)
			}

			child, err := p.buildNode(target, relationArguments(fields, options.variables), mergedSelections(fields), options, depth+1, rel.Cardinality == schema.Many)
			if err != nil {
				return nil, err
			}
			node.Relations = append(node.Relations, &RelationPlan{Key: key, Relation: rel, Node: child})
		}
	}

	node.Columns = projection(table, walk.columns, node.Relations)
	for _, rel := range node.Relations {
		for _, col := range node.Columns {
			// An unaliased relation cannot shadow a column; schema validation
			// rejects that. Only an alias can collide here, and a colliding
			// alias would corrupt the row shape.
			if col.Name == rel.Key {
				return nil, fmt.Errorf("planner: relation alias %q on table %q collides with projected column %q", rel.Key, table.Name, col.Name)
			}
		}
	}
	return node, nil
}

// projection intersects the requested names with the table's columns,
// preserving declaration order, and forces in the primary key plus every
// planned relation's local join columns. With nothing requested and nothing
// forced, every column is projected.
func projection(table *schema.Table, requested map[string]struct{}, relations []*RelationPlan) []*schema.Column {
	selected := make(map[string]struct{}, len(requested)+1)
	for name := range requested {
		selected[name] = struct{}{}
	}
	if pk := table.PrimaryKey(); pk != nil {
		selected[pk.Name] = struct{}{}
	}
	for _, rel := range relations {
		for _, pair := range rel.Relation.Pairs {
			selected[pair.Field] = struct{}{}
		}
	}

	if len(selected) == 0 {
		return table.Columns
	}

	columns := make([]*schema.Column, 0, len(selected))
	for _, col := range table.Columns {
		if _, ok := selected[col.Name]; ok {
			columns = append(columns, col)
		}
	}
	if len(columns) == 0 {
		return table.Columns
	}
	return columns
}

// mergedSelections concatenates the sub-selections of every AST field sharing
// one response key at one level, so duplicated selections (typically via
// fragments) merge into a single child plan.
func mergedSelections(fields []*ast.Field) []ast.Selection {
	var merged []ast.Selection
	for _, field := range fields {
		if field.SelectionSet != nil {
			merged = append(merged, field.SelectionSet.Selections...)
		}
	}
	return merged
}
