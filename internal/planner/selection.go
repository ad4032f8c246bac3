package planner

import (
	"fmt"
	"strings"

	"rel-graphql/internal/schema"

	"github.com/graphql-go/graphql/language/ast"
)

// selectionWalk accumulates one level's requested columns and relation fields
// from a GraphQL selection set, expanding inline fragments and named fragment
// spreads. Fragment names are tracked so cyclic spreads terminate. Requested
// fields that are neither columns nor relations are left for the runtime to
// resolve.
//
// Relation fields group by response key, not field name, so two aliased
// selections of the same relation stay separate branches with their own
// arguments and sub-selections.
type selectionWalk struct {
	table     *schema.Table
	fragments map[string]ast.Definition

	columns       map[string]struct{}
	relationOrder []string
	relations     map[string][]*ast.Field
	visited       map[string]struct{}
	err           error
}

func newSelectionWalk(table *schema.Table, fragments map[string]ast.Definition) *selectionWalk {
	return &selectionWalk{
		table:     table,
		fragments: fragments,
		columns:   make(map[string]struct{}),
		relations: make(map[string][]*ast.Field),
		visited:   make(map[string]struct{}),
	}
}

func (w *selectionWalk) visit(selections []ast.Selection) {
	for _, selection := range selections {
		switch sel := selection.(type) {
		case *ast.Field:
			if sel.Name == nil {
				continue
			}
			name := sel.Name.Value
			if strings.HasPrefix(name, "__") {
				continue
			}
			if w.table.Column(name) != nil {
				w.columns[name] = struct{}{}
				continue
			}
			if w.table.Relation(name) != nil {
				key := responseKey(sel)
				if existing, ok := w.relations[key]; ok {
					if w.err == nil && existing[0].Name.Value != name {
						w.err = fmt.Errorf("planner: fields %q and %q on table %q share the response key %q",
							existing[0].Name.Value, name, w.table.Name, key)
					}
				} else {
					w.relationOrder = append(w.relationOrder, key)
				}
				w.relations[key] = append(w.relations[key], sel)
			}
		case *ast.InlineFragment:
			if sel.SelectionSet != nil {
				w.visit(sel.SelectionSet.Selections)
			}
		case *ast.FragmentSpread:
			if w.fragments == nil || sel.Name == nil {
				continue
			}
			fragmentName := sel.Name.Value
			if _, seen := w.visited[fragmentName]; seen {
				continue
			}
			def, ok := w.fragments[fragmentName]
			if !ok {
				continue
			}
			fragment, ok := def.(*ast.FragmentDefinition)
			if !ok || fragment.SelectionSet == nil {
				continue
			}
			w.visited[fragmentName] = struct{}{}
			w.visit(fragment.SelectionSet.Selections)
		}
	}
}

// responseKey is the key a field's value lands under in the response: the
// alias when one is set, the field name otherwise.
func responseKey(field *ast.Field) string {
	if field.Alias != nil && field.Alias.Value != "" {
		return field.Alias.Value
	}
	return field.Name.Value
}
