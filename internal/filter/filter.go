// Package filter compiles structured filter inputs into boolean predicate
// expressions over a table's columns. A node is either a conjunction of
// per-column predicates or an OR list of sibling nodes, never both; the same
// exclusivity holds inside each column's operator map.
package filter

import (
	"fmt"
	"sort"

	"rel-graphql/internal/schema"
	"rel-graphql/internal/sqlutil"

	sq "github.com/Masterminds/squirrel"
)

// Where is a compiled filter: the predicate condition plus the API names of
// the columns it touched, sorted. A nil *Where means no filter was given,
// which is distinct from an always-true or always-false predicate.
type Where struct {
	Condition sq.Sqlizer
	Columns   []string
}

// Compile turns one filter input for a table into a Where. Empty input
// compiles to no filter (nil, nil).
func Compile(table *schema.Table, input map[string]interface{}) (*Where, error) {
	if len(input) == 0 {
		return nil, nil
	}

	used := make(map[string]bool)
	cond, err := compileNode(table, input, used)
	if err != nil {
		return nil, err
	}
	if cond == nil {
		return nil, nil
	}

	columns := make([]string, 0, len(used))
	for name := range used {
		columns = append(columns, name)
	}
	sort.Strings(columns)
	return &Where{Condition: cond, Columns: columns}, nil
}

// compileNode handles one table-level filter node. Keys are processed in
// sorted order so compiled output is deterministic for a given input.
func compileNode(table *schema.Table, input map[string]interface{}, used map[string]bool) (sq.Sqlizer, error) {
	orItems, hasOr, err := orList(input["OR"])
	if err != nil {
		return nil, fmt.Errorf("filter for table %q: %w", table.Name, err)
	}
	if hasOr {
		if len(input) > 1 {
			return nil, &ConflictError{Table: table.Name}
		}
		conds := make([]sq.Sqlizer, 0, len(orItems))
		for _, item := range orItems {
			cond, err := compileNode(table, item, used)
			if err != nil {
				return nil, err
			}
			if cond != nil {
				conds = append(conds, cond)
			}
		}
		return conjoin(sq.Or(conds), len(conds)), nil
	}

	keys := make([]string, 0, len(input))
	for key := range input {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	conditions := []sq.Sqlizer{}
	for _, key := range keys {
		if key == "OR" {
			// Empty OR list: nothing to disjoin.
			continue
		}
		col := table.Column(key)
		if col == nil {
			// Not a column on this table; left for other layers.
			continue
		}
		predMap, ok := input[key].(map[string]interface{})
		if !ok {
			return nil, fmt.Errorf("filter for table %q column %q: must be an object", table.Name, key)
		}
		if len(predMap) == 0 {
			continue
		}
		colConds, err := compileColumn(table, col, predMap)
		if err != nil {
			return nil, err
		}
		if len(colConds) > 0 {
			used[col.Name] = true
			conditions = append(conditions, colConds...)
		}
	}
	return conjoin(sq.And(conditions), len(conditions)), nil
}

// compileColumn handles one column's operator map or its OR list.
func compileColumn(table *schema.Table, col *schema.Column, predMap map[string]interface{}) ([]sq.Sqlizer, error) {
	orItems, hasOr, err := orList(predMap["OR"])
	if err != nil {
		return nil, fmt.Errorf("filter for table %q column %q: %w", table.Name, col.Name, err)
	}
	if hasOr {
		if len(predMap) > 1 {
			return nil, &ConflictError{Table: table.Name, Column: col.Name}
		}
		conds := make([]sq.Sqlizer, 0, len(orItems))
		for _, item := range orItems {
			itemConds, err := compileColumn(table, col, item)
			if err != nil {
				return nil, err
			}
			if len(itemConds) > 0 {
				conds = append(conds, conjoin(sq.And(itemConds), len(itemConds)))
			}
		}
		if len(conds) == 0 {
			return nil, nil
		}
		return []sq.Sqlizer{conjoin(sq.Or(conds), len(conds))}, nil
	}

	quoted := sqlutil.QuoteIdentifier(col.Storage())

	ops := make([]string, 0, len(predMap))
	for op := range predMap {
		ops = append(ops, op)
	}
	sort.Strings(ops)

	conditions := []sq.Sqlizer{}
	for _, op := range ops {
		value := predMap[op]
		if op == "OR" {
			continue
		}
		// null or false means "not specified"; comparing against null
		// takes isNull/isNotNull.
		if value == nil {
			continue
		}
		if b, ok := value.(bool); ok && !b {
			continue
		}

		switch op {
		case "eq":
			conditions = append(conditions, sq.Eq{quoted: value})
		case "ne":
			conditions = append(conditions, sq.NotEq{quoted: value})
		case "gt":
			conditions = append(conditions, sq.Gt{quoted: value})
		case "gte":
			conditions = append(conditions, sq.GtOrEq{quoted: value})
		case "lt":
			conditions = append(conditions, sq.Lt{quoted: value})
		case "lte":
			conditions = append(conditions, sq.LtOrEq{quoted: value})
		case "like":
			conditions = append(conditions, sq.Like{quoted: value})
		case "notLike":
			conditions = append(conditions, sq.NotLike{quoted: value})
		case "ilike":
			conditions = append(conditions, sq.Expr(fmt.Sprintf("LOWER(%s) LIKE LOWER(?)", quoted), value))
		case "notIlike":
			conditions = append(conditions, sq.Expr(fmt.Sprintf("LOWER(%s) NOT LIKE LOWER(?)", quoted), value))
		case "inArray", "notInArray":
			arr, ok := value.([]interface{})
			if !ok {
				return nil, fmt.Errorf("filter for table %q column %q: %s requires an array", table.Name, col.Name, op)
			}
			if len(arr) == 0 {
				return nil, &EmptyListError{Table: table.Name, Column: col.Name, Operator: op}
			}
			if op == "inArray" {
				conditions = append(conditions, sq.Eq{quoted: arr})
			} else {
				conditions = append(conditions, sq.NotEq{quoted: arr})
			}
		case "isNull":
			conditions = append(conditions, sq.Eq{quoted: nil})
		case "isNotNull":
			conditions = append(conditions, sq.NotEq{quoted: nil})
		default:
			return nil, &UnknownOperatorError{Table: table.Name, Column: col.Name, Operator: op}
		}
	}
	return conditions, nil
}

// orList extracts an OR value. hasOr is true only for a non-empty list of
// objects; a present-but-empty list counts as absent.
func orList(raw interface{}) ([]map[string]interface{}, bool, error) {
	if raw == nil {
		return nil, false, nil
	}
	arr, ok := raw.([]interface{})
	if !ok {
		return nil, false, fmt.Errorf("OR must be an array")
	}
	if len(arr) == 0 {
		return nil, false, nil
	}
	items := make([]map[string]interface{}, 0, len(arr))
	for _, item := range arr {
		m, ok := item.(map[string]interface{})
		if !ok {
			return nil, false, fmt.Errorf("OR array items must be objects")
		}
		items = append(items, m)
	}
	return items, true, nil
}

func conjoin(combined sq.Sqlizer, n int) sq.Sqlizer {
	switch n {
	case 0:
		return nil
	case 1:
		switch c := combined.(type) {
		case sq.And:
			return c[0]
		case sq.Or:
			return c[0]
		default:
			return combined
		}
	default:
		return combined
	}
}
