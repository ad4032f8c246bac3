package mysqlstore

import (
	"fmt"
	"math"
	"strings"

	"rel-graphql/internal/planner"
	"rel-graphql/internal/schema"
	"rel-graphql/internal/sqlutil"

	sq "github.com/Masterminds/squirrel"
)

// aliasSeq hands out the table aliases of one statement: t0, t1, t2, …
// A derived-table wrapper around tN is named dN.
type aliasSeq struct {
	n int
}

func (a *aliasSeq) next() string {
	alias := fmt.Sprintf("t%d", a.n)
	a.n++
	return alias
}

func derivedAlias(alias string) string {
	return "d" + strings.TrimPrefix(alias, "t")
}

// compileFind renders one plan tree into a single SELECT statement.
func compileFind(node *planner.SelectionNode) (string, []interface{}, error) {
	seq := &aliasSeq{}
	builder, err := rowSelect(node, seq.next(), "", seq)
	if err != nil {
		return "", nil, err
	}
	return builder.ToSql()
}

// rowSelect renders one node as a row-shaped SELECT: each projected column
// aliased to its API name, plus one JSON expression per planned relation
// branch aliased to the branch's response key. Used for the plan root and for
// the inner query of the derived-table form; corr is empty for the root and
// carries the parent-correlation predicate otherwise.
func rowSelect(node *planner.SelectionNode, alias, corr string, seq *aliasSeq) (sq.SelectBuilder, error) {
	builder := sq.Select().
		From(fromClause(node.Table, alias)).
		PlaceholderFormat(sq.Question)

	for _, col := range node.Columns {
		builder = builder.Column(fmt.Sprintf("%s AS %s",
			columnExpr(alias, col),
			sqlutil.QuoteIdentifier(col.Name),
		))
	}
	for _, rel := range node.Relations {
		expr, args, err := relationExpr(rel, node.Table, alias, seq)
		if err != nil {
			return builder, err
		}
		builder = builder.Column(sq.Expr(expr+" AS "+sqlutil.QuoteIdentifier(rel.Key), args...))
	}

	if corr != "" {
		builder = builder.Where(sq.Expr(corr))
	}
	if node.Where != nil {
		builder = builder.Where(node.Where.Condition)
	}
	for _, entry := range node.Order {
		builder = builder.OrderBy(sqlutil.QuoteIdentifier(entry.Column.Storage()) + " " + entry.Direction.SQL())
	}

	switch {
	case node.Limit != nil:
		builder = builder.Limit(uint64(*node.Limit))
	case node.Offset != nil:
		// MySQL refuses OFFSET without LIMIT.
		builder = builder.Limit(math.MaxUint64)
	case corr != "" && len(node.Order) > 0:
		// Inside a derived table the ORDER BY is only honored when the table
		// is materialized; a LIMIT forces that.
		builder = builder.Limit(math.MaxUint64)
	}
	if node.Offset != nil {
		builder = builder.Offset(uint64(*node.Offset))
	}

	return builder, nil
}

// relationExpr renders one relation child as a correlated scalar expression:
// a JSON_OBJECT subquery for a one-relation, a JSON_ARRAYAGG subquery for a
// many-relation (COALESCEd to an empty array). A many-relation carrying
// order or pagination goes through a derived table so those clauses apply
// per parent row before aggregation.
func relationExpr(rel *planner.RelationPlan, parent *schema.Table, parentAlias string, seq *aliasSeq) (string, []interface{}, error) {
	node := rel.Node
	alias := seq.next()

	corr, err := correlation(rel.Relation, parent, node.Table, parentAlias, alias)
	if err != nil {
		return "", nil, err
	}

	if rel.Relation.Cardinality == schema.One {
		object, objectArgs, err := jsonObjectExpr(node, alias, seq)
		if err != nil {
			return "", nil, err
		}
		builder := sq.Select().
			Column(sq.Expr(object, objectArgs...)).
			From(fromClause(node.Table, alias)).
			Where(sq.Expr(corr)).
			PlaceholderFormat(sq.Question).
			Limit(1)
		if node.Where != nil {
			builder = builder.Where(node.Where.Condition)
		}
		query, args, err := builder.ToSql()
		if err != nil {
			return "", nil, err
		}
		return "(" + query + ")", args, nil
	}

	if needsDerived(node) {
		inner, err := rowSelect(node, alias, corr, seq)
		if err != nil {
			return "", nil, err
		}
		innerQuery, innerArgs, err := inner.ToSql()
		if err != nil {
			return "", nil, err
		}

		da := derivedAlias(alias)
		parts := make([]string, 0, 2*(len(node.Columns)+len(node.Relations)))
		for _, col := range node.Columns {
			parts = append(parts, jsonKey(col.Name), sqlutil.Qualify(da, col.Name))
		}
		for _, child := range node.Relations {
			parts = append(parts, jsonKey(child.Key), sqlutil.Qualify(da, child.Key))
		}
		query := fmt.Sprintf("SELECT JSON_ARRAYAGG(JSON_OBJECT(%s)) FROM (%s) AS %s",
			strings.Join(parts, ", "), innerQuery, sqlutil.QuoteIdentifier(da))
		return "COALESCE((" + query + "), JSON_ARRAY())", innerArgs, nil
	}

	object, objectArgs, err := jsonObjectExpr(node, alias, seq)
	if err != nil {
		return "", nil, err
	}
	builder := sq.Select().
		Column(sq.Expr("JSON_ARRAYAGG("+object+")", objectArgs...)).
		From(fromClause(node.Table, alias)).
		Where(sq.Expr(corr)).
		PlaceholderFormat(sq.Question)
	if node.Where != nil {
		builder = builder.Where(node.Where.Condition)
	}
	query, args, err := builder.ToSql()
	if err != nil {
		return "", nil, err
	}
	return "COALESCE((" + query + "), JSON_ARRAY())", args, nil
}

// jsonObjectExpr renders one node's row shape as a JSON_OBJECT over its
// aliased table, keyed by API field names, with nested relations embedded as
// further correlated subqueries.
func jsonObjectExpr(node *planner.SelectionNode, alias string, seq *aliasSeq) (string, []interface{}, error) {
	parts := make([]string, 0, 2*(len(node.Columns)+len(node.Relations)))
	var args []interface{}

	for _, col := range node.Columns {
		parts = append(parts, jsonKey(col.Name), columnExpr(alias, col))
	}
	for _, rel := range node.Relations {
		expr, relArgs, err := relationExpr(rel, node.Table, alias, seq)
		if err != nil {
			return "", nil, err
		}
		parts = append(parts, jsonKey(rel.Key), expr)
		args = append(args, relArgs...)
	}

	return "JSON_OBJECT(" + strings.Join(parts, ", ") + ")", args, nil
}

// columnExpr renders one projected column reference. Buffer-kind primary
// keys are BINARY(16) UUIDs by convention and are rendered as UUID text so
// the value survives the JSON path.
func columnExpr(alias string, col *schema.Column) string {
	qualified := sqlutil.Qualify(alias, col.Storage())
	if col.Kind == schema.KindBuffer && col.PrimaryKey {
		return fmt.Sprintf("BIN_TO_UUID(%s)", qualified)
	}
	return qualified
}

// correlation renders the child-to-parent join predicate of one relation.
func correlation(rel *schema.Relation, parent, child *schema.Table, parentAlias, childAlias string) (string, error) {
	if len(rel.Pairs) == 0 {
		return "", fmt.Errorf("mysqlstore: relation %q on table %q declares no column pairs", rel.Name, parent.Name)
	}
	conds := make([]string, 0, len(rel.Pairs))
	for _, pair := range rel.Pairs {
		parentCol := parent.Column(pair.Field)
		childCol := child.Column(pair.Reference)
		if parentCol == nil || childCol == nil {
			return "", fmt.Errorf("mysqlstore: relation %q joins unknown columns %q -> %q", rel.Name, pair.Field, pair.Reference)
		}
		conds = append(conds, fmt.Sprintf("%s = %s",
			sqlutil.Qualify(childAlias, childCol.Storage()),
			sqlutil.Qualify(parentAlias, parentCol.Storage()),
		))
	}
	return strings.Join(conds, " AND "), nil
}

func needsDerived(node *planner.SelectionNode) bool {
	return len(node.Order) > 0 || node.Limit != nil || node.Offset != nil
}

func fromClause(table *schema.Table, alias string) string {
	return sqlutil.QuoteIdentifier(table.Storage()) + " AS " + sqlutil.QuoteIdentifier(alias)
}

// jsonKey renders an API field name as a SQL string literal.
func jsonKey(name string) string {
	return "'" + strings.ReplaceAll(name, "'", "''") + "'"
}
