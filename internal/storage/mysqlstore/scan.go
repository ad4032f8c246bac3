package mysqlstore

import (
	"bytes"
	"encoding/json"
	"fmt"

	"rel-graphql/internal/dbexec"
	"rel-graphql/internal/planner"
	"rel-graphql/internal/schema"
	"rel-graphql/internal/setutil"
)

// scanRows reads every result row of one compiled plan. Plain columns land
// under their API names and relation branches under their response keys; the
// branch columns carry JSON text that decodes into nested row maps ordered
// the way the statement aggregated them.
func scanRows(rows dbexec.Rows, node *planner.SelectionNode) ([]map[string]interface{}, error) {
	numCols := len(node.Columns) + len(node.Relations)
	results := []map[string]interface{}{}

	for rows.Next() {
		values := make([]interface{}, numCols)
		targets := make([]interface{}, numCols)
		for i := range values {
			targets[i] = &values[i]
		}
		if err := rows.Scan(targets...); err != nil {
			return nil, fmt.Errorf("scan %q row: %w", node.Table.Name, err)
		}

		row := make(map[string]interface{}, numCols)
		for i, col := range node.Columns {
			row[col.Name] = convertColumn(col, values[i])
		}
		for i, rel := range node.Relations {
			decoded, err := decodeRelation(values[len(node.Columns)+i], rel)
			if err != nil {
				return nil, err
			}
			row[rel.Key] = decoded
		}
		results = append(results, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read %q rows: %w", node.Table.Name, err)
	}
	return results, nil
}

// convertValue normalizes one driver value. Byte slices become strings; the
// driver may reuse its buffers once the next row is read, so the copy is
// taken here.
func convertValue(value interface{}) interface{} {
	if value == nil {
		return nil
	}
	if b, ok := value.([]byte); ok {
		return string(b)
	}
	return value
}

// convertColumn applies the column's read conversion: plain list columns
// decode from their comma-separated stored form.
func convertColumn(col *schema.Column, value interface{}) interface{} {
	converted := convertValue(value)
	if col.Kind == schema.KindArray && col.Array == schema.ArrayPlain {
		if s, ok := converted.(string); ok {
			return setutil.Decode(s)
		}
	}
	return converted
}

// decodeRelation turns one relation column's JSON text into nested row
// values: a slice of row maps for a many-relation, a single row map or nil
// for a one-relation.
func decodeRelation(value interface{}, rel *planner.RelationPlan) (interface{}, error) {
	if value == nil {
		if rel.Relation.Cardinality == schema.Many {
			return []interface{}{}, nil
		}
		return nil, nil
	}

	var raw []byte
	switch v := value.(type) {
	case []byte:
		raw = v
	case string:
		raw = []byte(v)
	default:
		return nil, fmt.Errorf("mysqlstore: relation %q returned %T, want JSON text", rel.Relation.Name, value)
	}

	decoder := json.NewDecoder(bytes.NewReader(raw))
	decoder.UseNumber()
	var decoded interface{}
	if err := decoder.Decode(&decoded); err != nil {
		return nil, fmt.Errorf("mysqlstore: decode relation %q: %w", rel.Relation.Name, err)
	}
	return normalizeRows(normalizeJSON(decoded), rel.Node), nil
}

// normalizeRows applies per-column read conversions to decoded relation rows,
// recursing into nested relations. List columns come out of the JSON text
// still in their stored comma-separated form.
func normalizeRows(value interface{}, node *planner.SelectionNode) interface{} {
	switch rows := value.(type) {
	case []interface{}:
		for i, item := range rows {
			rows[i] = normalizeRows(item, node)
		}
		return rows
	case map[string]interface{}:
		for _, col := range node.Columns {
			if col.Kind != schema.KindArray || col.Array != schema.ArrayPlain {
				continue
			}
			if s, ok := rows[col.Name].(string); ok {
				rows[col.Name] = setutil.Decode(s)
			}
		}
		for _, child := range node.Relations {
			if nested, ok := rows[child.Key]; ok {
				rows[child.Key] = normalizeRows(nested, child.Node)
			}
		}
		return rows
	default:
		return value
	}
}

// normalizeJSON rewrites decoded JSON values into the shapes the query
// runtime serializes: json.Number becomes int64 when integral, float64
// otherwise.
func normalizeJSON(value interface{}) interface{} {
	switch v := value.(type) {
	case json.Number:
		if n, err := v.Int64(); err == nil {
			return n
		}
		if f, err := v.Float64(); err == nil {
			return f
		}
		return v.String()
	case map[string]interface{}:
		for key, item := range v {
			v[key] = normalizeJSON(item)
		}
		return v
	case []interface{}:
		for i, item := range v {
			v[i] = normalizeJSON(item)
		}
		return v
	default:
		return v
	}
}
