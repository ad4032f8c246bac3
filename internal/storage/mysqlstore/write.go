package mysqlstore

import (
	"context"
	"fmt"
	"strings"

	"rel-graphql/internal/filter"
	"rel-graphql/internal/schema"
	"rel-graphql/internal/setutil"
	"rel-graphql/internal/sqlutil"

	sq "github.com/Masterminds/squirrel"
	"github.com/google/uuid"
)

// InsertMany writes values as new rows in one statement and returns each
// written row's primary-key value in input order. Keys come from the input
// when every row supplies one, or from the statement's generated-id sequence
// when no row does; mixing the two in one call is rejected because the
// generated sequence only covers the rows the database numbered itself. The
// generated path exists only for integer keys, since LastInsertId is the only
// recovery the protocol offers.
func (s *Store) InsertMany(ctx context.Context, table *schema.Table, values []map[string]interface{}) ([]interface{}, error) {
	pk, err := writeKey(table)
	if err != nil {
		return nil, err
	}
	if len(values) == 0 {
		return nil, fmt.Errorf("mysqlstore: insert into %q requires at least one row", table.Name)
	}

	columns, err := insertColumns(table, values)
	if err != nil {
		return nil, err
	}

	keys := make([]interface{}, len(values))
	explicit := 0
	for i, value := range values {
		if v, ok := value[pk.Name]; ok && v != nil {
			key, err := writeValue(pk, v)
			if err != nil {
				return nil, fmt.Errorf("insert into %q: %w", table.Name, err)
			}
			keys[i] = key
			explicit++
		}
	}
	if explicit != 0 && explicit != len(values) {
		return nil, fmt.Errorf("mysqlstore: insert into %q mixes explicit and generated primary keys", table.Name)
	}
	if explicit == 0 && !integerKey(pk) {
		return nil, fmt.Errorf("mysqlstore: insert into %q requires explicit %q values, generated keys are only recoverable for integer primary keys", table.Name, pk.Name)
	}

	query, args, err := buildInsert(table, columns, values)
	if err != nil {
		return nil, err
	}

	ctx, span := startSpan(ctx, "mysqlstore.InsertMany", table.Storage())
	defer span.End()

	result, err := s.exec.ExecContext(ctx, query, args...)
	if err != nil {
		finishSpan(span, err)
		return nil, fmt.Errorf("insert into %q: %w", table.Name, err)
	}

	if explicit == len(values) {
		return keys, nil
	}
	base, err := result.LastInsertId()
	if err != nil {
		finishSpan(span, err)
		return nil, fmt.Errorf("recover generated keys for %q: %w", table.Name, err)
	}
	// LastInsertId reports the first id of the batch; the rest follow
	// contiguously as long as auto_increment_increment is 1.
	for i := range keys {
		keys[i] = base + int64(i)
	}
	return keys, nil
}

// integerKey reports whether the column's generated values are recoverable
// from an insert's LastInsertId.
func integerKey(col *schema.Column) bool {
	switch col.Kind {
	case schema.KindBigInt:
		return true
	case schema.KindNumeric:
		return col.Numeric == schema.NumericInt
	}
	return false
}

// UpdateMany applies set to every row matching where and returns the
// primary-key values of the rows it updated. The matching keys are captured
// first and the update is issued strictly by key, so rows the update itself
// moves out of the filter are still reported.
func (s *Store) UpdateMany(ctx context.Context, table *schema.Table, set map[string]interface{}, where *filter.Where) ([]interface{}, error) {
	pk, err := writeKey(table)
	if err != nil {
		return nil, err
	}
	if len(set) == 0 {
		return nil, fmt.Errorf("mysqlstore: update of %q requires at least one column", table.Name)
	}
	for name := range set {
		if table.Column(name) == nil {
			return nil, fmt.Errorf("mysqlstore: unknown column %q in update of %q", name, table.Name)
		}
	}

	ctx, span := startSpan(ctx, "mysqlstore.UpdateMany", table.Storage())
	defer span.End()

	keys, err := s.selectKeys(ctx, table, pk, where)
	if err != nil {
		finishSpan(span, err)
		return nil, err
	}
	if len(keys) == 0 {
		return []interface{}{}, nil
	}

	builder := sq.Update(sqlutil.QuoteIdentifier(table.Storage())).
		PlaceholderFormat(sq.Question).
		Where(sq.Eq{sqlutil.QuoteIdentifier(pk.Storage()): keys})
	for _, col := range table.Columns {
		v, ok := set[col.Name]
		if !ok {
			continue
		}
		coerced, err := writeValue(col, v)
		if err != nil {
			finishSpan(span, err)
			return nil, fmt.Errorf("update %q: %w", table.Name, err)
		}
		builder = builder.Set(sqlutil.QuoteIdentifier(col.Storage()), coerced)
	}

	query, args, err := builder.ToSql()
	if err != nil {
		finishSpan(span, err)
		return nil, err
	}
	if _, err := s.exec.ExecContext(ctx, query, args...); err != nil {
		finishSpan(span, err)
		return nil, fmt.Errorf("update %q: %w", table.Name, err)
	}
	return keys, nil
}

// DeleteMany removes every row matching where and reports how many rows went
// away.
func (s *Store) DeleteMany(ctx context.Context, table *schema.Table, where *filter.Where) (int64, error) {
	if table == nil {
		return 0, fmt.Errorf("mysqlstore: table is required")
	}

	builder := sq.Delete(sqlutil.QuoteIdentifier(table.Storage())).PlaceholderFormat(sq.Question)
	if where != nil {
		builder = builder.Where(where.Condition)
	}
	query, args, err := builder.ToSql()
	if err != nil {
		return 0, err
	}

	ctx, span := startSpan(ctx, "mysqlstore.DeleteMany", table.Storage())
	defer span.End()

	result, err := s.exec.ExecContext(ctx, query, args...)
	if err != nil {
		finishSpan(span, err)
		return 0, fmt.Errorf("delete from %q: %w", table.Name, err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		finishSpan(span, err)
		return 0, fmt.Errorf("count deleted rows of %q: %w", table.Name, err)
	}
	return affected, nil
}

// selectKeys fetches the primary-key values of every row matching where.
// Byte-valued keys are copied out of the driver's scan buffer so they stay
// valid past the row iteration.
func (s *Store) selectKeys(ctx context.Context, table *schema.Table, pk *schema.Column, where *filter.Where) ([]interface{}, error) {
	builder := sq.Select(sqlutil.QuoteIdentifier(pk.Storage())).
		From(sqlutil.QuoteIdentifier(table.Storage())).
		PlaceholderFormat(sq.Question)
	if where != nil {
		builder = builder.Where(where.Condition)
	}
	query, args, err := builder.ToSql()
	if err != nil {
		return nil, err
	}

	rows, err := s.exec.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("select keys of %q: %w", table.Name, err)
	}
	defer rows.Close()

	keys := []interface{}{}
	for rows.Next() {
		var value interface{}
		if err := rows.Scan(&value); err != nil {
			return nil, fmt.Errorf("scan key of %q: %w", table.Name, err)
		}
		if b, ok := value.([]byte); ok {
			copied := make([]byte, len(b))
			copy(copied, b)
			value = copied
		}
		keys = append(keys, value)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read keys of %q: %w", table.Name, err)
	}
	return keys, nil
}

// insertColumns computes the uniform column list of one multi-row insert:
// the union of supplied keys, in table declaration order.
func insertColumns(table *schema.Table, values []map[string]interface{}) ([]*schema.Column, error) {
	provided := make(map[string]bool)
	for _, value := range values {
		for name := range value {
			if table.Column(name) == nil {
				return nil, fmt.Errorf("mysqlstore: unknown column %q in insert into %q", name, table.Name)
			}
			provided[name] = true
		}
	}
	columns := make([]*schema.Column, 0, len(provided))
	for _, col := range table.Columns {
		if provided[col.Name] {
			columns = append(columns, col)
		}
	}
	return columns, nil
}

func buildInsert(table *schema.Table, columns []*schema.Column, values []map[string]interface{}) (string, []interface{}, error) {
	if len(columns) == 0 {
		// Every row takes its defaults.
		rows := strings.TrimSuffix(strings.Repeat("(), ", len(values)), ", ")
		return fmt.Sprintf("INSERT INTO %s () VALUES %s", sqlutil.QuoteIdentifier(table.Storage()), rows), nil, nil
	}

	names := make([]string, len(columns))
	for i, col := range columns {
		names[i] = sqlutil.QuoteIdentifier(col.Storage())
	}
	builder := sq.Insert(sqlutil.QuoteIdentifier(table.Storage())).
		Columns(names...).
		PlaceholderFormat(sq.Question)
	for _, value := range values {
		row := make([]interface{}, len(columns))
		for i, col := range columns {
			v, ok := value[col.Name]
			if !ok {
				row[i] = sq.Expr("DEFAULT")
				continue
			}
			coerced, err := writeValue(col, v)
			if err != nil {
				return "", nil, fmt.Errorf("insert into %q: %w", table.Name, err)
			}
			row[i] = coerced
		}
		builder = builder.Values(row...)
	}
	return builder.ToSql()
}

// writeValue coerces one input value into driver-ready form. UUID text
// headed for a buffer column becomes its 16 raw bytes, matching the
// BINARY(16) storage convention; plain list columns encode into their
// comma-separated stored form; everything else passes through.
func writeValue(col *schema.Column, value interface{}) (interface{}, error) {
	if value == nil {
		return nil, nil
	}
	if col.Kind == schema.KindBuffer {
		if s, ok := value.(string); ok {
			if parsed, err := uuid.Parse(s); err == nil {
				return parsed[:], nil
			}
		}
		return value, nil
	}
	if col.Kind == schema.KindArray && col.Array == schema.ArrayPlain {
		// A string is already in stored form.
		if _, ok := value.(string); ok {
			return value, nil
		}
		encoded, err := setutil.EncodeAny(value)
		if err != nil {
			return nil, fmt.Errorf("column %q: %w", col.Name, err)
		}
		return encoded, nil
	}
	return value, nil
}

func writeKey(table *schema.Table) (*schema.Column, error) {
	if table == nil {
		return nil, fmt.Errorf("mysqlstore: table is required")
	}
	pk := table.PrimaryKey()
	if pk == nil {
		return nil, fmt.Errorf("mysqlstore: table %q has no primary key", table.Name)
	}
	return pk, nil
}
