// Package sqlutil provides SQL identifier helpers shared by the filter
// compiler and the storage adapter.
package sqlutil

import "strings"

// QuoteIdentifier quotes a SQL identifier (table name, column name, etc.)
// with backticks and escapes any backticks within the identifier.
func QuoteIdentifier(name string) string {
	escaped := strings.ReplaceAll(name, "`", "``")
	return "`" + escaped + "`"
}

// Qualify renders alias.column with both parts quoted.
func Qualify(alias, column string) string {
	return QuoteIdentifier(alias) + "." + QuoteIdentifier(column)
}
