// Package naming derives query-language type and field names from declared
// table and column names.
package naming

import (
	"strings"

	"github.com/jinzhu/inflection"
)

// TypeName converts a table name to its output type name: tokens are split
// on underscores, the last token is singularized, and the result is
// PascalCase. Example: "user_posts" -> "UserPost", "users" -> "User".
func TypeName(table string) string {
	parts := split(table)
	if len(parts) == 0 {
		return ""
	}
	parts[len(parts)-1] = inflection.Singular(parts[len(parts)-1])
	for i, p := range parts {
		parts[i] = upperFirst(p)
	}
	return strings.Join(parts, "")
}

// Pascal converts a name to PascalCase without singularizing.
// Example: "created_at" -> "CreatedAt", "profileId" -> "ProfileId".
func Pascal(name string) string {
	parts := split(name)
	for i, p := range parts {
		parts[i] = upperFirst(p)
	}
	return strings.Join(parts, "")
}

// Camel converts a name to camelCase.
// Example: "user_name" -> "userName".
func Camel(name string) string {
	parts := split(name)
	for i := 1; i < len(parts); i++ {
		parts[i] = upperFirst(parts[i])
	}
	return strings.Join(parts, "")
}

// reservedTypeNames are type names the generated schema may not claim.
var reservedTypeNames = map[string]bool{
	"Query":        true,
	"Mutation":     true,
	"Subscription": true,
	"Int":          true,
	"Float":        true,
	"String":       true,
	"Boolean":      true,
	"ID":           true,
}

// IsReservedTypeName reports whether the name is claimed by the query
// language itself. The assembler rejects tables that map onto one.
func IsReservedTypeName(name string) bool {
	return reservedTypeNames[name]
}

func split(name string) []string {
	tokens := strings.Split(name, "_")
	out := make([]string, 0, len(tokens))
	for _, t := range tokens {
		if t != "" {
			out = append(out, t)
		}
	}
	return out
}

func upperFirst(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}
