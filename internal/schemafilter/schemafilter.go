// Package schemafilter narrows a loaded schema to a configured table set
// before the type system is built. Filtering happens between DSL load and
// assembly so excluded tables never reach the generated surface.
package schemafilter

import (
	"strings"

	"rel-graphql/internal/schema"
)

// Config selects which tables survive filtering. Patterns are exact table
// names or prefixes ending in "*" (for example "audit_*").
type Config struct {
	// IncludeTables admits matching tables. Empty admits every table.
	IncludeTables []string `mapstructure:"include_tables"`
	// ExcludeTables removes matching tables after includes are applied.
	ExcludeTables []string `mapstructure:"exclude_tables"`
}

// IsZero reports whether the config filters nothing.
func (c Config) IsZero() bool {
	return len(c.IncludeTables) == 0 && len(c.ExcludeTables) == 0
}

// Apply returns a schema containing only the tables admitted by cfg.
// Relations pointing at a dropped table are dropped with their owner's
// relation list, so the surviving schema stays closed under navigation.
// The input schema is not modified; surviving tables without dropped
// relations are shared, not copied.
func Apply(s *schema.Schema, cfg Config) *schema.Schema {
	if cfg.IsZero() {
		return s
	}

	kept := make(map[string]bool, len(s.Tables))
	for _, t := range s.Tables {
		kept[t.Name] = admitted(t.Name, cfg)
	}

	out := &schema.Schema{Tables: make([]*schema.Table, 0, len(s.Tables))}
	for _, t := range s.Tables {
		if !kept[t.Name] {
			continue
		}
		out.Tables = append(out.Tables, pruneRelations(t, kept))
	}
	return out
}

// admitted reports whether table name passes the include then exclude lists.
func admitted(name string, cfg Config) bool {
	if len(cfg.IncludeTables) > 0 && !matchesAny(name, cfg.IncludeTables) {
		return false
	}
	return !matchesAny(name, cfg.ExcludeTables)
}

// pruneRelations returns t with relations to dropped tables removed. The
// original table is returned untouched when every relation survives.
func pruneRelations(t *schema.Table, kept map[string]bool) *schema.Table {
	survivors := t.Relations[:0:0]
	for _, r := range t.Relations {
		if kept[r.Target] {
			survivors = append(survivors, r)
		}
	}
	if len(survivors) == len(t.Relations) {
		return t
	}
	pruned := *t
	pruned.Relations = survivors
	return &pruned
}

func matchesAny(name string, patterns []string) bool {
	for _, p := range patterns {
		if matches(name, p) {
			return true
		}
	}
	return false
}

// matches supports exact names and trailing-star prefixes. A lone "*"
// matches everything.
func matches(name, pattern string) bool {
	pattern = strings.TrimSpace(pattern)
	if pattern == "" {
		return false
	}
	if prefix, ok := strings.CutSuffix(pattern, "*"); ok {
		return strings.HasPrefix(name, prefix)
	}
	return name == pattern
}
