// Package order compiles structured sort inputs into an ordered list of
// column+direction pairs. Priority is a sort key over the requested set, not
// a global rank; ties keep column-name order so the result is deterministic.
package order

import (
	"fmt"
	"sort"
	"strings"

	"rel-graphql/internal/schema"
)

// Direction is a sort direction as it appears in the query language.
type Direction string

const (
	Asc  Direction = "asc"
	Desc Direction = "desc"
)

// SQL returns the direction keyword for an ORDER BY clause.
func (d Direction) SQL() string {
	return strings.ToUpper(string(d))
}

// Entry is one compiled sort key. Entries earlier in the slice sort first.
type Entry struct {
	Column    *schema.Column
	Direction Direction
}

type keyed struct {
	entry    Entry
	priority int
}

// Compile turns one orderBy input for a table into the final sort key
// sequence. Entries naming a column the table does not have are dropped.
// Empty or absent input compiles to nil: the storage engine's default order
// applies.
func Compile(table *schema.Table, input map[string]interface{}) ([]Entry, error) {
	if len(input) == 0 {
		return nil, nil
	}

	names := make([]string, 0, len(input))
	for name := range input {
		names = append(names, name)
	}
	sort.Strings(names)

	keys := make([]keyed, 0, len(input))
	for _, name := range names {
		raw := input[name]
		if raw == nil {
			continue
		}
		col := table.Column(name)
		if col == nil {
			continue
		}
		spec, ok := raw.(map[string]interface{})
		if !ok {
			return nil, fmt.Errorf("orderBy for table %q column %q: must be an object", table.Name, name)
		}
		dir, err := direction(spec["direction"])
		if err != nil {
			return nil, fmt.Errorf("orderBy for table %q column %q: %w", table.Name, name, err)
		}
		prio, err := priority(spec["priority"])
		if err != nil {
			return nil, fmt.Errorf("orderBy for table %q column %q: %w", table.Name, name, err)
		}
		keys = append(keys, keyed{
			entry:    Entry{Column: col, Direction: dir},
			priority: prio,
		})
	}
	if len(keys) == 0 {
		return nil, nil
	}

	sort.SliceStable(keys, func(i, j int) bool {
		return keys[i].priority < keys[j].priority
	})

	entries := make([]Entry, len(keys))
	for i, k := range keys {
		entries[i] = k.entry
	}
	return entries, nil
}

func direction(raw interface{}) (Direction, error) {
	s, ok := raw.(string)
	if !ok {
		return "", fmt.Errorf("direction must be asc or desc")
	}
	d := Direction(s)
	if d != Asc && d != Desc {
		return "", fmt.Errorf("direction must be asc or desc, got %q", s)
	}
	return d, nil
}

func priority(raw interface{}) (int, error) {
	switch v := raw.(type) {
	case int:
		return v, nil
	case int32:
		return int(v), nil
	case int64:
		return int(v), nil
	case float64:
		return int(v), nil
	case nil:
		return 0, fmt.Errorf("priority is required")
	}
	return 0, fmt.Errorf("priority must be an integer")
}
