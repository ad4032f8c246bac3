// Package typemap maps column descriptors to query-language type names and
// tracks every scalar, enum, and filter input a build introduces. All
// tracking state lives in a Registry created per build call; nothing is held
// at process scope, so concurrent builds never share bookkeeping.
package typemap

import (
	"fmt"
	"hash/fnv"
	"strings"

	"rel-graphql/internal/schema"
)

// Enum is one generated enum type.
type Enum struct {
	Name   string
	Values []string
}

// FilterEntry pairs a base type string with its generated filter input name.
type FilterEntry struct {
	Base string
	Name string
}

// Registry is the build context for one schema build. It records introduced
// scalars and enums exactly once, assigns collision-resistant filter input
// names per base type, and carries propagated key overrides. Not safe for
// concurrent use; each build owns its own Registry.
type Registry struct {
	scalars     map[string]bool
	scalarOrder []string

	enums     map[string][]string
	enumOrder []string

	filters      map[string]string // base type -> filter input name
	filterOrder  []string
	filterClaims map[string]string // filter input name -> base type

	keyOverrides map[*schema.Column]string
}

// NewRegistry creates an empty build registry.
func NewRegistry() *Registry {
	return &Registry{
		scalars:      make(map[string]bool),
		enums:        make(map[string][]string),
		filters:      make(map[string]string),
		filterClaims: make(map[string]string),
		keyOverrides: make(map[*schema.Column]string),
	}
}

// RegisterScalar records an introduced scalar once.
func (r *Registry) RegisterScalar(name string) {
	if r.scalars[name] {
		return
	}
	r.scalars[name] = true
	r.scalarOrder = append(r.scalarOrder, name)
}

// Scalars returns introduced scalar names in first-registration order.
func (r *Registry) Scalars() []string {
	return r.scalarOrder
}

// RegisterEnum records an introduced enum once.
func (r *Registry) RegisterEnum(name string, values []string) {
	if _, ok := r.enums[name]; ok {
		return
	}
	r.enums[name] = values
	r.enumOrder = append(r.enumOrder, name)
}

// Enums returns introduced enums in first-registration order.
func (r *Registry) Enums() []Enum {
	out := make([]Enum, 0, len(r.enumOrder))
	for _, name := range r.enumOrder {
		out = append(out, Enum{Name: name, Values: r.enums[name]})
	}
	return out
}

// FilterName returns the filter input name for a base type, assigning one on
// first use. Names are derived by stripping non-alphanumerics from the base
// type; list types take a List infix, and a residual collision between two
// distinct base types gets an FNV-32a suffix so they never share a filter
// input silently.
func (r *Registry) FilterName(base string) string {
	if name, ok := r.filters[base]; ok {
		return name
	}

	candidate := sanitizeTypeName(base)
	if strings.Contains(base, "[") {
		candidate += "List"
	}
	name := candidate + "Filters"
	if claimed, ok := r.filterClaims[name]; ok && claimed != base {
		name = fmt.Sprintf("%s%08x", candidate, fnv32a(base)) + "Filters"
	}

	r.filters[base] = name
	r.filterClaims[name] = base
	r.filterOrder = append(r.filterOrder, base)
	return name
}

// FilterEntries returns base-type/filter-name pairs in first-use order.
func (r *Registry) FilterEntries() []FilterEntry {
	out := make([]FilterEntry, 0, len(r.filterOrder))
	for _, base := range r.filterOrder {
		out = append(out, FilterEntry{Base: base, Name: r.filters[base]})
	}
	return out
}

func (r *Registry) setKeyOverride(col *schema.Column, name string) {
	r.keyOverrides[col] = name
}

// Override returns the effective type override for a column: the schema
// owner's own override first, then any key override propagated during this
// build. Empty when neither applies.
func (r *Registry) Override(col *schema.Column) string {
	if o := col.TypeOverride(); o != "" {
		return o
	}
	return r.keyOverrides[col]
}

func sanitizeTypeName(s string) string {
	var b strings.Builder
	for _, ch := range s {
		switch {
		case ch >= 'a' && ch <= 'z', ch >= 'A' && ch <= 'Z', ch >= '0' && ch <= '9':
			b.WriteRune(ch)
		}
	}
	return b.String()
}

func fnv32a(s string) uint32 {
	h := fnv.New32a()
	h.Write([]byte(s))
	return h.Sum32()
}
