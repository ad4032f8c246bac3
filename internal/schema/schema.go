// Package schema holds the declarative relational schema model: tables,
// columns, and relation declarations. Instances are built once per schema
// load (by the DSL loader or programmatically) and referenced read-only by
// every downstream component.
package schema

import (
	"fmt"
)

// Kind is the declared data kind of a column.
type Kind int

const (
	KindString Kind = iota
	KindNumeric
	KindBoolean
	KindDate
	KindBigInt
	KindBuffer
	KindArray
	KindCustom
)

// String returns the DSL spelling of the kind.
func (k Kind) String() string {
	switch k {
	case KindString:
		return "String"
	case KindNumeric:
		return "Numeric"
	case KindBoolean:
		return "Boolean"
	case KindDate:
		return "Date"
	case KindBigInt:
		return "BigInt"
	case KindBuffer:
		return "Bytes"
	case KindArray:
		return "Array"
	case KindCustom:
		return "Custom"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

// NumericKind refines KindNumeric into integer or floating columns.
type NumericKind int

const (
	NumericInt NumericKind = iota
	NumericFloat
)

// ArrayKind refines KindArray. Point and Line are the two geometric
// sub-kinds that map to a list-of-float type.
type ArrayKind int

const (
	ArrayPlain ArrayKind = iota
	ArrayPoint
	ArrayLine
)

// Column describes one column of a table. All fields are immutable after
// schema load except the type override, which the schema owner may set once
// before compilation.
type Column struct {
	// Name is the API-facing column name, used in generated types,
	// filter inputs, and projections.
	Name string
	// StorageName is the storage-side column name. Empty means Name.
	StorageName string

	Kind       Kind
	Numeric    NumericKind
	Array      ArrayKind
	CustomType string // declared type name for KindCustom columns

	Nullable   bool
	HasDefault bool
	PrimaryKey bool

	// EnumValues, when non-empty on a KindString column, turns the column
	// into a generated enum type scoped by table+column.
	EnumValues []string

	Description string

	typeOverride string
}

// SetTypeOverride records a caller-defined type name for the column. It may
// be called at most once, before compilation.
func (c *Column) SetTypeOverride(name string) error {
	if c.typeOverride != "" {
		return fmt.Errorf("column %q: type override already set to %q", c.Name, c.typeOverride)
	}
	if name == "" {
		return fmt.Errorf("column %q: type override must not be empty", c.Name)
	}
	c.typeOverride = name
	return nil
}

// TypeOverride returns the caller-defined type name, or "" when unset.
func (c *Column) TypeOverride() string {
	return c.typeOverride
}

// Storage returns the storage-side column name.
func (c *Column) Storage() string {
	if c.StorageName != "" {
		return c.StorageName
	}
	return c.Name
}

// Cardinality of a relation.
type Cardinality int

const (
	One Cardinality = iota + 1
	Many
)

// String returns the DSL spelling of the cardinality.
func (c Cardinality) String() string {
	switch c {
	case One:
		return "one"
	case Many:
		return "many"
	default:
		return fmt.Sprintf("Cardinality(%d)", int(c))
	}
}

// ColumnPair joins one column on the owning table (Field) to one column on
// the target table (Reference).
type ColumnPair struct {
	Field     string
	Reference string
}

// Relation is a declared navigable link from an owning table to a target
// table. The relation graph may contain cycles.
type Relation struct {
	Name        string
	Cardinality Cardinality
	Table       string // owning table name
	Target      string // target table name
	Pairs       []ColumnPair
}

// Table describes one entity collection: a fixed column set plus the
// relations declared on it. Columns and Relations keep declaration order so
// generated output is deterministic.
type Table struct {
	// Name is the API-facing table name.
	Name string
	// StorageName is the storage-side table name. Empty means Name.
	StorageName string

	Description string
	Columns     []*Column
	Relations   []*Relation
}

// Storage returns the storage-side table name.
func (t *Table) Storage() string {
	if t.StorageName != "" {
		return t.StorageName
	}
	return t.Name
}

// Column returns the column with the given API name, or nil.
func (t *Table) Column(name string) *Column {
	for _, c := range t.Columns {
		if c.Name == name {
			return c
		}
	}
	return nil
}

// Relation returns the relation with the given field name, or nil.
func (t *Table) Relation(name string) *Relation {
	for _, r := range t.Relations {
		if r.Name == name {
			return r
		}
	}
	return nil
}

// PrimaryKey returns the designated primary-key column, or nil when the
// table declares none.
func (t *Table) PrimaryKey() *Column {
	for _, c := range t.Columns {
		if c.PrimaryKey {
			return c
		}
	}
	return nil
}

// ColumnNames returns the API names of all columns in declaration order.
func (t *Table) ColumnNames() []string {
	names := make([]string, len(t.Columns))
	for i, c := range t.Columns {
		names[i] = c.Name
	}
	return names
}

// Schema is the classified, typed collection of tables the loader hands to
// downstream components. Tables keep declaration order.
type Schema struct {
	Tables []*Table
}

// Table returns the table with the given API name, or nil.
func (s *Schema) Table(name string) *Table {
	for _, t := range s.Tables {
		if t.Name == name {
			return t
		}
	}
	return nil
}
