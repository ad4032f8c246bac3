package schema

import (
	"fmt"
)

// Validate checks structural consistency: unique table/column/relation
// names, relation targets bound in the schema, pair columns present on both
// sides, and at most one designated primary key per table. It does not
// require primary keys; RequirePrimaryKeys covers the mutation case.
func (s *Schema) Validate() error {
	seen := make(map[string]bool, len(s.Tables))
	for _, t := range s.Tables {
		if t.Name == "" {
			return fmt.Errorf("schema: table with empty name")
		}
		if seen[t.Name] {
			return fmt.Errorf("schema: duplicate table %q", t.Name)
		}
		seen[t.Name] = true

		if err := s.validateTable(t); err != nil {
			return err
		}
	}
	return nil
}

func (s *Schema) validateTable(t *Table) error {
	if len(t.Columns) == 0 {
		return fmt.Errorf("table %q: no columns declared", t.Name)
	}

	cols := make(map[string]bool, len(t.Columns))
	pkCount := 0
	for _, c := range t.Columns {
		if c.Name == "" {
			return fmt.Errorf("table %q: column with empty name", t.Name)
		}
		if cols[c.Name] {
			return fmt.Errorf("table %q: duplicate column %q", t.Name, c.Name)
		}
		cols[c.Name] = true
		if c.PrimaryKey {
			pkCount++
		}
		if len(c.EnumValues) > 0 && c.Kind != KindString {
			return fmt.Errorf("table %q column %q: enum values require a string column, got %s", t.Name, c.Name, c.Kind)
		}
	}
	if pkCount > 1 {
		return fmt.Errorf("table %q: %d primary-key columns declared, exactly one is allowed", t.Name, pkCount)
	}

	rels := make(map[string]bool, len(t.Relations))
	for _, r := range t.Relations {
		if r.Name == "" {
			return fmt.Errorf("table %q: relation with empty name", t.Name)
		}
		if cols[r.Name] {
			return fmt.Errorf("table %q: relation %q collides with a column of the same name", t.Name, r.Name)
		}
		if rels[r.Name] {
			return fmt.Errorf("table %q: duplicate relation %q", t.Name, r.Name)
		}
		rels[r.Name] = true

		if r.Cardinality != One && r.Cardinality != Many {
			return fmt.Errorf("table %q relation %q: invalid cardinality", t.Name, r.Name)
		}
		target := s.Table(r.Target)
		if target == nil {
			return fmt.Errorf("table %q relation %q: target table %q is not bound in the schema", t.Name, r.Name, r.Target)
		}
		if len(r.Pairs) == 0 {
			return fmt.Errorf("table %q relation %q: no field/reference column pairs declared", t.Name, r.Name)
		}
		for _, p := range r.Pairs {
			if t.Column(p.Field) == nil {
				return fmt.Errorf("table %q relation %q: field column %q not found on %q", t.Name, r.Name, p.Field, t.Name)
			}
			if target.Column(p.Reference) == nil {
				return fmt.Errorf("table %q relation %q: reference column %q not found on target %q", t.Name, r.Name, p.Reference, r.Target)
			}
		}
	}
	return nil
}

// RequirePrimaryKeys verifies every table designates a primary-key column.
// Mutation generation calls this; find-only schemas may skip it.
func (s *Schema) RequirePrimaryKeys() error {
	for _, t := range s.Tables {
		if t.PrimaryKey() == nil {
			return fmt.Errorf("table %q: no primary-key column; mutations need one for the re-fetch by key", t.Name)
		}
	}
	return nil
}
