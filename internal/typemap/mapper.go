package typemap

import (
	"fmt"
	"regexp"

	"rel-graphql/internal/naming"
	"rel-graphql/internal/schema"
)

// Fixed type names introduced by the corresponding column kinds.
const (
	TypeDate   = "Date"
	TypeBigInt = "BigInt"
	TypeBytes  = "Bytes"
)

// GeometricList is the type of point and line columns.
const GeometricList = "[Float!]"

var enumValueName = regexp.MustCompile(`^[_A-Za-z][_0-9A-Za-z]*$`)

// BaseType maps one column to its base type name, recording any scalar or
// enum it introduces in the registry. Mapping priority: caller override,
// fixed kinds, table+column scoped enums, numeric sub-kind, geometric or
// scoped list arrays, then the declared custom type name.
func BaseType(reg *Registry, table *schema.Table, col *schema.Column) (string, error) {
	if o := reg.Override(col); o != "" {
		// Caller-defined; never auto-declared.
		return o, nil
	}

	switch col.Kind {
	case schema.KindBoolean:
		return "Boolean", nil
	case schema.KindDate:
		reg.RegisterScalar(TypeDate)
		return TypeDate, nil
	case schema.KindBigInt:
		reg.RegisterScalar(TypeBigInt)
		return TypeBigInt, nil
	case schema.KindBuffer:
		reg.RegisterScalar(TypeBytes)
		return TypeBytes, nil
	case schema.KindString:
		if len(col.EnumValues) > 0 {
			name := naming.TypeName(table.Name) + naming.Pascal(col.Name) + "Enum"
			for _, v := range col.EnumValues {
				if !enumValueName.MatchString(v) {
					return "", fmt.Errorf("table %q column %q: enum value %q is not a valid enum member name", table.Name, col.Name, v)
				}
			}
			reg.RegisterEnum(name, col.EnumValues)
			return name, nil
		}
		return "String", nil
	case schema.KindNumeric:
		if col.Numeric == schema.NumericFloat {
			return "Float", nil
		}
		return "Int", nil
	case schema.KindArray:
		switch col.Array {
		case schema.ArrayPoint, schema.ArrayLine:
			return GeometricList, nil
		default:
			name := naming.TypeName(table.Name) + naming.Pascal(col.Name) + "Array"
			reg.RegisterScalar(name)
			return name, nil
		}
	case schema.KindCustom:
		name := col.CustomType
		if name == "" {
			name = naming.TypeName(table.Name) + naming.Pascal(col.Name)
		}
		reg.RegisterScalar(name)
		return name, nil
	default:
		return "", fmt.Errorf("table %q column %q: unknown data kind %v", table.Name, col.Name, col.Kind)
	}
}

// OutputNonNull reports whether the column's output field is non-null: the
// column is required and carries no default generator.
func OutputNonNull(col *schema.Column) bool {
	return !col.Nullable && !col.HasDefault
}

// InsertNonNull reports whether the column's insert-input field is non-null.
// Defaults do not relax required-ness here; only declared nullability does.
func InsertNonNull(col *schema.Column) bool {
	return !col.Nullable
}

// PropagateKeyOverrides runs once per build after all tables are known. For
// every one-relation, a foreign-key column without an override of its own
// adopts the override of the primary-key column it references, so both ends
// of the key share one declared scalar. Propagated values live in the
// registry, not in the schema, so concurrent builds stay independent.
func PropagateKeyOverrides(reg *Registry, s *schema.Schema) {
	for _, t := range s.Tables {
		for _, rel := range t.Relations {
			if rel.Cardinality != schema.One {
				continue
			}
			target := s.Table(rel.Target)
			if target == nil {
				continue
			}
			for _, pair := range rel.Pairs {
				field := t.Column(pair.Field)
				ref := target.Column(pair.Reference)
				if field == nil || ref == nil || !ref.PrimaryKey {
					continue
				}
				if reg.Override(field) != "" {
					continue
				}
				if o := ref.TypeOverride(); o != "" {
					reg.setKeyOverride(field, o)
				}
			}
		}
	}
}
