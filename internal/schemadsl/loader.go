package schemadsl

import (
	"fmt"
	"os"
	"strings"

	"rel-graphql/internal/schema"
)

// ParseFile reads and loads a schema declaration file.
func ParseFile(path string) (*schema.Schema, error) {
	src, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read schema file: %w", err)
	}
	return Parse(path, string(src))
}

// Parse loads schema declarations from source text. The filename is used in
// error positions only.
func Parse(filename, src string) (*schema.Schema, error) {
	tree, err := parser.ParseString(filename, src)
	if err != nil {
		return nil, fmt.Errorf("parse schema: %w", err)
	}
	return load(tree)
}

// MustParse is Parse for tests and fixtures; it panics on error.
func MustParse(filename, src string) *schema.Schema {
	s, err := Parse(filename, src)
	if err != nil {
		panic(err)
	}
	return s
}

// load classifies parsed declarations into tables and relation sets, applies
// attributes, and validates the result.
func load(tree *fileNode) (*schema.Schema, error) {
	s := &schema.Schema{}

	for _, decl := range tree.Decls {
		if decl.Table == nil {
			continue
		}
		t, err := loadTable(decl.Table, docText(decl.Docs))
		if err != nil {
			return nil, err
		}
		s.Tables = append(s.Tables, t)
	}

	for _, decl := range tree.Decls {
		if decl.Relations == nil {
			continue
		}
		rn := decl.Relations
		owner := s.Table(rn.Table)
		if owner == nil {
			return nil, fmt.Errorf("%s: relations block for undeclared table %q", rn.Pos, rn.Table)
		}
		for _, entry := range rn.Entries {
			rel, err := loadRelation(owner, entry)
			if err != nil {
				return nil, err
			}
			owner.Relations = append(owner.Relations, rel)
		}
	}

	if err := s.Validate(); err != nil {
		return nil, err
	}
	return s, nil
}

func loadTable(n *tableNode, description string) (*schema.Table, error) {
	t := &schema.Table{
		Name:        n.Name,
		Description: description,
	}
	for _, attr := range n.Attrs {
		switch attr.Name {
		case "db":
			name, err := oneStringArg(attr)
			if err != nil {
				return nil, err
			}
			t.StorageName = name
		default:
			return nil, fmt.Errorf("%s: unknown table attribute @%s on %q", attr.Pos, attr.Name, n.Name)
		}
	}

	for _, cn := range n.Columns {
		col, err := loadColumn(n.Name, cn)
		if err != nil {
			return nil, err
		}
		t.Columns = append(t.Columns, col)
	}
	return t, nil
}

func loadColumn(table string, n *columnNode) (*schema.Column, error) {
	col := &schema.Column{
		Name:        n.Name,
		Nullable:    n.Type.Optional,
		Description: docText(n.Docs),
	}

	if n.Type.List {
		col.Kind = schema.KindArray
		col.Array = schema.ArrayPlain
	} else {
		switch n.Type.Name {
		case "String", "Text":
			col.Kind = schema.KindString
		case "Int":
			col.Kind = schema.KindNumeric
			col.Numeric = schema.NumericInt
		case "Float", "Decimal":
			col.Kind = schema.KindNumeric
			col.Numeric = schema.NumericFloat
		case "Boolean", "Bool":
			col.Kind = schema.KindBoolean
		case "Date", "DateTime", "Timestamp":
			col.Kind = schema.KindDate
		case "BigInt":
			col.Kind = schema.KindBigInt
		case "Bytes", "Buffer":
			col.Kind = schema.KindBuffer
		case "Point":
			col.Kind = schema.KindArray
			col.Array = schema.ArrayPoint
		case "Line":
			col.Kind = schema.KindArray
			col.Array = schema.ArrayLine
		default:
			col.Kind = schema.KindCustom
			col.CustomType = n.Type.Name
		}
	}

	for _, attr := range n.Attrs {
		switch attr.Name {
		case "id":
			if len(attr.Args) != 0 {
				return nil, fmt.Errorf("%s: @id takes no arguments (table %q column %q)", attr.Pos, table, n.Name)
			}
			col.PrimaryKey = true
		case "default":
			if len(attr.Args) > 1 {
				return nil, fmt.Errorf("%s: @default takes at most one argument (table %q column %q)", attr.Pos, table, n.Name)
			}
			col.HasDefault = true
		case "enum":
			values, err := stringArgs(attr)
			if err != nil {
				return nil, err
			}
			if len(values) == 0 {
				return nil, fmt.Errorf("%s: @enum needs at least one value (table %q column %q)", attr.Pos, table, n.Name)
			}
			col.EnumValues = values
		case "db":
			name, err := oneStringArg(attr)
			if err != nil {
				return nil, err
			}
			col.StorageName = name
		case "gqlType":
			name, err := oneStringArg(attr)
			if err != nil {
				return nil, err
			}
			if err := col.SetTypeOverride(name); err != nil {
				return nil, fmt.Errorf("%s: %w (table %q)", attr.Pos, err, table)
			}
		default:
			return nil, fmt.Errorf("%s: unknown column attribute @%s (table %q column %q)", attr.Pos, attr.Name, table, n.Name)
		}
	}
	return col, nil
}

func loadRelation(owner *schema.Table, n *relEntryNode) (*schema.Relation, error) {
	if len(n.Fields) != len(n.Refs) {
		return nil, fmt.Errorf("%s: relation %q on %q: %d fields but %d references",
			n.Pos, n.Name, owner.Name, len(n.Fields), len(n.Refs))
	}
	rel := &schema.Relation{
		Name:   n.Name,
		Table:  owner.Name,
		Target: n.Target,
	}
	switch n.Card {
	case "one":
		rel.Cardinality = schema.One
	case "many":
		rel.Cardinality = schema.Many
	}
	for i := range n.Fields {
		rel.Pairs = append(rel.Pairs, schema.ColumnPair{Field: n.Fields[i], Reference: n.Refs[i]})
	}
	return rel, nil
}

func oneStringArg(attr *attrNode) (string, error) {
	if len(attr.Args) != 1 || attr.Args[0].Str == nil {
		return "", fmt.Errorf("%s: @%s takes exactly one string argument", attr.Pos, attr.Name)
	}
	return *attr.Args[0].Str, nil
}

func stringArgs(attr *attrNode) ([]string, error) {
	values := make([]string, 0, len(attr.Args))
	for _, a := range attr.Args {
		if a.Str == nil {
			return nil, fmt.Errorf("%s: @%s arguments must be strings", attr.Pos, attr.Name)
		}
		values = append(values, *a.Str)
	}
	return values, nil
}

func docText(docs []string) string {
	if len(docs) == 0 {
		return ""
	}
	lines := make([]string, 0, len(docs))
	for _, d := range docs {
		lines = append(lines, strings.TrimSpace(strings.TrimPrefix(d, "///")))
	}
	return strings.Join(lines, "\n")
}
