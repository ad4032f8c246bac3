package assemble

import (
	"fmt"
	"strings"

	"rel-graphql/internal/schema"
	"rel-graphql/internal/typemap"
)

// renderSDL writes the type-definition text for one build: declared scalars,
// column enums, the shared sort types, the filter input family, the per-table
// type block, and the root types. Everything renders in deterministic order —
// registry first-use order for generated names, schema declaration order for
// tables and columns.
func renderSDL(b *build) string {
	var sb strings.Builder

	for _, name := range b.reg.Scalars() {
		fmt.Fprintf(&sb, "scalar %s\n\n", name)
	}

	for _, enum := range b.reg.Enums() {
		fmt.Fprintf(&sb, "enum %s {\n", enum.Name)
		for _, v := range enum.Values {
			fmt.Fprintf(&sb, "  %s\n", v)
		}
		sb.WriteString("}\n\n")
	}

	sb.WriteString("enum Direction {\n  asc\n  desc\n}\n\n")
	sb.WriteString("input OrderByEntry {\n  direction: Direction!\n  priority: Int!\n}\n\n")

	for _, entry := range b.reg.FilterEntries() {
		renderFilterInput(&sb, entry)
	}

	for _, m := range b.models {
		renderTable(&sb, b, m)
	}

	renderRoots(&sb, b)
	return sb.String()
}

func renderFilterInput(sb *strings.Builder, entry typemap.FilterEntry) {
	operand := entry.Base
	operandList := "[" + operand + "!]"

	fmt.Fprintf(sb, "input %s {\n", entry.Name)
	fmt.Fprintf(sb, "  eq: %s\n", operand)
	fmt.Fprintf(sb, "  ne: %s\n", operand)
	fmt.Fprintf(sb, "  lt: %s\n", operand)
	fmt.Fprintf(sb, "  lte: %s\n", operand)
	fmt.Fprintf(sb, "  gt: %s\n", operand)
	fmt.Fprintf(sb, "  gte: %s\n", operand)
	sb.WriteString("  like: String\n")
	sb.WriteString("  notLike: String\n")
	sb.WriteString("  ilike: String\n")
	sb.WriteString("  notIlike: String\n")
	fmt.Fprintf(sb, "  inArray: %s\n", operandList)
	fmt.Fprintf(sb, "  notInArray: %s\n", operandList)
	sb.WriteString("  isNull: Boolean\n")
	sb.WriteString("  isNotNull: Boolean\n")
	fmt.Fprintf(sb, "  OR: [%s!]\n", entry.Name)
	sb.WriteString("}\n\n")
}

func renderTable(sb *strings.Builder, b *build, m *tableModel) {
	fmt.Fprintf(sb, "type %s {\n", m.typeName)
	for _, cf := range m.columns {
		suffix := ""
		if typemap.OutputNonNull(cf.col) {
			suffix = "!"
		}
		fmt.Fprintf(sb, "  %s: %s%s\n", cf.col.Name, cf.base, suffix)
	}
	for _, rel := range m.table.Relations {
		target := b.byTable[rel.Target]
		if rel.Cardinality == schema.One {
			fmt.Fprintf(sb, "  %s(where: %sFilters): %s\n", rel.Name, target.typeName, target.typeName)
			continue
		}
		fmt.Fprintf(sb, "  %s(where: %sFilters, orderBy: %sOrderBy, limit: Int, offset: Int): [%s!]!\n",
			rel.Name, target.typeName, target.typeName, target.typeName)
	}
	sb.WriteString("}\n\n")

	fmt.Fprintf(sb, "input %sInsertInput {\n", m.typeName)
	for _, cf := range m.columns {
		suffix := ""
		if typemap.InsertNonNull(cf.col) {
			suffix = "!"
		}
		fmt.Fprintf(sb, "  %s: %s%s\n", cf.col.Name, cf.base, suffix)
	}
	sb.WriteString("}\n\n")

	fmt.Fprintf(sb, "input %sUpdateInput {\n", m.typeName)
	for _, cf := range m.columns {
		fmt.Fprintf(sb, "  %s: %s\n", cf.col.Name, cf.base)
	}
	sb.WriteString("}\n\n")

	fmt.Fprintf(sb, "input %sFilters {\n", m.typeName)
	for _, cf := range m.columns {
		fmt.Fprintf(sb, "  %s: %s\n", cf.col.Name, b.reg.FilterName(cf.base))
	}
	fmt.Fprintf(sb, "  OR: [%sFilters!]\n", m.typeName)
	sb.WriteString("}\n\n")

	fmt.Fprintf(sb, "input %sOrderBy {\n", m.typeName)
	for _, cf := range m.columns {
		fmt.Fprintf(sb, "  %s: OrderByEntry\n", cf.col.Name)
	}
	sb.WriteString("}\n\n")
}

func renderRoots(sb *strings.Builder, b *build) {
	sb.WriteString("type Query {\n")
	for _, m := range b.models {
		fmt.Fprintf(sb, "  %sFindMany(where: %sFilters, orderBy: %sOrderBy, limit: Int, offset: Int): [%s!]!\n",
			m.rootName, m.typeName, m.typeName, m.typeName)
		fmt.Fprintf(sb, "  %sFindFirst(where: %sFilters, orderBy: %sOrderBy, offset: Int): %s\n",
			m.rootName, m.typeName, m.typeName, m.typeName)
	}
	sb.WriteString("}\n")

	if !b.mutations {
		return
	}
	sb.WriteString("\ntype Mutation {\n")
	for _, m := range b.models {
		fmt.Fprintf(sb, "  %sInsertMany(values: [%sInsertInput!]!): [%s!]!\n", m.rootName, m.typeName, m.typeName)
		fmt.Fprintf(sb, "  %sUpdateMany(set: %sUpdateInput!, where: %sFilters): [%s!]!\n", m.rootName, m.typeName, m.typeName, m.typeName)
		fmt.Fprintf(sb, "  %sDeleteMany(where: %sFilters): [%s!]!\n", m.rootName, m.typeName, m.typeName)
	}
	sb.WriteString("}\n")
}
