package assemble

import (
	"rel-graphql/internal/resolver"
	"rel-graphql/internal/scalars"
	"rel-graphql/internal/schema"
	"rel-graphql/internal/typemap"

	"github.com/graphql-go/graphql"
)

// execBuilder constructs the executable schema for one build. Every cache is
// scoped to the builder so two builds never share type instances; within one
// build each name maps to exactly one instance, which the runtime requires.
type execBuilder struct {
	b         *build
	resolvers *resolver.Map

	enumDefs     map[string][]string
	scalarTypes  map[string]*graphql.Scalar
	enumTypes    map[string]*graphql.Enum
	filterTypes  map[string]*graphql.InputObject
	objectTypes  map[string]*graphql.Object
	tableFilters map[string]*graphql.InputObject
	orderInputs  map[string]*graphql.InputObject
	insertInputs map[string]*graphql.InputObject
	updateInputs map[string]*graphql.InputObject

	direction  *graphql.Enum
	orderEntry *graphql.InputObject
}

func newExecBuilder(b *build, resolvers *resolver.Map) *execBuilder {
	eb := &execBuilder{
		b:            b,
		resolvers:    resolvers,
		enumDefs:     make(map[string][]string),
		scalarTypes:  make(map[string]*graphql.Scalar),
		enumTypes:    make(map[string]*graphql.Enum),
		filterTypes:  make(map[string]*graphql.InputObject),
		objectTypes:  make(map[string]*graphql.Object, len(b.models)),
		tableFilters: make(map[string]*graphql.InputObject, len(b.models)),
		orderInputs:  make(map[string]*graphql.InputObject, len(b.models)),
		insertInputs: make(map[string]*graphql.InputObject, len(b.models)),
		updateInputs: make(map[string]*graphql.InputObject, len(b.models)),
	}
	for _, e := range b.reg.Enums() {
		eb.enumDefs[e.Name] = e.Values
	}
	return eb
}

func (eb *execBuilder) schema() (graphql.Schema, error) {
	queryFields := graphql.Fields{}
	for _, m := range eb.b.models {
		obj := eb.objectType(m)
		queryFields[m.rootName+"FindMany"] = &graphql.Field{
			Type: rowList(obj),
			Args: graphql.FieldConfigArgument{
				"where":   &graphql.ArgumentConfig{Type: eb.tableFilter(m)},
				"orderBy": &graphql.ArgumentConfig{Type: eb.orderInput(m)},
				"limit":   &graphql.ArgumentConfig{Type: graphql.Int},
				"offset":  &graphql.ArgumentConfig{Type: graphql.Int},
			},
			Resolve: eb.resolvers.Query[m.rootName+"FindMany"],
		}
		queryFields[m.rootName+"FindFirst"] = &graphql.Field{
			Type: obj,
			Args: graphql.FieldConfigArgument{
				"where":   &graphql.ArgumentConfig{Type: eb.tableFilter(m)},
				"orderBy": &graphql.ArgumentConfig{Type: eb.orderInput(m)},
				"offset":  &graphql.ArgumentConfig{Type: graphql.Int},
			},
			Resolve: eb.resolvers.Query[m.rootName+"FindFirst"],
		}
	}

	config := graphql.SchemaConfig{
		Query: graphql.NewObject(graphql.ObjectConfig{Name: "Query", Fields: queryFields}),
	}

	if eb.b.mutations {
		mutationFields := graphql.Fields{}
		for _, m := range eb.b.models {
			obj := eb.objectType(m)
			mutationFields[m.rootName+"InsertMany"] = &graphql.Field{
				Type: rowList(obj),
				Args: graphql.FieldConfigArgument{
					"values": &graphql.ArgumentConfig{
						Type: graphql.NewNonNull(graphql.NewList(graphql.NewNonNull(eb.insertInput(m)))),
					},
				},
				Resolve: eb.resolvers.Mutation[m.rootName+"InsertMany"],
			}
			mutationFields[m.rootName+"UpdateMany"] = &graphql.Field{
				Type: rowList(obj),
				Args: graphql.FieldConfigArgument{
					"set":   &graphql.ArgumentConfig{Type: graphql.NewNonNull(eb.updateInput(m))},
					"where": &graphql.ArgumentConfig{Type: eb.tableFilter(m)},
				},
				Resolve: eb.resolvers.Mutation[m.rootName+"UpdateMany"],
			}
			mutationFields[m.rootName+"DeleteMany"] = &graphql.Field{
				Type: rowList(obj),
				Args: graphql.FieldConfigArgument{
					"where": &graphql.ArgumentConfig{Type: eb.tableFilter(m)},
				},
				Resolve: eb.resolvers.Mutation[m.rootName+"DeleteMany"],
			}
		}
		config.Mutation = graphql.NewObject(graphql.ObjectConfig{Name: "Mutation", Fields: mutationFields})
	}

	return graphql.NewSchema(config)
}

// rowList is the non-null list-of-rows shape shared by find-many and every
// mutation response.
func rowList(obj *graphql.Object) graphql.Output {
	return graphql.NewNonNull(graphql.NewList(graphql.NewNonNull(obj)))
}

// objectType returns the output type for one table. Fields build lazily via
// a thunk because relations may form cycles; the instance is cached before
// the thunk can run so a cycle resolves to the same instance.
func (eb *execBuilder) objectType(m *tableModel) *graphql.Object {
	if obj, ok := eb.objectTypes[m.table.Name]; ok {
		return obj
	}
	obj := graphql.NewObject(graphql.ObjectConfig{
		Name: m.typeName,
		Fields: graphql.FieldsThunk(func() graphql.Fields {
			return eb.objectFields(m)
		}),
	})
	eb.objectTypes[m.table.Name] = obj
	return obj
}

// objectFields builds one table's fields: columns resolve by map key through
// the runtime's default resolver, and relation fields carry the child-level
// arguments the planner compiles. Relation values are embedded in the parent
// row by the storage layer under their response keys, so relation fields
// resolve by row lookup rather than by fetching.
func (eb *execBuilder) objectFields(m *tableModel) graphql.Fields {
	fields := graphql.Fields{}
	for _, cf := range m.columns {
		fieldType := eb.typeFor(cf.base)
		if typemap.OutputNonNull(cf.col) {
			fieldType = graphql.NewNonNull(fieldType)
		}
		fields[cf.col.Name] = &graphql.Field{Type: fieldType}
	}

	for _, rel := range m.table.Relations {
		target := eb.b.byTable[rel.Target]
		targetObj := eb.objectType(target)
		if rel.Cardinality == schema.One {
			fields[rel.Name] = &graphql.Field{
				Type: targetObj,
				Args: graphql.FieldConfigArgument{
					"where": &graphql.ArgumentConfig{Type: eb.tableFilter(target)},
				},
				Resolve: relationValue(rel.Cardinality),
			}
			continue
		}
		fields[rel.Name] = &graphql.Field{
			Type: rowList(targetObj),
			Args: graphql.FieldConfigArgument{
				"where":   &graphql.ArgumentConfig{Type: eb.tableFilter(target)},
				"orderBy": &graphql.ArgumentConfig{Type: eb.orderInput(target)},
				"limit":   &graphql.ArgumentConfig{Type: graphql.Int},
				"offset":  &graphql.ArgumentConfig{Type: graphql.Int},
			},
			Resolve: relationValue(rel.Cardinality),
		}
	}
	return fields
}

// relationValue resolves a relation field out of its parent row. Rows key
// embedded relation values by response key, so two aliased selections of the
// same relation read their own branch. A key the row lacks means the planner
// truncated the branch at the depth bound; the field completes with the empty
// shape of its cardinality instead of failing the non-null list.
func relationValue(cardinality schema.Cardinality) graphql.FieldResolveFn {
	return func(p graphql.ResolveParams) (interface{}, error) {
		var empty interface{}
		if cardinality == schema.Many {
			empty = []interface{}{}
		}

		row, ok := p.Source.(map[string]interface{})
		if !ok {
			return empty, nil
		}
		key := p.Info.FieldName
		if len(p.Info.FieldASTs) > 0 {
			if field := p.Info.FieldASTs[0]; field != nil && field.Alias != nil && field.Alias.Value != "" {
				key = field.Alias.Value
			}
		}
		switch value := row[key].(type) {
		case []interface{}:
			if cardinality == schema.Many {
				return value, nil
			}
		case map[string]interface{}:
			if cardinality == schema.One {
				return value, nil
			}
		}
		return empty, nil
	}
}

// tableFilter returns the per-table filter input: one field per column typed
// by that column's base-type filter, plus a same-type OR list. The OR field
// references the input itself, so fields build via a thunk.
func (eb *execBuilder) tableFilter(m *tableModel) *graphql.InputObject {
	if f, ok := eb.tableFilters[m.table.Name]; ok {
		return f
	}
	var input *graphql.InputObject
	input = graphql.NewInputObject(graphql.InputObjectConfig{
		Name: m.typeName + "Filters",
		Fields: graphql.InputObjectConfigFieldMapThunk(func() graphql.InputObjectConfigFieldMap {
			fields := graphql.InputObjectConfigFieldMap{}
			for _, cf := range m.columns {
				fields[cf.col.Name] = &graphql.InputObjectFieldConfig{Type: eb.filterFor(cf.base)}
			}
			fields["OR"] = &graphql.InputObjectFieldConfig{
				Type: graphql.NewList(graphql.NewNonNull(input)),
			}
			return fields
		}),
	})
	eb.tableFilters[m.table.Name] = input
	return input
}

// filterFor returns the shared filter input for one base type, carrying the
// fourteen operators plus OR.
func (eb *execBuilder) filterFor(base string) *graphql.InputObject {
	if f, ok := eb.filterTypes[base]; ok {
		return f
	}
	operand := eb.typeFor(base)
	operandList := graphql.NewList(graphql.NewNonNull(operand))

	var input *graphql.InputObject
	input = graphql.NewInputObject(graphql.InputObjectConfig{
		Name: eb.b.reg.FilterName(base),
		Fields: graphql.InputObjectConfigFieldMapThunk(func() graphql.InputObjectConfigFieldMap {
			return graphql.InputObjectConfigFieldMap{
				"eq":         &graphql.InputObjectFieldConfig{Type: operand},
				"ne":         &graphql.InputObjectFieldConfig{Type: operand},
				"lt":         &graphql.InputObjectFieldConfig{Type: operand},
				"lte":        &graphql.InputObjectFieldConfig{Type: operand},
				"gt":         &graphql.InputObjectFieldConfig{Type: operand},
				"gte":        &graphql.InputObjectFieldConfig{Type: operand},
				"like":       &graphql.InputObjectFieldConfig{Type: graphql.String},
				"notLike":    &graphql.InputObjectFieldConfig{Type: graphql.String},
				"ilike":      &graphql.InputObjectFieldConfig{Type: graphql.String},
				"notIlike":   &graphql.InputObjectFieldConfig{Type: graphql.String},
				"inArray":    &graphql.InputObjectFieldConfig{Type: operandList},
				"notInArray": &graphql.InputObjectFieldConfig{Type: operandList},
				"isNull":     &graphql.InputObjectFieldConfig{Type: graphql.Boolean},
				"isNotNull":  &graphql.InputObjectFieldConfig{Type: graphql.Boolean},
				"OR": &graphql.InputObjectFieldConfig{
					Type: graphql.NewList(graphql.NewNonNull(input)),
				},
			}
		}),
	})
	eb.filterTypes[base] = input
	return input
}

func (eb *execBuilder) insertInput(m *tableModel) *graphql.InputObject {
	if in, ok := eb.insertInputs[m.table.Name]; ok {
		return in
	}
	fields := graphql.InputObjectConfigFieldMap{}
	for _, cf := range m.columns {
		var fieldType graphql.Input = eb.typeFor(cf.base)
		if typemap.InsertNonNull(cf.col) {
			fieldType = graphql.NewNonNull(fieldType)
		}
		fields[cf.col.Name] = &graphql.InputObjectFieldConfig{Type: fieldType}
	}
	in := graphql.NewInputObject(graphql.InputObjectConfig{
		Name:   m.typeName + "InsertInput",
		Fields: fields,
	})
	eb.insertInputs[m.table.Name] = in
	return in
}

func (eb *execBuilder) updateInput(m *tableModel) *graphql.InputObject {
	if in, ok := eb.updateInputs[m.table.Name]; ok {
		return in
	}
	fields := graphql.InputObjectConfigFieldMap{}
	for _, cf := range m.columns {
		fields[cf.col.Name] = &graphql.InputObjectFieldConfig{Type: eb.typeFor(cf.base)}
	}
	in := graphql.NewInputObject(graphql.InputObjectConfig{
		Name:   m.typeName + "UpdateInput",
		Fields: fields,
	})
	eb.updateInputs[m.table.Name] = in
	return in
}

func (eb *execBuilder) orderInput(m *tableModel) *graphql.InputObject {
	if in, ok := eb.orderInputs[m.table.Name]; ok {
		return in
	}
	fields := graphql.InputObjectConfigFieldMap{}
	for _, cf := range m.columns {
		fields[cf.col.Name] = &graphql.InputObjectFieldConfig{Type: eb.orderEntryInput()}
	}
	in := graphql.NewInputObject(graphql.InputObjectConfig{
		Name:   m.typeName + "OrderBy",
		Fields: fields,
	})
	eb.orderInputs[m.table.Name] = in
	return in
}

func (eb *execBuilder) orderEntryInput() *graphql.InputObject {
	if eb.orderEntry == nil {
		eb.orderEntry = graphql.NewInputObject(graphql.InputObjectConfig{
			Name: "OrderByEntry",
			Fields: graphql.InputObjectConfigFieldMap{
				"direction": &graphql.InputObjectFieldConfig{Type: graphql.NewNonNull(eb.directionEnum())},
				"priority":  &graphql.InputObjectFieldConfig{Type: graphql.NewNonNull(graphql.Int)},
			},
		})
	}
	return eb.orderEntry
}

func (eb *execBuilder) directionEnum() *graphql.Enum {
	if eb.direction == nil {
		eb.direction = graphql.NewEnum(graphql.EnumConfig{
			Name: "Direction",
			Values: graphql.EnumValueConfigMap{
				"asc":  &graphql.EnumValueConfig{Value: "asc"},
				"desc": &graphql.EnumValueConfig{Value: "desc"},
			},
		})
	}
	return eb.direction
}

// typeFor resolves a base type name to its runtime type: built-ins by name,
// the geometric list shape structurally, generated enums from the registry,
// and everything else as a scalar instance cached per name.
func (eb *execBuilder) typeFor(base string) graphql.Type {
	switch base {
	case "Int":
		return graphql.Int
	case "Float":
		return graphql.Float
	case "String":
		return graphql.String
	case "Boolean":
		return graphql.Boolean
	case "ID":
		return graphql.ID
	case typemap.GeometricList:
		return graphql.NewList(graphql.NewNonNull(graphql.Float))
	}
	if values, ok := eb.enumDefs[base]; ok {
		return eb.enumType(base, values)
	}
	return eb.scalarType(base)
}

func (eb *execBuilder) enumType(name string, values []string) *graphql.Enum {
	if e, ok := eb.enumTypes[name]; ok {
		return e
	}
	config := graphql.EnumValueConfigMap{}
	for _, v := range values {
		config[v] = &graphql.EnumValueConfig{Value: v}
	}
	e := graphql.NewEnum(graphql.EnumConfig{Name: name, Values: config})
	eb.enumTypes[name] = e
	return e
}

func (eb *execBuilder) scalarType(name string) *graphql.Scalar {
	if sc, ok := eb.scalarTypes[name]; ok {
		return sc
	}
	sc := scalars.ForName(name)
	eb.scalarTypes[name] = sc
	return sc
}
