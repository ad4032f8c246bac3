package planner

import (
	"fmt"
	"math"
	"strconv"

	"rel-graphql/internal/filter"
	"rel-graphql/internal/order"
	"rel-graphql/internal/schema"

	"github.com/graphql-go/graphql/language/ast"
)

// compileArguments binds one level's where/orderBy/limit/offset argument
// values onto the node. Absent arguments leave the node unconstrained.
func compileArguments(node *SelectionNode, table *schema.Table, args map[string]interface{}) error {
	if len(args) == 0 {
		return nil
	}

	if input, ok := args["where"].(map[string]interface{}); ok {
		where, err := filter.Compile(table, input)
		if err != nil {
			return err
		}
		node.Where = where
	}

	if input, ok := args["orderBy"].(map[string]interface{}); ok {
		entries, err := order.Compile(table, input)
		if err != nil {
			return err
		}
		node.Order = entries
	}

	var err error
	if node.Limit, err = intArg(args, "limit"); err != nil {
		return err
	}
	if node.Offset, err = intArg(args, "offset"); err != nil {
		return err
	}
	return nil
}

// intArg extracts an optional non-negative integer argument. A missing or
// null value yields nil.
func intArg(args map[string]interface{}, key string) (*int, error) {
	value, ok := args[key]
	if !ok || value == nil {
		return nil, nil
	}

	var n int
	switch v := value.(type) {
	case int:
		n = v
	case int64:
		n = int(v)
	case float64:
		if v != math.Trunc(v) {
			return nil, fmt.Errorf("planner: %s must be a non-negative integer", key)
		}
		n = int(v)
	default:
		return nil, fmt.Errorf("planner: %s must be a non-negative integer", key)
	}
	if n < 0 {
		return nil, fmt.Errorf("planner: %s must be non-negative", key)
	}
	return &n, nil
}

// relationArguments extracts the argument values of a relation field from its
// AST. fields share one response key; GraphQL field merging requires such
// duplicates to carry identical arguments, so the first occurrence carrying
// arguments wins.
func relationArguments(fields []*ast.Field, variables map[string]interface{}) map[string]interface{} {
	for _, field := range fields {
		if len(field.Arguments) == 0 {
			continue
		}
		args := make(map[string]interface{}, len(field.Arguments))
		for _, arg := range field.Arguments {
			if arg.Name == nil {
				continue
			}
			args[arg.Name.Value] = valueFromAST(arg.Value, variables)
		}
		return args
	}
	return nil
}

// valueFromAST converts a GraphQL argument literal into the Go value shape
// the filter and order compilers consume. Variable references resolve from
// the operation's coerced variable values.
func valueFromAST(value ast.Value, variables map[string]interface{}) interface{} {
	switch v := value.(type) {
	case *ast.Variable:
		if v.Name == nil || variables == nil {
			return nil
		}
		return variables[v.Name.Value]
	case *ast.IntValue:
		n, err := strconv.Atoi(v.Value)
		if err != nil {
			return nil
		}
		return n
	case *ast.FloatValue:
		f, err := strconv.ParseFloat(v.Value, 64)
		if err != nil {
			return nil
		}
		return f
	case *ast.StringValue:
		return v.Value
	case *ast.BooleanValue:
		return v.Value
	case *ast.EnumValue:
		return v.Value
	case *ast.ListValue:
		items := make([]interface{}, 0, len(v.Values))
		for _, item := range v.Values {
			items = append(items, valueFromAST(item, variables))
		}
		return items
	case *ast.ObjectValue:
		object := make(map[string]interface{}, len(v.Fields))
		for _, field := range v.Fields {
			if field.Name == nil {
				continue
			}
			object[field.Name.Value] = valueFromAST(field.Value, variables)
		}
		return object
	default:
		return nil
	}
}
