// Package scalars implements the custom scalar types the generated schema
// declares beyond the built-ins: Date, BigInt, and Bytes for the fixed column
// kinds, a family of storage-shaped scalars (Decimal, JSON, Time, Year, UUID,
// Vector) that schemas reach by declaring the name, and opaque passthrough
// scalars for generated array types and unrecognized custom types.
// Constructors return fresh instances; the assembler caches one instance per
// name so a schema never holds two types with the same name.
package scalars

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/graphql-go/graphql"
	"github.com/graphql-go/graphql/language/ast"
)

// ForName returns the scalar implementation for a declared type name. Names
// with known semantics get their coercion rules; anything else is
// passthrough.
func ForName(name string) *graphql.Scalar {
	switch name {
	case "Date":
		return Date()
	case "BigInt":
		return BigInt()
	case "Bytes":
		return Bytes()
	case "Decimal":
		return Decimal()
	case "JSON":
		return JSON()
	case "Time":
		return Time()
	case "Year":
		return Year()
	case "UUID":
		return UUID()
	case "Vector":
		return Vector()
	default:
		return Passthrough(name)
	}
}

// Date serializes date values as YYYY-MM-DD. Row scanning may deliver dates
// as time.Time or as the driver's string form; both are accepted.
func Date() *graphql.Scalar {
	return graphql.NewScalar(graphql.ScalarConfig{
		Name:        "Date",
		Description: "Date value serialized as YYYY-MM-DD.",
		Serialize: func(value interface{}) interface{} {
			switch v := value.(type) {
			case time.Time:
				return v.UTC().Format("2006-01-02")
			case *time.Time:
				if v == nil {
					return nil
				}
				return v.UTC().Format("2006-01-02")
			case string:
				return v
			case []byte:
				return string(v)
			default:
				return nil
			}
		},
		ParseValue: func(value interface{}) interface{} {
			switch v := value.(type) {
			case time.Time:
				return v
			case string:
				return parseDate(v)
			default:
				return nil
			}
		},
		ParseLiteral: func(valueAST ast.Value) interface{} {
			if sv, ok := valueAST.(*ast.StringValue); ok {
				return parseDate(sv.Value)
			}
			return nil
		},
	})
}

func parseDate(s string) interface{} {
	if parsed, err := time.Parse("2006-01-02", s); err == nil {
		return parsed
	}
	if parsed, err := time.Parse(time.RFC3339, s); err == nil {
		return time.Date(parsed.Year(), parsed.Month(), parsed.Day(), 0, 0, 0, 0, time.UTC)
	}
	return nil
}

// BigInt carries 64-bit integers as strings so values above 2^53 survive
// JSON transport.
func BigInt() *graphql.Scalar {
	return graphql.NewScalar(graphql.ScalarConfig{
		Name:        "BigInt",
		Description: "64-bit integer value serialized as a string.",
		Serialize: func(value interface{}) interface{} {
			switch v := value.(type) {
			case int:
				return strconv.FormatInt(int64(v), 10)
			case int8:
				return strconv.FormatInt(int64(v), 10)
			case int16:
				return strconv.FormatInt(int64(v), 10)
			case int32:
				return strconv.FormatInt(int64(v), 10)
			case int64:
				return strconv.FormatInt(v, 10)
			case uint:
				return strconv.FormatUint(uint64(v), 10)
			case uint8:
				return strconv.FormatUint(uint64(v), 10)
			case uint16:
				return strconv.FormatUint(uint64(v), 10)
			case uint32:
				return strconv.FormatUint(uint64(v), 10)
			case uint64:
				return strconv.FormatUint(v, 10)
			case float64:
				if v != math.Trunc(v) || v > math.MaxInt64 || v < math.MinInt64 {
					return nil
				}
				return strconv.FormatInt(int64(v), 10)
			case string:
				if _, err := strconv.ParseInt(v, 10, 64); err == nil {
					return v
				}
				return nil
			case []byte:
				strVal := string(v)
				if _, err := strconv.ParseInt(strVal, 10, 64); err == nil {
					return strVal
				}
				return nil
			default:
				return nil
			}
		},
		ParseValue: func(value interface{}) interface{} {
			switch v := value.(type) {
			case int:
				return int64(v)
			case int32:
				return int64(v)
			case int64:
				return v
			case uint64:
				if v > math.MaxInt64 {
					return nil
				}
				return int64(v)
			case float64:
				if v != math.Trunc(v) || v > math.MaxInt64 || v < math.MinInt64 {
					return nil
				}
				return int64(v)
			case string:
				parsed, err := strconv.ParseInt(v, 10, 64)
				if err != nil {
					return nil
				}
				return parsed
			default:
				return nil
			}
		},
		ParseLiteral: func(valueAST ast.Value) interface{} {
			switch v := valueAST.(type) {
			case *ast.IntValue:
				parsed, err := strconv.ParseInt(v.Value, 10, 64)
				if err != nil {
					return nil
				}
				return parsed
			case *ast.StringValue:
				parsed, err := strconv.ParseInt(v.Value, 10, 64)
				if err != nil {
					return nil
				}
				return parsed
			default:
				return nil
			}
		},
	})
}

// Bytes carries binary column values. Raw bytes serialize as base64; values
// the storage layer has already rendered to text (BINARY(16) keys arrive as
// UUID strings) pass through. Inputs coerce to raw bytes here so filters and
// writes compare against BINARY columns correctly: UUID text first, base64
// otherwise.
func Bytes() *graphql.Scalar {
	return graphql.NewScalar(graphql.ScalarConfig{
		Name:        "Bytes",
		Description: "Binary value serialized as base64, or as UUID text for BINARY(16) keys.",
		Serialize: func(value interface{}) interface{} {
			switch v := value.(type) {
			case []byte:
				return base64.StdEncoding.EncodeToString(v)
			case string:
				return v
			default:
				return nil
			}
		},
		ParseValue: func(value interface{}) interface{} {
			switch v := value.(type) {
			case []byte:
				return v
			case string:
				return parseBytes(v)
			default:
				return nil
			}
		},
		ParseLiteral: func(valueAST ast.Value) interface{} {
			if sv, ok := valueAST.(*ast.StringValue); ok {
				return parseBytes(sv.Value)
			}
			return nil
		},
	})
}

func parseBytes(s string) interface{} {
	if parsed, err := uuid.Parse(s); err == nil {
		return parsed[:]
	}
	if decoded, err := base64.StdEncoding.DecodeString(s); err == nil {
		return decoded
	}
	return nil
}

var decimalPattern = regexp.MustCompile(`^[+-]?(\d+(\.\d*)?|\.\d+)([eE][+-]?\d+)?$`)

// Decimal keeps fixed-point values as strings end to end; converting through
// float64 would corrupt them.
func Decimal() *graphql.Scalar {
	return graphql.NewScalar(graphql.ScalarConfig{
		Name:        "Decimal",
		Description: "Fixed-point decimal value serialized as a string.",
		Serialize:   decimalValue,
		ParseValue:  decimalValue,
		ParseLiteral: func(valueAST ast.Value) interface{} {
			switch v := valueAST.(type) {
			case *ast.StringValue:
				return decimalValue(v.Value)
			case *ast.IntValue:
				return v.Value
			case *ast.FloatValue:
				return v.Value
			default:
				return nil
			}
		},
	})
}

func decimalValue(value interface{}) interface{} {
	switch v := value.(type) {
	case string:
		if decimalPattern.MatchString(v) {
			return v
		}
		return nil
	case []byte:
		return decimalValue(string(v))
	case int:
		return strconv.FormatInt(int64(v), 10)
	case int64:
		return strconv.FormatInt(v, 10)
	case uint64:
		return strconv.FormatUint(v, 10)
	case float32:
		return strconv.FormatFloat(float64(v), 'f', -1, 32)
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	default:
		return nil
	}
}

// JSON exposes JSON column values as raw JSON text.
func JSON() *graphql.Scalar {
	return graphql.NewScalar(graphql.ScalarConfig{
		Name:        "JSON",
		Description: "Arbitrary JSON value serialized as a string.",
		Serialize: func(value interface{}) interface{} {
			switch v := value.(type) {
			case []byte:
				return string(v)
			case string:
				return v
			case nil:
				return nil
			default:
				serialized, err := json.Marshal(v)
				if err != nil {
					return nil
				}
				return string(serialized)
			}
		},
		ParseValue: func(value interface{}) interface{} {
			if s, ok := value.(string); ok {
				return s
			}
			return nil
		},
		ParseLiteral: func(valueAST ast.Value) interface{} {
			if sv, ok := valueAST.(*ast.StringValue); ok {
				return sv.Value
			}
			return nil
		},
	})
}

var timePattern = regexp.MustCompile(`^(-)?(\d{1,3}):([0-5]?\d):([0-5]?\d)(\.\d{1,6})?$`)

// Time carries MySQL TIME values, which span -838:59:59 to 838:59:59 and so
// cannot ride on a wall-clock type. Values normalize to [-]HH:MM:SS with any
// fractional part preserved; MySQL's bare-number and HH:MM shorthands are
// accepted on input.
func Time() *graphql.Scalar {
	return graphql.NewScalar(graphql.ScalarConfig{
		Name:        "Time",
		Description: "Time-of-day or signed duration serialized as [-]HH:MM:SS[.fraction].",
		Serialize: func(value interface{}) interface{} {
			switch v := value.(type) {
			case []byte:
				return normalizeTime(string(v))
			case string:
				return normalizeTime(v)
			default:
				return nil
			}
		},
		ParseValue: func(value interface{}) interface{} {
			switch v := value.(type) {
			case []byte:
				return normalizeTime(string(v))
			case string:
				return normalizeTime(v)
			default:
				return nil
			}
		},
		ParseLiteral: func(valueAST ast.Value) interface{} {
			switch v := valueAST.(type) {
			case *ast.StringValue:
				return normalizeTime(v.Value)
			case *ast.IntValue:
				return normalizeTime(v.Value)
			default:
				return nil
			}
		},
	})
}

func normalizeTime(s string) interface{} {
	if s == "" {
		return nil
	}

	// MySQL's bare-number shorthand: the rightmost two digits are seconds,
	// the next two minutes, the rest hours.
	if isDigits(s) {
		padded := s
		for len(padded) < 6 {
			padded = "0" + padded
		}
		if len(padded) > 9 {
			return nil
		}
		s = fmt.Sprintf("%s:%s:%s", padded[:len(padded)-4], padded[len(padded)-4:len(padded)-2], padded[len(padded)-2:])
	} else if strings.Count(s, ":") == 1 {
		s += ":00"
	}

	m := timePattern.FindStringSubmatch(s)
	if m == nil {
		return nil
	}
	hours, err := strconv.Atoi(m[2])
	if err != nil || hours > 838 {
		return nil
	}

	sign := m[1]
	fraction := m[5]
	minutes := m[3]
	seconds := m[4]
	if len(minutes) == 1 {
		minutes = "0" + minutes
	}
	if len(seconds) == 1 {
		seconds = "0" + seconds
	}
	return fmt.Sprintf("%s%02d:%s:%s%s", sign, hours, minutes, seconds, fraction)
}

func isDigits(s string) bool {
	for _, ch := range s {
		if ch < '0' || ch > '9' {
			return false
		}
	}
	return len(s) > 0
}

// Year carries MySQL YEAR values: 1901 through 2155, plus the zero year.
func Year() *graphql.Scalar {
	return graphql.NewScalar(graphql.ScalarConfig{
		Name:        "Year",
		Description: "Year value in 1901-2155 (or 0000) serialized as a four-digit string.",
		Serialize:   yearValue,
		ParseValue:  yearValue,
		ParseLiteral: func(valueAST ast.Value) interface{} {
			switch v := valueAST.(type) {
			case *ast.IntValue:
				return yearValue(v.Value)
			case *ast.StringValue:
				return yearValue(v.Value)
			default:
				return nil
			}
		},
	})
}

func yearValue(value interface{}) interface{} {
	var n int
	switch v := value.(type) {
	case int:
		n = v
	case int64:
		n = int(v)
	case float64:
		if v != math.Trunc(v) {
			return nil
		}
		n = int(v)
	case []byte:
		return yearValue(string(v))
	case string:
		if len(v) != 4 && v != "0" {
			return nil
		}
		parsed, err := strconv.Atoi(v)
		if err != nil {
			return nil
		}
		n = parsed
	default:
		return nil
	}
	if n != 0 && (n < 1901 || n > 2155) {
		return nil
	}
	return fmt.Sprintf("%04d", n)
}

// UUID carries UUID values in canonical lowercase text form. Raw 16-byte
// values from BINARY(16) columns render to text on the way out.
func UUID() *graphql.Scalar {
	return graphql.NewScalar(graphql.ScalarConfig{
		Name:        "UUID",
		Description: "UUID serialized in canonical 8-4-4-4-12 form.",
		Serialize:   uuidValue,
		ParseValue:  uuidValue,
		ParseLiteral: func(valueAST ast.Value) interface{} {
			if sv, ok := valueAST.(*ast.StringValue); ok {
				return uuidValue(sv.Value)
			}
			return nil
		},
	})
}

func uuidValue(value interface{}) interface{} {
	switch v := value.(type) {
	case string:
		parsed, err := uuid.Parse(v)
		if err != nil {
			return nil
		}
		return parsed.String()
	case []byte:
		parsed, err := uuid.FromBytes(v)
		if err != nil {
			return nil
		}
		return parsed.String()
	default:
		return nil
	}
}

// Vector carries fixed-width float vectors as []float64. The driver returns
// vector columns as JSON-array text; callers may also supply element lists.
func Vector() *graphql.Scalar {
	return graphql.NewScalar(graphql.ScalarConfig{
		Name:        "Vector",
		Description: "Float vector serialized as a JSON array of numbers.",
		Serialize:   vectorValue,
		ParseValue:  vectorValue,
		ParseLiteral: func(valueAST ast.Value) interface{} {
			lv, ok := valueAST.(*ast.ListValue)
			if !ok {
				return nil
			}
			items := make([]interface{}, len(lv.Values))
			for i, item := range lv.Values {
				items[i] = literalValue(item)
			}
			return vectorValue(items)
		},
	})
}

func vectorValue(value interface{}) interface{} {
	switch v := value.(type) {
	case []float64:
		for _, f := range v {
			if math.IsInf(f, 0) || math.IsNaN(f) {
				return nil
			}
		}
		return v
	case []interface{}:
		out := make([]float64, len(v))
		for i, item := range v {
			f, ok := vectorElement(item)
			if !ok {
				return nil
			}
			out[i] = f
		}
		return out
	case []byte:
		return vectorValue(string(v))
	case string:
		var out []float64
		if err := json.Unmarshal([]byte(v), &out); err != nil {
			return nil
		}
		return vectorValue(out)
	default:
		return nil
	}
}

func vectorElement(value interface{}) (float64, bool) {
	var f float64
	switch v := value.(type) {
	case float64:
		f = v
	case float32:
		f = float64(v)
	case int:
		f = float64(v)
	case int64:
		f = float64(v)
	case json.Number:
		parsed, err := v.Float64()
		if err != nil {
			return 0, false
		}
		f = parsed
	case string:
		parsed, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return 0, false
		}
		f = parsed
	default:
		return 0, false
	}
	if math.IsInf(f, 0) || math.IsNaN(f) {
		return 0, false
	}
	return f, true
}

// Passthrough returns an opaque scalar that accepts and returns values
// unchanged. Generated array types and unrecognized custom types use it; the
// storage layer owns their representation.
func Passthrough(name string) *graphql.Scalar {
	return graphql.NewScalar(graphql.ScalarConfig{
		Name: name,
		Serialize: func(value interface{}) interface{} {
			return value
		},
		ParseValue: func(value interface{}) interface{} {
			return value
		},
		ParseLiteral: literalValue,
	})
}

// literalValue decodes an AST literal into its plain Go value, including
// nested lists and objects.
func literalValue(valueAST ast.Value) interface{} {
	switch v := valueAST.(type) {
	case *ast.StringValue:
		return v.Value
	case *ast.BooleanValue:
		return v.Value
	case *ast.IntValue:
		parsed, err := strconv.ParseInt(v.Value, 10, 64)
		if err != nil {
			return nil
		}
		return parsed
	case *ast.FloatValue:
		parsed, err := strconv.ParseFloat(v.Value, 64)
		if err != nil {
			return nil
		}
		return parsed
	case *ast.ListValue:
		values := make([]interface{}, len(v.Values))
		for i, item := range v.Values {
			values[i] = literalValue(item)
		}
		return values
	case *ast.ObjectValue:
		object := make(map[string]interface{}, len(v.Fields))
		for _, field := range v.Fields {
			if field.Name == nil {
				continue
			}
			object[field.Name.Value] = literalValue(field.Value)
		}
		return object
	default:
		return nil
	}
}
