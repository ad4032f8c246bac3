// Package setutil converts between the list values of the API surface and
// the comma-separated text form plain string-list columns are stored as.
package setutil

import (
	"fmt"
	"strings"
)

// Encode joins values into the stored comma-separated form. A value
// containing a comma is rejected.
func Encode(values []string) (string, error) {
	for _, v := range values {
		if strings.Contains(v, ",") {
			return "", fmt.Errorf("list value %q contains a comma", v)
		}
	}
	return strings.Join(values, ","), nil
}

// EncodeAny encodes a list supplied as []string or []interface{} of strings.
func EncodeAny(input interface{}) (string, error) {
	values, err := normalize(input)
	if err != nil {
		return "", err
	}
	return Encode(values)
}

// Decode splits the stored form back into its values. Empty text is the
// empty list.
func Decode(stored string) []string {
	if stored == "" {
		return []string{}
	}
	return strings.Split(stored, ",")
}

func normalize(input interface{}) ([]string, error) {
	switch v := input.(type) {
	case []string:
		return append([]string(nil), v...), nil
	case []interface{}:
		out := make([]string, 0, len(v))
		for _, item := range v {
			s, ok := item.(string)
			if !ok {
				return nil, fmt.Errorf("list values must be strings, got %T", item)
			}
			out = append(out, s)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("list value must be an array, got %T", input)
	}
}
