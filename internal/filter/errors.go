package filter

import "fmt"

// ConflictError reports an OR key combined with sibling keys at one filter
// level. OR and field conjunction are exclusive per node.
type ConflictError struct {
	Table  string
	Column string // empty for a table-level conflict
}

func (e *ConflictError) Error() string {
	if e.Column != "" {
		return fmt.Sprintf("filter for table %q column %q: OR cannot be combined with other operators at the same level", e.Table, e.Column)
	}
	return fmt.Sprintf("filter for table %q: OR cannot be combined with other fields at the same level", e.Table)
}

// EmptyListError reports an inArray/notInArray operator with an empty
// operand list, which is rejected rather than treated as vacuously
// true or false.
type EmptyListError struct {
	Table    string
	Column   string
	Operator string
}

func (e *EmptyListError) Error() string {
	return fmt.Sprintf("filter for table %q column %q: %s requires at least one value", e.Table, e.Column, e.Operator)
}

// UnknownOperatorError reports an operator outside the fixed set.
type UnknownOperatorError struct {
	Table    string
	Column   string
	Operator string
}

func (e *UnknownOperatorError) Error() string {
	return fmt.Sprintf("filter for table %q column %q: unknown operator %q", e.Table, e.Column, e.Operator)
}
