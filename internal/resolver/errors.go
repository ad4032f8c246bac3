package resolver

import "fmt"

// ValidationError reports a rejected argument on one root field. It names
// the table and argument so callers can act on it without parsing text.
type ValidationError struct {
	Table    string
	Argument string
	Reason   string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("resolver: table %q argument %q %s", e.Table, e.Argument, e.Reason)
}
