package schema

import (
	"errors"
	"fmt"
	"strings"
)

// ValidationError describes one port that failed its check.
type ValidationError struct {
	Port   string
	Reason string
	Value  any
}

func (e *ValidationError) Error() string {
	if e.Value == nil {
		return fmt.Sprintf("port %q: %s", e.Port, e.Reason)
	}
	return fmt.Sprintf("port %q: %s (got %T)", e.Port, e.Reason, e.Value)
}

// AggregateError collects every failing port of one check.
type AggregateError struct {
	Errors []error
}

func (e *AggregateError) Error() string {
	if len(e.Errors) == 1 {
		return e.Errors[0].Error()
	}
	msgs := make([]string, len(e.Errors))
	for i, err := range e.Errors {
		msgs[i] = err.Error()
	}
	return fmt.Sprintf("%d port errors: %s", len(e.Errors), strings.Join(msgs, "; "))
}

// ValidationErrors unpacks an AggregateError anywhere in err's chain.
func ValidationErrors(err error) []error {
	var aggr *AggregateError
	if errors.As(err, &aggr) {
		return aggr.Errors
	}
	return nil
}
