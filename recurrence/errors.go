package recurrence

import (
	"errors"
	"fmt"
)

// ErrInvalidRule is the sentinel every rule validation failure unwraps to.
var ErrInvalidRule = errors.New("invalid recurrence rule")

// RuleError names the offending field.
type RuleError struct {
	Field  string
	Reason string
}

func (e *RuleError) Error() string {
	return fmt.Sprintf("invalid recurrence rule: %s %s", e.Field, e.Reason)
}

func (e *RuleError) Unwrap() error {
	return ErrInvalidRule
}
