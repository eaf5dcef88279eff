package insurance

import (
	"errors"
	"fmt"
)

// ErrMalformedValue is matched by every FieldError returned from a constructor.
var ErrMalformedValue = errors.New("malformed value")

// FieldError reports the field of a domain value that violated a basic invariant.
type FieldError struct {
	Type   string
	Field  string
	Reason string
}

func (e *FieldError) Error() string {
	return fmt.Sprintf("malformed %s: %s %s", e.Type, e.Field, e.Reason)
}

func (e *FieldError) Unwrap() error {
	return ErrMalformedValue
}

func invalid(typ, field, reason string) error {
	return &FieldError{Type: typ, Field: field, Reason: reason}
}
