package transform

import (
	"errors"
	"fmt"
)

var (
	// ErrMissingField means a required legacy field was absent or blank.
	ErrMissingField = errors.New("missing required field")
	// ErrInvalidValue means a legacy field could not be parsed.
	ErrInvalidValue = errors.New("invalid field value")
)

// Error describes why a legacy record could not be transformed.
type Error struct {
	Record string // record kind, e.g. "customer"
	Field  string // legacy field name
	Reason error  // ErrMissingField or ErrInvalidValue, possibly wrapped
}

func (e *Error) Error() string {
	return fmt.Sprintf("transform %s: field %s: %v", e.Record, e.Field, e.Reason)
}

func (e *Error) Unwrap() error {
	return e.Reason
}

func missing(record, field string) *Error {
	return &Error{Record: record, Field: field, Reason: ErrMissingField}
}

func invalid(record, field string, format string, args ...any) *Error {
	return &Error{
		Record: record,
		Field:  field,
		Reason: fmt.Errorf("%w: %s", ErrInvalidValue, fmt.Sprintf(format, args...)),
	}
}
