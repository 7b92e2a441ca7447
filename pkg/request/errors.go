package request

import (
	"errors"
	"fmt"
)

// ValidationError reports a missing or invalid request field.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Reason == "" {
		return fmt.Sprintf("validation failed for field %q", e.Field)
	}
	return fmt.Sprintf("validation failed for field %q: %s", e.Field, e.Reason)
}

// MalformedInputError reports a JSON-encoded field that does not decode to
// the expected shape.
type MalformedInputError struct {
	Field string
	Err   error
}

func (e *MalformedInputError) Error() string {
	return fmt.Sprintf("malformed input in field %q: %v", e.Field, e.Err)
}

func (e *MalformedInputError) Unwrap() error {
	return e.Err
}

// TypeConversionError reports a field that could not be parsed into its
// declared type.
type TypeConversionError struct {
	Field string
	Kind  Kind
	Value string
	Err   error
}

func (e *TypeConversionError) Error() string {
	return fmt.Sprintf("field %q: cannot convert %q to %s", e.Field, e.Value, e.Kind)
}

func (e *TypeConversionError) Unwrap() error {
	return e.Err
}

// FieldOf returns the field named by a request error, or "" when err is not
// one of this package's error types.
func FieldOf(err error) string {
	var ve *ValidationError
	if errors.As(err, &ve) {
		return ve.Field
	}
	var me *MalformedInputError
	if errors.As(err, &me) {
		return me.Field
	}
	var te *TypeConversionError
	if errors.As(err, &te) {
		return te.Field
	}
	return ""
}

// IsRequestError reports whether err originates from request construction.
func IsRequestError(err error) bool {
	var ve *ValidationError
	var me *MalformedInputError
	var te *TypeConversionError
	return errors.As(err, &ve) || errors.As(err, &me) || errors.As(err, &te)
}
