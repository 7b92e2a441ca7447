// Package errors maps gomian failures onto HTTP responses.
//
// The mapping is type-driven: request construction errors become 400,
// missing projects 404, analysis domain failures 422, and anything
// unrecognized 500. Handlers never pick status codes themselves.
package errors

import (
	"context"
	stderrors "errors"
	"fmt"
	"net/http"
)

// Error codes used in HTTPErrorResponse.
const (
	CodeInvalidArgument    = "INVALID_ARGUMENT"
	CodeNotFound           = "NOT_FOUND"
	CodeMethodNotAllowed   = "METHOD_NOT_ALLOWED"
	CodeUnauthorized       = "UNAUTHORIZED"
	CodeNotShared          = "NOT_SHARED"
	CodeAnalysisError      = "ANALYSIS_ERROR"
	CodeRateLimited        = "RATE_LIMITED"
	CodeServiceUnavailable = "SERVICE_UNAVAILABLE"
	CodeExternalService    = "EXTERNAL_SERVICE_ERROR"
	CodeInternal           = "INTERNAL_ERROR"
)

// Error carries an explicit HTTP classification.
type Error struct {
	Status  int
	Code    string
	Message string
	Details map[string]any
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Err }

// WithDetail returns e with key set in its details.
func (e *Error) WithDetail(key string, value any) *Error {
	if e.Details == nil {
		e.Details = make(map[string]any)
	}
	e.Details[key] = value
	return e
}

// NewUnauthorized reports a missing or unknown session.
func NewUnauthorized(message string) *Error {
	if message == "" {
		message = "authentication required"
	}
	return &Error{Status: http.StatusUnauthorized, Code: CodeUnauthorized, Message: message}
}

// NewNotShared reports a share request for a project that is not shared.
func NewNotShared(pid string) *Error {
	return (&Error{
		Status:  http.StatusForbidden,
		Code:    CodeNotShared,
		Message: "project is not shared",
	}).WithDetail("pid", pid)
}

func NewRateLimited() *Error {
	return &Error{Status: http.StatusTooManyRequests, Code: CodeRateLimited, Message: "too many analysis requests"}
}

func NewNotFound(message string) *Error {
	return &Error{Status: http.StatusNotFound, Code: CodeNotFound, Message: message}
}

func NewMethodNotAllowed(method string) *Error {
	return (&Error{
		Status:  http.StatusMethodNotAllowed,
		Code:    CodeMethodNotAllowed,
		Message: "method not allowed",
	}).WithDetail("method", method)
}

// NewInvalidArgument reports a bad request field.
func NewInvalidArgument(field, message string) *Error {
	return (&Error{
		Status:  http.StatusBadRequest,
		Code:    CodeInvalidArgument,
		Message: message,
	}).WithDetail("field", field)
}

func NewServiceUnavailable(message string, details map[string]any) *Error {
	return &Error{Status: http.StatusServiceUnavailable, Code: CodeServiceUnavailable, Message: message, Details: details}
}

// NewExternalServiceError reports a dependency outside the process that
// could not be reached.
func NewExternalServiceError(message string) *Error {
	return &Error{Status: http.StatusBadGateway, Code: CodeExternalService, Message: message}
}

// WrapInternal wraps err as a 500 and tags it with the request id in ctx.
func WrapInternal(ctx context.Context, err error, message string) *Error {
	e := &Error{Status: http.StatusInternalServerError, Code: CodeInternal, Message: message, Err: err}
	if id := RequestIDFrom(ctx); id != "" {
		e.WithDetail("request_id", id)
	}
	return e
}

// As reports whether err carries an explicit classification.
func As(err error) (*Error, bool) {
	var e *Error
	if stderrors.As(err, &e) {
		return e, true
	}
	return nil, false
}

type requestIDKey struct{}

// WithRequestID stores a request id on ctx.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey{}, id)
}

// RequestIDFrom returns the request id stored on ctx, or "".
func RequestIDFrom(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}
