package supervisor

import (
	"errors"
	"fmt"

	"github.com/3leaps/gomian/pkg/analysis"
	"github.com/3leaps/gomian/pkg/project"
	"github.com/3leaps/gomian/pkg/request"
	"github.com/3leaps/gomian/pkg/wire"
)

// WorkerCrashError reports a worker that exited without writing a terminal
// record.
type WorkerCrashError struct {
	ExitCode int
	// Stderr is the tail of the worker's stderr.
	Stderr string
	Err    error
}

func (e *WorkerCrashError) Error() string {
	msg := fmt.Sprintf("worker exited with code %d without a result", e.ExitCode)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *WorkerCrashError) Unwrap() error { return e.Err }

// WorkerError is a worker failure with no richer local type, such as a
// recovered panic.
type WorkerError struct {
	Code    string
	Message string
}

func (e *WorkerError) Error() string {
	return fmt.Sprintf("worker %s: %s", e.Code, e.Message)
}

// ErrResultTooLarge is returned when a result record exceeds MaxResultBytes.
var ErrResultTooLarge = errors.New("supervisor: result exceeds size limit")

// errorPayload classifies err for the wire.
func errorPayload(err error) *wire.ErrorPayload {
	var (
		ve *request.ValidationError
		me *request.MalformedInputError
		te *request.TypeConversionError
		de *analysis.DomainError
		we *WorkerError
	)
	switch {
	case errors.As(err, &ve):
		return &wire.ErrorPayload{Code: wire.CodeValidation, Message: err.Error(), Field: ve.Field, Reason: ve.Reason}
	case errors.As(err, &me):
		reason := ""
		if me.Err != nil {
			reason = me.Err.Error()
		}
		return &wire.ErrorPayload{Code: wire.CodeMalformed, Message: err.Error(), Field: me.Field, Reason: reason}
	case errors.As(err, &te):
		return &wire.ErrorPayload{Code: wire.CodeTypeConversion, Message: err.Error(), Field: te.Field, Kind: te.Kind.String(), Value: te.Value}
	case errors.As(err, &de):
		return &wire.ErrorPayload{Code: wire.CodeDomain, Message: de.Msg, Field: de.Variant}
	case errors.Is(err, project.ErrNotFound):
		return &wire.ErrorPayload{Code: wire.CodeNotFound, Message: err.Error()}
	case errors.Is(err, analysis.ErrUnknownVariant):
		return &wire.ErrorPayload{Code: wire.CodeUnknownVariant, Message: err.Error()}
	case errors.As(err, &we):
		return &wire.ErrorPayload{Code: we.Code, Message: we.Message}
	default:
		return &wire.ErrorPayload{Code: wire.CodeInternal, Message: err.Error()}
	}
}

// errorFromPayload rebuilds a typed error from an error record so callers
// can branch with errors.Is and errors.As as if the job had run in process.
func errorFromPayload(p *wire.ErrorPayload) error {
	switch p.Code {
	case wire.CodeValidation:
		return &request.ValidationError{Field: p.Field, Reason: p.Reason}
	case wire.CodeMalformed:
		return &request.MalformedInputError{Field: p.Field, Err: errors.New(p.Reason)}
	case wire.CodeTypeConversion:
		return &request.TypeConversionError{Field: p.Field, Kind: parseKind(p.Kind), Value: p.Value, Err: errors.New(p.Message)}
	case wire.CodeDomain:
		return &analysis.DomainError{Variant: p.Field, Msg: p.Message}
	case wire.CodeNotFound:
		return fmt.Errorf("%s: %w", p.Message, project.ErrNotFound)
	case wire.CodeUnknownVariant:
		return fmt.Errorf("%s: %w", p.Message, analysis.ErrUnknownVariant)
	default:
		return &WorkerError{Code: p.Code, Message: p.Message}
	}
}

func parseKind(s string) request.Kind {
	for _, k := range []request.Kind{request.String, request.Int, request.Float, request.Bool, request.JSON} {
		if k.String() == s {
			return k
		}
	}
	return request.String
}
