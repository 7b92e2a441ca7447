// Package wire defines the JSONL protocol spoken between the server and
// analysis worker processes.
//
// A worker receives exactly one job record on stdin and answers with exactly
// one terminal record (result or error) on stdout. Each line is a
// self-contained JSON envelope; stderr is reserved for logs.
package wire

import (
	"encoding/json"
	"errors"
	"time"
)

// Record type constants follow the pattern: gomian.<type>.v<version>
const (
	// TypeJob identifies the job request sent to a worker.
	TypeJob = "gomian.job.v1"

	// TypeResult identifies a successful analysis result.
	TypeResult = "gomian.result.v1"

	// TypeError identifies a failed analysis.
	TypeError = "gomian.error.v1"
)

// Record is the envelope for every line on the wire.
type Record struct {
	// Type identifies the record type (e.g., "gomian.result.v1").
	Type string `json:"type"`

	// TS is the timestamp when the record was created.
	TS time.Time `json:"ts"`

	// JobID correlates the record with a supervised job.
	JobID string `json:"job_id"`

	// Variant is the analysis variant name.
	Variant string `json:"variant"`

	// Data contains the type-specific payload as raw JSON.
	Data json.RawMessage `json:"data"`
}

// Terminal reports whether the record ends a worker conversation.
func (r Record) Terminal() bool {
	return r.Type == TypeResult || r.Type == TypeError
}

// JobPayload is the data payload of a job record.
type JobPayload struct {
	// Context is the serialized request context.
	Context json.RawMessage `json:"context"`

	// Deadline is informational; the supervisor enforces it externally.
	Deadline time.Duration `json:"deadline_ns,omitempty"`
}

// ResultPayload is the data payload of a result record.
type ResultPayload struct {
	// Result is the codec-normalized analysis result.
	Result json.RawMessage `json:"result"`

	// ElapsedMS is the in-worker run time in milliseconds.
	ElapsedMS int64 `json:"elapsed_ms"`
}

// ErrorPayload is the data payload of an error record.
type ErrorPayload struct {
	// Code classifies the failure (see Code* constants).
	Code string `json:"code"`

	// Message is the human-readable error text.
	Message string `json:"message"`

	// Field names the offending request field, when applicable.
	Field string `json:"field,omitempty"`

	// Reason carries the detail of a request error (validation reason,
	// malformed input cause) so the server can rebuild it.
	Reason string `json:"reason,omitempty"`

	// Kind and Value describe a failed type conversion.
	Kind  string `json:"kind,omitempty"`
	Value string `json:"value,omitempty"`
}

// Error codes carried in ErrorPayload.Code. They let the server rebuild a
// typed error on its side of the process boundary.
const (
	CodeValidation     = "validation"
	CodeMalformed      = "malformed_input"
	CodeTypeConversion = "type_conversion"
	CodeNotFound       = "not_found"
	CodeDomain         = "domain"
	CodeUnknownVariant = "unknown_variant"
	CodePanic          = "panic"
	CodeInternal       = "internal"
)

var (
	// ErrWriterClosed is returned when writing to a closed writer.
	ErrWriterClosed = errors.New("writer is closed")

	// ErrLineTooLong is returned when a record exceeds the decoder limit.
	ErrLineTooLong = errors.New("jsonl line exceeds max bytes")

	// ErrUnexpectedType is returned when a record has an unexpected type.
	ErrUnexpectedType = errors.New("unexpected record type")
)

// WriteError wraps errors that occur during write operations.
type WriteError struct {
	Op  string // Operation that failed (e.g., "marshal_data", "write")
	Err error  // Underlying error
}

func (e *WriteError) Error() string {
	return "wire: " + e.Op + ": " + e.Err.Error()
}

func (e *WriteError) Unwrap() error {
	return e.Err
}
