package codec

import (
	"encoding/json"
)

// Envelope statuses.
const (
	StatusOK      = "ok"
	StatusTimeout = "timeout"
	StatusError   = "error"
)

// TimeoutSentinel returns the legacy timeout payload. Existing clients look
// for exactly this shape.
func TimeoutSentinel() map[string]any {
	return map[string]any{"timeout": true}
}

// IsTimeoutSentinel reports whether m is exactly the legacy timeout payload.
func IsTimeoutSentinel(m map[string]any) bool {
	if len(m) != 1 {
		return false
	}
	v, ok := m["timeout"].(bool)
	return ok && v
}

// Envelope is the discriminated response shape. Unlike the legacy sentinel
// it cannot be confused with a result that happens to contain a "timeout" key.
type Envelope struct {
	Status string          `json:"status"`
	Data   json.RawMessage `json:"data,omitempty"`
	Error  *EnvelopeError  `json:"error,omitempty"`
}

// EnvelopeError describes a failed analysis inside an Envelope.
type EnvelopeError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Field   string `json:"field,omitempty"`
}

// OK wraps an encoded result.
func OK(data []byte) *Envelope {
	return &Envelope{Status: StatusOK, Data: json.RawMessage(data)}
}

// Timeout returns the envelope for an aborted analysis.
func Timeout() *Envelope {
	return &Envelope{Status: StatusTimeout}
}

// Failure returns the envelope for a failed analysis.
func Failure(code, message, field string) *Envelope {
	return &Envelope{Status: StatusError, Error: &EnvelopeError{Code: code, Message: message, Field: field}}
}
