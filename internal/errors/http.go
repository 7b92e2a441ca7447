package errors

import (
	"encoding/json"
	stderrors "errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/3leaps/gomian/pkg/analysis"
	"github.com/3leaps/gomian/pkg/project"
	"github.com/3leaps/gomian/pkg/provider"
	"github.com/3leaps/gomian/pkg/request"
	"github.com/3leaps/gomian/pkg/supervisor"
)

// HTTPErrorResponse is the JSON body of every error response.
type HTTPErrorResponse struct {
	Error HTTPErrorBody `json:"error"`
}

type HTTPErrorBody struct {
	Code      string         `json:"code"`
	Message   string         `json:"message"`
	RequestID string         `json:"request_id,omitempty"`
	Details   map[string]any `json:"details,omitempty"`
}

// Logger receives 5xx responses. Nil disables logging.
var Logger *zap.Logger

// Classify maps err onto a status and response body.
func Classify(err error) (int, HTTPErrorBody) {
	if e, ok := As(err); ok {
		return e.Status, HTTPErrorBody{Code: e.Code, Message: e.Message, Details: e.Details}
	}

	var (
		ve *request.ValidationError
		me *request.MalformedInputError
		te *request.TypeConversionError
		de *analysis.DomainError
		ce *supervisor.WorkerCrashError
	)
	switch {
	case stderrors.As(err, &ve):
		details := map[string]any{"field": ve.Field}
		if ve.Reason != "" {
			details["reason"] = ve.Reason
		}
		return http.StatusBadRequest, HTTPErrorBody{Code: CodeInvalidArgument, Message: err.Error(), Details: details}
	case stderrors.As(err, &me):
		return http.StatusBadRequest, HTTPErrorBody{Code: CodeInvalidArgument, Message: err.Error(),
			Details: map[string]any{"field": me.Field}}
	case stderrors.As(err, &te):
		return http.StatusBadRequest, HTTPErrorBody{Code: CodeInvalidArgument, Message: err.Error(),
			Details: map[string]any{"field": te.Field, "kind": te.Kind.String(), "value": te.Value}}
	case stderrors.Is(err, project.ErrNotFound), stderrors.Is(err, analysis.ErrUnknownVariant):
		return http.StatusNotFound, HTTPErrorBody{Code: CodeNotFound, Message: err.Error()}
	case stderrors.As(err, &de):
		return http.StatusUnprocessableEntity, HTTPErrorBody{Code: CodeAnalysisError, Message: de.Msg,
			Details: map[string]any{"variant": de.Variant}}
	case provider.IsUnavailable(err):
		return http.StatusServiceUnavailable, HTTPErrorBody{Code: CodeServiceUnavailable, Message: "project storage unavailable"}
	case stderrors.As(err, &ce):
		return http.StatusInternalServerError, HTTPErrorBody{Code: CodeInternal, Message: "analysis worker failed",
			Details: map[string]any{"exit_code": ce.ExitCode}}
	}
	return http.StatusInternalServerError, HTTPErrorBody{Code: CodeInternal, Message: "internal server error"}
}

// RespondWithError writes the classified error for err.
func RespondWithError(w http.ResponseWriter, r *http.Request, err error) {
	status, body := Classify(err)
	body.RequestID = requestID(w, r)
	if status >= http.StatusInternalServerError && Logger != nil {
		Logger.Error("request failed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.String("request_id", body.RequestID),
			zap.Int("status", status),
			zap.Error(err))
	}
	WriteJSON(w, status, HTTPErrorResponse{Error: body})
}

// WriteJSON writes v as an application/json response.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func requestID(w http.ResponseWriter, r *http.Request) string {
	if id := RequestIDFrom(r.Context()); id != "" {
		return id
	}
	return w.Header().Get("X-Request-ID")
}
