package errors

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/3leaps/gomian/pkg/analysis"
	"github.com/3leaps/gomian/pkg/project"
	"github.com/3leaps/gomian/pkg/provider"
	"github.com/3leaps/gomian/pkg/request"
	"github.com/3leaps/gomian/pkg/supervisor"
)

func TestRespondWithError_Mapping(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		status    int
		code      string
		wantField string
	}{
		{"validation", &request.ValidationError{Field: "pid", Reason: "required"}, http.StatusBadRequest, CodeInvalidArgument, "pid"},
		{"malformed", &request.MalformedInputError{Field: "taxonomyFilterVals", Err: assert.AnError}, http.StatusBadRequest, CodeInvalidArgument, "taxonomyFilterVals"},
		{"type conversion", &request.TypeConversionError{Field: "level", Kind: request.Int, Value: "x"}, http.StatusBadRequest, CodeInvalidArgument, "level"},
		{"not found", fmt.Errorf("load: %w", project.ErrNotFound), http.StatusNotFound, CodeNotFound, ""},
		{"unknown variant", fmt.Errorf("lookup: %w", analysis.ErrUnknownVariant), http.StatusNotFound, CodeNotFound, ""},
		{"unauthorized", NewUnauthorized(""), http.StatusUnauthorized, CodeUnauthorized, ""},
		{"not shared", NewNotShared("p1"), http.StatusForbidden, CodeNotShared, ""},
		{"domain", &analysis.DomainError{Variant: "pca", Msg: "too few samples"}, http.StatusUnprocessableEntity, CodeAnalysisError, ""},
		{"rate limited", NewRateLimited(), http.StatusTooManyRequests, CodeRateLimited, ""},
		{"storage throttled", &provider.ProviderError{Op: "Get", Provider: provider.ProviderS3, Err: provider.ErrThrottled}, http.StatusServiceUnavailable, CodeServiceUnavailable, ""},
		{"storage down", fmt.Errorf("read: %w", provider.ErrProviderUnavailable), http.StatusServiceUnavailable, CodeServiceUnavailable, ""},
		{"worker crash", &supervisor.WorkerCrashError{ExitCode: 2}, http.StatusInternalServerError, CodeInternal, ""},
		{"anything else", assert.AnError, http.StatusInternalServerError, CodeInternal, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/pca", nil)
			rec := httptest.NewRecorder()

			RespondWithError(rec, req, tt.err)

			assert.Equal(t, tt.status, rec.Code)
			assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

			var body HTTPErrorResponse
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
			assert.Equal(t, tt.code, body.Error.Code)
			if tt.wantField != "" {
				assert.Equal(t, tt.wantField, body.Error.Details["field"])
			}
		})
	}
}

func TestRespondWithError_InternalMessageIsGeneric(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/x", nil)
	rec := httptest.NewRecorder()

	RespondWithError(rec, req, fmt.Errorf("secret path /var/lib/db: %w", assert.AnError))

	var body HTTPErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.NotContains(t, body.Error.Message, "/var/lib/db")
}

func TestRespondWithError_RequestID(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/x", nil)
	req = req.WithContext(WithRequestID(req.Context(), "req-42"))
	rec := httptest.NewRecorder()

	RespondWithError(rec, req, NewNotFound("nope"))

	var body HTTPErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "req-42", body.Error.RequestID)
}

func TestWrapInternal(t *testing.T) {
	ctx := WithRequestID(context.Background(), "abc")
	err := WrapInternal(ctx, assert.AnError, "load config")

	assert.ErrorIs(t, err, assert.AnError)
	assert.Equal(t, http.StatusInternalServerError, err.Status)
	assert.Equal(t, "abc", err.Details["request_id"])
	assert.Contains(t, err.Error(), "load config")
}

func TestNewExternalServiceError(t *testing.T) {
	err := NewExternalServiceError("s3 unreachable")
	status, body := Classify(fmt.Errorf("doctor: %w", err))
	assert.Equal(t, http.StatusBadGateway, status)
	assert.Equal(t, CodeExternalService, body.Code)
}
