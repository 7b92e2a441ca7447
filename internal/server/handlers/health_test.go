package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/3leaps/gomian/internal/errors"
)

func checkerErr(err error) HealthCheckerFunc {
	return func(context.Context) error { return err }
}

func hit(t *testing.T, h http.HandlerFunc, path string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	h(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec
}

func TestHealthManager_Healthy(t *testing.T) {
	m := NewHealthManager("1.2.3")
	m.RegisterChecker("data", checkerErr(nil))
	m.RegisterChecker("sessions", checkerErr(nil))

	rec := hit(t, m.HealthHandler, "/health")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp HealthResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, StatusHealthy, resp.Status)
	assert.Equal(t, "1.2.3", resp.Version)
	assert.Equal(t, map[string]string{"data": StatusHealthy, "sessions": StatusHealthy}, resp.Checks)
	assert.False(t, resp.Timestamp.IsZero())
}

func TestHealthManager_UnhealthyIs503WithChecks(t *testing.T) {
	m := NewHealthManager("1.2.3")
	m.RegisterChecker("data", checkerErr(nil))
	m.RegisterChecker("sessions", checkerErr(errors.New("database is locked")))

	rec := hit(t, m.ReadinessHandler, "/health/ready")
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)

	var resp apperrors.HTTPErrorResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, apperrors.CodeServiceUnavailable, resp.Error.Code)

	checks, ok := resp.Error.Details["checks"].(map[string]any)
	require.True(t, ok, "details.checks missing: %v", resp.Error.Details)
	assert.Equal(t, StatusUnhealthy, checks["sessions"])
	assert.Equal(t, StatusHealthy, checks["data"])
	assert.NotContains(t, rec.Body.String(), "database is locked")
}

func TestHealthManager_DeadlineIsTimeout(t *testing.T) {
	m := NewHealthManager("dev")
	m.RegisterChecker("s3", HealthCheckerFunc(func(ctx context.Context) error {
		return context.DeadlineExceeded
	}))

	checks := m.runChecks(context.Background())
	assert.Equal(t, StatusTimeout, checks["s3"])
	assert.Equal(t, StatusDegraded, m.determineOverallStatus(checks))

	rec := hit(t, m.HealthHandler, "/health")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestHealthManager_OverallStatus(t *testing.T) {
	m := NewHealthManager("dev")
	tests := []struct {
		checks map[string]string
		want   string
	}{
		{nil, StatusHealthy},
		{map[string]string{"a": StatusHealthy}, StatusHealthy},
		{map[string]string{"a": StatusTimeout, "b": StatusHealthy}, StatusDegraded},
		{map[string]string{"a": StatusTimeout, "b": StatusUnhealthy}, StatusUnhealthy},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, m.determineOverallStatus(tt.checks), "%v", tt.checks)
	}
}

func TestHealthManager_LivenessSkipsChecks(t *testing.T) {
	m := NewHealthManager("dev")
	m.RegisterChecker("data", checkerErr(errors.New("down")))

	assert.Equal(t, http.StatusOK, hit(t, m.LivenessHandler, "/health/live").Code)
	assert.Equal(t, http.StatusServiceUnavailable, hit(t, m.HealthHandler, "/health").Code)
}

func TestHealthManager_Startup(t *testing.T) {
	m := NewHealthManager("dev")
	m.SetStarted(false)
	assert.Equal(t, http.StatusServiceUnavailable, hit(t, m.StartupHandler, "/health/startup").Code)

	m.SetStarted(true)
	assert.Equal(t, http.StatusOK, hit(t, m.StartupHandler, "/health/startup").Code)
}

func TestGlobalHealthManager(t *testing.T) {
	original := globalHealthManager
	defer func() { globalHealthManager = original }()

	globalHealthManager = nil
	assert.Nil(t, GetHealthManager())

	handlers := map[string]http.HandlerFunc{
		"/health":         HealthHandler,
		"/health/live":    LivenessHandler,
		"/health/ready":   ReadinessHandler,
		"/health/startup": StartupHandler,
	}
	for path, h := range handlers {
		assert.Equal(t, http.StatusServiceUnavailable, hit(t, h, path).Code, "%s before init", path)
	}

	m := InitHealthManager("test-version")
	require.NotNil(t, m)
	assert.Same(t, m, GetHealthManager())
	for path, h := range handlers {
		assert.Equal(t, http.StatusOK, hit(t, h, path).Code, "%s after init", path)
	}
}
