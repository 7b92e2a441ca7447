package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/3leaps/gomian/internal/errors"
	"github.com/3leaps/gomian/internal/server/handlers"
	"github.com/3leaps/gomian/internal/server/middleware"
	"github.com/3leaps/gomian/pkg/analysis"
	"github.com/3leaps/gomian/pkg/codec"
	"github.com/3leaps/gomian/pkg/project"
	"github.com/3leaps/gomian/pkg/project/projecttest"
	"github.com/3leaps/gomian/pkg/provider/file"
	"github.com/3leaps/gomian/pkg/request"
	"github.com/3leaps/gomian/pkg/session"
	"github.com/3leaps/gomian/pkg/supervisor"
)

// countingRunner records every job it is asked to run and answers with
// outcome.
type countingRunner struct {
	mu      sync.Mutex
	specs   []supervisor.JobSpec
	outcome func(spec supervisor.JobSpec) *supervisor.Outcome
}

func (c *countingRunner) Run(_ context.Context, spec supervisor.JobSpec) (*supervisor.Outcome, error) {
	c.mu.Lock()
	c.specs = append(c.specs, spec)
	c.mu.Unlock()
	if c.outcome == nil {
		return &supervisor.Outcome{Variant: spec.Variant, Status: supervisor.Completed, Result: json.RawMessage(`{"ok":true}`)}, nil
	}
	return c.outcome(spec), nil
}

func (c *countingRunner) calls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.specs)
}

type apiFixture struct {
	srv    *Server
	runner *countingRunner
	token  string
}

func newAPI(t *testing.T, extra ...Option) *apiFixture {
	t.Helper()
	ctx := context.Background()

	p, err := file.New(file.Config{BaseDir: projecttest.Root(t)})
	require.NoError(t, err)
	store := project.NewStore(p)

	sessions := session.NewMemoryStore()
	_, err = sessions.AddUser(ctx, projecttest.UserID)
	require.NoError(t, err)
	tok, err := sessions.Issue(ctx, projecttest.UserID, time.Hour)
	require.NoError(t, err)

	runner := &countingRunner{}
	deadlines := handlers.Deadlines{Standard: time.Minute, ExtendedMultiplier: 3}
	opts := []Option{
		WithAnalysis(handlers.NewAnalysisHandler(analysis.Builtin(), runner, store, deadlines, nil)),
		WithData(handlers.NewDataHandler(store)),
		WithSessions(sessions, "gomian_session"),
	}
	srv := New("127.0.0.1", 0, append(opts, extra...)...)
	return &apiFixture{srv: srv, runner: runner, token: tok.Value}
}

func (f *apiFixture) post(path string, form url.Values, authed bool) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	if authed {
		req.AddCookie(&http.Cookie{Name: "gomian_session", Value: f.token})
	}
	rec := httptest.NewRecorder()
	f.srv.Handler().ServeHTTP(rec, req)
	return rec
}

func (f *apiFixture) get(path string, authed bool) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	if authed {
		req.Header.Set("Authorization", "Bearer "+f.token)
	}
	rec := httptest.NewRecorder()
	f.srv.Handler().ServeHTTP(rec, req)
	return rec
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) apperrors.HTTPErrorBody {
	t.Helper()
	var body apperrors.HTTPErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body.Error
}

func TestAPI_MalformedInputNeverSpawnsWorker(t *testing.T) {
	f := newAPI(t)

	rec := f.post("/pca", url.Values{"pid": {"p1"}, "taxonomyFilterVals": {`["a",`}}, true)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	body := decodeError(t, rec)
	assert.Equal(t, apperrors.CodeInvalidArgument, body.Code)
	assert.Equal(t, request.FieldTaxonomyFilterVals, body.Details["field"])
	assert.Zero(t, f.runner.calls())
}

func TestAPI_ValidationFailures(t *testing.T) {
	f := newAPI(t)

	tests := []struct {
		name  string
		path  string
		form  url.Values
		field string
	}{
		{"missing pid", "/pca", url.Values{}, "pid"},
		{"bad level", "/pca", url.Values{"pid": {"p1"}, "level": {"genus"}}, "level"},
		{"bad typed field", "/pca", url.Values{"pid": {"p1"}, "pca1": {"one"}}, "pca1"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := f.post(tt.path, tt.form, true)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Equal(t, tt.field, decodeError(t, rec).Details["field"])
		})
	}
	assert.Zero(t, f.runner.calls())
}

func TestAPI_RequiresSession(t *testing.T) {
	f := newAPI(t)

	rec := f.post("/pca", url.Values{"pid": {"p1"}}, false)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, apperrors.CodeUnauthorized, decodeError(t, rec).Code)
	assert.Zero(t, f.runner.calls())
}

func TestAPI_UnknownVariant(t *testing.T) {
	f := newAPI(t)

	rec := f.post("/no_such_analysis", url.Values{"pid": {"p1"}}, true)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestAPI_CompletedResultIsWrittenVerbatim(t *testing.T) {
	f := newAPI(t)
	f.runner.outcome = func(spec supervisor.JobSpec) *supervisor.Outcome {
		return &supervisor.Outcome{Status: supervisor.Completed, Result: json.RawMessage(`{"pca":[],"pcaVar":[1.5]}`)}
	}

	rec := f.post("/pca", url.Values{"pid": {"p1"}, "catvar": {"Group"}}, true)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	assert.Equal(t, `{"pca":[],"pcaVar":[1.5]}`, rec.Body.String())

	require.Equal(t, 1, f.runner.calls())
	spec := f.runner.specs[0]
	assert.Equal(t, "pca", spec.Variant)
	assert.Equal(t, time.Minute, spec.Deadline)
	assert.Equal(t, projecttest.UserID, spec.Context.UserID())
	assert.Equal(t, "Group", spec.Context.CatVar())
}

func TestAPI_ParamRulesNeverSpawnWorker(t *testing.T) {
	f := newAPI(t)

	tests := []struct {
		name  string
		path  string
		form  url.Values
		field string
	}{
		{"unknown beta metric", "/beta_diversity", url.Values{"pid": {"p1"}, "colorvar": {"Group"}, "betaType": {"bogus"}}, "betaType"},
		{"negative tree count", "/random_forest", url.Values{"pid": {"p1"}, "catvar": {"Group"}, "numTrees": {"-5"}}, "numTrees"},
		{"mixing ratio above one", "/linear_classifier", url.Values{"pid": {"p1"}, "catvar": {"Group"}, "mixingRatio": {"7"}}, "mixingRatio"},
		{"missing catvar", "/random_forest", url.Values{"pid": {"p1"}}, "catvar"},
		{"level out of range", "/pca", url.Values{"pid": {"p1"}, "level": {"9"}}, "level"},
		{"network model not a list", "/deep_neural_network", url.Values{"pid": {"p1"}, "catvar": {"Group"}, "dnnModel": {`"abc"`}}, "dnnModel"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := f.post(tt.path, tt.form, true)
			require.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Equal(t, tt.field, decodeError(t, rec).Details["field"])
		})
	}
	assert.Zero(t, f.runner.calls())
}

func TestAPI_ExtendedDeadline(t *testing.T) {
	f := newAPI(t)

	rec := f.post("/beta_diversity", url.Values{"pid": {"p1"}, "colorvar": {"Group"}}, true)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, 1, f.runner.calls())
	assert.Equal(t, 3*time.Minute, f.runner.specs[0].Deadline)
}

func TestAPI_TimeoutSentinel(t *testing.T) {
	f := newAPI(t)
	f.runner.outcome = func(spec supervisor.JobSpec) *supervisor.Outcome {
		return &supervisor.Outcome{Status: supervisor.TimedOut}
	}

	rec := f.post("/pca", url.Values{"pid": {"p1"}}, true)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, `{"timeout":true}`, rec.Body.String())
}

func TestAPI_HeatmapIsCompressed(t *testing.T) {
	f := newAPI(t)
	f.runner.outcome = func(spec supervisor.JobSpec) *supervisor.Outcome {
		return &supervisor.Outcome{Status: supervisor.Completed, Result: json.RawMessage(`{"row_headers":["a"]}`)}
	}

	rec := f.post("/heatmap", url.Values{"pid": {"p1"}}, true)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.HasPrefix(rec.Header().Get("Content-Type"), "text/plain"))
	raw, err := codec.Decompress(rec.Body.Bytes())
	require.NoError(t, err)
	assert.Equal(t, `{"row_headers":["a"]}`, string(raw))

	f.runner.outcome = func(spec supervisor.JobSpec) *supervisor.Outcome {
		return &supervisor.Outcome{Status: supervisor.TimedOut}
	}
	rec = f.post("/heatmap", url.Values{"pid": {"p1"}}, true)
	require.Equal(t, http.StatusOK, rec.Code)
	raw, err = codec.Decompress(rec.Body.Bytes())
	require.NoError(t, err)
	assert.Equal(t, `{"timeout":true}`, string(raw))
}

func TestAPI_FailedOutcomeIsMappedByType(t *testing.T) {
	f := newAPI(t)

	tests := []struct {
		name   string
		err    error
		status int
		code   string
	}{
		{"domain", &analysis.DomainError{Variant: "pca", Msg: "need 3 samples"}, http.StatusUnprocessableEntity, apperrors.CodeAnalysisError},
		{"validation", &request.ValidationError{Field: "pca3", Reason: "out of range"}, http.StatusBadRequest, apperrors.CodeInvalidArgument},
		{"crash", &supervisor.WorkerCrashError{ExitCode: 137}, http.StatusInternalServerError, apperrors.CodeInternal},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f.runner.outcome = func(spec supervisor.JobSpec) *supervisor.Outcome {
				return &supervisor.Outcome{Status: supervisor.Failed, Err: tt.err}
			}
			rec := f.post("/pca", url.Values{"pid": {"p1"}}, true)
			assert.Equal(t, tt.status, rec.Code)
			assert.Equal(t, tt.code, decodeError(t, rec).Code)
		})
	}
}

func TestAPI_Envelope(t *testing.T) {
	f := newAPI(t)

	t.Run("ok", func(t *testing.T) {
		f.runner.outcome = nil
		rec := f.post("/pca?envelope=1", url.Values{"pid": {"p1"}}, true)
		require.Equal(t, http.StatusOK, rec.Code)
		var env codec.Envelope
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
		assert.Equal(t, codec.StatusOK, env.Status)
		assert.JSONEq(t, `{"ok":true}`, string(env.Data))
	})

	t.Run("timeout via header", func(t *testing.T) {
		f.runner.outcome = func(spec supervisor.JobSpec) *supervisor.Outcome {
			return &supervisor.Outcome{Status: supervisor.TimedOut}
		}
		req := httptest.NewRequest(http.MethodPost, "/pca", strings.NewReader("pid=p1"))
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		req.Header.Set(handlers.EnvelopeHeader, "1")
		req.AddCookie(&http.Cookie{Name: "gomian_session", Value: f.token})
		rec := httptest.NewRecorder()
		f.srv.Handler().ServeHTTP(rec, req)

		require.Equal(t, http.StatusOK, rec.Code)
		assert.JSONEq(t, `{"status":"timeout"}`, rec.Body.String())
	})

	t.Run("error", func(t *testing.T) {
		rec := f.post("/pca?envelope=1", url.Values{}, true)
		require.Equal(t, http.StatusBadRequest, rec.Code)
		var env codec.Envelope
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
		assert.Equal(t, codec.StatusError, env.Status)
		require.NotNil(t, env.Error)
		assert.Equal(t, "pid", env.Error.Field)
	})
}

func TestAPI_ShareRequiresSharedProject(t *testing.T) {
	f := newAPI(t)

	rec := f.post("/share/pca?uid=alice&pid=p1", url.Values{}, false)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, apperrors.CodeNotShared, decodeError(t, rec).Code)

	rec = f.post("/share/pca?uid=alice&pid=missing", url.Values{}, false)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	// An unshared project reports 403 even when the request is also malformed.
	rec = f.post("/share/pca?uid=alice&pid=p1", url.Values{"taxonomyFilterVals": {"["}}, false)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, apperrors.CodeNotShared, decodeError(t, rec).Code)
	rec = f.post("/share/random_forest?uid=alice&pid=p1", url.Values{"numTrees": {"-5"}}, false)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Zero(t, f.runner.calls())

	rec = f.post("/share/pca?uid=alice&pid="+projecttest.SharedID, url.Values{}, false)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, 1, f.runner.calls())
	assert.Equal(t, projecttest.UserID, f.runner.specs[0].Context.UserID())
	assert.Equal(t, projecttest.SharedID, f.runner.specs[0].Context.ProjectID())
}

func TestAPI_ListAnalyses(t *testing.T) {
	f := newAPI(t)

	rec := f.get("/analyses", false)
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Analyses []handlers.VariantInfo `json:"analyses"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Len(t, body.Analyses, 24)
	for _, v := range body.Analyses {
		if v.Name == "beta_diversity" {
			assert.Equal(t, "3m0s", v.Timeout)
		}
	}
}

func TestAPI_ReadEndpoints(t *testing.T) {
	f := newAPI(t)

	rec := f.get("/metadata_vals?pid=p1&catvar=Group", true)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `["A","B"]`, rec.Body.String())

	rec = f.get("/metadata_vals?pid=&catvar=Group", true)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{}`, rec.Body.String())

	rec = f.get("/otu_table_headers_at_level?pid=p1&level=-1", true)
	require.Equal(t, http.StatusOK, rec.Code)
	var headers []string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &headers))
	assert.Equal(t, projecttest.OTUs, headers)

	rec = f.get("/metadata_headers_with_type?pid=p1", true)
	require.Equal(t, http.StatusOK, rec.Code)
	var md struct {
		Headers  []map[string]any `json:"headers"`
		HasGenes bool             `json:"hasGenes"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &md))
	assert.NotEmpty(t, md.Headers)
	assert.False(t, md.HasGenes)

	rec = f.get("/taxonomies?pid=p1", true)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "Bacteria")

	rec = f.get("/taxonomies?pid=p1", false)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = f.get("/metadata_vals?pid=nope&catvar=Group", true)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestAPI_ShareReadEndpoints(t *testing.T) {
	f := newAPI(t)

	rec := f.get("/share/metadata_vals?uid=alice&pid=p1&catvar=Group", false)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = f.get("/share/metadata_vals?uid=alice&pid=p2&catvar=Site", false)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `["gut","skin"]`, rec.Body.String())

	rec = f.get("/share/isSubsampled?uid=alice&pid=p2", false)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `1`, rec.Body.String())

	rec = f.get("/share/isSubsampled?uid=alice&pid=p1", false)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = f.get("/share/get_sharing_status?uid=alice&pid=p2", false)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestAPI_ProjectStatusEndpoints(t *testing.T) {
	f := newAPI(t)

	rec := f.get("/isSubsampled?pid=p1", true)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `1`, rec.Body.String())

	rec = f.post("/isSubsampled", url.Values{"pid": {"p1"}}, true)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `1`, rec.Body.String())

	rec = f.get("/isSubsampled?pid=", true)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{}`, rec.Body.String())

	rec = f.get("/get_sharing_status?pid=p1", true)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"share":"no"}`, rec.Body.String())

	rec = f.get("/get_sharing_status?pid=p2", true)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"share":"yes"}`, rec.Body.String())

	rec = f.get("/get_sharing_status?pid=", true)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{}`, rec.Body.String())

	rec = f.get("/get_sharing_status?pid=p1", false)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = f.get("/isSubsampled?pid=nope", true)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestAPI_Projects(t *testing.T) {
	f := newAPI(t)

	rec := f.get("/projects", true)
	require.Equal(t, http.StatusOK, rec.Code)
	var infos []project.Info
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &infos))
	require.Len(t, infos, 2)
	assert.Equal(t, projecttest.ProjectID, infos[0].ID)
	assert.False(t, infos[0].Shared)
	assert.Equal(t, projecttest.SharedID, infos[1].ID)
	assert.True(t, infos[1].Shared)
	assert.Equal(t, int64(40), infos[1].SubsampledValue)
	assert.Positive(t, infos[1].TableSize)

	rec = f.get("/projects", false)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestAPI_RateLimited(t *testing.T) {
	f := newAPI(t, WithRateLimit(middleware.NewRateLimiter(0.001, 1)))

	rec := f.post("/pca", url.Values{"pid": {"p1"}}, true)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = f.post("/pca", url.Values{"pid": {"p1"}}, true)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, 1, f.runner.calls())
}
