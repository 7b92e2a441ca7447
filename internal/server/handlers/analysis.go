package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	apperrors "github.com/3leaps/gomian/internal/errors"
	"github.com/3leaps/gomian/internal/server/middleware"
	"github.com/3leaps/gomian/pkg/analysis"
	"github.com/3leaps/gomian/pkg/codec"
	"github.com/3leaps/gomian/pkg/project"
	"github.com/3leaps/gomian/pkg/request"
	"github.com/3leaps/gomian/pkg/supervisor"
)

// EnvelopeHeader opts a request into the discriminated response body.
const EnvelopeHeader = "X-Gomian-Envelope"

// Runner executes one supervised analysis. *supervisor.Supervisor
// implements it.
type Runner interface {
	Run(ctx context.Context, spec supervisor.JobSpec) (*supervisor.Outcome, error)
}

// ProjectReader is the project data the HTTP layer reads in-process.
type ProjectReader interface {
	project.Accessor
	HeadersAtLevel(ctx context.Context, uid, pid string, level int) ([]string, error)
	ListProjects(ctx context.Context, uid string) ([]*project.Info, error)
}

// Deadlines resolves a variant's deadline class to a duration.
type Deadlines struct {
	Standard           time.Duration
	ExtendedMultiplier int
}

func (d Deadlines) For(v *analysis.Variant) time.Duration {
	return v.Deadline.Deadline(d.Standard, d.ExtendedMultiplier)
}

// AnalysisHandler serves the analysis routes. Every request is validated
// in-process before a worker is spawned.
type AnalysisHandler struct {
	registry  *analysis.Registry
	runner    Runner
	data      ProjectReader
	deadlines Deadlines
	log       *zap.Logger
}

func NewAnalysisHandler(reg *analysis.Registry, runner Runner, data ProjectReader, deadlines Deadlines, log *zap.Logger) *AnalysisHandler {
	if log == nil {
		log = zap.NewNop()
	}
	return &AnalysisHandler{registry: reg, runner: runner, data: data, deadlines: deadlines, log: log}
}

// Registry returns the variants this handler serves.
func (h *AnalysisHandler) Registry() *analysis.Registry { return h.registry }

// VariantInfo describes one analysis in GET /analyses.
type VariantInfo struct {
	Name     string   `json:"name"`
	Deadline string   `json:"deadline"`
	Timeout  string   `json:"timeout"`
	Encoding string   `json:"encoding"`
	Fields   []string `json:"fields"`
}

// List serves GET /analyses.
func (h *AnalysisHandler) List(w http.ResponseWriter, r *http.Request) {
	variants := h.registry.Variants()
	out := make([]VariantInfo, 0, len(variants))
	for _, v := range variants {
		out = append(out, VariantInfo{
			Name:     v.Name,
			Deadline: v.Deadline.String(),
			Timeout:  h.deadlines.For(v).String(),
			Encoding: v.Encoding.String(),
			Fields:   v.FieldNames(),
		})
	}
	apperrors.WriteJSON(w, http.StatusOK, map[string]any{"analyses": out})
}

// Run returns the handler for POST /<variant>. The caller is the session
// user.
func (h *AnalysisHandler) Run(v *analysis.Variant) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user, ok := middleware.UserFrom(r.Context())
		if !ok {
			h.fail(w, r, apperrors.NewUnauthorized(""))
			return
		}
		h.serve(w, r, v, user.ID, false)
	}
}

// RunShared returns the handler for POST /share/<variant>. The owner comes
// from ?uid= and the project must be shared.
func (h *AnalysisHandler) RunShared(v *analysis.Variant) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		h.serve(w, r, v, r.URL.Query().Get(request.FieldUserID), true)
	}
}

func (h *AnalysisHandler) serve(w http.ResponseWriter, r *http.Request, v *analysis.Variant, uid string, shared bool) {
	if err := r.ParseForm(); err != nil {
		h.fail(w, r, &request.MalformedInputError{Field: "body", Err: err})
		return
	}
	// Share links are gated before field parsing.
	if shared {
		pid := strings.TrimSpace(r.Form.Get(request.FieldProjectID))
		if err := checkShared(r.Context(), h.data, uid, pid); err != nil {
			h.fail(w, r, err)
			return
		}
	}
	rc, err := request.Build(request.FormFields(r.Form), uid, v.Fields)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if err := v.Validate(rc); err != nil {
		h.fail(w, r, err)
		return
	}

	out, err := h.runner.Run(r.Context(), supervisor.JobSpec{
		Variant:  v.Name,
		Deadline: h.deadlines.For(v),
		Context:  rc,
	})
	if err != nil {
		h.fail(w, r, apperrors.WrapInternal(r.Context(), err, "could not start analysis"))
		return
	}

	switch out.Status {
	case supervisor.Completed:
		h.writeResult(w, r, v, out.Result)
	case supervisor.TimedOut:
		h.log.Info("analysis timed out",
			zap.String("variant", v.Name),
			zap.String("job_id", out.JobID),
			zap.Duration("elapsed", out.Elapsed))
		h.writeTimeout(w, r, v)
	default:
		h.fail(w, r, out.Err)
	}
}

func (h *AnalysisHandler) writeResult(w http.ResponseWriter, r *http.Request, v *analysis.Variant, result json.RawMessage) {
	if wantsEnvelope(r) {
		apperrors.WriteJSON(w, http.StatusOK, codec.OK(result))
		return
	}
	h.writeLegacy(w, r, v, result)
}

func (h *AnalysisHandler) writeTimeout(w http.ResponseWriter, r *http.Request, v *analysis.Variant) {
	if wantsEnvelope(r) {
		apperrors.WriteJSON(w, http.StatusOK, codec.Timeout())
		return
	}
	body, err := codec.Encode(codec.TimeoutSentinel())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.writeLegacy(w, r, v, body)
}

// writeLegacy writes body as JSON, or as base64 zlib text for compressed
// variants.
func (h *AnalysisHandler) writeLegacy(w http.ResponseWriter, r *http.Request, v *analysis.Variant, body []byte) {
	if v.Encoding == analysis.Compressed {
		packed, err := codec.Compress(body)
		if err != nil {
			h.fail(w, r, err)
			return
		}
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(packed)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(body)
}

func (h *AnalysisHandler) fail(w http.ResponseWriter, r *http.Request, err error) {
	if !wantsEnvelope(r) {
		respondWithError(w, r, err)
		return
	}
	status, body := apperrors.Classify(err)
	field, _ := body.Details["field"].(string)
	apperrors.WriteJSON(w, status, codec.Failure(body.Code, body.Message, field))
}

func wantsEnvelope(r *http.Request) bool {
	return r.URL.Query().Get("envelope") == "1" || r.Header.Get(EnvelopeHeader) == "1"
}

// checkShared fails with NOT_SHARED unless uid's project pid exists and is
// shared. A missing project is reported the same way.
func checkShared(ctx context.Context, data ProjectReader, uid, pid string) error {
	if uid == "" || pid == "" {
		return apperrors.NewNotShared(pid)
	}
	info, err := data.LoadInfo(ctx, uid, pid)
	if err != nil {
		if errors.Is(err, project.ErrNotFound) {
			return apperrors.NewNotShared(pid)
		}
		return err
	}
	if !info.Shared {
		return apperrors.NewNotShared(pid)
	}
	return nil
}
