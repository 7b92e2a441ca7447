// Package server wires the gomian HTTP API onto a chi router.
package server

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	apperrors "github.com/3leaps/gomian/internal/errors"
	"github.com/3leaps/gomian/internal/server/handlers"
	"github.com/3leaps/gomian/internal/server/middleware"
	"github.com/3leaps/gomian/pkg/session"
	"github.com/3leaps/gomian/pkg/supervisor"
)

// AdminTokenEnv enables the admin endpoints when set.
const AdminTokenEnv = "GOMIAN_ADMIN_TOKEN"

// Timeouts bound the HTTP server's connection handling.
type Timeouts struct {
	Read  time.Duration
	Write time.Duration
	Idle  time.Duration
}

type options struct {
	logger     *zap.Logger
	analysis   *handlers.AnalysisHandler
	data       *handlers.DataHandler
	sessions   session.Store
	cookieName string
	limiter    *middleware.RateLimiter
	jobs       *supervisor.Registry
	timeouts   Timeouts
	pprof      bool
	health     bool
}

// Option configures a Server.
type Option func(*options)

func WithLogger(l *zap.Logger) Option { return func(o *options) { o.logger = l } }

// WithAnalysis mounts POST /<variant>, POST /share/<variant> and
// GET /analyses.
func WithAnalysis(h *handlers.AnalysisHandler) Option { return func(o *options) { o.analysis = h } }

// WithData mounts the read-only project endpoints and their share twins.
func WithData(h *handlers.DataHandler) Option { return func(o *options) { o.data = h } }

// WithSessions authenticates non-share routes against store.
func WithSessions(store session.Store, cookieName string) Option {
	return func(o *options) {
		o.sessions = store
		o.cookieName = cookieName
	}
}

// WithRateLimit limits the analysis routes.
func WithRateLimit(l *middleware.RateLimiter) Option { return func(o *options) { o.limiter = l } }

// WithJobs exposes the live worker registry under /admin/jobs when
// GOMIAN_ADMIN_TOKEN is set.
func WithJobs(reg *supervisor.Registry) Option { return func(o *options) { o.jobs = reg } }

func WithTimeouts(t Timeouts) Option { return func(o *options) { o.timeouts = t } }

// WithPprof mounts net/http/pprof under /debug.
func WithPprof(enabled bool) Option { return func(o *options) { o.pprof = enabled } }

// WithHealth toggles the /health endpoints. They are on by default.
func WithHealth(enabled bool) Option { return func(o *options) { o.health = enabled } }

// Server is the gomian HTTP API.
type Server struct {
	host       string
	port       int
	router     *chi.Mux
	httpServer *http.Server
	opts       options
}

// New builds the router. Routes beyond health and version are mounted only
// for the options given.
func New(host string, port int, opts ...Option) *Server {
	o := options{
		logger:   zap.NewNop(),
		health:   true,
		timeouts: Timeouts{Read: 30 * time.Second, Write: 200 * time.Second, Idle: 120 * time.Second},
	}
	for _, opt := range opts {
		opt(&o)
	}
	s := &Server{host: host, port: port, router: chi.NewRouter(), opts: o}
	s.routes()
	s.httpServer = &http.Server{
		Addr:              net.JoinHostPort(host, strconv.Itoa(port)),
		Handler:           s.router,
		ReadTimeout:       o.timeouts.Read,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      o.timeouts.Write,
		IdleTimeout:       o.timeouts.Idle,
	}
	return s
}

func (s *Server) routes() {
	r := s.router
	o := s.opts

	r.Use(middleware.RequestID)
	r.Use(middleware.Logging(o.logger))
	r.Use(middleware.Recovery)

	r.NotFound(func(w http.ResponseWriter, req *http.Request) {
		apperrors.RespondWithError(w, req, apperrors.NewNotFound("no route for "+req.URL.Path))
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, req *http.Request) {
		apperrors.RespondWithError(w, req, apperrors.NewMethodNotAllowed(req.Method))
	})

	if o.health {
		r.Get("/health", handlers.HealthHandler)
		r.Get("/health/live", handlers.LivenessHandler)
		r.Get("/health/ready", handlers.ReadinessHandler)
		r.Get("/health/startup", handlers.StartupHandler)
	}
	r.Get("/version", handlers.VersionHandler)

	if o.pprof {
		r.Mount("/debug", chimw.Profiler())
	}
	s.registerAdminEndpoint()

	limit := func(h http.Handler) http.Handler { return h }
	if o.limiter != nil {
		limit = o.limiter.Handler
	}

	if o.analysis != nil {
		r.Get("/analyses", o.analysis.List)
	}

	if o.analysis != nil || o.data != nil {
		r.Group(func(r chi.Router) {
			r.Use(middleware.Session(o.sessions, o.cookieName))
			if d := o.data; d != nil {
				r.Get("/taxonomies", d.Taxonomies(false))
				r.Get("/metadata_headers_with_type", d.MetadataHeadersWithType(false))
				r.Get("/metadata_vals", d.MetadataVals(false))
				r.Get("/otu_table_headers_at_level", d.OTUTableHeadersAtLevel(false))
				r.Get("/projects", d.Projects)
				r.Get("/get_sharing_status", d.SharingStatus)
				r.Get("/isSubsampled", d.IsSubsampled(false))
				r.Post("/isSubsampled", d.IsSubsampled(false))
			}
			if a := o.analysis; a != nil {
				for _, v := range a.Registry().Variants() {
					r.With(limit).Post("/"+v.Name, a.Run(v))
				}
			}
		})

		r.Route("/share", func(r chi.Router) {
			if d := o.data; d != nil {
				r.Get("/taxonomies", d.Taxonomies(true))
				r.Get("/metadata_headers_with_type", d.MetadataHeadersWithType(true))
				r.Get("/metadata_vals", d.MetadataVals(true))
				r.Get("/otu_table_headers_at_level", d.OTUTableHeadersAtLevel(true))
				r.Get("/isSubsampled", d.IsSubsampled(true))
				r.Post("/isSubsampled", d.IsSubsampled(true))
			}
			if a := o.analysis; a != nil {
				for _, v := range a.Registry().Variants() {
					r.With(limit).Post("/"+v.Name, a.RunShared(v))
				}
			}
		})
	}
}

// registerAdminEndpoint mounts GET /admin/jobs behind a bearer token. With
// no token configured the route does not exist.
func (s *Server) registerAdminEndpoint() {
	token := strings.TrimSpace(os.Getenv(AdminTokenEnv))
	if token == "" || s.opts.jobs == nil {
		return
	}
	jobs := handlers.JobsHandler(s.opts.jobs)
	s.router.Get("/admin/jobs", func(w http.ResponseWriter, r *http.Request) {
		got := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
		if subtle.ConstantTimeCompare([]byte(got), []byte(token)) != 1 {
			apperrors.RespondWithError(w, r, apperrors.NewUnauthorized("admin token required"))
			return
		}
		jobs(w, r)
	})
}

func (s *Server) Handler() http.Handler { return s.router }

func (s *Server) Port() int { return s.port }

// Addr is the listen address.
func (s *Server) Addr() string { return s.httpServer.Addr }

// Start listens until Shutdown. It returns nil after a clean shutdown.
func (s *Server) Start() error {
	s.opts.logger.Info("http server listening", zap.String("addr", s.httpServer.Addr))
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("http server: %w", err)
	}
	return nil
}

// Serve serves on an existing listener until Shutdown.
func (s *Server) Serve(l net.Listener) error {
	if err := s.httpServer.Serve(l); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("http server: %w", err)
	}
	return nil
}

// Shutdown stops accepting requests and waits for in-flight ones until ctx
// expires.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}
