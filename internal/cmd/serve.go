package cmd

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	apperrors "github.com/3leaps/gomian/internal/errors"
	"github.com/3leaps/gomian/internal/observability"
	"github.com/3leaps/gomian/internal/server"
	"github.com/3leaps/gomian/internal/server/handlers"
	"github.com/3leaps/gomian/internal/server/middleware"
	"github.com/3leaps/gomian/pkg/analysis"
	"github.com/3leaps/gomian/pkg/project"
	"github.com/3leaps/gomian/pkg/provider"
	"github.com/3leaps/gomian/pkg/session"
)

var (
	serveHost string
	servePort int
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API server",
	Long: `Start the analysis API and, when enabled, the Prometheus metrics server.

SIGINT or SIGTERM stops accepting requests, kills any live analysis
workers and waits up to server.shutdown_timeout for in-flight requests.

Examples:
  gomian serve
  gomian serve --port 9000
  GOMIAN_DATA_BACKEND=s3 GOMIAN_S3_BUCKET=mian-data gomian serve`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().StringVar(&serveHost, "host", "", "Listen host (overrides server.host)")
	serveCmd.Flags().IntVar(&servePort, "port", 0, "Listen port (overrides server.port)")
}

func runServe(cmd *cobra.Command, _ []string) error {
	var overrides map[string]any
	if serveHost != "" {
		overrides = mergeOverride(overrides, "server", "host", serveHost)
	}
	if servePort != 0 {
		overrides = mergeOverride(overrides, "server", "port", servePort)
	}
	cfg, err := loadConfig(cmd.Context(), overrides)
	if err != nil {
		return exitError(foundry.ExitInvalidArgument, "Invalid configuration", err)
	}

	logger, err := observability.InitServerLogger(cfg.Logging.Level, cfg.Logging.Profile)
	if err != nil {
		return exitError(foundry.ExitInvalidArgument, "Invalid logging configuration", err)
	}
	defer func() { _ = logger.Sync() }()
	apperrors.Logger = logger

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, closeStore, err := openProjectStore(ctx, cfg.Data)
	if err != nil {
		return exitError(foundry.ExitExternalServiceUnavailable, "Cannot open project data", err)
	}
	defer closeStore()

	sessions, err := openSessionStore(ctx, cfg.Session)
	if err != nil {
		return exitError(foundry.ExitExternalServiceUnavailable, "Cannot open session store", err)
	}
	defer func() { _ = sessions.Close() }()

	var (
		metricsHandler http.Handler
		promReg        prometheus.Registerer
	)
	if cfg.Metrics.Enabled {
		promReg = observability.InitMetrics()
		metricsHandler = observability.MetricsHandler()
	}
	sup, err := newSupervisor(cfg, logger, promReg)
	if err != nil {
		return exitError(foundry.ExitInvalidArgument, "Cannot configure analysis workers", err)
	}

	health := handlers.InitHealthManager(versionInfo.Version)
	health.SetStarted(false)
	id := GetAppIdentity()
	if id == nil {
		return exitError(foundry.ExitInvalidArgument, "Application identity not initialized", nil)
	}
	health.RegisterChecker("signals", signalHealthChecker{})
	health.RegisterChecker("identity", identityHealthChecker{binaryName: id.BinaryName, envPrefix: id.EnvPrefix, configName: id.ConfigName})
	health.RegisterChecker("data", dataHealthChecker{provider: store.Provider()})
	health.RegisterChecker("sessions", sessionHealthChecker{store: sessions})
	if cfg.Metrics.Enabled {
		health.RegisterChecker("telemetry", telemetryHealthChecker{})
	}

	reg := analysis.Builtin()
	deadlines := handlers.Deadlines{Standard: cfg.Analysis.StandardDeadline, ExtendedMultiplier: cfg.Analysis.ExtendedMultiplier}
	opts := []server.Option{
		server.WithLogger(logger),
		server.WithAnalysis(handlers.NewAnalysisHandler(reg, sup, store, deadlines, logger)),
		server.WithData(handlers.NewDataHandler(store)),
		server.WithSessions(sessions, cfg.Session.CookieName),
		server.WithRateLimit(middleware.NewRateLimiter(cfg.Analysis.RateLimit, cfg.Analysis.RateBurst)),
		server.WithTimeouts(server.Timeouts{Read: cfg.Server.ReadTimeout, Write: cfg.Server.WriteTimeout, Idle: cfg.Server.IdleTimeout}),
		server.WithJobs(sup.Registry()),
		server.WithPprof(cfg.Debug.PprofEnabled),
		server.WithHealth(cfg.Health.Enabled),
	}
	srv := server.New(cfg.Server.Host, cfg.Server.Port, opts...)

	var metricsSrv *http.Server
	if metricsHandler != nil {
		mux := http.NewServeMux()
		mux.Handle("/metrics", metricsHandler)
		metricsSrv = &http.Server{
			Addr:              net.JoinHostPort(cfg.Server.Host, strconv.Itoa(cfg.Metrics.Port)),
			Handler:           mux,
			ReadHeaderTimeout: 10 * time.Second,
		}
	}

	logger.Info("starting gomian",
		zap.String("version", versionInfo.Version),
		zap.String("addr", srv.Addr()),
		zap.String("data_backend", cfg.Data.Backend),
		zap.String("session_driver", cfg.Session.Driver),
		zap.Int("analyses", len(reg.Names())))

	g, gctx := errgroup.WithContext(ctx)
	g.Go(srv.Start)
	if metricsSrv != nil {
		g.Go(func() error {
			logger.Info("metrics server listening", zap.String("addr", metricsSrv.Addr))
			if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("metrics server: %w", err)
			}
			return nil
		})
	}
	health.SetStarted(true)

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")
		sup.Shutdown()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		var errs []error
		if err := srv.Shutdown(shutdownCtx); err != nil {
			errs = append(errs, fmt.Errorf("http shutdown: %w", err))
		}
		if metricsSrv != nil {
			if err := metricsSrv.Shutdown(shutdownCtx); err != nil {
				errs = append(errs, fmt.Errorf("metrics shutdown: %w", err))
			}
		}
		return errors.Join(errs...)
	})

	if err := g.Wait(); err != nil {
		return exitError(foundry.ExitExternalServiceUnavailable, "Server stopped with error", err)
	}
	logger.Info("server stopped")
	return nil
}

type signalHealthChecker struct{}

func (signalHealthChecker) CheckHealth(ctx context.Context) error { return nil }

type telemetryHealthChecker struct{}

func (telemetryHealthChecker) CheckHealth(ctx context.Context) error {
	if observability.Registry == nil || observability.HTTP == nil {
		return errors.New("telemetry system not initialized")
	}
	return nil
}

type identityHealthChecker struct {
	binaryName string
	envPrefix  string
	configName string
}

func (c identityHealthChecker) CheckHealth(ctx context.Context) error {
	switch {
	case c.binaryName == "":
		return errors.New("app identity missing binary name")
	case c.envPrefix == "":
		return errors.New("app identity missing env prefix")
	case c.configName == "":
		return errors.New("app identity missing config name")
	}
	return nil
}

// dataHealthChecker lists one key under the data root.
type dataHealthChecker struct {
	provider provider.Provider
}

func (c dataHealthChecker) CheckHealth(ctx context.Context) error {
	if c.provider == nil {
		return errors.New("no data provider")
	}
	if _, err := c.provider.List(ctx, provider.ListOptions{MaxKeys: 1}); err != nil {
		return fmt.Errorf("list project data: %w", err)
	}
	return nil
}

type pinger interface {
	Ping(ctx context.Context) error
}

// sessionHealthChecker pings stores that support it.
type sessionHealthChecker struct {
	store session.Store
}

func (c sessionHealthChecker) CheckHealth(ctx context.Context) error {
	if p, ok := c.store.(pinger); ok {
		return p.Ping(ctx)
	}
	return nil
}

var _ handlers.ProjectReader = (*project.Store)(nil)
