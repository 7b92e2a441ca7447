package cmd

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/3leaps/gomian/internal/config"
	"github.com/3leaps/gomian/pkg/project"
	"github.com/3leaps/gomian/pkg/provider"
	"github.com/3leaps/gomian/pkg/provider/file"
	"github.com/3leaps/gomian/pkg/provider/s3"
	"github.com/3leaps/gomian/pkg/session"
	"github.com/3leaps/gomian/pkg/supervisor"
)

// openProvider returns the object store holding project data.
func openProvider(ctx context.Context, cfg config.DataConfig) (provider.Provider, error) {
	switch cfg.Backend {
	case config.BackendS3:
		p, err := s3.New(ctx, s3.Config{
			Bucket:         cfg.S3.Bucket,
			Prefix:         cfg.S3.Prefix,
			Region:         cfg.S3.Region,
			Endpoint:       cfg.S3.Endpoint,
			Profile:        cfg.S3.Profile,
			ForcePathStyle: cfg.S3.ForcePathStyle,
		})
		if err != nil {
			return nil, fmt.Errorf("open s3 data backend: %w", err)
		}
		return p, nil
	case config.BackendFile, "":
		if err := os.MkdirAll(cfg.Root, 0o755); err != nil {
			return nil, fmt.Errorf("create data root: %w", err)
		}
		p, err := file.New(file.Config{BaseDir: cfg.Root})
		if err != nil {
			return nil, fmt.Errorf("open data root: %w", err)
		}
		return p, nil
	default:
		return nil, fmt.Errorf("unknown data backend %q", cfg.Backend)
	}
}

// openProjectStore opens the project store; close releases its provider.
func openProjectStore(ctx context.Context, cfg config.DataConfig) (store *project.Store, closeFn func(), err error) {
	p, err := openProvider(ctx, cfg)
	if err != nil {
		return nil, nil, err
	}
	return project.NewStore(p), func() { _ = p.Close() }, nil
}

// openSessionStore opens the configured session store.
func openSessionStore(ctx context.Context, cfg config.SessionConfig) (session.Admin, error) {
	switch cfg.Driver {
	case config.SessionMemory:
		return session.NewMemoryStore(), nil
	case config.SessionSQLite, "":
		if cfg.URL == "" && cfg.Path != "" {
			if err := os.MkdirAll(filepath.Dir(cfg.Path), 0o755); err != nil {
				return nil, fmt.Errorf("create session dir: %w", err)
			}
		}
		s, err := session.OpenSQL(ctx, session.Config{Path: cfg.Path, URL: cfg.URL, AuthToken: cfg.AuthToken})
		if err != nil {
			return nil, fmt.Errorf("open session store: %w", err)
		}
		return s, nil
	default:
		return nil, fmt.Errorf("unknown session driver %q", cfg.Driver)
	}
}

// workerExecutor builds the command that runs one worker. By default this
// binary re-executes itself as "gomian worker"; the data settings the
// parent resolved are passed down through the environment.
func workerExecutor(cfg *config.Config) (*supervisor.CommandExecutor, error) {
	var exe *supervisor.CommandExecutor
	if argv := cfg.Analysis.WorkerCommand; len(argv) > 0 {
		exe = &supervisor.CommandExecutor{Path: argv[0], Args: append([]string(nil), argv[1:]...)}
	} else {
		self, err := supervisor.SelfExecutor("worker")
		if err != nil {
			return nil, err
		}
		exe = self
	}
	if cfgFile != "" {
		exe.Args = append(exe.Args, "--config", cfgFile)
	}
	exe.Env = workerEnv(cfg)
	return exe, nil
}

func workerEnv(cfg *config.Config) []string {
	prefix := config.DefaultIdentity().EnvPrefix
	if id := GetAppIdentity(); id != nil {
		prefix = id.EnvPrefix
	}
	d := cfg.Data
	return []string{
		prefix + "DATA_BACKEND=" + d.Backend,
		prefix + "DATA_ROOT=" + d.Root,
		prefix + "S3_BUCKET=" + d.S3.Bucket,
		prefix + "S3_PREFIX=" + d.S3.Prefix,
		prefix + "S3_REGION=" + d.S3.Region,
		prefix + "S3_ENDPOINT=" + d.S3.Endpoint,
		prefix + "S3_PROFILE=" + d.S3.Profile,
		prefix + "S3_FORCE_PATH_STYLE=" + strconv.FormatBool(d.S3.ForcePathStyle),
		prefix + "LOG_LEVEL=" + cfg.Logging.Level,
	}
}

// newSupervisor builds a supervisor for cfg. reg may be nil.
func newSupervisor(cfg *config.Config, logger *zap.Logger, reg prometheus.Registerer) (*supervisor.Supervisor, error) {
	exe, err := workerExecutor(cfg)
	if err != nil {
		return nil, err
	}
	return supervisor.New(supervisor.Config{
		Executor:       exe,
		KillGrace:      cfg.Analysis.KillGrace,
		MaxResultBytes: cfg.Analysis.MaxResultBytes,
		Logger:         logger,
		Metrics:        supervisor.NewMetrics(reg),
	})
}
