// Package cmd implements the gomian command line.
package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/3leaps/gomian/internal/config"
	"github.com/3leaps/gomian/internal/observability"
	"github.com/3leaps/gomian/internal/server/handlers"
)

// VersionInfo is stamped in at build time.
type VersionInfo struct {
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	BuildDate string `json:"build_date"`
}

var (
	versionInfo = VersionInfo{Version: "dev", Commit: "unknown", BuildDate: "unknown"}
	appIdentity *config.Identity

	cfgFile  string
	logLevel string
	jsonLogs bool
)

var rootCmd = &cobra.Command{
	Use:   "gomian",
	Short: "Microbiome analysis service",
	Long: `gomian runs statistical and machine-learning analyses over
microbiome abundance tables.

Each analysis runs in its own worker process with a hard deadline, so a
runaway computation is killed instead of starving the server.

Examples:
  gomian serve
  gomian analyses
  gomian run pca --uid alice --pid p1 --field catvar=Group
  gomian session issue alice --ttl 72h`,
	SilenceUsage:      true,
	SilenceErrors:     true,
	PersistentPreRunE: initConfig,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Config file (default $XDG_CONFIG_HOME/gomian/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level: debug, info, warn, error")
	rootCmd.PersistentFlags().BoolVar(&jsonLogs, "json-logs", false, "Emit CLI logs as JSON")
	_ = viper.BindPFlag("logging.level", rootCmd.PersistentFlags().Lookup("log-level"))
}

// Execute runs the root command.
func Execute(ctx context.Context) error {
	return rootCmd.ExecuteContext(ctx)
}

// SetVersionInfo records build metadata for version output and /version.
func SetVersionInfo(version, commit, buildDate string) {
	versionInfo.Version = version
	versionInfo.Commit = commit
	versionInfo.BuildDate = buildDate
	handlers.SetBuildInfo(version, commit, buildDate)
}

// GetAppIdentity returns the identity set by initConfig, or nil before it
// runs.
func GetAppIdentity() *config.Identity {
	return appIdentity
}

// setDefaults registers config defaults on the global viper so flag
// bindings see them.
func setDefaults() {
	config.SetDefaults(viper.GetViper(), config.DefaultIdentity())
}

func initConfig(cmd *cobra.Command, _ []string) error {
	if appIdentity == nil {
		appIdentity = config.DefaultIdentity()
	}
	setDefaults()

	observability.InitCLILogger(viper.GetString("logging.level"), jsonLogs)

	if cfgFile != "" {
		config.SetConfigFile(cfgFile)
	}
	return nil
}

// loadConfig resolves the full configuration. Flag values passed in
// overrides win over every other source.
func loadConfig(ctx context.Context, overrides map[string]any) (*config.Config, error) {
	if logLevel != "" {
		overrides = mergeOverride(overrides, "logging", "level", logLevel)
	}
	cfg, err := config.Load(ctx, overrides)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	observability.CLILogger.Debug("config loaded",
		zap.String("data_backend", cfg.Data.Backend),
		zap.String("session_driver", cfg.Session.Driver))
	return cfg, nil
}

func mergeOverride(m map[string]any, section, key string, value any) map[string]any {
	if m == nil {
		m = map[string]any{}
	}
	sec, ok := m[section].(map[string]any)
	if !ok {
		sec = map[string]any{}
		m[section] = sec
	}
	sec[key] = value
	return m
}
