// Package config loads gomian configuration from layered sources.
//
// Precedence, lowest to highest: built-in defaults, the user config file,
// a project-local .gomian.yaml, an explicit --config file, GOMIAN_*
// environment variables, and runtime overrides passed to Load.
package config

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	gfconfig "github.com/fulmenhq/gofulmen/config"
	"github.com/go-playground/validator/v10"
	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"
)

// Identity names the application for config paths and env vars.
type Identity struct {
	BinaryName string
	ConfigName string
	EnvPrefix  string
}

// DefaultIdentity is gomian's identity.
func DefaultIdentity() *Identity {
	return &Identity{BinaryName: "gomian", ConfigName: "gomian", EnvPrefix: "GOMIAN_"}
}

// EnvSpec maps one environment variable onto a config key.
type EnvSpec struct {
	Name string
	Path string
}

const projectConfigFile = ".gomian.yaml"

var (
	configMu    sync.RWMutex
	appIdentity *Identity
	appConfig   *Config
	explicit    string
)

// SetConfigFile adds an explicit config file layer to subsequent loads.
func SetConfigFile(path string) {
	configMu.Lock()
	defer configMu.Unlock()
	explicit = path
}

// Load resolves the configuration and makes it current for GetConfig.
// Each override is a nested map applied above every other source.
func Load(ctx context.Context, overrides ...map[string]any) (*Config, error) {
	configMu.Lock()
	defer configMu.Unlock()

	if appIdentity == nil {
		appIdentity = DefaultIdentity()
	}

	v := viper.New()
	SetDefaults(v, appIdentity)

	for _, path := range configFiles() {
		v.SetConfigFile(path)
		if err := v.MergeInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	for _, spec := range envSpecs(appIdentity) {
		if err := v.BindEnv(spec.Path, spec.Name); err != nil {
			return nil, fmt.Errorf("bind env %s: %w", spec.Name, err)
		}
	}

	for _, o := range overrides {
		for key, val := range flatten("", o) {
			v.Set(key, val)
		}
	}

	var cfg Config
	hook := viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
	))
	if err := v.Unmarshal(&cfg, hook); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := validator.New().Struct(&cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	appConfig = &cfg
	return &cfg, nil
}

// GetConfig returns the most recently loaded configuration, or nil.
func GetConfig() *Config {
	configMu.RLock()
	defer configMu.RUnlock()
	return appConfig
}

// SetDefaults registers every key's default on v.
func SetDefaults(v *viper.Viper, id *Identity) {
	v.SetDefault("server.host", "localhost")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "200s")
	v.SetDefault("server.idle_timeout", "120s")
	v.SetDefault("server.shutdown_timeout", "10s")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.profile", "STRUCTURED")

	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.port", 9090)
	v.SetDefault("health.enabled", true)
	v.SetDefault("debug.enabled", false)
	v.SetDefault("debug.pprof_enabled", false)

	v.SetDefault("analysis.standard_deadline", "60s")
	v.SetDefault("analysis.extended_multiplier", 3)
	v.SetDefault("analysis.kill_grace", "2s")
	v.SetDefault("analysis.max_result_bytes", 64<<20)
	v.SetDefault("analysis.worker_command", []string{})
	v.SetDefault("analysis.rate_limit", 5)
	v.SetDefault("analysis.rate_burst", 10)

	dataDir := ""
	if id != nil && id.ConfigName != "" {
		dataDir = gfconfig.GetAppDataDir(id.ConfigName)
	}
	v.SetDefault("data.backend", BackendFile)
	v.SetDefault("data.root", filepath.Join(dataDir, "projects"))
	v.SetDefault("data.s3.bucket", "")
	v.SetDefault("data.s3.prefix", "")
	v.SetDefault("data.s3.region", "")
	v.SetDefault("data.s3.endpoint", "")
	v.SetDefault("data.s3.profile", "")
	v.SetDefault("data.s3.force_path_style", false)

	v.SetDefault("session.driver", SessionSQLite)
	v.SetDefault("session.path", filepath.Join(dataDir, "sessions.db"))
	v.SetDefault("session.url", "")
	v.SetDefault("session.auth_token", "")
	v.SetDefault("session.cookie_name", "gomian_session")
	v.SetDefault("session.ttl", "24h")
}

func configFiles() []string {
	var out []string
	for _, p := range getUserConfigPaths() {
		if fileExists(p) {
			out = append(out, p)
			break
		}
	}
	if root, err := findProjectRoot(); err == nil {
		if p := filepath.Join(root, projectConfigFile); fileExists(p) {
			out = append(out, p)
		}
	}
	if explicit != "" {
		out = append(out, explicit)
	}
	return out
}

// getUserConfigPaths lists candidate user config files, most preferred
// first. Callers hold configMu.
func getUserConfigPaths() []string {
	if appIdentity == nil {
		return []string{}
	}
	dir, err := os.UserConfigDir()
	if err != nil {
		return []string{}
	}
	base := filepath.Join(dir, appIdentity.ConfigName)
	return []string{
		filepath.Join(base, "config.yaml"),
		filepath.Join(base, "config.yml"),
	}
}

// getEnvSpecs returns the env bindings for the current identity.
func getEnvSpecs() []EnvSpec {
	configMu.RLock()
	defer configMu.RUnlock()
	return envSpecs(appIdentity)
}

var envKeys = map[string]string{
	"HOST":                         "server.host",
	"PORT":                         "server.port",
	"READ_TIMEOUT":                 "server.read_timeout",
	"WRITE_TIMEOUT":                "server.write_timeout",
	"IDLE_TIMEOUT":                 "server.idle_timeout",
	"SHUTDOWN_TIMEOUT":             "server.shutdown_timeout",
	"LOG_LEVEL":                    "logging.level",
	"LOG_PROFILE":                  "logging.profile",
	"METRICS_ENABLED":              "metrics.enabled",
	"METRICS_PORT":                 "metrics.port",
	"HEALTH_ENABLED":               "health.enabled",
	"DEBUG":                        "debug.enabled",
	"PPROF_ENABLED":                "debug.pprof_enabled",
	"ANALYSIS_DEADLINE":            "analysis.standard_deadline",
	"ANALYSIS_EXTENDED_MULTIPLIER": "analysis.extended_multiplier",
	"ANALYSIS_KILL_GRACE":          "analysis.kill_grace",
	"ANALYSIS_MAX_RESULT_BYTES":    "analysis.max_result_bytes",
	"WORKER_COMMAND":               "analysis.worker_command",
	"RATE_LIMIT":                   "analysis.rate_limit",
	"RATE_BURST":                   "analysis.rate_burst",
	"DATA_BACKEND":                 "data.backend",
	"DATA_ROOT":                    "data.root",
	"S3_BUCKET":                    "data.s3.bucket",
	"S3_PREFIX":                    "data.s3.prefix",
	"S3_REGION":                    "data.s3.region",
	"S3_ENDPOINT":                  "data.s3.endpoint",
	"S3_PROFILE":                   "data.s3.profile",
	"S3_FORCE_PATH_STYLE":          "data.s3.force_path_style",
	"SESSION_DRIVER":               "session.driver",
	"SESSION_PATH":                 "session.path",
	"SESSION_URL":                  "session.url",
	"SESSION_AUTH_TOKEN":           "session.auth_token",
	"SESSION_COOKIE":               "session.cookie_name",
	"SESSION_TTL":                  "session.ttl",
}

func envSpecs(id *Identity) []EnvSpec {
	if id == nil {
		return []EnvSpec{}
	}
	specs := make([]EnvSpec, 0, len(envKeys))
	for suffix, path := range envKeys {
		specs = append(specs, EnvSpec{Name: id.EnvPrefix + suffix, Path: path})
	}
	sort.Slice(specs, func(i, j int) bool { return specs[i].Name < specs[j].Name })
	return specs
}

// flatten turns nested override maps into dotted viper keys.
func flatten(prefix string, m map[string]any) map[string]any {
	out := make(map[string]any)
	for k, v := range m {
		key := k
		if prefix != "" {
			key = prefix + "." + k
		}
		if nested, ok := v.(map[string]any); ok {
			for nk, nv := range flatten(key, nested) {
				out[nk] = nv
			}
			continue
		}
		out[key] = v
	}
	return out
}

var ciBoundaryVars = []string{"FULMEN_WORKSPACE_ROOT", "GITHUB_WORKSPACE", "CI_PROJECT_DIR", "WORKSPACE"}

// findProjectRoot walks up from the working directory to the nearest
// go.mod, .git, or project config file. The walk stops at the CI workspace
// when one is declared, otherwise at $HOME if it is an ancestor. With no
// marker found the working directory is the root.
func findProjectRoot() (string, error) {
	cwd, err := os.Getwd()
	if err != nil {
		return "", fmt.Errorf("get working directory: %w", err)
	}
	boundary := searchBoundary(cwd)

	dir := cwd
	for {
		if hasRootMarker(dir) {
			return dir, nil
		}
		if dir == boundary {
			break
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}
	return cwd, nil
}

func searchBoundary(cwd string) string {
	if isCI() {
		for _, name := range ciBoundaryVars {
			val := strings.TrimSpace(os.Getenv(name))
			if val == "" || !filepath.IsAbs(val) {
				continue
			}
			if info, err := os.Stat(val); err != nil || !info.IsDir() {
				continue
			}
			if within(cwd, val) {
				return filepath.Clean(val)
			}
		}
	}
	if home, err := os.UserHomeDir(); err == nil && within(cwd, home) {
		return filepath.Clean(home)
	}
	return ""
}

func isCI() bool {
	return strings.EqualFold(os.Getenv("CI"), "true") || strings.EqualFold(os.Getenv("GITHUB_ACTIONS"), "true")
}

func within(path, root string) bool {
	rel, err := filepath.Rel(root, path)
	if err != nil {
		return false
	}
	return rel == "." || (rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)))
}

func hasRootMarker(dir string) bool {
	for _, marker := range []string{"go.mod", ".git", projectConfigFile} {
		if _, err := os.Stat(filepath.Join(dir, marker)); err == nil {
			return true
		}
	}
	return false
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
