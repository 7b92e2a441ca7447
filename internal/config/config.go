package config

import (
	"time"
)

// Config is the resolved gomian configuration.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Logging  LoggingConfig  `mapstructure:"logging"`
	Metrics  MetricsConfig  `mapstructure:"metrics"`
	Health   HealthConfig   `mapstructure:"health"`
	Debug    DebugConfig    `mapstructure:"debug"`
	Analysis AnalysisConfig `mapstructure:"analysis"`
	Data     DataConfig     `mapstructure:"data"`
	Session  SessionConfig  `mapstructure:"session"`
}

type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port" validate:"gte=0,lte=65535"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	IdleTimeout     time.Duration `mapstructure:"idle_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

type LoggingConfig struct {
	Level   string `mapstructure:"level"`
	Profile string `mapstructure:"profile"`
}

type MetricsConfig struct {
	Enabled bool `mapstructure:"enabled"`
	Port    int  `mapstructure:"port" validate:"gte=0,lte=65535"`
}

type HealthConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

type DebugConfig struct {
	Enabled      bool `mapstructure:"enabled"`
	PprofEnabled bool `mapstructure:"pprof_enabled"`
}

// AnalysisConfig controls supervised execution.
type AnalysisConfig struct {
	StandardDeadline   time.Duration `mapstructure:"standard_deadline" validate:"gt=0"`
	ExtendedMultiplier int           `mapstructure:"extended_multiplier" validate:"gte=1"`
	KillGrace          time.Duration `mapstructure:"kill_grace"`
	MaxResultBytes     int           `mapstructure:"max_result_bytes"`
	// WorkerCommand replaces the default "<self> worker" invocation.
	WorkerCommand []string `mapstructure:"worker_command"`
	// RateLimit is analysis requests per second per client; 0 disables.
	RateLimit float64 `mapstructure:"rate_limit"`
	RateBurst int     `mapstructure:"rate_burst" validate:"gte=0"`
}

// Project data backends.
const (
	BackendFile = "file"
	BackendS3   = "s3"
)

type DataConfig struct {
	Backend string   `mapstructure:"backend" validate:"oneof=file s3"`
	Root    string   `mapstructure:"root"`
	S3      S3Config `mapstructure:"s3"`
}

type S3Config struct {
	Bucket         string `mapstructure:"bucket"`
	Prefix         string `mapstructure:"prefix"`
	Region         string `mapstructure:"region"`
	Endpoint       string `mapstructure:"endpoint"`
	Profile        string `mapstructure:"profile"`
	ForcePathStyle bool   `mapstructure:"force_path_style"`
}

// Session store drivers.
const (
	SessionSQLite = "sqlite"
	SessionMemory = "memory"
)

type SessionConfig struct {
	Driver     string        `mapstructure:"driver" validate:"oneof=sqlite memory"`
	Path       string        `mapstructure:"path"`
	URL        string        `mapstructure:"url"`
	AuthToken  string        `mapstructure:"auth_token"`
	CookieName string        `mapstructure:"cookie_name"`
	TTL        time.Duration `mapstructure:"ttl" validate:"gt=0"`
}
