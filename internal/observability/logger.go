// Package observability holds the process-wide loggers and metrics
// registry.
package observability

import (
	"fmt"
	"os"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	// CLILogger writes human-facing command output to stderr.
	CLILogger = zap.NewNop()
	// ServerLogger is the structured logger used by serve.
	ServerLogger = zap.NewNop()
)

// Logging profiles.
const (
	ProfileStructured = "STRUCTURED"
	ProfileConsole    = "CONSOLE"
)

// ParseLevel parses a level name, falling back to info.
func ParseLevel(level string) zapcore.Level {
	lvl, err := zapcore.ParseLevel(strings.ToLower(strings.TrimSpace(level)))
	if err != nil {
		return zapcore.InfoLevel
	}
	return lvl
}

// InitCLILogger configures CLILogger. Plain console output unless json.
func InitCLILogger(level string, json bool) {
	enc := zap.NewDevelopmentEncoderConfig()
	enc.TimeKey = ""
	enc.CallerKey = ""
	enc.NameKey = ""
	enc.LevelKey = ""
	encoder := zapcore.NewConsoleEncoder(enc)
	if json {
		encoder = zapcore.NewJSONEncoder(zap.NewProductionEncoderConfig())
	}
	core := zapcore.NewCore(encoder, zapcore.Lock(os.Stderr), ParseLevel(level))
	CLILogger = zap.New(core)
}

// InitServerLogger builds ServerLogger for the given level and profile.
func InitServerLogger(level, profile string) (*zap.Logger, error) {
	logger, err := NewLogger(level, profile)
	if err != nil {
		return nil, err
	}
	ServerLogger = logger
	return logger, nil
}

// NewLogger builds a stderr logger. STRUCTURED emits JSON; CONSOLE emits
// development-style lines.
func NewLogger(level, profile string) (*zap.Logger, error) {
	var cfg zap.Config
	switch strings.ToUpper(strings.TrimSpace(profile)) {
	case "", ProfileStructured:
		cfg = zap.NewProductionConfig()
		cfg.EncoderConfig.TimeKey = "ts"
		cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	case ProfileConsole:
		cfg = zap.NewDevelopmentConfig()
	default:
		return nil, fmt.Errorf("unknown logging profile %q", profile)
	}
	cfg.Level = zap.NewAtomicLevelAt(ParseLevel(level))
	cfg.OutputPaths = []string{"stderr"}
	cfg.ErrorOutputPaths = []string{"stderr"}
	return cfg.Build()
}
