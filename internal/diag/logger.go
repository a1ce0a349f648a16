// Package diag holds the logging, metrics and error classification shared by
// the binaries.
package diag

import (
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// NewLogger builds a zap logger writing to stderr at the given level.
// Unknown levels fall back to info.
func NewLogger(level string, json bool) (*zap.Logger, error) {
	lvl, err := zapcore.ParseLevel(strings.TrimSpace(level))
	if err != nil {
		lvl = zapcore.InfoLevel
	}

	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(lvl)
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	cfg.Sampling = nil
	if !json {
		cfg.Encoding = "console"
		cfg.EncoderConfig.EncodeLevel = zapcore.CapitalLevelEncoder
	}
	return cfg.Build()
}

// NewRunID returns a fresh identifier for correlating the events of one run.
func NewRunID() string {
	return uuid.NewString()
}

// WithRun tags logger with a new run id and returns both.
func WithRun(logger *zap.Logger) (*zap.Logger, string) {
	id := NewRunID()
	return logger.With(zap.String("run_id", id)), id
}
