// Package logging builds the fabric's structured logger, grounded on
// kagent's tools/internal/logger package: a zap.NewProductionConfig base,
// log level and development mode driven by environment variables, wrapped
// for logr-based callers via go-logr/zapr.
package logging

import (
	"os"

	"github.com/go-logr/logr"
	"github.com/go-logr/zapr"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// New builds the process-wide logr.Logger. HIVEMIND_LOG_LEVEL (e.g.
// "debug", "warn") overrides the default info level; HIVEMIND_ENV=development
// switches to a human-readable, colorized encoder.
func New() logr.Logger {
	cfg := zap.NewProductionConfig()

	if level := os.Getenv("HIVEMIND_LOG_LEVEL"); level != "" {
		var l zapcore.Level
		if err := l.UnmarshalText([]byte(level)); err == nil {
			cfg.Level = zap.NewAtomicLevelAt(l)
		}
	}

	if os.Getenv("HIVEMIND_ENV") == "development" {
		cfg.Development = true
		cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	}

	cfg.EncoderConfig.CallerKey = "caller"
	cfg.EncoderConfig.TimeKey = "timestamp"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	zl, err := cfg.Build()
	if err != nil {
		panic("failed to initialize logger: " + err.Error())
	}
	return zapr.NewLogger(zl)
}
