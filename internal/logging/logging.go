// Package logging provides the structured logger used across the service.
package logging

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Logger wraps a zap sugared logger with the key-value style used
// throughout the service.
type Logger struct {
	*zap.SugaredLogger
}

// NewLogger creates a production logger writing JSON to stdout.
func NewLogger(debug bool) *Logger {
	cfg := zap.NewProductionConfig()
	if debug {
		cfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
	}
	cfg.OutputPaths = []string{"stdout"}
	base, err := cfg.Build(zap.AddCallerSkip(1))
	if err != nil {
		// zap only fails on invalid config; fall back to the default.
		base = zap.NewNop()
	}
	return &Logger{base.Sugar()}
}

// NewNop returns a logger that discards everything. Used in tests.
func NewNop() *Logger {
	return &Logger{zap.NewNop().Sugar()}
}

// Info logs an informational message with alternating key-value pairs.
func (l *Logger) Info(msg string, args ...interface{}) {
	l.Infow(msg, args...)
}

// Warn logs a warning message with alternating key-value pairs.
func (l *Logger) Warn(msg string, args ...interface{}) {
	l.Warnw(msg, args...)
}

// Error logs an error message with alternating key-value pairs.
func (l *Logger) Error(msg string, args ...interface{}) {
	l.Errorw(msg, args...)
}

// Debug logs a debug message with alternating key-value pairs.
func (l *Logger) Debug(msg string, args ...interface{}) {
	l.Debugw(msg, args...)
}
