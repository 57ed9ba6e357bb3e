// Package logging provides structured logging for flowcheck.
package logging

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/log"
)

// Options configures a logger.
type Options struct {
	// Level is the minimum log level (debug, info, warn, error).
	Level string
	// Output is the writer for log output (default: os.Stderr).
	Output io.Writer
	// Prefix is the component name prefix.
	Prefix string
}

// parseLevel converts a string level to log.Level.
func parseLevel(level string) log.Level {
	switch strings.ToLower(level) {
	case "debug":
		return log.DebugLevel
	case "info":
		return log.InfoLevel
	case "warn", "warning":
		return log.WarnLevel
	case "error":
		return log.ErrorLevel
	default:
		return log.InfoLevel
	}
}

// New creates a logger with the given options.
func New(opts Options) *log.Logger {
	out := opts.Output
	if out == nil {
		out = os.Stderr
	}
	return log.NewWithOptions(out, log.Options{
		Level:           parseLevel(opts.Level),
		Prefix:          opts.Prefix,
		TimeFormat:      time.RFC3339,
		ReportTimestamp: true,
	})
}

// newDefault builds the package default logger, honoring FLOWCHECK_LOG_LEVEL.
func newDefault() *log.Logger {
	opts := Options{Level: "info"}
	if level := os.Getenv("FLOWCHECK_LOG_LEVEL"); level != "" {
		opts.Level = level
	}
	return New(opts)
}

var defaultLogger = newDefault()

// SetDefault replaces the package default logger.
func SetDefault(logger *log.Logger) {
	defaultLogger = logger
}

// Default returns the package default logger.
func Default() *log.Logger {
	return defaultLogger
}

// Debug logs a debug message with key-value pairs.
func Debug(msg interface{}, keyvals ...interface{}) {
	defaultLogger.Debug(msg, keyvals...)
}

// Info logs an info message with key-value pairs.
func Info(msg interface{}, keyvals ...interface{}) {
	defaultLogger.Info(msg, keyvals...)
}

// Warn logs a warning message with key-value pairs.
func Warn(msg interface{}, keyvals ...interface{}) {
	defaultLogger.Warn(msg, keyvals...)
}

// Error logs an error message with key-value pairs.
func Error(msg interface{}, keyvals ...interface{}) {
	defaultLogger.Error(msg, keyvals...)
}

// WithPrefix returns a logger derived from the default with the given prefix.
func WithPrefix(prefix string) *log.Logger {
	return defaultLogger.WithPrefix(prefix)
}
