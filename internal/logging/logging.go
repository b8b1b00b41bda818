// Package logging provides the process-wide slog setup for courier.
// Packages take a component logger at init time instead of receiving one
// through their constructors:
//
//	var log = logging.Component("dispatcher")
package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
)

var (
	defaultLogger *slog.Logger
	once          sync.Once
	logLevel      = new(slog.LevelVar)
)

// Init initializes the global logger from LOG_LEVEL, LOG_FORMAT and NO_COLOR.
// Only the first call takes effect.
func Init() {
	once.Do(func() {
		logLevel.Set(parseLogLevel(os.Getenv("LOG_LEVEL")))
		defaultLogger = slog.New(newHandler(os.Stdout, os.Getenv("LOG_FORMAT")))
	})
}

func newHandler(out io.Writer, format string) slog.Handler {
	opts := &slog.HandlerOptions{Level: logLevel}

	switch strings.ToLower(strings.TrimSpace(format)) {
	case "json":
		return slog.NewJSONHandler(out, opts)
	case "text":
		return slog.NewTextHandler(out, opts)
	}
	if os.Getenv("NO_COLOR") != "" {
		return slog.NewJSONHandler(out, opts)
	}
	return NewColorHandler(out, opts)
}

// Logger returns the global logger, initializing it on first use.
func Logger() *slog.Logger {
	Init()
	return defaultLogger
}

// Component returns a logger tagged with the component name.
func Component(name string) *slog.Logger {
	return Logger().With("component", name)
}

// SetLevel changes the level of every logger handed out by this package.
func SetLevel(level slog.Level) {
	logLevel.Set(level)
}

// Level returns the current log level.
func Level() slog.Level {
	Init()
	return logLevel.Level()
}

// IsDebugEnabled returns true if debug logging is enabled.
func IsDebugEnabled() bool {
	return Level() <= slog.LevelDebug
}

func parseLogLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
