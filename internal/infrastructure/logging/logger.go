// Package logging provides structured logging for Emberlink Core.
//
// Built on log/slog, every logger carries the service name and version so
// log aggregation can distinguish Emberlink output from other services on
// the same host.
package logging

import (
	"log/slog"
	"os"
	"strings"
)

// Logger wraps slog.Logger with service-level attributes.
type Logger struct {
	*slog.Logger
}

// Options configures logger construction.
type Options struct {
	Level   string // debug, info, warn, error
	Format  string // json or text
	Output  string // stdout or stderr
	Service string
	Version string
}

// New creates a configured Logger.
func New(opts Options) *Logger {
	level := parseLevel(opts.Level)

	var out *os.File
	switch opts.Output {
	case "stderr":
		out = os.Stderr
	default:
		out = os.Stdout
	}

	handlerOpts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler
	switch opts.Format {
	case "text":
		handler = slog.NewTextHandler(out, handlerOpts)
	default:
		handler = slog.NewJSONHandler(out, handlerOpts)
	}

	logger := slog.New(handler)
	if opts.Service != "" {
		logger = logger.With("service", opts.Service)
	}
	if opts.Version != "" {
		logger = logger.With("version", opts.Version)
	}

	return &Logger{Logger: logger}
}

// Default returns a JSON logger at info level writing to stdout.
func Default() *Logger {
	return New(Options{Level: "info", Format: "json", Output: "stdout", Service: "emberlink"})
}

// With returns a Logger with additional attributes attached.
func (l *Logger) With(args ...any) *Logger {
	return &Logger{Logger: l.Logger.With(args...)}
}

func parseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
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
