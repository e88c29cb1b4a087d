// Package logging provides structured logging for procwatch and turns a
// supervised child's output into log records.
package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

// Options selects the handler for New.
type Options struct {
	// Format is "json" or "text". Anything else falls back to JSON.
	Format string

	// Level is "debug", "info", "warn" or "error".
	Level string

	// Verbose forces debug level and adds source locations.
	Verbose bool

	// Writer defaults to os.Stderr.
	Writer io.Writer
}

// New creates a structured logger.
func New(opts Options) *slog.Logger {
	w := opts.Writer
	if w == nil {
		w = os.Stderr
	}

	level := parseLevel(opts.Level)
	if opts.Verbose {
		level = slog.LevelDebug
	}

	hopts := &slog.HandlerOptions{
		Level:     level,
		AddSource: opts.Verbose,
	}

	var handler slog.Handler
	switch strings.ToLower(opts.Format) {
	case "text":
		handler = slog.NewTextHandler(w, hopts)
	default:
		handler = slog.NewJSONHandler(w, hopts)
	}
	return slog.New(handler)
}

// NewLogger creates a logger writing to stderr.
func NewLogger(format, level string, verbose bool) *slog.Logger {
	return New(Options{Format: format, Level: level, Verbose: verbose})
}

// NewLoggerWithWriter creates a logger that writes to a custom writer.
// Unknown formats produce text. Useful for testing.
func NewLoggerWithWriter(w io.Writer, format, level string) *slog.Logger {
	if !strings.EqualFold(format, "json") {
		format = "text"
	}
	return New(Options{Format: format, Level: level, Writer: w})
}

// Discard returns a logger that drops everything.
func Discard() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

// parseLevel converts a string level to slog.Level.
func parseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
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

// SetDefault sets the default logger for the slog package.
func SetDefault(logger *slog.Logger) {
	slog.SetDefault(logger)
}
