package config

import (
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"

	"github.com/randomizedcoder/procwatch/internal/signals"
)

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// Validate checks the configuration for errors and inconsistencies.
// Returns nil if valid, or every problem joined into one error.
func Validate(cfg *Config) error {
	var errs []error
	add := func(field, format string, args ...any) {
		errs = append(errs, ValidationError{Field: field, Message: fmt.Sprintf(format, args...)})
	}

	// Command is required
	if len(cfg.Command) == 0 || cfg.Command[0] == "" {
		add("command", "a command is required")
	}

	// Timeouts: 0 disables, negative is meaningless
	if cfg.Timeout < 0 {
		add("timeout", "must not be negative (got %v)", cfg.Timeout)
	}
	if cfg.IdleTimeout < 0 {
		add("idle_timeout", "must not be negative (got %v)", cfg.IdleTimeout)
	}
	if cfg.IdleTimeout > 0 && cfg.DisableOutput {
		add("idle_timeout", "cannot be used with disable_output")
	}
	if cfg.Timeout > 0 && cfg.IdleTimeout > cfg.Timeout {
		add("idle_timeout", "must not exceed timeout (%v > %v)", cfg.IdleTimeout, cfg.Timeout)
	}

	if cfg.TTY && cfg.PTY {
		add("pty", "tty and pty are mutually exclusive")
	}
	if cfg.TUI && cfg.TTY {
		add("tui", "cannot share the terminal with a tty child")
	}
	if cfg.TickInterval <= 0 {
		add("tick_interval", "must be positive")
	}

	// Stopping
	if cfg.StopGrace < 0 {
		add("stop_grace", "must not be negative (got %v)", cfg.StopGrace)
	}
	if _, err := signals.ParseSignal(cfg.StopSignal); err != nil {
		add("stop_signal", "%v", err)
	}

	// Environment
	for k := range cfg.Env {
		if k == "" || strings.ContainsAny(k, "=\x00") {
			add("env", "invalid variable name %q", k)
		}
	}
	if _, err := compilePatterns(cfg.EnvKeep); err != nil {
		add("env_keep", "%v", err)
	}

	// Files and directories
	if cfg.Dir != "" {
		if fi, err := os.Stat(cfg.Dir); err != nil || !fi.IsDir() {
			add("dir", "%q is not a directory", cfg.Dir)
		}
	}
	if cfg.Input != "" && cfg.Input != "-" {
		if _, err := os.Stat(cfg.Input); err != nil {
			add("input_file", "%v", err)
		}
	}
	if cfg.MetricsTextfile != "" {
		if fi, err := os.Stat(filepath.Dir(cfg.MetricsTextfile)); err != nil || !fi.IsDir() {
			add("metrics_textfile", "directory of %q does not exist", cfg.MetricsTextfile)
		}
	}

	// Observability
	if cfg.MetricsAddr != "" {
		if _, _, err := net.SplitHostPort(cfg.MetricsAddr); err != nil {
			add("metrics_addr", "must be host:port (got %q)", cfg.MetricsAddr)
		}
	}
	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[cfg.LogFormat] {
		add("log_format", "must be 'json' or 'text' (got %q)", cfg.LogFormat)
	}
	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "warning": true, "error": true}
	if !validLevels[strings.ToLower(cfg.LogLevel)] {
		add("log_level", "must be debug, info, warn or error (got %q)", cfg.LogLevel)
	}

	// Return combined errors
	if len(errs) > 0 {
		return errors.Join(errs...)
	}

	return nil
}
