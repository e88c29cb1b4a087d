// Package config provides configuration management for procwatch.
//
// Values come from DefaultConfig, then an optional TOML file, then any
// command-line flags the user actually set.
package config

import (
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

// Config holds all configuration options for one supervised run.
type Config struct {
	// Command
	Command []string          `toml:"command"` // argv; a single element is run through the shell
	Shell   string            `toml:"shell"`   // empty = platform default
	Dir     string            `toml:"dir"`
	Env     map[string]string `toml:"env"`
	EnvKeep []string          `toml:"env_keep"` // glob patterns; when set, only matching variables are inherited
	Input   string            `toml:"input_file"`

	// Supervision
	Timeout       time.Duration `toml:"timeout"`      // 0 = none
	IdleTimeout   time.Duration `toml:"idle_timeout"` // 0 = none
	TTY           bool          `toml:"tty"`
	PTY           bool          `toml:"pty"`
	DisableOutput bool          `toml:"disable_output"`
	Compat        bool          `toml:"compat"`
	ProcessGroup  bool          `toml:"process_group"`
	TickInterval  time.Duration `toml:"tick_interval"`

	// Stopping
	StopGrace  time.Duration `toml:"stop_grace"`
	StopSignal string        `toml:"stop_signal"`
	Must       bool          `toml:"must"` // non-zero exit is an error

	// Observability
	MetricsAddr     string `toml:"metrics_addr"` // empty = disabled
	MetricsTextfile string `toml:"metrics_textfile"`
	LogFormat       string `toml:"log_format"` // json, text
	LogLevel        string `toml:"log_level"`
	Verbose         bool   `toml:"verbose"`
	TUI             bool   `toml:"tui"`
	Summary         bool   `toml:"summary"`
	SkipPreflight   bool   `toml:"skip_preflight"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		ProcessGroup: true,
		TickInterval: 10 * time.Millisecond,

		StopGrace:  10 * time.Second,
		StopSignal: "SIGTERM",

		LogFormat: "json",
		LogLevel:  "info",
		Summary:   true,
	}
}

// Load reads a TOML file over the defaults. Unknown keys are an error so
// typos do not pass silently.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()
	md, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, len(undecoded))
		for i, k := range undecoded {
			keys[i] = k.String()
		}
		slices.Sort(keys)
		return nil, fmt.Errorf("parsing config %s: unknown keys: %s", path, strings.Join(keys, ", "))
	}
	return cfg, nil
}

// ShellCommand returns the command line when Command is a single shell
// string, and ok=false when Command is an argv.
func (c *Config) ShellCommand() (line string, ok bool) {
	if len(c.Command) == 1 {
		return c.Command[0], true
	}
	return "", false
}

// CommandLine renders Command for display.
func (c *Config) CommandLine() string {
	if line, ok := c.ShellCommand(); ok {
		return line
	}
	return strings.Join(c.Command, " ")
}
