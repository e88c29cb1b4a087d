package config

import (
	"github.com/spf13/pflag"
)

// Flags binds command-line flags to a scratch Config so that only the
// flags the user set are applied over the file configuration.
type Flags struct {
	fs  *pflag.FlagSet
	cfg *Config
	env []string
}

// BindFlags registers the run flags on fs.
func BindFlags(fs *pflag.FlagSet) *Flags {
	f := &Flags{fs: fs, cfg: DefaultConfig()}
	c := f.cfg

	// Command
	fs.StringVar(&c.Shell, "shell", c.Shell, "Shell used for single-string commands (default /bin/sh or cmd.exe)")
	fs.StringVarP(&c.Dir, "dir", "C", c.Dir, "Working directory")
	fs.StringArrayVarP(&f.env, "env", "e", nil, "Set KEY=VALUE in the child environment (can repeat)")
	fs.StringSliceVar(&c.EnvKeep, "env-keep", c.EnvKeep, "Only inherit variables matching these glob patterns")
	fs.StringVarP(&c.Input, "input-file", "i", c.Input, `Feed this file to stdin ("-" for our stdin)`)

	// Supervision
	fs.DurationVarP(&c.Timeout, "timeout", "t", c.Timeout, "Overall timeout (0 = none)")
	fs.DurationVar(&c.IdleTimeout, "idle-timeout", c.IdleTimeout, "Timeout since last output (0 = none)")
	fs.BoolVar(&c.TTY, "tty", c.TTY, "Connect the child to our controlling terminal")
	fs.BoolVar(&c.PTY, "pty", c.PTY, "Run the child on a pseudo-terminal")
	fs.BoolVar(&c.DisableOutput, "disable-output", c.DisableOutput, "Do not capture output")
	fs.BoolVar(&c.Compat, "compat", c.Compat, "Recover exit codes through a status pipe (for environments that lose them)")
	fs.BoolVar(&c.ProcessGroup, "process-group", c.ProcessGroup, "Signal the child's whole process group")
	fs.DurationVar(&c.TickInterval, "tick", c.TickInterval, "Supervision tick interval")

	// Stopping
	fs.DurationVar(&c.StopGrace, "stop-grace", c.StopGrace, "Grace period between the stop signal and SIGKILL")
	fs.StringVar(&c.StopSignal, "stop-signal", c.StopSignal, "Signal sent to stop the child")
	fs.BoolVar(&c.Must, "must", c.Must, "Treat a non-zero exit as a failure and print the captured output")

	// Observability
	fs.StringVar(&c.MetricsAddr, "metrics", c.MetricsAddr, "Prometheus metrics address (empty = disabled)")
	fs.StringVar(&c.MetricsTextfile, "metrics-textfile", c.MetricsTextfile, "Write final metrics to this file for node_exporter")
	fs.StringVar(&c.LogFormat, "log-format", c.LogFormat, `Log format: "json" or "text"`)
	fs.StringVar(&c.LogLevel, "log-level", c.LogLevel, `Log level: "debug", "info", "warn" or "error"`)
	fs.BoolVarP(&c.Verbose, "verbose", "v", c.Verbose, "Verbose logging, including every output line")
	fs.BoolVar(&c.TUI, "tui", c.TUI, "Show a live terminal dashboard")
	fs.BoolVar(&c.Summary, "summary", c.Summary, "Print an exit summary to stderr")
	fs.BoolVar(&c.SkipPreflight, "skip-preflight", c.SkipPreflight, "Skip preflight checks")

	return f
}

// flagFields copies one flag's value from the scratch config.
var flagFields = map[string]func(dst, src *Config){
	"shell":            func(d, s *Config) { d.Shell = s.Shell },
	"dir":              func(d, s *Config) { d.Dir = s.Dir },
	"env-keep":         func(d, s *Config) { d.EnvKeep = s.EnvKeep },
	"input-file":       func(d, s *Config) { d.Input = s.Input },
	"timeout":          func(d, s *Config) { d.Timeout = s.Timeout },
	"idle-timeout":     func(d, s *Config) { d.IdleTimeout = s.IdleTimeout },
	"tty":              func(d, s *Config) { d.TTY = s.TTY },
	"pty":              func(d, s *Config) { d.PTY = s.PTY },
	"disable-output":   func(d, s *Config) { d.DisableOutput = s.DisableOutput },
	"compat":           func(d, s *Config) { d.Compat = s.Compat },
	"process-group":    func(d, s *Config) { d.ProcessGroup = s.ProcessGroup },
	"tick":             func(d, s *Config) { d.TickInterval = s.TickInterval },
	"stop-grace":       func(d, s *Config) { d.StopGrace = s.StopGrace },
	"stop-signal":      func(d, s *Config) { d.StopSignal = s.StopSignal },
	"must":             func(d, s *Config) { d.Must = s.Must },
	"metrics":          func(d, s *Config) { d.MetricsAddr = s.MetricsAddr },
	"metrics-textfile": func(d, s *Config) { d.MetricsTextfile = s.MetricsTextfile },
	"log-format":       func(d, s *Config) { d.LogFormat = s.LogFormat },
	"log-level":        func(d, s *Config) { d.LogLevel = s.LogLevel },
	"verbose":          func(d, s *Config) { d.Verbose = s.Verbose },
	"tui":              func(d, s *Config) { d.TUI = s.TUI },
	"summary":          func(d, s *Config) { d.Summary = s.Summary },
	"skip-preflight":   func(d, s *Config) { d.SkipPreflight = s.SkipPreflight },
}

// Apply copies every flag the user set onto dst. Environment pairs are
// merged over dst.Env. args, when non-empty, replace dst.Command.
func (f *Flags) Apply(dst *Config, args []string) error {
	f.fs.Visit(func(fl *pflag.Flag) {
		if copyField, ok := flagFields[fl.Name]; ok {
			copyField(dst, f.cfg)
		}
	})

	if len(f.env) > 0 {
		pairs, err := ParseEnvPairs(f.env)
		if err != nil {
			return err
		}
		if dst.Env == nil {
			dst.Env = make(map[string]string, len(pairs))
		}
		for k, v := range pairs {
			dst.Env[k] = v
		}
	}

	if len(args) > 0 {
		dst.Command = args
	}
	return nil
}
