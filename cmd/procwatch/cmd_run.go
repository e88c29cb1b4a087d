package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"

	"github.com/randomizedcoder/procwatch/internal/config"
	"github.com/randomizedcoder/procwatch/internal/exitcode"
	"github.com/randomizedcoder/procwatch/internal/logging"
	"github.com/randomizedcoder/procwatch/internal/metrics"
	"github.com/randomizedcoder/procwatch/internal/preflight"
	"github.com/randomizedcoder/procwatch/internal/signals"
	"github.com/randomizedcoder/procwatch/internal/stats"
	"github.com/randomizedcoder/procwatch/internal/supervisor"
	"github.com/randomizedcoder/procwatch/internal/tui"
)

// Exit statuses of procwatch itself. Otherwise the child's code is passed
// through.
const (
	exitFailure = 1
	exitUsage   = 2
	exitTimeout = 124
)

func runCmd(configPath *string) *cobra.Command {
	var flags *config.Flags

	cmd := &cobra.Command{
		Use:   "run [flags] [--] command [args...]",
		Short: "Run a command and supervise it until it exits",
		Long: `Run a command and supervise it until it exits.

A single argument is run through the shell ("procwatch run 'make && make test'").
Several arguments are executed directly without a shell.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(*configPath)
			if err != nil {
				return err
			}
			if err := flags.Apply(cfg, args); err != nil {
				return err
			}
			if err := config.Validate(cfg); err != nil {
				return fmt.Errorf("configuration error:\n%w", err)
			}

			code := runSupervised(cfg, cmd.InOrStdin(), cmd.ErrOrStderr())
			if code != 0 {
				return &exitError{code: code}
			}
			return nil
		},
	}
	cmd.Flags().SetInterspersed(false)
	flags = config.BindFlags(cmd.Flags())
	return cmd
}

func loadConfig(path string) (*config.Config, error) {
	if path == "" {
		return config.DefaultConfig(), nil
	}
	return config.Load(path)
}

// run holds everything one supervised run wires together.
type run struct {
	cfg    *config.Config
	logger *slog.Logger
	stderr io.Writer

	registry  *prometheus.Registry
	collector *metrics.Collector
	server    *metrics.Server
	activity  *stats.Activity
	rate      *stats.OutputRate
	lines     *logging.OutputHandler

	proc    *supervisor.Process
	started time.Time
}

// runSupervised runs cfg to completion and returns procwatch's exit status.
func runSupervised(cfg *config.Config, stdin io.Reader, stderr io.Writer) int {
	r := &run{cfg: cfg, stderr: stderr}

	// The dashboard owns the terminal, so logs are discarded.
	if cfg.TUI {
		r.logger = logging.Discard()
	} else {
		r.logger = logging.New(logging.Options{
			Format:  cfg.LogFormat,
			Level:   cfg.LogLevel,
			Verbose: cfg.Verbose,
			Writer:  stderr,
		})
	}
	logging.SetDefault(r.logger)

	if !cfg.SkipPreflight {
		result := preflight.RunAll(preflightOptions(cfg))
		if !result.Passed {
			preflight.PrintResults(stderr, result)
			return exitFailure
		}
		for _, c := range result.Checks {
			if c.Warning {
				r.logger.Debug("preflight_warning", "check", c.Name, "message", c.Message)
			}
		}
	}

	input, closeInput, err := openInput(cfg.Input, stdin)
	if err != nil {
		r.logger.Error("input_failed", "error", err)
		return exitFailure
	}
	defer closeInput()

	r.setupObservability()

	scfg, err := supervisorConfig(cfg, os.Environ())
	if err != nil {
		r.logger.Error("configuration_failed", "error", err)
		return exitUsage
	}
	scfg.Input = input
	scfg.Logger = r.logger
	scfg.Hooks = r.hooks()

	r.proc, err = supervisor.New(scfg)
	if err != nil {
		r.logger.Error("process_create_failed", "error", err)
		return exitUsage
	}
	r.lines = logging.NewOutputHandler(r.proc.ID().String(), r.logger, cfg.Verbose)

	if err := r.startServer(); err != nil {
		r.logger.Error("metrics_server_failed", "addr", cfg.MetricsAddr, "error", err)
		return exitFailure
	}
	defer r.stopServer()

	r.logger.Info("starting",
		"version", version,
		"command", cfg.CommandLine(),
		"timeout", cfg.Timeout.String(),
		"idle_timeout", cfg.IdleTimeout.String(),
		"metrics_addr", cfg.MetricsAddr,
	)

	r.started = time.Now()
	if err := r.proc.Start(nil); err != nil {
		r.logger.Error("process_start_failed", "error", err)
		return exitFailure
	}

	if cfg.TUI {
		err = r.driveTUI()
	} else {
		err = r.drive()
	}
	r.lines.Flush()

	return r.finish(err)
}

func (r *run) setupObservability() {
	r.registry = prometheus.NewRegistry()
	r.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	r.collector = metrics.NewCollectorWithRegistry(metrics.CollectorConfig{
		Version: version,
		Command: r.cfg.CommandLine(),
	}, r.registry)

	if !r.cfg.DisableOutput {
		r.activity = stats.NewActivity()
		r.rate = stats.NewOutputRate()
	}
}

func (r *run) startServer() error {
	if r.cfg.MetricsAddr == "" {
		return nil
	}
	r.server = metrics.NewServerWithGatherer(r.cfg.MetricsAddr, r.registry, r.logger)
	if err := r.server.Start(); err != nil {
		r.server = nil
		return err
	}
	r.server.SetReady(true)
	return nil
}

func (r *run) stopServer() {
	if r.server == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := r.server.Shutdown(ctx); err != nil {
		r.logger.Warn("metrics_server_shutdown_failed", "error", err)
	}
}

// drive runs the tick loop on this goroutine. An interrupt or terminate
// signal stops the child with the configured signal and grace period.
func (r *run) drive() error {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	stopSig := stopSignal(r.cfg)
	for {
		select {
		case sig := <-sigCh:
			r.logger.Info("shutdown_signal", "signal", signals.Name(sig))
			return r.proc.Stop(r.cfg.StopGrace, stopSig)
		default:
		}

		running, err := r.proc.Poll(r.cfg.TickInterval)
		if r.rate != nil {
			r.rate.Sample()
		}
		if err != nil || !running {
			return err
		}
	}
}

// driveTUI hands the process to the dashboard, which polls it from its
// Update loop.
func (r *run) driveTUI() error {
	model := tui.New(tui.Config{
		Process:     r.proc,
		Activity:    r.activity,
		Rate:        r.rate,
		Lines:       r.lines,
		MetricsAddr: r.cfg.MetricsAddr,
		StopGrace:   r.cfg.StopGrace,
		StopSignal:  stopSignal(r.cfg),
		PollBudget:  20 * time.Millisecond,
	})
	program := tea.NewProgram(model, tea.WithAltScreen())

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-sigCh:
			tui.SendQuit(program)
		case <-done:
		}
	}()

	final, err := program.Run()
	if err != nil {
		// The dashboard failed; make sure the child does not outlive us.
		_ = r.proc.Stop(r.cfg.StopGrace, stopSignal(r.cfg))
		return err
	}
	if m, ok := final.(tui.Model); ok {
		return m.Err()
	}
	return nil
}

// finish reports the outcome and maps it to procwatch's exit status.
func (r *run) finish(runErr error) int {
	code, codeErr := r.proc.ExitCode()
	signaled, _ := r.proc.HasBeenSignaled()
	if signaled && codeErr == nil {
		if sig, err := r.proc.TermSignal(); err == nil {
			code = exitcode.FromSignal(int(sig))
		}
	}
	timedOut := r.proc.TimedOut()

	var timeoutErr *supervisor.TimeoutError
	switch {
	case errors.As(runErr, &timeoutErr):
		r.logger.Warn("process_timed_out", "kind", timeoutErr.Kind.String(), "exceeded", timeoutErr.Exceeded.String())
	case runErr != nil:
		r.logger.Error("process_failed", "error", runErr)
	}
	if codeErr != nil {
		r.logger.Warn("exit_status_unavailable", "error", codeErr, "hint", "use --compat with a shell command")
	}

	if r.cfg.MetricsTextfile != "" {
		if err := metrics.WriteTextfile(r.cfg.MetricsTextfile, r.registry); err != nil {
			r.logger.Error("metrics_textfile_failed", "path", r.cfg.MetricsTextfile, "error", err)
		}
	}

	if r.cfg.Summary && !r.cfg.TUI {
		fmt.Fprint(r.stderr, r.summary(code, signaled))
	}

	if r.cfg.Must && codeErr == nil && code != 0 && !timedOut.Expired() {
		fmt.Fprintln(r.stderr, r.failure(code).Error())
	}

	switch {
	case timedOut.Expired():
		return exitTimeout
	case codeErr != nil:
		return exitFailure
	case runErr != nil && !r.proc.IsTerminated():
		return exitFailure
	case code < 0:
		return exitFailure
	default:
		return code
	}
}

func (r *run) summary(code int, signaled bool) string {
	m := r.collector.GenerateSummary()
	cfg := stats.SummaryConfig{
		Command:     r.cfg.CommandLine(),
		Duration:    time.Since(r.started),
		ExitCode:    code,
		Signaled:    signaled,
		IdleTimeout: r.cfg.IdleTimeout,
		MetricsAddr: r.cfg.MetricsAddr,
		TotalStarts: m.TotalStarts,
		ExitCodes:   m.ExitCodes,
		UptimeP50:   m.UptimeP50,
		UptimeP95:   m.UptimeP95,
		UptimeMax:   m.UptimeMax,
	}
	if res := r.proc.TimedOut(); res.Expired() {
		cfg.TimedOut = res.Kind.String()
	}

	var act *stats.ActivitySnapshot
	if r.activity != nil {
		snap := r.activity.Snapshot()
		act = &snap
	}
	return stats.FormatExitSummary(act, cfg)
}

// failure builds the report printed for a non-zero exit with --must.
func (r *run) failure(code int) *supervisor.ProcessFailedError {
	failed := &supervisor.ProcessFailedError{
		CommandLine:    r.proc.CommandLine(),
		Dir:            r.proc.WorkingDirectory(),
		ExitCode:       code,
		ExitCodeText:   r.proc.ExitCodeText(),
		OutputDisabled: r.proc.IsOutputDisabled(),
	}
	if !failed.OutputDisabled {
		failed.Output, _ = r.proc.Output()
		failed.ErrorOutput, _ = r.proc.ErrorOutput()
	}
	return failed
}

// supervisorConfig translates the CLI configuration. Input, Logger and
// Hooks are left for the caller.
func supervisorConfig(cfg *config.Config, environ []string) (supervisor.Config, error) {
	env, isolate, err := cfg.ProcessEnv(environ)
	if err != nil {
		return supervisor.Config{}, err
	}

	scfg := supervisor.Config{
		Dir:               cfg.Dir,
		Env:               env,
		IsolateEnv:        isolate,
		Timeout:           cfg.Timeout,
		IdleTimeout:       cfg.IdleTimeout,
		TTY:               cfg.TTY,
		PTY:               cfg.PTY,
		OutputDisabled:    cfg.DisableOutput,
		CompatibilityMode: cfg.Compat,
		TickInterval:      cfg.TickInterval,
		SpawnOptions: map[string]any{
			supervisor.OptionProcessGroup: cfg.ProcessGroup,
		},
	}
	if cfg.Shell != "" {
		scfg.SpawnOptions[supervisor.OptionShell] = cfg.Shell
	}
	if line, ok := cfg.ShellCommand(); ok {
		scfg.Command = line
	} else {
		scfg.Args = cfg.Command
	}
	return scfg, nil
}

// openInput resolves input_file. "-" forwards our own stdin.
func openInput(path string, stdin io.Reader) (io.Reader, func(), error) {
	switch path {
	case "":
		return nil, func() {}, nil
	case "-":
		return stdin, func() {}, nil
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, err
	}
	return f, func() { _ = f.Close() }, nil
}

func stopSignal(cfg *config.Config) os.Signal {
	sig, err := signals.ParseSignal(cfg.StopSignal)
	if err != nil {
		return syscall.SIGTERM
	}
	return sig
}

func preflightOptions(cfg *config.Config) preflight.Options {
	opts := preflight.Options{
		NeedTTY: cfg.TTY,
		NeedPTY: cfg.PTY,
		Compat:  cfg.Compat,
	}
	if line, ok := cfg.ShellCommand(); ok {
		opts.Shell = cfg.Shell
		if opts.Shell == "" {
			opts.Shell = supervisor.DefaultShell
		}
		opts.Program = preflight.LeadingProgram(line)
	} else if len(cfg.Command) > 0 {
		opts.Program = cfg.Command[0]
	}
	return opts
}
