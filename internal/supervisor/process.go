package supervisor

import (
	"errors"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/randomizedcoder/procwatch/internal/exitcode"
	"github.com/randomizedcoder/procwatch/internal/output"
	"github.com/randomizedcoder/procwatch/internal/pipes"
	"github.com/randomizedcoder/procwatch/internal/signals"
	"github.com/randomizedcoder/procwatch/internal/timeout"
	"github.com/randomizedcoder/procwatch/internal/tty"
)

// Process supervises one run of an external command.
//
// A Process is driven by a single goroutine. The output accessors may be
// called from other goroutines; everything else may not.
type Process struct {
	cfg     Config
	id      uuid.UUID
	logger  *slog.Logger
	hooks   Hooks
	ctrl    *signals.Controller
	policy  timeout.Policy
	sink    *output.Sink
	input   any
	spawn   spawnOptions
	tick    time.Duration
	cmdLine string

	status   Status
	cmd      *exec.Cmd
	mux      *pipes.Multiplexer
	reaper   signals.Reaper
	release  func()
	pid      int
	callback Callback

	startTime  time.Time
	lastOutput time.Time
	endTime    time.Time

	reaped   bool
	wait     signals.Status
	exitCode int
	exitErr  error
	timedOut timeout.Result
}

// New validates cfg and returns a Ready process.
func New(cfg Config) (*Process, error) {
	const op = "new"
	cfg = cfg.clone()

	switch {
	case cfg.Command == "" && len(cfg.Args) == 0:
		return nil, invalidArgument(op, "a command line or argv is required", nil)
	case cfg.Command != "" && len(cfg.Args) > 0:
		return nil, invalidArgument(op, "command line and argv are mutually exclusive", nil)
	case cfg.TTY && cfg.PTY:
		return nil, invalidArgument(op, "TTY and PTY modes are mutually exclusive", nil)
	}

	policy, err := timeout.NewPolicy(cfg.Timeout, cfg.IdleTimeout)
	if err != nil {
		return nil, invalidArgument(op, "invalid timeout", err)
	}
	if cfg.OutputDisabled && policy.Idle > 0 {
		return nil, logicError(op, "idle timeout can not be set while the output is disabled")
	}

	input, err := pipes.NormalizeInput(cfg.Input)
	if err != nil {
		return nil, invalidArgument(op, "invalid input", err)
	}

	spawn, err := parseSpawnOptions(cfg.SpawnOptions)
	if err != nil {
		return nil, invalidArgument(op, "invalid spawn options", err)
	}

	if cfg.TTY && !tty.IsTTYSupported() {
		return nil, runtimeError(op, "TTY mode requested", tty.ErrTTYNotSupported)
	}
	if cfg.PTY && !tty.IsPTYSupported() {
		return nil, runtimeError(op, "PTY mode requested", tty.ErrPTYNotSupported)
	}

	env := signals.DetectEnvironment()
	if cfg.Environment != nil {
		env = *cfg.Environment
	}
	ctrl := signals.NewController(env)
	ctrl.SetCompatibilityMode(cfg.CompatibilityMode)

	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	tick := cfg.TickInterval
	if tick <= 0 {
		tick = DefaultTickInterval
	}

	sink := output.NewSink()
	if cfg.OutputDisabled {
		sink.Disable()
	}

	cmdLine := cfg.Command
	if cmdLine == "" {
		cmdLine = strings.Join(cfg.Args, " ")
	}

	return &Process{
		cfg:      cfg,
		id:       uuid.New(),
		logger:   logger,
		hooks:    cfg.Hooks,
		ctrl:     ctrl,
		policy:   policy,
		sink:     sink,
		input:    input,
		spawn:    spawn,
		tick:     tick,
		cmdLine:  cmdLine,
		exitCode: -1,
	}, nil
}

// ID identifies this run. A restarted process gets a new one.
func (p *Process) ID() uuid.UUID { return p.id }

// CommandLine returns the command as configured.
func (p *Process) CommandLine() string { return p.cmdLine }

// WorkingDirectory returns the configured working directory.
func (p *Process) WorkingDirectory() string { return p.cfg.Dir }

// Status returns the lifecycle state.
func (p *Process) Status() Status { return p.status }

// IsStarted reports whether Start succeeded at some point.
func (p *Process) IsStarted() bool { return p.status != StatusReady }

// IsTerminated reports whether the process has been fully collected.
func (p *Process) IsTerminated() bool { return p.status == StatusTerminated }

// IsRunning refreshes the process state without blocking and reports
// whether the child is still being supervised.
func (p *Process) IsRunning() bool {
	if p.status != StatusStarted {
		return false
	}
	if err := p.step(0, false); err != nil {
		p.logger.Debug("process_refresh_failed", "id", p.id, "error", err)
	}
	return p.status == StatusStarted
}

// Pid returns the child's pid while it is running, otherwise 0.
func (p *Process) Pid() int {
	if p.status != StatusStarted {
		return 0
	}
	return p.pid
}

// StartTime returns when the child was spawned.
func (p *Process) StartTime() time.Time { return p.startTime }

// LastOutputTime returns when output was last observed (or the start time).
func (p *Process) LastOutputTime() time.Time { return p.lastOutput }

// Uptime returns how long the child ran, or has been running so far.
func (p *Process) Uptime() time.Duration {
	switch p.status {
	case StatusStarted:
		return time.Since(p.startTime)
	case StatusTerminated:
		return p.endTime.Sub(p.startTime)
	default:
		return 0
	}
}

// Timeout returns the overall deadline; zero means disabled.
func (p *Process) Timeout() time.Duration { return p.policy.Overall }

// IdleTimeout returns the idle deadline; zero means disabled.
func (p *Process) IdleTimeout() time.Duration { return p.policy.Idle }

// TimedOut returns which deadline stopped the process, if any.
func (p *Process) TimedOut() timeout.Result { return p.timedOut }

// ExitCode returns the child's exit code once terminated, or -1 when it is
// not available. In an environment where exit status is unreliable it
// fails unless compatibility mode was enabled.
func (p *Process) ExitCode() (int, error) {
	if p.status != StatusTerminated {
		return -1, nil
	}
	if p.exitErr != nil {
		return -1, runtimeError("exit code", "exit status unavailable", p.exitErr)
	}
	return p.exitCode, nil
}

// ExitCodeText describes the exit code. It is empty when no code is
// available or the code is not a well-known one.
func (p *Process) ExitCodeText() string {
	code, err := p.ExitCode()
	if err != nil || code < 0 {
		return ""
	}
	text, _ := exitcode.Text(code)
	return text
}

// IsSuccessful reports whether the process terminated with exit code 0.
func (p *Process) IsSuccessful() bool {
	code, err := p.ExitCode()
	return err == nil && p.status == StatusTerminated && code == 0
}

// HasBeenSignaled reports whether a signal terminated the child.
func (p *Process) HasBeenSignaled() (bool, error) {
	if err := p.requireTerminated("has been signaled"); err != nil {
		return false, err
	}
	return p.wait.Signaled, nil
}

// TermSignal returns the signal that terminated the child.
func (p *Process) TermSignal() (syscall.Signal, error) {
	if err := p.requireTerminated("term signal"); err != nil {
		return 0, err
	}
	return p.wait.TermSignal, nil
}

// HasBeenStopped reports whether the child was stopped by a signal while
// supervised.
func (p *Process) HasBeenStopped() (bool, error) {
	if err := p.requireTerminated("has been stopped"); err != nil {
		return false, err
	}
	return p.wait.Stopped, nil
}

// StopSignal returns the signal that last stopped the child.
func (p *Process) StopSignal() (syscall.Signal, error) {
	if err := p.requireTerminated("stop signal"); err != nil {
		return 0, err
	}
	return p.wait.StopSignal, nil
}

func (p *Process) requireTerminated(op string) error {
	if p.status != StatusTerminated {
		return logicError(op, "process must be terminated")
	}
	if p.wait.Unreliable {
		return runtimeError(op, "signal information unavailable", signals.ErrExitStatusUnreliable)
	}
	return nil
}

// Output returns everything the child wrote to stdout.
func (p *Process) Output() (string, error) {
	return p.readOutput("output", p.sink.Output)
}

// ErrorOutput returns everything the child wrote to stderr.
func (p *Process) ErrorOutput() (string, error) {
	return p.readOutput("error output", p.sink.ErrorOutput)
}

// IncrementalOutput returns stdout written since the previous call.
func (p *Process) IncrementalOutput() (string, error) {
	return p.readOutput("incremental output", p.sink.IncrementalOutput)
}

// IncrementalErrorOutput returns stderr written since the previous call.
func (p *Process) IncrementalErrorOutput() (string, error) {
	return p.readOutput("incremental error output", p.sink.IncrementalErrorOutput)
}

func (p *Process) readOutput(op string, read func() (string, error)) (string, error) {
	s, err := read()
	switch {
	case errors.Is(err, output.ErrDisabled):
		return "", logicError(op, "output has been disabled")
	case errors.Is(err, output.ErrNotStarted):
		return "", logicError(op, "process must be started before reading output")
	}
	return s, err
}

// ClearOutput empties the stdout buffer and resets its cursor.
func (p *Process) ClearOutput() { p.sink.Clear(output.Stdout) }

// ClearErrorOutput empties the stderr buffer and resets its cursor.
func (p *Process) ClearErrorOutput() { p.sink.Clear(output.Stderr) }

// DisableOutput stops capturing output. Not allowed while running or with
// an idle timeout set.
func (p *Process) DisableOutput() error {
	const op = "disable output"
	if p.status == StatusStarted {
		return logicError(op, "disabling output while the process is running is not possible")
	}
	if p.policy.Idle > 0 {
		return logicError(op, "output can not be disabled while an idle timeout is set")
	}
	p.sink.Disable()
	p.cfg.OutputDisabled = true
	return nil
}

// EnableOutput resumes capturing output. Not allowed while running.
func (p *Process) EnableOutput() error {
	if p.status == StatusStarted {
		return logicError("enable output", "enabling output while the process is running is not possible")
	}
	p.sink.Enable()
	p.cfg.OutputDisabled = false
	return nil
}

// IsOutputDisabled reports whether output capture is disabled.
func (p *Process) IsOutputDisabled() bool { return p.sink.Disabled() }

// SetTimeout sets the overall deadline. Zero disables it.
func (p *Process) SetTimeout(d time.Duration) error {
	const op = "set timeout"
	if err := p.requireNotRunning(op); err != nil {
		return err
	}
	d, err := timeout.Normalize(d)
	if err != nil {
		return invalidArgument(op, "invalid timeout", err)
	}
	p.policy.Overall = d
	p.cfg.Timeout = d
	return nil
}

// SetIdleTimeout sets the idle deadline. Zero disables it.
func (p *Process) SetIdleTimeout(d time.Duration) error {
	const op = "set idle timeout"
	if err := p.requireNotRunning(op); err != nil {
		return err
	}
	d, err := timeout.Normalize(d)
	if err != nil {
		return invalidArgument(op, "invalid idle timeout", err)
	}
	if d > 0 && p.sink.Disabled() {
		return logicError(op, "idle timeout can not be set while the output is disabled")
	}
	p.policy.Idle = d
	p.cfg.IdleTimeout = d
	return nil
}

// SetInput replaces what is fed to stdin.
func (p *Process) SetInput(v any) error {
	const op = "set input"
	if p.status == StatusStarted {
		return logicError(op, "input can not be set while the process is running")
	}
	in, err := pipes.NormalizeInput(v)
	if err != nil {
		return invalidArgument(op, "invalid input", err)
	}
	p.input = in
	p.cfg.Input = v
	return nil
}

// Input returns the normalized stdin source.
func (p *Process) Input() any { return p.input }

// SetTTY enables or disables TTY mode.
func (p *Process) SetTTY(on bool) error {
	const op = "set tty"
	if err := p.requireNotRunning(op); err != nil {
		return err
	}
	if on && !tty.IsTTYSupported() {
		return runtimeError(op, "TTY mode requested", tty.ErrTTYNotSupported)
	}
	p.cfg.TTY = on
	if on {
		p.cfg.PTY = false
	}
	return nil
}

// SetPTY enables or disables PTY mode.
func (p *Process) SetPTY(on bool) error {
	const op = "set pty"
	if err := p.requireNotRunning(op); err != nil {
		return err
	}
	if on && !tty.IsPTYSupported() {
		return runtimeError(op, "PTY mode requested", tty.ErrPTYNotSupported)
	}
	p.cfg.PTY = on
	if on {
		p.cfg.TTY = false
	}
	return nil
}

// IsTTY reports whether TTY mode is enabled.
func (p *Process) IsTTY() bool { return p.cfg.TTY }

// IsPTY reports whether PTY mode is enabled.
func (p *Process) IsPTY() bool { return p.cfg.PTY }

// SetWorkingDirectory changes the child's working directory.
func (p *Process) SetWorkingDirectory(dir string) error {
	if err := p.requireNotRunning("set working directory"); err != nil {
		return err
	}
	p.cfg.Dir = dir
	return nil
}

// SetEnv replaces the environment overlay.
func (p *Process) SetEnv(env map[string]string) error {
	if err := p.requireNotRunning("set env"); err != nil {
		return err
	}
	p.cfg.Env = env
	return nil
}

// SetCompatibilityMode opts in to recovering exit codes in environments
// where the OS cannot report them.
func (p *Process) SetCompatibilityMode(on bool) error {
	if err := p.requireNotRunning("set compatibility mode"); err != nil {
		return err
	}
	p.ctrl.SetCompatibilityMode(on)
	p.cfg.CompatibilityMode = on
	return nil
}

func (p *Process) requireNotRunning(op string) error {
	if p.status == StatusStarted {
		return logicError(op, "not allowed while the process is running")
	}
	return nil
}

// Signal sends sig to the running child.
func (p *Process) Signal(sig os.Signal) error {
	const op = "signal"
	if p.status != StatusStarted || p.reaped {
		return logicError(op, "cannot signal a non-running process")
	}
	if err := p.ctrl.Send(p.pid, sig, p.spawn.group); err != nil {
		return runtimeError(op, "error while sending signal "+signals.Name(sig), err)
	}
	p.logger.Info("process_signal",
		"id", p.id,
		"pid", p.pid,
		"signal", signals.Name(sig),
	)
	if p.hooks.OnSignal != nil {
		p.hooks.OnSignal(p.id, sig)
	}
	return nil
}

// newTerminated builds a process that already finished with code. Tests use
// it to exercise accessors without spawning anything.
func newTerminated(cfg Config, code int, st signals.Status, exitErr error) (*Process, error) {
	p, err := New(cfg)
	if err != nil {
		return nil, err
	}
	p.status = StatusTerminated
	p.reaped = true
	p.wait = st
	p.exitCode = code
	p.exitErr = exitErr
	p.sink.MarkStarted()
	p.startTime = time.Now()
	p.lastOutput = p.startTime
	p.endTime = p.startTime
	return p, nil
}
