package supervisor

import (
	"errors"
	"os"
	"os/exec"
	"syscall"
	"time"

	"github.com/randomizedcoder/procwatch/internal/exitcode"
	"github.com/randomizedcoder/procwatch/internal/output"
	"github.com/randomizedcoder/procwatch/internal/pipes"
	"github.com/randomizedcoder/procwatch/internal/signals"
	"github.com/randomizedcoder/procwatch/internal/timeout"
	"github.com/randomizedcoder/procwatch/internal/tty"
)

const (
	// killWait bounds how long Stop waits for the kernel to reap a child
	// after SIGKILL.
	killWait = 5 * time.Second

	// stopDrain bounds how long Stop keeps reading output after the child
	// exited, in case a grandchild still holds the pipes.
	stopDrain = 250 * time.Millisecond
)

// Start spawns the child and returns without waiting for it.
func (p *Process) Start(cb Callback) error {
	const op = "start"
	if p.status != StatusReady {
		return logicError(op, "process is already running or has been started before")
	}
	if cb != nil && p.sink.Disabled() {
		return logicError(op, "output has been disabled, enable it to allow the use of a callback")
	}

	cmd, err := p.command()
	if err != nil {
		return err
	}

	capture := !p.cfg.TTY && !p.cfg.PTY && !p.sink.Disabled()
	mux, err := pipes.New(pipes.Config{
		Capture: capture,
		Stdin:   !p.cfg.TTY && !p.cfg.PTY,
		Input:   p.input,
		Status:  p.ctrl.WrapsCommands(),
	})
	if err != nil {
		return runtimeError(op, "unable to create pipes", err)
	}

	cf := mux.ChildFiles()
	cmd.ExtraFiles = cf.Extra
	configureCmd(cmd, p.spawn.group, p.cfg.PTY)

	var termFile *os.File
	switch {
	case p.cfg.PTY:
		cols, rows := tty.Size()
		master, err := tty.StartPTY(cmd, cols, rows)
		if err != nil {
			_ = mux.Close()
			return runtimeError(op, "unable to launch a new process", err)
		}
		if err := mux.AttachPTY(master, p.input); err != nil {
			_ = master.Close()
			_ = cmd.Process.Kill()
			_ = mux.Close()
			return runtimeError(op, "unable to attach pseudo-terminal", err)
		}
	default:
		if p.cfg.TTY {
			termFile, err = tty.OpenTTY()
			if err != nil {
				_ = mux.Close()
				return runtimeError(op, "unable to open terminal", err)
			}
			cmd.Stdin, cmd.Stdout, cmd.Stderr = termFile, termFile, termFile
		} else {
			if cf.Stdin != nil {
				cmd.Stdin = cf.Stdin
			}
			if cf.Stdout != nil {
				cmd.Stdout = cf.Stdout
			}
			if cf.Stderr != nil {
				cmd.Stderr = cf.Stderr
			}
		}
		err = cmd.Start()
		if termFile != nil {
			_ = termFile.Close()
		}
		if err != nil {
			_ = mux.Close()
			return runtimeError(op, "unable to launch a new process", err)
		}
	}
	mux.CloseChildEnds()

	release, err := afterStart(cmd)
	if err != nil {
		p.logger.Warn("process_cleanup_unavailable", "id", p.id, "error", err)
		release = func() {}
	}

	now := time.Now()
	p.cmd = cmd
	p.mux = mux
	p.release = release
	p.reaper = signals.NewReaper(cmd.Process)
	p.pid = cmd.Process.Pid
	p.callback = cb
	p.startTime = now
	p.lastOutput = now
	p.status = StatusStarted
	p.sink.MarkStarted()

	p.logger.Info("process_started",
		"id", p.id,
		"pid", p.pid,
		"command", p.cmdLine,
		"mode", p.mode().String(),
		"compat", p.ctrl.WrapsCommands(),
	)
	if p.hooks.OnStart != nil {
		p.hooks.OnStart(p.id, p.pid)
	}
	return nil
}

func (p *Process) mode() tty.Mode {
	switch {
	case p.cfg.PTY:
		return tty.ModePTY
	case p.cfg.TTY:
		return tty.ModeTTY
	default:
		return tty.ModePipes
	}
}

func (p *Process) command() (*exec.Cmd, error) {
	var argv []string
	if len(p.cfg.Args) > 0 {
		if p.ctrl.WrapsCommands() {
			return nil, runtimeError("start", "compatibility mode needs a shell command line, not an argv", signals.ErrExitStatusUnreliable)
		}
		argv = p.cfg.Args
	} else {
		line := p.cfg.Command
		if p.ctrl.WrapsCommands() {
			line = p.ctrl.WrapCommand(line)
		}
		argv = shellArgs(p.spawn.shell, line)
	}

	cmd := exec.Command(argv[0], argv[1:]...)
	cmd.Dir = p.cfg.Dir
	cmd.Env = p.cfg.environ()
	return cmd, nil
}

// Wait drives the process until it terminates. cb, when non-nil, replaces
// the callback given to Start. Wait returns nil whatever the exit code;
// a *TimeoutError is returned if a deadline stopped the process.
func (p *Process) Wait(cb Callback) error {
	const op = "wait"
	if p.status == StatusReady {
		return logicError(op, "process must be started before calling wait")
	}
	if cb != nil {
		if p.sink.Disabled() {
			return logicError(op, "output has been disabled, enable it to allow the use of a callback")
		}
		p.callback = cb
	}
	for p.status == StatusStarted {
		if err := p.step(p.tick, true); err != nil {
			return err
		}
	}
	return nil
}

// WaitUntil drives the process until cb returns true or the process
// terminates. It reports whether cb matched. The process is left running.
func (p *Process) WaitUntil(cb func(stream output.Stream, data []byte) bool) (bool, error) {
	const op = "wait until"
	if p.status == StatusReady {
		return false, logicError(op, "process must be started before calling wait until")
	}
	if p.sink.Disabled() {
		return false, logicError(op, "output has been disabled, enable it to allow the use of a callback")
	}

	prev := p.callback
	matched := false
	p.callback = func(stream output.Stream, data []byte) {
		if prev != nil {
			prev(stream, data)
		}
		if !matched && cb(stream, data) {
			matched = true
		}
	}
	defer func() { p.callback = prev }()

	for !matched && p.status == StatusStarted {
		if err := p.step(p.tick, true); err != nil {
			return matched, err
		}
	}
	return matched, nil
}

// Run starts the process and waits for it.
func (p *Process) Run(cb Callback) error {
	if err := p.Start(cb); err != nil {
		return err
	}
	return p.Wait(nil)
}

// MustRun is Run, but a non-zero exit code is returned as a
// *ProcessFailedError.
func (p *Process) MustRun(cb Callback) error {
	if err := p.Run(cb); err != nil {
		return err
	}
	code, err := p.ExitCode()
	if err != nil {
		return err
	}
	if code == 0 {
		return nil
	}

	failed := &ProcessFailedError{
		CommandLine:    p.cmdLine,
		Dir:            p.cfg.Dir,
		ExitCode:       code,
		ExitCodeText:   p.ExitCodeText(),
		OutputDisabled: p.sink.Disabled(),
	}
	if !failed.OutputDisabled {
		failed.Output, _ = p.sink.Output()
		failed.ErrorOutput, _ = p.sink.ErrorOutput()
	}
	return failed
}

// Poll runs one tick of the wait loop, blocking at most block. It reports
// whether the process is still running.
func (p *Process) Poll(block time.Duration) (bool, error) {
	if p.status == StatusReady {
		return false, logicError("poll", "process must be started before polling")
	}
	err := p.step(block, true)
	return p.status == StatusStarted, err
}

// CheckTimeout stops the process and returns a *TimeoutError once a
// deadline has passed. It does nothing unless the process is running.
func (p *Process) CheckTimeout() error {
	if p.status != StatusStarted {
		return nil
	}
	now := time.Now()
	res := timeout.Check(p.policy, now.Sub(p.startTime), now.Sub(p.lastOutput))
	if !res.Expired() {
		return nil
	}

	p.timedOut = res
	p.logger.Warn("process_timeout",
		"id", p.id,
		"pid", p.pid,
		"kind", res.Kind.String(),
		"exceeded", res.Exceeded.String(),
	)
	if p.hooks.OnTimeout != nil {
		p.hooks.OnTimeout(p.id, res.Kind, res.Exceeded)
	}
	if err := p.Stop(0, syscall.SIGTERM); err != nil {
		p.logger.Warn("process_stop_failed", "id", p.id, "error", err)
	}
	return &TimeoutError{Kind: res.Kind, Exceeded: res.Exceeded}
}

// StopDefault is Stop(DefaultStopGrace, SIGTERM).
func (p *Process) StopDefault() error {
	return p.Stop(DefaultStopGrace, syscall.SIGTERM)
}

// Stop sends sig, waits up to grace for the child to exit, then kills it.
// The process is always terminated when Stop returns. Stopping a process
// that is not running does nothing.
func (p *Process) Stop(grace time.Duration, sig os.Signal) error {
	if p.status != StatusStarted {
		return nil
	}

	if !p.reaped {
		err := p.ctrl.Send(p.pid, sig, p.spawn.group)
		switch {
		case err == nil:
			if p.hooks.OnSignal != nil {
				p.hooks.OnSignal(p.id, sig)
			}
		case errors.Is(err, signals.ErrProcessGone):
		default:
			p.logger.Debug("process_stop_signal_failed",
				"id", p.id,
				"signal", signals.Name(sig),
				"error", err,
			)
			grace = 0
		}

		deadline := time.Now().Add(grace)
		for !p.reaped {
			left := time.Until(deadline)
			if left <= 0 {
				break
			}
			p.stepQuiet(min(p.tick, left))
		}
	}

	if !p.reaped {
		p.logger.Warn("process_killed", "id", p.id, "pid", p.pid, "grace", grace.String())
		if err := p.ctrl.Kill(p.pid, p.spawn.group); err != nil && !errors.Is(err, signals.ErrProcessGone) {
			p.logger.Warn("process_kill_failed", "id", p.id, "pid", p.pid, "error", err)
		} else if err == nil && p.hooks.OnSignal != nil {
			p.hooks.OnSignal(p.id, syscall.SIGKILL)
		}
		deadline := time.Now().Add(killWait)
		for !p.reaped && time.Now().Before(deadline) {
			p.stepQuiet(p.tick)
		}
	}

	deadline := time.Now().Add(stopDrain)
	for p.status == StatusStarted && time.Now().Before(deadline) {
		p.stepQuiet(p.tick)
	}
	if p.status == StatusStarted {
		p.finish()
	}
	return nil
}

// Restart starts a copy of this process. The receiver is left untouched.
func (p *Process) Restart(cb Callback) (*Process, error) {
	if p.status == StatusStarted {
		return nil, logicError("restart", "process is already running")
	}
	cfg := p.cfg.clone()
	cfg.Logger = p.logger
	env := p.ctrl.Environment()
	cfg.Environment = &env
	cfg.TickInterval = p.tick

	next, err := New(cfg)
	if err != nil {
		return nil, err
	}
	next.input = p.input
	if err := next.Start(cb); err != nil {
		return nil, err
	}
	return next, nil
}

// step is one tick: poll, deliver output, reap, then enforce deadlines.
func (p *Process) step(block time.Duration, enforce bool) error {
	if p.status != StatusStarted {
		return nil
	}
	if enforce {
		now := time.Now()
		if r := p.policy.Remaining(now.Sub(p.startTime), now.Sub(p.lastOutput)); r >= 0 && r < block {
			block = r
		}
	}

	chunks, err := p.mux.Poll(block)
	if err != nil {
		return runtimeError("poll", "unable to read from the process", err)
	}
	for _, c := range chunks {
		p.observe(c)
	}

	if err := p.reap(); err != nil {
		return err
	}
	if p.reaped && p.mux.Done() {
		p.finish()
		return nil
	}
	if enforce {
		return p.CheckTimeout()
	}
	return nil
}

func (p *Process) stepQuiet(block time.Duration) {
	if err := p.step(block, false); err != nil {
		p.logger.Debug("process_step_failed", "id", p.id, "error", err)
	}
}

func (p *Process) observe(c pipes.Chunk) {
	p.lastOutput = time.Now()
	p.sink.Append(c.Stream, c.Data)
	if p.callback != nil {
		p.callback(c.Stream, c.Data)
	}
	if p.hooks.OnOutput != nil {
		p.hooks.OnOutput(p.id, c.Stream, c.Data)
	}
}

func (p *Process) reap() error {
	if p.reaped {
		return nil
	}
	done, st, err := p.reaper.Reap()
	if err != nil {
		return runtimeError("reap", "unable to retrieve the process status", err)
	}
	if st.Stopped {
		p.wait.Stopped = true
		p.wait.StopSignal = st.StopSignal
	}
	if !done {
		return nil
	}

	p.reaped = true
	p.wait.Exited = st.Exited
	p.wait.Code = st.Code
	p.wait.Signaled = st.Signaled
	p.wait.TermSignal = st.TermSignal
	p.wait.Unreliable = st.Unreliable
	p.reaper.Release()
	return nil
}

func (p *Process) finish() {
	if err := p.mux.Close(); err != nil {
		p.logger.Debug("process_pipes_close_failed", "id", p.id, "error", err)
	}
	p.release()
	if err := p.mux.InputErr(); err != nil {
		p.logger.Warn("process_input_failed", "id", p.id, "error", err)
	}

	if !p.reaped {
		// Gave up waiting after SIGKILL; nothing is known.
		p.wait.Code = -1
	}
	p.exitCode, p.exitErr = p.ctrl.ExitCode(p.wait, p.mux.Reported())
	p.endTime = time.Now()
	p.status = StatusTerminated

	uptime := p.endTime.Sub(p.startTime)
	p.logger.Info("process_exited",
		"id", p.id,
		"pid", p.pid,
		"exit_code", p.exitCode,
		"category", exitcode.Category(p.exitCode, p.wait.Signaled),
		"signaled", p.wait.Signaled,
		"uptime", uptime.String(),
	)
	if p.hooks.OnExit != nil {
		p.hooks.OnExit(p.id, p.exitCode, p.wait.Signaled, uptime)
	}
}
