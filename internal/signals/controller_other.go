//go:build !unix

package signals

import (
	"errors"
	"fmt"
	"os"
	"syscall"
)

// Supported reports whether POSIX signals can be delivered.
func Supported() bool {
	return false
}

func detectEnvironment() Environment {
	return Environment{}
}

// Send can only terminate the process on this platform; any other signal
// fails with ErrUnsupported.
func (c *Controller) Send(pid int, sig os.Signal, group bool) error {
	s, err := Validate(sig)
	if err != nil {
		return err
	}
	if s != syscall.SIGKILL {
		return fmt.Errorf("%w: %s", ErrUnsupported, Name(s))
	}
	return c.Kill(pid, group)
}

// Kill terminates pid.
func (c *Controller) Kill(pid int, _ bool) error {
	p, err := os.FindProcess(pid)
	if err != nil {
		return fmt.Errorf("%w: pid %d", ErrProcessGone, pid)
	}
	defer p.Release()
	if err := p.Kill(); err != nil {
		if errors.Is(err, os.ErrProcessDone) {
			return fmt.Errorf("%w: pid %d", ErrProcessGone, pid)
		}
		return fmt.Errorf("kill pid %d: %w", pid, err)
	}
	return nil
}

// NewReaper waits for p on a helper goroutine; Reap only inspects the
// result, so it never blocks.
func NewReaper(p *os.Process) Reaper {
	r := &asyncReaper{proc: p, done: make(chan struct{})}
	go func() {
		r.state, r.err = p.Wait()
		close(r.done)
	}()
	return r
}

type asyncReaper struct {
	proc  *os.Process
	done  chan struct{}
	state *os.ProcessState
	err   error
}

func (r *asyncReaper) Reap() (bool, Status, error) {
	select {
	case <-r.done:
	default:
		return false, Status{}, nil
	}
	if r.err != nil || r.state == nil {
		return true, Status{Exited: true, Code: -1, Unreliable: true}, nil
	}
	if ws, ok := r.state.Sys().(WaitStatus); ok {
		return true, Interpret(ws), nil
	}
	return true, Status{Exited: true, Code: r.state.ExitCode()}, nil
}

func (r *asyncReaper) Release() {
	_ = r.proc.Release()
}

var signalNames = map[syscall.Signal]string{
	syscall.SIGHUP:  "SIGHUP",
	syscall.SIGINT:  "SIGINT",
	syscall.SIGQUIT: "SIGQUIT",
	syscall.SIGKILL: "SIGKILL",
	syscall.SIGTERM: "SIGTERM",
}

func valid(s syscall.Signal) bool {
	_, ok := signalNames[s]
	return ok
}

func lookup(n string) (syscall.Signal, bool) {
	for s, name := range signalNames {
		if name == n {
			return s, true
		}
	}
	return 0, false
}

func name(s syscall.Signal) string {
	return signalNames[s]
}
