//go:build unix

package signals

import (
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sys/unix"
)

// Supported reports whether POSIX signals can be delivered.
func Supported() bool {
	return true
}

// detectEnvironment reports an unreliable exit status when SIGCHLD is
// ignored: the kernel then reaps children itself and wait4 fails with
// ECHILD.
func detectEnvironment() Environment {
	return Environment{ExitStatusUnreliable: signal.Ignored(syscall.SIGCHLD)}
}

// Send delivers sig to pid, or to its process group when group is set.
func (c *Controller) Send(pid int, sig os.Signal, group bool) error {
	s, err := Validate(sig)
	if err != nil {
		return err
	}
	if pid <= 0 {
		return fmt.Errorf("%w: pid %d", ErrProcessGone, pid)
	}

	target := pid
	if group {
		target = -pid
	}
	err = unix.Kill(target, s)
	if group && errors.Is(err, unix.ESRCH) {
		// Group leader may have changed group; fall back to the pid.
		err = unix.Kill(pid, s)
	}
	switch {
	case err == nil:
		return nil
	case errors.Is(err, unix.ESRCH):
		return fmt.Errorf("%w: pid %d", ErrProcessGone, pid)
	default:
		return fmt.Errorf("send %s to pid %d: %w", Name(s), pid, err)
	}
}

// Kill delivers the unconditional kill signal.
func (c *Controller) Kill(pid int, group bool) error {
	return c.Send(pid, syscall.SIGKILL, group)
}

// NewReaper returns a Reaper that polls p with wait4(WNOHANG).
func NewReaper(p *os.Process) Reaper {
	return &waitReaper{proc: p, pid: p.Pid}
}

type waitReaper struct {
	proc *os.Process
	pid  int
}

func (r *waitReaper) Reap() (bool, Status, error) {
	var ws unix.WaitStatus
	wpid, err := unix.Wait4(r.pid, &ws, unix.WNOHANG|unix.WUNTRACED, nil)
	switch {
	case errors.Is(err, unix.EINTR):
		return false, Status{}, nil
	case errors.Is(err, unix.ECHILD):
		// Already reaped by someone else; nothing is known about it.
		return true, Status{Exited: true, Code: -1, Unreliable: true}, nil
	case err != nil:
		return false, Status{}, fmt.Errorf("wait4 pid %d: %w", r.pid, err)
	case wpid == 0:
		return false, Status{}, nil
	}

	st := Interpret(ws)
	if st.Stopped {
		return false, st, nil
	}
	return true, st, nil
}

func (r *waitReaper) Release() {
	_ = r.proc.Release()
}

func valid(s syscall.Signal) bool {
	return unix.SignalName(s) != ""
}

func lookup(name string) (syscall.Signal, bool) {
	s := unix.SignalNum(name)
	return s, s != 0
}

func name(s syscall.Signal) string {
	return unix.SignalName(s)
}
