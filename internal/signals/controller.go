// Package signals delivers signals to child processes and interprets their
// wait status.
//
// Some environments cannot report a child's exit status: when the host
// process ignores SIGCHLD the kernel reaps children on its own and wait
// fails with ECHILD. The Controller exposes an explicit compatibility mode
// for that case, in which the shell command is wrapped so it reports its
// own exit code on a dedicated file descriptor.
package signals

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"
	"syscall"

	"github.com/randomizedcoder/procwatch/internal/exitcode"
)

// Sentinel errors for the signals package.
var (
	// ErrUnsupported is returned when the platform cannot deliver the signal.
	ErrUnsupported = errors.New("signals are not supported on this platform")

	// ErrInvalidSignal is returned for values that are not signal identifiers.
	ErrInvalidSignal = errors.New("invalid signal")

	// ErrProcessGone is returned when the target no longer exists.
	ErrProcessGone = errors.New("process does not exist")

	// ErrExitStatusUnreliable is returned when the exit status cannot be
	// trusted and compatibility mode has not been enabled.
	ErrExitStatusUnreliable = errors.New("exit status is unreliable in this environment (SIGCHLD is ignored); enable compatibility mode to retrieve it")
)

// StatusFD is the descriptor number the wrapped command reports its exit
// code on. ExtraFiles[0] becomes fd 3 in the child.
const StatusFD = 3

// WaitStatus is the subset of a platform wait status the controller reads.
// syscall.WaitStatus and unix.WaitStatus both satisfy it.
type WaitStatus interface {
	Exited() bool
	ExitStatus() int
	Signaled() bool
	Signal() syscall.Signal
	Stopped() bool
	StopSignal() syscall.Signal
}

// Status is an interpreted wait status.
type Status struct {
	Exited     bool
	Code       int
	Signaled   bool
	TermSignal syscall.Signal
	Stopped    bool
	StopSignal syscall.Signal

	// Unreliable is set when the child was reaped behind our back and the
	// OS could not report anything about it.
	Unreliable bool
}

// Interpret converts a platform wait status.
func Interpret(ws WaitStatus) Status {
	st := Status{Code: -1}
	switch {
	case ws.Exited():
		st.Exited = true
		st.Code = ws.ExitStatus()
	case ws.Signaled():
		st.Exited = true
		st.Signaled = true
		st.TermSignal = ws.Signal()
		st.Code = exitcode.FromSignal(int(st.TermSignal))
	case ws.Stopped():
		st.Stopped = true
		st.StopSignal = ws.StopSignal()
	}
	return st
}

// Environment describes process-wide properties that affect how child
// status can be observed. It is resolved once and injected into each
// Controller.
type Environment struct {
	ExitStatusUnreliable bool
}

// DetectEnvironment inspects the host once and caches the answer.
var DetectEnvironment = sync.OnceValue(detectEnvironment)

// Controller sends signals and turns wait results into exit codes.
type Controller struct {
	env    Environment
	compat bool
}

// NewController creates a controller bound to env.
func NewController(env Environment) *Controller {
	return &Controller{env: env}
}

// Environment returns the environment the controller was created with.
func (c *Controller) Environment() Environment {
	return c.env
}

// SetCompatibilityMode opts in to (or out of) the wrapped-command exit
// status strategy.
func (c *Controller) SetCompatibilityMode(on bool) {
	c.compat = on
}

// CompatibilityMode reports whether compatibility mode is enabled.
func (c *Controller) CompatibilityMode() bool {
	return c.compat
}

// WrapsCommands reports whether shell command lines must be wrapped so the
// child reports its own exit code.
func (c *Controller) WrapsCommands() bool {
	return c.compat && c.env.ExitStatusUnreliable
}

// WrapCommand wraps a shell command line so the exit code is written to
// StatusFD. The wrapped command itself does not inherit StatusFD.
func (c *Controller) WrapCommand(line string) string {
	return fmt.Sprintf("(%s) %d>/dev/null; code=$?; echo $code >&%d; exit $code", line, StatusFD, StatusFD)
}

// ParseReportedStatus parses what a wrapped command wrote to StatusFD.
func ParseReportedStatus(b []byte) (int, bool) {
	s := strings.TrimSpace(string(b))
	if s == "" {
		return 0, false
	}
	if i := strings.LastIndexByte(s, '\n'); i >= 0 {
		s = s[i+1:]
	}
	code, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return 0, false
	}
	return code, true
}

// ExitCode resolves the exit code for a reaped child. reported is whatever
// the wrapped command wrote to StatusFD, if anything. -1 means unknown.
func (c *Controller) ExitCode(st Status, reported []byte) (int, error) {
	if c.env.ExitStatusUnreliable || st.Unreliable {
		if !c.compat {
			return -1, ErrExitStatusUnreliable
		}
		if code, ok := ParseReportedStatus(reported); ok {
			return code, nil
		}
		return -1, nil
	}
	if !st.Exited {
		return -1, nil
	}
	return st.Code, nil
}

// Reaper checks a started child for termination without blocking.
type Reaper interface {
	// Reap returns done=true once the child has terminated. A stop
	// notification is reported with done=false and st.Stopped set.
	Reap() (done bool, st Status, err error)

	// Release frees OS resources tied to the child.
	Release()
}

// Validate checks that sig can be delivered on this platform.
func Validate(sig os.Signal) (syscall.Signal, error) {
	s, ok := sig.(syscall.Signal)
	if !ok {
		return 0, fmt.Errorf("%w: %v", ErrInvalidSignal, sig)
	}
	if !valid(s) {
		return 0, fmt.Errorf("%w: %d", ErrInvalidSignal, int(s))
	}
	return s, nil
}

// ParseSignal accepts "TERM", "SIGTERM" or "15".
func ParseSignal(s string) (syscall.Signal, error) {
	s = strings.TrimSpace(s)
	if n, err := strconv.Atoi(s); err == nil {
		return Validate(syscall.Signal(n))
	}
	name := strings.ToUpper(s)
	if !strings.HasPrefix(name, "SIG") {
		name = "SIG" + name
	}
	sig, ok := lookup(name)
	if !ok {
		return 0, fmt.Errorf("%w: %q", ErrInvalidSignal, s)
	}
	return sig, nil
}

// Name returns the SIG-prefixed name of sig, or its number.
func Name(sig os.Signal) string {
	s, ok := sig.(syscall.Signal)
	if !ok {
		return sig.String()
	}
	if n := name(s); n != "" {
		return n
	}
	return strconv.Itoa(int(s))
}
