package supervisor

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/randomizedcoder/procwatch/internal/timeout"
)

// Sentinel errors. Every error returned by this package matches exactly one
// of them with errors.Is.
var (
	ErrInvalidArgument = errors.New("invalid argument")
	ErrLogic           = errors.New("logic error")
	ErrRuntime         = errors.New("runtime error")
	ErrTimedOut        = errors.New("process timed out")
	ErrProcessFailed   = errors.New("process failed")
)

// Kind classifies an Error.
type Kind int

const (
	// KindInvalidArgument means a value passed in was rejected.
	KindInvalidArgument Kind = iota + 1

	// KindLogic means the operation is not allowed in the current state.
	KindLogic

	// KindRuntime means the OS refused or the environment cannot comply.
	KindRuntime
)

// String returns the kind name.
func (k Kind) String() string {
	switch k {
	case KindInvalidArgument:
		return "invalid argument"
	case KindLogic:
		return "logic"
	case KindRuntime:
		return "runtime"
	default:
		return "unknown"
	}
}

func (k Kind) sentinel() error {
	switch k {
	case KindInvalidArgument:
		return ErrInvalidArgument
	case KindLogic:
		return ErrLogic
	default:
		return ErrRuntime
	}
}

// Error is returned for misuse and for OS failures.
type Error struct {
	Kind Kind
	Op   string
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(e.Op)
	b.WriteString(": ")
	b.WriteString(e.Msg)
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

// Unwrap exposes both the kind sentinel and the underlying cause.
func (e *Error) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind.sentinel()}
	}
	return []error{e.Kind.sentinel(), e.Err}
}

func invalidArgument(op, msg string, err error) error {
	return &Error{Kind: KindInvalidArgument, Op: op, Msg: msg, Err: err}
}

func logicError(op, msg string) error {
	return &Error{Kind: KindLogic, Op: op, Msg: msg}
}

func runtimeError(op, msg string, err error) error {
	return &Error{Kind: KindRuntime, Op: op, Msg: msg, Err: err}
}

// TimeoutError is returned once a deadline has been exceeded. The process
// has already been stopped when it is returned.
type TimeoutError struct {
	Kind     timeout.Kind
	Exceeded time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("the process exceeded the %s timeout of %s", e.Kind, e.Exceeded)
}

// Is matches ErrTimedOut.
func (e *TimeoutError) Is(target error) bool {
	return target == ErrTimedOut
}

// IsGeneralTimeout reports whether the overall deadline fired.
func (e *TimeoutError) IsGeneralTimeout() bool {
	return e.Kind == timeout.General
}

// IsIdleTimeout reports whether the idle deadline fired.
func (e *TimeoutError) IsIdleTimeout() bool {
	return e.Kind == timeout.Idle
}

// ProcessFailedError is returned by MustRun when the child exits non-zero.
type ProcessFailedError struct {
	CommandLine  string
	Dir          string
	ExitCode     int
	ExitCodeText string
	Output       string
	ErrorOutput  string

	// OutputDisabled is set when no output was captured.
	OutputDisabled bool
}

func (e *ProcessFailedError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "the command %q failed.\n\nExit Code: %d(%s)\n\nWorking directory: %s",
		e.CommandLine, e.ExitCode, e.ExitCodeText, e.Dir)
	if !e.OutputDisabled {
		fmt.Fprintf(&b, "\n\nOutput:\n================\n%s\n\nError Output:\n================\n%s",
			e.Output, e.ErrorOutput)
	}
	return b.String()
}

// Is matches ErrProcessFailed.
func (e *ProcessFailedError) Is(target error) bool {
	return target == ErrProcessFailed
}
