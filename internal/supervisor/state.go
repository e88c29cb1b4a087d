// Package supervisor runs a single external process under supervision.
//
// A Process moves through three states: Ready, Started and Terminated.
// Everything happens on the goroutine that calls Wait, Run, Poll or Stop:
// each tick polls the child's pipes for a bounded time, hands new output to
// the sink and the caller's callback, enforces the overall and idle
// timeouts, and reaps the child without blocking.
package supervisor

// Status represents where a Process is in its lifecycle.
type Status int

const (
	// StatusReady is the initial state before the process has started.
	StatusReady Status = iota

	// StatusStarted indicates the child has been spawned and not yet
	// fully collected.
	StatusStarted

	// StatusTerminated indicates the child was reaped and its streams
	// reached end-of-file.
	StatusTerminated
)

// String returns a human-readable name for the status.
func (s Status) String() string {
	switch s {
	case StatusReady:
		return "ready"
	case StatusStarted:
		return "started"
	case StatusTerminated:
		return "terminated"
	default:
		return "unknown"
	}
}

// IsActive returns true while a child process exists.
func (s Status) IsActive() bool {
	return s == StatusStarted
}

// IsTerminal returns true once the process has been collected.
func (s Status) IsTerminal() bool {
	return s == StatusTerminated
}
