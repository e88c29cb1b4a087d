// Package timeout decides whether a supervised process has outlived its
// overall or idle deadline.
//
// The package is stateless: callers own the clocks and pass in the elapsed
// time since start and since the last observed output.
package timeout

import (
	"errors"
	"fmt"
	"time"
)

// ErrNegative is returned when a timeout value is below zero.
var ErrNegative = errors.New("timeout must be non-negative")

// Kind identifies which deadline was exceeded.
type Kind int

const (
	// None means no deadline has been reached.
	None Kind = iota

	// General is the deadline measured from process start.
	General

	// Idle is the deadline measured from the last output activity.
	Idle
)

// String returns a human-readable name for the kind.
func (k Kind) String() string {
	switch k {
	case None:
		return "none"
	case General:
		return "general"
	case Idle:
		return "idle"
	default:
		return fmt.Sprintf("unknown(%d)", int(k))
	}
}

// Policy holds the two deadlines. A zero duration disables that deadline.
type Policy struct {
	Overall time.Duration
	Idle    time.Duration
}

// Normalize validates a single timeout value. Zero stays zero (disabled).
func Normalize(d time.Duration) (time.Duration, error) {
	if d < 0 {
		return 0, fmt.Errorf("%w (got %s)", ErrNegative, d)
	}
	return d, nil
}

// NewPolicy validates both values and returns a Policy.
func NewPolicy(overall, idle time.Duration) (Policy, error) {
	o, err := Normalize(overall)
	if err != nil {
		return Policy{}, fmt.Errorf("overall: %w", err)
	}
	i, err := Normalize(idle)
	if err != nil {
		return Policy{}, fmt.Errorf("idle: %w", err)
	}
	return Policy{Overall: o, Idle: i}, nil
}

// Enabled reports whether either deadline is set.
func (p Policy) Enabled() bool {
	return p.Overall > 0 || p.Idle > 0
}

// Result is the outcome of a Check.
type Result struct {
	Kind     Kind
	Exceeded time.Duration // the configured timeout that was exceeded
}

// Expired reports whether a deadline was reached.
func (r Result) Expired() bool {
	return r.Kind != None
}

// Check evaluates the policy. The general deadline always wins at its own
// deadline; the idle deadline is only considered when the general one has
// not been reached.
func Check(p Policy, elapsed, idle time.Duration) Result {
	if p.Overall > 0 && elapsed >= p.Overall {
		return Result{Kind: General, Exceeded: p.Overall}
	}
	if p.Idle > 0 && idle >= p.Idle {
		return Result{Kind: Idle, Exceeded: p.Idle}
	}
	return Result{Kind: None}
}

// Remaining returns how long until the nearest deadline, or -1 when no
// deadline is configured. Already-passed deadlines yield 0.
func (p Policy) Remaining(elapsed, idle time.Duration) time.Duration {
	remaining := time.Duration(-1)
	if p.Overall > 0 {
		remaining = max(p.Overall-elapsed, 0)
	}
	if p.Idle > 0 {
		r := max(p.Idle-idle, 0)
		if remaining < 0 || r < remaining {
			remaining = r
		}
	}
	return remaining
}
