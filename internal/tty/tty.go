// Package tty attaches a child process to a terminal.
//
// Two modes exist besides plain pipes: TTY, where the child inherits the
// controlling terminal of the host, and PTY, where the child gets a fresh
// pseudo-terminal whose master end the host reads and writes. Support for
// both is platform dependent and exposed as capability checks.
package tty

import (
	"errors"
	"os"

	"golang.org/x/term"
)

// Sentinel errors for the tty package.
var (
	// ErrTTYNotSupported is returned when no controlling terminal is available.
	ErrTTYNotSupported = errors.New("TTY mode is not supported on this platform")

	// ErrPTYNotSupported is returned when pseudo-terminals are unavailable.
	ErrPTYNotSupported = errors.New("PTY mode is not supported on this platform")
)

// Mode selects how the child's stdio is wired.
type Mode int

const (
	// ModePipes wires stdin/stdout/stderr to pipes (default).
	ModePipes Mode = iota

	// ModeTTY attaches the child to the host's controlling terminal.
	ModeTTY

	// ModePTY attaches the child to a new pseudo-terminal.
	ModePTY
)

// String returns the mode name.
func (m Mode) String() string {
	switch m {
	case ModePipes:
		return "pipes"
	case ModeTTY:
		return "tty"
	case ModePTY:
		return "pty"
	default:
		return "unknown"
	}
}

// Default PTY geometry when the host has no terminal to copy it from.
const (
	DefaultCols = 80
	DefaultRows = 24
)

// Size returns the geometry of the host's stdout terminal, or the defaults.
func Size() (cols, rows uint16) {
	fd := int(os.Stdout.Fd())
	if !term.IsTerminal(fd) {
		return DefaultCols, DefaultRows
	}
	w, h, err := term.GetSize(fd)
	if err != nil || w <= 0 || h <= 0 {
		return DefaultCols, DefaultRows
	}
	return uint16(w), uint16(h)
}
