//go:build unix

package tty

import (
	"fmt"
	"os"
	"os/exec"
	"sync"

	"github.com/creack/pty/v2"
)

const controllingTerminal = "/dev/tty"

// IsTTYSupported reports whether the host has a usable controlling terminal.
var IsTTYSupported = sync.OnceValue(func() bool {
	f, err := os.OpenFile(controllingTerminal, os.O_RDWR, 0)
	if err != nil {
		return false
	}
	_ = f.Close()
	return true
})

// IsPTYSupported reports whether pseudo-terminals can be allocated.
var IsPTYSupported = sync.OnceValue(func() bool {
	_, err := os.Stat("/dev/ptmx")
	return err == nil
})

// OpenTTY opens the host's controlling terminal for the child to inherit.
func OpenTTY() (*os.File, error) {
	if !IsTTYSupported() {
		return nil, ErrTTYNotSupported
	}
	f, err := os.OpenFile(controllingTerminal, os.O_RDWR, 0)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", controllingTerminal, err)
	}
	return f, nil
}

// StartPTY starts cmd attached to a new pseudo-terminal and returns the
// master end. cmd.ExtraFiles and SysProcAttr set by the caller are kept.
func StartPTY(cmd *exec.Cmd, cols, rows uint16) (*os.File, error) {
	if !IsPTYSupported() {
		return nil, ErrPTYNotSupported
	}
	ptmx, err := pty.StartWithSize(cmd, &pty.Winsize{Cols: cols, Rows: rows})
	if err != nil {
		return nil, fmt.Errorf("start pty: %w", err)
	}
	return ptmx, nil
}
