//go:build !unix

package tty

import (
	"os"
	"os/exec"
)

// IsTTYSupported always reports false on this platform.
func IsTTYSupported() bool { return false }

// IsPTYSupported always reports false on this platform.
func IsPTYSupported() bool { return false }

// OpenTTY is not supported on this platform.
func OpenTTY() (*os.File, error) {
	return nil, ErrTTYNotSupported
}

// StartPTY is not supported on this platform.
func StartPTY(*exec.Cmd, uint16, uint16) (*os.File, error) {
	return nil, ErrPTYNotSupported
}
