//go:build unix

package supervisor

import (
	"os/exec"
	"syscall"
)

// DefaultShell runs single-string commands unless the shell option is set.
const DefaultShell = "/bin/sh"

func shellArgs(shell, line string) []string {
	return []string{shell, "-c", line}
}

// configureCmd puts the child in its own process group so signals reach
// everything it spawned. PTY children get a new session instead, which
// also makes them group leaders.
func configureCmd(cmd *exec.Cmd, group, pty bool) {
	if cmd.SysProcAttr == nil {
		cmd.SysProcAttr = &syscall.SysProcAttr{}
	}
	if group && !pty {
		cmd.SysProcAttr.Setpgid = true
	}
	setParentDeathSignal(cmd.SysProcAttr)
}

func afterStart(*exec.Cmd) (func(), error) {
	return func() {}, nil
}
