//go:build !unix && !windows

package supervisor

import "os/exec"

// DefaultShell runs single-string commands unless the shell option is set.
const DefaultShell = "sh"

func shellArgs(shell, line string) []string {
	return []string{shell, "-c", line}
}

func configureCmd(*exec.Cmd, bool, bool) {}

func afterStart(*exec.Cmd) (func(), error) {
	return func() {}, nil
}
