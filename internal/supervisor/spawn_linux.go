//go:build linux

package supervisor

import "syscall"

// setParentDeathSignal kills the child if the supervising process dies.
func setParentDeathSignal(attr *syscall.SysProcAttr) {
	attr.Pdeathsig = syscall.SIGKILL
}
