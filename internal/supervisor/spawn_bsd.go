//go:build unix && !linux

package supervisor

import "syscall"

// There is no kernel-level parent death signal outside Linux; orphaned
// children are left to the caller's Stop.
func setParentDeathSignal(*syscall.SysProcAttr) {}
