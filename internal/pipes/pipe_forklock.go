//go:build darwin || aix

package pipes

import (
	"syscall"

	"golang.org/x/sys/unix"
)

// rawPipe creates a pipe with both ends close-on-exec. Without pipe2 the
// flag is set under ForkLock so no concurrent fork inherits the ends.
func rawPipe(p []int) error {
	syscall.ForkLock.RLock()
	defer syscall.ForkLock.RUnlock()
	if err := unix.Pipe(p); err != nil {
		return err
	}
	unix.CloseOnExec(p[0])
	unix.CloseOnExec(p[1])
	return nil
}
