//go:build linux || freebsd || netbsd || openbsd || dragonfly || solaris || illumos

package pipes

import "golang.org/x/sys/unix"

// rawPipe creates a pipe with both ends close-on-exec atomically.
func rawPipe(p []int) error {
	return unix.Pipe2(p, unix.O_CLOEXEC)
}
