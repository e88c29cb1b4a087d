//go:build unix

package pipes

import (
	"os"
	"os/exec"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"

	"github.com/randomizedcoder/procwatch/internal/output"
)

func nonblocking(t *testing.T, fd int) bool {
	t.Helper()
	flags, err := unix.FcntlInt(uintptr(fd), unix.F_GETFL, 0)
	require.NoError(t, err)
	return flags&unix.O_NONBLOCK != 0
}

func cloexec(t *testing.T, fd int) bool {
	t.Helper()
	flags, err := unix.FcntlInt(uintptr(fd), unix.F_GETFD, 0)
	require.NoError(t, err)
	return flags&unix.FD_CLOEXEC != 0
}

// fileFD reads f's descriptor without Fd, which would force blocking mode.
func fileFD(t *testing.T, f *os.File) int {
	t.Helper()
	rc, err := f.SyscallConn()
	require.NoError(t, err)
	fd := -1
	require.NoError(t, rc.Control(func(raw uintptr) { fd = int(raw) }))
	return fd
}

func TestNewPipe_OnlyParentEndNonblocking(t *testing.T) {
	tests := []struct {
		name   string
		parent int
	}{
		{"parent reads", parentRead},
		{"parent writes", parentWrite},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, w, err := newPipe(tt.parent)
			require.NoError(t, err)
			defer unix.Close(r)
			defer unix.Close(w)

			assert.Equal(t, tt.parent == parentRead, nonblocking(t, r))
			assert.Equal(t, tt.parent == parentWrite, nonblocking(t, w))
			assert.True(t, cloexec(t, r))
			assert.True(t, cloexec(t, w))
		})
	}
}

func TestMultiplexer_ParentEndsNonblocking(t *testing.T) {
	m, err := New(Config{Capture: true, Stdin: true, Status: true})
	require.NoError(t, err)
	defer m.Close()

	assert.True(t, nonblocking(t, m.stdin.fd), "stdin write end")
	for _, ep := range m.reads {
		assert.True(t, nonblocking(t, ep.fd), "%s read end", ep.stream)
		assert.False(t, nonblocking(t, fileFD(t, ep.child)), "%s child end", ep.stream)
	}
	assert.False(t, nonblocking(t, fileFD(t, m.stdin.child)), "stdin child end")
}

// A child that writes exactly one full chunk and then goes quiet must not
// hold a tick past its block bound.
func TestMultiplexer_FullChunkThenSilence(t *testing.T) {
	m, err := New(Config{Capture: true})
	require.NoError(t, err)
	defer m.Close()

	cmd := exec.Command("/bin/sh", "-c", "head -c 8192 /dev/zero; sleep 3")
	cf := m.ChildFiles()
	cmd.Stdout, cmd.Stderr = cf.Stdout, cf.Stderr
	require.NoError(t, cmd.Start())
	m.CloseChildEnds()
	defer func() {
		_ = cmd.Process.Kill()
		_ = cmd.Wait()
	}()

	var got int
	deadline := time.Now().Add(2 * time.Second)
	for got < ChunkSize && time.Now().Before(deadline) {
		start := time.Now()
		chunks, err := m.Poll(20 * time.Millisecond)
		require.NoError(t, err)
		assert.Less(t, time.Since(start), 500*time.Millisecond, "tick exceeded its bound")
		for _, c := range chunks {
			if c.Stream == output.Stdout {
				got += len(c.Data)
			}
		}
	}
	require.Equal(t, ChunkSize, got)

	start := time.Now()
	chunks, err := m.Poll(20 * time.Millisecond)
	require.NoError(t, err)
	assert.Empty(t, chunks)
	assert.Less(t, time.Since(start), 500*time.Millisecond)
}
