//go:build unix

package pipes

import (
	"errors"
	"fmt"
	"io"
	"os"
	"syscall"
	"time"

	"golang.org/x/sys/unix"

	"github.com/randomizedcoder/procwatch/internal/output"
)

// statusStream tags the compatibility-mode status pipe internally. Its
// bytes are never reported as chunks.
const statusStream output.Stream = -1

// endpoint is the parent's end of one pipe, held as a raw non-blocking
// descriptor so a tick never parks in the runtime poller.
type endpoint struct {
	fd     int
	child  *os.File
	stream output.Stream
	pty    bool
}

func (e *endpoint) open() bool {
	return e != nil && e.fd >= 0
}

func (e *endpoint) close() error {
	if e == nil || e.fd < 0 {
		return nil
	}
	err := unix.Close(e.fd)
	e.fd = -1
	return err
}

// Multiplexer drives the child's standard streams with poll(2).
// It is not safe for concurrent use; one goroutine owns it.
type Multiplexer struct {
	stdin *endpoint
	reads []*endpoint

	pending   []byte
	reader    io.Reader
	readerFD  int
	readerEOF bool
	inputErr  error

	reported []byte
	stats    Stats
	buf      []byte
	inbuf    []byte
}

// New creates the pipes selected by cfg.
func New(cfg Config) (*Multiplexer, error) {
	m := &Multiplexer{
		readerFD: -1,
		stats:    newStats(),
		buf:      make([]byte, ChunkSize),
		inbuf:    make([]byte, ChunkSize),
	}

	if cfg.Stdin {
		r, w, err := newPipe(parentWrite)
		if err != nil {
			m.Close()
			return nil, fmt.Errorf("stdin pipe: %w", err)
		}
		m.stdin = &endpoint{fd: w, child: os.NewFile(uintptr(r), "|0")}
		m.setInput(cfg.Input)
	}

	if cfg.Capture {
		for _, stream := range []output.Stream{output.Stdout, output.Stderr} {
			ep, err := newReadEndpoint(stream)
			if err != nil {
				m.Close()
				return nil, fmt.Errorf("%s pipe: %w", stream, err)
			}
			m.reads = append(m.reads, ep)
		}
	}

	if cfg.Status {
		ep, err := newReadEndpoint(statusStream)
		if err != nil {
			m.Close()
			return nil, fmt.Errorf("status pipe: %w", err)
		}
		m.reads = append(m.reads, ep)
	}

	return m, nil
}

// AttachPTY adopts the master end of a pseudo-terminal as the combined
// output stream and as the input sink.
func (m *Multiplexer) AttachPTY(master *os.File, input any) error {
	rc, err := master.SyscallConn()
	if err != nil {
		return fmt.Errorf("pty syscall conn: %w", err)
	}
	fd := -1
	var dupErr error
	if err := rc.Control(func(raw uintptr) {
		fd, dupErr = unix.Dup(int(raw))
	}); err != nil {
		return fmt.Errorf("pty control: %w", err)
	}
	if dupErr != nil {
		return fmt.Errorf("dup pty master: %w", dupErr)
	}
	_ = master.Close()

	unix.CloseOnExec(fd)
	if err := unix.SetNonblock(fd, true); err != nil {
		_ = unix.Close(fd)
		return fmt.Errorf("pty nonblock: %w", err)
	}

	m.reads = append([]*endpoint{{fd: fd, stream: output.Stdout, pty: true}}, m.reads...)
	m.setInput(input)
	return nil
}

// ChildFiles returns the endpoints the child should inherit.
func (m *Multiplexer) ChildFiles() ChildFiles {
	var cf ChildFiles
	if m.stdin != nil {
		cf.Stdin = m.stdin.child
	}
	for _, ep := range m.reads {
		switch ep.stream {
		case output.Stdout:
			cf.Stdout = ep.child
		case output.Stderr:
			cf.Stderr = ep.child
		case statusStream:
			cf.Extra = append(cf.Extra, ep.child)
		}
	}
	return cf
}

// CloseChildEnds closes the parent's copies of the child's endpoints.
// Must be called once the child has been started so EOF is observable.
func (m *Multiplexer) CloseChildEnds() {
	if m.stdin != nil && m.stdin.child != nil {
		_ = m.stdin.child.Close()
		m.stdin.child = nil
	}
	for _, ep := range m.reads {
		if ep.child != nil {
			_ = ep.child.Close()
			ep.child = nil
		}
	}
}

// Poll waits at most block for any endpoint to become ready, then reads
// every readable stream and writes pending input. Chunks are returned in
// the order they were read.
func (m *Multiplexer) Poll(block time.Duration) ([]Chunk, error) {
	m.stats.Ticks++
	m.fillInput(false)

	type target struct {
		ep   *endpoint
		kind int
	}
	const (
		kindRead = iota
		kindWrite
		kindInput
	)

	fds := make([]unix.PollFd, 0, len(m.reads)+2)
	targets := make([]target, 0, cap(fds))
	for _, ep := range m.reads {
		if ep.open() {
			fds = append(fds, unix.PollFd{Fd: int32(ep.fd), Events: unix.POLLIN})
			targets = append(targets, target{ep: ep, kind: kindRead})
		}
	}
	if fd := m.inputFD(); fd >= 0 && len(m.pending) > 0 {
		fds = append(fds, unix.PollFd{Fd: int32(fd), Events: unix.POLLOUT})
		targets = append(targets, target{kind: kindWrite})
	}
	if m.wantsInput() && m.readerFD >= 0 {
		fds = append(fds, unix.PollFd{Fd: int32(m.readerFD), Events: unix.POLLIN})
		targets = append(targets, target{kind: kindInput})
	}

	if len(fds) == 0 {
		if block > 0 {
			time.Sleep(block)
		}
		m.closeInputIfDone()
		return nil, nil
	}

	ms := int(block / time.Millisecond)
	if block > 0 && ms == 0 {
		ms = 1
	}
	n, err := unix.Poll(fds, ms)
	if err != nil {
		if errors.Is(err, unix.EINTR) {
			return nil, nil
		}
		return nil, fmt.Errorf("poll: %w", err)
	}

	var chunks []Chunk
	if n > 0 {
		for i, pfd := range fds {
			if pfd.Revents == 0 {
				continue
			}
			switch targets[i].kind {
			case kindRead:
				chunks = m.drain(targets[i].ep, chunks)
			case kindWrite:
				m.flush()
			case kindInput:
				m.fillInput(true)
			}
		}
	}

	m.flush()
	m.closeInputIfDone()
	return chunks, nil
}

// Done reports whether every read-end has reached end-of-stream.
func (m *Multiplexer) Done() bool {
	for _, ep := range m.reads {
		if ep.open() {
			return false
		}
	}
	return true
}

// Reported returns what the child wrote to the status pipe.
func (m *Multiplexer) Reported() []byte {
	return m.reported
}

// InputErr returns the error that ended input delivery early, if any.
func (m *Multiplexer) InputErr() error {
	return m.inputErr
}

// Stats returns transfer counters.
func (m *Multiplexer) Stats() Stats {
	return m.stats
}

// Close releases every endpoint. Safe to call more than once.
func (m *Multiplexer) Close() error {
	var errs []error
	m.CloseChildEnds()
	if err := m.stdin.close(); err != nil {
		errs = append(errs, fmt.Errorf("close stdin: %w", err))
	}
	for _, ep := range m.reads {
		if err := ep.close(); err != nil {
			errs = append(errs, fmt.Errorf("close %s: %w", ep.stream, err))
		}
	}
	return errors.Join(errs...)
}

func (m *Multiplexer) drain(ep *endpoint, chunks []Chunk) []Chunk {
	for i := 0; i < maxChunksPerTick; i++ {
		n, err := unix.Read(ep.fd, m.buf)
		if n > 0 {
			data := append([]byte(nil), m.buf[:n]...)
			if ep.stream == statusStream {
				m.reported = append(m.reported, data...)
			} else {
				chunks = append(chunks, Chunk{Stream: ep.stream, Data: data})
				m.stats.BytesRead[ep.stream] += int64(n)
			}
		}
		switch {
		case err == nil && n == 0:
			_ = ep.close()
			return chunks
		case errors.Is(err, unix.EINTR):
			continue
		case errors.Is(err, unix.EAGAIN):
			return chunks
		case err != nil:
			// EIO on a PTY master means the slave side is gone.
			_ = ep.close()
			return chunks
		case n < len(m.buf):
			return chunks
		}
	}
	return chunks
}

func (m *Multiplexer) inputFD() int {
	if m.stdin.open() {
		return m.stdin.fd
	}
	for _, ep := range m.reads {
		if ep.pty && ep.open() {
			return ep.fd
		}
	}
	return -1
}

func (m *Multiplexer) setInput(in any) {
	switch v := in.(type) {
	case []byte:
		m.pending = v
		m.readerEOF = true
	case io.Reader:
		m.reader = v
		if sc, ok := v.(syscall.Conn); ok {
			if rc, err := sc.SyscallConn(); err == nil {
				_ = rc.Control(func(fd uintptr) { m.readerFD = int(fd) })
			}
		}
	default:
		m.readerEOF = true
	}
}

func (m *Multiplexer) wantsInput() bool {
	return m.reader != nil && !m.readerEOF && len(m.pending) == 0 && m.inputFD() >= 0
}

// fillInput reads one chunk from the input reader. Descriptor-backed
// readers are only read once poll reported them readable.
func (m *Multiplexer) fillInput(ready bool) {
	if !m.wantsInput() {
		return
	}
	if m.readerFD >= 0 && !ready {
		return
	}
	n, err := m.reader.Read(m.inbuf)
	if n > 0 {
		m.pending = append(m.pending[:0], m.inbuf[:n]...)
	}
	if err != nil {
		m.readerEOF = true
		if !errors.Is(err, io.EOF) {
			m.inputErr = err
		}
	}
}

func (m *Multiplexer) flush() {
	fd := m.inputFD()
	for fd >= 0 && len(m.pending) > 0 {
		n, err := unix.Write(fd, m.pending)
		if n > 0 {
			m.pending = m.pending[n:]
			m.stats.BytesWritten += int64(n)
		}
		switch {
		case errors.Is(err, unix.EINTR):
			continue
		case errors.Is(err, unix.EAGAIN):
			return
		case err != nil:
			// EPIPE: the child closed its stdin.
			m.pending = nil
			m.readerEOF = true
			_ = m.stdin.close()
			return
		case n <= 0:
			return
		}
	}
}

func (m *Multiplexer) closeInputIfDone() {
	if !m.stdin.open() || len(m.pending) > 0 {
		return
	}
	if m.reader == nil || m.readerEOF {
		_ = m.stdin.close()
	}
}

func newReadEndpoint(stream output.Stream) (*endpoint, error) {
	r, w, err := newPipe(parentRead)
	if err != nil {
		return nil, err
	}
	return &endpoint{fd: r, child: os.NewFile(uintptr(w), "|"+stream.String()), stream: stream}, nil
}

// Which end of a pipe the parent keeps.
const (
	parentRead = iota
	parentWrite
)

// newPipe returns a close-on-exec pipe whose parent end is non-blocking.
// The child's end stays blocking: O_NONBLOCK belongs to the open file
// description, and most programs expect blocking stdio.
func newPipe(parent int) (r, w int, err error) {
	var p [2]int
	if err := rawPipe(p[:]); err != nil {
		return -1, -1, err
	}
	fd := p[0]
	if parent == parentWrite {
		fd = p[1]
	}
	if err := unix.SetNonblock(fd, true); err != nil {
		_ = unix.Close(p[0])
		_ = unix.Close(p[1])
		return -1, -1, fmt.Errorf("nonblock: %w", err)
	}
	return p[0], p[1], nil
}
