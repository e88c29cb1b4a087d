//go:build !unix

package pipes

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/randomizedcoder/procwatch/internal/output"
)

const statusStream output.Stream = -1

// ErrPTYUnsupported is returned by AttachPTY on platforms without
// pseudo-terminals.
var ErrPTYUnsupported = errors.New("pty streams are not supported on this platform")

type event struct {
	stream output.Stream
	data   []byte
	eof    bool
}

// Multiplexer reads each stream on its own goroutine and hands the chunks
// to the owning goroutine through a channel. Poll is the only consumer.
type Multiplexer struct {
	stdinR, stdinW *os.File
	reads          []*os.File
	children       []*os.File
	streams        []output.Stream

	input  any
	events chan event
	done   chan struct{}
	open   int

	// readers tracks the reader goroutines.
	readers sync.WaitGroup

	started  bool
	reported []byte

	mu       sync.Mutex
	inputErr error
	written  int64

	stats     Stats
	closeOnce sync.Once
}

// New creates the pipes selected by cfg.
func New(cfg Config) (*Multiplexer, error) {
	m := &Multiplexer{
		input:  cfg.Input,
		events: make(chan event, 64),
		done:   make(chan struct{}),
		stats:  newStats(),
	}

	if cfg.Stdin {
		r, w, err := os.Pipe()
		if err != nil {
			return nil, fmt.Errorf("stdin pipe: %w", err)
		}
		m.stdinR, m.stdinW = r, w
	}

	add := func(stream output.Stream) error {
		r, w, err := os.Pipe()
		if err != nil {
			return fmt.Errorf("%s pipe: %w", stream, err)
		}
		m.reads = append(m.reads, r)
		m.children = append(m.children, w)
		m.streams = append(m.streams, stream)
		return nil
	}
	if cfg.Capture {
		for _, s := range []output.Stream{output.Stdout, output.Stderr} {
			if err := add(s); err != nil {
				m.Close()
				return nil, err
			}
		}
	}
	if cfg.Status {
		if err := add(statusStream); err != nil {
			m.Close()
			return nil, err
		}
	}
	return m, nil
}

// AttachPTY is not available on this platform.
func (m *Multiplexer) AttachPTY(*os.File, any) error {
	return ErrPTYUnsupported
}

// ChildFiles returns the endpoints the child should inherit.
func (m *Multiplexer) ChildFiles() ChildFiles {
	cf := ChildFiles{Stdin: m.stdinR}
	for i, s := range m.streams {
		switch s {
		case output.Stdout:
			cf.Stdout = m.children[i]
		case output.Stderr:
			cf.Stderr = m.children[i]
		case statusStream:
			cf.Extra = append(cf.Extra, m.children[i])
		}
	}
	return cf
}

// CloseChildEnds closes the parent's copies of the child's endpoints and
// starts the reader and writer goroutines.
func (m *Multiplexer) CloseChildEnds() {
	if m.stdinR != nil {
		_ = m.stdinR.Close()
		m.stdinR = nil
	}
	for i, f := range m.children {
		if f != nil {
			_ = f.Close()
			m.children[i] = nil
		}
	}
	if m.started {
		return
	}
	m.started = true

	for i, r := range m.reads {
		m.open++
		m.readers.Add(1)
		go m.readLoop(r, m.streams[i])
	}
	if m.stdinW != nil {
		go m.writeLoop()
	}
}

// readLoop forwards chunks until EOF or Close. Once closed nobody
// consumes events, so every send also watches done.
func (m *Multiplexer) readLoop(r *os.File, stream output.Stream) {
	defer m.readers.Done()
	buf := make([]byte, ChunkSize)
	for {
		n, err := r.Read(buf)
		if n > 0 && !m.send(event{stream: stream, data: append([]byte(nil), buf[:n]...)}) {
			return
		}
		if err != nil {
			m.send(event{stream: stream, eof: true})
			return
		}
	}
}

func (m *Multiplexer) send(ev event) bool {
	select {
	case m.events <- ev:
		return true
	case <-m.done:
		return false
	}
}

func (m *Multiplexer) writeLoop() {
	var src io.Reader
	switch v := m.input.(type) {
	case []byte:
		src = bytes.NewReader(v)
	case io.Reader:
		src = v
	}
	if src != nil {
		n, err := io.Copy(m.stdinW, src)
		m.mu.Lock()
		m.written = n
		if err != nil && !errors.Is(err, os.ErrClosed) {
			m.inputErr = err
		}
		m.mu.Unlock()
	}
	_ = m.stdinW.Close()
}

// Poll waits at most block for the first chunk, then collects whatever
// else is already queued.
func (m *Multiplexer) Poll(block time.Duration) ([]Chunk, error) {
	m.stats.Ticks++
	if m.open == 0 {
		if block > 0 {
			time.Sleep(block)
		}
		return nil, nil
	}

	var chunks []Chunk
	if block > 0 {
		timer := time.NewTimer(block)
		select {
		case ev := <-m.events:
			chunks = m.observe(ev, chunks)
		case <-timer.C:
		}
		timer.Stop()
	}
	for i := 0; i < maxChunksPerTick*len(m.reads); i++ {
		select {
		case ev := <-m.events:
			chunks = m.observe(ev, chunks)
		default:
			return chunks, nil
		}
	}
	return chunks, nil
}

func (m *Multiplexer) observe(ev event, chunks []Chunk) []Chunk {
	switch {
	case ev.eof:
		m.open--
	case ev.stream == statusStream:
		m.reported = append(m.reported, ev.data...)
	default:
		m.stats.BytesRead[ev.stream] += int64(len(ev.data))
		chunks = append(chunks, Chunk{Stream: ev.stream, Data: ev.data})
	}
	return chunks
}

// Done reports whether every read-end has reached end-of-stream.
func (m *Multiplexer) Done() bool {
	return m.open == 0
}

// Reported returns what the child wrote to the status pipe.
func (m *Multiplexer) Reported() []byte {
	return m.reported
}

// InputErr returns the error that ended input delivery early, if any.
func (m *Multiplexer) InputErr() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.inputErr
}

// Stats returns transfer counters.
func (m *Multiplexer) Stats() Stats {
	m.mu.Lock()
	m.stats.BytesWritten = m.written
	m.mu.Unlock()
	return m.stats
}

// Close releases every endpoint. Reader goroutines exit on the resulting
// read error, or as soon as they next try to deliver a chunk.
func (m *Multiplexer) Close() error {
	var errs []error
	m.closeOnce.Do(func() {
		close(m.done)
		for _, f := range append(append([]*os.File{m.stdinR, m.stdinW}, m.children...), m.reads...) {
			if f == nil {
				continue
			}
			if err := f.Close(); err != nil && !errors.Is(err, os.ErrClosed) {
				errs = append(errs, err)
			}
		}
	})
	return errors.Join(errs...)
}
