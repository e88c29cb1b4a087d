// Package output accumulates a child process's stdout and stderr.
//
// A Sink holds two append-only buffers, each with its own incremental
// cursor, so callers can fetch either the full output or only what arrived
// since their previous incremental read.
package output

import (
	"errors"
	"fmt"
	"sync"
)

// Sentinel errors returned by Sink accessors.
var (
	// ErrNotStarted is returned when output is read before the process started.
	ErrNotStarted = errors.New("process must be started before reading output")

	// ErrDisabled is returned when output is read while capture is disabled.
	ErrDisabled = errors.New("output has been disabled")
)

// Stream tags a chunk with the standard stream it came from.
type Stream int

const (
	// Stdout is the child's standard output (or the PTY master).
	Stdout Stream = iota + 1

	// Stderr is the child's standard error.
	Stderr
)

// String returns the conventional name of the stream.
func (s Stream) String() string {
	switch s {
	case Stdout:
		return "stdout"
	case Stderr:
		return "stderr"
	default:
		return fmt.Sprintf("stream(%d)", int(s))
	}
}

// Buffer is an append-only byte buffer with a read cursor.
type Buffer struct {
	data   []byte
	cursor int
}

// Append adds p to the buffer.
func (b *Buffer) Append(p []byte) {
	b.data = append(b.data, p...)
}

// String returns everything appended since the last Reset.
func (b *Buffer) String() string {
	return string(b.data)
}

// Incremental returns the bytes appended since the previous call and
// advances the cursor.
func (b *Buffer) Incremental() string {
	if b.cursor >= len(b.data) {
		return ""
	}
	s := string(b.data[b.cursor:])
	b.cursor = len(b.data)
	return s
}

// Len returns the number of buffered bytes.
func (b *Buffer) Len() int {
	return len(b.data)
}

// Reset truncates the buffer and rewinds the cursor.
func (b *Buffer) Reset() {
	b.data = b.data[:0]
	b.cursor = 0
}

// Sink holds stdout and stderr buffers for one process run.
type Sink struct {
	mu       sync.Mutex
	stdout   Buffer
	stderr   Buffer
	started  bool
	disabled bool
}

// NewSink creates an empty, enabled sink.
func NewSink() *Sink {
	return &Sink{}
}

// MarkStarted allows reads. Called once the process has been spawned.
func (s *Sink) MarkStarted() {
	s.mu.Lock()
	s.started = true
	s.mu.Unlock()
}

// Append adds a chunk to the buffer for stream. Chunks are dropped while
// the sink is disabled.
func (s *Sink) Append(stream Stream, p []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.disabled {
		return
	}
	if b := s.buffer(stream); b != nil {
		b.Append(p)
	}
}

// Output returns all stdout captured since the last clear.
func (s *Sink) Output() (string, error) {
	return s.read(Stdout, (*Buffer).String)
}

// ErrorOutput returns all stderr captured since the last clear.
func (s *Sink) ErrorOutput() (string, error) {
	return s.read(Stderr, (*Buffer).String)
}

// IncrementalOutput returns stdout appended since the previous call.
func (s *Sink) IncrementalOutput() (string, error) {
	return s.read(Stdout, (*Buffer).Incremental)
}

// IncrementalErrorOutput returns stderr appended since the previous call.
func (s *Sink) IncrementalErrorOutput() (string, error) {
	return s.read(Stderr, (*Buffer).Incremental)
}

// Clear truncates the buffer for stream and resets its cursor.
func (s *Sink) Clear(stream Stream) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if b := s.buffer(stream); b != nil {
		b.Reset()
	}
}

// Disable stops capturing and drops anything already buffered.
func (s *Sink) Disable() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.disabled = true
	s.stdout.Reset()
	s.stderr.Reset()
}

// Enable resumes capturing.
func (s *Sink) Enable() {
	s.mu.Lock()
	s.disabled = false
	s.mu.Unlock()
}

// Disabled reports whether capture is disabled.
func (s *Sink) Disabled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.disabled
}

func (s *Sink) read(stream Stream, fn func(*Buffer) string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.disabled {
		return "", ErrDisabled
	}
	if !s.started {
		return "", ErrNotStarted
	}
	return fn(s.buffer(stream)), nil
}

func (s *Sink) buffer(stream Stream) *Buffer {
	switch stream {
	case Stdout:
		return &s.stdout
	case Stderr:
		return &s.stderr
	default:
		return nil
	}
}
