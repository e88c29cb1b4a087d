package logging

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"sync"

	"github.com/randomizedcoder/procwatch/internal/output"
)

const (
	// MaxLineLength is the maximum length of a single log line before truncation.
	MaxLineLength = 4096

	// MaxBufferedLines is how many recent lines are kept for the exit summary.
	MaxBufferedLines = 100
)

// Line is one complete line of child output.
type Line struct {
	Stream output.Stream
	Text   string
}

// OutputHandler splits a child's output chunks into lines, logs them and
// keeps the most recent ones for a failure summary. Partial lines are held
// per stream until their newline arrives or Flush is called.
type OutputHandler struct {
	id      string
	logger  *slog.Logger
	verbose bool

	mu      sync.Mutex
	partial map[output.Stream][]byte
	ring    []Line
	next    int
	count   int
}

// NewOutputHandler creates a handler for the process identified by id.
func NewOutputHandler(id string, logger *slog.Logger, verbose bool) *OutputHandler {
	return &OutputHandler{
		id:      id,
		logger:  logger,
		verbose: verbose,
		partial: make(map[output.Stream][]byte, 2),
		ring:    make([]Line, MaxBufferedLines),
	}
}

// HandleChunk consumes one chunk of output. It matches the supervisor's
// callback signature.
func (h *OutputHandler) HandleChunk(stream output.Stream, data []byte) {
	h.mu.Lock()
	buf := append(h.partial[stream], data...)
	var lines []string
	for {
		i := bytes.IndexByte(buf, '\n')
		if i < 0 {
			break
		}
		lines = append(lines, string(bytes.TrimRight(buf[:i], "\r")))
		buf = buf[i+1:]
	}
	if len(buf) > MaxLineLength {
		lines = append(lines, string(buf))
		buf = nil
	}
	h.partial[stream] = append([]byte(nil), buf...)
	h.mu.Unlock()

	for _, line := range lines {
		h.HandleLine(stream, line)
	}
}

// Flush emits any partial lines left without a trailing newline.
func (h *OutputHandler) Flush() {
	h.mu.Lock()
	pending := make([]Line, 0, len(h.partial))
	for _, s := range []output.Stream{output.Stdout, output.Stderr} {
		if len(h.partial[s]) > 0 {
			pending = append(pending, Line{Stream: s, Text: string(h.partial[s])})
			h.partial[s] = nil
		}
	}
	h.mu.Unlock()

	for _, l := range pending {
		h.HandleLine(l.Stream, l.Text)
	}
}

// HandleLine records and logs a single line.
func (h *OutputHandler) HandleLine(stream output.Stream, line string) {
	if len(line) > MaxLineLength {
		line = line[:MaxLineLength] + "...(truncated)"
	}

	h.mu.Lock()
	h.ring[h.next] = Line{Stream: stream, Text: line}
	h.next = (h.next + 1) % MaxBufferedLines
	h.count++
	h.mu.Unlock()

	level := ClassifyLine(line)
	if !h.verbose && level < slog.LevelWarn {
		return
	}
	h.logger.Log(context.Background(), level, "process_output",
		"id", h.id,
		"stream", stream.String(),
		"line", line,
	)
}

// ClassifyLine picks a log level from the line's content.
func ClassifyLine(line string) slog.Level {
	lower := strings.ToLower(line)
	switch {
	case strings.Contains(lower, "panic") ||
		strings.Contains(lower, "fatal") ||
		strings.Contains(lower, "error"):
		return slog.LevelWarn
	case strings.Contains(lower, "warn") ||
		strings.Contains(lower, "denied") ||
		strings.Contains(lower, "refused"):
		return slog.LevelWarn
	case strings.TrimSpace(lower) == "":
		return slog.LevelDebug
	default:
		return slog.LevelInfo
	}
}

// RecentLines returns up to n of the most recent lines, oldest first.
func (h *OutputHandler) RecentLines(n int) []Line {
	h.mu.Lock()
	defer h.mu.Unlock()

	n = min(n, MaxBufferedLines, h.count)
	lines := make([]Line, 0, n)
	for i := 0; i < n; i++ {
		idx := (h.next - n + i + MaxBufferedLines) % MaxBufferedLines
		lines = append(lines, h.ring[idx])
	}
	return lines
}

// Lines returns how many lines have been handled in total.
func (h *OutputHandler) Lines() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.count
}

// ErrorPatterns are substrings counted for the exit summary.
var ErrorPatterns = []string{
	"error",
	"fatal",
	"panic",
	"permission denied",
	"not found",
	"connection refused",
	"timeout",
}

// CountErrors counts buffered lines matching each error pattern.
func (h *OutputHandler) CountErrors() map[string]int {
	h.mu.Lock()
	defer h.mu.Unlock()

	counts := make(map[string]int)
	for _, l := range h.ring {
		if l.Text == "" {
			continue
		}
		lower := strings.ToLower(l.Text)
		for _, pattern := range ErrorPatterns {
			if strings.Contains(lower, pattern) {
				counts[pattern]++
			}
		}
	}
	return counts
}
