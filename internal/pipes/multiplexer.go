// Package pipes owns the parent's ends of a child process's standard
// streams and moves bytes across them without ever blocking the caller
// for longer than one bounded tick.
//
// Every Poll performs a single readiness check across all open read-ends
// and reads whatever is available from each, so a child blocked writing to
// stderr is drained even while stdout is quiet. Input is delivered
// opportunistically on the same tick.
package pipes

import (
	"errors"
	"fmt"
	"io"
	"os"
	"reflect"
	"strconv"

	"github.com/randomizedcoder/procwatch/internal/output"
)

// ChunkSize bounds a single read from any stream.
const ChunkSize = 8 * 1024

// maxChunksPerTick caps how many full chunks one stream may deliver in a
// single tick before the other streams get their turn.
const maxChunksPerTick = 16

// ErrUnsupportedInput is returned for input values that cannot be fed to a
// child's stdin.
var ErrUnsupportedInput = errors.New("input must be a string, []byte, io.Reader, fmt.Stringer, scalar or nil")

// Chunk is one bounded read from a child stream.
type Chunk struct {
	Stream output.Stream
	Data   []byte
}

// Config selects which endpoints the Multiplexer creates.
type Config struct {
	// Capture creates stdout and stderr pipes. When false the child writes
	// to the null device.
	Capture bool

	// Stdin creates a stdin pipe fed from Input. When false the child reads
	// from the null device (or the terminal, in TTY/PTY mode).
	Stdin bool

	// Input is the normalized stdin source: nil, []byte or io.Reader.
	Input any

	// Status creates an extra pipe the child inherits as fd 3.
	Status bool
}

// ChildFiles are the endpoints to hand to exec.Cmd. Nil means "not wired".
type ChildFiles struct {
	Stdin  *os.File
	Stdout *os.File
	Stderr *os.File
	Extra  []*os.File
}

// NormalizeInput converts v into nil, []byte or io.Reader.
func NormalizeInput(v any) (any, error) {
	switch in := v.(type) {
	case nil:
		return nil, nil
	case []byte:
		return append([]byte(nil), in...), nil
	case string:
		return []byte(in), nil
	case io.Reader:
		return in, nil
	case fmt.Stringer:
		return []byte(in.String()), nil
	case bool:
		if in {
			return []byte("1"), nil
		}
		return []byte{}, nil
	}

	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return []byte(strconv.FormatInt(rv.Int(), 10)), nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return []byte(strconv.FormatUint(rv.Uint(), 10)), nil
	case reflect.Float32, reflect.Float64:
		return []byte(strconv.FormatFloat(rv.Float(), 'f', -1, 64)), nil
	}
	return nil, fmt.Errorf("%w (got %T)", ErrUnsupportedInput, v)
}

// Stats counts what has crossed the multiplexer.
type Stats struct {
	BytesRead    map[output.Stream]int64
	BytesWritten int64
	Ticks        int64
}

func newStats() Stats {
	return Stats{BytesRead: make(map[output.Stream]int64, 2)}
}
