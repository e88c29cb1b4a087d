package main

import (
	"os"
	"time"

	"github.com/google/uuid"

	"github.com/randomizedcoder/procwatch/internal/exitcode"
	"github.com/randomizedcoder/procwatch/internal/output"
	"github.com/randomizedcoder/procwatch/internal/signals"
	"github.com/randomizedcoder/procwatch/internal/supervisor"
	"github.com/randomizedcoder/procwatch/internal/timeout"
)

// hooks fans process events out to metrics, output statistics and the
// line logger. The supervisor itself knows none of them.
func (r *run) hooks() supervisor.Hooks {
	return supervisor.Hooks{
		OnStart: func(_ uuid.UUID, _ int) {
			r.collector.ProcessStarted()
			if r.activity != nil {
				r.activity.Reset()
			}
		},
		OnOutput: func(_ uuid.UUID, stream output.Stream, data []byte) {
			r.collector.RecordOutput(stream.String(), len(data))
			if r.activity != nil {
				r.activity.Record(stream.String(), len(data))
			}
			if r.rate != nil {
				r.rate.Add(len(data))
			}
			if r.lines != nil {
				r.lines.HandleChunk(stream, data)
			}
		},
		OnSignal: func(_ uuid.UUID, sig os.Signal) {
			r.collector.RecordSignal(signals.Name(sig))
		},
		OnTimeout: func(_ uuid.UUID, kind timeout.Kind, _ time.Duration) {
			r.collector.RecordTimeout(kind.String())
		},
		OnExit: func(_ uuid.UUID, code int, signaled bool, uptime time.Duration) {
			// A signaled child has no exit code of its own; record 128+n.
			if signaled && r.proc != nil {
				if sig, err := r.proc.TermSignal(); err == nil {
					code = exitcode.FromSignal(int(sig))
				}
			}
			r.collector.RecordExit(code, signaled, uptime)
		},
	}
}
