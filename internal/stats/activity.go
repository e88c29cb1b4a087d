// Package stats tracks how a supervised process produces output over time.
//
// Activity keeps a t-digest of the gaps between consecutive output chunks,
// which is what an idle timeout is measured against: the summary it
// produces reports gap percentiles and suggests an idle timeout that the
// observed run would have survived.
package stats

import (
	"math"
	"sync"
	"time"

	"github.com/influxdata/tdigest"
)

// digestCompression gives ~100 centroids, ~10KB.
const digestCompression = 100

// Activity records output chunks for one process run. Safe for concurrent use.
type Activity struct {
	mu sync.Mutex

	clock Clock

	started time.Time
	first   time.Time
	last    time.Time

	bytes  map[string]int64
	chunks map[string]int64

	gaps   *tdigest.TDigest
	maxGap time.Duration
	count  int64
}

// ActivitySnapshot is a point-in-time view of an Activity.
type ActivitySnapshot struct {
	Elapsed       time.Duration
	FirstOutput   time.Duration // since start; -1 if no output yet
	SinceLast     time.Duration // since the last chunk, or since start
	Bytes         map[string]int64
	Chunks        map[string]int64
	TotalBytes    int64
	TotalChunks   int64
	GapP50        time.Duration
	GapP95        time.Duration
	GapP99        time.Duration
	GapMax        time.Duration
	BytesPerSec   float64
	SuggestedIdle time.Duration
}

// NewActivity starts tracking now.
func NewActivity() *Activity {
	return NewActivityWithClock(realClock{})
}

// NewActivityWithClock creates an Activity with a custom clock for testing.
func NewActivityWithClock(clock Clock) *Activity {
	return &Activity{
		clock:   clock,
		started: clock.Now(),
		bytes:   make(map[string]int64),
		chunks:  make(map[string]int64),
		gaps:    tdigest.NewWithCompression(digestCompression),
	}
}

// Record notes a chunk of n bytes on stream.
func (a *Activity) Record(stream string, n int) {
	now := a.clock.Now()

	a.mu.Lock()
	defer a.mu.Unlock()

	prev := a.last
	if prev.IsZero() {
		prev = a.started
		a.first = now
	}
	gap := now.Sub(prev)
	if gap < 0 {
		gap = 0
	}
	a.gaps.Add(float64(gap.Nanoseconds()), 1)
	if gap > a.maxGap {
		a.maxGap = gap
	}

	a.last = now
	a.count++
	a.bytes[stream] += int64(n)
	a.chunks[stream]++
}

// Reset starts a fresh run, as after a restart.
func (a *Activity) Reset() {
	now := a.clock.Now()

	a.mu.Lock()
	defer a.mu.Unlock()

	a.started = now
	a.first = time.Time{}
	a.last = time.Time{}
	a.bytes = make(map[string]int64)
	a.chunks = make(map[string]int64)
	a.gaps = tdigest.NewWithCompression(digestCompression)
	a.maxGap = 0
	a.count = 0
}

// Snapshot computes the current statistics.
func (a *Activity) Snapshot() ActivitySnapshot {
	now := a.clock.Now()

	a.mu.Lock()
	defer a.mu.Unlock()

	s := ActivitySnapshot{
		Elapsed:     now.Sub(a.started),
		FirstOutput: -1,
		Bytes:       make(map[string]int64, len(a.bytes)),
		Chunks:      make(map[string]int64, len(a.chunks)),
		TotalChunks: a.count,
		GapMax:      a.maxGap,
	}
	for k, v := range a.bytes {
		s.Bytes[k] = v
		s.TotalBytes += v
	}
	for k, v := range a.chunks {
		s.Chunks[k] = v
	}

	if a.last.IsZero() {
		s.SinceLast = s.Elapsed
	} else {
		s.FirstOutput = a.first.Sub(a.started)
		s.SinceLast = now.Sub(a.last)
	}

	if a.count > 0 {
		s.GapP50 = quantile(a.gaps, 0.50)
		s.GapP95 = quantile(a.gaps, 0.95)
		s.GapP99 = quantile(a.gaps, 0.99)
	}
	if secs := s.Elapsed.Seconds(); secs > 0 {
		s.BytesPerSec = float64(s.TotalBytes) / secs
	}
	s.SuggestedIdle = SuggestIdleTimeout(s.GapP99, max(s.GapMax, s.SinceLast))
	return s
}

func quantile(d *tdigest.TDigest, q float64) time.Duration {
	v := d.Quantile(q)
	if math.IsNaN(v) || v < 0 {
		return 0
	}
	return time.Duration(v)
}

// SuggestIdleTimeout proposes an idle timeout from observed gaps: twice the
// worst gap or four times p99, whichever is larger, rounded up to a whole
// second. Zero when nothing was observed.
func SuggestIdleTimeout(p99, worst time.Duration) time.Duration {
	d := max(2*worst, 4*p99)
	if d <= 0 {
		return 0
	}
	return (d + time.Second - 1).Truncate(time.Second)
}
