package stats

import (
	"sync"
	"sync/atomic"
	"time"
)

const (
	// rateSamples retains five minutes at one sample per second.
	rateSamples = 300

	window1s  = 1 * time.Second
	window10s = 10 * time.Second
	window60s = 60 * time.Second
)

// Clock interface for testing with deterministic time.
type Clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

type sample struct {
	timestamp time.Time
	bytes     int64
}

// OutputRate tracks cumulative output bytes and computes rolling averages.
//
//	r := NewOutputRate()
//	r.Add(len(chunk))  // per chunk, lock-free
//	r.Sample()         // periodically, e.g. each TUI tick
//	stats := r.Stats()
type OutputRate struct {
	total atomic.Int64

	mu       sync.RWMutex
	samples  []sample
	writeIdx int

	start time.Time
	clock Clock
}

// RateStats are rolling averages in bytes per second.
type RateStats struct {
	TotalBytes int64
	Avg1s      float64
	Avg10s     float64
	Avg60s     float64
	AvgOverall float64
}

// NewOutputRate creates a tracker on the real clock.
func NewOutputRate() *OutputRate {
	return NewOutputRateWithClock(realClock{})
}

// NewOutputRateWithClock creates a tracker with a custom clock for testing.
func NewOutputRateWithClock(clock Clock) *OutputRate {
	now := clock.Now()
	r := &OutputRate{
		samples: make([]sample, 0, rateSamples),
		start:   now,
		clock:   clock,
	}
	r.samples = append(r.samples, sample{timestamp: now})
	return r
}

// Add counts n bytes.
func (r *OutputRate) Add(n int) {
	if n > 0 {
		r.total.Add(int64(n))
	}
}

// Sample records the current total with a timestamp.
func (r *OutputRate) Sample() {
	now := r.clock.Now()
	cur := r.total.Load()

	r.mu.Lock()
	defer r.mu.Unlock()

	s := sample{timestamp: now, bytes: cur}
	if len(r.samples) < rateSamples {
		r.samples = append(r.samples, s)
		return
	}
	r.samples[r.writeIdx] = s
	r.writeIdx = (r.writeIdx + 1) % rateSamples
}

// Stats computes the rolling averages.
func (r *OutputRate) Stats() RateStats {
	now := r.clock.Now()
	cur := r.total.Load()

	r.mu.RLock()
	defer r.mu.RUnlock()

	st := RateStats{TotalBytes: cur}
	if elapsed := now.Sub(r.start).Seconds(); elapsed > 0 {
		st.AvgOverall = float64(cur) / elapsed
	}
	st.Avg1s = r.avgOverWindow(now, cur, window1s)
	st.Avg10s = r.avgOverWindow(now, cur, window10s)
	st.Avg60s = r.avgOverWindow(now, cur, window60s)
	return st
}

// avgOverWindow must be called with mu held.
func (r *OutputRate) avgOverWindow(now time.Time, cur int64, window time.Duration) float64 {
	target := now.Add(-window)

	// Closest sample at or before target, else the oldest we have.
	var best *sample
	var bestDiff time.Duration = -1
	for i := range r.samples {
		s := &r.samples[i]
		if s.timestamp.After(target) {
			continue
		}
		if diff := target.Sub(s.timestamp); bestDiff < 0 || diff < bestDiff {
			best, bestDiff = s, diff
		}
	}
	if best == nil {
		best = r.oldest()
	}
	if best == nil {
		return 0
	}

	elapsed := now.Sub(best.timestamp).Seconds()
	if elapsed <= 0 {
		return 0
	}
	return float64(cur-best.bytes) / elapsed
}

func (r *OutputRate) oldest() *sample {
	if len(r.samples) == 0 {
		return nil
	}
	if len(r.samples) < rateSamples {
		return &r.samples[0]
	}
	return &r.samples[r.writeIdx]
}

// Reset clears all data, as after a restart.
func (r *OutputRate) Reset() {
	now := r.clock.Now()

	r.mu.Lock()
	defer r.mu.Unlock()

	r.total.Store(0)
	r.samples = append(r.samples[:0], sample{timestamp: now})
	r.writeIdx = 0
	r.start = now
}

// SampleCount returns the number of retained samples.
func (r *OutputRate) SampleCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.samples)
}
