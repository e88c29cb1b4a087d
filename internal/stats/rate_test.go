package stats

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// mockClock provides deterministic time for testing.
type mockClock struct {
	mu   sync.Mutex
	time time.Time
}

func newMockClock() *mockClock {
	return &mockClock{time: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (c *mockClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.time
}

func (c *mockClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.time = c.time.Add(d)
}

func TestOutputRate_Add(t *testing.T) {
	tests := []struct {
		name string
		adds []int
		want int64
	}{
		{"single", []int{1024}, 1024},
		{"multiple", []int{100, 200, 300}, 600},
		{"ignores zero and negative", []int{10, 0, -5}, 10},
		{"none", nil, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := NewOutputRateWithClock(newMockClock())
			for _, n := range tt.adds {
				r.Add(n)
			}
			assert.Equal(t, tt.want, r.Stats().TotalBytes)
		})
	}
}

func TestOutputRate_RollingAverage(t *testing.T) {
	clock := newMockClock()
	r := NewOutputRateWithClock(clock)

	// 100 B/s for 60s, then 1000 B/s for 10s.
	for i := 0; i < 60; i++ {
		clock.Advance(time.Second)
		r.Add(100)
		r.Sample()
	}
	for i := 0; i < 10; i++ {
		clock.Advance(time.Second)
		r.Add(1000)
		r.Sample()
	}

	st := r.Stats()
	assert.InDelta(t, 1000, st.Avg1s, 0.01)
	assert.InDelta(t, 1000, st.Avg10s, 0.01)
	assert.InDelta(t, (50*100+10*1000)/60.0, st.Avg60s, 0.01)
	assert.InDelta(t, float64(16000)/70, st.AvgOverall, 0.01)
}

func TestOutputRate_ShortHistoryUsesOldest(t *testing.T) {
	clock := newMockClock()
	r := NewOutputRateWithClock(clock)

	clock.Advance(2 * time.Second)
	r.Add(400)

	st := r.Stats()
	// Only the initial sample exists, so every window spans 2s.
	assert.InDelta(t, 200, st.Avg1s, 0.01)
	assert.InDelta(t, 200, st.Avg60s, 0.01)
}

func TestOutputRate_NoElapsed(t *testing.T) {
	r := NewOutputRateWithClock(newMockClock())
	r.Add(10)

	st := r.Stats()
	assert.Zero(t, st.Avg1s)
	assert.Zero(t, st.AvgOverall)
}

func TestOutputRate_RingOverflow(t *testing.T) {
	clock := newMockClock()
	r := NewOutputRateWithClock(clock)

	for i := 0; i < rateSamples+50; i++ {
		clock.Advance(time.Second)
		r.Add(10)
		r.Sample()
	}

	assert.Equal(t, rateSamples, r.SampleCount())
	assert.InDelta(t, 10, r.Stats().Avg60s, 0.01)
}

func TestOutputRate_Reset(t *testing.T) {
	clock := newMockClock()
	r := NewOutputRateWithClock(clock)
	clock.Advance(time.Second)
	r.Add(500)
	r.Sample()

	r.Reset()

	assert.Equal(t, 1, r.SampleCount())
	assert.Zero(t, r.Stats().TotalBytes)
}

func TestOutputRate_Concurrent(t *testing.T) {
	r := NewOutputRate()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			for j := 0; j < 1000; j++ {
				r.Add(1)
			}
		}()
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				r.Sample()
				_ = r.Stats()
			}
		}()
	}
	wg.Wait()

	require.Equal(t, int64(8000), r.Stats().TotalBytes)
}
