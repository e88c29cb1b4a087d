// Package metrics provides Prometheus metrics for supervised processes.
//
// Every Collector owns its instruments and registers them on the registry
// it is given, so several collectors can coexist in one program (and in
// tests) without sharing state.
package metrics

import (
	"slices"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/randomizedcoder/procwatch/internal/exitcode"
)

const namespace = "procwatch"

// Collector records process lifecycle events.
type Collector struct {
	info          *prometheus.GaugeVec
	starts        prometheus.Counter
	exits         *prometheus.CounterVec
	timeouts      *prometheus.CounterVec
	signals       *prometheus.CounterVec
	outputBytes   *prometheus.CounterVec
	outputChunks  *prometheus.CounterVec
	running       prometheus.Gauge
	lastExitCode  prometheus.Gauge
	lastStartTime prometheus.Gauge
	duration      prometheus.Histogram

	startTime time.Time

	// For summary generation
	mu        sync.Mutex
	total     int64
	exitCodes map[int]int64
	uptimes   []time.Duration
}

// CollectorConfig holds configuration for the collector.
type CollectorConfig struct {
	Version string
	Command string
}

// NewCollector creates a collector on the default registry.
func NewCollector(cfg CollectorConfig) *Collector {
	return NewCollectorWithRegistry(cfg, prometheus.DefaultRegisterer)
}

// NewCollectorWithRegistry creates a collector with a custom registry.
// Useful for testing.
func NewCollectorWithRegistry(cfg CollectorConfig, registry prometheus.Registerer) *Collector {
	c := &Collector{
		info: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "info",
			Help:      "Information about the supervisor (value always 1)",
		}, []string{"version", "command"}),
		starts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "process_starts_total",
			Help:      "Processes spawned",
		}),
		exits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "process_exits_total",
			Help:      "Process exits by category (success, error, signal)",
		}, []string{"category"}),
		timeouts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "process_timeouts_total",
			Help:      "Processes stopped by a deadline, by kind (general, idle)",
		}, []string{"kind"}),
		signals: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "process_signals_total",
			Help:      "Signals delivered to supervised processes",
		}, []string{"signal"}),
		outputBytes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "output_bytes_total",
			Help:      "Bytes read from the child, by stream",
		}, []string{"stream"}),
		outputChunks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "output_chunks_total",
			Help:      "Chunks read from the child, by stream",
		}, []string{"stream"}),
		running: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "process_running",
			Help:      "1 while a supervised process is running",
		}),
		lastExitCode: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "process_last_exit_code",
			Help:      "Exit code of the most recent process (-1 = unknown)",
		}),
		lastStartTime: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "process_last_start_time_seconds",
			Help:      "Unix time the most recent process was started",
		}),
		duration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "process_duration_seconds",
			Help:      "Wall time from spawn to termination",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30, 60, 300, 900, 3600},
		}),
		startTime: time.Now(),
		exitCodes: make(map[int]int64),
	}

	registry.MustRegister(
		c.info,
		c.starts,
		c.exits,
		c.timeouts,
		c.signals,
		c.outputBytes,
		c.outputChunks,
		c.running,
		c.lastExitCode,
		c.lastStartTime,
		c.duration,
	)

	version := cfg.Version
	if version == "" {
		version = "dev"
	}
	c.info.WithLabelValues(version, cfg.Command).Set(1)
	c.lastExitCode.Set(-1)
	return c
}

// =============================================================================
// Event Recording Methods
// =============================================================================

// ProcessStarted records a spawn.
func (c *Collector) ProcessStarted() {
	c.starts.Inc()
	c.running.Set(1)
	c.lastStartTime.Set(float64(time.Now().UnixNano()) / 1e9)

	c.mu.Lock()
	c.total++
	c.mu.Unlock()
}

// RecordOutput records one chunk read from stream.
func (c *Collector) RecordOutput(stream string, n int) {
	c.outputBytes.WithLabelValues(stream).Add(float64(n))
	c.outputChunks.WithLabelValues(stream).Inc()
}

// RecordSignal records a delivered signal, by name.
func (c *Collector) RecordSignal(name string) {
	c.signals.WithLabelValues(name).Inc()
}

// RecordTimeout records a deadline firing, by kind.
func (c *Collector) RecordTimeout(kind string) {
	c.timeouts.WithLabelValues(kind).Inc()
}

// RecordExit records a termination.
func (c *Collector) RecordExit(exitCode int, signaled bool, uptime time.Duration) {
	c.exits.WithLabelValues(exitcode.Category(exitCode, signaled)).Inc()
	c.duration.Observe(uptime.Seconds())
	c.running.Set(0)
	c.lastExitCode.Set(float64(exitCode))

	c.mu.Lock()
	c.exitCodes[exitCode]++
	c.uptimes = append(c.uptimes, uptime)
	c.mu.Unlock()
}

// =============================================================================
// Summary Generation
// =============================================================================

// Summary holds the data for generating an exit summary.
type Summary struct {
	Duration    time.Duration
	TotalStarts int64
	ExitCodes   map[int]int64
	UptimeP50   time.Duration
	UptimeP95   time.Duration
	UptimeMax   time.Duration
}

// GenerateSummary creates a summary of everything recorded so far.
func (c *Collector) GenerateSummary() *Summary {
	c.mu.Lock()
	defer c.mu.Unlock()

	s := &Summary{
		Duration:    time.Since(c.startTime),
		TotalStarts: c.total,
		ExitCodes:   make(map[int]int64, len(c.exitCodes)),
	}
	for code, count := range c.exitCodes {
		s.ExitCodes[code] = count
	}

	if len(c.uptimes) > 0 {
		sorted := slices.Clone(c.uptimes)
		slices.Sort(sorted)
		s.UptimeP50 = percentile(sorted, 0.50)
		s.UptimeP95 = percentile(sorted, 0.95)
		s.UptimeMax = sorted[len(sorted)-1]
	}
	return s
}

// TotalStarts returns the number of recorded spawns.
func (c *Collector) TotalStarts() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.total
}

// percentile returns the value at the given percentile (0.0-1.0).
func percentile(sorted []time.Duration, p float64) time.Duration {
	if len(sorted) == 0 {
		return 0
	}
	idx := int(float64(len(sorted)-1) * p)
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}
