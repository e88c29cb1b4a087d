package stats

import (
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/randomizedcoder/procwatch/internal/exitcode"
)

const (
	heavyRule = "═══════════════════════════════════════════════════════════════════════════════\n"
	lightRule = "───────────────────────────────────────────────────────────────────────────────\n"
)

// SummaryConfig holds the run facts that are not output activity.
type SummaryConfig struct {
	// Command is the supervised command line.
	Command string

	// Duration is the total run duration.
	Duration time.Duration

	// ExitCode of the last run; -1 when unknown.
	ExitCode int
	Signaled bool

	// TimedOut names the deadline that stopped the process, if any.
	TimedOut string

	// IdleTimeout is the configured idle timeout, for comparison with the
	// suggested one.
	IdleTimeout time.Duration

	// MetricsAddr is the Prometheus metrics endpoint address.
	MetricsAddr string

	// From metrics.Collector, across restarts.
	TotalStarts int64
	ExitCodes   map[int]int64
	UptimeP50   time.Duration
	UptimeP95   time.Duration
	UptimeMax   time.Duration
}

// FormatExitSummary formats a run for display at program exit. act may be
// nil when output activity was not tracked.
func FormatExitSummary(act *ActivitySnapshot, cfg SummaryConfig) string {
	var b strings.Builder

	b.WriteString("\n")
	b.WriteString(heavyRule)
	b.WriteString("                            procwatch Exit Summary\n")
	b.WriteString(heavyRule + "\n")

	fmt.Fprintf(&b, "Command:                %s\n", cfg.Command)
	fmt.Fprintf(&b, "Run Duration:           %s\n", FormatDuration(cfg.Duration))
	fmt.Fprintf(&b, "Exit:                   %s\n", describeExit(cfg))
	if cfg.TimedOut != "" {
		fmt.Fprintf(&b, "Timed Out:              %s timeout\n", cfg.TimedOut)
	}
	b.WriteString("\n")

	if act == nil {
		b.WriteString("(Output tracking was disabled)\n\n")
	} else {
		writeActivity(&b, act, cfg)
	}

	if cfg.UptimeP50 > 0 || cfg.UptimeP95 > 0 {
		section(&b, "Uptime Distribution")
		fmt.Fprintf(&b, "  P50 (median):         %s\n", FormatDuration(cfg.UptimeP50))
		fmt.Fprintf(&b, "  P95:                  %s\n", FormatDuration(cfg.UptimeP95))
		fmt.Fprintf(&b, "  Max:                  %s\n\n", FormatDuration(cfg.UptimeMax))
	}

	if cfg.TotalStarts > 1 {
		section(&b, "Lifecycle")
		fmt.Fprintf(&b, "  Total Starts:         %d\n", cfg.TotalStarts)
		fmt.Fprintf(&b, "  Total Restarts:       %d\n\n", cfg.TotalStarts-1)
	}

	if len(cfg.ExitCodes) > 0 {
		section(&b, "Exit Codes")
		codes := make([]int, 0, len(cfg.ExitCodes))
		for code := range cfg.ExitCodes {
			codes = append(codes, code)
		}
		slices.Sort(codes)
		for _, code := range codes {
			fmt.Fprintf(&b, "  %3d %-16s %d\n", code, exitCodeLabel(code), cfg.ExitCodes[code])
		}
		b.WriteString("\n")
	}

	if cfg.MetricsAddr != "" {
		fmt.Fprintf(&b, "Metrics endpoint was: http://%s/metrics\n", cfg.MetricsAddr)
	}

	b.WriteString(heavyRule)
	return b.String()
}

func writeActivity(b *strings.Builder, act *ActivitySnapshot, cfg SummaryConfig) {
	section(b, "Output")

	fmt.Fprintf(b, "  %-20s %12s %12s\n", "Stream", "Bytes", "Chunks")
	b.WriteString("  " + strings.Repeat("─", 46) + "\n")
	streams := make([]string, 0, len(act.Bytes))
	for s := range act.Bytes {
		streams = append(streams, s)
	}
	slices.Sort(streams)
	for _, s := range streams {
		fmt.Fprintf(b, "  %-20s %12s %12s\n", s, FormatBytes(act.Bytes[s]), FormatNumber(act.Chunks[s]))
	}
	fmt.Fprintf(b, "\n  Total Bytes:          %s  (%s/s)\n", FormatBytes(act.TotalBytes), FormatBytes(int64(act.BytesPerSec)))
	if act.FirstOutput >= 0 {
		fmt.Fprintf(b, "  First Output After:   %s\n", FormatMs(act.FirstOutput))
	}
	b.WriteString("\n")

	if act.TotalChunks == 0 {
		return
	}

	section(b, "Output Gaps")
	fmt.Fprintf(b, "  P50:                  %s\n", FormatMs(act.GapP50))
	fmt.Fprintf(b, "  P95:                  %s\n", FormatMs(act.GapP95))
	fmt.Fprintf(b, "  P99:                  %s\n", FormatMs(act.GapP99))
	fmt.Fprintf(b, "  Max:                  %s\n", FormatMs(act.GapMax))
	if act.SuggestedIdle > 0 {
		fmt.Fprintf(b, "  Suggested Idle:       %s", act.SuggestedIdle)
		if cfg.IdleTimeout > 0 {
			fmt.Fprintf(b, " (configured %s)", cfg.IdleTimeout)
		}
		b.WriteString("\n")
	}
	b.WriteString("\n")
}

func section(b *strings.Builder, title string) {
	pad := (len([]rune(lightRule)) - 1 - len(title)) / 2
	b.WriteString(lightRule)
	b.WriteString(strings.Repeat(" ", max(pad, 0)) + title + "\n")
	b.WriteString(lightRule + "\n")
}

func describeExit(cfg SummaryConfig) string {
	if cfg.ExitCode < 0 {
		return "unknown"
	}
	text, ok := exitcode.Text(cfg.ExitCode)
	if !ok {
		return fmt.Sprintf("%d", cfg.ExitCode)
	}
	if cfg.Signaled {
		return fmt.Sprintf("%d (%s, signaled)", cfg.ExitCode, text)
	}
	return fmt.Sprintf("%d (%s)", cfg.ExitCode, text)
}

// exitCodeLabel returns a human-readable label for common exit codes.
func exitCodeLabel(code int) string {
	switch code {
	case 0:
		return "(clean)"
	case 1:
		return "(error)"
	case 126:
		return "(not executable)"
	case 127:
		return "(not found)"
	case 137:
		return "(SIGKILL)"
	case 143:
		return "(SIGTERM)"
	default:
		return ""
	}
}

// =============================================================================
// Formatting Helper Functions (exported for reuse)
// =============================================================================

// FormatDuration formats a duration as HH:MM:SS.
func FormatDuration(d time.Duration) string {
	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	s := int(d.Seconds()) % 60
	return fmt.Sprintf("%02d:%02d:%02d", h, m, s)
}

// FormatNumber formats a number with K/M suffixes for readability.
func FormatNumber(n int64) string {
	if n >= 1_000_000 {
		return fmt.Sprintf("%.1fM", float64(n)/1_000_000)
	}
	if n >= 1_000 {
		return fmt.Sprintf("%.1fK", float64(n)/1_000)
	}
	return fmt.Sprintf("%d", n)
}

// FormatBytes formats bytes with KB/MB/GB suffixes.
func FormatBytes(n int64) string {
	if n >= 1_000_000_000 {
		return fmt.Sprintf("%.2f GB", float64(n)/1_000_000_000)
	}
	if n >= 1_000_000 {
		return fmt.Sprintf("%.2f MB", float64(n)/1_000_000)
	}
	if n >= 1_000 {
		return fmt.Sprintf("%.2f KB", float64(n)/1_000)
	}
	return fmt.Sprintf("%d B", n)
}

// FormatMs formats a duration as milliseconds.
func FormatMs(d time.Duration) string {
	ms := d.Milliseconds()
	if ms == 0 && d > 0 {
		// Sub-millisecond, show microseconds
		return fmt.Sprintf("%d µs", d.Microseconds())
	}
	return fmt.Sprintf("%d ms", ms)
}

// FormatRate formats a byte rate.
func FormatRate(bytesPerSec float64) string {
	if bytesPerSec < 0 {
		bytesPerSec = 0
	}
	return FormatBytes(int64(bytesPerSec)) + "/s"
}
