package tui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/randomizedcoder/procwatch/internal/stats"
	"github.com/randomizedcoder/procwatch/internal/supervisor"
)

// =============================================================================
// Dashboard
// =============================================================================

func (m Model) renderDashboard() string {
	sections := []string{
		m.renderHeader(),
		m.renderProcess(),
		m.renderDeadlines(),
		m.renderOutput(),
	}
	if m.showLog {
		sections = append(sections, m.renderLog())
	}
	sections = append(sections, m.renderFooter())
	return lipgloss.JoinVertical(lipgloss.Left, sections...)
}

func (m Model) renderHeader() string {
	title := headerStyle.Render("procwatch")
	status := supervisor.StatusReady
	if m.proc != nil {
		status = m.proc.Status()
	}
	return lipgloss.JoinHorizontal(lipgloss.Top, title, " ", StatusLabel(status, m.exitCode))
}

func (m Model) renderProcess() string {
	if m.proc == nil {
		return boxStyle.Render(mutedStyle.Render("no process"))
	}

	lines := []string{
		sectionHeaderStyle.Render("Process"),
		RenderKeyValue("Command", truncate(m.proc.CommandLine(), max(m.width-26, 20))),
		RenderKeyValue("PID", pidString(m.proc.Pid())),
		RenderKeyValue("Uptime", stats.FormatDuration(m.proc.Uptime())),
	}
	if !m.running && m.exitCode >= 0 {
		exit := fmt.Sprintf("%d", m.exitCode)
		if text := m.proc.ExitCodeText(); text != "" {
			exit += " " + dimStyle.Render("("+text+")")
		}
		lines = append(lines, RenderKeyValue("Exit", exit))
	}
	if m.err != nil {
		lines = append(lines, RenderKeyValue("Error", valueBadStyle.Render(m.err.Error())))
	}
	return strings.Join(lines, "\n")
}

func (m Model) renderDeadlines() string {
	if m.proc == nil {
		return ""
	}
	overall, idle := m.proc.Timeout(), m.proc.IdleTimeout()
	if overall == 0 && idle == 0 {
		return ""
	}

	barWidth := min(max(m.width-40, 10), 40)
	lines := []string{sectionHeaderStyle.Render("Deadlines")}
	if overall > 0 {
		lines = append(lines, renderDeadline("Timeout", m.proc.Uptime(), overall, barWidth))
	}
	if idle > 0 {
		lines = append(lines, renderDeadline("Idle timeout", m.snapshot.SinceLast, idle, barWidth))
	}
	return strings.Join(lines, "\n")
}

func renderDeadline(label string, used, limit time.Duration, width int) string {
	ratio := used.Seconds() / limit.Seconds()
	return lipgloss.JoinHorizontal(lipgloss.Left,
		labelStyle.Render(label+":"),
		RenderProgressBar(ratio, width),
		" ",
		DeadlineStyle(ratio).Render(fmt.Sprintf("%s / %s", used.Truncate(100*time.Millisecond), limit)),
	)
}

func (m Model) renderOutput() string {
	s := m.snapshot
	lines := []string{
		sectionHeaderStyle.Render("Output"),
		renderStreamRow("stdout", s.Bytes["stdout"], s.Chunks["stdout"]),
		renderStreamRow("stderr", s.Bytes["stderr"], s.Chunks["stderr"]),
		RenderKeyValue("Rate 1s / 10s / 60s", fmt.Sprintf("%s  %s  %s",
			stats.FormatRate(m.rateStats.Avg1s),
			stats.FormatRate(m.rateStats.Avg10s),
			stats.FormatRate(m.rateStats.Avg60s),
		)),
	}
	if s.TotalChunks > 0 {
		lines = append(lines,
			RenderKeyValue("Gap p50 / p99 / max", fmt.Sprintf("%s  %s  %s",
				stats.FormatMs(s.GapP50), stats.FormatMs(s.GapP99), stats.FormatMs(s.GapMax))),
			RenderKeyValue("Since last output", stats.FormatMs(s.SinceLast)),
		)
	}
	if s.SuggestedIdle > 0 {
		lines = append(lines, RenderKeyValue("Suggested idle", s.SuggestedIdle.String()))
	}
	return strings.Join(lines, "\n")
}

func renderStreamRow(name string, bytes, chunks int64) string {
	return lipgloss.JoinHorizontal(lipgloss.Left,
		labelStyle.Render(name+":"),
		valueStyle.Render(fmt.Sprintf("%10s", stats.FormatBytes(bytes))),
		unitStyle.Render(fmt.Sprintf("  %s chunks", stats.FormatNumber(chunks))),
	)
}

func (m Model) renderLog() string {
	header := sectionHeaderStyle.Render("Recent output")
	if m.lines == nil {
		return header + "\n" + dimStyle.Render("(not captured)")
	}
	recent := m.lines.RecentLines(logTailLines)
	if len(recent) == 0 {
		return header + "\n" + dimStyle.Render("(none yet)")
	}

	width := max(m.width-4, 20)
	rows := make([]string, 0, len(recent))
	for _, l := range recent {
		rows = append(rows, StreamStyle(l.Stream).Render(truncate(l.Text, width)))
	}
	return header + "\n" + boxStyle.Render(strings.Join(rows, "\n"))
}

func (m Model) renderFooter() string {
	keys := "q: stop & quit  l: toggle log"
	if m.metricsAddr != "" {
		keys += "  metrics: http://" + m.metricsAddr + "/metrics"
	}
	return footerStyle.Render(keys)
}

// =============================================================================
// Helpers
// =============================================================================

func pidString(pid int) string {
	if pid == 0 {
		return "-"
	}
	return fmt.Sprintf("%d", pid)
}

// truncate shortens s to n runes, marking the cut with an ellipsis.
func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	if n <= 1 {
		return string(r[:n])
	}
	return string(r[:n-1]) + "…"
}
