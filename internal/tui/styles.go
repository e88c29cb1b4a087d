// Package tui provides a live terminal dashboard for one supervised process.
//
// The TUI uses Bubble Tea for the application framework and Lipgloss for
// styling. Each tick polls the process without blocking, then redraws its
// state, deadlines, output rates and the tail of its output.
package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/randomizedcoder/procwatch/internal/output"
	"github.com/randomizedcoder/procwatch/internal/supervisor"
)

// tone is the colour role of a value on screen.
type tone int

const (
	toneNeutral tone = iota
	toneGood
	toneWarn
	toneBad
	toneActive
)

// Dark theme palette.
var (
	colorHeader = lipgloss.Color("#7C3AED")
	colorRule   = lipgloss.Color("#374151")
	colorText   = lipgloss.Color("#E5E7EB")
	colorMuted  = lipgloss.Color("#9CA3AF")
	colorDim    = lipgloss.Color("#6B7280")
	colorStderr = lipgloss.Color("#F59E0B")

	toneColors = map[tone]lipgloss.Color{
		toneNeutral: colorText,
		toneGood:    lipgloss.Color("#10B981"),
		toneWarn:    lipgloss.Color("#F59E0B"),
		toneBad:     lipgloss.Color("#EF4444"),
		toneActive:  lipgloss.Color("#06B6D4"),
	}
)

func toneStyle(t tone) lipgloss.Style {
	return lipgloss.NewStyle().Foreground(toneColors[t]).Bold(true)
}

var (
	headerStyle = lipgloss.NewStyle().
			Foreground(colorText).
			Background(colorHeader).
			Bold(true).
			Padding(0, 1).
			MarginBottom(1)

	sectionHeaderStyle = lipgloss.NewStyle().
				Foreground(toneColors[toneActive]).
				Bold(true).
				BorderStyle(lipgloss.NormalBorder()).
				BorderBottom(true).
				BorderForeground(colorRule).
				MarginTop(1)

	boxStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(colorRule).
			Padding(0, 1)

	footerStyle = lipgloss.NewStyle().Foreground(colorMuted).MarginTop(1)
	labelStyle  = lipgloss.NewStyle().Foreground(colorMuted).Width(22)
	mutedStyle  = lipgloss.NewStyle().Foreground(colorMuted)
	dimStyle    = lipgloss.NewStyle().Foreground(colorDim)
	unitStyle   = dimStyle

	valueStyle    = toneStyle(toneNeutral)
	valueBadStyle = toneStyle(toneBad)

	barFilledStyle = lipgloss.NewStyle().Foreground(colorHeader)
	barEmptyStyle  = lipgloss.NewStyle().Foreground(colorRule)
)

// statusTone maps a process state to a colour. A terminated process is
// good on exit code 0 and bad otherwise.
func statusTone(status supervisor.Status, exitCode int) tone {
	switch {
	case status == supervisor.StatusStarted:
		return toneActive
	case status == supervisor.StatusTerminated && exitCode == 0:
		return toneGood
	case status == supervisor.StatusTerminated:
		return toneBad
	default:
		return toneWarn
	}
}

// StatusLabel returns a styled label such as "● terminated (3)".
func StatusLabel(status supervisor.Status, exitCode int) string {
	label := "● " + status.String()
	if status == supervisor.StatusTerminated && exitCode >= 0 {
		label += fmt.Sprintf(" (%d)", exitCode)
	}
	return toneStyle(statusTone(status, exitCode)).Render(label)
}

// deadlineTone colours how much of a timeout has been used.
func deadlineTone(ratio float64) tone {
	switch {
	case ratio >= 0.8:
		return toneBad
	case ratio >= 0.5:
		return toneWarn
	default:
		return toneGood
	}
}

// DeadlineStyle returns the style for a deadline that is ratio used.
func DeadlineStyle(ratio float64) lipgloss.Style {
	return toneStyle(deadlineTone(ratio))
}

// StreamStyle colours output lines by stream.
func StreamStyle(stream output.Stream) lipgloss.Style {
	if stream == output.Stderr {
		return lipgloss.NewStyle().Foreground(colorStderr)
	}
	return lipgloss.NewStyle().Foreground(colorText)
}

// RenderKeyValue renders a label-value pair.
func RenderKeyValue(label string, value string) string {
	return lipgloss.JoinHorizontal(lipgloss.Left,
		labelStyle.Render(label+":"),
		valueStyle.Render(value),
	)
}

// RenderProgressBar renders a bar at least 10 cells wide with a percentage.
// progress is clamped to [0, 1] for the bar but printed as given.
func RenderProgressBar(progress float64, width int) string {
	width = max(width, 10)
	filled := min(max(int(progress*float64(width)), 0), width)

	return barFilledStyle.Render(strings.Repeat("█", filled)) +
		barEmptyStyle.Render(strings.Repeat("░", width-filled)) +
		valueStyle.Render(fmt.Sprintf(" %3.0f%%", progress*100))
}
