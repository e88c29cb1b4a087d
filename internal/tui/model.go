package tui

import (
	"os"
	"syscall"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/randomizedcoder/procwatch/internal/logging"
	"github.com/randomizedcoder/procwatch/internal/stats"
	"github.com/randomizedcoder/procwatch/internal/supervisor"
)

// DefaultTickInterval is how often the dashboard advances the process.
const DefaultTickInterval = 100 * time.Millisecond

// logTailLines is how many recent output lines the log panel shows.
const logTailLines = 10

// =============================================================================
// Messages
// =============================================================================

// TickMsg is sent periodically to advance the process and redraw.
type TickMsg time.Time

// QuitMsg asks the dashboard to stop the process and exit.
type QuitMsg struct{}

// =============================================================================
// Model
// =============================================================================

// Process is the part of a supervised process the dashboard drives.
// *supervisor.Process satisfies it.
type Process interface {
	Poll(block time.Duration) (bool, error)
	Stop(grace time.Duration, sig os.Signal) error
	CommandLine() string
	Pid() int
	Status() supervisor.Status
	Uptime() time.Duration
	ExitCode() (int, error)
	ExitCodeText() string
	Timeout() time.Duration
	IdleTimeout() time.Duration
}

// LineSource provides recent output lines. *logging.OutputHandler
// satisfies it.
type LineSource interface {
	RecentLines(n int) []logging.Line
}

// Config holds TUI configuration.
type Config struct {
	Process     Process
	Activity    *stats.Activity
	Rate        *stats.OutputRate
	Lines       LineSource
	MetricsAddr string

	// StopGrace and StopSignal are used when the user quits while the
	// process is still running.
	StopGrace  time.Duration
	StopSignal os.Signal

	// Hold keeps the dashboard open after the process exits.
	Hold bool

	TickInterval time.Duration

	// PollBudget is how long each tick may keep polling so a chatty child
	// is not throttled by the redraw rate. Zero polls once per tick.
	PollBudget time.Duration
}

// Model represents the TUI state. All process access happens inside
// Update, so the process is only ever driven from one goroutine.
type Model struct {
	proc        Process
	activity    *stats.Activity
	rate        *stats.OutputRate
	lines       LineSource
	metricsAddr string
	grace       time.Duration
	sig         os.Signal
	hold        bool
	interval    time.Duration
	budget      time.Duration

	// Current state
	running   bool
	err       error
	exitCode  int
	snapshot  stats.ActivitySnapshot
	rateStats stats.RateStats
	lastTick  time.Time
	showLog   bool

	// Display options
	width  int
	height int

	quitting bool
}

// New creates a new TUI model for a started process.
func New(cfg Config) Model {
	interval := cfg.TickInterval
	if interval <= 0 {
		interval = DefaultTickInterval
	}
	sig := cfg.StopSignal
	if sig == nil {
		sig = syscall.SIGTERM
	}
	grace := cfg.StopGrace
	if grace <= 0 {
		grace = supervisor.DefaultStopGrace
	}
	return Model{
		proc:        cfg.Process,
		activity:    cfg.Activity,
		rate:        cfg.Rate,
		lines:       cfg.Lines,
		metricsAddr: cfg.MetricsAddr,
		grace:       grace,
		sig:         sig,
		hold:        cfg.Hold,
		interval:    interval,
		budget:      cfg.PollBudget,
		running:     cfg.Process != nil && cfg.Process.Status() == supervisor.StatusStarted,
		exitCode:    -1,
		showLog:     true,
		width:       80,
		height:      24,
	}
}

// =============================================================================
// Bubble Tea Interface
// =============================================================================

// Init initializes the model.
func (m Model) Init() tea.Cmd {
	return tickCmd(m.interval)
}

// Update handles messages.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c", "esc":
			return m.quit()
		case "l":
			m.showLog = !m.showLog
			return m, nil
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		return m, nil

	case TickMsg:
		m.lastTick = time.Time(msg)
		m.advance()
		if !m.running && !m.hold {
			m.quitting = true
			return m, tea.Quit
		}
		return m, tickCmd(m.interval)

	case QuitMsg:
		return m.quit()
	}

	return m, nil
}

// View renders the TUI.
func (m Model) View() string {
	if m.quitting {
		return ""
	}
	return m.renderDashboard()
}

// pollSlice caps a single blocking poll inside the budget.
const pollSlice = 5 * time.Millisecond

// advance runs one non-blocking tick of the process and refreshes the
// derived statistics.
func (m *Model) advance() {
	if m.running && m.proc != nil {
		deadline := time.Now().Add(m.budget)
		for {
			running, err := m.proc.Poll(min(pollSlice, max(m.budget, 0)))
			if err != nil && m.err == nil {
				m.err = err
			}
			m.running = running
			if !running || err != nil || !time.Now().Before(deadline) {
				break
			}
		}
		if !m.running {
			m.exitCode, _ = m.proc.ExitCode()
		}
	}
	if m.rate != nil {
		m.rate.Sample()
		m.rateStats = m.rate.Stats()
	}
	if m.activity != nil {
		m.snapshot = m.activity.Snapshot()
	}
}

// quit stops a running process before exiting. The dashboard blocks for
// at most the grace period plus the kill wait.
func (m Model) quit() (tea.Model, tea.Cmd) {
	if m.running && m.proc != nil {
		if err := m.proc.Stop(m.grace, m.sig); err != nil && m.err == nil {
			m.err = err
		}
		m.running = false
		m.exitCode, _ = m.proc.ExitCode()
	}
	m.quitting = true
	return m, tea.Quit
}

// =============================================================================
// Commands
// =============================================================================

func tickCmd(d time.Duration) tea.Cmd {
	return tea.Tick(d, func(t time.Time) tea.Msg {
		return TickMsg(t)
	})
}

// =============================================================================
// Accessors
// =============================================================================

// Running reports whether the process was running at the last tick.
func (m Model) Running() bool { return m.running }

// Err returns the first error the process reported, such as a timeout.
func (m Model) Err() error { return m.err }

// ExitCode returns the exit code once the process has terminated, else -1.
func (m Model) ExitCode() int { return m.exitCode }

// =============================================================================
// Helper for external use
// =============================================================================

// SendQuit sends a quit message to the TUI.
func SendQuit(p *tea.Program) {
	if p != nil {
		p.Send(QuitMsg{})
	}
}
