package tui

import (
	"fmt"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/randomizedcoder/go-daq-bufman/internal/bufman"
	"github.com/randomizedcoder/go-daq-bufman/internal/stats"
	"github.com/randomizedcoder/go-daq-bufman/internal/timeseries"
)

// =============================================================================
// Messages
// =============================================================================

// TickMsg is sent periodically to update the display.
type TickMsg time.Time

// SnapshotMsg carries an updated snapshot pushed by the caller.
type SnapshotMsg Snapshot

// QuitMsg signals the TUI should exit.
type QuitMsg struct{}

// commandResultMsg reports the outcome of a key-issued command.
type commandResultMsg struct {
	cmd bufman.Command
	err error
}

// =============================================================================
// Model
// =============================================================================

// Snapshot is everything the dashboard shows for one refresh.
type Snapshot struct {
	Status    bufman.Status
	Rates     timeseries.RateStats
	Rounds    stats.RoundSnapshot
	Stalls    uint64
	Consumers []stats.ConsumerLine
}

// Source provides dashboard snapshots.
type Source interface {
	Snapshot() Snapshot
}

// Controller accepts run commands. *bufman.Manager satisfies it.
type Controller interface {
	Submit(cmd bufman.Command) error
}

// LogSource provides recent log lines. *logging.Sink satisfies it.
type LogSource interface {
	RecentLines(n int) []string
}

// Config holds TUI configuration.
type Config struct {
	Device      string
	Buffers     int
	MetricsAddr string
	Source      Source
	Controller  Controller
	Logs        LogSource
}

// Model represents the TUI state.
type Model struct {
	// Configuration
	device      string
	buffers     int
	metricsAddr string

	// Current state
	snap       *Snapshot
	startTime  time.Time
	lastUpdate time.Time
	lastCmd    string
	lastErr    error

	// Display options
	width  int
	height int

	source     Source
	controller Controller
	logs       LogSource

	quitting bool
}

// New creates a new TUI model.
func New(cfg Config) Model {
	return Model{
		device:      cfg.Device,
		buffers:     cfg.Buffers,
		metricsAddr: cfg.MetricsAddr,
		source:      cfg.Source,
		controller:  cfg.Controller,
		logs:        cfg.Logs,
		startTime:   time.Now(),
		lastUpdate:  time.Now(),
		width:       80,
		height:      24,
	}
}

// =============================================================================
// Bubble Tea Interface
// =============================================================================

// Init initializes the model.
func (m Model) Init() tea.Cmd {
	return tickCmd()
}

// keyCommands maps keys to run commands.
var keyCommands = map[string]bufman.Command{
	"g": bufman.CmdRun,
	"p": bufman.CmdPause,
	"r": bufman.CmdResume,
	"s": bufman.CmdStop,
}

// Update handles messages.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		key := msg.String()
		switch key {
		case "q", "ctrl+c", "esc":
			m.quitting = true
			if m.controller != nil {
				m.controller.Submit(bufman.CmdEnd)
			}
			return m, tea.Quit
		}
		if cmd, ok := keyCommands[key]; ok {
			return m, m.submitCmd(cmd)
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		return m, nil

	case TickMsg:
		if m.source != nil {
			s := m.source.Snapshot()
			m.snap = &s
		}
		m.lastUpdate = time.Now()
		return m, tickCmd()

	case SnapshotMsg:
		s := Snapshot(msg)
		m.snap = &s
		m.lastUpdate = time.Now()
		return m, nil

	case commandResultMsg:
		m.lastCmd = msg.cmd.String()
		m.lastErr = msg.err
		return m, nil

	case QuitMsg:
		m.quitting = true
		return m, tea.Quit
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

// =============================================================================
// Commands
// =============================================================================

// tickCmd returns a command that sends a tick after 500ms.
func tickCmd() tea.Cmd {
	return tea.Tick(500*time.Millisecond, func(t time.Time) tea.Msg {
		return TickMsg(t)
	})
}

func (m Model) submitCmd(cmd bufman.Command) tea.Cmd {
	ctl := m.controller
	return func() tea.Msg {
		if ctl == nil {
			return commandResultMsg{cmd: cmd, err: fmt.Errorf("no controller")}
		}
		return commandResultMsg{cmd: cmd, err: ctl.Submit(cmd)}
	}
}

// =============================================================================
// Accessors
// =============================================================================

// State returns the last seen run state.
func (m Model) State() bufman.State {
	if m.snap == nil {
		return bufman.StateIdle
	}
	return m.snap.Status.State
}

// Elapsed returns the run time from the last snapshot, or the time since
// the dashboard started when there is none.
func (m Model) Elapsed() time.Duration {
	if m.snap == nil {
		return time.Since(m.startTime)
	}
	return m.snap.Status.Elapsed
}

// Occupancy returns ring occupancy as a fraction (0.0 to 1.0).
func (m Model) Occupancy() float64 {
	if m.snap == nil {
		return 0
	}
	return m.snap.Status.Occupancy / 100
}

// =============================================================================
// Helper for external use
// =============================================================================

// SendSnapshot pushes a snapshot to the TUI.
func SendSnapshot(p *tea.Program, s Snapshot) {
	if p != nil {
		p.Send(SnapshotMsg(s))
	}
}

// SendQuit sends a quit message to the TUI.
func SendQuit(p *tea.Program) {
	if p != nil {
		p.Send(QuitMsg{})
	}
}

// =============================================================================
// Formatting Helpers (used by view.go)
// =============================================================================

// formatDuration formats a duration as HH:MM:SS.
func formatDuration(d time.Duration) string {
	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	s := int(d.Seconds()) % 60
	return fmt.Sprintf("%02d:%02d:%02d", h, m, s)
}

// formatNumber formats a number with K/M suffixes.
func formatNumber(n uint64) string {
	if n >= 1_000_000 {
		return fmt.Sprintf("%.1fM", float64(n)/1_000_000)
	}
	if n >= 1_000 {
		return fmt.Sprintf("%.1fK", float64(n)/1_000)
	}
	return fmt.Sprintf("%d", n)
}

// formatHz formats a trigger rate.
func formatHz(rate float64) string {
	if rate >= 1000 {
		return fmt.Sprintf("%.1f kHz", rate/1000)
	}
	return fmt.Sprintf("%.2f Hz", rate)
}

// formatLatency formats a duration as ms, or µs below a millisecond.
func formatLatency(d time.Duration) string {
	if d <= 0 {
		return "-"
	}
	if d < time.Millisecond {
		return fmt.Sprintf("%d µs", d.Microseconds())
	}
	return fmt.Sprintf("%.1f ms", float64(d)/float64(time.Millisecond))
}

// formatPercent formats a value already expressed in percent.
func formatPercent(value float64) string {
	return fmt.Sprintf("%.1f%%", value)
}
