package tui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/randomizedcoder/go-daq-bufman/internal/stats"
)

// =============================================================================
// Main View Rendering
// =============================================================================

// renderDashboard renders the full dashboard.
func (m Model) renderDashboard() string {
	var sections []string

	sections = append(sections, m.renderHeader())

	if m.snap == nil {
		sections = append(sections, boxStyle.Width(m.width-2).Render(
			mutedStyle.Render("Waiting for first status snapshot..."),
		))
	} else {
		sections = append(sections, m.renderAcquisition())
		sections = append(sections, m.renderRing())

		// Latency only once something was dispatched
		if m.snap.Rounds.Hold.Count > 0 {
			sections = append(sections, m.renderLatency())
		}
		if len(m.snap.Consumers) > 0 {
			sections = append(sections, m.renderConsumers())
		}
		if m.hasFaults() {
			sections = append(sections, m.renderFaults())
		}
	}

	if logs := m.renderLogs(); logs != "" {
		sections = append(sections, logs)
	}

	sections = append(sections, m.renderFooter())

	return lipgloss.JoinVertical(lipgloss.Left, sections...)
}

// =============================================================================
// Header
// =============================================================================

func (m Model) renderHeader() string {
	header := fmt.Sprintf(
		" daq-bufman │ %s │ Device: %s │ Elapsed: %s ",
		GetStateLabel(m.State()),
		m.device,
		formatDuration(m.Elapsed()),
	)
	return headerStyle.Width(m.width).Render(header)
}

// =============================================================================
// Acquisition
// =============================================================================

func (m Model) renderAcquisition() string {
	st := m.snap.Status
	r := m.snap.Rates

	left := []string{
		RenderKeyValue("Triggers", formatNumber(st.Triggers)),
		RenderKeyValue("Trigger Rate", formatHz(st.Rate)),
		RenderKeyValue("Life Time", st.LifeTime.Round(100*time.Millisecond).String()),
		RenderKeyValue("Duty Cycle", formatPercent(st.DutyCycle)),
		RenderKeyValue("Last Trigger", fmt.Sprintf("%.2f s", st.LastTrigger)),
	}
	right := []string{
		subtitleStyle.Render("Rolling rate"),
		RenderKeyValue("1s", formatHz(r.Avg1s)),
		RenderKeyValue("30s", formatHz(r.Avg30s)),
		RenderKeyValue("60s", formatHz(r.Avg60s)),
		RenderKeyValue("300s", formatHz(r.Avg300s)),
	}

	content := lipgloss.JoinVertical(lipgloss.Left,
		sectionHeaderStyle.Render("Acquisition"),
		renderTwoColumns(left, right, m.width-2),
	)
	return boxStyle.Width(m.width - 2).Render(content)
}

// =============================================================================
// Ring & Dispatch
// =============================================================================

func (m Model) renderRing() string {
	st := m.snap.Status
	rounds := m.snap.Rounds

	barWidth := m.width - 30
	if barWidth < 20 {
		barWidth = 20
	}

	rows := []string{
		RenderProgressBar(m.Occupancy(), barWidth),
		lipgloss.JoinHorizontal(lipgloss.Left,
			labelStyle.Render("Occupancy:"),
			GetOccupancyStyle(st.Occupancy).Render(formatPercent(st.Occupancy)),
			unitStyle.Render(fmt.Sprintf("  of %d buffers", m.buffers)),
		),
		RenderKeyValue("Rounds", formatNumber(rounds.Rounds)),
		RenderKeyValue("Obligatory", formatNumber(rounds.ObligatoryRounds)),
		RenderKeyValue("Consumers", fmt.Sprintf("%d local, %d external", st.Consumers, st.Externals)),
	}
	if rounds.ExternalDelivered+rounds.ExternalSkipped > 0 {
		rows = append(rows, RenderKeyValue("External",
			fmt.Sprintf("%s delivered, %s skipped (%.1f%%)",
				formatNumber(rounds.ExternalDelivered),
				formatNumber(rounds.ExternalSkipped),
				rounds.ExternalSkipRate(),
			)))
	}

	content := lipgloss.JoinVertical(lipgloss.Left,
		append([]string{sectionHeaderStyle.Render("Ring & Dispatch")}, rows...)...,
	)
	return boxStyle.Width(m.width - 2).Render(content)
}

// =============================================================================
// Latency
// =============================================================================

func (m Model) renderLatency() string {
	rounds := m.snap.Rounds

	rows := []string{
		mutedStyle.Render(fmt.Sprintf("%-18s %10s %10s %10s %10s", "", "P50", "P95", "P99", "Max")),
		renderLatencyRow("Slot hold", rounds.Hold),
	}
	if rounds.ObligatoryWait.Count > 0 {
		rows = append(rows, renderLatencyRow("Obligatory wait", rounds.ObligatoryWait))
	}

	content := lipgloss.JoinVertical(lipgloss.Left,
		append([]string{sectionHeaderStyle.Render("Dispatch Latency")}, rows...)...,
	)
	return boxStyle.Width(m.width - 2).Render(content)
}

func renderLatencyRow(label string, p stats.LatencyPercentiles) string {
	return lipgloss.JoinHorizontal(lipgloss.Left,
		labelStyle.Width(19).Render(label),
		valueStyle.Render(fmt.Sprintf("%10s %10s %10s %10s",
			formatLatency(p.P50), formatLatency(p.P95), formatLatency(p.P99), formatLatency(p.Max))),
	)
}

// =============================================================================
// Consumers
// =============================================================================

func (m Model) renderConsumers() string {
	rows := make([]string, 0, len(m.snap.Consumers))
	for _, c := range m.snap.Consumers {
		rows = append(rows, RenderKeyValue(c.Name, c.Detail))
	}
	content := lipgloss.JoinVertical(lipgloss.Left,
		append([]string{sectionHeaderStyle.Render("Consumers")}, rows...)...,
	)
	return boxStyle.Width(m.width - 2).Render(content)
}

// =============================================================================
// Faults
// =============================================================================

func (m Model) hasFaults() bool {
	return m.snap != nil && (m.snap.Status.ConsistencyFaults > 0 || m.snap.Stalls > 0)
}

func (m Model) renderFaults() string {
	st := m.snap.Status
	rows := []string{
		lipgloss.JoinHorizontal(lipgloss.Left,
			labelStyle.Render("Consistency:"),
			GetFaultStyle(st.ConsistencyFaults).Render(formatNumber(st.ConsistencyFaults)),
		),
		lipgloss.JoinHorizontal(lipgloss.Left,
			labelStyle.Render("Stalls:"),
			GetFaultStyle(m.snap.Stalls).Render(formatNumber(m.snap.Stalls)),
		),
	}
	content := lipgloss.JoinVertical(lipgloss.Left,
		append([]string{sectionHeaderStyle.Render("Faults")}, rows...)...,
	)
	return boxStyle.Width(m.width - 2).Render(content)
}

// =============================================================================
// Log Lines
// =============================================================================

// logLines returns how many log lines fit below the panels.
func (m Model) logLines() int {
	n := m.height - 30
	if n < 3 {
		n = 3
	}
	if n > 10 {
		n = 10
	}
	return n
}

func (m Model) renderLogs() string {
	if m.logs == nil {
		return ""
	}
	lines := m.logs.RecentLines(m.logLines())
	if len(lines) == 0 {
		return ""
	}

	maxLen := m.width - 6
	rows := make([]string, 0, len(lines))
	for _, l := range lines {
		if maxLen > 10 && len(l) > maxLen {
			l = l[:maxLen-3] + "..."
		}
		rows = append(rows, dimStyle.Render(l))
	}
	content := lipgloss.JoinVertical(lipgloss.Left,
		append([]string{sectionHeaderStyle.Render("Log")}, rows...)...,
	)
	return boxStyle.Width(m.width - 2).Render(content)
}

// =============================================================================
// Footer
// =============================================================================

func (m Model) renderFooter() string {
	shortcuts := []string{
		"g: run",
		"p: pause",
		"r: resume",
		"s: stop",
		"q: end",
	}

	left := dimStyle.Render(strings.Join(shortcuts, " │ "))

	var right string
	switch {
	case m.lastErr != nil:
		right = statusError.Render(m.lastCmd + ": " + m.lastErr.Error())
	case m.lastCmd != "":
		right = statusOK.Render(m.lastCmd + ": ok")
	case m.metricsAddr != "":
		right = dimStyle.Render("Metrics: http://" + m.metricsAddr + "/metrics")
	}

	padding := m.width - lipgloss.Width(left) - lipgloss.Width(right) - 2
	if padding < 1 {
		padding = 1
	}

	return footerStyle.Render(
		lipgloss.JoinHorizontal(lipgloss.Left,
			left,
			strings.Repeat(" ", padding),
			right,
		),
	)
}

// =============================================================================
// Two-Column Layout Helper
// =============================================================================

// renderTwoColumns renders two columns side-by-side with a separator.
func renderTwoColumns(left, right []string, totalWidth int) string {
	separatorWidth := 3 // " │ "
	padding := 2
	availableWidth := totalWidth - separatorWidth - padding*2

	leftWidth := availableWidth / 2
	if leftWidth < 20 {
		leftWidth = 20
	}

	leftContent := lipgloss.NewStyle().Width(leftWidth).Render(
		lipgloss.JoinVertical(lipgloss.Left, left...),
	)
	rightContent := lipgloss.JoinVertical(lipgloss.Left, right...)

	separator := mutedStyle.Render(" │ ")
	return lipgloss.JoinHorizontal(lipgloss.Top, leftContent, separator, rightContent)
}
