// Package tui provides a live terminal dashboard for the buffer manager.
//
// The TUI uses Bubble Tea for the application framework and Lipgloss for styling.
// It shows run state, trigger rates, ring occupancy, dispatch latency,
// consumer activity and the most recent log lines. Keys issue run commands.
package tui

import (
	"fmt"

	"github.com/charmbracelet/lipgloss"

	"github.com/randomizedcoder/go-daq-bufman/internal/bufman"
)

// =============================================================================
// Palette
// =============================================================================

var (
	colorPrimary   = lipgloss.Color("#7C3AED") // run header, ring bar
	colorSecondary = lipgloss.Color("#06B6D4") // section titles
	colorSuccess   = lipgloss.Color("#10B981")
	colorWarning   = lipgloss.Color("#F59E0B")
	colorError     = lipgloss.Color("#EF4444")
	colorInfo      = lipgloss.Color("#3B82F6")
	colorText      = lipgloss.Color("#E5E7EB")
	colorTextMuted = lipgloss.Color("#9CA3AF")
	colorTextDim   = lipgloss.Color("#6B7280")
	colorBorder    = lipgloss.Color("#374151")
)

func bold(c lipgloss.Color) lipgloss.Style {
	return lipgloss.NewStyle().Foreground(c).Bold(true)
}

// =============================================================================
// Text and Layout
// =============================================================================

var (
	mutedStyle    = lipgloss.NewStyle().Foreground(colorTextMuted)
	dimStyle      = lipgloss.NewStyle().Foreground(colorTextDim)
	unitStyle     = dimStyle
	subtitleStyle = bold(colorSecondary)

	headerStyle = bold(colorText).
			Background(colorPrimary).
			Padding(0, 1).
			MarginBottom(1)

	boxStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(colorBorder).
			Padding(0, 1)

	sectionHeaderStyle = bold(colorSecondary).
				BorderStyle(lipgloss.NormalBorder()).
				BorderBottom(true).
				BorderForeground(colorBorder).
				MarginTop(1)

	footerStyle = mutedStyle.MarginTop(1)

	labelStyle = mutedStyle.Width(20)
	valueStyle = bold(colorText)
)

// run state and threshold colours
var (
	statusOK      = bold(colorSuccess)
	statusWarning = bold(colorWarning)
	statusError   = bold(colorError)
	statusInfo    = bold(colorInfo)

	valueGoodStyle = statusOK
	valueWarnStyle = statusWarning
	valueBadStyle  = statusError
)

// ring bar
var (
	progressBarStyle      = lipgloss.NewStyle().Foreground(colorPrimary)
	progressBarEmptyStyle = lipgloss.NewStyle().Foreground(colorBorder)
	progressPercentStyle  = valueStyle
)

// =============================================================================
// Run State Indicator
// =============================================================================

// GetStateStyle returns the style for a run state.
func GetStateStyle(s bufman.State) lipgloss.Style {
	switch s {
	case bufman.StateRunning:
		return statusOK
	case bufman.StatePaused:
		return statusWarning
	case bufman.StateStopped, bufman.StateEnded:
		return statusError
	default:
		return statusInfo
	}
}

// GetStateLabel returns a styled "● state" label.
func GetStateLabel(s bufman.State) string {
	return GetStateStyle(s).Render("● " + s.String())
}

// =============================================================================
// Ring Occupancy Indicator
// =============================================================================

// OccupancyLevel classifies how full the ring is.
type OccupancyLevel int

const (
	OccupancyOK OccupancyLevel = iota
	OccupancyHigh
	OccupancyFull
)

// GetOccupancyLevel classifies an occupancy percentage.
func GetOccupancyLevel(percent float64) OccupancyLevel {
	switch {
	case percent >= 90:
		return OccupancyFull
	case percent >= 50:
		return OccupancyHigh
	default:
		return OccupancyOK
	}
}

// GetOccupancyStyle returns the style for an occupancy percentage.
func GetOccupancyStyle(percent float64) lipgloss.Style {
	switch GetOccupancyLevel(percent) {
	case OccupancyFull:
		return valueBadStyle
	case OccupancyHigh:
		return valueWarnStyle
	default:
		return valueGoodStyle
	}
}

// =============================================================================
// Fault Indicator
// =============================================================================

// GetFaultStyle returns a style for a fault counter.
func GetFaultStyle(n uint64) lipgloss.Style {
	if n == 0 {
		return valueGoodStyle
	}
	return valueBadStyle
}

// =============================================================================
// Helper Functions
// =============================================================================

// RenderKeyValue renders a label-value pair.
func RenderKeyValue(label string, value string) string {
	return lipgloss.JoinHorizontal(lipgloss.Left,
		labelStyle.Render(label+":"),
		valueStyle.Render(value),
	)
}

// RenderProgressBar renders a progress bar.
func RenderProgressBar(progress float64, width int) string {
	if width < 10 {
		width = 10
	}

	filled := int(progress * float64(width))
	if filled > width {
		filled = width
	}
	if filled < 0 {
		filled = 0
	}

	bar := progressBarStyle.Render(repeatChar('█', filled)) +
		progressBarEmptyStyle.Render(repeatChar('░', width-filled))

	percent := progressPercentStyle.Render(fmt.Sprintf(" %3.0f%%", progress*100))

	return bar + percent
}

func repeatChar(char rune, count int) string {
	if count <= 0 {
		return ""
	}
	result := make([]rune, count)
	for i := range result {
		result[i] = char
	}
	return string(result)
}
