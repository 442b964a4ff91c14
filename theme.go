package main

import "github.com/charmbracelet/lipgloss"

// Adaptive colors work on light and dark terminals; lipgloss drops them when
// NO_COLOR is set or output is not a terminal.
var (
	colorError  = lipgloss.AdaptiveColor{Light: "#c62828", Dark: "#ef5350"}
	colorOK     = lipgloss.AdaptiveColor{Light: "#2e7d32", Dark: "#66bb6a"}
	colorInfo   = lipgloss.AdaptiveColor{Light: "#0277bd", Dark: "#4fc3f7"}
	colorMuted  = lipgloss.AdaptiveColor{Light: "#757575", Dark: "#9e9e9e"}
	colorAccent = lipgloss.AdaptiveColor{Light: "#1565c0", Dark: "#42a5f5"}
)

var (
	styleTitle    = lipgloss.NewStyle().Bold(true).MarginBottom(1)
	styleHeading  = lipgloss.NewStyle().Bold(true)
	styleError    = lipgloss.NewStyle().Foreground(colorError)
	styleOK       = lipgloss.NewStyle().Foreground(colorOK).Bold(true)
	styleDim      = lipgloss.NewStyle().Foreground(colorMuted)
	styleSelected = lipgloss.NewStyle().Foreground(colorAccent).Bold(true)
	styleButton   = lipgloss.NewStyle().Foreground(colorInfo)
	styleDisabled = lipgloss.NewStyle().Foreground(colorMuted).Faint(true)
)

func connStateStyle(s ConnState) lipgloss.Style {
	switch s {
	case StateOpen:
		return styleOK
	case StateClosed:
		return styleError
	default:
		return styleDim
	}
}
