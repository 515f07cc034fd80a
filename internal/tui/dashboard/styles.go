package dashboard

import (
	"github.com/charmbracelet/lipgloss"
)

var (
	// Colors
	primaryColor = lipgloss.Color("99")  // Purple
	successColor = lipgloss.Color("42")  // Green
	warningColor = lipgloss.Color("226") // Yellow
	errorColor   = lipgloss.Color("196") // Red
	mutedColor   = lipgloss.Color("245") // Gray
	accentColor  = lipgloss.Color("212") // Pink

	// Title style
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(primaryColor).
			PaddingLeft(2).
			PaddingRight(2).
			MarginBottom(1)

	// Status line styles
	busyStyle = lipgloss.NewStyle().
			Foreground(accentColor).
			Bold(true)

	idleStyle = lipgloss.NewStyle().
			Foreground(mutedColor)

	// Cycle row styles
	rowStyle = lipgloss.NewStyle().
			PaddingLeft(2)

	completedStyle = lipgloss.NewStyle().
			Foreground(successColor).
			Bold(true)

	runningStyle = lipgloss.NewStyle().
			Foreground(warningColor)

	failedStyle = lipgloss.NewStyle().
			Foreground(errorColor).
			Bold(true)

	errDetailStyle = lipgloss.NewStyle().
			Foreground(errorColor).
			PaddingLeft(6)

	// Help footer
	helpStyle = lipgloss.NewStyle().
			Foreground(mutedColor).
			MarginTop(1).
			PaddingLeft(2)

	spinnerStyle = lipgloss.NewStyle().
			Foreground(accentColor)
)
