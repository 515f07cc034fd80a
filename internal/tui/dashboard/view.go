package dashboard

import (
	"fmt"
	"strings"
	"time"

	"github.com/formloop/formloop/internal/ports"
)

// View renders the dashboard.
func (m Model) View() string {
	if m.quitting {
		return ""
	}

	var b strings.Builder

	b.WriteString(titleStyle.Render("formloop"))
	b.WriteString("\n")
	b.WriteString(m.renderStatus())
	b.WriteString("\n\n")
	b.WriteString(m.renderCycles())
	b.WriteString(helpStyle.Render("q: quit"))

	return b.String()
}

func (m Model) renderStatus() string {
	if m.closed {
		return idleStyle.Render("  bus disconnected")
	}
	if m.busy {
		return fmt.Sprintf("  %s %s",
			m.spinner.View(),
			busyStyle.Render(fmt.Sprintf("evaluating (queue %d)", m.queueDepth)))
	}
	return idleStyle.Render(fmt.Sprintf("  idle (queue %d)", m.queueDepth))
}

func (m Model) renderCycles() string {
	if len(m.cycles) == 0 {
		return idleStyle.Render("  waiting for evaluation cycles...") + "\n"
	}

	var b strings.Builder
	// Newest first.
	for i := len(m.cycles) - 1; i >= 0; i-- {
		entry := m.cycles[i]
		b.WriteString(rowStyle.Render(m.renderCycle(entry)))
		b.WriteString("\n")
		if entry.Err != "" {
			b.WriteString(errDetailStyle.Render(entry.Err))
			b.WriteString("\n")
		}
	}
	return b.String()
}

func (m Model) renderCycle(entry cycleEntry) string {
	var marker, status string
	switch entry.Terminal {
	case ports.ActionCycleCompleted:
		marker = completedStyle.Render("✓")
		status = fmt.Sprintf("%d fields", entry.Fields)
		if entry.Failed > 0 {
			status = fmt.Sprintf("%d fields, %s", entry.Fields,
				failedStyle.Render(fmt.Sprintf("%d failed", entry.Failed)))
		}
		if !entry.FinishedAt.IsZero() && !entry.StartedAt.IsZero() {
			status += fmt.Sprintf(" in %s", entry.FinishedAt.Sub(entry.StartedAt).Round(10*time.Millisecond))
		}
	case ports.ActionCycleFailed:
		marker = failedStyle.Render("✗")
		status = failedStyle.Render("failed")
	default:
		marker = runningStyle.Render(m.spinner.View())
		status = runningStyle.Render("running")
	}
	return fmt.Sprintf("%s %-24s %s", marker, entry.FormID, status)
}
