package dashboard

import (
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/formloop/formloop/internal/ports"
)

// waitForAction blocks on the subscription channel and converts the next
// action into a message. Update re-issues it after every delivery.
func waitForAction(actions <-chan ports.Action) tea.Cmd {
	return func() tea.Msg {
		action, ok := <-actions
		if !ok {
			return subscriptionClosedMsg{}
		}
		return actionMsg{Action: action}
	}
}

// statusTick refreshes the queue/busy line between bus actions.
func statusTick() tea.Cmd {
	return tea.Tick(500*time.Millisecond, func(t time.Time) tea.Msg {
		return statusTickMsg{At: t}
	})
}
