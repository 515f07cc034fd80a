package dashboard

import (
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/formloop/formloop/internal/ports"
)

// Update handles messages.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c", "esc":
			m.quitting = true
			if m.cancel != nil {
				m.cancel()
			}
			return m, tea.Quit
		}
		return m, nil

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		return m, nil

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case statusTickMsg:
		m.refreshStatus()
		return m, statusTick()

	case actionMsg:
		m.applyAction(msg.Action)
		m.refreshStatus()
		return m, waitForAction(m.actions)

	case subscriptionClosedMsg:
		m.closed = true
		return m, nil
	}

	return m, nil
}

func (m *Model) refreshStatus() {
	if m.status == nil {
		return
	}
	m.busy = m.status.Busy()
	m.queueDepth = m.status.QueueDepth()
}

// applyAction folds one bus action into the cycle list.
func (m *Model) applyAction(action ports.Action) {
	payload, ok := action.Payload.(ports.CyclePayload)
	if !ok {
		return
	}

	switch action.Type {
	case ports.ActionCycleStarted:
		m.cycles = append(m.cycles, cycleEntry{
			RequestID: payload.RequestID,
			FormID:    payload.FormID,
			StartedAt: time.Now(),
		})
		if len(m.cycles) > maxCycles {
			m.cycles = m.cycles[len(m.cycles)-maxCycles:]
		}

	case ports.ActionFetchCompleted:
		if entry := m.findCycle(payload.RequestID); entry != nil {
			entry.Fields = payload.Fields
			entry.Failed = payload.Failed
		}

	case ports.ActionCycleCompleted, ports.ActionCycleFailed:
		entry := m.findCycle(payload.RequestID)
		if entry == nil {
			// Completion for a cycle that started before the dashboard
			// attached; show it anyway.
			m.cycles = append(m.cycles, cycleEntry{
				RequestID: payload.RequestID,
				FormID:    payload.FormID,
			})
			entry = &m.cycles[len(m.cycles)-1]
		}
		entry.Terminal = action.Type
		entry.FinishedAt = time.Now()
		if entry.Fields == 0 {
			entry.Fields = payload.Fields
			entry.Failed = payload.Failed
		}
		entry.Err = payload.Err
	}
}

func (m *Model) findCycle(requestID string) *cycleEntry {
	for i := len(m.cycles) - 1; i >= 0; i-- {
		if m.cycles[i].RequestID == requestID {
			return &m.cycles[i]
		}
	}
	return nil
}
