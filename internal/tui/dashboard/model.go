// Package dashboard renders a live terminal view of the evaluation
// pipeline: the cycles flowing through the sequencer, its queue depth, and
// per-cycle fetch results.
package dashboard

import (
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/formloop/formloop/internal/ports"
)

// maxCycles bounds the recent-cycles list.
const maxCycles = 12

// SequencerStatus is what the dashboard reads from the sequencer.
type SequencerStatus interface {
	Busy() bool
	QueueDepth() int
}

// Model is the dashboard model.
type Model struct {
	status SequencerStatus

	actions <-chan ports.Action
	cancel  func()

	spinner spinner.Model

	cycles     []cycleEntry
	busy       bool
	queueDepth int
	closed     bool
	quitting   bool

	width  int
	height int
}

// NewModel creates a dashboard model subscribed to the bus's cycle actions.
func NewModel(bus ports.EventBus, status SequencerStatus) Model {
	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = spinnerStyle

	actions, cancel := bus.Subscribe(
		ports.ActionCycleStarted,
		ports.ActionCycleCompleted,
		ports.ActionCycleFailed,
		ports.ActionFetchCompleted,
	)

	return Model{
		status:  status,
		actions: actions,
		cancel:  cancel,
		spinner: s,
	}
}

// Init starts the spinner, the status ticker, and the action wait loop.
func (m Model) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, statusTick(), waitForAction(m.actions))
}
