package dashboard

import (
	"time"

	"github.com/formloop/formloop/internal/ports"
)

// actionMsg carries one bus action into the update loop.
type actionMsg struct {
	Action ports.Action
}

// subscriptionClosedMsg indicates the bus subscription is gone; the
// dashboard keeps rendering but stops waiting for actions.
type subscriptionClosedMsg struct{}

// statusTickMsg drives the periodic queue-depth refresh.
type statusTickMsg struct {
	At time.Time
}

// cycleEntry is one row of the recent-cycles list.
type cycleEntry struct {
	RequestID  string
	FormID     string
	Terminal   string // cycle.completed, cycle.failed, or empty while running
	Fields     int
	Failed     int
	Err        string
	StartedAt  time.Time
	FinishedAt time.Time
}
