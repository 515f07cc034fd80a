package ports

import (
	"context"
	"time"
)

// Action types recognised on the bus.
const (
	// ActionStart gates the listener; nothing is processed before it is seen
	// once.
	ActionStart = "formloop.start"

	// Trigger actions start an evaluation cycle.
	ActionFormInit          = "form.init"
	ActionFormFieldChanged  = "form.field_changed"
	ActionFormConfigChanged = "form.config_changed"

	// Readiness signals the sequencer races on before a dynamic-value fetch.
	ActionLoadingEntitiesUpdated = "entities.loading_updated"
	ActionDependencyMapUpdated   = "dependency_map.updated"

	// Cycle lifecycle notifications, consumed by the dashboard.
	ActionCycleStarted   = "cycle.started"
	ActionCycleCompleted = "cycle.completed"
	ActionCycleFailed    = "cycle.failed"
	ActionFetchCompleted = "cycle.fetch_completed"
)

// TriggerActionTypes lists the action types that start a sequencer cycle.
func TriggerActionTypes() []string {
	return []string{ActionFormInit, ActionFormFieldChanged, ActionFormConfigChanged}
}

// Action is one message on the bus.
type Action struct {
	Type    string
	Payload any
}

// CyclePayload is the payload of cycle lifecycle actions.
type CyclePayload struct {
	RequestID  string
	FormID     string
	QueueDepth int
	Fields     int
	Failed     int
	Err        string
}

// EventBus is the in-process action bus connecting the ingress, the
// sequencer, and observers.
type EventBus interface {
	Publish(ctx context.Context, action Action) error

	// Subscribe returns a channel receiving every published action of the
	// given types, and a cancel func that closes it.
	Subscribe(types ...string) (<-chan Action, func())

	// WaitAny blocks until the first action of any of the given types, the
	// timeout elapses (when positive), or ctx is done.
	WaitAny(ctx context.Context, timeout time.Duration, types ...string) (Action, error)
}
