package sequencer

import (
	"context"
	"errors"

	"github.com/formloop/formloop/internal/domain/evaluation"
	"github.com/formloop/formloop/internal/infrastructure/reporting"
	"github.com/formloop/formloop/internal/logger"
	"github.com/formloop/formloop/internal/ports"
)

// submitter is what the listener needs from the sequencer.
type submitter interface {
	Submit(req evaluation.EvaluationRequest) error
}

// Listener bridges the action bus to the sequencer. It waits for the
// one-time start action, then forwards every trigger action's payload to
// Submit. An error escaping one iteration is logged and reported; the loop
// itself restarts until ctx is done, so the service never stops listening.
type Listener struct {
	bus      ports.EventBus
	seq      submitter
	log      ports.Logger
	reporter ports.ErrorReporter
}

// ListenerOption configures a Listener.
type ListenerOption func(*Listener)

// WithListenerLogger injects a logger.
func WithListenerLogger(log ports.Logger) ListenerOption {
	return func(l *Listener) {
		if log != nil {
			l.log = log
		}
	}
}

// WithListenerReporter injects an error reporter.
func WithListenerReporter(reporter ports.ErrorReporter) ListenerOption {
	return func(l *Listener) {
		if reporter != nil {
			l.reporter = reporter
		}
	}
}

// NewListener constructs a Listener.
func NewListener(bus ports.EventBus, seq submitter, opts ...ListenerOption) *Listener {
	l := &Listener{
		bus:      bus,
		seq:      seq,
		log:      logger.NewNoOp(),
		reporter: reporting.NoopReporter{},
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Run blocks until ctx is done.
func (l *Listener) Run(ctx context.Context) error {
	if _, err := l.bus.WaitAny(ctx, 0, ports.ActionStart); err != nil {
		return err
	}
	l.log.Info(ctx, "listener started", "trigger_types", ports.TriggerActionTypes())

	for {
		err := l.listen(ctx)
		if err == nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) ||
			evaluation.HasCode(err, evaluation.ErrCodeCancelled) {
			return err
		}
		l.log.Error(ctx, "listener loop failed, restarting", "error", err)
		l.reporter.Capture(ctx, err, map[string]string{"component": "listener"})
	}
}

func (l *Listener) listen(ctx context.Context) error {
	actions, cancel := l.bus.Subscribe(ports.TriggerActionTypes()...)
	defer cancel()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case action, ok := <-actions:
			if !ok {
				return evaluation.NewInternalError("action subscription closed", nil)
			}
			req, err := requestFromAction(action)
			if err != nil {
				return err
			}
			if err := l.seq.Submit(req); err != nil {
				return err
			}
		}
	}
}

func requestFromAction(action ports.Action) (evaluation.EvaluationRequest, error) {
	switch payload := action.Payload.(type) {
	case evaluation.EvaluationRequest:
		return payload, nil
	case *evaluation.EvaluationRequest:
		if payload == nil {
			break
		}
		return *payload, nil
	}
	return evaluation.EvaluationRequest{}, evaluation.NewValidationError("trigger action carries no evaluation request", map[string]any{
		"action_type": action.Type,
	})
}
