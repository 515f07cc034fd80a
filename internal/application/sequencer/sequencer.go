// Package sequencer serializes form evaluation requests and resolves
// dynamically-computed field values.
package sequencer

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/formloop/formloop/internal/domain/evaluation"
	"github.com/formloop/formloop/internal/infrastructure/reporting"
	"github.com/formloop/formloop/internal/infrastructure/telemetry"
	"github.com/formloop/formloop/internal/logger"
	"github.com/formloop/formloop/internal/ports"
)

// dynamicFetcher is what the sequencer needs from the fetcher.
type dynamicFetcher interface {
	FetchAll(ctx context.Context, keys []string, formID string, out evaluation.EvaluationOutput, datasourceID, pluginID string) error
}

// Sequencer is the single-owner actor serializing evaluation cycles. It owns
// the queue and the busy state; the only entry point is Submit. At most one
// cycle, computation plus its dependent fetch cascade, runs at a time;
// requests submitted meanwhile queue up in arrival order.
type Sequencer struct {
	evaluator ports.Evaluator
	store     ports.StateStore
	bus       ports.EventBus
	fetcher   dynamicFetcher
	log       ports.Logger
	reporter  ports.ErrorReporter
	tracer    trace.Tracer

	settleDelay   time.Duration
	signalTimeout time.Duration

	mu    sync.Mutex
	queue []evaluation.EvaluationRequest
	wake  chan struct{}
	busy  atomic.Bool
}

// Option configures a Sequencer.
type Option func(*Sequencer)

// WithLogger injects a logger.
func WithLogger(log ports.Logger) Option {
	return func(s *Sequencer) {
		if log != nil {
			s.log = log
		}
	}
}

// WithReporter injects an error reporter.
func WithReporter(reporter ports.ErrorReporter) Option {
	return func(s *Sequencer) {
		if reporter != nil {
			s.reporter = reporter
		}
	}
}

// WithTracer injects a tracer.
func WithTracer(tracer trace.Tracer) Option {
	return func(s *Sequencer) {
		if tracer != nil {
			s.tracer = tracer
		}
	}
}

// WithSettleDelay overrides the pause between a readiness signal and the
// fetch cascade.
func WithSettleDelay(delay time.Duration) Option {
	return func(s *Sequencer) {
		s.settleDelay = delay
	}
}

// WithSignalTimeout bounds the wait for a readiness signal.
func WithSignalTimeout(timeout time.Duration) Option {
	return func(s *Sequencer) {
		s.signalTimeout = timeout
	}
}

// Defaults applied when options do not override them.
const (
	DefaultSettleDelay   = 500 * time.Millisecond
	DefaultSignalTimeout = 10 * time.Second
)

// New constructs a Sequencer.
func New(evaluator ports.Evaluator, store ports.StateStore, bus ports.EventBus, fetcher dynamicFetcher, opts ...Option) *Sequencer {
	s := &Sequencer{
		evaluator:     evaluator,
		store:         store,
		bus:           bus,
		fetcher:       fetcher,
		log:           logger.NewNoOp(),
		reporter:      reporting.NoopReporter{},
		tracer:        telemetry.NoopTracer(),
		settleDelay:   DefaultSettleDelay,
		signalTimeout: DefaultSignalTimeout,
		wake:          make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Submit enqueues a request and wakes the actor. It never blocks on the
// cycle itself.
func (s *Sequencer) Submit(req evaluation.EvaluationRequest) error {
	if req.FormID == "" {
		return evaluation.NewValidationError("request form id is empty", nil)
	}
	if req.ID == "" {
		req.ID = uuid.NewString()
	}

	s.mu.Lock()
	s.queue = append(s.queue, req)
	depth := len(s.queue)
	s.mu.Unlock()

	s.log.Debug(context.Background(), "request submitted",
		"request_id", req.ID, "form_id", req.FormID, "queue_depth", depth)

	select {
	case s.wake <- struct{}{}:
	default:
	}
	return nil
}

// Busy reports whether an evaluation cycle, including its fetch cascade, is
// in flight.
func (s *Sequencer) Busy() bool { return s.busy.Load() }

// QueueDepth reports the number of queued requests.
func (s *Sequencer) QueueDepth() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.queue)
}

// Run drains the queue until ctx is done. Requests are processed strictly in
// arrival order. A failed cycle stops draining until the next Submit: queued
// requests stay put rather than being retried or dropped.
func (s *Sequencer) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-s.wake:
		}

		for {
			req, ok := s.pop()
			if !ok {
				break
			}
			if err := s.runCycle(ctx, req); err != nil {
				if evaluation.HasCode(err, evaluation.ErrCodeCancelled) {
					return err
				}
				s.log.Error(ctx, "evaluation cycle failed",
					"request_id", req.ID, "form_id", req.FormID, "error", err)
				s.reporter.Capture(ctx, err, map[string]string{
					"request_id": req.ID,
					"form_id":    req.FormID,
				})
				// A failed cycle leaves the queue untouched until the next
				// submission, including any pending wake from submissions
				// that arrived during the failed cycle.
				select {
				case <-s.wake:
				default:
				}
				break
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
		}
	}
}

func (s *Sequencer) pop() (evaluation.EvaluationRequest, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.queue) == 0 {
		return evaluation.EvaluationRequest{}, false
	}
	req := s.queue[0]
	s.queue = s.queue[1:]
	return req, true
}

// runCycle performs one full evaluation cycle: read state, evaluate, publish,
// then resolve dynamic values for the processed form. The cascade belongs to
// the cycle, so the next queued request starts only after every fetch has
// finished.
func (s *Sequencer) runCycle(ctx context.Context, req evaluation.EvaluationRequest) error {
	s.busy.Store(true)
	defer s.busy.Store(false)

	ctx = logger.WithCorrelationID(ctx, req.ID)
	ctx, span := s.tracer.Start(ctx, "formloop.cycle", trace.WithAttributes(
		attribute.String("formloop.request_id", req.ID),
		attribute.String("formloop.form_id", req.FormID),
		attribute.Int("formloop.queue_depth", s.QueueDepth()),
	))
	defer span.End()

	s.publishCycleEvent(ctx, ports.ActionCycleStarted, req, 0, 0, nil)

	current, err := s.store.Snapshot(ctx)
	if err != nil {
		return s.failCycle(ctx, span, req, err)
	}

	response, err := s.evaluator.Evaluate(ctx, req, current)
	if err != nil {
		if ctx.Err() != nil {
			return evaluation.NewCancelledError("cycle cancelled", ctx.Err())
		}
		return s.failCycle(ctx, span, req, evaluation.NewEvaluationError("evaluation function failed", err, map[string]any{
			"form_id": req.FormID,
		}))
	}

	// An empty response publishes nothing; the queue still drains.
	if len(response) > 0 {
		if err := s.store.Replace(ctx, response); err != nil {
			return s.failCycle(ctx, span, req, err)
		}
	}

	fetched, failed, err := s.runCascade(ctx, req, response[req.FormID])
	if err != nil {
		return s.failCycle(ctx, span, req, err)
	}

	span.SetAttributes(
		attribute.Int("formloop.fetched_fields", fetched),
		attribute.Int("formloop.failed_fields", failed),
	)
	s.publishCycleEvent(ctx, ports.ActionCycleCompleted, req, fetched, failed, nil)
	s.log.Info(ctx, "evaluation cycle completed",
		"form_id", req.FormID, "forms_evaluated", len(response), "fetched_fields", fetched)
	return nil
}

// runCascade fetches dynamic values for every field of the processed form
// flagged as allowed to fetch. It waits for the first readiness signal (or
// the timeout) and then the settle delay before fetching, so dependent state
// has stabilised. Per-field failures are handled inside the fetcher and
// never fail the cycle.
func (s *Sequencer) runCascade(ctx context.Context, req evaluation.EvaluationRequest, out evaluation.EvaluationOutput) (fetched, failed int, err error) {
	if out == nil {
		return 0, 0, nil
	}
	pending := out.PendingDynamicFields()
	if len(pending) == 0 {
		return 0, 0, nil
	}

	signal, err := s.bus.WaitAny(ctx, s.signalTimeout,
		ports.ActionLoadingEntitiesUpdated, ports.ActionDependencyMapUpdated)
	switch {
	case err == nil:
		s.log.Debug(ctx, "readiness signal received", "action_type", signal.Type)
	case evaluation.HasCode(err, evaluation.ErrCodeTimeout):
		// Proceed anyway: a missing signal must not strand the cascade.
		s.log.Warn(ctx, "no readiness signal before timeout, fetching anyway",
			"timeout", s.signalTimeout.String())
	default:
		return 0, 0, err
	}

	select {
	case <-time.After(s.settleDelay):
	case <-ctx.Done():
		return 0, 0, evaluation.NewCancelledError("cascade cancelled", ctx.Err())
	}

	if err := s.fetcher.FetchAll(ctx, pending, req.FormID, out, req.DatasourceID, req.PluginID); err != nil {
		// Field failures are recorded in the published state; they are
		// logged here but never abort the cycle.
		s.log.Warn(ctx, "dynamic value fetch completed with failures",
			"form_id", req.FormID, "error", err)
	}

	for _, key := range pending {
		if cond := out[key]; cond != nil && cond.FetchDynamicValues != nil && cond.FetchDynamicValues.State.HasFetchFailed {
			failed++
		}
	}
	s.publishCycleEvent(ctx, ports.ActionFetchCompleted, req, len(pending), failed, nil)
	return len(pending), failed, nil
}

func (s *Sequencer) failCycle(ctx context.Context, span trace.Span, req evaluation.EvaluationRequest, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	s.publishCycleEvent(ctx, ports.ActionCycleFailed, req, 0, 0, err)
	return err
}

func (s *Sequencer) publishCycleEvent(ctx context.Context, actionType string, req evaluation.EvaluationRequest, fetched, failed int, err error) {
	if s.bus == nil {
		return
	}
	payload := ports.CyclePayload{
		RequestID:  req.ID,
		FormID:     req.FormID,
		QueueDepth: s.QueueDepth(),
		Fields:     fetched,
		Failed:     failed,
	}
	if err != nil {
		payload.Err = err.Error()
	}
	if pubErr := s.bus.Publish(ctx, ports.Action{Type: actionType, Payload: payload}); pubErr != nil {
		s.log.Debug(ctx, "cycle event publish failed", "action_type", actionType, "error", pubErr)
	}
}
