package sequencer

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/formloop/formloop/internal/domain/evaluation"
	"github.com/formloop/formloop/internal/infrastructure/events"
	"github.com/formloop/formloop/internal/ports"
)

// stubEvaluator records invocation order and detects overlapping calls.
type stubEvaluator struct {
	mu      sync.Mutex
	forms   []string
	starts  []time.Time
	inFly   atomic.Int32
	overlap atomic.Bool
	delay   time.Duration
	failFor map[string]error
	output  func(req evaluation.EvaluationRequest) map[string]evaluation.EvaluationOutput
}

func (e *stubEvaluator) Evaluate(ctx context.Context, req evaluation.EvaluationRequest, current map[string]evaluation.EvaluationOutput) (map[string]evaluation.EvaluationOutput, error) {
	if e.inFly.Add(1) > 1 {
		e.overlap.Store(true)
	}
	defer e.inFly.Add(-1)

	e.mu.Lock()
	e.forms = append(e.forms, req.FormID)
	e.starts = append(e.starts, time.Now())
	e.mu.Unlock()

	if e.delay > 0 {
		time.Sleep(e.delay)
	}

	if err := e.failFor[req.FormID]; err != nil {
		return nil, err
	}
	if e.output != nil {
		return e.output(req), nil
	}
	return map[string]evaluation.EvaluationOutput{
		req.FormID: {"command": {Visible: true, Enabled: true}},
	}, nil
}

func (e *stubEvaluator) seen() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]string(nil), e.forms...)
}

func (e *stubEvaluator) startTimes() []time.Time {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]time.Time(nil), e.starts...)
}

// stubStore counts state publishes.
type stubStore struct {
	mu       sync.Mutex
	replaces int
	merges   int
	state    map[string]evaluation.EvaluationOutput
}

func newStubStore() *stubStore {
	return &stubStore{state: make(map[string]evaluation.EvaluationOutput)}
}

func (s *stubStore) Snapshot(ctx context.Context) (map[string]evaluation.EvaluationOutput, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	snapshot := make(map[string]evaluation.EvaluationOutput, len(s.state))
	for formID, out := range s.state {
		snapshot[formID] = out.Clone()
	}
	return snapshot, nil
}

func (s *stubStore) Replace(ctx context.Context, state map[string]evaluation.EvaluationOutput) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.replaces++
	s.state = state
	return nil
}

func (s *stubStore) MergeForm(ctx context.Context, formID string, out evaluation.EvaluationOutput) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.merges++
	s.state[formID] = out
	return nil
}

func (s *stubStore) FormState(ctx context.Context, formID string) (evaluation.EvaluationOutput, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out, ok := s.state[formID]
	return out, ok
}

func (s *stubStore) replaceCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.replaces
}

// stubFetcher records cascade invocations and their completion times.
type stubFetcher struct {
	mu     sync.Mutex
	forms  []string
	keys   [][]string
	doneAt []time.Time
	delay  time.Duration
	hook   func()
}

func (f *stubFetcher) FetchAll(ctx context.Context, keys []string, formID string, out evaluation.EvaluationOutput, datasourceID, pluginID string) error {
	if f.hook != nil {
		f.hook()
	}
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.forms = append(f.forms, formID)
	f.keys = append(f.keys, append([]string(nil), keys...))
	f.doneAt = append(f.doneAt, time.Now())
	return nil
}

func (f *stubFetcher) invocations() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.forms...)
}

func (f *stubFetcher) doneTimes() []time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]time.Time(nil), f.doneAt...)
}

func (f *stubFetcher) seenKeys() [][]string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([][]string(nil), f.keys...)
}

func outputWithFetchField(req evaluation.EvaluationRequest) map[string]evaluation.EvaluationOutput {
	return map[string]evaluation.EvaluationOutput{
		req.FormID: {
			"command": {Visible: true, Enabled: true},
			"bucket": {
				Visible:            true,
				FetchDynamicValues: &evaluation.DynamicValues{AllowedToFetch: true},
			},
		},
	}
}

func newTestSequencer(eval *stubEvaluator, store ports.StateStore, bus ports.EventBus, fetcher dynamicFetcher, opts ...Option) *Sequencer {
	base := []Option{
		WithSettleDelay(time.Millisecond),
		WithSignalTimeout(10 * time.Millisecond),
	}
	return New(eval, store, bus, fetcher, append(base, opts...)...)
}

func startSequencer(t *testing.T, s *Sequencer) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = s.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		select {
		case <-done:
		case <-time.After(2 * time.Second):
			t.Error("sequencer did not stop after cancel")
		}
	})
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

func TestSubmitRejectsEmptyFormID(t *testing.T) {
	t.Parallel()

	s := newTestSequencer(&stubEvaluator{}, newStubStore(), events.NewBus(nil), &stubFetcher{})
	err := s.Submit(evaluation.EvaluationRequest{})
	if !evaluation.HasCode(err, evaluation.ErrCodeValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestSubmitAssignsRequestID(t *testing.T) {
	t.Parallel()

	s := newTestSequencer(&stubEvaluator{}, newStubStore(), events.NewBus(nil), &stubFetcher{})
	if err := s.Submit(evaluation.EvaluationRequest{FormID: "Api1"}); err != nil {
		t.Fatalf("submit: %v", err)
	}
	req, ok := s.pop()
	if !ok {
		t.Fatal("expected queued request")
	}
	if req.ID == "" {
		t.Error("expected a generated request id")
	}
}

func TestRequestsProcessedInArrivalOrder(t *testing.T) {
	t.Parallel()

	eval := &stubEvaluator{delay: 10 * time.Millisecond}
	bus := events.NewBus(nil)
	defer bus.Close()
	s := newTestSequencer(eval, newStubStore(), bus, &stubFetcher{})
	startSequencer(t, s)

	forms := []string{"Api1", "Api2", "Api3", "Api4", "Api5"}
	for _, formID := range forms {
		if err := s.Submit(evaluation.EvaluationRequest{FormID: formID}); err != nil {
			t.Fatalf("submit %s: %v", formID, err)
		}
	}

	waitFor(t, 5*time.Second, func() bool { return len(eval.seen()) == len(forms) })

	got := eval.seen()
	for i, formID := range forms {
		if got[i] != formID {
			t.Fatalf("position %d: got %s, want %s", i, got[i], formID)
		}
	}
	if eval.overlap.Load() {
		t.Error("evaluation calls overlapped")
	}
	waitFor(t, time.Second, func() bool { return !s.Busy() && s.QueueDepth() == 0 })
}

func TestCascadeCompletesBeforeNextRequest(t *testing.T) {
	t.Parallel()

	eval := &stubEvaluator{output: outputWithFetchField}
	fetcher := &stubFetcher{delay: 30 * time.Millisecond}
	bus := events.NewBus(nil)
	defer bus.Close()
	s := newTestSequencer(eval, newStubStore(), bus, fetcher)

	busyDuringFetch := atomic.Bool{}
	busyDuringFetch.Store(true)
	fetcher.hook = func() {
		if !s.Busy() {
			busyDuringFetch.Store(false)
		}
	}
	startSequencer(t, s)

	if err := s.Submit(evaluation.EvaluationRequest{FormID: "Api1"}); err != nil {
		t.Fatalf("submit: %v", err)
	}
	if err := s.Submit(evaluation.EvaluationRequest{FormID: "Api2"}); err != nil {
		t.Fatalf("submit: %v", err)
	}

	waitFor(t, 5*time.Second, func() bool { return len(fetcher.invocations()) == 2 })

	starts := eval.startTimes()
	done := fetcher.doneTimes()
	if len(starts) != 2 || len(done) != 2 {
		t.Fatalf("expected 2 evaluations and 2 fetches, got %d/%d", len(starts), len(done))
	}
	if !done[0].Before(starts[1]) {
		t.Error("second evaluation started before the first fetch cascade finished")
	}
	if !busyDuringFetch.Load() {
		t.Error("sequencer reported idle while the fetch cascade was running")
	}
}

func TestEmptyResponseSkipsPublishAndDrainsQueue(t *testing.T) {
	t.Parallel()

	eval := &stubEvaluator{
		output: func(evaluation.EvaluationRequest) map[string]evaluation.EvaluationOutput {
			return nil
		},
	}
	store := newStubStore()
	fetcher := &stubFetcher{}
	bus := events.NewBus(nil)
	defer bus.Close()
	s := newTestSequencer(eval, store, bus, fetcher)
	startSequencer(t, s)

	if err := s.Submit(evaluation.EvaluationRequest{FormID: "Api1"}); err != nil {
		t.Fatalf("submit: %v", err)
	}
	if err := s.Submit(evaluation.EvaluationRequest{FormID: "Api2"}); err != nil {
		t.Fatalf("submit: %v", err)
	}

	waitFor(t, 5*time.Second, func() bool { return len(eval.seen()) == 2 })
	waitFor(t, time.Second, func() bool { return s.QueueDepth() == 0 && !s.Busy() })

	if got := store.replaceCount(); got != 0 {
		t.Errorf("expected no state publish for empty responses, got %d", got)
	}
	if calls := fetcher.invocations(); len(calls) != 0 {
		t.Errorf("expected no fetch cascade, got %v", calls)
	}
}

func TestCascadeSkippedWithoutPendingFields(t *testing.T) {
	t.Parallel()

	eval := &stubEvaluator{}
	fetcher := &stubFetcher{}
	bus := events.NewBus(nil)
	defer bus.Close()
	s := newTestSequencer(eval, newStubStore(), bus, fetcher)
	startSequencer(t, s)

	if err := s.Submit(evaluation.EvaluationRequest{FormID: "Api1"}); err != nil {
		t.Fatalf("submit: %v", err)
	}
	waitFor(t, 5*time.Second, func() bool { return len(eval.seen()) == 1 })
	waitFor(t, time.Second, func() bool { return !s.Busy() })

	if calls := fetcher.invocations(); len(calls) != 0 {
		t.Errorf("expected no fetch invocations, got %v", calls)
	}
}

func TestEvaluationFailureStrandsQueueUntilNextSubmit(t *testing.T) {
	t.Parallel()

	eval := &stubEvaluator{
		delay:   20 * time.Millisecond,
		failFor: map[string]error{"Broken": errors.New("function exploded")},
	}
	bus := events.NewBus(nil)
	defer bus.Close()
	s := newTestSequencer(eval, newStubStore(), bus, &stubFetcher{})
	startSequencer(t, s)

	if err := s.Submit(evaluation.EvaluationRequest{FormID: "Broken"}); err != nil {
		t.Fatalf("submit: %v", err)
	}
	if err := s.Submit(evaluation.EvaluationRequest{FormID: "Stranded"}); err != nil {
		t.Fatalf("submit: %v", err)
	}

	waitFor(t, 5*time.Second, func() bool { return len(eval.seen()) == 1 })

	// The queued request must stay put after the failed cycle.
	time.Sleep(100 * time.Millisecond)
	if got := eval.seen(); len(got) != 1 {
		t.Fatalf("expected draining to stop after the failure, evaluated %v", got)
	}
	if depth := s.QueueDepth(); depth != 1 {
		t.Fatalf("expected 1 stranded request, queue depth is %d", depth)
	}

	// A fresh submission resumes draining in order.
	if err := s.Submit(evaluation.EvaluationRequest{FormID: "Fresh"}); err != nil {
		t.Fatalf("submit: %v", err)
	}
	waitFor(t, 5*time.Second, func() bool { return len(eval.seen()) == 3 })

	want := []string{"Broken", "Stranded", "Fresh"}
	got := eval.seen()
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("position %d: got %s, want %s", i, got[i], want[i])
		}
	}
}

func TestCascadeProceedsOnReadinessSignal(t *testing.T) {
	t.Parallel()

	eval := &stubEvaluator{output: outputWithFetchField}
	fetcher := &stubFetcher{}
	bus := events.NewBus(nil)
	defer bus.Close()

	// A long signal timeout makes the test hang unless the published
	// readiness signal actually unblocks the cascade.
	s := newTestSequencer(eval, newStubStore(), bus, fetcher, WithSignalTimeout(30*time.Second))
	startSequencer(t, s)

	stop := make(chan struct{})
	defer close(stop)
	go func() {
		// The sequencer subscribes mid-cycle, so keep signalling until the
		// test is done.
		ticker := time.NewTicker(2 * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				_ = bus.Publish(context.Background(), ports.Action{Type: ports.ActionLoadingEntitiesUpdated})
			}
		}
	}()

	if err := s.Submit(evaluation.EvaluationRequest{FormID: "Api1"}); err != nil {
		t.Fatalf("submit: %v", err)
	}
	waitFor(t, 5*time.Second, func() bool { return len(fetcher.invocations()) == 1 })
}

func TestCascadeProceedsAfterSignalTimeout(t *testing.T) {
	t.Parallel()

	eval := &stubEvaluator{output: outputWithFetchField}
	fetcher := &stubFetcher{}
	bus := events.NewBus(nil)
	defer bus.Close()
	s := newTestSequencer(eval, newStubStore(), bus, fetcher, WithSignalTimeout(10*time.Millisecond))
	startSequencer(t, s)

	if err := s.Submit(evaluation.EvaluationRequest{FormID: "Api1"}); err != nil {
		t.Fatalf("submit: %v", err)
	}
	// No readiness signal is ever published; the cascade must still run.
	waitFor(t, 5*time.Second, func() bool { return len(fetcher.invocations()) == 1 })

	keys := fetcher.seenKeys()
	if len(keys) != 1 || len(keys[0]) != 1 || keys[0][0] != "bucket" {
		t.Fatalf("expected fetch for [bucket], got %v", keys)
	}
}

func TestCycleEventsPublished(t *testing.T) {
	t.Parallel()

	eval := &stubEvaluator{}
	bus := events.NewBus(nil)
	defer bus.Close()
	s := newTestSequencer(eval, newStubStore(), bus, &stubFetcher{})

	actions, cancel := bus.Subscribe(ports.ActionCycleStarted, ports.ActionCycleCompleted)
	defer cancel()

	startSequencer(t, s)
	if err := s.Submit(evaluation.EvaluationRequest{FormID: "Api1"}); err != nil {
		t.Fatalf("submit: %v", err)
	}

	wantTypes := []string{ports.ActionCycleStarted, ports.ActionCycleCompleted}
	for _, wantType := range wantTypes {
		select {
		case action := <-actions:
			if action.Type != wantType {
				t.Fatalf("got action %s, want %s", action.Type, wantType)
			}
			payload, ok := action.Payload.(ports.CyclePayload)
			if !ok {
				t.Fatalf("unexpected payload type %T", action.Payload)
			}
			if payload.FormID != "Api1" {
				t.Errorf("payload form id: got %s, want Api1", payload.FormID)
			}
		case <-time.After(5 * time.Second):
			t.Fatalf("timed out waiting for %s", wantType)
		}
	}
}
