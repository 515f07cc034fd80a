package events

import (
	"context"
	"testing"
	"time"

	"github.com/formloop/formloop/internal/domain/evaluation"
	"github.com/formloop/formloop/internal/ports"
)

func TestPublishReachesMatchingSubscribers(t *testing.T) {
	t.Parallel()

	bus := NewBus(nil)
	defer bus.Close()

	triggers, cancel := bus.Subscribe(ports.ActionFormInit, ports.ActionFormFieldChanged)
	defer cancel()
	other, cancelOther := bus.Subscribe(ports.ActionStart)
	defer cancelOther()

	if err := bus.Publish(context.Background(), ports.Action{Type: ports.ActionFormInit, Payload: "Api1"}); err != nil {
		t.Fatalf("publish: %v", err)
	}

	select {
	case action := <-triggers:
		if action.Type != ports.ActionFormInit || action.Payload != "Api1" {
			t.Fatalf("unexpected action: %+v", action)
		}
	case <-time.After(time.Second):
		t.Fatal("subscriber never received the action")
	}

	select {
	case action := <-other:
		t.Fatalf("unrelated subscriber received %+v", action)
	default:
	}
}

func TestPublishRejectsEmptyType(t *testing.T) {
	t.Parallel()

	bus := NewBus(nil)
	defer bus.Close()

	err := bus.Publish(context.Background(), ports.Action{})
	if !evaluation.HasCode(err, evaluation.ErrCodeValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestCancelStopsDelivery(t *testing.T) {
	t.Parallel()

	bus := NewBus(nil)
	defer bus.Close()

	ch, cancel := bus.Subscribe(ports.ActionFormInit)
	cancel()
	cancel() // safe to call twice

	if _, ok := <-ch; ok {
		t.Fatal("expected closed channel after cancel")
	}
	if err := bus.Publish(context.Background(), ports.Action{Type: ports.ActionFormInit}); err != nil {
		t.Fatalf("publish after cancel: %v", err)
	}
}

func TestWaitAnyReturnsFirstSignal(t *testing.T) {
	t.Parallel()

	bus := NewBus(nil)
	defer bus.Close()

	done := make(chan struct{})
	go func() {
		defer close(done)
		action, err := bus.WaitAny(context.Background(), 5*time.Second,
			ports.ActionLoadingEntitiesUpdated, ports.ActionDependencyMapUpdated)
		if err != nil {
			t.Errorf("wait: %v", err)
			return
		}
		if action.Type != ports.ActionDependencyMapUpdated {
			t.Errorf("unexpected action: %+v", action)
		}
	}()

	// Give the waiter time to register its subscription.
	time.Sleep(20 * time.Millisecond)
	if err := bus.Publish(context.Background(), ports.Action{Type: ports.ActionDependencyMapUpdated}); err != nil {
		t.Fatalf("publish: %v", err)
	}

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("WaitAny never returned")
	}
}

func TestWaitAnyTimesOut(t *testing.T) {
	t.Parallel()

	bus := NewBus(nil)
	defer bus.Close()

	_, err := bus.WaitAny(context.Background(), 30*time.Millisecond, ports.ActionLoadingEntitiesUpdated)
	if !evaluation.HasCode(err, evaluation.ErrCodeTimeout) {
		t.Fatalf("expected timeout error, got %v", err)
	}
}

func TestWaitAnyHonoursContext(t *testing.T) {
	t.Parallel()

	bus := NewBus(nil)
	defer bus.Close()

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	_, err := bus.WaitAny(ctx, 0, ports.ActionLoadingEntitiesUpdated)
	if !evaluation.HasCode(err, evaluation.ErrCodeCancelled) {
		t.Fatalf("expected cancelled error, got %v", err)
	}
}

func TestCloseShutsDownSubscribers(t *testing.T) {
	t.Parallel()

	bus := NewBus(nil)
	ch, cancel := bus.Subscribe(ports.ActionFormInit)
	bus.Close()
	cancel() // must not panic after Close

	if _, ok := <-ch; ok {
		t.Fatal("expected closed channel after bus close")
	}
	if err := bus.Publish(context.Background(), ports.Action{Type: ports.ActionFormInit}); err == nil {
		t.Fatal("expected error publishing on closed bus")
	}
}
