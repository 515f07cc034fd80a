package events

import (
	"context"
	"sync"
	"time"

	"github.com/formloop/formloop/internal/domain/evaluation"
	"github.com/formloop/formloop/internal/logger"
	"github.com/formloop/formloop/internal/ports"
)

// subscriberBuffer bounds each subscription channel. Slow subscribers drop
// actions rather than stalling publishers.
const subscriberBuffer = 64

// Bus is the in-process action bus. Publishing never blocks; each subscriber
// owns a buffered channel.
type Bus struct {
	log ports.Logger

	mu     sync.RWMutex
	subs   map[string][]*subscriber
	nextID int
	closed bool
}

type subscriber struct {
	id        int
	ch        chan ports.Action
	closeOnce sync.Once
}

func (s *subscriber) close() {
	s.closeOnce.Do(func() { close(s.ch) })
}

// NewBus creates an empty bus.
func NewBus(log ports.Logger) *Bus {
	if log == nil {
		log = logger.NewNoOp()
	}
	return &Bus{
		log:  log,
		subs: make(map[string][]*subscriber),
	}
}

// Publish delivers the action to every subscriber registered for its type.
func (b *Bus) Publish(ctx context.Context, action ports.Action) error {
	if action.Type == "" {
		return evaluation.NewValidationError("action type is empty", nil)
	}

	// Delivery happens under the read lock: sends are non-blocking, and
	// cancellation needs the write lock before it may close a channel.
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return evaluation.NewInternalError("bus is closed", nil)
	}

	targets := b.subs[action.Type]
	b.log.Debug(ctx, "action published", "action_type", action.Type, "subscribers", len(targets))

	for _, sub := range targets {
		select {
		case sub.ch <- action:
		default:
			b.log.Warn(ctx, "subscriber buffer full, dropping action",
				"action_type", action.Type, "subscriber_id", sub.id)
		}
	}
	return nil
}

// Subscribe registers a channel for every listed action type. The cancel
// func removes the registration and closes the channel; it is safe to call
// more than once.
func (b *Bus) Subscribe(types ...string) (<-chan ports.Action, func()) {
	ch := make(chan ports.Action, subscriberBuffer)

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		close(ch)
		return ch, func() {}
	}
	b.nextID++
	sub := &subscriber{id: b.nextID, ch: ch}
	for _, t := range types {
		b.subs[t] = append(b.subs[t], sub)
	}
	b.mu.Unlock()

	cancel := func() {
		b.mu.Lock()
		for _, t := range types {
			entries := b.subs[t]
			for i, entry := range entries {
				if entry.id == sub.id {
					b.subs[t] = append(entries[:i], entries[i+1:]...)
					break
				}
			}
		}
		b.mu.Unlock()
		sub.close()
	}
	return ch, cancel
}

// WaitAny blocks until the first action matching any of the listed types
// arrives, the timeout elapses, or ctx is done. A non-positive timeout waits
// indefinitely.
func (b *Bus) WaitAny(ctx context.Context, timeout time.Duration, types ...string) (ports.Action, error) {
	ch, cancel := b.Subscribe(types...)
	defer cancel()

	var expired <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		expired = timer.C
	}

	select {
	case action, ok := <-ch:
		if !ok {
			return ports.Action{}, evaluation.NewInternalError("bus is closed", nil)
		}
		return action, nil
	case <-expired:
		return ports.Action{}, evaluation.NewTimeoutError("no readiness signal arrived", map[string]any{
			"types":   types,
			"timeout": timeout.String(),
		})
	case <-ctx.Done():
		return ports.Action{}, evaluation.NewCancelledError("wait cancelled", ctx.Err())
	}
}

// Close tears down every subscription. Publish and Subscribe become no-ops.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true

	seen := make(map[int]struct{})
	for _, entries := range b.subs {
		for _, sub := range entries {
			if _, dup := seen[sub.id]; dup {
				continue
			}
			seen[sub.id] = struct{}{}
			sub.close()
		}
	}
	b.subs = make(map[string][]*subscriber)
}

var _ ports.EventBus = (*Bus)(nil)
