package events

import (
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/vertex-trading/engine/internal/instrumentation"
)

// Handler processes a single event. A returned error is logged and
// isolated; it never reaches the publisher or sibling handlers.
type Handler func(Event) error

// Subscription is a handle for one registered handler.
type Subscription struct {
	id      uint64
	kind    EventType
	handler Handler
	active  atomic.Bool
	bus     *Bus
}

// Unsubscribe removes exactly this handler. It is safe to call from
// inside a handler; delivery already in flight is unaffected.
func (s *Subscription) Unsubscribe() {
	s.bus.unsubscribe(s)
}

// Bus is a typed publish/subscribe dispatcher.
//
// A publish dispatches its full handler chain before the next publish's
// chain begins: chains never interleave. Publishing from inside a handler
// does not dispatch reentrantly; the event is placed on an outbound queue
// that the owning publish call drains after the current chain completes,
// preserving publish order.
type Bus struct {
	mu          sync.Mutex
	subscribers map[EventType][]*Subscription
	nextSubID   uint64

	queueMu     sync.Mutex
	pending     []Event
	dispatching bool

	logger  *zap.Logger
	metrics *instrumentation.Metrics
}

// NewBus creates an event bus. metrics may be nil.
func NewBus(logger *zap.Logger, metrics *instrumentation.Metrics) *Bus {
	return &Bus{
		subscribers: make(map[EventType][]*Subscription),
		logger:      logger.Named("bus"),
		metrics:     metrics,
	}
}

// Subscribe registers a handler for an event kind. Handlers for the same
// kind run in subscription order.
func (b *Bus) Subscribe(kind EventType, handler Handler) *Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextSubID++
	sub := &Subscription{
		id:      b.nextSubID,
		kind:    kind,
		handler: handler,
		bus:     b,
	}
	sub.active.Store(true)
	b.subscribers[kind] = append(b.subscribers[kind], sub)

	b.logger.Debug("subscription added",
		zap.Uint64("subscription_id", sub.id),
		zap.String("event_type", string(kind)),
	)
	return sub
}

func (b *Bus) unsubscribe(sub *Subscription) {
	if !sub.active.CompareAndSwap(true, false) {
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	subs := b.subscribers[sub.kind]
	for i, s := range subs {
		if s == sub {
			b.subscribers[sub.kind] = append(subs[:i:i], subs[i+1:]...)
			break
		}
	}
}

// SubscriberCount returns the number of handlers registered for a kind.
func (b *Bus) SubscriberCount(kind EventType) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subscribers[kind])
}

// Publish delivers an event to all handlers registered for its kind.
//
// When called while another publish is dispatching (from a handler, or
// from a concurrent goroutine), the event is queued and dispatched by the
// publish call that owns the dispatch loop.
func (b *Bus) Publish(event Event) {
	if b.metrics != nil {
		b.metrics.RecordEventPublished(string(event.Kind()))
	}

	b.queueMu.Lock()
	b.pending = append(b.pending, event)
	if b.dispatching {
		b.queueMu.Unlock()
		return
	}
	b.dispatching = true
	b.queueMu.Unlock()

	for {
		b.queueMu.Lock()
		if len(b.pending) == 0 {
			b.dispatching = false
			b.queueMu.Unlock()
			return
		}
		next := b.pending[0]
		b.pending = b.pending[1:]
		b.queueMu.Unlock()

		b.dispatch(next)
	}
}

func (b *Bus) dispatch(event Event) {
	b.mu.Lock()
	registered := b.subscribers[event.Kind()]
	subs := make([]*Subscription, len(registered))
	copy(subs, registered)
	b.mu.Unlock()

	if len(subs) == 0 {
		return
	}

	for _, sub := range subs {
		if !sub.active.Load() {
			continue
		}
		b.runHandler(sub, event)
	}
}

// runHandler executes one handler with panic recovery so a misbehaving
// subscriber cannot take down the dispatch loop.
func (b *Bus) runHandler(sub *Subscription, event Event) {
	defer func() {
		if r := recover(); r != nil {
			if b.metrics != nil {
				b.metrics.RecordHandlerError(string(event.Kind()))
			}
			b.logger.Error("event handler panic",
				zap.Uint64("subscription_id", sub.id),
				zap.String("event_type", string(event.Kind())),
				zap.Any("panic", r),
			)
		}
	}()

	if err := sub.handler(event); err != nil {
		if b.metrics != nil {
			b.metrics.RecordHandlerError(string(event.Kind()))
		}
		b.logger.Warn("event handler error",
			zap.Uint64("subscription_id", sub.id),
			zap.String("event_type", string(event.Kind())),
			zap.Error(err),
		)
	}
}
