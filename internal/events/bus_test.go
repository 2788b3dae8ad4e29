// Package events_test provides tests for the event bus.
package events_test

import (
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/vertex-trading/engine/internal/events"
)

func tick(symbol string) events.TickEvent {
	return events.TickEvent{
		Symbol:    symbol,
		Timestamp: time.Now().UTC(),
		Bid:       decimal.NewFromFloat(1.0849),
		Ask:       decimal.NewFromFloat(1.0851),
		Volume:    decimal.NewFromInt(10),
	}
}

func TestHandlersRunInSubscriptionOrder(t *testing.T) {
	bus := events.NewBus(zap.NewNop(), nil)

	var order []int
	for i := 0; i < 5; i++ {
		i := i
		bus.Subscribe(events.EventTypeTick, func(events.Event) error {
			order = append(order, i)
			return nil
		})
	}

	bus.Publish(tick("EURUSD"))

	if len(order) != 5 {
		t.Fatalf("Expected 5 deliveries, got %d", len(order))
	}
	for i, got := range order {
		if got != i {
			t.Errorf("Delivery %d went to handler %d", i, got)
		}
	}
}

func TestPublishWithNoSubscribers(t *testing.T) {
	bus := events.NewBus(zap.NewNop(), nil)
	// Must not panic or block.
	bus.Publish(tick("EURUSD"))

	if n := bus.SubscriberCount(events.EventTypeTick); n != 0 {
		t.Errorf("Expected 0 subscribers, got %d", n)
	}
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	bus := events.NewBus(zap.NewNop(), nil)

	var first, second int
	sub := bus.Subscribe(events.EventTypeTick, func(events.Event) error {
		first++
		return nil
	})
	bus.Subscribe(events.EventTypeTick, func(events.Event) error {
		second++
		return nil
	})

	bus.Publish(tick("EURUSD"))
	sub.Unsubscribe()
	bus.Publish(tick("EURUSD"))
	bus.Publish(tick("EURUSD"))

	if first != 1 {
		t.Errorf("Unsubscribed handler received %d events, want 1", first)
	}
	if second != 3 {
		t.Errorf("Remaining handler received %d events, want 3", second)
	}
	if n := bus.SubscriberCount(events.EventTypeTick); n != 1 {
		t.Errorf("Expected 1 subscriber after unsubscribe, got %d", n)
	}
}

func TestUnsubscribeFromInsideHandler(t *testing.T) {
	bus := events.NewBus(zap.NewNop(), nil)

	var calls int
	var sub *events.Subscription
	sub = bus.Subscribe(events.EventTypeTick, func(events.Event) error {
		calls++
		sub.Unsubscribe()
		return nil
	})

	bus.Publish(tick("EURUSD"))
	bus.Publish(tick("EURUSD"))

	if calls != 1 {
		t.Errorf("Handler ran %d times after self-unsubscribe, want 1", calls)
	}
}

func TestReentrantPublishRunsAfterCurrentChain(t *testing.T) {
	bus := events.NewBus(zap.NewNop(), nil)

	var sequence []string
	bus.Subscribe(events.EventTypeTick, func(events.Event) error {
		sequence = append(sequence, "tick-first")
		bus.Publish(events.RegimeEvent{
			Symbol:    "EURUSD",
			Timestamp: time.Now().UTC(),
			Regime:    events.RegimeTrending,
		})
		sequence = append(sequence, "tick-first-done")
		return nil
	})
	bus.Subscribe(events.EventTypeTick, func(events.Event) error {
		sequence = append(sequence, "tick-second")
		return nil
	})
	bus.Subscribe(events.EventTypeRegime, func(events.Event) error {
		sequence = append(sequence, "regime")
		return nil
	})

	bus.Publish(tick("EURUSD"))

	want := []string{"tick-first", "tick-first-done", "tick-second", "regime"}
	if len(sequence) != len(want) {
		t.Fatalf("Got sequence %v, want %v", sequence, want)
	}
	for i := range want {
		if sequence[i] != want[i] {
			t.Fatalf("Got sequence %v, want %v", sequence, want)
		}
	}
}

func TestHandlerErrorDoesNotStopSiblings(t *testing.T) {
	bus := events.NewBus(zap.NewNop(), nil)

	var delivered int
	bus.Subscribe(events.EventTypeTick, func(events.Event) error {
		return errors.New("boom")
	})
	bus.Subscribe(events.EventTypeTick, func(events.Event) error {
		delivered++
		return nil
	})

	bus.Publish(tick("EURUSD"))

	if delivered != 1 {
		t.Errorf("Sibling handler received %d events, want 1", delivered)
	}
}

func TestHandlerPanicIsIsolated(t *testing.T) {
	bus := events.NewBus(zap.NewNop(), nil)

	var delivered int
	bus.Subscribe(events.EventTypeTick, func(events.Event) error {
		panic("handler blew up")
	})
	bus.Subscribe(events.EventTypeTick, func(events.Event) error {
		delivered++
		return nil
	})

	bus.Publish(tick("EURUSD"))

	if delivered != 1 {
		t.Errorf("Sibling handler received %d events after panic, want 1", delivered)
	}
}

func TestSignalEventConfidenceValidation(t *testing.T) {
	_, err := events.NewSignalEvent("EURUSD", time.Now(), events.DirectionBuy, 1.5, events.RegimeTrending, decimal.NewFromFloat(1.085))
	if err == nil {
		t.Error("Expected error for confidence above 1")
	}

	_, err = events.NewSignalEvent("EURUSD", time.Now(), events.DirectionBuy, -0.1, events.RegimeTrending, decimal.NewFromFloat(1.085))
	if err == nil {
		t.Error("Expected error for negative confidence")
	}

	signal, err := events.NewSignalEvent("EURUSD", time.Now(), events.DirectionSell, 0.75, events.RegimeMeanReversion, decimal.NewFromFloat(1.085))
	if err != nil {
		t.Fatalf("Valid confidence rejected: %v", err)
	}
	if signal.Confidence != 0.75 {
		t.Errorf("Confidence = %v, want 0.75", signal.Confidence)
	}
}

func TestTickMidAndSpread(t *testing.T) {
	tk := events.TickEvent{
		Bid: decimal.NewFromFloat(1.0848),
		Ask: decimal.NewFromFloat(1.0852),
	}
	if !tk.Mid().Equal(decimal.NewFromFloat(1.0850)) {
		t.Errorf("Mid = %s, want 1.0850", tk.Mid())
	}
	if !tk.Spread().Equal(decimal.NewFromFloat(0.0004)) {
		t.Errorf("Spread = %s, want 0.0004", tk.Spread())
	}
}
