// Package feed_test provides tests for the tick sources.
package feed_test

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/vertex-trading/engine/internal/events"
	"github.com/vertex-trading/engine/internal/feed"
)

func TestSyntheticFeedPublishesTicks(t *testing.T) {
	bus := events.NewBus(zap.NewNop(), nil)

	var ticks atomic.Int64
	bus.Subscribe(events.EventTypeTick, func(e events.Event) error {
		tick, ok := e.(events.TickEvent)
		if !ok {
			return nil
		}
		if tick.Symbol != "EURUSD" {
			t.Errorf("Unexpected symbol %s", tick.Symbol)
		}
		if !tick.Ask.GreaterThan(tick.Bid) {
			t.Errorf("Ask %s not above bid %s", tick.Ask, tick.Bid)
		}
		ticks.Add(1)
		return nil
	})

	f := feed.NewSyntheticFeed(bus, []feed.Instrument{{
		Symbol:    "EURUSD",
		BasePrice: decimal.NewFromFloat(1.0850),
		Spread:    decimal.NewFromFloat(0.0001),
	}}, time.Millisecond, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		f.Start(ctx)
		close(done)
	}()

	deadline := time.After(2 * time.Second)
	for ticks.Load() < 5 {
		select {
		case <-deadline:
			cancel()
			t.Fatalf("Only %d ticks before deadline", ticks.Load())
		case <-time.After(5 * time.Millisecond):
		}
	}

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Feed did not stop after cancellation")
	}
}

func TestSyntheticFeedStop(t *testing.T) {
	bus := events.NewBus(zap.NewNop(), nil)
	f := feed.NewSyntheticFeed(bus, []feed.Instrument{{
		Symbol:    "GBPUSD",
		BasePrice: decimal.NewFromFloat(1.2650),
		Spread:    decimal.NewFromFloat(0.0002),
	}}, time.Millisecond, zap.NewNop())

	done := make(chan struct{})
	go func() {
		f.Start(context.Background())
		close(done)
	}()

	time.Sleep(20 * time.Millisecond)
	f.Stop()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Feed did not stop")
	}
}

func TestSyntheticFeedPriceFloor(t *testing.T) {
	bus := events.NewBus(zap.NewNop(), nil)

	base := 1.0850
	floor := decimal.NewFromFloat(base * 0.95)
	var violations atomic.Int64
	bus.Subscribe(events.EventTypeTick, func(e events.Event) error {
		if tick, ok := e.(events.TickEvent); ok {
			// Compare on the mid; the bid sits half a spread below it.
			if tick.Mid().LessThan(floor) {
				violations.Add(1)
			}
		}
		return nil
	})

	f := feed.NewSyntheticFeed(bus, []feed.Instrument{{
		Symbol:    "EURUSD",
		BasePrice: decimal.NewFromFloat(base),
		Spread:    decimal.NewFromFloat(0.0001),
	}}, time.Millisecond, zap.NewNop())

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	f.Start(ctx)

	if violations.Load() != 0 {
		t.Errorf("%d mids fell below the 95%% floor", violations.Load())
	}
}

func TestGatewayFeedFailsFastWhenUnreachable(t *testing.T) {
	bus := events.NewBus(zap.NewNop(), nil)
	g := feed.NewGatewayFeed(bus, "ws://127.0.0.1:1/ticks", []string{"EURUSD"}, zap.NewNop())

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := g.Start(ctx); err == nil {
		t.Error("Expected error for an unreachable gateway")
	}
}
