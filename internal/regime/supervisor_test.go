package regime_test

import (
	"fmt"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/vertex-trading/engine/internal/events"
	"github.com/vertex-trading/engine/internal/regime"
)

func publishTicks(bus *events.Bus, symbol string, mids []float64) {
	for _, mid := range mids {
		half := 0.00005
		bus.Publish(events.TickEvent{
			Symbol:    symbol,
			Timestamp: time.Now().UTC(),
			Bid:       decimal.NewFromFloat(mid - half),
			Ask:       decimal.NewFromFloat(mid + half),
			Volume:    decimal.NewFromInt(1),
		})
	}
}

func TestSteadyUptrendEmitsSingleTrendingEvent(t *testing.T) {
	bus := events.NewBus(zap.NewNop(), nil)
	sup := regime.NewSupervisor(bus, "EURUSD", regime.DefaultConfig(), zap.NewNop(), nil)

	var regimeEvents []events.RegimeEvent
	bus.Subscribe(events.EventTypeRegime, func(e events.Event) error {
		if re, ok := e.(events.RegimeEvent); ok {
			regimeEvents = append(regimeEvents, re)
		}
		return nil
	})

	mids := make([]float64, 30)
	for i := range mids {
		mids[i] = 1.0850 + float64(i)*0.0001
	}
	publishTicks(bus, "EURUSD", mids)

	if len(regimeEvents) != 1 {
		t.Fatalf("Got %d regime events, want exactly 1", len(regimeEvents))
	}
	if regimeEvents[0].Regime != events.RegimeTrending {
		t.Errorf("Regime = %s, want TRENDING", regimeEvents[0].Regime)
	}
	if regimeEvents[0].RSquared < 0.99 {
		t.Errorf("R2 = %v, want near 1 for a clean trend", regimeEvents[0].RSquared)
	}
	if sup.Current() != events.RegimeTrending {
		t.Errorf("Current() = %s, want TRENDING", sup.Current())
	}
}

func TestSupervisorIgnoresOtherSymbols(t *testing.T) {
	bus := events.NewBus(zap.NewNop(), nil)
	sup := regime.NewSupervisor(bus, "EURUSD", regime.DefaultConfig(), zap.NewNop(), nil)

	mids := make([]float64, 10)
	for i := range mids {
		mids[i] = 1.2650 + float64(i)*0.0001
	}
	publishTicks(bus, "GBPUSD", mids)

	if m := sup.Metrics(); m.TickCount != 0 {
		t.Errorf("TickCount = %d for a foreign symbol, want 0", m.TickCount)
	}
}

func TestSupervisorBufferEviction(t *testing.T) {
	bus := events.NewBus(zap.NewNop(), nil)
	cfg := regime.DefaultConfig()
	cfg.BufferSize = 5
	sup := regime.NewSupervisor(bus, "EURUSD", cfg, zap.NewNop(), nil)

	mids := make([]float64, 12)
	for i := range mids {
		mids[i] = 1.0850 + float64(i)*0.0001
	}
	publishTicks(bus, "EURUSD", mids)

	m := sup.Metrics()
	if m.BufferLen != 5 {
		t.Errorf("BufferLen = %d, want capped at 5", m.BufferLen)
	}
	if m.TickCount != 12 {
		t.Errorf("TickCount = %d, want 12", m.TickCount)
	}
}

func TestSupervisorSilentBelowMinimumSamples(t *testing.T) {
	bus := events.NewBus(zap.NewNop(), nil)
	sup := regime.NewSupervisor(bus, "EURUSD", regime.DefaultConfig(), zap.NewNop(), nil)

	var regimeEvents int
	bus.Subscribe(events.EventTypeRegime, func(events.Event) error {
		regimeEvents++
		return nil
	})

	publishTicks(bus, "EURUSD", []float64{1.0850, 1.0851})

	if regimeEvents != 0 {
		t.Errorf("Got %d regime events with 2 samples, want 0", regimeEvents)
	}
	if got := sup.Current(); got != "" {
		t.Errorf("Current() = %q before first classification, want empty", got)
	}
}

func TestRegimeTransitionEmitsAgain(t *testing.T) {
	bus := events.NewBus(zap.NewNop(), nil)
	regime.NewSupervisor(bus, "EURUSD", regime.DefaultConfig(), zap.NewNop(), nil)

	var seen []events.RegimeType
	bus.Subscribe(events.EventTypeRegime, func(e events.Event) error {
		if re, ok := e.(events.RegimeEvent); ok {
			seen = append(seen, re.Regime)
		}
		return nil
	})

	// Clean uptrend, then a long flat stretch breaking the trend.
	mids := make([]float64, 0, 90)
	for i := 0; i < 30; i++ {
		mids = append(mids, 1.0850+float64(i)*0.0001)
	}
	for i := 0; i < 60; i++ {
		// Alternate around a level so the fit degrades.
		offset := 0.0
		if i%2 == 0 {
			offset = 0.0001
		}
		mids = append(mids, 1.0880+offset)
	}
	publishTicks(bus, "EURUSD", mids)

	if len(seen) < 2 {
		t.Fatalf("Got %d regime events %v, want at least a trend and a follow-up transition", len(seen), seen)
	}
	if seen[0] != events.RegimeTrending {
		t.Errorf("First regime = %s, want TRENDING", seen[0])
	}
	for i := 1; i < len(seen); i++ {
		if seen[i] == seen[i-1] {
			t.Errorf("Consecutive duplicate regime event at %d: %v", i, seen)
		}
	}
}

func TestDefaultConfigFillsZeroFields(t *testing.T) {
	bus := events.NewBus(zap.NewNop(), nil)
	sup := regime.NewSupervisor(bus, "USDJPY", regime.Config{}, zap.NewNop(), nil)

	mids := make([]float64, 60)
	for i := range mids {
		mids[i] = 149.50 + float64(i)*0.01
	}
	publishTicks(bus, "USDJPY", mids)

	// Buffer must cap at the default size, not grow unbounded.
	if m := sup.Metrics(); m.BufferLen != 50 {
		t.Errorf("BufferLen = %d, want default cap of 50", m.BufferLen)
	}
}

func ExampleSupervisor() {
	bus := events.NewBus(zap.NewNop(), nil)
	sup := regime.NewSupervisor(bus, "EURUSD", regime.DefaultConfig(), zap.NewNop(), nil)

	for i := 0; i < 30; i++ {
		mid := 1.0850 + float64(i)*0.0001
		bus.Publish(events.TickEvent{
			Symbol: "EURUSD",
			Bid:    decimal.NewFromFloat(mid - 0.00005),
			Ask:    decimal.NewFromFloat(mid + 0.00005),
		})
	}

	fmt.Println(sup.Current())
	// Output: TRENDING
}
