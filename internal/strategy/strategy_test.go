// Package strategy_test provides tests for the regime follower.
package strategy_test

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/vertex-trading/engine/internal/events"
	"github.com/vertex-trading/engine/internal/mtf"
	"github.com/vertex-trading/engine/internal/regime"
	"github.com/vertex-trading/engine/internal/strategy"
)

func collectSignals(bus *events.Bus) *[]events.SignalEvent {
	signals := &[]events.SignalEvent{}
	bus.Subscribe(events.EventTypeSignal, func(e events.Event) error {
		if s, ok := e.(events.SignalEvent); ok {
			*signals = append(*signals, s)
		}
		return nil
	})
	return signals
}

func publishMid(bus *events.Bus, symbol string, mid float64) {
	bus.Publish(events.TickEvent{
		Symbol:    symbol,
		Timestamp: time.Now().UTC(),
		Bid:       decimal.NewFromFloat(mid),
		Ask:       decimal.NewFromFloat(mid),
		Volume:    decimal.NewFromInt(1),
	})
}

func TestUptrendProducesBuySignal(t *testing.T) {
	bus := events.NewBus(zap.NewNop(), nil)
	sup := regime.NewSupervisor(bus, "EURUSD", regime.DefaultConfig(), zap.NewNop(), nil)
	supervisors := map[string]*regime.Supervisor{"EURUSD": sup}
	strategy.NewRegimeFollower(bus, supervisors, nil, strategy.AlignmentConfig{}, zap.NewNop())
	signals := collectSignals(bus)

	for i := 0; i < 30; i++ {
		publishMid(bus, "EURUSD", 1.0850+float64(i)*0.0001)
	}

	if len(*signals) != 1 {
		t.Fatalf("Got %d signals, want 1", len(*signals))
	}
	signal := (*signals)[0]
	if signal.Direction != events.DirectionBuy {
		t.Errorf("Direction = %s, want BUY", signal.Direction)
	}
	if signal.Regime != events.RegimeTrending {
		t.Errorf("Regime = %s, want TRENDING", signal.Regime)
	}
	if signal.Confidence < 0.99 {
		t.Errorf("Confidence = %v, want near 1 for a clean trend", signal.Confidence)
	}
	if !signal.Price.IsPositive() {
		t.Errorf("Price = %s, want the latest mid", signal.Price)
	}
}

func TestMeanReversionFadesPositiveDeviation(t *testing.T) {
	bus := events.NewBus(zap.NewNop(), nil)
	strategy.NewRegimeFollower(bus, nil, nil, strategy.AlignmentConfig{}, zap.NewNop())
	signals := collectSignals(bus)

	publishMid(bus, "EURUSD", 1.0860)
	bus.Publish(events.RegimeEvent{
		Symbol:    "EURUSD",
		Timestamp: time.Now().UTC(),
		Regime:    events.RegimeMeanReversion,
		RSquared:  0.1,
		ZScore:    2.4,
	})

	if len(*signals) != 1 {
		t.Fatalf("Got %d signals, want 1", len(*signals))
	}
	signal := (*signals)[0]
	if signal.Direction != events.DirectionSell {
		t.Errorf("Direction = %s, want SELL to fade a positive z", signal.Direction)
	}
	want := 2.4 / 3.0
	if signal.Confidence < want-1e-9 || signal.Confidence > want+1e-9 {
		t.Errorf("Confidence = %v, want %v", signal.Confidence, want)
	}
}

func TestMeanReversionConfidenceCapped(t *testing.T) {
	bus := events.NewBus(zap.NewNop(), nil)
	strategy.NewRegimeFollower(bus, nil, nil, strategy.AlignmentConfig{}, zap.NewNop())
	signals := collectSignals(bus)

	publishMid(bus, "EURUSD", 1.0860)
	bus.Publish(events.RegimeEvent{
		Symbol:    "EURUSD",
		Timestamp: time.Now().UTC(),
		Regime:    events.RegimeMeanReversion,
		ZScore:    -5.2,
	})

	if len(*signals) != 1 {
		t.Fatalf("Got %d signals, want 1", len(*signals))
	}
	signal := (*signals)[0]
	if signal.Direction != events.DirectionBuy {
		t.Errorf("Direction = %s, want BUY to fade a negative z", signal.Direction)
	}
	if signal.Confidence != 1 {
		t.Errorf("Confidence = %v, want capped at 1", signal.Confidence)
	}
}

func TestRangingProducesNoSignal(t *testing.T) {
	bus := events.NewBus(zap.NewNop(), nil)
	strategy.NewRegimeFollower(bus, nil, nil, strategy.AlignmentConfig{}, zap.NewNop())
	signals := collectSignals(bus)

	publishMid(bus, "EURUSD", 1.0850)
	bus.Publish(events.RegimeEvent{
		Symbol:    "EURUSD",
		Timestamp: time.Now().UTC(),
		Regime:    events.RegimeRanging,
	})

	if len(*signals) != 0 {
		t.Errorf("Got %d signals for RANGING, want 0", len(*signals))
	}
}

func TestNoSignalWithoutPrice(t *testing.T) {
	bus := events.NewBus(zap.NewNop(), nil)
	strategy.NewRegimeFollower(bus, nil, nil, strategy.AlignmentConfig{}, zap.NewNop())
	signals := collectSignals(bus)

	// Regime event before any tick for the symbol.
	bus.Publish(events.RegimeEvent{
		Symbol:    "EURUSD",
		Timestamp: time.Now().UTC(),
		Regime:    events.RegimeMeanReversion,
		ZScore:    3.0,
	})

	if len(*signals) != 0 {
		t.Errorf("Got %d signals without a known price, want 0", len(*signals))
	}
}

// emptyProvider has no bars, so every trend is UNKNOWN.
type emptyProvider struct{}

func (emptyProvider) Bars(ctx context.Context, symbol string, timeframe mtf.Timeframe, count int) ([]mtf.Bar, error) {
	return nil, nil
}

func TestMisalignedSignalIsDropped(t *testing.T) {
	bus := events.NewBus(zap.NewNop(), nil)
	analyzer := mtf.NewAnalyzer(emptyProvider{}, zap.NewNop())
	alignment := strategy.AlignmentConfig{
		Enabled:  true,
		EntryTF:  mtf.TimeframeM5,
		FilterTF: mtf.TimeframeH1,
	}
	strategy.NewRegimeFollower(bus, nil, analyzer, alignment, zap.NewNop())
	signals := collectSignals(bus)

	publishMid(bus, "EURUSD", 1.0860)
	bus.Publish(events.RegimeEvent{
		Symbol:    "EURUSD",
		Timestamp: time.Now().UTC(),
		Regime:    events.RegimeMeanReversion,
		ZScore:    2.8,
	})

	if len(*signals) != 0 {
		t.Errorf("Got %d signals with an indeterminate filter trend, want 0", len(*signals))
	}
}
