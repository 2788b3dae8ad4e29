package mtf

import (
	"context"
	"sync"

	"github.com/vertex-trading/engine/internal/events"
)

const maxBarsPerSeries = 500

// BarBuilder aggregates the live tick stream into rolling bars per
// timeframe so the alignment filter can run without a historical data
// service. It keeps at most maxBarsPerSeries bars per symbol and
// timeframe.
type BarBuilder struct {
	timeframes []Timeframe

	mu     sync.RWMutex
	series map[string][]Bar // keyed by symbol|timeframe
}

// NewBarBuilder subscribes the builder to tick events for the given
// timeframes.
func NewBarBuilder(bus *events.Bus, timeframes []Timeframe) *BarBuilder {
	b := &BarBuilder{
		timeframes: timeframes,
		series:     make(map[string][]Bar),
	}
	bus.Subscribe(events.EventTypeTick, b.onTick)
	return b
}

func (b *BarBuilder) onTick(event events.Event) error {
	tick, ok := event.(events.TickEvent)
	if !ok {
		return nil
	}
	mid := tick.Mid().InexactFloat64()
	volume := tick.Volume.IntPart()

	b.mu.Lock()
	defer b.mu.Unlock()

	for _, tf := range b.timeframes {
		period, err := tf.Duration()
		if err != nil {
			continue
		}
		bucket := tick.Timestamp.Truncate(period)
		key := cacheKey(tick.Symbol, tf)
		bars := b.series[key]

		if n := len(bars); n > 0 && bars[n-1].Timestamp.Equal(bucket) {
			bar := &bars[n-1]
			if mid > bar.High {
				bar.High = mid
			}
			if mid < bar.Low {
				bar.Low = mid
			}
			bar.Close = mid
			bar.Volume += volume
			continue
		}

		bars = append(bars, Bar{
			Symbol:    tick.Symbol,
			Timeframe: tf,
			Timestamp: bucket,
			Open:      mid,
			High:      mid,
			Low:       mid,
			Close:     mid,
			Volume:    volume,
		})
		if len(bars) > maxBarsPerSeries {
			bars = bars[len(bars)-maxBarsPerSeries:]
		}
		b.series[key] = bars
	}
	return nil
}

// Bars returns up to count most recent bars, oldest first.
func (b *BarBuilder) Bars(ctx context.Context, symbol string, timeframe Timeframe, count int) ([]Bar, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	bars := b.series[cacheKey(symbol, timeframe)]
	if len(bars) > count {
		bars = bars[len(bars)-count:]
	}
	out := make([]Bar, len(bars))
	copy(out, bars)
	return out, nil
}
