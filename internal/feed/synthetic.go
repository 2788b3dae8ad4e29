// Package feed provides tick sources that publish to the event bus.
package feed

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/vertex-trading/engine/internal/events"
)

// Feed is a tick source. Start blocks until the feed stops or the
// context is cancelled.
type Feed interface {
	Start(ctx context.Context) error
	Stop()
}

// Instrument describes one synthetic price series.
type Instrument struct {
	Symbol    string
	BasePrice decimal.Decimal
	Spread    decimal.Decimal
}

// SyntheticFeed generates a regime-switching random walk per symbol.
// The walk alternates between a drifting phase and a phase pulled back
// toward the base price, so downstream classifiers see both trending
// and mean-reverting stretches.
type SyntheticFeed struct {
	bus         *events.Bus
	logger      *zap.Logger
	instruments []Instrument
	interval    time.Duration

	mu      sync.Mutex
	stopped bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// NewSyntheticFeed builds a feed ticking every interval for each
// instrument.
func NewSyntheticFeed(bus *events.Bus, instruments []Instrument, interval time.Duration, logger *zap.Logger) *SyntheticFeed {
	if interval <= 0 {
		interval = 100 * time.Millisecond
	}
	return &SyntheticFeed{
		bus:         bus,
		logger:      logger.Named("feed"),
		instruments: instruments,
		interval:    interval,
	}
}

// Start launches one generator goroutine per instrument and blocks
// until every generator has exited.
func (f *SyntheticFeed) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)

	f.mu.Lock()
	if f.stopped {
		f.mu.Unlock()
		cancel()
		return nil
	}
	f.cancel = cancel
	f.mu.Unlock()

	f.logger.Info("synthetic feed starting",
		zap.Int("instruments", len(f.instruments)),
		zap.Duration("interval", f.interval),
	)

	for _, inst := range f.instruments {
		f.wg.Add(1)
		go f.run(ctx, inst)
	}
	f.wg.Wait()
	return nil
}

// Stop requests a cooperative shutdown; generators exit on their next
// tick.
func (f *SyntheticFeed) Stop() {
	f.mu.Lock()
	f.stopped = true
	cancel := f.cancel
	f.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

func (f *SyntheticFeed) run(ctx context.Context, inst Instrument) {
	defer f.wg.Done()

	rng := rand.New(rand.NewSource(time.Now().UnixNano() ^ int64(len(inst.Symbol))))

	base := inst.BasePrice.InexactFloat64()
	price := base
	floor := base * 0.95

	trending := rng.Float64() < 0.5
	drift := pickDrift(rng, base)
	phaseLeft := 50 + rng.Intn(100)

	ticker := time.NewTicker(f.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			f.logger.Debug("generator stopped", zap.String("symbol", inst.Symbol))
			return
		case <-ticker.C:
		}

		phaseLeft--
		if phaseLeft <= 0 {
			trending = !trending
			drift = pickDrift(rng, base)
			phaseLeft = 50 + rng.Intn(100)
		}

		noise := (rng.Float64() - 0.5) * base * 0.0004
		if trending {
			price += drift + noise
		} else {
			// Pull back toward the base price.
			price += (base - price) * 0.05 * rng.Float64()
			price += noise
		}
		if price < floor {
			price = floor
		}

		mid := decimal.NewFromFloat(price)
		half := inst.Spread.Div(decimal.NewFromInt(2))
		f.bus.Publish(events.TickEvent{
			Symbol:    inst.Symbol,
			Timestamp: time.Now().UTC(),
			Bid:       mid.Sub(half),
			Ask:       mid.Add(half),
			Volume:    decimal.NewFromInt(int64(1 + rng.Intn(100))),
		})
	}
}

func pickDrift(rng *rand.Rand, base float64) float64 {
	drift := base * 0.0002
	if rng.Float64() < 0.5 {
		return -drift
	}
	return drift
}
