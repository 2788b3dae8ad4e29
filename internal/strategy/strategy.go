// Package strategy turns regime classifications into trade signals.
package strategy

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/vertex-trading/engine/internal/events"
	"github.com/vertex-trading/engine/internal/mtf"
	"github.com/vertex-trading/engine/internal/regime"
)

// zScoreFullConfidence is the |z| at which a mean-reversion signal
// reaches confidence 1.
const zScoreFullConfidence = 3.0

// AlignmentConfig enables the multi-timeframe filter on emitted signals.
type AlignmentConfig struct {
	Enabled  bool
	EntryTF  mtf.Timeframe
	FilterTF mtf.Timeframe
}

// RegimeFollower produces one signal per regime transition. Trending
// markets are followed in the direction of the slope; mean-reverting
// markets are faded against the z-score; ranging markets stay flat.
type RegimeFollower struct {
	bus       *events.Bus
	logger    *zap.Logger
	analyzer  *mtf.Analyzer
	alignment AlignmentConfig

	supervisors map[string]*regime.Supervisor

	mu         sync.RWMutex
	lastPrices map[string]decimal.Decimal
}

// NewRegimeFollower wires the strategy to the bus. supervisors maps
// each symbol to its classifier; analyzer may be nil when the alignment
// filter is disabled.
func NewRegimeFollower(bus *events.Bus, supervisors map[string]*regime.Supervisor, analyzer *mtf.Analyzer, alignment AlignmentConfig, logger *zap.Logger) *RegimeFollower {
	rf := &RegimeFollower{
		bus:         bus,
		logger:      logger.Named("strategy"),
		analyzer:    analyzer,
		alignment:   alignment,
		supervisors: supervisors,
		lastPrices:  make(map[string]decimal.Decimal),
	}
	bus.Subscribe(events.EventTypeTick, rf.onTick)
	bus.Subscribe(events.EventTypeRegime, rf.onRegime)
	return rf
}

func (rf *RegimeFollower) onTick(event events.Event) error {
	tick, ok := event.(events.TickEvent)
	if !ok {
		return nil
	}
	rf.mu.Lock()
	rf.lastPrices[tick.Symbol] = tick.Mid()
	rf.mu.Unlock()
	return nil
}

func (rf *RegimeFollower) onRegime(event events.Event) error {
	re, ok := event.(events.RegimeEvent)
	if !ok {
		return nil
	}

	direction, confidence := rf.decide(re)
	if direction == events.DirectionNeutral {
		return nil
	}

	rf.mu.RLock()
	price, havePrice := rf.lastPrices[re.Symbol]
	rf.mu.RUnlock()
	if !havePrice {
		rf.logger.Debug("no price seen yet, skipping signal", zap.String("symbol", re.Symbol))
		return nil
	}

	if rf.alignment.Enabled && rf.analyzer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		aligned := rf.analyzer.IsAligned(ctx, re.Symbol, direction, rf.alignment.EntryTF, rf.alignment.FilterTF)
		cancel()
		if !aligned {
			rf.logger.Info("signal dropped, higher timeframe not aligned",
				zap.String("symbol", re.Symbol),
				zap.String("direction", string(direction)),
			)
			return nil
		}
	}

	signal, err := events.NewSignalEvent(re.Symbol, re.Timestamp, direction, confidence, re.Regime, price)
	if err != nil {
		return err
	}

	rf.logger.Info("signal",
		zap.String("symbol", signal.Symbol),
		zap.String("direction", string(direction)),
		zap.Float64("confidence", confidence),
		zap.String("regime", string(re.Regime)),
	)
	rf.bus.Publish(signal)
	return nil
}

// decide maps a regime transition to a direction and confidence.
func (rf *RegimeFollower) decide(re events.RegimeEvent) (events.Direction, float64) {
	switch re.Regime {
	case events.RegimeTrending:
		sup, ok := rf.supervisors[re.Symbol]
		if !ok {
			return events.DirectionNeutral, 0
		}
		slope := sup.Metrics().Slope
		if slope > 0 {
			return events.DirectionBuy, re.RSquared
		}
		if slope < 0 {
			return events.DirectionSell, re.RSquared
		}
		return events.DirectionNeutral, 0

	case events.RegimeMeanReversion:
		confidence := math.Min(math.Abs(re.ZScore)/zScoreFullConfidence, 1)
		if re.ZScore > 0 {
			return events.DirectionSell, confidence
		}
		if re.ZScore < 0 {
			return events.DirectionBuy, confidence
		}
		return events.DirectionNeutral, 0

	default:
		return events.DirectionNeutral, 0
	}
}
