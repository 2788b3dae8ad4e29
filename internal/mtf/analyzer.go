// Package mtf implements the multi-timeframe trend alignment filter:
// an entry signal on a low timeframe is only acted on when the trend of
// a higher timeframe points the same way.
package mtf

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/vertex-trading/engine/internal/events"
)

// slopeEpsilon separates a real trend from regression noise.
const slopeEpsilon = 1e-5

// Timeframe identifies a bar aggregation period.
type Timeframe string

const (
	TimeframeM5  Timeframe = "M5"
	TimeframeM15 Timeframe = "M15"
	TimeframeM30 Timeframe = "M30"
	TimeframeH1  Timeframe = "H1"
	TimeframeH4  Timeframe = "H4"
	TimeframeD1  Timeframe = "D1"
)

// Duration returns the bar period, or an error for an unknown timeframe.
func (tf Timeframe) Duration() (time.Duration, error) {
	switch tf {
	case TimeframeM5:
		return 5 * time.Minute, nil
	case TimeframeM15:
		return 15 * time.Minute, nil
	case TimeframeM30:
		return 30 * time.Minute, nil
	case TimeframeH1:
		return time.Hour, nil
	case TimeframeH4:
		return 4 * time.Hour, nil
	case TimeframeD1:
		return 24 * time.Hour, nil
	default:
		return 0, fmt.Errorf("unknown timeframe %q", tf)
	}
}

// Bar is one OHLCV candle for a symbol and timeframe.
type Bar struct {
	Symbol    string    `json:"symbol"`
	Timeframe Timeframe `json:"timeframe"`
	Timestamp time.Time `json:"timestamp"`
	Open      float64   `json:"open"`
	High      float64   `json:"high"`
	Low       float64   `json:"low"`
	Close     float64   `json:"close"`
	Volume    int64     `json:"volume"`
}

// BarProvider fetches historical bars from the market-data collaborator.
type BarProvider interface {
	Bars(ctx context.Context, symbol string, timeframe Timeframe, count int) ([]Bar, error)
}

// TrendDirection classifies the slope of a timeframe's closes.
type TrendDirection string

const (
	TrendUp      TrendDirection = "UP"
	TrendDown    TrendDirection = "DOWN"
	TrendFlat    TrendDirection = "FLAT"
	TrendUnknown TrendDirection = "UNKNOWN"
)

// Trend is the result of analyzing one symbol/timeframe pair.
type Trend struct {
	Slope     float64        `json:"slope"`
	Direction TrendDirection `json:"direction"`
	Close     float64        `json:"close"`
	Timestamp time.Time      `json:"timestamp"`
}

// Analyzer computes timeframe trends on demand. It keeps no state that
// affects correctness; the bar cache exists only for inspection.
type Analyzer struct {
	provider BarProvider
	logger   *zap.Logger

	cacheMu sync.RWMutex
	cache   map[string][]Bar // keyed by symbol|timeframe
}

// NewAnalyzer creates an analyzer backed by provider.
func NewAnalyzer(provider BarProvider, logger *zap.Logger) *Analyzer {
	return &Analyzer{
		provider: provider,
		logger:   logger.Named("mtf"),
		cache:    make(map[string][]Bar),
	}
}

// GetTrend fetches count bars and classifies the close-price trend.
// When no bars are available the direction is UNKNOWN.
func (a *Analyzer) GetTrend(ctx context.Context, symbol string, timeframe Timeframe, count int) Trend {
	bars, err := a.provider.Bars(ctx, symbol, timeframe, count)
	if err != nil {
		a.logger.Warn("bar fetch failed",
			zap.String("symbol", symbol),
			zap.String("timeframe", string(timeframe)),
			zap.Error(err),
		)
		return Trend{Direction: TrendUnknown}
	}
	if len(bars) == 0 {
		a.logger.Warn("no bars available",
			zap.String("symbol", symbol),
			zap.String("timeframe", string(timeframe)),
		)
		return Trend{Direction: TrendUnknown}
	}

	a.cacheMu.Lock()
	a.cache[cacheKey(symbol, timeframe)] = bars
	a.cacheMu.Unlock()

	slope := closeSlope(bars)
	direction := TrendFlat
	switch {
	case slope > slopeEpsilon:
		direction = TrendUp
	case slope < -slopeEpsilon:
		direction = TrendDown
	}

	last := bars[len(bars)-1]
	return Trend{
		Slope:     slope,
		Direction: direction,
		Close:     last.Close,
		Timestamp: last.Timestamp,
	}
}

// IsAligned reports whether the filter timeframe's trend supports the
// proposed entry direction: BUY needs UP, SELL needs DOWN. An
// indeterminate filter trend blocks the entry.
func (a *Analyzer) IsAligned(ctx context.Context, symbol string, entryDirection events.Direction, entryTimeframe, filterTimeframe Timeframe) bool {
	filter := a.GetTrend(ctx, symbol, filterTimeframe, 100)
	if filter.Direction == TrendUnknown {
		a.logger.Warn("cannot determine filter trend",
			zap.String("symbol", symbol),
			zap.String("timeframe", string(filterTimeframe)),
		)
		return false
	}

	var aligned bool
	switch entryDirection {
	case events.DirectionBuy:
		aligned = filter.Direction == TrendUp
	case events.DirectionSell:
		aligned = filter.Direction == TrendDown
	}

	a.logger.Info("alignment check",
		zap.String("symbol", symbol),
		zap.String("entry_timeframe", string(entryTimeframe)),
		zap.String("entry_direction", string(entryDirection)),
		zap.String("filter_timeframe", string(filterTimeframe)),
		zap.String("filter_direction", string(filter.Direction)),
		zap.Bool("aligned", aligned),
	)
	return aligned
}

// LastBars returns the most recently fetched bars for a symbol and
// timeframe, for inspection only.
func (a *Analyzer) LastBars(symbol string, timeframe Timeframe) []Bar {
	a.cacheMu.RLock()
	defer a.cacheMu.RUnlock()
	return a.cache[cacheKey(symbol, timeframe)]
}

func cacheKey(symbol string, timeframe Timeframe) string {
	return symbol + "|" + string(timeframe)
}

// closeSlope fits a least-squares line through the close prices.
func closeSlope(bars []Bar) float64 {
	n := len(bars)
	if n < 2 {
		return 0
	}

	var xMean, yMean float64
	for i, bar := range bars {
		xMean += float64(i)
		yMean += bar.Close
	}
	xMean /= float64(n)
	yMean /= float64(n)

	var covariance, xVariance float64
	for i, bar := range bars {
		dx := float64(i) - xMean
		covariance += dx * (bar.Close - yMean)
		xVariance += dx * dx
	}
	if xVariance == 0 {
		return 0
	}
	return covariance / xVariance
}
