// Package analytics aggregates ticks and approved orders into per-symbol
// daily statistics, a trade ledger and portfolio-level performance
// metrics.
package analytics

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/vertex-trading/engine/internal/events"
	"github.com/vertex-trading/engine/internal/instrumentation"
)

// TradeStatus marks whether a trade has been exited.
type TradeStatus string

const (
	TradeStatusOpen   TradeStatus = "OPEN"
	TradeStatusClosed TradeStatus = "CLOSED"
)

// DailyStats carries the running OHLCV statistics for one symbol.
//
// The high/low timestamps are re-stamped whenever the latest mid equals
// the extremum, ties included.
type DailyStats struct {
	Symbol        string          `json:"symbol"`
	Date          time.Time       `json:"date"`
	Open          decimal.Decimal `json:"open"`
	High          decimal.Decimal `json:"high"`
	Low           decimal.Decimal `json:"low"`
	Close         decimal.Decimal `json:"close"`
	Volume        decimal.Decimal `json:"volume"`
	HighTimestamp time.Time       `json:"high_timestamp"`
	LowTimestamp  time.Time       `json:"low_timestamp"`
}

// Range returns the daily high minus low.
func (d DailyStats) Range() decimal.Decimal {
	return d.High.Sub(d.Low)
}

// RangePct returns the daily range as a percentage of the open.
func (d DailyStats) RangePct() decimal.Decimal {
	if d.Open.IsZero() {
		return decimal.Zero
	}
	return d.Range().Div(d.Open).Mul(decimal.NewFromInt(100))
}

// TradeRecord tracks a single trade from entry to exit.
type TradeRecord struct {
	ID             string            `json:"id"`
	Symbol         string            `json:"symbol"`
	Direction      events.Direction  `json:"direction"`
	EntryPrice     decimal.Decimal   `json:"entry_price"`
	EntryTimestamp time.Time         `json:"entry_timestamp"`
	Quantity       decimal.Decimal   `json:"quantity"`
	RiskAmount     decimal.Decimal   `json:"risk_amount"`
	Confidence     float64           `json:"confidence"`
	Regime         events.RegimeType `json:"regime"`

	ExitPrice     decimal.Decimal `json:"exit_price,omitempty"`
	ExitTimestamp time.Time       `json:"exit_timestamp,omitempty"`
	closed        bool
}

// Status reports OPEN until an exit has been recorded.
func (t *TradeRecord) Status() TradeStatus {
	if t.closed {
		return TradeStatusClosed
	}
	return TradeStatusOpen
}

// PnL returns the realized profit or loss. The second return value is
// false while the trade is open.
func (t *TradeRecord) PnL() (decimal.Decimal, bool) {
	if !t.closed {
		return decimal.Zero, false
	}
	if t.Direction == events.DirectionBuy {
		return t.ExitPrice.Sub(t.EntryPrice).Mul(t.Quantity), true
	}
	return t.EntryPrice.Sub(t.ExitPrice).Mul(t.Quantity), true
}

// PnLPct returns the realized return as a percentage of the entry price.
func (t *TradeRecord) PnLPct() (float64, bool) {
	if !t.closed || t.EntryPrice.IsZero() {
		return 0, false
	}
	move := t.ExitPrice.Sub(t.EntryPrice)
	if t.Direction == events.DirectionSell {
		move = move.Neg()
	}
	return move.Div(t.EntryPrice).Mul(decimal.NewFromInt(100)).InexactFloat64(), true
}

// Duration returns the holding time of a closed trade.
func (t *TradeRecord) Duration() (time.Duration, bool) {
	if !t.closed {
		return 0, false
	}
	return t.ExitTimestamp.Sub(t.EntryTimestamp), true
}

// MarketAnalytics owns the trade ledger and per-symbol daily statistics.
// It folds tick events into the daily stats and opens a ledger entry for
// every approved order. Signal events are observed only to label the
// resulting trade with the confidence and regime that produced it.
type MarketAnalytics struct {
	logger  *zap.Logger
	metrics *instrumentation.Metrics

	mu          sync.RWMutex
	dailyStats  map[string]*DailyStats
	trades      []*TradeRecord
	lastSignals map[string]events.SignalEvent
}

// NewMarketAnalytics creates the aggregator for the given symbols and
// subscribes it to tick, signal and order events. instr may be nil.
func NewMarketAnalytics(bus *events.Bus, symbols []string, sessionStart time.Time, logger *zap.Logger, instr *instrumentation.Metrics) *MarketAnalytics {
	ma := &MarketAnalytics{
		logger:      logger.Named("analytics"),
		metrics:     instr,
		dailyStats:  make(map[string]*DailyStats, len(symbols)),
		lastSignals: make(map[string]events.SignalEvent),
	}
	for _, symbol := range symbols {
		ma.dailyStats[symbol] = &DailyStats{Symbol: symbol, Date: sessionStart}
	}
	bus.Subscribe(events.EventTypeTick, ma.onTick)
	bus.Subscribe(events.EventTypeSignal, ma.onSignal)
	bus.Subscribe(events.EventTypeOrderRequest, ma.onOrder)

	ma.logger.Info("analytics initialized", zap.Strings("symbols", symbols))
	return ma
}

func (ma *MarketAnalytics) onTick(event events.Event) error {
	tick, ok := event.(events.TickEvent)
	if !ok {
		return nil
	}

	ma.mu.Lock()
	defer ma.mu.Unlock()

	daily, ok := ma.dailyStats[tick.Symbol]
	if !ok {
		daily = &DailyStats{Symbol: tick.Symbol, Date: tick.Timestamp}
		ma.dailyStats[tick.Symbol] = daily
	}

	mid := tick.Mid()
	if daily.Open.IsZero() {
		daily.Open = mid
	}
	if mid.GreaterThan(daily.High) {
		daily.High = mid
	}
	// Low starts unset; the first non-zero mid seeds it.
	if daily.Low.IsPositive() {
		if mid.LessThan(daily.Low) {
			daily.Low = mid
		}
	} else if mid.IsPositive() {
		daily.Low = mid
	}
	daily.Close = mid
	daily.Volume = daily.Volume.Add(tick.Volume)

	if mid.Equal(daily.High) {
		daily.HighTimestamp = tick.Timestamp
	}
	if mid.Equal(daily.Low) {
		daily.LowTimestamp = tick.Timestamp
	}

	if ma.metrics != nil {
		ma.metrics.RecordTick(tick.Symbol)
	}
	return nil
}

func (ma *MarketAnalytics) onSignal(event events.Event) error {
	signal, ok := event.(events.SignalEvent)
	if !ok {
		return nil
	}
	ma.mu.Lock()
	ma.lastSignals[signal.Symbol] = signal
	ma.mu.Unlock()
	return nil
}

func (ma *MarketAnalytics) onOrder(event events.Event) error {
	order, ok := event.(events.OrderRequestEvent)
	if !ok {
		return nil
	}

	ma.mu.Lock()
	defer ma.mu.Unlock()

	var confidence float64
	var regime events.RegimeType
	if signal, ok := ma.lastSignals[order.Symbol]; ok {
		confidence = signal.Confidence
		regime = signal.Regime
	}
	ma.appendTrade(order.Symbol, order.Direction, order.Price, order.Quantity, order.RiskAmount, confidence, regime)
	return nil
}

func (ma *MarketAnalytics) appendTrade(symbol string, direction events.Direction, entryPrice, quantity, riskAmount decimal.Decimal, confidence float64, regime events.RegimeType) *TradeRecord {
	trade := &TradeRecord{
		ID:             uuid.NewString(),
		Symbol:         symbol,
		Direction:      direction,
		EntryPrice:     entryPrice,
		EntryTimestamp: time.Now().UTC(),
		Quantity:       quantity,
		RiskAmount:     riskAmount,
		Confidence:     confidence,
		Regime:         regime,
	}
	ma.trades = append(ma.trades, trade)
	return trade
}

// RecordTrade appends an open trade to the ledger with the current
// wall-clock as entry time.
func (ma *MarketAnalytics) RecordTrade(symbol string, direction events.Direction, entryPrice, quantity, riskAmount decimal.Decimal, confidence float64, regime events.RegimeType) *TradeRecord {
	ma.mu.Lock()
	defer ma.mu.Unlock()
	return ma.appendTrade(symbol, direction, entryPrice, quantity, riskAmount, confidence, regime)
}

// CloseTrade stamps the exit price and time on a trade, making its PnL
// defined.
func (ma *MarketAnalytics) CloseTrade(trade *TradeRecord, exitPrice decimal.Decimal) {
	ma.mu.Lock()
	defer ma.mu.Unlock()

	trade.ExitPrice = exitPrice
	trade.ExitTimestamp = time.Now().UTC()
	trade.closed = true
}

// DailyStats returns a copy of the running daily statistics for symbol.
func (ma *MarketAnalytics) DailyStats(symbol string) (DailyStats, bool) {
	ma.mu.RLock()
	defer ma.mu.RUnlock()
	daily, ok := ma.dailyStats[symbol]
	if !ok {
		return DailyStats{}, false
	}
	return *daily, true
}

// AllDailyStats returns a copy of the daily statistics for every symbol.
func (ma *MarketAnalytics) AllDailyStats() map[string]DailyStats {
	ma.mu.RLock()
	defer ma.mu.RUnlock()

	out := make(map[string]DailyStats, len(ma.dailyStats))
	for symbol, daily := range ma.dailyStats {
		out[symbol] = *daily
	}
	return out
}

// Trades filters the ledger by symbol and status; empty arguments match
// everything.
func (ma *MarketAnalytics) Trades(symbol string, status TradeStatus) []*TradeRecord {
	ma.mu.RLock()
	defer ma.mu.RUnlock()

	var out []*TradeRecord
	for _, trade := range ma.trades {
		if symbol != "" && trade.Symbol != symbol {
			continue
		}
		if status != "" && trade.Status() != status {
			continue
		}
		out = append(out, trade)
	}
	return out
}
