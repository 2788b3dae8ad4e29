// Package events provides the typed event bus that connects the
// components of the trading pipeline, together with the event payloads
// that travel over it.
package events

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// EventType is the concrete kind tag used for dispatch. Handlers are
// registered against a tag, never against an interface, so dispatch is
// an exact match with no reflection.
type EventType string

const (
	EventTypeTick         EventType = "tick"
	EventTypeRegime       EventType = "regime"
	EventTypeSignal       EventType = "signal"
	EventTypeOrderRequest EventType = "order_request"
)

// Direction is the side of a signal or order.
type Direction string

const (
	DirectionBuy     Direction = "BUY"
	DirectionSell    Direction = "SELL"
	DirectionNeutral Direction = "NEUTRAL"
)

// RegimeType classifies market behavior.
type RegimeType string

const (
	RegimeTrending      RegimeType = "TRENDING"
	RegimeMeanReversion RegimeType = "MEAN_REVERSION"
	RegimeRanging       RegimeType = "RANGING"
)

// Event is implemented by every payload published on the bus.
type Event interface {
	Kind() EventType
	Occurred() time.Time
}

// TickEvent is a single market data observation. Fields are fixed at
// construction; derived values are exposed as methods.
type TickEvent struct {
	Symbol    string          `json:"symbol"`
	Timestamp time.Time       `json:"timestamp"`
	Bid       decimal.Decimal `json:"bid"`
	Ask       decimal.Decimal `json:"ask"`
	Volume    decimal.Decimal `json:"volume"`
}

func (e TickEvent) Kind() EventType     { return EventTypeTick }
func (e TickEvent) Occurred() time.Time { return e.Timestamp }

// Mid returns the bid/ask midpoint.
func (e TickEvent) Mid() decimal.Decimal {
	return e.Bid.Add(e.Ask).Div(decimal.NewFromInt(2))
}

// Spread returns the ask minus bid.
func (e TickEvent) Spread() decimal.Decimal {
	return e.Ask.Sub(e.Bid)
}

// NewTickEvent creates a tick event.
func NewTickEvent(symbol string, ts time.Time, bid, ask, volume decimal.Decimal) TickEvent {
	return TickEvent{
		Symbol:    symbol,
		Timestamp: ts,
		Bid:       bid,
		Ask:       ask,
		Volume:    volume,
	}
}

// RegimeEvent announces a change in a symbol's market regime.
type RegimeEvent struct {
	Symbol    string     `json:"symbol"`
	Timestamp time.Time  `json:"timestamp"`
	Regime    RegimeType `json:"regime"`
	RSquared  float64    `json:"r_squared"`
	ZScore    float64    `json:"z_score"`
}

func (e RegimeEvent) Kind() EventType     { return EventTypeRegime }
func (e RegimeEvent) Occurred() time.Time { return e.Timestamp }

// SignalEvent is a candidate trade produced by strategy logic.
type SignalEvent struct {
	Symbol     string          `json:"symbol"`
	Timestamp  time.Time       `json:"timestamp"`
	Direction  Direction       `json:"direction"`
	Confidence float64         `json:"confidence"`
	Regime     RegimeType      `json:"regime"`
	Price      decimal.Decimal `json:"price"`
}

func (e SignalEvent) Kind() EventType     { return EventTypeSignal }
func (e SignalEvent) Occurred() time.Time { return e.Timestamp }

// NewSignalEvent creates a signal event. Confidence outside [0, 1] is an
// invalid-input error; the signal is never constructed.
func NewSignalEvent(symbol string, ts time.Time, direction Direction, confidence float64, regime RegimeType, price decimal.Decimal) (SignalEvent, error) {
	if confidence < 0 || confidence > 1 {
		return SignalEvent{}, fmt.Errorf("confidence must be in [0, 1], got %v", confidence)
	}
	return SignalEvent{
		Symbol:     symbol,
		Timestamp:  ts,
		Direction:  direction,
		Confidence: confidence,
		Regime:     regime,
		Price:      price,
	}, nil
}

// OrderRequestEvent is a risk-approved order handed to the execution
// boundary. SignalID is derived from the signal content and doubles as
// an idempotency key.
type OrderRequestEvent struct {
	Symbol     string          `json:"symbol"`
	Timestamp  time.Time       `json:"timestamp"`
	Direction  Direction       `json:"direction"`
	Quantity   decimal.Decimal `json:"quantity"`
	Price      decimal.Decimal `json:"price"`
	RiskAmount decimal.Decimal `json:"risk_amount"`
	SignalID   string          `json:"signal_id"`
}

func (e OrderRequestEvent) Kind() EventType     { return EventTypeOrderRequest }
func (e OrderRequestEvent) Occurred() time.Time { return e.Timestamp }
