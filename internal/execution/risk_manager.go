// Package execution provides the risk-validation gate between strategy
// signals and the order-execution boundary.
package execution

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/vertex-trading/engine/internal/events"
	"github.com/vertex-trading/engine/internal/instrumentation"
)

// RiskConfig configures the risk gate.
type RiskConfig struct {
	AccountBalance  decimal.Decimal // informational, reported only
	MaxRiskPerTrade decimal.Decimal // absolute currency ceiling per trade
	MaxDailyRisk    decimal.Decimal // cumulative daily ceiling; 2x per-trade when zero
}

// DefaultRiskConfig returns the standard ceilings.
func DefaultRiskConfig() RiskConfig {
	return RiskConfig{
		AccountBalance:  decimal.NewFromInt(100000),
		MaxRiskPerTrade: decimal.NewFromInt(100),
	}
}

// RiskManager consumes signal events, sizes their risk exposure and
// publishes order requests for the signals that clear both the per-trade
// and the cumulative daily ceiling. Rejections are policy drops: logged,
// no event emitted.
//
// The daily loss accumulator is never reset automatically; a day-boundary
// rollover policy is the operator's concern.
type RiskManager struct {
	bus     *events.Bus
	config  RiskConfig
	logger  *zap.Logger
	metrics *instrumentation.Metrics

	mu         sync.RWMutex
	dailyLoss  decimal.Decimal
	openOrders map[string]events.OrderRequestEvent // keyed by signal id
	orderCount int
}

// NewRiskManager creates the gate and subscribes it to signal events.
// instr may be nil.
func NewRiskManager(bus *events.Bus, config RiskConfig, logger *zap.Logger, instr *instrumentation.Metrics) *RiskManager {
	if config.MaxDailyRisk.IsZero() {
		config.MaxDailyRisk = config.MaxRiskPerTrade.Mul(decimal.NewFromInt(2))
	}
	rm := &RiskManager{
		bus:        bus,
		config:     config,
		logger:     logger.Named("risk"),
		metrics:    instr,
		openOrders: make(map[string]events.OrderRequestEvent),
	}
	bus.Subscribe(events.EventTypeSignal, rm.onSignal)
	return rm
}

func (rm *RiskManager) onSignal(event events.Event) error {
	signal, ok := event.(events.SignalEvent)
	if !ok {
		return nil
	}
	if signal.Direction != events.DirectionBuy && signal.Direction != events.DirectionSell {
		rm.logger.Debug("ignoring neutral signal", zap.String("symbol", signal.Symbol))
		return nil
	}

	rm.mu.Lock()
	defer rm.mu.Unlock()

	riskAmount := rm.estimateRisk(signal)

	// Confidence is capped at 1, so this ceiling can never trip with the
	// current sizing formula. The check stays because the ceiling is the
	// contract, not the formula.
	if riskAmount.GreaterThan(rm.config.MaxRiskPerTrade) {
		rm.logger.Warn("signal rejected: per-trade ceiling",
			zap.String("symbol", signal.Symbol),
			zap.String("direction", string(signal.Direction)),
			zap.String("risk", riskAmount.StringFixed(2)),
			zap.String("ceiling", rm.config.MaxRiskPerTrade.StringFixed(2)),
		)
		if rm.metrics != nil {
			rm.metrics.RecordSignalRejected("per_trade_ceiling")
		}
		return nil
	}

	projected := rm.dailyLoss.Add(riskAmount)
	if projected.GreaterThan(rm.config.MaxDailyRisk) {
		rm.logger.Warn("signal rejected: daily ceiling",
			zap.String("symbol", signal.Symbol),
			zap.String("direction", string(signal.Direction)),
			zap.String("projected", projected.StringFixed(2)),
			zap.String("ceiling", rm.config.MaxDailyRisk.StringFixed(2)),
		)
		if rm.metrics != nil {
			rm.metrics.RecordSignalRejected("daily_ceiling")
		}
		return nil
	}

	return rm.emitOrder(signal, riskAmount)
}

// estimateRisk sizes a signal's exposure: the per-trade ceiling scaled by
// the signal's confidence.
func (rm *RiskManager) estimateRisk(signal events.SignalEvent) decimal.Decimal {
	return rm.config.MaxRiskPerTrade.Mul(decimal.NewFromFloat(signal.Confidence))
}

// emitOrder builds and publishes the approved order request. Caller
// holds mu.
func (rm *RiskManager) emitOrder(signal events.SignalEvent, riskAmount decimal.Decimal) error {
	if !signal.Price.IsPositive() {
		return fmt.Errorf("cannot size order for %s: non-positive price %s", signal.Symbol, signal.Price)
	}

	signalID := HashSignal(signal)

	// Unit risk taken as 1% of price.
	quantity := riskAmount.Div(signal.Price.Mul(decimal.NewFromFloat(0.01)))

	order := events.OrderRequestEvent{
		Symbol:     signal.Symbol,
		Timestamp:  time.Now().UTC(),
		Direction:  signal.Direction,
		Quantity:   quantity,
		Price:      signal.Price,
		RiskAmount: riskAmount,
		SignalID:   signalID,
	}

	rm.orderCount++
	rm.openOrders[signalID] = order
	rm.dailyLoss = rm.dailyLoss.Add(riskAmount)

	rm.logger.Info("order approved",
		zap.String("symbol", order.Symbol),
		zap.String("direction", string(order.Direction)),
		zap.String("quantity", order.Quantity.StringFixed(4)),
		zap.String("price", order.Price.String()),
		zap.String("risk", riskAmount.StringFixed(2)),
		zap.String("signal_id", signalID),
	)
	if rm.metrics != nil {
		rm.metrics.RecordOrderApproved(order.Symbol)
		rm.metrics.RecordDailyRiskUsed(rm.dailyLoss.InexactFloat64())
	}

	rm.bus.Publish(order)
	return nil
}

// HashSignal derives a deterministic short identifier from a signal's
// content, used as the order's idempotency key.
func HashSignal(signal events.SignalEvent) string {
	payload := fmt.Sprintf("%s_%s_%s_%s",
		signal.Symbol,
		signal.Direction,
		signal.Timestamp.UTC().Format(time.RFC3339Nano),
		strconv.FormatFloat(signal.Confidence, 'g', -1, 64),
	)
	sum := sha256.Sum256([]byte(payload))
	return hex.EncodeToString(sum[:])[:16]
}

// Report is a snapshot of the gate's state for monitoring.
type Report struct {
	AccountBalance     decimal.Decimal `json:"account_balance"`
	MaxRiskPerTrade    decimal.Decimal `json:"max_risk_per_trade"`
	MaxDailyRisk       decimal.Decimal `json:"max_daily_risk"`
	DailyLoss          decimal.Decimal `json:"daily_loss"`
	RemainingDailyRisk decimal.Decimal `json:"remaining_daily_risk"`
	OpenTrades         int             `json:"open_trades"`
	TotalOrders        int             `json:"total_orders"`
}

// Report returns the current risk ledger snapshot. Remaining headroom is
// clamped at zero.
func (rm *RiskManager) Report() Report {
	rm.mu.RLock()
	defer rm.mu.RUnlock()

	remaining := rm.config.MaxDailyRisk.Sub(rm.dailyLoss)
	if remaining.IsNegative() {
		remaining = decimal.Zero
	}
	return Report{
		AccountBalance:     rm.config.AccountBalance,
		MaxRiskPerTrade:    rm.config.MaxRiskPerTrade,
		MaxDailyRisk:       rm.config.MaxDailyRisk,
		DailyLoss:          rm.dailyLoss,
		RemainingDailyRisk: remaining,
		OpenTrades:         len(rm.openOrders),
		TotalOrders:        rm.orderCount,
	}
}

// OpenOrder looks up an approved order by its signal id.
func (rm *RiskManager) OpenOrder(signalID string) (events.OrderRequestEvent, bool) {
	rm.mu.RLock()
	defer rm.mu.RUnlock()
	order, ok := rm.openOrders[signalID]
	return order, ok
}
