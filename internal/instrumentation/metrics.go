// Package instrumentation exposes Prometheus metrics for the trading
// pipeline.
package instrumentation

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds every collector used by the pipeline. A single instance
// is shared by the bus, the risk gate and the analytics aggregator.
type Metrics struct {
	EventsPublished *prometheus.CounterVec
	HandlerErrors   *prometheus.CounterVec
	TicksIngested   *prometheus.CounterVec
	RegimeChanges   *prometheus.CounterVec
	SignalsRejected *prometheus.CounterVec
	OrdersApproved  *prometheus.CounterVec
	DailyRiskUsed   prometheus.Gauge
}

// NewMetrics creates and registers all collectors on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		EventsPublished: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "vertex_events_published_total",
			Help: "Events published on the bus by kind",
		}, []string{"kind"}),

		HandlerErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "vertex_handler_errors_total",
			Help: "Handler errors and panics isolated by the dispatcher, by event kind",
		}, []string{"kind"}),

		TicksIngested: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "vertex_ticks_ingested_total",
			Help: "Ticks folded into daily statistics, by symbol",
		}, []string{"symbol"}),

		RegimeChanges: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "vertex_regime_changes_total",
			Help: "Regime transitions emitted, by symbol and regime",
		}, []string{"symbol", "regime"}),

		SignalsRejected: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "vertex_signals_rejected_total",
			Help: "Signals dropped by the risk gate, by reason",
		}, []string{"reason"}),

		OrdersApproved: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "vertex_orders_approved_total",
			Help: "Order requests published after risk approval, by symbol",
		}, []string{"symbol"}),

		DailyRiskUsed: factory.NewGauge(prometheus.GaugeOpts{
			Name: "vertex_daily_risk_used",
			Help: "Cumulative daily risk consumed, in account currency",
		}),
	}
}

func (m *Metrics) RecordEventPublished(kind string) {
	m.EventsPublished.WithLabelValues(kind).Inc()
}

func (m *Metrics) RecordHandlerError(kind string) {
	m.HandlerErrors.WithLabelValues(kind).Inc()
}

func (m *Metrics) RecordTick(symbol string) {
	m.TicksIngested.WithLabelValues(symbol).Inc()
}

func (m *Metrics) RecordRegimeChange(symbol, regime string) {
	m.RegimeChanges.WithLabelValues(symbol, regime).Inc()
}

func (m *Metrics) RecordSignalRejected(reason string) {
	m.SignalsRejected.WithLabelValues(reason).Inc()
}

func (m *Metrics) RecordOrderApproved(symbol string) {
	m.OrdersApproved.WithLabelValues(symbol).Inc()
}

func (m *Metrics) RecordDailyRiskUsed(amount float64) {
	m.DailyRiskUsed.Set(amount)
}
