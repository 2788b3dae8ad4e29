// Package api exposes read-only monitoring endpoints over HTTP.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/vertex-trading/engine/internal/analytics"
	"github.com/vertex-trading/engine/internal/execution"
	"github.com/vertex-trading/engine/internal/regime"
)

// ServerConfig holds the listen address and timeouts.
type ServerConfig struct {
	Host         string
	Port         int
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// Server serves engine state snapshots and Prometheus metrics.
type Server struct {
	logger     *zap.Logger
	config     ServerConfig
	router     *mux.Router
	httpServer *http.Server

	riskManager     *execution.RiskManager
	marketAnalytics *analytics.MarketAnalytics
	supervisors     map[string]*regime.Supervisor
	registry        *prometheus.Registry
	initialBalance  decimal.Decimal
}

// NewServer wires the monitoring routes. registry may be nil to skip
// the /metrics endpoint.
func NewServer(logger *zap.Logger, config ServerConfig, rm *execution.RiskManager, ma *analytics.MarketAnalytics, supervisors map[string]*regime.Supervisor, registry *prometheus.Registry, initialBalance decimal.Decimal) *Server {
	s := &Server{
		logger:          logger.Named("api"),
		config:          config,
		router:          mux.NewRouter(),
		riskManager:     rm,
		marketAnalytics: ma,
		supervisors:     supervisors,
		registry:        registry,
		initialBalance:  initialBalance,
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.router.HandleFunc("/healthz", s.handleHealth).Methods("GET")
	s.router.HandleFunc("/api/v1/risk/report", s.handleRiskReport).Methods("GET")
	s.router.HandleFunc("/api/v1/analytics/portfolio", s.handlePortfolio).Methods("GET")
	s.router.HandleFunc("/api/v1/analytics/stats/{symbol}", s.handleDailyStats).Methods("GET")
	s.router.HandleFunc("/api/v1/analytics/trades", s.handleTrades).Methods("GET")
	s.router.HandleFunc("/api/v1/regime/{symbol}", s.handleRegime).Methods("GET")
	if s.registry != nil {
		s.router.Handle("/metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{}))
	}
}

// Start runs the HTTP server until it is stopped.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)

	handler := cors.New(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "OPTIONS"},
		AllowedHeaders: []string{"*"},
	}).Handler(s.router)

	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      handler,
		ReadTimeout:  s.config.ReadTimeout,
		WriteTimeout: s.config.WriteTimeout,
	}

	s.logger.Info("monitoring server listening", zap.String("addr", addr))
	return s.httpServer.ListenAndServe()
}

// Stop gracefully shuts the server down.
func (s *Server) Stop(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

// Handler returns the routed handler, used by tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, map[string]interface{}{
		"status": "healthy",
		"time":   time.Now().Unix(),
	})
}

func (s *Server) handleRiskReport(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, s.riskManager.Report())
}

func (s *Server) handlePortfolio(w http.ResponseWriter, r *http.Request) {
	report := s.riskManager.Report()
	current := s.initialBalance.Sub(report.DailyLoss)
	pm := s.marketAnalytics.PortfolioMetrics(s.initialBalance, current)
	s.writeJSON(w, map[string]interface{}{
		"initial_balance": pm.InitialBalance,
		"current_balance": pm.CurrentBalance,
		"total_trades":    pm.TotalTrades,
		"winning_trades":  pm.WinningTrades,
		"losing_trades":   pm.LosingTrades,
		"win_rate":        pm.WinRate(),
		"profit_factor":   jsonFloat(pm.ProfitFactor()),
		"expectancy":      pm.Expectancy(),
		"sharpe_ratio":    pm.SharpeRatio(analytics.RiskFreeRate),
		"max_drawdown":    pm.MaxDrawdown(),
		"recovery_factor": pm.RecoveryFactor(),
		"equity_curve":    pm.EquityCurve,
	})
}

func (s *Server) handleDailyStats(w http.ResponseWriter, r *http.Request) {
	symbol := mux.Vars(r)["symbol"]
	stats, ok := s.marketAnalytics.DailyStats(symbol)
	if !ok {
		http.Error(w, "unknown symbol", http.StatusNotFound)
		return
	}
	s.writeJSON(w, stats)
}

func (s *Server) handleTrades(w http.ResponseWriter, r *http.Request) {
	symbol := r.URL.Query().Get("symbol")
	status := analytics.TradeStatus(r.URL.Query().Get("status"))
	trades := s.marketAnalytics.Trades(symbol, status)
	s.writeJSON(w, map[string]interface{}{
		"trades": trades,
		"count":  len(trades),
	})
}

func (s *Server) handleRegime(w http.ResponseWriter, r *http.Request) {
	symbol := mux.Vars(r)["symbol"]
	sup, ok := s.supervisors[symbol]
	if !ok {
		http.Error(w, "unknown symbol", http.StatusNotFound)
		return
	}
	s.writeJSON(w, sup.Metrics())
}

func (s *Server) writeJSON(w http.ResponseWriter, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Error("encoding response", zap.Error(err))
	}
}

// jsonFloat maps +Inf to a string so the payload stays valid JSON.
func jsonFloat(v float64) interface{} {
	if v > 1e308 {
		return "inf"
	}
	return v
}
