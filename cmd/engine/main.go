// Package main provides the entry point for the trading decision engine.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/vertex-trading/engine/internal/analytics"
	"github.com/vertex-trading/engine/internal/api"
	"github.com/vertex-trading/engine/internal/config"
	"github.com/vertex-trading/engine/internal/events"
	"github.com/vertex-trading/engine/internal/execution"
	"github.com/vertex-trading/engine/internal/feed"
	"github.com/vertex-trading/engine/internal/instrumentation"
	"github.com/vertex-trading/engine/internal/mtf"
	"github.com/vertex-trading/engine/internal/regime"
	"github.com/vertex-trading/engine/internal/strategy"
)

func main() {
	configPath := flag.String("config", "", "Path to config file (optional)")
	logLevel := flag.String("log-level", "", "Log level override (debug, info, warn, error)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		panic(err)
	}
	if *logLevel != "" {
		cfg.LogLevel = *logLevel
	}

	logger := setupLogger(cfg.LogLevel)
	defer logger.Sync()

	logger.Info("Starting Vertex Trading Engine",
		zap.Strings("symbols", cfg.Symbols()),
		zap.String("feed", cfg.Feed.Mode),
		zap.Int("port", cfg.Server.Port),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	registry := prometheus.NewRegistry()
	instr := instrumentation.NewMetrics(registry)

	bus := events.NewBus(logger, instr)

	// One supervisor per symbol with per-symbol threshold overrides.
	supervisors := make(map[string]*regime.Supervisor, len(cfg.Instruments))
	for _, inst := range cfg.Instruments {
		supervisors[inst.Symbol] = regime.NewSupervisor(bus, inst.Symbol, supervisorConfig(cfg, inst.Symbol), logger, instr)
	}

	var analyzer *mtf.Analyzer
	alignment := strategy.AlignmentConfig{}
	if cfg.MTF.Enabled {
		entryTF := mtf.Timeframe(cfg.MTF.EntryTimeframe)
		filterTF := mtf.Timeframe(cfg.MTF.FilterTimeframe)
		builder := mtf.NewBarBuilder(bus, []mtf.Timeframe{entryTF, filterTF})
		analyzer = mtf.NewAnalyzer(builder, logger)
		alignment = strategy.AlignmentConfig{Enabled: true, EntryTF: entryTF, FilterTF: filterTF}
	}

	strategy.NewRegimeFollower(bus, supervisors, analyzer, alignment, logger)

	riskManager := execution.NewRiskManager(bus, execution.RiskConfig{
		AccountBalance:  cfg.BalanceDecimal(),
		MaxRiskPerTrade: decimal.NewFromFloat(cfg.Account.MaxRiskPerTrade),
		MaxDailyRisk:    decimal.NewFromFloat(cfg.Account.MaxDailyRisk),
	}, logger, instr)

	marketAnalytics := analytics.NewMarketAnalytics(bus, cfg.Symbols(), time.Now().UTC(), logger, instr)

	tickFeed := buildFeed(bus, cfg, logger)

	server := api.NewServer(logger, api.ServerConfig{
		Host:         cfg.Server.Host,
		Port:         cfg.Server.Port,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
	}, riskManager, marketAnalytics, supervisors, registry, cfg.BalanceDecimal())

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		if err := tickFeed.Start(ctx); err != nil {
			logger.Error("Feed error", zap.Error(err))
			sigChan <- syscall.SIGTERM
		}
	}()

	go func() {
		if err := server.Start(); err != nil {
			logger.Error("Server error", zap.Error(err))
		}
	}()

	go runReporter(ctx, cfg.Server.ReportInterval, riskManager, supervisors, logger)

	logger.Info("Engine started")

	<-sigChan
	logger.Info("Shutdown signal received")

	cancel()
	tickFeed.Stop()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := server.Stop(shutdownCtx); err != nil {
		logger.Error("Error during server shutdown", zap.Error(err))
	}

	logFinalReport(riskManager, marketAnalytics, cfg.BalanceDecimal(), logger)
	logger.Info("Engine stopped")
}

func supervisorConfig(cfg *config.Config, symbol string) regime.Config {
	rc := regime.Config{
		BufferSize:       cfg.Regime.BufferSize,
		R2TrendThreshold: cfg.Regime.R2TrendThreshold,
		ZScoreThreshold:  cfg.Regime.ZScoreThreshold,
	}
	if o, ok := cfg.Regime.Overrides[symbol]; ok {
		if o.BufferSize > 0 {
			rc.BufferSize = o.BufferSize
		}
		if o.R2TrendThreshold > 0 {
			rc.R2TrendThreshold = o.R2TrendThreshold
		}
		if o.ZScoreThreshold > 0 {
			rc.ZScoreThreshold = o.ZScoreThreshold
		}
	}
	return rc
}

func buildFeed(bus *events.Bus, cfg *config.Config, logger *zap.Logger) feed.Feed {
	if cfg.Feed.Mode == "gateway" {
		return feed.NewGatewayFeed(bus, cfg.Feed.GatewayURL, cfg.Symbols(), logger)
	}
	instruments := make([]feed.Instrument, 0, len(cfg.Instruments))
	for _, inst := range cfg.Instruments {
		instruments = append(instruments, feed.Instrument{
			Symbol:    inst.Symbol,
			BasePrice: decimal.NewFromFloat(inst.BasePrice),
			Spread:    decimal.NewFromFloat(inst.Spread),
		})
	}
	return feed.NewSyntheticFeed(bus, instruments, cfg.Feed.TickInterval, logger)
}

// runReporter logs a periodic status line until the context is
// cancelled.
func runReporter(ctx context.Context, interval time.Duration, rm *execution.RiskManager, supervisors map[string]*regime.Supervisor, logger *zap.Logger) {
	if interval <= 0 {
		interval = 10 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		report := rm.Report()
		fields := []zap.Field{
			zap.Int("orders", report.TotalOrders),
			zap.String("daily_loss", report.DailyLoss.String()),
			zap.String("headroom", report.RemainingDailyRisk.String()),
		}
		for symbol, sup := range supervisors {
			m := sup.Metrics()
			fields = append(fields, zap.String(symbol, string(m.Regime)))
		}
		logger.Info("status", fields...)
	}
}

func logFinalReport(rm *execution.RiskManager, ma *analytics.MarketAnalytics, initialBalance decimal.Decimal, logger *zap.Logger) {
	report := rm.Report()
	current := initialBalance.Sub(report.DailyLoss)
	pm := ma.PortfolioMetrics(initialBalance, current)

	logger.Info("final report",
		zap.Int("total_orders", report.TotalOrders),
		zap.Int("open_trades", report.OpenTrades),
		zap.String("daily_loss", report.DailyLoss.String()),
		zap.Int("ledger_trades", pm.TotalTrades),
		zap.Float64("win_rate", pm.WinRate()),
		zap.String("expectancy", pm.Expectancy().String()),
		zap.Float64("max_drawdown", pm.MaxDrawdown()),
	)
}

func setupLogger(level string) *zap.Logger {
	var zapLevel zapcore.Level
	switch level {
	case "debug":
		zapLevel = zapcore.DebugLevel
	case "info":
		zapLevel = zapcore.InfoLevel
	case "warn":
		zapLevel = zapcore.WarnLevel
	case "error":
		zapLevel = zapcore.ErrorLevel
	default:
		zapLevel = zapcore.InfoLevel
	}

	config := zap.Config{
		Level:       zap.NewAtomicLevelAt(zapLevel),
		Development: false,
		Encoding:    "console",
		EncoderConfig: zapcore.EncoderConfig{
			TimeKey:        "time",
			LevelKey:       "level",
			NameKey:        "logger",
			CallerKey:      "caller",
			MessageKey:     "msg",
			StacktraceKey:  "stacktrace",
			LineEnding:     zapcore.DefaultLineEnding,
			EncodeLevel:    zapcore.CapitalColorLevelEncoder,
			EncodeTime:     zapcore.ISO8601TimeEncoder,
			EncodeDuration: zapcore.SecondsDurationEncoder,
			EncodeCaller:   zapcore.ShortCallerEncoder,
		},
		OutputPaths:      []string{"stdout"},
		ErrorOutputPaths: []string{"stderr"},
	}

	logger, err := config.Build()
	if err != nil {
		panic(err)
	}
	return logger
}
