// Package config loads engine configuration from file and environment.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
)

// InstrumentConfig describes one tradeable symbol.
type InstrumentConfig struct {
	Symbol    string  `mapstructure:"symbol"`
	BasePrice float64 `mapstructure:"base_price"`
	Spread    float64 `mapstructure:"spread"`
}

// AccountConfig holds balances and risk ceilings.
type AccountConfig struct {
	Balance         float64 `mapstructure:"balance"`
	MaxRiskPerTrade float64 `mapstructure:"max_risk_per_trade"`
	MaxDailyRisk    float64 `mapstructure:"max_daily_risk"`
}

// RegimeConfig holds classification thresholds; Overrides replaces them
// per symbol.
type RegimeConfig struct {
	BufferSize       int                       `mapstructure:"buffer_size"`
	R2TrendThreshold float64                   `mapstructure:"r2_trend_threshold"`
	ZScoreThreshold  float64                   `mapstructure:"z_score_threshold"`
	Overrides        map[string]RegimeOverride `mapstructure:"overrides"`
}

// RegimeOverride carries per-symbol threshold replacements; zero fields
// fall back to the shared values.
type RegimeOverride struct {
	BufferSize       int     `mapstructure:"buffer_size"`
	R2TrendThreshold float64 `mapstructure:"r2_trend_threshold"`
	ZScoreThreshold  float64 `mapstructure:"z_score_threshold"`
}

// MTFConfig selects the timeframe pair for the alignment filter.
type MTFConfig struct {
	Enabled         bool   `mapstructure:"enabled"`
	EntryTimeframe  string `mapstructure:"entry_timeframe"`
	FilterTimeframe string `mapstructure:"filter_timeframe"`
}

// FeedConfig selects and tunes the tick source.
type FeedConfig struct {
	Mode         string        `mapstructure:"mode"` // "synthetic" or "gateway"
	TickInterval time.Duration `mapstructure:"tick_interval"`
	GatewayURL   string        `mapstructure:"gateway_url"`
}

// ServerConfig holds the monitoring HTTP server settings.
type ServerConfig struct {
	Host           string        `mapstructure:"host"`
	Port           int           `mapstructure:"port"`
	ReportInterval time.Duration `mapstructure:"report_interval"`
}

// Config is the root engine configuration.
type Config struct {
	LogLevel    string             `mapstructure:"log_level"`
	Instruments []InstrumentConfig `mapstructure:"instruments"`
	Account     AccountConfig      `mapstructure:"account"`
	Regime      RegimeConfig       `mapstructure:"regime"`
	MTF         MTFConfig          `mapstructure:"mtf"`
	Feed        FeedConfig         `mapstructure:"feed"`
	Server      ServerConfig       `mapstructure:"server"`
}

// Symbols returns the instrument symbols in declaration order.
func (c *Config) Symbols() []string {
	out := make([]string, 0, len(c.Instruments))
	for _, inst := range c.Instruments {
		out = append(out, inst.Symbol)
	}
	return out
}

// BalanceDecimal returns the account balance as decimal money.
func (c *Config) BalanceDecimal() decimal.Decimal {
	return decimal.NewFromFloat(c.Account.Balance)
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("log_level", "info")
	v.SetDefault("instruments", []map[string]interface{}{
		{"symbol": "EURUSD", "base_price": 1.0850, "spread": 0.0001},
		{"symbol": "GBPUSD", "base_price": 1.2650, "spread": 0.0002},
		{"symbol": "USDJPY", "base_price": 149.50, "spread": 0.02},
	})
	v.SetDefault("account.balance", 100000.0)
	v.SetDefault("account.max_risk_per_trade", 100.0)
	v.SetDefault("account.max_daily_risk", 0.0)
	v.SetDefault("regime.buffer_size", 50)
	v.SetDefault("regime.r2_trend_threshold", 0.7)
	v.SetDefault("regime.z_score_threshold", 2.0)
	v.SetDefault("mtf.enabled", false)
	v.SetDefault("mtf.entry_timeframe", "M5")
	v.SetDefault("mtf.filter_timeframe", "H1")
	v.SetDefault("feed.mode", "synthetic")
	v.SetDefault("feed.tick_interval", 100*time.Millisecond)
	v.SetDefault("feed.gateway_url", "ws://localhost:9001/ticks")
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.report_interval", 10*time.Second)
}

// Load reads configuration from path (optional) layered over defaults
// and VERTEX_* environment variables.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("VERTEX")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("reading config %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	if len(c.Instruments) == 0 {
		return fmt.Errorf("config: at least one instrument required")
	}
	for _, inst := range c.Instruments {
		if inst.Symbol == "" {
			return fmt.Errorf("config: instrument with empty symbol")
		}
		if inst.BasePrice <= 0 {
			return fmt.Errorf("config: instrument %s has non-positive base price", inst.Symbol)
		}
	}
	if c.Account.Balance <= 0 {
		return fmt.Errorf("config: account balance must be positive")
	}
	if c.Account.MaxRiskPerTrade <= 0 {
		return fmt.Errorf("config: max risk per trade must be positive")
	}
	switch c.Feed.Mode {
	case "synthetic", "gateway":
	default:
		return fmt.Errorf("config: unknown feed mode %q", c.Feed.Mode)
	}
	return nil
}
