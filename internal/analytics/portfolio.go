package analytics

import (
	"math"

	"github.com/shopspring/decimal"
)

// RiskFreeRate is the annualized rate used for Sharpe calculations.
const RiskFreeRate = 0.02

const tradingDaysPerYear = 252

// PortfolioMetrics summarizes the ledger against an initial balance.
// Trade counts cover the whole ledger; pnl aggregates cover closed
// trades only.
type PortfolioMetrics struct {
	InitialBalance decimal.Decimal `json:"initial_balance"`
	CurrentBalance decimal.Decimal `json:"current_balance"`
	TotalTrades    int             `json:"total_trades"`
	WinningTrades  int             `json:"winning_trades"`
	LosingTrades   int             `json:"losing_trades"`
	GrossProfit    decimal.Decimal `json:"gross_profit"`
	GrossLoss      decimal.Decimal `json:"gross_loss"`
	LargestWin     decimal.Decimal `json:"largest_win"`
	LargestLoss    decimal.Decimal `json:"largest_loss"`

	// Returns holds the per-trade percentage returns of closed trades
	// in ledger order; EquityCurve starts at the initial balance and
	// adds each closed trade's pnl.
	Returns     []float64         `json:"returns"`
	EquityCurve []decimal.Decimal `json:"equity_curve"`
}

// PortfolioMetrics walks the ledger and computes the summary for the
// given starting and current balances.
func (ma *MarketAnalytics) PortfolioMetrics(initialBalance, currentBalance decimal.Decimal) PortfolioMetrics {
	ma.mu.RLock()
	defer ma.mu.RUnlock()

	pm := PortfolioMetrics{
		InitialBalance: initialBalance,
		CurrentBalance: currentBalance,
		TotalTrades:    len(ma.trades),
		EquityCurve:    []decimal.Decimal{initialBalance},
	}

	equity := initialBalance
	for _, trade := range ma.trades {
		pnl, closed := trade.PnL()
		if !closed {
			continue
		}
		if pnl.IsPositive() {
			pm.WinningTrades++
			pm.GrossProfit = pm.GrossProfit.Add(pnl)
			if pnl.GreaterThan(pm.LargestWin) {
				pm.LargestWin = pnl
			}
		} else {
			pm.LosingTrades++
			pm.GrossLoss = pm.GrossLoss.Add(pnl)
			if pnl.LessThan(pm.LargestLoss) {
				pm.LargestLoss = pnl
			}
		}
		if pct, ok := trade.PnLPct(); ok {
			pm.Returns = append(pm.Returns, pct)
		}
		equity = equity.Add(pnl)
		pm.EquityCurve = append(pm.EquityCurve, equity)
	}
	return pm
}

// TotalPnL returns the net realized profit and loss.
func (pm PortfolioMetrics) TotalPnL() decimal.Decimal {
	return pm.GrossProfit.Add(pm.GrossLoss)
}

// TotalReturnPct returns the account growth as a percentage of the
// initial balance.
func (pm PortfolioMetrics) TotalReturnPct() float64 {
	if pm.InitialBalance.IsZero() {
		return 0
	}
	return pm.CurrentBalance.Sub(pm.InitialBalance).
		Div(pm.InitialBalance).
		Mul(decimal.NewFromInt(100)).
		InexactFloat64()
}

// WinRate returns winning trades as a percentage of all trades.
func (pm PortfolioMetrics) WinRate() float64 {
	if pm.TotalTrades == 0 {
		return 0
	}
	return float64(pm.WinningTrades) / float64(pm.TotalTrades) * 100
}

// ProfitFactor returns gross profit over absolute gross loss. With no
// losses it is 0 for an empty book and +Inf otherwise.
func (pm PortfolioMetrics) ProfitFactor() float64 {
	if pm.GrossLoss.IsZero() {
		if pm.GrossProfit.IsZero() {
			return 0
		}
		return math.Inf(1)
	}
	return pm.GrossProfit.Div(pm.GrossLoss.Abs()).InexactFloat64()
}

// AvgWin returns the mean winning pnl.
func (pm PortfolioMetrics) AvgWin() decimal.Decimal {
	if pm.WinningTrades == 0 {
		return decimal.Zero
	}
	return pm.GrossProfit.Div(decimal.NewFromInt(int64(pm.WinningTrades)))
}

// AvgLoss returns the mean losing pnl, a non-positive value.
func (pm PortfolioMetrics) AvgLoss() decimal.Decimal {
	if pm.LosingTrades == 0 {
		return decimal.Zero
	}
	return pm.GrossLoss.Div(decimal.NewFromInt(int64(pm.LosingTrades)))
}

// Expectancy returns the mean pnl per trade across the whole ledger.
func (pm PortfolioMetrics) Expectancy() decimal.Decimal {
	if pm.TotalTrades == 0 {
		return decimal.Zero
	}
	return pm.TotalPnL().Div(decimal.NewFromInt(int64(pm.TotalTrades)))
}

// SharpeRatio annualizes the per-trade returns against the risk-free
// rate, treating each trade as one trading day. It is 0 with fewer than
// two closed trades or a flat return series.
func (pm PortfolioMetrics) SharpeRatio(riskFreeRate float64) float64 {
	if len(pm.Returns) < 2 {
		return 0
	}
	var sum float64
	for _, r := range pm.Returns {
		sum += r
	}
	mean := sum / float64(len(pm.Returns))

	var variance float64
	for _, r := range pm.Returns {
		d := r - mean
		variance += d * d
	}
	variance /= float64(len(pm.Returns))
	std := math.Sqrt(variance)
	if std == 0 {
		return 0
	}
	excess := mean - riskFreeRate/tradingDaysPerYear
	return excess / std * math.Sqrt(tradingDaysPerYear)
}

// MaxDrawdown returns the largest peak-to-trough equity decline as a
// negative percentage.
func (pm PortfolioMetrics) MaxDrawdown() float64 {
	if len(pm.EquityCurve) == 0 {
		return 0
	}
	peak := pm.EquityCurve[0].InexactFloat64()
	var maxDD float64
	for _, point := range pm.EquityCurve {
		equity := point.InexactFloat64()
		if equity > peak {
			peak = equity
		}
		if peak != 0 {
			dd := (equity - peak) / peak * 100
			if dd < maxDD {
				maxDD = dd
			}
		}
	}
	return maxDD
}

// RecoveryFactor returns total return over absolute max drawdown, or 0
// when there has been no drawdown.
func (pm PortfolioMetrics) RecoveryFactor() float64 {
	dd := pm.MaxDrawdown()
	if dd >= 0 {
		return 0
	}
	return pm.TotalReturnPct() / math.Abs(dd)
}
