// Package regime provides per-symbol market regime detection from a
// rolling window of mid prices.
package regime

import (
	"fmt"
	"math"
)

const (
	// slopeEpsilon is the magnitude below which a fitted slope is
	// treated as flat.
	slopeEpsilon = 1e-9

	// stdEpsilon is the standard deviation below which a z-score is
	// forced to zero to avoid division blow-ups.
	stdEpsilon = 1e-10
)

// SlopeAndR2 fits an OLS regression of price against sample index and
// returns the slope and the coefficient of determination.
//
// R² is floored at zero and forced to zero when the price series has no
// variance. Fewer than 2 samples is an invalid-input error.
func SlopeAndR2(prices []float64) (slope, r2 float64, err error) {
	n := len(prices)
	if n < 2 {
		return 0, 0, fmt.Errorf("slope requires at least 2 samples, got %d", n)
	}

	var xMean, yMean float64
	for i, p := range prices {
		xMean += float64(i)
		yMean += p
	}
	xMean /= float64(n)
	yMean /= float64(n)

	var covariance, xVariance float64
	for i, p := range prices {
		dx := float64(i) - xMean
		covariance += dx * (p - yMean)
		xVariance += dx * dx
	}
	covariance /= float64(n)
	xVariance /= float64(n)

	if xVariance == 0 {
		return 0, 0, nil
	}

	slope = covariance / xVariance
	intercept := yMean - slope*xMean

	var ssRes, ssTot float64
	for i, p := range prices {
		predicted := intercept + slope*float64(i)
		residual := p - predicted
		ssRes += residual * residual
		dy := p - yMean
		ssTot += dy * dy
	}

	if ssTot == 0 {
		return slope, 0, nil
	}
	r2 = 1 - ssRes/ssTot
	if r2 < 0 {
		r2 = 0
	}
	return slope, r2, nil
}

// ZScore returns how many sample standard deviations the latest price
// sits from the mean of the last window prices. A window larger than the
// available samples is an invalid-input error; a near-zero deviation
// yields a z-score of zero.
func ZScore(prices []float64, window int) (float64, error) {
	if len(prices) < window {
		return 0, fmt.Errorf("z-score window %d exceeds %d available samples", window, len(prices))
	}

	current := prices[len(prices)-1]
	windowed := prices[len(prices)-window:]

	var mean float64
	for _, p := range windowed {
		mean += p
	}
	mean /= float64(window)

	var variance float64
	for _, p := range windowed {
		d := p - mean
		variance += d * d
	}
	// Sample standard deviation; a window of 1 has no deviation at all.
	if window < 2 {
		return 0, nil
	}
	variance /= float64(window - 1)
	std := math.Sqrt(variance)

	if std < stdEpsilon {
		return 0, nil
	}
	return (current - mean) / std, nil
}

// PositionSize computes inverse-volatility position sizing: the riskier
// the instrument (higher ATR), the smaller the position.
//
//	size = (balance * riskPct) / (atr * contractSize)
func PositionSize(balance, riskPct, atr, contractSize float64) (float64, error) {
	if riskPct <= 0 || riskPct >= 1 {
		return 0, fmt.Errorf("risk percentage must be in (0, 1), got %v", riskPct)
	}
	if atr <= 0 {
		return 0, fmt.Errorf("ATR must be positive, got %v", atr)
	}
	if contractSize <= 0 {
		return 0, fmt.Errorf("contract size must be positive, got %v", contractSize)
	}
	return (balance * riskPct) / (atr * contractSize), nil
}
