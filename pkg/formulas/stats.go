// Package formulas provides the numerical building blocks shared by the
// scoring, allocation and calibration modules: basic statistics backed by
// gonum and technical indicators backed by go-talib.
package formulas

import (
	"math"

	"gonum.org/v1/gonum/stat"
)

// TradingDaysPerYear is the annualization base for daily series.
const TradingDaysPerYear = 252.0

// Mean calculates the arithmetic mean of a slice of float64 values
func Mean(data []float64) float64 {
	if len(data) == 0 {
		return 0
	}
	return stat.Mean(data, nil)
}

// StdDev calculates the standard deviation of a slice of float64 values
func StdDev(data []float64) float64 {
	if len(data) == 0 {
		return 0
	}
	return stat.StdDev(data, nil)
}

// Correlation calculates the Pearson correlation coefficient between two datasets
func Correlation(x, y []float64) float64 {
	if len(x) < 2 || len(x) != len(y) {
		return 0
	}
	return stat.Correlation(x, y, nil)
}

// CalculateReturns converts prices to simple percentage returns.
// Returns[i] = (Price[i+1] - Price[i]) / Price[i]
func CalculateReturns(prices []float64) []float64 {
	if len(prices) < 2 {
		return []float64{}
	}

	returns := make([]float64, len(prices)-1)
	for i := 1; i < len(prices); i++ {
		if prices[i-1] != 0 {
			returns[i-1] = (prices[i] - prices[i-1]) / prices[i-1]
		}
	}

	return returns
}

// AnnualizedVolatility calculates annualized volatility from daily returns.
// Formula: StdDev of daily returns × sqrt(252 trading days)
func AnnualizedVolatility(dailyReturns []float64) float64 {
	if len(dailyReturns) == 0 {
		return 0
	}
	return StdDev(dailyReturns) * math.Sqrt(TradingDaysPerYear)
}

// ZScores standardizes values cross-sectionally: (x - mean) / stddev.
// A degenerate distribution (zero stddev) maps every value to 0 so that
// downstream ranking stays defined.
func ZScores(values []float64) []float64 {
	if len(values) == 0 {
		return nil
	}

	mean := stat.Mean(values, nil)
	sd := stat.StdDev(values, nil)

	scores := make([]float64, len(values))
	if sd == 0 || math.IsNaN(sd) {
		return scores
	}
	for i, v := range values {
		scores[i] = (v - mean) / sd
	}
	return scores
}

// MaxDrawdown calculates the maximum peak-to-trough decline of a price
// series, returned as a positive fraction (0.2 = 20% drawdown).
func MaxDrawdown(prices []float64) float64 {
	if len(prices) < 2 {
		return 0
	}

	peak := prices[0]
	maxDD := 0.0
	for _, p := range prices {
		if p > peak {
			peak = p
		}
		if peak > 0 {
			dd := (peak - p) / peak
			if dd > maxDD {
				maxDD = dd
			}
		}
	}
	return maxDD
}

// Softmax converts scores into a probability-like weight vector.
// Inputs are shifted by their maximum before exponentiation for numeric
// stability. An empty input returns nil.
func Softmax(scores []float64) []float64 {
	if len(scores) == 0 {
		return nil
	}

	maxScore := scores[0]
	for _, s := range scores {
		if s > maxScore {
			maxScore = s
		}
	}

	weights := make([]float64, len(scores))
	var sum float64
	for i, s := range scores {
		weights[i] = math.Exp(s - maxScore)
		sum += weights[i]
	}
	if sum == 0 {
		// All exponents underflowed - fall back to equal weights
		for i := range weights {
			weights[i] = 1.0 / float64(len(weights))
		}
		return weights
	}
	for i := range weights {
		weights[i] /= sum
	}
	return weights
}

// Round rounds a float64 to n decimal places
func Round(val float64, decimals int) float64 {
	multiplier := math.Pow(10, float64(decimals))
	return math.Round(val*multiplier) / multiplier
}

func isNaN(v float64) bool {
	return math.IsNaN(v)
}
