package formulas

import (
	"github.com/markcheno/go-talib"
)

// CalculateSMA calculates the Simple Moving Average over the trailing
// window. Returns nil if there is not enough data for a full window.
func CalculateSMA(closes []float64, length int) *float64 {
	if length <= 0 || len(closes) < length {
		return nil
	}

	sma := talib.Sma(closes, length)
	if len(sma) > 0 && !isNaN(sma[len(sma)-1]) {
		result := sma[len(sma)-1]
		return &result
	}
	return nil
}

// CalculateEMA calculates the Exponential Moving Average.
//
// EMA Formula:
//
//	EMA_today = (Price_today × multiplier) + (EMA_yesterday × (1 - multiplier))
//	where multiplier = 2 / (period + 1)
//
// If the series is shorter than the period, falls back to the plain mean so
// that thinly-covered tickers still get a trend estimate.
func CalculateEMA(closes []float64, length int) *float64 {
	if len(closes) == 0 {
		return nil
	}

	if len(closes) < length {
		sma := Mean(closes)
		return &sma
	}

	ema := talib.Ema(closes, length)
	if len(ema) > 0 && !isNaN(ema[len(ema)-1]) {
		result := ema[len(ema)-1]
		return &result
	}

	sma := Mean(closes[len(closes)-length:])
	return &sma
}

// CalculateATR calculates the Average True Range over the given period.
// Requires high/low/close series of equal length with at least period+1
// bars; returns nil otherwise.
func CalculateATR(highs, lows, closes []float64, period int) *float64 {
	if period <= 0 || len(closes) <= period {
		return nil
	}
	if len(highs) != len(closes) || len(lows) != len(closes) {
		return nil
	}

	atr := talib.Atr(highs, lows, closes, period)
	if len(atr) > 0 && !isNaN(atr[len(atr)-1]) {
		result := atr[len(atr)-1]
		return &result
	}
	return nil
}

// TrailingReturn calculates the simple return over the trailing window:
// close[t] / close[t-window] - 1. Returns nil when the series is too short
// or the reference close is zero.
func TrailingReturn(closes []float64, window int) *float64 {
	if window <= 0 || len(closes) <= window {
		return nil
	}

	last := closes[len(closes)-1]
	ref := closes[len(closes)-1-window]
	if ref == 0 {
		return nil
	}

	result := last/ref - 1
	return &result
}
