// Package scoring computes per-security factor scores and the calibrated
// composite used to rank the eligible universe.
package scoring

import (
	"math"

	"github.com/edgeza/lawvisory/internal/config"
	"github.com/edgeza/lawvisory/internal/domain"
	"github.com/edgeza/lawvisory/pkg/formulas"
)

// Factor names. The set is fixed; only the combination weights adapt.
const (
	FactorMomentum12M = "momentum_12m"
	FactorMomentum6M  = "momentum_6m"
	FactorMomentum3M  = "momentum_3m"
	FactorVolatility  = "volatility"
	FactorDrawdown    = "drawdown"
	FactorQuality     = "quality"
)

// FactorNames lists all factors in fixed order.
func FactorNames() []string {
	return []string{
		FactorMomentum12M,
		FactorMomentum6M,
		FactorMomentum3M,
		FactorVolatility,
		FactorDrawdown,
		FactorQuality,
	}
}

// factorSigns maps each factor to its ranking direction: +1 when a higher
// standardized value is better, -1 when lower is better. Volatility and
// drawdown are penalties.
var factorSigns = map[string]float64{
	FactorMomentum12M: 1,
	FactorMomentum6M:  1,
	FactorMomentum3M:  1,
	FactorVolatility:  -1,
	FactorDrawdown:    -1,
	FactorQuality:     1,
}

// DefaultFactorWeights returns the initial factor weights used before any
// calibration has run. Weights sum to 1.
func DefaultFactorWeights() map[string]float64 {
	return map[string]float64{
		FactorMomentum12M: 0.35,
		FactorMomentum6M:  0.20,
		FactorMomentum3M:  0.10,
		FactorVolatility:  0.15,
		FactorDrawdown:    0.10,
		FactorQuality:     0.10,
	}
}

// rawFactors holds the unstandardized factor values for one ticker.
// A nil entry means the factor could not be computed (insufficient
// lookback for that horizon) and excludes the ticker from the cycle.
type rawFactors struct {
	ticker string
	values map[string]*float64
}

// complete reports whether every factor has a finite value.
func (r rawFactors) complete() bool {
	for _, name := range FactorNames() {
		v, ok := r.values[name]
		if !ok || v == nil || math.IsNaN(*v) || math.IsInf(*v, 0) {
			return false
		}
	}
	return true
}

// computeRawFactors derives each named factor from the trailing bars.
// Bars must be ordered by date ascending.
func computeRawFactors(cfg config.EngineConfig, ticker string, bars []domain.Bar) rawFactors {
	closes := make([]float64, len(bars))
	for i, bar := range bars {
		closes[i] = bar.Close
	}

	values := map[string]*float64{
		FactorMomentum12M: formulas.TrailingReturn(closes, cfg.Momentum12M),
		FactorMomentum6M:  formulas.TrailingReturn(closes, cfg.Momentum6M),
		FactorMomentum3M:  formulas.TrailingReturn(closes, cfg.Momentum3M),
	}

	if len(closes) > cfg.VolLookback {
		window := closes[len(closes)-cfg.VolLookback-1:]
		returns := formulas.CalculateReturns(window)
		vol := formulas.AnnualizedVolatility(returns)
		values[FactorVolatility] = &vol

		// Quality proxy: volatility-adjusted consistency of returns.
		// Mean daily return over its own dispersion, a Sharpe-like
		// stand-in for the fundamentals OHLCV cannot provide.
		quality := qualityProxy(returns)
		values[FactorQuality] = quality
	}

	if len(closes) >= cfg.Momentum12M {
		dd := formulas.MaxDrawdown(closes[len(closes)-cfg.Momentum12M:])
		values[FactorDrawdown] = &dd
	}

	return rawFactors{ticker: ticker, values: values}
}

func qualityProxy(returns []float64) *float64 {
	if len(returns) < 2 {
		return nil
	}
	sd := formulas.StdDev(returns)
	if sd == 0 {
		return nil
	}
	q := formulas.Mean(returns) / sd
	return &q
}

// NormalizeWeights restricts weights to the known factor set and rescales
// them to sum to 1. Unknown names are dropped; an empty or degenerate map
// falls back to the defaults.
func NormalizeWeights(weights map[string]float64) map[string]float64 {
	normalized := make(map[string]float64, len(FactorNames()))
	var sum float64
	for _, name := range FactorNames() {
		w := weights[name]
		if w < 0 {
			w = 0
		}
		normalized[name] = w
		sum += w
	}
	if sum <= 0 {
		return DefaultFactorWeights()
	}
	for name := range normalized {
		normalized[name] /= sum
	}
	return normalized
}
