// Package regime implements the risk dial: a blend of benchmark trend and
// market breadth that scales each profile's invested fraction between its
// bear and bull exposure targets. The dial never blocks trading outright;
// it only dials exposure, which avoids no-trade deadlocks in choppy
// markets.
package regime

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"github.com/edgeza/lawvisory/internal/config"
	"github.com/edgeza/lawvisory/internal/domain"
	"github.com/edgeza/lawvisory/pkg/formulas"
)

// Assessment is the dial's output for one as-of date.
type Assessment struct {
	AsOf                time.Time `json:"as_of"`
	BenchmarkAboveTrend bool      `json:"benchmark_above_trend"`
	Breadth             float64   `json:"breadth"` // fraction of sample above own trend SMA
	RiskOn              float64   `json:"risk_on"` // blended dial in [0, 1]
}

// Exposure maps the dial onto a profile's invested-fraction range.
func (a Assessment) Exposure(cfg domain.ProfileConfig) float64 {
	return cfg.ExposureBear + a.RiskOn*(cfg.ExposureBull-cfg.ExposureBear)
}

// Dial computes the assessment from the benchmark ticker and a breadth
// sample of the eligible universe.
type Dial struct {
	bars domain.BarStore
	cfg  config.EngineConfig
	log  zerolog.Logger
}

// NewDial creates a new regime dial
func NewDial(bars domain.BarStore, cfg config.EngineConfig, log zerolog.Logger) *Dial {
	return &Dial{
		bars: bars,
		cfg:  cfg,
		log:  log.With().Str("component", "regime_dial").Logger(),
	}
}

// Assess computes the dial for asOf. sample should be the eligible
// universe in ticker order; only the first BreadthSample names are used
// to keep the cycle fast. A missing benchmark degrades to a neutral dial
// rather than failing the cycle.
func (d *Dial) Assess(ctx context.Context, asOf time.Time, sample []string) (Assessment, error) {
	assessment := Assessment{AsOf: asOf, RiskOn: 0.5}

	trendScore, aboveTrend, err := d.benchmarkTrend(ctx, asOf)
	if err != nil {
		if errors.Is(err, domain.ErrDataUnavailable) {
			d.log.Warn().Str("ticker", d.cfg.RegimeTicker).Msg("Benchmark unavailable, using neutral dial")
			return assessment, nil
		}
		return assessment, err
	}
	assessment.BenchmarkAboveTrend = aboveTrend

	breadth, ok := d.breadth(ctx, asOf, sample)
	if !ok {
		assessment.RiskOn = trendScore
		return assessment, nil
	}
	assessment.Breadth = breadth

	// Map breadth onto [0, 1] between the low and high watermarks
	breadthScore := (breadth - d.cfg.BreadthLow) / (d.cfg.BreadthHigh - d.cfg.BreadthLow)
	if breadthScore < 0 {
		breadthScore = 0
	}
	if breadthScore > 1 {
		breadthScore = 1
	}

	assessment.RiskOn = 0.5*trendScore + 0.5*breadthScore

	d.log.Info().
		Time("as_of", asOf).
		Bool("above_trend", aboveTrend).
		Float64("breadth", breadth).
		Float64("risk_on", assessment.RiskOn).
		Msg("Regime assessed")

	return assessment, nil
}

func (d *Dial) benchmarkTrend(ctx context.Context, asOf time.Time) (float64, bool, error) {
	from := asOf.AddDate(0, 0, -(d.cfg.TrendSMADays*7/5 + 10))
	bars, err := d.bars.GetBars(ctx, d.cfg.RegimeTicker, from, asOf)
	if err != nil {
		return 0.5, false, err
	}

	closes := make([]float64, len(bars))
	for i, bar := range bars {
		closes[i] = bar.Close
	}
	sma := formulas.CalculateSMA(closes, d.cfg.TrendSMADays)
	if sma == nil {
		return 0.5, false, nil
	}
	if closes[len(closes)-1] > *sma {
		return 1, true, nil
	}
	return 0, false, nil
}

// breadth returns the fraction of the sample trading above their own
// trend SMA. Tickers with insufficient history are skipped.
func (d *Dial) breadth(ctx context.Context, asOf time.Time, sample []string) (float64, bool) {
	n := d.cfg.BreadthSample
	if n > len(sample) {
		n = len(sample)
	}
	if n == 0 {
		return 0, false
	}

	from := asOf.AddDate(0, 0, -(d.cfg.TrendSMADays*7/5 + 10))
	var counted, above int
	for _, ticker := range sample[:n] {
		bars, err := d.bars.GetBars(ctx, ticker, from, asOf)
		if err != nil || len(bars) < d.cfg.TrendSMADays {
			continue
		}
		closes := make([]float64, len(bars))
		for i, bar := range bars {
			closes[i] = bar.Close
		}
		sma := formulas.CalculateSMA(closes, d.cfg.TrendSMADays)
		if sma == nil {
			continue
		}
		counted++
		if closes[len(closes)-1] > *sma {
			above++
		}
	}

	if counted == 0 {
		return 0, false
	}
	return float64(above) / float64(counted), true
}
