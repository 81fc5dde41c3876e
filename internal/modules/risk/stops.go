// Package risk implements the per-profile safety rails: ATR trailing
// stops on held names and the portfolio drawdown breaker.
package risk

import (
	"sort"
	"time"

	"github.com/rs/zerolog"

	"github.com/edgeza/lawvisory/internal/config"
	"github.com/edgeza/lawvisory/internal/domain"
	"github.com/edgeza/lawvisory/pkg/formulas"
)

// drawdownWindow is how many trailing bars the breaker looks at.
const drawdownWindow = 63

// Checker evaluates stops and the breaker from bar history. It is pure:
// the cycle owner decides what to do with the results.
type Checker struct {
	cfg config.EngineConfig
	log zerolog.Logger
}

// NewChecker creates a new risk checker
func NewChecker(cfg config.EngineConfig, log zerolog.Logger) *Checker {
	return &Checker{
		cfg: cfg,
		log: log.With().Str("component", "risk_checker").Logger(),
	}
}

// TrailingStopExits returns held tickers whose last close fell below
// their trailing stop: the peak close since the holding's last rebalance
// minus ATR times the profile's trail multiple. Tickers without enough
// history for an ATR are left alone.
func (c *Checker) TrailingStopExits(
	profile domain.ProfileConfig,
	holdings []domain.Holding,
	history map[string][]domain.Bar,
) map[string]bool {
	exits := make(map[string]bool)

	for _, h := range holdings {
		bars := history[h.Ticker]
		if len(bars) <= c.cfg.ATRPeriod {
			continue
		}

		highs := make([]float64, len(bars))
		lows := make([]float64, len(bars))
		closes := make([]float64, len(bars))
		for i, bar := range bars {
			highs[i] = bar.High
			lows[i] = bar.Low
			closes[i] = bar.Close
		}

		atr := formulas.CalculateATR(highs, lows, closes, c.cfg.ATRPeriod)
		if atr == nil {
			continue
		}

		peak := peakCloseSince(bars, h.LastRebalance)
		stop := peak - *atr*profile.ATRTrailMult
		last := closes[len(closes)-1]

		if last < stop {
			exits[h.Ticker] = true
			c.log.Info().
				Str("profile", string(profile.Profile)).
				Str("ticker", h.Ticker).
				Float64("close", last).
				Float64("stop", stop).
				Msg("Trailing stop hit")
		}
	}

	return exits
}

// PortfolioDrawdown approximates the profile's recent equity curve from
// its current weights and the held names' bar history, and returns the
// maximum drawdown over the trailing window. Used by the breaker.
func (c *Checker) PortfolioDrawdown(weights map[string]float64, history map[string][]domain.Bar) float64 {
	if len(weights) == 0 {
		return 0
	}

	tickers := make([]string, 0, len(weights))
	for t := range weights {
		tickers = append(tickers, t)
	}
	sort.Strings(tickers)

	// Build a weighted index of normalized closes over the common window
	window := drawdownWindow
	for _, t := range tickers {
		if n := len(history[t]); n > 0 && n < window {
			window = n
		}
	}
	if window < 2 {
		return 0
	}

	index := make([]float64, window)
	var totalWeight float64
	for _, t := range tickers {
		bars := history[t]
		if len(bars) < window {
			continue
		}
		w := weights[t]
		tail := bars[len(bars)-window:]
		base := tail[0].Close
		if base <= 0 {
			continue
		}
		for i, bar := range tail {
			index[i] += w * bar.Close / base
		}
		totalWeight += w
	}
	if totalWeight == 0 {
		return 0
	}

	return formulas.MaxDrawdown(index)
}

func peakCloseSince(bars []domain.Bar, since time.Time) float64 {
	peak := 0.0
	for _, bar := range bars {
		if bar.Date.Before(since) {
			continue
		}
		if bar.Close > peak {
			peak = bar.Close
		}
	}
	if peak == 0 && len(bars) > 0 {
		peak = bars[len(bars)-1].Close
	}
	return peak
}
