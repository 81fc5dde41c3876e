package universe

import (
	"context"
	"sort"
	"time"

	"github.com/rs/zerolog"

	"github.com/edgeza/lawvisory/internal/config"
	"github.com/edgeza/lawvisory/internal/domain"
	"github.com/edgeza/lawvisory/pkg/formulas"
)

// FilterResult is the eligible universe for one as-of date plus the bar
// history fetched while filtering, so downstream scoring does not fetch
// the same bars a second time.
type FilterResult struct {
	AsOf       time.Time
	Securities []domain.Security
	History    map[string][]domain.Bar
}

// Filter applies the eligibility rules before scoring: sufficient trailing
// history, liquidity floor, staleness and minimum price. It is a pure
// function of its inputs; eligibility is recomputed every cycle and never
// stored.
type Filter struct {
	bars       domain.BarStore
	securities *SecurityRepository
	cfg        config.EngineConfig
	log        zerolog.Logger
}

// NewFilter creates a new universe filter
func NewFilter(bars domain.BarStore, securities *SecurityRepository, cfg config.EngineConfig, log zerolog.Logger) *Filter {
	return &Filter{
		bars:       bars,
		securities: securities,
		cfg:        cfg,
		log:        log.With().Str("component", "universe_filter").Logger(),
	}
}

// Eligible computes the eligible universe for asOf. Per-ticker data
// problems exclude that ticker only; the whole cycle fails with
// DataInsufficientError only when fewer than the configured minimum
// remain.
func (f *Filter) Eligible(ctx context.Context, asOf time.Time) (*FilterResult, error) {
	tickers, err := f.bars.Tickers(ctx)
	if err != nil {
		return nil, err
	}

	metas, err := f.securities.All(ctx)
	if err != nil {
		return nil, err
	}

	// Fetch enough calendar days to cover the trading-day lookback,
	// weekends and holidays included.
	from := asOf.AddDate(0, 0, -calendarSpan(f.cfg.LookbackDays))

	result := &FilterResult{
		AsOf:    asOf,
		History: make(map[string][]domain.Bar),
	}

	var excluded int
	for _, ticker := range tickers {
		// The regime benchmark is an index proxy, not a candidate.
		if ticker == f.cfg.RegimeTicker {
			continue
		}
		bars, err := f.bars.GetBars(ctx, ticker, from, asOf)
		if err != nil {
			f.log.Warn().Err(err).Str("ticker", ticker).Msg("Excluding ticker: bar read failed")
			excluded++
			continue
		}

		sec, reason := f.evaluate(ticker, metas[ticker], bars, asOf)
		if reason != "" {
			f.log.Debug().Str("ticker", ticker).Str("reason", reason).Msg("Ticker ineligible")
			excluded++
			continue
		}

		result.Securities = append(result.Securities, sec)
		result.History[ticker] = bars
	}

	// Deterministic order for downstream scoring and tests
	sort.Slice(result.Securities, func(i, j int) bool {
		return result.Securities[i].Ticker < result.Securities[j].Ticker
	})

	if len(result.Securities) < f.cfg.MinUniverseSize {
		return nil, &domain.DataInsufficientError{
			AsOf:     asOf,
			Eligible: len(result.Securities),
			Minimum:  f.cfg.MinUniverseSize,
			Reason:   "universe below minimum after eligibility filter",
		}
	}

	f.log.Info().
		Time("as_of", asOf).
		Int("eligible", len(result.Securities)).
		Int("excluded", excluded).
		Msg("Universe filtered")

	return result, nil
}

// evaluate applies the per-ticker rules. Returns the security and an empty
// reason when eligible, or a non-empty exclusion reason.
func (f *Filter) evaluate(ticker string, meta SecurityMeta, bars []domain.Bar, asOf time.Time) (domain.Security, string) {
	if len(bars) < f.cfg.LookbackDays {
		return domain.Security{}, "insufficient trailing history"
	}

	last := bars[len(bars)-1]

	// Staleness signals a data-quality failure, not a trading decision.
	// Trading-day distance is approximated in calendar days with a
	// weekend allowance.
	staleCutoff := asOf.AddDate(0, 0, -calendarSpan(f.cfg.StaleAfterDays))
	if last.Date.Before(staleCutoff) {
		return domain.Security{}, "stale data"
	}

	if last.Close < f.cfg.MinPrice {
		return domain.Security{}, "below minimum price"
	}

	window := f.cfg.LiquidityWindow
	if window > len(bars) {
		window = len(bars)
	}
	var dollarVolume float64
	for _, bar := range bars[len(bars)-window:] {
		dollarVolume += bar.Close * bar.Volume
	}
	dollarVolume /= float64(window)

	if dollarVolume < f.cfg.LiquidityFloor {
		return domain.Security{}, "below liquidity floor"
	}

	return domain.Security{
		Ticker:       ticker,
		Name:         meta.Name,
		Sector:       meta.Sector,
		Industry:     meta.Industry,
		LastClose:    formulas.Round(last.Close, 4),
		DollarVolume: formulas.Round(dollarVolume, 2),
		Eligible:     true,
	}, ""
}

// calendarSpan converts a trading-day count to a calendar-day span with
// headroom for weekends and holidays.
func calendarSpan(tradingDays int) int {
	return tradingDays*7/5 + 10
}
