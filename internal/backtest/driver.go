// Package backtest replays the daily decision pipeline over stored bar
// history with a paper execution client, for strategy inspection and
// calibration bootstrapping. The trading calendar is taken from the
// benchmark ticker's bar dates, and each cycle runs as of a completed
// bar, so replayed decisions never see future data.
package backtest

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/edgeza/lawvisory/internal/config"
	"github.com/edgeza/lawvisory/internal/domain"
	"github.com/edgeza/lawvisory/internal/engine"
)

// Result summarizes a replay.
type Result struct {
	Start         time.Time `json:"start"`
	End           time.Time `json:"end"`
	CyclesRun     int       `json:"cycles_run"`
	CyclesSkipped int       `json:"cycles_skipped"`
}

// Driver replays cycles against an engine wired with a paper execution
// client and backtest-scoped databases.
type Driver struct {
	engine *engine.Engine
	bars   domain.BarStore
	cfg    config.EngineConfig
	log    zerolog.Logger
}

// NewDriver creates a new backtest driver
func NewDriver(eng *engine.Engine, bars domain.BarStore, cfg config.EngineConfig, log zerolog.Logger) *Driver {
	return &Driver{
		engine: eng,
		bars:   bars,
		cfg:    cfg,
		log:    log.With().Str("component", "backtest").Logger(),
	}
}

// Run replays every trading day in [start, end]. Cycles skipped for a
// degenerate universe are counted, not fatal: early in the replay the
// lookback windows are still filling.
func (d *Driver) Run(ctx context.Context, start, end time.Time) (*Result, error) {
	dates, err := d.tradingDates(ctx, start, end)
	if err != nil {
		return nil, err
	}
	if len(dates) == 0 {
		return nil, fmt.Errorf("no trading dates between %s and %s",
			start.Format("2006-01-02"), end.Format("2006-01-02"))
	}

	result := &Result{Start: dates[0], End: dates[len(dates)-1]}
	for _, date := range dates {
		if err := ctx.Err(); err != nil {
			return result, err
		}

		err := d.engine.RunDailyCycle(ctx, date)
		if err != nil {
			var insufficient *domain.DataInsufficientError
			if errors.As(err, &insufficient) {
				result.CyclesSkipped++
				continue
			}
			return result, fmt.Errorf("replay failed on %s: %w", date.Format("2006-01-02"), err)
		}
		result.CyclesRun++
	}

	d.log.Info().
		Int("cycles", result.CyclesRun).
		Int("skipped", result.CyclesSkipped).
		Msg("Backtest complete")
	return result, nil
}

// tradingDates derives the replay calendar from the benchmark's bars.
func (d *Driver) tradingDates(ctx context.Context, start, end time.Time) ([]time.Time, error) {
	bars, err := d.bars.GetBars(ctx, d.cfg.RegimeTicker, start, end)
	if err != nil {
		return nil, fmt.Errorf("failed to load benchmark calendar: %w", err)
	}
	dates := make([]time.Time, 0, len(bars))
	for _, bar := range bars {
		dates = append(dates, bar.Date)
	}
	return dates, nil
}
