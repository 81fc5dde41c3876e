package scheduler

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"github.com/edgeza/lawvisory/internal/domain"
	"github.com/edgeza/lawvisory/internal/engine"
	"github.com/edgeza/lawvisory/internal/modules/calibration"
)

// DailyCycleJob runs the full decision cycle for the previous completed
// trading day. Running after the close with yesterday-inclusive data
// keeps the no-lookahead rule: a cycle never sees a partial bar.
type DailyCycleJob struct {
	engine *engine.Engine
	log    zerolog.Logger
}

// NewDailyCycleJob creates the daily cycle job
func NewDailyCycleJob(eng *engine.Engine, log zerolog.Logger) *DailyCycleJob {
	return &DailyCycleJob{
		engine: eng,
		log:    log.With().Str("job", "daily_cycle").Logger(),
	}
}

// Name implements Job
func (j *DailyCycleJob) Name() string { return "daily_cycle" }

// Run implements Job
func (j *DailyCycleJob) Run(ctx context.Context) error {
	asOf := tradingDate(time.Now().UTC())
	err := j.engine.RunDailyCycle(ctx, asOf)

	// A degenerate universe is an alert-and-skip outcome, not a job
	// failure worth a failed history row.
	var insufficient *domain.DataInsufficientError
	if errors.As(err, &insufficient) {
		j.log.Warn().Err(err).Msg("Daily cycle skipped")
		return nil
	}
	return err
}

// CalibrationJob re-estimates factor weights on the slow cadence.
type CalibrationJob struct {
	calibrator *calibration.Calibrator
	lookback   time.Duration
	log        zerolog.Logger
}

// NewCalibrationJob creates the calibration job. lookback is how much
// score history each run considers.
func NewCalibrationJob(c *calibration.Calibrator, lookback time.Duration, log zerolog.Logger) *CalibrationJob {
	return &CalibrationJob{
		calibrator: c,
		lookback:   lookback,
		log:        log.With().Str("job", "calibration").Logger(),
	}
}

// Name implements Job
func (j *CalibrationJob) Name() string { return "calibration" }

// Run implements Job
func (j *CalibrationJob) Run(ctx context.Context) error {
	_, err := j.calibrator.Run(ctx, tradingDate(time.Now().UTC()), j.lookback)

	// A skip is a logged no-op outcome, not a failure.
	var skipped *domain.CalibrationSkipped
	if errors.As(err, &skipped) {
		return nil
	}
	return err
}

// tradingDate truncates to a UTC calendar date.
func tradingDate(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
