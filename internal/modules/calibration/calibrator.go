package calibration

import (
	"context"
	"errors"
	"math"
	"sort"
	"time"

	"github.com/rs/zerolog"

	"github.com/edgeza/lawvisory/internal/config"
	"github.com/edgeza/lawvisory/internal/domain"
	"github.com/edgeza/lawvisory/internal/modules/scoring"
	"github.com/edgeza/lawvisory/pkg/formulas"
)

// icGain converts an information coefficient into a raw weight shift
// before the per-period bound is applied.
const icGain = 0.5

// minCrossSection is the smallest per-date cross-section that yields a
// usable IC observation.
const minCrossSection = 5

// Calibrator adjusts factor weights toward factors whose historical
// standardized scores correlated with subsequent realized returns.
// Adjustments are bounded per period and per factor so the model stays
// auditable: no abrupt overfitting to short windows, no factor dominating
// or vanishing.
type Calibrator struct {
	scores *scoring.ScoreRepository
	bars   domain.BarStore
	states *StateRepository
	holder *StateHolder
	cfg    config.EngineConfig
	log    zerolog.Logger
}

// NewCalibrator creates a new adaptive calibrator
func NewCalibrator(
	scores *scoring.ScoreRepository,
	bars domain.BarStore,
	states *StateRepository,
	holder *StateHolder,
	cfg config.EngineConfig,
	log zerolog.Logger,
) *Calibrator {
	return &Calibrator{
		scores: scores,
		bars:   bars,
		states: states,
		holder: holder,
		cfg:    cfg,
		log:    log.With().Str("component", "calibrator").Logger(),
	}
}

// Run recalibrates as of now, looking back over lookback. The score
// history must have enough dates whose forward window has fully elapsed;
// otherwise the run is skipped with CalibrationSkipped and the state in
// force is unchanged.
func (c *Calibrator) Run(ctx context.Context, now time.Time, lookback time.Duration) (domain.CalibrationState, error) {
	current := c.holder.Current()

	// Only score dates whose forward window has elapsed produce
	// observations.
	horizon := c.cfg.CalibrationForwardDays
	cutoff := now.AddDate(0, 0, -(horizon*7/5 + 5))
	from := now.Add(-lookback)

	history, err := c.scores.ScoresBetween(ctx, from, cutoff)
	if err != nil {
		return current, err
	}

	ics, observations, err := c.factorICs(ctx, history)
	if err != nil {
		return current, err
	}

	if observations < c.cfg.CalibrationMinObs {
		skip := &domain.CalibrationSkipped{
			At:           now,
			Observations: observations,
			Required:     c.cfg.CalibrationMinObs,
		}
		c.log.Info().
			Int("observations", observations).
			Int("required", c.cfg.CalibrationMinObs).
			Msg("Calibration skipped: insufficient realized-return history")
		return current, skip
	}

	next := domain.CalibrationState{
		Version:       current.Version + 1,
		CalibratedAt:  now,
		FactorWeights: c.shiftWeights(current.FactorWeights, ics),
		FactorICs:     ics,
		Observations:  observations,
	}

	if err := c.states.Save(ctx, next); err != nil {
		return current, err
	}
	c.holder.Replace(next)

	c.log.Info().
		Int("version", next.Version).
		Int("observations", observations).
		Msg("Calibration complete")
	return next, nil
}

// factorICs computes per-factor information coefficients: for each score
// date, the cross-sectional correlation between the factor's standardized
// values and realized forward returns, averaged across dates. Returns the
// number of usable date observations.
func (c *Calibrator) factorICs(ctx context.Context, history []domain.Score) (map[string]float64, int, error) {
	byDate := make(map[time.Time][]domain.Score)
	for _, s := range history {
		byDate[s.AsOf] = append(byDate[s.AsOf], s)
	}

	dates := make([]time.Time, 0, len(byDate))
	for d := range byDate {
		dates = append(dates, d)
	}
	sort.Slice(dates, func(i, j int) bool { return dates[i].Before(dates[j]) })

	icSums := make(map[string]float64, len(scoring.FactorNames()))
	observations := 0

	for _, date := range dates {
		scoresOn := byDate[date]
		returns := make(map[string]float64, len(scoresOn))
		for _, s := range scoresOn {
			fwd, err := c.forwardReturn(ctx, s.Ticker, date)
			if err != nil {
				if errors.Is(err, domain.ErrDataUnavailable) {
					continue
				}
				return nil, 0, err
			}
			if fwd != nil {
				returns[s.Ticker] = *fwd
			}
		}
		if len(returns) < minCrossSection {
			continue
		}

		usable := true
		dateICs := make(map[string]float64, len(scoring.FactorNames()))
		for _, factor := range scoring.FactorNames() {
			var xs, ys []float64
			for _, s := range scoresOn {
				fwd, ok := returns[s.Ticker]
				if !ok {
					continue
				}
				xs = append(xs, s.Factors[factor])
				ys = append(ys, fwd)
			}
			ic := formulas.Correlation(xs, ys)
			if math.IsNaN(ic) {
				usable = false
				break
			}
			dateICs[factor] = ic
		}
		if !usable {
			continue
		}

		for factor, ic := range dateICs {
			icSums[factor] += ic
		}
		observations++
	}

	if observations == 0 {
		return map[string]float64{}, 0, nil
	}

	ics := make(map[string]float64, len(icSums))
	for factor, sum := range icSums {
		ics[factor] = sum / float64(observations)
	}
	return ics, observations, nil
}

// forwardReturn is the realized return from the close on asOf to the
// close one forward window later. Returns nil when the window has not
// fully elapsed in the data.
func (c *Calibrator) forwardReturn(ctx context.Context, ticker string, asOf time.Time) (*float64, error) {
	horizon := c.cfg.CalibrationForwardDays
	to := asOf.AddDate(0, 0, horizon*7/5+5)
	bars, err := c.bars.GetBars(ctx, ticker, asOf, to)
	if err != nil {
		return nil, err
	}
	if len(bars) <= horizon {
		return nil, nil
	}
	start := bars[0].Close
	end := bars[horizon].Close
	if start == 0 {
		return nil, nil
	}
	fwd := end/start - 1
	return &fwd, nil
}

// shiftWeights moves each factor weight by a bounded step toward its IC,
// clamps to the floor/ceiling and renormalizes to sum 1. The clamp is
// re-applied after renormalization so the bounds hold exactly.
func (c *Calibrator) shiftWeights(current, ics map[string]float64) map[string]float64 {
	weights := scoring.NormalizeWeights(current)

	for _, factor := range scoring.FactorNames() {
		shift := icGain * ics[factor]
		if shift > c.cfg.CalibrationMaxShift {
			shift = c.cfg.CalibrationMaxShift
		}
		if shift < -c.cfg.CalibrationMaxShift {
			shift = -c.cfg.CalibrationMaxShift
		}
		weights[factor] += shift
	}

	for i := 0; i < 3; i++ {
		var sum float64
		for _, factor := range scoring.FactorNames() {
			weights[factor] = clamp(weights[factor], c.cfg.CalibrationFloor, c.cfg.CalibrationCeiling)
			sum += weights[factor]
		}
		if sum == 0 {
			return scoring.DefaultFactorWeights()
		}
		for _, factor := range scoring.FactorNames() {
			weights[factor] /= sum
		}
	}
	return weights
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
