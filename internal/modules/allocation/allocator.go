// Package allocation converts ranked scores into target weights under a
// risk profile's constraint set. One allocator serves all five profiles;
// behavior differences are configuration data, not code paths.
package allocation

import (
	"sort"
	"time"

	"github.com/rs/zerolog"

	"github.com/edgeza/lawvisory/internal/domain"
	"github.com/edgeza/lawvisory/pkg/formulas"
)

const (
	weightEpsilon = 1e-9
	maxCapIters   = 50
)

// Input carries everything the allocator needs for one profile's cycle.
// Scores must be ranked: composite descending, ties by lexical ticker.
type Input struct {
	AsOf           time.Time
	Profile        domain.ProfileConfig
	Scores         []domain.Score
	Sectors        map[string]string  // ticker -> sector
	Volatilities   map[string]float64 // ticker -> annualized volatility
	TargetInvested float64            // invested fraction from the regime dial, (0, 1]
}

// Allocator is deterministic and pure given its inputs; it holds no state
// between cycles.
type Allocator struct {
	log zerolog.Logger
}

// NewAllocator creates a new profile allocator
func NewAllocator(log zerolog.Logger) *Allocator {
	return &Allocator{log: log.With().Str("component", "allocator").Logger()}
}

// Allocate selects the top-K securities by composite score and assigns
// score-proportional weights, down-weighted by inverse volatility, then
// clipped to the per-position and per-sector caps with the clipped excess
// redistributed to uncapped names. The invested total equals
// TargetInvested; the remainder is cash.
//
// If the caps make the invested target unreachable, Allocate fails with
// ConstraintInfeasibleError and the caller keeps the previous cycle's
// weights unchanged.
func (a *Allocator) Allocate(in Input) (domain.TargetWeights, error) {
	cfg := in.Profile
	target := in.TargetInvested
	if target <= 0 || target > 1 {
		target = 1
	}

	selected := a.selectTopK(in)
	if len(selected) == 0 {
		return domain.TargetWeights{}, &domain.ConstraintInfeasibleError{
			Profile: cfg.Profile,
			Detail:  "no securities remain after volatility ceiling",
		}
	}

	// Score-proportional base weights via softmax over the standardized
	// composites, then inverse-volatility scaling before capping.
	composites := make([]float64, len(selected))
	for i, sc := range selected {
		composites[i] = sc.Composite
	}
	base := formulas.Softmax(composites)
	base = a.applyInverseVol(base, selected, in.Volatilities)

	weights := make(map[string]float64, len(selected))
	for i, sc := range selected {
		weights[sc.Ticker] = base[i] * target
	}

	if err := a.clipAndRedistribute(weights, in, target); err != nil {
		return domain.TargetWeights{}, err
	}

	a.log.Debug().
		Str("profile", string(cfg.Profile)).
		Time("as_of", in.AsOf).
		Int("positions", len(weights)).
		Float64("invested", investedSum(weights)).
		Msg("Allocation computed")

	return domain.TargetWeights{
		AsOf:    in.AsOf,
		Profile: cfg.Profile,
		Weights: weights,
	}, nil
}

// selectTopK applies the volatility ceiling then takes the top K ranked
// names. A name without a known volatility passes the ceiling: the scorer
// already excluded tickers with incomplete factors, so a missing entry
// only happens for synthetic inputs.
func (a *Allocator) selectTopK(in Input) []domain.Score {
	cfg := in.Profile

	eligible := make([]domain.Score, 0, len(in.Scores))
	for _, sc := range in.Scores {
		if vol, ok := in.Volatilities[sc.Ticker]; ok && cfg.VolatilityCeiling > 0 && vol > cfg.VolatilityCeiling {
			continue
		}
		eligible = append(eligible, sc)
	}

	if cfg.MaxPositions > 0 && len(eligible) > cfg.MaxPositions {
		eligible = eligible[:cfg.MaxPositions]
	}
	return eligible
}

// applyInverseVol scales base weights by 1/volatility, normalized so the
// scaling is weight-neutral in aggregate.
func (a *Allocator) applyInverseVol(base []float64, selected []domain.Score, vols map[string]float64) []float64 {
	scales := make([]float64, len(selected))
	var scaleSumWeighted float64
	for i, sc := range selected {
		scale := 1.0
		if vol, ok := vols[sc.Ticker]; ok && vol > 0 {
			scale = 1.0 / vol
		}
		scales[i] = scale
		scaleSumWeighted += base[i] * scale
	}
	if scaleSumWeighted <= 0 {
		return base
	}

	scaled := make([]float64, len(base))
	for i := range base {
		scaled[i] = base[i] * scales[i] / scaleSumWeighted
	}
	return scaled
}

// clipAndRedistribute enforces the per-position and per-sector caps,
// redistributing clipped excess to names that still have headroom. The
// loop is bounded; if the invested target remains unreachable once no
// name has headroom, the allocation is infeasible.
func (a *Allocator) clipAndRedistribute(weights map[string]float64, in Input, target float64) error {
	cfg := in.Profile
	tickers := sortedTickers(weights)

	for iter := 0; iter < maxCapIters; iter++ {
		// Per-position cap
		for _, t := range tickers {
			if cfg.MaxPositionWeight > 0 && weights[t] > cfg.MaxPositionWeight {
				weights[t] = cfg.MaxPositionWeight
			}
		}

		// Per-sector cap: scale every member of an over-cap sector down
		// proportionally. Names with unknown sector are uncapped.
		if cfg.MaxSectorWeight > 0 {
			sectorTotals := make(map[string]float64)
			for _, t := range tickers {
				sectorTotals[in.Sectors[t]] += weights[t]
			}
			for sector, total := range sectorTotals {
				if sector == "" {
					continue
				}
				if total > cfg.MaxSectorWeight+weightEpsilon {
					scale := cfg.MaxSectorWeight / total
					for _, t := range tickers {
						if in.Sectors[t] == sector {
							weights[t] *= scale
						}
					}
				}
			}
		}

		deficit := target - investedSum(weights)
		if deficit <= weightEpsilon {
			return nil
		}

		// Names with headroom under both caps
		free := a.freeTickers(weights, in, tickers)
		if len(free) == 0 {
			return &domain.ConstraintInfeasibleError{
				Profile: cfg.Profile,
				Detail:  "caps leave invested fraction below target",
			}
		}

		// Redistribute the deficit proportionally to current free weights
		var freeSum float64
		for _, t := range free {
			freeSum += weights[t]
		}
		for _, t := range free {
			if freeSum > 0 {
				weights[t] += deficit * weights[t] / freeSum
			} else {
				weights[t] += deficit / float64(len(free))
			}
		}
	}

	if target-investedSum(weights) > 1e-6 {
		return &domain.ConstraintInfeasibleError{
			Profile: cfg.Profile,
			Detail:  "cap redistribution did not converge",
		}
	}
	return nil
}

// freeTickers returns names strictly below the position cap and in sectors
// strictly below the sector cap, in deterministic order.
func (a *Allocator) freeTickers(weights map[string]float64, in Input, tickers []string) []string {
	cfg := in.Profile

	sectorTotals := make(map[string]float64)
	for _, t := range tickers {
		sectorTotals[in.Sectors[t]] += weights[t]
	}

	var free []string
	for _, t := range tickers {
		if cfg.MaxPositionWeight > 0 && weights[t] >= cfg.MaxPositionWeight-weightEpsilon {
			continue
		}
		if sector := in.Sectors[t]; sector != "" && cfg.MaxSectorWeight > 0 &&
			sectorTotals[sector] >= cfg.MaxSectorWeight-weightEpsilon {
			continue
		}
		free = append(free, t)
	}
	return free
}

func investedSum(weights map[string]float64) float64 {
	var sum float64
	for _, w := range weights {
		sum += w
	}
	return sum
}

func sortedTickers(weights map[string]float64) []string {
	tickers := make([]string, 0, len(weights))
	for t := range weights {
		tickers = append(tickers, t)
	}
	sort.Strings(tickers)
	return tickers
}

// RoundWeights is a reporting helper; allocation math stays full-precision.
func RoundWeights(weights map[string]float64, decimals int) map[string]float64 {
	rounded := make(map[string]float64, len(weights))
	for t, w := range weights {
		rounded[t] = formulas.Round(w, decimals)
	}
	return rounded
}
