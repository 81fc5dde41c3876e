package allocation

import (
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/edgeza/lawvisory/internal/domain"
)

func testAsOf() time.Time {
	return time.Date(2024, 6, 3, 0, 0, 0, 0, time.UTC)
}

func score(ticker string, composite float64) domain.Score {
	return domain.Score{AsOf: testAsOf(), Ticker: ticker, Composite: composite}
}

func TestAllocateCappedPositionRedistributes(t *testing.T) {
	// Universe {A,B,C}, scores {2.0, 1.0, -1.0}, K=2, 60% position cap:
	// A is capped at 0.6, the residual goes to B, C falls outside top-K.
	alloc := NewAllocator(zerolog.Nop())

	tw, err := alloc.Allocate(Input{
		AsOf: testAsOf(),
		Profile: domain.ProfileConfig{
			Profile:           domain.ProfileConservative,
			MaxPositions:      2,
			MaxPositionWeight: 0.60,
		},
		Scores: []domain.Score{
			score("A", 2.0),
			score("B", 1.0),
			score("C", -1.0),
		},
		TargetInvested: 1.0,
	})
	require.NoError(t, err)

	assert.InDelta(t, 0.60, tw.Weights["A"], 1e-9)
	assert.InDelta(t, 0.40, tw.Weights["B"], 1e-9)
	assert.NotContains(t, tw.Weights, "C")
	assert.InDelta(t, 1.0, tw.Invested(), 1e-9)
}

func TestAllocateRespectsCapsAndBudget(t *testing.T) {
	alloc := NewAllocator(zerolog.Nop())

	cfg := domain.ProfileConfig{
		Profile:           domain.ProfileBalanced,
		MaxPositions:      8,
		MaxPositionWeight: 0.20,
		MaxSectorWeight:   0.40,
	}
	scores := []domain.Score{
		score("AAA", 3.0), score("BBB", 2.5), score("CCC", 2.0), score("DDD", 1.5),
		score("EEE", 1.0), score("FFF", 0.5), score("GGG", 0.0), score("HHH", -0.5),
	}
	sectors := map[string]string{
		"AAA": "tech", "BBB": "tech", "CCC": "tech", "DDD": "energy",
		"EEE": "energy", "FFF": "health", "GGG": "health", "HHH": "health",
	}

	tw, err := alloc.Allocate(Input{
		AsOf:           testAsOf(),
		Profile:        cfg,
		Scores:         scores,
		Sectors:        sectors,
		TargetInvested: 0.95,
	})
	require.NoError(t, err)

	assert.InDelta(t, 0.95, tw.Invested(), 1e-6)
	sectorTotals := make(map[string]float64)
	for ticker, w := range tw.Weights {
		assert.LessOrEqual(t, w, cfg.MaxPositionWeight+1e-6, "position cap violated for %s", ticker)
		sectorTotals[sectors[ticker]] += w
	}
	for sector, total := range sectorTotals {
		assert.LessOrEqual(t, total, cfg.MaxSectorWeight+1e-6, "sector cap violated for %s", sector)
	}
}

func TestAllocateVolatilityCeilingExcludes(t *testing.T) {
	alloc := NewAllocator(zerolog.Nop())

	tw, err := alloc.Allocate(Input{
		AsOf: testAsOf(),
		Profile: domain.ProfileConfig{
			Profile:           domain.ProfileConservative,
			MaxPositions:      3,
			MaxPositionWeight: 0.60,
			VolatilityCeiling: 0.30,
		},
		Scores: []domain.Score{
			score("CALM", 1.0),
			score("WILD", 2.0), // best score but too volatile
			score("MILD", 0.5),
		},
		Volatilities: map[string]float64{
			"CALM": 0.15,
			"WILD": 0.80,
			"MILD": 0.20,
		},
		TargetInvested: 1.0,
	})
	require.NoError(t, err)

	assert.NotContains(t, tw.Weights, "WILD")
	assert.Contains(t, tw.Weights, "CALM")
	assert.Contains(t, tw.Weights, "MILD")
}

func TestAllocateInverseVolDownweights(t *testing.T) {
	alloc := NewAllocator(zerolog.Nop())

	// Equal scores: the lower-volatility name should end up heavier.
	tw, err := alloc.Allocate(Input{
		AsOf: testAsOf(),
		Profile: domain.ProfileConfig{
			Profile:           domain.ProfileBalanced,
			MaxPositions:      2,
			MaxPositionWeight: 0.90,
		},
		Scores: []domain.Score{
			score("LOWV", 1.0),
			score("HIGHV", 1.0),
		},
		Volatilities: map[string]float64{
			"LOWV":  0.10,
			"HIGHV": 0.40,
		},
		TargetInvested: 1.0,
	})
	require.NoError(t, err)

	assert.Greater(t, tw.Weights["LOWV"], tw.Weights["HIGHV"])
}

func TestAllocateInfeasibleCaps(t *testing.T) {
	alloc := NewAllocator(zerolog.Nop())

	// Two names capped at 10% each cannot reach a 90% invested target.
	_, err := alloc.Allocate(Input{
		AsOf: testAsOf(),
		Profile: domain.ProfileConfig{
			Profile:           domain.ProfileAggressive,
			MaxPositions:      2,
			MaxPositionWeight: 0.10,
		},
		Scores: []domain.Score{
			score("A", 1.0),
			score("B", 0.5),
		},
		TargetInvested: 0.90,
	})

	var infeasible *domain.ConstraintInfeasibleError
	assert.ErrorAs(t, err, &infeasible)
}

func TestAllocateEmptyAfterCeiling(t *testing.T) {
	alloc := NewAllocator(zerolog.Nop())

	_, err := alloc.Allocate(Input{
		AsOf: testAsOf(),
		Profile: domain.ProfileConfig{
			Profile:           domain.ProfileConservative,
			MaxPositions:      2,
			VolatilityCeiling: 0.10,
		},
		Scores:         []domain.Score{score("A", 1.0)},
		Volatilities:   map[string]float64{"A": 0.50},
		TargetInvested: 1.0,
	})

	var infeasible *domain.ConstraintInfeasibleError
	assert.ErrorAs(t, err, &infeasible)
}

func TestAllocateDeterministic(t *testing.T) {
	alloc := NewAllocator(zerolog.Nop())
	in := Input{
		AsOf: testAsOf(),
		Profile: domain.ProfileConfig{
			Profile:           domain.ProfileModerate,
			MaxPositions:      4,
			MaxPositionWeight: 0.35,
		},
		Scores: []domain.Score{
			score("A", 1.2), score("B", 1.1), score("C", 0.9), score("D", 0.7),
		},
		Volatilities:   map[string]float64{"A": 0.2, "B": 0.25, "C": 0.3, "D": 0.18},
		TargetInvested: 0.9,
	}

	first, err := alloc.Allocate(in)
	require.NoError(t, err)
	second, err := alloc.Allocate(in)
	require.NoError(t, err)

	assert.Equal(t, first.Weights, second.Weights)
}
