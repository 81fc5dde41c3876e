package formulas

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCalculateReturns(t *testing.T) {
	returns := CalculateReturns([]float64{100, 110, 99})
	assert.Len(t, returns, 2)
	assert.InDelta(t, 0.10, returns[0], 1e-9)
	assert.InDelta(t, -0.10, returns[1], 1e-9)
}

func TestCalculateReturnsShortSeries(t *testing.T) {
	assert.Empty(t, CalculateReturns([]float64{100}))
	assert.Empty(t, CalculateReturns(nil))
}

func TestZScores(t *testing.T) {
	scores := ZScores([]float64{1, 2, 3})
	assert.Len(t, scores, 3)
	assert.InDelta(t, 0, scores[1], 1e-9)
	assert.InDelta(t, -scores[0], scores[2], 1e-9)
	assert.Greater(t, scores[2], 0.0)
}

func TestZScoresDegenerate(t *testing.T) {
	// Zero dispersion maps every value to 0 rather than NaN
	scores := ZScores([]float64{5, 5, 5})
	for _, z := range scores {
		assert.Equal(t, 0.0, z)
	}
}

func TestMaxDrawdown(t *testing.T) {
	tests := []struct {
		name     string
		prices   []float64
		expected float64
	}{
		{"monotonic rise", []float64{1, 2, 3, 4}, 0},
		{"half loss", []float64{100, 50}, 0.5},
		{"peak then partial recovery", []float64{100, 120, 60, 90}, 0.5},
		{"too short", []float64{100}, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.expected, MaxDrawdown(tt.prices), 1e-9)
		})
	}
}

func TestSoftmax(t *testing.T) {
	weights := Softmax([]float64{2, 1, 0})
	assert.Len(t, weights, 3)

	var sum float64
	for _, w := range weights {
		sum += w
	}
	assert.InDelta(t, 1.0, sum, 1e-9)
	assert.Greater(t, weights[0], weights[1])
	assert.Greater(t, weights[1], weights[2])
}

func TestTrailingReturn(t *testing.T) {
	closes := []float64{100, 101, 102, 110}

	r := TrailingReturn(closes, 3)
	if assert.NotNil(t, r) {
		assert.InDelta(t, 0.10, *r, 1e-9)
	}

	// Window equal to series length has no reference close
	assert.Nil(t, TrailingReturn(closes, 4))
	assert.Nil(t, TrailingReturn(closes, 0))
}

func TestAnnualizedVolatility(t *testing.T) {
	returns := []float64{0.01, -0.01, 0.02, -0.02}
	vol := AnnualizedVolatility(returns)
	assert.InDelta(t, StdDev(returns)*math.Sqrt(252), vol, 1e-12)
	assert.Equal(t, 0.0, AnnualizedVolatility(nil))
}

func TestCalculateSMAInsufficientData(t *testing.T) {
	assert.Nil(t, CalculateSMA([]float64{1, 2}, 5))
}

func TestCalculateATR(t *testing.T) {
	n := 20
	highs := make([]float64, n)
	lows := make([]float64, n)
	closes := make([]float64, n)
	for i := 0; i < n; i++ {
		closes[i] = 100
		highs[i] = 101
		lows[i] = 99
	}

	atr := CalculateATR(highs, lows, closes, 14)
	if assert.NotNil(t, atr) {
		assert.InDelta(t, 2.0, *atr, 1e-6)
	}

	assert.Nil(t, CalculateATR(highs[:5], lows[:5], closes[:5], 14))
	assert.Nil(t, CalculateATR(highs, lows, closes[:10], 14))
}
