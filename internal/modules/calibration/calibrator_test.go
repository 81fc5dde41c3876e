package calibration

import (
	"context"
	"errors"
	"math"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/edgeza/lawvisory/internal/config"
	"github.com/edgeza/lawvisory/internal/database"
	"github.com/edgeza/lawvisory/internal/domain"
	"github.com/edgeza/lawvisory/internal/modules/scoring"
)

type emptyBarStore struct{}

func (emptyBarStore) GetBars(ctx context.Context, ticker string, from, to time.Time) ([]domain.Bar, error) {
	return nil, domain.ErrDataUnavailable
}

func (emptyBarStore) Tickers(ctx context.Context) ([]string, error) {
	return nil, nil
}

func calibrationConfig() config.EngineConfig {
	return config.EngineConfig{
		CalibrationForwardDays: 21,
		CalibrationMinObs:      6,
		CalibrationMaxShift:    0.05,
		CalibrationFloor:       0.02,
		CalibrationCeiling:     0.50,
	}
}

func testStateRepository(t *testing.T) *StateRepository {
	t.Helper()
	db, err := database.New(database.Config{
		Path:    filepath.Join(t.TempDir(), "portfolio.db"),
		Profile: database.ProfileLedger,
		Name:    "portfolio",
	})
	require.NoError(t, err)
	require.NoError(t, db.Migrate())
	t.Cleanup(func() { db.Close() })
	return NewStateRepository(db.Conn(), zerolog.Nop())
}

func TestRunSkipsWithoutRealizedHistory(t *testing.T) {
	db, err := database.New(database.Config{
		Path:    filepath.Join(t.TempDir(), "portfolio.db"),
		Profile: database.ProfileLedger,
		Name:    "portfolio",
	})
	require.NoError(t, err)
	require.NoError(t, db.Migrate())
	t.Cleanup(func() { db.Close() })

	scores := scoring.NewScoreRepository(db.Conn(), zerolog.Nop())
	states := NewStateRepository(db.Conn(), zerolog.Nop())
	holder := NewStateHolder(DefaultState())
	cal := NewCalibrator(scores, emptyBarStore{}, states, holder, calibrationConfig(), zerolog.Nop())

	before := holder.Current()
	now := time.Date(2024, 6, 3, 0, 0, 0, 0, time.UTC)

	state, err := cal.Run(context.Background(), now, 210*24*time.Hour)

	var skipped *domain.CalibrationSkipped
	require.True(t, errors.As(err, &skipped), "expected CalibrationSkipped, got %v", err)
	assert.Equal(t, 0, skipped.Observations)
	assert.Equal(t, 6, skipped.Required)

	// The state in force must be untouched by a skipped run.
	assert.Equal(t, before, state)
	assert.Equal(t, before, holder.Current())
}

func TestShiftWeightsBounded(t *testing.T) {
	cal := &Calibrator{cfg: calibrationConfig(), log: zerolog.Nop()}
	current := scoring.DefaultFactorWeights()

	// ICs large enough that every raw shift exceeds the per-run bound.
	ics := make(map[string]float64, len(scoring.FactorNames()))
	for i, factor := range scoring.FactorNames() {
		if i%2 == 0 {
			ics[factor] = 1.0
		} else {
			ics[factor] = -1.0
		}
	}

	next := cal.shiftWeights(current, ics)

	var sum float64
	for _, factor := range scoring.FactorNames() {
		w := next[factor]
		sum += w
		assert.GreaterOrEqual(t, w, cal.cfg.CalibrationFloor, "factor %s below floor", factor)
		assert.LessOrEqual(t, w, cal.cfg.CalibrationCeiling, "factor %s above ceiling", factor)
	}
	assert.InDelta(t, 1.0, sum, 1e-9, "shifted weights must renormalize to 1")
}

func TestShiftWeightsMovesTowardIC(t *testing.T) {
	cal := &Calibrator{cfg: calibrationConfig(), log: zerolog.Nop()}
	current := scoring.DefaultFactorWeights()

	// One mildly predictive factor, the rest flat: its weight should rise.
	target := scoring.FactorNames()[0]
	ics := map[string]float64{target: 0.04}

	next := cal.shiftWeights(current, ics)
	assert.Greater(t, next[target], current[target])
}

func TestStateRepositoryRoundTrip(t *testing.T) {
	repo := testStateRepository(t)
	ctx := context.Background()

	// Empty table falls back to the default state.
	latest, err := repo.Latest(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, latest.Version)
	assert.Equal(t, scoring.DefaultFactorWeights(), latest.FactorWeights)

	v1 := domain.CalibrationState{
		Version:       1,
		CalibratedAt:  time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC),
		FactorWeights: scoring.DefaultFactorWeights(),
		FactorICs:     map[string]float64{"momentum_12m": 0.03},
		Observations:  8,
	}
	require.NoError(t, repo.Save(ctx, v1))

	v2 := v1
	v2.Version = 2
	v2.CalibratedAt = time.Date(2024, 7, 1, 0, 0, 0, 0, time.UTC)
	v2.Observations = 11
	require.NoError(t, repo.Save(ctx, v2))

	latest, err = repo.Latest(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, latest.Version)
	assert.Equal(t, 11, latest.Observations)

	prior, err := repo.Get(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, 8, prior.Observations)
	assert.Equal(t, v1.FactorWeights, prior.FactorWeights)
}

func TestStateHolderCopies(t *testing.T) {
	holder := NewStateHolder(DefaultState())

	got := holder.Current()
	for factor := range got.FactorWeights {
		got.FactorWeights[factor] = math.Inf(1)
	}

	// Mutating the returned copy must not poison the state in force.
	clean := holder.Current()
	assert.Equal(t, scoring.DefaultFactorWeights(), clean.FactorWeights)
}
