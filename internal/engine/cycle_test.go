package engine

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/edgeza/lawvisory/internal/clients/execution"
	"github.com/edgeza/lawvisory/internal/config"
	"github.com/edgeza/lawvisory/internal/database"
	"github.com/edgeza/lawvisory/internal/domain"
	"github.com/edgeza/lawvisory/internal/modules/allocation"
	"github.com/edgeza/lawvisory/internal/modules/calibration"
	"github.com/edgeza/lawvisory/internal/modules/ledger"
	"github.com/edgeza/lawvisory/internal/modules/rebalancing"
	"github.com/edgeza/lawvisory/internal/modules/regime"
	"github.com/edgeza/lawvisory/internal/modules/risk"
	"github.com/edgeza/lawvisory/internal/modules/scoring"
	"github.com/edgeza/lawvisory/internal/modules/universe"
)

func engineConfig() config.EngineConfig {
	return config.EngineConfig{
		LookbackDays:    60,
		LiquidityWindow: 10,
		LiquidityFloor:  1000,
		StaleAfterDays:  5,
		MinPrice:        5,
		MinUniverseSize: 5,

		Momentum12M:  40,
		Momentum6M:   20,
		Momentum3M:   10,
		VolLookback:  10,
		TrendSMADays: 20,
		ATRPeriod:    5,

		RegimeTicker:  "SPY",
		BreadthSample: 5,
		BreadthLow:    0.35,
		BreadthHigh:   0.65,

		MinOrderWeight: 0.0015,

		BarReadTimeout:   5 * time.Second,
		ExecutionTimeout: 5 * time.Second,
	}
}

func testProfile() domain.ProfileConfig {
	return domain.ProfileConfig{
		Profile:           domain.ProfileBalanced,
		MaxPositions:      5,
		MaxPositionWeight: 0.30,
		MaxSectorWeight:   0.70,
		VolatilityCeiling: 10, // effectively off for synthetic data
		DriftThreshold:    0.05,
		TurnoverCap:       1.0,
		MaxHoldingDays:    10,
		ExposureBull:      0.90,
		ExposureBear:      0.30,
		ATRTrailMult:      3.0,
		MaxDrawdown:       0.50,
		CooldownDays:      5,
	}
}

// seedBars writes n consecutive daily bars ending on end, drifting at rate
// per day with a small wobble so volatility is nonzero.
func seedBars(t *testing.T, repo *universe.BarRepository, ticker string, end time.Time, n int, rate float64) {
	t.Helper()
	wobble := []float64{1.0, 1.003, 0.998}
	bars := make([]domain.Bar, n)
	price := 100.0
	for i := 0; i < n; i++ {
		price *= (1 + rate) * wobble[i%len(wobble)]
		bars[i] = domain.Bar{
			Ticker: ticker,
			Date:   end.AddDate(0, 0, i-n+1),
			Open:   price,
			High:   price * 1.005,
			Low:    price * 0.995,
			Close:  price,
			Volume: 1e5,
		}
	}
	require.NoError(t, repo.SaveBars(context.Background(), bars))
}

type engineFixture struct {
	engine *Engine
	ledger *ledger.Repository
	bars   *universe.BarRepository
	secs   *universe.SecurityRepository
}

func newEngineFixture(t *testing.T) *engineFixture {
	t.Helper()
	dir := t.TempDir()

	historyDB, err := database.New(database.Config{
		Path: filepath.Join(dir, "history.db"), Profile: database.ProfileStandard, Name: "history",
	})
	require.NoError(t, err)
	require.NoError(t, historyDB.Migrate())
	t.Cleanup(func() { historyDB.Close() })

	portfolioDB, err := database.New(database.Config{
		Path: filepath.Join(dir, "portfolio.db"), Profile: database.ProfileLedger, Name: "portfolio",
	})
	require.NoError(t, err)
	require.NoError(t, portfolioDB.Migrate())
	t.Cleanup(func() { portfolioDB.Close() })

	log := zerolog.Nop()
	cfg := engineConfig()

	barRepo := universe.NewBarRepository(historyDB.Conn(), log)
	secRepo := universe.NewSecurityRepository(historyDB.Conn(), log)
	ledgerRepo := ledger.NewRepository(portfolioDB.Conn(), log)

	eng := New(Deps{
		Config:    cfg,
		Profiles:  map[domain.RiskProfile]domain.ProfileConfig{domain.ProfileBalanced: testProfile()},
		Filter:    universe.NewFilter(barRepo, secRepo, cfg, log),
		Scorer:    scoring.NewScorer(cfg, log),
		ScoreRepo: scoring.NewScoreRepository(portfolioDB.Conn(), log),
		Allocator: allocation.NewAllocator(log),
		Scheduler: rebalancing.NewScheduler(cfg.MinOrderWeight, log),
		Ledger:    ledgerRepo,
		Dial:      regime.NewDial(barRepo, cfg, log),
		Risk:      risk.NewChecker(cfg, log),
		Holder:    calibration.NewStateHolder(calibration.DefaultState()),
		Execution: execution.NewPaperClient(),
		Log:       log,
	})

	return &engineFixture{engine: eng, ledger: ledgerRepo, bars: barRepo, secs: secRepo}
}

func TestRunDailyCycleEndToEnd(t *testing.T) {
	fx := newEngineFixture(t)
	ctx := context.Background()
	asOf := time.Date(2024, 6, 3, 0, 0, 0, 0, time.UTC)

	tickers := []string{"ABEL", "BORN", "CAST", "DUNE", "EAST", "FERN", "GALE", "HOLT", "IRIS", "JUNE"}
	sectors := []string{"Technology", "Energy", "Health"}
	for i, ticker := range tickers {
		seedBars(t, fx.bars, ticker, asOf, 90, 0.001+0.0005*float64(i))
		require.NoError(t, fx.secs.Upsert(context.Background(), universe.SecurityMeta{
			Ticker: ticker, Sector: sectors[i%len(sectors)],
		}))
	}
	seedBars(t, fx.bars, "SPY", asOf, 90, 0.002)

	// First cycle: empty ledger, targets risk-on, plan built and applied.
	require.NoError(t, fx.engine.RunDailyCycle(ctx, asOf))

	assert.Equal(t, rebalancing.StateApplied, fx.engine.CycleStates()[domain.ProfileBalanced])

	weights, err := fx.ledger.Weights(ctx, domain.ProfileBalanced)
	require.NoError(t, err)
	require.NotEmpty(t, weights)
	assert.LessOrEqual(t, len(weights), 5)

	var invested float64
	for ticker, w := range weights {
		invested += w
		assert.LessOrEqual(t, w, 0.30+1e-9, "position cap violated for %s", ticker)
	}
	// All-uptrend universe reads fully risk-on, so invested = bull exposure
	assert.InDelta(t, 0.90, invested, 1e-6)

	when, _, err := fx.ledger.LastEvent(ctx, domain.ProfileBalanced, EventRebalanced)
	require.NoError(t, err)
	require.NotNil(t, when)
	assert.Equal(t, asOf, *when)

	// Second cycle on unchanged data: zero drift, no trading.
	nextDay := asOf.AddDate(0, 0, 1)
	require.NoError(t, fx.engine.RunDailyCycle(ctx, nextDay))

	after, err := fx.ledger.Weights(ctx, domain.ProfileBalanced)
	require.NoError(t, err)
	assert.Equal(t, weights, after, "no-trigger cycle must not touch holdings")

	when, _, err = fx.ledger.LastEvent(ctx, domain.ProfileBalanced, EventSkipped)
	require.NoError(t, err)
	require.NotNil(t, when)
	assert.Equal(t, nextDay, *when)

	assert.Equal(t, rebalancing.StateIdle, fx.engine.CycleStates()[domain.ProfileBalanced])
}

func TestRunDailyCycleDegenerateUniverse(t *testing.T) {
	fx := newEngineFixture(t)
	ctx := context.Background()
	asOf := time.Date(2024, 6, 3, 0, 0, 0, 0, time.UTC)

	// Only two candidates against a minimum of five
	seedBars(t, fx.bars, "ABEL", asOf, 90, 0.001)
	seedBars(t, fx.bars, "BORN", asOf, 90, 0.001)
	seedBars(t, fx.bars, "SPY", asOf, 90, 0.002)

	err := fx.engine.RunDailyCycle(ctx, asOf)
	var insufficient *domain.DataInsufficientError
	require.ErrorAs(t, err, &insufficient)

	// No trading happened for any profile
	weights, lerr := fx.ledger.Weights(ctx, domain.ProfileBalanced)
	require.NoError(t, lerr)
	assert.Empty(t, weights)
}

func TestRunDailyCycleBreakerZeroesExposure(t *testing.T) {
	fx := newEngineFixture(t)
	ctx := context.Background()
	asOf := time.Date(2024, 6, 3, 0, 0, 0, 0, time.UTC)

	tickers := []string{"ABEL", "BORN", "CAST", "DUNE", "EAST", "FERN"}
	for i, ticker := range tickers {
		seedBars(t, fx.bars, ticker, asOf, 90, 0.001+0.0005*float64(i))
	}
	seedBars(t, fx.bars, "SPY", asOf, 90, 0.002)

	require.NoError(t, fx.engine.RunDailyCycle(ctx, asOf))
	weights, err := fx.ledger.Weights(ctx, domain.ProfileBalanced)
	require.NoError(t, err)
	require.NotEmpty(t, weights)

	// Crash every held name over the next stretch of days, hard enough to
	// breach the profile's drawdown limit.
	crashEnd := asOf.AddDate(0, 0, 20)
	for _, ticker := range tickers {
		last, err := fx.bars.LastBarDate(ctx, ticker)
		require.NoError(t, err)
		crash := make([]domain.Bar, 0, 20)
		price := 100.0
		for d := 1; d <= 20; d++ {
			price *= 0.90
			crash = append(crash, domain.Bar{
				Ticker: ticker,
				Date:   last.AddDate(0, 0, d),
				Open:   price, High: price * 1.01, Low: price * 0.99, Close: price,
				Volume: 1e5,
			})
		}
		require.NoError(t, fx.bars.SaveBars(ctx, crash))
	}
	seedBars(t, fx.bars, "SPY", crashEnd, 20, -0.01)

	require.NoError(t, fx.engine.RunDailyCycle(ctx, crashEnd))

	when, detail, err := fx.ledger.LastEvent(ctx, domain.ProfileBalanced, EventBreaker)
	require.NoError(t, err)
	require.NotNil(t, when, "drawdown breaker should have tripped")
	assert.Equal(t, crashEnd, *when)
	assert.Contains(t, detail, "drawdown")

	// Breaker forces a full exit
	weights, err = fx.ledger.Weights(ctx, domain.ProfileBalanced)
	require.NoError(t, err)
	assert.Empty(t, weights)
}
