package universe

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/edgeza/lawvisory/internal/config"
	"github.com/edgeza/lawvisory/internal/database"
	"github.com/edgeza/lawvisory/internal/domain"
)

func testHistoryDB(t *testing.T) *database.DB {
	t.Helper()
	db, err := database.New(database.Config{
		Path:    filepath.Join(t.TempDir(), "history.db"),
		Profile: database.ProfileStandard,
		Name:    "history",
	})
	require.NoError(t, err)
	require.NoError(t, db.Migrate())
	t.Cleanup(func() { db.Close() })
	return db
}

func filterConfig() config.EngineConfig {
	return config.EngineConfig{
		LookbackDays:    10,
		LiquidityWindow: 5,
		LiquidityFloor:  1000,
		StaleAfterDays:  3,
		MinPrice:        5,
		MinUniverseSize: 2,
		RegimeTicker:    "SPY",
	}
}

// weekdayBars generates n consecutive weekday bars ending on end.
func weekdayBars(ticker string, end time.Time, n int, close, volume float64) []domain.Bar {
	bars := make([]domain.Bar, 0, n)
	day := end
	for len(bars) < n {
		if wd := day.Weekday(); wd != time.Saturday && wd != time.Sunday {
			bars = append(bars, domain.Bar{
				Ticker: ticker,
				Date:   day,
				Open:   close,
				High:   close * 1.01,
				Low:    close * 0.99,
				Close:  close,
				Volume: volume,
			})
		}
		day = day.AddDate(0, 0, -1)
	}
	// Reverse into chronological order
	for i, j := 0, len(bars)-1; i < j; i, j = i+1, j-1 {
		bars[i], bars[j] = bars[j], bars[i]
	}
	return bars
}

func TestEligibleAppliesExclusionRules(t *testing.T) {
	db := testHistoryDB(t)
	ctx := context.Background()
	asOf := time.Date(2024, 6, 3, 0, 0, 0, 0, time.UTC) // a Monday

	barRepo := NewBarRepository(db.Conn(), zerolog.Nop())
	secRepo := NewSecurityRepository(db.Conn(), zerolog.Nop())

	seed := [][]domain.Bar{
		weekdayBars("GOOD1", asOf, 15, 20, 500),
		weekdayBars("GOOD2", asOf, 15, 50, 200),
		weekdayBars("SHORT", asOf, 5, 20, 500),                     // not enough history
		weekdayBars("CHEAP", asOf, 15, 2, 50000),                   // below minimum price
		weekdayBars("THIN", asOf, 15, 20, 1),                       // below liquidity floor
		weekdayBars("STALE", asOf.AddDate(0, 0, -30), 15, 20, 500), // stopped trading
		weekdayBars("SPY", asOf, 15, 400, 10000),                   // regime benchmark
	}
	for _, bars := range seed {
		require.NoError(t, barRepo.SaveBars(ctx, bars))
	}
	require.NoError(t, secRepo.Upsert(ctx, SecurityMeta{
		Ticker: "GOOD1", Name: "Good One", Sector: "Technology", Industry: "Software",
	}))

	f := NewFilter(barRepo, secRepo, filterConfig(), zerolog.Nop())
	result, err := f.Eligible(ctx, asOf)
	require.NoError(t, err)

	var tickers []string
	for _, sec := range result.Securities {
		tickers = append(tickers, sec.Ticker)
	}
	assert.Equal(t, []string{"GOOD1", "GOOD2"}, tickers)

	// Metadata carried when known, zero-valued otherwise
	assert.Equal(t, "Technology", result.Securities[0].Sector)
	assert.Empty(t, result.Securities[1].Sector)

	// History is returned alongside so scoring need not re-fetch
	assert.Len(t, result.History["GOOD1"], 15)
	_, fetched := result.History["SHORT"]
	assert.False(t, fetched)
}

func TestEligibleFailsBelowMinimumUniverse(t *testing.T) {
	db := testHistoryDB(t)
	ctx := context.Background()
	asOf := time.Date(2024, 6, 3, 0, 0, 0, 0, time.UTC)

	barRepo := NewBarRepository(db.Conn(), zerolog.Nop())
	secRepo := NewSecurityRepository(db.Conn(), zerolog.Nop())
	require.NoError(t, barRepo.SaveBars(ctx, weekdayBars("ONLY", asOf, 15, 20, 500)))

	f := NewFilter(barRepo, secRepo, filterConfig(), zerolog.Nop())
	_, err := f.Eligible(ctx, asOf)

	var insufficient *domain.DataInsufficientError
	require.True(t, errors.As(err, &insufficient))
	assert.Equal(t, 1, insufficient.Eligible)
	assert.Equal(t, 2, insufficient.Minimum)
}

func TestGetBarsUnknownTicker(t *testing.T) {
	db := testHistoryDB(t)
	ctx := context.Background()

	barRepo := NewBarRepository(db.Conn(), zerolog.Nop())
	_, err := barRepo.GetBars(ctx, "NOPE",
		time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC))
	assert.ErrorIs(t, err, domain.ErrDataUnavailable)
}

func TestSaveBarsIgnoresDuplicates(t *testing.T) {
	db := testHistoryDB(t)
	ctx := context.Background()
	asOf := time.Date(2024, 6, 3, 0, 0, 0, 0, time.UTC)

	barRepo := NewBarRepository(db.Conn(), zerolog.Nop())
	bars := weekdayBars("AAPL", asOf, 5, 180, 1e6)
	require.NoError(t, barRepo.SaveBars(ctx, bars))

	// Re-ingesting with different prices must not overwrite
	altered := weekdayBars("AAPL", asOf, 5, 999, 1e6)
	require.NoError(t, barRepo.SaveBars(ctx, altered))

	got, err := barRepo.GetBars(ctx, "AAPL", asOf.AddDate(0, 0, -10), asOf)
	require.NoError(t, err)
	require.Len(t, got, 5)
	for _, b := range got {
		assert.Equal(t, 180.0, b.Close)
	}
}
