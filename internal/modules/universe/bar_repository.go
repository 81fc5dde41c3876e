// Package universe provides the investment universe: daily bar storage,
// security metadata and the per-cycle eligibility filter.
package universe

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/edgeza/lawvisory/internal/domain"
)

// DateFormat is the canonical date encoding for all databases.
const DateFormat = "2006-01-02"

// BarRepository implements domain.BarStore over history.db.
type BarRepository struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewBarRepository creates a new bar repository
func NewBarRepository(db *sql.DB, log zerolog.Logger) *BarRepository {
	return &BarRepository{
		db:  db,
		log: log.With().Str("component", "bar_repository").Logger(),
	}
}

// GetBars returns the ordered bar sequence for a ticker between from and to
// inclusive. An unknown ticker fails with domain.ErrDataUnavailable.
func (r *BarRepository) GetBars(ctx context.Context, ticker string, from, to time.Time) ([]domain.Bar, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT date, open, high, low, close, volume
		FROM daily_bars
		WHERE ticker = ? AND date >= ? AND date <= ?
		ORDER BY date ASC`,
		ticker, from.Format(DateFormat), to.Format(DateFormat))
	if err != nil {
		return nil, fmt.Errorf("failed to query bars for %s: %w", ticker, err)
	}
	defer rows.Close()

	var bars []domain.Bar
	for rows.Next() {
		var dateStr string
		bar := domain.Bar{Ticker: ticker}
		if err := rows.Scan(&dateStr, &bar.Open, &bar.High, &bar.Low, &bar.Close, &bar.Volume); err != nil {
			return nil, fmt.Errorf("failed to scan bar for %s: %w", ticker, err)
		}
		date, err := time.ParseInLocation(DateFormat, dateStr, time.UTC)
		if err != nil {
			return nil, fmt.Errorf("invalid bar date %q for %s: %w", dateStr, ticker, err)
		}
		bar.Date = date
		bars = append(bars, bar)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if len(bars) == 0 {
		known, err := r.hasTicker(ctx, ticker)
		if err != nil {
			return nil, err
		}
		if !known {
			return nil, fmt.Errorf("%w: %s", domain.ErrDataUnavailable, ticker)
		}
	}

	return bars, nil
}

// Tickers returns all tickers with at least one ingested bar.
func (r *BarRepository) Tickers(ctx context.Context) ([]string, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT DISTINCT ticker FROM daily_bars ORDER BY ticker ASC`)
	if err != nil {
		return nil, fmt.Errorf("failed to query tickers: %w", err)
	}
	defer rows.Close()

	var tickers []string
	for rows.Next() {
		var t string
		if err := rows.Scan(&t); err != nil {
			return nil, err
		}
		tickers = append(tickers, t)
	}
	return tickers, rows.Err()
}

// SaveBars inserts bars, ignoring duplicates (bars are immutable once
// ingested; re-ingesting the same date is a no-op, not an update).
func (r *BarRepository) SaveBars(ctx context.Context, bars []domain.Bar) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin bar insert: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT OR IGNORE INTO daily_bars (ticker, date, open, high, low, close, volume)
		VALUES (?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("failed to prepare bar insert: %w", err)
	}
	defer stmt.Close()

	for _, bar := range bars {
		if _, err := stmt.ExecContext(ctx,
			bar.Ticker, bar.Date.Format(DateFormat),
			bar.Open, bar.High, bar.Low, bar.Close, bar.Volume); err != nil {
			return fmt.Errorf("failed to insert bar %s %s: %w", bar.Ticker, bar.Date.Format(DateFormat), err)
		}
	}

	return tx.Commit()
}

// LastBarDate returns the most recent bar date for a ticker, or nil when
// the ticker has no bars.
func (r *BarRepository) LastBarDate(ctx context.Context, ticker string) (*time.Time, error) {
	var dateStr sql.NullString
	err := r.db.QueryRowContext(ctx,
		`SELECT MAX(date) FROM daily_bars WHERE ticker = ?`, ticker).Scan(&dateStr)
	if err != nil {
		return nil, fmt.Errorf("failed to query last bar date for %s: %w", ticker, err)
	}
	if !dateStr.Valid {
		return nil, nil
	}
	date, err := time.ParseInLocation(DateFormat, dateStr.String, time.UTC)
	if err != nil {
		return nil, err
	}
	return &date, nil
}

func (r *BarRepository) hasTicker(ctx context.Context, ticker string) (bool, error) {
	var n int
	err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(1) FROM daily_bars WHERE ticker = ? LIMIT 1`, ticker).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("failed to check ticker %s: %w", ticker, err)
	}
	return n > 0, nil
}
