package universe

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/rs/zerolog"
)

// SecurityMeta is the stored metadata for one ticker. Eligibility is not
// stored here; it is recomputed by the filter every cycle.
type SecurityMeta struct {
	Ticker   string `json:"ticker"`
	Name     string `json:"name"`
	Sector   string `json:"sector"`
	Industry string `json:"industry"`
}

// SecurityRepository manages security metadata in history.db.
type SecurityRepository struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewSecurityRepository creates a new security repository
func NewSecurityRepository(db *sql.DB, log zerolog.Logger) *SecurityRepository {
	return &SecurityRepository{
		db:  db,
		log: log.With().Str("component", "security_repository").Logger(),
	}
}

// Upsert inserts or updates security metadata.
func (r *SecurityRepository) Upsert(ctx context.Context, meta SecurityMeta) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO securities (ticker, name, sector, industry)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(ticker) DO UPDATE SET
			name = excluded.name,
			sector = excluded.sector,
			industry = excluded.industry`,
		meta.Ticker, meta.Name, meta.Sector, meta.Industry)
	if err != nil {
		return fmt.Errorf("failed to upsert security %s: %w", meta.Ticker, err)
	}
	return nil
}

// Get returns metadata for one ticker. A missing ticker returns zero-value
// metadata with the ticker filled in, not an error: sector may simply be
// unknown for a freshly ingested name.
func (r *SecurityRepository) Get(ctx context.Context, ticker string) (SecurityMeta, error) {
	meta := SecurityMeta{Ticker: ticker}
	err := r.db.QueryRowContext(ctx,
		`SELECT name, sector, industry FROM securities WHERE ticker = ?`, ticker).
		Scan(&meta.Name, &meta.Sector, &meta.Industry)
	if err == sql.ErrNoRows {
		return meta, nil
	}
	if err != nil {
		return meta, fmt.Errorf("failed to load security %s: %w", ticker, err)
	}
	return meta, nil
}

// All returns metadata for every known security, keyed by ticker.
func (r *SecurityRepository) All(ctx context.Context) (map[string]SecurityMeta, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT ticker, name, sector, industry FROM securities`)
	if err != nil {
		return nil, fmt.Errorf("failed to load securities: %w", err)
	}
	defer rows.Close()

	result := make(map[string]SecurityMeta)
	for rows.Next() {
		var meta SecurityMeta
		if err := rows.Scan(&meta.Ticker, &meta.Name, &meta.Sector, &meta.Industry); err != nil {
			return nil, err
		}
		result[meta.Ticker] = meta
	}
	return result, rows.Err()
}
