package scoring

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/edgeza/lawvisory/internal/domain"
)

const dateFormat = "2006-01-02"

// ScoreRepository persists the append-only score history in portfolio.db.
// Scores are keyed by (as_of, ticker) and never updated: the calibrator
// reads them back to correlate against realized forward returns.
type ScoreRepository struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewScoreRepository creates a new score repository
func NewScoreRepository(db *sql.DB, log zerolog.Logger) *ScoreRepository {
	return &ScoreRepository{
		db:  db,
		log: log.With().Str("component", "score_repository").Logger(),
	}
}

// SaveScores appends one cycle's scores. Existing (as_of, ticker) rows are
// left untouched: score history is immutable.
func (r *ScoreRepository) SaveScores(ctx context.Context, scores []domain.Score) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin score insert: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT OR IGNORE INTO scores (as_of, ticker, composite, factors)
		VALUES (?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("failed to prepare score insert: %w", err)
	}
	defer stmt.Close()

	for _, score := range scores {
		factors, err := json.Marshal(score.Factors)
		if err != nil {
			return fmt.Errorf("failed to marshal factors for %s: %w", score.Ticker, err)
		}
		if _, err := stmt.ExecContext(ctx,
			score.AsOf.Format(dateFormat), score.Ticker, score.Composite, string(factors)); err != nil {
			return fmt.Errorf("failed to insert score %s %s: %w",
				score.Ticker, score.AsOf.Format(dateFormat), err)
		}
	}

	return tx.Commit()
}

// ScoresOn returns all scores recorded for one as-of date, ordered by
// composite descending then ticker.
func (r *ScoreRepository) ScoresOn(ctx context.Context, asOf time.Time) ([]domain.Score, error) {
	return r.queryScores(ctx, `
		SELECT as_of, ticker, composite, factors FROM scores
		WHERE as_of = ?
		ORDER BY composite DESC, ticker ASC`, asOf.Format(dateFormat))
}

// ScoresBetween returns all scores with as-of dates in [from, to],
// ordered by date then ticker. Used by the calibrator.
func (r *ScoreRepository) ScoresBetween(ctx context.Context, from, to time.Time) ([]domain.Score, error) {
	return r.queryScores(ctx, `
		SELECT as_of, ticker, composite, factors FROM scores
		WHERE as_of >= ? AND as_of <= ?
		ORDER BY as_of ASC, ticker ASC`, from.Format(dateFormat), to.Format(dateFormat))
}

// LatestDate returns the most recent as-of date with scores, or nil when
// no scores have been recorded.
func (r *ScoreRepository) LatestDate(ctx context.Context) (*time.Time, error) {
	var dateStr sql.NullString
	if err := r.db.QueryRowContext(ctx, `SELECT MAX(as_of) FROM scores`).Scan(&dateStr); err != nil {
		return nil, fmt.Errorf("failed to query latest score date: %w", err)
	}
	if !dateStr.Valid {
		return nil, nil
	}
	date, err := time.ParseInLocation(dateFormat, dateStr.String, time.UTC)
	if err != nil {
		return nil, err
	}
	return &date, nil
}

func (r *ScoreRepository) queryScores(ctx context.Context, query string, args ...any) ([]domain.Score, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query scores: %w", err)
	}
	defer rows.Close()

	var scores []domain.Score
	for rows.Next() {
		var (
			dateStr    string
			factorsRaw string
			score      domain.Score
		)
		if err := rows.Scan(&dateStr, &score.Ticker, &score.Composite, &factorsRaw); err != nil {
			return nil, err
		}
		date, err := time.ParseInLocation(dateFormat, dateStr, time.UTC)
		if err != nil {
			return nil, err
		}
		score.AsOf = date
		if err := json.Unmarshal([]byte(factorsRaw), &score.Factors); err != nil {
			return nil, fmt.Errorf("corrupt factor breakdown for %s %s: %w", score.Ticker, dateStr, err)
		}
		scores = append(scores, score)
	}
	return scores, rows.Err()
}
