// Package ledger is the authoritative record of current holdings and
// target weights per profile. Holdings advance forward in time only:
// they are mutated exclusively by applying an executed order plan's
// confirmed fills, and applying the same plan twice is a no-op.
package ledger

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"time"

	"github.com/rs/zerolog"

	"github.com/edgeza/lawvisory/internal/domain"
)

const (
	dateFormat     = "2006-01-02"
	residualWeight = 1e-6 // below this a holding is considered closed
)

// Repository persists holdings and applied plans in portfolio.db.
type Repository struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewRepository creates a new ledger repository
func NewRepository(db *sql.DB, log zerolog.Logger) *Repository {
	return &Repository{
		db:  db,
		log: log.With().Str("component", "ledger").Logger(),
	}
}

// Holdings returns the current holdings for one profile, ordered by ticker.
func (r *Repository) Holdings(ctx context.Context, profile domain.RiskProfile) ([]domain.Holding, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT ticker, weight, cost_basis, last_rebalance
		FROM holdings WHERE profile = ?
		ORDER BY ticker ASC`, string(profile))
	if err != nil {
		return nil, fmt.Errorf("failed to query holdings for %s: %w", profile, err)
	}
	defer rows.Close()

	var holdings []domain.Holding
	for rows.Next() {
		h := domain.Holding{Profile: profile}
		var dateStr string
		if err := rows.Scan(&h.Ticker, &h.Weight, &h.CostBasis, &dateStr); err != nil {
			return nil, err
		}
		date, err := time.ParseInLocation(dateFormat, dateStr, time.UTC)
		if err != nil {
			return nil, err
		}
		h.LastRebalance = date
		holdings = append(holdings, h)
	}
	return holdings, rows.Err()
}

// Weights returns the current holding weights for one profile keyed by
// ticker.
func (r *Repository) Weights(ctx context.Context, profile domain.RiskProfile) (map[string]float64, error) {
	holdings, err := r.Holdings(ctx, profile)
	if err != nil {
		return nil, err
	}
	weights := make(map[string]float64, len(holdings))
	for _, h := range holdings {
		weights[h.Ticker] = h.Weight
	}
	return weights, nil
}

// IsApplied reports whether a plan has already been applied.
func (r *Repository) IsApplied(ctx context.Context, planID string) (bool, error) {
	var n int
	err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(1) FROM applied_plans WHERE plan_id = ?`, planID).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("failed to check plan %s: %w", planID, err)
	}
	return n > 0, nil
}

// ApplyFills advances the ledger with the confirmed deltas of an executed
// plan. Rejected fills contribute nothing. The plan ID is the idempotence
// key: a plan that was already applied leaves the ledger untouched and
// returns false.
//
// The whole application is one transaction: either every confirmed delta
// and the applied-plan marker land, or none do.
func (r *Repository) ApplyFills(ctx context.Context, plan domain.OrderPlan, fills []domain.Fill) (bool, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("failed to begin apply for plan %s: %w", plan.ID, err)
	}
	defer tx.Rollback()

	var n int
	if err := tx.QueryRowContext(ctx,
		`SELECT COUNT(1) FROM applied_plans WHERE plan_id = ?`, plan.ID).Scan(&n); err != nil {
		return false, fmt.Errorf("failed to check plan %s: %w", plan.ID, err)
	}
	if n > 0 {
		r.log.Debug().Str("plan_id", plan.ID).Msg("Plan already applied, no-op")
		return false, nil
	}

	asOfStr := plan.AsOf.Format(dateFormat)
	for _, fill := range fills {
		if fill.Status == domain.FillRejected || fill.ExecutedDelta == 0 {
			continue
		}
		if err := applyDelta(ctx, tx, plan.Profile, fill.Ticker, fill.ExecutedDelta, asOfStr); err != nil {
			return false, err
		}
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO applied_plans (plan_id, profile, as_of, applied_at)
		VALUES (?, ?, ?, ?)`,
		plan.ID, string(plan.Profile), asOfStr, time.Now().UTC().Format(time.RFC3339)); err != nil {
		return false, fmt.Errorf("failed to record applied plan %s: %w", plan.ID, err)
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("failed to commit plan %s: %w", plan.ID, err)
	}

	r.log.Info().
		Str("plan_id", plan.ID).
		Str("profile", string(plan.Profile)).
		Int("fills", len(fills)).
		Msg("Plan applied to ledger")
	return true, nil
}

func applyDelta(ctx context.Context, tx *sql.Tx, profile domain.RiskProfile, ticker string, delta float64, asOfStr string) error {
	var (
		weight    float64
		costBasis float64
	)
	err := tx.QueryRowContext(ctx, `
		SELECT weight, cost_basis FROM holdings
		WHERE profile = ? AND ticker = ?`, string(profile), ticker).
		Scan(&weight, &costBasis)
	if err != nil && err != sql.ErrNoRows {
		return fmt.Errorf("failed to load holding %s/%s: %w", profile, ticker, err)
	}

	newWeight := weight + delta
	if newWeight < residualWeight {
		if _, err := tx.ExecContext(ctx, `
			DELETE FROM holdings WHERE profile = ? AND ticker = ?`,
			string(profile), ticker); err != nil {
			return fmt.Errorf("failed to close holding %s/%s: %w", profile, ticker, err)
		}
		return nil
	}

	if delta > 0 {
		costBasis += delta
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO holdings (profile, ticker, weight, cost_basis, last_rebalance)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(profile, ticker) DO UPDATE SET
			weight = excluded.weight,
			cost_basis = excluded.cost_basis,
			last_rebalance = excluded.last_rebalance`,
		string(profile), ticker, newWeight, costBasis, asOfStr); err != nil {
		return fmt.Errorf("failed to upsert holding %s/%s: %w", profile, ticker, err)
	}
	return nil
}

// LastRebalance returns the most recent last_rebalance date across a
// profile's holdings, or nil for an empty profile.
func (r *Repository) LastRebalance(ctx context.Context, profile domain.RiskProfile) (*time.Time, error) {
	var dateStr sql.NullString
	err := r.db.QueryRowContext(ctx,
		`SELECT MAX(last_rebalance) FROM holdings WHERE profile = ?`, string(profile)).Scan(&dateStr)
	if err != nil {
		return nil, fmt.Errorf("failed to query last rebalance for %s: %w", profile, err)
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

// SaveTargets replaces the stored target weights for a profile's as-of
// date. Targets are superseded entirely each cycle.
func (r *Repository) SaveTargets(ctx context.Context, tw domain.TargetWeights) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin target save: %w", err)
	}
	defer tx.Rollback()

	asOfStr := tw.AsOf.Format(dateFormat)
	if _, err := tx.ExecContext(ctx, `
		DELETE FROM target_weights WHERE profile = ? AND as_of = ?`,
		string(tw.Profile), asOfStr); err != nil {
		return fmt.Errorf("failed to clear targets: %w", err)
	}

	for _, ticker := range sortedKeys(tw.Weights) {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO target_weights (profile, as_of, ticker, weight)
			VALUES (?, ?, ?, ?)`,
			string(tw.Profile), asOfStr, ticker, tw.Weights[ticker]); err != nil {
			return fmt.Errorf("failed to insert target %s: %w", ticker, err)
		}
	}

	return tx.Commit()
}

// LatestTargets returns the most recent target weights for a profile, or
// nil when none have been recorded yet.
func (r *Repository) LatestTargets(ctx context.Context, profile domain.RiskProfile) (*domain.TargetWeights, error) {
	var dateStr sql.NullString
	err := r.db.QueryRowContext(ctx,
		`SELECT MAX(as_of) FROM target_weights WHERE profile = ?`, string(profile)).Scan(&dateStr)
	if err != nil {
		return nil, fmt.Errorf("failed to query latest targets for %s: %w", profile, err)
	}
	if !dateStr.Valid {
		return nil, nil
	}

	rows, err := r.db.QueryContext(ctx, `
		SELECT ticker, weight FROM target_weights
		WHERE profile = ? AND as_of = ?
		ORDER BY ticker ASC`, string(profile), dateStr.String)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	date, err := time.ParseInLocation(dateFormat, dateStr.String, time.UTC)
	if err != nil {
		return nil, err
	}
	tw := &domain.TargetWeights{
		AsOf:    date,
		Profile: profile,
		Weights: make(map[string]float64),
	}
	for rows.Next() {
		var (
			ticker string
			weight float64
		)
		if err := rows.Scan(&ticker, &weight); err != nil {
			return nil, err
		}
		tw.Weights[ticker] = weight
	}
	return tw, rows.Err()
}

// RecordEvent appends a profile event (rebalanced, skipped, breaker,
// discrepancy...) for audit and dashboards.
func (r *Repository) RecordEvent(ctx context.Context, profile domain.RiskProfile, asOf time.Time, kind, detail string) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO profile_events (profile, as_of, kind, detail)
		VALUES (?, ?, ?, ?)`,
		string(profile), asOf.Format(dateFormat), kind, detail)
	if err != nil {
		return fmt.Errorf("failed to record %s event for %s: %w", kind, profile, err)
	}
	return nil
}

// LastEvent returns the most recent event of a kind for a profile, or nil.
func (r *Repository) LastEvent(ctx context.Context, profile domain.RiskProfile, kind string) (*time.Time, string, error) {
	var (
		dateStr string
		detail  string
	)
	err := r.db.QueryRowContext(ctx, `
		SELECT as_of, detail FROM profile_events
		WHERE profile = ? AND kind = ?
		ORDER BY id DESC LIMIT 1`, string(profile), kind).Scan(&dateStr, &detail)
	if err == sql.ErrNoRows {
		return nil, "", nil
	}
	if err != nil {
		return nil, "", fmt.Errorf("failed to query last %s event for %s: %w", kind, profile, err)
	}
	date, err := time.ParseInLocation(dateFormat, dateStr, time.UTC)
	if err != nil {
		return nil, "", err
	}
	return &date, detail, nil
}

func sortedKeys(m map[string]float64) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
