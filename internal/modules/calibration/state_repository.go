// Package calibration re-estimates the scoring-model factor weights from
// realized performance, on a slower cadence than the daily cycle.
package calibration

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/edgeza/lawvisory/internal/domain"
	"github.com/edgeza/lawvisory/internal/modules/scoring"
)

const dateFormat = "2006-01-02"

// StateRepository persists calibration states in portfolio.db. States are
// append-only and versioned; prior versions stay retrievable for audit
// and rollback. The full state is stored twice: factor weights as JSON
// for queryability, the whole snapshot as msgpack for compact audit.
type StateRepository struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewStateRepository creates a new calibration state repository
func NewStateRepository(db *sql.DB, log zerolog.Logger) *StateRepository {
	return &StateRepository{
		db:  db,
		log: log.With().Str("component", "calibration_repository").Logger(),
	}
}

// Save appends a new state version. The version must already be set to
// one past the latest stored version (the calibrator does this).
func (r *StateRepository) Save(ctx context.Context, state domain.CalibrationState) error {
	weights, err := json.Marshal(state.FactorWeights)
	if err != nil {
		return fmt.Errorf("failed to marshal factor weights: %w", err)
	}
	snapshot, err := msgpack.Marshal(state)
	if err != nil {
		return fmt.Errorf("failed to marshal calibration snapshot: %w", err)
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO calibration_states (version, calibrated_at, factor_weights, snapshot)
		VALUES (?, ?, ?, ?)`,
		state.Version, state.CalibratedAt.Format(dateFormat), string(weights), snapshot)
	if err != nil {
		return fmt.Errorf("failed to insert calibration state v%d: %w", state.Version, err)
	}

	r.log.Info().Int("version", state.Version).Msg("Calibration state saved")
	return nil
}

// Latest returns the most recent state, or the built-in default (version
// 0, default factor weights) when none has been saved yet.
func (r *StateRepository) Latest(ctx context.Context) (domain.CalibrationState, error) {
	var version sql.NullInt64
	if err := r.db.QueryRowContext(ctx,
		`SELECT MAX(version) FROM calibration_states`).Scan(&version); err != nil {
		return domain.CalibrationState{}, fmt.Errorf("failed to query latest calibration version: %w", err)
	}
	if !version.Valid {
		return DefaultState(), nil
	}
	return r.Get(ctx, int(version.Int64))
}

// Get returns one stored state version for audit or rollback.
func (r *StateRepository) Get(ctx context.Context, version int) (domain.CalibrationState, error) {
	var snapshot []byte
	err := r.db.QueryRowContext(ctx,
		`SELECT snapshot FROM calibration_states WHERE version = ?`, version).Scan(&snapshot)
	if err == sql.ErrNoRows {
		return domain.CalibrationState{}, fmt.Errorf("calibration state v%d not found", version)
	}
	if err != nil {
		return domain.CalibrationState{}, fmt.Errorf("failed to load calibration state v%d: %w", version, err)
	}

	var state domain.CalibrationState
	if err := msgpack.Unmarshal(snapshot, &state); err != nil {
		return domain.CalibrationState{}, fmt.Errorf("corrupt calibration snapshot v%d: %w", version, err)
	}
	return state, nil
}

// DefaultState is the state in force before any calibration has run.
func DefaultState() domain.CalibrationState {
	return domain.CalibrationState{
		Version:       0,
		CalibratedAt:  time.Time{},
		FactorWeights: scoring.DefaultFactorWeights(),
	}
}
