package database

import "fmt"

// Schemas are embedded as constants so that Migrate works regardless of
// working directory. Each database owns exactly one schema; all statements
// are idempotent (CREATE ... IF NOT EXISTS).

const historySchema = `
CREATE TABLE IF NOT EXISTS daily_bars (
    ticker      TEXT NOT NULL,
    date        TEXT NOT NULL, -- YYYY-MM-DD
    open        REAL NOT NULL,
    high        REAL NOT NULL,
    low         REAL NOT NULL,
    close       REAL NOT NULL,
    volume      REAL NOT NULL,
    PRIMARY KEY (ticker, date)
);
CREATE INDEX IF NOT EXISTS idx_daily_bars_date ON daily_bars(date);

CREATE TABLE IF NOT EXISTS securities (
    ticker      TEXT PRIMARY KEY,
    name        TEXT NOT NULL DEFAULT '',
    sector      TEXT NOT NULL DEFAULT '',
    industry    TEXT NOT NULL DEFAULT ''
);
`

const portfolioSchema = `
CREATE TABLE IF NOT EXISTS holdings (
    profile         TEXT NOT NULL,
    ticker          TEXT NOT NULL,
    weight          REAL NOT NULL,
    cost_basis      REAL NOT NULL DEFAULT 0,
    last_rebalance  TEXT NOT NULL,
    PRIMARY KEY (profile, ticker)
);

CREATE TABLE IF NOT EXISTS applied_plans (
    plan_id     TEXT PRIMARY KEY,
    profile     TEXT NOT NULL,
    as_of       TEXT NOT NULL,
    applied_at  TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS target_weights (
    profile     TEXT NOT NULL,
    as_of       TEXT NOT NULL,
    ticker      TEXT NOT NULL,
    weight      REAL NOT NULL,
    PRIMARY KEY (profile, as_of, ticker)
);

CREATE TABLE IF NOT EXISTS scores (
    as_of       TEXT NOT NULL,
    ticker      TEXT NOT NULL,
    composite   REAL NOT NULL,
    factors     TEXT NOT NULL, -- JSON breakdown
    PRIMARY KEY (as_of, ticker)
);
CREATE INDEX IF NOT EXISTS idx_scores_ticker ON scores(ticker);

CREATE TABLE IF NOT EXISTS calibration_states (
    version         INTEGER PRIMARY KEY,
    calibrated_at   TEXT NOT NULL,
    factor_weights  TEXT NOT NULL, -- JSON map
    snapshot        BLOB           -- msgpack attribution snapshot
);

CREATE TABLE IF NOT EXISTS profile_events (
    id          INTEGER PRIMARY KEY AUTOINCREMENT,
    profile     TEXT NOT NULL,
    as_of       TEXT NOT NULL,
    kind        TEXT NOT NULL, -- rebalanced, skipped, breaker, discrepancy, ...
    detail      TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS idx_profile_events ON profile_events(profile, as_of);
`

const cacheSchema = `
CREATE TABLE IF NOT EXISTS job_history (
    id          INTEGER PRIMARY KEY AUTOINCREMENT,
    job_name    TEXT NOT NULL,
    started_at  TEXT NOT NULL,
    finished_at TEXT,
    status      TEXT NOT NULL DEFAULT 'running',
    message     TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS idx_job_history_name ON job_history(job_name);
`

// Migrate applies the schema matching the database's name.
func (db *DB) Migrate() error {
	schemas := map[string]string{
		"history":   historySchema,
		"portfolio": portfolioSchema,
		"cache":     cacheSchema,
	}

	schema, ok := schemas[db.name]
	if !ok {
		return fmt.Errorf("no schema registered for database %q", db.name)
	}

	if _, err := db.conn.Exec(schema); err != nil {
		return fmt.Errorf("failed to migrate database %s: %w", db.name, err)
	}
	return nil
}
