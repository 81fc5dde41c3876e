// Package scheduler runs the engine's background jobs on cron schedules:
// the daily decision cycle and the slower calibration cadence.
package scheduler

import (
	"context"
	"database/sql"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

// Job represents a scheduled job
type Job interface {
	Run(ctx context.Context) error
	Name() string
}

// Scheduler manages background jobs
type Scheduler struct {
	cron    *cron.Cron
	history *JobHistory
	log     zerolog.Logger
}

// New creates a new scheduler. history may be nil to skip job tracking.
func New(history *JobHistory, log zerolog.Logger) *Scheduler {
	return &Scheduler{
		cron:    cron.New(cron.WithSeconds()),
		history: history,
		log:     log.With().Str("component", "scheduler").Logger(),
	}
}

// Start starts the scheduler
func (s *Scheduler) Start() {
	s.cron.Start()
	s.log.Info().Msg("Scheduler started")
}

// Stop stops the scheduler and waits for in-flight jobs
func (s *Scheduler) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
	s.log.Info().Msg("Scheduler stopped")
}

// AddJob registers a new job with a cron schedule.
// Schedule examples:
//   - "0 30 22 * * MON-FRI" - 22:30 UTC weekdays (after US close)
//   - "@monthly"            - first of the month
//   - "@every 30s"          - every 30 seconds
func (s *Scheduler) AddJob(schedule string, job Job) error {
	_, err := s.cron.AddFunc(schedule, func() {
		s.runOnce(job)
	})
	if err != nil {
		return err
	}

	s.log.Info().
		Str("schedule", schedule).
		Str("job", job.Name()).
		Msg("Job registered")
	return nil
}

func (s *Scheduler) runOnce(job Job) {
	s.log.Debug().Str("job", job.Name()).Msg("Running job")

	var recordID int64
	if s.history != nil {
		recordID, _ = s.history.Started(job.Name())
	}

	err := job.Run(context.Background())
	if err != nil {
		s.log.Error().Err(err).Str("job", job.Name()).Msg("Job failed")
	} else {
		s.log.Debug().Str("job", job.Name()).Msg("Job completed")
	}

	if s.history != nil {
		s.history.Finished(recordID, err)
	}
}

// JobHistory records job runs in cache.db for the snapshot surface.
type JobHistory struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewJobHistory creates a new job history recorder
func NewJobHistory(db *sql.DB, log zerolog.Logger) *JobHistory {
	return &JobHistory{
		db:  db,
		log: log.With().Str("component", "job_history").Logger(),
	}
}

// Started records a job start and returns the record ID.
func (h *JobHistory) Started(name string) (int64, error) {
	res, err := h.db.Exec(`
		INSERT INTO job_history (job_name, started_at, status)
		VALUES (?, ?, 'running')`,
		name, time.Now().UTC().Format(time.RFC3339))
	if err != nil {
		h.log.Warn().Err(err).Str("job", name).Msg("Failed to record job start")
		return 0, err
	}
	return res.LastInsertId()
}

// Finished closes a job record with its outcome.
func (h *JobHistory) Finished(id int64, runErr error) {
	status, message := "completed", ""
	if runErr != nil {
		status, message = "failed", runErr.Error()
	}
	if _, err := h.db.Exec(`
		UPDATE job_history SET finished_at = ?, status = ?, message = ?
		WHERE id = ?`,
		time.Now().UTC().Format(time.RFC3339), status, message, id); err != nil {
		h.log.Warn().Err(err).Int64("id", id).Msg("Failed to record job finish")
	}
}
