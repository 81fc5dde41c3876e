// Package main is the entry point for the Lawvisory portfolio decision
// engine. It maintains five risk-differentiated equity portfolios from
// end-of-day bar history: scoring the universe, allocating target weights
// per profile, deciding rebalances and adapting the scoring model as new
// data arrives. Order execution is an external collaborator reached over
// HTTP.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/edgeza/lawvisory/internal/clients/execution"
	"github.com/edgeza/lawvisory/internal/config"
	"github.com/edgeza/lawvisory/internal/database"
	"github.com/edgeza/lawvisory/internal/domain"
	"github.com/edgeza/lawvisory/internal/engine"
	"github.com/edgeza/lawvisory/internal/modules/allocation"
	"github.com/edgeza/lawvisory/internal/modules/calibration"
	"github.com/edgeza/lawvisory/internal/modules/ledger"
	"github.com/edgeza/lawvisory/internal/modules/rebalancing"
	"github.com/edgeza/lawvisory/internal/modules/regime"
	"github.com/edgeza/lawvisory/internal/modules/risk"
	"github.com/edgeza/lawvisory/internal/modules/scoring"
	"github.com/edgeza/lawvisory/internal/modules/universe"
	"github.com/edgeza/lawvisory/internal/scheduler"
	"github.com/edgeza/lawvisory/internal/server"
	"github.com/edgeza/lawvisory/pkg/logger"
)

// Cron schedules: the daily cycle runs after the US close once ingestion
// has landed the day's bars; calibration runs monthly.
const (
	dailyCycleSchedule  = "0 30 22 * * MON-FRI"
	calibrationSchedule = "0 0 2 1 * *"
	calibrationLookback = 210 * 24 * time.Hour // ~7 months of score history
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fallbackLog := logger.New(logger.Config{Level: "info", Pretty: true})
		fallbackLog.Fatal().Err(err).Msg("Failed to load configuration")
	}

	log := logger.New(logger.Config{
		Level:  cfg.LogLevel,
		Pretty: true,
	})
	logger.SetGlobalLogger(log)

	log.Info().Msg("Starting Lawvisory decision engine")

	// Three-database architecture:
	// - history.db: ingested daily bars and security metadata
	// - portfolio.db: holdings, targets, scores, calibration states
	// - cache.db: ephemeral job history
	historyDB, err := database.New(database.Config{
		Path: cfg.DatabasePath("history"), Profile: database.ProfileStandard, Name: "history",
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open history database")
	}
	defer historyDB.Close()

	portfolioDB, err := database.New(database.Config{
		Path: cfg.DatabasePath("portfolio"), Profile: database.ProfileLedger, Name: "portfolio",
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open portfolio database")
	}
	defer portfolioDB.Close()

	cacheDB, err := database.New(database.Config{
		Path: cfg.DatabasePath("cache"), Profile: database.ProfileCache, Name: "cache",
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open cache database")
	}
	defer cacheDB.Close()

	for _, db := range []*database.DB{historyDB, portfolioDB, cacheDB} {
		if err := db.Migrate(); err != nil {
			log.Fatal().Err(err).Str("db", db.Name()).Msg("Failed to migrate database")
		}
	}

	// Repositories
	barRepo := universe.NewBarRepository(historyDB.Conn(), log)
	securityRepo := universe.NewSecurityRepository(historyDB.Conn(), log)
	scoreRepo := scoring.NewScoreRepository(portfolioDB.Conn(), log)
	ledgerRepo := ledger.NewRepository(portfolioDB.Conn(), log)
	stateRepo := calibration.NewStateRepository(portfolioDB.Conn(), log)

	// Optional CSV bootstrap of bar history
	if dir := os.Getenv("LAWVISORY_IMPORT_DIR"); dir != "" {
		importer := universe.NewCSVImporter(barRepo, securityRepo, log)
		if n, err := importer.ImportDir(context.Background(), dir); err != nil {
			log.Error().Err(err).Msg("CSV import failed")
		} else {
			log.Info().Int("bars", n).Str("dir", dir).Msg("CSV import finished")
		}
	}

	// Calibration state currently in force
	initialState, err := stateRepo.Latest(context.Background())
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load calibration state")
	}
	holder := calibration.NewStateHolder(initialState)
	log.Info().Int("version", initialState.Version).Msg("Calibration state loaded")

	profiles := domain.DefaultProfileConfigs()

	// Decision engine
	eng := engine.New(engine.Deps{
		Config:    cfg.Engine,
		Profiles:  profiles,
		Filter:    universe.NewFilter(barRepo, securityRepo, cfg.Engine, log),
		Scorer:    scoring.NewScorer(cfg.Engine, log),
		ScoreRepo: scoreRepo,
		Allocator: allocation.NewAllocator(log),
		Scheduler: rebalancing.NewScheduler(cfg.Engine.MinOrderWeight, log),
		Ledger:    ledgerRepo,
		Dial:      regime.NewDial(barRepo, cfg.Engine, log),
		Risk:      risk.NewChecker(cfg.Engine, log),
		Holder:    holder,
		Execution: execution.NewClient(cfg.ExecutionBaseURL, log),
		Log:       log,
	})

	calibrator := calibration.NewCalibrator(scoreRepo, barRepo, stateRepo, holder, cfg.Engine, log)

	// Background jobs
	jobHistory := scheduler.NewJobHistory(cacheDB.Conn(), log)
	sched := scheduler.New(jobHistory, log)
	if err := sched.AddJob(dailyCycleSchedule, scheduler.NewDailyCycleJob(eng, log)); err != nil {
		log.Fatal().Err(err).Msg("Failed to register daily cycle job")
	}
	if err := sched.AddJob(calibrationSchedule, scheduler.NewCalibrationJob(calibrator, calibrationLookback, log)); err != nil {
		log.Fatal().Err(err).Msg("Failed to register calibration job")
	}
	sched.Start()

	// Read-only snapshot API
	srv := server.New(server.Config{
		Port:     cfg.Port,
		Log:      log,
		Engine:   eng,
		Ledger:   ledgerRepo,
		Scores:   scoreRepo,
		States:   stateRepo,
		Holder:   holder,
		Profiles: profiles,
		DevMode:  cfg.DevMode,
	})
	go func() {
		if err := srv.Start(); err != nil {
			log.Fatal().Err(err).Msg("Failed to start server")
		}
	}()
	log.Info().Int("port", cfg.Port).Msg("Server started")

	// Wait for shutdown signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down...")
	sched.Stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}

	log.Info().Msg("Stopped")
}
