// Package server provides the read-only HTTP snapshot surface: current
// scores, target weights, holdings, calibration state and system health.
// There is no mutation path through this interface.
package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rs/zerolog"

	"github.com/edgeza/lawvisory/internal/domain"
	"github.com/edgeza/lawvisory/internal/engine"
	"github.com/edgeza/lawvisory/internal/modules/calibration"
	"github.com/edgeza/lawvisory/internal/modules/ledger"
	"github.com/edgeza/lawvisory/internal/modules/scoring"
)

// Config holds server configuration
type Config struct {
	Port     int
	Log      zerolog.Logger
	Engine   *engine.Engine
	Ledger   *ledger.Repository
	Scores   *scoring.ScoreRepository
	States   *calibration.StateRepository
	Holder   *calibration.StateHolder
	Profiles map[domain.RiskProfile]domain.ProfileConfig
	DevMode  bool
}

// Server represents the HTTP server
type Server struct {
	router *chi.Mux
	server *http.Server
	log    zerolog.Logger
	cfg    Config
}

// New creates a new HTTP server
func New(cfg Config) *Server {
	s := &Server{
		router: chi.NewRouter(),
		log:    cfg.Log.With().Str("component", "server").Logger(),
		cfg:    cfg,
	}

	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.Recoverer)
	s.router.Use(middleware.Timeout(30 * time.Second))

	if cfg.DevMode {
		s.router.Use(cors.Handler(cors.Options{
			AllowedOrigins: []string{"*"},
			AllowedMethods: []string{"GET", "OPTIONS"},
			AllowedHeaders: []string{"Accept", "Content-Type"},
		}))
	}

	s.setupRoutes()

	s.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	return s
}

func (s *Server) setupRoutes() {
	h := &Handlers{
		engine:   s.cfg.Engine,
		ledger:   s.cfg.Ledger,
		scores:   s.cfg.Scores,
		states:   s.cfg.States,
		holder:   s.cfg.Holder,
		profiles: s.cfg.Profiles,
		log:      s.log,
	}

	s.router.Route("/api", func(r chi.Router) {
		r.Get("/health", h.Health)
		r.Get("/scores", h.LatestScores)
		r.Get("/profiles", h.Profiles)
		r.Get("/profiles/{profile}/targets", h.Targets)
		r.Get("/profiles/{profile}/holdings", h.Holdings)
		r.Get("/cycle/states", h.CycleStates)
		r.Get("/calibration", h.Calibration)
		r.Get("/calibration/{version}", h.CalibrationVersion)
	})
}

// Start starts the HTTP server. Blocks until shutdown.
func (s *Server) Start() error {
	s.log.Info().Str("addr", s.server.Addr).Msg("HTTP server listening")
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown gracefully stops the server
func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}
