package server

import (
	"encoding/json"
	"net/http"
	"runtime"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"

	"github.com/edgeza/lawvisory/internal/domain"
	"github.com/edgeza/lawvisory/internal/engine"
	"github.com/edgeza/lawvisory/internal/modules/calibration"
	"github.com/edgeza/lawvisory/internal/modules/ledger"
	"github.com/edgeza/lawvisory/internal/modules/scoring"
)

// Handlers serves the read-only snapshot endpoints.
type Handlers struct {
	engine   *engine.Engine
	ledger   *ledger.Repository
	scores   *scoring.ScoreRepository
	states   *calibration.StateRepository
	holder   *calibration.StateHolder
	profiles map[domain.RiskProfile]domain.ProfileConfig
	log      zerolog.Logger
}

// Health reports process and host health.
func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	payload := map[string]any{
		"status":     "ok",
		"time":       time.Now().UTC().Format(time.RFC3339),
		"goroutines": runtime.NumGoroutine(),
	}

	if vm, err := mem.VirtualMemory(); err == nil {
		payload["memory_used_pct"] = vm.UsedPercent
	}
	if pcts, err := cpu.Percent(0, false); err == nil && len(pcts) > 0 {
		payload["cpu_pct"] = pcts[0]
	}

	h.respond(w, payload)
}

// LatestScores returns the score table for the most recent cycle date.
func (h *Handlers) LatestScores(w http.ResponseWriter, r *http.Request) {
	date, err := h.scores.LatestDate(r.Context())
	if err != nil {
		h.fail(w, err)
		return
	}
	if date == nil {
		h.respond(w, []domain.Score{})
		return
	}
	scores, err := h.scores.ScoresOn(r.Context(), *date)
	if err != nil {
		h.fail(w, err)
		return
	}
	h.respond(w, scores)
}

// Profiles returns the configured risk profiles.
func (h *Handlers) Profiles(w http.ResponseWriter, r *http.Request) {
	out := make([]domain.ProfileConfig, 0, len(h.profiles))
	for _, p := range domain.AllProfiles() {
		if cfg, ok := h.profiles[p]; ok {
			out = append(out, cfg)
		}
	}
	h.respond(w, out)
}

// Targets returns the latest target weights for one profile.
func (h *Handlers) Targets(w http.ResponseWriter, r *http.Request) {
	profile, ok := h.profileParam(w, r)
	if !ok {
		return
	}
	targets, err := h.ledger.LatestTargets(r.Context(), profile)
	if err != nil {
		h.fail(w, err)
		return
	}
	if targets == nil {
		http.Error(w, "no targets recorded", http.StatusNotFound)
		return
	}
	h.respond(w, targets)
}

// Holdings returns the current holdings for one profile.
func (h *Handlers) Holdings(w http.ResponseWriter, r *http.Request) {
	profile, ok := h.profileParam(w, r)
	if !ok {
		return
	}
	holdings, err := h.ledger.Holdings(r.Context(), profile)
	if err != nil {
		h.fail(w, err)
		return
	}
	h.respond(w, holdings)
}

// CycleStates returns the per-profile state machine positions.
func (h *Handlers) CycleStates(w http.ResponseWriter, r *http.Request) {
	h.respond(w, h.engine.CycleStates())
}

// Calibration returns the calibration state currently in force.
func (h *Handlers) Calibration(w http.ResponseWriter, r *http.Request) {
	h.respond(w, h.holder.Current())
}

// CalibrationVersion returns one stored state version for audit.
func (h *Handlers) CalibrationVersion(w http.ResponseWriter, r *http.Request) {
	version, err := strconv.Atoi(chi.URLParam(r, "version"))
	if err != nil {
		http.Error(w, "invalid version", http.StatusBadRequest)
		return
	}
	state, err := h.states.Get(r.Context(), version)
	if err != nil {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}
	h.respond(w, state)
}

func (h *Handlers) profileParam(w http.ResponseWriter, r *http.Request) (domain.RiskProfile, bool) {
	profile := domain.RiskProfile(chi.URLParam(r, "profile"))
	if !profile.Valid() {
		http.Error(w, "unknown profile", http.StatusBadRequest)
		return "", false
	}
	return profile, true
}

func (h *Handlers) respond(w http.ResponseWriter, payload any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		h.log.Error().Err(err).Msg("Failed to encode response")
	}
}

func (h *Handlers) fail(w http.ResponseWriter, err error) {
	h.log.Error().Err(err).Msg("Handler failed")
	http.Error(w, "internal error", http.StatusInternalServerError)
}
