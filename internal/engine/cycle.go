// Package engine orchestrates the once-per-trading-day decision cycle:
// universe filter, factor scoring, regime dial, then one independent
// allocation/rebalance pass per risk profile. Profiles never block each
// other; a failure aborts only the affected profile's cycle.
package engine

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/edgeza/lawvisory/internal/config"
	"github.com/edgeza/lawvisory/internal/domain"
	"github.com/edgeza/lawvisory/internal/modules/allocation"
	"github.com/edgeza/lawvisory/internal/modules/calibration"
	"github.com/edgeza/lawvisory/internal/modules/ledger"
	"github.com/edgeza/lawvisory/internal/modules/rebalancing"
	"github.com/edgeza/lawvisory/internal/modules/regime"
	"github.com/edgeza/lawvisory/internal/modules/risk"
	"github.com/edgeza/lawvisory/internal/modules/scoring"
	"github.com/edgeza/lawvisory/internal/modules/universe"
	"github.com/edgeza/lawvisory/pkg/formulas"
)

// Event kinds recorded on the profile event log.
const (
	EventRebalanced  = "rebalanced"
	EventSkipped     = "skipped"
	EventBreaker     = "breaker"
	EventDiscrepancy = "discrepancy"
	EventInfeasible  = "constraint_infeasible"
	EventTimeout     = "execution_timeout"
)

// Engine wires the pipeline components and owns the per-profile cycle
// state machine.
type Engine struct {
	cfg      config.EngineConfig
	profiles map[domain.RiskProfile]domain.ProfileConfig

	filter    *universe.Filter
	scorer    *scoring.Scorer
	scoreRepo *scoring.ScoreRepository
	allocator *allocation.Allocator
	scheduler *rebalancing.Scheduler
	ledger    *ledger.Repository
	dial      *regime.Dial
	risk      *risk.Checker
	holder    *calibration.StateHolder
	execution domain.ExecutionClient

	mu     sync.RWMutex
	states map[domain.RiskProfile]rebalancing.CycleState

	log zerolog.Logger
}

// Deps groups the engine's collaborators for construction.
type Deps struct {
	Config    config.EngineConfig
	Profiles  map[domain.RiskProfile]domain.ProfileConfig
	Filter    *universe.Filter
	Scorer    *scoring.Scorer
	ScoreRepo *scoring.ScoreRepository
	Allocator *allocation.Allocator
	Scheduler *rebalancing.Scheduler
	Ledger    *ledger.Repository
	Dial      *regime.Dial
	Risk      *risk.Checker
	Holder    *calibration.StateHolder
	Execution domain.ExecutionClient
	Log       zerolog.Logger
}

// New creates a new decision engine
func New(d Deps) *Engine {
	states := make(map[domain.RiskProfile]rebalancing.CycleState, len(d.Profiles))
	for p := range d.Profiles {
		states[p] = rebalancing.StateIdle
	}
	return &Engine{
		cfg:       d.Config,
		profiles:  d.Profiles,
		filter:    d.Filter,
		scorer:    d.Scorer,
		scoreRepo: d.ScoreRepo,
		allocator: d.Allocator,
		scheduler: d.Scheduler,
		ledger:    d.Ledger,
		dial:      d.Dial,
		risk:      d.Risk,
		holder:    d.Holder,
		execution: d.Execution,
		states:    states,
		log:       d.Log.With().Str("component", "engine").Logger(),
	}
}

// CycleStates returns a copy of the current per-profile states for the
// snapshot surface.
func (e *Engine) CycleStates() map[domain.RiskProfile]rebalancing.CycleState {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make(map[domain.RiskProfile]rebalancing.CycleState, len(e.states))
	for p, s := range e.states {
		out[p] = s
	}
	return out
}

func (e *Engine) setState(p domain.RiskProfile, s rebalancing.CycleState) {
	e.mu.Lock()
	e.states[p] = s
	e.mu.Unlock()
}

// cycleContext is the shared, read-only product of the cycle's common
// stage, consumed by every profile pass.
type cycleContext struct {
	asOf       time.Time
	universe   *universe.FilterResult
	scores     []domain.Score
	eligible   map[string]bool
	sectors    map[string]string
	vols       map[string]float64
	assessment regime.Assessment
}

// RunDailyCycle executes one full decision cycle as of the given date.
// The common stage (filter, score, regime) runs once; each profile then
// runs independently, and a per-profile failure never aborts the others.
func (e *Engine) RunDailyCycle(ctx context.Context, asOf time.Time) error {
	cc, err := e.commonStage(ctx, asOf)
	if err != nil {
		var insufficient *domain.DataInsufficientError
		if errors.As(err, &insufficient) {
			e.log.Warn().Err(err).Msg("Cycle skipped: degenerate universe")
			return err
		}
		return fmt.Errorf("cycle common stage failed: %w", err)
	}

	for _, profile := range e.orderedProfiles() {
		if err := e.runProfile(ctx, cc, e.profiles[profile]); err != nil {
			e.log.Error().Err(err).Str("profile", string(profile)).Msg("Profile cycle aborted")
		}
	}
	return nil
}

func (e *Engine) commonStage(ctx context.Context, asOf time.Time) (*cycleContext, error) {
	readCtx, cancel := context.WithTimeout(ctx, e.cfg.BarReadTimeout)
	defer cancel()

	result, err := e.filter.Eligible(readCtx, asOf)
	if err != nil {
		return nil, err
	}

	state := e.holder.Current()
	scores := e.scorer.ScoreUniverse(asOf, result.Securities, result.History, state)
	if err := e.scoreRepo.SaveScores(ctx, scores); err != nil {
		return nil, err
	}

	tickers := make([]string, 0, len(result.Securities))
	eligible := make(map[string]bool, len(result.Securities))
	sectors := make(map[string]string, len(result.Securities))
	for _, sec := range result.Securities {
		tickers = append(tickers, sec.Ticker)
		eligible[sec.Ticker] = true
		sectors[sec.Ticker] = sec.Sector
	}

	assessment, err := e.dial.Assess(readCtx, asOf, tickers)
	if err != nil {
		return nil, err
	}

	return &cycleContext{
		asOf:       asOf,
		universe:   result,
		scores:     scores,
		eligible:   eligible,
		sectors:    sectors,
		vols:       annualizedVols(e.cfg, result.History),
		assessment: assessment,
	}, nil
}

// runProfile is one profile's pass: Idle -> Evaluating -> PlanReady ->
// Applied, or back to Idle with no plan. The ledger is mutated only at
// the Applied transition, so an abort anywhere leaves ledger and
// calibration state exactly as they were.
func (e *Engine) runProfile(ctx context.Context, cc *cycleContext, cfg domain.ProfileConfig) error {
	profile := cfg.Profile
	e.setState(profile, rebalancing.StateEvaluating)
	defer func() {
		// Whatever happened, the profile is ready for the next trigger.
		if st := e.CycleStates()[profile]; st != rebalancing.StateApplied {
			e.setState(profile, rebalancing.StateIdle)
		}
	}()

	holdings, err := e.ledger.Holdings(ctx, profile)
	if err != nil {
		return err
	}
	current := make(map[string]float64, len(holdings))
	for _, h := range holdings {
		current[h.Ticker] = h.Weight
	}

	exposure, breakerTripped, err := e.exposureFor(ctx, cc, cfg, current)
	if err != nil {
		return err
	}

	targets, err := e.targetsFor(ctx, cc, cfg, exposure)
	if err != nil {
		return err
	}
	if err := e.ledger.SaveTargets(ctx, *targets); err != nil {
		return err
	}

	forcedExits := e.risk.TrailingStopExits(cfg, holdings, cc.universe.History)
	if breakerTripped {
		for t := range current {
			forcedExits[t] = true
		}
	}

	lastRebalance, err := e.ledger.LastRebalance(ctx, profile)
	if err != nil {
		return err
	}

	eval := e.scheduler.Evaluate(rebalancing.EvalInput{
		AsOf:          cc.asOf,
		Profile:       cfg,
		Current:       current,
		Targets:       *targets,
		Eligible:      cc.eligible,
		ForcedExits:   forcedExits,
		LastRebalance: lastRebalance,
	})

	if eval.State != rebalancing.StatePlanReady {
		return e.ledger.RecordEvent(ctx, profile, cc.asOf, EventSkipped,
			fmt.Sprintf("drift %.4f below threshold %.4f", eval.Drift, cfg.DriftThreshold))
	}
	e.setState(profile, rebalancing.StatePlanReady)

	fills, err := e.submit(ctx, *eval.Plan)
	if err != nil {
		var timeout *domain.ExecutionTimeoutError
		if errors.As(err, &timeout) {
			_ = e.ledger.RecordEvent(ctx, profile, cc.asOf, EventTimeout, timeout.Error())
		}
		return err
	}

	applied, err := e.ledger.ApplyFills(ctx, *eval.Plan, fills)
	if err != nil {
		return err
	}
	if applied {
		e.setState(profile, rebalancing.StateApplied)
		if err := e.ledger.RecordEvent(ctx, profile, cc.asOf, EventRebalanced,
			fmt.Sprintf("trigger %s, %d orders", eval.Trigger, len(eval.Plan.Orders))); err != nil {
			return err
		}
	}

	if discrepancy, detail := e.scheduler.Reconcile(*eval.Plan, fills); discrepancy > 0 {
		if err := e.ledger.RecordEvent(ctx, profile, cc.asOf, EventDiscrepancy, detail); err != nil {
			return err
		}
	}
	return nil
}

// exposureFor resolves the profile's invested fraction: the regime dial's
// value, overridden to zero while the drawdown breaker's cooldown is in
// force. Trips the breaker when the approximated equity drawdown exceeds
// the profile's limit.
func (e *Engine) exposureFor(ctx context.Context, cc *cycleContext, cfg domain.ProfileConfig, current map[string]float64) (float64, bool, error) {
	if last, _, err := e.ledger.LastEvent(ctx, cfg.Profile, EventBreaker); err != nil {
		return 0, false, err
	} else if last != nil {
		cooldownEnd := last.AddDate(0, 0, cfg.CooldownDays)
		if cc.asOf.Before(cooldownEnd) {
			e.log.Info().Str("profile", string(cfg.Profile)).Msg("Breaker cooldown in force, exposure zero")
			return 0, false, nil
		}
	}

	if dd := e.risk.PortfolioDrawdown(current, cc.universe.History); dd > cfg.MaxDrawdown {
		if err := e.ledger.RecordEvent(ctx, cfg.Profile, cc.asOf, EventBreaker,
			fmt.Sprintf("drawdown %.4f exceeded limit %.4f", dd, cfg.MaxDrawdown)); err != nil {
			return 0, false, err
		}
		return 0, true, nil
	}

	return cc.assessment.Exposure(cfg), false, nil
}

// targetsFor allocates under the profile's constraints. An infeasible
// constraint set falls back to the previous cycle's weights unchanged;
// with no previous weights the profile holds cash.
func (e *Engine) targetsFor(ctx context.Context, cc *cycleContext, cfg domain.ProfileConfig, exposure float64) (*domain.TargetWeights, error) {
	if exposure <= 0 {
		return &domain.TargetWeights{
			AsOf:    cc.asOf,
			Profile: cfg.Profile,
			Weights: map[string]float64{},
		}, nil
	}

	targets, err := e.allocator.Allocate(allocation.Input{
		AsOf:           cc.asOf,
		Profile:        cfg,
		Scores:         cc.scores,
		Sectors:        cc.sectors,
		Volatilities:   cc.vols,
		TargetInvested: exposure,
	})
	if err == nil {
		return &targets, nil
	}

	var infeasible *domain.ConstraintInfeasibleError
	if !errors.As(err, &infeasible) {
		return nil, err
	}

	if recordErr := e.ledger.RecordEvent(ctx, cfg.Profile, cc.asOf, EventInfeasible, infeasible.Detail); recordErr != nil {
		return nil, recordErr
	}

	previous, err := e.ledger.LatestTargets(ctx, cfg.Profile)
	if err != nil {
		return nil, err
	}
	if previous == nil {
		e.log.Warn().Str("profile", string(cfg.Profile)).Msg("Infeasible allocation with no previous targets, holding cash")
		return &domain.TargetWeights{
			AsOf:    cc.asOf,
			Profile: cfg.Profile,
			Weights: map[string]float64{},
		}, nil
	}

	e.log.Warn().Str("profile", string(cfg.Profile)).Msg("Infeasible allocation, holding previous targets")
	held := *previous
	held.AsOf = cc.asOf
	return &held, nil
}

// submit sends the plan to the execution collaborator under the
// configured deadline. A deadline overrun aborts only this profile's
// cycle; it retries on the next scheduled cycle.
func (e *Engine) submit(ctx context.Context, plan domain.OrderPlan) ([]domain.Fill, error) {
	execCtx, cancel := context.WithTimeout(ctx, e.cfg.ExecutionTimeout)
	defer cancel()

	fills, err := e.execution.Submit(execCtx, plan)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, &domain.ExecutionTimeoutError{
				Profile: plan.Profile,
				Op:      "submit",
				Err:     err,
			}
		}
		return nil, err
	}
	return fills, nil
}

func (e *Engine) orderedProfiles() []domain.RiskProfile {
	ordered := make([]domain.RiskProfile, 0, len(e.profiles))
	for _, p := range domain.AllProfiles() {
		if _, ok := e.profiles[p]; ok {
			ordered = append(ordered, p)
		}
	}
	// Any non-standard profiles go last, in name order
	var extra []domain.RiskProfile
	for p := range e.profiles {
		if !p.Valid() {
			extra = append(extra, p)
		}
	}
	sort.Slice(extra, func(i, j int) bool { return extra[i] < extra[j] })
	return append(ordered, extra...)
}

// annualizedVols computes each ticker's trailing annualized volatility
// for the allocator's ceiling and inverse-vol scaling.
func annualizedVols(cfg config.EngineConfig, history map[string][]domain.Bar) map[string]float64 {
	vols := make(map[string]float64, len(history))
	for ticker, bars := range history {
		if len(bars) <= cfg.VolLookback {
			continue
		}
		closes := make([]float64, 0, cfg.VolLookback+1)
		for _, bar := range bars[len(bars)-cfg.VolLookback-1:] {
			closes = append(closes, bar.Close)
		}
		returns := formulas.CalculateReturns(closes)
		vols[ticker] = formulas.AnnualizedVolatility(returns)
	}
	return vols
}
