// Package rebalancing decides, per profile, whether a cycle's drift or
// signal change warrants trading, and builds the order plan when it does.
package rebalancing

import (
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/edgeza/lawvisory/internal/domain"
)

// CycleState is the per-profile state machine position within one cycle.
type CycleState string

const (
	StateIdle       CycleState = "idle"
	StateEvaluating CycleState = "evaluating"
	StatePlanReady  CycleState = "plan_ready"
	StateApplied    CycleState = "applied"
)

// Trigger names why a rebalance fired.
type Trigger string

const (
	TriggerNone          Trigger = ""
	TriggerDrift         Trigger = "drift"
	TriggerHoldingPeriod Trigger = "holding_period"
	TriggerForcedExit    Trigger = "forced_exit"
)

// EvalInput carries one profile's view of the cycle.
type EvalInput struct {
	AsOf          time.Time
	Profile       domain.ProfileConfig
	Current       map[string]float64 // held weights from the ledger
	Targets       domain.TargetWeights
	Eligible      map[string]bool // tickers still in the eligible universe
	ForcedExits   map[string]bool // stop/breaker exits on held names
	LastRebalance *time.Time
}

// Evaluation is the outcome of one profile's Evaluating step: either back
// to Idle with no plan, or PlanReady with the plan attached.
type Evaluation struct {
	Profile domain.RiskProfile
	AsOf    time.Time
	State   CycleState
	Drift   float64
	Trigger Trigger
	Plan    *domain.OrderPlan
}

// Scheduler computes drift, applies the rebalance triggers and builds
// turnover-capped order plans. It holds no per-profile state itself; the
// cycle owner tracks state transitions using the returned Evaluation.
type Scheduler struct {
	minOrderWeight float64
	log            zerolog.Logger
}

// NewScheduler creates a new rebalance scheduler
func NewScheduler(minOrderWeight float64, log zerolog.Logger) *Scheduler {
	return &Scheduler{
		minOrderWeight: minOrderWeight,
		log:            log.With().Str("component", "rebalance_scheduler").Logger(),
	}
}

// Evaluate runs the Evaluating step. A plan is produced only when drift
// exceeds the profile's threshold, the maximum holding period has
// elapsed, or a held name must be force-exited (left the universe or hit
// a stop). Otherwise the profile returns to Idle with no plan, avoiding
// excess turnover.
func (s *Scheduler) Evaluate(in EvalInput) Evaluation {
	eval := Evaluation{
		Profile: in.Profile.Profile,
		AsOf:    in.AsOf,
		State:   StateIdle,
	}

	exits := s.collectForcedExits(in)
	eval.Drift = Drift(in.Current, in.Targets.Weights)

	switch {
	case len(exits) > 0:
		eval.Trigger = TriggerForcedExit
	case eval.Drift > in.Profile.DriftThreshold:
		eval.Trigger = TriggerDrift
	case s.holdingPeriodElapsed(in):
		eval.Trigger = TriggerHoldingPeriod
	default:
		s.log.Debug().
			Str("profile", string(in.Profile.Profile)).
			Float64("drift", eval.Drift).
			Msg("No rebalance trigger, staying idle")
		return eval
	}

	plan := s.buildPlan(in, exits)
	if len(plan.Orders) == 0 {
		// Triggered but nothing tradeable above the churn floor
		eval.Trigger = TriggerNone
		return eval
	}

	eval.State = StatePlanReady
	eval.Plan = &plan

	s.log.Info().
		Str("profile", string(in.Profile.Profile)).
		Str("trigger", string(eval.Trigger)).
		Float64("drift", eval.Drift).
		Int("orders", len(plan.Orders)).
		Float64("gross_turnover", plan.GrossTurnover()).
		Msg("Rebalance plan ready")

	return eval
}

// Drift is the sum of absolute differences between current and target
// weights over the union of tickers.
func Drift(current, target map[string]float64) float64 {
	var drift float64
	seen := make(map[string]bool, len(current))
	for t, w := range current {
		drift += math.Abs(w - target[t])
		seen[t] = true
	}
	for t, w := range target {
		if !seen[t] {
			drift += math.Abs(w)
		}
	}
	return drift
}

// collectForcedExits returns held names that must be fully exited: names
// that left the eligible universe, plus stop/breaker exits.
func (s *Scheduler) collectForcedExits(in EvalInput) map[string]bool {
	exits := make(map[string]bool)
	for ticker, weight := range in.Current {
		if weight <= 0 {
			continue
		}
		if in.Eligible != nil && !in.Eligible[ticker] {
			exits[ticker] = true
		}
		if in.ForcedExits[ticker] {
			exits[ticker] = true
		}
	}
	return exits
}

func (s *Scheduler) holdingPeriodElapsed(in EvalInput) bool {
	if in.LastRebalance == nil || in.Profile.MaxHoldingDays <= 0 {
		return false
	}
	elapsed := int(in.AsOf.Sub(*in.LastRebalance).Hours() / 24)
	return elapsed >= in.Profile.MaxHoldingDays
}

// buildPlan computes weight deltas toward the targets. Forced exits are
// always full exits. Discretionary deltas below the churn floor are
// dropped, and when gross planned turnover exceeds the profile's cap the
// discretionary deltas are scaled down proportionally - forced exits keep
// their full size.
func (s *Scheduler) buildPlan(in EvalInput, exits map[string]bool) domain.OrderPlan {
	profile := in.Profile.Profile

	union := make(map[string]bool, len(in.Current)+len(in.Targets.Weights))
	for t := range in.Current {
		union[t] = true
	}
	for t := range in.Targets.Weights {
		union[t] = true
	}

	type pending struct {
		ticker string
		delta  float64
		forced bool
	}
	var deltas []pending
	for t := range union {
		current := in.Current[t]
		var delta float64
		if exits[t] {
			delta = -current
		} else {
			delta = in.Targets.Weights[t] - current
		}
		if delta == 0 {
			continue
		}
		if !exits[t] && math.Abs(delta) < s.minOrderWeight {
			continue
		}
		deltas = append(deltas, pending{ticker: t, delta: delta, forced: exits[t]})
	}

	// Turnover cap: scale discretionary deltas proportionally
	if turnoverCap := in.Profile.TurnoverCap; turnoverCap > 0 {
		var forcedGross, discGross float64
		for _, d := range deltas {
			if d.forced {
				forcedGross += math.Abs(d.delta)
			} else {
				discGross += math.Abs(d.delta)
			}
		}
		if forcedGross+discGross > turnoverCap && discGross > 0 {
			budget := turnoverCap - forcedGross
			if budget < 0 {
				budget = 0
			}
			scale := budget / discGross
			for i := range deltas {
				if !deltas[i].forced {
					deltas[i].delta *= scale
				}
			}
		}
	}

	// Sells before buys, each leg in ticker order, so execution frees
	// cash before spending it and the sequence is reproducible.
	sort.Slice(deltas, func(i, j int) bool {
		si, sj := deltas[i].delta < 0, deltas[j].delta < 0
		if si != sj {
			return si
		}
		return deltas[i].ticker < deltas[j].ticker
	})

	plan := domain.OrderPlan{
		ID:      uuid.New().String(),
		AsOf:    in.AsOf,
		Profile: profile,
	}
	for _, d := range deltas {
		if d.delta == 0 {
			continue
		}
		action := domain.ActionBuy
		if d.delta < 0 {
			action = domain.ActionSell
		}
		plan.Orders = append(plan.Orders, domain.Order{
			Ticker:      d.ticker,
			Profile:     profile,
			Action:      action,
			WeightDelta: d.delta,
		})
	}
	return plan
}

// Reconcile compares a plan against its fills and reports the aggregate
// discrepancy left for the next cycle's drift computation to absorb.
// There is no retry within the cycle.
func (s *Scheduler) Reconcile(plan domain.OrderPlan, fills []domain.Fill) (float64, string) {
	executed := make(map[string]float64, len(fills))
	for _, f := range fills {
		if f.Status != domain.FillRejected {
			executed[f.Ticker] += f.ExecutedDelta
		}
	}

	var discrepancy float64
	var worst string
	var worstGap float64
	for _, o := range plan.Orders {
		gap := math.Abs(o.WeightDelta - executed[o.Ticker])
		discrepancy += gap
		if gap > worstGap {
			worstGap = gap
			worst = o.Ticker
		}
	}

	if discrepancy < 1e-9 {
		return 0, ""
	}
	detail := fmt.Sprintf("unfilled weight %.6f, largest gap %s %.6f", discrepancy, worst, worstGap)
	s.log.Warn().
		Str("profile", string(plan.Profile)).
		Str("plan_id", plan.ID).
		Float64("discrepancy", discrepancy).
		Msg("Partial fill discrepancy recorded")
	return discrepancy, detail
}
