// Package domain provides core domain models and types.
// The domain layer is pure: no database, transport or logging dependencies.
package domain

import "time"

// Bar represents one daily OHLCV bar for a ticker. Bars are immutable once
// ingested and form a strictly date-increasing sequence per ticker.
type Bar struct {
	Date   time.Time `json:"date"`
	Ticker string    `json:"ticker"`
	Open   float64   `json:"open"`
	High   float64   `json:"high"`
	Low    float64   `json:"low"`
	Close  float64   `json:"close"`
	Volume float64   `json:"volume"`
}

// Security represents a candidate security with its cycle-scoped
// eligibility metadata. Recomputed by the universe filter every cycle,
// never stored long-term.
type Security struct {
	Ticker      string  `json:"ticker"`
	Name        string  `json:"name"`
	Sector      string  `json:"sector"`
	Industry    string  `json:"industry"`
	LastClose   float64 `json:"last_close"`
	DollarVolume float64 `json:"dollar_volume"` // trailing average daily dollar volume
	Eligible    bool    `json:"eligible"`
}

// Score is the profile-agnostic composite score for one ticker on one
// as-of date, with the per-factor breakdown that produced it. Scores are
// append-only history keyed by date; never mutated after creation.
type Score struct {
	AsOf      time.Time          `json:"as_of"`
	Ticker    string             `json:"ticker"`
	Composite float64            `json:"composite"`
	Factors   map[string]float64 `json:"factors"` // standardized per-factor values
}

// TargetWeights maps ticker to target portfolio weight for one profile on
// one as-of date. Invested weight sums to ≤ 1; the remainder is cash.
type TargetWeights struct {
	AsOf    time.Time          `json:"as_of"`
	Profile RiskProfile        `json:"profile"`
	Weights map[string]float64 `json:"weights"`
}

// Invested returns the total invested fraction (1 - cash residual).
func (tw TargetWeights) Invested() float64 {
	var sum float64
	for _, w := range tw.Weights {
		sum += w
	}
	return sum
}

// Holding represents a position owned by one profile's ledger. Mutated
// only by applying confirmed fills of an executed order plan.
type Holding struct {
	Ticker        string      `json:"ticker"`
	Profile       RiskProfile `json:"profile"`
	Weight        float64     `json:"weight"`
	CostBasis     float64     `json:"cost_basis"`
	LastRebalance time.Time   `json:"last_rebalance"`
}

// OrderAction is the direction of a planned order.
type OrderAction string

const (
	ActionBuy  OrderAction = "buy"
	ActionSell OrderAction = "sell"
	ActionHold OrderAction = "hold"
)

// Order is a single planned trade: the weight delta to move a ticker from
// its current weight to its target weight.
type Order struct {
	Ticker      string      `json:"ticker"`
	Profile     RiskProfile `json:"profile"`
	Action      OrderAction `json:"action"`
	WeightDelta float64     `json:"weight_delta"` // signed; positive = buy
}

// OrderPlan is the ordered set of trades produced for one profile in one
// cycle. It carries a unique ID used as the idempotence key when fills are
// applied to the ledger: re-applying an already-applied plan is a no-op.
type OrderPlan struct {
	ID      string      `json:"id"`
	AsOf    time.Time   `json:"as_of"`
	Profile RiskProfile `json:"profile"`
	Orders  []Order     `json:"orders"`
}

// GrossTurnover returns the sum of absolute planned weight deltas.
func (p OrderPlan) GrossTurnover() float64 {
	var sum float64
	for _, o := range p.Orders {
		if o.WeightDelta < 0 {
			sum -= o.WeightDelta
		} else {
			sum += o.WeightDelta
		}
	}
	return sum
}

// FillStatus reports how the execution collaborator settled an order.
type FillStatus string

const (
	FillConfirmed FillStatus = "confirmed"
	FillPartial   FillStatus = "partial"
	FillRejected  FillStatus = "rejected"
)

// Fill is the execution collaborator's answer to one planned order.
// Any status other than confirmed is treated as partial and reconciled
// into the next cycle's drift computation.
type Fill struct {
	Ticker        string      `json:"ticker"`
	Profile       RiskProfile `json:"profile"`
	ExecutedDelta float64     `json:"executed_delta"`
	Status        FillStatus  `json:"status"`
}

// CalibrationState holds the factor weights currently in force plus the
// attribution snapshot that produced them. Updated only by the calibrator,
// on a slower cadence than daily cycles; prior states stay retrievable.
type CalibrationState struct {
	Version        int                `json:"version"`
	CalibratedAt   time.Time          `json:"calibrated_at"`
	FactorWeights  map[string]float64 `json:"factor_weights"` // sum to 1
	FactorICs      map[string]float64 `json:"factor_ics"`     // attribution snapshot
	Observations   int                `json:"observations"`
}
