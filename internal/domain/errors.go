package domain

import (
	"errors"
	"fmt"
	"time"
)

// ErrDataUnavailable is returned by a BarStore when a ticker is unknown.
var ErrDataUnavailable = errors.New("bar data unavailable")

// DataInsufficientError signals a degenerate universe: too few eligible
// tickers or stale data. Callers skip the cycle rather than trade on it.
type DataInsufficientError struct {
	AsOf     time.Time
	Eligible int
	Minimum  int
	Reason   string
}

func (e *DataInsufficientError) Error() string {
	return fmt.Sprintf("insufficient data for %s: %d eligible of %d required (%s)",
		e.AsOf.Format("2006-01-02"), e.Eligible, e.Minimum, e.Reason)
}

// ConstraintInfeasibleError signals that the allocator could not satisfy a
// profile's constraint set. The caller holds the previous cycle's weights.
type ConstraintInfeasibleError struct {
	Profile RiskProfile
	Detail  string
}

func (e *ConstraintInfeasibleError) Error() string {
	return fmt.Sprintf("allocation infeasible for profile %s: %s", e.Profile, e.Detail)
}

// ExecutionTimeoutError signals that a broker call exceeded its deadline.
// Only the affected profile's cycle aborts; it retries next scheduled cycle.
type ExecutionTimeoutError struct {
	Profile RiskProfile
	Op      string
	Err     error
}

func (e *ExecutionTimeoutError) Error() string {
	return fmt.Sprintf("execution timeout for profile %s during %s: %v", e.Profile, e.Op, e.Err)
}

func (e *ExecutionTimeoutError) Unwrap() error { return e.Err }

// CalibrationSkipped is the non-error outcome of a calibration run that
// had too little realized-return history to act on. State is unchanged.
type CalibrationSkipped struct {
	At           time.Time
	Observations int
	Required     int
}

func (e *CalibrationSkipped) Error() string {
	return fmt.Sprintf("calibration skipped at %s: %d observations of %d required",
		e.At.Format("2006-01-02"), e.Observations, e.Required)
}
