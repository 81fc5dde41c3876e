package domain

// RiskProfile is the closed set of supported risk profiles. Behavior
// differences between profiles are configuration data, not code paths:
// one allocator parameterized by a ProfileConfig serves all five.
type RiskProfile string

const (
	ProfileConservative RiskProfile = "conservative"
	ProfileModerate     RiskProfile = "moderate"
	ProfileBalanced     RiskProfile = "balanced"
	ProfileAggressive   RiskProfile = "aggressive"
	ProfileMaxReturn    RiskProfile = "max_return"
)

// AllProfiles lists the profiles in fixed order so that per-profile cycle
// execution and reporting are deterministic.
func AllProfiles() []RiskProfile {
	return []RiskProfile{
		ProfileConservative,
		ProfileModerate,
		ProfileBalanced,
		ProfileAggressive,
		ProfileMaxReturn,
	}
}

// Valid reports whether p is one of the five supported profiles.
func (p RiskProfile) Valid() bool {
	switch p {
	case ProfileConservative, ProfileModerate, ProfileBalanced,
		ProfileAggressive, ProfileMaxReturn:
		return true
	}
	return false
}

// ProfileConfig carries the constants that differentiate one risk profile
// from another. Loaded once per process lifetime, immutable during a cycle.
type ProfileConfig struct {
	Profile RiskProfile

	// Portfolio construction
	MaxPositions int // top-K selection size

	// Constraints
	MaxPositionWeight float64 // per-position cap
	MaxSectorWeight   float64 // per-sector cap
	VolatilityCeiling float64 // annualized; above this a name is excluded

	// Rebalancing
	DriftThreshold float64 // L1 drift that triggers a rebalance
	TurnoverCap    float64 // max gross turnover per rebalance
	MaxHoldingDays int     // forced periodic rebalance

	// Regime exposure dial
	ExposureBull float64 // invested fraction when risk-on
	ExposureBear float64 // invested fraction when risk-off

	// Safety (from trailing-stop / breaker logic)
	ATRTrailMult float64 // trailing stop distance = ATR * mult
	MaxDrawdown  float64 // profile equity breaker
	CooldownDays int     // no new entries after a breaker trip
}

// DefaultProfileConfigs returns the built-in configuration for all five
// profiles. Values can be overridden through the config surface; these are
// the documented defaults.
func DefaultProfileConfigs() map[RiskProfile]ProfileConfig {
	return map[RiskProfile]ProfileConfig{
		ProfileConservative: {
			Profile:           ProfileConservative,
			MaxPositions:      30,
			MaxPositionWeight: 0.05,
			MaxSectorWeight:   0.25,
			VolatilityCeiling: 0.25,
			DriftThreshold:    0.10,
			TurnoverCap:       0.20,
			MaxHoldingDays:    20,
			ExposureBull:      0.90,
			ExposureBear:      0.30,
			ATRTrailMult:      2.5,
			MaxDrawdown:       0.15,
			CooldownDays:      15,
		},
		ProfileModerate: {
			Profile:           ProfileModerate,
			MaxPositions:      25,
			MaxPositionWeight: 0.06,
			MaxSectorWeight:   0.30,
			VolatilityCeiling: 0.30,
			DriftThreshold:    0.08,
			TurnoverCap:       0.25,
			MaxHoldingDays:    20,
			ExposureBull:      0.95,
			ExposureBear:      0.25,
			ATRTrailMult:      2.6,
			MaxDrawdown:       0.18,
			CooldownDays:      12,
		},
		ProfileBalanced: {
			Profile:           ProfileBalanced,
			MaxPositions:      20,
			MaxPositionWeight: 0.07,
			MaxSectorWeight:   0.30,
			VolatilityCeiling: 0.35,
			DriftThreshold:    0.07,
			TurnoverCap:       0.30,
			MaxHoldingDays:    15,
			ExposureBull:      0.98,
			ExposureBear:      0.20,
			ATRTrailMult:      2.7,
			MaxDrawdown:       0.20,
			CooldownDays:      10,
		},
		ProfileAggressive: {
			Profile:           ProfileAggressive,
			MaxPositions:      12,
			MaxPositionWeight: 0.10,
			MaxSectorWeight:   0.35,
			VolatilityCeiling: 0.45,
			DriftThreshold:    0.06,
			TurnoverCap:       0.40,
			MaxHoldingDays:    10,
			ExposureBull:      0.99,
			ExposureBear:      0.30,
			ATRTrailMult:      2.8,
			MaxDrawdown:       0.20,
			CooldownDays:      7,
		},
		ProfileMaxReturn: {
			Profile:           ProfileMaxReturn,
			MaxPositions:      7,
			MaxPositionWeight: 0.15,
			MaxSectorWeight:   0.40,
			VolatilityCeiling: 0.60,
			DriftThreshold:    0.05,
			TurnoverCap:       0.50,
			MaxHoldingDays:    5,
			ExposureBull:      0.99,
			ExposureBear:      0.30,
			ATRTrailMult:      3.0,
			MaxDrawdown:       0.20,
			CooldownDays:      7,
		},
	}
}
