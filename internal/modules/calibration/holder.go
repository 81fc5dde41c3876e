package calibration

import (
	"sync"

	"github.com/edgeza/lawvisory/internal/domain"
)

// StateHolder publishes the calibration state currently in force.
// Cycles read it; the calibrator replaces it wholesale outside cycle
// execution. The read/write lock keeps a replacement from overlapping an
// in-flight read, per the concurrency model.
type StateHolder struct {
	mu    sync.RWMutex
	state domain.CalibrationState
}

// NewStateHolder creates a holder seeded with the given state.
func NewStateHolder(state domain.CalibrationState) *StateHolder {
	return &StateHolder{state: state}
}

// Current returns the state in force. The returned value is a copy with
// its own maps; callers can hold it for a whole cycle without locking.
func (h *StateHolder) Current() domain.CalibrationState {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return copyState(h.state)
}

// Replace installs a new state wholesale.
func (h *StateHolder) Replace(state domain.CalibrationState) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.state = copyState(state)
}

func copyState(s domain.CalibrationState) domain.CalibrationState {
	out := s
	out.FactorWeights = make(map[string]float64, len(s.FactorWeights))
	for k, v := range s.FactorWeights {
		out.FactorWeights[k] = v
	}
	if s.FactorICs != nil {
		out.FactorICs = make(map[string]float64, len(s.FactorICs))
		for k, v := range s.FactorICs {
			out.FactorICs[k] = v
		}
	}
	return out
}
