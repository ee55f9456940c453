package arbitration

import "github.com/ace-labs/ace/internal/resilience"

// Health is the system-health snapshot §7 requires: circuit-breaker states
// and degradation levels for every tracked component.
type Health struct {
	BreakerStates     map[string]string                        `json:"breaker_states"`
	DegradationLevels map[string]resilience.DegradationLevel   `json:"degradation_levels"`
}

// Health reports the controller's current resilience posture.
func (c *Controller) Health() Health {
	h := Health{
		BreakerStates:     c.judges.BreakerStates(),
		DegradationLevels: map[string]resilience.DegradationLevel{},
	}
	if c.degradation != nil {
		h.DegradationLevels = c.degradation.Snapshot()
	}
	return h
}
