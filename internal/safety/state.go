package safety

import (
	"time"
)

// Phase is the coarse violation state derived from the counter
type Phase int

const (
	// PhaseClear - counter at zero
	PhaseClear Phase = iota
	// PhaseWarning - counter rising but not yet alerting
	PhaseWarning
	// PhaseAlerting - counter above the alert threshold, or a zone breach
	PhaseAlerting
)

func (p Phase) String() string {
	switch p {
	case PhaseWarning:
		return "warning"
	case PhaseAlerting:
		return "alerting"
	default:
		return "clear"
	}
}

// Thresholds configures the hysteresis counter and the routine scan timer
type Thresholds struct {
	AlertThreshold     int           // Alert when the counter is strictly above this
	CounterCap         int           // Upper clamp for the counter
	BreachIncrement    int           // Added on a zone breach
	EquipmentIncrement int           // Added when someone lacks equipment
	DecayDecrement     int           // Removed on a clean frame
	RoutineInterval    time.Duration // Period of the routine hazard scan, 0 disables it
}

// DefaultThresholds returns the production settings
func DefaultThresholds() Thresholds {
	return Thresholds{
		AlertThreshold:     10,
		CounterCap:         30,
		BreachIncrement:    3,
		EquipmentIncrement: 1,
		DecayDecrement:     1,
		RoutineInterval:    15 * time.Second,
	}
}

// Signals are the per-frame inputs to the state machine
type Signals struct {
	PersonCount   int
	Breach        bool
	AnyUnequipped bool
}

// Decision is the state machine output for one frame
type Decision struct {
	Counter int
	Phase   Phase
	Alert   bool // Violation alert should be dispatched
	Routine bool // Routine scan timer fired on this frame
}

// ViolationState is the per-session hysteresis state.
// It is mutated only by Step, once per processed frame.
type ViolationState struct {
	Counter          int       `json:"counter"`
	LastRoutineCheck time.Time `json:"last_routine_check"`
}

// NewViolationState creates a state whose routine timer starts at now
func NewViolationState(now time.Time) *ViolationState {
	return &ViolationState{LastRoutineCheck: now}
}

// Step applies one frame of signals and returns the resulting decision
func (s *ViolationState) Step(sig Signals, now time.Time, th Thresholds) Decision {
	switch {
	case sig.PersonCount == 0:
		s.Counter = 0
	case sig.Breach:
		s.Counter += th.BreachIncrement
	case sig.AnyUnequipped:
		s.Counter += th.EquipmentIncrement
	default:
		s.Counter -= th.DecayDecrement
	}
	s.Counter = clamp(s.Counter, 0, th.CounterCap)

	// A zero-person frame cannot breach
	breach := sig.Breach && sig.PersonCount > 0

	d := Decision{
		Counter: s.Counter,
		Alert:   s.Counter > th.AlertThreshold || breach,
	}

	switch {
	case d.Alert:
		d.Phase = PhaseAlerting
	case s.Counter > 0:
		d.Phase = PhaseWarning
	default:
		d.Phase = PhaseClear
	}

	if s.LastRoutineCheck.IsZero() {
		s.LastRoutineCheck = now
	} else if th.RoutineInterval > 0 && now.Sub(s.LastRoutineCheck) > th.RoutineInterval {
		s.LastRoutineCheck = now
		d.Routine = true
	}

	return d
}

func clamp(v, lo, hi int) int {
	if hi < lo {
		hi = lo
	}
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
