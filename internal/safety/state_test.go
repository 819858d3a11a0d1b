package safety

import (
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)

func TestStep_Transitions(t *testing.T) {
	th := DefaultThresholds()
	s := NewViolationState(t0)

	d := s.Step(Signals{PersonCount: 1, AnyUnequipped: true}, t0, th)
	assert.Equal(t, 1, d.Counter)
	assert.Equal(t, PhaseWarning, d.Phase)
	assert.False(t, d.Alert)

	d = s.Step(Signals{PersonCount: 1, Breach: true, AnyUnequipped: true}, t0, th)
	assert.Equal(t, 4, d.Counter, "breach outranks equipment increment")
	assert.True(t, d.Alert, "breach always alerts")
	assert.Equal(t, PhaseAlerting, d.Phase)

	d = s.Step(Signals{PersonCount: 1}, t0, th)
	assert.Equal(t, 3, d.Counter)
	assert.False(t, d.Alert)
}

func TestStep_AlertThresholdIsStrict(t *testing.T) {
	th := DefaultThresholds()
	s := &ViolationState{Counter: 9, LastRoutineCheck: t0}

	d := s.Step(Signals{PersonCount: 2, AnyUnequipped: true}, t0, th)
	assert.Equal(t, 10, d.Counter)
	assert.False(t, d.Alert, "counter equal to the threshold does not alert")

	d = s.Step(Signals{PersonCount: 2, AnyUnequipped: true}, t0, th)
	assert.Equal(t, 11, d.Counter)
	assert.True(t, d.Alert)
}

func TestStep_ResetOnEmptyScene(t *testing.T) {
	th := DefaultThresholds()

	for _, start := range []int{0, 1, 11, 30} {
		s := &ViolationState{Counter: start, LastRoutineCheck: t0}

		d := s.Step(Signals{PersonCount: 0, Breach: true, AnyUnequipped: true}, t0, th)

		assert.Equal(t, 0, d.Counter)
		assert.Equal(t, PhaseClear, d.Phase)
		assert.False(t, d.Alert)
	}
}

func TestStep_CounterClamped(t *testing.T) {
	th := DefaultThresholds()
	rng := rand.New(rand.NewSource(7))
	s := NewViolationState(t0)

	for i := 0; i < 5000; i++ {
		sig := Signals{
			PersonCount:   rng.Intn(4),
			Breach:        rng.Intn(3) == 0,
			AnyUnequipped: rng.Intn(2) == 0,
		}
		d := s.Step(sig, t0, th)
		require.GreaterOrEqual(t, d.Counter, 0)
		require.LessOrEqual(t, d.Counter, th.CounterCap)
		require.Equal(t, s.Counter, d.Counter)
	}

	s.Counter = th.CounterCap
	assert.Equal(t, th.CounterCap, s.Step(Signals{PersonCount: 1, Breach: true}, t0, th).Counter)
}

func TestStep_RoutineTimer(t *testing.T) {
	th := DefaultThresholds()
	s := NewViolationState(t0)

	assert.False(t, s.Step(Signals{}, t0.Add(15*time.Second), th).Routine, "interval must be exceeded")
	assert.True(t, s.Step(Signals{}, t0.Add(15*time.Second+time.Millisecond), th).Routine)
	assert.False(t, s.Step(Signals{}, t0.Add(20*time.Second), th).Routine, "timer was reset")
	assert.True(t, s.Step(Signals{PersonCount: 3, AnyUnequipped: true}, t0.Add(31*time.Second), th).Routine,
		"routine fires irrespective of violation state")
}

func TestStep_ZeroStateStartsTimer(t *testing.T) {
	var s ViolationState

	d := s.Step(Signals{}, t0, DefaultThresholds())

	assert.False(t, d.Routine)
	assert.Equal(t, t0, s.LastRoutineCheck)
}
