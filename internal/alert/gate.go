package alert

import (
	"strconv"
	"time"
)

// Gate decides whether a channel may fire for the current frame.
// Cooldown gates throttle by wall clock, modulus gates by processed-frame count.
// A Gate is only touched from the processing loop.
type Gate struct {
	cooldown  time.Duration
	modulus   uint64
	lastFired time.Time
	fired     bool
}

// NewCooldownGate fires at most once per cooldown
func NewCooldownGate(cooldown time.Duration) *Gate {
	return &Gate{cooldown: cooldown}
}

// NewModulusGate fires only on frames whose number is a multiple of n
func NewModulusGate(n uint64) *Gate {
	if n == 0 {
		n = 1
	}
	return &Gate{modulus: n}
}

// Allow reports whether the gate is open and, if so, stamps it as fired
func (g *Gate) Allow(now time.Time, frame uint64) bool {
	if g.modulus > 0 {
		if frame%g.modulus != 0 {
			return false
		}
	} else if g.fired && now.Sub(g.lastFired) < g.cooldown {
		return false
	}

	g.lastFired = now
	g.fired = true
	return true
}

// LastFired returns when the gate last opened, zero if never
func (g *Gate) LastFired() time.Time {
	return g.lastFired
}

// Describe returns a short human readable form of the throttle
func (g *Gate) Describe() string {
	if g.modulus > 0 {
		return "every " + strconv.FormatUint(g.modulus, 10) + " frames"
	}
	return "cooldown " + g.cooldown.String()
}
