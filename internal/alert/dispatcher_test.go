package alert

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sitewatch/internal/eventlog"
	"sitewatch/internal/safety"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// recordingChannel counts deliveries and can block or fail on demand
type recordingChannel struct {
	name    string
	kinds   map[Kind]bool
	err     error
	panicky bool
	block   chan struct{}
	calls   atomic.Int32
	mu      sync.Mutex
	got     []Alert
}

func (c *recordingChannel) Name() string { return c.name }

func (c *recordingChannel) Handles(k Kind) bool {
	if c.kinds == nil {
		return true
	}
	return c.kinds[k]
}

func (c *recordingChannel) Notify(ctx context.Context, a Alert) error {
	c.calls.Add(1)
	c.mu.Lock()
	c.got = append(c.got, a)
	c.mu.Unlock()
	if c.block != nil {
		<-c.block
	}
	if c.panicky {
		panic("channel exploded")
	}
	return c.err
}

type countingObserver struct {
	mu         sync.Mutex
	dispatched map[string]int
	suppressed map[string]int
	failed     map[string]int
}

func newCountingObserver() *countingObserver {
	return &countingObserver{
		dispatched: map[string]int{},
		suppressed: map[string]int{},
		failed:     map[string]int{},
	}
}

func (o *countingObserver) AlertDispatched(channel string, _ Kind) {
	o.mu.Lock()
	o.dispatched[channel]++
	o.mu.Unlock()
}

func (o *countingObserver) AlertSuppressed(channel, reason string) {
	o.mu.Lock()
	o.suppressed[channel+"/"+reason]++
	o.mu.Unlock()
}

func (o *countingObserver) ChannelCompleted(channel string, _ time.Duration, err error) {
	if err == nil {
		return
	}
	o.mu.Lock()
	o.failed[channel]++
	o.mu.Unlock()
}

func equipmentAlert() Alert {
	return Alert{Kind: KindEquipment, Reason: ComposeReason(false, true), PersonCount: 1}
}

func TestComposeReason(t *testing.T) {
	assert.Equal(t, "Restricted Zone Violation + No Helmet Detected", ComposeReason(true, true))
	assert.Equal(t, "Restricted Zone Violation", ComposeReason(true, false))
	assert.Equal(t, "No Helmet Detected", ComposeReason(false, true))
	assert.Equal(t, KindBoth, ViolationKind(true, true))
	assert.Equal(t, KindBreach, ViolationKind(true, false))
	assert.Equal(t, KindEquipment, ViolationKind(false, true))
}

func TestGate_Cooldown(t *testing.T) {
	clock := newFakeClock()
	g := NewCooldownGate(10 * time.Second)

	assert.True(t, g.Allow(clock.Now(), 1))
	clock.Advance(9 * time.Second)
	assert.False(t, g.Allow(clock.Now(), 2))
	clock.Advance(time.Second)
	assert.True(t, g.Allow(clock.Now(), 3), "exactly one cooldown later fires again")
	assert.Equal(t, clock.Now(), g.LastFired())
}

func TestGate_Modulus(t *testing.T) {
	g := NewModulusGate(60)
	var fired []uint64
	for f := uint64(1); f <= 130; f++ {
		if g.Allow(time.Time{}, f) {
			fired = append(fired, f)
		}
	}
	assert.Equal(t, []uint64{60, 120}, fired)
}

func TestDispatcher_CooldownLaw(t *testing.T) {
	clock := newFakeClock()
	d := NewDispatcher(context.Background(), DispatcherConfig{Now: clock.Now})
	ch := &recordingChannel{name: "push"}
	d.Register(ch, NewCooldownGate(15*time.Second))

	assert.Equal(t, []string{"push"}, d.Dispatch(equipmentAlert(), 1))
	clock.Advance(time.Millisecond)
	assert.Empty(t, d.Dispatch(equipmentAlert(), 2))
	d.Wait()

	assert.Equal(t, int32(1), ch.calls.Load())
}

func TestDispatcher_ChannelsAreIndependent(t *testing.T) {
	clock := newFakeClock()
	d := NewDispatcher(context.Background(), DispatcherConfig{Now: clock.Now})
	speech := &recordingChannel{name: "speech"}
	push := &recordingChannel{name: "push"}
	d.Register(speech, NewCooldownGate(10*time.Second))
	d.Register(push, NewCooldownGate(15*time.Second))

	d.Dispatch(equipmentAlert(), 1)
	clock.Advance(12 * time.Second)
	fired := d.Dispatch(equipmentAlert(), 2)
	d.Wait()

	assert.Equal(t, []string{"speech"}, fired)
	assert.Equal(t, int32(2), speech.calls.Load())
	assert.Equal(t, int32(1), push.calls.Load())
}

func TestDispatcher_RoutineOnlyToInterestedChannels(t *testing.T) {
	d := NewDispatcher(context.Background(), DispatcherConfig{})
	vision := &recordingChannel{name: "vision"}
	push := &recordingChannel{name: "push", kinds: map[Kind]bool{KindEquipment: true}}
	d.Register(vision, NewCooldownGate(time.Second))
	d.Register(push, NewCooldownGate(time.Second))

	fired := d.Dispatch(Alert{Kind: KindRoutine, Reason: ReasonRoutine}, 1)
	d.Wait()

	assert.Equal(t, []string{"vision"}, fired)
	assert.Equal(t, int32(0), push.calls.Load())
}

func TestDispatcher_DoesNotBlockAndIsolatesFailures(t *testing.T) {
	obs := newCountingObserver()
	d := NewDispatcher(context.Background(), DispatcherConfig{Observer: obs})

	slow := &recordingChannel{name: "slow", block: make(chan struct{})}
	failing := &recordingChannel{name: "failing", err: errors.New("network down")}
	panicking := &recordingChannel{name: "panicking", panicky: true}
	healthy := &recordingChannel{name: "healthy"}
	for _, ch := range []*recordingChannel{slow, failing, panicking, healthy} {
		d.Register(ch, NewCooldownGate(time.Minute))
	}

	start := time.Now()
	fired := d.Dispatch(equipmentAlert(), 1)
	assert.Less(t, time.Since(start), 500*time.Millisecond, "dispatch returns while a channel is blocked")
	assert.Len(t, fired, 4)

	close(slow.block)
	d.Wait()

	assert.Equal(t, int32(1), healthy.calls.Load())
	assert.Equal(t, 1, obs.failed["failing"])
	assert.Equal(t, 1, obs.failed["panicking"])
	assert.Equal(t, 0, obs.failed["healthy"])

	status := map[string]ChannelStatus{}
	for _, s := range d.Status() {
		status[s.Name] = s
	}
	assert.Equal(t, uint64(1), status["failing"].Failed)
	assert.Equal(t, 0, status["slow"].InFlight)
}

func TestDispatcher_ChannelErrorWrapping(t *testing.T) {
	d := NewDispatcher(context.Background(), DispatcherConfig{})
	sentinel := errors.New("boom")

	err := d.run("push", func(context.Context) error { return sentinel })

	var chErr *ChannelError
	require.True(t, errors.As(err, &chErr))
	assert.Equal(t, "push", chErr.Channel)
	assert.True(t, errors.Is(err, sentinel))
	assert.Equal(t, "channel push: boom", err.Error())
}

// exclusiveChannel is a recordingChannel with an in-flight flag
type exclusiveChannel struct {
	recordingChannel
	busy atomic.Bool
}

func (c *exclusiveChannel) TryAcquire() bool { return c.busy.CompareAndSwap(false, true) }
func (c *exclusiveChannel) Release()         { c.busy.Store(false) }

func TestDispatcher_InFlightCheckedBeforeCooldown(t *testing.T) {
	clock := newFakeClock()
	obs := newCountingObserver()
	d := NewDispatcher(context.Background(), DispatcherConfig{Now: clock.Now, Observer: obs})

	ch := &exclusiveChannel{recordingChannel: recordingChannel{name: "vision", block: make(chan struct{})}}
	gate := NewCooldownGate(10 * time.Second)
	d.Register(ch, gate)

	require.Equal(t, []string{"vision"}, d.Dispatch(equipmentAlert(), 1))
	firstFired := gate.LastFired()

	// Past the cooldown but the first analysis is still running
	clock.Advance(11 * time.Second)
	assert.Empty(t, d.Dispatch(equipmentAlert(), 2))
	assert.Equal(t, firstFired, gate.LastFired(), "a busy channel does not stamp its gate")
	assert.Equal(t, 1, obs.suppressed["vision/busy"])

	close(ch.block)
	d.Wait()

	assert.Equal(t, []string{"vision"}, d.Dispatch(equipmentAlert(), 3))
	d.Wait()
	assert.Equal(t, int32(2), ch.calls.Load())
}

func TestDispatcher_LogModulusOverSustainedViolation(t *testing.T) {
	th := safety.Thresholds{
		AlertThreshold:     5,
		CounterCap:         30,
		BreachIncrement:    3,
		EquipmentIncrement: 2,
		DecayDecrement:     1,
	}

	run := func(frames int) []uint64 {
		var mu sync.Mutex
		var logged []uint64
		rec := eventlog.RecorderFunc(func(_ context.Context, e eventlog.Entry) error {
			mu.Lock()
			logged = append(logged, e.FrameSeq)
			mu.Unlock()
			return nil
		})

		d := NewDispatcher(context.Background(), DispatcherConfig{})
		d.Register(NewLogChannel(rec), NewModulusGate(60))

		state := safety.NewViolationState(time.Now())
		for f := 1; f <= frames; f++ {
			dec := state.Step(safety.Signals{PersonCount: 1, AnyUnequipped: true}, time.Now(), th)
			if f >= 3 {
				require.True(t, dec.Alert, "frame %d", f)
			}
			if dec.Alert {
				a := equipmentAlert()
				a.FrameSeq = uint64(f)
				d.Dispatch(a, uint64(f))
			}
		}
		d.Wait()
		return logged
	}

	assert.Equal(t, []uint64{60}, run(70))
	assert.Equal(t, []uint64{60, 120}, run(130))
}
