package alert

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"
)

// Observer receives dispatcher events, typically for metrics
type Observer interface {
	AlertDispatched(channel string, kind Kind)
	AlertSuppressed(channel string, reason string)
	ChannelCompleted(channel string, elapsed time.Duration, err error)
}

// Suppression reasons reported to the Observer
const (
	SuppressedBusy      = "busy"
	SuppressedThrottled = "throttled"
)

// DispatcherConfig holds dispatcher settings
type DispatcherConfig struct {
	Timeout  time.Duration    // Deadline for one channel delivery
	Observer Observer         // Optional metrics hook
	Now      func() time.Time // Clock, overridable in tests
}

// ChannelStatus is a snapshot of one channel's dispatch history
type ChannelStatus struct {
	Name      string    `json:"name"`
	Throttle  string    `json:"throttle"`
	LastFired time.Time `json:"last_fired"`
	Fired     uint64    `json:"fired"`
	Failed    uint64    `json:"failed"`
	InFlight  int       `json:"in_flight"`
}

type route struct {
	channel Channel
	gate    *Gate
	status  ChannelStatus
}

// Dispatcher fans alerts out to channels without blocking the caller.
// Dispatch must be called from a single goroutine; deliveries run on their own.
type Dispatcher struct {
	ctx      context.Context
	routes   []*route
	timeout  time.Duration
	observer Observer
	now      func() time.Time
	wg       sync.WaitGroup
	mu       sync.RWMutex // guards route status
}

// NewDispatcher creates a dispatcher whose deliveries derive from ctx
func NewDispatcher(ctx context.Context, cfg DispatcherConfig) *Dispatcher {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Dispatcher{
		ctx:      ctx,
		timeout:  cfg.Timeout,
		observer: cfg.Observer,
		now:      cfg.Now,
	}
}

// Register adds a channel with its own gate. Channels are independent:
// one channel's gate never affects another.
func (d *Dispatcher) Register(ch Channel, gate *Gate) {
	if ch == nil || gate == nil {
		return
	}
	d.routes = append(d.routes, &route{
		channel: ch,
		gate:    gate,
		status: ChannelStatus{
			Name:     ch.Name(),
			Throttle: gate.Describe(),
		},
	})
	log.Printf("[Dispatcher] Registered channel %s (%s)", ch.Name(), gate.Describe())
}

// Dispatch offers the alert to every channel that handles its kind.
// frame is the number of frames processed so far in the session.
// It returns the names of channels that fired.
func (d *Dispatcher) Dispatch(a Alert, frame uint64) []string {
	now := d.now()
	var fired []string

	for _, r := range d.routes {
		name := r.channel.Name()
		if !r.channel.Handles(a.Kind) {
			continue
		}

		// A busy channel is skipped without touching its gate
		excl, exclusive := r.channel.(Exclusive)
		if exclusive && !excl.TryAcquire() {
			d.suppressed(name, SuppressedBusy)
			continue
		}

		if !r.gate.Allow(now, frame) {
			if exclusive {
				excl.Release()
			}
			d.suppressed(name, SuppressedThrottled)
			continue
		}

		d.mu.Lock()
		r.status.LastFired = now
		r.status.Fired++
		r.status.InFlight++
		d.mu.Unlock()

		if d.observer != nil {
			d.observer.AlertDispatched(name, a.Kind)
		}

		fired = append(fired, name)
		d.spawn(r, a, excl)
	}

	return fired
}

// Go runs fn as a tracked fire-and-forget task attributed to channel
func (d *Dispatcher) Go(channel string, fn func(ctx context.Context) error) {
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()

		start := time.Now()
		err := d.run(channel, fn)
		if err != nil {
			log.Printf("[Dispatcher] %v", err)
		}
		if d.observer != nil {
			d.observer.ChannelCompleted(channel, time.Since(start), err)
		}
	}()
}

// Wait blocks until every in-flight delivery has returned
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}

// WaitTimeout waits for deliveries up to timeout and reports whether all finished
func (d *Dispatcher) WaitTimeout(timeout time.Duration) bool {
	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return true
	case <-time.After(timeout):
		return false
	}
}

// Status returns a snapshot of every channel
func (d *Dispatcher) Status() []ChannelStatus {
	d.mu.RLock()
	defer d.mu.RUnlock()

	out := make([]ChannelStatus, 0, len(d.routes))
	for _, r := range d.routes {
		out = append(out, r.status)
	}
	return out
}

func (d *Dispatcher) spawn(r *route, a Alert, excl Exclusive) {
	name := r.channel.Name()
	d.Go(name, func(ctx context.Context) error {
		defer func() {
			if excl != nil {
				excl.Release()
			}
			d.mu.Lock()
			r.status.InFlight--
			d.mu.Unlock()
		}()

		err := r.channel.Notify(ctx, a)
		if err != nil {
			d.mu.Lock()
			r.status.Failed++
			d.mu.Unlock()
		}
		return err
	})
}

// run executes fn with a deadline, converting errors and panics into *ChannelError
func (d *Dispatcher) run(channel string, fn func(ctx context.Context) error) (err error) {
	ctx, cancel := context.WithTimeout(d.ctx, d.timeout)
	defer cancel()

	defer func() {
		if rec := recover(); rec != nil {
			err = &ChannelError{Channel: channel, Err: fmt.Errorf("panic: %v", rec)}
		}
	}()

	if err := fn(ctx); err != nil {
		var chErr *ChannelError
		if errors.As(err, &chErr) {
			return err
		}
		return &ChannelError{Channel: channel, Err: err}
	}
	return nil
}

func (d *Dispatcher) suppressed(channel, reason string) {
	if d.observer != nil {
		d.observer.AlertSuppressed(channel, reason)
	}
}
