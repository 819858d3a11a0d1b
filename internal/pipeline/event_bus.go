package pipeline

import (
	"sync"
)

// EventBus provides pub/sub for verdict events
// Subscribers receive one event per processed frame
type EventBus struct {
	subscribers map[*eventSubscription]bool
	mu          sync.RWMutex
}

type eventSubscription struct {
	cameraFilter string // Empty string means receive all cameras
	channel      chan *VerdictEvent
	handler      VerdictHandler
}

// NewEventBus creates a new event bus
func NewEventBus() *EventBus {
	return &EventBus{
		subscribers: make(map[*eventSubscription]bool),
	}
}

// Subscribe registers a handler for verdicts from all cameras
// Handlers run on the publishing goroutine and must not block
// Returns an unsubscribe function
func (b *EventBus) Subscribe(handler VerdictHandler) func() {
	sub := &eventSubscription{
		handler: handler,
	}

	b.mu.Lock()
	b.subscribers[sub] = true
	b.mu.Unlock()

	return func() {
		b.mu.Lock()
		delete(b.subscribers, sub)
		b.mu.Unlock()
	}
}

// SubscribeChannel returns a channel that receives verdicts
// The channel has the specified buffer size; events are dropped when it is full
// Returns the channel and an unsubscribe function
func (b *EventBus) SubscribeChannel(bufferSize int) (<-chan *VerdictEvent, func()) {
	return b.SubscribeCameraChannel("", bufferSize)
}

// SubscribeCameraChannel returns a channel that receives verdicts for a specific camera
func (b *EventBus) SubscribeCameraChannel(cameraID string, bufferSize int) (<-chan *VerdictEvent, func()) {
	if bufferSize <= 0 {
		bufferSize = 10
	}

	ch := make(chan *VerdictEvent, bufferSize)
	sub := &eventSubscription{
		cameraFilter: cameraID,
		channel:      ch,
	}

	b.mu.Lock()
	b.subscribers[sub] = true
	b.mu.Unlock()

	unsubscribe := func() {
		b.mu.Lock()
		if _, ok := b.subscribers[sub]; ok {
			delete(b.subscribers, sub)
			close(ch)
		}
		b.mu.Unlock()
	}

	return ch, unsubscribe
}

// Publish sends a verdict to all subscribers
func (b *EventBus) Publish(event *VerdictEvent) {
	if event == nil {
		return
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	for sub := range b.subscribers {
		if sub.cameraFilter != "" && sub.cameraFilter != event.CameraID {
			continue
		}

		// Handlers are called synchronously to preserve frame ordering.
		if sub.handler != nil {
			sub.handler.OnVerdict(event)
		} else if sub.channel != nil {
			select {
			case sub.channel <- event:
			default:
				// Channel full, skip this event
			}
		}
	}
}

// SubscriberCount returns the number of active subscribers
func (b *EventBus) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}

// Close unsubscribes all subscribers and closes channels
func (b *EventBus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	for sub := range b.subscribers {
		if sub.channel != nil {
			close(sub.channel)
		}
		delete(b.subscribers, sub)
	}
}
