package emitter

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sitewatch/internal/pipeline"
)

type message struct {
	topic   string
	qos     byte
	payload []byte
}

type recorder struct {
	mu   sync.Mutex
	msgs []message
	err  error
}

func (r *recorder) publish(topic string, qos byte, payload []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.msgs = append(r.msgs, message{topic, qos, payload})
	return nil
}

func (r *recorder) messages() []message {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]message(nil), r.msgs...)
}

func connected(cfg Config) (*MQTTEmitter, *recorder) {
	rec := &recorder{}
	e := NewMQTTEmitter(cfg)
	e.publish = rec.publish
	e.setConnected(true)
	return e, rec
}

func TestPublish_VerdictTopic(t *testing.T) {
	e, rec := connected(Config{Topic: "site/verdicts/"})

	require.NoError(t, e.Publish(&pipeline.VerdictEvent{CameraID: "yard", FrameSeq: 9, Phase: "warning"}))

	got := rec.messages()
	require.Len(t, got, 1)
	assert.Equal(t, "site/verdicts/yard/verdict", got[0].topic)
	assert.Equal(t, byte(0), got[0].qos)

	var decoded pipeline.VerdictEvent
	require.NoError(t, json.Unmarshal(got[0].payload, &decoded))
	assert.Equal(t, uint64(9), decoded.FrameSeq)
}

func TestPublish_AlertAlsoOnAlertTopic(t *testing.T) {
	e, rec := connected(Config{})

	require.NoError(t, e.Publish(&pipeline.VerdictEvent{CameraID: "yard", Alert: true}))

	got := rec.messages()
	require.Len(t, got, 2)
	assert.Equal(t, "sitewatch/verdicts/yard/alert", got[1].topic)
	assert.Equal(t, byte(1), got[1].qos)
	assert.Equal(t, map[string]uint64{
		"sitewatch/verdicts/yard/verdict": 1,
		"sitewatch/verdicts/yard/alert":   1,
	}, e.Stats().Published)
}

func TestPublish_Errors(t *testing.T) {
	e := NewMQTTEmitter(Config{})
	assert.EqualError(t, e.Publish(&pipeline.VerdictEvent{}), "mqtt not connected")

	e, rec := connected(Config{})
	rec.err = errors.New("broker gone")
	err := e.Publish(&pipeline.VerdictEvent{CameraID: "yard"})
	assert.EqualError(t, err, "publish to sitewatch/verdicts/yard/verdict failed: broker gone")
	assert.Equal(t, uint64(1), e.Stats().Errors)
}

func TestRun_DrainsBusSubscription(t *testing.T) {
	e, rec := connected(Config{})
	bus := pipeline.NewEventBus()
	events, unsubscribe := bus.SubscribeChannel(8)
	defer unsubscribe()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		e.Run(ctx, events)
		close(done)
	}()

	for seq := uint64(1); seq <= 3; seq++ {
		bus.Publish(&pipeline.VerdictEvent{CameraID: "yard", FrameSeq: seq})
	}
	require.Eventually(t, func() bool { return len(rec.messages()) == 3 }, time.Second, 5*time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
