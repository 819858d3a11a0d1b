package emitter

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"sitewatch/internal/pipeline"
)

// Config holds MQTT emitter settings
type Config struct {
	Broker   string // host:port or a full URL such as tcp://host:1883
	ClientID string
	Topic    string // Base topic, verdicts go to {Topic}/{camera_id}/verdict
}

// QoS per message type: verdicts are telemetry, alert frames must arrive
const (
	qosVerdict byte = 0
	qosAlert   byte = 1
)

type publishFunc func(topic string, qos byte, payload []byte) error

// MQTTEmitter publishes verdict events to an MQTT broker
type MQTTEmitter struct {
	cfg     Config
	client  mqtt.Client
	publish publishFunc

	mu        sync.RWMutex
	published map[string]uint64 // count per topic
	errors    uint64
	connected bool
}

// Stats contains emitter statistics
type Stats struct {
	Connected bool              `json:"connected"`
	Published map[string]uint64 `json:"published"`
	Errors    uint64            `json:"errors"`
}

// NewMQTTEmitter creates a new MQTT emitter
func NewMQTTEmitter(cfg Config) *MQTTEmitter {
	if cfg.ClientID == "" {
		cfg.ClientID = "sitewatch"
	}
	if cfg.Topic == "" {
		cfg.Topic = "sitewatch/verdicts"
	}
	cfg.Topic = strings.TrimRight(cfg.Topic, "/")

	return &MQTTEmitter{
		cfg:       cfg,
		published: make(map[string]uint64),
	}
}

// Connect establishes the broker connection; paho reconnects on its own afterwards
func (e *MQTTEmitter) Connect(ctx context.Context) error {
	broker := e.cfg.Broker
	if !strings.Contains(broker, "://") {
		broker = "tcp://" + broker
	}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(broker)
	opts.SetClientID(e.cfg.ClientID)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(2 * time.Second)
	opts.SetMaxReconnectInterval(30 * time.Second)

	opts.OnConnect = func(mqtt.Client) {
		e.setConnected(true)
		log.Printf("[MQTT] Connected to %s as %s", broker, e.cfg.ClientID)
	}
	opts.OnConnectionLost = func(_ mqtt.Client, err error) {
		e.setConnected(false)
		log.Printf("[MQTT] Connection lost, reconnecting: %v", err)
	}

	e.client = mqtt.NewClient(opts)
	e.publish = func(topic string, qos byte, payload []byte) error {
		token := e.client.Publish(topic, qos, false, payload)
		if !token.WaitTimeout(2 * time.Second) {
			return fmt.Errorf("publish timeout")
		}
		return token.Error()
	}

	log.Printf("[MQTT] Connecting to %s", broker)

	token := e.client.Connect()
	select {
	case <-token.Done():
	case <-time.After(5 * time.Second):
		return fmt.Errorf("mqtt connection timeout")
	case <-ctx.Done():
		return ctx.Err()
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("mqtt connection failed: %w", err)
	}

	e.setConnected(true)
	return nil
}

// Run publishes events until ctx is cancelled or events is closed.
// It runs on its own goroutine so a slow broker never stalls frame processing.
func (e *MQTTEmitter) Run(ctx context.Context, events <-chan *pipeline.VerdictEvent) {
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-events:
			if !ok {
				return
			}
			if err := e.Publish(event); err != nil {
				log.Printf("[MQTT] Failed to publish verdict %d: %v", event.FrameSeq, err)
			}
		}
	}
}

// Publish sends one verdict. Alerting verdicts are also sent on the alert topic.
func (e *MQTTEmitter) Publish(event *pipeline.VerdictEvent) error {
	if !e.isConnected() || e.publish == nil {
		e.countError()
		return fmt.Errorf("mqtt not connected")
	}

	payload, err := json.Marshal(event)
	if err != nil {
		e.countError()
		return fmt.Errorf("failed to marshal verdict: %w", err)
	}

	if err := e.send(e.Topic(event.CameraID, "verdict"), qosVerdict, payload); err != nil {
		return err
	}
	if event.Alert {
		return e.send(e.Topic(event.CameraID, "alert"), qosAlert, payload)
	}
	return nil
}

// Topic returns the topic for a camera and message type
func (e *MQTTEmitter) Topic(cameraID, kind string) string {
	return fmt.Sprintf("%s/%s/%s", e.cfg.Topic, cameraID, kind)
}

func (e *MQTTEmitter) send(topic string, qos byte, payload []byte) error {
	if err := e.publish(topic, qos, payload); err != nil {
		e.countError()
		return fmt.Errorf("publish to %s failed: %w", topic, err)
	}

	e.mu.Lock()
	e.published[topic]++
	e.mu.Unlock()
	return nil
}

// Disconnect closes the MQTT connection
func (e *MQTTEmitter) Disconnect() {
	if e.client != nil && e.client.IsConnected() {
		e.client.Disconnect(250)
		log.Printf("[MQTT] Disconnected")
	}
	e.setConnected(false)
}

// Stats returns emitter statistics
func (e *MQTTEmitter) Stats() Stats {
	e.mu.RLock()
	defer e.mu.RUnlock()

	published := make(map[string]uint64, len(e.published))
	for k, v := range e.published {
		published[k] = v
	}

	return Stats{
		Connected: e.connected,
		Published: published,
		Errors:    e.errors,
	}
}

func (e *MQTTEmitter) setConnected(v bool) {
	e.mu.Lock()
	e.connected = v
	e.mu.Unlock()
}

func (e *MQTTEmitter) isConnected() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.connected
}

func (e *MQTTEmitter) countError() {
	e.mu.Lock()
	e.errors++
	e.mu.Unlock()
}
