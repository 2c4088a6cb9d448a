// Package emitter owns the MQTT client and publishes appliance status and
// health. The control source borrows the same client for its subscription.
package emitter

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/ktyurin/survcafe/internal/config"
)

// StatusMessage announces a server state transition.
type StatusMessage struct {
	InstanceID string `json:"instance_id"`
	State      string `json:"state"`
	Clients    int    `json:"clients"`
	Timestamp  string `json:"timestamp"`
}

// MQTTEmitter publishes appliance telemetry to the broker.
type MQTTEmitter struct {
	cfg    *config.Config
	Client mqtt.Client // exported for the control source

	mu        sync.RWMutex
	connected bool
	published uint64
	errors    uint64
}

// NewMQTTEmitter creates an unconnected emitter.
func NewMQTTEmitter(cfg *config.Config) *MQTTEmitter {
	return &MQTTEmitter{cfg: cfg}
}

// Connect establishes the broker connection with automatic reconnect.
func (e *MQTTEmitter) Connect(ctx context.Context) error {
	broker := e.cfg.MQTT.Broker
	if !strings.Contains(broker, "://") {
		broker = fmt.Sprintf("tcp://%s", broker)
	}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(broker)
	opts.SetClientID(e.cfg.InstanceID)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(2 * time.Second)
	opts.SetMaxReconnectInterval(30 * time.Second)

	opts.OnConnect = func(c mqtt.Client) {
		e.mu.Lock()
		e.connected = true
		e.mu.Unlock()
		slog.Info("emitter: mqtt connection established",
			"broker", e.cfg.MQTT.Broker,
			"client_id", e.cfg.InstanceID,
		)
	}
	opts.OnConnectionLost = func(c mqtt.Client, err error) {
		e.mu.Lock()
		e.connected = false
		e.mu.Unlock()
		slog.Warn("emitter: mqtt connection lost, will auto-reconnect",
			"error", err,
			"broker", e.cfg.MQTT.Broker,
		)
	}

	e.Client = mqtt.NewClient(opts)

	slog.Info("emitter: connecting to mqtt broker", "broker", e.cfg.MQTT.Broker)

	token := e.Client.Connect()
	if !token.WaitTimeout(5 * time.Second) {
		return fmt.Errorf("emitter: mqtt connection timeout")
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("emitter: mqtt connection failed: %w", err)
	}

	e.mu.Lock()
	e.connected = true
	e.mu.Unlock()
	return nil
}

// PublishStatus announces a state transition on the status topic.
func (e *MQTTEmitter) PublishStatus(state string, clients int) error {
	msg := StatusMessage{
		InstanceID: e.cfg.InstanceID,
		State:      state,
		Clients:    clients,
		Timestamp:  time.Now().UTC().Format(time.RFC3339),
	}
	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("emitter: failed to marshal status: %w", err)
	}
	return e.publish(e.cfg.MQTT.Topics.Status, e.qosFor("status"), payload)
}

// PublishHealth publishes a health snapshot payload.
func (e *MQTTEmitter) PublishHealth(payload []byte) error {
	return e.publish(e.cfg.MQTT.Topics.Health, e.qosFor("health"), payload)
}

func (e *MQTTEmitter) publish(topic string, qos byte, payload []byte) error {
	if !e.IsConnected() {
		e.mu.Lock()
		e.errors++
		e.mu.Unlock()
		return fmt.Errorf("emitter: mqtt not connected")
	}

	token := e.Client.Publish(topic, qos, false, payload)
	if !token.WaitTimeout(2 * time.Second) {
		e.mu.Lock()
		e.errors++
		e.mu.Unlock()
		return fmt.Errorf("emitter: publish timeout")
	}
	if err := token.Error(); err != nil {
		e.mu.Lock()
		e.errors++
		e.mu.Unlock()
		return fmt.Errorf("emitter: publish failed: %w", err)
	}

	e.mu.Lock()
	e.published++
	e.mu.Unlock()

	slog.Debug("emitter: published", "topic", topic, "size", len(payload))
	return nil
}

// Disconnect closes the connection with a short grace period.
func (e *MQTTEmitter) Disconnect() error {
	if e.Client != nil && e.Client.IsConnected() {
		e.Client.Disconnect(250)
		slog.Info("emitter: mqtt disconnected")
	}
	e.mu.Lock()
	e.connected = false
	e.mu.Unlock()
	return nil
}

// IsConnected reports connection status.
func (e *MQTTEmitter) IsConnected() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.connected
}

func (e *MQTTEmitter) qosFor(kind string) byte {
	if q, ok := e.cfg.MQTT.QoS[kind]; ok {
		return q
	}
	return 0
}
