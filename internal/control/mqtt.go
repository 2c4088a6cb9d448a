package control

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

// wireCommand is the JSON envelope received on the control topic.
type wireCommand struct {
	Command string `json:"command"`
}

// ack is published on the ack topic for every received message.
type ack struct {
	CommandAck string `json:"command_ack"`
	Status     string `json:"status"`
	Error      string `json:"error,omitempty"`
	Timestamp  string `json:"timestamp"`
}

// MQTTSource subscribes to a control topic and feeds parsed commands into
// the surface. The MQTT client is owned by the emitter; this source only
// borrows it.
type MQTTSource struct {
	client   mqtt.Client
	topic    string
	ackTopic string
	qos      byte
	surface  *Surface
}

// NewMQTTSource wires a control subscription onto an existing client.
func NewMQTTSource(client mqtt.Client, topic, ackTopic string, qos byte, surface *Surface) *MQTTSource {
	return &MQTTSource{
		client:   client,
		topic:    topic,
		ackTopic: ackTopic,
		qos:      qos,
		surface:  surface,
	}
}

// Start subscribes to the control topic.
func (m *MQTTSource) Start() error {
	slog.Info("control: subscribing to control topic", "topic", m.topic, "qos", m.qos)

	token := m.client.Subscribe(m.topic, m.qos, m.messageHandler)
	if !token.WaitTimeout(5 * time.Second) {
		return fmt.Errorf("control: subscription timeout for %s", m.topic)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("control: subscription failed: %w", err)
	}
	return nil
}

// Stop unsubscribes. Safe when the client is already disconnected.
func (m *MQTTSource) Stop() error {
	if m.client != nil && m.client.IsConnected() {
		token := m.client.Unsubscribe(m.topic)
		token.Wait()
	}
	return nil
}

func (m *MQTTSource) messageHandler(_ mqtt.Client, msg mqtt.Message) {
	var wc wireCommand
	if err := json.Unmarshal(msg.Payload(), &wc); err != nil {
		slog.Warn("control: unparseable control message, ignoring", "error", err)
		m.sendAck(ack{CommandAck: "unknown", Status: "error", Error: "invalid JSON"})
		return
	}

	cmd, ok := Parse(wc.Command)
	if !ok {
		slog.Warn("control: unknown command, ignoring", "command", wc.Command)
		m.sendAck(ack{CommandAck: wc.Command, Status: "error", Error: "unknown command"})
		return
	}

	slog.Info("control: command received", "source", "mqtt", "command", cmd.String())
	m.surface.Dispatch(cmd)
	m.sendAck(ack{CommandAck: cmd.String(), Status: "accepted"})
}

func (m *MQTTSource) sendAck(a ack) {
	if m.ackTopic == "" {
		return
	}
	a.Timestamp = time.Now().UTC().Format(time.RFC3339)
	payload, err := json.Marshal(a)
	if err != nil {
		return
	}
	token := m.client.Publish(m.ackTopic, m.qos, false, payload)
	if !token.WaitTimeout(2 * time.Second) {
		slog.Debug("control: ack publish timeout", "topic", m.ackTopic)
	}
}
