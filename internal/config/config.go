package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the complete survcafe configuration.
type Config struct {
	InstanceID       string        `yaml:"instance_id"`
	ShutdownTimeoutS int           `yaml:"shutdown_timeout_s"` // graceful shutdown bound (default: 5)
	Server           ServerConfig  `yaml:"server"`
	Camera           CameraConfig  `yaml:"camera"`
	Still            StillConfig   `yaml:"still"`
	MQTT             MQTTConfig    `yaml:"mqtt"`
	HTTP             HTTPConfig    `yaml:"http"`
	Control          ControlConfig `yaml:"control"`
}

// ServerConfig configures the broadcast endpoint.
type ServerConfig struct {
	Address        string `yaml:"address"`          // tcp://host:port; empty port binds ephemerally
	WaitTimeoutS   int    `yaml:"wait_timeout_s"`   // max wait for a first client (default: 600)
	WriteTimeoutMS int    `yaml:"write_timeout_ms"` // per-client write bound (default: 5000)
}

// CameraConfig configures the capture engine.
type CameraConfig struct {
	Device      string `yaml:"device"` // v4l2 device path; empty selects the mock engine
	Width       int    `yaml:"width"`
	Height      int    `yaml:"height"`
	FPS         int    `yaml:"fps"`
	Buffers     int    `yaml:"buffers"`      // capture buffer pool depth
	BitrateKbps int    `yaml:"bitrate_kbps"` // encoder target bitrate
}

// StillConfig configures single-image capture.
type StillConfig struct {
	OutputDir   string `yaml:"output_dir"`
	Format      string `yaml:"format"` // png or jpeg
	JPEGQuality int    `yaml:"jpeg_quality"`
}

// MQTTConfig contains broker settings. An empty broker disables the MQTT
// control source and status emitter.
type MQTTConfig struct {
	Broker string          `yaml:"broker"`
	Topics MQTTTopics      `yaml:"topics"`
	QoS    map[string]byte `yaml:"qos"`
}

// MQTTTopics contains topic names.
type MQTTTopics struct {
	Control string `yaml:"control"`
	Acks    string `yaml:"acks"`
	Status  string `yaml:"status"`
	Health  string `yaml:"health"`
}

// HTTPConfig configures the health/control HTTP surface.
type HTTPConfig struct {
	Port string `yaml:"port"`
}

// ControlConfig toggles the local command sources.
type ControlConfig struct {
	Signals bool `yaml:"signals"`
	Stdin   bool `yaml:"stdin"`
}

// Load reads and parses a YAML configuration file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// WaitTimeout is the wait-for-connection window.
func (c *Config) WaitTimeout() time.Duration {
	return time.Duration(c.Server.WaitTimeoutS) * time.Second
}

// WriteTimeout bounds one client write inside a broadcast.
func (c *Config) WriteTimeout() time.Duration {
	return time.Duration(c.Server.WriteTimeoutMS) * time.Millisecond
}

// ShutdownTimeout bounds graceful shutdown.
func (c *Config) ShutdownTimeout() time.Duration {
	if c.ShutdownTimeoutS == 0 {
		return 5 * time.Second
	}
	return time.Duration(c.ShutdownTimeoutS) * time.Second
}

// ControlQoS returns the QoS level for the control topic.
func (c *Config) ControlQoS() byte {
	if q, ok := c.MQTT.QoS["control"]; ok {
		return q
	}
	return 1
}
