package config

import (
	"fmt"
	"regexp"

	"github.com/ktyurin/survcafe/internal/netout"
)

var instanceIDPattern = regexp.MustCompile(`^[a-z0-9\-]+$`)

// Validate checks the configuration and fills in defaults. Configuration
// errors are fatal at startup and never retried.
func Validate(cfg *Config) error {
	if cfg.InstanceID == "" {
		return fmt.Errorf("instance_id is required")
	}
	if !instanceIDPattern.MatchString(cfg.InstanceID) {
		return fmt.Errorf("instance_id must match pattern [a-z0-9-]+")
	}

	// Server endpoint: address must parse and use the tcp scheme.
	if cfg.Server.Address == "" {
		cfg.Server.Address = "tcp://0.0.0.0:8554"
	}
	if _, err := netout.ParseAddress(cfg.Server.Address); err != nil {
		return fmt.Errorf("server.address: %w", err)
	}
	if cfg.Server.WaitTimeoutS == 0 {
		cfg.Server.WaitTimeoutS = 600
	}
	if cfg.Server.WaitTimeoutS < 0 {
		return fmt.Errorf("server.wait_timeout_s must be >= 0")
	}
	if cfg.Server.WriteTimeoutMS == 0 {
		cfg.Server.WriteTimeoutMS = 5000
	}
	if cfg.Server.WriteTimeoutMS < 0 {
		return fmt.Errorf("server.write_timeout_ms must be >= 0")
	}

	// Camera defaults; an empty device is valid and selects the mock engine.
	if cfg.Camera.Width <= 0 {
		cfg.Camera.Width = 640
	}
	if cfg.Camera.Height <= 0 {
		cfg.Camera.Height = 480
	}
	if cfg.Camera.FPS <= 0 {
		cfg.Camera.FPS = 30
	}
	if cfg.Camera.FPS > 120 {
		return fmt.Errorf("camera.fps must be <= 120")
	}
	if cfg.Camera.Buffers <= 0 {
		cfg.Camera.Buffers = 8
	}
	if cfg.Camera.BitrateKbps <= 0 {
		cfg.Camera.BitrateKbps = 2000
	}

	// Still capture defaults.
	if cfg.Still.OutputDir == "" {
		cfg.Still.OutputDir = "stills"
	}
	if cfg.Still.Format == "" {
		cfg.Still.Format = "jpeg"
	}
	if cfg.Still.Format != "jpeg" && cfg.Still.Format != "png" {
		return fmt.Errorf("still.format must be jpeg or png, got %q", cfg.Still.Format)
	}
	if cfg.Still.JPEGQuality == 0 {
		cfg.Still.JPEGQuality = 85
	}

	if cfg.HTTP.Port == "" {
		cfg.HTTP.Port = "8080"
	}

	// MQTT is optional; topics default from the instance id when a broker
	// is configured.
	if cfg.MQTT.Broker != "" {
		if cfg.MQTT.Topics.Control == "" {
			cfg.MQTT.Topics.Control = fmt.Sprintf("survcafe/control/%s", cfg.InstanceID)
		}
		if cfg.MQTT.Topics.Acks == "" {
			cfg.MQTT.Topics.Acks = fmt.Sprintf("survcafe/acks/%s", cfg.InstanceID)
		}
		if cfg.MQTT.Topics.Status == "" {
			cfg.MQTT.Topics.Status = fmt.Sprintf("survcafe/status/%s", cfg.InstanceID)
		}
		if cfg.MQTT.Topics.Health == "" {
			cfg.MQTT.Topics.Health = fmt.Sprintf("survcafe/health/%s", cfg.InstanceID)
		}
		if cfg.MQTT.QoS == nil {
			cfg.MQTT.QoS = map[string]byte{
				"control": 1,
				"status":  1,
				"health":  0,
			}
		}
	}

	return nil
}
