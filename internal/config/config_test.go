package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "survcafe.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("Failed to write test config: %v", err)
	}
	return path
}

func TestLoadValidConfig(t *testing.T) {
	path := writeConfig(t, `
instance_id: cam-01
server:
  address: tcp://0.0.0.0:9000
  wait_timeout_s: 30
camera:
  device: /dev/video2
  width: 1280
  height: 720
  fps: 25
mqtt:
  broker: tcp://localhost:1883
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.InstanceID != "cam-01" {
		t.Errorf("InstanceID = %q, want cam-01", cfg.InstanceID)
	}
	if cfg.Server.Address != "tcp://0.0.0.0:9000" {
		t.Errorf("Server.Address = %q", cfg.Server.Address)
	}
	if cfg.WaitTimeout() != 30*time.Second {
		t.Errorf("WaitTimeout = %v, want 30s", cfg.WaitTimeout())
	}
	if cfg.Camera.Width != 1280 || cfg.Camera.Height != 720 {
		t.Errorf("Camera resolution = %dx%d", cfg.Camera.Width, cfg.Camera.Height)
	}
	if cfg.MQTT.Topics.Control != "survcafe/control/cam-01" {
		t.Errorf("Default control topic = %q", cfg.MQTT.Topics.Control)
	}
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeConfig(t, "instance_id: cam-02\n")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Server.Address != "tcp://0.0.0.0:8554" {
		t.Errorf("Default address = %q", cfg.Server.Address)
	}
	if cfg.Server.WaitTimeoutS != 600 {
		t.Errorf("Default wait timeout = %d, want 600", cfg.Server.WaitTimeoutS)
	}
	if cfg.WriteTimeout() != 5*time.Second {
		t.Errorf("Default write timeout = %v, want 5s", cfg.WriteTimeout())
	}
	if cfg.Camera.Width != 640 || cfg.Camera.Height != 480 || cfg.Camera.FPS != 30 {
		t.Errorf("Camera defaults = %dx%d@%d", cfg.Camera.Width, cfg.Camera.Height, cfg.Camera.FPS)
	}
	if cfg.Still.Format != "jpeg" || cfg.Still.JPEGQuality != 85 {
		t.Errorf("Still defaults = %s/%d", cfg.Still.Format, cfg.Still.JPEGQuality)
	}
	if cfg.ShutdownTimeout() != 5*time.Second {
		t.Errorf("Default shutdown timeout = %v", cfg.ShutdownTimeout())
	}
	if cfg.ControlQoS() != 1 {
		t.Errorf("Default control QoS = %d", cfg.ControlQoS())
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Error("Expected error for missing file")
	}
}

func TestLoadMalformedYAML(t *testing.T) {
	path := writeConfig(t, "instance_id: [unclosed\n")
	if _, err := Load(path); err == nil {
		t.Error("Expected error for malformed YAML")
	}
}

func TestValidateErrors(t *testing.T) {
	tests := []struct {
		name string
		cfg  Config
	}{
		{
			name: "missing instance id",
			cfg:  Config{},
		},
		{
			name: "uppercase instance id",
			cfg:  Config{InstanceID: "Cam01"},
		},
		{
			name: "bad server scheme",
			cfg: Config{
				InstanceID: "cam-01",
				Server:     ServerConfig{Address: "udp://0.0.0.0:8554"},
			},
		},
		{
			name: "negative wait timeout",
			cfg: Config{
				InstanceID: "cam-01",
				Server:     ServerConfig{WaitTimeoutS: -1},
			},
		},
		{
			name: "fps above ceiling",
			cfg: Config{
				InstanceID: "cam-01",
				Camera:     CameraConfig{FPS: 240},
			},
		},
		{
			name: "unsupported still format",
			cfg: Config{
				InstanceID: "cam-01",
				Still:      StillConfig{Format: "bmp"},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := Validate(&tt.cfg); err == nil {
				t.Error("Expected validation error")
			}
		})
	}
}

func TestValidateEmptyDeviceSelectsMock(t *testing.T) {
	cfg := Config{InstanceID: "cam-01"}
	if err := Validate(&cfg); err != nil {
		t.Fatalf("Validate failed: %v", err)
	}
	if cfg.Camera.Device != "" {
		t.Errorf("Empty device should survive validation, got %q", cfg.Camera.Device)
	}
}
