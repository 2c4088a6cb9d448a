package core

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"
)

// HealthStatus is the readiness snapshot exposed over HTTP and MQTT.
type HealthStatus struct {
	Status        string `json:"status"` // "healthy", "degraded", "unhealthy"
	UptimeSeconds int64  `json:"uptime_seconds"`
	State         string `json:"state"`
	Clients       int    `json:"clients"`
	FramesSeen    uint64 `json:"frames_seen"`
	FramesEncoded uint64 `json:"frames_encoded"`
	StillsSaved   uint64 `json:"stills_saved"`
	MQTTConnected bool   `json:"mqtt_connected"`
}

// HealthCheck assembles the current snapshot.
func (a *Appliance) HealthCheck() HealthStatus {
	a.mu.RLock()
	running := a.isRunning
	started := a.started
	a.mu.RUnlock()

	status := HealthStatus{
		Status:        "healthy",
		State:         a.sm.State().String(),
		Clients:       a.server.ActiveConnections(),
		FramesSeen:    a.framesSeen.Load(),
		FramesEncoded: a.framesEncoded.Load(),
		StillsSaved:   a.stillsSaved.Load(),
	}
	if !started.IsZero() {
		status.UptimeSeconds = int64(time.Since(started).Seconds())
	}
	if a.emitter != nil && a.emitter.IsConnected() {
		status.MQTTConnected = true
	}

	if !running {
		status.Status = "unhealthy"
	} else if a.emitter != nil && !status.MQTTConnected {
		status.Status = "degraded"
	}
	return status
}

// LivenessHandler handles /health: 200 whenever the process is alive.
func (a *Appliance) LivenessHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	a.mu.RLock()
	started := a.started
	a.mu.RUnlock()

	response := map[string]interface{}{
		"status": "alive",
		"uptime": int64(time.Since(started).Seconds()),
	}
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(response)
}

// ReadinessHandler handles /readiness: full snapshot, 503 when unhealthy.
func (a *Appliance) ReadinessHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	health := a.HealthCheck()
	statusCode := http.StatusOK
	if health.Status == "unhealthy" {
		statusCode = http.StatusServiceUnavailable
	}
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(health)
}

// MetricsHandler handles /metrics in plain expfmt-style text.
func (a *Appliance) MetricsHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	w.WriteHeader(http.StatusOK)

	id := a.cfg.InstanceID
	ns := a.server.Stats()
	fmt.Fprintf(w, "survcafe_frames_seen{instance=%q} %d\n", id, a.framesSeen.Load())
	fmt.Fprintf(w, "survcafe_frames_encoded{instance=%q} %d\n", id, a.framesEncoded.Load())
	fmt.Fprintf(w, "survcafe_stills_saved{instance=%q} %d\n", id, a.stillsSaved.Load())
	fmt.Fprintf(w, "survcafe_broadcasts{instance=%q} %d\n", id, ns.Broadcasts)
	fmt.Fprintf(w, "survcafe_bytes_out{instance=%q} %d\n", id, ns.BytesOut)
	fmt.Fprintf(w, "survcafe_clients_active{instance=%q} %d\n", id, ns.Active)
	fmt.Fprintf(w, "survcafe_clients_dropped{instance=%q} %d\n", id, ns.Dropped)
}

// publishHealth pushes the readiness snapshot to the health topic.
func (a *Appliance) publishHealth() {
	if a.emitter == nil || !a.emitter.IsConnected() {
		return
	}
	payload, err := json.Marshal(a.HealthCheck())
	if err != nil {
		return
	}
	if err := a.emitter.PublishHealth(payload); err != nil {
		slog.Debug("core: health publish failed", "error", err)
	}
}

// StartHealthServer mounts the health endpoints and the WebSocket control
// surface, then serves in the background.
func (a *Appliance) StartHealthServer(port string) error {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", a.LivenessHandler)
	mux.HandleFunc("/readiness", a.ReadinessHandler)
	mux.HandleFunc("/metrics", a.MetricsHandler)
	mux.HandleFunc("/control", a.wsSource.Handler())

	server := &http.Server{
		Addr:         ":" + port,
		Handler:      mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 5 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	slog.Info("core: starting health server",
		"port", port,
		"endpoints", []string{"/health", "/readiness", "/metrics", "/control"},
	)

	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("core: health server failed", "error", err)
		}
	}()
	return nil
}
