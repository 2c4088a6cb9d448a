// Package core orchestrates the appliance: capture engine, frame relay,
// broadcast server, state machine and control surface, driven by a single
// main loop.
package core

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ktyurin/survcafe/internal/camera"
	"github.com/ktyurin/survcafe/internal/camera/v4l2"
	"github.com/ktyurin/survcafe/internal/config"
	"github.com/ktyurin/survcafe/internal/control"
	"github.com/ktyurin/survcafe/internal/emitter"
	"github.com/ktyurin/survcafe/internal/netout"
	"github.com/ktyurin/survcafe/internal/relay"
	"github.com/ktyurin/survcafe/internal/stills"
)

// Appliance is the top-level coordinator. The main loop inside Run is the
// only mutator of the state machine and the only consumer of the relay;
// everything else feeds it through thread-safe edges (relay posts, command
// dispatches, parked connections).
type Appliance struct {
	cfg *config.Config

	relay   *relay.Relay
	engine  camera.Engine
	server  *netout.Server
	stills  *stills.Writer
	surface *control.Surface
	emitter *emitter.MQTTEmitter

	mqttSource *control.MQTTSource
	wsSource   *control.WSSource

	sm          *StateMachine
	waitTimeout atomic.Int64 // nanoseconds; hot-reloadable

	// latest is the most recent capture, retained across iterations so
	// CaptureStill always has a frame to save. Main-loop owned.
	latest *camera.Handle

	mu        sync.RWMutex
	started   time.Time
	isRunning bool

	framesSeen    atomic.Uint64
	framesEncoded atomic.Uint64
	stillsSaved   atomic.Uint64

	// loopDone closes when Run returns. Shutdown waits on it so teardown
	// never overlaps a running iteration.
	loopDone chan struct{}

	wg sync.WaitGroup
}

// New builds an appliance from validated configuration. The capture engine
// is hardware-backed when a device path is configured, otherwise the
// synthetic engine drives the same pipeline.
func New(cfg *config.Config) (*Appliance, error) {
	a := &Appliance{
		cfg:      cfg,
		relay:    relay.New(),
		surface:  control.NewSurface(),
		sm:       NewStateMachine(),
		loopDone: make(chan struct{}),
	}
	a.waitTimeout.Store(int64(cfg.WaitTimeout()))

	var err error
	if cfg.Camera.Device != "" {
		a.engine, err = v4l2.New(v4l2.Config{
			Device:      cfg.Camera.Device,
			Width:       cfg.Camera.Width,
			Height:      cfg.Camera.Height,
			FPS:         cfg.Camera.FPS,
			Buffers:     cfg.Camera.Buffers,
			BitrateKbps: cfg.Camera.BitrateKbps,
		}, a.relay)
		if err != nil {
			return nil, fmt.Errorf("core: %w", err)
		}
	} else {
		a.engine = camera.NewMockEngine(camera.MockConfig{
			Width:   cfg.Camera.Width,
			Height:  cfg.Camera.Height,
			FPS:     cfg.Camera.FPS,
			Buffers: cfg.Camera.Buffers,
		}, a.relay)
	}

	a.server, err = netout.New(netout.Config{
		Address:      cfg.Server.Address,
		WriteTimeout: cfg.WriteTimeout(),
	})
	if err != nil {
		return nil, fmt.Errorf("core: %w", err)
	}

	a.stills, err = stills.NewWriter(cfg.Still.OutputDir, cfg.Still.Format, cfg.Still.JPEGQuality)
	if err != nil {
		return nil, fmt.Errorf("core: %w", err)
	}

	if cfg.MQTT.Broker != "" {
		a.emitter = emitter.NewMQTTEmitter(cfg)
	}
	a.wsSource = control.NewWSSource(a.surface)

	return a, nil
}

// Surface exposes the command surface for external sources.
func (a *Appliance) Surface() *control.Surface {
	return a.surface
}

// Run starts everything and blocks in the main loop until ctx is cancelled
// or a fatal startup error occurs. The encoded-output callback hands each
// bitstream chunk straight to the broadcast server from the encoder's
// context; the server's connection set is internally synchronized for
// exactly that reason.
func (a *Appliance) Run(ctx context.Context) error {
	defer close(a.loopDone)

	// Helper goroutines live no longer than the loop itself, so Shutdown's
	// WaitGroup wait terminates even when the caller never cancels ctx.
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	slog.Info("core: starting appliance", "instance_id", a.cfg.InstanceID)

	if err := a.engine.Open(); err != nil {
		return fmt.Errorf("core: failed to open camera: %w", err)
	}
	if err := a.engine.Configure(camera.FlagVideoRaw); err != nil {
		return fmt.Errorf("core: failed to configure camera: %w", err)
	}

	a.engine.RegisterEncodedOutputCallback(func(data []byte, _ time.Time, _ bool) {
		a.server.Broadcast(data)
	})

	if err := a.engine.Start(); err != nil {
		return fmt.Errorf("core: failed to start capture: %w", err)
	}

	if a.emitter != nil {
		if err := a.emitter.Connect(ctx); err != nil {
			// Telemetry is best-effort; the appliance works without a broker.
			slog.Warn("core: mqtt unavailable, continuing without broker", "error", err)
		} else {
			a.mqttSource = control.NewMQTTSource(
				a.emitter.Client,
				a.cfg.MQTT.Topics.Control,
				a.cfg.MQTT.Topics.Acks,
				a.cfg.ControlQoS(),
				a.surface,
			)
			if err := a.mqttSource.Start(); err != nil {
				slog.Warn("core: mqtt control source failed to start", "error", err)
				a.mqttSource = nil
			}
		}
	}

	if a.cfg.Control.Signals {
		control.NewSignalSource(a.surface).Start(ctx)
	}
	if a.cfg.Control.Stdin {
		control.NewReaderSource(os.Stdin, a.surface).Start()
	}
	if a.cfg.HTTP.Port != "" {
		if err := a.StartHealthServer(a.cfg.HTTP.Port); err != nil {
			slog.Warn("core: health server failed to start", "error", err)
		}
	}

	a.mu.Lock()
	a.started = time.Now()
	a.isRunning = true
	a.mu.Unlock()

	// Unblock the relay wait when the context ends.
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		<-ctx.Done()
		a.relay.Close()
	}()

	a.wg.Add(1)
	go a.statsLoop(ctx)

	a.announce()
	slog.Info("core: appliance running",
		"camera", a.cfg.Camera.Device,
		"address", a.cfg.Server.Address,
	)

	for {
		batch, ok := a.relay.Wait()
		if !ok {
			slog.Info("core: relay closed, main loop exiting")
			return nil
		}
		a.iterate(batch)
	}
}

// iterate processes one relay batch: adopt clients, check the wait
// timeout, drain commands, then spend or release each frame according to
// the current state.
func (a *Appliance) iterate(batch []*camera.Handle) {
	if a.server.Pending() {
		if a.server.AcceptPending() > 0 && a.sm.ConnectionAccepted() {
			if err := a.startEncoding(); err != nil {
				slog.Error("core: failed to start encoder, stopping stream", "error", err)
				a.stopStreaming()
			} else {
				slog.Info("core: streaming started", "clients", a.server.ActiveConnections())
				a.announce()
			}
		}
	}

	if a.sm.WaitExpired(time.Now(), time.Duration(a.waitTimeout.Load())) {
		slog.Warn("core: no client within wait window, returning to idle",
			"timeout", time.Duration(a.waitTimeout.Load()).String(),
		)
		a.stopStreaming()
	}

	for more := true; more; {
		select {
		case cmd := <-a.surface.Commands():
			a.execute(cmd)
		default:
			more = false
		}
	}

	streaming := a.sm.State() == StateStreaming
	for _, h := range batch {
		a.framesSeen.Add(1)

		// Keep the freshest frame for stills regardless of state.
		if a.latest != nil {
			a.latest.Release()
		}
		a.latest = h.Retain()

		if streaming {
			if err := a.engine.SubmitForEncoding(h); err != nil {
				slog.Warn("core: frame not encoded", "seq", h.Frame().Seq, "error", err)
			} else {
				a.framesEncoded.Add(1)
			}
		} else {
			h.Release()
		}
	}
}

// execute applies one control command. Unknown values never reach here;
// the sources drop them.
func (a *Appliance) execute(cmd control.Command) {
	switch cmd {
	case control.StartStream:
		if a.sm.State() != StateIdle {
			slog.Debug("core: start ignored, already active", "state", a.sm.State().String())
			return
		}
		if err := a.server.StartListening(); err != nil {
			slog.Error("core: failed to open listening endpoint", "error", err)
			return
		}
		a.sm.StartWaiting(time.Now())
		slog.Info("core: waiting for connection",
			"address", a.cfg.Server.Address,
			"timeout", time.Duration(a.waitTimeout.Load()).String(),
		)
		a.announce()

	case control.StopStream:
		if a.sm.State() == StateIdle {
			slog.Debug("core: stop ignored, already idle")
			return
		}
		a.stopStreaming()

	case control.CaptureStill:
		a.captureStill()
	}
}

// stopStreaming tears the network side down and returns to idle. Capture
// keeps running; only encoding and serving stop.
func (a *Appliance) stopStreaming() {
	if err := a.engine.StopEncoder(); err != nil {
		slog.Warn("core: encoder stop", "error", err)
	}
	if err := a.server.Stop(); err != nil {
		slog.Warn("core: server stop", "error", err)
	}
	if a.sm.StopToIdle() {
		slog.Info("core: back to idle")
		a.announce()
	}
}

func (a *Appliance) startEncoding() error {
	return a.engine.StartEncoder()
}

// captureStill saves the most recent frame. Never touches the state
// machine: stills work identically in every state.
func (a *Appliance) captureStill() {
	if a.latest == nil {
		slog.Warn("core: still requested before first frame, ignoring")
		return
	}
	path, err := a.stills.Save(a.latest.Frame())
	if err != nil {
		slog.Error("core: still capture failed", "error", err)
		return
	}
	a.stillsSaved.Add(1)
	slog.Info("core: still saved", "path", path, "seq", a.latest.Frame().Seq)
}

// announce publishes the current state over MQTT, best-effort.
func (a *Appliance) announce() {
	if a.emitter == nil || !a.emitter.IsConnected() {
		return
	}
	if err := a.emitter.PublishStatus(a.sm.State().String(), a.server.ActiveConnections()); err != nil {
		slog.Debug("core: status publish failed", "error", err)
	}
}

// statsLoop logs periodic throughput counters and publishes health.
func (a *Appliance) statsLoop(ctx context.Context) {
	defer a.wg.Done()

	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			rs := a.relay.Stats()
			ns := a.server.Stats()
			slog.Info("core: stats",
				"state", a.sm.State().String(),
				"frames_seen", a.framesSeen.Load(),
				"frames_encoded", a.framesEncoded.Load(),
				"stills_saved", a.stillsSaved.Load(),
				"relay_posted", rs.Posted,
				"relay_cleared", rs.Cleared,
				"broadcasts", ns.Broadcasts,
				"bytes_out", ns.BytesOut,
				"clients_dropped", ns.Dropped,
				"clients_active", ns.Active,
			)
			a.publishHealth()
		}
	}
}

// ApplyConfig applies a hot-reloaded configuration. Only the wait window
// takes effect live; camera and address changes need a restart.
func (a *Appliance) ApplyConfig(cfg *config.Config) {
	old := time.Duration(a.waitTimeout.Load())
	a.waitTimeout.Store(int64(cfg.WaitTimeout()))
	if old != cfg.WaitTimeout() {
		slog.Info("core: wait timeout updated",
			"old", old.String(),
			"new", cfg.WaitTimeout().String(),
		)
	}
	if cfg.Camera != a.cfg.Camera || cfg.Server.Address != a.cfg.Server.Address {
		slog.Warn("core: camera or address changes require a restart, ignoring")
	}
}

// Shutdown first unblocks the main loop and waits for it to exit, then
// stops everything in dependency order: encoder before server, server
// before capture. The latest-frame handle is main-loop state; touching it
// before the loop has finished its current iteration would race.
func (a *Appliance) Shutdown(ctx context.Context) error {
	slog.Info("core: shutting down appliance")

	a.mu.Lock()
	a.isRunning = false
	a.mu.Unlock()

	a.relay.Close()
	select {
	case <-a.loopDone:
	case <-ctx.Done():
		return fmt.Errorf("core: shutdown timed out waiting for main loop: %w", ctx.Err())
	}

	if err := a.engine.StopEncoder(); err != nil {
		slog.Warn("core: encoder stop during shutdown", "error", err)
	}
	if err := a.server.Stop(); err != nil {
		slog.Warn("core: server stop during shutdown", "error", err)
	}
	if err := a.engine.Stop(); err != nil {
		slog.Warn("core: capture stop during shutdown", "error", err)
	}

	if a.latest != nil {
		a.latest.Release()
		a.latest = nil
	}

	if a.mqttSource != nil {
		if err := a.mqttSource.Stop(); err != nil {
			slog.Warn("core: mqtt control source stop", "error", err)
		}
	}
	if a.emitter != nil {
		a.emitter.Disconnect()
	}

	done := make(chan struct{})
	go func() {
		a.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		slog.Info("core: shutdown complete")
		return nil
	case <-ctx.Done():
		return fmt.Errorf("core: shutdown timed out: %w", ctx.Err())
	}
}
