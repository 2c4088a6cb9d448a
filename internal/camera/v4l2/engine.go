// Package v4l2 is the hardware capture engine: a GStreamer v4l2 capture
// pipeline posting completed frames to the relay, and a separate H.264
// encode pipeline fed on demand.
package v4l2

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/tinyzimmer/go-gst/gst"
	"github.com/tinyzimmer/go-gst/gst/app"

	"github.com/ktyurin/survcafe/internal/camera"
)

// Config for the v4l2 engine.
type Config struct {
	Device      string // e.g. /dev/video0
	Width       int
	Height      int
	FPS         int
	Buffers     int
	BitrateKbps int
}

// Engine implements camera.Engine on top of GStreamer.
type Engine struct {
	cfg  Config
	sink camera.Sink
	pool *camera.BufferPool

	mu        sync.Mutex
	opened    bool
	started   bool
	encoderOn bool
	outputFn  camera.EncodedOutputFunc
	seq       uint64
	lastStamp time.Time
	dropped   uint64

	capture *capturePipeline
	encode  *encodePipeline

	stopBus chan struct{}
	busWG   sync.WaitGroup

	encStopBus chan struct{}
	encBusWG   sync.WaitGroup
}

// New creates an engine posting completed frames to sink. Fail-fast
// validation; GStreamer elements are not touched until Open.
func New(cfg Config, sink camera.Sink) (*Engine, error) {
	if cfg.Device == "" {
		return nil, fmt.Errorf("v4l2: device path is required")
	}
	if cfg.Width <= 0 || cfg.Height <= 0 {
		return nil, fmt.Errorf("v4l2: invalid resolution %dx%d", cfg.Width, cfg.Height)
	}
	if cfg.FPS <= 0 || cfg.FPS > 120 {
		return nil, fmt.Errorf("v4l2: invalid FPS %d (must be 1-120)", cfg.FPS)
	}
	if cfg.Buffers <= 0 {
		cfg.Buffers = 8
	}
	if cfg.BitrateKbps <= 0 {
		cfg.BitrateKbps = 2000
	}
	return &Engine{cfg: cfg, sink: sink}, nil
}

func (e *Engine) Open() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.opened {
		return fmt.Errorf("v4l2: engine already open")
	}

	gst.Init(nil)
	e.opened = true

	slog.Info("v4l2: engine opened",
		"device", e.cfg.Device,
		"resolution", fmt.Sprintf("%dx%d", e.cfg.Width, e.cfg.Height),
		"fps", e.cfg.FPS,
	)
	return nil
}

func (e *Engine) Configure(flags camera.ConfigFlags) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.opened {
		return fmt.Errorf("v4l2: engine not open")
	}

	capturePipe, err := newCapturePipeline(e.cfg.Device, e.cfg.Width, e.cfg.Height, e.cfg.FPS)
	if err != nil {
		return fmt.Errorf("v4l2: %w", err)
	}
	encodePipe, err := newEncodePipeline(e.cfg.Width, e.cfg.Height, e.cfg.FPS, e.cfg.BitrateKbps)
	if err != nil {
		return fmt.Errorf("v4l2: %w", err)
	}

	e.capture = capturePipe
	e.encode = encodePipe
	e.pool = camera.NewBufferPool(e.cfg.Buffers, e.cfg.Width*e.cfg.Height*3)

	e.capture.sink.SetCallbacks(&app.SinkCallbacks{
		NewSampleFunc: e.onCaptureSample,
	})
	e.encode.sink.SetCallbacks(&app.SinkCallbacks{
		NewSampleFunc: e.onEncodedSample,
	})

	slog.Info("v4l2: pipelines configured", "flags", flags)
	return nil
}

// onCaptureSample runs on the capture pipeline's streaming thread. It
// copies the sample into a pool buffer and posts a handle to the relay;
// when the pool is exhausted the frame is dropped so a slow consumer
// never stalls the hardware.
func (e *Engine) onCaptureSample(sink *app.Sink) gst.FlowReturn {
	sample := sink.PullSample()
	if sample == nil {
		slog.Warn("v4l2: failed to pull capture sample, skipping frame")
		return gst.FlowOK
	}
	buffer := sample.GetBuffer()
	if buffer == nil {
		slog.Warn("v4l2: capture sample without buffer, skipping frame")
		return gst.FlowOK
	}

	mapInfo := buffer.Map(gst.MapRead)
	data := mapInfo.Bytes()
	if len(data) == 0 {
		buffer.Unmap()
		slog.Warn("v4l2: empty capture buffer")
		return gst.FlowOK
	}

	buf, ok := e.pool.Acquire()
	if !ok {
		buffer.Unmap()
		e.mu.Lock()
		e.dropped++
		e.mu.Unlock()
		slog.Debug("v4l2: frame dropped, no free buffers")
		return gst.FlowOK
	}
	n := copy(buf, data)
	buffer.Unmap()

	now := time.Now()
	e.mu.Lock()
	e.seq++
	seq := e.seq
	var framerate float64
	if !e.lastStamp.IsZero() && now.After(e.lastStamp) {
		framerate = float64(time.Second) / float64(now.Sub(e.lastStamp))
	}
	e.lastStamp = now
	e.mu.Unlock()

	frame := &camera.Frame{
		Seq:       seq,
		Timestamp: now,
		Framerate: framerate,
		Width:     e.cfg.Width,
		Height:    e.cfg.Height,
		Stride:    e.cfg.Width * 3,
		Planes:    map[string][]byte{camera.StreamVideo: buf[:n]},
		TraceID:   uuid.New().String(),
	}

	pool := e.pool
	e.sink.Post(camera.NewHandle(frame, func(f *camera.Frame) {
		pool.Recycle(buf)
	}))
	return gst.FlowOK
}

// onEncodedSample runs on the encode pipeline's streaming thread and
// hands each bitstream chunk to the registered output callback.
func (e *Engine) onEncodedSample(sink *app.Sink) gst.FlowReturn {
	sample := sink.PullSample()
	if sample == nil {
		return gst.FlowOK
	}
	buffer := sample.GetBuffer()
	if buffer == nil {
		return gst.FlowOK
	}

	mapInfo := buffer.Map(gst.MapRead)
	data := mapInfo.Bytes()
	chunk := make([]byte, len(data))
	copy(chunk, data)
	keyframe := buffer.GetFlags()&gst.BufferFlagDeltaUnit == 0
	buffer.Unmap()

	e.mu.Lock()
	fn := e.outputFn
	e.mu.Unlock()

	if fn != nil && len(chunk) > 0 {
		fn(chunk, time.Now(), keyframe)
	}
	return gst.FlowOK
}

func (e *Engine) Start() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.capture == nil {
		return fmt.Errorf("v4l2: engine not configured")
	}
	if e.started {
		return fmt.Errorf("v4l2: engine already started")
	}

	if err := e.capture.pipeline.SetState(gst.StatePlaying); err != nil {
		return fmt.Errorf("v4l2: failed to start capture pipeline: %w", err)
	}
	e.started = true
	e.stopBus = make(chan struct{})

	e.busWG.Add(1)
	go e.watchBus(e.capture.pipeline, "capture", e.stopBus, &e.busWG)

	slog.Info("v4l2: capture started", "device", e.cfg.Device)
	return nil
}

// watchBus logs pipeline bus errors. The hardware pipeline keeps running
// independently of the streaming state, so errors here are telemetry only.
func (e *Engine) watchBus(pipeline *gst.Pipeline, name string, stop chan struct{}, wg *sync.WaitGroup) {
	defer wg.Done()

	bus := pipeline.GetPipelineBus()
	for {
		select {
		case <-stop:
			return
		default:
		}

		msg := bus.TimedPop(50 * time.Millisecond)
		if msg == nil {
			continue
		}
		switch msg.Type() {
		case gst.MessageError:
			gerr := msg.ParseError()
			slog.Error("v4l2: pipeline error",
				"pipeline", name,
				"error", gerr.Error(),
				"debug", gerr.DebugString(),
			)
		case gst.MessageEOS:
			slog.Warn("v4l2: end of stream", "pipeline", name)
		}
	}
}

func (e *Engine) Stop() error {
	e.mu.Lock()
	if !e.started {
		e.mu.Unlock()
		return nil
	}
	e.started = false
	stop := e.stopBus
	e.mu.Unlock()

	close(stop)
	e.busWG.Wait()

	if err := e.StopEncoder(); err != nil {
		slog.Warn("v4l2: encoder stop during engine stop", "error", err)
	}
	if err := destroyPipeline(e.capture.pipeline); err != nil {
		return fmt.Errorf("v4l2: %w", err)
	}

	// In-flight handles released after this point recycle as no-ops.
	e.pool.Shutdown()

	e.mu.Lock()
	dropped := e.dropped
	frames := e.seq
	e.mu.Unlock()
	slog.Info("v4l2: capture stopped", "frames", frames, "dropped", dropped)
	return nil
}

func (e *Engine) RegisterEncodedOutputCallback(fn camera.EncodedOutputFunc) {
	e.mu.Lock()
	e.outputFn = fn
	e.mu.Unlock()
}

func (e *Engine) StartEncoder() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.encode == nil {
		return fmt.Errorf("v4l2: engine not configured")
	}
	if e.encoderOn {
		return fmt.Errorf("v4l2: encoder already started")
	}
	if err := e.encode.pipeline.SetState(gst.StatePlaying); err != nil {
		return fmt.Errorf("v4l2: failed to start encode pipeline: %w", err)
	}
	e.encoderOn = true
	e.encStopBus = make(chan struct{})

	e.encBusWG.Add(1)
	go e.watchBus(e.encode.pipeline, "encode", e.encStopBus, &e.encBusWG)

	slog.Info("v4l2: encoder started", "bitrate_kbps", e.cfg.BitrateKbps)
	return nil
}

func (e *Engine) StopEncoder() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.encoderOn {
		return nil
	}
	e.encoderOn = false

	close(e.encStopBus)
	e.encBusWG.Wait()

	if err := destroyPipeline(e.encode.pipeline); err != nil {
		return fmt.Errorf("v4l2: %w", err)
	}
	slog.Info("v4l2: encoder stopped")
	return nil
}

// SubmitForEncoding pushes the frame's raw plane into the encode pipeline.
// Ownership transfers; the gst buffer copies the bytes, so the handle is
// released before returning.
func (e *Engine) SubmitForEncoding(h *camera.Handle) error {
	defer h.Release()

	e.mu.Lock()
	on := e.encoderOn
	e.mu.Unlock()
	if !on {
		return fmt.Errorf("v4l2: encoder not started")
	}

	plane := h.Frame().Plane(camera.StreamVideo)
	buffer := gst.NewBufferFromBytes(plane)
	if buffer == nil {
		return fmt.Errorf("v4l2: failed to wrap frame %d for encoding", h.Frame().Seq)
	}
	if ret := e.encode.src.PushBuffer(buffer); ret != gst.FlowOK {
		return fmt.Errorf("v4l2: encoder rejected frame %d: flow %v", h.Frame().Seq, ret)
	}
	return nil
}
