package camera

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MockConfig configures the synthetic engine.
type MockConfig struct {
	Width   int
	Height  int
	FPS     int
	Buffers int // pool depth
}

// MockEngine generates synthetic frames and passes submitted frames through
// a trivial "encoder" that emits the raw plane bytes. Used when no camera
// device is configured, and by tests.
type MockEngine struct {
	cfg  MockConfig
	sink Sink
	pool *BufferPool

	mu         sync.Mutex
	opened     bool
	started    bool
	outputFn   EncodedOutputFunc
	seq        uint64
	lastStamp  time.Time
	framesSent uint64
	dropped    uint64

	stopCapture chan struct{}
	captureWG   sync.WaitGroup

	encMu    sync.Mutex
	encodeCh chan *Handle
	encWG    sync.WaitGroup
}

// NewMockEngine creates a synthetic engine posting frames to sink.
func NewMockEngine(cfg MockConfig, sink Sink) *MockEngine {
	if cfg.FPS <= 0 {
		cfg.FPS = 30
	}
	if cfg.Buffers <= 0 {
		cfg.Buffers = 8
	}
	return &MockEngine{cfg: cfg, sink: sink}
}

func (m *MockEngine) Open() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.opened {
		return fmt.Errorf("mock engine already open")
	}
	m.opened = true
	slog.Info("camera: mock engine opened",
		"width", m.cfg.Width,
		"height", m.cfg.Height,
		"fps", m.cfg.FPS,
	)
	return nil
}

func (m *MockEngine) Configure(flags ConfigFlags) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.opened {
		return fmt.Errorf("mock engine not open")
	}
	m.pool = NewBufferPool(m.cfg.Buffers, m.cfg.Width*m.cfg.Height*3)
	return nil
}

func (m *MockEngine) Start() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.opened || m.pool == nil {
		return fmt.Errorf("mock engine not configured")
	}
	if m.started {
		return fmt.Errorf("mock engine already started")
	}
	m.started = true
	m.stopCapture = make(chan struct{})

	m.captureWG.Add(1)
	go m.captureLoop(m.stopCapture)

	return nil
}

func (m *MockEngine) captureLoop(stop chan struct{}) {
	defer m.captureWG.Done()

	interval := time.Second / time.Duration(m.cfg.FPS)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case now := <-ticker.C:
			m.emitFrame(now)
		}
	}
}

func (m *MockEngine) emitFrame(now time.Time) {
	buf, ok := m.pool.Acquire()
	if !ok {
		m.mu.Lock()
		m.dropped++
		m.mu.Unlock()
		slog.Debug("camera: mock frame dropped, no free buffers")
		return
	}

	m.mu.Lock()
	m.seq++
	seq := m.seq
	var framerate float64
	if !m.lastStamp.IsZero() && now.After(m.lastStamp) {
		framerate = float64(time.Second) / float64(now.Sub(m.lastStamp))
	}
	m.lastStamp = now
	m.framesSent++
	m.mu.Unlock()

	// Recognizable per-frame pattern so tests can verify byte identity.
	for i := range buf {
		buf[i] = byte(seq)
	}

	frame := &Frame{
		Seq:       seq,
		Timestamp: now,
		Framerate: framerate,
		Width:     m.cfg.Width,
		Height:    m.cfg.Height,
		Stride:    m.cfg.Width * 3,
		Planes:    map[string][]byte{StreamVideo: buf},
		TraceID:   uuid.New().String(),
	}

	m.sink.Post(NewHandle(frame, func(f *Frame) {
		m.pool.Recycle(f.Planes[StreamVideo])
	}))
}

func (m *MockEngine) Stop() error {
	m.mu.Lock()
	if !m.started {
		m.mu.Unlock()
		return nil
	}
	m.started = false
	stop := m.stopCapture
	m.mu.Unlock()

	close(stop)
	m.captureWG.Wait()

	// Encoder cannot outlive capture.
	if err := m.StopEncoder(); err != nil {
		slog.Warn("camera: mock encoder stop during engine stop", "error", err)
	}

	// In-flight handles released after this point recycle as no-ops.
	m.pool.Shutdown()

	slog.Info("camera: mock engine stopped",
		"frames", m.framesSent,
		"dropped", m.dropped,
	)
	return nil
}

func (m *MockEngine) RegisterEncodedOutputCallback(fn EncodedOutputFunc) {
	m.mu.Lock()
	m.outputFn = fn
	m.mu.Unlock()
}

func (m *MockEngine) StartEncoder() error {
	m.encMu.Lock()
	defer m.encMu.Unlock()
	if m.encodeCh != nil {
		return fmt.Errorf("mock encoder already started")
	}
	ch := make(chan *Handle, 16)
	m.encodeCh = ch

	m.encWG.Add(1)
	go m.encodeLoop(ch)
	return nil
}

func (m *MockEngine) encodeLoop(ch chan *Handle) {
	defer m.encWG.Done()

	for h := range ch {
		frame := h.Frame()
		src := frame.Plane(StreamVideo)

		// Pass-through "codec": the chunk is a copy of the raw plane.
		chunk := make([]byte, len(src))
		copy(chunk, src)

		m.mu.Lock()
		fn := m.outputFn
		m.mu.Unlock()

		if fn != nil {
			fn(chunk, frame.Timestamp, frame.Seq%30 == 1)
		}
		h.Release()
	}
}

func (m *MockEngine) StopEncoder() error {
	m.encMu.Lock()
	defer m.encMu.Unlock()
	if m.encodeCh == nil {
		return nil
	}
	close(m.encodeCh)
	m.encodeCh = nil
	m.encWG.Wait()
	return nil
}

// SubmitForEncoding hands a frame to the encoder. Ownership transfers; on
// any error the handle is released here.
func (m *MockEngine) SubmitForEncoding(h *Handle) error {
	m.encMu.Lock()
	ch := m.encodeCh
	m.encMu.Unlock()

	if ch == nil {
		h.Release()
		return fmt.Errorf("mock encoder not started")
	}
	select {
	case ch <- h:
		return nil
	default:
		h.Release()
		return fmt.Errorf("mock encoder backlog full, frame %d dropped", h.Frame().Seq)
	}
}
