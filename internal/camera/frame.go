package camera

import (
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// StreamVideo is the name of the primary encode stream. Stills are taken
// from the same stream in the baseline single-stream configuration.
const StreamVideo = "video"

// Frame is one completed capture. The plane buffers are owned by the
// engine's BufferPool; consumers hold a Frame only through a Handle.
type Frame struct {
	// Seq is a monotonic sequence number assigned at capture completion.
	Seq uint64

	// Timestamp is the capture completion time (sensor time when available).
	Timestamp time.Time

	// Framerate is the instantaneous rate derived from the previous
	// frame's timestamp. Zero for the first frame.
	Framerate float64

	Width  int
	Height int
	Stride int

	// Planes maps stream name to that stream's mapped buffer.
	Planes map[string][]byte

	// TraceID correlates a frame across log lines.
	TraceID string
}

// Plane returns the buffer for the named stream, or nil.
func (f *Frame) Plane(stream string) []byte {
	return f.Planes[stream]
}

// Handle is a shared-ownership wrapper over a Frame. Construction sets the
// reference count to one; Retain adds a holder, Release drops one. On the
// transition to zero the recycle hook runs exactly once, returning the
// frame's buffers to the engine's pool.
type Handle struct {
	frame   *Frame
	refs    atomic.Int32
	recycle func(*Frame)
}

// NewHandle wraps frame with an initial count of one. recycle may be nil.
func NewHandle(frame *Frame, recycle func(*Frame)) *Handle {
	h := &Handle{frame: frame, recycle: recycle}
	h.refs.Store(1)
	return h
}

// Frame returns the underlying frame. Valid only while the caller holds
// at least one reference.
func (h *Handle) Frame() *Frame {
	return h.frame
}

// Retain adds a holder and returns the same handle for convenience.
func (h *Handle) Retain() *Handle {
	h.refs.Add(1)
	return h
}

// Release drops one holder. The last Release triggers the recycle hook.
func (h *Handle) Release() {
	n := h.refs.Add(-1)
	switch {
	case n == 0:
		if h.recycle != nil {
			h.recycle(h.frame)
		}
	case n < 0:
		// Refcount underflow is a caller bug; recycling already happened.
		slog.Error("camera: release of dead frame handle",
			"seq", h.frame.Seq,
			"trace_id", h.frame.TraceID,
		)
	}
}

// Refs reports the current holder count.
func (h *Handle) Refs() int {
	return int(h.refs.Load())
}

// BufferPool is a fixed arena of reusable frame buffers. Acquire hands a
// buffer to a capture in flight; Recycle returns it. After Shutdown the
// pool drops its free list and Recycle becomes a no-op, so handles still
// in flight when capture stops release harmlessly.
type BufferPool struct {
	mu      sync.Mutex
	free    [][]byte
	size    int
	stopped bool
}

// NewBufferPool allocates count buffers of size bytes each.
func NewBufferPool(count, size int) *BufferPool {
	p := &BufferPool{size: size, free: make([][]byte, 0, count)}
	for i := 0; i < count; i++ {
		p.free = append(p.free, make([]byte, size))
	}
	return p
}

// Acquire takes a free buffer. ok is false when the pool is exhausted or
// shut down; the caller is expected to drop the frame.
func (p *BufferPool) Acquire() (buf []byte, ok bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.stopped || len(p.free) == 0 {
		return nil, false
	}
	buf = p.free[len(p.free)-1]
	p.free = p.free[:len(p.free)-1]
	return buf, true
}

// Recycle returns a buffer to the free list. No-op after Shutdown.
func (p *BufferPool) Recycle(buf []byte) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.stopped {
		return
	}
	p.free = append(p.free, buf)
}

// Shutdown tears the arena down. In-flight handles released afterwards
// do not requeue.
func (p *BufferPool) Shutdown() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.stopped = true
	p.free = nil
}

// FreeBuffers reports how many buffers are currently available.
func (p *BufferPool) FreeBuffers() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.free)
}
