// Package relay moves completed-frame handles from the capture engine's
// asynchronous completion context to the single main-loop consumer,
// preserving arrival order.
package relay

import (
	"sync"

	"github.com/ktyurin/survcafe/internal/camera"
)

// Relay is a bounded-by-pool, thread-safe hand-off queue. Post appends and
// wakes one waiting consumer; Wait blocks until at least one item is
// present and returns the whole backlog so the consumer drains bursts
// without re-blocking; Clear discards (and recycles) everything pending.
type Relay struct {
	mu      sync.Mutex
	cond    *sync.Cond
	backlog []*camera.Handle
	closed  bool

	posted  uint64
	cleared uint64
}

// New creates an empty relay.
func New() *Relay {
	r := &Relay{}
	r.cond = sync.NewCond(&r.mu)
	return r
}

// Post appends a handle to the tail. Ownership transfers to the relay
// until a consumer takes the batch. Posting to a closed relay recycles
// the handle immediately.
func (r *Relay) Post(h *camera.Handle) {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		h.Release()
		return
	}
	r.backlog = append(r.backlog, h)
	r.posted++
	r.cond.Signal()
	r.mu.Unlock()
}

// Wait blocks until the backlog is non-empty or the relay is closed, then
// returns the full backlog in arrival order. ok is false after Close; the
// consumer loop should exit. The caller owns every returned handle.
func (r *Relay) Wait() (batch []*camera.Handle, ok bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for len(r.backlog) == 0 && !r.closed {
		r.cond.Wait()
	}
	if r.closed {
		return nil, false
	}
	batch = r.backlog
	r.backlog = nil
	return batch, true
}

// Clear atomically discards all pending items, recycling their frames.
// Used when capture stops so stale frames never reach a restarted pipeline.
func (r *Relay) Clear() {
	r.mu.Lock()
	pending := r.backlog
	r.backlog = nil
	r.cleared += uint64(len(pending))
	r.mu.Unlock()

	for _, h := range pending {
		h.Release()
	}
}

// Close wakes any blocked consumer and makes Wait return ok=false. Pending
// items are recycled.
func (r *Relay) Close() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true
	pending := r.backlog
	r.backlog = nil
	r.cond.Broadcast()
	r.mu.Unlock()

	for _, h := range pending {
		h.Release()
	}
}

// Stats is a snapshot of relay counters.
type Stats struct {
	Posted  uint64
	Cleared uint64
	Pending int
}

// Stats returns current counters.
func (r *Relay) Stats() Stats {
	r.mu.Lock()
	defer r.mu.Unlock()
	return Stats{Posted: r.posted, Cleared: r.cleared, Pending: len(r.backlog)}
}
