package relay

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/ktyurin/survcafe/internal/camera"
)

func newTestHandle(seq uint64, recycled *atomic.Int32) *camera.Handle {
	frame := &camera.Frame{Seq: seq}
	return camera.NewHandle(frame, func(*camera.Frame) {
		if recycled != nil {
			recycled.Add(1)
		}
	})
}

// TestWaitReturnsBacklogInOrder verifies a burst is delivered as one batch
// preserving arrival order.
func TestWaitReturnsBacklogInOrder(t *testing.T) {
	r := New()

	for seq := uint64(1); seq <= 5; seq++ {
		r.Post(newTestHandle(seq, nil))
	}

	batch, ok := r.Wait()
	if !ok {
		t.Fatal("Wait returned ok=false on an open relay")
	}
	if len(batch) != 5 {
		t.Fatalf("Expected batch of 5, got %d", len(batch))
	}
	for i, h := range batch {
		if h.Frame().Seq != uint64(i+1) {
			t.Errorf("Position %d: expected seq %d, got %d", i, i+1, h.Frame().Seq)
		}
		h.Release()
	}
}

// TestWaitBlocksUntilPost verifies Wait blocks on an empty relay and wakes
// on the next Post.
func TestWaitBlocksUntilPost(t *testing.T) {
	r := New()

	got := make(chan uint64, 1)
	go func() {
		batch, ok := r.Wait()
		if ok && len(batch) == 1 {
			got <- batch[0].Frame().Seq
			batch[0].Release()
		}
	}()

	// Give the consumer time to block.
	time.Sleep(20 * time.Millisecond)
	r.Post(newTestHandle(42, nil))

	select {
	case seq := <-got:
		if seq != 42 {
			t.Errorf("Expected seq 42, got %d", seq)
		}
	case <-time.After(1 * time.Second):
		t.Fatal("Timeout waiting for posted frame")
	}
}

// TestWaitDrainsCompletely verifies the backlog is empty after Wait.
func TestWaitDrainsCompletely(t *testing.T) {
	r := New()
	r.Post(newTestHandle(1, nil))
	r.Post(newTestHandle(2, nil))

	batch, _ := r.Wait()
	for _, h := range batch {
		h.Release()
	}

	if stats := r.Stats(); stats.Pending != 0 {
		t.Errorf("Expected 0 pending after Wait, got %d", stats.Pending)
	}
}

// TestClearRecyclesPending verifies Clear releases every queued handle.
func TestClearRecyclesPending(t *testing.T) {
	r := New()
	var recycled atomic.Int32

	for seq := uint64(1); seq <= 3; seq++ {
		r.Post(newTestHandle(seq, &recycled))
	}
	r.Clear()

	if got := recycled.Load(); got != 3 {
		t.Errorf("Expected 3 recycled handles, got %d", got)
	}
	stats := r.Stats()
	if stats.Pending != 0 {
		t.Errorf("Expected 0 pending after Clear, got %d", stats.Pending)
	}
	if stats.Cleared != 3 {
		t.Errorf("Expected cleared counter 3, got %d", stats.Cleared)
	}
}

// TestCloseUnblocksWaiter verifies a blocked consumer observes ok=false
// after Close.
func TestCloseUnblocksWaiter(t *testing.T) {
	r := New()

	done := make(chan bool, 1)
	go func() {
		_, ok := r.Wait()
		done <- ok
	}()

	time.Sleep(20 * time.Millisecond)
	r.Close()

	select {
	case ok := <-done:
		if ok {
			t.Error("Expected ok=false after Close")
		}
	case <-time.After(1 * time.Second):
		t.Fatal("Close did not unblock the waiting consumer")
	}
}

// TestPostAfterCloseRecycles verifies late posts are recycled, not queued.
func TestPostAfterCloseRecycles(t *testing.T) {
	r := New()
	r.Close()

	var recycled atomic.Int32
	r.Post(newTestHandle(1, &recycled))

	if got := recycled.Load(); got != 1 {
		t.Errorf("Expected handle recycled on post-after-close, got %d recycles", got)
	}
}

// TestConcurrentPosters verifies no frames are lost under concurrent Post.
func TestConcurrentPosters(t *testing.T) {
	r := New()
	const posters = 8
	const perPoster = 50

	for p := 0; p < posters; p++ {
		go func(base uint64) {
			for i := uint64(0); i < perPoster; i++ {
				r.Post(newTestHandle(base+i, nil))
			}
		}(uint64(p) * perPoster)
	}

	received := 0
	deadline := time.After(2 * time.Second)
	for received < posters*perPoster {
		done := make(chan []*camera.Handle, 1)
		go func() {
			batch, ok := r.Wait()
			if ok {
				done <- batch
			}
		}()
		select {
		case batch := <-done:
			received += len(batch)
			for _, h := range batch {
				h.Release()
			}
		case <-deadline:
			t.Fatalf("Timeout: received %d of %d frames", received, posters*perPoster)
		}
	}

	if stats := r.Stats(); stats.Posted != posters*perPoster {
		t.Errorf("Expected %d posted, got %d", posters*perPoster, stats.Posted)
	}
}
