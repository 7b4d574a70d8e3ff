// Package clock provides the simulated-time substrate every cooperative
// task in the node suspends on. It generalizes the timestamped-event
// bookkeeping of a wall-clock profiler into a virtual clock that drivers
// advance themselves instead of reading from the OS.
package clock

import (
	"container/heap"
	"sync"
)

// Time is simulated time in nanoseconds since the clock was created.
type Time int64

// wakeup is a single pending suspension, ordered by deadline.
type wakeup struct {
	deadline Time
	seq      uint64 // insertion order, breaks deadline ties FIFO
	done     chan struct{}
}

type wakeupHeap []*wakeup

func (h wakeupHeap) Len() int { return len(h) }
func (h wakeupHeap) Less(i, j int) bool {
	if h[i].deadline != h[j].deadline {
		return h[i].deadline < h[j].deadline
	}
	return h[i].seq < h[j].seq
}
func (h wakeupHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }
func (h *wakeupHeap) Push(x any)        { *h = append(*h, x.(*wakeup)) }
func (h *wakeupHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}

// VirtualClock is a single-threaded discrete-event clock: time only moves
// forward when Advance is called, and every pending Wait unblocks in
// deadline order up to (and including) the new time.
type VirtualClock struct {
	mu      sync.Mutex
	now     Time
	pending wakeupHeap
	seq     uint64
}

// New returns a VirtualClock starting at time zero.
func New() *VirtualClock {
	return &VirtualClock{}
}

// Now returns the current simulated time.
func (c *VirtualClock) Now() Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Wait returns a channel that is closed once the clock reaches
// now()+delta. For a non-positive delta the returned channel is already
// closed.
func (c *VirtualClock) Wait(delta Time) <-chan struct{} {
	c.mu.Lock()
	defer c.mu.Unlock()

	w := &wakeup{deadline: c.now + delta, seq: c.seq, done: make(chan struct{})}
	c.seq++
	if w.deadline <= c.now {
		close(w.done)
		return w.done
	}
	heap.Push(&c.pending, w)
	return w.done
}

// WaitUntil returns a channel that is closed once the clock reaches at
// least the given absolute time.
func (c *VirtualClock) WaitUntil(t Time) <-chan struct{} {
	c.mu.Lock()
	now := c.now
	c.mu.Unlock()
	if t <= now {
		done := make(chan struct{})
		close(done)
		return done
	}
	return c.Wait(t - now)
}

// Advance moves the clock forward by delta, releasing every wakeup whose
// deadline has been reached. It is a no-op for non-positive delta.
func (c *VirtualClock) Advance(delta Time) {
	if delta <= 0 {
		return
	}
	c.mu.Lock()
	c.now += delta
	c.releaseDue()
	c.mu.Unlock()
}

// AdvanceToNext jumps directly to the earliest pending deadline, if any,
// and releases it (and any other wakeups sharing that deadline). It
// reports whether there was a pending wakeup to advance to.
func (c *VirtualClock) AdvanceToNext() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.pending) == 0 {
		return false
	}
	c.now = c.pending[0].deadline
	c.releaseDue()
	return true
}

func (c *VirtualClock) releaseDue() {
	for len(c.pending) > 0 && c.pending[0].deadline <= c.now {
		w := heap.Pop(&c.pending).(*wakeup)
		close(w.done)
	}
}

// Pending reports the number of outstanding suspensions.
func (c *VirtualClock) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}
