// Package netsched implements the network schedule: a repeating pattern
// of timeslots, each authorizing a listed set of (node, pid) pairs to
// attempt entanglement generation during that slot. Grounded on the teacher's
// HardwareInfo capability-window bookkeeping (quest/utils/hardware_info.go),
// generalized from "which hardware features are active" to "which process
// on which node may use the network right now", and paced the way the
// rest of the pack throttles outbound work with golang.org/x/time/rate.
package netsched

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/time/rate"
)

// ErrNotAuthorized is returned when a (node, pid) pair tries to use the
// network outside its authorized timeslot.
var ErrNotAuthorized = errors.New("netsched: pair not authorized in current timeslot")

// NodePID identifies which process on which node a timeslot authorizes.
type NodePID struct {
	Node string
	PID  int
}

// Timeslot is one entry in the repeating schedule pattern: a duration and
// the set of node/pid pairs authorized to attempt entanglement during it.
// Authorization is checked for one (node, pid) at a time; nothing here
// checks that both endpoints of a request are listed in the same slot.
type Timeslot struct {
	Duration time.Duration
	Pairs    []NodePID
}

func (t Timeslot) authorizes(n NodePID) bool {
	for _, p := range t.Pairs {
		if p == n {
			return true
		}
	}
	return false
}

// Schedule is a repeating sequence of timeslots. Index 0 starts at the
// schedule's own zero time; the pattern repeats forever once the last
// slot ends.
type Schedule struct {
	Slots []Timeslot

	total time.Duration
}

// New builds a Schedule from an ordered slot list. The pattern is invalid
// (and CurrentSlot will always report none authorized) if Slots is empty.
func New(slots []Timeslot) *Schedule {
	var total time.Duration
	for _, s := range slots {
		total += s.Duration
	}
	return &Schedule{Slots: slots, total: total}
}

// CurrentSlot returns the timeslot active at elapsed time t within the
// repeating pattern, and its index.
func (s *Schedule) CurrentSlot(t time.Duration) (Timeslot, int, bool) {
	if len(s.Slots) == 0 || s.total == 0 {
		return Timeslot{}, -1, false
	}
	offset := t % s.total
	for i, slot := range s.Slots {
		if offset < slot.Duration {
			return slot, i, true
		}
		offset -= slot.Duration
	}
	return Timeslot{}, -1, false
}

// IsAuthorized reports whether n may attempt entanglement at elapsed
// time t.
func (s *Schedule) IsAuthorized(t time.Duration, n NodePID) bool {
	slot, _, ok := s.CurrentSlot(t)
	return ok && slot.authorizes(n)
}

// Limiter paces a single node's outbound entanglement request attempts,
// independent of the slot pattern itself, so a node cannot flood its
// peer with retries while waiting for its authorized slot to arrive.
type Limiter struct {
	rl *rate.Limiter
}

// NewLimiter returns a Limiter allowing at most one attempt per interval,
// with a burst of 1.
func NewLimiter(interval time.Duration) *Limiter {
	return &Limiter{rl: rate.NewLimiter(rate.Every(interval), 1)}
}

// Wait blocks until the limiter permits another attempt or ctx is done.
func (l *Limiter) Wait(ctx context.Context) error {
	return l.rl.Wait(ctx)
}

// RequireAuthorized returns ErrNotAuthorized, wrapped with the pair and
// elapsed time, unless n is authorized at t.
func (s *Schedule) RequireAuthorized(t time.Duration, n NodePID) error {
	if s.IsAuthorized(t, n) {
		return nil
	}
	return fmt.Errorf("%w: node=%s pid=%d t=%s", ErrNotAuthorized, n.Node, n.PID, t)
}
