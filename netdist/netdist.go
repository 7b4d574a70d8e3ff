// Package netdist implements the network-wide entanglement distribution
// service: nodes submit EPR generation requests naming a peer, and the
// Distributor pairs up matching requests, checks netschedule authorization,
// and produces a Bell pair outcome for each side. Grounded on the
// teacher's sharded batch matching (quest/batch_processor.go's
// semaphore-bounded per-shard processing), generalized from "match
// transactions into gas-bounded shards" to "match EPR requests into
// node-pair queues".
package netdist

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/log"
	"github.com/google/uuid"

	"github.com/qoala-sim/qoala/lang/hostlang"
	"github.com/qoala-sim/qoala/netsched"
)

// ErrNoPeerRequest names the condition of a request with no matching peer
// request yet. Submit does not return it: it queues such a request and
// leaves its outcome channel empty until the peer arrives.
var ErrNoPeerRequest = errors.New("netdist: no matching peer request yet")

// Request is one node's half of an entanglement generation attempt.
type Request struct {
	ID           uuid.UUID
	LocalNode    string
	RemoteNode   string
	PID          int
	EPRSocketID  int
	NumPairs     int
	Type         hostlang.EPRType
	MinFidelity  float64
	SubmittedAt  time.Time
}

func pairKey(a, b string) string {
	if a < b {
		return a + "|" + b
	}
	return b + "|" + a
}

// OutcomeReason classifies a non-success Outcome. The zero value applies
// to both a plain success and an ordinary fidelity-below-threshold
// failure (still distinguishable via Success); NoMatch and Timeout name
// the two failure modes that are per-pair outcomes rather than fatal
// routine errors.
type OutcomeReason string

const (
	ReasonNone    OutcomeReason = ""
	ReasonNoMatch OutcomeReason = "no_match"
	ReasonTimeout OutcomeReason = "timeout"
)

// Outcome is the result handed back to each side of a matched pair.
type Outcome struct {
	RequestID uuid.UUID
	PairIndex int
	Fidelity  float64
	Success   bool
	Reason    OutcomeReason
}

// pendingPair holds one side's queued requests for a given node pair,
// waiting for the other side to submit a matching one.
type pendingPair struct {
	fromLocal  []Request // requests issued by the lexicographically smaller node of the pair
	fromRemote []Request // requests issued by the lexicographically larger node of the pair
}

// Distributor is the in-process matching engine. A deployment fronts it
// with a Server for nodes running in separate processes, or calls it
// directly for nodes living in the same process as the distributor.
type Distributor struct {
	mu       sync.Mutex
	schedule *netsched.Schedule
	start    time.Time
	pending  map[string]*pendingPair // keyed by pairKey(local, remote)
	waiters  map[uuid.UUID]chan Outcome

	fidelityModel func(numPairs int) float64

	logger log.Logger
}

// New returns a Distributor enforcing the given network schedule. A nil
// schedule authorizes every pair at every time (useful for tests that do
// not exercise netschedule semantics).
func New(schedule *netsched.Schedule) *Distributor {
	return &Distributor{
		schedule: schedule,
		start:    time.Time{},
		pending:  make(map[string]*pendingPair),
		waiters:  make(map[uuid.UUID]chan Outcome),
		fidelityModel: func(int) float64 { return 0.95 },
		logger:   log.New("component", "netdist"),
	}
}

// SetClock pins the distributor's notion of elapsed time for netschedule
// lookups; tests call this to align with a simulated clock instead of the
// wall clock.
func (d *Distributor) SetClock(start time.Time) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.start = start
}

func (d *Distributor) elapsed(now time.Time) time.Duration {
	if d.start.IsZero() {
		return 0
	}
	return now.Sub(d.start)
}

// Submit registers a request and, if a matching request from the peer
// has already arrived, resolves both sides' outcomes immediately. It
// returns a channel that receives this side's outcome exactly once.
func (d *Distributor) Submit(ctx context.Context, now time.Time, req Request) (<-chan Outcome, error) {
	if d.schedule != nil {
		n := netsched.NodePID{Node: req.LocalNode, PID: req.PID}
		if err := d.schedule.RequireAuthorized(d.elapsed(now), n); err != nil {
			d.logger.Debug("request not authorized by netschedule", "local", req.LocalNode, "remote", req.RemoteNode, "pid", req.PID, "err", err)
			return d.noMatchChannel(req), nil
		}
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	key := pairKey(req.LocalNode, req.RemoteNode)
	pp := d.pending[key]
	if pp == nil {
		pp = &pendingPair{}
		d.pending[key] = pp
	}

	bufSize := req.NumPairs
	if bufSize < 1 {
		bufSize = 1
	}
	ch := make(chan Outcome, bufSize)
	d.waiters[req.ID] = ch

	// Look for an already-queued request from the peer side naming this
	// node as remote.
	var peerQueue *[]Request
	if req.LocalNode < req.RemoteNode {
		peerQueue = &pp.fromRemote
	} else {
		peerQueue = &pp.fromLocal
	}

	if len(*peerQueue) > 0 {
		peer := (*peerQueue)[0]
		*peerQueue = (*peerQueue)[1:]
		d.resolve(req, peer)
		return ch, nil
	}

	var ownQueue *[]Request
	if req.LocalNode < req.RemoteNode {
		ownQueue = &pp.fromLocal
	} else {
		ownQueue = &pp.fromRemote
	}
	*ownQueue = append(*ownQueue, req)

	d.logger.Debug("queued entanglement request", "local", req.LocalNode, "remote", req.RemoteNode, "pid", req.PID)
	return ch, nil
}

// noMatchChannel builds an already-resolved outcome channel reporting
// NoMatch for every pair req asked for, the way a timeslot that never
// pairs two requests fails both sides per spec's error model: NoMatch is
// a per-pair outcome, not a fatal error Submit's caller has to handle.
func (d *Distributor) noMatchChannel(req Request) <-chan Outcome {
	numPairs := req.NumPairs
	if numPairs < 1 {
		numPairs = 1
	}
	ch := make(chan Outcome, numPairs)
	for i := 0; i < numPairs; i++ {
		ch <- Outcome{RequestID: req.ID, PairIndex: i, Reason: ReasonNoMatch}
	}
	return ch
}

// resolve pairs req with its already-queued peer and delivers outcomes to
// both waiters. The request with the later SubmittedAt decides how many
// pairs are produced (and so the modelled fidelity); each side's Success
// is judged against that side's own MinFidelity.
func (d *Distributor) resolve(req, peer Request) {
	winner := req
	if peer.SubmittedAt.After(req.SubmittedAt) {
		winner = peer
	}

	numPairs := winner.NumPairs
	if numPairs <= 0 {
		numPairs = 1
	}
	fidelity := d.fidelityModel(numPairs)

	for i := 0; i < numPairs; i++ {
		for _, side := range []Request{req, peer} {
			if ch, ok := d.waiters[side.ID]; ok {
				select {
				case ch <- Outcome{RequestID: side.ID, PairIndex: i, Fidelity: fidelity, Success: fidelity >= side.MinFidelity}:
				default:
				}
			}
		}
	}
	delete(d.waiters, req.ID)
	delete(d.waiters, peer.ID)
}

// Cancel removes a still-pending request (one with no matched peer yet)
// so it stops waiting. Returns an error if the request is unknown.
func (d *Distributor) Cancel(id uuid.UUID) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.waiters[id]; !ok {
		return fmt.Errorf("netdist: unknown request %s", id)
	}
	delete(d.waiters, id)
	for _, pp := range d.pending {
		for _, q := range []*[]Request{&pp.fromLocal, &pp.fromRemote} {
			kept := (*q)[:0]
			for _, r := range *q {
				if r.ID != id {
					kept = append(kept, r)
				}
			}
			*q = kept
		}
	}
	return nil
}

// SetFidelityModel overrides how per-match fidelity is computed from the
// number of requested pairs; tests use this to force deterministic
// outcomes.
func (d *Distributor) SetFidelityModel(f func(numPairs int) float64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.fidelityModel = f
}
