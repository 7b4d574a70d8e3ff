// Package netstack implements the Netstack processor: it runs request
// routines by submitting EPR generation requests to the network-wide
// entanglement distributor, mapping each arriving pair onto a virtual
// qubit per the routine's allocation strategy, and invoking any declared
// callback routine per-pair or after all pairs depending on the
// routine's callback mode. Grounded on the teacher's sharded batch
// submission loop (quest/batch_processor.go), generalized from "submit
// transaction shards to worker goroutines" to "submit EPR pair requests
// to the distributor and wait for each outcome".
package netstack

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"github.com/ethereum/go-ethereum/log"
	"github.com/google/uuid"

	"github.com/qoala-sim/qoala/lang/hostlang"
	"github.com/qoala-sim/qoala/netdist"
	"github.com/qoala-sim/qoala/qdevice"
	"github.com/qoala-sim/qoala/runtime/qprogram"
	"github.com/qoala-sim/qoala/runtime/sharedmem"
	"github.com/qoala-sim/qoala/runtime/task"
)

// Registry resolves a pid to its running process.
type Registry interface {
	Process(pid int) (*qprogram.Process, bool)
}

// TaskRunner adapts a Processor into sim/driver.Runner for
// task.KindRequestRoutine tasks.
type TaskRunner struct {
	Proc     *Processor
	Registry Registry
}

// RunTask satisfies sim/driver.Runner.
func (r TaskRunner) RunTask(ctx context.Context, t task.Task) error {
	proc, ok := r.Registry.Process(t.PID)
	if !ok {
		return fmt.Errorf("netstack: unknown process %d", t.PID)
	}
	routine, ok := proc.Instance.Program.RequestRoutines[t.Name]
	if !ok {
		return fmt.Errorf("netstack: unknown request routine %q", t.Name)
	}
	return r.Proc.RunRequestRoutine(ctx, t.PID, routine, proc)
}

// CallbackRunner invokes a named local routine as a request's per-pair or
// final callback. sim/qnos.Processor.RunLocalRoutine satisfies a thin
// adapter over this during wiring.
type CallbackRunner interface {
	RunCallback(ctx context.Context, pid int, name string, virtID int, pairIndex int) error
}

// QubitAllocator reserves a physical slot for an incoming EPR half and
// prepares it, mirroring the half of qnos.Processor this package needs
// without importing qnos directly (keeping the two processor packages
// decoupled, the way Host and Qnos are split in the teacher's own
// multi-package processor layout).
type QubitAllocator interface {
	AllocateForVirtualID(pid, virtID int) (int, error)
	FreeVirtualID(pid, virtID int)
	Device() qdevice.QDevice
}

// ResultSink receives a request routine's measurement outcomes and gives
// access to the owning process's shared-memory regions, mirroring
// sim/qnos's ResultSink for local routines.
type ResultSink interface {
	SetVar(name string, val int64)
	Shared() *sharedmem.Manager
}

// Processor runs request routines for a single node.
type Processor struct {
	localNode string
	dist      *netdist.Distributor
	qubits    QubitAllocator
	callbacks CallbackRunner
	rng       *rand.Rand
	logger    log.Logger
}

// New returns a Netstack processor for localNode, submitting EPR requests
// to dist and preparing physical qubits through qubits.
func New(localNode string, dist *netdist.Distributor, qubits QubitAllocator, callbacks CallbackRunner) *Processor {
	return &Processor{
		localNode: localNode,
		dist:      dist,
		qubits:    qubits,
		callbacks: callbacks,
		rng:       rand.New(rand.NewSource(time.Now().UnixNano())),
		logger:    log.New("component", "netstack", "node", localNode),
	}
}

// nextVirtID determines the virtual qubit id pair pairIndex is mapped
// onto, per the request's allocation strategy: "all k" maps every pair
// onto the same constant id, "increment k" maps pair i onto k+i, and
// "custom" looks the id up from the request's explicit list.
func (p *Processor) nextVirtID(req hostlang.Request, pairIndex int) (int, error) {
	switch req.VirtIDAlloc {
	case hostlang.VirtIDAll:
		return req.VirtIDBase, nil
	case hostlang.VirtIDIncrement:
		return req.VirtIDBase + pairIndex, nil
	case hostlang.VirtIDCustom:
		if pairIndex >= len(req.VirtIDs) {
			return 0, fmt.Errorf("netstack: custom virt id allocation has no entry for pair %d", pairIndex)
		}
		return req.VirtIDs[pairIndex], nil
	default:
		return 0, fmt.Errorf("netstack: unknown virt id allocation strategy %d", req.VirtIDAlloc)
	}
}

// RunRequestRoutine submits the routine's request, waits for every pair's
// outcome (subject to the request's own timeout), maps each onto a
// physical slot, and runs callbacks per the routine's callback mode.
// NoMatch and Timeout are reported as per-pair outcomes and never fail
// this routine on their own; only a genuine fidelity-threshold miss or a
// device/allocation error does.
func (p *Processor) RunRequestRoutine(ctx context.Context, pid int, routine hostlang.RequestRoutine, sink ResultSink) error {
	req := routine.Request
	numPairs := req.NumPairs
	if numPairs <= 0 {
		numPairs = 1
	}

	outAddr := sink.Shared().Allocate(sharedmem.KindRequestOut, numPairs)

	now := time.Now()
	outcomes, err := p.dist.Submit(ctx, now, netdist.Request{
		ID:          uuid.New(),
		LocalNode:   p.localNode,
		RemoteNode:  fmt.Sprintf("node-%d", req.RemoteNodeID),
		PID:         pid,
		EPRSocketID: req.EPRSocketID,
		NumPairs:    numPairs,
		Type:        req.Type,
		MinFidelity: req.Fidelity,
		SubmittedAt: now,
	})
	if err != nil {
		return fmt.Errorf("netstack: submitting request %q: %w", req.Name, err)
	}

	var timeoutCh <-chan time.Time
	if req.Timeout > 0 {
		timer := time.NewTimer(time.Duration(req.Timeout))
		defer timer.Stop()
		timeoutCh = timer.C
	}

	timedOut := false
	for i := 0; i < numPairs; i++ {
		var out netdist.Outcome
		switch {
		case timedOut:
			out = netdist.Outcome{PairIndex: i, Reason: netdist.ReasonTimeout}
		default:
			select {
			case o, ok := <-outcomes:
				if !ok {
					return fmt.Errorf("netstack: request %q: distributor closed before pair %d arrived", req.Name, i)
				}
				out = o
			case <-timeoutCh:
				timedOut = true
				out = netdist.Outcome{PairIndex: i, Reason: netdist.ReasonTimeout}
				p.logger.Debug("request timed out", "pid", pid, "request", req.Name, "pair", i)
			case <-ctx.Done():
				return ctx.Err()
			}
		}

		if err := p.handleOutcome(ctx, pid, req, i, out, outAddr, sink); err != nil {
			return err
		}
	}

	if req.Callback == hostlang.CallbackWaitAll && req.CallbackName != "" {
		if err := p.callbacks.RunCallback(ctx, pid, req.CallbackName, -1, numPairs-1); err != nil {
			return fmt.Errorf("netstack: wait-all callback: %w", err)
		}
	}
	return nil
}

// handleOutcome dispatches a single pair's distributor outcome: NoMatch
// and Timeout free nothing (no slot was ever allocated for an
// unresolved pair) and do not fail the routine; anything else either
// delivers the pair or, if it missed the fidelity threshold, fails.
func (p *Processor) handleOutcome(ctx context.Context, pid int, req hostlang.Request, pairIndex int, out netdist.Outcome, outAddr sharedmem.Addr, sink ResultSink) error {
	switch out.Reason {
	case netdist.ReasonNoMatch:
		p.logger.Debug("pair reported no match", "pid", pid, "request", req.Name, "pair", pairIndex)
		return nil
	case netdist.ReasonTimeout:
		p.logger.Debug("pair timed out", "pid", pid, "request", req.Name, "pair", pairIndex)
		return nil
	}
	if !out.Success {
		return fmt.Errorf("netstack: request %q: pair %d failed to meet fidelity threshold", req.Name, pairIndex)
	}
	return p.deliverPair(ctx, pid, req, pairIndex, out, outAddr, sink)
}

func (p *Processor) deliverPair(ctx context.Context, pid int, req hostlang.Request, pairIndex int, out netdist.Outcome, outAddr sharedmem.Addr, sink ResultSink) error {
	virtID, err := p.nextVirtID(req, pairIndex)
	if err != nil {
		return err
	}

	slot, err := p.qubits.AllocateForVirtualID(pid, virtID)
	if err != nil {
		return fmt.Errorf("netstack: allocating slot for pair %d: %w", pairIndex, err)
	}

	if err := p.qubits.Device().AllocateSlot(ctx, slot); err != nil {
		p.logger.Debug("slot already allocated", "slot", slot, "err", err)
	}
	if _, err := p.qubits.Device().PrepareEPRHalf(ctx, slot, out.Fidelity); err != nil {
		return fmt.Errorf("netstack: preparing epr half for pair %d: %w", pairIndex, err)
	}

	switch req.Type {
	case hostlang.EPRMeasureDirectly:
		outcome, err := p.qubits.Device().Measure(ctx, slot)
		if err != nil {
			return fmt.Errorf("netstack: measuring pair %d: %w", pairIndex, err)
		}
		if err := sink.Shared().Write(sharedmem.KindRequestOut, outAddr, []int{outcome}, pairIndex); err != nil {
			return fmt.Errorf("netstack: writing request-out for pair %d: %w", pairIndex, err)
		}
		p.qubits.FreeVirtualID(pid, virtID)
	case hostlang.EPRRemoteStatePrep:
		if err := p.prepareRemoteState(ctx, slot); err != nil {
			return fmt.Errorf("netstack: preparing remote state for pair %d: %w", pairIndex, err)
		}
		outcome, err := p.qubits.Device().Measure(ctx, slot)
		if err != nil {
			return fmt.Errorf("netstack: measuring pair %d: %w", pairIndex, err)
		}
		if err := sink.Shared().Write(sharedmem.KindRequestOut, outAddr, []int{outcome}, pairIndex); err != nil {
			return fmt.Errorf("netstack: writing request-out for pair %d: %w", pairIndex, err)
		}
		p.qubits.FreeVirtualID(pid, virtID)
	case hostlang.EPRCreateKeep:
		// left mapped for the host/qnos code that consumes it next
	}

	if req.Callback == hostlang.CallbackSequential && req.CallbackName != "" {
		if err := p.callbacks.RunCallback(ctx, pid, req.CallbackName, virtID, pairIndex); err != nil {
			return fmt.Errorf("netstack: callback for pair %d: %w", pairIndex, err)
		}
	}
	p.logger.Debug("delivered epr pair", "pid", pid, "pair_index", pairIndex, "virt_id", virtID, "fidelity", out.Fidelity)
	return nil
}

// prepareRemoteState applies the preparation rotation REMOTE_STATE_PREP
// calls for: a gate chosen from a random bit pair, standing in for the
// two classical bits that pin down which of the four remote states the
// local half is steered toward.
func (p *Processor) prepareRemoteState(ctx context.Context, slot int) error {
	bit0 := p.rng.Intn(2)
	bit1 := p.rng.Intn(2)
	gate := qdevice.GateRX
	if bit0^bit1 == 1 {
		gate = qdevice.GateRY
	}
	return p.qubits.Device().ApplyGate(ctx, gate, slot)
}
