// Package qnos implements the Qnos processor: it runs a process's local
// routines by mapping each virtual qubit the routine touches to a
// physical slot (via memmgr), replaying the routine's gate/measurement
// instructions against the physical device (via qdevice), and feeding
// measurement outcomes back into the host's classical variable space.
// Grounded on the teacher's QuantumProcessor gate-dispatch loop
// (quest/processor/quantum_processor.go), generalized from "decode one
// EVM opcode at a time" to "replay one quantum instruction at a time".
package qnos

import (
	"context"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/log"

	"github.com/qoala-sim/qoala/lang/hostlang"
	"github.com/qoala-sim/qoala/memmgr"
	"github.com/qoala-sim/qoala/qdevice"
	"github.com/qoala-sim/qoala/runtime/qprogram"
	"github.com/qoala-sim/qoala/runtime/task"
)

// Registry resolves a pid to its running process, mirroring sim/host's
// registry so the Qnos driver can look up a task's pid to find both the
// routine it names and the process whose variables it reads/writes. It
// also exposes the scheduler's allocate/free-around-routine bookkeeping,
// so TaskRunner can bracket every QNOS-local task with it.
type Registry interface {
	Process(pid int) (*qprogram.Process, bool)
	AllocateQubitsForRoutine(pid int, virtualIDs []int) ([]int, error)
	FreeQubitsAfterRoutine(pid int, virtualIDs, keep []int)
}

// TaskRunner adapts a Processor into sim/driver.Runner for
// task.KindLocalRoutine tasks, resolving each task's named routine from
// the owning process's program.
type TaskRunner struct {
	Proc     *Processor
	Registry Registry
}

// RunTask satisfies sim/driver.Runner. It allocates every virtual qubit
// the routine declares before running it and frees the ones it did not
// declare as kept afterward, so a later routine that reuses a kept
// virtual id finds it still mapped to the same physical slot.
func (r TaskRunner) RunTask(ctx context.Context, t task.Task) error {
	proc, ok := r.Registry.Process(t.PID)
	if !ok {
		return fmt.Errorf("qnos: unknown process %d", t.PID)
	}
	routine, ok := proc.Instance.Program.LocalRoutines[t.Name]
	if !ok {
		return fmt.Errorf("qnos: unknown local routine %q", t.Name)
	}

	if _, err := r.Registry.AllocateQubitsForRoutine(t.PID, routine.VirtualIDs); err != nil {
		return fmt.Errorf("qnos: task %q: %w", t.Name, err)
	}
	if err := r.Proc.RunLocalRoutine(ctx, t.PID, routine, proc); err != nil {
		return err
	}
	r.Registry.FreeQubitsAfterRoutine(t.PID, routine.VirtualIDs, routine.QubitKeep)
	return nil
}

// ResultSink receives a local routine's measurement outcomes, keyed by
// the classical variable name the routine's instructions bound them to.
// qprogram.Process satisfies it; TaskRunner passes the owning process.
type ResultSink interface {
	SetVar(name string, val int64)
}

// Processor runs local routines for a single node. One Processor is
// shared by every process on the node, mirroring the memory manager and
// physical device it wraps also being node-wide.
type Processor struct {
	mem    *memmgr.MemoryManager
	device qdevice.QDevice
	logger log.Logger
}

// New returns a Qnos processor over the given node's memory manager and
// physical device.
func New(mem *memmgr.MemoryManager, device qdevice.QDevice) *Processor {
	return &Processor{mem: mem, device: device, logger: log.New("component", "qnos")}
}

// RunLocalRoutine allocates physical slots for every virtual qubit the
// routine declares, replays its instructions against the device, and
// writes any measurement outcomes into sink. Allocated slots are left
// mapped after the routine returns; callers free them explicitly (the
// scheduler does this at routine boundaries per AllocateQubitsForRoutine/
// FreeQubitsAfterRoutine).
func (p *Processor) RunLocalRoutine(ctx context.Context, pid int, routine hostlang.LocalRoutine, sink ResultSink) error {
	phys := make(map[int]int, len(routine.VirtualIDs))
	for _, v := range routine.VirtualIDs {
		slot, err := p.mem.Allocate(pid, v)
		if err != nil {
			return fmt.Errorf("qnos: allocating virtual qubit %d: %w", v, err)
		}
		// The memory manager's mapping may already exist from an earlier
		// routine call against the same virtual id; the device's own
		// occupied bit only needs to be set once.
		if err := p.device.AllocateSlot(ctx, slot); err != nil && !errors.Is(err, qdevice.ErrSlotInUse) {
			return fmt.Errorf("qnos: allocating device slot %d: %w", slot, err)
		}
		phys[v] = slot
	}

	for i, instr := range routine.Instructions {
		slots := make([]int, len(instr.VirtualIDs))
		for j, v := range instr.VirtualIDs {
			slot, ok := phys[v]
			if !ok {
				return fmt.Errorf("qnos: instruction %d references unmapped virtual qubit %d", i, v)
			}
			slots[j] = slot
		}

		if err := p.device.ApplyGate(ctx, instr.Gate, slots...); err != nil {
			return fmt.Errorf("qnos: instruction %d gate %s: %w", i, instr.Gate, err)
		}

		if instr.MeasureTo != "" {
			outcome, err := p.device.Measure(ctx, slots[0])
			if err != nil {
				return fmt.Errorf("qnos: instruction %d measure: %w", i, err)
			}
			sink.SetVar(instr.MeasureTo, int64(outcome))
			p.logger.Debug("measured qubit", "pid", pid, "virt_id", instr.VirtualIDs[0], "outcome", outcome)
		}
	}
	return nil
}

// AllocateForVirtualID exposes a single virtual-qubit allocation, used
// by the netstack processor when it needs to reserve the slot that will
// hold an incoming EPR half before the request routine runs.
func (p *Processor) AllocateForVirtualID(pid, virtID int) (int, error) {
	return p.mem.Allocate(pid, virtID)
}

// FreeVirtualID releases a virtual qubit mapping once a routine no
// longer needs the physical slot behind it.
func (p *Processor) FreeVirtualID(pid, virtID int) {
	p.mem.Free(pid, virtID)
}

// Device exposes the underlying physical device for netstack's direct
// EPR-half preparation calls.
func (p *Processor) Device() qdevice.QDevice { return p.device }

// MemoryManager exposes the underlying memory manager for the scheduler's
// allocate/free-around-routine bookkeeping.
func (p *Processor) MemoryManager() *memmgr.MemoryManager { return p.mem }
