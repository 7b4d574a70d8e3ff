// Package qdevice defines the narrow contract through which the rest of
// the runtime reaches the physical qubit array. The physics (noise models,
// density matrices) lives behind this interface and is out of scope here;
// this package only carries the abstract allocate/apply/measure/free
// contract plus a deterministic stub implementation used by tests and by
// callers that do not need a real physical simulator.
package qdevice

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"

	"golang.org/x/sync/semaphore"
)

// ErrSlotInUse is returned by Allocate when the requested physical slot
// already holds state.
var ErrSlotInUse = errors.New("qdevice: physical slot already in use")

// ErrSlotFree is returned by operations that require an allocated slot.
var ErrSlotFree = errors.New("qdevice: physical slot is not allocated")

// ErrNoSuchSlot is returned when a physical slot index is out of range.
var ErrNoSuchSlot = errors.New("qdevice: no such physical slot")

// Gate identifies a single-qubit or multi-qubit operation.
type Gate string

const (
	GateHadamard Gate = "H"
	GatePauliX   Gate = "X"
	GatePauliY   Gate = "Y"
	GatePauliZ   Gate = "Z"
	GateCNOT     Gate = "CNOT"
	GateRX       Gate = "RX"
	GateRY       Gate = "RY"
	GateRZ       Gate = "RZ"
)

// QDevice is the abstract physical qubit array every node owns exactly one
// of. All methods address physical slot indices; virtual-to-physical
// translation is the memory manager's job, not this interface's.
type QDevice interface {
	// NumSlots returns the number of physical qubit slots this device has.
	NumSlots() int
	// AllocateSlot marks a physical slot as holding live state.
	AllocateSlot(ctx context.Context, slot int) error
	// FreeSlot releases a physical slot back to the device. Idempotent.
	FreeSlot(ctx context.Context, slot int) error
	// ApplyGate applies a gate to one or more allocated slots.
	ApplyGate(ctx context.Context, gate Gate, slots ...int) error
	// Measure measures a slot, collapsing it, and returns the classical
	// outcome (0 or 1).
	Measure(ctx context.Context, slot int) (int, error)
	// PrepareEPRHalf prepares a slot as the local half of a fresh Bell
	// pair with the given target fidelity, returning success.
	PrepareEPRHalf(ctx context.Context, slot int, fidelity float64) (bool, error)
}

// StubDevice is a deterministic, in-memory QDevice used by tests and by
// any caller that does not need a physical noise model. It bounds
// concurrent gate application with a semaphore, mirroring a real device's
// single-operation-at-a-time constraint.
type StubDevice struct {
	mu       sync.Mutex
	occupied []bool
	sem      *semaphore.Weighted
	rng      *rand.Rand
}

// NewStubDevice returns a StubDevice with the given number of physical
// slots. seed makes outcome sampling reproducible across test runs.
func NewStubDevice(numSlots int, seed int64) *StubDevice {
	return &StubDevice{
		occupied: make([]bool, numSlots),
		sem:      semaphore.NewWeighted(1),
		rng:      rand.New(rand.NewSource(seed)),
	}
}

func (d *StubDevice) NumSlots() int { return len(d.occupied) }

func (d *StubDevice) checkSlot(slot int) error {
	if slot < 0 || slot >= len(d.occupied) {
		return fmt.Errorf("%w: slot %d", ErrNoSuchSlot, slot)
	}
	return nil
}

func (d *StubDevice) AllocateSlot(ctx context.Context, slot int) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.checkSlot(slot); err != nil {
		return err
	}
	if d.occupied[slot] {
		return fmt.Errorf("%w: slot %d", ErrSlotInUse, slot)
	}
	d.occupied[slot] = true
	return nil
}

func (d *StubDevice) FreeSlot(ctx context.Context, slot int) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.checkSlot(slot); err != nil {
		return err
	}
	d.occupied[slot] = false
	return nil
}

func (d *StubDevice) ApplyGate(ctx context.Context, gate Gate, slots ...int) error {
	if err := d.sem.Acquire(ctx, 1); err != nil {
		return err
	}
	defer d.sem.Release(1)

	d.mu.Lock()
	defer d.mu.Unlock()
	for _, s := range slots {
		if err := d.checkSlot(s); err != nil {
			return err
		}
		if !d.occupied[s] {
			return fmt.Errorf("%w: slot %d", ErrSlotFree, s)
		}
	}
	return nil
}

func (d *StubDevice) Measure(ctx context.Context, slot int) (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.checkSlot(slot); err != nil {
		return 0, err
	}
	if !d.occupied[slot] {
		return 0, fmt.Errorf("%w: slot %d", ErrSlotFree, slot)
	}
	return d.rng.Intn(2), nil
}

func (d *StubDevice) PrepareEPRHalf(ctx context.Context, slot int, fidelity float64) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.checkSlot(slot); err != nil {
		return false, err
	}
	if !d.occupied[slot] {
		return false, fmt.Errorf("%w: slot %d", ErrSlotFree, slot)
	}
	return d.rng.Float64() < fidelity, nil
}
