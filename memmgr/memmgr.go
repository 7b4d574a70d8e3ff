// Package memmgr maps virtual program qubits to physical device qubits
// and enforces the lifecycle rules across a node's concurrent processes.
// Grounded on the teacher's QuantumProcessor resource bookkeeping
// (quest/processor/quantum_processor.go), generalized from a single
// op-count budget to a per-(process, virtual-id) physical slot map.
package memmgr

import (
	"errors"
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/log"

	"github.com/qoala-sim/qoala/lang/ehi"
)

// ErrOutOfQubits is returned by Allocate when no physical slot with the
// required capability is free.
var ErrOutOfQubits = errors.New("memmgr: out of qubits")

// ErrUnknownProcess names the condition of a pid with no registered
// process. GetProcess reports it through its boolean result and does not
// return this error.
var ErrUnknownProcess = errors.New("memmgr: unknown process")

// ErrNotMapped names the condition of a virtual ID with no mapping.
// PhysIDFor reports it through its boolean result and does not return
// this error.
var ErrNotMapped = errors.New("memmgr: virtual id not mapped")

// key identifies a single virtual qubit within a process.
type key struct {
	pid    int
	virtID int
}

// ProcessHandle is the minimal view the memory manager needs of a process:
// enough to identify it by pid. The
// scheduler owns the concrete process type; memmgr only needs an opaque
// handle to add/get.
type ProcessHandle interface {
	PID() int
}

// MemoryManager owns the physical qubit array's allocation state for a
// single node. All virtual qubit IDs are scoped per-process: the same
// virtual ID in two different processes maps to at most the same physical
// slot only by coincidence of re-use after a free, never concurrently.
type MemoryManager struct {
	mu sync.Mutex

	ehi ehi.ExposedHardwareInfo

	// physOwner[slot] is the (pid, virtID) currently occupying a physical
	// slot, or nil if free.
	physOwner []*key
	// virtToPhys is the (pid, virtID) -> physical slot map.
	virtToPhys map[key]int

	processes map[int]ProcessHandle

	// waiters are notified (by closing the channel) whenever any qubit is
	// freed; waiters must re-check their own condition, per the spec's
	// coalesced-wake invariant.
	waiters []chan struct{}

	logger log.Logger
}

// New builds a MemoryManager over the given hardware descriptor.
func New(hw ehi.ExposedHardwareInfo) *MemoryManager {
	return &MemoryManager{
		ehi:        hw,
		physOwner:  make([]*key, hw.NumQubits()),
		virtToPhys: make(map[key]int),
		processes:  make(map[int]ProcessHandle),
		logger:     log.New("component", "memmgr"),
	}
}

// AddProcess registers a process with the memory manager.
func (m *MemoryManager) AddProcess(p ProcessHandle) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.processes[p.PID()] = p
}

// GetProcess returns the process handle for pid, if registered.
func (m *MemoryManager) GetProcess(pid int) (ProcessHandle, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.processes[pid]
	return p, ok
}

// GetEHI returns the hardware descriptor this memory manager was built on.
func (m *MemoryManager) GetEHI() ehi.ExposedHardwareInfo {
	return m.ehi
}

// Allocate maps a virtual qubit to the lowest-numbered free physical slot
// whose capability satisfies the virtual id's declared role in the
// hardware descriptor. Two different (pid, virtID) pairs are never mapped
// to the same physical slot at the same time.
func (m *MemoryManager) Allocate(pid, virtID int) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	k := key{pid, virtID}
	if slot, ok := m.virtToPhys[k]; ok {
		return slot, nil // already allocated: idempotent
	}

	needsComm := m.ehi.QubitInfos[virtID].IsCommunication

	for slot := 0; slot < len(m.physOwner); slot++ {
		if m.physOwner[slot] != nil {
			continue
		}
		info, ok := m.ehi.QubitInfos[slot]
		if !ok {
			continue
		}
		if needsComm && !info.IsCommunication {
			continue
		}
		owner := k
		m.physOwner[slot] = &owner
		m.virtToPhys[k] = slot
		m.logger.Debug("allocated qubit", "pid", pid, "virt_id", virtID, "phys_id", slot)
		return slot, nil
	}

	return 0, fmt.Errorf("%w: pid=%d virt_id=%d", ErrOutOfQubits, pid, virtID)
}

// Free releases the physical slot mapped to (pid, virtID). Freeing an
// unmapped pair leaves the mapping unchanged (idempotent). Any waiter
// registered via AwaitFreed is woken; a single wake may cover multiple
// frees, so waiters must re-check their condition.
func (m *MemoryManager) Free(pid, virtID int) {
	m.mu.Lock()
	k := key{pid, virtID}
	slot, ok := m.virtToPhys[k]
	if ok {
		delete(m.virtToPhys, k)
		m.physOwner[slot] = nil
		m.logger.Debug("freed qubit", "pid", pid, "virt_id", virtID, "phys_id", slot)
	}
	waiters := m.waiters
	m.waiters = nil
	m.mu.Unlock()

	for _, w := range waiters {
		close(w)
	}
}

// PhysIDFor returns the physical slot mapped to (pid, virtID), if any.
func (m *MemoryManager) PhysIDFor(pid, virtID int) (int, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	slot, ok := m.virtToPhys[key{pid, virtID}]
	return slot, ok
}

// AwaitFreed returns a channel that is closed the next time any qubit in
// this memory manager is freed. Callers must re-check phys_id_for after
// waking, since the free that triggered the wake may not be the one they
// care about.
func (m *MemoryManager) AwaitFreed() <-chan struct{} {
	m.mu.Lock()
	defer m.mu.Unlock()
	ch := make(chan struct{})
	m.waiters = append(m.waiters, ch)
	return ch
}
