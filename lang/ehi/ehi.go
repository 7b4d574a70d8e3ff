// Package ehi defines the Exposed Hardware Info descriptor: the hardware
// capabilities a node offers to a compiler/scheduler, generalized from the
// teacher's runtime capability detector (quest/utils.HardwareInfo) from
// "how many CPU cores/GPUs are present" to "which qubits exist and what
// role they can play".
package ehi

// QubitCapability describes what a physical qubit slot can be used for.
type QubitCapability int

const (
	// CapabilityMemory means the qubit can only hold local quantum state;
	// it cannot be the local half of an EPR pair.
	CapabilityMemory QubitCapability = iota
	// CapabilityCommunication means the qubit can serve as the local half
	// of an entangled pair (and also as ordinary memory).
	CapabilityCommunication
)

// QubitInfo is the per-qubit entry of a node's hardware descriptor.
type QubitInfo struct {
	IsCommunication bool
	DecoherenceRate float64 // rate per second
}

func (q QubitInfo) Capability() QubitCapability {
	if q.IsCommunication {
		return CapabilityCommunication
	}
	return CapabilityMemory
}

// GateInfo describes the cost of applying a gate to a fixed set of qubits.
type GateInfo struct {
	Instruction string
	Duration    int64 // ns
	Decoherence []float64
}

// ExposedHardwareInfo is the hardware made available to the offline
// compiler and to the scheduler. It never mutates after construction.
type ExposedHardwareInfo struct {
	QubitInfos      map[int]QubitInfo // qubit ID -> info
	SingleGateInfos map[int][]GateInfo
	MultiGateInfos  map[string][]GateInfo // key: comma-joined qubit IDs in order
}

// NumQubits returns the number of physical qubit slots described.
func (e ExposedHardwareInfo) NumQubits() int {
	return len(e.QubitInfos)
}

// UnitModule wraps an ExposedHardwareInfo as the virtual memory space
// target that compilers and schedulers are written against. Only the
// memory manager is meant to reach into the full ExposedHardwareInfo.
type UnitModule struct {
	Info ExposedHardwareInfo
}

// NewUnitModule builds a UnitModule from a hardware descriptor.
func NewUnitModule(info ExposedHardwareInfo) UnitModule {
	return UnitModule{Info: info}
}

// IsCommunication reports whether a qubit ID can be used for entanglement.
func (u UnitModule) IsCommunication(qubitID int) bool {
	info, ok := u.Info.QubitInfos[qubitID]
	return ok && info.IsCommunication
}

// VirtualIDs returns every virtual qubit ID the unit module exposes,
// in ascending order.
func (u UnitModule) VirtualIDs() []int {
	ids := make([]int, 0, len(u.Info.QubitInfos))
	for id := range u.Info.QubitInfos {
		ids = append(ids, id)
	}
	for i := 1; i < len(ids); i++ {
		for j := i; j > 0 && ids[j-1] > ids[j]; j-- {
			ids[j-1], ids[j] = ids[j], ids[j-1]
		}
	}
	return ids
}
