package hostlang

import (
	"fmt"

	"github.com/qoala-sim/qoala/qdevice"
)

// QInstr is a single quantum-local instruction within a LocalRoutine: a
// gate applied to one or more virtual qubits, optionally followed by a
// measurement bound to a classical result variable.
type QInstr struct {
	Gate       qdevice.Gate
	VirtualIDs []int
	MeasureTo  string // empty if this instruction does not measure
}

// BasicBlock is a named, contiguous run of HostOps of uniform InstrType.
// Jump and Branch targets are instruction indices within the same block;
// control never jumps across block boundaries, which keeps the block the
// right granularity for the task graph to schedule as one unit.
type BasicBlock struct {
	Name         string
	Type         InstrType
	Instructions []HostOp

	// Deadlines maps an instruction index to a simulated-time deadline in
	// nanoseconds by which that instruction must have started. lang/parse
	// creates it empty and adds no entries from program text.
	Deadlines map[int]int64
}

// RoutineMetadata carries the parameters shared by local and request
// routines: a name, the classical variable vector the caller supplies as
// arguments, and the vector it receives back as a result.
type RoutineMetadata struct {
	Name    string
	Args    Vector
	Results Vector
}

// LocalRoutine is a pre-compiled sequence of quantum-local (QL) operations,
// invoked by a host's run_subroutine instruction. Instructions lists its
// gates and measurements on virtual qubits as QInstr values rather than
// HostOps; sim/qnos replays them when the routine runs.
type LocalRoutine struct {
	RoutineMetadata
	VirtualIDs   []int // virtual qubit ids this routine touches
	QubitKeep    []int // subset of VirtualIDs that stay allocated once the routine returns
	Instructions []QInstr
}

// EPRType distinguishes the entanglement-generation mode a request asks
// the network stack to carry out.
type EPRType int

const (
	EPRCreateKeep EPRType = iota
	EPRMeasureDirectly
	EPRRemoteStatePrep
)

func (e EPRType) String() string {
	switch e {
	case EPRCreateKeep:
		return "create_keep"
	case EPRMeasureDirectly:
		return "measure_directly"
	case EPRRemoteStatePrep:
		return "remote_state_prep"
	default:
		return "unknown"
	}
}

// VirtIDAllocStrategy controls how a request routine picks which virtual
// qubit id each produced pair is mapped onto.
type VirtIDAllocStrategy int

const (
	VirtIDAll VirtIDAllocStrategy = iota
	VirtIDIncrement
	VirtIDCustom
)

// CallbackMode controls whether per-pair callback routines run as each
// pair completes (Sequential) or once after every pair has (WaitAll).
type CallbackMode int

const (
	CallbackSequential CallbackMode = iota
	CallbackWaitAll
)

// Role distinguishes which side of an entanglement request creates the
// pair versus receives it. Both sides of a bidirectional request submit a
// Request; only the role differs.
type Role int

const (
	RoleCreate Role = iota
	RoleReceive
)

func (r Role) String() string {
	switch r {
	case RoleCreate:
		return "create"
	case RoleReceive:
		return "receive"
	default:
		return "unknown"
	}
}

// Request describes a single entanglement-generation request: how many
// pairs, with whom, at what fidelity, and what to do with each pair once
// it arrives.
type Request struct {
	Name         string
	RemoteNodeID int
	EPRSocketID  int
	NumPairs     int
	Type         EPRType
	VirtIDAlloc  VirtIDAllocStrategy
	VirtIDBase   int   // base k for VirtIDAll ("all k") and VirtIDIncrement ("increment k")
	VirtIDs      []int // only meaningful when VirtIDAlloc == VirtIDCustom
	Callback     CallbackMode
	CallbackName string // name of the local routine run per spec's callback rules
	Timeout      int64  // ns; zero means no request-level timeout
	Fidelity     float64
	Role         Role
}

// RequestRoutine binds a Request to the host-visible routine metadata a
// run_request instruction invokes.
type RequestRoutine struct {
	RoutineMetadata
	Request Request
}

// ProgramMeta carries the program-level metadata block (META_START/END):
// declared csockets, epr sockets and the program's declared name.
type ProgramMeta struct {
	Name        string
	CSockets    map[int]string // csocket id -> peer node name
	EPRSockets  map[int]string // epr socket id -> peer node name
}

// Program is a fully parsed host program: its metadata, its ordered basic
// blocks, and the local/request routines its run_subroutine/run_request
// instructions can name.
type Program struct {
	Meta            ProgramMeta
	Blocks          []BasicBlock
	LocalRoutines   map[string]LocalRoutine
	RequestRoutines map[string]RequestRoutine
}

// BlockByName returns the block with the given name, if present.
func (p Program) BlockByName(name string) (BasicBlock, bool) {
	for _, b := range p.Blocks {
		if b.Name == name {
			return b, true
		}
	}
	return BasicBlock{}, false
}

// Validate checks the structural invariants a parsed or hand-built program
// must satisfy before it can be scheduled: every run_subroutine/run_request
// names a routine that exists and is the last instruction of its block,
// and every block's Jump/Branch targets are in-bounds for that block.
func (p Program) Validate() error {
	for _, b := range p.Blocks {
		for i, instr := range b.Instructions {
			switch op := instr.(type) {
			case RunSubroutineOp:
				if _, ok := p.LocalRoutines[op.SubRoutine]; !ok {
					return fmt.Errorf("block %q instr %d: unknown local routine %q", b.Name, i, op.SubRoutine)
				}
				if i != len(b.Instructions)-1 {
					return fmt.Errorf("block %q instr %d: run_subroutine must be the last instruction of its block", b.Name, i)
				}
			case RunRequestOp:
				if _, ok := p.RequestRoutines[op.Request]; !ok {
					return fmt.Errorf("block %q instr %d: unknown request routine %q", b.Name, i, op.Request)
				}
				if i != len(b.Instructions)-1 {
					return fmt.Errorf("block %q instr %d: run_request must be the last instruction of its block", b.Name, i)
				}
			case JumpOp:
				if op.TargetPC < 0 || op.TargetPC >= len(b.Instructions) {
					return fmt.Errorf("block %q instr %d: jump target %d out of range", b.Name, i, op.TargetPC)
				}
			case BranchOp:
				if op.TargetPC < 0 || op.TargetPC >= len(b.Instructions) {
					return fmt.Errorf("block %q instr %d: branch target %d out of range", b.Name, i, op.TargetPC)
				}
			}
		}
	}
	return nil
}
