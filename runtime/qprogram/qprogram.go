// Package qprogram models a single running instance of a parsed program:
// its classical variable bindings, csocket/epr socket bindings, shared
// memory, and the state machine a process moves through from submission
// to completion. Grounded on the teacher's transaction execution result
// bookkeeping (quest/batch_processor.go's per-shard ExecutionResult
// collection), generalized from "one result per transaction" to "one
// result per quantum-classical program instance".
package qprogram

import (
	"fmt"
	"sync"

	"github.com/qoala-sim/qoala/lang/ehi"
	"github.com/qoala-sim/qoala/lang/hostlang"
	"github.com/qoala-sim/qoala/runtime/sharedmem"
)

// State is a process's position in its lifecycle.
type State int

const (
	StateNew State = iota
	StateRunning
	StateWaitingMsg
	StateWaitingEPR
	StateWaitingQubit
	StateFinished
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateNew:
		return "new"
	case StateRunning:
		return "running"
	case StateWaitingMsg:
		return "waiting-msg"
	case StateWaitingEPR:
		return "waiting-epr"
	case StateWaitingQubit:
		return "waiting-qubit"
	case StateFinished:
		return "finished"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// validTransitions enumerates the state machine's allowed edges.
var validTransitions = map[State]map[State]bool{
	StateNew:         {StateRunning: true},
	StateRunning:     {StateWaitingMsg: true, StateWaitingEPR: true, StateWaitingQubit: true, StateFinished: true, StateFailed: true},
	StateWaitingMsg:  {StateRunning: true, StateFailed: true},
	StateWaitingEPR:  {StateRunning: true, StateFailed: true},
	StateWaitingQubit: {StateRunning: true, StateFailed: true},
}

// ProgramInstance binds a parsed program to one batch member's concrete
// inputs and unit module (its node's hardware view).
type ProgramInstance struct {
	PID        int
	Program    hostlang.Program
	Inputs     map[string]int64
	UnitModule ehi.UnitModule
}

// CSocket is a bound classical channel to a named peer node.
type CSocket struct {
	PeerNode string
	Inbox    chan int64
}

// EPRSocket is a bound entanglement channel to a named peer node.
type EPRSocket struct {
	PeerNode string
}

// Process is a single running program instance: its bindings, its
// memory, and its lifecycle state. The scheduler owns exactly one
// Process per submitted batch member.
type Process struct {
	mu sync.Mutex

	Instance ProgramInstance
	state    State

	vars map[string]int64
	vecs map[string][]int64

	csockets   map[int]*CSocket
	eprSockets map[int]*EPRSocket

	shared *sharedmem.Manager

	result    map[string]int64
	failedErr error
}

// NewProcess builds a fresh process in StateNew over the given instance.
func NewProcess(inst ProgramInstance) *Process {
	p := &Process{
		Instance:   inst,
		state:      StateNew,
		vars:       make(map[string]int64),
		vecs:       make(map[string][]int64),
		csockets:   make(map[int]*CSocket),
		eprSockets: make(map[int]*EPRSocket),
		shared:     sharedmem.New(),
		result:     make(map[string]int64),
	}
	for k, v := range inst.Inputs {
		p.vars[k] = v
	}
	return p
}

// PID satisfies memmgr.ProcessHandle.
func (p *Process) PID() int { return p.Instance.PID }

// Shared returns this process's shared-memory manager.
func (p *Process) Shared() *sharedmem.Manager { return p.shared }

// State returns the process's current lifecycle state.
func (p *Process) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// Transition moves the process to a new state, rejecting any edge not in
// validTransitions.
func (p *Process) Transition(to State) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !validTransitions[p.state][to] {
		return fmt.Errorf("qprogram: illegal transition %s -> %s", p.state, to)
	}
	p.state = to
	return nil
}

// BindCSocket registers a classical socket to a peer node.
func (p *Process) BindCSocket(id int, peerNode string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.csockets[id] = &CSocket{PeerNode: peerNode, Inbox: make(chan int64, 16)}
}

// BindEPRSocket registers an entanglement socket to a peer node.
func (p *Process) BindEPRSocket(id int, peerNode string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.eprSockets[id] = &EPRSocket{PeerNode: peerNode}
}

// CSocketByName resolves a csocket name (as used in host programs, where
// sockets are addressed by peer node name) to its inbox.
func (p *Process) CSocketByName(peerNode string) (*CSocket, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, s := range p.csockets {
		if s.PeerNode == peerNode {
			return s, true
		}
	}
	return nil, false
}

// GetVar, SetVar, GetVec, SetVec implement the classical variable store
// half of hostlang.ExecContext.
func (p *Process) GetVar(name string) (int64, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	v, ok := p.vars[name]
	return v, ok
}

func (p *Process) SetVar(name string, v int64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.vars[name] = v
}

func (p *Process) GetVec(name string) ([]int64, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	v, ok := p.vecs[name]
	return v, ok
}

func (p *Process) SetVec(name string, v []int64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.vecs[name] = v
}

// ReturnResult copies a classical variable into the process's final
// result map.
func (p *Process) ReturnResult(varName string) error {
	v, ok := p.GetVar(varName)
	if !ok {
		return fmt.Errorf("qprogram: return_result: unbound variable %q", varName)
	}
	p.mu.Lock()
	p.result[varName] = v
	p.mu.Unlock()
	return nil
}

// Result returns a copy of the process's accumulated result bindings.
func (p *Process) Result() map[string]int64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make(map[string]int64, len(p.result))
	for k, v := range p.result {
		out[k] = v
	}
	return out
}

// Fail records a terminal error and transitions to StateFailed.
func (p *Process) Fail(err error) {
	p.mu.Lock()
	p.failedErr = err
	p.state = StateFailed
	p.mu.Unlock()
}

// Err returns the error that failed the process, if any.
func (p *Process) Err() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.failedErr
}

// BatchInfo describes a submitted batch: the program all its instances
// share and their individual inputs.
type BatchInfo struct {
	Program   hostlang.Program
	AllInputs []map[string]int64
}

// BatchResult collects every instance's outcome for a submitted batch.
type BatchResult struct {
	Results []ProgramResult
}

// ProgramResult is one process instance's terminal outcome.
type ProgramResult struct {
	PID     int
	State   State
	Result  map[string]int64
	Err     error
}
