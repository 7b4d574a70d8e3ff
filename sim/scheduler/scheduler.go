// Package scheduler ties a node's processors (Host, Qnos, Netstack)
// together behind the process registry, task graph and driver bus that
// make a submitted batch of program instances actually run. Grounded on
// the teacher's ParallelRunner (core/vm/parallel_runner.go), generalized
// from "group and run transactions against one EVM" to "initialize and
// run process instances against one node's Host/Qnos/Netstack stack".
package scheduler

import (
	"context"
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/log"

	"github.com/qoala-sim/qoala/memmgr"
	"github.com/qoala-sim/qoala/runtime/qprogram"
	"github.com/qoala-sim/qoala/runtime/task"
	"github.com/qoala-sim/qoala/sim/driver"
	"github.com/qoala-sim/qoala/sim/host"
	"github.com/qoala-sim/qoala/sim/netstack"
	"github.com/qoala-sim/qoala/sim/qnos"
)

// Solver decides, for each processor, the order in which a node's
// resident tasks across every process run. No implementation ships, and
// UploadTaskGraph does not consult an installed Solver: processes run
// concurrently, each respecting its own task-graph precedence edges.
type Solver interface {
	Solve(graphs []*task.Graph) (map[task.Processor][]scheduledTask, error)
}

type scheduledTask struct {
	pid int
	id  task.ID
}

// Scheduler owns a node's process registry and drives submitted batches
// to completion against the node's Host/Qnos/Netstack processors.
type Scheduler struct {
	mu sync.Mutex

	nodeName string
	mem      *memmgr.MemoryManager

	processes map[int]*qprogram.Process
	nextPID   int

	creator task.Creator
	bus     *driver.Bus
	solver  Solver

	hostProc     *host.Processor
	qnosProc     *qnos.Processor
	netstackProc *netstack.Processor

	logger log.Logger
}

// New builds a Scheduler wired to the given node's processors.
func New(nodeName string, mem *memmgr.MemoryManager, hostProc *host.Processor, qnosProc *qnos.Processor, netstackProc *netstack.Processor) *Scheduler {
	return &Scheduler{
		nodeName:     nodeName,
		mem:          mem,
		processes:    make(map[int]*qprogram.Process),
		creator:      task.NewCreator(),
		bus:          driver.NewBus(),
		hostProc:     hostProc,
		qnosProc:     qnosProc,
		netstackProc: netstackProc,
		logger:       log.New("component", "scheduler", "node", nodeName),
	}
}

// Process satisfies host.Registry/qnos.Registry/netstack.Registry.
func (s *Scheduler) Process(pid int) (*qprogram.Process, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.processes[pid]
	return p, ok
}

// SolveAndInstallSchedule stores a task-ordering solver (nil clears it).
// The stored solver is not consulted when task graphs run.
func (s *Scheduler) SolveAndInstallSchedule(solver Solver) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.solver = solver
}

// InitializeProcesses builds one Process per batch instance, assigns
// fresh PIDs, registers them with the memory manager, and returns the
// PIDs in submission order.
func (s *Scheduler) InitializeProcesses(batch qprogram.BatchInfo) []int {
	s.mu.Lock()
	defer s.mu.Unlock()

	pids := make([]int, 0, len(batch.AllInputs))
	for _, inputs := range batch.AllInputs {
		pid := s.nextPID
		s.nextPID++

		proc := qprogram.NewProcess(qprogram.ProgramInstance{
			PID:     pid,
			Program: batch.Program,
			Inputs:  inputs,
		})
		s.processes[pid] = proc
		s.mem.AddProcess(proc)
		pids = append(pids, pid)
	}
	s.logger.Debug("initialized processes", "count", len(pids))
	return pids
}

// GetTasksToSchedule builds the task graph for every given pid's program,
// in ROUTINE_ATOMIC mode.
func (s *Scheduler) GetTasksToSchedule(pids []int) ([]*task.Graph, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	graphs := make([]*task.Graph, 0, len(pids))
	for _, pid := range pids {
		proc, ok := s.processes[pid]
		if !ok {
			return nil, fmt.Errorf("scheduler: unknown process %d", pid)
		}
		g := s.creator.Create(pid, proc.Instance.Program)
		if err := g.Validate(); err != nil {
			return nil, fmt.Errorf("scheduler: process %d: %w", pid, err)
		}
		graphs = append(graphs, g)
	}
	return graphs, nil
}

// UploadTaskGraph runs every pid's task graph to completion against the
// node's Host/Qnos/Netstack processors, transitioning each process
// through its lifecycle states as it goes. Processes run concurrently
// with each other; within one process, precedence edges are respected via
// the scheduler's driver bus.
func (s *Scheduler) UploadTaskGraph(ctx context.Context, graphs []*task.Graph) qprogram.BatchResult {
	var wg sync.WaitGroup
	results := make([]qprogram.ProgramResult, len(graphs))

	for i, g := range graphs {
		wg.Add(1)
		go func(i int, g *task.Graph) {
			defer wg.Done()
			results[i] = s.runOne(ctx, g)
		}(i, g)
	}
	wg.Wait()
	return qprogram.BatchResult{Results: results}
}

func (s *Scheduler) runOne(ctx context.Context, g *task.Graph) qprogram.ProgramResult {
	proc, _ := s.Process(g.PID)
	_ = proc.Transition(qprogram.StateRunning)

	hostRunner := s.hostProc
	qnosRunner := qnos.TaskRunner{Proc: s.qnosProc, Registry: s}
	netstackRunner := netstack.TaskRunner{Proc: s.netstackProc, Registry: s}

	err := driver.RunProcess(ctx, g, s.bus, hostRunner, qnosRunner, netstackRunner)
	if err != nil {
		proc.Fail(err)
		return qprogram.ProgramResult{PID: g.PID, State: qprogram.StateFailed, Result: proc.Result(), Err: err}
	}
	_ = proc.Transition(qprogram.StateFinished)
	return qprogram.ProgramResult{PID: g.PID, State: qprogram.StateFinished, Result: proc.Result()}
}

// GetBatchResults returns the terminal result for every pid, in the
// order given. Processes that have not yet finished are reported in
// their current state with the result bindings they hold so far.
func (s *Scheduler) GetBatchResults(pids []int) qprogram.BatchResult {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]qprogram.ProgramResult, 0, len(pids))
	for _, pid := range pids {
		proc, ok := s.processes[pid]
		if !ok {
			continue
		}
		out = append(out, qprogram.ProgramResult{
			PID:    pid,
			State:  proc.State(),
			Result: proc.Result(),
			Err:    proc.Err(),
		})
	}
	return qprogram.BatchResult{Results: out}
}

// AllocateQubitsForRoutine reserves physical slots for every virtual
// qubit a routine declares, ahead of the routine actually running, so
// the scheduler can decide whether to dispatch it at all (if allocation
// fails the caller should hold the task back and retry once memmgr
// signals a free).
func (s *Scheduler) AllocateQubitsForRoutine(pid int, virtualIDs []int) ([]int, error) {
	phys := make([]int, 0, len(virtualIDs))
	for _, v := range virtualIDs {
		slot, err := s.mem.Allocate(pid, v)
		if err != nil {
			for _, allocated := range virtualIDs[:len(phys)] {
				s.mem.Free(pid, allocated)
			}
			return nil, fmt.Errorf("scheduler: allocating qubits for pid %d: %w", pid, err)
		}
		phys = append(phys, slot)
	}
	return phys, nil
}

// FreeQubitsAfterRoutine releases every virtual qubit a routine declared,
// once it has finished with them, except those also named in keep: a
// CREATE_KEEP request or a SUBROUTINE's keeps: list leaves its kept
// virtual qubits allocated across the routine boundary.
func (s *Scheduler) FreeQubitsAfterRoutine(pid int, virtualIDs, keep []int) {
	kept := make(map[int]bool, len(keep))
	for _, v := range keep {
		kept[v] = true
	}
	for _, v := range virtualIDs {
		if kept[v] {
			continue
		}
		s.mem.Free(pid, v)
	}
}

// SubmitBatch is the single entry point a caller uses to run a batch of
// program instances to completion: it initializes processes, builds and
// validates their task graphs, runs them, and returns every instance's
// result.
func (s *Scheduler) SubmitBatch(ctx context.Context, batch qprogram.BatchInfo) (qprogram.BatchResult, error) {
	pids := s.InitializeProcesses(batch)
	graphs, err := s.GetTasksToSchedule(pids)
	if err != nil {
		return qprogram.BatchResult{}, err
	}
	return s.UploadTaskGraph(ctx, graphs), nil
}
