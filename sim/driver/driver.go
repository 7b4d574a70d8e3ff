// Package driver runs a process's projected per-processor schedules,
// enforcing cross-processor precedence edges through a shared signal bus.
// Grounded on the teacher's ParallelEVM group execution
// (core/vm/parallel_evm.go), generalized from "run a group of
// independent transactions concurrently, barrier between groups" to "run
// the host, qnos and netstack schedules concurrently, synchronized only at the
// precedence edges the task graph actually names", using
// golang.org/x/sync/errgroup the way the pack runs concurrent,
// error-propagating worker sets.
package driver

import (
	"context"
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/log"
	"golang.org/x/sync/errgroup"

	"github.com/qoala-sim/qoala/runtime/task"
)

// Runner executes a single task. Concrete implementations live in
// sim/host, sim/qnos and sim/netstack; the driver only knows how to
// sequence tasks, not what any one of them does.
type Runner interface {
	RunTask(ctx context.Context, t task.Task) error
}

type busKey struct {
	pid int
	id  task.ID
}

// Bus lets drivers signal and await task completion across processor
// boundaries. A task waits on its cross-processor predecessors through
// the bus; same-processor predecessors are already ordered by the
// schedule itself.
type Bus struct {
	mu   sync.Mutex
	done map[busKey]chan struct{}
}

// NewBus returns an empty signal bus.
func NewBus() *Bus {
	return &Bus{done: make(map[busKey]chan struct{})}
}

func (b *Bus) channel(pid int, id task.ID) chan struct{} {
	b.mu.Lock()
	defer b.mu.Unlock()
	k := busKey{pid, id}
	ch, ok := b.done[k]
	if !ok {
		ch = make(chan struct{})
		b.done[k] = ch
	}
	return ch
}

// Signal marks a task as complete, waking every driver awaiting it.
// Signalling the same task twice is a no-op.
func (b *Bus) Signal(pid int, id task.ID) {
	ch := b.channel(pid, id)
	select {
	case <-ch:
		// already signalled
	default:
		close(ch)
	}
}

// Await blocks until the named task has been signalled, or ctx is done.
func (b *Bus) Await(ctx context.Context, pid int, id task.ID) error {
	ch := b.channel(pid, id)
	select {
	case <-ch:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ProcessorDriver walks a single processor's schedule in order, awaiting
// each task's predecessors before invoking the Runner and signalling
// completion on the bus afterward.
type ProcessorDriver struct {
	Processor task.Processor
	Graph     *task.Graph
	Bus       *Bus
	Runner    Runner
	logger    log.Logger
}

// NewProcessorDriver returns a driver over one processor's schedule.
func NewProcessorDriver(p task.Processor, g *task.Graph, bus *Bus, runner Runner) *ProcessorDriver {
	return &ProcessorDriver{
		Processor: p,
		Graph:     g,
		Bus:       bus,
		Runner:    runner,
		logger:    log.New("component", "driver", "processor", p.String()),
	}
}

// Run executes every task assigned to this driver's processor, in the
// schedule's order, waiting on predecessors (same- or cross-processor
// alike; same-processor predecessors are already satisfied by schedule
// order, but awaiting them too is harmless and keeps this loop simple).
func (d *ProcessorDriver) Run(ctx context.Context, sched task.Schedule) error {
	for _, id := range sched.Order {
		t, ok := d.Graph.Tasks[id]
		if !ok {
			return fmt.Errorf("driver: schedule references unknown task %d", id)
		}
		for _, pred := range t.Predecessors {
			if err := d.Bus.Await(ctx, t.PID, pred); err != nil {
				return fmt.Errorf("driver: awaiting predecessor %d of task %d: %w", pred, id, err)
			}
		}
		d.logger.Debug("running task", "pid", t.PID, "task_id", id, "name", t.Name)
		if err := d.Runner.RunTask(ctx, t); err != nil {
			return fmt.Errorf("driver: task %d (%s) failed: %w", id, t.Name, err)
		}
		d.Bus.Signal(t.PID, id)
	}
	return nil
}

// RunProcess runs a process's full task graph to completion: its host
// schedule on hostRunner, its qnos schedule on qnosRunner and its
// netstack schedule on netstackRunner, concurrently, synchronized only
// through Bus.
func RunProcess(ctx context.Context, g *task.Graph, bus *Bus, hostRunner, qnosRunner, netstackRunner Runner) error {
	scheds, err := task.Project(g)
	if err != nil {
		return err
	}

	group, gctx := errgroup.WithContext(ctx)
	group.Go(func() error {
		return NewProcessorDriver(task.ProcessorHost, g, bus, hostRunner).Run(gctx, scheds[task.ProcessorHost])
	})
	group.Go(func() error {
		return NewProcessorDriver(task.ProcessorQnos, g, bus, qnosRunner).Run(gctx, scheds[task.ProcessorQnos])
	})
	group.Go(func() error {
		return NewProcessorDriver(task.ProcessorNetstack, g, bus, netstackRunner).Run(gctx, scheds[task.ProcessorNetstack])
	})
	return group.Wait()
}
