// Package host implements the Host processor: a per-node interpreter
// that steps through a process's classical basic blocks one instruction
// at a time. By construction a block containing a run_subroutine or
// run_request instruction ends with it (calls are block terminators);
// the Host only needs to execute the purely classical instructions
// before that point, since the routine call itself is carried out by the
// Qnos/Netstack drivers against the task graph's corresponding task, and
// its classical results land back in process variables before the next
// block (chained as that task's successor) ever runs. Grounded on the
// teacher's opcode interpreter loop (core/vm/interpreter.go), generalized
// from "step through EVM bytecode" to "step through a host basic block".
package host

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/log"

	"github.com/qoala-sim/qoala/lang/hostlang"
	"github.com/qoala-sim/qoala/runtime/qprogram"
	"github.com/qoala-sim/qoala/runtime/task"
)

// ErrUnknownBlock is returned when a task names a block the process's
// program does not have.
var ErrUnknownBlock = fmt.Errorf("host: unknown block")

// Registry resolves a pid to its running process. The scheduler owns the
// concrete process set; the Host processor only needs lookup.
type Registry interface {
	Process(pid int) (*qprogram.Process, bool)
}

// Processor is the node-wide Host interpreter.
type Processor struct {
	registry Registry
	logger   log.Logger
}

// New returns a Host processor resolving processes through registry.
func New(registry Registry) *Processor {
	return &Processor{registry: registry, logger: log.New("component", "host")}
}

// execContext adapts a qprogram.Process to hostlang.ExecContext. Its
// RunLocalRoutine/RunRequestRoutine are no-ops: those instructions
// structurally terminate the block they appear in, so the interpreter
// loop never actually needs to act on them here.
type execContext struct {
	proc *qprogram.Process
}

func (c execContext) GetVar(name string) (int64, bool)  { return c.proc.GetVar(name) }
func (c execContext) SetVar(name string, v int64)        { c.proc.SetVar(name, v) }
func (c execContext) GetVec(name string) ([]int64, bool) { return c.proc.GetVec(name) }
func (c execContext) SetVec(name string, v []int64)      { c.proc.SetVec(name, v) }

func (c execContext) ResolveValue(v hostlang.Value) (int64, error) {
	if v.Template != nil {
		resolved, ok := c.proc.GetVar(v.Template.Name)
		if !ok {
			return 0, fmt.Errorf("host: unresolved template %q", v.Template.Name)
		}
		return resolved, nil
	}
	return v.Int, nil
}

func (c execContext) SendCMsg(csocket string, value int64) error {
	sock, ok := c.proc.CSocketByName(csocket)
	if !ok {
		return fmt.Errorf("host: unknown csocket %q", csocket)
	}
	sock.Inbox <- value
	return nil
}

func (c execContext) RecvCMsg(csocket string) (int64, error) {
	sock, ok := c.proc.CSocketByName(csocket)
	if !ok {
		return 0, fmt.Errorf("host: unknown csocket %q", csocket)
	}
	return <-sock.Inbox, nil
}

func (c execContext) RunLocalRoutine(result, args hostlang.Vector, name string) error   { return nil }
func (c execContext) RunRequestRoutine(result, args hostlang.Vector, name string) error { return nil }
func (c execContext) ReturnResult(varName string) error                                 { return c.proc.ReturnResult(varName) }

// RunBlock interprets every instruction of the named block in order,
// following Jump/Branch targets within the block.
func (p *Processor) RunBlock(ctx context.Context, pid int, blockName string) error {
	proc, ok := p.registry.Process(pid)
	if !ok {
		return fmt.Errorf("host: unknown process %d", pid)
	}
	block, ok := proc.Instance.Program.BlockByName(blockName)
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownBlock, blockName)
	}

	ec := execContext{proc: proc}
	pc := 0
	for pc < len(block.Instructions) {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		instr := block.Instructions[pc]
		res, err := instr.Execute(ec)
		if err != nil {
			return fmt.Errorf("host: block %q instr %d (%s): %w", blockName, pc, instr.OpName(), err)
		}
		if res.Jump != nil {
			pc = *res.Jump
			continue
		}
		pc++
	}
	p.logger.Debug("ran block", "pid", pid, "block", blockName)
	return nil
}

// RunTask satisfies sim/driver.Runner for ProcessorHost tasks, which
// always name the block to interpret.
func (p *Processor) RunTask(ctx context.Context, t task.Task) error {
	return p.RunBlock(ctx, t.PID, t.Name)
}
