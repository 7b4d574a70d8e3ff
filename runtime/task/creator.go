package task

import "github.com/qoala-sim/qoala/lang/hostlang"

// Mode selects how finely a program's blocks/routines are sliced into
// tasks. ROUTINE_ATOMIC is the only mode implemented: each host block and
// each routine invocation it triggers becomes exactly one task, mirroring
// the original taskcreator's coarse-grained default.
type Mode int

const (
	RoutineAtomic Mode = iota
)

// Creator builds a task.Graph from a parsed program, in ROUTINE_ATOMIC
// mode: one task per host block, chained in program order, plus one task
// per run_subroutine/run_request instruction a block contains, made a
// predecessor-successor pair with the block task that issued it.
type Creator struct {
	Mode Mode
}

// NewCreator returns a Creator in ROUTINE_ATOMIC mode.
func NewCreator() Creator {
	return Creator{Mode: RoutineAtomic}
}

// Create builds the task graph for one process instance's program.
func (c Creator) Create(pid int, prog hostlang.Program) *Graph {
	g := NewGraph(pid)
	nextID := ID(0)
	var prevBlockTask *ID

	for _, block := range prog.Blocks {
		blockTaskID := nextID
		nextID++

		var preds []ID
		if prevBlockTask != nil {
			preds = append(preds, *prevBlockTask)
		}

		g.Add(Task{
			ID:           blockTaskID,
			PID:          pid,
			Processor:    ProcessorHost,
			Kind:         KindHostBlock,
			Name:         block.Name,
			Predecessors: preds,
		})

		// lastInBlock tracks the task the NEXT block must wait on: the
		// block's own task, advanced to each nested routine call's task in
		// turn, so a block is only "done" once every routine it triggered
		// has also completed.
		lastInBlock := blockTaskID

		for _, instr := range block.Instructions {
			switch op := instr.(type) {
			case hostlang.RunSubroutineOp:
				g.Add(Task{
					ID:           nextID,
					PID:          pid,
					Processor:    ProcessorQnos,
					Kind:         KindLocalRoutine,
					Name:         op.SubRoutine,
					Predecessors: []ID{lastInBlock},
				})
				lastInBlock = nextID
				nextID++
			case hostlang.RunRequestOp:
				g.Add(Task{
					ID:           nextID,
					PID:          pid,
					Processor:    ProcessorNetstack,
					Kind:         KindRequestRoutine,
					Name:         op.Request,
					Predecessors: []ID{lastInBlock},
				})
				lastInBlock = nextID
				nextID++
			}
		}

		id := lastInBlock
		prevBlockTask = &id
	}

	return g
}
