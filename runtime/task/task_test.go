package task

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/qoala-sim/qoala/lang/hostlang"
)

func TestProjectSplitsByProcessor(t *testing.T) {
	g := NewGraph(1)
	g.Add(Task{ID: 0, Processor: ProcessorHost, Kind: KindHostBlock})
	g.Add(Task{ID: 1, Processor: ProcessorQnos, Kind: KindLocalRoutine, Predecessors: []ID{0}})
	g.Add(Task{ID: 2, Processor: ProcessorHost, Kind: KindHostBlock, Predecessors: []ID{1}})

	require.NoError(t, g.Validate())

	sched, err := Project(g)
	require.NoError(t, err)
	require.Equal(t, []ID{0, 2}, sched[ProcessorHost].Order)
	require.Equal(t, []ID{1}, sched[ProcessorQnos].Order)
}

func TestValidateDetectsCycle(t *testing.T) {
	g := NewGraph(1)
	g.Add(Task{ID: 0, Predecessors: []ID{1}})
	g.Add(Task{ID: 1, Predecessors: []ID{0}})
	require.ErrorIs(t, g.Validate(), ErrCycle)
}

func TestValidateDetectsUnknownPredecessor(t *testing.T) {
	g := NewGraph(1)
	g.Add(Task{ID: 0, Predecessors: []ID{99}})
	require.ErrorIs(t, g.Validate(), ErrUnknownPredecessor)
}

func TestCreatorChainsBlocksAndRoutines(t *testing.T) {
	prog := hostlang.Program{
		Blocks: []hostlang.BasicBlock{
			{Name: "b0", Type: hostlang.CL, Instructions: []hostlang.HostOp{
				hostlang.RunSubroutineOp{SubRoutine: "sub1"},
			}},
			{Name: "b1", Type: hostlang.QC, Instructions: []hostlang.HostOp{
				hostlang.RunRequestOp{Request: "req1"},
			}},
		},
	}

	g := NewCreator().Create(7, prog)
	require.NoError(t, g.Validate())

	sched, err := Project(g)
	require.NoError(t, err)
	require.Len(t, sched[ProcessorHost].Order, 2)
	require.Len(t, sched[ProcessorQnos].Order, 1)
	require.Len(t, sched[ProcessorNetstack].Order, 1)
}
