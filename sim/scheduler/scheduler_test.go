package scheduler

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/qoala-sim/qoala/lang/ehi"
	"github.com/qoala-sim/qoala/lang/hostlang"
	"github.com/qoala-sim/qoala/memmgr"
	"github.com/qoala-sim/qoala/netdist"
	"github.com/qoala-sim/qoala/qdevice"
	"github.com/qoala-sim/qoala/runtime/qprogram"
	"github.com/qoala-sim/qoala/sim/host"
	"github.com/qoala-sim/qoala/sim/netstack"
	"github.com/qoala-sim/qoala/sim/qnos"
)

func newTestScheduler() *Scheduler {
	hw := ehi.ExposedHardwareInfo{QubitInfos: map[int]ehi.QubitInfo{
		0: {IsCommunication: true},
		1: {IsCommunication: false},
	}}
	mem := memmgr.New(hw)
	dev := qdevice.NewStubDevice(2, 1)
	qnosProc := qnos.New(mem, dev)

	s := New("alice", mem, nil, qnosProc, nil)
	s.hostProc = host.New(s)

	dist := netdist.New(nil)
	qnosAdapter := qnosAllocatorAdapter{qnosProc}
	s.netstackProc = netstack.New("alice", dist, qnosAdapter, noopCallbacks{})
	return s
}

type qnosAllocatorAdapter struct{ p *qnos.Processor }

func (a qnosAllocatorAdapter) AllocateForVirtualID(pid, virtID int) (int, error) {
	return a.p.AllocateForVirtualID(pid, virtID)
}
func (a qnosAllocatorAdapter) FreeVirtualID(pid, virtID int) { a.p.FreeVirtualID(pid, virtID) }
func (a qnosAllocatorAdapter) Device() qdevice.QDevice       { return a.p.Device() }

type noopCallbacks struct{}

func (noopCallbacks) RunCallback(ctx context.Context, pid int, name string, virtID, pairIndex int) error {
	return nil
}

func TestSubmitBatchRunsPureClassicalProgram(t *testing.T) {
	s := newTestScheduler()

	prog := hostlang.Program{
		Blocks: []hostlang.BasicBlock{
			{Name: "b0", Type: hostlang.CL, Instructions: []hostlang.HostOp{
				hostlang.AssignCValueOp{Result: "a", Val: hostlang.IntValue(10)},
				hostlang.AssignCValueOp{Result: "b", Val: hostlang.IntValue(5)},
				hostlang.AddCValueOp{Result: "sum", A: "a", B: "b"},
				hostlang.ReturnResultOp{Value: "sum"},
			}},
		},
	}

	batch := qprogram.BatchInfo{Program: prog, AllInputs: []map[string]int64{{}, {}}}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	res, err := s.SubmitBatch(ctx, batch)
	require.NoError(t, err)
	require.Len(t, res.Results, 2)
	for _, r := range res.Results {
		require.Equal(t, qprogram.StateFinished, r.State)
		require.EqualValues(t, 15, r.Result["sum"])
	}
}

func TestAllocateAndFreeQubitsForRoutine(t *testing.T) {
	s := newTestScheduler()

	phys, err := s.AllocateQubitsForRoutine(1, []int{0, 1})
	require.NoError(t, err)
	require.Len(t, phys, 2)

	s.FreeQubitsAfterRoutine(1, []int{0, 1}, nil)

	// re-allocating after free should succeed and reuse the same slots
	phys2, err := s.AllocateQubitsForRoutine(1, []int{0, 1})
	require.NoError(t, err)
	require.ElementsMatch(t, phys, phys2)
}

func TestFreeQubitsAfterRoutineKeepsDeclaredSubset(t *testing.T) {
	s := newTestScheduler()

	_, err := s.AllocateQubitsForRoutine(1, []int{0, 1})
	require.NoError(t, err)

	s.FreeQubitsAfterRoutine(1, []int{0, 1}, []int{0})

	_, stillMapped := s.mem.PhysIDFor(1, 0)
	require.True(t, stillMapped)
	_, mapped := s.mem.PhysIDFor(1, 1)
	require.False(t, mapped)
}
