package driver

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/qoala-sim/qoala/runtime/task"
)

type recordingRunner struct {
	mu  sync.Mutex
	ran []task.ID
	delay time.Duration
}

func (r *recordingRunner) RunTask(ctx context.Context, t task.Task) error {
	if r.delay > 0 {
		time.Sleep(r.delay)
	}
	r.mu.Lock()
	r.ran = append(r.ran, t.ID)
	r.mu.Unlock()
	return nil
}

func TestRunProcessRespectsCrossProcessorPrecedence(t *testing.T) {
	g := task.NewGraph(1)
	g.Add(task.Task{ID: 0, PID: 1, Processor: task.ProcessorHost, Kind: task.KindHostBlock})
	g.Add(task.Task{ID: 1, PID: 1, Processor: task.ProcessorQnos, Kind: task.KindLocalRoutine, Predecessors: []task.ID{0}})
	g.Add(task.Task{ID: 2, PID: 1, Processor: task.ProcessorHost, Kind: task.KindHostBlock, Predecessors: []task.ID{1}})

	bus := NewBus()
	host := &recordingRunner{}
	qnos := &recordingRunner{delay: 5 * time.Millisecond}
	net := &recordingRunner{}

	err := RunProcess(context.Background(), g, bus, host, qnos, net)
	require.NoError(t, err)

	require.Equal(t, []task.ID{0, 2}, host.ran)
	require.Equal(t, []task.ID{1}, qnos.ran)
}

func TestBusSignalIsIdempotent(t *testing.T) {
	bus := NewBus()
	bus.Signal(1, 0)
	bus.Signal(1, 0) // must not panic on double-close

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, bus.Await(ctx, 1, 0))
}

func TestAwaitRespectsContextCancellation(t *testing.T) {
	bus := NewBus()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Millisecond)
	defer cancel()
	err := bus.Await(ctx, 1, 42)
	require.Error(t, err)
}
