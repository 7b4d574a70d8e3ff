package netdist

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/qoala-sim/qoala/netsched"
)

func TestSubmitMatchesBothSides(t *testing.T) {
	d := New(nil)
	now := time.Now()

	chA, err := d.Submit(context.Background(), now, Request{
		ID: uuid.New(), LocalNode: "alice", RemoteNode: "bob", PID: 1,
		NumPairs: 1, MinFidelity: 0.5, SubmittedAt: now,
	})
	require.NoError(t, err)

	chB, err := d.Submit(context.Background(), now, Request{
		ID: uuid.New(), LocalNode: "bob", RemoteNode: "alice", PID: 1,
		NumPairs: 1, MinFidelity: 0.5, SubmittedAt: now.Add(time.Millisecond),
	})
	require.NoError(t, err)

	outA := <-chA
	outB := <-chB
	require.True(t, outA.Success)
	require.True(t, outB.Success)
	require.Equal(t, outA.Fidelity, outB.Fidelity)
}

func TestSubmitWithoutPeerWaits(t *testing.T) {
	d := New(nil)
	now := time.Now()
	ch, err := d.Submit(context.Background(), now, Request{
		ID: uuid.New(), LocalNode: "alice", RemoteNode: "bob", PID: 1,
		NumPairs: 1, SubmittedAt: now,
	})
	require.NoError(t, err)

	select {
	case <-ch:
		t.Fatal("should not have resolved without a matching peer request")
	case <-time.After(10 * time.Millisecond):
	}
}

func TestFidelityBelowThresholdFails(t *testing.T) {
	d := New(nil)
	d.SetFidelityModel(func(int) float64 { return 0.1 })
	now := time.Now()

	chA, _ := d.Submit(context.Background(), now, Request{
		ID: uuid.New(), LocalNode: "alice", RemoteNode: "bob", PID: 1,
		NumPairs: 1, MinFidelity: 0.9, SubmittedAt: now,
	})
	chB, _ := d.Submit(context.Background(), now, Request{
		ID: uuid.New(), LocalNode: "bob", RemoteNode: "alice", PID: 1,
		NumPairs: 1, MinFidelity: 0.9, SubmittedAt: now,
	})

	require.False(t, (<-chA).Success)
	require.False(t, (<-chB).Success)
}

func TestSubmitUnauthorizedReportsNoMatchWithoutError(t *testing.T) {
	schedule := netsched.New([]netsched.Timeslot{
		{Duration: time.Second, Pairs: []netsched.NodePID{{Node: "bob", PID: 0}}},
	})
	d := New(schedule)
	d.SetClock(time.Now())

	ch, err := d.Submit(context.Background(), time.Now(), Request{
		ID: uuid.New(), LocalNode: "alice", RemoteNode: "bob", PID: 1,
		NumPairs: 2, SubmittedAt: time.Now(),
	})
	require.NoError(t, err)

	for i := 0; i < 2; i++ {
		out := <-ch
		require.False(t, out.Success)
		require.Equal(t, ReasonNoMatch, out.Reason)
		require.Equal(t, i, out.PairIndex)
	}
}

func TestMultiPairDeliversAllOutcomes(t *testing.T) {
	d := New(nil)
	now := time.Now()

	chA, _ := d.Submit(context.Background(), now, Request{
		ID: uuid.New(), LocalNode: "alice", RemoteNode: "bob", PID: 1,
		NumPairs: 3, MinFidelity: 0.1, SubmittedAt: now,
	})
	chB, _ := d.Submit(context.Background(), now, Request{
		ID: uuid.New(), LocalNode: "bob", RemoteNode: "alice", PID: 1,
		NumPairs: 3, MinFidelity: 0.1, SubmittedAt: now.Add(time.Millisecond),
	})

	for i := 0; i < 3; i++ {
		require.True(t, (<-chA).Success)
		require.True(t, (<-chB).Success)
	}
}
