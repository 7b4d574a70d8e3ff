package netsched

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestCurrentSlotCyclesThroughPattern(t *testing.T) {
	s := New([]Timeslot{
		{Duration: 10 * time.Millisecond, Pairs: []NodePID{{Node: "alice", PID: 1}}},
		{Duration: 10 * time.Millisecond, Pairs: []NodePID{{Node: "bob", PID: 2}}},
	})

	_, idx, ok := s.CurrentSlot(5 * time.Millisecond)
	require.True(t, ok)
	require.Equal(t, 0, idx)

	_, idx, ok = s.CurrentSlot(15 * time.Millisecond)
	require.True(t, ok)
	require.Equal(t, 1, idx)

	// wraps around after one full cycle (20ms)
	_, idx, ok = s.CurrentSlot(25 * time.Millisecond)
	require.True(t, ok)
	require.Equal(t, 1, idx)
}

func TestIsAuthorized(t *testing.T) {
	s := New([]Timeslot{
		{Duration: 10 * time.Millisecond, Pairs: []NodePID{{Node: "alice", PID: 1}}},
	})
	require.True(t, s.IsAuthorized(0, NodePID{Node: "alice", PID: 1}))
	require.False(t, s.IsAuthorized(0, NodePID{Node: "bob", PID: 1}))
}

func TestRequireAuthorizedError(t *testing.T) {
	s := New([]Timeslot{
		{Duration: 10 * time.Millisecond, Pairs: []NodePID{{Node: "alice", PID: 1}}},
	})
	err := s.RequireAuthorized(0, NodePID{Node: "bob", PID: 1})
	require.ErrorIs(t, err, ErrNotAuthorized)
}

func TestEmptyScheduleNeverAuthorizes(t *testing.T) {
	s := New(nil)
	require.False(t, s.IsAuthorized(0, NodePID{Node: "alice", PID: 1}))
}
