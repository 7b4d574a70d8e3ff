package qdevice

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestAllocateSlotRejectsDoubleAllocation(t *testing.T) {
	d := NewStubDevice(2, 1)
	ctx := context.Background()
	require.NoError(t, d.AllocateSlot(ctx, 0))
	err := d.AllocateSlot(ctx, 0)
	require.ErrorIs(t, err, ErrSlotInUse)
}

func TestAllocateSlotRejectsOutOfRange(t *testing.T) {
	d := NewStubDevice(2, 1)
	err := d.AllocateSlot(context.Background(), 5)
	require.ErrorIs(t, err, ErrNoSuchSlot)
}

func TestApplyGateRequiresAllocatedSlot(t *testing.T) {
	d := NewStubDevice(2, 1)
	err := d.ApplyGate(context.Background(), GateHadamard, 0)
	require.ErrorIs(t, err, ErrSlotFree)
}

func TestApplyGateSucceedsOnAllocatedSlots(t *testing.T) {
	d := NewStubDevice(2, 1)
	ctx := context.Background()
	require.NoError(t, d.AllocateSlot(ctx, 0))
	require.NoError(t, d.AllocateSlot(ctx, 1))
	require.NoError(t, d.ApplyGate(ctx, GateCNOT, 0, 1))
}

func TestMeasureRequiresAllocatedSlotAndReturnsBit(t *testing.T) {
	d := NewStubDevice(1, 42)
	ctx := context.Background()

	_, err := d.Measure(ctx, 0)
	require.ErrorIs(t, err, ErrSlotFree)

	require.NoError(t, d.AllocateSlot(ctx, 0))
	outcome, err := d.Measure(ctx, 0)
	require.NoError(t, err)
	require.True(t, outcome == 0 || outcome == 1)
}

func TestFreeSlotIsIdempotentAndAllowsReallocation(t *testing.T) {
	d := NewStubDevice(1, 1)
	ctx := context.Background()
	require.NoError(t, d.AllocateSlot(ctx, 0))
	require.NoError(t, d.FreeSlot(ctx, 0))
	require.NoError(t, d.FreeSlot(ctx, 0))
	require.NoError(t, d.AllocateSlot(ctx, 0))
}

func TestPrepareEPRHalfRequiresAllocatedSlot(t *testing.T) {
	d := NewStubDevice(1, 1)
	_, err := d.PrepareEPRHalf(context.Background(), 0, 0.9)
	require.ErrorIs(t, err, ErrSlotFree)
}

func TestPrepareEPRHalfIsDeterministicForFixedSeed(t *testing.T) {
	ctx := context.Background()
	d1 := NewStubDevice(1, 99)
	require.NoError(t, d1.AllocateSlot(ctx, 0))
	r1, err := d1.PrepareEPRHalf(ctx, 0, 0.5)
	require.NoError(t, err)

	d2 := NewStubDevice(1, 99)
	require.NoError(t, d2.AllocateSlot(ctx, 0))
	r2, err := d2.PrepareEPRHalf(ctx, 0, 0.5)
	require.NoError(t, err)

	require.Equal(t, r1, r2)
}
