package ehi

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCapabilityReflectsIsCommunication(t *testing.T) {
	require.Equal(t, CapabilityCommunication, QubitInfo{IsCommunication: true}.Capability())
	require.Equal(t, CapabilityMemory, QubitInfo{IsCommunication: false}.Capability())
}

func TestNumQubits(t *testing.T) {
	e := ExposedHardwareInfo{QubitInfos: map[int]QubitInfo{0: {}, 1: {}, 2: {}}}
	require.Equal(t, 3, e.NumQubits())
}

func TestUnitModuleIsCommunication(t *testing.T) {
	u := NewUnitModule(ExposedHardwareInfo{QubitInfos: map[int]QubitInfo{
		0: {IsCommunication: true},
		1: {IsCommunication: false},
	}})
	require.True(t, u.IsCommunication(0))
	require.False(t, u.IsCommunication(1))
	require.False(t, u.IsCommunication(99))
}

func TestUnitModuleVirtualIDsAreSortedAscending(t *testing.T) {
	u := NewUnitModule(ExposedHardwareInfo{QubitInfos: map[int]QubitInfo{
		3: {}, 0: {}, 2: {}, 1: {},
	}})
	require.Equal(t, []int{0, 1, 2, 3}, u.VirtualIDs())
}
