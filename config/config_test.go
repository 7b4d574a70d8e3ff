package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

const sampleYAML = `
nodes:
  - name: alice
    num_qubits: 2
    qubits:
      - id: 0
        communication: true
        decoherence_rate: 0.01
      - id: 1
        communication: false
        decoherence_rate: 0.02
  - name: bob
    num_qubits: 1
    qubits:
      - id: 0
        communication: true
        decoherence_rate: 0.01
links:
  - node_a: alice
    node_b: bob
    fidelity: 0.9
    latency_ns: 1000
timeslots:
  - duration_ns: 500
    pairs:
      - node: alice
        pid: 0
`

func TestLoadParsesNodesAndLinks(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "net.yaml")
	require.NoError(t, os.WriteFile(path, []byte(sampleYAML), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Len(t, cfg.Nodes, 2)
	require.Equal(t, "alice", cfg.Nodes[0].Name)
	require.Len(t, cfg.Links, 1)
	require.Equal(t, "bob", cfg.Links[0].NodeB)
}

func TestValidateRejectsUnknownLinkNode(t *testing.T) {
	cfg := NetworkConfig{
		Nodes: []NodeConfig{{Name: "alice"}},
		Links: []LinkConfig{{NodeA: "alice", NodeB: "carol"}},
	}
	require.Error(t, cfg.Validate())
}

func TestToEHIMapsQubitsAndGates(t *testing.T) {
	n := NodeConfig{
		Name: "alice",
		Qubits: []QubitConfig{
			{ID: 0, Communication: true, DecoherenceRate: 0.01},
			{ID: 1, Communication: false, DecoherenceRate: 0.02},
		},
		SingleGates: []GateConfig{
			{Instruction: "H", Qubits: []int{0}, DurationNs: 10},
		},
	}
	info := n.ToEHI()
	require.True(t, info.QubitInfos[0].IsCommunication)
	require.False(t, info.QubitInfos[1].IsCommunication)
	require.Len(t, info.SingleGateInfos[0], 1)
	require.Equal(t, "H", info.SingleGateInfos[0][0].Instruction)
}
