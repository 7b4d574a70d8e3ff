// Package config loads the YAML network and per-node topology of a
// simulation: which nodes exist, their qubit hardware, and the links
// between them. Grounded on the
// teacher's HardwareInfo detector (quest/utils/hardware_info.go),
// generalized from "detect this machine's CPU/GPU" to "load a declared
// node's qubit hardware from a config file", using gopkg.in/yaml.v3 the
// way the rest of the pack loads declarative topology/config documents.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/qoala-sim/qoala/lang/ehi"
)

// QubitConfig is one physical qubit slot's declared hardware in a node's
// YAML config.
type QubitConfig struct {
	ID              int     `yaml:"id"`
	Communication   bool    `yaml:"communication"`
	DecoherenceRate float64 `yaml:"decoherence_rate"`
}

// GateConfig declares the duration and decoherence cost of applying a
// named instruction to one or more qubits.
type GateConfig struct {
	Instruction string    `yaml:"instruction"`
	Qubits      []int     `yaml:"qubits"`
	DurationNs  int64     `yaml:"duration_ns"`
	Decoherence []float64 `yaml:"decoherence"`
}

// NodeConfig is a single node's declared hardware and identity.
type NodeConfig struct {
	Name        string       `yaml:"name"`
	NumQubits   int          `yaml:"num_qubits"`
	Qubits      []QubitConfig `yaml:"qubits"`
	SingleGates []GateConfig  `yaml:"single_gates"`
	MultiGates  []GateConfig  `yaml:"multi_gates"`
}

// LinkConfig declares a physical link between two nodes and the fidelity
///latency entanglement generation over it achieves.
type LinkConfig struct {
	NodeA       string  `yaml:"node_a"`
	NodeB       string  `yaml:"node_b"`
	Fidelity    float64 `yaml:"fidelity"`
	LatencyNs   int64   `yaml:"latency_ns"`
}

// TimeslotConfig is one entry of the declared network schedule pattern.
type TimeslotConfig struct {
	DurationNs int64 `yaml:"duration_ns"`
	Pairs      []struct {
		Node string `yaml:"node"`
		PID  int    `yaml:"pid"`
	} `yaml:"pairs"`
}

// NetworkConfig is the top-level document: every node in the network,
// the links between them, and the repeating netschedule pattern.
type NetworkConfig struct {
	Nodes     []NodeConfig     `yaml:"nodes"`
	Links     []LinkConfig     `yaml:"links"`
	Timeslots []TimeslotConfig `yaml:"timeslots"`
}

// Load reads and parses a network config document from path.
func Load(path string) (NetworkConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return NetworkConfig{}, fmt.Errorf("config: read %s: %w", path, err)
	}
	var cfg NetworkConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return NetworkConfig{}, fmt.Errorf("config: parse %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return NetworkConfig{}, err
	}
	return cfg, nil
}

// Validate checks the document's cross-references: every link must name
// nodes that exist, and every node's gate list must only reference
// declared qubit IDs.
func (c NetworkConfig) Validate() error {
	names := make(map[string]bool, len(c.Nodes))
	for _, n := range c.Nodes {
		names[n.Name] = true
	}
	for _, l := range c.Links {
		if !names[l.NodeA] {
			return fmt.Errorf("config: link references unknown node %q", l.NodeA)
		}
		if !names[l.NodeB] {
			return fmt.Errorf("config: link references unknown node %q", l.NodeB)
		}
	}
	for _, n := range c.Nodes {
		ids := make(map[int]bool, len(n.Qubits))
		for _, q := range n.Qubits {
			ids[q.ID] = true
		}
		for _, g := range append(append([]GateConfig{}, n.SingleGates...), n.MultiGates...) {
			for _, q := range g.Qubits {
				if !ids[q] {
					return fmt.Errorf("config: node %q gate %q references undeclared qubit %d", n.Name, g.Instruction, q)
				}
			}
		}
	}
	return nil
}

// ToEHI builds an ExposedHardwareInfo descriptor from a single node's
// declared hardware.
func (n NodeConfig) ToEHI() ehi.ExposedHardwareInfo {
	info := ehi.ExposedHardwareInfo{
		QubitInfos:      make(map[int]ehi.QubitInfo, len(n.Qubits)),
		SingleGateInfos: make(map[int][]ehi.GateInfo),
		MultiGateInfos:  make(map[string][]ehi.GateInfo),
	}
	for _, q := range n.Qubits {
		info.QubitInfos[q.ID] = ehi.QubitInfo{
			IsCommunication: q.Communication,
			DecoherenceRate: q.DecoherenceRate,
		}
	}
	for _, g := range n.SingleGates {
		for _, q := range g.Qubits {
			info.SingleGateInfos[q] = append(info.SingleGateInfos[q], ehi.GateInfo{
				Instruction: g.Instruction,
				Duration:    g.DurationNs,
				Decoherence: g.Decoherence,
			})
		}
	}
	for _, g := range n.MultiGates {
		key := multiGateKey(g.Qubits)
		info.MultiGateInfos[key] = append(info.MultiGateInfos[key], ehi.GateInfo{
			Instruction: g.Instruction,
			Duration:    g.DurationNs,
			Decoherence: g.Decoherence,
		})
	}
	return info
}

func multiGateKey(qubits []int) string {
	key := ""
	for i, q := range qubits {
		if i > 0 {
			key += ","
		}
		key += fmt.Sprintf("%d", q)
	}
	return key
}
