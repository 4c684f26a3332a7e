// v4
// internal/model/topology.go
package model

import (
	"encoding/json"
	"fmt"
)

// Power model types accepted by the simulator.
var powerModelTypes = map[string]bool{
	"asymptotic": true,
	"linear":     true,
	"mse":        true,
	"square":     true,
	"cubic":      true,
	"sqrt":       true,
}

type CPU struct {
	CoreCount    int32   `json:"coreCount"`
	CoreSpeedMHz float64 `json:"coreSpeed"`
}

type Memory struct {
	MemorySizeBytes int64 `json:"memorySize"`
}

// CPUPowerModel maps CPU utilization to power draw in watts.
type CPUPowerModel struct {
	ModelType string  `json:"modelType"`
	Power     float64 `json:"power"`
	IdlePower float64 `json:"idlePower"`
	MaxPower  float64 `json:"maxPower"`
	AsymUtil  float64 `json:"asymUtil"`
	DVFS      bool    `json:"dvfs"`
}

type Host struct {
	Name          string        `json:"name"`
	Count         int32         `json:"count"`
	CPU           CPU           `json:"cpu"`
	Memory        Memory        `json:"memory"`
	CPUPowerModel CPUPowerModel `json:"cpuPowerModel"`
}

type Cluster struct {
	Name  string `json:"name"`
	Hosts []Host `json:"hosts"`
}

// Topology is the datacenter hardware tree fed to the simulator.
type Topology struct {
	Clusters []Cluster `json:"clusters"`
}

func (t Topology) Validate() error {
	if len(t.Clusters) == 0 {
		return fmt.Errorf("topology has no clusters")
	}
	for _, c := range t.Clusters {
		if len(c.Hosts) == 0 {
			return fmt.Errorf("cluster %q has no hosts", c.Name)
		}
		for _, h := range c.Hosts {
			if h.Count < 1 {
				return fmt.Errorf("host %q: count %d < 1", h.Name, h.Count)
			}
			if h.CPU.CoreCount < 1 {
				return fmt.Errorf("host %q: coreCount %d < 1", h.Name, h.CPU.CoreCount)
			}
			if h.CPU.CoreSpeedMHz <= 0 {
				return fmt.Errorf("host %q: coreSpeed %f <= 0", h.Name, h.CPU.CoreSpeedMHz)
			}
			if h.Memory.MemorySizeBytes <= 0 {
				return fmt.Errorf("host %q: memorySize %d <= 0", h.Name, h.Memory.MemorySizeBytes)
			}
			pm := h.CPUPowerModel
			if !powerModelTypes[pm.ModelType] {
				return fmt.Errorf("host %q: unknown power model %q", h.Name, pm.ModelType)
			}
			if pm.Power <= 0 || pm.MaxPower <= 0 {
				return fmt.Errorf("host %q: power and maxPower must be > 0", h.Name)
			}
			if pm.IdlePower < 0 {
				return fmt.Errorf("host %q: idlePower %f < 0", h.Name, pm.IdlePower)
			}
			if pm.AsymUtil < 0 || pm.AsymUtil > 1 {
				return fmt.Errorf("host %q: asymUtil %f outside [0,1]", h.Name, pm.AsymUtil)
			}
		}
	}
	return nil
}

// TotalHostCount counts physical hosts across all clusters.
func (t Topology) TotalHostCount() int {
	n := 0
	for _, c := range t.Clusters {
		for _, h := range c.Hosts {
			n += int(h.Count)
		}
	}
	return n
}

// TotalCoreCount counts CPU cores across all clusters.
func (t Topology) TotalCoreCount() int {
	n := 0
	for _, c := range t.Clusters {
		for _, h := range c.Hosts {
			n += int(h.Count) * int(h.CPU.CoreCount)
		}
	}
	return n
}

// DeepCopy returns an independent copy of the topology. Patching a copy
// never aliases the original's slices.
func (t Topology) DeepCopy() Topology {
	out := Topology{Clusters: make([]Cluster, len(t.Clusters))}
	for i, c := range t.Clusters {
		nc := Cluster{Name: c.Name, Hosts: make([]Host, len(c.Hosts))}
		copy(nc.Hosts, c.Hosts)
		out.Clusters[i] = nc
	}
	return out
}

// TopologySnapshot is the compacted-channel payload: a topology with the
// event time at which it was captured.
type TopologySnapshot struct {
	Timestamp Timestamp `json:"timestamp"`
	Topology  Topology  `json:"topology"`
}

func DecodeTopologySnapshot(b []byte) (TopologySnapshot, error) {
	var s TopologySnapshot
	if err := json.Unmarshal(b, &s); err != nil {
		return TopologySnapshot{}, fmt.Errorf("topology snapshot decode: %w", err)
	}
	if err := s.Topology.Validate(); err != nil {
		return TopologySnapshot{}, err
	}
	return s, nil
}
