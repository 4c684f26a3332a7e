// v1
// services/feeder/internal/generator.go
package internal

import (
	"math/rand"

	"github.com/atlarge-research/opendt/internal/model"
)

// Generator produces a synthetic datacenter trace: tasks with fragment
// profiles and a power signal loosely correlated with the task rate.
type Generator struct {
	rng        *rand.Rand
	nextTaskID int64
	nextFragID int64
}

func NewGenerator(seed int64) *Generator {
	return &Generator{rng: rand.New(rand.NewSource(seed)), nextTaskID: 1, nextFragID: 1}
}

// Task emits one synthetic task submitted at ts. Durations range from
// one to ten minutes, split into one to three fragments.
func (g *Generator) Task(ts model.Timestamp) model.Task {
	id := g.nextTaskID
	g.nextTaskID++
	durationMs := int64(60_000 + g.rng.Intn(9*60_000))
	cpus := int32(1 + g.rng.Intn(8))

	nFrags := 1 + g.rng.Intn(3)
	frags := make([]model.Fragment, 0, nFrags)
	remaining := durationMs
	for i := 0; i < nFrags; i++ {
		d := remaining / int64(nFrags-i)
		remaining -= d
		frags = append(frags, model.Fragment{
			ID:         g.nextFragID,
			TaskID:     id,
			DurationMs: d,
			CPUCount:   cpus,
			CPUUsage:   0.1 + g.rng.Float64()*0.9,
		})
		g.nextFragID++
	}
	return model.Task{
		ID:             id,
		SubmissionTime: ts,
		DurationMs:     durationMs,
		CPUCount:       cpus,
		CPUCapacityMHz: 2400,
		MemCapacityMB:  int64(1024 * (1 + g.rng.Intn(16))),
		Fragments:      frags,
	}
}

// PowerSample emits one facility-level reading: an idle floor plus a
// noisy load term.
func (g *Generator) PowerSample(ts model.Timestamp, activeTasks int) model.PowerSample {
	idle := 12_000.0
	load := float64(activeTasks) * (400 + g.rng.Float64()*200)
	return model.PowerSample{
		Timestamp:  ts,
		PowerDrawW: idle + load,
		EnergyJ:    (idle + load) * 60,
	}
}

// DemoTopology is the observed topology the feeder announces on startup.
func DemoTopology() model.Topology {
	return model.Topology{Clusters: []model.Cluster{{
		Name: "C01",
		Hosts: []model.Host{{
			Name:   "H01",
			Count:  8,
			CPU:    model.CPU{CoreCount: 32, CoreSpeedMHz: 2400},
			Memory: model.Memory{MemorySizeBytes: 256 << 30},
			CPUPowerModel: model.CPUPowerModel{
				ModelType: "linear",
				Power:     400,
				IdlePower: 150,
				MaxPower:  450,
			},
		}},
	}}}
}
