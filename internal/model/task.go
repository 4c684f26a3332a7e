// v3
// internal/model/task.go
package model

import "fmt"

// Fragment is one step of a task's execution profile. Fragments are
// ordered; their summed duration need not equal the task's duration.
type Fragment struct {
	ID         int64   `json:"id"`
	TaskID     int64   `json:"task_id"`
	DurationMs int64   `json:"duration"`
	CPUCount   int32   `json:"cpu_count"`
	CPUUsage   float64 `json:"cpu_usage"`
}

func (f Fragment) Validate() error {
	if f.DurationMs < 0 {
		return fmt.Errorf("fragment %d: negative duration %d", f.ID, f.DurationMs)
	}
	if f.CPUCount < 1 {
		return fmt.Errorf("fragment %d: cpu_count %d < 1", f.ID, f.CPUCount)
	}
	if f.CPUUsage < 0 {
		return fmt.Errorf("fragment %d: negative cpu_usage %f", f.ID, f.CPUUsage)
	}
	return nil
}

// Task is a unit of datacenter work replayed from the trace. Immutable
// once accepted; identity is the id within a run.
type Task struct {
	ID             int64      `json:"id"`
	SubmissionTime Timestamp  `json:"submission_time"`
	DurationMs     int64      `json:"duration"`
	CPUCount       int32      `json:"cpu_count"`
	CPUCapacityMHz float64    `json:"cpu_capacity"`
	MemCapacityMB  int64      `json:"mem_capacity"`
	Fragments      []Fragment `json:"fragments"`
}

// Validate applies the ingress invariants. Internal code trusts accepted
// tasks and never re-validates.
func (t Task) Validate() error {
	if t.SubmissionTime.IsZero() {
		return fmt.Errorf("task %d: missing submission_time", t.ID)
	}
	if t.CPUCount < 1 {
		return fmt.Errorf("task %d: cpu_count %d < 1", t.ID, t.CPUCount)
	}
	if t.CPUCapacityMHz < 0 {
		return fmt.Errorf("task %d: negative cpu_capacity %f", t.ID, t.CPUCapacityMHz)
	}
	if t.MemCapacityMB < 0 {
		return fmt.Errorf("task %d: negative mem_capacity %d", t.ID, t.MemCapacityMB)
	}
	for _, f := range t.Fragments {
		if err := f.Validate(); err != nil {
			return fmt.Errorf("task %d: %w", t.ID, err)
		}
	}
	return nil
}
