// v2
// internal/model/workload.go
package model

import (
	"encoding/json"
	"fmt"
)

const (
	MessageTypeTask      = "task"
	MessageTypeHeartbeat = "heartbeat"
)

// WorkloadMessage is the tagged union carried on the workload stream.
// For heartbeats Task is nil. Timestamps along a partition are
// non-decreasing.
type WorkloadMessage struct {
	MessageType string    `json:"message_type"`
	Timestamp   Timestamp `json:"timestamp"`
	Task        *Task     `json:"task"`
}

// DecodeWorkloadMessage parses and validates one workload payload.
// Malformed payloads are InvalidEvent material for the caller.
func DecodeWorkloadMessage(b []byte) (WorkloadMessage, error) {
	var m WorkloadMessage
	if err := json.Unmarshal(b, &m); err != nil {
		return WorkloadMessage{}, fmt.Errorf("workload decode: %w", err)
	}
	switch m.MessageType {
	case MessageTypeTask:
		if m.Task == nil {
			return WorkloadMessage{}, fmt.Errorf("task message without task payload")
		}
		if err := m.Task.Validate(); err != nil {
			return WorkloadMessage{}, err
		}
		if m.Timestamp.IsZero() {
			m.Timestamp = m.Task.SubmissionTime
		}
	case MessageTypeHeartbeat:
		if m.Timestamp.IsZero() {
			return WorkloadMessage{}, fmt.Errorf("heartbeat without timestamp")
		}
	default:
		return WorkloadMessage{}, fmt.Errorf("unknown message_type %q", m.MessageType)
	}
	return m, nil
}
