// v1
// internal/model/workload_test.go
package model

import (
	"testing"
	"time"
)

func TestDecodeWorkloadMessageTask(t *testing.T) {
	raw := []byte(`{
		"message_type": "task",
		"timestamp": "2024-05-01T12:00:00Z",
		"task": {
			"id": 7,
			"submission_time": "2024-05-01T12:00:00Z",
			"duration": 60000,
			"cpu_count": 4,
			"cpu_capacity": 2400.0,
			"mem_capacity": 8192,
			"fragments": [{"id": 1, "task_id": 7, "duration": 60000, "cpu_count": 4, "cpu_usage": 1200.0}]
		}
	}`)
	m, err := DecodeWorkloadMessage(raw)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if m.Task == nil || m.Task.ID != 7 {
		t.Fatalf("task payload lost: %+v", m)
	}
	if m.Timestamp.IsZero() {
		t.Fatal("timestamp missing")
	}
}

func TestDecodeWorkloadMessageDefaultsTimestampToSubmission(t *testing.T) {
	raw := []byte(`{
		"message_type": "task",
		"task": {
			"id": 1,
			"submission_time": "2024-05-01T12:00:00Z",
			"duration": 1000,
			"cpu_count": 1,
			"cpu_capacity": 1000.0,
			"mem_capacity": 1024
		}
	}`)
	m, err := DecodeWorkloadMessage(raw)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	want := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	if !m.Timestamp.Equal(want) {
		t.Fatalf("timestamp not defaulted: %s", m.Timestamp)
	}
}

func TestDecodeWorkloadMessageRejections(t *testing.T) {
	cases := map[string]string{
		"garbage":              `{`,
		"unknown type":         `{"message_type": "telemetry", "timestamp": "2024-05-01T12:00:00Z"}`,
		"task without payload": `{"message_type": "task", "timestamp": "2024-05-01T12:00:00Z"}`,
		"heartbeat without ts": `{"message_type": "heartbeat"}`,
		"invalid cpu_count": `{"message_type": "task", "task": {
			"id": 2, "submission_time": "2024-05-01T12:00:00Z", "duration": 1, "cpu_count": 0,
			"cpu_capacity": 1.0, "mem_capacity": 1}}`,
	}
	for name, raw := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := DecodeWorkloadMessage([]byte(raw)); err == nil {
				t.Fatalf("expected rejection for %s", name)
			}
		})
	}
}

func TestDecodePowerSample(t *testing.T) {
	s, err := DecodePowerSample([]byte(`{"timestamp": "2024-05-01T12:00:00Z", "power_draw": 1800.5, "energy_usage": 270075.0}`))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if s.PowerDrawW != 1800.5 {
		t.Fatalf("power_draw lost: %f", s.PowerDrawW)
	}
	if _, err := DecodePowerSample([]byte(`{"power_draw": 1.0, "energy_usage": 1.0}`)); err == nil {
		t.Fatal("expected rejection without timestamp")
	}
	if _, err := DecodePowerSample([]byte(`{"timestamp": "2024-05-01T12:00:00Z", "power_draw": -1.0, "energy_usage": 0}`)); err == nil {
		t.Fatal("expected rejection for negative reading")
	}
}
