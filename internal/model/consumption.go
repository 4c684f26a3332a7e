// v1
// internal/model/consumption.go
package model

import (
	"encoding/json"
	"fmt"
)

// PowerSample is one measured power reading from the real datacenter.
// EnergyJ is the energy reported for the sample's export interval.
type PowerSample struct {
	Timestamp  Timestamp `json:"timestamp"`
	PowerDrawW float64   `json:"power_draw"`
	EnergyJ    float64   `json:"energy_usage"`
}

func DecodePowerSample(b []byte) (PowerSample, error) {
	var s PowerSample
	if err := json.Unmarshal(b, &s); err != nil {
		return PowerSample{}, fmt.Errorf("power decode: %w", err)
	}
	if s.Timestamp.IsZero() {
		return PowerSample{}, fmt.Errorf("power sample without timestamp")
	}
	if s.PowerDrawW < 0 || s.EnergyJ < 0 {
		return PowerSample{}, fmt.Errorf("power sample with negative reading at %s", s.Timestamp)
	}
	return s, nil
}
