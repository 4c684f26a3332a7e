// v1
// internal/model/timestamp_test.go
package model

import (
	"encoding/json"
	"testing"
	"time"
)

func TestParseTimestampAcceptsBothWireForms(t *testing.T) {
	rfc, err := ParseTimestamp("2024-05-01T12:00:00Z")
	if err != nil {
		t.Fatalf("rfc3339: %v", err)
	}
	bare, err := ParseTimestamp("2024-05-01 12:00:00")
	if err != nil {
		t.Fatalf("zone-less: %v", err)
	}
	if !rfc.Equal(bare.Time) {
		t.Fatalf("forms disagree: %s vs %s", rfc, bare)
	}
	if _, err := ParseTimestamp("yesterday"); err == nil {
		t.Fatal("expected error for garbage input")
	}
}

func TestTimestampSerializesAsRFC3339UTC(t *testing.T) {
	ts := NewTimestamp(time.Date(2024, 5, 1, 14, 30, 0, 0, time.FixedZone("CEST", 2*3600)))
	raw, err := json.Marshal(ts)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if string(raw) != `"2024-05-01T12:30:00Z"` {
		t.Fatalf("unexpected wire form %s", raw)
	}
	var back Timestamp
	if err := json.Unmarshal(raw, &back); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if !back.Equal(ts.Time) {
		t.Fatalf("round trip drift: %s vs %s", back, ts)
	}
}
