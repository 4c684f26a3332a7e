// v1
// internal/power/tracker_test.go
package power

import (
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/atlarge-research/opendt/internal/model"
)

var trackerBase = time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)

func sample(min int, watts float64) model.PowerSample {
	return model.PowerSample{
		Timestamp:  model.NewTimestamp(trackerBase.Add(time.Duration(min) * time.Minute)),
		PowerDrawW: watts,
	}
}

func newTestTracker(retention time.Duration) *Tracker {
	return NewTracker(retention, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestSamplesInHalfOpenRange(t *testing.T) {
	tr := newTestTracker(0)
	for m := 0; m < 10; m++ {
		tr.Add(sample(m, float64(m)))
	}
	got := tr.SamplesIn(trackerBase.Add(2*time.Minute), trackerBase.Add(5*time.Minute))
	if len(got) != 3 {
		t.Fatalf("range size: got %d want 3", len(got))
	}
	if got[0].PowerDrawW != 2 || got[2].PowerDrawW != 4 {
		t.Fatalf("range bounds wrong: %v ... %v", got[0], got[2])
	}
}

func TestOutOfOrderSampleInserted(t *testing.T) {
	tr := newTestTracker(0)
	tr.Add(sample(0, 0))
	tr.Add(sample(4, 4))
	tr.Add(sample(2, 2))

	got := tr.SamplesIn(trackerBase, trackerBase.Add(10*time.Minute))
	if len(got) != 3 {
		t.Fatalf("sample lost: %d", len(got))
	}
	for i := 1; i < len(got); i++ {
		if got[i].Timestamp.Before(got[i-1].Timestamp.Time) {
			t.Fatalf("order broken at %d: %v", i, got)
		}
	}
}

func TestRetentionPrunesOldSamples(t *testing.T) {
	tr := newTestTracker(time.Hour)
	tr.Add(sample(0, 1))
	tr.Add(sample(90, 2)) // pushes the horizon past the first sample

	if tr.Len() != 1 {
		t.Fatalf("expected prune to 1 sample, got %d", tr.Len())
	}
	oldest, _, ok := tr.Span()
	if !ok || !oldest.Equal(trackerBase.Add(90*time.Minute)) {
		t.Fatalf("wrong survivor: %s", oldest)
	}
}

func TestLateSampleBeyondHorizonDropped(t *testing.T) {
	tr := newTestTracker(time.Hour)
	tr.Add(sample(120, 1))
	tr.Add(sample(10, 2)) // two hours stale
	if tr.Len() != 1 {
		t.Fatalf("stale sample accepted: %d", tr.Len())
	}
}

func TestFloorPinsRetention(t *testing.T) {
	tr := newTestTracker(time.Hour)
	tr.SetFloor(trackerBase)
	tr.Add(sample(0, 1))
	tr.Add(sample(90, 2))

	// The pinned batch still needs the old sample.
	if tr.Len() != 2 {
		t.Fatalf("pinned sample pruned: %d", tr.Len())
	}

	// Releasing the floor lets retention catch up.
	tr.SetFloor(trackerBase.Add(90 * time.Minute))
	if tr.Len() != 1 {
		t.Fatalf("expected prune after floor release, got %d", tr.Len())
	}
}
