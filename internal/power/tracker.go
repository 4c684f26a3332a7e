// v2
// internal/power/tracker.go
//
// Event-time ring of ground-truth power samples. Samples arrive in
// timestamp order from the power stream; the tracker keeps a bounded
// retention horizon and serves half-open range queries for calibration
// batches.
package power

import (
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/atlarge-research/opendt/internal/metrics"
	"github.com/atlarge-research/opendt/internal/model"
)

// DefaultRetention bounds how far back samples are kept when no
// calibration batch pins an older floor.
const DefaultRetention = 24 * time.Hour

type Tracker struct {
	lg        *slog.Logger
	retention time.Duration

	mu      sync.Mutex
	samples []model.PowerSample
	floor   time.Time // oldest instant a live batch still needs
	dropped uint64
}

func NewTracker(retention time.Duration, lg *slog.Logger) *Tracker {
	if retention <= 0 {
		retention = DefaultRetention
	}
	return &Tracker{lg: lg, retention: retention}
}

// Add ingests one sample. Out-of-order samples within the retained
// horizon are inserted in place; samples older than the horizon are
// dropped and counted.
func (t *Tracker) Add(s model.PowerSample) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if n := len(t.samples); n > 0 {
		horizon := t.pruneFloor(t.samples[n-1].Timestamp.Time)
		if s.Timestamp.Time.Before(horizon) {
			t.dropped++
			metrics.InvalidEvents.WithLabelValues("power", "late").Inc()
			return
		}
	}
	t.samples = append(t.samples, s)
	if n := len(t.samples); n > 1 && s.Timestamp.Time.Before(t.samples[n-2].Timestamp.Time) {
		sort.SliceStable(t.samples, func(i, j int) bool {
			return t.samples[i].Timestamp.Time.Before(t.samples[j].Timestamp.Time)
		})
	}
	t.prune()
}

// SetFloor pins the oldest event time a live calibration batch still
// reads. Retention never prunes past it.
func (t *Tracker) SetFloor(floor time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.floor = floor
	t.prune()
}

func (t *Tracker) pruneFloor(newest time.Time) time.Time {
	horizon := newest.Add(-t.retention)
	if !t.floor.IsZero() && t.floor.Before(horizon) {
		return t.floor
	}
	return horizon
}

func (t *Tracker) prune() {
	n := len(t.samples)
	if n == 0 {
		return
	}
	horizon := t.pruneFloor(t.samples[n-1].Timestamp.Time)
	cut := sort.Search(n, func(i int) bool {
		return !t.samples[i].Timestamp.Time.Before(horizon)
	})
	if cut > 0 {
		t.samples = append(t.samples[:0], t.samples[cut:]...)
	}
}

// SamplesIn returns the samples with timestamp in [start, end), in
// timestamp order. The returned slice is a copy.
func (t *Tracker) SamplesIn(start, end time.Time) []model.PowerSample {
	t.mu.Lock()
	defer t.mu.Unlock()

	lo := sort.Search(len(t.samples), func(i int) bool {
		return !t.samples[i].Timestamp.Time.Before(start)
	})
	hi := sort.Search(len(t.samples), func(i int) bool {
		return !t.samples[i].Timestamp.Time.Before(end)
	})
	out := make([]model.PowerSample, hi-lo)
	copy(out, t.samples[lo:hi])
	return out
}

// Span reports the oldest and newest retained timestamps.
func (t *Tracker) Span() (oldest, newest time.Time, ok bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.samples) == 0 {
		return time.Time{}, time.Time{}, false
	}
	return t.samples[0].Timestamp.Time, t.samples[len(t.samples)-1].Timestamp.Time, true
}

func (t *Tracker) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.samples)
}
