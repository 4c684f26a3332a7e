// v3
// internal/calib/mape.go
//
// MAPE scoring of a simulated power series against observed samples.
// Both series are resampled onto a common 1-minute grid over their
// overlapping span by time-linear interpolation; grid points outside
// either series' support are skipped. The score is the mean of
// |obs - sim| / max(eps, obs) over the aligned points.
package calib

import (
	"math"
	"time"

	"github.com/atlarge-research/opendt/internal/model"
)

const (
	gridStep = time.Minute
	epsilon  = 1e-9
)

type point struct {
	t time.Time
	v float64
}

func fromSimSeries(ps []model.SeriesPoint) []point {
	out := make([]point, 0, len(ps))
	for _, p := range ps {
		out = append(out, point{t: time.UnixMilli(p.TimeMs).UTC(), v: p.Value})
	}
	return out
}

func fromSamples(ss []model.PowerSample) []point {
	out := make([]point, 0, len(ss))
	for _, s := range ss {
		out = append(out, point{t: s.Timestamp.Time, v: s.PowerDrawW})
	}
	return out
}

// interpolate evaluates the series at t by linear interpolation between
// the surrounding points. ok is false outside the series' support.
func interpolate(series []point, t time.Time) (float64, bool) {
	n := len(series)
	if n == 0 || t.Before(series[0].t) || t.After(series[n-1].t) {
		return 0, false
	}
	lo, hi := 0, n-1
	for lo < hi {
		mid := (lo + hi) / 2
		if series[mid].t.Before(t) {
			lo = mid + 1
		} else {
			hi = mid
		}
	}
	p1 := series[lo]
	if p1.t.Equal(t) || lo == 0 {
		return p1.v, true
	}
	p0 := series[lo-1]
	span := p1.t.Sub(p0.t)
	if span <= 0 {
		return p1.v, true
	}
	frac := float64(t.Sub(p0.t)) / float64(span)
	return p0.v + frac*(p1.v-p0.v), true
}

// Score computes the MAPE of sim against obs over [start, end]. The
// second return is the number of aligned grid points; zero points
// scores +Inf so the candidate loses to anything scoreable.
func Score(sim []model.SeriesPoint, obs []model.PowerSample, start, end time.Time) (float64, int) {
	s := fromSimSeries(sim)
	o := fromSamples(obs)
	if len(s) == 0 || len(o) == 0 {
		return math.Inf(1), 0
	}

	gridStart := maxTime(start, maxTime(s[0].t, o[0].t))
	gridEnd := minTime(end, minTime(s[len(s)-1].t, o[len(o)-1].t))
	if gridEnd.Before(gridStart) {
		return math.Inf(1), 0
	}

	var sum float64
	n := 0
	for t := gridStart; !t.After(gridEnd); t = t.Add(gridStep) {
		sv, ok := interpolate(s, t)
		if !ok {
			continue
		}
		ov, ok := interpolate(o, t)
		if !ok {
			continue
		}
		sum += math.Abs(ov-sv) / math.Max(epsilon, ov)
		n++
	}
	if n == 0 {
		return math.Inf(1), 0
	}
	return sum / float64(n), n
}

func maxTime(a, b time.Time) time.Time {
	if a.After(b) {
		return a
	}
	return b
}

func minTime(a, b time.Time) time.Time {
	if a.Before(b) {
		return a
	}
	return b
}
