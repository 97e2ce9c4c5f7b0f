package dtw

import (
	"math"

	"github.com/arable-data/chronofuse/internal/fusion"
)

// applyWarp re-timestamps the target stream onto the reference timeline.
// One measurement is produced per reference index:
//   - a reference index matched to exactly one target point takes that
//     point's value at the reference timestamp;
//   - a reference index matched to several target points takes their mean;
//   - a reference index the path skipped (asymmetric patterns) is linearly
//     interpolated between its warp-path neighbours.
//
// Each produced measurement carries an alignment uncertainty derived from
// the local path slope's deviation from the ideal diagonal.
func applyWarp(ref, tgt []fusion.Measurement, path []IndexPair) []fusion.Measurement {
	if len(path) == 0 {
		return nil
	}

	// Group matched target indices per reference index.
	matched := make(map[int][]int, len(ref))
	for _, p := range path {
		matched[p.Reference] = append(matched[p.Reference], p.Target)
	}

	out := make([]fusion.Measurement, 0, len(ref))
	for i := range ref {
		js, ok := matched[i]
		var m fusion.Measurement
		if ok {
			m = warpMatched(ref[i], tgt, js)
		} else {
			m = warpInterpolated(ref[i], tgt, matched, i, len(ref))
		}
		m.AlignmentUncertainty = slopeDeviation(path, i)
		out = append(out, m)
	}
	return out
}

// warpMatched produces the aligned measurement for a directly matched
// reference index, averaging when the path maps several target points onto
// the same reference point.
func warpMatched(ref fusion.Measurement, tgt []fusion.Measurement, js []int) fusion.Measurement {
	m := tgt[js[0]]
	if len(js) > 1 {
		m.Value = meanValue(tgt, js)
		// Combine the per-point uncertainties of the averaged group.
		sum := 0.0
		for _, j := range js {
			sum += tgt[j].Uncertainty * tgt[j].Uncertainty
		}
		m.Uncertainty = math.Sqrt(sum) / float64(len(js))
	}
	m.Timestamp = ref.Timestamp
	return m
}

// warpInterpolated fills a reference index the path never visited by
// interpolating between the nearest matched neighbours on either side.
func warpInterpolated(ref fusion.Measurement, tgt []fusion.Measurement, matched map[int][]int, i, n int) fusion.Measurement {
	lo, hi := -1, -1
	for k := i - 1; k >= 0; k-- {
		if js, ok := matched[k]; ok {
			lo = js[len(js)-1]
			break
		}
	}
	for k := i + 1; k < n; k++ {
		if js, ok := matched[k]; ok {
			hi = js[0]
			break
		}
	}
	switch {
	case lo < 0 && hi < 0:
		// Cannot happen on a non-empty path; return the reference
		// point unchanged as a safe fallback.
		return ref
	case lo < 0:
		m := tgt[hi]
		m.Timestamp = ref.Timestamp
		return m
	case hi < 0:
		m := tgt[lo]
		m.Timestamp = ref.Timestamp
		return m
	}

	a, b := tgt[lo], tgt[hi]
	span := b.Timestamp - a.Timestamp
	frac := 0.5
	if span > 0 {
		frac = (ref.Timestamp - a.Timestamp) / span
		frac = math.Max(0, math.Min(1, frac))
	}
	m := a
	m.Timestamp = ref.Timestamp
	m.Value = lerpValue(a.Value, b.Value, frac)
	m.Uncertainty = (1-frac)*a.Uncertainty + frac*b.Uncertainty
	return m
}

// slopeDeviation measures how far the warp path departs from the unit
// diagonal around reference index i, mapped onto [0, 1). A locally diagonal
// path (slope 1) scores 0.
func slopeDeviation(path []IndexPair, i int) float64 {
	// Find the path segment spanning reference index i.
	var prev, next *IndexPair
	for k := range path {
		p := path[k]
		if p.Reference <= i {
			prev = &path[k]
		}
		if p.Reference >= i && next == nil {
			next = &path[k]
		}
	}
	if prev == nil || next == nil || prev == next {
		// Widen to immediate neighbours when i sits exactly on a
		// single path point.
		for k := 0; k < len(path)-1; k++ {
			if path[k].Reference <= i && path[k+1].Reference >= i && path[k] != path[k+1] {
				prev, next = &path[k], &path[k+1]
				break
			}
		}
	}
	if prev == nil || next == nil || next.Reference == prev.Reference {
		return 0
	}
	slope := float64(next.Target-prev.Target) / float64(next.Reference-prev.Reference)
	dev := math.Abs(slope - 1)
	return dev / (1 + dev)
}

// meanValue averages the values at the given target indices component-wise,
// preserving the value kind.
func meanValue(tgt []fusion.Measurement, js []int) fusion.Value {
	values := make([]fusion.Value, len(js))
	for i, j := range js {
		values[i] = tgt[j].Value
	}
	return fusion.Mean(values)
}

// lerpValue linearly interpolates between two values of the same kind.
// Wind directions interpolate along the shorter arc.
func lerpValue(a, b fusion.Value, frac float64) fusion.Value {
	if a.Kind != b.Kind {
		return a
	}
	if a.Kind == fusion.KindWind {
		speed := a.SpeedMps + frac*(b.SpeedMps-a.SpeedMps)
		diff := math.Mod(b.DirectionDeg-a.DirectionDeg+540, 360) - 180
		return fusion.WindValue(speed, a.DirectionDeg+frac*diff)
	}
	ca, cb := a.Components(), b.Components()
	if len(ca) != len(cb) {
		return a
	}
	out := make([]float64, len(ca))
	for i := range ca {
		out[i] = ca[i] + frac*(cb[i]-ca[i])
	}
	return fusion.FromComponents(a.Kind, out)
}
