// Package consensus computes a Byzantine-tolerant weighted estimate from
// trusted sensors' aligned evidence. Untrusted sensors are filtered out
// before weighting; the combination weight of each survivor is its trust
// score times its sensor kind's domain priority.
package consensus

import (
	"fmt"
	"math"
	"sort"

	"github.com/arable-data/chronofuse/internal/fusion"
)

// Input is one trusted-candidate sensor's evidence for a fusion cycle:
// its representative (already aligned and delay-corrected) value, its
// current trust and its domain priority.
type Input struct {
	SensorID string
	Value    fusion.Value
	Trust    float64
	Priority float64
}

// Estimate is the consensus output consumed by the refinement stage and,
// when no refinement runs, returned directly to the caller.
type Estimate struct {
	// State is the weighted mean of the trusted sensors' value
	// components.
	State []float64

	// Spread is the weighted standard deviation of the component norms
	// around the state, per component.
	Spread []float64

	// Weights maps sensor ID to its normalised contribution.
	Weights map[string]float64

	// Confidence is total trusted weight relative to the maximum
	// possible weight, scaled by agreement. 1.0 when every sensor is
	// fully trusted and all values agree exactly.
	Confidence float64

	// Agreement is the inverse of the observed residual spread, in
	// (0, 1]. Exact agreement scores 1.0.
	Agreement float64
}

// Engine filters and combines sensor evidence.
type Engine struct {
	trustThreshold float64
}

// NewEngine builds a consensus engine. trustThreshold is the minimum trust
// a sensor needs to participate.
func NewEngine(trustThreshold float64) *Engine {
	return &Engine{trustThreshold: trustThreshold}
}

// Combine computes the trust-weighted consensus over the given inputs.
// Fails with fusion.ErrNoTrustedSensors when the trust filter leaves
// nothing to combine. Inputs whose value kind or component dimension
// differs from the dominant one are excluded from the state but still
// counted against confidence.
func (e *Engine) Combine(inputs []Input) (Estimate, error) {
	trusted := make([]Input, 0, len(inputs))
	for _, in := range inputs {
		if in.Trust > e.trustThreshold {
			trusted = append(trusted, in)
		}
	}
	if len(trusted) == 0 {
		return Estimate{}, fmt.Errorf("threshold %.2f over %d sensors: %w",
			e.trustThreshold, len(inputs), fusion.ErrNoTrustedSensors)
	}

	kind := dominantKind(trusted)
	usable := trusted[:0:0]
	for _, in := range trusted {
		if in.Value.Kind == kind {
			usable = append(usable, in)
		}
	}
	// Vector values may legitimately differ in length; keep only the
	// dominant dimension so the state components stay co-indexed.
	dim := dominantDim(usable)
	uniform := usable[:0:0]
	for _, in := range usable {
		if len(in.Value.Components()) == dim {
			uniform = append(uniform, in)
		}
	}
	usable = uniform
	// Deterministic iteration for reproducible weight maps.
	sort.Slice(usable, func(i, j int) bool { return usable[i].SensorID < usable[j].SensorID })

	state := make([]float64, dim)
	total := 0.0
	weights := make(map[string]float64, len(usable))
	for _, in := range usable {
		w := in.Trust * in.Priority
		weights[in.SensorID] = w
		total += w
		for c, v := range in.Value.Components() {
			state[c] += w * v
		}
	}
	for c := range state {
		state[c] /= total
	}
	for id := range weights {
		weights[id] /= total
	}

	spread := make([]float64, dim)
	for _, in := range usable {
		w := weights[in.SensorID]
		for c, v := range in.Value.Components() {
			d := v - state[c]
			spread[c] += w * d * d
		}
	}
	meanRelSpread := 0.0
	for c := range spread {
		spread[c] = math.Sqrt(spread[c])
		denom := math.Max(math.Abs(state[c]), 1)
		meanRelSpread += spread[c] / denom
	}
	meanRelSpread /= float64(dim)
	agreement := 1 / (1 + meanRelSpread)

	// Maximum possible weight: every input fully trusted and usable.
	maxTotal := 0.0
	for _, in := range inputs {
		maxTotal += in.Priority
	}
	confidence := agreement * total / maxTotal

	return Estimate{
		State:      state,
		Spread:     spread,
		Weights:    weights,
		Confidence: confidence,
		Agreement:  agreement,
	}, nil
}

// dominantKind picks the value kind contributed by the largest share of
// trusted sensors, ties broken by kind name for determinism.
func dominantKind(inputs []Input) fusion.ValueKind {
	counts := make(map[fusion.ValueKind]int)
	for _, in := range inputs {
		counts[in.Value.Kind]++
	}
	var best fusion.ValueKind
	bestN := -1
	kinds := make([]fusion.ValueKind, 0, len(counts))
	for k := range counts {
		kinds = append(kinds, k)
	}
	sort.Slice(kinds, func(i, j int) bool { return kinds[i] < kinds[j] })
	for _, k := range kinds {
		if counts[k] > bestN {
			best, bestN = k, counts[k]
		}
	}
	return best
}

// dominantDim picks the component dimension contributed by the largest
// share of inputs, ties broken by the smaller dimension for determinism.
func dominantDim(inputs []Input) int {
	counts := make(map[int]int)
	for _, in := range inputs {
		counts[len(in.Value.Components())]++
	}
	dims := make([]int, 0, len(counts))
	for d := range counts {
		dims = append(dims, d)
	}
	sort.Ints(dims)
	best, bestN := 0, -1
	for _, d := range dims {
		if counts[d] > bestN {
			best, bestN = d, counts[d]
		}
	}
	return best
}
