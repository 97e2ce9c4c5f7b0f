// Package dtw aligns two irregularly-sampled sensor streams onto a common
// timeline with Dynamic Time Warping: a minimum-cost monotone correspondence
// between the reference and target sequences, under configurable band/slope
// constraints and step patterns, followed by warping the target's
// measurements onto the reference timestamps.
package dtw

import (
	"fmt"
	"math"
	"sort"

	"github.com/arable-data/chronofuse/internal/fusion"
)

// IndexPair is one correspondence on the warping path, indexing into the
// time-sorted reference and target sequences.
type IndexPair struct {
	Reference int `json:"reference"`
	Target    int `json:"target"`
}

// AlignmentResult is the immutable outcome of one pairwise alignment.
type AlignmentResult struct {
	// WarpedPairs is monotone non-decreasing in both indices.
	WarpedPairs []IndexPair `json:"warped_pairs"`

	// Cost is the total accumulated path cost.
	Cost float64 `json:"cost"`

	// QualityScore is 1/(1+cost/len(path)), in (0, 1].
	QualityScore float64 `json:"quality_score"`

	// Aligned is the target stream re-timestamped onto the reference
	// timeline, one measurement per reference index.
	Aligned []fusion.Measurement `json:"aligned"`
}

// Constraints restrict which (reference, target) cells are admissible.
// Cells outside the constraints carry infinite cost and are never selected.
type Constraints struct {
	// SakoeChibaRadius bounds |j - i*m/n| (cells off the stretched
	// diagonal). Zero disables the band.
	SakoeChibaRadius int

	// Itakura enables the slope parallelogram with bounds
	// [1/MaxSlope, MaxSlope].
	Itakura  bool
	MaxSlope float64

	// MaxTemporalWindowS excludes candidate pairs whose corrected
	// timestamps differ by more than this many seconds. Zero disables.
	MaxTemporalWindowS float64
}

// DefaultMaxSlope is the Itakura slope bound when none is configured,
// giving the canonical 0.5–2.0 parallelogram.
const DefaultMaxSlope = 2.0

// Aligner runs constrained DTW with a fixed step pattern. An Aligner is
// stateless across calls and safe for concurrent use; each Align call is
// single-threaded and deterministic.
type Aligner struct {
	pattern     StepPattern
	constraints Constraints
}

// NewAligner builds an aligner. A zero-valued Constraints means
// unconstrained alignment.
func NewAligner(pattern StepPattern, constraints Constraints) *Aligner {
	if constraints.Itakura && constraints.MaxSlope <= 1 {
		constraints.MaxSlope = DefaultMaxSlope
	}
	return &Aligner{pattern: pattern, constraints: constraints}
}

// Align warps target onto reference. Both inputs may arrive out of temporal
// order; Align sorts working copies and never mutates the caller's slices.
// Fails with fusion.ErrEmptyInput when either side is empty and
// fusion.ErrNoFeasibleAlignment when the constraints exclude every cell of
// some reference row.
func (a *Aligner) Align(reference, target []fusion.Measurement) (AlignmentResult, error) {
	if len(reference) == 0 || len(target) == 0 {
		return AlignmentResult{}, fmt.Errorf("reference %d points, target %d points: %w",
			len(reference), len(target), fusion.ErrEmptyInput)
	}

	ref := sortedByTime(reference)
	tgt := sortedByTime(target)

	if len(ref) == 1 || len(tgt) == 1 {
		return a.degenerateAlign(ref, tgt)
	}

	n, m := len(ref), len(tgt)
	cost := a.costMatrix(ref, tgt)

	// Accumulated cost and the index of the step taken to reach each
	// cell (into pattern.Steps; -1 for the origin / unreachable).
	acc := make([][]float64, n)
	pred := make([][]int8, n)
	for i := range acc {
		acc[i] = make([]float64, m)
		pred[i] = make([]int8, m)
		for j := range acc[i] {
			acc[i][j] = math.Inf(1)
			pred[i][j] = -1
		}
	}
	acc[0][0] = cost[0][0]

	for i := 0; i < n; i++ {
		rowFeasible := false
		for j := 0; j < m; j++ {
			if i == 0 && j == 0 {
				rowFeasible = !math.IsInf(acc[0][0], 1)
				continue
			}
			if math.IsInf(cost[i][j], 1) {
				continue
			}
			// Candidates evaluated in pattern order; strict
			// less-than keeps the first (highest-priority) step
			// on ties. Documented order for the built-in
			// patterns: diagonal, reference-advance,
			// target-advance.
			best := math.Inf(1)
			bestStep := int8(-1)
			for si, s := range a.pattern.Steps {
				pi, pj := i-s.DRef, j-s.DTarget
				if pi < 0 || pj < 0 {
					continue
				}
				c := acc[pi][pj] + s.Weight*cost[i][j]
				if c < best {
					best = c
					bestStep = int8(si)
				}
			}
			if bestStep >= 0 && !math.IsInf(best, 1) {
				acc[i][j] = best
				pred[i][j] = bestStep
				rowFeasible = true
			}
		}
		if !rowFeasible {
			return AlignmentResult{}, fmt.Errorf("reference row %d fully excluded: %w",
				i, fusion.ErrNoFeasibleAlignment)
		}
	}

	if math.IsInf(acc[n-1][m-1], 1) {
		return AlignmentResult{}, fmt.Errorf("end cell unreachable: %w", fusion.ErrNoFeasibleAlignment)
	}

	path := backtrack(pred, a.pattern, n, m)
	total := acc[n-1][m-1]
	normalized := total / float64(len(path))

	aligned := applyWarp(ref, tgt, path)

	return AlignmentResult{
		WarpedPairs:  path,
		Cost:         total,
		QualityScore: 1 / (1 + normalized),
		Aligned:      aligned,
	}, nil
}

// degenerateAlign handles single-point streams without the DP table: the
// lone point pairs with its minimum-cost counterpart (first minimum wins,
// keeping the result deterministic).
func (a *Aligner) degenerateAlign(ref, tgt []fusion.Measurement) (AlignmentResult, error) {
	pair := IndexPair{}
	best := math.Inf(1)
	if len(ref) == 1 {
		for j := range tgt {
			if c := localCost(ref[0], tgt[j]); c < best {
				best = c
				pair = IndexPair{Reference: 0, Target: j}
			}
		}
	} else {
		for i := range ref {
			if c := localCost(ref[i], tgt[0]); c < best {
				best = c
				pair = IndexPair{Reference: i, Target: 0}
			}
		}
	}
	path := []IndexPair{pair}
	return AlignmentResult{
		WarpedPairs:  path,
		Cost:         best,
		QualityScore: 1 / (1 + best),
		Aligned:      applyWarp(ref, tgt, path),
	}, nil
}

// costMatrix fills the local-cost matrix, applying the band, slope and
// temporal-window constraints as +Inf entries. Entries are always finite or
// +Inf, never NaN.
func (a *Aligner) costMatrix(ref, tgt []fusion.Measurement) [][]float64 {
	n, m := len(ref), len(tgt)
	cost := make([][]float64, n)
	for i := range cost {
		cost[i] = make([]float64, m)
		for j := range cost[i] {
			if !a.admissible(i, j, n, m) {
				cost[i][j] = math.Inf(1)
				continue
			}
			if a.constraints.MaxTemporalWindowS > 0 &&
				math.Abs(ref[i].Timestamp-tgt[j].Timestamp) > a.constraints.MaxTemporalWindowS {
				cost[i][j] = math.Inf(1)
				continue
			}
			cost[i][j] = localCost(ref[i], tgt[j])
		}
	}
	return cost
}

// admissible applies the Sakoe-Chiba band and the Itakura parallelogram.
// Start and end cells are always admissible so a path can exist.
func (a *Aligner) admissible(i, j, n, m int) bool {
	if (i == 0 && j == 0) || (i == n-1 && j == m-1) {
		return true
	}
	if r := a.constraints.SakoeChibaRadius; r > 0 {
		// Stretch the diagonal to the matrix aspect ratio.
		diag := float64(i) * float64(m-1) / float64(n-1)
		if math.Abs(float64(j)-diag) > float64(r) {
			return false
		}
	}
	if a.constraints.Itakura {
		maxS := a.constraints.MaxSlope
		minS := 1 / maxS
		fi, fj := float64(i), float64(j)
		// Forward cone from (0,0) and backward cone from (n-1,m-1).
		if fj > fi*maxS || fj < fi*minS {
			return false
		}
		ri, rj := float64(n-1)-fi, float64(m-1)-fj
		if rj > ri*maxS || rj < ri*minS {
			return false
		}
	}
	return true
}

// localCost is the per-cell alignment cost: absolute timestamp difference
// plus value dissimilarity.
func localCost(a, b fusion.Measurement) float64 {
	return math.Abs(a.Timestamp-b.Timestamp) + (1 - fusion.Similarity(a.Value, b.Value))
}

// backtrack recovers the warping path from the recorded step choices,
// walking from (n-1, m-1) to (0, 0). The returned pairs are in forward
// order and monotone non-decreasing in both indices.
func backtrack(pred [][]int8, pattern StepPattern, n, m int) []IndexPair {
	rev := make([]IndexPair, 0, n+m)
	i, j := n-1, m-1
	for {
		rev = append(rev, IndexPair{Reference: i, Target: j})
		si := pred[i][j]
		if si < 0 {
			break
		}
		s := pattern.Steps[si]
		i -= s.DRef
		j -= s.DTarget
	}
	// Reverse in place.
	for l, r := 0, len(rev)-1; l < r; l, r = l+1, r-1 {
		rev[l], rev[r] = rev[r], rev[l]
	}
	return rev
}

func sortedByTime(in []fusion.Measurement) []fusion.Measurement {
	out := make([]fusion.Measurement, len(in))
	copy(out, in)
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Timestamp < out[j].Timestamp
	})
	return out
}
