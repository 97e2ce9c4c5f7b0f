package trust

import "github.com/arable-data/chronofuse/internal/fusion"

// Consistency computes each sensor's mean pairwise similarity with every
// other reporting sensor, over streams already aligned to a common
// timeline. For each ordered pair the measurements are compared index by
// index with the type-aware similarity function; a sensor's score is the
// mean over all its pairings.
//
// The pairwise score alone cannot tell which sensor of a disagreeing pair
// is wrong, so fault attribution uses the per-sensor mean: a single
// outlier scores low against everyone while the consistent majority keeps
// scoring high against each other.
func Consistency(aligned map[string][]fusion.Measurement) map[string]float64 {
	ids := make([]string, 0, len(aligned))
	for id := range aligned {
		ids = append(ids, id)
	}
	out := make(map[string]float64, len(ids))
	if len(ids) < 2 {
		// A lone sensor has nothing to disagree with.
		for _, id := range ids {
			out[id] = 1
		}
		return out
	}

	for _, a := range ids {
		sum, pairs := 0.0, 0
		for _, b := range ids {
			if a == b {
				continue
			}
			sum += pairSimilarity(aligned[a], aligned[b])
			pairs++
		}
		out[a] = sum / float64(pairs)
	}
	return out
}

// pairSimilarity is the mean per-index value similarity of two aligned
// streams, over their overlapping prefix.
func pairSimilarity(a, b []fusion.Measurement) float64 {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	if n == 0 {
		return fusion.MismatchedKindSimilarity
	}
	sum := 0.0
	for i := 0; i < n; i++ {
		sum += fusion.Similarity(a[i].Value, b[i].Value)
	}
	return sum / float64(n)
}
