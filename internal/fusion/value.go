package fusion

import "math"

// ValueKind identifies the payload carried by a Value. The set is closed:
// fusion algorithms dispatch on the kind with a single switch rather than
// open-ended plugin types.
type ValueKind string

const (
	KindScalar   ValueKind = "scalar"   // single physical quantity
	KindVector   ValueKind = "vector"   // fixed-dimension numeric vector
	KindPosition ValueKind = "position" // lat/lon/alt geodetic fix
	KindWind     ValueKind = "wind"     // speed (m/s) + direction (degrees)
)

// Value is a tagged measurement payload. Exactly the fields implied by Kind
// are meaningful; the rest are zero.
type Value struct {
	Kind ValueKind `json:"kind"`

	Scalar float64 `json:"scalar,omitempty"`

	Vector []float64 `json:"vector,omitempty"`

	// Position fields (KindPosition).
	Latitude  float64 `json:"latitude,omitempty"`
	Longitude float64 `json:"longitude,omitempty"`
	Altitude  float64 `json:"altitude,omitempty"`

	// Wind fields (KindWind).
	SpeedMps     float64 `json:"speed_mps,omitempty"`
	DirectionDeg float64 `json:"direction_deg,omitempty"`
}

// ScalarValue wraps a single quantity.
func ScalarValue(v float64) Value { return Value{Kind: KindScalar, Scalar: v} }

// VectorValue wraps a numeric vector. The slice is copied so the Value stays
// immutable after creation.
func VectorValue(v []float64) Value {
	cp := make([]float64, len(v))
	copy(cp, v)
	return Value{Kind: KindVector, Vector: cp}
}

// PositionValue wraps a geodetic fix.
func PositionValue(lat, lon, alt float64) Value {
	return Value{Kind: KindPosition, Latitude: lat, Longitude: lon, Altitude: alt}
}

// WindValue wraps a wind observation. Direction is normalised into [0, 360).
func WindValue(speedMps, directionDeg float64) Value {
	d := math.Mod(directionDeg, 360)
	if d < 0 {
		d += 360
	}
	return Value{Kind: KindWind, SpeedMps: speedMps, DirectionDeg: d}
}

// Components returns the value as a flat numeric vector. This is the
// projection used when algorithms need a state-vector view of heterogeneous
// payloads (consensus averaging, factor construction).
func (v Value) Components() []float64 {
	switch v.Kind {
	case KindScalar:
		return []float64{v.Scalar}
	case KindVector:
		cp := make([]float64, len(v.Vector))
		copy(cp, v.Vector)
		return cp
	case KindPosition:
		return []float64{v.Latitude, v.Longitude, v.Altitude}
	case KindWind:
		return []float64{v.SpeedMps, v.DirectionDeg}
	default:
		return nil
	}
}

// FromComponents rebuilds a Value of the given kind from its flat component
// projection (the inverse of Components).
func FromComponents(kind ValueKind, comps []float64) Value {
	switch kind {
	case KindScalar:
		if len(comps) > 0 {
			return ScalarValue(comps[0])
		}
	case KindVector:
		return VectorValue(comps)
	case KindPosition:
		if len(comps) >= 3 {
			return PositionValue(comps[0], comps[1], comps[2])
		}
	case KindWind:
		if len(comps) >= 2 {
			return WindValue(comps[0], comps[1])
		}
	}
	return Value{Kind: kind}
}

// Mean averages values of a common kind component-wise. Wind directions use
// the circular mean so 350 and 10 average to 0, not 180. Values whose kind
// differs from the first value's kind are skipped.
func Mean(values []Value) Value {
	if len(values) == 0 {
		return Value{}
	}
	kind := values[0].Kind
	if kind == KindWind {
		speed, sinSum, cosSum, n := 0.0, 0.0, 0.0, 0
		for _, v := range values {
			if v.Kind != KindWind {
				continue
			}
			speed += v.SpeedMps
			rad := v.DirectionDeg * math.Pi / 180
			sinSum += math.Sin(rad)
			cosSum += math.Cos(rad)
			n++
		}
		dir := math.Atan2(sinSum, cosSum) * 180 / math.Pi
		return WindValue(speed/float64(n), dir)
	}

	acc := values[0].Components()
	n := 1
	for _, v := range values[1:] {
		if v.Kind != kind {
			continue
		}
		for c, x := range v.Components() {
			if c < len(acc) {
				acc[c] += x
			}
		}
		n++
	}
	for c := range acc {
		acc[c] /= float64(n)
	}
	return FromComponents(kind, acc)
}

// Similarity defaults and numerical guards.
const (
	// MismatchedKindSimilarity is returned when two values cannot be
	// compared component-wise (different kinds, or an unknown kind).
	MismatchedKindSimilarity = 0.5

	// similarityEpsilon guards the normalisation denominator so two
	// near-zero scalars still compare as identical instead of dividing
	// by zero.
	similarityEpsilon = 1e-12
)

// Similarity computes a type-aware similarity in [0, 1] between two values.
// Identical values score 1.0. Scalars use a normalised absolute difference;
// vectors (and positions, treated as 3-vectors) average the component
// similarities; wind combines speed similarity with circular direction
// similarity (wraparound at 360 degrees). Mismatched or unknown kinds score
// MismatchedKindSimilarity.
func Similarity(a, b Value) float64 {
	if a.Kind != b.Kind {
		return MismatchedKindSimilarity
	}
	switch a.Kind {
	case KindScalar:
		return scalarSimilarity(a.Scalar, b.Scalar)
	case KindVector:
		if len(a.Vector) != len(b.Vector) || len(a.Vector) == 0 {
			return MismatchedKindSimilarity
		}
		sum := 0.0
		for i := range a.Vector {
			sum += scalarSimilarity(a.Vector[i], b.Vector[i])
		}
		return sum / float64(len(a.Vector))
	case KindPosition:
		sum := scalarSimilarity(a.Latitude, b.Latitude) +
			scalarSimilarity(a.Longitude, b.Longitude) +
			scalarSimilarity(a.Altitude, b.Altitude)
		return sum / 3
	case KindWind:
		speedSim := scalarSimilarity(a.SpeedMps, b.SpeedMps)
		dirSim := circularSimilarity(a.DirectionDeg, b.DirectionDeg)
		return 0.5*speedSim + 0.5*dirSim
	default:
		return MismatchedKindSimilarity
	}
}

// scalarSimilarity maps an absolute difference normalised by the larger
// magnitude onto [0, 1]. Two zeros are identical by definition.
func scalarSimilarity(a, b float64) float64 {
	diff := math.Abs(a - b)
	if diff == 0 {
		return 1
	}
	denom := math.Max(math.Abs(a), math.Abs(b))
	if denom < similarityEpsilon {
		return 1
	}
	sim := 1 - diff/denom
	if sim < 0 {
		return 0
	}
	return sim
}

// circularSimilarity compares two bearings in degrees with wraparound:
// 350 and 10 are 20 degrees apart, not 340.
func circularSimilarity(a, b float64) float64 {
	diff := math.Abs(a - b)
	diff = math.Mod(diff, 360)
	if diff > 180 {
		diff = 360 - diff
	}
	return 1 - diff/180
}
