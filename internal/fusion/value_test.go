package fusion

import (
	"math"
	"testing"
)

func TestSimilarity_IdenticalScalars(t *testing.T) {
	if got := Similarity(ScalarValue(1.0), ScalarValue(1.0)); got != 1.0 {
		t.Errorf("identical scalars: similarity = %v, want 1.0", got)
	}
	if got := Similarity(ScalarValue(0), ScalarValue(0)); got != 1.0 {
		t.Errorf("two zeros: similarity = %v, want 1.0", got)
	}
}

func TestSimilarity_ScalarNormalisation(t *testing.T) {
	// |10-50|/50 = 0.8 difference, so 0.2 similarity.
	got := Similarity(ScalarValue(10), ScalarValue(50))
	if math.Abs(got-0.2) > 1e-12 {
		t.Errorf("similarity(10, 50) = %v, want 0.2", got)
	}
}

func TestSimilarity_MismatchedKinds(t *testing.T) {
	got := Similarity(ScalarValue(1), WindValue(1, 90))
	if got != MismatchedKindSimilarity {
		t.Errorf("mismatched kinds: similarity = %v, want %v", got, MismatchedKindSimilarity)
	}
}

func TestSimilarity_VectorLengthMismatch(t *testing.T) {
	got := Similarity(VectorValue([]float64{1, 2}), VectorValue([]float64{1, 2, 3}))
	if got != MismatchedKindSimilarity {
		t.Errorf("length mismatch: similarity = %v, want %v", got, MismatchedKindSimilarity)
	}
}

func TestSimilarity_WindWraparound(t *testing.T) {
	// 350 and 10 degrees are 20 degrees apart across the wrap.
	a := WindValue(5, 350)
	b := WindValue(5, 10)
	got := Similarity(a, b)
	want := 0.5*1.0 + 0.5*(1-20.0/180)
	if math.Abs(got-want) > 1e-12 {
		t.Errorf("wind wraparound: similarity = %v, want %v", got, want)
	}
}

func TestSimilarity_WindOpposite(t *testing.T) {
	a := WindValue(5, 0)
	b := WindValue(5, 180)
	got := Similarity(a, b)
	// Direction similarity 0, speed similarity 1.
	if math.Abs(got-0.5) > 1e-12 {
		t.Errorf("opposite wind: similarity = %v, want 0.5", got)
	}
}

func TestSimilarity_Position(t *testing.T) {
	a := PositionValue(45, 45, 100)
	if got := Similarity(a, a); got != 1.0 {
		t.Errorf("identical positions: similarity = %v, want 1.0", got)
	}
}

func TestMean_CircularWind(t *testing.T) {
	m := Mean([]Value{WindValue(10, 350), WindValue(10, 10)})
	if math.Abs(m.SpeedMps-10) > 1e-9 {
		t.Errorf("mean speed = %v, want 10", m.SpeedMps)
	}
	// Circular mean of 350 and 10 is 0, not 180.
	if m.DirectionDeg > 1 && m.DirectionDeg < 359 {
		t.Errorf("mean direction = %v, want ~0", m.DirectionDeg)
	}
}

func TestMean_Scalars(t *testing.T) {
	m := Mean([]Value{ScalarValue(1), ScalarValue(3)})
	if m.Scalar != 2 {
		t.Errorf("mean = %v, want 2", m.Scalar)
	}
}

func TestFromComponents_RoundTrip(t *testing.T) {
	cases := []Value{
		ScalarValue(4.2),
		VectorValue([]float64{1, 2, 3}),
		PositionValue(51.5, -0.1, 35),
		WindValue(7, 225),
	}
	for _, v := range cases {
		got := FromComponents(v.Kind, v.Components())
		if Similarity(v, got) != 1.0 {
			t.Errorf("%s round trip changed value: %+v -> %+v", v.Kind, v, got)
		}
	}
}
