package consensus

import (
	"errors"
	"math"
	"testing"

	"github.com/arable-data/chronofuse/internal/fusion"
)

func TestCombine_FullTrustExactAgreement(t *testing.T) {
	inputs := []Input{
		{SensorID: "a", Value: fusion.ScalarValue(21.5), Trust: 1.0, Priority: 1.0},
		{SensorID: "b", Value: fusion.ScalarValue(21.5), Trust: 1.0, Priority: 1.0},
		{SensorID: "c", Value: fusion.ScalarValue(21.5), Trust: 1.0, Priority: 1.0},
	}
	est, err := NewEngine(0.3).Combine(inputs)
	if err != nil {
		t.Fatalf("Combine: %v", err)
	}
	if est.State[0] != 21.5 {
		t.Errorf("state = %v, want 21.5", est.State[0])
	}
	if est.Agreement != 1.0 {
		t.Errorf("agreement = %v, want 1.0", est.Agreement)
	}
	if math.Abs(est.Confidence-1.0) > 1e-12 {
		t.Errorf("confidence = %v, want 1.0 for full trust and exact agreement", est.Confidence)
	}
	if est.Spread[0] != 0 {
		t.Errorf("spread = %v, want 0", est.Spread[0])
	}
}

func TestCombine_WeightsProportionalToTrustAndPriority(t *testing.T) {
	inputs := []Input{
		{SensorID: "gps", Value: fusion.ScalarValue(10), Trust: 0.9, Priority: 1.2},
		{SensorID: "soil", Value: fusion.ScalarValue(12), Trust: 0.6, Priority: 0.8},
	}
	est, err := NewEngine(0.3).Combine(inputs)
	if err != nil {
		t.Fatalf("Combine: %v", err)
	}
	wantRatio := (0.9 * 1.2) / (0.6 * 0.8)
	gotRatio := est.Weights["gps"] / est.Weights["soil"]
	if math.Abs(gotRatio-wantRatio) > 1e-12 {
		t.Errorf("weight ratio = %v, want %v", gotRatio, wantRatio)
	}
	sum := est.Weights["gps"] + est.Weights["soil"]
	if math.Abs(sum-1) > 1e-12 {
		t.Errorf("weights sum = %v, want 1", sum)
	}
	// Weighted mean falls between the inputs, closer to the heavier one.
	if est.State[0] <= 10 || est.State[0] >= 11 {
		t.Errorf("state = %v, want in (10, 11)", est.State[0])
	}
}

func TestCombine_NoTrustedSensors(t *testing.T) {
	inputs := []Input{
		{SensorID: "a", Value: fusion.ScalarValue(1), Trust: 0.1, Priority: 1},
		{SensorID: "b", Value: fusion.ScalarValue(2), Trust: 0.25, Priority: 1},
	}
	_, err := NewEngine(0.3).Combine(inputs)
	if !errors.Is(err, fusion.ErrNoTrustedSensors) {
		t.Fatalf("err = %v, want ErrNoTrustedSensors", err)
	}
	_, err = NewEngine(0.3).Combine(nil)
	if !errors.Is(err, fusion.ErrNoTrustedSensors) {
		t.Fatalf("empty inputs: err = %v, want ErrNoTrustedSensors", err)
	}
}

func TestCombine_ThresholdIsExclusive(t *testing.T) {
	// Trust exactly at the threshold does not participate.
	inputs := []Input{
		{SensorID: "edge", Value: fusion.ScalarValue(1), Trust: 0.3, Priority: 1},
	}
	if _, err := NewEngine(0.3).Combine(inputs); !errors.Is(err, fusion.ErrNoTrustedSensors) {
		t.Fatalf("err = %v, want ErrNoTrustedSensors for trust == threshold", err)
	}
}

func TestCombine_DominantKindFiltersMismatches(t *testing.T) {
	inputs := []Input{
		{SensorID: "t1", Value: fusion.ScalarValue(20), Trust: 1, Priority: 1},
		{SensorID: "t2", Value: fusion.ScalarValue(22), Trust: 1, Priority: 1},
		{SensorID: "pos", Value: fusion.PositionValue(45, 9, 100), Trust: 1, Priority: 1},
	}
	est, err := NewEngine(0.3).Combine(inputs)
	if err != nil {
		t.Fatalf("Combine: %v", err)
	}
	if len(est.State) != 1 {
		t.Fatalf("state dim = %d, want 1 (scalar consensus)", len(est.State))
	}
	if est.State[0] != 21 {
		t.Errorf("state = %v, want 21", est.State[0])
	}
	if _, ok := est.Weights["pos"]; ok {
		t.Error("mismatched-kind sensor must not carry weight")
	}
	// The excluded sensor still counts against confidence.
	if est.Confidence >= est.Agreement {
		t.Errorf("confidence %v should be reduced below agreement %v by the excluded sensor",
			est.Confidence, est.Agreement)
	}
}

func TestCombine_VectorState(t *testing.T) {
	inputs := []Input{
		{SensorID: "a", Value: fusion.VectorValue([]float64{1, 2, 3}), Trust: 1, Priority: 1},
		{SensorID: "b", Value: fusion.VectorValue([]float64{3, 4, 5}), Trust: 1, Priority: 1},
	}
	est, err := NewEngine(0.3).Combine(inputs)
	if err != nil {
		t.Fatalf("Combine: %v", err)
	}
	want := []float64{2, 3, 4}
	for c := range want {
		if math.Abs(est.State[c]-want[c]) > 1e-12 {
			t.Errorf("state[%d] = %v, want %v", c, est.State[c], want[c])
		}
	}
	for c, s := range est.Spread {
		if s <= 0 {
			t.Errorf("spread[%d] = %v, want > 0 for disagreeing inputs", c, s)
		}
	}
}

func TestCombine_MixedVectorDimensions(t *testing.T) {
	// Vector inputs of different lengths are valid; the minority
	// dimension drops out of the state instead of corrupting it.
	inputs := []Input{
		{SensorID: "v2", Value: fusion.VectorValue([]float64{1, 2}), Trust: 1, Priority: 1},
		{SensorID: "v3", Value: fusion.VectorValue([]float64{1, 2, 3}), Trust: 1, Priority: 1},
	}
	est, err := NewEngine(0.3).Combine(inputs)
	if err != nil {
		t.Fatalf("Combine: %v", err)
	}
	// Dimension tie breaks toward the smaller vector.
	if len(est.State) != 2 {
		t.Fatalf("state dim = %d, want 2", len(est.State))
	}
	if est.State[0] != 1 || est.State[1] != 2 {
		t.Errorf("state = %v, want [1 2]", est.State)
	}
	if _, ok := est.Weights["v3"]; ok {
		t.Error("mismatched-dimension sensor must not carry weight")
	}
	if math.Abs(est.Confidence-0.5) > 1e-12 {
		t.Errorf("confidence = %v, want 0.5 with half the weight excluded", est.Confidence)
	}
}

func TestCombine_MinorityDimensionExcluded(t *testing.T) {
	inputs := []Input{
		{SensorID: "a", Value: fusion.VectorValue([]float64{1, 2, 3}), Trust: 1, Priority: 1},
		{SensorID: "b", Value: fusion.VectorValue([]float64{3, 4, 5}), Trust: 1, Priority: 1},
		{SensorID: "short", Value: fusion.VectorValue([]float64{9, 9}), Trust: 1, Priority: 1},
	}
	est, err := NewEngine(0.3).Combine(inputs)
	if err != nil {
		t.Fatalf("Combine: %v", err)
	}
	if len(est.State) != 3 {
		t.Fatalf("state dim = %d, want 3", len(est.State))
	}
	want := []float64{2, 3, 4}
	for c := range want {
		if math.Abs(est.State[c]-want[c]) > 1e-12 {
			t.Errorf("state[%d] = %v, want %v", c, est.State[c], want[c])
		}
	}
	if _, ok := est.Weights["short"]; ok {
		t.Error("mismatched-dimension sensor must not carry weight")
	}
	if est.Confidence >= est.Agreement {
		t.Errorf("confidence %v should be reduced below agreement %v by the excluded sensor",
			est.Confidence, est.Agreement)
	}
}

func TestCombine_Deterministic(t *testing.T) {
	inputs := []Input{
		{SensorID: "c", Value: fusion.ScalarValue(3), Trust: 0.9, Priority: 1},
		{SensorID: "a", Value: fusion.ScalarValue(1), Trust: 0.8, Priority: 1},
		{SensorID: "b", Value: fusion.ScalarValue(2), Trust: 0.7, Priority: 1},
	}
	first, err := NewEngine(0.3).Combine(inputs)
	if err != nil {
		t.Fatalf("Combine: %v", err)
	}
	for i := 0; i < 5; i++ {
		got, err := NewEngine(0.3).Combine(inputs)
		if err != nil {
			t.Fatalf("run %d: %v", i, err)
		}
		if got.State[0] != first.State[0] || got.Confidence != first.Confidence {
			t.Fatalf("run %d: estimate differs", i)
		}
	}
}
