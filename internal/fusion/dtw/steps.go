package dtw

import (
	"errors"
	"fmt"
)

// Step is one admissible move in the dynamic-programming recursion,
// expressed as how far it advances the reference and target indices.
// Weight scales the local cost paid when the step is taken.
type Step struct {
	DRef    int
	DTarget int
	Weight  float64
}

// StepPattern is the ordered set of admissible steps. Order matters: when
// predecessor costs tie during backtracking, the first step in the list
// wins. The built-in patterns all order diagonal first, then
// reference-advance, then target-advance, which keeps alignment output
// deterministic across runs.
type StepPattern struct {
	Name  string
	Steps []Step
}

// Symmetric1 uses unit-weight diagonal, reference and target steps.
func Symmetric1() StepPattern {
	return StepPattern{
		Name: "symmetric1",
		Steps: []Step{
			{DRef: 1, DTarget: 1, Weight: 1},
			{DRef: 1, DTarget: 0, Weight: 1},
			{DRef: 0, DTarget: 1, Weight: 1},
		},
	}
}

// Symmetric2 double-weights the diagonal so skips are not free relative to
// matched advances.
func Symmetric2() StepPattern {
	return StepPattern{
		Name: "symmetric2",
		Steps: []Step{
			{DRef: 1, DTarget: 1, Weight: 2},
			{DRef: 1, DTarget: 0, Weight: 1},
			{DRef: 0, DTarget: 1, Weight: 1},
		},
	}
}

// Asymmetric always advances the reference, biasing the path toward the
// reference timeline. Target indices may be skipped (DTarget: 2) or held.
func Asymmetric() StepPattern {
	return StepPattern{
		Name: "asymmetric",
		Steps: []Step{
			{DRef: 1, DTarget: 1, Weight: 1},
			{DRef: 1, DTarget: 0, Weight: 1},
			{DRef: 1, DTarget: 2, Weight: 1},
		},
	}
}

// Custom builds a caller-defined pattern. Steps are validated but their
// order is preserved, so the caller controls the tie-break order.
func Custom(name string, steps []Step) (StepPattern, error) {
	if len(steps) == 0 {
		return StepPattern{}, errors.New("custom step pattern needs at least one step")
	}
	for i, s := range steps {
		if s.DRef < 0 || s.DTarget < 0 {
			return StepPattern{}, fmt.Errorf("step %d: negative advance", i)
		}
		if s.DRef == 0 && s.DTarget == 0 {
			return StepPattern{}, fmt.Errorf("step %d: must advance at least one index", i)
		}
		if s.Weight <= 0 {
			return StepPattern{}, fmt.Errorf("step %d: weight must be positive", i)
		}
	}
	cp := make([]Step, len(steps))
	copy(cp, steps)
	return StepPattern{Name: name, Steps: cp}, nil
}
