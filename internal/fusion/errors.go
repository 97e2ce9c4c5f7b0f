package fusion

import (
	"errors"
	"fmt"
)

// Sentinel errors for the failure taxonomy. Callers test with errors.Is;
// wrapped forms carry sensor and stage context.
var (
	// ErrMissingCalibration: no delay profile exists for a sensor. Fatal
	// for that sensor only; fusion proceeds with the remaining streams.
	ErrMissingCalibration = errors.New("missing calibration profile")

	// ErrEmptyInput: an alignment was requested with an empty reference
	// or target sequence.
	ErrEmptyInput = errors.New("empty input sequence")

	// ErrNoFeasibleAlignment: the configured band/slope constraints
	// excluded every cell of some cost-matrix row.
	ErrNoFeasibleAlignment = errors.New("no feasible alignment under constraints")

	// ErrNoTrustedSensors: the trust filter left no sensors to fuse.
	// Fatal for the whole fusion call.
	ErrNoTrustedSensors = errors.New("no trusted sensors")

	// ErrSingularSystem: the damped normal equations stayed singular past
	// the retry cap. The optimization attempt is abandoned and fusion
	// falls back to the consensus-only estimate.
	ErrSingularSystem = errors.New("singular system")
)

// SensorError wraps a pipeline failure with the sensor and stage it
// occurred in, so callers can log which stream was dropped and why.
type SensorError struct {
	SensorID string
	Stage    string
	Err      error
}

func (e *SensorError) Error() string {
	return fmt.Sprintf("sensor %s: stage %s: %v", e.SensorID, e.Stage, e.Err)
}

func (e *SensorError) Unwrap() error { return e.Err }
