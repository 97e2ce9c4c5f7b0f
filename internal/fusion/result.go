package fusion

// FusionResult is the final product of one Fuse call. Produced once and
// never mutated afterwards; downstream consumers (insight layers,
// diagnostics) only read it.
type FusionResult struct {
	// RunID correlates this result with logs and persisted telemetry.
	RunID string `json:"run_id"`

	// Region is the opaque weighting key from the input bundle.
	Region string `json:"region,omitempty"`

	// Estimate is the fused state vector. Dimension follows the dominant
	// value kind of the trusted sensors (1 for scalars, 3 for positions).
	Estimate []float64 `json:"estimate"`

	// Uncertainty is the per-component standard deviation of the estimate.
	Uncertainty []float64 `json:"uncertainty"`

	AlgorithmUsed AlgorithmKind `json:"algorithm_used"`

	// PerSensorContribution maps sensor ID to its normalised weight in
	// the estimate. Sensors excluded by trust or calibration failures
	// are absent.
	PerSensorContribution map[string]float64 `json:"per_sensor_contribution"`

	// Confidence is the consensus confidence in [0, 1]: total trusted
	// weight relative to the maximum possible, scaled by agreement.
	Confidence float64 `json:"confidence"`

	// Agreement is the inverse of the residual spread across trusted
	// sensors, in [0, 1].
	Agreement float64 `json:"agreement"`

	Converged  bool `json:"converged"`
	Iterations int  `json:"iterations"`

	// ExcludedSensors lists sensors dropped before consensus, with the
	// stage that dropped them, for caller-side logging.
	ExcludedSensors []SensorExclusion `json:"excluded_sensors,omitempty"`
}

// SensorExclusion records why a sensor did not contribute to the estimate.
type SensorExclusion struct {
	SensorID string `json:"sensor_id"`
	Stage    string `json:"stage"`
	Reason   string `json:"reason"`
}
