package fusion

// AlgorithmKind selects the refinement algorithm Fuse runs after consensus.
// The set is closed; the engine dispatches with a single switch.
type AlgorithmKind string

const (
	// AlgorithmLM refines the consensus estimate with Levenberg-Marquardt
	// nonlinear least squares over per-sensor factors.
	AlgorithmLM AlgorithmKind = "levenberg_marquardt"
	// AlgorithmEM jointly recalibrates sensor biases and noise while
	// estimating the state via Expectation-Maximization.
	AlgorithmEM AlgorithmKind = "expectation_maximization"
	// AlgorithmByzantine stops at the Byzantine-tolerant consensus
	// estimate with no further refinement.
	AlgorithmByzantine AlgorithmKind = "byzantine_consensus"
)

// Config carries the per-call fusion options recognised by the engine.
// Zero values fall back to the defaults below via Normalized.
type Config struct {
	Algorithm AlgorithmKind `json:"algorithm"`

	// MaxTemporalWindowMS bounds how far apart (in milliseconds) two
	// measurements may be and still be candidate alignment pairs.
	MaxTemporalWindowMS float64 `json:"max_temporal_window_ms"`

	// MinSensorReliability is the trust threshold below which a sensor is
	// excluded from consensus.
	MinSensorReliability float64 `json:"min_sensor_reliability"`

	// ConvergenceThreshold stops the LM and EM loops when successive
	// accepted costs / log-likelihoods differ by less than this.
	ConvergenceThreshold float64 `json:"convergence_threshold"`

	// MaxIterations caps the LM and EM loops.
	MaxIterations int `json:"max_iterations"`

	// ByzantineFaultThreshold is the pairwise consistency score below
	// which a sensor is flagged as faulty.
	ByzantineFaultThreshold float64 `json:"byzantine_fault_threshold"`

	// AlignmentWorkers bounds the number of concurrent pairwise
	// alignments. Zero means one worker per CPU.
	AlignmentWorkers int `json:"alignment_workers"`
}

// Defaults applied by Normalized for zero-valued Config fields.
const (
	DefaultMaxTemporalWindowMS     = 5000.0
	DefaultMinSensorReliability    = 0.3
	DefaultConvergenceThreshold    = 1e-6
	DefaultMaxIterations           = 50
	DefaultByzantineFaultThreshold = 0.6
)

// Normalized returns a copy of the config with zero values replaced by
// defaults and the algorithm defaulted to Byzantine consensus.
func (c Config) Normalized() Config {
	if c.Algorithm == "" {
		c.Algorithm = AlgorithmByzantine
	}
	if c.MaxTemporalWindowMS <= 0 {
		c.MaxTemporalWindowMS = DefaultMaxTemporalWindowMS
	}
	if c.MinSensorReliability <= 0 {
		c.MinSensorReliability = DefaultMinSensorReliability
	}
	if c.ConvergenceThreshold <= 0 {
		c.ConvergenceThreshold = DefaultConvergenceThreshold
	}
	if c.MaxIterations <= 0 {
		c.MaxIterations = DefaultMaxIterations
	}
	if c.ByzantineFaultThreshold <= 0 {
		c.ByzantineFaultThreshold = DefaultByzantineFaultThreshold
	}
	return c
}
