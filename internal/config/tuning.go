// Package config loads the canonical fusion tuning defaults. The schema
// uses pointer fields so a partial JSON file overrides only what it names;
// the Get* methods supply defaults for everything else.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// DefaultConfigPath is the path to the canonical tuning defaults file,
// the single source of truth for all default tuning values.
const DefaultConfigPath = "config/tuning.defaults.json"

// TuningConfig is the root tuning schema. All fields are optional in the
// JSON file; omitted fields keep their defaults.
type TuningConfig struct {
	// Engine fusion options.
	Algorithm               *string  `json:"algorithm,omitempty"`
	MaxTemporalWindowMS     *float64 `json:"max_temporal_window_ms,omitempty"`
	MinSensorReliability    *float64 `json:"min_sensor_reliability,omitempty"`
	ConvergenceThreshold    *float64 `json:"convergence_threshold,omitempty"`
	MaxIterations           *int     `json:"max_iterations,omitempty"`
	ByzantineFaultThreshold *float64 `json:"byzantine_fault_threshold,omitempty"`
	AlignmentWorkers        *int     `json:"alignment_workers,omitempty"`

	// Aligner params.
	StepPattern      *string `json:"step_pattern,omitempty"`
	SakoeChibaRadius *int    `json:"sakoe_chiba_radius,omitempty"`
	Itakura          *bool   `json:"itakura,omitempty"`
	MaxSlope         *float64 `json:"max_slope,omitempty"`

	// Trust params.
	TrustInitial      *float64 `json:"trust_initial,omitempty"`
	TrustLearningRate *float64 `json:"trust_learning_rate,omitempty"`
	TrustFloor        *float64 `json:"trust_floor,omitempty"`
	TrustRecoveryRate *float64 `json:"trust_recovery_rate,omitempty"`

	// Optimizer params.
	LMInitialLambda      *float64 `json:"lm_initial_lambda,omitempty"`
	LMLambdaUp           *float64 `json:"lm_lambda_up,omitempty"`
	LMLambdaDown         *float64 `json:"lm_lambda_down,omitempty"`
	LMMaxSingularRetries *int     `json:"lm_max_singular_retries,omitempty"`

	// Calibrator params.
	EMLearningRate  *float64 `json:"em_learning_rate,omitempty"`
	EMVarianceFloor *float64 `json:"em_variance_floor,omitempty"`
}

// EmptyTuningConfig returns a TuningConfig with all fields unset. Use
// LoadTuningConfig to load actual values from the defaults file.
func EmptyTuningConfig() *TuningConfig {
	return &TuningConfig{}
}

// LoadTuningConfig loads a TuningConfig from a JSON file. The path must
// have a .json extension and the file must be under the size cap. Omitted
// fields retain their defaults, so partial configs are safe.
func LoadTuningConfig(path string) (*TuningConfig, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("config file must have .json extension, got %q", ext)
	}

	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	const maxFileSize = 1 * 1024 * 1024 // 1MB
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := EmptyTuningConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// MustLoadDefaultConfig loads the canonical tuning defaults from
// DefaultConfigPath, searching upward from the working directory. Panics
// if the file cannot be found; intended for tests and tools that have
// already validated config availability.
func MustLoadDefaultConfig() *TuningConfig {
	candidates := []string{
		DefaultConfigPath,
		"../../" + DefaultConfigPath,
		"../../../" + DefaultConfigPath,
		"../../../../" + DefaultConfigPath,
	}
	for _, path := range candidates {
		if cfg, err := LoadTuningConfig(path); err == nil {
			return cfg
		}
	}
	panic("cannot find " + DefaultConfigPath + " - run from repository root")
}

// Validate checks ranges on the fields that have hard bounds.
func (c *TuningConfig) Validate() error {
	if c.MinSensorReliability != nil {
		if *c.MinSensorReliability < 0 || *c.MinSensorReliability > 1 {
			return fmt.Errorf("min_sensor_reliability must be between 0 and 1, got %f", *c.MinSensorReliability)
		}
	}
	if c.ByzantineFaultThreshold != nil {
		if *c.ByzantineFaultThreshold <= 0 || *c.ByzantineFaultThreshold > 1 {
			return fmt.Errorf("byzantine_fault_threshold must be in (0, 1], got %f", *c.ByzantineFaultThreshold)
		}
	}
	if c.TrustFloor != nil {
		if *c.TrustFloor <= 0 || *c.TrustFloor >= 1 {
			return fmt.Errorf("trust_floor must be in (0, 1), got %f", *c.TrustFloor)
		}
	}
	if c.MaxSlope != nil && *c.MaxSlope <= 1 {
		return fmt.Errorf("max_slope must exceed 1, got %f", *c.MaxSlope)
	}
	if c.MaxIterations != nil && *c.MaxIterations <= 0 {
		return fmt.Errorf("max_iterations must be positive, got %d", *c.MaxIterations)
	}
	if c.StepPattern != nil {
		switch *c.StepPattern {
		case "symmetric1", "symmetric2", "asymmetric":
		default:
			return fmt.Errorf("unknown step_pattern %q", *c.StepPattern)
		}
	}
	return nil
}

// GetAlgorithm returns the algorithm or the default.
func (c *TuningConfig) GetAlgorithm() string {
	if c.Algorithm == nil {
		return "byzantine_consensus"
	}
	return *c.Algorithm
}

// GetMaxTemporalWindowMS returns the max_temporal_window_ms value or the default.
func (c *TuningConfig) GetMaxTemporalWindowMS() float64 {
	if c.MaxTemporalWindowMS == nil {
		return 5000
	}
	return *c.MaxTemporalWindowMS
}

// GetMinSensorReliability returns the min_sensor_reliability value or the default.
func (c *TuningConfig) GetMinSensorReliability() float64 {
	if c.MinSensorReliability == nil {
		return 0.3
	}
	return *c.MinSensorReliability
}

// GetConvergenceThreshold returns the convergence_threshold value or the default.
func (c *TuningConfig) GetConvergenceThreshold() float64 {
	if c.ConvergenceThreshold == nil {
		return 1e-6
	}
	return *c.ConvergenceThreshold
}

// GetMaxIterations returns the max_iterations value or the default.
func (c *TuningConfig) GetMaxIterations() int {
	if c.MaxIterations == nil {
		return 50
	}
	return *c.MaxIterations
}

// GetByzantineFaultThreshold returns the byzantine_fault_threshold value or the default.
func (c *TuningConfig) GetByzantineFaultThreshold() float64 {
	if c.ByzantineFaultThreshold == nil {
		return 0.6
	}
	return *c.ByzantineFaultThreshold
}

// GetAlignmentWorkers returns the alignment_workers value or 0 (one per CPU).
func (c *TuningConfig) GetAlignmentWorkers() int {
	if c.AlignmentWorkers == nil {
		return 0
	}
	return *c.AlignmentWorkers
}

// GetStepPattern returns the step_pattern value or the default.
func (c *TuningConfig) GetStepPattern() string {
	if c.StepPattern == nil {
		return "symmetric1"
	}
	return *c.StepPattern
}

// GetSakoeChibaRadius returns the sakoe_chiba_radius value or 0 (band off).
func (c *TuningConfig) GetSakoeChibaRadius() int {
	if c.SakoeChibaRadius == nil {
		return 0
	}
	return *c.SakoeChibaRadius
}

// GetItakura returns the itakura flag or false.
func (c *TuningConfig) GetItakura() bool {
	if c.Itakura == nil {
		return false
	}
	return *c.Itakura
}

// GetMaxSlope returns the max_slope value or the default 2.0.
func (c *TuningConfig) GetMaxSlope() float64 {
	if c.MaxSlope == nil {
		return 2.0
	}
	return *c.MaxSlope
}

// GetTrustInitial returns the trust_initial value or the default.
func (c *TuningConfig) GetTrustInitial() float64 {
	if c.TrustInitial == nil {
		return 0.8
	}
	return *c.TrustInitial
}

// GetTrustLearningRate returns the trust_learning_rate value or the default.
func (c *TuningConfig) GetTrustLearningRate() float64 {
	if c.TrustLearningRate == nil {
		return 0.5
	}
	return *c.TrustLearningRate
}

// GetTrustFloor returns the trust_floor value or the default.
func (c *TuningConfig) GetTrustFloor() float64 {
	if c.TrustFloor == nil {
		return 0.05
	}
	return *c.TrustFloor
}

// GetTrustRecoveryRate returns the trust_recovery_rate value or the default.
func (c *TuningConfig) GetTrustRecoveryRate() float64 {
	if c.TrustRecoveryRate == nil {
		return 0.05
	}
	return *c.TrustRecoveryRate
}

// GetLMInitialLambda returns the lm_initial_lambda value or the default.
func (c *TuningConfig) GetLMInitialLambda() float64 {
	if c.LMInitialLambda == nil {
		return 1e-3
	}
	return *c.LMInitialLambda
}

// GetLMLambdaUp returns the lm_lambda_up value or the default.
func (c *TuningConfig) GetLMLambdaUp() float64 {
	if c.LMLambdaUp == nil {
		return 10
	}
	return *c.LMLambdaUp
}

// GetLMLambdaDown returns the lm_lambda_down value or the default.
func (c *TuningConfig) GetLMLambdaDown() float64 {
	if c.LMLambdaDown == nil {
		return 10
	}
	return *c.LMLambdaDown
}

// GetLMMaxSingularRetries returns the lm_max_singular_retries value or the default.
func (c *TuningConfig) GetLMMaxSingularRetries() int {
	if c.LMMaxSingularRetries == nil {
		return 8
	}
	return *c.LMMaxSingularRetries
}

// GetEMLearningRate returns the em_learning_rate value or the default.
func (c *TuningConfig) GetEMLearningRate() float64 {
	if c.EMLearningRate == nil {
		return 0.2
	}
	return *c.EMLearningRate
}

// GetEMVarianceFloor returns the em_variance_floor value or the default.
func (c *TuningConfig) GetEMVarianceFloor() float64 {
	if c.EMVarianceFloor == nil {
		return 1e-9
	}
	return *c.EMVarianceFloor
}
