package pipeline

import (
	"github.com/arable-data/chronofuse/internal/config"
	"github.com/arable-data/chronofuse/internal/fusion"
	"github.com/arable-data/chronofuse/internal/fusion/calibrate"
	"github.com/arable-data/chronofuse/internal/fusion/dtw"
	"github.com/arable-data/chronofuse/internal/fusion/optimize"
)

// ConfigFromTuning builds the engine's default fusion config from a loaded
// tuning file. Use this in binaries where the TuningConfig is already
// loaded.
func ConfigFromTuning(cfg *config.TuningConfig) fusion.Config {
	return fusion.Config{
		Algorithm:               fusion.AlgorithmKind(cfg.GetAlgorithm()),
		MaxTemporalWindowMS:     cfg.GetMaxTemporalWindowMS(),
		MinSensorReliability:    cfg.GetMinSensorReliability(),
		ConvergenceThreshold:    cfg.GetConvergenceThreshold(),
		MaxIterations:           cfg.GetMaxIterations(),
		ByzantineFaultThreshold: cfg.GetByzantineFaultThreshold(),
		AlignmentWorkers:        cfg.GetAlignmentWorkers(),
	}
}

// PatternFromTuning resolves the configured step pattern.
func PatternFromTuning(cfg *config.TuningConfig) dtw.StepPattern {
	switch cfg.GetStepPattern() {
	case "symmetric2":
		return dtw.Symmetric2()
	case "asymmetric":
		return dtw.Asymmetric()
	default:
		return dtw.Symmetric1()
	}
}

// ConstraintsFromTuning resolves the configured band/slope constraints.
func ConstraintsFromTuning(cfg *config.TuningConfig) dtw.Constraints {
	return dtw.Constraints{
		SakoeChibaRadius: cfg.GetSakoeChibaRadius(),
		Itakura:          cfg.GetItakura(),
		MaxSlope:         cfg.GetMaxSlope(),
	}
}

// OptimizerFromTuning resolves the LM damping parameters. Pass the result
// to WithOptimizerConfig; the iteration budget and convergence threshold
// are per-call fusion options and stay out of it.
func OptimizerFromTuning(cfg *config.TuningConfig) optimize.Config {
	return optimize.Config{
		InitialLambda:      cfg.GetLMInitialLambda(),
		LambdaUp:           cfg.GetLMLambdaUp(),
		LambdaDown:         cfg.GetLMLambdaDown(),
		MaxSingularRetries: cfg.GetLMMaxSingularRetries(),
	}
}

// CalibratorFromTuning resolves the EM learning rate and variance floor
// for WithCalibratorConfig.
func CalibratorFromTuning(cfg *config.TuningConfig) calibrate.Config {
	return calibrate.Config{
		LearningRate:  cfg.GetEMLearningRate(),
		VarianceFloor: cfg.GetEMVarianceFloor(),
	}
}
