// Package pipeline wires the fusion stages end to end: delay correction,
// pairwise DTW alignment onto a reference timeline, trust update and
// Byzantine-tolerant consensus, then optional Levenberg-Marquardt or EM
// refinement. One Fuse call runs the whole pipeline over a measurement
// bundle and returns a FusionResult with provenance.
package pipeline

import (
	"context"
	"fmt"
	"math"
	"runtime"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/arable-data/chronofuse/internal/fusion"
	"github.com/arable-data/chronofuse/internal/fusion/calibrate"
	"github.com/arable-data/chronofuse/internal/fusion/consensus"
	"github.com/arable-data/chronofuse/internal/fusion/delay"
	"github.com/arable-data/chronofuse/internal/fusion/dtw"
	"github.com/arable-data/chronofuse/internal/fusion/optimize"
	"github.com/arable-data/chronofuse/internal/fusion/trust"
	"github.com/arable-data/chronofuse/internal/monitoring"
	"github.com/arable-data/chronofuse/internal/units"
)

// Engine runs fusion cycles. The trust tracker is the only shared mutable
// state; everything else is per-call, so concurrent Fuse calls over
// different bundles are safe.
type Engine struct {
	profiles delay.ProfileLoader
	tracker  *trust.Tracker
	pattern  dtw.StepPattern
	band     dtw.Constraints
	defaults fusion.Config
	lm       optimize.Config
	em       calibrate.Config
}

// Option tweaks engine construction.
type Option func(*Engine)

// WithStepPattern overrides the DTW step pattern (default symmetric1).
func WithStepPattern(p dtw.StepPattern) Option {
	return func(e *Engine) { e.pattern = p }
}

// WithConstraints overrides the DTW band/slope constraints.
func WithConstraints(c dtw.Constraints) Option {
	return func(e *Engine) { e.band = c }
}

// WithOptimizerConfig sets the LM damping parameters (initial lambda,
// up/down factors, singular-retry cap). The iteration budget and
// convergence threshold still come from the per-call fusion config.
func WithOptimizerConfig(c optimize.Config) Option {
	return func(e *Engine) { e.lm = c }
}

// WithCalibratorConfig sets the EM learning rate and variance floor. The
// iteration budget and convergence threshold still come from the per-call
// fusion config.
func WithCalibratorConfig(c calibrate.Config) Option {
	return func(e *Engine) { e.em = c }
}

// NewEngine builds an engine over a profile store and a trust tracker.
func NewEngine(profiles delay.ProfileLoader, tracker *trust.Tracker, defaults fusion.Config, opts ...Option) *Engine {
	e := &Engine{
		profiles: profiles,
		tracker:  tracker,
		pattern:  dtw.Symmetric1(),
		defaults: defaults.Normalized(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Fuse runs the full pipeline. Per-sensor failures (missing calibration,
// infeasible alignment) exclude that sensor and continue; an empty trusted
// set aborts with fusion.ErrNoTrustedSensors. Cancellation is honoured
// between stages only, never mid-iteration, and returns the context error
// with no partial result.
func (e *Engine) Fuse(ctx context.Context, bundle fusion.SensorMeasurementBundle, cfg fusion.Config) (fusion.FusionResult, error) {
	cfg = mergeConfig(e.defaults, cfg)
	runID := uuid.NewString()
	monitoring.Logf("[Engine] run %s: %d streams, algorithm=%s", runID, len(bundle.Streams), cfg.Algorithm)

	streams := bundle.StreamsBySensor()
	if len(streams) == 0 {
		return fusion.FusionResult{}, fmt.Errorf("run %s: bundle has no valid measurements: %w",
			runID, fusion.ErrNoTrustedSensors)
	}

	var exclusions []fusion.SensorExclusion

	// Stage 1: delay correction.
	corrected := e.correctStage(ctx, streams, &exclusions)
	if len(corrected) == 0 {
		return fusion.FusionResult{}, fmt.Errorf("run %s: every sensor lacked calibration: %w",
			runID, fusion.ErrNoTrustedSensors)
	}
	if err := ctx.Err(); err != nil {
		return fusion.FusionResult{}, fmt.Errorf("run %s cancelled after delay correction: %w", runID, err)
	}

	// Stage 2: alignment onto the reference timeline.
	refID := referenceSensor(corrected)
	aligned := e.alignStage(corrected, refID, cfg, &exclusions)
	if err := ctx.Err(); err != nil {
		return fusion.FusionResult{}, fmt.Errorf("run %s cancelled after alignment: %w", runID, err)
	}

	// Stage 3: trust update and consensus.
	consistency := trust.Consistency(aligned)
	trustScores := e.tracker.Observe(ctx, consistency, cfg.ByzantineFaultThreshold, bundle.CollectedAt)

	inputs := consensusInputs(corrected, aligned, trustScores)
	est, err := consensus.NewEngine(cfg.MinSensorReliability).Combine(inputs)
	if err != nil {
		return fusion.FusionResult{}, fmt.Errorf("run %s: %w", runID, err)
	}
	if err := ctx.Err(); err != nil {
		return fusion.FusionResult{}, fmt.Errorf("run %s cancelled after consensus: %w", runID, err)
	}

	// Stage 4: refinement.
	result := fusion.FusionResult{
		RunID:                 runID,
		Region:                bundle.Region,
		Estimate:              est.State,
		Uncertainty:           est.Spread,
		AlgorithmUsed:         cfg.Algorithm,
		PerSensorContribution: est.Weights,
		Confidence:            est.Confidence,
		Agreement:             est.Agreement,
		Converged:             true,
		ExcludedSensors:       exclusions,
	}

	switch cfg.Algorithm {
	case fusion.AlgorithmByzantine:
		// Consensus is the estimate.
	case fusion.AlgorithmLM:
		e.refineLM(corrected, inputs, est, cfg, &result)
	case fusion.AlgorithmEM:
		e.refineEM(aligned, trustScores, cfg, &result)
	default:
		return fusion.FusionResult{}, fmt.Errorf("run %s: unknown algorithm %q", runID, cfg.Algorithm)
	}

	monitoring.Logf("[Engine] run %s done: estimate=%v confidence=%.3f converged=%v iterations=%d",
		runID, result.Estimate, result.Confidence, result.Converged, result.Iterations)
	return result, nil
}

// correctStage applies the delay model per stream, excluding sensors with
// no calibration profile.
func (e *Engine) correctStage(ctx context.Context, streams map[string]fusion.SensorStream, exclusions *[]fusion.SensorExclusion) map[string]fusion.SensorStream {
	corrector := delay.NewCorrector(e.profiles)
	out := make(map[string]fusion.SensorStream, len(streams))
	for id, s := range streams {
		cs, err := corrector.CorrectStream(ctx, s)
		if err != nil {
			monitoring.Logf("[Engine] excluding %s: %v", id, err)
			*exclusions = append(*exclusions, fusion.SensorExclusion{
				SensorID: id, Stage: "delay_correction", Reason: err.Error(),
			})
			continue
		}
		out[id] = cs
	}
	return out
}

// alignStage warps every non-reference stream onto the reference timeline.
// Independent pairs run concurrently on a bounded worker pool; each DTW
// run itself is single-threaded and deterministic.
func (e *Engine) alignStage(corrected map[string]fusion.SensorStream, refID string, cfg fusion.Config, exclusions *[]fusion.SensorExclusion) map[string][]fusion.Measurement {
	ref := corrected[refID]
	refSorted := ref.SortedByTime()

	band := e.band
	band.MaxTemporalWindowS = units.MsToSeconds(cfg.MaxTemporalWindowMS)
	aligner := dtw.NewAligner(e.pattern, band)

	type alignOut struct {
		sensorID string
		aligned  []fusion.Measurement
		err      error
	}

	workers := cfg.AlignmentWorkers
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	sem := make(chan struct{}, workers)
	results := make(chan alignOut, len(corrected))

	var wg sync.WaitGroup
	for id, s := range corrected {
		if id == refID {
			continue
		}
		wg.Add(1)
		go func(id string, s fusion.SensorStream) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()
			res, err := aligner.Align(refSorted, s.Measurements)
			if err != nil {
				results <- alignOut{sensorID: id, err: err}
				return
			}
			results <- alignOut{sensorID: id, aligned: res.Aligned}
		}(id, s)
	}
	wg.Wait()
	close(results)

	aligned := map[string][]fusion.Measurement{refID: refSorted}
	for r := range results {
		if r.err != nil {
			monitoring.Logf("[Engine] dropping pair (%s, %s): %v", refID, r.sensorID, r.err)
			*exclusions = append(*exclusions, fusion.SensorExclusion{
				SensorID: r.sensorID, Stage: "alignment", Reason: r.err.Error(),
			})
			continue
		}
		aligned[r.sensorID] = r.aligned
	}
	return aligned
}

// refineLM builds one factor per trusted sensor and state component and
// runs the LM optimizer from the consensus state. A singular system falls
// back to the consensus-only estimate, per the degradation policy.
func (e *Engine) refineLM(corrected map[string]fusion.SensorStream, inputs []consensus.Input, est consensus.Estimate, cfg fusion.Config, result *fusion.FusionResult) {
	factors := buildFactors(corrected, inputs, est)
	if len(factors) == 0 {
		result.AlgorithmUsed = fusion.AlgorithmByzantine
		return
	}
	oc := e.lm
	oc.MaxIterations = cfg.MaxIterations
	oc.ConvergenceThreshold = cfg.ConvergenceThreshold
	opt := optimize.NewOptimizer(oc)
	res, err := opt.Optimize(est.State, factors)
	if err != nil {
		monitoring.Logf("[Engine] LM refinement failed, keeping consensus estimate: %v", err)
		result.AlgorithmUsed = fusion.AlgorithmByzantine
		result.Converged = false
		return
	}
	result.Estimate = res.Params
	result.Converged = res.Converged
	result.Iterations = res.Iterations
}

// refineEM runs joint calibration over per-epoch measurement sets drawn
// from the aligned streams and reports the final posterior state.
func (e *Engine) refineEM(aligned map[string][]fusion.Measurement, trustScores map[string]float64, cfg fusion.Config, result *fusion.FusionResult) {
	sets := measurementSets(aligned)
	cc := e.em
	cc.MaxIterations = cfg.MaxIterations
	cc.ConvergenceThreshold = cfg.ConvergenceThreshold
	cal := calibrate.NewCalibrator(cc, trustScores)
	res, err := cal.Calibrate(sets)
	if err != nil {
		monitoring.Logf("[Engine] EM refinement failed, keeping consensus estimate: %v", err)
		result.AlgorithmUsed = fusion.AlgorithmByzantine
		result.Converged = false
		return
	}
	if n := len(res.PosteriorMeans); n > 0 {
		result.Estimate = []float64{res.PosteriorMeans[n-1]}
	}
	result.Converged = res.Converged
	result.Iterations = res.Iterations
}

// referenceSensor picks the stream every other stream aligns against: the
// one with the most valid measurements, ties broken by sensor ID so the
// choice is deterministic.
func referenceSensor(streams map[string]fusion.SensorStream) string {
	ids := make([]string, 0, len(streams))
	for id := range streams {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	best := ids[0]
	for _, id := range ids[1:] {
		if len(streams[id].Measurements) > len(streams[best].Measurements) {
			best = id
		}
	}
	return best
}

// consensusInputs derives each sensor's representative value (mean over its
// aligned stream) plus its trust and domain priority.
func consensusInputs(corrected map[string]fusion.SensorStream, aligned map[string][]fusion.Measurement, trustScores map[string]float64) []consensus.Input {
	inputs := make([]consensus.Input, 0, len(aligned))
	for id, ms := range aligned {
		if len(ms) == 0 {
			continue
		}
		values := make([]fusion.Value, len(ms))
		for i, m := range ms {
			values[i] = m.Value
		}
		inputs = append(inputs, consensus.Input{
			SensorID: id,
			Value:    fusion.Mean(values),
			Trust:    trustScores[id],
			Priority: corrected[id].Kind.DomainPriority(),
		})
	}
	sort.Slice(inputs, func(i, j int) bool { return inputs[i].SensorID < inputs[j].SensorID })
	return inputs
}

// buildFactors emits one factor per trusted sensor and state component,
// typed by the sensor kind: GPS positions carry HDOP weighting, atomic
// clocks a bias sigma, everything else a trust-weighted scalar observation.
func buildFactors(corrected map[string]fusion.SensorStream, inputs []consensus.Input, est consensus.Estimate) []optimize.Factor {
	var factors []optimize.Factor
	for _, in := range inputs {
		w, trusted := est.Weights[in.SensorID]
		if !trusted {
			continue
		}
		comps := in.Value.Components()
		sigma := meanUncertainty(corrected[in.SensorID].Measurements)
		for c, v := range comps {
			if c >= len(est.State) {
				break
			}
			switch corrected[in.SensorID].Kind {
			case fusion.SensorGPS:
				factors = append(factors, &optimize.GPSPositionFactor{Index: c, Measured: v, HDOP: sigma})
			case fusion.SensorAtomicClock:
				factors = append(factors, &optimize.ClockBiasFactor{Index: c, Measured: v, Sigma: sigma})
			default:
				factors = append(factors, &optimize.ScalarObservationFactor{Index: c, Measured: v, Sigma: sigma, Weight: w})
			}
		}
	}
	return factors
}

// measurementSets slices the aligned streams into per-epoch observation
// sets (one per reference index) for the calibrator, projecting each value
// onto its first component.
func measurementSets(aligned map[string][]fusion.Measurement) []calibrate.MeasurementSet {
	ids := make([]string, 0, len(aligned))
	maxLen := 0
	for id, ms := range aligned {
		ids = append(ids, id)
		if len(ms) > maxLen {
			maxLen = len(ms)
		}
	}
	sort.Strings(ids)

	sets := make([]calibrate.MeasurementSet, 0, maxLen)
	for i := 0; i < maxLen; i++ {
		var set calibrate.MeasurementSet
		for _, id := range ids {
			ms := aligned[id]
			if i >= len(ms) {
				continue
			}
			comps := ms[i].Value.Components()
			if len(comps) == 0 {
				continue
			}
			set = append(set, calibrate.Observation{SensorID: id, Value: comps[0]})
		}
		if len(set) >= 2 {
			sets = append(sets, set)
		}
	}
	return sets
}

func meanUncertainty(ms []fusion.Measurement) float64 {
	if len(ms) == 0 {
		return 1
	}
	sum := 0.0
	for _, m := range ms {
		sum += m.Uncertainty
	}
	mean := sum / float64(len(ms))
	if mean <= 0 || math.IsNaN(mean) {
		return 1
	}
	return mean
}

// mergeConfig overlays per-call options onto the engine defaults: zero
// call fields inherit the default, everything else wins.
func mergeConfig(def, call fusion.Config) fusion.Config {
	if call.Algorithm == "" {
		call.Algorithm = def.Algorithm
	}
	if call.MaxTemporalWindowMS <= 0 {
		call.MaxTemporalWindowMS = def.MaxTemporalWindowMS
	}
	if call.MinSensorReliability <= 0 {
		call.MinSensorReliability = def.MinSensorReliability
	}
	if call.ConvergenceThreshold <= 0 {
		call.ConvergenceThreshold = def.ConvergenceThreshold
	}
	if call.MaxIterations <= 0 {
		call.MaxIterations = def.MaxIterations
	}
	if call.ByzantineFaultThreshold <= 0 {
		call.ByzantineFaultThreshold = def.ByzantineFaultThreshold
	}
	if call.AlignmentWorkers <= 0 {
		call.AlignmentWorkers = def.AlignmentWorkers
	}
	return call.Normalized()
}
