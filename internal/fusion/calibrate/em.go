// Package calibrate jointly estimates per-sensor biases, noise variances
// and cross-sensor correlation from repeated co-observations of the same
// quantity, by iterative Expectation-Maximization: the E-step forms a
// precision-weighted Gaussian posterior of the latent state per measurement
// set, the M-step moves biases and variances toward the observed residuals.
package calibrate

import (
	"fmt"
	"math"
	"sort"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"

	"github.com/arable-data/chronofuse/internal/monitoring"
)

// Observation is one sensor's scalar reading within a measurement set.
type Observation struct {
	SensorID string
	Value    float64
}

// MeasurementSet groups the co-temporal observations of one epoch, after
// alignment onto a common timeline.
type MeasurementSet []Observation

// Config tunes the EM loop.
type Config struct {
	MaxIterations        int
	ConvergenceThreshold float64 // log-likelihood delta below which we stop
	LearningRate         float64 // EMA rate for bias/variance/correlation updates
	VarianceFloor        float64 // variances never fall below this
	InitialVariance      float64 // variance seed for unseen sensors
}

func (c Config) normalized() Config {
	if c.MaxIterations <= 0 {
		c.MaxIterations = 100
	}
	if c.ConvergenceThreshold <= 0 {
		c.ConvergenceThreshold = 1e-6
	}
	if c.LearningRate <= 0 || c.LearningRate > 1 {
		c.LearningRate = 0.2
	}
	if c.VarianceFloor <= 0 {
		c.VarianceFloor = 1e-9
	}
	if c.InitialVariance <= 0 {
		c.InitialVariance = 1
	}
	return c
}

// Result is the joint calibration estimate.
type Result struct {
	// SensorOrder fixes the row/column order of Correlation.
	SensorOrder []string `json:"sensor_order"`

	Biases         map[string]float64 `json:"biases"`
	NoiseVariances map[string]float64 `json:"noise_variances"`

	// Correlation is the blended empirical cross-sensor correlation
	// matrix over residual time series, row-major, SensorOrder indexed.
	Correlation [][]float64 `json:"correlation"`

	// PosteriorMeans holds the final E-step state estimate per
	// measurement set.
	PosteriorMeans []float64 `json:"posterior_means"`

	LogLikelihood float64 `json:"log_likelihood"`
	Iterations    int     `json:"iterations"`
	Converged     bool    `json:"converged"`
}

// Calibrator runs EM over a private copy of its state per Calibrate call.
type Calibrator struct {
	cfg Config
	// trust supplies the per-sensor weighting of the E-step precision:
	// precision = trust / variance. Sensors absent from the map weigh 1.
	trust map[string]float64
}

// NewCalibrator builds a calibrator. trust may be nil.
func NewCalibrator(cfg Config, trust map[string]float64) *Calibrator {
	return &Calibrator{cfg: cfg.normalized(), trust: trust}
}

// Calibrate runs the EM loop over the measurement sets. Fails when the
// sets contain fewer than two distinct sensors, since cross-calibration
// needs disagreement to learn from.
func (c *Calibrator) Calibrate(sets []MeasurementSet) (Result, error) {
	order := sensorOrder(sets)
	if len(order) < 2 {
		return Result{}, fmt.Errorf("calibration needs at least 2 sensors, got %d", len(order))
	}
	if len(sets) == 0 {
		return Result{}, fmt.Errorf("no measurement sets")
	}

	biases := make(map[string]float64, len(order))
	variances := make(map[string]float64, len(order))
	col := make(map[string]int, len(order))
	for i, id := range order {
		biases[id] = 0
		variances[id] = c.cfg.InitialVariance
		col[id] = i
	}
	correlation := identityMatrix(len(order))

	prevLL := math.Inf(-1)
	iterations := 0
	converged := false
	var means []float64
	var ll float64

	for iterations < c.cfg.MaxIterations {
		iterations++

		// E-step: precision-weighted posterior per set, accumulating
		// the Gaussian log-likelihood of the corrected observations.
		// Residuals stay indexed by epoch (row) and sensor (column),
		// with NaN marking epochs a sensor missed, so correlation
		// never pairs readings from different epochs.
		means = make([]float64, len(sets))
		ll = 0
		residuals := make([][]float64, len(sets))
		for si, set := range sets {
			mean, _ := c.posterior(set, biases, variances)
			means[si] = mean
			row := make([]float64, len(order))
			for i := range row {
				row[i] = math.NaN()
			}
			for _, obs := range set {
				corrected := obs.Value - biases[obs.SensorID]
				r := corrected - mean
				v := variances[obs.SensorID]
				ll += -0.5 * (math.Log(2*math.Pi*v) + r*r/v)
				row[col[obs.SensorID]] = r
			}
			residuals[si] = row
		}

		// M-step: EMA of bias and variance toward observed residuals,
		// then re-blend the empirical correlation matrix.
		lr := c.cfg.LearningRate
		for _, id := range order {
			n := 0
			meanR, meanSq := 0.0, 0.0
			for _, row := range residuals {
				r := row[col[id]]
				if math.IsNaN(r) {
					continue
				}
				n++
				meanR += r
				meanSq += r * r
			}
			if n == 0 {
				continue
			}
			meanR /= float64(n)
			meanSq /= float64(n)

			biases[id] += lr * meanR
			v := (1-lr)*variances[id] + lr*meanSq
			if v < c.cfg.VarianceFloor {
				v = c.cfg.VarianceFloor
			}
			variances[id] = v
		}
		if emp, ok := empiricalCorrelation(len(order), residuals); ok {
			blendMatrix(correlation, emp, lr)
		}

		delta := math.Abs(ll - prevLL)
		prevLL = ll
		if delta < c.cfg.ConvergenceThreshold {
			converged = true
			break
		}
	}

	monitoring.Logf("[Calibrator] finished iterations=%d loglik=%.6g converged=%v", iterations, ll, converged)
	return Result{
		SensorOrder:    order,
		Biases:         biases,
		NoiseVariances: variances,
		Correlation:    correlation,
		PosteriorMeans: means,
		LogLikelihood:  ll,
		Iterations:     iterations,
		Converged:      converged,
	}, nil
}

// posterior combines one set's bias-corrected observations by precision
// weighting (precision = trust/variance), returning the Gaussian posterior
// mean and variance of the latent state.
func (c *Calibrator) posterior(set MeasurementSet, biases, variances map[string]float64) (mean, variance float64) {
	totalPrecision := 0.0
	weighted := 0.0
	for _, obs := range set {
		v := variances[obs.SensorID]
		if v <= 0 {
			v = c.cfg.VarianceFloor
		}
		trust := 1.0
		if t, ok := c.trust[obs.SensorID]; ok {
			trust = t
		}
		p := trust / v
		totalPrecision += p
		weighted += p * (obs.Value - biases[obs.SensorID])
	}
	if totalPrecision == 0 {
		return 0, math.Inf(1)
	}
	return weighted / totalPrecision, 1 / totalPrecision
}

// empiricalCorrelation computes the cross-sensor correlation matrix over
// the epoch-indexed residual rows, using only epochs where every sensor
// observed. Returns ok=false when fewer than two such epochs exist.
func empiricalCorrelation(n int, residuals [][]float64) ([][]float64, bool) {
	complete := residuals[:0:0]
	for _, row := range residuals {
		full := true
		for _, r := range row {
			if math.IsNaN(r) {
				full = false
				break
			}
		}
		if full {
			complete = append(complete, row)
		}
	}
	if len(complete) < 2 {
		return nil, false
	}

	data := mat.NewDense(len(complete), n, nil)
	for row, rs := range complete {
		for col, r := range rs {
			data.Set(row, col, r)
		}
	}
	sym := mat.NewSymDense(n, nil)
	stat.CorrelationMatrix(sym, data, nil)

	out := make([][]float64, n)
	for i := range out {
		out[i] = make([]float64, n)
		for j := range out[i] {
			v := sym.At(i, j)
			if math.IsNaN(v) {
				// Zero-variance residual series correlate with
				// nothing; keep the identity structure.
				if i == j {
					v = 1
				} else {
					v = 0
				}
			}
			out[i][j] = v
		}
	}
	return out, true
}

func blendMatrix(dst [][]float64, src [][]float64, lr float64) {
	for i := range dst {
		for j := range dst[i] {
			dst[i][j] = (1-lr)*dst[i][j] + lr*src[i][j]
		}
	}
}

func identityMatrix(n int) [][]float64 {
	out := make([][]float64, n)
	for i := range out {
		out[i] = make([]float64, n)
		out[i][i] = 1
	}
	return out
}

// sensorOrder returns the distinct sensor IDs across all sets, sorted for
// deterministic matrix indexing.
func sensorOrder(sets []MeasurementSet) []string {
	seen := make(map[string]bool)
	for _, set := range sets {
		for _, obs := range set {
			seen[obs.SensorID] = true
		}
	}
	out := make([]string, 0, len(seen))
	for id := range seen {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}
