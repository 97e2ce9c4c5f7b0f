// Package optimize refines a state estimate by nonlinear least squares over
// a factor graph of sensor residuals, using Levenberg-Marquardt damping.
package optimize

import "gonum.org/v1/gonum/mat"

// Factor contributes a residual block to the joint optimization. The set of
// factor kinds is closed within this package; each sensor type that can
// constrain the state gets its own constructor below.
type Factor interface {
	// Residual evaluates the error vector at the given parameters.
	Residual(params []float64) []float64
	// Jacobian evaluates the residual's derivative with respect to the
	// parameters, rows matching Residual entries.
	Jacobian(params []float64) *mat.Dense
	// Information returns the residual-space information (inverse
	// covariance) matrix weighting this factor.
	Information() *mat.SymDense
	// Dim is the residual dimension.
	Dim() int
}

// GPSPositionFactor constrains one state component to a measured position
// with HDOP-scaled confidence.
type GPSPositionFactor struct {
	Index    int     // state component constrained
	Measured float64 // measured position
	HDOP     float64 // horizontal dilution of precision
}

func (f *GPSPositionFactor) Residual(params []float64) []float64 {
	return []float64{params[f.Index] - f.Measured}
}

func (f *GPSPositionFactor) Jacobian(params []float64) *mat.Dense {
	j := mat.NewDense(1, len(params), nil)
	j.Set(0, f.Index, 1)
	return j
}

func (f *GPSPositionFactor) Information() *mat.SymDense {
	hdop := f.HDOP
	if hdop <= 0 {
		hdop = 1
	}
	info := mat.NewSymDense(1, nil)
	info.SetSym(0, 0, 1/(hdop*hdop))
	return info
}

func (f *GPSPositionFactor) Dim() int { return 1 }

// ClockBiasFactor constrains a clock-bias state component to a measured
// offset with the clock's own variance.
type ClockBiasFactor struct {
	Index    int
	Measured float64
	Sigma    float64 // standard deviation of the bias measurement
}

func (f *ClockBiasFactor) Residual(params []float64) []float64 {
	return []float64{params[f.Index] - f.Measured}
}

func (f *ClockBiasFactor) Jacobian(params []float64) *mat.Dense {
	j := mat.NewDense(1, len(params), nil)
	j.Set(0, f.Index, 1)
	return j
}

func (f *ClockBiasFactor) Information() *mat.SymDense {
	sigma := f.Sigma
	if sigma <= 0 {
		sigma = 1
	}
	info := mat.NewSymDense(1, nil)
	info.SetSym(0, 0, 1/(sigma*sigma))
	return info
}

func (f *ClockBiasFactor) Dim() int { return 1 }

// ScalarObservationFactor constrains one state component to a direct scalar
// observation, weighted by the observation's uncertainty and an external
// weight (trust x priority from the consensus stage).
type ScalarObservationFactor struct {
	Index    int
	Measured float64
	Sigma    float64
	Weight   float64
}

func (f *ScalarObservationFactor) Residual(params []float64) []float64 {
	return []float64{params[f.Index] - f.Measured}
}

func (f *ScalarObservationFactor) Jacobian(params []float64) *mat.Dense {
	j := mat.NewDense(1, len(params), nil)
	j.Set(0, f.Index, 1)
	return j
}

func (f *ScalarObservationFactor) Information() *mat.SymDense {
	sigma := f.Sigma
	if sigma <= 0 {
		sigma = 1
	}
	w := f.Weight
	if w <= 0 {
		w = 1
	}
	info := mat.NewSymDense(1, nil)
	info.SetSym(0, 0, w/(sigma*sigma))
	return info
}

func (f *ScalarObservationFactor) Dim() int { return 1 }

var (
	_ Factor = (*GPSPositionFactor)(nil)
	_ Factor = (*ClockBiasFactor)(nil)
	_ Factor = (*ScalarObservationFactor)(nil)
)
