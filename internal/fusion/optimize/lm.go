package optimize

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"

	"github.com/arable-data/chronofuse/internal/fusion"
	"github.com/arable-data/chronofuse/internal/monitoring"
)

// Config tunes the damping loop. Zero values take the defaults below.
type Config struct {
	MaxIterations        int
	ConvergenceThreshold float64 // accepted-cost delta below which we stop
	StepTolerance        float64 // |delta| below which we stop
	InitialLambda        float64
	LambdaUp             float64 // multiplier on rejection / singular solve
	LambdaDown           float64 // divisor on acceptance
	MaxSingularRetries   int     // hard cap on lambda bumps for a singular system
}

func (c Config) normalized() Config {
	if c.MaxIterations <= 0 {
		c.MaxIterations = 50
	}
	if c.ConvergenceThreshold <= 0 {
		c.ConvergenceThreshold = 1e-8
	}
	if c.StepTolerance <= 0 {
		c.StepTolerance = 1e-10
	}
	if c.InitialLambda <= 0 {
		c.InitialLambda = 1e-3
	}
	if c.LambdaUp <= 1 {
		c.LambdaUp = 10
	}
	if c.LambdaDown <= 1 {
		c.LambdaDown = 10
	}
	if c.MaxSingularRetries <= 0 {
		c.MaxSingularRetries = 8
	}
	return c
}

// Result reports the outcome of one optimization run.
type Result struct {
	Params     []float64
	Cost       float64
	Iterations int
	Converged  bool
}

// Optimizer runs damped Gauss-Newton over a private copy of the parameters;
// concurrent Optimize calls share nothing.
type Optimizer struct {
	cfg Config
}

// NewOptimizer builds an optimizer with the given damping configuration.
func NewOptimizer(cfg Config) *Optimizer {
	return &Optimizer{cfg: cfg.normalized()}
}

// Optimize minimizes the weighted squared residual of the factor graph
// starting from initial. The loop never accepts a parameter update that
// increases cost. A normal-equations system that stays singular past the
// retry cap fails with fusion.ErrSingularSystem.
func (o *Optimizer) Optimize(initial []float64, factors []Factor) (Result, error) {
	if len(factors) == 0 {
		return Result{}, fmt.Errorf("no factors to optimize")
	}
	n := len(initial)
	params := make([]float64, n)
	copy(params, initial)

	lambda := o.cfg.InitialLambda
	cost := totalCost(params, factors)
	iterations := 0
	converged := false

	for iterations < o.cfg.MaxIterations {
		iterations++

		h, g := normalEquations(params, factors, n)

		// Solve (H + lambda*I) delta = -g, bumping lambda on singular
		// systems without consuming the iteration budget.
		var delta []float64
		solved := false
		for retry := 0; retry <= o.cfg.MaxSingularRetries; retry++ {
			damped := mat.NewDense(n, n, nil)
			damped.Copy(h)
			for i := 0; i < n; i++ {
				damped.Set(i, i, damped.At(i, i)+lambda)
			}
			var lu mat.LU
			lu.Factorize(damped)
			var dv mat.VecDense
			if err := lu.SolveVecTo(&dv, false, negVec(g)); err != nil {
				lambda *= o.cfg.LambdaUp
				continue
			}
			delta = make([]float64, n)
			for i := 0; i < n; i++ {
				delta[i] = dv.AtVec(i)
			}
			solved = true
			break
		}
		if !solved {
			return Result{Params: params, Cost: cost, Iterations: iterations},
				fmt.Errorf("damping retries exhausted at lambda=%.3g: %w", lambda, fusion.ErrSingularSystem)
		}

		if floats.Norm(delta, 2) < o.cfg.StepTolerance {
			converged = true
			break
		}

		candidate := make([]float64, n)
		floats.AddTo(candidate, params, delta)
		candidateCost := totalCost(candidate, factors)

		if candidateCost < cost {
			// Strict descent: accept and relax the damping.
			accepted := cost - candidateCost
			params = candidate
			cost = candidateCost
			lambda /= o.cfg.LambdaDown
			if accepted < o.cfg.ConvergenceThreshold {
				converged = true
				break
			}
		} else {
			// Reject and damp harder.
			lambda *= o.cfg.LambdaUp
			if lambda > 1e12 {
				// Damping this heavy means no productive step
				// exists; we are at a (local) minimum.
				converged = true
				break
			}
		}
	}

	monitoring.Logf("[Optimizer] finished iterations=%d cost=%.6g converged=%v", iterations, cost, converged)
	return Result{Params: params, Cost: cost, Iterations: iterations, Converged: converged}, nil
}

// normalEquations assembles H = J^T W J and g = J^T W r across all factors.
func normalEquations(params []float64, factors []Factor, n int) (*mat.Dense, *mat.VecDense) {
	h := mat.NewDense(n, n, nil)
	g := mat.NewVecDense(n, nil)
	for _, f := range factors {
		r := f.Residual(params)
		j := f.Jacobian(params)
		info := f.Information()

		// J^T W J
		var wj mat.Dense
		wj.Mul(info, j)
		var jtwj mat.Dense
		jtwj.Mul(j.T(), &wj)
		h.Add(h, &jtwj)

		// J^T W r
		rv := mat.NewVecDense(len(r), r)
		var wr mat.VecDense
		wr.MulVec(info, rv)
		var jtwr mat.VecDense
		jtwr.MulVec(j.T(), &wr)
		g.AddVec(g, &jtwr)
	}
	return h, g
}

// totalCost is the weighted squared residual: sum r^T W r over factors.
func totalCost(params []float64, factors []Factor) float64 {
	cost := 0.0
	for _, f := range factors {
		r := f.Residual(params)
		info := f.Information()
		for i := 0; i < len(r); i++ {
			for j := 0; j < len(r); j++ {
				cost += r[i] * info.At(i, j) * r[j]
			}
		}
	}
	if math.IsNaN(cost) {
		return math.Inf(1)
	}
	return cost
}

func negVec(v *mat.VecDense) *mat.VecDense {
	out := mat.NewVecDense(v.Len(), nil)
	out.ScaleVec(-1, v)
	return out
}
