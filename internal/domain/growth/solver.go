package growth

import (
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"

	"github.com/turtacn/VigorCast/pkg/errors"
)

var (
	// ErrNonConvergence is returned when the evaluation budget runs out.
	ErrNonConvergence = errors.New(errors.ErrCodeFitNonConvergence, "curve fit did not converge")
	// ErrNumeric is returned when the model produces NaN or Inf.
	ErrNumeric = errors.New(errors.ErrCodeFitNumeric, "curve fit produced non-finite values")
)

const (
	// minB0 keeps K/B0 finite while B0 sits on its zero floor.
	minB0 = 1e-9

	lambdaInit = 1e-3
	lambdaMin  = 1e-15
	lambdaMax  = 1e16

	// costFloor is treated as an exact fit.
	costFloor = 1e-30
)

// SolverOptions bounds the projected Levenberg–Marquardt search.
type SolverOptions struct {
	Bounds Bounds
	// MaxEvaluations caps model evaluations (one per residual vector).
	MaxEvaluations int
	// Tolerance is the relative cost and step tolerance.
	Tolerance float64
}

// DefaultSolverOptions uses DefaultBounds, 8000 evaluations and 1e-10.
func DefaultSolverOptions() SolverOptions {
	return SolverOptions{Bounds: DefaultBounds, MaxEvaluations: 8000, Tolerance: 1e-10}
}

// FitResult describes a converged fit.
type FitResult struct {
	Params      Params
	Cost        float64 // half the residual sum of squares
	RMSE        float64
	Evaluations int
	Iterations  int
}

type problem struct {
	t, b   []float64
	lo, hi [3]float64
}

func (p *problem) residuals(x [3]float64) ([]float64, bool) {
	prm := paramsOf(x)
	out := make([]float64, len(p.t))
	for i, ti := range p.t {
		v := Logistic(ti, prm) - p.b[i]
		if !isFinite(v) {
			return nil, false
		}
		out[i] = v
	}
	return out, true
}

func (p *problem) clamp(x [3]float64) [3]float64 {
	for i := range x {
		x[i] = math.Min(math.Max(x[i], p.lo[i]), p.hi[i])
	}
	return x
}

// normalEquations returns JᵀJ and Jᵀr at x.
func (p *problem) normalEquations(x [3]float64, res []float64) (*mat.SymDense, []float64, bool) {
	prm := paramsOf(x)
	var jtj [9]float64
	jtr := make([]float64, 3)
	for i, ti := range p.t {
		g := gradient(ti, prm)
		for a := 0; a < 3; a++ {
			if !isFinite(g[a]) {
				return nil, nil, false
			}
			jtr[a] += g[a] * res[i]
			for c := a; c < 3; c++ {
				jtj[a*3+c] += g[a] * g[c]
			}
		}
	}
	for a := 0; a < 3; a++ {
		for c := 0; c < a; c++ {
			jtj[a*3+c] = jtj[c*3+a]
		}
	}
	return mat.NewSymDense(3, jtj[:]), jtr, true
}

// freeSet marks the parameters that may move: a parameter sitting on a
// bound with the descent direction pointing out of the box is held.
func (p *problem) freeSet(x [3]float64, g []float64) [3]bool {
	var free [3]bool
	for i := range free {
		free[i] = !(x[i] <= p.lo[i] && g[i] > 0) && !(x[i] >= p.hi[i] && g[i] < 0)
	}
	return free
}

func projectedGradientNorm(g []float64, free [3]bool) float64 {
	pg := make([]float64, 3)
	for i := range pg {
		if free[i] {
			pg[i] = g[i]
		}
	}
	return floats.Norm(pg, math.Inf(1))
}

// Fit minimises Σ (B(tᵢ) - bᵢ)² over the box opts.Bounds starting from
// initial (clamped into the box).
func Fit(t, b []float64, initial Params, opts SolverOptions) (FitResult, error) {
	if len(t) != len(b) || len(t) == 0 {
		return FitResult{}, ErrNumeric.WithDetailf("%d times for %d values", len(t), len(b))
	}
	if opts.MaxEvaluations <= 0 {
		opts.MaxEvaluations = DefaultSolverOptions().MaxEvaluations
	}
	if opts.Tolerance <= 0 {
		opts.Tolerance = DefaultSolverOptions().Tolerance
	}

	for i := range t {
		if !isFinite(t[i]) || !isFinite(b[i]) {
			return FitResult{}, ErrNumeric.WithDetailf("non-finite point at index %d", i)
		}
	}

	p := &problem{t: t, b: b, lo: opts.Bounds.Lower.vector(), hi: opts.Bounds.Upper.vector()}
	p.lo[2] = math.Max(p.lo[2], minB0)

	x := p.clamp(initial.vector())
	res, ok := p.residuals(x)
	evals := 1
	if !ok {
		return FitResult{}, ErrNumeric.WithDetailf("initial guess %s", paramsOf(x))
	}
	cost := 0.5 * floats.Dot(res, res)
	lambda := lambdaInit
	tol := opts.Tolerance

	iter := 0
search:
	for ; ; iter++ {
		if cost <= costFloor {
			break
		}
		jtj, jtr, ok := p.normalEquations(x, res)
		if !ok {
			return FitResult{}, ErrNumeric.WithDetailf("jacobian at %s", paramsOf(x))
		}
		free := p.freeSet(x, jtr)
		if projectedGradientNorm(jtr, free) <= tol*tol {
			break
		}

		for {
			if lambda > lambdaMax {
				break search
			}
			if evals >= opts.MaxEvaluations {
				return FitResult{}, ErrNonConvergence.WithDetailf("%d evaluations, last %s cost=%.3g", evals, paramsOf(x), cost)
			}

			damped := mat.NewSymDense(3, nil)
			rhs := mat.NewVecDense(3, nil)
			for i := 0; i < 3; i++ {
				if !free[i] {
					damped.SetSym(i, i, 1)
					continue
				}
				rhs.SetVec(i, -jtr[i])
				for j := i; j < 3; j++ {
					if free[j] {
						damped.SetSym(i, j, jtj.At(i, j))
					}
				}
				damped.SetSym(i, i, jtj.At(i, i)+lambda*math.Max(jtj.At(i, i), 1e-12))
			}
			var chol mat.Cholesky
			if !chol.Factorize(damped) {
				lambda *= 10
				continue
			}
			var delta mat.VecDense
			if err := chol.SolveVecTo(&delta, rhs); err != nil {
				lambda *= 10
				continue
			}

			var next [3]float64
			for i := range next {
				next[i] = x[i] + delta.AtVec(i)
			}
			next = p.clamp(next)
			step := []float64{next[0] - x[0], next[1] - x[1], next[2] - x[2]}
			if floats.Norm(step, 2) <= tol*(floats.Norm(x[:], 2)+tol) {
				break search
			}

			nres, ok := p.residuals(next)
			evals++
			if !ok {
				lambda *= 10
				continue
			}
			ncost := 0.5 * floats.Dot(nres, nres)
			if ncost >= cost {
				lambda *= 10
				continue
			}

			rel := (cost - ncost) / cost
			x, res, cost = next, nres, ncost
			lambda = math.Max(lambda/10, lambdaMin)
			if rel <= tol {
				break search
			}
			break
		}
	}

	return FitResult{
		Params:      paramsOf(x),
		Cost:        cost,
		RMSE:        math.Sqrt(2 * cost / float64(len(t))),
		Evaluations: evals,
		Iterations:  iter,
	}, nil
}

func isFinite(v float64) bool { return !math.IsNaN(v) && !math.IsInf(v, 0) }
