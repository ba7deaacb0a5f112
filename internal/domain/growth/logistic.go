// Package growth calibrates the logistic vegetation growth model
//
//	B(t) = K / (1 + (K/B0 - 1) e^(-r t))
//
// per region by bounded nonlinear least squares.
package growth

import (
	"fmt"
	"math"
)

// Params is one fitted (r, K, B0) triple.
type Params struct {
	R  float64 `json:"r"`
	K  float64 `json:"k"`
	B0 float64 `json:"b0"`
}

func (p Params) String() string {
	return fmt.Sprintf("r=%.6g K=%.6g B0=%.6g", p.R, p.K, p.B0)
}

func (p Params) vector() [3]float64 { return [3]float64{p.R, p.K, p.B0} }

func paramsOf(v [3]float64) Params { return Params{R: v[0], K: v[1], B0: v[2]} }

// Bounds is the closed box the fit is confined to.
type Bounds struct {
	Lower Params
	Upper Params
}

// DefaultBounds is r∈[1e-4,2], K∈[0.1,2], B0∈[0,2].
var DefaultBounds = Bounds{
	Lower: Params{R: 1e-4, K: 0.1, B0: 0},
	Upper: Params{R: 2, K: 2, B0: 2},
}

// Contains reports whether p lies inside the box.
func (b Bounds) Contains(p Params) bool {
	lo, hi, v := b.Lower.vector(), b.Upper.vector(), p.vector()
	for i := range v {
		if v[i] < lo[i] || v[i] > hi[i] {
			return false
		}
	}
	return true
}

// Clamp projects p onto the box.
func (b Bounds) Clamp(p Params) Params {
	lo, hi, v := b.Lower.vector(), b.Upper.vector(), p.vector()
	for i := range v {
		v[i] = math.Min(math.Max(v[i], lo[i]), hi[i])
	}
	return paramsOf(v)
}

// Logistic evaluates B(t) for p. B0 == 0 yields 0 for every t.
func Logistic(t float64, p Params) float64 {
	if p.B0 == 0 {
		return 0
	}
	return p.K / (1 + (p.K/p.B0-1)*math.Exp(-p.R*t))
}

// Step advances b by dt years along a logistic curve with rate r and
// capacity k, starting from b instead of from the curve's own B0.
func Step(b, r, k, dt float64) float64 {
	if b <= 0 {
		return 0
	}
	return k / (1 + (k/b-1)*math.Exp(-r*dt))
}

// gradient returns ∂B/∂r, ∂B/∂K, ∂B/∂B0 at t.
func gradient(t float64, p Params) [3]float64 {
	e := math.Exp(-p.R * t)
	a := p.K/p.B0 - 1
	d := 1 + a*e
	d2 := d * d
	return [3]float64{
		p.K * a * t * e / d2,
		1/d - p.K*e/(p.B0*d2),
		p.K * p.K * e / (p.B0 * p.B0 * d2),
	}
}
