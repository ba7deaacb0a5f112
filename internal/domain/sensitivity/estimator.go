// Package sensitivity estimates the cross-region law linking the logistic
// growth rate to pollutant exposure:
//
//	log(r) = log(r0) - alpha·P
package sensitivity

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/stat"

	"github.com/turtacn/VigorCast/internal/domain/growth"
	"github.com/turtacn/VigorCast/internal/domain/table"
	"github.com/turtacn/VigorCast/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/VigorCast/pkg/errors"
)

var (
	// ErrInsufficientSamples is returned when too few valid samples remain.
	ErrInsufficientSamples = errors.New(errors.ErrCodeInsufficientSamples, "insufficient samples for sensitivity regression")
	// ErrDegenerate is returned when every sample shares one exposure value.
	ErrDegenerate = errors.New(errors.ErrCodeDegenerateRegression, "sensitivity regression is degenerate")
)

// Broadcast column names.
const (
	ColR0    = "r0_global"
	ColAlpha = "alpha_global"
)

// Aggregation selects the sample unit.
type Aggregation string

const (
	// PerRow uses one sample per observation row of every fitted region.
	PerRow Aggregation = "rows"
	// RegionMean uses one sample per region at its mean exposure.
	RegionMean Aggregation = "region_mean"
)

// Sample is one (r, P) pair.
type Sample struct {
	Region string
	Year   int
	R      float64
	P      float64
}

// Law is the fitted relation r(P) = R0·e^(-Alpha·P).
type Law struct {
	R0      float64 `json:"r0"`
	Alpha   float64 `json:"alpha"`
	Samples int     `json:"samples"`
	// RSquared of the log-linear regression.
	RSquared float64 `json:"r_squared"`
}

// Rate evaluates r(P).
func (l Law) Rate(p float64) float64 {
	return l.R0 * math.Exp(-l.Alpha*p)
}

// AnchoredAt keeps Alpha and rescales R0 so that Rate(p) equals r.
func (l Law) AnchoredAt(r, p float64) Law {
	out := l
	out.R0 = r * math.Exp(l.Alpha*p)
	return out
}

// Frame renders the law as a one-row table.
func (l Law) Frame() *table.Frame {
	f := table.MustNew(ColR0, ColAlpha, "samples", "r_squared")
	_ = f.Append(l.R0, l.Alpha, l.Samples, l.RSquared)
	return f
}

// Samples turns calibrated fits into regression samples.
func Samples(fits []growth.RegionFit, agg Aggregation) []Sample {
	var out []Sample
	for _, fit := range fits {
		switch agg {
		case RegionMean:
			var sum float64
			var n int
			for _, o := range fit.Observations {
				if !math.IsNaN(o.Pollutant) {
					sum += o.Pollutant
					n++
				}
			}
			p := math.NaN()
			if n > 0 {
				p = sum / float64(n)
			}
			out = append(out, Sample{Region: fit.Region, Year: fit.LastObservation().Year, R: fit.Params.R, P: p})
		default:
			for _, o := range fit.Observations {
				out = append(out, Sample{Region: fit.Region, Year: o.Year, R: fit.Params.R, P: o.Pollutant})
			}
		}
	}
	return out
}

// Estimator fits the sensitivity law.
type Estimator struct {
	minSamples int
	logger     logging.Logger
}

// NewEstimator returns an Estimator requiring minSamples valid samples
// (three when minSamples <= 0).
func NewEstimator(minSamples int, logger logging.Logger) *Estimator {
	if minSamples <= 0 {
		minSamples = 3
	}
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	return &Estimator{minSamples: minSamples, logger: logger.Named("sensitivity")}
}

// Estimate regresses log(r) on P over samples with r > 0 and finite P.
func (e *Estimator) Estimate(samples []Sample) (Law, error) {
	xs := make([]float64, 0, len(samples))
	ys := make([]float64, 0, len(samples))
	for _, s := range samples {
		if !(s.R > 0) || math.IsNaN(s.P) || math.IsInf(s.P, 0) || math.IsInf(s.R, 0) {
			continue
		}
		xs = append(xs, s.P)
		ys = append(ys, math.Log(s.R))
	}
	if len(xs) < e.minSamples {
		return Law{}, ErrInsufficientSamples.WithDetailf("found=%d required=%d", len(xs), e.minSamples)
	}
	if stat.Variance(xs, nil) == 0 {
		return Law{}, ErrDegenerate.WithDetailf("all %d samples share P=%g", len(xs), xs[0])
	}

	intercept, slope := stat.LinearRegression(xs, ys, nil, false)
	if math.IsNaN(intercept) || math.IsNaN(slope) {
		return Law{}, ErrDegenerate.WithDetail("regression produced NaN")
	}
	law := Law{
		R0:       math.Exp(intercept),
		Alpha:    -slope,
		Samples:  len(xs),
		RSquared: stat.RSquared(xs, ys, nil, intercept, slope),
	}
	e.logger.Info("sensitivity law estimated",
		logging.Float64("r0", law.R0),
		logging.Float64("alpha", law.Alpha),
		logging.Int("samples", law.Samples),
		logging.Float64("r_squared", law.RSquared))
	return law, nil
}

// Broadcast appends r0_global and alpha_global to every row of growthTable.
func Broadcast(growthTable *table.Frame, law Law) *table.Frame {
	out := growthTable.WithColumn(ColR0, func(int) interface{} { return law.R0 })
	return out.WithColumn(ColAlpha, func(int) interface{} { return law.Alpha })
}

// Regions returns the distinct regions contributing to samples, sorted.
func Regions(samples []Sample) []string {
	seen := map[string]bool{}
	var out []string
	for _, s := range samples {
		if !seen[s.Region] {
			seen[s.Region] = true
			out = append(out, s.Region)
		}
	}
	sort.Strings(out)
	return out
}
