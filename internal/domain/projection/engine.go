// Package projection evaluates the calibrated logistic model forward along
// a pollutant trajectory, with the growth rate driven by the sensitivity law
// r(P) = r0·e^(-alpha·P).
package projection

import (
	"math"
	"sort"

	"github.com/turtacn/VigorCast/internal/domain/growth"
	"github.com/turtacn/VigorCast/internal/domain/scenario"
	"github.com/turtacn/VigorCast/internal/domain/sensitivity"
	"github.com/turtacn/VigorCast/internal/domain/table"
	"github.com/turtacn/VigorCast/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/VigorCast/pkg/errors"
)

var (
	ErrMissingParameters = errors.New(errors.ErrCodeMissingParameters, "projection parameters missing")
	ErrUnknownMode       = errors.New(errors.ErrCodeUnknownMode, "unknown projection mode")
)

// Column names of the projection table.
const (
	ColRegion        = "Region"
	ColYear          = "Year"
	ColPredicted     = "PredictedVegetationIndex"
	ColConcentration = "PollutantConcentration"
	ColGrowthRate    = "GrowthRate"
)

// Mode selects how the curve is carried forward.
type Mode string

const (
	// ClosedForm evaluates B(t) from the region's base year with r(Pₜ).
	ClosedForm Mode = "closed_form"
	// Stepwise advances B one year at a time from the fitted value at the
	// last observed year, clamped to [0, 1].
	Stepwise Mode = "stepwise"
)

// ParseMode validates a mode name.
func ParseMode(s string) (Mode, error) {
	switch m := Mode(s); m {
	case ClosedForm, Stepwise:
		return m, nil
	case "":
		return ClosedForm, nil
	}
	return "", ErrUnknownMode.WithDetailf("mode=%q", s)
}

// Record is one projected (Region, Year).
type Record struct {
	Region        string
	Year          int
	Predicted     float64
	Concentration float64
	GrowthRate    float64
}

// Projection is the output for one policy.
type Projection struct {
	Policy  scenario.Policy
	Mode    Mode
	Records []Record
	// Skipped counts merged rows without parameters.
	Skipped int
}

// Frame renders the projection table.
func (p *Projection) Frame() *table.Frame {
	f := table.MustNew(ColRegion, ColYear, ColPredicted, ColConcentration, ColGrowthRate)
	for _, r := range p.Records {
		_ = f.Append(r.Region, r.Year, r.Predicted, r.Concentration, r.GrowthRate)
	}
	return f
}

// At returns the record for (region, year).
func (p *Projection) At(region string, year int) (Record, bool) {
	for _, r := range p.Records {
		if r.Region == region && r.Year == year {
			return r, true
		}
	}
	return Record{}, false
}

// Engine projects trajectories.
type Engine struct {
	mode   Mode
	logger logging.Logger
}

// NewEngine returns an Engine for mode. A nil logger discards output.
func NewEngine(mode Mode, logger logging.Logger) (*Engine, error) {
	m, err := ParseMode(string(mode))
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	return &Engine{mode: m, logger: logger.Named("projection")}, nil
}

// Mode returns the engine's mode.
func (e *Engine) Mode() Mode { return e.mode }

type point struct {
	region   string
	year     int
	p        float64
	params   growth.Params
	baseYear int
	law      sensitivity.Law
}

type floatCol struct {
	col string
	dst *float64
}

func (pt point) complete() bool {
	for _, v := range []float64{pt.p, pt.params.R, pt.params.K, pt.params.B0, pt.law.R0, pt.law.Alpha} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}

// ProjectFrame projects a merged scenario+parameters table. It needs Region,
// Year, PollutantConcentration, K, B0, BaseYear, r0_global and alpha_global,
// plus r in stepwise mode.
func (e *Engine) ProjectFrame(policy scenario.Policy, merged *table.Frame) (*Projection, error) {
	required := []string{ColRegion, ColYear, scenario.ColConcentration, growth.ColK, growth.ColB0,
		growth.ColBaseYear, sensitivity.ColR0, sensitivity.ColAlpha}
	if e.mode == Stepwise {
		required = append(required, growth.ColR)
	}
	if err := merged.Require(required...); err != nil {
		return nil, ErrMissingParameters.WithCause(err)
	}

	points := make([]point, 0, merged.Len())
	for i := 0; i < merged.Len(); i++ {
		var pt point
		var err error
		if pt.region, err = merged.Text(i, ColRegion); err != nil {
			return nil, err
		}
		if pt.year, err = merged.Int(i, ColYear); err != nil {
			return nil, err
		}
		floats := []floatCol{
			{scenario.ColConcentration, &pt.p},
			{growth.ColK, &pt.params.K},
			{growth.ColB0, &pt.params.B0},
			{sensitivity.ColR0, &pt.law.R0},
			{sensitivity.ColAlpha, &pt.law.Alpha},
		}
		if e.mode == Stepwise {
			floats = append(floats, floatCol{growth.ColR, &pt.params.R})
		}
		for _, f := range floats {
			if *f.dst, err = merged.Float(i, f.col); err != nil {
				return nil, err
			}
		}
		base, baseErr := merged.Float(i, growth.ColBaseYear)
		if baseErr != nil {
			return nil, baseErr
		}
		if math.IsNaN(base) {
			pt.params.K = math.NaN()
		} else {
			pt.baseYear = int(base)
		}
		points = append(points, pt)
	}
	return e.project(policy, points), nil
}

// ProjectTrajectory projects a trajectory directly from calibrated fits and
// the sensitivity law, without a merged table.
func (e *Engine) ProjectTrajectory(tr scenario.Trajectory, cal *growth.Calibration, law sensitivity.Law) *Projection {
	points := make([]point, 0, len(tr.Points))
	for _, sp := range tr.Points {
		pt := point{region: sp.Region, year: sp.Year, p: sp.Concentration, law: law}
		fit, ok := cal.Fit(sp.Region)
		if ok {
			pt.params, pt.baseYear = fit.Params, fit.BaseYear
		} else {
			pt.params = growth.Params{K: math.NaN()}
		}
		points = append(points, pt)
	}
	return e.project(tr.Policy, points)
}

func (e *Engine) project(policy scenario.Policy, points []point) *Projection {
	out := &Projection{Policy: policy, Mode: e.mode}

	var valid []point
	for _, pt := range points {
		if pt.complete() {
			valid = append(valid, pt)
		} else {
			out.Skipped++
		}
	}
	sort.SliceStable(valid, func(i, j int) bool {
		if valid[i].region != valid[j].region {
			return valid[i].region < valid[j].region
		}
		return valid[i].year < valid[j].year
	})

	var (
		current  string
		b        float64
		prevYear int
	)
	for _, pt := range valid {
		rate := pt.law.Rate(pt.p)
		var pred float64
		switch e.mode {
		case Stepwise:
			if pt.region != current {
				current = pt.region
				prevYear = pt.year - 1
				b = growth.Logistic(float64(prevYear-pt.baseYear), pt.params)
			}
			b = clamp01(growth.Step(b, rate, pt.params.K, float64(pt.year-prevYear)))
			prevYear = pt.year
			pred = b
		default:
			pred = growth.Logistic(float64(pt.year-pt.baseYear), growth.Params{R: rate, K: pt.params.K, B0: pt.params.B0})
		}
		out.Records = append(out.Records, Record{
			Region:        pt.region,
			Year:          pt.year,
			Predicted:     pred,
			Concentration: pt.p,
			GrowthRate:    rate,
		})
	}

	if out.Skipped > 0 {
		e.logger.Warn("rows without parameters skipped",
			logging.String("policy", string(policy)),
			logging.Int("skipped", out.Skipped))
	}
	e.logger.Info("projection finished",
		logging.String("policy", string(policy)),
		logging.String("mode", string(e.mode)),
		logging.Int("records", len(out.Records)))
	return out
}

func clamp01(v float64) float64 {
	return math.Min(math.Max(v, 0), 1)
}
