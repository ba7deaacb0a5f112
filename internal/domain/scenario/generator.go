// Package scenario extrapolates pollutant concentrations from each region's
// last observation to a horizon year under a set of policies.
package scenario

import (
	"math"
	"math/rand"
	"sort"
	"strings"

	"github.com/turtacn/VigorCast/internal/domain/growth"
	"github.com/turtacn/VigorCast/internal/domain/table"
	"github.com/turtacn/VigorCast/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/VigorCast/pkg/errors"
)

var (
	ErrUnknownPolicy   = errors.New(errors.ErrCodeUnknownPolicy, "unknown scenario policy")
	ErrInvalidBaseline = errors.New(errors.ErrCodeInvalidBaseline, "invalid scenario baseline")
)

// Column names of the trajectory table.
const (
	ColRegion        = "Region"
	ColYear          = "Year"
	ColConcentration = "PollutantConcentration"
)

// Policy names a pollutant trend.
type Policy string

const (
	Constant    Policy = "constant"
	Decrease    Policy = "decrease"
	Increase    Policy = "increase"
	Fluctuating Policy = "fluctuating"
)

// ParsePolicy accepts a policy name in any case.
func ParsePolicy(s string) (Policy, error) {
	switch p := Policy(strings.ToLower(strings.TrimSpace(s))); p {
	case Constant, Decrease, Increase, Fluctuating:
		return p, nil
	}
	return "", ErrUnknownPolicy.WithDetailf("policy=%q", s)
}

// ParsePolicies parses every name, keeping order and dropping repeats.
func ParsePolicies(names []string) ([]Policy, error) {
	seen := map[Policy]bool{}
	var out []Policy
	for _, n := range names {
		p, err := ParsePolicy(n)
		if err != nil {
			return nil, err
		}
		if !seen[p] {
			seen[p] = true
			out = append(out, p)
		}
	}
	return out, nil
}

// Baseline is the starting point of a region's trajectory.
type Baseline struct {
	Region    string
	LastYear  int
	LastValue float64
}

// Point is one projected concentration. Step is 1 for LastYear+1.
type Point struct {
	Region        string
	Year          int
	Step          int
	Concentration float64
}

// Trajectory holds every region's points for one policy, sorted by
// (Region, Year).
type Trajectory struct {
	Policy Policy
	Points []Point
}

// Frame renders the trajectory as Region, Year, PollutantConcentration.
func (t Trajectory) Frame() *table.Frame {
	f := table.MustNew(ColRegion, ColYear, ColConcentration)
	for _, p := range t.Points {
		_ = f.Append(p.Region, p.Year, p.Concentration)
	}
	return f
}

// Config tunes the generator.
type Config struct {
	HorizonYear      int
	DecreaseRate     float64
	IncreaseRate     float64
	FluctuationSigma float64
	Seed             int64
}

// DefaultConfig runs to 2050 with ±1% yearly rates, 5% noise and seed 42.
func DefaultConfig() Config {
	return Config{HorizonYear: 2050, DecreaseRate: 0.01, IncreaseRate: 0.01, FluctuationSigma: 0.05, Seed: 42}
}

// Generator produces deterministic trajectories.
type Generator struct {
	cfg    Config
	logger logging.Logger
}

// NewGenerator returns a Generator. A nil logger discards output.
func NewGenerator(cfg Config, logger logging.Logger) *Generator {
	if cfg.HorizonYear == 0 {
		cfg.HorizonYear = DefaultConfig().HorizonYear
	}
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	return &Generator{cfg: cfg, logger: logger.Named("scenario")}
}

// Generate builds one trajectory. Regions whose last year is at or past the
// horizon contribute no points.
func (g *Generator) Generate(baselines []Baseline, policy Policy) (Trajectory, error) {
	if _, err := ParsePolicy(string(policy)); err != nil {
		return Trajectory{}, err
	}
	ordered := append([]Baseline(nil), baselines...)
	sort.SliceStable(ordered, func(i, j int) bool { return ordered[i].Region < ordered[j].Region })

	seen := map[string]bool{}
	rng := rand.New(rand.NewSource(g.cfg.Seed))
	out := Trajectory{Policy: policy}
	for _, b := range ordered {
		if seen[b.Region] {
			return Trajectory{}, ErrInvalidBaseline.WithDetailf("region=%s appears twice", b.Region)
		}
		seen[b.Region] = true
		if math.IsNaN(b.LastValue) || math.IsInf(b.LastValue, 0) {
			return Trajectory{}, ErrInvalidBaseline.WithDetailf("region=%s last value %v", b.Region, b.LastValue)
		}
		for step, year := 1, b.LastYear+1; year <= g.cfg.HorizonYear; step, year = step+1, year+1 {
			out.Points = append(out.Points, Point{
				Region:        b.Region,
				Year:          year,
				Step:          step,
				Concentration: g.value(policy, b.LastValue, step, rng),
			})
		}
	}
	g.logger.Debug("trajectory generated",
		logging.String("policy", string(policy)),
		logging.Int("regions", len(ordered)),
		logging.Int("points", len(out.Points)))
	return out, nil
}

// GenerateAll builds one trajectory per policy, in the given order.
func (g *Generator) GenerateAll(baselines []Baseline, policies []Policy) ([]Trajectory, error) {
	out := make([]Trajectory, 0, len(policies))
	for _, p := range policies {
		t, err := g.Generate(baselines, p)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, nil
}

func (g *Generator) value(policy Policy, v float64, step int, rng *rand.Rand) float64 {
	switch policy {
	case Decrease:
		return v * math.Pow(1-g.cfg.DecreaseRate, float64(step))
	case Increase:
		return v * math.Pow(1+g.cfg.IncreaseRate, float64(step))
	case Fluctuating:
		return math.Max(0, v*(1+g.cfg.FluctuationSigma*rng.NormFloat64()))
	default:
		return v
	}
}

// BaselinesFromFits takes each region's last calibrated observation. Regions
// whose last pollutant value is missing fall back to the latest present one.
func BaselinesFromFits(fits []growth.RegionFit) []Baseline {
	out := make([]Baseline, 0, len(fits))
	for _, f := range fits {
		last := f.LastObservation()
		b := Baseline{Region: f.Region, LastYear: last.Year, LastValue: last.Pollutant}
		for i := len(f.Observations) - 1; i >= 0 && math.IsNaN(b.LastValue); i-- {
			b.LastValue = f.Observations[i].Pollutant
		}
		out = append(out, b)
	}
	return out
}
