package growth

import (
	"context"
	"math"
	"sort"

	"golang.org/x/sync/errgroup"

	"github.com/turtacn/VigorCast/internal/domain/observation"
	"github.com/turtacn/VigorCast/internal/domain/table"
	"github.com/turtacn/VigorCast/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/VigorCast/pkg/errors"
)

// ErrInsufficientData is returned for a region with too few valid points.
var ErrInsufficientData = errors.New(errors.ErrCodeInsufficientPoints, "insufficient points for curve fit")

// Column names of the calibrated growth table.
const (
	ColRegion     = "Region"
	ColYear       = "Year"
	ColVegetation = "VegetationIndex"
	ColPollutant  = "PollutantValue"
	ColR          = "r"
	ColK          = "K"
	ColB0         = "B0"
	ColBaseYear   = "BaseYear"
)

// Config tunes the Calibrator.
type Config struct {
	MinPoints int
	Solver    SolverOptions
	Workers   int
}

// DefaultConfig requires four points and fits one region at a time.
func DefaultConfig() Config {
	return Config{MinPoints: 4, Solver: DefaultSolverOptions(), Workers: 1}
}

// Series is one region's yearly observations of vegetation and the driving
// pollutant.
type Series struct {
	Region     string
	Years      []int
	Vegetation []float64
	Pollutant  []float64
}

// Observation is one point that entered a region's fit.
type Observation struct {
	Year       int
	Vegetation float64
	Pollutant  float64
}

// RegionFit is a region's calibrated parameters with the observations that
// produced them.
type RegionFit struct {
	Region       string
	Params       Params
	BaseYear     int
	Observations []Observation
	Result       FitResult
	Cached       bool
}

// LastObservation returns the latest observation of the fit.
func (f RegionFit) LastObservation() Observation {
	return f.Observations[len(f.Observations)-1]
}

// Skip records a region left out of the calibration.
type Skip struct {
	Region string
	Err    error
}

// Calibration is the output of Calibrate. Fits are sorted by region.
type Calibration struct {
	Pollutant string
	Fits      []RegionFit
	Skipped   []Skip
}

// Fit returns the fit for region.
func (c *Calibration) Fit(region string) (RegionFit, bool) {
	i := sort.Search(len(c.Fits), func(i int) bool { return c.Fits[i].Region >= region })
	if i < len(c.Fits) && c.Fits[i].Region == region {
		return c.Fits[i], true
	}
	return RegionFit{}, false
}

// Frame renders one row per observation with the region's parameters.
func (c *Calibration) Frame() *table.Frame {
	f := table.MustNew(ColRegion, ColYear, ColVegetation, ColPollutant, ColR, ColK, ColB0, ColBaseYear)
	for _, fit := range c.Fits {
		for _, o := range fit.Observations {
			_ = f.Append(fit.Region, o.Year, o.Vegetation, o.Pollutant, fit.Params.R, fit.Params.K, fit.Params.B0, fit.BaseYear)
		}
	}
	return f
}

// SeriesFromTable extracts one Series per region for pollutant.
func SeriesFromTable(tbl *observation.Table, pollutant string) ([]Series, error) {
	if !tbl.HasPollutant(pollutant) {
		return nil, table.ErrMissingColumn.WithDetailf("column=%s", pollutant)
	}
	groups := tbl.ByRegion()
	out := make([]Series, 0, len(groups))
	for _, region := range tbl.Regions() {
		recs := groups[region]
		s := Series{
			Region:     region,
			Years:      make([]int, len(recs)),
			Vegetation: make([]float64, len(recs)),
			Pollutant:  make([]float64, len(recs)),
		}
		for i, r := range recs {
			s.Years[i] = r.Year
			s.Vegetation[i] = r.Vegetation
			s.Pollutant[i] = r.Pollutant(pollutant)
		}
		out = append(out, s)
	}
	return out, nil
}

// Option configures a Calibrator.
type Option func(*Calibrator)

// WithCache serves and stores fits through cache.
func WithCache(cache FitCache) Option {
	return func(c *Calibrator) { c.cache = cache }
}

// Calibrator fits the logistic model region by region.
type Calibrator struct {
	cfg    Config
	logger logging.Logger
	cache  FitCache
}

// NewCalibrator returns a Calibrator. A nil logger discards output.
func NewCalibrator(cfg Config, logger logging.Logger, opts ...Option) *Calibrator {
	if cfg.MinPoints <= 0 {
		cfg.MinPoints = DefaultConfig().MinPoints
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.Solver.Bounds == (Bounds{}) {
		cfg.Solver.Bounds = DefaultBounds
	}
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	c := &Calibrator{cfg: cfg, logger: logger.Named("growth")}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Calibrate fits every series. Regions that cannot be fitted are recorded in
// Skipped and never fail the call; only context cancellation does.
func (c *Calibrator) Calibrate(ctx context.Context, series []Series) (*Calibration, error) {
	ordered := append([]Series(nil), series...)
	sort.SliceStable(ordered, func(i, j int) bool { return ordered[i].Region < ordered[j].Region })

	fits := make([]*RegionFit, len(ordered))
	skips := make([]error, len(ordered))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.cfg.Workers)
	for i := range ordered {
		i := i
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			fit, err := c.FitSeries(gctx, ordered[i])
			if err != nil {
				if ctxErr := gctx.Err(); ctxErr != nil {
					return ctxErr
				}
				skips[i] = err
				return nil
			}
			fits[i] = &fit
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeCancelled, "calibration interrupted")
	}

	out := &Calibration{}
	for i, s := range ordered {
		if fits[i] != nil {
			out.Fits = append(out.Fits, *fits[i])
			continue
		}
		out.Skipped = append(out.Skipped, Skip{Region: s.Region, Err: skips[i]})
		c.logger.Warn("region skipped", logging.Region(s.Region), logging.Err(skips[i]))
	}
	c.logger.Info("calibration finished",
		logging.Int("regions", len(ordered)),
		logging.Int("fitted", len(out.Fits)),
		logging.Int("skipped", len(out.Skipped)))
	return out, nil
}

// FitSeries fits a single region.
func (c *Calibrator) FitSeries(ctx context.Context, s Series) (RegionFit, error) {
	if len(s.Years) == 0 {
		return RegionFit{}, ErrInsufficientData.WithDetailf("region=%s found=0 required=%d", s.Region, c.cfg.MinPoints)
	}

	idx := make([]int, len(s.Years))
	for i := range idx {
		idx[i] = i
	}
	sort.SliceStable(idx, func(a, b int) bool { return s.Years[idx[a]] < s.Years[idx[b]] })

	// Rows missing either variable are dropped before t=0 is anchored, so the
	// base year is the first year that enters the fit.
	var obs []Observation
	for _, i := range idx {
		v := s.Vegetation[i]
		p := math.NaN()
		if i < len(s.Pollutant) {
			p = s.Pollutant[i]
		}
		if !finite(v) || !finite(p) {
			continue
		}
		obs = append(obs, Observation{Year: s.Years[i], Vegetation: v, Pollutant: p})
	}
	if len(obs) == 0 {
		return RegionFit{}, ErrInsufficientData.WithDetailf("region=%s found=0 required=%d", s.Region, c.cfg.MinPoints)
	}

	base := obs[0].Year
	ts := make([]float64, len(obs))
	bs := make([]float64, len(obs))
	for i, o := range obs {
		ts[i] = float64(o.Year - base)
		bs[i] = o.Vegetation
	}
	if len(obs) < c.cfg.MinPoints {
		return RegionFit{}, ErrInsufficientData.WithDetailf("region=%s found=%d required=%d", s.Region, len(obs), c.cfg.MinPoints)
	}

	fit := RegionFit{Region: s.Region, BaseYear: base, Observations: obs}

	key := CacheKey(ts, bs, c.cfg.Solver)
	if c.cache != nil {
		p, ok, err := c.cache.Get(ctx, key)
		switch {
		case err != nil:
			c.logger.Warn("fit cache read failed", logging.Region(s.Region), logging.Err(err))
		case ok && c.cfg.Solver.Bounds.Contains(p):
			fit.Params, fit.Cached = p, true
			c.logger.Debug("fit served from cache", logging.Region(s.Region))
			return fit, nil
		}
	}

	initial := c.cfg.Solver.Bounds.Clamp(Params{R: 0.1, K: floatsMax(bs) + 0.1, B0: bs[0]})
	res, err := Fit(ts, bs, initial, c.cfg.Solver)
	if err != nil {
		return RegionFit{}, errors.Wrap(err, errors.CodeUnknown, "fit failed").WithDetailf("region=%s", s.Region)
	}
	fit.Params = res.Params
	fit.Result = res
	c.logger.Debug("region fitted",
		logging.Region(s.Region),
		logging.Float64("r", res.Params.R),
		logging.Float64("k", res.Params.K),
		logging.Float64("b0", res.Params.B0),
		logging.Float64("rmse", res.RMSE),
		logging.Int("evaluations", res.Evaluations))

	if c.cache != nil {
		if err := c.cache.Put(ctx, key, res.Params); err != nil {
			c.logger.Warn("fit cache write failed", logging.Region(s.Region), logging.Err(err))
		}
	}
	return fit, nil
}

func floatsMax(v []float64) float64 {
	m := math.Inf(-1)
	for _, x := range v {
		m = math.Max(m, x)
	}
	return m
}

func finite(v float64) bool { return !math.IsNaN(v) && !math.IsInf(v, 0) }
