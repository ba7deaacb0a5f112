package pipeline

import (
	"context"

	"github.com/turtacn/VigorCast/internal/config"
	"github.com/turtacn/VigorCast/internal/domain/composite"
	"github.com/turtacn/VigorCast/internal/domain/growth"
	"github.com/turtacn/VigorCast/internal/domain/observation"
	"github.com/turtacn/VigorCast/internal/domain/projection"
	"github.com/turtacn/VigorCast/internal/domain/reconcile"
	"github.com/turtacn/VigorCast/internal/domain/scenario"
	"github.com/turtacn/VigorCast/internal/domain/sensitivity"
	"github.com/turtacn/VigorCast/internal/domain/table"
	"github.com/turtacn/VigorCast/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/VigorCast/pkg/errors"
)

// GrowthConfig maps the calibration section onto the calibrator.
func GrowthConfig(c config.CalibrationConfig) growth.Config {
	return growth.Config{
		MinPoints: c.MinPoints,
		Workers:   c.Workers,
		Solver: growth.SolverOptions{
			Bounds: growth.Bounds{
				Lower: growth.Params{R: c.RMin, K: c.KMin, B0: c.B0Min},
				Upper: growth.Params{R: c.RMax, K: c.KMax, B0: c.B0Max},
			},
			MaxEvaluations: c.MaxEvaluations,
			Tolerance:      c.Tolerance,
		},
	}
}

// ScenarioConfig maps the scenario section onto the generator.
func ScenarioConfig(c config.ScenarioConfig) scenario.Config {
	return scenario.Config{
		HorizonYear:      c.HorizonYear,
		DecreaseRate:     c.DecreaseRate,
		IncreaseRate:     c.IncreaseRate,
		FluctuationSigma: c.FluctuationSigma,
		Seed:             c.Seed,
	}
}

// Schema maps the input section onto the observation builder.
func Schema(c config.InputConfig) observation.Schema {
	return observation.Schema{
		Region:       c.RegionColumn,
		Year:         c.YearColumn,
		Vegetation:   c.VegetationColumn,
		Pollutants:   c.PollutantColumns,
		ExcludeYears: c.ExcludeYears,
	}
}

// LoadObservations validates a raw observation frame.
func (s *Service) LoadObservations(f *table.Frame) (*observation.Table, error) {
	tbl, err := observation.FromFrame(f, Schema(s.cfg.Input))
	if err != nil {
		return nil, err
	}
	s.logger.Info("observations loaded",
		logging.Int("records", len(tbl.Records)),
		logging.Int("regions", len(tbl.Regions())),
		logging.Strings("pollutants", tbl.Pollutants))
	return tbl, nil
}

// Calibrate fits every region of tbl against pollutant.
func (s *Service) Calibrate(ctx context.Context, tbl *observation.Table, pollutant string) (*growth.Calibration, error) {
	series, err := growth.SeriesFromTable(tbl, pollutant)
	if err != nil {
		return nil, err
	}
	var opts []growth.Option
	if s.cache != nil && s.cfg.Calibration.CacheEnabled {
		opts = append(opts, growth.WithCache(s.cache))
	}
	cal, err := growth.NewCalibrator(GrowthConfig(s.cfg.Calibration), s.logger, opts...).Calibrate(ctx, series)
	if err != nil {
		return nil, err
	}
	cached := 0
	for _, f := range cal.Fits {
		if f.Cached {
			cached++
		}
	}
	s.metrics.ObserveCalibration(len(cal.Fits), len(cal.Skipped), cached)
	return cal, nil
}

// Sensitivity fits the law and returns it with the parameter table every
// projection reads from.
func (s *Service) Sensitivity(cal *growth.Calibration) (sensitivity.Law, *table.Frame, error) {
	agg := sensitivity.Aggregation(s.cfg.Sensitivity.Aggregation)
	samples := sensitivity.Samples(cal.Fits, agg)
	law, err := sensitivity.NewEstimator(s.cfg.Sensitivity.MinSamples, s.logger).Estimate(samples)
	if err != nil {
		return sensitivity.Law{}, nil, err
	}
	return law, sensitivity.Broadcast(cal.Frame(), law), nil
}

// Composite fits pollutant weights on a national per-year table and
// aggregates the composite index per year.
func (s *Service) Composite(f *table.Frame) (*composite.Weights, []composite.YearIndex, error) {
	in := s.cfg.Input
	pollutants := in.PollutantColumns
	if len(pollutants) == 0 {
		pollutants = f.NumericColumns(in.RegionColumn, in.YearColumn, in.VegetationColumn)
	}
	if len(pollutants) == 0 {
		return nil, nil, errors.InvalidParam("composite table has no pollutant columns")
	}
	regionCol := ""
	if f.Has(in.RegionColumn) {
		regionCol = in.RegionColumn
	}
	rows, err := composite.RowsFromFrame(f, regionCol, in.YearColumn, in.VegetationColumn, pollutants)
	if err != nil {
		return nil, nil, err
	}
	w, err := composite.NewModel(s.logger).Fit(pollutants, rows)
	if err != nil {
		return nil, nil, err
	}
	annual, err := composite.Annual(w, rows)
	if err != nil {
		return nil, nil, err
	}
	return w, annual, nil
}

// Scenarios generates one trajectory per policy from each fitted region's
// last observation.
func (s *Service) Scenarios(cal *growth.Calibration, policies []scenario.Policy) ([]scenario.Trajectory, error) {
	g := scenario.NewGenerator(ScenarioConfig(s.cfg.Scenario), s.logger)
	return g.GenerateAll(scenario.BaselinesFromFits(cal.Fits), policies)
}

// Reconcile merges every trajectory with params.
func (s *Service) Reconcile(trajectories []scenario.Trajectory, params *table.Frame) ([]*reconcile.Result, error) {
	m := reconcile.NewMerger(s.logger)
	out := make([]*reconcile.Result, 0, len(trajectories))
	for _, tr := range trajectories {
		res, err := m.Merge(tr.Frame(), params)
		if err != nil {
			return nil, errors.Wrap(err, errors.CodeUnknown, "merge "+string(tr.Policy))
		}
		s.metrics.ObserveMerge(string(tr.Policy), res.DuplicatesRemoved)
		out = append(out, res)
	}
	return out, nil
}

// Project runs the engine over each merged table. merges and policies are
// parallel.
func (s *Service) Project(mode projection.Mode, merges []*reconcile.Result, policies []scenario.Policy) ([]*projection.Projection, error) {
	if len(merges) != len(policies) {
		return nil, errors.Internal("merged tables and policies differ in length")
	}
	e, err := projection.NewEngine(mode, s.logger)
	if err != nil {
		return nil, err
	}
	out := make([]*projection.Projection, 0, len(merges))
	for i, m := range merges {
		p, err := e.ProjectFrame(policies[i], m.Frame)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, nil
}
