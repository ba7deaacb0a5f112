package pipeline

import (
	"context"

	"github.com/turtacn/VigorCast/internal/domain/composite"
	"github.com/turtacn/VigorCast/internal/domain/growth"
	"github.com/turtacn/VigorCast/internal/domain/projection"
	"github.com/turtacn/VigorCast/internal/domain/reconcile"
	"github.com/turtacn/VigorCast/internal/domain/scenario"
	"github.com/turtacn/VigorCast/internal/domain/sensitivity"
	"github.com/turtacn/VigorCast/internal/domain/table"
	"github.com/turtacn/VigorCast/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/VigorCast/pkg/errors"
)

// National is the projection chain of the national per-year series, driven
// by the composite index.
type National struct {
	Fit          growth.RegionFit
	// Law keeps the regional alpha and is anchored so that its rate at the
	// last composite index equals the national fitted r.
	Law          sensitivity.Law
	Parameters   *table.Frame
	Trajectories []scenario.Trajectory
	Merges       []*reconcile.Result
	Projections  []*projection.Projection
}

// Projection returns the national projection for policy.
func (n *National) Projection(policy scenario.Policy) (*projection.Projection, bool) {
	for _, p := range n.Projections {
		if p.Policy == policy {
			return p, true
		}
	}
	return nil, false
}

// National fits the logistic curve on the annual composite series and
// projects it under every policy. A series that cannot be fitted yields nil
// without error; the regional results stand on their own.
func (s *Service) National(ctx context.Context, annual []composite.YearIndex, law sensitivity.Law, mode projection.Mode, policies []scenario.Policy) (*National, error) {
	logger := s.logger.With(logging.Region(composite.GlobalRegion))
	fit, err := growth.NewCalibrator(GrowthConfig(s.cfg.Calibration), s.logger).
		FitSeries(ctx, composite.NationalSeries(annual))
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		logger.Warn("national chain skipped", logging.Err(err))
		return nil, nil
	}

	last := fit.LastObservation()
	n := &National{Fit: fit, Law: law.AnchoredAt(fit.Params.R, last.Pollutant)}
	cal := &growth.Calibration{Fits: []growth.RegionFit{fit}}
	n.Parameters = sensitivity.Broadcast(cal.Frame(), n.Law)

	g := scenario.NewGenerator(ScenarioConfig(s.cfg.Scenario), s.logger)
	if n.Trajectories, err = g.GenerateAll(scenario.BaselinesFromFits(cal.Fits), policies); err != nil {
		return nil, err
	}

	m := reconcile.NewMerger(s.logger)
	for _, tr := range n.Trajectories {
		res, err := m.Merge(tr.Frame(), n.Parameters)
		if err != nil {
			return nil, errors.Wrap(err, errors.CodeUnknown, "merge national "+string(tr.Policy))
		}
		n.Merges = append(n.Merges, res)
	}
	if n.Projections, err = s.Project(mode, n.Merges, policies); err != nil {
		return nil, err
	}

	logger.Info("national chain projected",
		logging.Float64("r", fit.Params.R),
		logging.Float64("k", fit.Params.K),
		logging.Float64("r0", n.Law.R0),
		logging.Int("base_year", fit.BaseYear))
	return n, nil
}
