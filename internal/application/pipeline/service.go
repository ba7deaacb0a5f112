// Package pipeline drives a full calibration and projection run: it loads
// observations, calibrates regional growth curves, fits the pollutant
// sensitivity law and optional composite weights, generates scenarios, and
// projects vegetation for every policy before exporting and persisting the
// outputs.
package pipeline

import (
	"context"
	"time"

	"github.com/turtacn/VigorCast/internal/config"
	"github.com/turtacn/VigorCast/internal/domain/composite"
	"github.com/turtacn/VigorCast/internal/domain/growth"
	"github.com/turtacn/VigorCast/internal/domain/observation"
	"github.com/turtacn/VigorCast/internal/domain/projection"
	"github.com/turtacn/VigorCast/internal/domain/reconcile"
	"github.com/turtacn/VigorCast/internal/domain/run"
	"github.com/turtacn/VigorCast/internal/domain/scenario"
	"github.com/turtacn/VigorCast/internal/domain/sensitivity"
	"github.com/turtacn/VigorCast/internal/domain/table"
	"github.com/turtacn/VigorCast/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/VigorCast/pkg/errors"
)

// -----------------------------------------------------------------------
// Request / Result
// -----------------------------------------------------------------------

// Request describes one run. Empty fields fall back to the configuration.
type Request struct {
	RunID        string
	Observations *table.Frame
	// Composite is the optional national per-year table for the composite
	// index regression.
	Composite *table.Frame
	Pollutant string
	Policies  []string
	Mode      string
}

// Result holds every stage output of a successful run.
type Result struct {
	RunID        string
	Pollutant    string
	Mode         projection.Mode
	Observations *observation.Table
	Calibration  *growth.Calibration
	Law          sensitivity.Law
	// Parameters is the calibrated growth table with the law broadcast onto
	// every row.
	Parameters   *table.Frame
	Weights      *composite.Weights
	Annual       []composite.YearIndex
	Trajectories []scenario.Trajectory
	Merges       []*reconcile.Result
	Projections  []*projection.Projection
	Comparison   *table.Frame
	// National is set when the composite annual series could be fitted.
	National     *National
	Artifacts    []string
	Run          *run.Run
}

// Projection returns the projection for policy.
func (r *Result) Projection(policy scenario.Policy) (*projection.Projection, bool) {
	for _, p := range r.Projections {
		if p.Policy == policy {
			return p, true
		}
	}
	return nil, false
}

// -----------------------------------------------------------------------
// Service
// -----------------------------------------------------------------------

// Service runs the pipeline. Collaborators left nil are skipped.
type Service struct {
	cfg       config.Config
	logger    logging.Logger
	cache     growth.FitCache
	store     ArtifactStore
	runs      run.Repository
	events    EventPublisher
	metrics   Recorder
	renderers []Renderer
	now       func() time.Time
}

// Option configures a Service.
type Option func(*Service)

func WithFitCache(c growth.FitCache) Option      { return func(s *Service) { s.cache = c } }
func WithArtifactStore(a ArtifactStore) Option   { return func(s *Service) { s.store = a } }
func WithRunRepository(r run.Repository) Option  { return func(s *Service) { s.runs = r } }
func WithEventPublisher(p EventPublisher) Option { return func(s *Service) { s.events = p } }
func WithRecorder(r Recorder) Option             { return func(s *Service) { s.metrics = r } }

// WithRenderers adds renderers run after the tabular export.
func WithRenderers(r ...Renderer) Option {
	return func(s *Service) { s.renderers = append(s.renderers, r...) }
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option { return func(s *Service) { s.now = now } }

// NewService returns a Service for cfg. A nil logger discards output.
func NewService(cfg config.Config, logger logging.Logger, opts ...Option) *Service {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	s := &Service{
		cfg:     cfg,
		logger:  logger.Named("pipeline"),
		metrics: nopRecorder{},
		now:     time.Now,
	}
	for _, o := range opts {
		o(s)
	}
	if s.metrics == nil {
		s.metrics = nopRecorder{}
	}
	return s
}

// Config returns the service configuration.
func (s *Service) Config() config.Config { return s.cfg }

// GetRun loads a persisted run.
func (s *Service) GetRun(ctx context.Context, id string) (*run.Run, error) {
	if s.runs == nil {
		return nil, run.ErrRunNotFound.WithDetail("run persistence disabled")
	}
	return s.runs.Get(ctx, id)
}

// Run executes every stage for req. Artifacts are exported and the run is
// recorded only after all stages succeed; a failed run is still recorded
// and announced with its failing stage.
func (s *Service) Run(ctx context.Context, req Request) (*Result, error) {
	pollutant := firstNonEmpty(req.Pollutant, s.cfg.Input.Pollutant)
	policies := req.Policies
	if len(policies) == 0 {
		policies = s.cfg.Scenario.Policies
	}
	mode := firstNonEmpty(req.Mode, s.cfg.Projection.Mode)

	rec := run.New(req.RunID, pollutant, policies, mode, s.now())
	ctx = logging.ContextWithRunID(ctx, rec.ID)
	logger := s.logger.With(logging.RunID(rec.ID))

	s.metrics.RunStarted()
	logger.Info("run started",
		logging.String("pollutant", pollutant),
		logging.Strings("policies", policies),
		logging.String("mode", mode))

	res, err := s.execute(ctx, logger, req, rec)
	if err == nil {
		rec.Succeed(s.now())
	} else {
		rec.Fail(StageOf(err), err, s.now())
	}
	s.metrics.RunFinished(rec.Duration(), err)

	if perr := s.persist(ctx, rec); perr != nil {
		if err == nil {
			err = stageErr(StagePersist, perr)
		} else {
			logger.Error("failed to record failed run", logging.Err(perr))
		}
	}
	if s.events != nil {
		if perr := s.events.PublishRunCompleted(ctx, rec); perr != nil {
			logger.Warn("failed to publish run completion", logging.Err(perr))
		}
	}

	if err != nil {
		logger.Error("run failed", logging.Stage(rec.FailedStage), logging.Err(err))
		return nil, err
	}
	logger.Info("run finished",
		logging.Duration("duration", rec.Duration()),
		logging.Int("artifacts", len(res.Artifacts)))
	return res, nil
}

func (s *Service) execute(ctx context.Context, logger logging.Logger, req Request, rec *run.Run) (*Result, error) {
	res := &Result{RunID: rec.ID, Pollutant: rec.Pollutant, Run: rec}

	var policies []scenario.Policy
	err := s.stage(logger, StageLoad, func() error {
		if req.Observations == nil {
			return errors.InvalidParam("observations are required")
		}
		var err error
		if policies, err = scenario.ParsePolicies(rec.Policies); err != nil {
			return err
		}
		if res.Mode, err = projection.ParseMode(rec.Mode); err != nil {
			return err
		}
		res.Observations, err = s.LoadObservations(req.Observations)
		return err
	})
	if err != nil {
		return nil, err
	}

	if err := s.stage(logger, StageCalibrate, func() (err error) {
		res.Calibration, err = s.Calibrate(ctx, res.Observations, rec.Pollutant)
		return err
	}); err != nil {
		return nil, err
	}

	if err := s.stage(logger, StageSensitivity, func() (err error) {
		res.Law, res.Parameters, err = s.Sensitivity(res.Calibration)
		return err
	}); err != nil {
		return nil, err
	}

	if req.Composite != nil {
		if err := s.stage(logger, StageComposite, func() (err error) {
			res.Weights, res.Annual, err = s.Composite(req.Composite)
			return err
		}); err != nil {
			return nil, err
		}
	}

	if err := s.stage(logger, StageScenario, func() (err error) {
		res.Trajectories, err = s.Scenarios(res.Calibration, policies)
		return err
	}); err != nil {
		return nil, err
	}

	if err := s.stage(logger, StageReconcile, func() (err error) {
		res.Merges, err = s.Reconcile(res.Trajectories, res.Parameters)
		return err
	}); err != nil {
		return nil, err
	}

	if err := s.stage(logger, StageProjection, func() (err error) {
		res.Projections, err = s.Project(res.Mode, res.Merges, policies)
		return err
	}); err != nil {
		return nil, err
	}

	if s.cfg.Projection.Compare && len(res.Projections) > 1 {
		if err := s.stage(logger, StageCompare, func() (err error) {
			res.Comparison, err = projection.Compare(res.Projections...)
			return err
		}); err != nil {
			return nil, err
		}
	}

	if len(res.Annual) > 0 {
		if err := s.stage(logger, StageNational, func() (err error) {
			res.National, err = s.National(ctx, res.Annual, res.Law, res.Mode, policies)
			return err
		}); err != nil {
			return nil, err
		}
	}

	fillRun(rec, res)

	if s.store != nil {
		if err := s.stage(logger, StageExport, func() (err error) {
			res.Artifacts, err = s.Export(ctx, res)
			return err
		}); err != nil {
			return nil, err
		}
		rec.Artifacts = res.Artifacts
	}
	return res, nil
}

// stage times fn, records the outcome and tags failures with name.
func (s *Service) stage(logger logging.Logger, name string, fn func() error) error {
	start := s.now()
	logger.Debug("stage started", logging.Stage(name))
	err := fn()
	d := s.now().Sub(start)
	s.metrics.ObserveStage(name, d, err)
	if err != nil {
		return stageErr(name, err)
	}
	logger.Info("stage finished", logging.Stage(name), logging.Duration("duration", d))
	return nil
}

func (s *Service) persist(ctx context.Context, rec *run.Run) error {
	if s.runs == nil {
		return nil
	}
	return s.runs.Save(ctx, rec)
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
