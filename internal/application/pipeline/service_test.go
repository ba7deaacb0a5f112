package pipeline

import (
	"context"
	"errors"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/turtacn/VigorCast/internal/config"
	"github.com/turtacn/VigorCast/internal/domain/composite"
	"github.com/turtacn/VigorCast/internal/domain/growth"
	"github.com/turtacn/VigorCast/internal/domain/run"
	"github.com/turtacn/VigorCast/internal/domain/scenario"
	"github.com/turtacn/VigorCast/internal/domain/sensitivity"
	"github.com/turtacn/VigorCast/internal/domain/table"
	"github.com/turtacn/VigorCast/internal/testutil"
	apperrors "github.com/turtacn/VigorCast/pkg/errors"
)

type mockArtifactStore struct {
	mock.Mock
}

func (m *mockArtifactStore) Put(ctx context.Context, key string, data []byte, contentType string) error {
	return m.Called(ctx, key, data, contentType).Error(0)
}

func (m *mockArtifactStore) Get(ctx context.Context, key string) ([]byte, error) {
	args := m.Called(ctx, key)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]byte), args.Error(1)
}

func (m *mockArtifactStore) List(ctx context.Context, prefix string) ([]string, error) {
	args := m.Called(ctx, prefix)
	return args.Get(0).([]string), args.Error(1)
}

func (m *mockArtifactStore) Delete(ctx context.Context, key string) error {
	return m.Called(ctx, key).Error(0)
}

// flakyStore accepts the first okPuts writes and fails every later one.
type flakyStore struct {
	*testutil.MemoryStore
	okPuts int
	puts   int
}

func (f *flakyStore) Put(ctx context.Context, key string, data []byte, contentType string) error {
	f.puts++
	if f.puts > f.okPuts {
		return errors.New("disk full")
	}
	return f.MemoryStore.Put(ctx, key, data, contentType)
}

type failingRenderer struct{}

func (failingRenderer) Render(*Result) ([]Attachment, error) {
	return nil, errors.New("font missing")
}

type mockPublisher struct {
	mock.Mock
}

func (m *mockPublisher) PublishRunCompleted(ctx context.Context, r *run.Run) error {
	return m.Called(ctx, r).Error(0)
}

type fakeRecorder struct {
	mu       sync.Mutex
	stages   []string
	failed   []string
	fitted   int
	merges   map[string]int
	finished int
	runErr   error
}

func (f *fakeRecorder) ObserveStage(stage string, _ time.Duration, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stages = append(f.stages, stage)
	if err != nil {
		f.failed = append(f.failed, stage)
	}
}

func (f *fakeRecorder) ObserveCalibration(fitted, _, _ int) { f.fitted += fitted }

func (f *fakeRecorder) ObserveMerge(policy string, n int) {
	if f.merges == nil {
		f.merges = map[string]int{}
	}
	f.merges[policy] += n
}

func (f *fakeRecorder) RunStarted() {}

func (f *fakeRecorder) RunFinished(_ time.Duration, err error) {
	f.finished++
	f.runErr = err
}

type staticRenderer struct{}

func (staticRenderer) Render(res *Result) ([]Attachment, error) {
	return []Attachment{{Name: "summary.txt", ContentType: "text/plain", Data: []byte(res.RunID)}}, nil
}

func testConfig() config.Config {
	cfg := *config.Default()
	cfg.Scenario.Policies = []string{"constant", "increase"}
	cfg.Scenario.HorizonYear = 2029
	return cfg
}

func TestRun_EndToEnd(t *testing.T) {
	store := testutil.NewMemoryStore()
	repo := testutil.NewMemoryRunRepository()
	pub := &mockPublisher{}
	pub.On("PublishRunCompleted", mock.Anything, mock.MatchedBy(func(r *run.Run) bool {
		return r.Status == run.StatusSucceeded
	})).Return(nil).Once()
	rec := &fakeRecorder{}
	logger := testutil.NewMockLogger()

	svc := NewService(testConfig(), logger,
		WithArtifactStore(store),
		WithRunRepository(repo),
		WithEventPublisher(pub),
		WithRecorder(rec),
		WithRenderers(staticRenderer{}))

	res, err := svc.Run(context.Background(), Request{
		RunID:        "run-1",
		Observations: testutil.ObservationFrame(testutil.DefaultRegions, testutil.DefaultLaw, 2010, 10),
		Composite:    testutil.NationalFrame(0.2, 0.01, -0.02),
	})
	require.NoError(t, err)
	pub.AssertExpectations(t)

	require.Len(t, res.Calibration.Fits, 3)
	assert.InEpsilon(t, testutil.DefaultLaw.Alpha, res.Law.Alpha, 0.05)
	assert.InEpsilon(t, testutil.DefaultLaw.R0, res.Law.R0, 0.05)
	require.NotNil(t, res.Weights)
	assert.InDelta(t, 0.01, res.Weights.Values[0], 1e-6)

	inc, ok := res.Projection(scenario.Increase)
	require.True(t, ok)
	for _, r := range testutil.DefaultRegions {
		p := r.Pollutant * math.Pow(1.01, 10)
		truth := growth.Logistic(19, growth.Params{R: testutil.DefaultLaw.Rate(p), K: r.K, B0: r.B0})
		got, ok := inc.At(r.Name, 2029)
		require.True(t, ok, r.Name)
		assert.InEpsilon(t, truth, got.Predicted, 0.10, r.Name)
	}

	require.NotNil(t, res.Comparison)
	assert.Equal(t, 3*10, res.Comparison.Len())

	for _, name := range []string{ArtifactObservations, ArtifactCalibrated, ArtifactSensitivity, ArtifactWeights,
		ScenarioArtifact("increase"), ProjectionArtifact("constant"), ArtifactComparison} {
		key := svc.ArtifactKey("run-1", name)
		assert.Contains(t, res.Artifacts, key)
		assert.Equal(t, ContentTypeCSV, store.Types[key])
	}
	assert.Equal(t, []byte("run-1"), store.Objects[svc.ArtifactKey("run-1", "summary.txt")])

	f, err := table.Parse(store.Objects[svc.ArtifactKey("run-1", ArtifactSensitivity)])
	require.NoError(t, err)
	assert.True(t, f.Has(sensitivity.ColAlpha))

	saved, err := repo.Get(context.Background(), "run-1")
	require.NoError(t, err)
	assert.Equal(t, run.StatusSucceeded, saved.Status)
	assert.Len(t, saved.Params, 3)
	regional := 0
	for _, p := range saved.Projections {
		if p.Region != composite.GlobalRegion {
			regional++
		}
	}
	assert.Equal(t, 2*3*10, regional)
	assert.NotNil(t, saved.Intercept)

	assert.Equal(t, []string{StageLoad, StageCalibrate, StageSensitivity, StageComposite, StageScenario,
		StageReconcile, StageProjection, StageCompare, StageNational, StageExport}, rec.stages)
	assert.Equal(t, 3, rec.fitted)
	assert.Equal(t, 1, rec.finished)
	assert.NoError(t, rec.runErr)
	assert.True(t, logger.HasMessage("info", "run finished"))
}

func TestRun_NationalChain(t *testing.T) {
	store := testutil.NewMemoryStore()
	repo := testutil.NewMemoryRunRepository()
	truth := growth.Params{R: 0.25, K: 0.85, B0: 0.3}
	svc := NewService(testConfig(), nil, WithArtifactStore(store), WithRunRepository(repo))

	res, err := svc.Run(context.Background(), Request{
		RunID:        "nat",
		Observations: testutil.ObservationFrame(testutil.DefaultRegions, testutil.DefaultLaw, 2010, 10),
		Composite:    testutil.NationalGrowthFrame(truth, 2010),
	})
	require.NoError(t, err)

	n := res.National
	require.NotNil(t, n)
	assert.Equal(t, 2010, n.Fit.BaseYear)
	assert.Len(t, n.Fit.Observations, 10)
	assert.InEpsilon(t, truth.R, n.Fit.Params.R, 0.05)
	assert.InEpsilon(t, truth.K, n.Fit.Params.K, 0.05)

	last := res.Annual[len(res.Annual)-1]
	assert.Equal(t, res.Law.Alpha, n.Law.Alpha)
	assert.InEpsilon(t, n.Fit.Params.R, n.Law.Rate(last.Index), 1e-9)

	require.Len(t, n.Trajectories, 2)
	for _, tr := range n.Trajectories {
		require.Len(t, tr.Points, 10)
		assert.Equal(t, composite.GlobalRegion, tr.Points[0].Region)
		assert.Equal(t, 2020, tr.Points[0].Year)
	}

	c, ok := n.Projection(scenario.Constant)
	require.True(t, ok)
	require.Len(t, c.Records, 10)
	got, ok := c.At(composite.GlobalRegion, 2029)
	require.True(t, ok)
	assert.InDelta(t, last.Index, got.Concentration, 1e-9)
	assert.InEpsilon(t, n.Fit.Params.R, got.GrowthRate, 1e-9)
	assert.InEpsilon(t, growth.Logistic(19, truth), got.Predicted, 0.05)

	inc, ok := n.Projection(scenario.Increase)
	require.True(t, ok)
	hi, ok := inc.At(composite.GlobalRegion, 2029)
	require.True(t, ok)
	assert.InEpsilon(t, last.Index*math.Pow(1.01, 10), hi.Concentration, 1e-9)
	assert.InEpsilon(t, n.Law.Rate(hi.Concentration), hi.GrowthRate, 1e-9)

	for _, name := range []string{ArtifactNationalFit, NationalScenarioArtifact("constant"), NationalProjectionArtifact("increase")} {
		assert.Contains(t, res.Artifacts, svc.ArtifactKey("nat", name))
	}
	f, err := table.Parse(store.Objects[svc.ArtifactKey("nat", ArtifactNationalFit)])
	require.NoError(t, err)
	assert.True(t, f.Has(sensitivity.ColR0))

	saved, err := repo.Get(context.Background(), "nat")
	require.NoError(t, err)
	global := 0
	for _, p := range saved.Projections {
		if p.Region == composite.GlobalRegion {
			global++
		}
	}
	assert.Equal(t, 2*10, global)
}

func TestRun_NationalChainSkippedWithoutComposite(t *testing.T) {
	rec := &fakeRecorder{}
	res, err := NewService(testConfig(), nil, WithRecorder(rec)).Run(context.Background(), Request{
		Observations: testutil.ObservationFrame(testutil.DefaultRegions, testutil.DefaultLaw, 2010, 10),
	})
	require.NoError(t, err)
	assert.Nil(t, res.National)
	assert.NotContains(t, rec.stages, StageNational)
}

func TestRun_FatalStageIsNamedAndNothingIsExported(t *testing.T) {
	cfg := testConfig()
	cfg.Sensitivity.MinSamples = 1000
	store := &mockArtifactStore{}
	repo := testutil.NewMemoryRunRepository()
	rec := &fakeRecorder{}

	svc := NewService(cfg, nil, WithArtifactStore(store), WithRunRepository(repo), WithRecorder(rec))
	_, err := svc.Run(context.Background(), Request{
		RunID:        "run-2",
		Observations: testutil.ObservationFrame(testutil.DefaultRegions, testutil.DefaultLaw, 2010, 10),
	})
	require.Error(t, err)

	var se *StageError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, StageSensitivity, se.Stage)
	assert.Equal(t, apperrors.ErrCodeInsufficientSamples, se.Code())
	assert.True(t, errors.Is(err, sensitivity.ErrInsufficientSamples))
	assert.Contains(t, err.Error(), "stage sensitivity")
	store.AssertNotCalled(t, "Put", mock.Anything, mock.Anything, mock.Anything, mock.Anything)

	saved, gerr := repo.Get(context.Background(), "run-2")
	require.NoError(t, gerr)
	assert.Equal(t, run.StatusFailed, saved.Status)
	assert.Equal(t, StageSensitivity, saved.FailedStage)
	assert.Equal(t, []string{StageSensitivity}, rec.failed)
	assert.Error(t, rec.runErr)
}

func TestRun_MissingColumnFailsLoad(t *testing.T) {
	f := table.MustNew("Region", "Year", "NDVI")
	require.NoError(t, f.Append("A", 2010, 0.3))

	_, err := NewService(testConfig(), nil).Run(context.Background(), Request{Observations: f})
	assert.Equal(t, StageLoad, StageOf(err))
	assert.True(t, errors.Is(err, table.ErrMissingColumn))
	assert.Contains(t, err.Error(), "Mean_NDVI")
}

func TestRun_UnknownPolicyFailsLoad(t *testing.T) {
	_, err := NewService(testConfig(), nil).Run(context.Background(), Request{
		Observations: testutil.ObservationFrame(testutil.DefaultRegions, testutil.DefaultLaw, 2010, 10),
		Policies:     []string{"halve"},
	})
	assert.Equal(t, StageLoad, StageOf(err))
	assert.True(t, errors.Is(err, scenario.ErrUnknownPolicy))
}

func TestRun_ExportFailure(t *testing.T) {
	store := &mockArtifactStore{}
	store.On("Put", mock.Anything, mock.Anything, mock.Anything, ContentTypeCSV).Return(errors.New("disk full")).Once()

	svc := NewService(testConfig(), nil, WithArtifactStore(store))
	_, err := svc.Run(context.Background(), Request{
		Observations: testutil.ObservationFrame(testutil.DefaultRegions, testutil.DefaultLaw, 2010, 10),
	})
	assert.Equal(t, StageExport, StageOf(err))
	assert.True(t, errors.Is(err, ErrArtifactWrite))
	store.AssertNumberOfCalls(t, "Put", 1)
}

func TestRun_ExportFailureRollsBackWrittenArtifacts(t *testing.T) {
	store := &flakyStore{MemoryStore: testutil.NewMemoryStore(), okPuts: 3}
	repo := testutil.NewMemoryRunRepository()

	svc := NewService(testConfig(), nil, WithArtifactStore(store), WithRunRepository(repo))
	_, err := svc.Run(context.Background(), Request{
		RunID:        "r1",
		Observations: testutil.ObservationFrame(testutil.DefaultRegions, testutil.DefaultLaw, 2010, 10),
	})
	require.Error(t, err)
	assert.Equal(t, StageExport, StageOf(err))
	assert.True(t, errors.Is(err, ErrArtifactWrite))
	assert.Equal(t, 4, store.puts)

	keys, err := store.List(context.Background(), "runs/r1/")
	require.NoError(t, err)
	assert.Empty(t, keys)
}

func TestRun_RendererFailureWritesNothing(t *testing.T) {
	store := testutil.NewMemoryStore()

	svc := NewService(testConfig(), nil, WithArtifactStore(store), WithRenderers(staticRenderer{}, failingRenderer{}))
	_, err := svc.Run(context.Background(), Request{
		RunID:        "r2",
		Observations: testutil.ObservationFrame(testutil.DefaultRegions, testutil.DefaultLaw, 2010, 10),
	})
	require.Error(t, err)
	assert.Equal(t, StageExport, StageOf(err))
	assert.Empty(t, store.Objects)
}

func TestRun_PublishFailureDoesNotFailRun(t *testing.T) {
	pub := &mockPublisher{}
	pub.On("PublishRunCompleted", mock.Anything, mock.Anything).Return(errors.New("broker down"))
	logger := testutil.NewMockLogger()

	_, err := NewService(testConfig(), logger, WithEventPublisher(pub)).Run(context.Background(), Request{
		Observations: testutil.ObservationFrame(testutil.DefaultRegions, testutil.DefaultLaw, 2010, 10),
	})
	require.NoError(t, err)
	assert.True(t, logger.HasMessage("warn", "failed to publish run completion"))
}

func TestRun_Stepwise(t *testing.T) {
	cfg := testConfig()
	cfg.Projection.Mode = "stepwise"
	res, err := NewService(cfg, nil).Run(context.Background(), Request{
		Observations: testutil.ObservationFrame(testutil.DefaultRegions, testutil.DefaultLaw, 2010, 10),
		Policies:     []string{"constant"},
	})
	require.NoError(t, err)
	require.Len(t, res.Projections, 1)
	assert.Nil(t, res.Comparison, "a single policy has nothing to compare")
	for _, r := range res.Projections[0].Records {
		assert.GreaterOrEqual(t, r.Predicted, 0.0)
		assert.LessOrEqual(t, r.Predicted, 1.0)
	}
}

func TestGetRun_WithoutRepository(t *testing.T) {
	_, err := NewService(testConfig(), nil).GetRun(context.Background(), "x")
	assert.True(t, apperrors.IsNotFound(err))
}
