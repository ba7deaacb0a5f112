package growth

import (
	"context"
	"math"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/turtacn/VigorCast/internal/domain/observation"
	"github.com/turtacn/VigorCast/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/VigorCast/pkg/errors"
)

func regionSeries(region string, firstYear int, p Params, n int, pollutant float64) Series {
	s := Series{Region: region}
	for i := 0; i < n; i++ {
		s.Years = append(s.Years, firstYear+i)
		s.Vegetation = append(s.Vegetation, Logistic(float64(i), p))
		s.Pollutant = append(s.Pollutant, pollutant)
	}
	return s
}

type memoryCache struct {
	mu   sync.Mutex
	data map[string]Params
	gets int
}

func (m *memoryCache) Get(_ context.Context, key string) (Params, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.gets++
	p, ok := m.data[key]
	return p, ok, nil
}

func (m *memoryCache) Put(_ context.Context, key string, p Params) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = p
	return nil
}

func TestCalibrate_FitsAndSkips(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	c := NewCalibrator(DefaultConfig(), logging.NewLoggerFromCore(core))

	series := []Series{
		regionSeries("North", 2010, Params{R: 0.3, K: 0.8, B0: 0.3}, 10, 12),
		regionSeries("Alpha", 2012, Params{R: 0.2, K: 0.7, B0: 0.35}, 8, 20),
		regionSeries("Short", 2010, Params{R: 0.2, K: 0.7, B0: 0.35}, 3, 5),
	}
	out, err := c.Calibrate(context.Background(), series)
	require.NoError(t, err)

	require.Len(t, out.Fits, 2)
	assert.Equal(t, "Alpha", out.Fits[0].Region, "fits are ordered by region")
	assert.Equal(t, "North", out.Fits[1].Region)
	assert.Equal(t, 2012, out.Fits[0].BaseYear)
	assert.InEpsilon(t, 0.3, out.Fits[1].Params.R, 0.05)

	require.Len(t, out.Skipped, 1)
	assert.Equal(t, "Short", out.Skipped[0].Region)
	assert.True(t, errors.Is(out.Skipped[0].Err, ErrInsufficientData))
	assert.Equal(t, 1, logs.FilterMessage("region skipped").Len())
}

func TestCalibrate_DropsMissingVegetation(t *testing.T) {
	s := regionSeries("A", 2010, Params{R: 0.3, K: 0.8, B0: 0.3}, 5, 10)
	s.Vegetation[1] = math.NaN()
	s.Vegetation[3] = math.NaN()

	c := NewCalibrator(DefaultConfig(), nil)
	out, err := c.Calibrate(context.Background(), []Series{s})
	require.NoError(t, err)
	assert.Empty(t, out.Fits)
	require.Len(t, out.Skipped, 1)
	assert.Contains(t, out.Skipped[0].Err.Error(), "found=3")
}

func TestFitSeries_BaseYearSkipsMissingLeadingRow(t *testing.T) {
	truth := Params{R: 0.3, K: 0.8, B0: 0.3}
	s := regionSeries("A", 2001, truth, 10, 10)
	s.Years = append([]int{2000}, s.Years...)
	s.Vegetation = append([]float64{math.NaN()}, s.Vegetation...)
	s.Pollutant = append([]float64{10}, s.Pollutant...)

	fit, err := NewCalibrator(DefaultConfig(), nil).FitSeries(context.Background(), s)
	require.NoError(t, err)
	assert.Equal(t, 2001, fit.BaseYear)
	assert.Len(t, fit.Observations, 10)
	assert.InEpsilon(t, truth.B0, fit.Params.B0, 0.05)
	assert.InEpsilon(t, truth.R, fit.Params.R, 0.05)
}

func TestFitSeries_DropsMissingPollutant(t *testing.T) {
	s := regionSeries("A", 2010, Params{R: 0.3, K: 0.8, B0: 0.3}, 8, 10)
	s.Pollutant[0] = math.NaN()
	s.Pollutant[4] = math.Inf(1)

	fit, err := NewCalibrator(DefaultConfig(), nil).FitSeries(context.Background(), s)
	require.NoError(t, err)
	assert.Equal(t, 2011, fit.BaseYear)
	require.Len(t, fit.Observations, 6)
	for _, o := range fit.Observations {
		assert.False(t, math.IsNaN(o.Pollutant), "year %d", o.Year)
		assert.NotEqual(t, 2014, o.Year)
	}
}

func TestCalibrate_ParallelMatchesSequential(t *testing.T) {
	var series []Series
	for i, name := range []string{"E", "D", "C", "B", "A"} {
		series = append(series, regionSeries(name, 2010, Params{R: 0.15 + 0.05*float64(i), K: 0.8, B0: 0.3}, 10, float64(i)))
	}

	seq, err := NewCalibrator(DefaultConfig(), nil).Calibrate(context.Background(), series)
	require.NoError(t, err)

	cfg := DefaultConfig()
	cfg.Workers = 4
	par, err := NewCalibrator(cfg, nil).Calibrate(context.Background(), series)
	require.NoError(t, err)

	require.Len(t, par.Fits, len(seq.Fits))
	for i := range seq.Fits {
		assert.Equal(t, seq.Fits[i].Region, par.Fits[i].Region)
		assert.Equal(t, seq.Fits[i].Params, par.Fits[i].Params)
	}
}

func TestCalibrate_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := NewCalibrator(DefaultConfig(), nil).Calibrate(ctx, []Series{
		regionSeries("A", 2010, Params{R: 0.3, K: 0.8, B0: 0.3}, 10, 1),
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.Canceled))
}

func TestCalibrate_UsesCache(t *testing.T) {
	cache := &memoryCache{data: map[string]Params{}}
	c := NewCalibrator(DefaultConfig(), nil, WithCache(cache))
	s := regionSeries("A", 2010, Params{R: 0.3, K: 0.8, B0: 0.3}, 10, 1)

	first, err := c.FitSeries(context.Background(), s)
	require.NoError(t, err)
	assert.False(t, first.Cached)
	assert.Len(t, cache.data, 1)

	second, err := c.FitSeries(context.Background(), s)
	require.NoError(t, err)
	assert.True(t, second.Cached)
	assert.Equal(t, first.Params, second.Params)
	assert.Equal(t, 2, cache.gets)
}

func TestCacheKey_SensitiveToDataAndOptions(t *testing.T) {
	ts := []float64{0, 1, 2, 3}
	bs := []float64{0.1, 0.2, 0.3, 0.4}
	base := CacheKey(ts, bs, DefaultSolverOptions())
	assert.Equal(t, base, CacheKey(ts, bs, DefaultSolverOptions()))

	opts := DefaultSolverOptions()
	opts.MaxEvaluations = 100
	assert.NotEqual(t, base, CacheKey(ts, bs, opts))
	assert.NotEqual(t, base, CacheKey(ts, []float64{0.1, 0.2, 0.3, 0.41}, DefaultSolverOptions()))
}

func TestCalibration_Frame(t *testing.T) {
	c := NewCalibrator(DefaultConfig(), nil)
	out, err := c.Calibrate(context.Background(), []Series{
		regionSeries("A", 2010, Params{R: 0.3, K: 0.8, B0: 0.3}, 6, 9),
	})
	require.NoError(t, err)

	f := out.Frame()
	assert.Equal(t, []string{"Region", "Year", "VegetationIndex", "PollutantValue", "r", "K", "B0", "BaseYear"}, f.Columns())
	assert.Equal(t, 6, f.Len())
	y, _ := f.Int(5, ColYear)
	assert.Equal(t, 2015, y)
	p, _ := f.Float(0, ColPollutant)
	assert.Equal(t, 9.0, p)

	fit, ok := out.Fit("A")
	require.True(t, ok)
	assert.Equal(t, 2015, fit.LastObservation().Year)
	_, ok = out.Fit("Z")
	assert.False(t, ok)
}

func TestSeriesFromTable(t *testing.T) {
	tbl, err := observation.New([]string{"NO2"}, []observation.Record{
		{Region: "B", Year: 2011, Vegetation: 0.5, Pollutants: map[string]float64{"NO2": 2}},
		{Region: "A", Year: 2010, Vegetation: 0.4, Pollutants: map[string]float64{"NO2": 1}},
		{Region: "B", Year: 2010, Vegetation: 0.45, Pollutants: map[string]float64{"NO2": 3}},
	})
	require.NoError(t, err)

	series, err := SeriesFromTable(tbl, "NO2")
	require.NoError(t, err)
	require.Len(t, series, 2)
	assert.Equal(t, "B", series[1].Region)
	assert.Equal(t, []int{2010, 2011}, series[1].Years)
	assert.Equal(t, []float64{3, 2}, series[1].Pollutant)

	_, err = SeriesFromTable(tbl, "SO2")
	assert.True(t, errors.IsCode(err, errors.ErrCodeMissingColumn))
}
