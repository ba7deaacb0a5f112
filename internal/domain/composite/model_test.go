package composite

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/turtacn/VigorCast/internal/domain/observation"
	"github.com/turtacn/VigorCast/internal/domain/table"
	"github.com/turtacn/VigorCast/pkg/errors"
)

var pollutants = []string{"NO2", "SO2", "CO"}

func linearRows() []Row {
	const intercept = 0.9
	w := []float64{-0.01, -0.02, -0.005}
	no2 := []float64{10, 12, 15, 11, 18, 20, 9, 14}
	so2 := []float64{2, 1, 3, 5, 2, 4, 6, 1}
	co := []float64{30, 35, 28, 40, 33, 31, 45, 38}
	rows := make([]Row, len(no2))
	for i := range rows {
		v := []float64{no2[i], so2[i], co[i]}
		rows[i] = Row{Year: 2010 + i%4, Vegetation: intercept + v[0]*w[0] + v[1]*w[1] + v[2]*w[2], Values: v}
	}
	return rows
}

func TestFit_RecoversLinearModel(t *testing.T) {
	w, err := NewModel(nil).Fit(pollutants, linearRows())
	require.NoError(t, err)

	assert.InDelta(t, 0.9, w.Intercept, 1e-9)
	assert.InDelta(t, -0.01, w.Values[0], 1e-9)
	assert.InDelta(t, -0.02, w.Values[1], 1e-9)
	assert.InDelta(t, -0.005, w.Values[2], 1e-9)
	assert.Equal(t, 8, w.Samples)
	assert.InDelta(t, 1.0, w.RSquared, 1e-9)
	assert.Equal(t, pollutants, w.Pollutants)
}

func TestPredictMinusIndexIsIntercept(t *testing.T) {
	rows := linearRows()
	w, err := NewModel(nil).Fit(pollutants, rows)
	require.NoError(t, err)

	for _, r := range rows {
		pred, err := w.Predict(r.Values)
		require.NoError(t, err)
		idx, err := w.Index(r.Values)
		require.NoError(t, err)
		assert.InDelta(t, w.Intercept, pred-idx, 1e-12)
	}
}

func TestFit_SkipsIncompleteRowsAndCountsRequirement(t *testing.T) {
	rows := linearRows()[:5]
	rows[0].Values[1] = math.NaN()
	_, err := NewModel(nil).Fit(pollutants, rows)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrInsufficientRows))
	assert.Contains(t, err.Error(), "found=4 required=5")
}

func TestFit_SingularDesign(t *testing.T) {
	rows := linearRows()
	for i := range rows {
		rows[i].Values[2] = rows[i].Values[0]
	}
	_, err := NewModel(nil).Fit(pollutants, rows)
	assert.True(t, errors.Is(err, ErrSingularDesign))
}

func TestFit_DimensionMismatch(t *testing.T) {
	_, err := NewModel(nil).Fit(pollutants, []Row{{Values: []float64{1}}})
	assert.True(t, errors.Is(err, ErrDimensionMismatch))

	w := &Weights{Values: []float64{1, 2}}
	_, err = w.Index([]float64{1})
	assert.True(t, errors.Is(err, ErrDimensionMismatch))
}

func TestAnnual(t *testing.T) {
	w := &Weights{Pollutants: []string{"a", "b"}, Values: []float64{1, 2}, Intercept: 5}
	rows := []Row{
		{Year: 2011, Vegetation: 0.4, Values: []float64{1, 1}},
		{Year: 2010, Vegetation: 0.1, Values: []float64{1, 0}},
		{Year: 2010, Vegetation: 0.3, Values: []float64{3, 0}},
		{Year: 2010, Vegetation: math.NaN(), Values: []float64{100, 100}},
	}
	years, err := Annual(w, rows)
	require.NoError(t, err)
	require.Len(t, years, 2)
	assert.Equal(t, 2010, years[0].Year)
	assert.Equal(t, 2.0, years[0].Index)
	assert.InDelta(t, 0.2, years[0].Vegetation, 1e-12)
	assert.Equal(t, 2, years[0].Rows)
	assert.Equal(t, YearIndex{Year: 2011, Index: 3, Vegetation: 0.4, Rows: 1}, years[1])

	f := AnnualFrame(years)
	assert.Equal(t, []string{"Year", "CompositeIndex", "MeanVegetation", "Rows"}, f.Columns())
}

func TestNationalSeries(t *testing.T) {
	s := NationalSeries([]YearIndex{
		{Year: 2010, Index: 2, Vegetation: 0.2, Rows: 2},
		{Year: 2011, Index: 3, Vegetation: 0.4, Rows: 1},
	})
	assert.Equal(t, GlobalRegion, s.Region)
	assert.Equal(t, []int{2010, 2011}, s.Years)
	assert.Equal(t, []float64{0.2, 0.4}, s.Vegetation)
	assert.Equal(t, []float64{2, 3}, s.Pollutant)
}

func TestWeights_Frame(t *testing.T) {
	w := &Weights{Pollutants: []string{"NO2", "SO2"}, Values: []float64{-0.1, 0.2}, Intercept: 3}
	data, err := table.Encode(w.Frame())
	require.NoError(t, err)
	assert.Equal(t, "PollutantName,Weight\nNO2,-0.1\nSO2,0.2\n", string(data))
}

func TestRowsFromFrame(t *testing.T) {
	f, err := table.Parse([]byte("Year,Mean_NDVI,NO2,SO2\n2010,0.5,10,2\n2011,0.48,12,NA\n"))
	require.NoError(t, err)
	rows, err := RowsFromFrame(f, "", "Year", "Mean_NDVI", []string{"NO2", "SO2"})
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, 2011, rows[1].Year)
	assert.True(t, math.IsNaN(rows[1].Values[1]))

	_, err = RowsFromFrame(f, "", "Year", "Mean_NDVI", []string{"CO"})
	assert.True(t, errors.Is(err, table.ErrMissingColumn))
}

func TestRowsFromObservations(t *testing.T) {
	tbl, err := observation.New([]string{"NO2", "SO2"}, []observation.Record{
		{Region: "A", Year: 2010, Vegetation: 0.4, Pollutants: map[string]float64{"NO2": 1, "SO2": 2}},
	})
	require.NoError(t, err)
	rows, err := RowsFromObservations(tbl, []string{"SO2", "NO2"})
	require.NoError(t, err)
	assert.Equal(t, []float64{2, 1}, rows[0].Values)

	_, err = RowsFromObservations(tbl, []string{"CO"})
	assert.Error(t, err)
}
