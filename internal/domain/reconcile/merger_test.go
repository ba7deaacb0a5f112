package reconcile

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/turtacn/VigorCast/internal/domain/growth"
	"github.com/turtacn/VigorCast/internal/domain/scenario"
	"github.com/turtacn/VigorCast/internal/domain/sensitivity"
	"github.com/turtacn/VigorCast/internal/domain/table"
	"github.com/turtacn/VigorCast/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/VigorCast/pkg/errors"
)

func parameterFrame(t *testing.T) *table.Frame {
	t.Helper()
	cal := &growth.Calibration{Fits: []growth.RegionFit{
		{Region: "A", Params: growth.Params{R: 0.3, K: 0.8, B0: 0.3}, BaseYear: 2010, Observations: []growth.Observation{
			{Year: 2010, Vegetation: 0.3, Pollutant: 10},
			{Year: 2011, Vegetation: 0.35, Pollutant: 11},
			{Year: 2012, Vegetation: 0.4, Pollutant: 12},
		}},
		{Region: "B", Params: growth.Params{R: 0.2, K: 0.7, B0: 0.2}, BaseYear: 2011, Observations: []growth.Observation{
			{Year: 2011, Vegetation: 0.2, Pollutant: 20},
			{Year: 2012, Vegetation: 0.25, Pollutant: 21},
		}},
	}}
	return sensitivity.Broadcast(cal.Frame(), sensitivity.Law{R0: 0.5, Alpha: 0.03})
}

func scenarioFrame(t *testing.T) *table.Frame {
	t.Helper()
	g := scenario.NewGenerator(scenario.Config{HorizonYear: 2016, IncreaseRate: 0.01}, nil)
	tr, err := g.Generate([]scenario.Baseline{
		{Region: "A", LastYear: 2012, LastValue: 12},
		{Region: "B", LastYear: 2012, LastValue: 21},
		{Region: "Unfitted", LastYear: 2012, LastValue: 5},
	}, scenario.Increase)
	require.NoError(t, err)
	return tr.Frame()
}

func TestMerge_NoDuplicatesAndBoundedRows(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	m := NewMerger(logging.NewLoggerFromCore(core))

	sc := scenarioFrame(t)
	res, err := m.Merge(sc, parameterFrame(t))
	require.NoError(t, err)

	assert.LessOrEqual(t, res.Frame.Len(), sc.Len())
	assert.Equal(t, sc.Len(), res.Frame.Len(), "every scenario row survives the left join")
	// A joins three parameter rows per year and B two, over four years.
	assert.Equal(t, 4*2+4*1, res.DuplicatesRemoved)

	seen := map[string]bool{}
	for i := 0; i < res.Frame.Len(); i++ {
		region, _ := res.Frame.Text(i, KeyColumn)
		year, _ := res.Frame.Text(i, growth.ColYear)
		key := region + "/" + year
		assert.False(t, seen[key], "duplicate %s", key)
		seen[key] = true
	}

	for _, col := range ObservationColumns {
		if col == growth.ColYear {
			continue
		}
		assert.False(t, res.Frame.Has(col), col)
	}
	for _, col := range []string{growth.ColR, growth.ColK, growth.ColB0, growth.ColBaseYear, sensitivity.ColR0, sensitivity.ColAlpha} {
		assert.True(t, res.Frame.Has(col), col)
	}
	assert.Equal(t, 1, logs.FilterMessage("duplicate region-years removed").Len())
}

func TestMerge_UnfittedRegionsCarryMissingParameters(t *testing.T) {
	res, err := NewMerger(nil).Merge(scenarioFrame(t), parameterFrame(t))
	require.NoError(t, err)
	found := false
	for i := 0; i < res.Frame.Len(); i++ {
		region, _ := res.Frame.Text(i, KeyColumn)
		if region != "Unfitted" {
			continue
		}
		found = true
		c, err := res.Frame.Cell(i, growth.ColK)
		require.NoError(t, err)
		assert.Nil(t, c)
	}
	assert.True(t, found)
}

func TestMerge_DropsOverlappingParameterColumns(t *testing.T) {
	sc := table.MustNew(KeyColumn, growth.ColYear, scenario.ColConcentration, "Label")
	require.NoError(t, sc.Append("A", 2020, 1.0, "scenario"))
	params := table.MustNew(KeyColumn, growth.ColK, "Label")
	require.NoError(t, params.Append("A", 0.8, "params"))

	res, err := NewMerger(nil).Merge(sc, params)
	require.NoError(t, err)
	assert.Equal(t, []string{"Label"}, res.DroppedColumns)
	label, err := res.Frame.Text(0, "Label")
	require.NoError(t, err)
	assert.Equal(t, "scenario", label)
}

func TestMerge_RequiresKey(t *testing.T) {
	sc := table.MustNew(growth.ColYear)
	_, err := NewMerger(nil).Merge(sc, table.MustNew(KeyColumn))
	assert.True(t, errors.Is(err, table.ErrMissingColumn))
}
