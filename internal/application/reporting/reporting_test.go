package reporting

import (
	"bytes"
	"context"
	"image/png"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"github.com/turtacn/VigorCast/internal/application/pipeline"
	"github.com/turtacn/VigorCast/internal/config"
	"github.com/turtacn/VigorCast/internal/domain/growth"
	"github.com/turtacn/VigorCast/internal/testutil"
)

func runFixture(t *testing.T) *pipeline.Result {
	t.Helper()
	cfg := *config.Default()
	cfg.Scenario.Policies = []string{"constant", "decrease"}
	cfg.Scenario.HorizonYear = 2025
	res, err := pipeline.NewService(cfg, nil).Run(context.Background(), pipeline.Request{
		RunID:        "report",
		Observations: testutil.ObservationFrame(testutil.DefaultRegions, testutil.DefaultLaw, 2010, 10),
		Composite:    testutil.NationalGrowthFrame(growth.Params{R: 0.25, K: 0.85, B0: 0.3}, 2010),
	})
	require.NoError(t, err)
	return res
}

func TestWorkbookRenderer_Sheets(t *testing.T) {
	res := runFixture(t)
	out, err := NewWorkbookRenderer(nil).Render(res)
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, ArtifactWorkbook, out[0].Name)
	assert.Equal(t, ContentTypeXLSX, out[0].ContentType)

	f, err := excelize.OpenReader(bytes.NewReader(out[0].Data))
	require.NoError(t, err)
	defer f.Close()

	assert.Equal(t, []string{
		SheetParameters, SheetLaw, SheetWeights, SheetAnnual,
		"Projection_constant", "Projection_decrease", SheetComparison,
		SheetNational, "National_constant", "National_decrease",
	}, f.GetSheetList())

	national, err := f.GetRows("National_constant")
	require.NoError(t, err)
	assert.Len(t, national, 1+6)
	assert.Equal(t, "Global", national[1][0])

	rows, err := f.GetRows("Projection_decrease")
	require.NoError(t, err)
	assert.Equal(t, []string{"Region", "Year", "PredictedVegetationIndex", "PollutantConcentration", "GrowthRate"}, rows[0])
	assert.Len(t, rows, 1+3*6)

	law, err := f.GetRows(SheetLaw)
	require.NoError(t, err)
	assert.Equal(t, "r0_global", law[0][0])
	assert.Len(t, law, 2)
}

func TestProjectionSheet_Truncates(t *testing.T) {
	assert.Equal(t, "Projection_constant", ProjectionSheet("constant"))
	assert.Len(t, ProjectionSheet("a-very-long-policy-name-for-sheets"), maxSheetName)
	assert.Equal(t, "National_decrease", NationalSheet("decrease"))
	assert.Len(t, NationalSheet("a-very-long-policy-name-for-sheets"), maxSheetName)
}

func TestChartRenderer_DrawsOnePNGPerPolicy(t *testing.T) {
	res := runFixture(t)
	out, err := NewChartRenderer(nil).Render(res)
	require.NoError(t, err)
	require.Len(t, out, 2)
	assert.Equal(t, "projection_constant.png", out[0].Name)

	img, err := png.Decode(bytes.NewReader(out[1].Data))
	require.NoError(t, err)
	assert.Greater(t, img.Bounds().Dx(), 0)
	assert.Greater(t, img.Bounds().Dy(), 0)
}
