package sensitivity

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/turtacn/VigorCast/internal/domain/growth"
	"github.com/turtacn/VigorCast/internal/domain/table"
	"github.com/turtacn/VigorCast/pkg/errors"
)

func TestEstimate_RecoversExactLaw(t *testing.T) {
	const r0, alpha = 0.45, 0.035
	var samples []Sample
	for i, p := range []float64{5, 12, 18, 25, 33, 40} {
		samples = append(samples, Sample{Region: string(rune('A' + i)), R: r0 * math.Exp(-alpha*p), P: p})
	}

	law, err := NewEstimator(3, nil).Estimate(samples)
	require.NoError(t, err)
	assert.InEpsilon(t, r0, law.R0, 0.01)
	assert.InEpsilon(t, alpha, law.Alpha, 0.01)
	assert.Equal(t, 6, law.Samples)
	assert.InDelta(t, 1.0, law.RSquared, 1e-9)
	assert.InDelta(t, r0*math.Exp(-alpha*10), law.Rate(10), 1e-9)
}

func TestEstimate_FiltersInvalidSamples(t *testing.T) {
	samples := []Sample{
		{R: 0.3, P: 1},
		{R: 0.2, P: 2},
		{R: 0, P: 3},
		{R: -0.1, P: 4},
		{R: 0.1, P: math.NaN()},
	}
	_, err := NewEstimator(3, nil).Estimate(samples)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrInsufficientSamples))
	assert.Contains(t, err.Error(), "found=2 required=3")
}

func TestEstimate_Degenerate(t *testing.T) {
	samples := []Sample{{R: 0.3, P: 5}, {R: 0.2, P: 5}, {R: 0.25, P: 5}}
	_, err := NewEstimator(3, nil).Estimate(samples)
	assert.True(t, errors.Is(err, ErrDegenerate))
}

func fixtureFits() []growth.RegionFit {
	return []growth.RegionFit{
		{Region: "A", Params: growth.Params{R: 0.3, K: 0.8, B0: 0.3}, Observations: []growth.Observation{
			{Year: 2010, Vegetation: 0.3, Pollutant: 10},
			{Year: 2011, Vegetation: 0.35, Pollutant: 12},
		}},
		{Region: "B", Params: growth.Params{R: 0.2, K: 0.7, B0: 0.2}, Observations: []growth.Observation{
			{Year: 2010, Vegetation: 0.2, Pollutant: math.NaN()},
			{Year: 2011, Vegetation: 0.25, Pollutant: 20},
		}},
	}
}

func TestSamples_Aggregation(t *testing.T) {
	rows := Samples(fixtureFits(), PerRow)
	require.Len(t, rows, 4)
	assert.Equal(t, 0.3, rows[0].R)
	assert.Equal(t, 12.0, rows[1].P)

	means := Samples(fixtureFits(), RegionMean)
	require.Len(t, means, 2)
	assert.Equal(t, 11.0, means[0].P)
	assert.Equal(t, 20.0, means[1].P)
	assert.Equal(t, []string{"A", "B"}, Regions(rows))
}

func TestBroadcast(t *testing.T) {
	cal := &growth.Calibration{Fits: fixtureFits()}
	out := Broadcast(cal.Frame(), Law{R0: 0.5, Alpha: 0.02})

	require.NoError(t, out.Require(growth.ColR, ColR0, ColAlpha))
	assert.Equal(t, 4, out.Len())
	for i := 0; i < out.Len(); i++ {
		r0, _ := out.Float(i, ColR0)
		a, _ := out.Float(i, ColAlpha)
		assert.Equal(t, 0.5, r0)
		assert.Equal(t, 0.02, a)
	}
}

func TestLaw_Frame(t *testing.T) {
	f := Law{R0: 0.5, Alpha: 0.02, Samples: 9, RSquared: 0.8}.Frame()
	assert.Equal(t, 1, f.Len())
	data, err := table.Encode(f)
	require.NoError(t, err)
	assert.Equal(t, "r0_global,alpha_global,samples,r_squared\n0.5,0.02,9,0.8\n", string(data))
}

func TestLaw_AnchoredAt(t *testing.T) {
	law := Law{R0: 0.5, Alpha: 0.02, Samples: 9}
	anchored := law.AnchoredAt(0.3, 12)
	assert.Equal(t, law.Alpha, anchored.Alpha)
	assert.Equal(t, 9, anchored.Samples)
	assert.InEpsilon(t, 0.3, anchored.Rate(12), 1e-12)
	assert.InEpsilon(t, 0.3*math.Exp(-0.02*3), anchored.Rate(15), 1e-12)
}
