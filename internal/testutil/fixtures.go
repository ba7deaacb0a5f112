package testutil

import (
	"math"

	"github.com/turtacn/VigorCast/internal/domain/growth"
	"github.com/turtacn/VigorCast/internal/domain/table"
)

// SyntheticRegion is a region whose vegetation follows an exact logistic curve
// under a constant pollutant level.
type SyntheticRegion struct {
	Name      string
	K, B0     float64
	Pollutant float64
}

// SyntheticLaw is the sensitivity law the synthetic regions obey.
type SyntheticLaw struct {
	R0, Alpha float64
}

// Rate is r0·e^(-alpha·p).
func (l SyntheticLaw) Rate(p float64) float64 { return l.R0 * math.Exp(-l.Alpha*p) }

// Params returns the region's true curve under law.
func (r SyntheticRegion) Params(law SyntheticLaw) growth.Params {
	return growth.Params{R: law.Rate(r.Pollutant), K: r.K, B0: r.B0}
}

// DefaultLaw and DefaultRegions are a three-region fixture whose growth
// rates span the sensitivity law.
var (
	DefaultLaw     = SyntheticLaw{R0: 0.5, Alpha: 0.03}
	DefaultRegions = []SyntheticRegion{
		{Name: "Alpha", K: 0.8, B0: 0.3, Pollutant: 10},
		{Name: "Beta", K: 0.7, B0: 0.25, Pollutant: 20},
		{Name: "Gamma", K: 0.9, B0: 0.2, Pollutant: 30},
	}
)

// ObservationFrame builds a Region, Year, Mean_NDVI, Mean_NO2 frame with
// years firstYear..firstYear+years-1 for every region.
func ObservationFrame(regions []SyntheticRegion, law SyntheticLaw, firstYear, years int) *table.Frame {
	f := table.MustNew("Region", "Year", "Mean_NDVI", "Mean_NO2")
	for _, r := range regions {
		p := r.Params(law)
		for i := 0; i < years; i++ {
			_ = f.Append(r.Name, firstYear+i, growth.Logistic(float64(i), p), r.Pollutant)
		}
	}
	return f
}

// NationalFrame builds a per-year Year, Mean_NDVI, Mean_NO2, Mean_SO2 table
// where vegetation is exactly intercept + w·pollutants.
func NationalFrame(intercept, wNO2, wSO2 float64) *table.Frame {
	f := table.MustNew("Year", "Mean_NDVI", "Mean_NO2", "Mean_SO2")
	no2 := []float64{20, 22, 19, 25, 27, 24, 30}
	so2 := []float64{5, 4, 6, 5.5, 3, 7, 4.5}
	for i := range no2 {
		_ = f.Append(2010+i, intercept+wNO2*no2[i]+wSO2*so2[i], no2[i], so2[i])
	}
	return f
}

// NationalGrowthFrame builds a per-year Year, Mean_NDVI, Mean_NO2, Mean_SO2
// table of ten years where vegetation follows the logistic curve p.
func NationalGrowthFrame(p growth.Params, firstYear int) *table.Frame {
	f := table.MustNew("Year", "Mean_NDVI", "Mean_NO2", "Mean_SO2")
	no2 := []float64{20, 22, 19, 25, 27, 24, 30, 26, 28, 23}
	so2 := []float64{5, 4, 6, 5.5, 3, 7, 4.5, 6.5, 3.5, 5}
	for i := range no2 {
		_ = f.Append(firstYear+i, growth.Logistic(float64(i), p), no2[i], so2[i])
	}
	return f
}
