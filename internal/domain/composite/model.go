// Package composite fits a linear vegetation model on several pollutants and
// exposes the resulting weights as a composite pollution index.
package composite

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"

	"github.com/turtacn/VigorCast/internal/domain/growth"
	"github.com/turtacn/VigorCast/internal/domain/observation"
	"github.com/turtacn/VigorCast/internal/domain/table"
	"github.com/turtacn/VigorCast/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/VigorCast/pkg/errors"
)

var (
	ErrInsufficientRows  = errors.New(errors.ErrCodeInsufficientRows, "insufficient rows for composite regression")
	ErrSingularDesign    = errors.New(errors.ErrCodeSingularDesign, "composite design matrix is singular")
	ErrDimensionMismatch = errors.New(errors.ErrCodeDimensionMismatch, "pollutant vector dimension mismatch")
)

// maxCondition bounds the design matrix condition number.
const maxCondition = 1e12

// Column names of the exported tables.
const (
	ColPollutantName = "PollutantName"
	ColWeight        = "Weight"
	ColYear          = "Year"
	ColIndex         = "CompositeIndex"
	ColVegetation    = "MeanVegetation"
	ColRows          = "Rows"
)

// GlobalRegion labels rows of the national series.
const GlobalRegion = "Global"

// Row is one observation with its pollutant vector in Weights order.
type Row struct {
	Region     string
	Year       int
	Vegetation float64
	Values     []float64
}

func (r Row) complete() bool {
	if math.IsNaN(r.Vegetation) {
		return false
	}
	for _, v := range r.Values {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}

// Weights is the fitted linear model. The intercept is not a weight.
type Weights struct {
	Pollutants []string
	Values     []float64
	Intercept  float64
	Samples    int
	RSquared   float64
}

// Index is Σ valueᵢ·weightᵢ, without the intercept.
func (w *Weights) Index(values []float64) (float64, error) {
	if len(values) != len(w.Values) {
		return 0, ErrDimensionMismatch.WithDetailf("want %d values, got %d", len(w.Values), len(values))
	}
	return floats.Dot(values, w.Values), nil
}

// Predict is Intercept + Index(values).
func (w *Weights) Predict(values []float64) (float64, error) {
	idx, err := w.Index(values)
	if err != nil {
		return 0, err
	}
	return w.Intercept + idx, nil
}

// Frame renders one (PollutantName, Weight) row per pollutant.
func (w *Weights) Frame() *table.Frame {
	f := table.MustNew(ColPollutantName, ColWeight)
	for i, p := range w.Pollutants {
		_ = f.Append(p, w.Values[i])
	}
	return f
}

// Model fits Weights by ordinary least squares with an intercept.
type Model struct {
	logger logging.Logger
}

// NewModel returns a Model. A nil logger discards output.
func NewModel(logger logging.Logger) *Model {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	return &Model{logger: logger.Named("composite")}
}

// Fit regresses vegetation on the pollutant vectors of the complete rows.
// At least len(pollutants)+2 complete rows are required.
func (m *Model) Fit(pollutants []string, rows []Row) (*Weights, error) {
	n := len(pollutants)
	var used []Row
	for _, r := range rows {
		if len(r.Values) != n {
			return nil, ErrDimensionMismatch.WithDetailf("region=%s year=%d has %d values for %d pollutants", r.Region, r.Year, len(r.Values), n)
		}
		if r.complete() {
			used = append(used, r)
		}
	}
	if n == 0 || len(used) < n+2 {
		return nil, ErrInsufficientRows.WithDetailf("found=%d required=%d", len(used), n+2)
	}

	x := mat.NewDense(len(used), n+1, nil)
	y := mat.NewVecDense(len(used), nil)
	for i, r := range used {
		x.Set(i, 0, 1)
		for j, v := range r.Values {
			x.Set(i, j+1, v)
		}
		y.SetVec(i, r.Vegetation)
	}

	if c := mat.Cond(x, 2); math.IsInf(c, 1) || math.IsNaN(c) || c > maxCondition {
		return nil, ErrSingularDesign.WithDetailf("condition number %.3g", c)
	}
	var beta mat.VecDense
	if err := beta.SolveVec(x, y); err != nil {
		return nil, ErrSingularDesign.WithCause(err)
	}

	w := &Weights{
		Pollutants: append([]string(nil), pollutants...),
		Values:     make([]float64, n),
		Intercept:  beta.AtVec(0),
		Samples:    len(used),
	}
	for j := range w.Values {
		w.Values[j] = beta.AtVec(j + 1)
	}

	obs := make([]float64, len(used))
	var ssRes float64
	for i, r := range used {
		pred, _ := w.Predict(r.Values)
		obs[i] = r.Vegetation
		ssRes += (r.Vegetation - pred) * (r.Vegetation - pred)
	}
	mean := stat.Mean(obs, nil)
	var ssTot float64
	for _, v := range obs {
		ssTot += (v - mean) * (v - mean)
	}
	if ssTot > 0 {
		w.RSquared = 1 - ssRes/ssTot
	}

	m.logger.Info("composite weights fitted",
		logging.Strings("pollutants", w.Pollutants),
		logging.Float64("intercept", w.Intercept),
		logging.Int("rows", w.Samples),
		logging.Float64("r_squared", w.RSquared))
	return w, nil
}

// YearIndex is the mean composite index and mean vegetation of one year.
type YearIndex struct {
	Year       int
	Index      float64
	Vegetation float64
	Rows       int
}

// Annual averages the composite index and vegetation of the complete rows
// per year.
func Annual(w *Weights, rows []Row) ([]YearIndex, error) {
	sums := map[int]float64{}
	veg := map[int]float64{}
	counts := map[int]int{}
	for _, r := range rows {
		if !r.complete() {
			continue
		}
		idx, err := w.Index(r.Values)
		if err != nil {
			return nil, err
		}
		sums[r.Year] += idx
		veg[r.Year] += r.Vegetation
		counts[r.Year]++
	}
	years := make([]int, 0, len(sums))
	for y := range sums {
		years = append(years, y)
	}
	sort.Ints(years)
	out := make([]YearIndex, len(years))
	for i, y := range years {
		n := float64(counts[y])
		out[i] = YearIndex{Year: y, Index: sums[y] / n, Vegetation: veg[y] / n, Rows: counts[y]}
	}
	return out, nil
}

// AnnualFrame renders Annual's output.
func AnnualFrame(years []YearIndex) *table.Frame {
	f := table.MustNew(ColYear, ColIndex, ColVegetation, ColRows)
	for _, y := range years {
		_ = f.Append(y.Year, y.Index, y.Vegetation, y.Rows)
	}
	return f
}

// NationalSeries turns the annual means into one growth series for
// GlobalRegion, with the composite index as the driving pollutant.
func NationalSeries(years []YearIndex) growth.Series {
	s := growth.Series{Region: GlobalRegion}
	for _, y := range years {
		s.Years = append(s.Years, y.Year)
		s.Vegetation = append(s.Vegetation, y.Vegetation)
		s.Pollutant = append(s.Pollutant, y.Index)
	}
	return s
}

// RowsFromObservations builds rows from an observation table.
func RowsFromObservations(tbl *observation.Table, pollutants []string) ([]Row, error) {
	for _, p := range pollutants {
		if !tbl.HasPollutant(p) {
			return nil, table.ErrMissingColumn.WithDetailf("column=%s", p)
		}
	}
	rows := make([]Row, len(tbl.Records))
	for i, rec := range tbl.Records {
		vals := make([]float64, len(pollutants))
		for j, p := range pollutants {
			vals[j] = rec.Pollutant(p)
		}
		rows[i] = Row{Region: rec.Region, Year: rec.Year, Vegetation: rec.Vegetation, Values: vals}
	}
	return rows, nil
}

// RowsFromFrame builds rows from an aggregated table such as the national
// per-year export. regionCol may be empty.
func RowsFromFrame(f *table.Frame, regionCol, yearCol, vegetationCol string, pollutants []string) ([]Row, error) {
	required := append([]string{yearCol, vegetationCol}, pollutants...)
	if regionCol != "" {
		required = append(required, regionCol)
	}
	if err := f.Require(required...); err != nil {
		return nil, err
	}
	rows := make([]Row, f.Len())
	for i := range rows {
		year, err := f.Int(i, yearCol)
		if err != nil {
			return nil, err
		}
		veg, err := f.Float(i, vegetationCol)
		if err != nil {
			return nil, err
		}
		vals := make([]float64, len(pollutants))
		for j, p := range pollutants {
			if vals[j], err = f.Float(i, p); err != nil {
				return nil, err
			}
		}
		region := ""
		if regionCol != "" {
			region, _ = f.Text(i, regionCol)
		}
		rows[i] = Row{Region: region, Year: year, Vegetation: veg, Values: vals}
	}
	return rows, nil
}
