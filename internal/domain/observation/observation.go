// Package observation turns an ingested Frame into the validated regional
// time series every pipeline stage starts from.
package observation

import (
	"math"
	"sort"

	"github.com/turtacn/VigorCast/internal/domain/table"
	"github.com/turtacn/VigorCast/pkg/errors"
)

// ErrDuplicateKey is returned when two rows share (Region, Year).
var ErrDuplicateKey = errors.New(errors.ErrCodeDuplicateKey, "duplicate key")

// Record is one (Region, Year) observation. Missing values are NaN.
type Record struct {
	Region     string
	Year       int
	Vegetation float64
	Pollutants map[string]float64
}

// Pollutant returns the named concentration, NaN when absent.
func (r Record) Pollutant(name string) float64 {
	if v, ok := r.Pollutants[name]; ok {
		return v
	}
	return math.NaN()
}

// Table is a set of records sorted by (Region, Year) with unique keys.
type Table struct {
	Pollutants []string
	Records    []Record
}

// Schema names the columns the builder reads.
type Schema struct {
	Region     string
	Year       string
	Vegetation string
	// Pollutants lists the pollutant columns. Empty means every numeric
	// column other than the three above.
	Pollutants []string
	// ExcludeYears drops whole years before any stage sees them.
	ExcludeYears []int
}

// DefaultSchema matches the column names produced by the zonal statistics
// export.
func DefaultSchema() Schema {
	return Schema{Region: "Region", Year: "Year", Vegetation: "Mean_NDVI"}
}

// FromFrame validates f against s and returns the sorted observation table.
func FromFrame(f *table.Frame, s Schema) (*Table, error) {
	if err := f.Require(s.Region, s.Year, s.Vegetation); err != nil {
		return nil, err
	}
	pollutants := s.Pollutants
	if len(pollutants) == 0 {
		pollutants = f.NumericColumns(s.Region, s.Year, s.Vegetation)
	}
	if err := f.Require(pollutants...); err != nil {
		return nil, err
	}

	excluded := make(map[int]bool, len(s.ExcludeYears))
	for _, y := range s.ExcludeYears {
		excluded[y] = true
	}

	t := &Table{Pollutants: append([]string(nil), pollutants...)}
	for i := 0; i < f.Len(); i++ {
		region, err := f.Text(i, s.Region)
		if err != nil {
			return nil, err
		}
		if region == "" {
			continue
		}
		year, err := f.Int(i, s.Year)
		if err != nil {
			return nil, err
		}
		if excluded[year] {
			continue
		}
		veg, err := f.Float(i, s.Vegetation)
		if err != nil {
			return nil, err
		}
		rec := Record{Region: region, Year: year, Vegetation: veg, Pollutants: make(map[string]float64, len(pollutants))}
		for _, p := range pollutants {
			v, err := f.Float(i, p)
			if err != nil {
				return nil, err
			}
			rec.Pollutants[p] = v
		}
		t.Records = append(t.Records, rec)
	}
	return New(t.Pollutants, t.Records)
}

// New sorts records by (Region, Year) and rejects duplicate keys.
func New(pollutants []string, records []Record) (*Table, error) {
	recs := append([]Record(nil), records...)
	sort.SliceStable(recs, func(i, j int) bool {
		if recs[i].Region != recs[j].Region {
			return recs[i].Region < recs[j].Region
		}
		return recs[i].Year < recs[j].Year
	})
	for i := 1; i < len(recs); i++ {
		if recs[i].Region == recs[i-1].Region && recs[i].Year == recs[i-1].Year {
			return nil, ErrDuplicateKey.WithDetailf("region=%s year=%d", recs[i].Region, recs[i].Year)
		}
	}
	return &Table{Pollutants: append([]string(nil), pollutants...), Records: recs}, nil
}

// Regions returns the distinct regions in sorted order.
func (t *Table) Regions() []string {
	var out []string
	for i, r := range t.Records {
		if i == 0 || r.Region != t.Records[i-1].Region {
			out = append(out, r.Region)
		}
	}
	return out
}

// ByRegion groups records per region, preserving year order.
func (t *Table) ByRegion() map[string][]Record {
	out := make(map[string][]Record)
	for _, r := range t.Records {
		out[r.Region] = append(out[r.Region], r)
	}
	return out
}

// HasPollutant reports whether name is one of the table's pollutant columns.
func (t *Table) HasPollutant(name string) bool {
	for _, p := range t.Pollutants {
		if p == name {
			return true
		}
	}
	return false
}

// Frame renders the table with columns Region, Year, VegetationIndex and one
// column per pollutant.
func (t *Table) Frame() *table.Frame {
	f := table.MustNew(append([]string{"Region", "Year", "VegetationIndex"}, t.Pollutants...)...)
	for _, r := range t.Records {
		cells := make([]interface{}, 0, 3+len(t.Pollutants))
		cells = append(cells, r.Region, r.Year, r.Vegetation)
		for _, p := range t.Pollutants {
			cells = append(cells, r.Pollutant(p))
		}
		_ = f.Append(cells...)
	}
	return f
}
