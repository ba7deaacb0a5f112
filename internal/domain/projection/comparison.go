package projection

import (
	"fmt"
	"sort"

	"github.com/turtacn/VigorCast/internal/domain/table"
	"github.com/turtacn/VigorCast/pkg/errors"
)

// ErrNoCommonYears is returned when the projections share no (Region, Year).
var ErrNoCommonYears = errors.New(errors.ErrCodeNoCommonYears, "projections share no region-years")

// ConcentrationColumn and PredictionColumn name a policy's columns in the
// comparison table.
func ConcentrationColumn(p *Projection) string { return fmt.Sprintf("%s_%s", ColConcentration, p.Policy) }

func PredictionColumn(p *Projection) string { return fmt.Sprintf("%s_%s", ColPredicted, p.Policy) }

type regionYear struct {
	region string
	year   int
}

// Compare aligns projections on the (Region, Year) pairs present in all of
// them, one concentration and one prediction column per policy.
func Compare(projections ...*Projection) (*table.Frame, error) {
	if len(projections) == 0 {
		return nil, ErrNoCommonYears.WithDetail("no projections")
	}

	indexed := make([]map[regionYear]Record, len(projections))
	for i, p := range projections {
		m := make(map[regionYear]Record, len(p.Records))
		for _, r := range p.Records {
			m[regionYear{r.Region, r.Year}] = r
		}
		indexed[i] = m
	}

	var keys []regionYear
	for k := range indexed[0] {
		shared := true
		for _, m := range indexed[1:] {
			if _, ok := m[k]; !ok {
				shared = false
				break
			}
		}
		if shared {
			keys = append(keys, k)
		}
	}
	if len(keys) == 0 {
		return nil, ErrNoCommonYears.WithDetailf("projections=%d", len(projections))
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].region != keys[j].region {
			return keys[i].region < keys[j].region
		}
		return keys[i].year < keys[j].year
	})

	columns := []string{ColRegion, ColYear}
	for _, p := range projections {
		columns = append(columns, ConcentrationColumn(p), PredictionColumn(p))
	}
	out, err := table.New(columns...)
	if err != nil {
		return nil, err
	}
	for _, k := range keys {
		row := []interface{}{k.region, k.year}
		for _, m := range indexed {
			r := m[k]
			row = append(row, r.Concentration, r.Predicted)
		}
		if err := out.Append(row...); err != nil {
			return nil, err
		}
	}
	return out, nil
}
