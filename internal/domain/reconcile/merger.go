// Package reconcile joins scenario trajectories with the calibrated
// per-region parameters ahead of projection.
package reconcile

import (
	"github.com/turtacn/VigorCast/internal/domain/growth"
	"github.com/turtacn/VigorCast/internal/domain/table"
	"github.com/turtacn/VigorCast/internal/infrastructure/monitoring/logging"
)

// KeyColumn is the join key.
const KeyColumn = "Region"

// ObservationColumns are dropped from the parameter side before the join.
var ObservationColumns = []string{growth.ColYear, growth.ColVegetation, growth.ColPollutant}

// Result is a merged table plus what the merge discarded.
type Result struct {
	Frame             *table.Frame
	DroppedColumns    []string
	DuplicatesRemoved int
}

// Merger joins trajectory and parameter tables.
type Merger struct {
	logger logging.Logger
}

// NewMerger returns a Merger. A nil logger discards output.
func NewMerger(logger logging.Logger) *Merger {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	return &Merger{logger: logger.Named("reconcile")}
}

// Merge left-joins params onto scenario by Region and keeps the first row of
// every (Region, Year). The result never has more rows than scenario.
func (m *Merger) Merge(scenario, params *table.Frame) (*Result, error) {
	if err := scenario.Require(KeyColumn, growth.ColYear); err != nil {
		return nil, err
	}
	if err := params.Require(KeyColumn); err != nil {
		return nil, err
	}

	right := params.Drop(ObservationColumns...)
	overlap := scenario.Overlap(right, KeyColumn)
	right = right.Drop(overlap...)

	joined, err := scenario.LeftJoin(right, KeyColumn)
	if err != nil {
		return nil, err
	}
	deduped, removed, err := joined.DropDuplicates(KeyColumn, growth.ColYear)
	if err != nil {
		return nil, err
	}

	if len(overlap) > 0 {
		m.logger.Debug("overlapping columns dropped from parameters", logging.Strings("columns", overlap))
	}
	if removed > 0 {
		m.logger.Info("duplicate region-years removed", logging.Int("removed", removed))
	}
	m.logger.Info("merge finished",
		logging.Int("scenario_rows", scenario.Len()),
		logging.Int("merged_rows", deduped.Len()))

	return &Result{Frame: deduped, DroppedColumns: overlap, DuplicatesRemoved: removed}, nil
}
