// Package run models a persisted pipeline execution: the request, its
// outcome and the headline numbers each stage produced.
package run

import (
	"time"

	"github.com/google/uuid"

	"github.com/turtacn/VigorCast/pkg/errors"
)

var ErrRunNotFound = errors.New(errors.ErrCodeRunNotFound, "run not found")

// Status is the lifecycle state of a run.
type Status string

const (
	StatusRunning   Status = "running"
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
)

// Terminal reports whether no further transitions are expected.
func (s Status) Terminal() bool {
	return s == StatusSucceeded || s == StatusFailed
}

// RegionParams is one calibrated region.
type RegionParams struct {
	Region   string  `json:"region"`
	R        float64 `json:"r"`
	K        float64 `json:"k"`
	B0       float64 `json:"b0"`
	BaseYear int     `json:"base_year"`
	RMSE     float64 `json:"rmse"`
	Points   int     `json:"points"`
}

// Law is the fitted sensitivity law.
type Law struct {
	R0       float64 `json:"r0"`
	Alpha    float64 `json:"alpha"`
	Samples  int     `json:"samples"`
	RSquared float64 `json:"r_squared"`
}

// Weight is one pollutant's composite weight.
type Weight struct {
	Pollutant string  `json:"pollutant"`
	Weight    float64 `json:"weight"`
}

// ProjectionPoint is one projected (Policy, Region, Year).
type ProjectionPoint struct {
	Policy        string  `json:"policy"`
	Region        string  `json:"region"`
	Year          int     `json:"year"`
	Predicted     float64 `json:"predicted"`
	Concentration float64 `json:"concentration"`
}

// Run is a pipeline execution.
type Run struct {
	ID          string            `json:"id"`
	Status      Status            `json:"status"`
	Pollutant   string            `json:"pollutant"`
	Policies    []string          `json:"policies"`
	Mode        string            `json:"mode"`
	FailedStage string            `json:"failed_stage,omitempty"`
	Error       string            `json:"error,omitempty"`
	Skipped     int               `json:"skipped"`
	Params      []RegionParams    `json:"params,omitempty"`
	Law         *Law              `json:"law,omitempty"`
	Weights     []Weight          `json:"weights,omitempty"`
	Intercept   *float64          `json:"intercept,omitempty"`
	Projections []ProjectionPoint `json:"projections,omitempty"`
	Artifacts   []string          `json:"artifacts,omitempty"`
	StartedAt   time.Time         `json:"started_at"`
	FinishedAt  time.Time         `json:"finished_at,omitempty"`
}

// NewID returns a fresh run identifier.
func NewID() string { return uuid.NewString() }

// New returns a running Run. An empty id is replaced by NewID.
func New(id, pollutant string, policies []string, mode string, now time.Time) *Run {
	if id == "" {
		id = NewID()
	}
	return &Run{
		ID:        id,
		Status:    StatusRunning,
		Pollutant: pollutant,
		Policies:  append([]string(nil), policies...),
		Mode:      mode,
		StartedAt: now.UTC(),
	}
}

// Succeed marks the run finished.
func (r *Run) Succeed(now time.Time) {
	r.Status = StatusSucceeded
	r.FinishedAt = now.UTC()
}

// Fail marks the run failed in stage.
func (r *Run) Fail(stage string, err error, now time.Time) {
	r.Status = StatusFailed
	r.FailedStage = stage
	if err != nil {
		r.Error = err.Error()
	}
	r.FinishedAt = now.UTC()
}

// Duration is the wall time of a finished run, zero otherwise.
func (r *Run) Duration() time.Duration {
	if r.FinishedAt.IsZero() {
		return 0
	}
	return r.FinishedAt.Sub(r.StartedAt)
}
