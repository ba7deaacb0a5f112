package pipeline

import (
	"fmt"

	"github.com/turtacn/VigorCast/pkg/errors"
)

// Stage names.
const (
	StageLoad        = "load"
	StageCalibrate   = "calibrate"
	StageSensitivity = "sensitivity"
	StageComposite   = "composite"
	StageScenario    = "scenario"
	StageReconcile   = "reconcile"
	StageProjection  = "projection"
	StageCompare     = "compare"
	StageNational    = "national"
	StageExport      = "export"
	StagePersist     = "persist"
)

// StageError names the stage a fatal error came from.
type StageError struct {
	Stage string
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("stage %s: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error { return e.Err }

// Code reports the wrapped error's code.
func (e *StageError) Code() errors.ErrorCode { return errors.GetCode(e.Err) }

// StageOf returns the failing stage of err, or "".
func StageOf(err error) string {
	var se *StageError
	if errors.As(err, &se) {
		return se.Stage
	}
	return ""
}

func stageErr(stage string, err error) error {
	if err == nil {
		return nil
	}
	var se *StageError
	if errors.As(err, &se) {
		return err
	}
	return &StageError{Stage: stage, Err: err}
}
