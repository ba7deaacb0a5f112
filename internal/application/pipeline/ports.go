package pipeline

import (
	"context"
	"time"

	"github.com/turtacn/VigorCast/internal/domain/run"
)

// -----------------------------------------------------------------------
// Collaborators
// -----------------------------------------------------------------------

// ArtifactStore persists run outputs under slash-separated keys.
type ArtifactStore interface {
	Put(ctx context.Context, key string, data []byte, contentType string) error
	Get(ctx context.Context, key string) ([]byte, error)
	List(ctx context.Context, prefix string) ([]string, error)
	Delete(ctx context.Context, key string) error
}

// EventPublisher announces finished runs.
type EventPublisher interface {
	PublishRunCompleted(ctx context.Context, r *run.Run) error
}

// Recorder receives per-stage and per-run measurements.
type Recorder interface {
	ObserveStage(stage string, d time.Duration, err error)
	ObserveCalibration(fitted, skipped, cached int)
	ObserveMerge(policy string, duplicates int)
	RunStarted()
	RunFinished(d time.Duration, err error)
}

// Attachment is a rendered, non-tabular artifact.
type Attachment struct {
	Name        string
	ContentType string
	Data        []byte
}

// Renderer turns a finished run into extra artifacts such as workbooks or
// charts.
type Renderer interface {
	Render(res *Result) ([]Attachment, error)
}

type nopRecorder struct{}

func (nopRecorder) ObserveStage(string, time.Duration, error) {}
func (nopRecorder) ObserveCalibration(int, int, int)          {}
func (nopRecorder) ObserveMerge(string, int)                  {}
func (nopRecorder) RunStarted()                               {}
func (nopRecorder) RunFinished(time.Duration, error)          {}
