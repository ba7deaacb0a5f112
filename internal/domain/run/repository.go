package run

import (
	"context"
)

// Repository persists runs. Get returns ErrRunNotFound for unknown ids.
type Repository interface {
	Save(ctx context.Context, r *Run) error
	Get(ctx context.Context, id string) (*Run, error)
	List(ctx context.Context, limit int) ([]*Run, error)
}
