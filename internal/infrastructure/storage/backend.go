// Package storage selects the artifact backend named by the configuration.
package storage

import (
	"context"
	"os"

	"github.com/turtacn/VigorCast/internal/config"
	"github.com/turtacn/VigorCast/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/VigorCast/internal/infrastructure/storage/local"
	"github.com/turtacn/VigorCast/internal/infrastructure/storage/minio"
	"github.com/turtacn/VigorCast/pkg/errors"
)

// Backend names.
const (
	BackendLocal = "local"
	BackendMinIO = "minio"
)

// Store reads and writes run artifacts by key.
type Store interface {
	Put(ctx context.Context, key string, data []byte, contentType string) error
	Get(ctx context.Context, key string) ([]byte, error)
	List(ctx context.Context, prefix string) ([]string, error)
	Delete(ctx context.Context, key string) error
}

// Backend is an opened Store with a readiness probe.
type Backend struct {
	Store Store
	Name  string
	Probe func(ctx context.Context) error
}

// Open connects the backend selected by cfg.Artifacts.Backend.
func Open(ctx context.Context, cfg config.Config, log logging.Logger) (*Backend, error) {
	if log == nil {
		log = logging.NewNopLogger()
	}
	switch cfg.Artifacts.Backend {
	case BackendLocal, "":
		s, err := local.NewStore(cfg.Artifacts.Dir, log)
		if err != nil {
			return nil, err
		}
		return &Backend{
			Store: s,
			Name:  BackendLocal,
			Probe: func(context.Context) error {
				_, err := os.Stat(s.Root())
				return err
			},
		}, nil
	case BackendMinIO:
		c, err := minio.NewClient(ctx, cfg.MinIO, log)
		if err != nil {
			return nil, err
		}
		return &Backend{
			Store: minio.NewArtifactStore(c, log),
			Name:  BackendMinIO,
			Probe: c.HealthCheck,
		}, nil
	}
	return nil, errors.Newf(errors.ErrCodeConfigInvalid, "unknown artifact backend %q", cfg.Artifacts.Backend)
}
