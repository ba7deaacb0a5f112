package cli

import (
	"context"
	"io"

	"github.com/turtacn/VigorCast/internal/application/pipeline"
	"github.com/turtacn/VigorCast/internal/application/reporting"
	"github.com/turtacn/VigorCast/internal/domain/table"
	"github.com/turtacn/VigorCast/internal/infrastructure/database/postgres"
	"github.com/turtacn/VigorCast/internal/infrastructure/database/postgres/repositories"
	"github.com/turtacn/VigorCast/internal/infrastructure/database/redis"
	"github.com/turtacn/VigorCast/internal/infrastructure/messaging/kafka"
	"github.com/turtacn/VigorCast/internal/infrastructure/storage"
	"github.com/turtacn/VigorCast/pkg/errors"
)

// readFrame reads a delimited table from path, or from stdin when path is "-".
func readFrame(stdin io.Reader, path string) (*table.Frame, error) {
	if path == "" {
		return nil, errors.InvalidParam("input path is required")
	}
	if path == "-" {
		return table.Read(stdin)
	}
	return table.ReadFile(path)
}

// runtime holds the collaborators opened for one command. Close releases
// them in reverse order.
type runtime struct {
	opts    []pipeline.Option
	backend *storage.Backend
	closers []func()
}

func (r *runtime) Close() {
	for i := len(r.closers) - 1; i >= 0; i-- {
		r.closers[i]()
	}
}

// openRuntime connects every collaborator enabled in the configuration:
// the artifact backend and renderers, the Redis fit cache, PostgreSQL run
// persistence and the Kafka completion publisher. Only the artifact backend
// is opened when persist is false.
func openRuntime(ctx context.Context, cc *CLIContext, persist bool) (*runtime, error) {
	cfg := cc.Config
	log := cc.Logger
	rt := &runtime{}

	backend, err := storage.Open(ctx, *cfg, log)
	if err != nil {
		return nil, err
	}
	rt.backend = backend
	rt.opts = append(rt.opts, pipeline.WithArtifactStore(backend.Store))

	var renderers []pipeline.Renderer
	if cfg.Artifacts.Workbook {
		renderers = append(renderers, reporting.NewWorkbookRenderer(log))
	}
	if cfg.Artifacts.Charts {
		renderers = append(renderers, reporting.NewChartRenderer(log))
	}
	rt.opts = append(rt.opts, pipeline.WithRenderers(renderers...))

	if cfg.Redis.Enabled && cfg.Calibration.CacheEnabled {
		rc, err := redis.NewClient(ctx, cfg.Redis, log)
		if err != nil {
			rt.Close()
			return nil, err
		}
		rt.closers = append(rt.closers, func() { _ = rc.Close() })
		rt.opts = append(rt.opts, pipeline.WithFitCache(redis.NewCalibrationCache(rc, log)))
	}

	if !persist {
		return rt, nil
	}

	if cfg.Database.Enabled {
		if cfg.Database.AutoMigrate {
			if err := postgres.NewMigrator(cfg.Database.DSN(), log).Up(); err != nil {
				rt.Close()
				return nil, err
			}
		}
		pool, err := postgres.NewConnectionPool(ctx, cfg.Database, log)
		if err != nil {
			rt.Close()
			return nil, err
		}
		rt.closers = append(rt.closers, func() { postgres.Close(pool) })
		rt.opts = append(rt.opts, pipeline.WithRunRepository(repositories.NewRunRepository(pool, log)))
	}

	if cfg.Kafka.Enabled {
		producer, err := kafka.NewProducer(kafka.ProducerConfigFrom(cfg.Kafka), log)
		if err != nil {
			rt.Close()
			return nil, err
		}
		rt.closers = append(rt.closers, func() { _ = producer.Close() })
		rt.opts = append(rt.opts, pipeline.WithEventPublisher(producer))
	}
	return rt, nil
}

// newService builds a pipeline service with the given collaborators.
func newService(cc *CLIContext, opts ...pipeline.Option) *pipeline.Service {
	return pipeline.NewService(*cc.Config, cc.Logger, opts...)
}
