// Command worker consumes run requests from Kafka, executes the pipeline and
// serves probes, metrics and the run API over HTTP.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/turtacn/VigorCast/internal/application/pipeline"
	"github.com/turtacn/VigorCast/internal/application/reporting"
	"github.com/turtacn/VigorCast/internal/application/worker"
	"github.com/turtacn/VigorCast/internal/config"
	rundomain "github.com/turtacn/VigorCast/internal/domain/run"
	"github.com/turtacn/VigorCast/internal/infrastructure/database/postgres"
	"github.com/turtacn/VigorCast/internal/infrastructure/database/postgres/repositories"
	"github.com/turtacn/VigorCast/internal/infrastructure/database/redis"
	"github.com/turtacn/VigorCast/internal/infrastructure/messaging/kafka"
	"github.com/turtacn/VigorCast/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/VigorCast/internal/infrastructure/monitoring/prometheus"
	"github.com/turtacn/VigorCast/internal/infrastructure/storage"
	httpserver "github.com/turtacn/VigorCast/internal/interfaces/http"
	"github.com/turtacn/VigorCast/internal/interfaces/http/handlers"
	"github.com/turtacn/VigorCast/internal/interfaces/http/middleware"
	"github.com/turtacn/VigorCast/pkg/errors"
)

var version = "dev"

const drainTimeout = 30 * time.Second

func main() {
	configPath := flag.String("config", "", "path to configuration file (default: environment only)")
	concurrency := flag.Int("concurrency", 0, "number of consumers in the group (overrides worker.concurrency)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}
	if *concurrency > 0 {
		cfg.Worker.Concurrency = *concurrency
	}

	logger, err := logging.NewLogger(cfg.Log)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	logging.SetDefault(logger)
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("worker exited with error", logging.Err(err))
		os.Exit(1)
	}
	logger.Info("VigorCast worker stopped")
}

// infra collects the cleanups of opened clients, run in reverse order.
type infra struct {
	closers []func()
}

func (i *infra) add(fn func()) { i.closers = append(i.closers, fn) }

func (i *infra) Close() {
	for j := len(i.closers) - 1; j >= 0; j-- {
		i.closers[j]()
	}
}

func run(ctx context.Context, cfg *config.Config, logger logging.Logger) error {
	if !cfg.Kafka.Enabled {
		return errors.New(errors.ErrCodeConfigInvalid, "worker requires kafka.enabled")
	}

	res := &infra{}
	defer res.Close()

	var (
		svcOpts    []pipeline.Option
		workerOpts = []worker.Option{worker.WithRunTimeout(cfg.Worker.RunTimeout)}
		checkers   []handlers.HealthChecker
		observer   middleware.RequestObserver
		metricsH   http.Handler
		runs       rundomain.Repository
	)

	if cfg.Metrics.Enabled {
		pm, err := prometheus.NewPipelineMetrics(prometheus.Options{
			Namespace:      cfg.Metrics.Namespace,
			ProcessMetrics: true,
			GoMetrics:      true,
		}, logger)
		if err != nil {
			return err
		}
		svcOpts = append(svcOpts, pipeline.WithRecorder(pm))
		observer = pm
		metricsH = pm.Handler()
	}

	backend, err := storage.Open(ctx, *cfg, logger)
	if err != nil {
		return err
	}
	checkers = append(checkers, handlers.NewChecker("artifacts", backend.Probe))
	svcOpts = append(svcOpts, pipeline.WithArtifactStore(backend.Store))

	var renderers []pipeline.Renderer
	if cfg.Artifacts.Workbook {
		renderers = append(renderers, reporting.NewWorkbookRenderer(logger))
	}
	if cfg.Artifacts.Charts {
		renderers = append(renderers, reporting.NewChartRenderer(logger))
	}
	svcOpts = append(svcOpts, pipeline.WithRenderers(renderers...))

	if cfg.Redis.Enabled {
		rc, err := redis.NewClient(ctx, cfg.Redis, logger)
		if err != nil {
			return err
		}
		res.add(func() { _ = rc.Close() })
		checkers = append(checkers, redisChecker(rc))
		if cfg.Calibration.CacheEnabled {
			svcOpts = append(svcOpts, pipeline.WithFitCache(redis.NewCalibrationCache(rc, logger)))
		}
		workerOpts = append(workerOpts, worker.WithLocker(runLocker{locker: redis.NewLocker(rc, logger)}))
	}

	if cfg.Database.Enabled {
		if cfg.Database.AutoMigrate {
			if err := postgres.NewMigrator(cfg.Database.DSN(), logger).Up(); err != nil {
				return err
			}
		}
		pool, err := postgres.NewConnectionPool(ctx, cfg.Database, logger)
		if err != nil {
			return err
		}
		res.add(func() { postgres.Close(pool) })
		checkers = append(checkers, postgresChecker(pool, logger))
		runs = repositories.NewRunRepository(pool, logger)
		svcOpts = append(svcOpts, pipeline.WithRunRepository(runs))
		workerOpts = append(workerOpts, worker.WithRunRepository(runs))
	}

	if tm, err := kafka.NewTopicManager(cfg.Kafka.Brokers, logger); err != nil {
		logger.Warn("topic manager unavailable, assuming topics exist", logging.Err(err))
	} else {
		if err := tm.EnsureTopics(ctx, kafka.RunTopics(cfg.Kafka)); err != nil {
			logger.Warn("failed to ensure topics", logging.Err(err))
		}
		_ = tm.Close()
	}

	producer, err := kafka.NewProducer(kafka.ProducerConfigFrom(cfg.Kafka), logger)
	if err != nil {
		return err
	}
	res.add(func() { _ = producer.Close() })
	svcOpts = append(svcOpts, pipeline.WithEventPublisher(producer))

	svc := pipeline.NewService(*cfg, logger, svcOpts...)
	handler := worker.NewHandler(svc, backend.Store, logger, workerOpts...)

	consumers := make([]*kafka.Consumer, 0, cfg.Worker.Concurrency)
	stopConsumers := func() {
		for _, c := range consumers {
			if err := c.Close(); err != nil {
				logger.Warn("consumer close failed", logging.Err(err))
			}
		}
		consumers = nil
	}
	defer stopConsumers()
	for i := 0; i < cfg.Worker.Concurrency; i++ {
		c, err := kafka.NewConsumer(kafka.ConsumerConfigFrom(cfg.Kafka), handler.Handle, producer,
			logger.With(logging.Int("consumer", i)))
		if err != nil {
			return err
		}
		consumers = append(consumers, c)
		if err := c.Start(ctx); err != nil {
			return err
		}
	}

	var runHandler *handlers.RunHandler
	if runs != nil {
		runHandler = handlers.NewRunHandler(runs, backend.Store)
	}
	srv := httpserver.NewServer(cfg.Server, httpserver.RouterConfig{
		HealthHandler:  handlers.NewHealthHandler(version, checkers...),
		RunHandler:     runHandler,
		Logger:         logger,
		Logging:        middleware.DefaultLoggingConfig(),
		Metrics:        observer,
		MetricsHandler: metricsH,
		MetricsPath:    cfg.Metrics.Path,
	}, logger)

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start() }()

	logger.Info("VigorCast worker started",
		logging.String("version", version),
		logging.String("addr", srv.Addr()),
		logging.String("topic", cfg.Kafka.RequestTopic),
		logging.Int("consumers", len(consumers)),
		logging.String("artifacts", backend.Name),
	)

	var serveErr error
	select {
	case <-ctx.Done():
		logger.Info("received shutdown signal")
	case serveErr = <-errCh:
		if serveErr != nil {
			logger.Error("HTTP server failed", logging.Err(serveErr))
		}
	}

	// Drain consumers before the HTTP server stops.
	stopConsumers()

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), drainTimeout)
	defer cancel()
	if err := srv.Stop(shutdownCtx); err != nil {
		logger.Error("HTTP server shutdown error", logging.Err(err))
	}
	return serveErr
}
