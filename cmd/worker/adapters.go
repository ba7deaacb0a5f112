package main

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/turtacn/VigorCast/internal/application/worker"
	"github.com/turtacn/VigorCast/internal/infrastructure/database/postgres"
	"github.com/turtacn/VigorCast/internal/infrastructure/database/redis"
	"github.com/turtacn/VigorCast/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/VigorCast/internal/interfaces/http/handlers"
)

// runLocker adapts the Redis locker to worker.Locker.
type runLocker struct {
	locker *redis.Locker
}

func (l runLocker) TryAcquire(ctx context.Context, name string, ttl time.Duration) (worker.Lease, error) {
	lease, err := l.locker.TryAcquire(ctx, name, ttl)
	if err != nil {
		return nil, err
	}
	return lease, nil
}

func redisChecker(c *redis.Client) handlers.HealthChecker {
	return handlers.NewChecker("redis", c.Ping)
}

func postgresChecker(pool *pgxpool.Pool, log logging.Logger) handlers.HealthChecker {
	return handlers.NewChecker("postgres", func(ctx context.Context) error {
		return postgres.HealthCheck(ctx, pool, log)
	})
}
