package main

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/turtacn/VigorCast/internal/config"
	"github.com/turtacn/VigorCast/internal/infrastructure/database/redis"
	"github.com/turtacn/VigorCast/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/VigorCast/pkg/errors"
)

func TestRunLocker(t *testing.T) {
	mr := miniredis.RunT(t)
	ctx := context.Background()
	client, err := redis.NewClient(ctx, config.RedisConfig{Addr: mr.Addr()}, logging.NewNopLogger())
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	l := runLocker{locker: redis.NewLocker(client, nil)}

	lease, err := l.TryAcquire(ctx, "run-1", time.Minute)
	require.NoError(t, err)
	require.NotNil(t, lease)

	second, err := l.TryAcquire(ctx, "run-1", time.Minute)
	require.Error(t, err)
	assert.Nil(t, second, "a failed acquire must return a nil interface")
	assert.True(t, errors.IsCode(err, errors.ErrCodeConflict))

	require.NoError(t, lease.Release(ctx))
	again, err := l.TryAcquire(ctx, "run-1", time.Minute)
	require.NoError(t, err)
	assert.NoError(t, again.Release(ctx))

	assert.NoError(t, redisChecker(client).Check(ctx))
	assert.Equal(t, "redis", redisChecker(client).Name())
}
