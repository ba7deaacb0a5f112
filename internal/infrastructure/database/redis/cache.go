package redis

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/turtacn/VigorCast/internal/domain/growth"
	"github.com/turtacn/VigorCast/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/VigorCast/pkg/errors"
)

var ErrSerializationFailed = errors.New(errors.ErrCodeSerialization, "serialization failed")

const scanBatch = 100

// CalibrationCache stores converged growth parameters as JSON strings.
type CalibrationCache struct {
	client *Client
	logger logging.Logger
	prefix string
	ttl    time.Duration
}

type CacheOption func(*CalibrationCache)

func WithPrefix(prefix string) CacheOption {
	return func(c *CalibrationCache) { c.prefix = prefix }
}

func WithTTL(ttl time.Duration) CacheOption {
	return func(c *CalibrationCache) { c.ttl = ttl }
}

// NewCalibrationCache uses the client's key prefix and default TTL unless
// overridden.
func NewCalibrationCache(client *Client, log logging.Logger, opts ...CacheOption) *CalibrationCache {
	if log == nil {
		log = logging.NewNopLogger()
	}
	cfg := client.Config()
	c := &CalibrationCache{
		client: client,
		logger: log.Named("fit_cache"),
		prefix: cfg.KeyPrefix,
		ttl:    cfg.DefaultTTL,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

var _ growth.FitCache = (*CalibrationCache)(nil)

func (c *CalibrationCache) fullKey(key string) string {
	return c.prefix + key
}

// Get reports ok=false on a miss.
func (c *CalibrationCache) Get(ctx context.Context, key string) (growth.Params, bool, error) {
	data, err := c.client.Get(ctx, c.fullKey(key)).Bytes()
	if err == redis.Nil {
		return growth.Params{}, false, nil
	}
	if err != nil {
		return growth.Params{}, false, errors.Wrap(err, errors.ErrCodeCacheError, "failed to get from cache")
	}
	var p growth.Params
	if err := json.Unmarshal(data, &p); err != nil {
		return growth.Params{}, false, ErrSerializationFailed.WithDetailf("key=%s", key).WithCause(err)
	}
	return p, true, nil
}

// Put stores p with the configured TTL. Non-finite parameters fail to
// serialize and are rejected.
func (c *CalibrationCache) Put(ctx context.Context, key string, p growth.Params) error {
	data, err := json.Marshal(p)
	if err != nil {
		return ErrSerializationFailed.WithDetailf("key=%s", key).WithCause(err)
	}
	if err := c.client.Set(ctx, c.fullKey(key), data, c.ttl).Err(); err != nil {
		return errors.Wrap(err, errors.ErrCodeCacheError, "failed to write to cache")
	}
	return nil
}

// Purge deletes every cached fit and returns how many keys were removed.
func (c *CalibrationCache) Purge(ctx context.Context) (int64, error) {
	var (
		cursor  uint64
		removed int64
	)
	for {
		keys, next, err := c.client.Scan(ctx, cursor, c.prefix+"*", scanBatch).Result()
		if err != nil {
			return removed, errors.Wrap(err, errors.ErrCodeCacheError, "failed to scan cache")
		}
		if len(keys) > 0 {
			n, err := c.client.Del(ctx, keys...).Result()
			if err != nil {
				return removed, errors.Wrap(err, errors.ErrCodeCacheError, "failed to delete cache keys")
			}
			removed += n
		}
		cursor = next
		if cursor == 0 {
			break
		}
	}
	c.logger.Info("fit cache purged", logging.Int64("removed", removed))
	return removed, nil
}
