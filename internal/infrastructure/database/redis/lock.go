package redis

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/turtacn/VigorCast/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/VigorCast/pkg/errors"
)

var (
	ErrLockNotAcquired = errors.New(errors.ErrCodeConflict, "failed to acquire lock")
	ErrLockNotHeld     = errors.New(errors.ErrCodeConflict, "lock not held by this owner")
)

const lockPrefix = "vigorcast:lock:"

var unlockScript = redis.NewScript(`
	if redis.call("GET", KEYS[1]) == ARGV[1] then
		return redis.call("DEL", KEYS[1])
	else
		return 0
	end
`)

// Locker hands out leases keyed by name, so one worker processes a given run
// even when the broker redelivers its request.
type Locker struct {
	client   *Client
	logger   logging.Logger
	newToken func() string
}

func NewLocker(client *Client, log logging.Logger) *Locker {
	if log == nil {
		log = logging.NewNopLogger()
	}
	return &Locker{
		client:   client,
		logger:   log.Named("lock"),
		newToken: func() string { return uuid.NewString() },
	}
}

// Lease is a held lock.
type Lease struct {
	locker *Locker
	key    string
	token  string
}

// TryAcquire takes the lock without waiting. It returns ErrLockNotAcquired
// when another owner holds it.
func (l *Locker) TryAcquire(ctx context.Context, name string, ttl time.Duration) (*Lease, error) {
	key := lockPrefix + name
	token := l.newToken()
	ok, err := l.client.SetNX(ctx, key, token, ttl).Result()
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeCacheError, "lock acquisition failed").WithDetailf("key=%s", key)
	}
	if !ok {
		return nil, ErrLockNotAcquired.WithDetailf("key=%s", key)
	}
	l.logger.Debug("lock acquired", logging.String("key", key), logging.Duration("ttl", ttl))
	return &Lease{locker: l, key: key, token: token}, nil
}

// Release deletes the key only while it still carries this lease's token.
func (ls *Lease) Release(ctx context.Context) error {
	n, err := unlockScript.Run(ctx, ls.locker.client.Scripter(), []string{ls.key}, ls.token).Int64()
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeCacheError, "lock release failed").WithDetailf("key=%s", ls.key)
	}
	if n == 0 {
		return ErrLockNotHeld.WithDetailf("key=%s", ls.key)
	}
	return nil
}

// Key returns the Redis key of the lease.
func (ls *Lease) Key() string { return ls.key }
