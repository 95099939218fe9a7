package lock

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

var releaseScript = redis.NewScript(`
	if redis.call("get", KEYS[1]) == ARGV[1] then
		return redis.call("del", KEYS[1])
	else
		return 0
	end
`)

// Redis is a lock shared across processes via SET NX with a TTL.
type Redis struct {
	rdb       redis.UniversalClient
	keyPrefix string
	ttl       time.Duration
	logger    *zap.Logger
}

// NewRedis creates a Redis locker. Locks expire after ttl if never released.
func NewRedis(rdb redis.UniversalClient, keyPrefix string, ttl time.Duration, logger *zap.Logger) *Redis {
	if keyPrefix == "" {
		keyPrefix = "lock:"
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Redis{
		rdb:       rdb,
		keyPrefix: keyPrefix,
		ttl:       ttl,
		logger:    logger.Named("lock"),
	}
}

// Acquire attempts to take the lock once without waiting.
func (l *Redis) Acquire(ctx context.Context, key string) (func(context.Context) error, error) {
	lockKey := l.keyPrefix + key
	lockValue := uuid.New().String()

	ok, err := l.rdb.SetNX(ctx, lockKey, lockValue, l.ttl).Result()
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrNotAcquired
	}

	l.logger.Debug("acquired lock", zap.String("key", lockKey))

	release := func(ctx context.Context) error {
		result, err := releaseScript.Run(ctx, l.rdb, []string{lockKey}, lockValue).Int64()
		if err != nil {
			return err
		}
		if result == 0 {
			return ErrNotHeld
		}
		l.logger.Debug("released lock", zap.String("key", lockKey))
		return nil
	}
	return release, nil
}
