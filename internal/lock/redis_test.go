package lock

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Runs only against a live server, e.g. REDIS_TEST_ADDR=localhost:6379.
func TestRedis_AcquireRelease(t *testing.T) {
	addr := os.Getenv("REDIS_TEST_ADDR")
	if addr == "" {
		t.Skip("REDIS_TEST_ADDR not set")
	}

	ctx := context.Background()
	rdb := redis.NewClient(&redis.Options{Addr: addr})
	t.Cleanup(func() { rdb.Close() })
	require.NoError(t, rdb.Ping(ctx).Err())

	l := NewRedis(rdb, "test:lock:", time.Minute, nil)
	key := "pipeline-" + time.Now().Format("150405.000000")

	release, err := l.Acquire(ctx, key)
	require.NoError(t, err)

	_, err = l.Acquire(ctx, key)
	assert.ErrorIs(t, err, ErrNotAcquired)

	require.NoError(t, release(ctx))
	assert.ErrorIs(t, release(ctx), ErrNotHeld)

	again, err := l.Acquire(ctx, key)
	require.NoError(t, err)
	require.NoError(t, again(ctx))
}
