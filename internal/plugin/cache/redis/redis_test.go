package redis_test

import (
	"context"
	"testing"
	"time"

	"github.com/chirino/daily-log/internal/plugin/cache/redis"
	"github.com/chirino/daily-log/internal/testutil/testredis"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRedisURLCache(t *testing.T) {
	if testing.Short() {
		t.Skip("requires docker")
	}
	ctx := context.Background()
	c, err := redis.LoadFromURL(ctx, testredis.StartRedis(t))
	require.NoError(t, err)
	assert.True(t, c.Available())

	_, ok, err := c.Get(ctx, "img-1")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, c.Set(ctx, "img-1", "https://example.com/img-1", time.Minute))
	url, ok, err := c.Get(ctx, "img-1")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "https://example.com/img-1", url)

	require.NoError(t, c.Remove(ctx, "img-1"))
	_, ok, err = c.Get(ctx, "img-1")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, c.Close())
	_, _, err = c.Get(ctx, "img-1")
	assert.Error(t, err, "a closed client releases its connections")
}
