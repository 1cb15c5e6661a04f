package local

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalURLCache(t *testing.T) {
	ctx := context.Background()
	c, err := New(100)
	require.NoError(t, err)

	_, ok, err := c.Get(ctx, "img-1")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, c.Set(ctx, "img-1", "http://localhost/img-1", time.Minute))
	url, ok, err := c.Get(ctx, "img-1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "http://localhost/img-1", url)

	require.NoError(t, c.Remove(ctx, "img-1"))
	_, ok, err = c.Get(ctx, "img-1")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, c.Close())
	require.NoError(t, c.Close(), "close is idempotent")
}
