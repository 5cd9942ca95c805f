package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newLimiter(t *testing.T) (*Limiter, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewLimiter(client), mr
}

func TestAllowWithinWindow(t *testing.T) {
	l, _ := newLimiter(t)
	ctx := context.Background()

	for i := int64(0); i < 3; i++ {
		ok, remaining, err := l.Allow(ctx, "sub-1", "initiate", 3, time.Minute)
		require.NoError(t, err)
		assert.True(t, ok)
		assert.Equal(t, 2-i, remaining)
	}

	ok, remaining, err := l.Allow(ctx, "sub-1", "initiate", 3, time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Zero(t, remaining)

	// other subjects are counted separately
	ok, _, err = l.Allow(ctx, "sub-2", "initiate", 3, time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestAllowResetsAfterWindow(t *testing.T) {
	l, mr := newLimiter(t)
	ctx := context.Background()

	_, _, err := l.Allow(ctx, "sub-1", "initiate", 1, time.Minute)
	require.NoError(t, err)
	ok, _, err := l.Allow(ctx, "sub-1", "initiate", 1, time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)

	mr.FastForward(2 * time.Minute)

	ok, _, err = l.Allow(ctx, "sub-1", "initiate", 1, time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestReset(t *testing.T) {
	l, _ := newLimiter(t)
	ctx := context.Background()

	_, _, _ = l.Allow(ctx, "sub-1", "initiate", 1, time.Minute)
	require.NoError(t, l.Reset(ctx, "sub-1", "initiate"))

	ok, _, err := l.Allow(ctx, "sub-1", "initiate", 1, time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)
}
