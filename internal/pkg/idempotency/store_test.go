package idempotency

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newStore(t *testing.T) (*Store, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewStore(client, time.Hour), mr
}

func TestReserveCompleteReplay(t *testing.T) {
	s, _ := newStore(t)
	ctx := context.Background()

	stored, err := s.Reserve(ctx, "sub-1", "key-1")
	require.NoError(t, err)
	assert.Nil(t, stored)

	_, err = s.Reserve(ctx, "sub-1", "key-1")
	assert.ErrorIs(t, err, ErrInProgress)

	require.NoError(t, s.Complete(ctx, "sub-1", "key-1", []byte(`{"ok":true}`)))

	stored, err = s.Reserve(ctx, "sub-1", "key-1")
	require.NoError(t, err)
	assert.JSONEq(t, `{"ok":true}`, string(stored))
}

func TestReserveScopedPerSubscriber(t *testing.T) {
	s, _ := newStore(t)
	ctx := context.Background()

	_, err := s.Reserve(ctx, "sub-1", "key-1")
	require.NoError(t, err)

	stored, err := s.Reserve(ctx, "sub-2", "key-1")
	require.NoError(t, err)
	assert.Nil(t, stored)
}

func TestReleaseAllowsRetry(t *testing.T) {
	s, _ := newStore(t)
	ctx := context.Background()

	_, err := s.Reserve(ctx, "sub-1", "key-1")
	require.NoError(t, err)
	require.NoError(t, s.Release(ctx, "sub-1", "key-1"))

	stored, err := s.Reserve(ctx, "sub-1", "key-1")
	require.NoError(t, err)
	assert.Nil(t, stored)
}

func TestEntriesExpire(t *testing.T) {
	s, mr := newStore(t)
	ctx := context.Background()

	_, err := s.Reserve(ctx, "sub-1", "key-1")
	require.NoError(t, err)
	require.NoError(t, s.Complete(ctx, "sub-1", "key-1", []byte(`{}`)))

	mr.FastForward(2 * time.Hour)

	stored, err := s.Reserve(ctx, "sub-1", "key-1")
	require.NoError(t, err)
	assert.Nil(t, stored)
}
