package status

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/heliosrun/helios/pkg/types"
)

func newTestStore(t *testing.T, grace time.Duration) (*RedisStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })
	return NewRedisStore(rdb, grace), mr
}

func TestRedisStoreRoundTrip(t *testing.T) {
	s, _ := newTestStore(t, 0)
	ctx := context.Background()

	require.NoError(t, s.Set(ctx, "t1", types.StatusPending, ""))
	rec, err := s.Get(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, types.StatusPending, rec.Status)

	require.NoError(t, s.Set(ctx, "t1", types.StatusFailed, "Docker error"))
	rec, err = s.Get(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, types.StatusFailed, rec.Status)
	assert.Equal(t, "Docker error", rec.Detail)
}

func TestRedisStoreNotFound(t *testing.T) {
	s, _ := newTestStore(t, 0)
	_, err := s.Get(context.Background(), "missing")
	assert.ErrorIs(t, err, types.ErrNotFound)
}

func TestRedisStoreGraceExpiry(t *testing.T) {
	s, mr := newTestStore(t, 5*time.Second)
	ctx := context.Background()

	require.NoError(t, s.Set(ctx, "t2", types.StatusSucceeded, ""))
	_, err := s.Get(ctx, "t2")
	require.NoError(t, err)

	mr.FastForward(6 * time.Second)

	_, err = s.Get(ctx, "t2")
	assert.ErrorIs(t, err, types.ErrNotFound)
}
