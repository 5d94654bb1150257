package queue

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/heliosrun/helios/pkg/types"
)

func newTestBroker(t *testing.T) (*RedisBroker, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := goredisClient(mr.Addr())
	b, err := NewRedisBroker(context.Background(), rdb, "worker-test")
	require.NoError(t, err)
	t.Cleanup(func() { b.Close() })
	return b, mr
}

func goredisClient(addr string) *redis.Client {
	return redis.NewClient(&redis.Options{Addr: addr})
}

func TestRedisBrokerEnqueueLeaseComplete(t *testing.T) {
	b, _ := newTestBroker(t)
	ctx := context.Background()

	job := types.Descriptor{
		TaskID:     "task-1",
		WorkDir:    "/var/helios/tasks/task-1",
		Entrypoint: "python main.py",
		Priority:   types.PriorityDefault,
		CreatedAt:  time.Now(),
	}
	require.NoError(t, b.Enqueue(ctx, job))

	lease, err := b.Lease(ctx, "worker-1")
	require.NoError(t, err)
	require.Equal(t, "task-1", lease.Job.TaskID)
	require.Equal(t, types.QueueDefault, lease.Queue)

	require.NoError(t, b.Complete(ctx, lease))

	depth, err := b.Depth(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(0), depth[types.QueueDefault])
}

func TestRedisBrokerHighBeforeDefault(t *testing.T) {
	b, _ := newTestBroker(t)
	ctx := context.Background()

	require.NoError(t, b.Enqueue(ctx, types.Descriptor{TaskID: "d1", Priority: types.PriorityDefault}))
	require.NoError(t, b.Enqueue(ctx, types.Descriptor{TaskID: "h1", Priority: types.PriorityHigh}))

	lease, err := b.Lease(ctx, "worker-1")
	require.NoError(t, err)
	require.Equal(t, "h1", lease.Job.TaskID)
	require.NoError(t, b.Complete(ctx, lease))

	lease, err = b.Lease(ctx, "worker-1")
	require.NoError(t, err)
	require.Equal(t, "d1", lease.Job.TaskID)
	require.NoError(t, b.Complete(ctx, lease))
}

func TestRedisBrokerReclaimsAbandonedLease(t *testing.T) {
	b, mr := newTestBroker(t)
	ctx := context.Background()

	require.NoError(t, b.Enqueue(ctx, types.Descriptor{TaskID: "crashed", Priority: types.PriorityHigh}))

	// worker-a leases but never acks (simulates a crash mid-job).
	lease, err := b.Lease(ctx, "worker-a")
	require.NoError(t, err)
	require.Equal(t, "crashed", lease.Job.TaskID)

	mr.FastForward(reclaimIdle + time.Second)

	// worker-b should reclaim it.
	redelivered, err := b.Lease(ctx, "worker-b")
	require.NoError(t, err)
	require.Equal(t, "crashed", redelivered.Job.TaskID)
	require.NoError(t, b.Complete(ctx, redelivered))
}
