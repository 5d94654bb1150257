package queue

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/heliosrun/helios/pkg/types"
)

func TestMemoryBrokerDrainsHighBeforeDefault(t *testing.T) {
	b := NewMemoryBroker()
	ctx := context.Background()

	require.NoError(t, b.Enqueue(ctx, types.Descriptor{TaskID: "d1", Priority: types.PriorityDefault}))
	require.NoError(t, b.Enqueue(ctx, types.Descriptor{TaskID: "h1", Priority: types.PriorityHigh}))
	require.NoError(t, b.Enqueue(ctx, types.Descriptor{TaskID: "d2", Priority: types.PriorityDefault}))
	require.NoError(t, b.Enqueue(ctx, types.Descriptor{TaskID: "h2", Priority: types.PriorityHigh}))

	var order []string
	for i := 0; i < 4; i++ {
		lease, err := b.Lease(ctx, "worker-1")
		require.NoError(t, err)
		order = append(order, lease.Job.TaskID)
		require.NoError(t, b.Complete(ctx, lease))
	}

	assert.Equal(t, []string{"h1", "h2", "d1", "d2"}, order)
}

func TestMemoryBrokerLeaseBlocksUntilEnqueue(t *testing.T) {
	b := NewMemoryBroker()
	ctx := context.Background()

	done := make(chan *Lease, 1)
	go func() {
		lease, err := b.Lease(ctx, "worker-1")
		require.NoError(t, err)
		done <- lease
	}()

	time.Sleep(20 * time.Millisecond)
	require.NoError(t, b.Enqueue(ctx, types.Descriptor{TaskID: "late", Priority: types.PriorityDefault}))

	select {
	case lease := <-done:
		assert.Equal(t, "late", lease.Job.TaskID)
	case <-time.After(time.Second):
		t.Fatal("lease did not unblock after enqueue")
	}
}

func TestMemoryBrokerDepth(t *testing.T) {
	b := NewMemoryBroker()
	ctx := context.Background()
	require.NoError(t, b.Enqueue(ctx, types.Descriptor{TaskID: "a", Priority: types.PriorityHigh}))
	require.NoError(t, b.Enqueue(ctx, types.Descriptor{TaskID: "b", Priority: types.PriorityDefault}))

	depth, err := b.Depth(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), depth[types.QueueHigh])
	assert.Equal(t, int64(1), depth[types.QueueDefault])
}
