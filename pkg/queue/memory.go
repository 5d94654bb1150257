package queue

import (
	"container/list"
	"context"
	"strconv"
	"sync"

	"github.com/heliosrun/helios/pkg/types"
)

// MemoryBroker is an in-process Broker used by tests that exercise
// priority-ordering and lease semantics without a Redis dependency. Its
// leases never time out, so Lease never redelivers a job.
type MemoryBroker struct {
	mu      sync.Mutex
	cond    *sync.Cond
	high    *list.List
	normal  *list.List
	leases  map[string]*Lease
	nextID  int
	closed  bool
}

// NewMemoryBroker returns a ready-to-use MemoryBroker.
func NewMemoryBroker() *MemoryBroker {
	b := &MemoryBroker{
		high:   list.New(),
		normal: list.New(),
		leases: make(map[string]*Lease),
	}
	b.cond = sync.NewCond(&b.mu)
	return b
}

func (b *MemoryBroker) queueFor(priority types.Priority) *list.List {
	if priority == types.PriorityHigh {
		return b.high
	}
	return b.normal
}

func (b *MemoryBroker) Enqueue(_ context.Context, job types.Descriptor) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.queueFor(job.Priority).PushBack(job)
	b.cond.Signal()
	return nil
}

func (b *MemoryBroker) Lease(ctx context.Context, _ string) (*Lease, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for {
		if b.closed {
			return nil, ctx.Err()
		}
		if el := b.high.Front(); el != nil {
			return b.take(b.high, el, types.QueueHigh), nil
		}
		if el := b.normal.Front(); el != nil {
			return b.take(b.normal, el, types.QueueDefault), nil
		}
		b.cond.Wait()
	}
}

func (b *MemoryBroker) take(q *list.List, el *list.Element, queueName string) *Lease {
	q.Remove(el)
	b.nextID++
	lease := &Lease{
		ID:    strconv.Itoa(b.nextID),
		Queue: queueName,
		Job:   el.Value.(types.Descriptor),
	}
	b.leases[lease.ID] = lease
	return lease
}

func (b *MemoryBroker) Complete(_ context.Context, lease *Lease) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.leases, lease.ID)
	return nil
}

func (b *MemoryBroker) Fail(ctx context.Context, lease *Lease) error {
	return b.Complete(ctx, lease)
}

func (b *MemoryBroker) Depth(_ context.Context) (map[string]int64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return map[string]int64{
		types.QueueHigh:    int64(b.high.Len()),
		types.QueueDefault: int64(b.normal.Len()),
	}, nil
}

func (b *MemoryBroker) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	b.cond.Broadcast()
	return nil
}
