// Package queue implements the Helios job broker: a two-priority queue with
// at-most-once leasing and crash recovery, backed by Redis Streams consumer
// groups.
package queue

import (
	"context"

	"github.com/heliosrun/helios/pkg/types"
)

// Lease represents a job handed to a single worker. The worker must call
// Complete or Fail exactly once to release it.
type Lease struct {
	ID    string // broker-internal message identifier, opaque to callers
	Queue string // types.QueueHigh or types.QueueDefault
	Job   types.Descriptor
}

// Broker is the job queue's interface: admission enqueues a job, a worker
// leases the next one (high priority drained strictly before default), and
// releases it on completion or failure.
type Broker interface {
	// Enqueue admits job onto the queue selected by job.Priority.
	Enqueue(ctx context.Context, job types.Descriptor) error

	// Lease blocks until a job is available, returning ownership of it to
	// workerID. If a previously leased job timed out without being
	// completed, it is redelivered here before any new job.
	Lease(ctx context.Context, workerID string) (*Lease, error)

	// Complete releases lease after its job ran to a terminal state.
	Complete(ctx context.Context, lease *Lease) error

	// Fail releases lease after its job could not be run at all. Helios
	// never retries user code (spec.md Non-goals), so Fail behaves like
	// Complete; it exists as a distinct call for observability.
	Fail(ctx context.Context, lease *Lease) error

	// Depth reports the approximate number of undelivered jobs per queue.
	Depth(ctx context.Context) (map[string]int64, error)

	// Close releases any resources held by the broker.
	Close() error
}
