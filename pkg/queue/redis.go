package queue

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/heliosrun/helios/pkg/log"
	"github.com/heliosrun/helios/pkg/metrics"
	"github.com/heliosrun/helios/pkg/types"
)

const (
	consumerGroup = "helios-workers"

	// reclaimIdle is how long a pending entry may sit unacknowledged before
	// it is considered abandoned (its worker crashed or was killed) and is
	// claimed by another consumer.
	reclaimIdle = 5 * time.Minute

	// pollBlock bounds how long a single Lease call blocks on the
	// high-priority stream before re-checking for reclaimable work and
	// looping back. Keeping this short preserves strict high-before-default
	// ordering even when high-priority jobs arrive while a worker is
	// blocked waiting on it.
	pollBlock = 2 * time.Second
)

func streamKey(queue string) string { return "helios:queue:" + queue }

// RedisBroker is the Broker implementation backing production deployments.
// It uses one Redis Stream per priority, both read through the same
// consumer group so every worker competes for the same backlog.
type RedisBroker struct {
	rdb      *redis.Client
	consumer string
}

// NewRedisBroker constructs a RedisBroker and ensures both priority streams
// and their shared consumer group exist.
func NewRedisBroker(ctx context.Context, rdb *redis.Client, consumerID string) (*RedisBroker, error) {
	b := &RedisBroker{rdb: rdb, consumer: consumerID}
	for _, q := range []string{types.QueueHigh, types.QueueDefault} {
		err := rdb.XGroupCreateMkStream(ctx, streamKey(q), consumerGroup, "0").Err()
		if err != nil && !isBusyGroup(err) {
			return nil, fmt.Errorf("create consumer group for %s: %w", q, err)
		}
	}
	return b, nil
}

func isBusyGroup(err error) bool {
	return err != nil && err.Error() == "BUSYGROUP Consumer Group name already exists"
}

func (b *RedisBroker) Enqueue(ctx context.Context, job types.Descriptor) error {
	queue := string(job.Priority)
	if queue == "" {
		queue = types.QueueDefault
	}
	_, err := b.rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: streamKey(queue),
		Values: map[string]interface{}{
			"task_id":    job.TaskID,
			"work_dir":   job.WorkDir,
			"entrypoint": job.Entrypoint,
			"priority":   queue,
			"name":       job.Name,
			"cpu":        job.Resources.CPUCores,
			"mem_bytes":  job.Resources.MemoryBytes,
			"created_at": job.CreatedAt.Format(time.RFC3339Nano),
		},
	}).Result()
	if err != nil {
		return fmt.Errorf("enqueue %s job %s: %w", queue, job.TaskID, err)
	}
	metrics.QueueDepth.WithLabelValues(queue).Inc()
	return nil
}

func (b *RedisBroker) Lease(ctx context.Context, workerID string) (*Lease, error) {
	for {
		// Redelivered work takes precedence over fresh work, and high takes
		// precedence over default, so a reclaim check runs before every
		// fresh read at each priority level.
		for _, q := range []string{types.QueueHigh, types.QueueDefault} {
			lease, ok, err := b.reclaim(ctx, q)
			if err != nil {
				return nil, err
			}
			if ok {
				return lease, nil
			}
		}

		lease, ok, err := b.readNew(ctx, types.QueueHigh, workerID, -1)
		if err != nil {
			return nil, err
		}
		if ok {
			return lease, nil
		}

		lease, ok, err = b.readNew(ctx, types.QueueDefault, workerID, -1)
		if err != nil {
			return nil, err
		}
		if ok {
			return lease, nil
		}

		// Nothing ready on either stream. Block briefly on high so a
		// newly arriving high-priority job preempts the wait without
		// starving default-priority work indefinitely.
		lease, ok, err = b.readNew(ctx, types.QueueHigh, workerID, pollBlock)
		if err != nil {
			return nil, err
		}
		if ok {
			return lease, nil
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}
	}
}

func (b *RedisBroker) readNew(ctx context.Context, queue, workerID string, block time.Duration) (*Lease, bool, error) {
	res, err := b.rdb.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    consumerGroup,
		Consumer: workerID,
		Streams:  []string{streamKey(queue), ">"},
		Count:    1,
		Block:    block,
	}).Result()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("read %s stream: %w", queue, err)
	}
	if len(res) == 0 || len(res[0].Messages) == 0 {
		return nil, false, nil
	}
	msg := res[0].Messages[0]
	job, err := decodeJob(msg)
	if err != nil {
		log.Errorf("discarding malformed job on "+queue+" stream", err)
		_ = b.rdb.XAck(ctx, streamKey(queue), consumerGroup, msg.ID).Err()
		return nil, false, nil
	}
	metrics.QueueDepth.WithLabelValues(queue).Dec()
	return &Lease{ID: msg.ID, Queue: queue, Job: job}, true, nil
}

// reclaim looks for a pending entry idle longer than reclaimIdle (a worker
// that took a job and then crashed before acking it) and hands it to this
// consumer.
func (b *RedisBroker) reclaim(ctx context.Context, queue string) (*Lease, bool, error) {
	pending, err := b.rdb.XPendingExt(ctx, &redis.XPendingExtArgs{
		Stream: streamKey(queue),
		Group:  consumerGroup,
		Idle:   reclaimIdle,
		Start:  "-",
		End:    "+",
		Count:  1,
	}).Result()
	if err != nil || len(pending) == 0 {
		return nil, false, nil
	}

	claimed, err := b.rdb.XClaim(ctx, &redis.XClaimArgs{
		Stream:   streamKey(queue),
		Group:    consumerGroup,
		Consumer: b.consumer,
		MinIdle:  reclaimIdle,
		Messages: []string{pending[0].ID},
	}).Result()
	if err != nil || len(claimed) == 0 {
		return nil, false, nil
	}

	job, err := decodeJob(claimed[0])
	if err != nil {
		log.Errorf("discarding malformed reclaimed job on "+queue+" stream", err)
		_ = b.rdb.XAck(ctx, streamKey(queue), consumerGroup, claimed[0].ID).Err()
		return nil, false, nil
	}
	return &Lease{ID: claimed[0].ID, Queue: queue, Job: job}, true, nil
}

func (b *RedisBroker) Complete(ctx context.Context, lease *Lease) error {
	return b.ack(ctx, lease)
}

func (b *RedisBroker) Fail(ctx context.Context, lease *Lease) error {
	return b.ack(ctx, lease)
}

func (b *RedisBroker) ack(ctx context.Context, lease *Lease) error {
	if err := b.rdb.XAck(ctx, streamKey(lease.Queue), consumerGroup, lease.ID).Err(); err != nil {
		return fmt.Errorf("ack %s: %w", lease.ID, err)
	}
	b.rdb.XDel(ctx, streamKey(lease.Queue), lease.ID)
	return nil
}

func (b *RedisBroker) Depth(ctx context.Context) (map[string]int64, error) {
	depths := make(map[string]int64, 2)
	for _, q := range []string{types.QueueHigh, types.QueueDefault} {
		n, err := b.rdb.XLen(ctx, streamKey(q)).Result()
		if err != nil {
			return nil, fmt.Errorf("depth of %s: %w", q, err)
		}
		depths[q] = n
	}
	return depths, nil
}

func (b *RedisBroker) Close() error {
	return b.rdb.Close()
}

func decodeJob(msg redis.XMessage) (types.Descriptor, error) {
	get := func(key string) string {
		v, _ := msg.Values[key].(string)
		return v
	}
	cpu, _ := strconv.Atoi(get("cpu"))
	mem, _ := strconv.ParseInt(get("mem_bytes"), 10, 64)
	createdAt, _ := time.Parse(time.RFC3339Nano, get("created_at"))

	taskID := get("task_id")
	if taskID == "" {
		return types.Descriptor{}, fmt.Errorf("job message %s missing task_id", msg.ID)
	}

	return types.Descriptor{
		TaskID:     taskID,
		WorkDir:    get("work_dir"),
		Entrypoint: get("entrypoint"),
		Priority:   types.Priority(get("priority")),
		Name:       get("name"),
		Resources: types.Resources{
			CPUCores:    cpu,
			MemoryBytes: mem,
		},
		CreatedAt: createdAt,
	}, nil
}
