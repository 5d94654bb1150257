package status

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/heliosrun/helios/pkg/types"
)

// RedisStore is the production Store, keyed as task:<task_id>:status
// (types.StatusKey).
type RedisStore struct {
	rdb   *redis.Client
	grace time.Duration // 0 disables expiry of terminal records
}

// NewRedisStore constructs a RedisStore. grace, if positive, is the TTL
// applied to a record once it reaches a terminal status.
func NewRedisStore(rdb *redis.Client, grace time.Duration) *RedisStore {
	return &RedisStore{rdb: rdb, grace: grace}
}

// detailKey holds a task's failure detail separately from its status, so
// the documented value at types.StatusKey stays the bare status string
// (spec.md §4.5 / §6: "pending|running|succeeded|failed"). Detail is never
// exposed over HTTP; it exists only for the in-process Record.
func detailKey(taskID string) string {
	return "task:" + taskID + ":detail"
}

func (s *RedisStore) Set(ctx context.Context, taskID string, status types.Status, detail string) error {
	key := types.StatusKey(taskID)
	ttl := time.Duration(0)
	if status.IsTerminal() && s.grace > 0 {
		ttl = s.grace
	}

	if err := s.rdb.Set(ctx, key, string(status), ttl).Err(); err != nil {
		return fmt.Errorf("set status for %s: %w", taskID, err)
	}

	if detail != "" {
		if err := s.rdb.Set(ctx, detailKey(taskID), detail, ttl).Err(); err != nil {
			return fmt.Errorf("set detail for %s: %w", taskID, err)
		}
	}
	return nil
}

func (s *RedisStore) Get(ctx context.Context, taskID string) (Record, error) {
	raw, err := s.rdb.Get(ctx, types.StatusKey(taskID)).Result()
	if errors.Is(err, redis.Nil) {
		return Record{}, types.ErrNotFound
	}
	if err != nil {
		return Record{}, fmt.Errorf("get status for %s: %w", taskID, err)
	}

	detail, err := s.rdb.Get(ctx, detailKey(taskID)).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return Record{}, fmt.Errorf("get detail for %s: %w", taskID, err)
	}

	return Record{TaskID: taskID, Status: types.Status(raw), Detail: detail}, nil
}
