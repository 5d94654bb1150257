package fanout

import (
	"context"

	"github.com/redis/go-redis/v9"

	"github.com/heliosrun/helios/pkg/types"
)

// RedisSource subscribes to a task's log channel (types.LogChannel) on a
// shared Redis connection, one PSUBSCRIBE-less Subscribe per task.
type RedisSource struct {
	rdb *redis.Client
}

// NewRedisSource wraps an existing Redis client for fan-out subscriptions.
func NewRedisSource(rdb *redis.Client) *RedisSource {
	return &RedisSource{rdb: rdb}
}

func (s *RedisSource) Subscribe(ctx context.Context, taskID string) (<-chan string, func()) {
	pubsub := s.rdb.Subscribe(ctx, types.LogChannel(taskID))

	out := make(chan string, subscriberBuffer)
	go func() {
		defer close(out)
		ch := pubsub.Channel()
		for {
			select {
			case msg, ok := <-ch:
				if !ok {
					return
				}
				select {
				case out <- msg.Payload:
				case <-ctx.Done():
					return
				}
			case <-ctx.Done():
				return
			}
		}
	}()

	return out, func() { _ = pubsub.Close() }
}
