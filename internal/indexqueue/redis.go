package indexqueue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisQueue is a Redis list: producers LPUSH, consumers BRPOP.
type RedisQueue struct {
	client *redis.Client
	key    string
}

// NewRedisQueue creates a queue on key. Key may be empty.
func NewRedisQueue(client *redis.Client, key string) *RedisQueue {
	if key == "" {
		key = "regdocs:index-jobs"
	}
	return &RedisQueue{client: client, key: key}
}

func (q *RedisQueue) Publish(ctx context.Context, job IndexJob) error {
	b, err := job.Encode()
	if err != nil {
		return fmt.Errorf("encode index job: %w", err)
	}
	return q.client.LPush(ctx, q.key, b).Err()
}

func (q *RedisQueue) Pop(ctx context.Context, timeout time.Duration) (IndexJob, error) {
	res, err := q.client.BRPop(ctx, timeout, q.key).Result()
	if errors.Is(err, redis.Nil) {
		return IndexJob{}, ErrEmpty
	}
	if err != nil {
		return IndexJob{}, err
	}
	// BRPOP replies [key, value]
	if len(res) != 2 {
		return IndexJob{}, fmt.Errorf("unexpected BRPOP reply of %d elements", len(res))
	}
	return Decode([]byte(res[1]))
}

func (q *RedisQueue) Len(ctx context.Context) (int64, error) {
	return q.client.LLen(ctx, q.key).Result()
}
