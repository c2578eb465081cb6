package security

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const failedAttemptsKeyPrefix = "audit:security:failed:"

// RedisCounter shares failure windows between instances. The window starts with the
// first INCR, which is the only one whose EXPIRE NX takes effect.
type RedisCounter struct {
	client *redis.Client
}

func NewRedisCounter(client *redis.Client) *RedisCounter {
	return &RedisCounter{client: client}
}

func (c *RedisCounter) Increment(ctx context.Context, key string, d time.Duration) (int64, error) {
	redisKey := failedAttemptsKeyPrefix + key

	var incr *redis.IntCmd
	_, err := c.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		incr = pipe.Incr(ctx, redisKey)
		pipe.ExpireNX(ctx, redisKey, d)
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("increment %s: %w", redisKey, err)
	}
	return incr.Val(), nil
}
