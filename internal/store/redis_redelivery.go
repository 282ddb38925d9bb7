package store

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

var redeliveryIncrementScript = redis.NewScript(`
local current = redis.call("INCR", KEYS[1])
redis.call("PEXPIRE", KEYS[1], ARGV[1])
return current
`)

// RedisRedeliveryTracker counts re-queues per message in Redis so the limit holds
// across every replica consuming the same queue.
type RedisRedeliveryTracker struct {
	client redis.UniversalClient
	prefix string
	ttl    time.Duration
}

func NewRedisRedeliveryTracker(client redis.UniversalClient, prefix string, ttl time.Duration) *RedisRedeliveryTracker {
	trimmedPrefix := strings.TrimSpace(prefix)
	if trimmedPrefix == "" {
		trimmedPrefix = "risk_analysis:redelivery"
	}
	trimmedPrefix = strings.TrimSuffix(trimmedPrefix, ":")
	if ttl < time.Second {
		ttl = time.Hour
	}

	return &RedisRedeliveryTracker{
		client: client,
		prefix: trimmedPrefix,
		ttl:    ttl,
	}
}

func (r *RedisRedeliveryTracker) key(messageKey string) string {
	return fmt.Sprintf("%s:%s", r.prefix, messageKey)
}

// Increment bumps the counter for messageKey and refreshes its expiry.
func (r *RedisRedeliveryTracker) Increment(ctx context.Context, messageKey string) (int, error) {
	raw, err := redeliveryIncrementScript.Run(ctx, r.client, []string{r.key(messageKey)}, r.ttl.Milliseconds()).Result()
	if err != nil {
		return 0, err
	}
	count, ok := raw.(int64)
	if !ok {
		return 0, fmt.Errorf("unexpected redis redelivery response type: %T", raw)
	}
	return int(count), nil
}

// Reset forgets the counter for messageKey.
func (r *RedisRedeliveryTracker) Reset(ctx context.Context, messageKey string) error {
	return r.client.Del(ctx, r.key(messageKey)).Err()
}
