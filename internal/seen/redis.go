package seen

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// redisKey is the set holding admitted event ids.
const redisKey = "fhirproxy:seen"

// RedisBackend stores the id set in a Redis set. Redis handles its own
// durability; Append is a single SADD.
type RedisBackend struct {
	client *redis.Client
}

// NewRedisBackend creates a backend over an existing client.
func NewRedisBackend(client *redis.Client) *RedisBackend {
	return &RedisBackend{client: client}
}

func (b *RedisBackend) Name() string { return "redis" }

func (b *RedisBackend) Load(ctx context.Context) ([]string, error) {
	ids, err := b.client.SMembers(ctx, redisKey).Result()
	if err != nil {
		return nil, fmt.Errorf("smembers %s: %w", redisKey, err)
	}
	return ids, nil
}

func (b *RedisBackend) Append(ctx context.Context, id string, snapshot []string) error {
	if err := b.client.SAdd(ctx, redisKey, id).Err(); err != nil {
		return fmt.Errorf("sadd %s: %w", redisKey, err)
	}
	return nil
}

func (b *RedisBackend) Save(ctx context.Context, snapshot []string) error {
	if len(snapshot) == 0 {
		return nil
	}
	members := make([]interface{}, len(snapshot))
	for i, id := range snapshot {
		members[i] = id
	}
	if err := b.client.SAdd(ctx, redisKey, members...).Err(); err != nil {
		return fmt.Errorf("sadd %s: %w", redisKey, err)
	}
	return nil
}
