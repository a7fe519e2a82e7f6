package cache

import (
	"context"
	"time"

	pkgerrors "github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
)

// RedisStore implements Store on a shared redis client. The client is
// expected to be connection pooled; one RedisStore may serve all request
// handlers concurrently.
type RedisStore struct {
	client *redis.Client
}

var _ Store = (*RedisStore)(nil)

// NewRedisStore wraps an already constructed redis client.
func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

func (s *RedisStore) Get(ctx context.Context, key string) (string, bool, error) {
	value, err := s.client.Get(ctx, key).Result()
	if err != nil {
		if pkgerrors.Is(err, redis.Nil) {
			return "", false, nil
		}
		return "", false, pkgerrors.Wrap(err, "[RedisStore.Get] redis get")
	}
	return value, true, nil
}

func (s *RedisStore) Set(ctx context.Context, key string, value string, ttl time.Duration) error {
	if err := s.client.Set(ctx, key, value, ttl).Err(); err != nil {
		return pkgerrors.Wrap(err, "[RedisStore.Set] redis set")
	}
	return nil
}
