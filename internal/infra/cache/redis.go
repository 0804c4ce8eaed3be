package cache

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"

	"schoolpay/internal/domain"
)

// RedisSessions implements domain.SessionCache on Redis.
type RedisSessions struct {
	client *redis.Client
}

// NewRedisSessions creates the cache.
func NewRedisSessions(client *redis.Client) *RedisSessions {
	return &RedisSessions{client: client}
}

// Set stores a value with a TTL.
func (c *RedisSessions) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return c.client.Set(ctx, key, value, ttl).Err()
}

// Get returns the value or domain.ErrSessionNotFound.
func (c *RedisSessions) Get(ctx context.Context, key string) ([]byte, error) {
	data, err := c.client.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, domain.ErrSessionNotFound
		}
		return nil, err
	}
	return data, nil
}

// Delete removes the key.
func (c *RedisSessions) Delete(ctx context.Context, key string) error {
	return c.client.Del(ctx, key).Err()
}

var _ domain.SessionCache = (*RedisSessions)(nil)
