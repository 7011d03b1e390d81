package redis

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/redis/go-redis/v9"
	"github.com/robertarktes/movie-ticket-booking/internal/domain"
)

type Cache struct {
	client *redis.Client
}

func NewCache(client *redis.Client) *Cache {
	return &Cache{client: client}
}

func (c *Cache) Client() *redis.Client {
	return c.client
}

// GetRole returns the cached role of a user. ok is false on a cache miss.
func (c *Cache) GetRole(ctx context.Context, userID string) (role string, ok bool, err error) {
	role, err = c.client.Get(ctx, "role:"+userID).Result()
	if err == redis.Nil {
		return "", false, nil
	}
	if err != nil {
		return "", false, domain.Transient(errors.Wrap(err, "get cached role"))
	}
	return role, true, nil
}

func (c *Cache) SetRole(ctx context.Context, userID, role string, ttl time.Duration) error {
	err := c.client.Set(ctx, "role:"+userID, role, ttl).Err()
	return errors.Wrap(err, "cache role")
}

func (c *Cache) ForgetRole(ctx context.Context, userID string) error {
	return errors.Wrap(c.client.Del(ctx, "role:"+userID).Err(), "forget role")
}
