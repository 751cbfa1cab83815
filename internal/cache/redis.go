package cache

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/alignhq/alignment-protocol/internal/config"
	"github.com/redis/go-redis/v9"
)

type RedisCache struct {
	Client *redis.Client
}

// NewRedisCache initializes Redis client from config.
// Only Addr is mandatory, Password/DB are optional.
func NewRedisCache(cfg *config.Config) *RedisCache {
	opts := &redis.Options{
		Addr: cfg.Redis.Addr,
	}
	if cfg.Redis.Password != "" {
		opts.Password = cfg.Redis.Password
	}
	if cfg.Redis.DB != 0 {
		opts.DB = cfg.Redis.DB
	}
	return &RedisCache{Client: redis.NewClient(opts)}
}

func (c *RedisCache) Ping(ctx context.Context) error {
	return c.Client.Ping(ctx).Err()
}

func (c *RedisCache) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	return c.Client.Set(ctx, key, value, ttl).Err()
}

func (c *RedisCache) Get(ctx context.Context, key string) (string, error) {
	return c.Client.Get(ctx, key).Result()
}

func (c *RedisCache) Del(ctx context.Context, key string) error {
	return c.Client.Del(ctx, key).Err()
}

func (c *RedisCache) Incr(ctx context.Context, key string) (int64, error) {
	return c.Client.Incr(ctx, key).Result()
}

// KeyForUnread generates the Redis key for a participant's unread
// message count within a connection.
func (c *RedisCache) KeyForUnread(connectionID, userID uint64) string {
	return fmt.Sprintf("unread:count:%d:%d", connectionID, userID)
}

// KeyForCurrentDay generates the Redis key for a connection's current
// protocol day hint used by the client's slot cards.
func (c *RedisCache) KeyForCurrentDay(connectionID uint64) string {
	return fmt.Sprintf("connection:day:%d", connectionID)
}

// SetCurrentDay refreshes the cached protocol day with a 24h TTL.
func (c *RedisCache) SetCurrentDay(ctx context.Context, connectionID uint64, day int) error {
	return c.Client.Set(ctx, c.KeyForCurrentDay(connectionID), day, 24*time.Hour).Err()
}

// GetUnread returns the cached unread count, with a cache miss reported
// as found=false rather than an error.
func (c *RedisCache) GetUnread(ctx context.Context, connectionID, userID uint64) (int64, bool, error) {
	key := c.KeyForUnread(connectionID, userID)
	val, err := c.Client.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return 0, false, nil // cache miss
	} else if err != nil {
		return 0, false, err
	}
	// refresh TTL on access
	_ = c.Client.Expire(ctx, key, time.Hour).Err()
	n, err := strconv.ParseInt(val, 10, 64)
	if err != nil {
		return 0, false, nil
	}
	return n, true, nil
}

// SetUnread stores the unread count with a 1h TTL.
func (c *RedisCache) SetUnread(ctx context.Context, connectionID, userID uint64, count int64) error {
	key := c.KeyForUnread(connectionID, userID)
	// Always refresh TTL when updating
	return c.Client.Set(ctx, key, count, time.Hour).Err()
}

// IncrUnread bumps the unread counter after a new message, refreshing
// the TTL so active conversations stay warm.
func (c *RedisCache) IncrUnread(ctx context.Context, connectionID, userID uint64) error {
	key := c.KeyForUnread(connectionID, userID)
	if _, err := c.Client.Incr(ctx, key).Result(); err != nil {
		return err
	}
	return c.Client.Expire(ctx, key, time.Hour).Err()
}

// ResetUnread clears the counter when the participant marks the
// conversation read.
func (c *RedisCache) ResetUnread(ctx context.Context, connectionID, userID uint64) error {
	return c.Client.Del(ctx, c.KeyForUnread(connectionID, userID)).Err()
}
