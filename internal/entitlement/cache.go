package entitlement

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// FlagChecker is the part of the client the cache wraps.
type FlagChecker interface {
	CheckFlag(ctx context.Context, userID, flag string) (bool, error)
}

// CachedFlags fronts flag checks with a Redis TTL cache so the upload
// path does not hit the billing service on every request. Cache misses
// and Redis failures fall through to the underlying checker.
type CachedFlags struct {
	checker FlagChecker
	client  *redis.Client
	ttl     time.Duration
}

// NewCachedFlags connects to Redis and wraps the given checker.
func NewCachedFlags(checker FlagChecker, addr string, ttl time.Duration) (*CachedFlags, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         addr,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connecting to redis: %w", err)
	}

	if ttl == 0 {
		ttl = time.Minute
	}

	return &CachedFlags{
		checker: checker,
		client:  client,
		ttl:     ttl,
	}, nil
}

func flagKey(userID, flag string) string {
	return fmt.Sprintf("entitlement:%s:%s", flag, userID)
}

// CheckFlag returns the cached flag value when present, otherwise asks
// the underlying checker and caches the answer.
func (c *CachedFlags) CheckFlag(ctx context.Context, userID, flag string) (bool, error) {
	key := flagKey(userID, flag)

	cached, err := c.client.Get(ctx, key).Result()
	if err == nil {
		return cached == "1", nil
	}
	if err != redis.Nil {
		// Redis being down should not block uploads; fall through.
		return c.checker.CheckFlag(ctx, userID, flag)
	}

	value, err := c.checker.CheckFlag(ctx, userID, flag)
	if err != nil {
		return false, err
	}

	stored := "0"
	if value {
		stored = "1"
	}
	if err := c.client.Set(ctx, key, stored, c.ttl).Err(); err != nil {
		// Cache write failures are not fatal.
		return value, nil
	}

	return value, nil
}

// Close closes the Redis connection.
func (c *CachedFlags) Close() error {
	return c.client.Close()
}
