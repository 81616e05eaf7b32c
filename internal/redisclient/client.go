package redisclient

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/go-redis/redis/v8"
)

// releaseLeaseScript deletes a lease only when the caller still holds it,
// so an expired claim taken over by another worker is never released by
// the original holder.
const releaseLeaseScript = `
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`

type Client struct {
	rdb           *redis.Client
	releaseScript *redis.Script
}

// NewClient creates a new Redis client
func NewClient(addr, password string, db int) (*Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	return &Client{
		rdb:           rdb,
		releaseScript: redis.NewScript(releaseLeaseScript),
	}, nil
}

// GetClient returns the underlying Redis client
func (c *Client) GetClient() *redis.Client {
	return c.rdb
}

// Close closes the Redis connection
func (c *Client) Close() error {
	return c.rdb.Close()
}

// CacheStock mirrors a stock count for fast reads. Postgres stays the
// authority; the mirror self-heals through the TTL.
func (c *Client) CacheStock(ctx context.Context, productID int64, available int, ttl time.Duration) error {
	key := fmt.Sprintf("stock:%d", productID)
	return c.rdb.Set(ctx, key, available, ttl).Err()
}

// GetCachedStock returns the mirrored count; found is false on a miss.
func (c *Client) GetCachedStock(ctx context.Context, productID int64) (available int, found bool, err error) {
	key := fmt.Sprintf("stock:%d", productID)
	val, err := c.rdb.Get(ctx, key).Result()
	if err == redis.Nil {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	available, err = strconv.Atoi(val)
	if err != nil {
		return 0, false, fmt.Errorf("corrupt stock cache entry: %w", err)
	}
	return available, true, nil
}

// InvalidateStock drops the mirror after a write-through mutation.
func (c *Client) InvalidateStock(ctx context.Context, productID int64) error {
	return c.rdb.Del(ctx, fmt.Sprintf("stock:%d", productID)).Err()
}

// AcquireLease claims a key for holder with an expiry. A crashed worker's
// claim expires on its own; no transaction is held open for the sweep.
func (c *Client) AcquireLease(ctx context.Context, key, holder string, ttl time.Duration) (bool, error) {
	return c.rdb.SetNX(ctx, fmt.Sprintf("lease:%s", key), holder, ttl).Result()
}

// ReleaseLease gives up a claim, but only if holder still owns it.
func (c *Client) ReleaseLease(ctx context.Context, key, holder string) error {
	_, err := c.releaseScript.Run(ctx, c.rdb, []string{fmt.Sprintf("lease:%s", key)}, holder).Result()
	return err
}
