package ratelimit

import (
	"context"
	"fmt"

	"github.com/go-redis/redis/v8"
)

// takeScript checks and increments a client's count atomically.
var takeScript = redis.NewScript(`
local n = tonumber(redis.call('GET', KEYS[1]) or '0')
if n >= tonumber(ARGV[1]) then
	return {n, 0}
end
n = redis.call('INCR', KEYS[1])
return {n, 1}
`)

// RedisCounter shares counts between instances through Redis. Keys live under
// prefix and are removed by Reset.
type RedisCounter struct {
	client *redis.Client
	prefix string
}

// NewRedisCounter wraps an existing client.
func NewRedisCounter(client *redis.Client, prefix string) *RedisCounter {
	if prefix == "" {
		prefix = "dugong:ratelimit:"
	}
	return &RedisCounter{client: client, prefix: prefix}
}

// DialRedis parses a redis:// URL, connects and verifies the server responds.
func DialRedis(ctx context.Context, url, prefix string) (*RedisCounter, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return NewRedisCounter(client, prefix), nil
}

// Take implements Counter.
func (c *RedisCounter) Take(ctx context.Context, clientID string, limit int64) (int64, bool, error) {
	res, err := takeScript.Run(ctx, c.client, []string{c.prefix + clientID}, limit).Slice()
	if err != nil {
		return 0, false, fmt.Errorf("redis take: %w", err)
	}
	if len(res) != 2 {
		return 0, false, fmt.Errorf("redis take: unexpected reply %v", res)
	}
	n, _ := res[0].(int64)
	ok, _ := res[1].(int64)
	return n, ok == 1, nil
}

// Reset implements Counter by deleting every key under the prefix.
func (c *RedisCounter) Reset(ctx context.Context) error {
	var cursor uint64
	for {
		keys, next, err := c.client.Scan(ctx, cursor, c.prefix+"*", 500).Result()
		if err != nil {
			return fmt.Errorf("redis scan: %w", err)
		}
		if len(keys) > 0 {
			if err := c.client.Del(ctx, keys...).Err(); err != nil {
				return fmt.Errorf("redis del: %w", err)
			}
		}
		cursor = next
		if cursor == 0 {
			return nil
		}
	}
}

// Ping checks the connection.
func (c *RedisCounter) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

// Close closes the underlying client.
func (c *RedisCounter) Close() error {
	return c.client.Close()
}
