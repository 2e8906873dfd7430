package redisclient

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/go-redis/redis/v8"
)

//go:embed scripts/session_cas.lua
var sessionCASScript string

//go:embed scripts/release_lock.lua
var releaseLockScript string

type Client struct {
	rdb          *redis.Client
	casScript    *redis.Script
	unlockScript *redis.Script
}

// NewClient creates a new Redis client with Lua scripts loaded
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

	return NewFromRedis(rdb), nil
}

// NewFromRedis wraps an existing go-redis client
func NewFromRedis(rdb *redis.Client) *Client {
	return &Client{
		rdb:          rdb,
		casScript:    redis.NewScript(sessionCASScript),
		unlockScript: redis.NewScript(releaseLockScript),
	}
}

// Ping checks the connection
func (c *Client) Ping(ctx context.Context) error {
	return c.rdb.Ping(ctx).Err()
}

// Close closes the Redis connection
func (c *Client) Close() error {
	return c.rdb.Close()
}

// GetSession returns the stored payload and version of a session.
// A missing or expired session yields version 0 and a nil payload.
func (c *Client) GetSession(ctx context.Context, key string) ([]byte, int64, error) {
	vals, err := c.rdb.HMGet(ctx, key, "version", "data").Result()
	if err != nil {
		return nil, 0, fmt.Errorf("get session failed: %w", err)
	}

	rawVersion, ok := vals[0].(string)
	if !ok {
		return nil, 0, nil
	}
	version, err := strconv.ParseInt(rawVersion, 10, 64)
	if err != nil {
		return nil, 0, fmt.Errorf("corrupt session version %q: %w", rawVersion, err)
	}
	data, _ := vals[1].(string)

	return []byte(data), version, nil
}

// CompareAndSetSession writes payload as version expected+1 only when the
// stored version is still expected. The TTL is reset on every write.
func (c *Client) CompareAndSetSession(ctx context.Context, key string, expected int64, payload []byte, ttl time.Duration) (bool, error) {
	result, err := c.casScript.Run(ctx, c.rdb, []string{key},
		expected, expected+1, payload, ttl.Milliseconds()).Result()
	if err != nil {
		return false, fmt.Errorf("session cas script failed: %w", err)
	}

	swapped, ok := result.(int64)
	if !ok {
		return false, fmt.Errorf("unexpected script result type")
	}

	return swapped == 1, nil
}

// DeleteSession removes a session
func (c *Client) DeleteSession(ctx context.Context, key string) error {
	return c.rdb.Del(ctx, key).Err()
}

// AcquireLock acquires a distributed lock owned by token
func (c *Client) AcquireLock(ctx context.Context, lockKey, token string, ttl time.Duration) (bool, error) {
	return c.rdb.SetNX(ctx, fmt.Sprintf("lock:%s", lockKey), token, ttl).Result()
}

// ReleaseLock releases a distributed lock if token still owns it
func (c *Client) ReleaseLock(ctx context.Context, lockKey, token string) error {
	_, err := c.unlockScript.Run(ctx, c.rdb, []string{fmt.Sprintf("lock:%s", lockKey)}, token).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("release lock script failed: %w", err)
	}
	return nil
}
