package utils

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisConfig controls redis client behavior.
// Keep it config-driven; defaults should be safe and conservative.
type RedisConfig struct {
	Addr string

	// Basic timeouts
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration

	// Pool tuning
	PoolSize        int
	MinIdleConns    int
	PoolTimeout     time.Duration
	ConnMaxIdleTime time.Duration
	ConnMaxLifetime time.Duration

	PingTimeout time.Duration
}

func (c RedisConfig) withDefaults() RedisConfig {
	out := c
	if out.DialTimeout <= 0 {
		out.DialTimeout = 3 * time.Second
	}
	if out.ReadTimeout <= 0 {
		out.ReadTimeout = 2 * time.Second
	}
	if out.WriteTimeout <= 0 {
		out.WriteTimeout = 2 * time.Second
	}
	if out.PoolSize <= 0 {
		out.PoolSize = 20
	}
	if out.MinIdleConns < 0 {
		out.MinIdleConns = 0
	}
	if out.PoolTimeout <= 0 {
		out.PoolTimeout = 4 * time.Second
	}
	if out.ConnMaxIdleTime <= 0 {
		out.ConnMaxIdleTime = 5 * time.Minute
	}
	if out.ConnMaxLifetime <= 0 {
		out.ConnMaxLifetime = 30 * time.Minute
	}
	if out.PingTimeout <= 0 {
		out.PingTimeout = 2 * time.Second
	}
	return out
}

// OpenRedis initializes a Redis client and validates connectivity via PING.
func OpenRedis(ctx context.Context, cfg RedisConfig) (*redis.Client, error) {
	cfg = cfg.withDefaults()
	if cfg.Addr == "" {
		return nil, fmt.Errorf("redis addr is required")
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:            cfg.Addr,
		DialTimeout:     cfg.DialTimeout,
		ReadTimeout:     cfg.ReadTimeout,
		WriteTimeout:    cfg.WriteTimeout,
		PoolSize:        cfg.PoolSize,
		MinIdleConns:    cfg.MinIdleConns,
		PoolTimeout:     cfg.PoolTimeout,
		ConnMaxIdleTime: cfg.ConnMaxIdleTime,
		ConnMaxLifetime: cfg.ConnMaxLifetime,
	})

	pingCtx, cancel := context.WithTimeout(ctx, cfg.PingTimeout)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}
	return rdb, nil
}

var exclusiveAcquireScript = redis.NewScript(`
-- KEYS[1] = lock key
-- ARGV[1] = owner token
-- ARGV[2] = ttl_ms (int)
--
-- Returns:
--  1 if acquired
--  0 if rejected (held by someone else)
if redis.call('SET', KEYS[1], ARGV[1], 'NX', 'PX', ARGV[2]) then
  return 1
end
-- Re-acquire by the same owner refreshes the TTL.
if redis.call('GET', KEYS[1]) == ARGV[1] then
  redis.call('PEXPIRE', KEYS[1], ARGV[2])
  return 1
end
return 0
`)

var exclusiveReleaseScript = redis.NewScript(`
-- KEYS[1] = lock key
-- ARGV[1] = owner token
-- Only the owner may release.
if redis.call('GET', KEYS[1]) == ARGV[1] then
  redis.call('DEL', KEYS[1])
end
return 1
`)

// AcquireExclusive attempts to take a cross-process exclusive lock.
// This is intended for single-holder guards (e.g., one live call per
// executive).
//
// Safety properties:
// - Atomic acquire using Lua.
// - TTL prevents leaked locks on process crash.
// - Owner token prevents releasing someone else's lock.
func AcquireExclusive(ctx context.Context, rdb *redis.Client, key, owner string, ttl time.Duration) (bool, error) {
	if rdb == nil {
		return false, fmt.Errorf("redis client is nil")
	}
	if key == "" {
		return false, fmt.Errorf("key is required")
	}
	if owner == "" {
		return false, fmt.Errorf("owner is required")
	}
	if ttl <= 0 {
		return false, fmt.Errorf("ttl must be > 0")
	}

	res, err := exclusiveAcquireScript.Run(ctx, rdb, []string{key}, owner, ttl.Milliseconds()).Int()
	if err != nil {
		return false, err
	}
	return res == 1, nil
}

// ReleaseExclusive releases a previously acquired lock held by owner.
func ReleaseExclusive(ctx context.Context, rdb *redis.Client, key, owner string) error {
	if rdb == nil {
		return fmt.Errorf("redis client is nil")
	}
	if key == "" {
		return fmt.Errorf("key is required")
	}
	_, err := exclusiveReleaseScript.Run(ctx, rdb, []string{key}, owner).Result()
	return err
}
