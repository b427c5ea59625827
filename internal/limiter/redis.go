package limiter

import (
	"context"
	"encoding/hex"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisClient is the subset of go-redis used by the Redis limiter.
type RedisClient interface {
	Incr(ctx context.Context, key string) *redis.IntCmd
	Expire(ctx context.Context, key string, expiration time.Duration) *redis.BoolCmd
	Set(ctx context.Context, key string, value any, expiration time.Duration) *redis.StatusCmd
	PTTL(ctx context.Context, key string) *redis.DurationCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
}

// Redis keeps counters as expiring keys: login:fails:{user}:{ip} and login:block:{user}:{ip}.
type Redis struct {
	rdb    RedisClient
	policy Policy
}

// NewRedis constructs a Redis-backed limiter.
func NewRedis(rdb RedisClient, p Policy) *Redis {
	return &Redis{rdb: rdb, policy: p}
}

func redisKeys(username string, ipHash []byte) (fails, block string) {
	suffix := username + ":" + hex.EncodeToString(ipHash)
	return "login:fails:" + suffix, "login:block:" + suffix
}

// Allow reports whether a login is allowed and the remaining block time.
func (l *Redis) Allow(ctx context.Context, username string, ipHash []byte) (bool, time.Duration, error) {
	_, block := redisKeys(username, ipHash)
	ttl, err := l.rdb.PTTL(ctx, block).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return false, 0, err
	}
	// PTTL is negative for missing keys
	if ttl > 0 {
		return false, ttl, nil
	}
	return true, 0, nil
}

// Success clears the pair's counters.
func (l *Redis) Success(ctx context.Context, username string, ipHash []byte) error {
	fails, block := redisKeys(username, ipHash)
	return l.rdb.Del(ctx, fails, block).Err()
}

// Failure counts a failed attempt; the counter expires one window after the first failure.
func (l *Redis) Failure(ctx context.Context, username string, ipHash []byte) (bool, time.Duration, error) {
	fails, block := redisKeys(username, ipHash)
	n, err := l.rdb.Incr(ctx, fails).Result()
	if err != nil {
		return false, 0, err
	}
	if n == 1 {
		if err := l.rdb.Expire(ctx, fails, l.policy.Window).Err(); err != nil {
			return false, 0, err
		}
	}
	if n < int64(l.policy.MaxFails) {
		return false, 0, nil
	}
	if err := l.rdb.Set(ctx, block, 1, l.policy.BlockFor).Err(); err != nil {
		return false, 0, err
	}
	if err := l.rdb.Del(ctx, fails).Err(); err != nil {
		return false, 0, err
	}
	return true, l.policy.BlockFor, nil
}
