package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

var fixedWindowScript = redis.NewScript(`
local count = redis.call('INCR', KEYS[1])
if count == 1 then
    redis.call('PEXPIRE', KEYS[1], ARGV[1])
end
local ttl = redis.call('PTTL', KEYS[1])
if ttl < 0 then
    redis.call('PEXPIRE', KEYS[1], ARGV[1])
    ttl = tonumber(ARGV[1])
end
return { count, ttl }
`)

// RedisStore is a Store shared across processes through Redis.
type RedisStore struct {
	rdb    *redis.Client
	prefix string
}

// NewRedisStore creates a RedisStore. Keys are namespaced by prefix.
func NewRedisStore(rdb *redis.Client, prefix string) *RedisStore {
	return &RedisStore{rdb: rdb, prefix: prefix}
}

// Allow records a hit for key and reports whether it fits within limit.
func (s *RedisStore) Allow(ctx context.Context, key string, limit Limit) (Result, error) {
	k := s.prefix + ":" + windowKey(key, limit)
	vals, err := fixedWindowScript.Run(ctx, s.rdb, []string{k}, limit.Period.Milliseconds()).Int64Slice()
	if err != nil {
		return Result{}, fmt.Errorf("running rate limit script: %w", err)
	}
	if len(vals) != 2 {
		return Result{}, fmt.Errorf("unexpected rate limit script result: %v", vals)
	}

	count, ttl := int(vals[0]), time.Duration(vals[1])*time.Millisecond
	res := Result{Allowed: count <= limit.Count, Limit: limit.Count}
	if res.Allowed {
		res.Remaining = limit.Count - count
	} else {
		res.RetryAfter = ttl
	}
	return res, nil
}
