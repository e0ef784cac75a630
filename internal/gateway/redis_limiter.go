package gateway

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const redisKeyPrefix = "ghost-interviewer:ratelimit:"

// RedisLimiter shares fixed windows between server replicas. Each window is
// a counter key that expires at the window boundary. Acquire runs as one
// script so concurrent replicas never push the count past the cap.
type RedisLimiter struct {
	client redis.Cmdable
}

func NewRedisLimiter(client redis.Cmdable) *RedisLimiter {
	return &RedisLimiter{client: client}
}

// NewRedisLimiterFromURL parses a redis:// URL the way the rest of the
// server's redis clients are configured.
func NewRedisLimiterFromURL(ctx context.Context, url string) (*RedisLimiter, *redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, nil, fmt.Errorf("ping redis: %w", err)
	}
	return NewRedisLimiter(client), client, nil
}

// acquireScript counts a request unless the window is at its cap. The key
// always leaves with a TTL, so a window can never outlive its boundary.
var acquireScript = redis.NewScript(`
local max = tonumber(ARGV[1])
local n = tonumber(redis.call("GET", KEYS[1]) or "0")
if max > 0 and n >= max then
	if redis.call("PTTL", KEYS[1]) == -1 then
		redis.call("PEXPIRE", KEYS[1], ARGV[2])
	end
	return 0
end
redis.call("INCR", KEYS[1])
if redis.call("PTTL", KEYS[1]) == -1 then
	redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 1
`)

func (l *RedisLimiter) Acquire(ctx context.Context, key string, limit Limit) (bool, error) {
	k := redisKeyPrefix + key
	window := windowOrDefault(limit.Window).Milliseconds()
	ok, err := acquireScript.Run(ctx, l.client, []string{k}, limit.Max, window).Int()
	if err != nil {
		return false, fmt.Errorf("acquire %s: %w", k, err)
	}
	return ok == 1, nil
}

func (l *RedisLimiter) State(ctx context.Context, key string, _ Limit) (State, error) {
	k := redisKeyPrefix + key
	count, err := l.client.Get(ctx, k).Int()
	if err == redis.Nil {
		return State{}, nil
	}
	if err != nil {
		return State{}, fmt.Errorf("get %s: %w", k, err)
	}
	ttl, err := l.client.PTTL(ctx, k).Result()
	if err != nil {
		return State{}, fmt.Errorf("pttl %s: %w", k, err)
	}
	return State{Count: count, ResetAt: time.Now().Add(ttl)}, nil
}
