package api

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// TokenBucketLimiter is a simple per-key in-process token bucket.
type TokenBucketLimiter struct {
	mu      sync.Mutex
	buckets map[string]*bucket
	rate    float64 // tokens per second
	burst   int     // max tokens
	now     func() time.Time
}

type bucket struct {
	tokens float64
	last   time.Time
}

func NewTokenBucketLimiter(rate float64, burst int) *TokenBucketLimiter {
	return &TokenBucketLimiter{
		buckets: make(map[string]*bucket),
		rate:    rate,
		burst:   burst,
		now:     time.Now,
	}
}

func (rl *TokenBucketLimiter) Allow(ctx context.Context, key string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	b, exists := rl.buckets[key]
	if !exists {
		b = &bucket{
			tokens: float64(rl.burst),
			last:   rl.now(),
		}
		rl.buckets[key] = b
	}

	now := rl.now()
	elapsed := now.Sub(b.last).Seconds()
	b.last = now

	// Refill
	b.tokens += elapsed * rl.rate
	if b.tokens > float64(rl.burst) {
		b.tokens = float64(rl.burst)
	}

	// Consume
	if b.tokens >= 1 {
		b.tokens--
		return true
	}

	return false
}

// Cleanup removes old buckets to prevent memory leaks
func (rl *TokenBucketLimiter) Cleanup() {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	for key, b := range rl.buckets {
		if now.Sub(b.last) > 10*time.Minute {
			delete(rl.buckets, key)
		}
	}
}

// RedisRateLimiter is a fixed-window counter shared across instances.
// Redis being unreachable fails open: rate limiting is protection, not
// an availability dependency.
type RedisRateLimiter struct {
	client *redis.Client
	prefix string
	limit  int64
	window time.Duration
}

// INCR and EXPIRE run as one script so a half-applied window (a counter
// with no TTL, which would throttle the key forever) cannot exist.
var fixedWindowScript = redis.NewScript(`
local count = redis.call("INCR", KEYS[1])
if count == 1 then
    redis.call("EXPIRE", KEYS[1], ARGV[1])
end
return count
`)

func NewRedisRateLimiter(addr string, limit int64, window time.Duration) *RedisRateLimiter {
	rdb := redis.NewClient(&redis.Options{Addr: addr})
	return &RedisRateLimiter{
		client: rdb,
		prefix: "ratelimit:",
		limit:  limit,
		window: window,
	}
}

func (rl *RedisRateLimiter) Allow(ctx context.Context, key string) bool {
	redisKey := rl.prefix + key
	seconds := int(rl.window.Seconds())
	count, err := fixedWindowScript.Run(ctx, rl.client, []string{redisKey}, seconds).Int64()
	if err != nil {
		log.Printf("rate limiter redis error for %s: %v", key, err)
		return true
	}
	return count <= rl.limit
}

func (rl *RedisRateLimiter) Ping(ctx context.Context) error {
	return rl.client.Ping(ctx).Err()
}
