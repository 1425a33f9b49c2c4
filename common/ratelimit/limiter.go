package ratelimit

import (
	"context"
	_ "embed"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

//go:embed rate_limit.lua
var rateLimitScript string

// Logger interface for logging
type Logger interface {
	Info(msg string, keysAndValues ...interface{})
	Error(msg string, keysAndValues ...interface{})
	Warn(msg string, keysAndValues ...interface{})
	Debug(msg string, keysAndValues ...interface{})
}

// RateLimitResult contains the result of a rate limit check
type RateLimitResult struct {
	Allowed           bool      // Whether the request is allowed
	CurrentCount      int64     // Current count in the window
	Limit             int64     // The limit that was checked
	Remaining         int64     // Requests left in the window
	ResetAt           time.Time // When the current window ends
	RetryAfterSeconds int64     // Seconds until the limit resets (0 if allowed)
}

// Store increments a fixed-window counter and reports the outcome
type Store interface {
	Hit(ctx context.Context, key string, policy Policy) (*RateLimitResult, error)
}

// RateLimiter provides per-client rate limiting on top of a Store
type RateLimiter struct {
	store  Store
	policy Policy
	logger Logger
}

// NewRateLimiter creates a limiter enforcing policy through store
func NewRateLimiter(store Store, policy Policy, logger Logger) *RateLimiter {
	return &RateLimiter{
		store:  store,
		policy: policy,
		logger: logger,
	}
}

// Policy returns the configured policy
func (r *RateLimiter) Policy() Policy {
	return r.policy
}

// CheckClientLimit counts one request from client against the policy
func (r *RateLimiter) CheckClientLimit(ctx context.Context, client string) (*RateLimitResult, error) {
	key := clientKey(client)
	result, err := r.store.Hit(ctx, key, r.policy)
	if err != nil {
		r.logger.Error("rate limit check failed", "key", key, "error", err)
		return nil, fmt.Errorf("rate limit check failed: %w", err)
	}

	if !result.Allowed {
		r.logger.Warn("rate limit exceeded",
			"key", key,
			"current", result.CurrentCount,
			"limit", result.Limit,
			"retry_after", result.RetryAfterSeconds)
	} else {
		r.logger.Debug("rate limit check passed",
			"key", key,
			"current", result.CurrentCount,
			"limit", result.Limit)
	}
	return result, nil
}

// RedisStore keeps counters in Redis, shared by every replica
type RedisStore struct {
	redis  *redis.Client
	script *redis.Script
	now    func() time.Time
}

// NewRedisStore creates a Redis-backed store with the embedded Lua script
func NewRedisStore(redisClient *redis.Client) *RedisStore {
	return &RedisStore{
		redis:  redisClient,
		script: redis.NewScript(rateLimitScript),
		now:    time.Now,
	}
}

// Hit executes the rate limit Lua script atomically
func (s *RedisStore) Hit(ctx context.Context, key string, policy Policy) (*RateLimitResult, error) {
	result, err := s.script.Run(ctx, s.redis, []string{key}, policy.Limit, policy.windowSeconds()).Result()
	if err != nil {
		return nil, err
	}

	// Parse result array: {allowed, current_count, limit, ttl_seconds}
	resultArray, ok := result.([]interface{})
	if !ok || len(resultArray) != 4 {
		return nil, fmt.Errorf("unexpected script result format")
	}

	values := make([]int64, 4)
	for i, v := range resultArray {
		n, ok := v.(int64)
		if !ok {
			return nil, fmt.Errorf("unexpected script result element %d: %T", i, v)
		}
		values[i] = n
	}

	return buildResult(values[0] == 1, values[1], values[2], time.Duration(values[3])*time.Second, s.now()), nil
}

// MemoryStore keeps counters in process. Limits are per replica.
type MemoryStore struct {
	mu      sync.Mutex
	windows map[string]*memoryWindow
	now     func() time.Time
}

const sweepThreshold = 4096

type memoryWindow struct {
	count   int64
	resetAt time.Time
}

// NewMemoryStore creates an in-process store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		windows: make(map[string]*memoryWindow),
		now:     time.Now,
	}
}

// WithClock overrides the time source (tests)
func (s *MemoryStore) WithClock(now func() time.Time) *MemoryStore {
	s.now = now
	return s
}

// Hit increments the counter for key, starting a new window when the old one expired
func (s *MemoryStore) Hit(_ context.Context, key string, policy Policy) (*RateLimitResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	w, ok := s.windows[key]
	if !ok || !now.Before(w.resetAt) {
		if len(s.windows) >= sweepThreshold {
			s.sweep(now)
		}
		w = &memoryWindow{resetAt: now.Add(time.Duration(policy.windowSeconds()) * time.Second)}
		s.windows[key] = w
	}
	w.count++

	return buildResult(w.count <= policy.Limit, w.count, policy.Limit, w.resetAt.Sub(now), now), nil
}

// sweep drops expired windows. Caller holds mu.
func (s *MemoryStore) sweep(now time.Time) {
	for k, w := range s.windows {
		if !now.Before(w.resetAt) {
			delete(s.windows, k)
		}
	}
}

func buildResult(allowed bool, count, limit int64, ttl time.Duration, now time.Time) *RateLimitResult {
	if ttl < 0 {
		ttl = 0
	}
	remaining := limit - count
	if remaining < 0 {
		remaining = 0
	}

	res := &RateLimitResult{
		Allowed:      allowed,
		CurrentCount: count,
		Limit:        limit,
		Remaining:    remaining,
		ResetAt:      now.Add(ttl),
	}
	if !allowed {
		res.RetryAfterSeconds = int64((ttl + time.Second - 1) / time.Second)
		if res.RetryAfterSeconds < 1 {
			res.RetryAfterSeconds = 1
		}
	}
	return res
}
