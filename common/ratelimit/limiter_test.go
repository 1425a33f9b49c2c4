package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// testLogger implements Logger interface
type testLogger struct {
	t *testing.T
}

func (l *testLogger) Info(msg string, keysAndValues ...interface{}) {
	l.t.Logf("[INFO] %s %v", msg, keysAndValues)
}

func (l *testLogger) Error(msg string, keysAndValues ...interface{}) {
	l.t.Logf("[ERROR] %s %v", msg, keysAndValues)
}

func (l *testLogger) Warn(msg string, keysAndValues ...interface{}) {
	l.t.Logf("[WARN] %s %v", msg, keysAndValues)
}

func (l *testLogger) Debug(msg string, keysAndValues ...interface{}) {
	l.t.Logf("[DEBUG] %s %v", msg, keysAndValues)
}

func setupRedisStore(t *testing.T) (*RedisStore, *miniredis.Miniredis) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewRedisStore(client), mr
}

func TestRedisStore_AllowsUpToLimit(t *testing.T) {
	store, _ := setupRedisStore(t)
	limiter := NewRateLimiter(store, Policy{Limit: 3, Window: time.Minute}, &testLogger{t: t})
	ctx := context.Background()

	for i := int64(1); i <= 3; i++ {
		res, err := limiter.CheckClientLimit(ctx, "10.0.0.1")
		require.NoError(t, err)
		assert.True(t, res.Allowed, "request %d should be allowed", i)
		assert.Equal(t, i, res.CurrentCount)
		assert.Equal(t, int64(3)-i, res.Remaining)
		assert.Equal(t, int64(0), res.RetryAfterSeconds)
	}

	res, err := limiter.CheckClientLimit(ctx, "10.0.0.1")
	require.NoError(t, err)
	assert.False(t, res.Allowed)
	assert.Equal(t, int64(4), res.CurrentCount)
	assert.Equal(t, int64(0), res.Remaining)
	assert.Equal(t, int64(60), res.RetryAfterSeconds)
}

func TestRedisStore_ClientsAreIndependent(t *testing.T) {
	store, _ := setupRedisStore(t)
	limiter := NewRateLimiter(store, Policy{Limit: 1, Window: time.Minute}, &testLogger{t: t})
	ctx := context.Background()

	res, err := limiter.CheckClientLimit(ctx, "a")
	require.NoError(t, err)
	assert.True(t, res.Allowed)

	res, err = limiter.CheckClientLimit(ctx, "b")
	require.NoError(t, err)
	assert.True(t, res.Allowed)

	res, err = limiter.CheckClientLimit(ctx, "a")
	require.NoError(t, err)
	assert.False(t, res.Allowed)
}

func TestRedisStore_WindowExpires(t *testing.T) {
	store, mr := setupRedisStore(t)
	limiter := NewRateLimiter(store, Policy{Limit: 1, Window: 10 * time.Second}, &testLogger{t: t})
	ctx := context.Background()

	_, err := limiter.CheckClientLimit(ctx, "c")
	require.NoError(t, err)
	res, err := limiter.CheckClientLimit(ctx, "c")
	require.NoError(t, err)
	assert.False(t, res.Allowed)

	mr.FastForward(11 * time.Second)

	res, err = limiter.CheckClientLimit(ctx, "c")
	require.NoError(t, err)
	assert.True(t, res.Allowed)
	assert.Equal(t, int64(1), res.CurrentCount)
}

func TestRedisStore_CounterKey(t *testing.T) {
	store, mr := setupRedisStore(t)
	ctx := context.Background()
	key := clientKey("d")

	_, err := store.Hit(ctx, key, DefaultPolicy)
	require.NoError(t, err)
	_, err = store.Hit(ctx, key, DefaultPolicy)
	require.NoError(t, err)

	count, err := mr.Get(key)
	require.NoError(t, err)
	assert.Equal(t, "2", count)
	assert.Greater(t, mr.TTL(key), time.Duration(0), "window expiry is set")
}

func TestRedisStore_ErrorWhenRedisDown(t *testing.T) {
	client := redis.NewClient(&redis.Options{
		Addr:        "127.0.0.1:1",
		DialTimeout: 100 * time.Millisecond,
		MaxRetries:  -1,
	})
	t.Cleanup(func() { _ = client.Close() })
	store := NewRedisStore(client)

	limiter := NewRateLimiter(store, DefaultPolicy, &testLogger{t: t})
	_, err := limiter.CheckClientLimit(context.Background(), "e")
	assert.Error(t, err)
}

func TestMemoryStore(t *testing.T) {
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	store := NewMemoryStore().WithClock(func() time.Time { return now })
	limiter := NewRateLimiter(store, Policy{Limit: 2, Window: 30 * time.Second}, &testLogger{t: t})
	ctx := context.Background()

	tests := []struct {
		name      string
		advance   time.Duration
		allowed   bool
		count     int64
		retryWait int64
	}{
		{name: "first", allowed: true, count: 1},
		{name: "second", advance: 5 * time.Second, allowed: true, count: 2},
		{name: "over limit", advance: 5 * time.Second, allowed: false, count: 3, retryWait: 20},
		{name: "new window", advance: 21 * time.Second, allowed: true, count: 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			now = now.Add(tt.advance)
			res, err := limiter.CheckClientLimit(ctx, "10.1.1.1")
			require.NoError(t, err)
			assert.Equal(t, tt.allowed, res.Allowed)
			assert.Equal(t, tt.count, res.CurrentCount)
			assert.Equal(t, tt.retryWait, res.RetryAfterSeconds)
		})
	}
}

func TestPolicy_WindowSeconds(t *testing.T) {
	assert.Equal(t, int64(60), Policy{Window: time.Minute}.windowSeconds())
	assert.Equal(t, int64(2), Policy{Window: 1500 * time.Millisecond}.windowSeconds())
	assert.Equal(t, int64(1), Policy{Window: 0}.windowSeconds())
	assert.Equal(t, "120 requests per 1m0s", DefaultPolicy.Description())
}
