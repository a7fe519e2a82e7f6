package ratelimit_test

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rjantos/go-session-gate/cache"
	"github.com/rjantos/go-session-gate/ratelimit"
	"github.com/stretchr/testify/require"
)

const testIP = "203.0.113.7"

func newLimiter(t *testing.T, config ratelimit.Config) (*ratelimit.Limiter, *miniredis.Miniredis) {
	t.Helper()

	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	return ratelimit.New(cache.NewRedisStore(client), "gate", config), mr
}

func TestTooManyFreshIP(t *testing.T) {
	limiter, _ := newLimiter(t, ratelimit.DefaultConfig())

	banned, err := limiter.TooMany(context.Background(), testIP)
	require.NoError(t, err)
	require.False(t, banned)
}

func TestTooManyIsIdempotent(t *testing.T) {
	limiter, _ := newLimiter(t, ratelimit.DefaultConfig())
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := limiter.TooManyWithIncrement(ctx, testIP)
		require.NoError(t, err)
	}

	first, err := limiter.TooMany(ctx, testIP)
	require.NoError(t, err)
	second, err := limiter.TooMany(ctx, testIP)
	require.NoError(t, err)
	require.Equal(t, first, second)
}

func TestIncrementReachesLimit(t *testing.T) {
	limiter, _ := newLimiter(t, ratelimit.DefaultConfig())
	ctx := context.Background()

	for i := 1; i <= 3; i++ {
		banned, err := limiter.TooManyWithIncrement(ctx, testIP)
		require.NoError(t, err)
		require.False(t, banned, "attempt %d must not ban", i)
	}

	banned, err := limiter.TooManyWithIncrement(ctx, testIP)
	require.NoError(t, err)
	require.True(t, banned, "attempt 4 must ban")

	banned, err = limiter.TooMany(ctx, testIP)
	require.NoError(t, err)
	require.True(t, banned)
}

func TestWarningOneAttemptBeforeLimit(t *testing.T) {
	limiter, _ := newLimiter(t, ratelimit.DefaultConfig())
	ctx := context.Background()

	warn, err := limiter.Warning(ctx, testIP)
	require.NoError(t, err)
	require.False(t, warn)

	for i := 0; i < 3; i++ {
		_, err := limiter.TooManyWithIncrement(ctx, testIP)
		require.NoError(t, err)
	}

	warn, err = limiter.Warning(ctx, testIP)
	require.NoError(t, err)
	require.True(t, warn)
}

func TestResetClearsCounter(t *testing.T) {
	limiter, _ := newLimiter(t, ratelimit.DefaultConfig())
	ctx := context.Background()

	for i := 0; i < 4; i++ {
		_, err := limiter.TooManyWithIncrement(ctx, testIP)
		require.NoError(t, err)
	}
	require.NoError(t, limiter.Reset(ctx, testIP))

	banned, err := limiter.TooMany(ctx, testIP)
	require.NoError(t, err)
	require.False(t, banned)
}

func TestWindowExpiry(t *testing.T) {
	limiter, mr := newLimiter(t, ratelimit.Config{Enabled: true, Max: 2, Window: time.Minute})
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		_, err := limiter.TooManyWithIncrement(ctx, testIP)
		require.NoError(t, err)
	}
	banned, err := limiter.TooMany(ctx, testIP)
	require.NoError(t, err)
	require.True(t, banned)

	mr.FastForward(61 * time.Second)

	banned, err = limiter.TooMany(ctx, testIP)
	require.NoError(t, err)
	require.False(t, banned)
}

func TestDisabledLimiterIsPermissive(t *testing.T) {
	limiter, _ := newLimiter(t, ratelimit.Config{Enabled: false, Max: 1, Window: time.Minute})
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		banned, err := limiter.TooManyWithIncrement(ctx, testIP)
		require.NoError(t, err)
		require.False(t, banned)
	}

	banned, err := limiter.TooMany(ctx, testIP)
	require.NoError(t, err)
	require.False(t, banned)

	warn, err := limiter.Warning(ctx, testIP)
	require.NoError(t, err)
	require.False(t, warn)

	require.NoError(t, limiter.Reset(ctx, testIP))
}
