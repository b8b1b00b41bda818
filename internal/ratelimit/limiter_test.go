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

func setupLimiter(t *testing.T) (*Limiter, *miniredis.Miniredis, *time.Time) {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	l := NewLimiter(client)
	l.now = func() time.Time { return now }
	return l, mr, &now
}

func TestLimiter_Unlimited(t *testing.T) {
	l, _, _ := setupLimiter(t)
	ctx := context.Background()

	for _, limit := range []int{0, -1} {
		for range 50 {
			assert.True(t, l.Allow(ctx, "room-a", limit))
		}
	}
}

func TestLimiter_EnforcesLimitWithinWindow(t *testing.T) {
	l, _, now := setupLimiter(t)
	ctx := context.Background()

	for i := range 3 {
		*now = now.Add(time.Millisecond)
		assert.True(t, l.Allow(ctx, "room-a", 3), "request %d should pass", i)
	}
	*now = now.Add(time.Millisecond)
	assert.False(t, l.Allow(ctx, "room-a", 3))

	// Other keys have their own window.
	assert.True(t, l.Allow(ctx, "room-b", 3))

	count, err := l.current(ctx, "room-a")
	require.NoError(t, err)
	assert.Equal(t, int64(3), count)
}

func TestLimiter_WindowSlides(t *testing.T) {
	l, _, now := setupLimiter(t)
	ctx := context.Background()

	assert.True(t, l.Allow(ctx, "room-a", 1))
	assert.False(t, l.Allow(ctx, "room-a", 1))

	*now = now.Add(1100 * time.Millisecond)
	assert.True(t, l.Allow(ctx, "room-a", 1))
}

func TestLimiter_WithWindow(t *testing.T) {
	l, _, now := setupLimiter(t)
	ctx := context.Background()
	wide := l.WithWindow(10 * time.Second)

	assert.True(t, wide.Allow(ctx, "room-a", 1))
	*now = now.Add(5 * time.Second)
	assert.False(t, wide.Allow(ctx, "room-a", 1))
	assert.Equal(t, 10*time.Second, wide.Window())
	assert.Equal(t, time.Second, l.Window())
	assert.Equal(t, time.Second, l.WithWindow(0).Window())
}

func TestLimiter_FailsOpen(t *testing.T) {
	l, mr, _ := setupLimiter(t)
	mr.Close()

	assert.True(t, l.Allow(context.Background(), "room-a", 1))
}
