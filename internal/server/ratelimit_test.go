package server

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	t time.Time
}

func (c *fakeClock) now() time.Time          { return c.t }
func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestLimiter(cfg RateLimitConfig) (*RateLimiter, *fakeClock) {
	clock := &fakeClock{t: time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)}
	rl := NewRateLimiter(cfg)
	rl.now = clock.now
	return rl, clock
}

func TestRateLimiter_NoLimits(t *testing.T) {
	rl, _ := newTestLimiter(RateLimitConfig{})

	for range 100 {
		require.NoError(t, rl.Allow("10.0.0.1", 1024))
	}
	requests, bytes := rl.Usage("10.0.0.1")
	assert.Equal(t, 100, requests)
	assert.Equal(t, int64(100*1024), bytes)

	requests, bytes = rl.Usage("10.0.0.2")
	assert.Zero(t, requests)
	assert.Zero(t, bytes)
}

func TestRateLimiter_MinuteWindow(t *testing.T) {
	rl, clock := newTestLimiter(RateLimitConfig{RequestsPerMinute: 2})

	require.NoError(t, rl.Allow("a", 0))
	clock.advance(20 * time.Second)
	require.NoError(t, rl.Allow("a", 0))

	err := rl.Allow("a", 0)
	var rlErr *RateLimitError
	require.ErrorAs(t, err, &rlErr)
	assert.Equal(t, "minute", rlErr.Type)
	assert.Equal(t, 2, rlErr.Limit)
	assert.Equal(t, 40*time.Second, rlErr.RetryAfter)

	// Other clients are tracked separately.
	require.NoError(t, rl.Allow("b", 0))

	clock.advance(40 * time.Second)
	require.NoError(t, rl.Allow("a", 0))
}

func TestRateLimiter_HourWindow(t *testing.T) {
	rl, clock := newTestLimiter(RateLimitConfig{RequestsPerHour: 3})

	for range 3 {
		require.NoError(t, rl.Allow("a", 0))
		clock.advance(time.Minute)
	}
	var rlErr *RateLimitError
	require.ErrorAs(t, rl.Allow("a", 0), &rlErr)
	assert.Equal(t, "hour", rlErr.Type)

	clock.advance(time.Hour)
	require.NoError(t, rl.Allow("a", 0))
}

func TestRateLimiter_DailyQuotas(t *testing.T) {
	rl, clock := newTestLimiter(RateLimitConfig{MaxRequestsPerDay: 2, MaxDataPerDay: 1000})

	require.NoError(t, rl.Allow("a", 400))

	var quotaErr *QuotaExceededError
	require.ErrorAs(t, rl.Allow("a", 700), &quotaErr)
	assert.Equal(t, "data", quotaErr.Type)
	assert.Equal(t, int64(400), quotaErr.Used)
	assert.Equal(t, time.Date(2024, 5, 2, 0, 0, 0, 0, time.UTC), quotaErr.Resets)

	require.NoError(t, rl.Allow("a", 100))
	require.ErrorAs(t, rl.Allow("a", 0), &quotaErr)
	assert.Equal(t, "requests", quotaErr.Type)
	assert.Equal(t, int64(2), quotaErr.Used)

	clock.advance(14 * time.Hour)
	require.NoError(t, rl.Allow("a", 900))
}

func TestRateLimitErrorMessages(t *testing.T) {
	err := &RateLimitError{Type: "minute", Limit: 5, RetryAfter: 1500 * time.Millisecond}
	assert.Equal(t, "rate limit exceeded for minute (limit: 5, retry after: 2s)", err.Error())

	quota := &QuotaExceededError{Type: "data", Limit: 10, Used: 9, Resets: time.Date(2024, 5, 2, 0, 0, 0, 0, time.UTC)}
	assert.Contains(t, quota.Error(), "resets: 2024-05-02T00:00:00Z")
}
