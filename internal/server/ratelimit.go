package server

import (
	"fmt"
	"sync"
	"time"
)

// RateLimitConfig holds the per-client limits for analysis uploads. Zero
// disables a limit.
type RateLimitConfig struct {
	Enabled           bool
	RequestsPerMinute int
	RequestsPerHour   int
	MaxRequestsPerDay int
	MaxDataPerDay     int64 // bytes
}

// RateLimiter tracks analysis uploads per client in fixed minute, hour and
// day windows.
type RateLimiter struct {
	mu      sync.Mutex
	cfg     RateLimitConfig
	clients map[string]*clientUsage
	now     func() time.Time
}

// clientUsage holds the counters of one client.
type clientUsage struct {
	minuteStart time.Time
	hourStart   time.Time
	dayStart    time.Time

	minute int
	hour   int
	day    int
	bytes  int64
}

// NewRateLimiter creates a limiter with the given limits.
func NewRateLimiter(cfg RateLimitConfig) *RateLimiter {
	return &RateLimiter{
		cfg:     cfg,
		clients: make(map[string]*clientUsage),
		now:     time.Now,
	}
}

// Allow records one request of dataSize bytes from clientID, or returns a
// *RateLimitError or *QuotaExceededError without recording it.
func (rl *RateLimiter) Allow(clientID string, dataSize int64) error {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	u, ok := rl.clients[clientID]
	if !ok {
		u = &clientUsage{minuteStart: now, hourStart: now, dayStart: startOfDay(now)}
		rl.clients[clientID] = u
	}
	u.roll(now)

	if rl.cfg.RequestsPerMinute > 0 && u.minute >= rl.cfg.RequestsPerMinute {
		return &RateLimitError{Type: "minute", Limit: rl.cfg.RequestsPerMinute, RetryAfter: u.minuteStart.Add(time.Minute).Sub(now)}
	}
	if rl.cfg.RequestsPerHour > 0 && u.hour >= rl.cfg.RequestsPerHour {
		return &RateLimitError{Type: "hour", Limit: rl.cfg.RequestsPerHour, RetryAfter: u.hourStart.Add(time.Hour).Sub(now)}
	}

	resets := u.dayStart.AddDate(0, 0, 1)
	if rl.cfg.MaxRequestsPerDay > 0 && u.day >= rl.cfg.MaxRequestsPerDay {
		return &QuotaExceededError{Type: "requests", Limit: int64(rl.cfg.MaxRequestsPerDay), Used: int64(u.day), Resets: resets}
	}
	if rl.cfg.MaxDataPerDay > 0 && u.bytes+dataSize > rl.cfg.MaxDataPerDay {
		return &QuotaExceededError{Type: "data", Limit: rl.cfg.MaxDataPerDay, Used: u.bytes, Resets: resets}
	}

	u.minute++
	u.hour++
	u.day++
	u.bytes += dataSize
	return nil
}

// Usage returns the requests and bytes recorded today for clientID.
func (rl *RateLimiter) Usage(clientID string) (requests int, bytes int64) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	u, ok := rl.clients[clientID]
	if !ok {
		return 0, 0
	}
	u.roll(rl.now())
	return u.day, u.bytes
}

// roll starts new windows once the current ones have elapsed.
func (u *clientUsage) roll(now time.Time) {
	if now.Sub(u.minuteStart) >= time.Minute {
		u.minuteStart = now
		u.minute = 0
	}
	if now.Sub(u.hourStart) >= time.Hour {
		u.hourStart = now
		u.hour = 0
	}
	if day := startOfDay(now); day.After(u.dayStart) {
		u.dayStart = day
		u.day = 0
		u.bytes = 0
	}
}

func startOfDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}

// RateLimitError represents a rate limit violation.
type RateLimitError struct {
	Type       string        // "minute" or "hour"
	Limit      int           // the limit that was exceeded
	RetryAfter time.Duration // how long to wait before retrying
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limit exceeded for %s (limit: %d, retry after: %v)", e.Type, e.Limit, e.RetryAfter.Round(time.Second))
}

// QuotaExceededError represents a daily quota violation.
type QuotaExceededError struct {
	Type   string    // "requests" or "data"
	Limit  int64     // the limit that was exceeded
	Used   int64     // current usage
	Resets time.Time // when the quota resets
}

func (e *QuotaExceededError) Error() string {
	return fmt.Sprintf("quota exceeded for %s (used: %d, limit: %d, resets: %s)",
		e.Type, e.Used, e.Limit, e.Resets.Format(time.RFC3339))
}
