package safety

import (
	"context"
	"sync"
	"time"
)

// RateLimiter implements sliding window rate limiting over recorded calls
type RateLimiter struct {
	maxCalls int           // Calls allowed per window
	window   time.Duration // Window length
	clock    Clock

	mutex     sync.Mutex
	calls     []time.Time
	endpoints map[string]int64
}

// NewRateLimiter creates a new rate limiter; zero arguments fall back to 120 calls per minute
func NewRateLimiter(maxCalls int, window time.Duration, clock Clock) *RateLimiter {
	if maxCalls <= 0 {
		maxCalls = 120
	}
	if window <= 0 {
		window = time.Minute
	}
	if clock == nil {
		clock = SystemClock
	}
	return &RateLimiter{
		maxCalls:  maxCalls,
		window:    window,
		clock:     clock,
		endpoints: make(map[string]int64),
	}
}

// CanCall reports whether another call fits in the current window
func (rl *RateLimiter) CanCall() bool {
	rl.mutex.Lock()
	defer rl.mutex.Unlock()

	rl.pruneLocked()
	return len(rl.calls) < rl.maxCalls
}

// RecordCall records a call made now
func (rl *RateLimiter) RecordCall(endpoint string) {
	rl.mutex.Lock()
	defer rl.mutex.Unlock()

	rl.calls = append(rl.calls, rl.clock.Now())
	rl.endpoints[endpoint]++
}

// Remaining returns the calls left in the current window
func (rl *RateLimiter) Remaining() int {
	rl.mutex.Lock()
	defer rl.mutex.Unlock()

	rl.pruneLocked()
	if n := rl.maxCalls - len(rl.calls); n > 0 {
		return n
	}
	return 0
}

// WaitTime returns how long until the oldest call leaves the window, or 0 when a call is allowed
func (rl *RateLimiter) WaitTime() time.Duration {
	rl.mutex.Lock()
	defer rl.mutex.Unlock()

	rl.pruneLocked()
	if len(rl.calls) < rl.maxCalls || len(rl.calls) == 0 {
		return 0
	}

	wait := rl.calls[0].Add(rl.window).Sub(rl.clock.Now())
	if wait < 0 {
		return 0
	}
	return wait
}

// Wait blocks until a call is allowed or ctx is done. It does not record the call.
func (rl *RateLimiter) Wait(ctx context.Context) error {
	for {
		if rl.CanCall() {
			return nil
		}

		wait := rl.WaitTime()
		if wait <= 0 {
			wait = 10 * time.Millisecond
		}
		if err := sleepContext(ctx, wait); err != nil {
			return err
		}
	}
}

func (rl *RateLimiter) pruneLocked() {
	rl.calls = pruneBefore(rl.calls, rl.clock.Now().Add(-rl.window))
}

// GetStats returns current statistics about the rate limiter
func (rl *RateLimiter) GetStats() RateLimiterStats {
	rl.mutex.Lock()
	defer rl.mutex.Unlock()

	rl.pruneLocked()
	byEndpoint := make(map[string]int64, len(rl.endpoints))
	for k, v := range rl.endpoints {
		byEndpoint[k] = v
	}
	return RateLimiterStats{
		MaxCalls:   rl.maxCalls,
		Window:     rl.window,
		InWindow:   len(rl.calls),
		ByEndpoint: byEndpoint,
	}
}

// RateLimiterStats holds statistics about a rate limiter
type RateLimiterStats struct {
	MaxCalls   int
	Window     time.Duration
	InWindow   int
	ByEndpoint map[string]int64
}
