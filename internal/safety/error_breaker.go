package safety

import (
	"sync"
	"time"
)

// ErrorRateBreaker counts recorded errors in a sliding window.
type ErrorRateBreaker struct {
	maxErrors int
	window    time.Duration

	mu     sync.Mutex
	errors []time.Time
	total  int64
}

// ErrorRateStats holds statistics about the breaker.
type ErrorRateStats struct {
	InWindow    int
	MaxErrors   int
	Window      time.Duration
	TotalErrors int64
	LastError   time.Time
}

// NewErrorRateBreaker returns a breaker; zero arguments fall back to 10 errors in 5 minutes.
func NewErrorRateBreaker(maxErrors int, window time.Duration) *ErrorRateBreaker {
	if maxErrors <= 0 {
		maxErrors = 10
	}
	if window <= 0 {
		window = 5 * time.Minute
	}
	return &ErrorRateBreaker{maxErrors: maxErrors, window: window}
}

// Record adds an error at now.
func (b *ErrorRateBreaker) Record(now time.Time) int {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.errors = append(b.errors, now)
	b.total++
	b.errors = pruneBefore(b.errors, now.Add(-b.window))
	return len(b.errors)
}

// Exceeded prunes the window and reports whether the error count reached the limit.
func (b *ErrorRateBreaker) Exceeded(now time.Time) (bool, int) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.errors = pruneBefore(b.errors, now.Add(-b.window))
	return len(b.errors) >= b.maxErrors, len(b.errors)
}

// Window returns the configured window length.
func (b *ErrorRateBreaker) Window() time.Duration {
	return b.window
}

// Stats returns a snapshot at now.
func (b *ErrorRateBreaker) Stats(now time.Time) ErrorRateStats {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.errors = pruneBefore(b.errors, now.Add(-b.window))
	stats := ErrorRateStats{
		InWindow:    len(b.errors),
		MaxErrors:   b.maxErrors,
		Window:      b.window,
		TotalErrors: b.total,
	}
	if n := len(b.errors); n > 0 {
		stats.LastError = b.errors[n-1]
	}
	return stats
}

// Reset forgets all recorded errors.
func (b *ErrorRateBreaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.errors = nil
}
