package safety

import (
	"fmt"
	"sync"
	"time"
)

// FreshnessResult is the outcome of one freshness check.
type FreshnessResult struct {
	Valid bool
	// Escalate is set when the consecutive stale limit was reached on this read.
	Escalate    bool
	Age         time.Duration
	Consecutive int
	Reason      string
}

// DataValidator tracks consecutive stale reads per data feed. Each feed
// (usually a symbol) keeps its own streak so a healthy feed cannot mask a
// dead one.
type DataValidator struct {
	maxAge         time.Duration
	maxConsecutive int

	mu          sync.Mutex
	consecutive map[string]int
}

// NewDataValidator returns a validator; zero arguments fall back to 30s and 3 reads.
func NewDataValidator(maxAge time.Duration, maxConsecutive int) *DataValidator {
	if maxAge <= 0 {
		maxAge = 30 * time.Second
	}
	if maxConsecutive <= 0 {
		maxConsecutive = 3
	}
	return &DataValidator{
		maxAge:         maxAge,
		maxConsecutive: maxConsecutive,
		consecutive:    make(map[string]int),
	}
}

func feedLabel(feed string) string {
	if feed == "" {
		return "data"
	}
	return feed + " data"
}

// Validate checks ts of feed against now. A future timestamp is always
// invalid but does not count toward escalation. A fresh read resets the
// stale counter of that feed only.
func (v *DataValidator) Validate(feed string, ts, now time.Time) FreshnessResult {
	v.mu.Lock()
	defer v.mu.Unlock()

	age := now.Sub(ts)
	if age < 0 {
		return FreshnessResult{
			Age:         age,
			Consecutive: v.consecutive[feed],
			Reason:      fmt.Sprintf("future timestamp on %s (clock skew?): %.1fs ahead", feedLabel(feed), -age.Seconds()),
		}
	}

	if age > v.maxAge {
		v.consecutive[feed]++
		n := v.consecutive[feed]
		result := FreshnessResult{Age: age, Consecutive: n}
		if n >= v.maxConsecutive {
			result.Escalate = true
			result.Reason = fmt.Sprintf("%s stale for %d consecutive reads (> %s old)", feedLabel(feed), n, v.maxAge)
		} else {
			result.Reason = fmt.Sprintf("stale %s: %.1fs old (threshold %s)", feedLabel(feed), age.Seconds(), v.maxAge)
		}
		return result
	}

	delete(v.consecutive, feed)
	return FreshnessResult{Valid: true, Age: age}
}

// ConsecutiveStale returns the current streak of stale reads of feed.
func (v *DataValidator) ConsecutiveStale(feed string) int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.consecutive[feed]
}

// WorstStreak returns the longest current stale streak over all feeds.
func (v *DataValidator) WorstStreak() int {
	v.mu.Lock()
	defer v.mu.Unlock()

	worst := 0
	for _, n := range v.consecutive {
		if n > worst {
			worst = n
		}
	}
	return worst
}

// Reset clears every stale streak.
func (v *DataValidator) Reset() {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.consecutive = make(map[string]int)
}
