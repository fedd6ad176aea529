package safety

import (
	"errors"
	"math"
	"time"
)

var (
	// ErrRetryExhausted is returned by Guard once MaxAttempts is used up.
	ErrRetryExhausted = errors.New("retry attempts exhausted")
	// ErrRateLimited marks a collaborator error as a transient rate limit. Guard retries it.
	ErrRateLimited = errors.New("rate limited")
	// ErrHalted is wrapped by decisions from the kill switch or error-rate gates.
	ErrHalted = errors.New("trading halted")
	// ErrStaleData is wrapped by decisions from the freshness gate.
	ErrStaleData = errors.New("stale market data")
)

// RetryPolicy bounds how long Guard keeps waiting on rate limits.
type RetryPolicy struct {
	MaxAttempts   int           `yaml:"max_attempts" default:"3" validate:"gte=1"`
	InitialDelay  time.Duration `yaml:"initial_delay" default:"500ms"`
	MaxWait       time.Duration `yaml:"max_wait" default:"60s"`
	BackoffFactor float64       `yaml:"backoff_factor" default:"2" validate:"gte=1"`
}

// DefaultRetryPolicy returns a default retry configuration
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:   3,
		InitialDelay:  500 * time.Millisecond,
		MaxWait:       time.Minute,
		BackoffFactor: 2.0,
	}
}

// Backoff returns the delay before retry number attempt (1-based), capped at MaxWait.
func (p RetryPolicy) Backoff(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	factor := p.BackoffFactor
	if factor < 1 {
		factor = 1
	}
	delay := time.Duration(float64(p.InitialDelay) * math.Pow(factor, float64(attempt-1)))
	return p.cap(delay)
}

func (p RetryPolicy) cap(d time.Duration) time.Duration {
	if p.MaxWait > 0 && d > p.MaxWait {
		return p.MaxWait
	}
	if d < 0 {
		return 0
	}
	return d
}
