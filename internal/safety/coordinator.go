package safety

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ducminhle1904/rsi-momentum-bot/internal/audit"
	boterrors "github.com/ducminhle1904/rsi-momentum-bot/internal/errors"
	"github.com/ducminhle1904/rsi-momentum-bot/internal/logger"
	"github.com/ducminhle1904/rsi-momentum-bot/internal/monitoring"
)

// Gate identifies which safety check blocked an action.
type Gate string

const (
	GateNone          Gate = ""
	GateKillSwitch    Gate = "kill_switch"
	GateDataFreshness Gate = "data_freshness"
	GateErrorRate     Gate = "error_rate"
	GateRateLimit     Gate = "rate_limit"
)

// Decision is the result of CheckAll.
type Decision struct {
	Stop   bool
	Gate   Gate
	Reason string
	// Wait is set by the rate limit gate.
	Wait time.Duration
	// Recoverable is true only for rate limiting: sleep Wait and retry.
	Recoverable bool
	// Halted is true when the kill switch is latched after this check.
	Halted bool
}

// Err converts a stopping decision into a categorized error.
func (d Decision) Err() error {
	if !d.Stop {
		return nil
	}

	var err *boterrors.BotError
	switch {
	case d.Halted:
		err = boterrors.WrapError(ErrHalted, boterrors.ErrorCategorySafetyHalt, "safety", string(d.Gate))
	case d.Recoverable:
		err = boterrors.WrapError(ErrRateLimited, boterrors.ErrorCategoryRateLimit, "safety", string(d.Gate))
	default:
		err = boterrors.WrapError(ErrStaleData, boterrors.ErrorCategoryInsufficientData, "safety", string(d.Gate))
	}
	err.Message = d.Reason
	return err
}

// Config holds the thresholds of every gate.
type Config struct {
	StaleThreshold      time.Duration `yaml:"stale_threshold" default:"30s"`
	MaxConsecutiveStale int           `yaml:"max_consecutive_stale" default:"3" validate:"gte=1"`
	MaxErrors           int           `yaml:"max_errors" default:"10" validate:"gte=1"`
	ErrorWindow         time.Duration `yaml:"error_window" default:"5m"`
	MaxCalls            int           `yaml:"max_calls" default:"120" validate:"gte=1"`
	CallWindow          time.Duration `yaml:"call_window" default:"1m"`
	Retry               RetryPolicy   `yaml:"retry"`

	MarkerBackend string      `yaml:"marker_backend" default:"file" validate:"oneof=file redis"`
	MarkerPath    string      `yaml:"marker_path"`
	Redis         RedisConfig `yaml:"redis"`
}

// DefaultConfig returns 30s staleness x3, 10 errors per 5 minutes, 120 calls per minute.
func DefaultConfig() Config {
	return Config{
		StaleThreshold:      30 * time.Second,
		MaxConsecutiveStale: 3,
		MaxErrors:           10,
		ErrorWindow:         5 * time.Minute,
		MaxCalls:            120,
		CallWindow:          time.Minute,
		Retry:               DefaultRetryPolicy(),
		MarkerBackend:       "file",
	}
}

// State is a snapshot of the coordinator counters.
type State struct {
	Killed           bool
	KillReason       string
	ConsecutiveStale int
	RecentErrors     int
	RecentCalls      int
	RemainingCalls   int
}

// Coordinator owns every safety gate for one bot instance.
type Coordinator struct {
	kill    *KillSwitch
	data    *DataValidator
	errors  *ErrorRateBreaker
	limiter *RateLimiter
	retry   RetryPolicy

	clock Clock
	sink  audit.Sink
	log   *logger.Logger
	sleep func(context.Context, time.Duration) error

	mu sync.Mutex
}

type coordinatorOptions struct {
	clock Clock
	sink  audit.Sink
	log   *logger.Logger
	sleep func(context.Context, time.Duration) error
}

// CoordinatorOption configures a Coordinator.
type CoordinatorOption func(*coordinatorOptions)

func WithClock(clock Clock) CoordinatorOption {
	return func(o *coordinatorOptions) { o.clock = clock }
}

func WithAuditSink(sink audit.Sink) CoordinatorOption {
	return func(o *coordinatorOptions) { o.sink = sink }
}

func WithLogger(log *logger.Logger) CoordinatorOption {
	return func(o *coordinatorOptions) { o.log = log }
}

// WithSleeper replaces the context-aware sleep used by Guard.
func WithSleeper(sleep func(context.Context, time.Duration) error) CoordinatorOption {
	return func(o *coordinatorOptions) { o.sleep = sleep }
}

// NewCoordinator builds all four gates around the given marker store.
func NewCoordinator(cfg Config, store MarkerStore, opts ...CoordinatorOption) *Coordinator {
	o := coordinatorOptions{clock: SystemClock, sink: audit.Nop{}, log: logger.Nop(), sleep: sleepContext}
	for _, opt := range opts {
		opt(&o)
	}
	if cfg.Retry.MaxAttempts < 1 {
		cfg.Retry = DefaultRetryPolicy()
	}

	return &Coordinator{
		kill:    NewKillSwitch(store, o.clock, o.sink, o.log),
		data:    NewDataValidator(cfg.StaleThreshold, cfg.MaxConsecutiveStale),
		errors:  NewErrorRateBreaker(cfg.MaxErrors, cfg.ErrorWindow),
		limiter: NewRateLimiter(cfg.MaxCalls, cfg.CallWindow, o.clock),
		retry:   cfg.Retry,
		clock:   o.clock,
		sink:    o.sink,
		log:     o.log.Component("safety"),
		sleep:   o.sleep,
	}
}

// KillSwitch exposes the latch for operator commands.
func (c *Coordinator) KillSwitch() *KillSwitch {
	return c.kill
}

// RateLimiter exposes the call window.
func (c *Coordinator) RateLimiter() *RateLimiter {
	return c.limiter
}

// CheckAll runs kill switch, data freshness, error rate and rate limit gates
// in that order and stops at the first one that blocks. dataTimestamp may be
// nil; feed names the data source whose stale streak it counts toward.
func (c *Coordinator) CheckAll(ctx context.Context, feed string, dataTimestamp *time.Time) Decision {
	c.mu.Lock()
	defer c.mu.Unlock()

	d := c.checkLocked(ctx, feed, dataTimestamp)
	if d.Stop {
		monitoring.RecordSafetyBlock(string(d.Gate))
	}
	return d
}

func (c *Coordinator) checkLocked(ctx context.Context, feed string, dataTimestamp *time.Time) Decision {
	if killed, reason := c.kill.Check(ctx); killed {
		return Decision{Stop: true, Gate: GateKillSwitch, Reason: reason, Halted: true}
	}

	now := c.clock.Now()

	if dataTimestamp != nil {
		result := c.data.Validate(feed, *dataTimestamp, now)
		if !result.Valid {
			c.recordErrorLocked(ctx, "data_validator", errors.New(result.Reason))
			c.audit(ctx, audit.NewEvent(audit.EventStaleData, audit.SeverityWarning, result.Reason).
				WithSource(SourceStaleData).
				WithField("feed", feed).
				WithField("age_seconds", result.Age.Seconds()).
				WithField("consecutive", result.Consecutive))

			if result.Escalate {
				c.trigger(ctx, result.Reason, SourceStaleData)
				return Decision{Stop: true, Gate: GateDataFreshness, Reason: result.Reason, Halted: true}
			}
			return Decision{Stop: true, Gate: GateDataFreshness, Reason: result.Reason}
		}
	}

	if exceeded, count := c.errors.Exceeded(now); exceeded {
		reason := fmt.Sprintf("error rate exceeded: %d errors in %s", count, c.errors.Window())
		c.trigger(ctx, reason, SourceErrorRate)
		return Decision{Stop: true, Gate: GateErrorRate, Reason: reason, Halted: true}
	}

	if !c.limiter.CanCall() {
		wait := c.limiter.WaitTime()
		return Decision{
			Stop:        true,
			Gate:        GateRateLimit,
			Reason:      fmt.Sprintf("rate limit exceeded, wait %.1fs", wait.Seconds()),
			Wait:        wait,
			Recoverable: true,
		}
	}

	return Decision{}
}

func (c *Coordinator) trigger(ctx context.Context, reason, source string) {
	if err := c.kill.Trigger(ctx, reason, source); err != nil {
		c.log.LogError("failed to persist kill marker", err)
	}
}

// ResetKillSwitch clears the kill switch and, once it is cleared, the stale
// streaks and error window that may have tripped it.
func (c *Coordinator) ResetKillSwitch(ctx context.Context, confirm bool) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	cleared, err := c.kill.Reset(ctx, confirm)
	if !cleared || err != nil {
		return cleared, err
	}
	c.data.Reset()
	c.errors.Reset()
	return true, nil
}

// RecordError counts a failed external action toward the error-rate gate.
func (c *Coordinator) RecordError(ctx context.Context, source string, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.recordErrorLocked(ctx, source, err)
}

func (c *Coordinator) recordErrorLocked(ctx context.Context, source string, err error) {
	count := c.errors.Record(c.clock.Now())
	monitoring.RecordError(source)

	msg := "unknown error"
	if err != nil {
		msg = err.Error()
	}
	c.log.Error("safety error recorded (%d in window) from %s: %s", count, source, msg)
	c.audit(ctx, audit.NewEvent(audit.EventErrorRecorded, audit.SeverityWarning, msg).
		WithSource(source).
		WithField("errors_in_window", count))
}

// RecordCall counts an external call toward the rate limit.
func (c *Coordinator) RecordCall(endpoint string) {
	c.limiter.RecordCall(endpoint)
	monitoring.RecordAPICall(endpoint)
}

// Guard gates one external call. It waits out rate limits up to the retry
// policy, records the call and records a failure as an error. Errors that wrap
// ErrRateLimited are retried; every other failure comes back as an exchange
// error with its chain intact.
func (c *Coordinator) Guard(ctx context.Context, endpoint string, fn func(context.Context) error) error {
	for attempt := 1; ; attempt++ {
		d := c.CheckAll(ctx, "", nil)
		if d.Stop && !d.Recoverable {
			return d.Err()
		}
		if d.Stop {
			if attempt >= c.retry.MaxAttempts {
				return boterrors.WrapError(
					fmt.Errorf("%w: %s after %d attempts: %s", ErrRetryExhausted, endpoint, attempt, d.Reason),
					boterrors.ErrorCategoryRateLimit, "safety", endpoint)
			}
			if err := c.backoff(ctx, endpoint, d.Wait); err != nil {
				return err
			}
			continue
		}

		c.RecordCall(endpoint)
		err := fn(ctx)
		if err == nil {
			return nil
		}

		if !errors.Is(err, ErrRateLimited) {
			c.RecordError(ctx, endpoint, err)
			return boterrors.NewExchangeError("safety", endpoint, err)
		}
		if attempt >= c.retry.MaxAttempts {
			return boterrors.WrapError(
				fmt.Errorf("%w: %s after %d attempts: %w", ErrRetryExhausted, endpoint, attempt, err),
				boterrors.ErrorCategoryRateLimit, "safety", endpoint)
		}
		if err := c.backoff(ctx, endpoint, c.retry.Backoff(attempt)); err != nil {
			return err
		}
	}
}

func (c *Coordinator) backoff(ctx context.Context, endpoint string, wait time.Duration) error {
	if wait <= 0 {
		wait = c.retry.InitialDelay
	}
	wait = c.retry.cap(wait)

	c.log.Warning("rate limited on %s, waiting %s", endpoint, wait)
	c.audit(ctx, audit.NewEvent(audit.EventRateLimitWait, audit.SeverityInfo,
		fmt.Sprintf("waiting %.1fs before %s", wait.Seconds(), endpoint)).
		WithSource(endpoint))
	return c.sleep(ctx, wait)
}

func (c *Coordinator) audit(ctx context.Context, event audit.Event) {
	event.Timestamp = c.clock.Now().UTC()
	if err := c.sink.Record(ctx, event); err != nil {
		c.log.LogError("failed to write audit event", err)
	}
}

// State returns a snapshot of every gate.
func (c *Coordinator) State(ctx context.Context) State {
	c.mu.Lock()
	defer c.mu.Unlock()

	killed, reason := c.kill.Check(ctx)
	stats := c.errors.Stats(c.clock.Now())
	limiter := c.limiter.GetStats()
	return State{
		Killed:           killed,
		KillReason:       reason,
		ConsecutiveStale: c.data.WorstStreak(),
		RecentErrors:     stats.InWindow,
		RecentCalls:      limiter.InWindow,
		RemainingCalls:   c.limiter.Remaining(),
	}
}
