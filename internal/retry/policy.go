// Package retry implements the bounded retry policy applied to every upstream call.
//
// Only throttling failures are retried. Anything else is returned to the caller
// on the first attempt so that permission or validation errors surface quickly.
package retry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/stacklok/inventory-mirror/internal/upstream"
)

const (
	// DefaultMaxAttempts is the number of attempts made before giving up on a throttled call
	DefaultMaxAttempts = 5

	// DefaultInitialInterval is the first backoff delay after a throttled call
	DefaultInitialInterval = 3 * time.Second

	// DefaultMaxInterval caps the exponential backoff delay
	DefaultMaxInterval = 30 * time.Second

	// DefaultMaxElapsedTime bounds the total time spent on a single call including waits
	DefaultMaxElapsedTime = 10 * time.Minute
)

// ErrThrottleExceeded is matched by the error returned once the attempt budget is spent
var ErrThrottleExceeded = errors.New("throttle retry budget exhausted")

// ThrottleExceededError is returned when every attempt of an operation was throttled
type ThrottleExceededError struct {
	Attempts int
	Err      error
}

func (e *ThrottleExceededError) Error() string {
	return fmt.Sprintf("%v after %d attempts: %v", ErrThrottleExceeded, e.Attempts, e.Err)
}

// Unwrap returns the last throttling error
func (e *ThrottleExceededError) Unwrap() error {
	return e.Err
}

// Is matches ErrThrottleExceeded
func (*ThrottleExceededError) Is(target error) bool {
	return target == ErrThrottleExceeded
}

// RetryHook is invoked before each backoff sleep
//
//nolint:revive // retry.RetryHook reads fine at call sites
type RetryHook func(ctx context.Context, attempt int, err error, wait time.Duration)

// Policy describes how throttled operations are retried. It is safe for concurrent use.
type Policy struct {
	maxAttempts    uint
	maxElapsedTime time.Duration
	newBackOff     func() backoff.BackOff
	hooks          []RetryHook
	logger         *slog.Logger
}

// Option configures a Policy
type Option func(*Policy)

// WithMaxAttempts sets the total number of attempts (including the first one)
func WithMaxAttempts(n uint) Option {
	return func(p *Policy) {
		if n > 0 {
			p.maxAttempts = n
		}
	}
}

// WithExponentialBackOff configures the initial and maximum exponential backoff intervals
func WithExponentialBackOff(initial, maxInterval time.Duration) Option {
	return func(p *Policy) {
		p.newBackOff = func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.InitialInterval = initial
			b.MaxInterval = maxInterval
			return b
		}
	}
}

// WithBackOff replaces the backoff strategy. The factory is called once per operation.
func WithBackOff(factory func() backoff.BackOff) Option {
	return func(p *Policy) {
		p.newBackOff = factory
	}
}

// WithMaxElapsedTime bounds the total wall-clock time spent on one operation
func WithMaxElapsedTime(d time.Duration) Option {
	return func(p *Policy) {
		p.maxElapsedTime = d
	}
}

// WithRetryHook registers a hook invoked before every backoff sleep
func WithRetryHook(hook RetryHook) Option {
	return func(p *Policy) {
		p.hooks = append(p.hooks, hook)
	}
}

// WithLogger sets the logger used to report throttling
func WithLogger(logger *slog.Logger) Option {
	return func(p *Policy) {
		p.logger = logger
	}
}

// NewPolicy creates a retry policy with sensible defaults
func NewPolicy(opts ...Option) *Policy {
	p := &Policy{
		maxAttempts:    DefaultMaxAttempts,
		maxElapsedTime: DefaultMaxElapsedTime,
		logger:         slog.Default(),
	}
	WithExponentialBackOff(DefaultInitialInterval, DefaultMaxInterval)(p)

	for _, opt := range opts {
		opt(p)
	}

	return p
}

// MaxAttempts returns the configured attempt budget
func (p *Policy) MaxAttempts() uint {
	return p.maxAttempts
}

// Do executes op, retrying it while it fails with a throttling error.
//
// A nil policy runs op exactly once. Non-throttling errors are returned as-is on
// the attempt that produced them. Once the attempt budget is spent the returned
// error matches ErrThrottleExceeded. Cancelling ctx interrupts a backoff sleep.
func Do[T any](ctx context.Context, p *Policy, op func(context.Context) (T, error)) (T, error) {
	if p == nil {
		return op(ctx)
	}

	attempts := 0
	operation := func() (T, error) {
		attempts++
		res, err := op(ctx)
		if err != nil && !upstream.IsThrottled(err) {
			return res, backoff.Permanent(err)
		}
		return res, err
	}

	res, err := backoff.Retry(ctx, operation,
		backoff.WithBackOff(p.newBackOff()),
		backoff.WithMaxTries(p.maxAttempts),
		backoff.WithMaxElapsedTime(p.maxElapsedTime),
		backoff.WithNotify(func(err error, wait time.Duration) {
			p.notify(ctx, attempts, err, wait)
		}),
	)
	if err == nil {
		return res, nil
	}

	var permanent *backoff.PermanentError
	if errors.As(err, &permanent) {
		err = permanent.Unwrap()
	}

	if upstream.IsThrottled(err) {
		return res, &ThrottleExceededError{Attempts: attempts, Err: err}
	}
	return res, err
}

func (p *Policy) notify(ctx context.Context, attempt int, err error, wait time.Duration) {
	if p.logger != nil {
		p.logger.WarnContext(ctx, "Upstream throttled, backing off",
			"attempt", attempt,
			"max_attempts", p.maxAttempts,
			"wait", wait,
			"error", err)
	}
	for _, hook := range p.hooks {
		hook(ctx, attempt, err, wait)
	}
}
