package client

import (
	"context"
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Prometheus metrics for retry operations.
var (
	retriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "legacy_retries_total",
		Help: "Total number of retry attempts by error class",
	}, []string{"error_class"})

	retryBackoffSeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "legacy_retry_backoff_seconds",
		Help:    "Backoff duration for retries by error class",
		Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
	}, []string{"error_class"})

	retryExhaustedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "legacy_retry_exhausted_total",
		Help: "Total number of times retry attempts were exhausted by error class",
	}, []string{"error_class"})
)

// RetryPolicy holds the configuration for retry logic. It is an immutable value.
type RetryPolicy struct {
	// MaxAttempts is the maximum number of attempts (including the initial request).
	MaxAttempts int

	// BaseDelay is the delay before the first retry.
	BaseDelay time.Duration

	// MaxDelay caps every computed delay.
	MaxDelay time.Duration

	// Jitter in [0,1]. Zero means exact delays; otherwise the computed delay is
	// a ceiling and the real sleep is drawn from [d*(1-Jitter), d].
	Jitter float64
}

// DefaultRetryPolicy returns the default retry policy.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: 3,
		BaseDelay:   100 * time.Millisecond,
		MaxDelay:    1 * time.Second,
	}
}

// Validate checks the policy.
func (p RetryPolicy) Validate() error {
	switch {
	case p.MaxAttempts < 1:
		return fmt.Errorf("%w: max_attempts must be >= 1 (got %d)", ErrInvalidPolicy, p.MaxAttempts)
	case p.BaseDelay < 0:
		return fmt.Errorf("%w: base_delay must not be negative", ErrInvalidPolicy)
	case p.MaxDelay < p.BaseDelay:
		return fmt.Errorf("%w: max_delay (%s) must be >= base_delay (%s)", ErrInvalidPolicy, p.MaxDelay, p.BaseDelay)
	case p.Jitter < 0 || p.Jitter > 1:
		return fmt.Errorf("%w: jitter must be within [0,1] (got %v)", ErrInvalidPolicy, p.Jitter)
	}
	return nil
}

// Delay returns min(BaseDelay * 2^attempt, MaxDelay) for the 0-based index of
// the attempt that just failed. The result is non-decreasing in attempt.
func (p RetryPolicy) Delay(attempt int) time.Duration {
	d := p.BaseDelay
	for i := 0; i < attempt && d < p.MaxDelay; i++ {
		d *= 2
	}
	if d > p.MaxDelay {
		d = p.MaxDelay
	}
	return d
}

// Retrier executes operations with bounded retries and exponential backoff.
// It is safe for concurrent use.
type Retrier struct {
	policy    RetryPolicy
	retryable func(error) bool
	logger    zerolog.Logger
	sleep     func(context.Context, time.Duration) error
	random    func() float64
}

// RetrierOption configures a Retrier.
type RetrierOption func(*Retrier)

// WithRetryable replaces the default IsRetryable predicate.
func WithRetryable(fn func(error) bool) RetrierOption {
	return func(r *Retrier) {
		if fn != nil {
			r.retryable = fn
		}
	}
}

// WithRetryLogger sets the logger used for retry events.
func WithRetryLogger(logger zerolog.Logger) RetrierOption {
	return func(r *Retrier) {
		r.logger = logger
	}
}

// WithSleep replaces the context-aware sleep, mainly for tests.
func WithSleep(fn func(context.Context, time.Duration) error) RetrierOption {
	return func(r *Retrier) {
		if fn != nil {
			r.sleep = fn
		}
	}
}

// NewRetrier creates a Retrier for the given policy.
func NewRetrier(policy RetryPolicy, opts ...RetrierOption) (*Retrier, error) {
	if err := policy.Validate(); err != nil {
		return nil, err
	}

	r := &Retrier{
		policy:    policy,
		retryable: IsRetryable,
		logger:    log.With().Str("component", "retry").Logger(),
		sleep:     sleepContext,
		random:    rand.Float64,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// Policy returns the retry policy.
func (r *Retrier) Policy() RetryPolicy {
	return r.policy
}

// Do runs fn until it succeeds, returns a non-retryable error, or the policy's
// attempts are exhausted. The last error is returned unchanged. Cancelling ctx
// aborts a pending backoff and returns ctx.Err().
func (r *Retrier) Do(ctx context.Context, fn func(context.Context) error) error {
	_, err := Retry(ctx, r, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	})
	return err
}

// Retry is the typed form of Retrier.Do.
func Retry[T any](ctx context.Context, r *Retrier, fn func(context.Context) (T, error)) (T, error) {
	var zero T

	for attempt := 0; attempt < r.policy.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return zero, err
		}

		result, err := fn(ctx)
		if err == nil {
			if attempt > 0 {
				r.logger.Info().
					Int("attempt", attempt+1).
					Msg("Request succeeded after retry")
			}
			return result, nil
		}

		// A cancelled caller is not an upstream failure.
		if ctxErr := ctx.Err(); ctxErr != nil {
			return zero, ctxErr
		}

		errorClass := string(ClassOf(err))

		if !r.retryable(err) {
			return zero, err
		}

		// If this was the last attempt, don't wait
		if attempt+1 >= r.policy.MaxAttempts {
			retryExhaustedTotal.WithLabelValues(errorClass).Inc()
			r.logger.Warn().
				Err(err).
				Str("error_class", errorClass).
				Int("max_attempts", r.policy.MaxAttempts).
				Msg("Retry attempts exhausted")
			return zero, err
		}

		backoff := r.backoff(attempt)
		retriesTotal.WithLabelValues(errorClass).Inc()
		retryBackoffSeconds.WithLabelValues(errorClass).Observe(backoff.Seconds())

		r.logger.Debug().
			Err(err).
			Str("error_class", errorClass).
			Int("attempt", attempt+1).
			Dur("backoff", backoff).
			Msg("Retrying request after backoff")

		if err := r.sleep(ctx, backoff); err != nil {
			r.logger.Warn().
				Str("error_class", errorClass).
				Int("attempt", attempt+1).
				Msg("Context cancelled during retry backoff")
			return zero, err
		}
	}

	// MaxAttempts >= 1 is enforced by Validate, so the loop always returns.
	return zero, fmt.Errorf("%w: no attempt made", ErrInvalidPolicy)
}

// backoff applies jitter to the policy delay for the failed attempt.
func (r *Retrier) backoff(attempt int) time.Duration {
	d := r.policy.Delay(attempt)
	if r.policy.Jitter > 0 && d > 0 {
		d -= time.Duration(r.random() * r.policy.Jitter * float64(d))
	}
	return d
}

// sleepContext waits for d or until ctx is done, whichever comes first.
func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
