package resilience

import (
	"context"
	"math"
	"math/rand/v2"
	"time"

	"go.uber.org/zap"
)

// RetryConfig controls retry behavior with exponential backoff.
type RetryConfig struct {
	// MaxAttempts is the total number of attempts including the first.
	// A value of 1 means no retries. Default: 5.
	MaxAttempts int

	// InitialBackoff is the delay before the first retry. Default: 2s.
	InitialBackoff time.Duration

	// MaxBackoff caps a single delay. Default: 60s.
	MaxBackoff time.Duration

	// Multiplier scales the delay after each failed attempt. Default: 2.0.
	Multiplier float64

	// JitterFraction adds ±fraction random jitter to each delay. Default: 0.
	JitterFraction float64

	// ShouldRetry overrides the default IsTransient check.
	ShouldRetry func(err error) bool

	// OnRetry is called before each backoff wait with the attempt that just
	// failed (1-based) and its error.
	OnRetry func(attempt int, err error)

	// Sleep waits d or until ctx is done. Nil uses a timer.
	Sleep func(ctx context.Context, d time.Duration) error
}

// DefaultRetryConfig returns the retry policy used for AI service calls:
// five attempts, 2s doubling delays, no jitter.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:    5,
		InitialBackoff: 2 * time.Second,
		MaxBackoff:     60 * time.Second,
		Multiplier:     2.0,
	}
}

// RetryState is carried between the attempts of one call sequence.
type RetryState struct {
	// Attempt is the number of attempts made so far.
	Attempt int
	// LastErr is the error of the most recent attempt, nil after success.
	LastErr error
	// NextDelay is the wait computed before the next attempt.
	NextDelay time.Duration
	// Waited is the total backoff slept so far.
	Waited time.Duration
}

// Advance records a failed attempt and decides whether another one is
// permitted. When it returns true, NextDelay holds the wait to apply.
func (s *RetryState) Advance(cfg RetryConfig, err error) bool {
	cfg = applyDefaults(cfg)
	s.LastErr = err
	s.NextDelay = 0

	shouldRetry := cfg.ShouldRetry
	if shouldRetry == nil {
		shouldRetry = IsTransient
	}
	if !shouldRetry(err) || s.Attempt >= cfg.MaxAttempts {
		return false
	}

	s.NextDelay = computeBackoff(s.Attempt-1, cfg)
	return true
}

// Do executes fn with retries. Only errors accepted by ShouldRetry (default
// IsTransient) are retried. Context cancellation stops retries immediately.
func Do(ctx context.Context, cfg RetryConfig, fn func(ctx context.Context) error) error {
	_, _, err := Run(ctx, cfg, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	})
	return err
}

// Run is Do for functions that return a value. It also returns the final
// RetryState so callers can report how many attempts were spent.
func Run[T any](ctx context.Context, cfg RetryConfig, fn func(ctx context.Context) (T, error)) (T, RetryState, error) {
	cfg = applyDefaults(cfg)
	sleep := cfg.Sleep
	if sleep == nil {
		sleep = timerSleep
	}

	var zero T
	var st RetryState
	for {
		st.Attempt++
		val, err := fn(ctx)
		if err == nil {
			st.LastErr = nil
			return val, st, nil
		}

		if ctx.Err() != nil {
			st.LastErr = err
			return zero, st, err
		}

		if !st.Advance(cfg, err) {
			return zero, st, err
		}

		if cfg.OnRetry != nil {
			cfg.OnRetry(st.Attempt, err)
		}

		if serr := sleep(ctx, st.NextDelay); serr != nil {
			return zero, st, err
		}
		st.Waited += st.NextDelay
	}
}

// Schedule returns the un-jittered delays applied after each of the first n
// failed attempts.
func Schedule(cfg RetryConfig, n int) []time.Duration {
	cfg = applyDefaults(cfg)
	cfg.JitterFraction = 0
	out := make([]time.Duration, n)
	for i := range out {
		out[i] = computeBackoff(i, cfg)
	}
	return out
}

func applyDefaults(cfg RetryConfig) RetryConfig {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 5
	}
	if cfg.InitialBackoff <= 0 {
		cfg.InitialBackoff = 2 * time.Second
	}
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = 60 * time.Second
	}
	if cfg.Multiplier <= 0 {
		cfg.Multiplier = 2.0
	}
	if cfg.JitterFraction < 0 {
		cfg.JitterFraction = 0
	}
	return cfg
}

// computeBackoff returns InitialBackoff * Multiplier^retry, capped and
// jittered. retry is 0 for the wait after the first failure.
func computeBackoff(retry int, cfg RetryConfig) time.Duration {
	delay := float64(cfg.InitialBackoff) * math.Pow(cfg.Multiplier, float64(retry))
	if delay > float64(cfg.MaxBackoff) {
		delay = float64(cfg.MaxBackoff)
	}

	if cfg.JitterFraction > 0 {
		jitterRange := delay * cfg.JitterFraction
		delay += (rand.Float64()*2 - 1) * jitterRange
	}

	if delay < 0 {
		delay = 0
	}
	return time.Duration(delay)
}

func timerSleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// RetryLogger returns an OnRetry callback that logs each retry.
func RetryLogger(service, operation string) func(int, error) {
	return func(attempt int, err error) {
		zap.L().Warn("retrying operation",
			zap.String("service", service),
			zap.String("operation", operation),
			zap.Int("attempt", attempt),
			zap.Error(err),
		)
	}
}
