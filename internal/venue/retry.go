package venue

import (
	"context"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// RetryConfig bounds the retry loop for transient venue errors.
type RetryConfig struct {
	MaxAttempts  int
	InitialDelay time.Duration
	MaxDelay     time.Duration
	// CallsPerSecond and Burst configure the token-bucket limiter shared by
	// all calls through this retrier.
	CallsPerSecond float64
	Burst          int
}

// DefaultRetryConfig returns conservative defaults.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:    4,
		InitialDelay:   500 * time.Millisecond,
		MaxDelay:       8 * time.Second,
		CallsPerSecond: 5,
		Burst:          10,
	}
}

// Retrier executes venue calls with a token-bucket rate limit and bounded
// exponential backoff on transient errors. Fatal and unknown-outcome errors
// short-circuit immediately.
type Retrier struct {
	logger  *zap.Logger
	config  RetryConfig
	limiter *rate.Limiter
}

// NewRetrier creates a retrier with its own rate limiter.
func NewRetrier(logger *zap.Logger, config RetryConfig) *Retrier {
	if config.MaxAttempts <= 0 {
		config.MaxAttempts = 1
	}
	return &Retrier{
		logger:  logger.Named("venue-retry"),
		config:  config,
		limiter: rate.NewLimiter(rate.Limit(config.CallsPerSecond), config.Burst),
	}
}

// Do runs fn, retrying transient failures with exponential backoff. The last
// error is returned when attempts are exhausted.
func (r *Retrier) Do(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	delay := r.config.InitialDelay
	var lastErr error

	for attempt := 1; attempt <= r.config.MaxAttempts; attempt++ {
		if err := r.limiter.Wait(ctx); err != nil {
			return err
		}

		lastErr = fn(ctx)
		if lastErr == nil {
			return nil
		}
		if IsFatal(lastErr) || IsUnknown(lastErr) || !IsTransient(lastErr) {
			return lastErr
		}
		if attempt == r.config.MaxAttempts {
			break
		}

		r.logger.Warn("transient venue error, retrying",
			zap.String("op", op),
			zap.Int("attempt", attempt),
			zap.Duration("backoff", delay),
			zap.Error(lastErr))

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
		delay *= 2
		if delay > r.config.MaxDelay {
			delay = r.config.MaxDelay
		}
	}
	return lastErr
}
