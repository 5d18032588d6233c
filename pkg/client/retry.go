package client

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"github.com/rs/zerolog"
)

// RetryConfig holds the configuration for retry logic.
type RetryConfig struct {
	// MaxAttempts is the maximum number of attempts (including the initial request).
	MaxAttempts int

	// InitialBackoff is the wait after the first failed attempt.
	InitialBackoff time.Duration

	// MaxBackoff caps any single wait.
	MaxBackoff time.Duration

	// BackoffMultiplier is the multiplier for exponential backoff.
	BackoffMultiplier float64

	// Jitter spreads each wait uniformly over ±Jitter of its nominal value (0 disables).
	Jitter float64
}

// DefaultRetryConfig returns the default retry configuration.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:       3,
		InitialBackoff:    1 * time.Second,
		MaxBackoff:        30 * time.Second,
		BackoffMultiplier: 2.0,
		Jitter:            0.2,
	}
}

// Backoff returns the nominal wait after the given failed attempt (1-based):
// InitialBackoff * BackoffMultiplier^(attempt-1), capped at MaxBackoff.
func (c RetryConfig) Backoff(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	mult := c.BackoffMultiplier
	if mult <= 0 {
		mult = 2.0
	}
	d := float64(c.InitialBackoff)
	for i := 1; i < attempt; i++ {
		d *= mult
		if c.MaxBackoff > 0 && d >= float64(c.MaxBackoff) {
			return c.MaxBackoff
		}
	}
	if c.MaxBackoff > 0 && time.Duration(d) > c.MaxBackoff {
		return c.MaxBackoff
	}
	return time.Duration(d)
}

// retrier runs an attempt function until it succeeds, fails terminally or
// runs out of attempts.
type retrier struct {
	config RetryConfig
	logger zerolog.Logger
	wait   func(ctx context.Context, d time.Duration) error
	rand   func() float64
}

func newRetrier(config RetryConfig, logger zerolog.Logger) *retrier {
	if config.MaxAttempts < 1 {
		config.MaxAttempts = 1
	}
	return &retrier{
		config: config,
		logger: logger,
		wait:   sleepContext,
		rand:   rand.Float64,
	}
}

// sleepContext waits for d or until ctx is done.
func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// do executes fn with exponential backoff. fn receives the 1-based attempt
// number. Retryability is a property of the returned error's kind; plain
// errors are treated as internal failures and never retried.
func (r *retrier) do(ctx context.Context, fn func(attempt int) error) error {
	for attempt := 1; ; attempt++ {
		err := fn(attempt)
		if err == nil {
			if attempt > 1 {
				r.logger.Info().
					Int("attempt", attempt).
					Msg("Request succeeded after retry")
			}
			return nil
		}

		var ce *ClassifiedError
		if !errors.As(err, &ce) {
			ce = NewError(KindInternal, 0, "unclassified failure", err)
		}
		ce.Attempts = attempt

		if !ce.Retryable {
			return ce
		}

		if attempt >= r.config.MaxAttempts {
			ce.exhausted = true
			retryExhaustedTotal.WithLabelValues(string(ce.Kind)).Inc()
			r.logger.Warn().
				Str("error_kind", string(ce.Kind)).
				Int("max_attempts", r.config.MaxAttempts).
				Err(ce).
				Msg("Retry attempts exhausted")
			return ce
		}

		delay := r.jitter(r.config.Backoff(attempt))
		retriesTotal.WithLabelValues(string(ce.Kind)).Inc()
		retryBackoffSeconds.WithLabelValues(string(ce.Kind)).Observe(delay.Seconds())

		r.logger.Debug().
			Str("error_kind", string(ce.Kind)).
			Int("attempt", attempt).
			Dur("backoff", delay).
			Msg("Retrying request after backoff")

		if werr := r.wait(ctx, delay); werr != nil {
			r.logger.Warn().
				Str("error_kind", string(ce.Kind)).
				Int("attempt", attempt).
				Msg("Context cancelled during retry backoff")
			canceled := NewError(KindCanceled, 0,
				fmt.Sprintf("cancelled during backoff after attempt %d (last error: %v)", attempt, ce), werr)
			canceled.Attempts = attempt
			return canceled
		}
	}
}

func (r *retrier) jitter(d time.Duration) time.Duration {
	if r.config.Jitter <= 0 || d <= 0 {
		return d
	}
	f := 1 - r.config.Jitter + r.rand()*2*r.config.Jitter
	return time.Duration(float64(d) * f)
}
