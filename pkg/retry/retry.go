// Package retry provides the single retry/backoff combinator used by every
// component that talks to the identity provider or the database. Call sites
// declare how many attempts they want and which errors are worth retrying;
// the backoff arithmetic lives in one place.
package retry

import (
	"context"
	"fmt"
	"math"
	"time"
)

// Config configures retry behavior
type Config struct {
	MaxAttempts       int           `json:"max_attempts"`
	InitialDelay      time.Duration `json:"initial_delay"`
	MaxDelay          time.Duration `json:"max_delay"`
	BackoffMultiplier float64       `json:"backoff_multiplier"`
}

// DefaultConfig returns the retry configuration used for external calls:
// three attempts with exponential backoff capped at five seconds.
func DefaultConfig() Config {
	return Config{
		MaxAttempts:       3,
		InitialDelay:      200 * time.Millisecond,
		MaxDelay:          5 * time.Second,
		BackoffMultiplier: 2.0,
	}
}

// RetryableFunc decides whether an error is worth another attempt.
// Permanent failures (not found, validation) must return false.
type RetryableFunc func(error) bool

// Policy implements exponential backoff retry logic around an operation.
type Policy struct {
	config    Config
	retryable RetryableFunc
}

// NewPolicy creates a retry policy. A nil retryable func retries every
// error, which is only appropriate for operations with no permanent
// failure mode.
func NewPolicy(config Config, retryable RetryableFunc) *Policy {
	if config.MaxAttempts <= 0 {
		config.MaxAttempts = 3
	}
	if config.InitialDelay <= 0 {
		config.InitialDelay = 200 * time.Millisecond
	}
	if config.MaxDelay <= 0 {
		config.MaxDelay = 5 * time.Second
	}
	if config.BackoffMultiplier <= 1.0 {
		config.BackoffMultiplier = 2.0
	}

	return &Policy{
		config:    config,
		retryable: retryable,
	}
}

// NextDelay calculates the delay before the given attempt number (1-based).
func (p *Policy) NextDelay(attempt int) time.Duration {
	if attempt <= 1 {
		return p.config.InitialDelay
	}

	delay := float64(p.config.InitialDelay) * math.Pow(p.config.BackoffMultiplier, float64(attempt-1))
	if delay > float64(p.config.MaxDelay) {
		return p.config.MaxDelay
	}
	return time.Duration(delay)
}

// Do runs the operation, retrying retryable failures up to MaxAttempts with
// backoff between attempts. The context deadline bounds the whole loop; a
// canceled context returns immediately with the context error wrapping the
// last operation error, if any.
func (p *Policy) Do(ctx context.Context, op func(ctx context.Context) error) error {
	var lastErr error

	for attempt := 1; attempt <= p.config.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			if lastErr != nil {
				return fmt.Errorf("%w (last attempt error: %v)", err, lastErr)
			}
			return err
		}

		lastErr = op(ctx)
		if lastErr == nil {
			return nil
		}

		if p.retryable != nil && !p.retryable(lastErr) {
			return lastErr
		}
		if attempt == p.config.MaxAttempts {
			break
		}

		select {
		case <-ctx.Done():
			return fmt.Errorf("%w (last attempt error: %v)", ctx.Err(), lastErr)
		case <-time.After(p.NextDelay(attempt)):
		}
	}

	return fmt.Errorf("all %d attempts failed: %w", p.config.MaxAttempts, lastErr)
}
