// Package ai provides the error taxonomy and retry helper shared by the STT,
// TTS, LLM and VAD providers.
package ai

import (
	"context"
	"errors"
	"math"
	"math/rand/v2"
	"time"
)

var (
	// ErrRecoverable indicates a temporary failure that may succeed if retried.
	// Examples: network timeout, rate limiting, temporary service unavailability.
	ErrRecoverable = errors.New("recoverable AI provider error")

	// ErrFatal indicates a permanent failure that will not succeed if retried.
	// Examples: invalid API key, unsupported format, malformed request.
	ErrFatal = errors.New("fatal AI provider error")
)

// RetryConfig configures retry behavior for recoverable errors.
type RetryConfig struct {
	MaxRetries    int           // attempts after the first one
	InitialDelay  time.Duration // delay before the first retry
	MaxDelay      time.Duration
	BackoffFactor float64
	JitterPercent float32 // 0.0-1.0
}

// DefaultRetryConfig is used by the hosted providers.
var DefaultRetryConfig = RetryConfig{
	MaxRetries:    3,
	InitialDelay:  100 * time.Millisecond,
	MaxDelay:      5 * time.Second,
	BackoffFactor: 2.0,
	JitterPercent: 0.1,
}

// IsRecoverable checks if an error is recoverable and should be retried.
func IsRecoverable(err error) bool {
	return errors.Is(err, ErrRecoverable)
}

// IsFatal checks if an error is fatal and should not be retried.
func IsFatal(err error) bool {
	return errors.Is(err, ErrFatal)
}

// RetryableError wraps an underlying error with retry classification.
type RetryableError struct {
	Underlying error
	Retryable  bool
	Message    string
}

func (e *RetryableError) Error() string {
	if e.Message == "" {
		if e.Underlying == nil {
			return "ai provider error"
		}
		return e.Underlying.Error()
	}
	if e.Underlying == nil {
		return e.Message
	}
	return e.Message + ": " + e.Underlying.Error()
}

// Unwrap exposes both the classification sentinel and the cause, so
// errors.Is works for either.
func (e *RetryableError) Unwrap() []error {
	class := ErrFatal
	if e.Retryable {
		class = ErrRecoverable
	}
	if e.Underlying == nil {
		return []error{class}
	}
	return []error{class, e.Underlying}
}

// NewRecoverableError creates a recoverable error with context.
func NewRecoverableError(underlying error, message string) error {
	return &RetryableError{Underlying: underlying, Retryable: true, Message: message}
}

// NewFatalError creates a fatal error with context.
func NewFatalError(underlying error, message string) error {
	return &RetryableError{Underlying: underlying, Retryable: false, Message: message}
}

// Backoff returns the delay before retry number attempt (1-based).
func (c RetryConfig) Backoff(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := float64(c.InitialDelay) * math.Pow(c.BackoffFactor, float64(attempt-1))
	if limit := float64(c.MaxDelay); c.MaxDelay > 0 && d > limit {
		d = limit
	}
	if c.JitterPercent > 0 {
		d += d * float64(c.JitterPercent) * (rand.Float64()*2 - 1)
	}
	return time.Duration(d)
}

// Retry calls fn until it succeeds, returns a non-recoverable error, or the
// retry budget is spent. Only errors classified with ErrRecoverable are retried.
func Retry(ctx context.Context, cfg RetryConfig, fn func(ctx context.Context) error) error {
	var err error
	for attempt := 0; ; attempt++ {
		if err = fn(ctx); err == nil {
			return nil
		}
		if !IsRecoverable(err) || attempt >= cfg.MaxRetries {
			return err
		}

		timer := time.NewTimer(cfg.Backoff(attempt + 1))
		select {
		case <-ctx.Done():
			timer.Stop()
			return errors.Join(ctx.Err(), err)
		case <-timer.C:
		}
	}
}
