package report

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"strings"
	"time"

	"dispatchd/internal/logging"
)

// ErrMaxRetriesExceeded is returned when every delivery attempt failed.
var ErrMaxRetriesExceeded = errors.New("maximum retries exceeded")

// RetryPolicy configures delivery retries with exponential backoff.
type RetryPolicy struct {
	MaxRetries   int           // Maximum number of retry attempts
	BackoffBase  time.Duration // Base delay for exponential backoff
	BackoffMax   time.Duration // Maximum delay cap
	Jitter       float64       // Jitter factor 0-1 for randomization
	NonRetriable []string      // Error substrings that should not be retried
}

// DefaultRetryPolicy returns sensible defaults for report delivery.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxRetries:  3,
		BackoffBase: 1 * time.Second,
		BackoffMax:  30 * time.Second,
		Jitter:      0.2,
		NonRetriable: []string{
			"401",
			"403",
			"404",
			"bad credentials",
		},
	}
}

// isNonRetriable checks if an error matches any non-retriable patterns.
func (p *RetryPolicy) isNonRetriable(err error) bool {
	if err == nil {
		return false
	}
	errStr := strings.ToLower(err.Error())
	for _, pattern := range p.NonRetriable {
		if strings.Contains(errStr, strings.ToLower(pattern)) {
			return true
		}
	}
	return false
}

// calculateBackoff returns the delay for a given attempt with jitter.
func (p *RetryPolicy) calculateBackoff(attempt int) time.Duration {
	delay := float64(p.BackoffBase) * math.Pow(2, float64(attempt))
	if delay > float64(p.BackoffMax) {
		delay = float64(p.BackoffMax)
	}
	jitterRange := delay * p.Jitter
	delay += (rand.Float64()*2 - 1) * jitterRange
	return time.Duration(delay)
}

// retry runs fn under the policy until it succeeds, exhausts its attempts,
// hits a non-retriable error, or the context ends.
func (p *RetryPolicy) retry(ctx context.Context, fn func(context.Context) error) error {
	logger := logging.FromContext(ctx).With("component", "report-retry")

	var lastErr error
	for attempt := 0; attempt <= p.MaxRetries; attempt++ {
		if attempt > 0 {
			backoff := p.calculateBackoff(attempt - 1)
			logger.Info("backing off before retry", "attempt", attempt+1, "delay", backoff)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff):
			}
		}

		lastErr = fn(ctx)
		if lastErr == nil {
			return nil
		}
		if p.isNonRetriable(lastErr) {
			logger.Warn("non-retriable delivery error", "err", lastErr)
			return lastErr
		}
		logger.Warn("delivery attempt failed", "attempt", attempt+1, "err", lastErr)
	}

	return fmt.Errorf("%w after %d attempts: %v", ErrMaxRetriesExceeded, p.MaxRetries+1, lastErr)
}
