package core

import (
	"context"
	"fmt"
	"log"
	"time"
)

// Retry runs fn up to attempts times, sleeping attempt*backoff between tries
// (linear backoff). Only transient failures are retried; permanent and
// not-found errors abort immediately. The last error is returned when all
// attempts are exhausted.
func Retry(ctx context.Context, operation string, attempts int, backoff time.Duration, fn func() error) error {
	if attempts <= 0 {
		attempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		lastErr = fn()
		if lastErr == nil {
			return nil
		}
		if !IsTransientError(lastErr) {
			return lastErr
		}
		if attempt == attempts {
			break
		}

		delay := time.Duration(attempt) * backoff
		log.Printf("⚠️ %s failed (attempt %d/%d), retrying in %s: %v", operation, attempt, attempts, delay, lastErr)
		select {
		case <-ctx.Done():
			return fmt.Errorf("%s canceled: %w", operation, ctx.Err())
		case <-time.After(delay):
		}
	}

	return fmt.Errorf("%s failed after %d attempts: %w", operation, attempts, lastErr)
}
