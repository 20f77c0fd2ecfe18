// Package retry is a bounded-retry combinator for calls against
// unreliable remote workers. Callers supply a classifier deciding,
// per failed attempt, whether to try again, stop with a terminal
// outcome, or give up on a non-retryable error.
package retry

import (
	"context"
	"time"
)

type Decision int

const (
	// Again retries the operation if attempts remain.
	Again Decision = iota

	// Stop ends retrying with the error as a terminal outcome
	// (e.g. a conflict status the caller reports as-is).
	Stop

	// Fatal ends retrying because the error class is not retryable.
	Fatal
)

// Classifier inspects a failed attempt. attempt is 1-based.
type Classifier func(err error, attempt int) Decision

// DefaultAttempts is 1 initial attempt plus 2 retries.
const DefaultAttempts = 3

// baseDelay doubles per retry. Variable so tests can shrink it.
var baseDelay = time.Second

// Do runs op up to attempts times. Non-positive attempts means
// DefaultAttempts. The last error is returned when attempts exhaust.
func Do(ctx context.Context, attempts int, classify Classifier, op func(ctx context.Context) error) error {
	if attempts <= 0 {
		attempts = DefaultAttempts
	}

	var err error
	delay := baseDelay
	for attempt := 1; attempt <= attempts; attempt++ {
		err = op(ctx)
		if err == nil {
			return nil
		}

		switch classify(err, attempt) {
		case Stop, Fatal:
			return err
		}

		if attempt == attempts {
			return err
		}

		select {
		case <-ctx.Done():
			return err
		case <-time.After(delay):
		}
		delay *= 2
	}
	return err
}
