package mdoc

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// retryPolicy implements spec §4.F's retry policy: exponential backoff with
// full jitter, base 100ms, cap 2s, max 3 attempts, bounded by an overall
// per-operation timeout.
type retryPolicy struct {
	maxAttempts int
	overall     time.Duration
}

// defaultRetryPolicy builds the policy from Config.Retries (spec §6); a
// non-positive value (a zero-value Config) falls back to the spec's
// documented default of 3 attempts.
func defaultRetryPolicy(overall time.Duration, maxAttempts int) retryPolicy {
	if maxAttempts <= 0 {
		maxAttempts = 3
	}
	return retryPolicy{maxAttempts: maxAttempts, overall: overall}
}

func (p retryPolicy) newBackOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 100 * time.Millisecond
	b.MaxInterval = 2 * time.Second
	b.MaxElapsedTime = p.overall
	b.RandomizationFactor = 1.0 // full jitter
	return backoff.WithMaxRetries(b, uint64(p.maxAttempts-1))
}

// retry runs op, classifying errors via Classify: a Terminal error aborts
// immediately (no point retrying a dead adapter); a Recoverable error is
// retried under the backoff schedule until the attempt budget or overall
// timeout is exhausted, at which point it is surfaced as ErrTimeout so the
// caller's state machine treats it as terminal (spec §4.F/§7: "the session
// never observes recoverable transport errors").
func retry(ctx context.Context, policy retryPolicy, op func() error) error {
	b := backoff.WithContext(policy.newBackOff(), ctx)
	var lastErr error
	attempt := func() error {
		err := op()
		if err == nil {
			return nil
		}
		lastErr = err
		if Classify(err) == Terminal {
			return backoff.Permanent(err)
		}
		return err
	}
	if err := backoff.Retry(attempt, b); err != nil {
		if Classify(lastErr) == Terminal {
			return lastErr
		}
		return &ProtoError{ErrTimeout}
	}
	return nil
}
