package graph

import (
	"math/rand"
	"time"
)

// RetryPolicy defines automatic retry behavior for failed waves.
//
// When any node in a wave fails, the whole wave is retried with the same
// input snapshot so that a partially successful wave never leaks writes.
// Exponential backoff with jitter spaces out the attempts.
type RetryPolicy struct {
	// MaxAttempts is the maximum number of execution attempts including the
	// initial one. Must be >= 1; a value of 1 means no retries.
	MaxAttempts int

	// BaseDelay is the base delay for exponential backoff between retries.
	// The actual delay is min(BaseDelay * 2^attempt, MaxDelay) + jitter.
	BaseDelay time.Duration

	// MaxDelay caps the exponential component. Zero means no cap.
	MaxDelay time.Duration

	// Retryable decides whether an error is worth retrying. If nil, every
	// error is retried until attempts run out. Typical predicates match
	// transient transport failures and rate-limit responses.
	Retryable func(error) bool
}

// Validate checks the policy constraints: MaxAttempts >= 1, and when both
// delays are set, MaxDelay >= BaseDelay.
func (rp *RetryPolicy) Validate() error {
	if rp.MaxAttempts < 1 {
		return ErrInvalidRetryPolicy
	}
	if rp.MaxDelay > 0 && rp.BaseDelay > 0 && rp.MaxDelay < rp.BaseDelay {
		return ErrInvalidRetryPolicy
	}
	return nil
}

// retryable reports whether err qualifies for another attempt under this
// policy.
func (rp *RetryPolicy) retryable(err error) bool {
	if rp.Retryable == nil {
		return true
	}
	return rp.Retryable(err)
}

// computeBackoff calculates the delay before the next attempt:
//
//	delay = min(base * 2^attempt, maxDelay) + jitter(0, base)
//
// attempt is zero-based (0 = first retry). The jitter term randomizes
// timing across concurrent threads so retries never synchronize.
func computeBackoff(attempt int, base, maxDelay time.Duration) time.Duration {
	if base <= 0 {
		return 0
	}

	delay := base * (1 << attempt)
	if maxDelay > 0 && delay > maxDelay {
		delay = maxDelay
	}

	jitter := time.Duration(rand.Int63n(int64(base))) // #nosec G404 -- jitter for retry timing, not security

	return delay + jitter
}
