package graph

import (
	"errors"
	"math/rand"
	"time"
)

// ErrInvalidRetryPolicy is returned by Validate for inconsistent settings.
var ErrInvalidRetryPolicy = errors.New("invalid retry policy")

// NodePolicy configures how the engine runs one node.
//
// Policies are attached with Engine.AddWithPolicy. Zero fields fall back to
// the engine defaults.
type NodePolicy struct {
	// Timeout bounds a single execution. Zero uses the engine default.
	Timeout time.Duration

	// RetryPolicy re-runs the node when it returns a retryable error.
	// Nil means no retries.
	RetryPolicy *RetryPolicy
}

// RetryPolicy re-runs a failing node with exponential backoff and jitter.
//
// Retries happen before anything is persisted, so a retried node never
// leaves a partial checkpoint behind.
type RetryPolicy struct {
	// MaxAttempts includes the first attempt. Must be >= 1.
	MaxAttempts int

	// BaseDelay is the first backoff; each retry doubles it up to MaxDelay.
	BaseDelay time.Duration

	// MaxDelay caps the backoff. Zero means no cap.
	MaxDelay time.Duration

	// Retryable decides whether an error is worth another attempt.
	// Nil treats every error as permanent.
	Retryable func(error) bool
}

// Validate checks the policy for consistency.
func (rp *RetryPolicy) Validate() error {
	if rp.MaxAttempts < 1 {
		return ErrInvalidRetryPolicy
	}
	if rp.MaxDelay > 0 && rp.BaseDelay > 0 && rp.MaxDelay < rp.BaseDelay {
		return ErrInvalidRetryPolicy
	}
	return nil
}

func (rp *RetryPolicy) shouldRetry(attempt int, err error) bool {
	if rp == nil || err == nil || rp.Retryable == nil {
		return false
	}
	return attempt+1 < rp.MaxAttempts && rp.Retryable(err)
}

// computeBackoff returns min(base*2^attempt, maxDelay) plus jitter in [0, base).
func computeBackoff(attempt int, base, maxDelay time.Duration, rng *rand.Rand) time.Duration {
	delay := base * (1 << attempt)
	if maxDelay > 0 && delay > maxDelay {
		delay = maxDelay
	}
	if base <= 0 {
		return delay
	}

	var jitter time.Duration
	if rng != nil {
		jitter = time.Duration(rng.Int63n(int64(base)))
	} else {
		jitter = time.Duration(rand.Int63n(int64(base))) // #nosec G404 -- jitter for retry timing, not security
	}
	return delay + jitter
}
