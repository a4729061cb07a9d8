// Package reliability holds the retry primitives shared by the event queue and
// the batch synchronizer: outcome classification into recoverable vs. terminal,
// and capped exponential backoff computation.
package reliability

import (
	"time"

	"github.com/syncbridge/syncbridge/pkg/errors"
)

// Decision is the result of classifying a single operation outcome.
type Decision struct {
	// Retryable reports whether the outcome may be re-driven.  Terminal
	// outcomes (not-found, validation, conflict) must never be retried.
	Retryable bool

	// RateLimited reports whether the outcome was an explicit throttling
	// signal from the remote service.  The synchronizer lowers its
	// concurrency only on this class, not on every recoverable failure.
	RateLimited bool

	// SuggestedDelay is the wait the remote service asked for, or zero when
	// no suggestion was carried by the outcome.
	SuggestedDelay time.Duration
}

// Classify inspects an operation outcome and returns its retry decision.
// A nil error is a success and is never retried.  Classification is purely
// structural — it reads typed codes off the error chain and never parses
// message text.  Errors that carry no AppError are treated as unknown
// transients and retried up to the caller's attempt cap.
func Classify(err error) Decision {
	if err == nil {
		return Decision{}
	}
	code := errors.GetCode(err)
	return Decision{
		Retryable:      errors.CodeRetryable(code),
		RateLimited:    code == errors.CodeRateLimit,
		SuggestedDelay: errors.RetryAfterOf(err),
	}
}

// Backoff returns the delay before retry attempt n (1-based):
//
//	min(base * 2^(n-1), cap)
//
// Attempts below 1 are treated as 1.  The doubling is cut short as soon as the
// cap is reached so large attempt numbers cannot overflow.
func Backoff(attempt int, base, cap time.Duration) time.Duration {
	if base <= 0 {
		return 0
	}
	if attempt < 1 {
		attempt = 1
	}
	d := base
	for i := 1; i < attempt; i++ {
		if cap > 0 && d >= cap {
			return cap
		}
		d *= 2
	}
	if cap > 0 && d > cap {
		return cap
	}
	return d
}

// RetryDelay combines the computed backoff for attempt n with the decision's
// suggested delay; the remote suggestion wins when it is larger.
func RetryDelay(attempt int, base, cap time.Duration, d Decision) time.Duration {
	computed := Backoff(attempt, base, cap)
	if d.SuggestedDelay > computed {
		return d.SuggestedDelay
	}
	return computed
}
