// Package errs defines the error-semantics taxonomy shared across the
// pipeline. Components wrap one of these sentinels so callers can classify
// a failure with errors.Is instead of switching on concrete types.
package errs

import "errors"

var (
	// ErrTransient marks a network timeout, 5xx, or connection reset —
	// safe to retry with backoff where the underlying call is idempotent.
	ErrTransient = errors.New("transient I/O error")

	// ErrRateLimited marks a 429 — retry with jittered backoff.
	ErrRateLimited = errors.New("rate limited")

	// ErrDataShape marks a malformed event or unexpected field — drop and log.
	ErrDataShape = errors.New("malformed data shape")

	// ErrSafetyViolation marks a hard safety rejection (honeypot, locked
	// circuit breaker, oversized position, no route) — never retried.
	ErrSafetyViolation = errors.New("safety violation")

	// ErrIntegrity marks a tamper or signature mismatch — abort, alert, no retry.
	ErrIntegrity = errors.New("integrity violation")

	// ErrFatalConfig marks a startup configuration error — refuse to start.
	ErrFatalConfig = errors.New("fatal configuration error")
)
