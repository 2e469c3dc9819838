// Keeper - Square POS Business Intelligence for Small Merchants
// Copyright 2026 raydawg88
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/raydawg88/keeper

package syncer

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrCircuitOpen is returned when the per-endpoint circuit breaker
	// rejects a request without contacting the upstream.
	ErrCircuitOpen = errors.New("circuit breaker open")

	// ErrQueueClosed is returned by RetryQueue operations after Close.
	ErrQueueClosed = errors.New("retry queue closed")

	// ErrDuplicateRequest is returned when a request ID is already present
	// in the retry queue.
	ErrDuplicateRequest = errors.New("duplicate request id")

	// ErrNotFound is returned by Cancel when no queued item has the
	// given request ID.
	ErrNotFound = errors.New("request not found")

	// ErrStaleFallback is returned when degraded mode has cached data but
	// it is older than the configured freshness bound.
	ErrStaleFallback = errors.New("fallback data too stale")
)

// RateLimitError reports an upstream 429 response. RetryAfter is zero when
// the upstream did not send a usable Retry-After header.
type RateLimitError struct {
	Endpoint   string
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf("rate limited on %s, retry after %s", e.Endpoint, e.RetryAfter)
	}
	return fmt.Sprintf("rate limited on %s", e.Endpoint)
}

// PermanentError reports an upstream failure that retrying cannot fix,
// such as a 4xx response (other than 429) or a malformed payload.
type PermanentError struct {
	Endpoint   string
	StatusCode int
	Message    string
}

func (e *PermanentError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("permanent failure on %s: status %d: %s", e.Endpoint, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("permanent failure on %s: %s", e.Endpoint, e.Message)
}

// TransientError reports an upstream failure worth retrying: 5xx responses,
// timeouts, and connection resets.
type TransientError struct {
	Endpoint   string
	StatusCode int
	Err        error
}

func (e *TransientError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("transient failure on %s: status %d", e.Endpoint, e.StatusCode)
	}
	return fmt.Sprintf("transient failure on %s: %v", e.Endpoint, e.Err)
}

func (e *TransientError) Unwrap() error { return e.Err }

// IsTransient reports whether err represents a failure that a later retry
// could plausibly succeed on. Rate limits count as transient: the request
// itself was fine, the upstream just wants it later.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	var te *TransientError
	if errors.As(err, &te) {
		return true
	}
	var rl *RateLimitError
	return errors.As(err, &rl)
}

// retryAfter extracts the upstream-mandated delay from err, if any.
func retryAfter(err error) (time.Duration, bool) {
	var rl *RateLimitError
	if errors.As(err, &rl) && rl.RetryAfter > 0 {
		return rl.RetryAfter, true
	}
	return 0, false
}
