// Keeper - Square POS Business Intelligence for Small Merchants
// Copyright 2026 raydawg88
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/raydawg88/keeper

package syncer

import (
	"errors"
	"sync"
	"time"

	"github.com/sony/gobreaker/v2"

	"github.com/raydawg88/keeper/internal/logging"
	"github.com/raydawg88/keeper/internal/metrics"
)

// CircuitBreaker guards each logical endpoint with an independent
// closed/open/half-open breaker. The two-step form is used so the governor
// delay can run between admission and the actual call: Allow reserves a
// slot, and the returned done callback reports the outcome.
type CircuitBreaker struct {
	mu       sync.Mutex
	breakers map[string]*gobreaker.TwoStepCircuitBreaker[[]byte]

	failureThreshold int
	cooldown         time.Duration
}

// NewCircuitBreaker creates a breaker registry. Endpoints trip after
// failureThreshold consecutive failures and admit a single half-open
// trial call after cooldown.
func NewCircuitBreaker(failureThreshold int, cooldown time.Duration) *CircuitBreaker {
	if failureThreshold <= 0 {
		failureThreshold = 5
	}
	if cooldown <= 0 {
		cooldown = 60 * time.Second
	}
	return &CircuitBreaker{
		breakers:         make(map[string]*gobreaker.TwoStepCircuitBreaker[[]byte]),
		failureThreshold: failureThreshold,
		cooldown:         cooldown,
	}
}

func (cb *CircuitBreaker) breaker(endpoint string) *gobreaker.TwoStepCircuitBreaker[[]byte] {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if b, ok := cb.breakers[endpoint]; ok {
		return b
	}

	threshold := uint32(cb.failureThreshold)
	b := gobreaker.NewTwoStepCircuitBreaker[[]byte](gobreaker.Settings{
		Name: endpoint,
		// One trial call at a time while half-open.
		MaxRequests: 1,
		Timeout:     cb.cooldown,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logging.Warn().
				Str("endpoint", name).
				Str("from", stateName(from)).
				Str("to", stateName(to)).
				Msg("Circuit breaker state change")
			metrics.CircuitBreakerTransitions.WithLabelValues(name, stateName(from), stateName(to)).Inc()
			metrics.CircuitBreakerState.WithLabelValues(name).Set(stateGauge(to))
		},
	})
	cb.breakers[endpoint] = b
	return b
}

// errCallFailed feeds the breaker's failure accounting; the real error
// stays with the caller.
var errCallFailed = errors.New("upstream call failed")

// Allow reserves a call slot for endpoint. On success it returns a done
// callback that MUST be invoked exactly once with the call outcome; if the
// circuit is open (or the half-open slot is taken) it returns ErrCircuitOpen.
func (cb *CircuitBreaker) Allow(endpoint string) (func(success bool), error) {
	done, err := cb.breaker(endpoint).Allow()
	if err != nil {
		metrics.CircuitBreakerRejections.WithLabelValues(endpoint).Inc()
		return nil, ErrCircuitOpen
	}
	// gobreaker's done callback takes the call error; adapt it to the
	// boolean outcome the pipeline reports.
	return func(success bool) {
		if success {
			done(nil)
			return
		}
		done(errCallFailed)
	}, nil
}

// State returns the endpoint's current breaker state without reserving a
// call slot. Used as the cheap pre-check before any governor delay.
func (cb *CircuitBreaker) State(endpoint string) gobreaker.State {
	return cb.breaker(endpoint).State()
}

// StateName returns the endpoint's state as a lowercase string for
// status reporting.
func (cb *CircuitBreaker) StateName(endpoint string) string {
	return stateName(cb.State(endpoint))
}

func stateName(s gobreaker.State) string {
	switch s {
	case gobreaker.StateClosed:
		return "closed"
	case gobreaker.StateHalfOpen:
		return "half_open"
	case gobreaker.StateOpen:
		return "open"
	default:
		return "unknown"
	}
}

func stateGauge(s gobreaker.State) float64 {
	switch s {
	case gobreaker.StateClosed:
		return 0
	case gobreaker.StateHalfOpen:
		return 1
	default:
		return 2
	}
}
