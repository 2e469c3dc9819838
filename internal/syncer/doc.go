// Keeper - Square POS Business Intelligence for Small Merchants
// Copyright 2026 raydawg88
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/raydawg88/keeper

// Package syncer implements Keeper's adaptive API sync manager.
//
// The package is organized around a per-request pipeline:
//
//	caller -> Orchestrator -> RateGovernor (may delay) -> CircuitBreaker
//	       -> transport call -> HealthTracker/CircuitBreaker feedback
//	       -> RetryQueue on transient failure -> fallback store on degradation
//
// Components:
//
//   - HealthTracker: rolling success/failure window and exponential backoff
//     level per logical endpoint.
//   - CircuitBreaker: per-endpoint closed/open/half-open guard built on
//     sony/gobreaker's two-step breaker (single half-open trial).
//   - RateGovernor: computes the pre-call delay from a target-throughput
//     limiter, the endpoint backoff level, jitter, and a preemptive throttle
//     that slows calls down before the endpoint fails outright.
//   - RetryQueue: priority-ordered holding area for failed requests with
//     per-class retry budgets and backoff curves.
//   - Orchestrator: drives a request through the pipeline, owns all shared
//     per-endpoint state, and runs the retry drain loop.
//   - Manager: lifecycle wrapper running the periodic Square full sync.
//
// The Orchestrator is the sole mutator of health and circuit state; the
// RetryQueue exclusively owns items between enqueue and dequeue.
package syncer
