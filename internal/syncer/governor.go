// Keeper - Square POS Business Intelligence for Small Merchants
// Copyright 2026 raydawg88
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/raydawg88/keeper

package syncer

import (
	"context"
	"math/rand"
	"time"

	"golang.org/x/time/rate"

	"github.com/raydawg88/keeper/internal/metrics"
)

// minThrottleSamples is the window occupancy required before the success
// ratio is trusted for throttling. A lone failure on a fresh endpoint
// must not read as an outage.
const minThrottleSamples = 10

// RateGovernor paces outbound calls. Every call pays the shared
// target-throughput limiter; unhealthy endpoints additionally pay an
// exponential backoff delay with jitter, plus a preemptive throttle that
// kicks in while the success ratio sags but before the breaker trips.
type RateGovernor struct {
	limiter *rate.Limiter
	health  *HealthTracker

	healthyRatio  float64
	throttleBase  time.Duration
	throttleSlope float64

	// backoffUnit scales the exponential backoff delay. Production uses
	// one second; tests shrink it.
	backoffUnit time.Duration

	// now and jitter are swappable for tests.
	now    func() time.Time
	jitter func() time.Duration
}

// NewRateGovernor creates a governor targeting targetRPS calls per second
// overall, consulting health for per-endpoint backoff state.
func NewRateGovernor(targetRPS float64, health *HealthTracker, healthyRatio float64, throttleBase time.Duration, throttleSlope float64) *RateGovernor {
	if targetRPS <= 0 {
		targetRPS = 10
	}
	return &RateGovernor{
		limiter:       rate.NewLimiter(rate.Limit(targetRPS), int(targetRPS)),
		health:        health,
		healthyRatio:  healthyRatio,
		throttleBase:  throttleBase,
		throttleSlope: throttleSlope,
		backoffUnit:   time.Second,
		now:           time.Now,
		jitter: func() time.Duration {
			return time.Duration(rand.Int63n(int64(time.Second)))
		},
	}
}

// delayFor computes the endpoint-specific delay (backoff + jitter +
// preemptive throttle) without blocking. The shared limiter is handled
// separately in Acquire. Returns the delay and whether the preemptive
// throttle contributed.
func (g *RateGovernor) delayFor(endpoint string, prio Priority) (time.Duration, bool) {
	var d time.Duration

	if level := g.health.BackoffLevel(endpoint); level > 0 {
		d = time.Duration(1<<uint(level))*g.backoffUnit + g.jitter()
	}

	throttled := false
	ratio := g.health.SuccessRatio(endpoint)
	if ratio < g.healthyRatio && prio != PriorityCritical &&
		g.health.Samples(endpoint) >= minThrottleSamples {
		extra := g.throttleBase + time.Duration((1.0-ratio)*g.throttleSlope*float64(time.Second))
		d += extra
		throttled = true
	}

	return d, throttled
}

// Acquire blocks until the request may proceed or ctx is done. Acquire
// touches no shared failure state, so a caller abandoning the wait has no
// side effects on endpoint health.
func (g *RateGovernor) Acquire(ctx context.Context, endpoint string, prio Priority) error {
	start := g.now()

	delay, throttled := g.delayFor(endpoint, prio)
	if throttled {
		metrics.GovernorThrottled.WithLabelValues(endpoint).Inc()
	}
	if delay > 0 {
		timer := time.NewTimer(delay)
		defer timer.Stop()
		select {
		case <-timer.C:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	if err := g.limiter.Wait(ctx); err != nil {
		return err
	}

	metrics.GovernorWaitDuration.WithLabelValues(endpoint, prio.String()).
		Observe(g.now().Sub(start).Seconds())
	return nil
}
