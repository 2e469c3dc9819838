// Keeper - Square POS Business Intelligence for Small Merchants
// Copyright 2026 raydawg88
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/raydawg88/keeper

package syncer

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sony/gobreaker/v2"

	"github.com/raydawg88/keeper/internal/config"
	"github.com/raydawg88/keeper/internal/logging"
	"github.com/raydawg88/keeper/internal/metrics"
	"github.com/raydawg88/keeper/internal/models"
)

// FallbackStore persists the last good response per endpoint/key so reads
// can degrade gracefully while the upstream is unavailable.
type FallbackStore interface {
	Put(endpoint, key string, body []byte, at time.Time) error
	// Get returns the stored body and its write time, or ErrNotFound.
	Get(endpoint, key string) ([]byte, time.Time, error)
}

// RetryHandler receives the result of a successfully retried request.
type RetryHandler func(req Request, body []byte)

// PermanentFailureHandler is notified exactly once when a request exhausts
// its retry budget.
type PermanentFailureHandler func(req Request, attempts int, lastErr error)

// Orchestrator drives requests through admission, pacing, circuit breaking,
// the upstream call, and failure handling. It owns all shared per-endpoint
// state and runs the retry drain loop.
type Orchestrator struct {
	transport Transport
	breaker   *CircuitBreaker
	governor  *RateGovernor
	health    *HealthTracker
	queue     *RetryQueue
	fallback  FallbackStore
	classes   PriorityClasses

	cooldown       time.Duration
	drainInterval  time.Duration
	fallbackMaxAge time.Duration

	onRetrySuccess RetryHandler
	onPermanent    PermanentFailureHandler

	mu            sync.Mutex
	permanentByEP map[string]int

	// now is swappable for tests.
	now func() time.Time
}

// NewOrchestrator wires the pipeline from resilience and upstream config.
// fallback may be nil, in which case degraded reads always fail.
func NewOrchestrator(transport Transport, fallback FallbackStore, res config.ResilienceConfig, targetRPS float64) *Orchestrator {
	health := NewHealthTracker(res.HealthWindow, res.MaxBackoffLevel)
	return &Orchestrator{
		transport:      transport,
		breaker:        NewCircuitBreaker(res.FailureThreshold, res.Cooldown),
		governor:       NewRateGovernor(targetRPS, health, res.HealthyRatio, res.ThrottleBase, res.ThrottleSlope),
		health:         health,
		queue:          NewRetryQueue(),
		fallback:       fallback,
		classes:        ClassesFromConfig(res),
		cooldown:       res.Cooldown,
		drainInterval:  res.DrainInterval,
		fallbackMaxAge: res.FallbackMaxAge,
		permanentByEP:  make(map[string]int),
		now:            time.Now,
	}
}

// OnRetrySuccess registers the handler invoked when a queued request later
// succeeds. Must be called before Run.
func (o *Orchestrator) OnRetrySuccess(h RetryHandler) { o.onRetrySuccess = h }

// OnPermanentFailure registers the handler invoked when a request exhausts
// its retry budget. Must be called before Run.
func (o *Orchestrator) OnPermanentFailure(h PermanentFailureHandler) { o.onPermanent = h }

// Execute runs req through the pipeline and returns how it was resolved.
//
// Ordering matters: the breaker state is checked before the governor delay
// so callers are not made to wait only to be rejected, and the breaker slot
// is reserved after the delay so an abandoned wait never consumes the
// half-open trial.
func (o *Orchestrator) Execute(ctx context.Context, req Request) Outcome {
	if req.Priority == PriorityCritical {
		return o.executeCritical(ctx, req)
	}

	body, err := o.attempt(ctx, req)
	if err == nil {
		return Outcome{Disposition: DispositionFresh, Body: body}
	}
	return o.resolveFailure(ctx, req, err)
}

// executeCritical retries transient failures inline rather than queueing:
// a user is waiting on the result, so the request either succeeds within
// its budget or degrades immediately.
func (o *Orchestrator) executeCritical(ctx context.Context, req Request) Outcome {
	class := o.classes[PriorityCritical]

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = class.BaseDelay
	bo.Multiplier = class.Multiplier
	bo.MaxInterval = class.MaxDelay
	bo.MaxElapsedTime = 0

	var body []byte
	op := func() error {
		b, err := o.attempt(ctx, req)
		if err != nil {
			if !IsTransient(err) {
				return backoff.Permanent(err)
			}
			return err
		}
		body = b
		return nil
	}

	err := backoff.Retry(op, backoff.WithMaxRetries(backoff.WithContext(bo, ctx), uint64(class.MaxRetries)))
	if err == nil {
		return Outcome{Disposition: DispositionFresh, Body: body}
	}
	if IsTransient(err) {
		o.recordPermanent(req, class.MaxRetries, err)
	}
	return o.degrade(req, err)
}

// resolveFailure handles a failed non-critical attempt: transient failures
// are queued for retry, and reads degrade to the fallback store either way.
func (o *Orchestrator) resolveFailure(ctx context.Context, req Request, err error) Outcome {
	if IsTransient(err) {
		class := o.classes[req.Priority]
		if class.MaxRetries > 0 {
			delay := class.RetryDelay(1)
			// An upstream Retry-After extends the wait but never
			// shortens the class's own curve.
			if ra, ok := retryAfter(err); ok && ra > delay {
				delay = ra
			}
			if qerr := o.queue.Enqueue(req, 0, o.now().Add(delay)); qerr != nil {
				logging.Warn().Err(qerr).Str("request_id", req.ID).Msg("Failed to enqueue retry")
			} else {
				out := o.degrade(req, err)
				if out.Disposition == DispositionFailed {
					out.Disposition = DispositionQueued
				}
				return out
			}
		} else {
			o.recordPermanent(req, 0, err)
		}
	}
	return o.degrade(req, err)
}

// attempt performs a single admission-to-response pass for req. It returns
// the raw body or a classified error and applies all health and breaker
// feedback for the attempt.
func (o *Orchestrator) attempt(ctx context.Context, req Request) ([]byte, error) {
	// Cheap pre-check: do not pay the governor delay for a call the
	// breaker would reject anyway.
	if o.breaker.State(req.Endpoint) == gobreaker.StateOpen {
		metrics.CircuitBreakerRejections.WithLabelValues(req.Endpoint).Inc()
		return nil, ErrCircuitOpen
	}

	if err := o.governor.Acquire(ctx, req.Endpoint, req.Priority); err != nil {
		return nil, err
	}

	// Reserve the breaker slot only once we are about to call, so a
	// context cancelled during the governor wait never consumes the
	// half-open trial.
	done, err := o.breaker.Allow(req.Endpoint)
	if err != nil {
		return nil, err
	}

	start := o.now()
	body, callErr := o.transport.Call(ctx, req)
	elapsed := o.now().Sub(start)

	switch {
	case callErr == nil:
		done(true)
		o.health.Record(req.Endpoint, true)
		metrics.RecordUpstreamCall(req.Endpoint, "success", elapsed)
		o.storeFallback(req, body)
		return body, nil

	case errors.Is(callErr, context.Canceled), errors.Is(callErr, context.DeadlineExceeded):
		// An abandoned call is no verdict on the endpoint. Release the
		// breaker slot without counting a failure or touching health.
		done(true)
		metrics.RecordUpstreamCall(req.Endpoint, "cancelled", elapsed)
		return nil, callErr

	case IsTransient(callErr):
		done(false)
		o.health.Record(req.Endpoint, false)
		result := "transient"
		var rl *RateLimitError
		if errors.As(callErr, &rl) {
			result = "rate_limited"
		}
		metrics.RecordUpstreamCall(req.Endpoint, result, elapsed)
		return nil, callErr

	default:
		// The upstream answered; a 4xx says the request was wrong, not
		// that the endpoint is unhealthy.
		done(true)
		o.health.Record(req.Endpoint, true)
		metrics.RecordUpstreamCall(req.Endpoint, "permanent", elapsed)
		return nil, callErr
	}
}

// degrade serves req from the fallback store when possible.
func (o *Orchestrator) degrade(req Request, cause error) Outcome {
	if o.fallback == nil {
		return Outcome{Disposition: DispositionFailed, Err: cause}
	}

	body, at, err := o.fallback.Get(req.Endpoint, fallbackKey(req))
	if err != nil {
		return Outcome{Disposition: DispositionFailed, Err: cause}
	}
	age := o.now().Sub(at)
	if age > o.fallbackMaxAge {
		return Outcome{Disposition: DispositionFailed, Err: errors.Join(cause, ErrStaleFallback)}
	}

	metrics.DegradedResponses.WithLabelValues(req.Endpoint).Inc()
	return Outcome{Disposition: DispositionDegraded, Body: body, DataAge: age, Err: cause}
}

func (o *Orchestrator) storeFallback(req Request, body []byte) {
	if o.fallback == nil || req.Method != "GET" {
		return
	}
	if err := o.fallback.Put(req.Endpoint, fallbackKey(req), body, o.now()); err != nil {
		logging.Warn().Err(err).Str("endpoint", req.Endpoint).Msg("Failed to store fallback copy")
	}
}

// fallbackKey identifies a cacheable response by its path and query,
// ignoring pagination-independent identity fields like the request ID.
func fallbackKey(req Request) string {
	if len(req.Query) == 0 {
		return req.Path
	}
	return req.Path + "?" + req.Query.Encode()
}

// Cancel removes a not-yet-retried request from the retry queue.
func (o *Orchestrator) Cancel(requestID string) error {
	return o.queue.Cancel(requestID)
}

// QueueDepth returns the current retry queue size.
func (o *Orchestrator) QueueDepth() int {
	return o.queue.Len()
}

// Run drains the retry queue until ctx is cancelled. Eligible items are
// grouped by endpoint and retried sequentially within each endpoint, so a
// recovering endpoint sees its retries in priority order while other
// endpoints proceed independently.
func (o *Orchestrator) Run(ctx context.Context) error {
	ticker := time.NewTicker(o.drainInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			o.queue.Close()
			return ctx.Err()
		case <-ticker.C:
			o.drainOnce(ctx)
		}
	}
}

func (o *Orchestrator) drainOnce(ctx context.Context) {
	ready := o.queue.DrainReady(o.now())
	if len(ready) == 0 {
		return
	}

	byEndpoint := make(map[string][]*retryItem)
	for _, item := range ready {
		byEndpoint[item.req.Endpoint] = append(byEndpoint[item.req.Endpoint], item)
	}

	var wg sync.WaitGroup
	for _, items := range byEndpoint {
		wg.Add(1)
		go func(items []*retryItem) {
			defer wg.Done()
			for _, item := range items {
				if ctx.Err() != nil {
					// Shutting down; put the item back untouched.
					_ = o.queue.Enqueue(item.req, item.attempt, item.nextEligible)
					continue
				}
				o.retryOne(ctx, item)
			}
		}(items)
	}
	wg.Wait()
}

// retryOne replays a single queued item. Breaker rejections do not consume
// a retry attempt; the item waits out the cooldown instead.
func (o *Orchestrator) retryOne(ctx context.Context, item *retryItem) {
	body, err := o.attempt(ctx, item.req)
	if err == nil {
		logging.Debug().
			Str("request_id", item.req.ID).
			Str("endpoint", item.req.Endpoint).
			Int("attempt", item.attempt+1).
			Msg("Queued request succeeded on retry")
		if o.onRetrySuccess != nil {
			o.onRetrySuccess(item.req, body)
		}
		return
	}

	if errors.Is(err, ErrCircuitOpen) {
		if qerr := o.queue.Enqueue(item.req, item.attempt, o.now().Add(o.cooldown)); qerr != nil {
			logging.Warn().Err(qerr).Str("request_id", item.req.ID).Msg("Failed to requeue after circuit rejection")
		}
		return
	}

	// A cancellation mid-drain says nothing about the endpoint or the
	// request; put the item back untouched, same as the shutdown path.
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		if qerr := o.queue.Enqueue(item.req, item.attempt, item.nextEligible); qerr != nil {
			logging.Warn().Err(qerr).Str("request_id", item.req.ID).Msg("Failed to requeue after cancellation")
		}
		return
	}

	if !IsTransient(err) {
		o.recordPermanent(item.req, item.attempt+1, err)
		return
	}

	class := o.classes[item.req.Priority]
	attempt := item.attempt + 1
	if attempt >= class.MaxRetries {
		o.recordPermanent(item.req, attempt, err)
		return
	}

	delay := class.RetryDelay(attempt + 1)
	if ra, ok := retryAfter(err); ok && ra > delay {
		delay = ra
	}
	if qerr := o.queue.Enqueue(item.req, attempt, o.now().Add(delay)); qerr != nil {
		logging.Warn().Err(qerr).Str("request_id", item.req.ID).Msg("Failed to requeue retry")
	}
}

func (o *Orchestrator) recordPermanent(req Request, attempts int, lastErr error) {
	logging.Error().
		Err(lastErr).
		Str("request_id", req.ID).
		Str("endpoint", req.Endpoint).
		Str("priority", req.Priority.String()).
		Int("attempts", attempts).
		Msg("Request failed permanently")
	metrics.PermanentFailures.WithLabelValues(req.Endpoint, req.Priority.String()).Inc()

	o.mu.Lock()
	o.permanentByEP[req.Endpoint]++
	o.mu.Unlock()

	if o.onPermanent != nil {
		o.onPermanent(req, attempts, lastErr)
	}
}

// Snapshot reports the current pipeline state per endpoint for the status
// API. Endpoints appear once they have recorded at least one call.
func (o *Orchestrator) Snapshot() []models.SyncStatus {
	names := o.health.Endpoints()
	sort.Strings(names)

	depth := o.queue.Len()
	o.mu.Lock()
	defer o.mu.Unlock()

	statuses := make([]models.SyncStatus, 0, len(names))
	for _, name := range names {
		statuses = append(statuses, models.SyncStatus{
			Endpoint:          name,
			CircuitState:      o.breaker.StateName(name),
			BackoffLevel:      o.health.BackoffLevel(name),
			SuccessRatio:      o.health.SuccessRatio(name),
			QueueDepth:        depth,
			PermanentFailures: o.permanentByEP[name],
		})
	}
	return statuses
}
