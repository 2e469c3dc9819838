// Keeper - Square POS Business Intelligence for Small Merchants
// Copyright 2026 raydawg88
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/raydawg88/keeper

// Package metrics provides Prometheus instrumentation for Keeper:
// sync manager health (circuit state, backoff, success ratio, retry queue),
// upstream API calls, database upserts, cache efficiency, and HTTP traffic.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Circuit Breaker Metrics
	CircuitBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=half-open, 2=open)",
		},
		[]string{"endpoint"},
	)

	CircuitBreakerTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "circuit_breaker_state_transitions_total",
			Help: "Total number of circuit breaker state transitions",
		},
		[]string{"endpoint", "from_state", "to_state"},
	)

	CircuitBreakerRejections = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "circuit_breaker_rejections_total",
			Help: "Total number of calls rejected by an open circuit",
		},
		[]string{"endpoint"},
	)

	// Endpoint Health Metrics
	EndpointBackoffLevel = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "endpoint_backoff_level",
			Help: "Current exponential backoff level per endpoint",
		},
		[]string{"endpoint"},
	)

	EndpointSuccessRatio = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "endpoint_success_ratio",
			Help: "Rolling success ratio per endpoint in [0,1]",
		},
		[]string{"endpoint"},
	)

	// Rate Governor Metrics
	GovernorWaitDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "rate_governor_wait_seconds",
			Help:    "Delay imposed by the rate governor before upstream calls",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10, 30, 60},
		},
		[]string{"endpoint", "priority"},
	)

	GovernorThrottled = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rate_governor_preemptive_throttles_total",
			Help: "Calls delayed by the preemptive throttle (degraded success ratio)",
		},
		[]string{"endpoint"},
	)

	// Retry Queue Metrics
	RetryQueueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "retry_queue_depth",
			Help: "Current number of items awaiting retry",
		},
	)

	RetryQueueEnqueued = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "retry_queue_enqueued_total",
			Help: "Total items enqueued for retry",
		},
		[]string{"endpoint", "priority"},
	)

	RetryQueueCancelled = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "retry_queue_cancelled_total",
			Help: "Total items removed from the retry queue by cancellation",
		},
	)

	PermanentFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sync_permanent_failures_total",
			Help: "Requests that exhausted their priority class retry budget",
		},
		[]string{"endpoint", "priority"},
	)

	// Degradation Metrics
	DegradedResponses = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sync_degraded_responses_total",
			Help: "Responses served from the fallback store instead of live upstream",
		},
		[]string{"endpoint"},
	)

	// Upstream API Metrics
	UpstreamRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "square_api_requests_total",
			Help: "Total Square API requests by outcome",
		},
		[]string{"endpoint", "result"}, // result: "success", "rate_limited", "transient", "permanent"
	)

	UpstreamRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "square_api_request_duration_seconds",
			Help:    "Square API request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"endpoint"},
	)

	// Sync Operation Metrics
	SyncDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "sync_duration_seconds",
			Help:    "Duration of full sync operations in seconds",
			Buckets: []float64{1, 5, 10, 30, 60, 120, 300, 600},
		},
	)

	SyncRecordsProcessed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sync_records_processed_total",
			Help: "Records upserted during sync, by record type",
		},
		[]string{"record_type"}, // "customer", "payment"
	)

	SyncLastSuccess = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "sync_last_success_timestamp",
			Help: "Unix timestamp of last successful full sync",
		},
	)

	// Database Metrics
	DBQueryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "duckdb_query_duration_seconds",
			Help:    "Duration of DuckDB queries in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation", "table"},
	)

	DBConflictSkips = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "duckdb_conflict_skips_total",
			Help: "Upserts resolved as benign uniqueness-conflict skips",
		},
		[]string{"table"},
	)

	// Cache Metrics
	CacheHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cache_hits_total",
			Help: "Total number of cache hits",
		},
		[]string{"cache_type"}, // "memory", "fallback"
	)

	CacheMisses = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cache_misses_total",
			Help: "Total number of cache misses",
		},
		[]string{"cache_type"},
	)

	// API Endpoint Metrics
	APIRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "api_requests_total",
			Help: "Total number of API requests",
		},
		[]string{"method", "endpoint", "status_code"},
	)

	APIRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "api_request_duration_seconds",
			Help:    "API request duration in seconds",
			Buckets: []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		},
		[]string{"method", "endpoint"},
	)
)

// RecordUpstreamCall records a Square API call outcome.
func RecordUpstreamCall(endpoint, result string, duration time.Duration) {
	UpstreamRequests.WithLabelValues(endpoint, result).Inc()
	UpstreamRequestDuration.WithLabelValues(endpoint).Observe(duration.Seconds())
}

// RecordDBQuery records a database query metric.
func RecordDBQuery(operation, table string, duration time.Duration) {
	DBQueryDuration.WithLabelValues(operation, table).Observe(duration.Seconds())
}

// RecordAPIRequest records an inbound HTTP request metric.
func RecordAPIRequest(method, endpoint, statusCode string, duration time.Duration) {
	APIRequestsTotal.WithLabelValues(method, endpoint, statusCode).Inc()
	APIRequestDuration.WithLabelValues(method, endpoint).Observe(duration.Seconds())
}
