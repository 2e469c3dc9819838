// Keeper - Square POS Business Intelligence for Small Merchants
// Copyright 2026 raydawg88
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/raydawg88/keeper

package syncer

import (
	"sync"

	"github.com/raydawg88/keeper/internal/metrics"
)

// HealthTracker maintains a rolling window of call outcomes and an
// exponential backoff level for each logical endpoint. The backoff level
// rises by one on every failure and falls by one (never resets outright)
// on every success, so a single lucky call after an outage cannot slam
// the endpoint back to full speed.
type HealthTracker struct {
	mu       sync.Mutex
	window   int
	maxLevel int
	eps      map[string]*endpointHealth
}

type endpointHealth struct {
	// outcomes is a ring buffer of recent call results.
	outcomes []bool
	next     int
	filled   bool
	backoff  int
}

// NewHealthTracker creates a tracker with the given rolling-window size and
// backoff level ceiling.
func NewHealthTracker(window, maxLevel int) *HealthTracker {
	if window <= 0 {
		window = 50
	}
	if maxLevel <= 0 {
		maxLevel = 6
	}
	return &HealthTracker{
		window:   window,
		maxLevel: maxLevel,
		eps:      make(map[string]*endpointHealth),
	}
}

func (h *HealthTracker) endpoint(name string) *endpointHealth {
	ep, ok := h.eps[name]
	if !ok {
		ep = &endpointHealth{outcomes: make([]bool, h.window)}
		h.eps[name] = ep
	}
	return ep
}

// Record stores one call outcome for endpoint and adjusts its backoff level.
func (h *HealthTracker) Record(endpoint string, success bool) {
	h.mu.Lock()
	defer h.mu.Unlock()

	ep := h.endpoint(endpoint)
	ep.outcomes[ep.next] = success
	ep.next++
	if ep.next == h.window {
		ep.next = 0
		ep.filled = true
	}

	if success {
		if ep.backoff > 0 {
			ep.backoff--
		}
	} else if ep.backoff < h.maxLevel {
		ep.backoff++
	}

	metrics.EndpointBackoffLevel.WithLabelValues(endpoint).Set(float64(ep.backoff))
	metrics.EndpointSuccessRatio.WithLabelValues(endpoint).Set(ep.ratio())
}

// BackoffLevel returns the current backoff exponent for endpoint.
func (h *HealthTracker) BackoffLevel(endpoint string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	if ep, ok := h.eps[endpoint]; ok {
		return ep.backoff
	}
	return 0
}

// Samples returns how many outcomes the rolling window currently holds
// for endpoint.
func (h *HealthTracker) Samples(endpoint string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	if ep, ok := h.eps[endpoint]; ok {
		if ep.filled {
			return len(ep.outcomes)
		}
		return ep.next
	}
	return 0
}

// SuccessRatio returns the fraction of successes in the rolling window.
// An endpoint with no recorded calls is reported as fully healthy.
func (h *HealthTracker) SuccessRatio(endpoint string) float64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	if ep, ok := h.eps[endpoint]; ok {
		return ep.ratio()
	}
	return 1.0
}

func (ep *endpointHealth) ratio() float64 {
	n := ep.next
	if ep.filled {
		n = len(ep.outcomes)
	}
	if n == 0 {
		return 1.0
	}
	var ok int
	for i := 0; i < n; i++ {
		if ep.outcomes[i] {
			ok++
		}
	}
	return float64(ok) / float64(n)
}

// Endpoints returns the names of all endpoints with recorded history.
func (h *HealthTracker) Endpoints() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	names := make([]string, 0, len(h.eps))
	for name := range h.eps {
		names = append(names, name)
	}
	return names
}
