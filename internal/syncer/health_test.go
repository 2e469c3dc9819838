// Keeper - Square POS Business Intelligence for Small Merchants
// Copyright 2026 raydawg88
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/raydawg88/keeper

package syncer

import (
	"testing"
)

func TestHealthBackoffRisesAndFalls(t *testing.T) {
	h := NewHealthTracker(10, 6)

	for i := 0; i < 3; i++ {
		h.Record("payments", false)
	}
	if got := h.BackoffLevel("payments"); got != 3 {
		t.Fatalf("backoff after 3 failures = %d, want 3", got)
	}

	// Recovery is gradual: each success steps down one level.
	h.Record("payments", true)
	if got := h.BackoffLevel("payments"); got != 2 {
		t.Fatalf("backoff after 1 success = %d, want 2", got)
	}
	h.Record("payments", true)
	h.Record("payments", true)
	if got := h.BackoffLevel("payments"); got != 0 {
		t.Fatalf("backoff after full recovery = %d, want 0", got)
	}

	// Never goes negative.
	h.Record("payments", true)
	if got := h.BackoffLevel("payments"); got != 0 {
		t.Fatalf("backoff went negative: %d", got)
	}
}

func TestHealthBackoffCapped(t *testing.T) {
	h := NewHealthTracker(10, 4)
	for i := 0; i < 20; i++ {
		h.Record("customers", false)
	}
	if got := h.BackoffLevel("customers"); got != 4 {
		t.Fatalf("backoff = %d, want cap 4", got)
	}
}

func TestHealthSuccessRatioWindow(t *testing.T) {
	h := NewHealthTracker(4, 6)

	if got := h.SuccessRatio("merchants"); got != 1.0 {
		t.Fatalf("ratio with no history = %v, want 1.0", got)
	}

	h.Record("merchants", true)
	h.Record("merchants", false)
	if got := h.SuccessRatio("merchants"); got != 0.5 {
		t.Fatalf("ratio = %v, want 0.5", got)
	}

	// Fill and wrap the window; only the trailing 4 outcomes count.
	for i := 0; i < 4; i++ {
		h.Record("merchants", true)
	}
	if got := h.SuccessRatio("merchants"); got != 1.0 {
		t.Fatalf("ratio after window rolled = %v, want 1.0", got)
	}
}

func TestHealthEndpointsIsolated(t *testing.T) {
	h := NewHealthTracker(10, 6)
	h.Record("payments", false)
	h.Record("payments", false)
	h.Record("customers", true)

	if got := h.BackoffLevel("payments"); got != 2 {
		t.Errorf("payments backoff = %d, want 2", got)
	}
	if got := h.BackoffLevel("customers"); got != 0 {
		t.Errorf("customers backoff = %d, want 0", got)
	}

	eps := h.Endpoints()
	if len(eps) != 2 {
		t.Errorf("Endpoints() = %v, want 2 entries", eps)
	}
}
