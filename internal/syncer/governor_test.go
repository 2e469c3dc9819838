// Keeper - Square POS Business Intelligence for Small Merchants
// Copyright 2026 raydawg88
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/raydawg88/keeper

package syncer

import (
	"context"
	"testing"
	"time"
)

func testGovernor(health *HealthTracker) *RateGovernor {
	g := NewRateGovernor(1000, health, 0.95, 500*time.Millisecond, 2.0)
	g.jitter = func() time.Duration { return 0 }
	return g
}

func TestGovernorNoDelayWhenHealthy(t *testing.T) {
	h := NewHealthTracker(10, 6)
	g := testGovernor(h)

	d, throttled := g.delayFor("payments", PriorityNormal)
	if d != 0 {
		t.Fatalf("healthy delay = %v, want 0", d)
	}
	if throttled {
		t.Fatal("healthy endpoint should not be throttled")
	}
}

func TestGovernorExponentialBackoff(t *testing.T) {
	h := NewHealthTracker(100, 6)
	g := testGovernor(h)

	// Push to level 3 with a long healthy prefix so the rolling ratio
	// stays above the throttle threshold and only backoff contributes.
	for i := 0; i < 97; i++ {
		h.Record("payments", true)
	}
	for i := 0; i < 3; i++ {
		h.Record("payments", false)
	}
	if h.SuccessRatio("payments") < 0.95 {
		t.Fatal("test setup: ratio fell below healthy threshold")
	}

	d, _ := g.delayFor("payments", PriorityNormal)
	if d != 8*time.Second {
		t.Fatalf("level-3 delay = %v, want 8s", d)
	}
}

func TestGovernorPreemptiveThrottle(t *testing.T) {
	h := NewHealthTracker(10, 6)
	g := testGovernor(h)

	// 80% success ratio, but alternate so the backoff level ends at 0 and
	// the throttle is the only contribution.
	h.Record("customers", false)
	h.Record("customers", true)
	for i := 0; i < 8; i++ {
		h.Record("customers", true)
	}
	if lvl := h.BackoffLevel("customers"); lvl != 0 {
		t.Fatalf("test setup: backoff level = %d, want 0", lvl)
	}
	ratio := h.SuccessRatio("customers")
	if ratio != 0.9 {
		t.Fatalf("test setup: ratio = %v, want 0.9", ratio)
	}

	d, throttled := g.delayFor("customers", PriorityNormal)
	if !throttled {
		t.Fatal("expected preemptive throttle below healthy ratio")
	}
	// extra = 500ms + (1-0.9)*2.0s = 700ms, modulo float truncation
	want := 700 * time.Millisecond
	if diff := d - want; diff < -time.Millisecond || diff > time.Millisecond {
		t.Fatalf("throttle delay = %v, want ~%v", d, want)
	}
}

func TestGovernorThrottleNeedsHistory(t *testing.T) {
	h := NewHealthTracker(20, 6)
	g := testGovernor(h)

	// One failure on a fresh endpoint says nothing about its health yet.
	h.Record("payments", false)
	if _, throttled := g.delayFor("payments", PriorityNormal); throttled {
		t.Fatal("throttled on a single recorded outcome")
	}

	// The same ratio shortfall throttles once the window holds enough
	// outcomes.
	for i := 0; i < 9; i++ {
		h.Record("payments", true)
	}
	if ratio := h.SuccessRatio("payments"); ratio != 0.9 {
		t.Fatalf("test setup: ratio = %v, want 0.9", ratio)
	}
	if _, throttled := g.delayFor("payments", PriorityNormal); !throttled {
		t.Fatal("expected throttle once the window has history")
	}
}

func TestGovernorCriticalBypassesThrottle(t *testing.T) {
	h := NewHealthTracker(10, 6)
	g := testGovernor(h)

	h.Record("customers", false)
	h.Record("customers", true)
	for i := 0; i < 8; i++ {
		h.Record("customers", true)
	}

	_, throttled := g.delayFor("customers", PriorityNormal)
	if !throttled {
		t.Fatal("normal priority should be throttled")
	}
	d, throttled := g.delayFor("customers", PriorityCritical)
	if throttled {
		t.Fatal("critical priority must bypass the preemptive throttle")
	}
	if d != 0 {
		t.Fatalf("critical delay = %v, want 0", d)
	}
}

func TestGovernorAcquireCancellable(t *testing.T) {
	h := NewHealthTracker(10, 6)
	g := testGovernor(h)

	// Force a long backoff delay and cancel mid-wait.
	for i := 0; i < 6; i++ {
		h.Record("payments", false)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	start := time.Now()
	err := g.Acquire(ctx, "payments", PriorityNormal)
	if err == nil {
		t.Fatal("expected context error")
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Fatalf("Acquire did not honor cancellation, took %v", elapsed)
	}
}
