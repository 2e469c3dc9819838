// Keeper - Square POS Business Intelligence for Small Merchants
// Copyright 2026 raydawg88
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/raydawg88/keeper

package syncer

import (
	"errors"
	"testing"
	"time"

	"github.com/sony/gobreaker/v2"
)

func TestBreakerTripsOnConsecutiveFailures(t *testing.T) {
	cb := NewCircuitBreaker(5, time.Minute)

	for i := 0; i < 5; i++ {
		done, err := cb.Allow("payments")
		if err != nil {
			t.Fatalf("call %d rejected while closed: %v", i, err)
		}
		done(false)
	}

	if got := cb.State("payments"); got != gobreaker.StateOpen {
		t.Fatalf("state after 5 failures = %v, want open", got)
	}
	if _, err := cb.Allow("payments"); !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("Allow while open = %v, want ErrCircuitOpen", err)
	}
}

func TestBreakerSuccessResetsCount(t *testing.T) {
	cb := NewCircuitBreaker(5, time.Minute)

	// 4 failures, a success, then 4 more failures: never trips.
	for i := 0; i < 4; i++ {
		done, _ := cb.Allow("customers")
		done(false)
	}
	done, _ := cb.Allow("customers")
	done(true)
	for i := 0; i < 4; i++ {
		done, err := cb.Allow("customers")
		if err != nil {
			t.Fatalf("unexpected rejection: %v", err)
		}
		done(false)
	}
	if got := cb.State("customers"); got != gobreaker.StateClosed {
		t.Fatalf("state = %v, want closed", got)
	}
}

func TestBreakerHalfOpenSingleTrial(t *testing.T) {
	cb := NewCircuitBreaker(2, 30*time.Millisecond)

	for i := 0; i < 2; i++ {
		done, _ := cb.Allow("payments")
		done(false)
	}
	if got := cb.State("payments"); got != gobreaker.StateOpen {
		t.Fatalf("state = %v, want open", got)
	}

	time.Sleep(50 * time.Millisecond)
	if got := cb.State("payments"); got != gobreaker.StateHalfOpen {
		t.Fatalf("state after cooldown = %v, want half-open", got)
	}

	// Exactly one trial call is admitted.
	done, err := cb.Allow("payments")
	if err != nil {
		t.Fatalf("half-open trial rejected: %v", err)
	}
	if _, err := cb.Allow("payments"); err == nil {
		t.Fatal("second half-open call admitted, want rejection")
	}

	done(true)
	if got := cb.State("payments"); got != gobreaker.StateClosed {
		t.Fatalf("state after successful trial = %v, want closed", got)
	}
}

func TestBreakerHalfOpenFailureReopens(t *testing.T) {
	cb := NewCircuitBreaker(2, 30*time.Millisecond)

	for i := 0; i < 2; i++ {
		done, _ := cb.Allow("payments")
		done(false)
	}
	time.Sleep(50 * time.Millisecond)

	done, err := cb.Allow("payments")
	if err != nil {
		t.Fatalf("half-open trial rejected: %v", err)
	}
	done(false)

	if got := cb.State("payments"); got != gobreaker.StateOpen {
		t.Fatalf("state after failed trial = %v, want open", got)
	}
}

func TestBreakerEndpointsIndependent(t *testing.T) {
	cb := NewCircuitBreaker(2, time.Minute)

	for i := 0; i < 2; i++ {
		done, _ := cb.Allow("payments")
		done(false)
	}

	if got := cb.StateName("payments"); got != "open" {
		t.Fatalf("payments state = %s, want open", got)
	}
	if got := cb.StateName("customers"); got != "closed" {
		t.Fatalf("customers state = %s, want closed", got)
	}
}
