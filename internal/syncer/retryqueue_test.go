// Keeper - Square POS Business Intelligence for Small Merchants
// Copyright 2026 raydawg88
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/raydawg88/keeper

package syncer

import (
	"errors"
	"testing"
	"time"
)

func queuedRequest(id, endpoint string, prio Priority, createdAt time.Time) Request {
	return Request{
		ID:        id,
		Endpoint:  endpoint,
		Method:    "GET",
		Path:      "/v2/" + endpoint,
		Priority:  prio,
		CreatedAt: createdAt,
	}
}

func TestRetryQueueEligibility(t *testing.T) {
	q := NewRetryQueue()
	now := time.Now()

	if err := q.Enqueue(queuedRequest("a", "payments", PriorityNormal, now), 0, now.Add(time.Minute)); err != nil {
		t.Fatal(err)
	}
	if err := q.Enqueue(queuedRequest("b", "payments", PriorityNormal, now), 0, now.Add(-time.Second)); err != nil {
		t.Fatal(err)
	}

	ready := q.DrainReady(now)
	if len(ready) != 1 || ready[0].req.ID != "b" {
		t.Fatalf("DrainReady returned %d items, want only b", len(ready))
	}
	if q.Len() != 1 {
		t.Fatalf("queue len = %d, want 1", q.Len())
	}

	// The future item becomes eligible once time passes.
	ready = q.DrainReady(now.Add(2 * time.Minute))
	if len(ready) != 1 || ready[0].req.ID != "a" {
		t.Fatalf("second drain returned wrong items")
	}
}

func TestRetryQueueDrainOrderedByPriority(t *testing.T) {
	q := NewRetryQueue()
	now := time.Now()

	// Enqueue out of order; all eligible. Two normals with distinct
	// admission times check FIFO within a priority.
	items := []struct {
		id   string
		prio Priority
		age  time.Duration
	}{
		{"low", PriorityLow, 0},
		{"normal-old", PriorityNormal, -2 * time.Minute},
		{"high", PriorityHigh, 0},
		{"normal-new", PriorityNormal, -1 * time.Minute},
		{"critical", PriorityCritical, 0},
	}
	for _, it := range items {
		req := queuedRequest(it.id, "payments", it.prio, now.Add(it.age))
		if err := q.Enqueue(req, 0, now.Add(-time.Second)); err != nil {
			t.Fatal(err)
		}
	}

	ready := q.DrainReady(now)
	want := []string{"critical", "high", "normal-old", "normal-new", "low"}
	if len(ready) != len(want) {
		t.Fatalf("drained %d items, want %d", len(ready), len(want))
	}
	for i, id := range want {
		if ready[i].req.ID != id {
			t.Errorf("position %d = %s, want %s", i, ready[i].req.ID, id)
		}
	}
}

func TestRetryQueueCancel(t *testing.T) {
	q := NewRetryQueue()
	now := time.Now()

	if err := q.Enqueue(queuedRequest("x", "customers", PriorityLow, now), 0, now.Add(time.Hour)); err != nil {
		t.Fatal(err)
	}
	if err := q.Cancel("x"); err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	if q.Len() != 0 {
		t.Fatalf("len after cancel = %d", q.Len())
	}
	if err := q.Cancel("x"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("second cancel = %v, want ErrNotFound", err)
	}
}

func TestRetryQueueDuplicateID(t *testing.T) {
	q := NewRetryQueue()
	now := time.Now()
	req := queuedRequest("dup", "customers", PriorityNormal, now)

	if err := q.Enqueue(req, 0, now); err != nil {
		t.Fatal(err)
	}
	if err := q.Enqueue(req, 1, now); !errors.Is(err, ErrDuplicateRequest) {
		t.Fatalf("duplicate enqueue = %v, want ErrDuplicateRequest", err)
	}
}

func TestRetryQueueClosed(t *testing.T) {
	q := NewRetryQueue()
	q.Close()
	err := q.Enqueue(queuedRequest("y", "payments", PriorityNormal, time.Now()), 0, time.Now())
	if !errors.Is(err, ErrQueueClosed) {
		t.Fatalf("enqueue after close = %v, want ErrQueueClosed", err)
	}
}
