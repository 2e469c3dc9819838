// Keeper - Square POS Business Intelligence for Small Merchants
// Copyright 2026 raydawg88
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/raydawg88/keeper

package syncer

import (
	"container/heap"
	"sort"
	"sync"
	"time"

	"github.com/raydawg88/keeper/internal/metrics"
)

// retryItem is a queued request plus its retry bookkeeping. Attempt counts
// completed retries: 0 means the request has failed once and not yet been
// retried.
type retryItem struct {
	req          Request
	attempt      int
	nextEligible time.Time
	index        int // heap index, maintained by the heap interface
}

// RetryQueue holds transiently failed requests until they are eligible to
// run again. Internally a min-heap on eligibility time; DrainReady returns
// the eligible batch reordered by (priority, original admission time) so
// more urgent work always retries first without blocking behind items that
// are not yet due.
type RetryQueue struct {
	mu     sync.Mutex
	items  eligibilityHeap
	byID   map[string]*retryItem
	closed bool
}

// NewRetryQueue creates an empty queue.
func NewRetryQueue() *RetryQueue {
	return &RetryQueue{byID: make(map[string]*retryItem)}
}

// Enqueue adds req to the queue, eligible at nextEligible. attempt is the
// number of retries already completed for this request. Request IDs must be
// unique within the queue.
func (q *RetryQueue) Enqueue(req Request, attempt int, nextEligible time.Time) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return ErrQueueClosed
	}
	if _, ok := q.byID[req.ID]; ok {
		return ErrDuplicateRequest
	}

	item := &retryItem{req: req, attempt: attempt, nextEligible: nextEligible}
	heap.Push(&q.items, item)
	q.byID[req.ID] = item

	metrics.RetryQueueEnqueued.WithLabelValues(req.Endpoint, req.Priority.String()).Inc()
	metrics.RetryQueueDepth.Set(float64(len(q.items)))
	return nil
}

// Cancel removes the request with the given ID before it is retried.
func (q *RetryQueue) Cancel(id string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	item, ok := q.byID[id]
	if !ok {
		return ErrNotFound
	}
	heap.Remove(&q.items, item.index)
	delete(q.byID, id)

	metrics.RetryQueueCancelled.Inc()
	metrics.RetryQueueDepth.Set(float64(len(q.items)))
	return nil
}

// DrainReady removes and returns every item eligible at now, ordered by
// priority then original admission time. Ownership of the returned items
// transfers to the caller; failed retries must be re-enqueued explicitly.
func (q *RetryQueue) DrainReady(now time.Time) []*retryItem {
	q.mu.Lock()
	defer q.mu.Unlock()

	var ready []*retryItem
	for len(q.items) > 0 && !q.items[0].nextEligible.After(now) {
		item := heap.Pop(&q.items).(*retryItem)
		delete(q.byID, item.req.ID)
		ready = append(ready, item)
	}
	metrics.RetryQueueDepth.Set(float64(len(q.items)))

	sort.SliceStable(ready, func(i, j int) bool {
		if ready[i].req.Priority != ready[j].req.Priority {
			return ready[i].req.Priority < ready[j].req.Priority
		}
		return ready[i].req.CreatedAt.Before(ready[j].req.CreatedAt)
	})
	return ready
}

// Len returns the number of queued items.
func (q *RetryQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Close rejects all further enqueues. Queued items remain drainable so
// shutdown can decide what to do with them.
func (q *RetryQueue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.closed = true
}

// eligibilityHeap orders retryItems by nextEligible, earliest first.
type eligibilityHeap []*retryItem

func (h eligibilityHeap) Len() int { return len(h) }

func (h eligibilityHeap) Less(i, j int) bool {
	return h[i].nextEligible.Before(h[j].nextEligible)
}

func (h eligibilityHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *eligibilityHeap) Push(x any) {
	item := x.(*retryItem)
	item.index = len(*h)
	*h = append(*h, item)
}

func (h *eligibilityHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	item.index = -1
	*h = old[:n-1]
	return item
}
