// Keeper - Square POS Business Intelligence for Small Merchants
// Copyright 2026 raydawg88
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/raydawg88/keeper

package syncer

import (
	"context"
	"net/url"
	"time"

	"github.com/google/uuid"
)

// Request describes one upstream API call to be admitted through the
// pipeline. Endpoint is the logical grouping key for health, backoff, and
// circuit state ("customers", "payments", "merchants"), not the raw path.
type Request struct {
	ID       string
	Endpoint string
	Method   string
	Path     string
	Query    url.Values
	Body     []byte
	Priority Priority

	// CreatedAt is when the request was first admitted. Retries keep the
	// original timestamp so FIFO ordering within a priority is stable.
	CreatedAt time.Time
}

// NewRequest builds a GET request with a fresh ID for the given logical
// endpoint and path.
func NewRequest(endpoint, path string, query url.Values, prio Priority) Request {
	return Request{
		ID:        uuid.NewString(),
		Endpoint:  endpoint,
		Method:    "GET",
		Path:      path,
		Query:     query,
		Priority:  prio,
		CreatedAt: time.Now(),
	}
}

// Transport performs the actual upstream call. Implementations classify
// failures into *RateLimitError, *PermanentError, or *TransientError and
// never retry internally; retry policy belongs to the Orchestrator.
type Transport interface {
	Call(ctx context.Context, req Request) ([]byte, error)
}

// TransportFunc adapts a function to the Transport interface.
type TransportFunc func(ctx context.Context, req Request) ([]byte, error)

func (f TransportFunc) Call(ctx context.Context, req Request) ([]byte, error) {
	return f(ctx, req)
}

// Disposition describes how the pipeline resolved a request.
type Disposition string

const (
	// DispositionFresh means the upstream answered and Body is live data.
	DispositionFresh Disposition = "fresh"
	// DispositionQueued means the call failed transiently and the request
	// now sits in the retry queue.
	DispositionQueued Disposition = "queued"
	// DispositionDegraded means the upstream was unavailable and Body is
	// cached data no older than the freshness bound.
	DispositionDegraded Disposition = "degraded"
	// DispositionFailed means the request failed permanently or no
	// sufficiently fresh fallback existed.
	DispositionFailed Disposition = "failed"
)

// Outcome is the pipeline's answer for a single request.
type Outcome struct {
	Disposition Disposition
	Body        []byte
	// DataAge is how stale Body is; zero for fresh responses.
	DataAge time.Duration
	Err     error
}
