// Keeper - Square POS Business Intelligence for Small Merchants
// Copyright 2026 raydawg88
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/raydawg88/keeper

package syncer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	json "github.com/goccy/go-json"

	"github.com/raydawg88/keeper/internal/config"
)

// maxResponseBytes caps upstream response reads. Square pages top out well
// under this even at the maximum page size.
const maxResponseBytes = 16 << 20

// SquareClient is the HTTP transport for the Square Connect v2 API. It
// performs exactly one HTTP round trip per Call and classifies failures;
// retry policy, pacing, and circuit breaking live in the Orchestrator.
type SquareClient struct {
	httpClient  *http.Client
	baseURL     string
	accessToken string
	version     string
}

// NewSquareClient creates a client from Square config.
func NewSquareClient(cfg config.SquareConfig) *SquareClient {
	return &SquareClient{
		httpClient:  &http.Client{Timeout: cfg.Timeout},
		baseURL:     strings.TrimRight(cfg.BaseURL, "/"),
		accessToken: cfg.AccessToken,
		version:     cfg.Version,
	}
}

// Call implements Transport.
func (c *SquareClient) Call(ctx context.Context, req Request) ([]byte, error) {
	u := c.baseURL + req.Path
	if len(req.Query) > 0 {
		u += "?" + req.Query.Encode()
	}

	var body io.Reader
	if len(req.Body) > 0 {
		body = strings.NewReader(string(req.Body))
	}

	httpReq, err := http.NewRequestWithContext(ctx, req.Method, u, body)
	if err != nil {
		return nil, &PermanentError{Endpoint: req.Endpoint, Message: fmt.Sprintf("build request: %v", err)}
	}
	httpReq.Header.Set("Authorization", "Bearer "+c.accessToken)
	httpReq.Header.Set("Square-Version", c.version)
	httpReq.Header.Set("Accept", "application/json")
	if body != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		// Context errors pass through so callers can tell cancellation
		// from upstream trouble.
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil, err
		}
		return nil, &TransientError{Endpoint: req.Endpoint, Err: err}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, &TransientError{Endpoint: req.Endpoint, Err: err}
	}

	return classifyResponse(req.Endpoint, resp, data)
}

func classifyResponse(endpoint string, resp *http.Response, data []byte) ([]byte, error) {
	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return data, nil

	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, &RateLimitError{
			Endpoint:   endpoint,
			RetryAfter: parseRetryAfter(resp.Header.Get("Retry-After")),
		}

	case resp.StatusCode == http.StatusRequestTimeout || resp.StatusCode >= 500:
		return nil, &TransientError{Endpoint: endpoint, StatusCode: resp.StatusCode}

	default:
		return nil, &PermanentError{
			Endpoint:   endpoint,
			StatusCode: resp.StatusCode,
			Message:    squareErrorDetail(data),
		}
	}
}

// parseRetryAfter handles both forms RFC 9110 allows: delay-seconds and an
// HTTP date. Unparseable or past values yield zero, which callers treat as
// "no upstream mandate".
func parseRetryAfter(v string) time.Duration {
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil {
		if secs < 0 {
			return 0
		}
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(v); err == nil {
		if d := time.Until(t); d > 0 {
			return d
		}
	}
	return 0
}

// squareErrorDetail pulls the first error detail out of a Square error
// payload, falling back to a generic message.
func squareErrorDetail(data []byte) string {
	var payload struct {
		Errors []struct {
			Category string `json:"category"`
			Code     string `json:"code"`
			Detail   string `json:"detail"`
		} `json:"errors"`
	}
	if err := json.Unmarshal(data, &payload); err == nil && len(payload.Errors) > 0 {
		e := payload.Errors[0]
		if e.Detail != "" {
			return fmt.Sprintf("%s: %s", e.Code, e.Detail)
		}
		return e.Code
	}
	return "upstream rejected request"
}
