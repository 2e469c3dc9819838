// Keeper - Square POS Business Intelligence for Small Merchants
// Copyright 2026 raydawg88
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/raydawg88/keeper

package syncer

import (
	"math"
	"time"

	"github.com/raydawg88/keeper/internal/config"
)

// Priority classifies how urgently a request's result is needed. Lower
// numeric values are more urgent; Critical drains before High, and so on.
type Priority int

const (
	// PriorityCritical is for requests a user is actively waiting on.
	PriorityCritical Priority = iota
	// PriorityHigh is for requests feeding soon-to-be-viewed data.
	PriorityHigh
	// PriorityNormal is for scheduled background syncs.
	PriorityNormal
	// PriorityLow is for prefetching and other speculative work.
	PriorityLow
)

func (p Priority) String() string {
	switch p {
	case PriorityCritical:
		return "critical"
	case PriorityHigh:
		return "high"
	case PriorityNormal:
		return "normal"
	case PriorityLow:
		return "low"
	default:
		return "unknown"
	}
}

// PriorityClass holds the retry budget and backoff curve for one priority.
type PriorityClass struct {
	MaxRetries int
	BaseDelay  time.Duration
	Multiplier float64
	MaxDelay   time.Duration
}

// RetryDelay returns the wait before retry attempt n (1-based):
//
//	delay = BaseDelay * Multiplier^(n-1), capped at MaxDelay
//
// A pure function of the attempt number so a queued item's eligibility
// time can be recomputed without carrying backoff state around.
func (c PriorityClass) RetryDelay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := float64(c.BaseDelay) * math.Pow(c.Multiplier, float64(attempt-1))
	if d > float64(c.MaxDelay) || d < 0 {
		return c.MaxDelay
	}
	return time.Duration(d)
}

// PriorityClasses maps each priority to its retry class.
type PriorityClasses map[Priority]PriorityClass

// ClassesFromConfig builds the priority class table from resilience config.
func ClassesFromConfig(cfg config.ResilienceConfig) PriorityClasses {
	conv := func(c config.PriorityClassConfig) PriorityClass {
		return PriorityClass{
			MaxRetries: c.MaxRetries,
			BaseDelay:  c.BaseDelay,
			Multiplier: c.Multiplier,
			MaxDelay:   c.MaxDelay,
		}
	}
	return PriorityClasses{
		PriorityCritical: conv(cfg.Critical),
		PriorityHigh:     conv(cfg.High),
		PriorityNormal:   conv(cfg.Normal),
		PriorityLow:      conv(cfg.Low),
	}
}
