// Keeper - Square POS Business Intelligence for Small Merchants
// Copyright 2026 raydawg88
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/raydawg88/keeper

// Package config defines Keeper's configuration structure and loading.
//
// Configuration is layered with Koanf v2: built-in defaults, then an
// optional YAML config file, then environment variables (highest priority).
// The loaded configuration is validated at startup; invalid priority class
// parameters or resilience thresholds fail fast rather than at first use.
package config

import "time"

// Config is the root configuration for the Keeper server.
type Config struct {
	Square    SquareConfig    `koanf:"square"`
	Sync      SyncConfig      `koanf:"sync"`
	Resilience ResilienceConfig `koanf:"resilience"`
	Database  DatabaseConfig  `koanf:"database"`
	Fallback  FallbackConfig  `koanf:"fallback"`
	Server    ServerConfig    `koanf:"server"`
	API       APIConfig       `koanf:"api"`
	Matching  MatchingConfig  `koanf:"matching"`
	Insights  InsightsConfig  `koanf:"insights"`
	Logging   LoggingConfig   `koanf:"logging"`
}

// SquareConfig configures the upstream Square Connect API client.
type SquareConfig struct {
	// BaseURL is the Square API host. The sandbox host is the default so a
	// fresh install never writes to a live merchant account by accident.
	BaseURL string `koanf:"base_url" validate:"required,url"`

	// AccessToken is the merchant OAuth access token. Token acquisition is
	// out of scope; the token is provided via config or environment.
	AccessToken string `koanf:"access_token"`

	// Version is the Square-Version header value.
	Version string `koanf:"version" validate:"required"`

	// Timeout is the hard per-request timeout, independent of retry policy.
	Timeout time.Duration `koanf:"timeout" validate:"required"`

	// TargetRPS is the target request throughput per endpoint.
	TargetRPS float64 `koanf:"target_rps" validate:"gt=0"`
}

// SyncConfig controls the periodic full-sync scheduler.
type SyncConfig struct {
	// AccountID identifies the Keeper account being synchronized.
	AccountID string `koanf:"account_id"`

	// Interval between scheduled full syncs.
	Interval time.Duration `koanf:"interval" validate:"required"`

	// DaysBack bounds the payment sync window.
	DaysBack int `koanf:"days_back" validate:"gt=0"`

	// PageSize is the upstream pagination page size (Square caps at 100).
	PageSize int `koanf:"page_size" validate:"gt=0,lte=100"`

	// SyncOnStartup triggers an immediate full sync when the server starts.
	SyncOnStartup bool `koanf:"sync_on_startup"`
}

// ResilienceConfig holds the tunables for the adaptive sync manager:
// circuit breaker thresholds, health window, governor throttle constants,
// and the four priority classes. The throttle formula constants are
// heuristics, so they are configuration rather than hard-coded invariants.
type ResilienceConfig struct {
	// FailureThreshold is the consecutive-failure count that opens a circuit.
	FailureThreshold int `koanf:"failure_threshold" validate:"gt=0"`

	// Cooldown is how long an open circuit waits before permitting a
	// half-open trial call.
	Cooldown time.Duration `koanf:"cooldown" validate:"required"`

	// HealthWindow is the number of trailing call outcomes used to compute
	// the per-endpoint success ratio.
	HealthWindow int `koanf:"health_window" validate:"gt=0"`

	// MaxBackoffLevel caps the exponential backoff exponent.
	MaxBackoffLevel int `koanf:"max_backoff_level" validate:"gt=0"`

	// HealthyRatio is the success ratio below which the governor starts
	// preemptive throttling.
	HealthyRatio float64 `koanf:"healthy_ratio" validate:"gt=0,lte=1"`

	// ThrottleBase and ThrottleSlope parameterize the preemptive throttle:
	// extra = ThrottleBase + (1-ratio)*ThrottleSlope seconds.
	ThrottleBase  time.Duration `koanf:"throttle_base"`
	ThrottleSlope float64       `koanf:"throttle_slope" validate:"gte=0"`

	// DrainInterval is the retry-queue drain tick.
	DrainInterval time.Duration `koanf:"drain_interval" validate:"required"`

	// FallbackMaxAge is the freshness bound for degraded cache reads.
	FallbackMaxAge time.Duration `koanf:"fallback_max_age" validate:"required"`

	// Priority classes, fixed at startup.
	Critical PriorityClassConfig `koanf:"critical"`
	High     PriorityClassConfig `koanf:"high"`
	Normal   PriorityClassConfig `koanf:"normal"`
	Low      PriorityClassConfig `koanf:"low"`
}

// PriorityClassConfig carries the retry parameters for one priority class.
type PriorityClassConfig struct {
	// MaxRetries is the retry budget. Zero means fail on first error.
	MaxRetries int `koanf:"max_retries" validate:"gte=0"`

	// BaseDelay is the first retry delay.
	BaseDelay time.Duration `koanf:"base_delay" validate:"gte=0"`

	// Multiplier grows the delay per attempt.
	Multiplier float64 `koanf:"multiplier" validate:"gte=1"`

	// MaxDelay caps the computed delay.
	MaxDelay time.Duration `koanf:"max_delay" validate:"gte=0"`
}

// DatabaseConfig configures the embedded DuckDB store.
type DatabaseConfig struct {
	Path      string `koanf:"path" validate:"required"`
	MaxMemory string `koanf:"max_memory"`

	// Threads for DuckDB; 0 uses runtime.NumCPU().
	Threads int `koanf:"threads" validate:"gte=0"`
}

// FallbackConfig configures the badger-backed last-known-good store.
type FallbackConfig struct {
	Path string `koanf:"path" validate:"required"`
}

// ServerConfig configures the HTTP server.
type ServerConfig struct {
	Host    string        `koanf:"host" validate:"required"`
	Port    int           `koanf:"port" validate:"gt=0,lte=65535"`
	Timeout time.Duration `koanf:"timeout" validate:"required"`
}

// APIConfig configures API behavior.
type APIConfig struct {
	DefaultPageSize int           `koanf:"default_page_size" validate:"gt=0"`
	MaxPageSize     int           `koanf:"max_page_size" validate:"gt=0"`
	RateLimitReqs   int           `koanf:"rate_limit_reqs" validate:"gt=0"`
	RateLimitWindow time.Duration `koanf:"rate_limit_window" validate:"required"`
	CORSOrigins     []string      `koanf:"cors_origins"`
}

// MatchingConfig holds fuzzy-match confidence thresholds.
type MatchingConfig struct {
	HighConfidence   float64 `koanf:"high_confidence" validate:"gt=0,lte=1"`
	MediumConfidence float64 `koanf:"medium_confidence" validate:"gt=0,lte=1"`
	MinConfidence    float64 `koanf:"min_confidence" validate:"gt=0,lte=1"`
	MaxMatches       int     `koanf:"max_matches" validate:"gt=0"`
}

// InsightsConfig holds insight generation thresholds.
type InsightsConfig struct {
	// ChurnDays is the inactivity window that flags a churn risk.
	ChurnDays int `koanf:"churn_days" validate:"gt=0"`

	// MinConfidence filters out low-confidence insights.
	MinConfidence float64 `koanf:"min_confidence" validate:"gt=0,lte=1"`

	// MinValueCents filters out insights below this actionable dollar value.
	MinValueCents int64 `koanf:"min_value_cents" validate:"gte=0"`
}

// LoggingConfig configures the zerolog logger.
type LoggingConfig struct {
	Level  string `koanf:"level" validate:"required,oneof=trace debug info warn error"`
	Format string `koanf:"format" validate:"required,oneof=json console"`
	Caller bool   `koanf:"caller"`
}

// Defaults returns a Config with all default values. Defaults are applied
// first, then overridden by config file and environment variables.
func Defaults() *Config {
	return &Config{
		Square: SquareConfig{
			BaseURL:   "https://connect.squareupsandbox.com",
			Version:   "2025-08-20",
			Timeout:   30 * time.Second,
			TargetRPS: 10, // Square allows roughly 10 QPS per token
		},
		Sync: SyncConfig{
			Interval:      15 * time.Minute,
			DaysBack:      30,
			PageSize:      100,
			SyncOnStartup: true,
		},
		Resilience: ResilienceConfig{
			FailureThreshold: 5,
			Cooldown:         60 * time.Second,
			HealthWindow:     50,
			MaxBackoffLevel:  6,
			HealthyRatio:     0.95,
			ThrottleBase:     500 * time.Millisecond,
			ThrottleSlope:    2.0,
			DrainInterval:    time.Second,
			FallbackMaxAge:   time.Hour,
			Critical: PriorityClassConfig{
				MaxRetries: 8,
				BaseDelay:  250 * time.Millisecond,
				Multiplier: 1.5,
				MaxDelay:   5 * time.Second,
			},
			High: PriorityClassConfig{
				MaxRetries: 5,
				BaseDelay:  time.Second,
				Multiplier: 2.0,
				MaxDelay:   30 * time.Second,
			},
			Normal: PriorityClassConfig{
				MaxRetries: 3,
				BaseDelay:  5 * time.Second,
				Multiplier: 2.0,
				MaxDelay:   2 * time.Minute,
			},
			Low: PriorityClassConfig{
				// Low retries ride the next scheduled full-sync cycle.
				MaxRetries: 1,
				BaseDelay:  15 * time.Minute,
				Multiplier: 1.0,
				MaxDelay:   15 * time.Minute,
			},
		},
		Database: DatabaseConfig{
			Path:      "/data/keeper.duckdb",
			MaxMemory: "1GB",
			Threads:   0,
		},
		Fallback: FallbackConfig{
			Path: "/data/fallback",
		},
		Server: ServerConfig{
			Host:    "0.0.0.0",
			Port:    8484,
			Timeout: 30 * time.Second,
		},
		API: APIConfig{
			DefaultPageSize: 20,
			MaxPageSize:     100,
			RateLimitReqs:   100,
			RateLimitWindow: time.Minute,
			CORSOrigins:     []string{"*"},
		},
		Matching: MatchingConfig{
			HighConfidence:   0.85,
			MediumConfidence: 0.75,
			MinConfidence:    0.65,
			MaxMatches:       5,
		},
		Insights: InsightsConfig{
			ChurnDays:     45,
			MinConfidence: 0.75,
			MinValueCents: 10000, // $100 minimum to be actionable
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}
