// Keeper - Square POS Business Intelligence for Small Merchants
// Copyright 2026 raydawg88
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/raydawg88/keeper

// Package main is the entry point for the Keeper server.
//
// Keeper syncs a small merchant's Square data (merchant profile, customers,
// payments) into an embedded DuckDB database, resilient to Square API rate
// limits and outages, and serves business intelligence over a REST API:
// customer lists, generated insights, and fuzzy matches against externally
// imported customer records.
//
// # Application Architecture
//
// The server initializes components in the following order:
//
//  1. Configuration: Koanf v2 layered loading (defaults, YAML file, env vars)
//  2. Database: embedded DuckDB with the Keeper schema
//  3. Fallback store: BadgerDB last-known-good response cache
//  4. Sync pipeline: Square client behind the rate governor, circuit
//     breakers, and the priority retry queue
//  5. HTTP server: chi REST API with Prometheus metrics
//
// Everything runs under a Suture supervisor tree. The sync layer and the
// API layer are supervised independently, so a sync crash never stops the
// API from serving already-synced data.
//
// # Configuration
//
// Configuration is loaded via Koanf v2 (highest priority wins):
//   - Environment variables (SQUARE_ACCESS_TOKEN, HTTP_PORT, ...)
//   - Config file (config.yaml, or the path in KEEPER_CONFIG)
//   - Built-in defaults
//
// The only required setting is the Square access token. The Square sandbox
// host is the default; point SQUARE_BASE_URL at the production host for a
// live merchant.
//
// # Signal Handling
//
// The server shuts down gracefully on SIGINT and SIGTERM: the HTTP server
// stops accepting connections and drains in-flight requests, the sync
// manager finishes or abandons the current cycle, and the databases close.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"

	"github.com/raydawg88/keeper/internal/api"
	"github.com/raydawg88/keeper/internal/cache"
	"github.com/raydawg88/keeper/internal/config"
	"github.com/raydawg88/keeper/internal/database"
	"github.com/raydawg88/keeper/internal/insights"
	"github.com/raydawg88/keeper/internal/logging"
	"github.com/raydawg88/keeper/internal/matching"
	"github.com/raydawg88/keeper/internal/supervisor"
	"github.com/raydawg88/keeper/internal/syncer"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to load configuration")
	}

	logging.Init(logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Caller: cfg.Logging.Caller,
	})

	logging.Info().
		Str("square_host", cfg.Square.BaseURL).
		Str("db_path", cfg.Database.Path).
		Str("fallback_path", cfg.Fallback.Path).
		Dur("sync_interval", cfg.Sync.Interval).
		Msg("Starting Keeper")

	if cfg.Square.AccessToken == "" {
		logging.Warn().Msg("No Square access token configured; syncs will fail until SQUARE_ACCESS_TOKEN is set")
	}

	db, err := database.New(cfg.Database)
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to initialize database")
	}
	defer func() {
		if err := db.Close(); err != nil {
			logging.Error().Err(err).Msg("Error closing database")
		}
	}()

	fallback, err := cache.NewFallbackStore(cfg.Fallback.Path)
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to open fallback store")
	}
	defer func() {
		if err := fallback.Close(); err != nil {
			logging.Error().Err(err).Msg("Error closing fallback store")
		}
	}()

	// Sync pipeline: Square client behind governor, breakers, retry queue.
	client := syncer.NewSquareClient(cfg.Square)
	orch := syncer.NewOrchestrator(client, fallback, cfg.Resilience, cfg.Square.TargetRPS)
	manager := syncer.NewManager(orch, db, cfg.Sync)

	generator := insights.New(db, cfg.Insights)
	handler := api.NewHandler(db, manager, matching.New(cfg.Matching), cfg.API)
	defer handler.Close()

	// Each completed sync regenerates insights and drops stale API caches.
	manager.AfterSync(func(ctx context.Context, accountID string) {
		if err := generator.Generate(ctx, accountID); err != nil {
			logging.Error().Err(err).Msg("Insight generation failed")
		}
		handler.InvalidateCaches()
	})

	srv := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      api.NewRouter(handler, cfg.API),
		ReadTimeout:  cfg.Server.Timeout,
		WriteTimeout: cfg.Server.Timeout,
	}

	tree := supervisor.NewTree(logging.Slog(), supervisor.DefaultTreeConfig())
	tree.AddSyncService(supervisor.ServiceFunc(orch.Run))
	tree.AddSyncService(manager)
	tree.AddAPIService(&supervisor.HTTPService{Server: srv})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := tree.Serve(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logging.Error().Err(err).Msg("Supervisor tree exited with error")
	}

	if report, err := tree.UnstoppedServiceReport(); err == nil && len(report) > 0 {
		for _, svc := range report {
			logging.Warn().Str("service", svc.Name).Msg("Service did not stop within timeout")
		}
	}

	logging.Info().Msg("Keeper stopped")
}
