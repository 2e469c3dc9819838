// Keeper - Square POS Business Intelligence for Small Merchants
// Copyright 2026 raydawg88
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/raydawg88/keeper

// Package api serves Keeper's REST API: health, sync control and status,
// and the customer, insight, and match views over the synced data.
package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/raydawg88/keeper/internal/config"
	"github.com/raydawg88/keeper/internal/middleware"
)

// NewRouter builds the chi router with Keeper's full middleware stack.
func NewRouter(h *Handler, cfg config.APIConfig) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.RequestLogger)
	r.Use(middleware.Prometheus)
	r.Use(chimiddleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type", "X-Request-ID"},
		ExposedHeaders:   []string{"X-Request-ID"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		respondError(w, r, http.StatusNotFound, ErrCodeNotFound, "not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		respondError(w, r, http.StatusMethodNotAllowed, ErrCodeBadRequest, "method not allowed")
	})

	r.Get("/health", h.Health)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(httprate.LimitByIP(cfg.RateLimitReqs, cfg.RateLimitWindow))

		r.Get("/sync/status", h.SyncStatus)
		r.Post("/sync/trigger", h.SyncTrigger)
		r.Get("/customers", h.Customers)
		r.Get("/insights", h.Insights)
		r.Get("/matches", h.Matches)
		r.Post("/matches/import", h.ImportMatches)
	})

	return r
}
