// Keeper - Square POS Business Intelligence for Small Merchants
// Copyright 2026 raydawg88
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/raydawg88/keeper

package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	json "github.com/goccy/go-json"

	"github.com/raydawg88/keeper/internal/cache"
	"github.com/raydawg88/keeper/internal/config"
	"github.com/raydawg88/keeper/internal/logging"
	"github.com/raydawg88/keeper/internal/matching"
	"github.com/raydawg88/keeper/internal/models"
	"github.com/raydawg88/keeper/internal/syncer"
)

// listCacheTTL bounds how stale a cached list response can be between
// sync cycles. Caches are also invalidated explicitly after each sync.
const listCacheTTL = 30 * time.Second

// Store is the read side of the database the API serves from.
type Store interface {
	Ping(ctx context.Context) error
	FirstAccount(ctx context.Context) (models.Account, error)
	ListCustomers(ctx context.Context, accountID string, limit, offset int) ([]models.Customer, int, error)
	AllCustomers(ctx context.Context, accountID string) ([]models.Customer, error)
	ListInsights(ctx context.Context, accountID string, limit, offset int) ([]models.Insight, int, error)
	ListMatches(ctx context.Context, accountID string, limit, offset int) ([]models.CustomerMatch, int, error)
	ReplaceMatches(ctx context.Context, accountID string, matches []models.CustomerMatch) error
}

// SyncManager is the slice of the sync manager the API needs.
type SyncManager interface {
	Status() syncer.Status
	TriggerSync(ctx context.Context) error
}

// Handler serves Keeper's REST API.
type Handler struct {
	store    Store
	manager  SyncManager
	matcher  *matching.Matcher
	validate *validator.Validate
	cfg      config.APIConfig

	customers *cache.Cache
	insights  *cache.Cache
	matches   *cache.Cache
}

// NewHandler wires the API handler with its backing store and sync manager.
func NewHandler(store Store, manager SyncManager, matcher *matching.Matcher, cfg config.APIConfig) *Handler {
	return &Handler{
		store:     store,
		manager:   manager,
		matcher:   matcher,
		validate:  validator.New(validator.WithRequiredStructEnabled()),
		cfg:       cfg,
		customers: cache.New("customers", listCacheTTL),
		insights:  cache.New("insights", listCacheTTL),
		matches:   cache.New("matches", listCacheTTL),
	}
}

// InvalidateCaches drops all cached list responses. The sync manager calls
// this after every completed sync so fresh data is visible immediately.
func (h *Handler) InvalidateCaches() {
	h.customers.Invalidate()
	h.insights.Invalidate()
	h.matches.Invalidate()
}

// Close stops the cache janitors.
func (h *Handler) Close() {
	h.customers.Close()
	h.insights.Close()
	h.matches.Close()
}

// Health reports server, database, and account status.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	body := map[string]any{
		"status":   "ok",
		"database": "ok",
	}
	status := http.StatusOK

	if err := h.store.Ping(ctx); err != nil {
		logging.Error().Err(err).Msg("Health check: database ping failed")
		body["status"] = "degraded"
		body["database"] = "unreachable"
		status = http.StatusServiceUnavailable
	} else if account, err := h.store.FirstAccount(ctx); err == nil {
		body["account"] = account.BusinessName
		if account.LastSyncAt != nil {
			body["last_sync_at"] = account.LastSyncAt
		}
	} else if !errors.Is(err, syncer.ErrNotFound) {
		respondDatabaseError(w, r, err)
		return
	}

	respond(w, r, status, body, nil)
}

// SyncStatus exposes the per-endpoint pipeline snapshot.
func (h *Handler) SyncStatus(w http.ResponseWriter, r *http.Request) {
	respond(w, r, http.StatusOK, h.manager.Status(), nil)
}

// SyncTrigger starts a full sync in the background. A sync already in
// flight is a conflict, not an error to retry.
func (h *Handler) SyncTrigger(w http.ResponseWriter, r *http.Request) {
	if err := h.manager.TriggerSync(r.Context()); err != nil {
		if errors.Is(err, syncer.ErrSyncInProgress) {
			respondError(w, r, http.StatusConflict, ErrCodeConflict, "a sync is already running")
			return
		}
		respondError(w, r, http.StatusInternalServerError, ErrCodeInternalError, "failed to start sync")
		return
	}
	respond(w, r, http.StatusAccepted, map[string]string{"status": "sync started"}, nil)
}

// Customers lists synced customers, paginated.
func (h *Handler) Customers(w http.ResponseWriter, r *http.Request) {
	h.serveList(w, r, h.customers, func(ctx context.Context, accountID string, limit, offset int) (any, int, error) {
		rows, total, err := h.store.ListCustomers(ctx, accountID, limit, offset)
		return rows, total, err
	})
}

// Insights lists generated insights, most valuable first.
func (h *Handler) Insights(w http.ResponseWriter, r *http.Request) {
	h.serveList(w, r, h.insights, func(ctx context.Context, accountID string, limit, offset int) (any, int, error) {
		rows, total, err := h.store.ListInsights(ctx, accountID, limit, offset)
		return rows, total, err
	})
}

// Matches lists stored customer matches, highest confidence first.
func (h *Handler) Matches(w http.ResponseWriter, r *http.Request) {
	h.serveList(w, r, h.matches, func(ctx context.Context, accountID string, limit, offset int) (any, int, error) {
		rows, total, err := h.store.ListMatches(ctx, accountID, limit, offset)
		return rows, total, err
	})
}

// importRequest is the POST /matches/import payload.
type importRequest struct {
	Records []matching.ExternalRecord `json:"records" validate:"required,min=1,dive"`
}

// ImportMatches matches externally imported customer records against the
// synced customer base and replaces the stored match set with the result.
func (h *Handler) ImportMatches(w http.ResponseWriter, r *http.Request) {
	var req importRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, r, http.StatusBadRequest, ErrCodeBadRequest, "invalid JSON body")
		return
	}
	if err := h.validate.Struct(&req); err != nil {
		respondErrorDetails(w, r, http.StatusBadRequest, ErrCodeValidationFailed,
			"invalid import records", validationDetails(err))
		return
	}

	accountID, ok := h.accountID(w, r)
	if !ok {
		return
	}

	customers, err := h.store.AllCustomers(r.Context(), accountID)
	if err != nil {
		respondDatabaseError(w, r, err)
		return
	}

	found := h.matcher.MatchAll(req.Records, customers)
	for i := range found {
		found[i].AccountID = accountID
	}
	if err := h.store.ReplaceMatches(r.Context(), accountID, found); err != nil {
		respondDatabaseError(w, r, err)
		return
	}
	h.matches.Invalidate()

	logging.Info().
		Int("records", len(req.Records)).
		Int("matches", len(found)).
		Msg("Imported external customer records")
	respond(w, r, http.StatusOK, map[string]any{
		"records_processed": len(req.Records),
		"matches_found":     len(found),
		"matches":           found,
	}, nil)
}

// serveList handles the shared paginate-cache-respond shape of the list
// endpoints.
func (h *Handler) serveList(w http.ResponseWriter, r *http.Request, c *cache.Cache,
	fetch func(ctx context.Context, accountID string, limit, offset int) (any, int, error)) {

	limit, offset, err := h.pageParams(r)
	if err != nil {
		respondError(w, r, http.StatusBadRequest, ErrCodeBadRequest, err.Error())
		return
	}

	accountID, ok := h.accountID(w, r)
	if !ok {
		return
	}

	type page struct {
		rows  any
		total int
	}
	key := fmt.Sprintf("%s:%d:%d", accountID, limit, offset)
	if v, hit := c.Get(key); hit {
		p := v.(page)
		respond(w, r, http.StatusOK, p.rows, pagination(p.total, limit, offset, p.rows))
		return
	}

	rows, total, err := fetch(r.Context(), accountID, limit, offset)
	if err != nil {
		respondDatabaseError(w, r, err)
		return
	}
	c.Set(key, page{rows: rows, total: total})
	respond(w, r, http.StatusOK, rows, pagination(total, limit, offset, rows))
}

// accountID resolves the deployment's single account, writing the error
// response itself when that fails.
func (h *Handler) accountID(w http.ResponseWriter, r *http.Request) (string, bool) {
	account, err := h.store.FirstAccount(r.Context())
	if errors.Is(err, syncer.ErrNotFound) {
		respondError(w, r, http.StatusNotFound, ErrCodeNotFound,
			"no account yet; run a sync first")
		return "", false
	}
	if err != nil {
		respondDatabaseError(w, r, err)
		return "", false
	}
	return account.ID, true
}

// pageParams parses limit/offset, applying defaults and the page-size cap.
func (h *Handler) pageParams(r *http.Request) (limit, offset int, err error) {
	limit = h.cfg.DefaultPageSize
	if raw := r.URL.Query().Get("limit"); raw != "" {
		limit, err = strconv.Atoi(raw)
		if err != nil || limit <= 0 {
			return 0, 0, errors.New("limit must be a positive integer")
		}
		if limit > h.cfg.MaxPageSize {
			limit = h.cfg.MaxPageSize
		}
	}
	if raw := r.URL.Query().Get("offset"); raw != "" {
		offset, err = strconv.Atoi(raw)
		if err != nil || offset < 0 {
			return 0, 0, errors.New("offset must be a non-negative integer")
		}
	}
	return limit, offset, nil
}

func pagination(total, limit, offset int, rows any) *Pagination {
	count := 0
	switch v := rows.(type) {
	case []models.Customer:
		count = len(v)
	case []models.Insight:
		count = len(v)
	case []models.CustomerMatch:
		count = len(v)
	}
	return &Pagination{
		Total:   total,
		Count:   count,
		Offset:  offset,
		Limit:   limit,
		HasMore: offset+count < total,
	}
}

// validationDetails flattens validator errors into field/rule pairs the
// client can act on.
func validationDetails(err error) any {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err.Error()
	}
	details := make([]map[string]string, 0, len(verrs))
	for _, fe := range verrs {
		details = append(details, map[string]string{
			"field": fe.Namespace(),
			"rule":  fe.Tag(),
		})
	}
	return details
}
