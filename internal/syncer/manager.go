// Keeper - Square POS Business Intelligence for Small Merchants
// Copyright 2026 raydawg88
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/raydawg88/keeper

package syncer

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/raydawg88/keeper/internal/config"
	"github.com/raydawg88/keeper/internal/logging"
	"github.com/raydawg88/keeper/internal/metrics"
	"github.com/raydawg88/keeper/internal/models"
)

// ErrSyncInProgress is returned by TriggerSync while a full sync is running.
var ErrSyncInProgress = errors.New("sync already in progress")

// Store is the persistence surface the sync pipeline writes through.
type Store interface {
	UpsertAccount(ctx context.Context, account models.Account) (string, error)
	UpsertCustomer(ctx context.Context, customer models.Customer) error
	UpsertPayment(ctx context.Context, payment models.Payment) error
	CustomerIDBySquareID(ctx context.Context, accountID, squareCustomerID string) (string, error)
	CustomerIDByEmail(ctx context.Context, accountID, email string) (string, error)
	UpdateLastSync(ctx context.Context, accountID string, at time.Time) error
}

// Manager owns the periodic full-sync schedule and exposes manual trigger
// and status surfaces to the API layer.
type Manager struct {
	orch  *Orchestrator
	store Store
	cfg   config.SyncConfig

	// syncMu serializes full syncs; TriggerSync fails fast instead of
	// piling up concurrent runs.
	syncMu sync.Mutex

	mu        sync.Mutex
	accountID string
	lastSync  time.Time
	lastErr   error
	running   bool

	afterSync func(ctx context.Context, accountID string)
}

// NewManager creates a sync manager. The orchestrator's retry-success hook
// is registered here so repaired pages flow back into the store.
func NewManager(orch *Orchestrator, store Store, cfg config.SyncConfig) *Manager {
	m := &Manager{
		orch:      orch,
		store:     store,
		cfg:       cfg,
		accountID: cfg.AccountID,
	}
	orch.OnRetrySuccess(m.handleRetryResult)
	return m
}

// AfterSync registers a hook run after each successful full sync, used to
// kick off customer matching and insight generation. Must be set before
// Serve is called.
func (m *Manager) AfterSync(fn func(ctx context.Context, accountID string)) {
	m.afterSync = fn
}

// Serve runs the periodic sync schedule until ctx is cancelled. Suitable
// as a suture service body.
func (m *Manager) Serve(ctx context.Context) error {
	if m.cfg.SyncOnStartup {
		if err := m.FullSync(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logging.Error().Err(err).Msg("Startup sync failed")
		}
	}

	ticker := time.NewTicker(m.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := m.FullSync(ctx); err != nil {
				if errors.Is(err, context.Canceled) {
					return ctx.Err()
				}
				if !errors.Is(err, ErrSyncInProgress) {
					logging.Error().Err(err).Msg("Scheduled sync failed")
				}
			}
		}
	}
}

// TriggerSync starts a full sync in the background. It returns
// ErrSyncInProgress if one is already running.
func (m *Manager) TriggerSync(ctx context.Context) error {
	m.mu.Lock()
	if m.running {
		m.mu.Unlock()
		return ErrSyncInProgress
	}
	m.mu.Unlock()

	// The caller's context is usually request-scoped and dies as soon as
	// the trigger response is written. Detach so the sync runs to
	// completion; only values (trace IDs) carry over.
	syncCtx := context.WithoutCancel(ctx)
	go func() {
		if err := m.FullSync(syncCtx); err != nil && !errors.Is(err, ErrSyncInProgress) {
			logging.Error().Err(err).Msg("Triggered sync failed")
		}
	}()
	return nil
}

// FullSync synchronizes merchant, customers, and payments from Square.
func (m *Manager) FullSync(ctx context.Context) error {
	if !m.syncMu.TryLock() {
		return ErrSyncInProgress
	}
	defer m.syncMu.Unlock()

	m.setRunning(true)
	defer m.setRunning(false)

	start := time.Now()
	logging.Info().Msg("Starting full Square sync")

	accountID, err := m.syncMerchant(ctx)
	if err != nil {
		return m.finish(start, err)
	}

	if err := m.syncCustomers(ctx, accountID); err != nil {
		return m.finish(start, err)
	}
	if err := m.syncPayments(ctx, accountID); err != nil {
		return m.finish(start, err)
	}

	if err := m.store.UpdateLastSync(ctx, accountID, time.Now()); err != nil {
		return m.finish(start, err)
	}

	if m.afterSync != nil {
		m.afterSync(ctx, accountID)
	}
	return m.finish(start, nil)
}

func (m *Manager) finish(start time.Time, err error) error {
	elapsed := time.Since(start)
	metrics.SyncDuration.Observe(elapsed.Seconds())

	m.mu.Lock()
	m.lastErr = err
	if err == nil {
		m.lastSync = time.Now()
	}
	m.mu.Unlock()

	if err != nil {
		logging.Error().Err(err).Dur("elapsed", elapsed).Msg("Full sync failed")
		return err
	}
	metrics.SyncLastSuccess.Set(float64(time.Now().Unix()))
	logging.Info().Dur("elapsed", elapsed).Msg("Full sync complete")
	return nil
}

func (m *Manager) setRunning(v bool) {
	m.mu.Lock()
	m.running = v
	m.mu.Unlock()
}

// Status summarizes the sync manager for the status API.
type Status struct {
	Running    bool                `json:"running"`
	LastSyncAt *time.Time          `json:"last_sync_at,omitempty"`
	LastError  string              `json:"last_error,omitempty"`
	QueueDepth int                 `json:"queue_depth"`
	Endpoints  []models.SyncStatus `json:"endpoints"`
}

// Status reports the current sync and pipeline state.
func (m *Manager) Status() Status {
	m.mu.Lock()
	s := Status{Running: m.running, QueueDepth: m.orch.QueueDepth()}
	if !m.lastSync.IsZero() {
		t := m.lastSync
		s.LastSyncAt = &t
	}
	if m.lastErr != nil {
		s.LastError = m.lastErr.Error()
	}
	m.mu.Unlock()

	s.Endpoints = m.orch.Snapshot()
	return s
}
