// Keeper - Square POS Business Intelligence for Small Merchants
// Copyright 2026 raydawg88
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/raydawg88/keeper

package syncer

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"time"

	json "github.com/goccy/go-json"

	"github.com/raydawg88/keeper/internal/logging"
	"github.com/raydawg88/keeper/internal/metrics"
	"github.com/raydawg88/keeper/internal/models"
)

// Logical endpoint names. Health, backoff, and circuit state are tracked
// per logical endpoint, not per URL, so all pages of a listing share fate.
const (
	endpointMerchants = "merchants"
	endpointCustomers = "customers"
	endpointPayments  = "payments"
)

// syncMerchant fetches the merchant profile and upserts the account row,
// returning the account ID the rest of the sync writes under.
func (m *Manager) syncMerchant(ctx context.Context) (string, error) {
	req := NewRequest(endpointMerchants, "/v2/merchants", url.Values{"limit": {"1"}}, PriorityHigh)
	out := m.orch.Execute(ctx, req)
	if out.Disposition != DispositionFresh && out.Disposition != DispositionDegraded {
		return "", fmt.Errorf("fetch merchant: %w", out.Err)
	}

	page, err := DecodeMerchantsPage(out.Body)
	if err != nil {
		return "", err
	}
	if len(page.Merchants) == 0 {
		return "", &PermanentError{Endpoint: endpointMerchants, Message: "no merchant on access token"}
	}

	merchant := page.Merchants[0]
	accountID, err := m.store.UpsertAccount(ctx, models.Account{
		BusinessName:     merchant.BusinessName,
		SquareMerchantID: merchant.ID,
	})
	if err != nil {
		return "", fmt.Errorf("upsert account: %w", err)
	}

	m.mu.Lock()
	m.accountID = accountID
	m.mu.Unlock()
	return accountID, nil
}

// syncCustomers walks the customer listing and upserts every record. A
// degraded page is persisted but ends pagination, since a cached cursor
// cannot be trusted to advance.
func (m *Manager) syncCustomers(ctx context.Context, accountID string) error {
	var count int
	cursor := ""
	for {
		q := url.Values{"limit": {strconv.Itoa(m.cfg.PageSize)}}
		if cursor != "" {
			q.Set("cursor", cursor)
		}

		req := NewRequest(endpointCustomers, "/v2/customers", q, PriorityNormal)
		out := m.orch.Execute(ctx, req)
		switch out.Disposition {
		case DispositionFresh, DispositionDegraded:
		case DispositionQueued:
			logging.Warn().Str("endpoint", endpointCustomers).Msg("Customer page queued for retry, sync continues without it")
			return nil
		default:
			return fmt.Errorf("fetch customers: %w", out.Err)
		}

		page, err := DecodeCustomersPage(out.Body)
		if err != nil {
			return err
		}

		n, err := m.persistCustomers(ctx, accountID, page.Customers)
		count += n
		if err != nil {
			return err
		}

		if out.Disposition == DispositionDegraded {
			logging.Warn().Str("endpoint", endpointCustomers).Dur("data_age", out.DataAge).
				Msg("Served customers from fallback, stopping pagination")
			break
		}
		if page.Cursor == "" {
			break
		}
		cursor = page.Cursor
	}

	metrics.SyncRecordsProcessed.WithLabelValues("customers").Add(float64(count))
	logging.Info().Int("count", count).Msg("Customer sync complete")
	return nil
}

func (m *Manager) persistCustomers(ctx context.Context, accountID string, customers []SquareCustomer) (int, error) {
	var n int
	for _, sc := range customers {
		raw, _ := json.Marshal(sc)
		err := m.store.UpsertCustomer(ctx, models.Customer{
			AccountID:        accountID,
			SquareCustomerID: sc.ID,
			FirstName:        sc.GivenName,
			LastName:         sc.FamilyName,
			Email:            sc.EmailAddress,
			Phone:            sc.PhoneNumber,
			SquareCreatedAt:  sc.CreatedAt,
			SquareUpdatedAt:  sc.UpdatedAt,
			RawData:          raw,
		})
		if err != nil {
			return n, fmt.Errorf("upsert customer %s: %w", sc.ID, err)
		}
		n++
	}
	return n, nil
}

// syncPayments walks completed payments within the configured window and
// upserts them, linking each to a customer when one can be identified.
func (m *Manager) syncPayments(ctx context.Context, accountID string) error {
	begin := time.Now().AddDate(0, 0, -m.cfg.DaysBack).UTC().Format(time.RFC3339)

	var count int
	cursor := ""
	for {
		q := url.Values{
			"limit":      {strconv.Itoa(m.cfg.PageSize)},
			"begin_time": {begin},
			"sort_order": {"ASC"},
		}
		if cursor != "" {
			q.Set("cursor", cursor)
		}

		req := NewRequest(endpointPayments, "/v2/payments", q, PriorityNormal)
		out := m.orch.Execute(ctx, req)
		switch out.Disposition {
		case DispositionFresh, DispositionDegraded:
		case DispositionQueued:
			logging.Warn().Str("endpoint", endpointPayments).Msg("Payment page queued for retry, sync continues without it")
			return nil
		default:
			return fmt.Errorf("fetch payments: %w", out.Err)
		}

		page, err := DecodePaymentsPage(out.Body)
		if err != nil {
			return err
		}

		n, err := m.persistPayments(ctx, accountID, page.Payments)
		count += n
		if err != nil {
			return err
		}

		if out.Disposition == DispositionDegraded {
			logging.Warn().Str("endpoint", endpointPayments).Dur("data_age", out.DataAge).
				Msg("Served payments from fallback, stopping pagination")
			break
		}
		if page.Cursor == "" {
			break
		}
		cursor = page.Cursor
	}

	metrics.SyncRecordsProcessed.WithLabelValues("payments").Add(float64(count))
	logging.Info().Int("count", count).Msg("Payment sync complete")
	return nil
}

func (m *Manager) persistPayments(ctx context.Context, accountID string, payments []SquarePayment) (int, error) {
	var n int
	for _, sp := range payments {
		raw, _ := json.Marshal(sp)
		err := m.store.UpsertPayment(ctx, models.Payment{
			AccountID:       accountID,
			SquarePaymentID: sp.ID,
			SquareOrderID:   sp.OrderID,
			CustomerID:      m.resolveCustomer(ctx, accountID, sp),
			AmountCents:     sp.AmountMoney.Amount,
			TipCents:        sp.TipMoney.Amount,
			Currency:        sp.AmountMoney.Currency,
			Status:          sp.Status,
			SquareCreatedAt: sp.CreatedAt,
			SquareUpdatedAt: sp.UpdatedAt,
			RawData:         raw,
		})
		if err != nil {
			return n, fmt.Errorf("upsert payment %s: %w", sp.ID, err)
		}
		n++
	}
	return n, nil
}

// resolveCustomer links a payment to a synced customer. Square attaches a
// customer ID to card-on-file payments; for the rest, the buyer email is
// the best signal available. An empty result leaves the payment unlinked.
func (m *Manager) resolveCustomer(ctx context.Context, accountID string, sp SquarePayment) string {
	if sp.CustomerID != "" {
		id, err := m.store.CustomerIDBySquareID(ctx, accountID, sp.CustomerID)
		if err == nil {
			return id
		}
		if !errors.Is(err, ErrNotFound) {
			logging.Warn().Err(err).Str("square_customer_id", sp.CustomerID).Msg("Customer lookup failed")
		}
	}
	if sp.BuyerEmail != "" {
		id, err := m.store.CustomerIDByEmail(ctx, accountID, sp.BuyerEmail)
		if err == nil {
			return id
		}
		if !errors.Is(err, ErrNotFound) {
			logging.Warn().Err(err).Msg("Customer email lookup failed")
		}
	}
	return ""
}

// handleRetryResult persists a page that succeeded on a background retry.
// The originating sync has long since moved on, so the page is applied
// directly; upserts make replays harmless.
func (m *Manager) handleRetryResult(req Request, body []byte) {
	m.mu.Lock()
	accountID := m.accountID
	m.mu.Unlock()
	if accountID == "" {
		logging.Warn().Str("endpoint", req.Endpoint).Msg("Retry result dropped, no account yet")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	switch req.Endpoint {
	case endpointCustomers:
		page, err := DecodeCustomersPage(body)
		if err != nil {
			logging.Warn().Err(err).Msg("Retried customer page undecodable")
			return
		}
		if n, err := m.persistCustomers(ctx, accountID, page.Customers); err != nil {
			logging.Warn().Err(err).Msg("Failed to persist retried customer page")
		} else {
			metrics.SyncRecordsProcessed.WithLabelValues("customers").Add(float64(n))
		}
	case endpointPayments:
		page, err := DecodePaymentsPage(body)
		if err != nil {
			logging.Warn().Err(err).Msg("Retried payment page undecodable")
			return
		}
		if n, err := m.persistPayments(ctx, accountID, page.Payments); err != nil {
			logging.Warn().Err(err).Msg("Failed to persist retried payment page")
		} else {
			metrics.SyncRecordsProcessed.WithLabelValues("payments").Add(float64(n))
		}
	}
}
