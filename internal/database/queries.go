// Keeper - Square POS Business Intelligence for Small Merchants
// Copyright 2026 raydawg88
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/raydawg88/keeper

package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	json "github.com/goccy/go-json"
	"github.com/google/uuid"

	"github.com/raydawg88/keeper/internal/metrics"
	"github.com/raydawg88/keeper/internal/models"
	"github.com/raydawg88/keeper/internal/syncer"
)

// FirstAccount returns the single Keeper account. The server syncs one
// merchant per deployment.
func (db *DB) FirstAccount(ctx context.Context) (models.Account, error) {
	var a models.Account
	var lastSync sql.NullTime
	err := db.conn.QueryRowContext(ctx,
		`SELECT id, business_name, square_merchant_id, last_sync_at, created_at, updated_at
		 FROM accounts ORDER BY created_at LIMIT 1`).
		Scan(&a.ID, &a.BusinessName, &a.SquareMerchantID, &lastSync, &a.CreatedAt, &a.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Account{}, syncer.ErrNotFound
	}
	if err != nil {
		return models.Account{}, err
	}
	if lastSync.Valid {
		t := lastSync.Time
		a.LastSyncAt = &t
	}
	return a, nil
}

// ListCustomers returns a page of customers plus the total count.
func (db *DB) ListCustomers(ctx context.Context, accountID string, limit, offset int) ([]models.Customer, int, error) {
	start := time.Now()
	defer func() { metrics.RecordDBQuery("list", "customers", time.Since(start)) }()

	var total int
	if err := db.conn.QueryRowContext(ctx,
		`SELECT count(*) FROM customers WHERE account_id = ?`, accountID).Scan(&total); err != nil {
		return nil, 0, err
	}

	rows, err := db.conn.QueryContext(ctx,
		`SELECT id, account_id, square_customer_id, first_name, last_name, email, phone,
		 square_created_at, square_updated_at, created_at, updated_at
		 FROM customers WHERE account_id = ?
		 ORDER BY last_name, first_name, id LIMIT ? OFFSET ?`,
		accountID, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var customers []models.Customer
	for rows.Next() {
		var c models.Customer
		if err := rows.Scan(&c.ID, &c.AccountID, &c.SquareCustomerID, &c.FirstName, &c.LastName,
			&c.Email, &c.Phone, &c.SquareCreatedAt, &c.SquareUpdatedAt, &c.CreatedAt, &c.UpdatedAt); err != nil {
			return nil, 0, err
		}
		customers = append(customers, c)
	}
	return customers, total, rows.Err()
}

// AllCustomers returns every customer for an account, for the matching and
// insight passes. Small-merchant scale keeps this bounded.
func (db *DB) AllCustomers(ctx context.Context, accountID string) ([]models.Customer, error) {
	rows, err := db.conn.QueryContext(ctx,
		`SELECT id, account_id, square_customer_id, first_name, last_name, email, phone,
		 square_created_at, square_updated_at, created_at, updated_at
		 FROM customers WHERE account_id = ? ORDER BY id`, accountID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var customers []models.Customer
	for rows.Next() {
		var c models.Customer
		if err := rows.Scan(&c.ID, &c.AccountID, &c.SquareCustomerID, &c.FirstName, &c.LastName,
			&c.Email, &c.Phone, &c.SquareCreatedAt, &c.SquareUpdatedAt, &c.CreatedAt, &c.UpdatedAt); err != nil {
			return nil, err
		}
		customers = append(customers, c)
	}
	return customers, rows.Err()
}

// CustomerStats holds the per-customer payment aggregates that drive
// insight generation. Only completed payments count.
type CustomerStats struct {
	CustomerID      string
	FirstName       string
	LastName        string
	Email           string
	Visits          int
	TotalSpentCents int64
	TotalTipCents   int64
	AvgSpentCents   int64
	FirstPaymentAt  time.Time
	LastPaymentAt   time.Time
}

// CustomerStats aggregates completed payments per linked customer.
func (db *DB) CustomerStats(ctx context.Context, accountID string) ([]CustomerStats, error) {
	start := time.Now()
	defer func() { metrics.RecordDBQuery("aggregate", "payments", time.Since(start)) }()

	rows, err := db.conn.QueryContext(ctx,
		`SELECT c.id, c.first_name, c.last_name, c.email,
		        count(p.id), sum(p.amount_cents), sum(p.tip_cents),
		        CAST(avg(p.amount_cents) AS BIGINT),
		        min(p.square_created_at), max(p.square_created_at)
		 FROM customers c
		 JOIN payments p ON p.customer_id = c.id AND p.account_id = c.account_id
		 WHERE c.account_id = ? AND p.status = 'COMPLETED'
		 GROUP BY c.id, c.first_name, c.last_name, c.email
		 ORDER BY c.id`, accountID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var stats []CustomerStats
	for rows.Next() {
		var s CustomerStats
		if err := rows.Scan(&s.CustomerID, &s.FirstName, &s.LastName, &s.Email,
			&s.Visits, &s.TotalSpentCents, &s.TotalTipCents, &s.AvgSpentCents,
			&s.FirstPaymentAt, &s.LastPaymentAt); err != nil {
			return nil, err
		}
		stats = append(stats, s)
	}
	return stats, rows.Err()
}

// TipStats holds account-wide tip aggregates across completed payments.
type TipStats struct {
	TotalPayments    int
	TippedPayments   int
	TotalAmountCents int64
	TotalTipCents    int64
}

// TipStats aggregates tipping behavior across all completed payments,
// linked to a customer or not.
func (db *DB) TipStats(ctx context.Context, accountID string) (TipStats, error) {
	var s TipStats
	err := db.conn.QueryRowContext(ctx,
		`SELECT count(*),
		        count(*) FILTER (WHERE tip_cents > 0),
		        coalesce(sum(amount_cents), 0),
		        coalesce(sum(tip_cents), 0)
		 FROM payments WHERE account_id = ? AND status = 'COMPLETED'`, accountID).
		Scan(&s.TotalPayments, &s.TippedPayments, &s.TotalAmountCents, &s.TotalTipCents)
	return s, err
}

// PaymentTimesByCustomer returns the completed payment timestamps per
// linked customer, oldest first, for visit-interval analysis.
func (db *DB) PaymentTimesByCustomer(ctx context.Context, accountID string) (map[string][]time.Time, error) {
	rows, err := db.conn.QueryContext(ctx,
		`SELECT customer_id, square_created_at FROM payments
		 WHERE account_id = ? AND customer_id <> '' AND status = 'COMPLETED'
		 ORDER BY customer_id, square_created_at`, accountID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	times := make(map[string][]time.Time)
	for rows.Next() {
		var customerID string
		var at time.Time
		if err := rows.Scan(&customerID, &at); err != nil {
			return nil, err
		}
		times[customerID] = append(times[customerID], at)
	}
	return times, rows.Err()
}

// ReplaceInsights atomically swaps the account's insights for a freshly
// generated set. Insights are derived data, so regeneration replaces
// rather than merges.
func (db *DB) ReplaceInsights(ctx context.Context, accountID string, insights []models.Insight) error {
	start := time.Now()
	defer func() { metrics.RecordDBQuery("replace", "insights", time.Since(start)) }()

	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM insights WHERE account_id = ?`, accountID); err != nil {
		return err
	}
	for _, ins := range insights {
		items, err := json.Marshal(ins.ActionItems)
		if err != nil {
			return fmt.Errorf("marshal action items: %w", err)
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO insights (id, account_id, customer_id, type, summary, confidence,
			 value_cents, action_items, generated_at) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			uuid.NewString(), accountID, ins.CustomerID, ins.Type, ins.Summary,
			ins.Confidence, ins.ValueCents, string(items), ins.GeneratedAt.UTC()); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// ListInsights returns a page of insights plus the total count, most
// valuable first.
func (db *DB) ListInsights(ctx context.Context, accountID string, limit, offset int) ([]models.Insight, int, error) {
	var total int
	if err := db.conn.QueryRowContext(ctx,
		`SELECT count(*) FROM insights WHERE account_id = ?`, accountID).Scan(&total); err != nil {
		return nil, 0, err
	}

	rows, err := db.conn.QueryContext(ctx,
		`SELECT id, account_id, customer_id, type, summary, confidence, value_cents,
		 action_items, generated_at FROM insights WHERE account_id = ?
		 ORDER BY value_cents DESC, id LIMIT ? OFFSET ?`, accountID, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var insights []models.Insight
	for rows.Next() {
		var ins models.Insight
		var items string
		if err := rows.Scan(&ins.ID, &ins.AccountID, &ins.CustomerID, &ins.Type, &ins.Summary,
			&ins.Confidence, &ins.ValueCents, &items, &ins.GeneratedAt); err != nil {
			return nil, 0, err
		}
		if items != "" {
			if err := json.Unmarshal([]byte(items), &ins.ActionItems); err != nil {
				return nil, 0, fmt.Errorf("unmarshal action items: %w", err)
			}
		}
		insights = append(insights, ins)
	}
	return insights, total, rows.Err()
}

// ReplaceMatches atomically swaps the account's customer matches.
func (db *DB) ReplaceMatches(ctx context.Context, accountID string, matches []models.CustomerMatch) error {
	start := time.Now()
	defer func() { metrics.RecordDBQuery("replace", "customer_matches", time.Since(start)) }()

	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM customer_matches WHERE account_id = ?`, accountID); err != nil {
		return err
	}
	for _, m := range matches {
		reasons, err := json.Marshal(m.Reasons)
		if err != nil {
			return fmt.Errorf("marshal reasons: %w", err)
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO customer_matches (id, account_id, customer_id, external_ref, confidence,
			 confidence_level, reasons, created_at) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			uuid.NewString(), accountID, m.CustomerID, m.ExternalRef, m.Confidence,
			m.ConfidenceLevel, string(reasons), time.Now().UTC()); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// ListMatches returns a page of customer matches plus the total count.
func (db *DB) ListMatches(ctx context.Context, accountID string, limit, offset int) ([]models.CustomerMatch, int, error) {
	var total int
	if err := db.conn.QueryRowContext(ctx,
		`SELECT count(*) FROM customer_matches WHERE account_id = ?`, accountID).Scan(&total); err != nil {
		return nil, 0, err
	}

	rows, err := db.conn.QueryContext(ctx,
		`SELECT id, account_id, customer_id, external_ref, confidence, confidence_level,
		 reasons, created_at FROM customer_matches WHERE account_id = ?
		 ORDER BY confidence DESC, id LIMIT ? OFFSET ?`, accountID, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var matches []models.CustomerMatch
	for rows.Next() {
		var m models.CustomerMatch
		var reasons string
		if err := rows.Scan(&m.ID, &m.AccountID, &m.CustomerID, &m.ExternalRef, &m.Confidence,
			&m.ConfidenceLevel, &reasons, &m.CreatedAt); err != nil {
			return nil, 0, err
		}
		if reasons != "" {
			if err := json.Unmarshal([]byte(reasons), &m.Reasons); err != nil {
				return nil, 0, fmt.Errorf("unmarshal reasons: %w", err)
			}
		}
		matches = append(matches, m)
	}
	return matches, total, rows.Err()
}
