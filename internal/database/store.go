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

	"github.com/google/uuid"

	"github.com/raydawg88/keeper/internal/metrics"
	"github.com/raydawg88/keeper/internal/models"
	"github.com/raydawg88/keeper/internal/syncer"
)

// The sync pipeline writes through the syncer.Store interface; this file is
// its DuckDB implementation. Missing rows are reported with
// syncer.ErrNotFound per that interface's contract.

// UpsertAccount creates or refreshes the account row keyed by the Square
// merchant ID and returns the account's ID.
func (db *DB) UpsertAccount(ctx context.Context, account models.Account) (string, error) {
	start := time.Now()
	defer func() { metrics.RecordDBQuery("upsert", "accounts", time.Since(start)) }()

	var id string
	err := db.conn.QueryRowContext(ctx,
		`SELECT id FROM accounts WHERE square_merchant_id = ?`, account.SquareMerchantID).Scan(&id)
	switch {
	case err == nil:
		_, err = db.conn.ExecContext(ctx,
			`UPDATE accounts SET business_name = ?, updated_at = ? WHERE id = ?`,
			account.BusinessName, time.Now().UTC(), id)
		return id, err
	case errors.Is(err, sql.ErrNoRows):
		id = uuid.NewString()
		now := time.Now().UTC()
		_, err = db.conn.ExecContext(ctx,
			`INSERT INTO accounts (id, business_name, square_merchant_id, created_at, updated_at)
			 VALUES (?, ?, ?, ?, ?)`,
			id, account.BusinessName, account.SquareMerchantID, now, now)
		return id, err
	default:
		return "", fmt.Errorf("lookup account: %w", err)
	}
}

// UpsertCustomer inserts or updates a customer keyed by its Square ID. A
// record whose upstream version is not newer than the stored one is
// skipped; retried pages replay old data and must not clobber newer rows.
func (db *DB) UpsertCustomer(ctx context.Context, c models.Customer) error {
	start := time.Now()
	defer func() { metrics.RecordDBQuery("upsert", "customers", time.Since(start)) }()

	var id string
	var storedUpdated time.Time
	err := db.conn.QueryRowContext(ctx,
		`SELECT id, square_updated_at FROM customers WHERE account_id = ? AND square_customer_id = ?`,
		c.AccountID, c.SquareCustomerID).Scan(&id, &storedUpdated)
	switch {
	case err == nil:
		if !c.SquareUpdatedAt.After(storedUpdated) {
			metrics.DBConflictSkips.WithLabelValues("customers").Inc()
			return nil
		}
		_, err = db.conn.ExecContext(ctx,
			`UPDATE customers SET first_name = ?, last_name = ?, email = ?, phone = ?,
			 square_created_at = ?, square_updated_at = ?, square_data = ?, updated_at = ?
			 WHERE id = ?`,
			c.FirstName, c.LastName, c.Email, c.Phone,
			c.SquareCreatedAt.UTC(), c.SquareUpdatedAt.UTC(), string(c.RawData), time.Now().UTC(), id)
		return err
	case errors.Is(err, sql.ErrNoRows):
		now := time.Now().UTC()
		_, err = db.conn.ExecContext(ctx,
			`INSERT INTO customers (id, account_id, square_customer_id, first_name, last_name,
			 email, phone, square_created_at, square_updated_at, square_data, created_at, updated_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			uuid.NewString(), c.AccountID, c.SquareCustomerID, c.FirstName, c.LastName,
			c.Email, c.Phone, c.SquareCreatedAt.UTC(), c.SquareUpdatedAt.UTC(), string(c.RawData), now, now)
		return err
	default:
		return fmt.Errorf("lookup customer: %w", err)
	}
}

// UpsertPayment inserts or updates a payment keyed by its Square ID, with
// the same stale-version skip as customers.
func (db *DB) UpsertPayment(ctx context.Context, p models.Payment) error {
	start := time.Now()
	defer func() { metrics.RecordDBQuery("upsert", "payments", time.Since(start)) }()

	var id string
	var storedUpdated time.Time
	err := db.conn.QueryRowContext(ctx,
		`SELECT id, square_updated_at FROM payments WHERE account_id = ? AND square_payment_id = ?`,
		p.AccountID, p.SquarePaymentID).Scan(&id, &storedUpdated)
	switch {
	case err == nil:
		if !p.SquareUpdatedAt.After(storedUpdated) {
			metrics.DBConflictSkips.WithLabelValues("payments").Inc()
			return nil
		}
		_, err = db.conn.ExecContext(ctx,
			`UPDATE payments SET square_order_id = ?, customer_id = ?, amount_cents = ?,
			 tip_cents = ?, currency = ?, status = ?, square_created_at = ?, square_updated_at = ?,
			 square_data = ?, updated_at = ? WHERE id = ?`,
			p.SquareOrderID, p.CustomerID, p.AmountCents, p.TipCents, p.Currency, p.Status,
			p.SquareCreatedAt.UTC(), p.SquareUpdatedAt.UTC(), string(p.RawData), time.Now().UTC(), id)
		return err
	case errors.Is(err, sql.ErrNoRows):
		now := time.Now().UTC()
		_, err = db.conn.ExecContext(ctx,
			`INSERT INTO payments (id, account_id, square_payment_id, square_order_id, customer_id,
			 amount_cents, tip_cents, currency, status, square_created_at, square_updated_at,
			 square_data, created_at, updated_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			uuid.NewString(), p.AccountID, p.SquarePaymentID, p.SquareOrderID, p.CustomerID,
			p.AmountCents, p.TipCents, p.Currency, p.Status,
			p.SquareCreatedAt.UTC(), p.SquareUpdatedAt.UTC(), string(p.RawData), now, now)
		return err
	default:
		return fmt.Errorf("lookup payment: %w", err)
	}
}

// CustomerIDBySquareID resolves a Square customer ID to Keeper's row ID.
func (db *DB) CustomerIDBySquareID(ctx context.Context, accountID, squareCustomerID string) (string, error) {
	var id string
	err := db.conn.QueryRowContext(ctx,
		`SELECT id FROM customers WHERE account_id = ? AND square_customer_id = ?`,
		accountID, squareCustomerID).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return "", syncer.ErrNotFound
	}
	return id, err
}

// CustomerIDByEmail resolves a customer by email, case-insensitively.
func (db *DB) CustomerIDByEmail(ctx context.Context, accountID, email string) (string, error) {
	var id string
	err := db.conn.QueryRowContext(ctx,
		`SELECT id FROM customers WHERE account_id = ? AND lower(email) = lower(?) LIMIT 1`,
		accountID, email).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return "", syncer.ErrNotFound
	}
	return id, err
}

// UpdateLastSync stamps the account's last successful sync time.
func (db *DB) UpdateLastSync(ctx context.Context, accountID string, at time.Time) error {
	_, err := db.conn.ExecContext(ctx,
		`UPDATE accounts SET last_sync_at = ?, updated_at = ? WHERE id = ?`,
		at.UTC(), time.Now().UTC(), accountID)
	return err
}
