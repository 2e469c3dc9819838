// Keeper - Square POS Business Intelligence for Small Merchants
// Copyright 2026 raydawg88
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/raydawg88/keeper

package database

import "fmt"

// schema is idempotent so it runs on every startup. square_data keeps the
// raw upstream object for fields the typed columns do not carry.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS accounts (
		id TEXT PRIMARY KEY,
		business_name TEXT NOT NULL,
		square_merchant_id TEXT NOT NULL UNIQUE,
		last_sync_at TIMESTAMP,
		created_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL
	)`,

	`CREATE TABLE IF NOT EXISTS customers (
		id TEXT PRIMARY KEY,
		account_id TEXT NOT NULL,
		square_customer_id TEXT NOT NULL,
		first_name TEXT,
		last_name TEXT,
		email TEXT,
		phone TEXT,
		square_created_at TIMESTAMP,
		square_updated_at TIMESTAMP,
		square_data TEXT,
		created_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL,
		UNIQUE (account_id, square_customer_id)
	)`,

	`CREATE TABLE IF NOT EXISTS payments (
		id TEXT PRIMARY KEY,
		account_id TEXT NOT NULL,
		square_payment_id TEXT NOT NULL,
		square_order_id TEXT,
		customer_id TEXT,
		amount_cents BIGINT NOT NULL,
		tip_cents BIGINT NOT NULL DEFAULT 0,
		currency TEXT NOT NULL,
		status TEXT NOT NULL,
		square_created_at TIMESTAMP,
		square_updated_at TIMESTAMP,
		square_data TEXT,
		created_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL,
		UNIQUE (account_id, square_payment_id)
	)`,

	`CREATE TABLE IF NOT EXISTS insights (
		id TEXT PRIMARY KEY,
		account_id TEXT NOT NULL,
		customer_id TEXT,
		type TEXT NOT NULL,
		summary TEXT NOT NULL,
		confidence DOUBLE NOT NULL,
		value_cents BIGINT NOT NULL,
		action_items TEXT,
		generated_at TIMESTAMP NOT NULL
	)`,

	`CREATE TABLE IF NOT EXISTS customer_matches (
		id TEXT PRIMARY KEY,
		account_id TEXT NOT NULL,
		customer_id TEXT NOT NULL,
		external_ref TEXT NOT NULL,
		confidence DOUBLE NOT NULL,
		confidence_level TEXT NOT NULL,
		reasons TEXT,
		created_at TIMESTAMP NOT NULL,
		UNIQUE (account_id, customer_id, external_ref)
	)`,

	`CREATE INDEX IF NOT EXISTS idx_customers_account ON customers (account_id)`,
	`CREATE INDEX IF NOT EXISTS idx_customers_email ON customers (account_id, email)`,
	`CREATE INDEX IF NOT EXISTS idx_payments_account ON payments (account_id)`,
	`CREATE INDEX IF NOT EXISTS idx_payments_customer ON payments (account_id, customer_id)`,
	`CREATE INDEX IF NOT EXISTS idx_insights_account ON insights (account_id)`,
}

func (db *DB) initialize() error {
	for _, stmt := range schema {
		if _, err := db.conn.Exec(stmt); err != nil {
			return fmt.Errorf("apply schema: %w", err)
		}
	}
	return nil
}
