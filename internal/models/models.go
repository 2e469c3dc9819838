// Keeper - Square POS Business Intelligence for Small Merchants
// Copyright 2026 raydawg88
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/raydawg88/keeper

// Package models defines Keeper's domain records: merchant accounts,
// synced customers and payments, customer matches, and generated insights.
package models

import "time"

// Account is a Keeper merchant account linked to a Square merchant.
type Account struct {
	ID               string     `json:"id"`
	BusinessName     string     `json:"business_name"`
	SquareMerchantID string     `json:"square_merchant_id"`
	LastSyncAt       *time.Time `json:"last_sync_at,omitempty"`
	CreatedAt        time.Time  `json:"created_at"`
	UpdatedAt        time.Time  `json:"updated_at"`
}

// Customer is a customer record synced from Square.
// RawData retains the full upstream payload for fields Keeper does not model.
type Customer struct {
	ID               string    `json:"id"`
	AccountID        string    `json:"account_id"`
	SquareCustomerID string    `json:"square_customer_id"`
	FirstName        string    `json:"first_name,omitempty"`
	LastName         string    `json:"last_name,omitempty"`
	Email            string    `json:"email,omitempty"`
	Phone            string    `json:"phone,omitempty"`
	SquareCreatedAt  time.Time `json:"square_created_at"`
	SquareUpdatedAt  time.Time `json:"square_updated_at"`
	RawData          []byte    `json:"-"`
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`
}

// Payment is a payment record synced from Square. Amounts are in cents.
type Payment struct {
	ID              string    `json:"id"`
	AccountID       string    `json:"account_id"`
	SquarePaymentID string    `json:"square_payment_id"`
	SquareOrderID   string    `json:"square_order_id,omitempty"`
	CustomerID      string    `json:"customer_id,omitempty"`
	AmountCents     int64     `json:"amount_cents"`
	TipCents        int64     `json:"tip_cents"`
	Currency        string    `json:"currency"`
	Status          string    `json:"status"`
	SquareCreatedAt time.Time `json:"square_created_at"`
	SquareUpdatedAt time.Time `json:"square_updated_at"`
	RawData         []byte    `json:"-"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// CustomerMatch records a fuzzy match between an externally imported
// customer record and a synced Square customer.
type CustomerMatch struct {
	ID              string    `json:"id"`
	AccountID       string    `json:"account_id"`
	CustomerID      string    `json:"customer_id"`
	ExternalRef     string    `json:"external_ref"`
	Confidence      float64   `json:"confidence"`
	ConfidenceLevel string    `json:"confidence_level"` // "high", "medium", "low"
	Reasons         []string  `json:"reasons"`
	CreatedAt       time.Time `json:"created_at"`
}

// Insight is a scored, actionable business observation derived from
// synced customer and payment data.
type Insight struct {
	ID              string    `json:"id"`
	AccountID       string    `json:"account_id"`
	Type            string    `json:"type"` // "churn_risk", "tip_opportunity", "frequency_decline"
	CustomerID      string    `json:"customer_id,omitempty"`
	Summary         string    `json:"summary"`
	Confidence      float64   `json:"confidence"`
	ValueCents      int64     `json:"value_cents"`
	ActionItems     []string  `json:"action_items"`
	GeneratedAt     time.Time `json:"generated_at"`
}

// SyncStatus is the observability snapshot the API exposes per endpoint.
type SyncStatus struct {
	Endpoint          string  `json:"endpoint"`
	CircuitState      string  `json:"circuit_state"`
	BackoffLevel      int     `json:"backoff_level"`
	SuccessRatio      float64 `json:"success_ratio"`
	QueueDepth        int     `json:"queue_depth"`
	PermanentFailures int     `json:"permanent_failures"`
}
