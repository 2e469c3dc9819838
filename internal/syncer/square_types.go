// Keeper - Square POS Business Intelligence for Small Merchants
// Copyright 2026 raydawg88
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/raydawg88/keeper

package syncer

import (
	"time"

	json "github.com/goccy/go-json"
)

// SquareCustomer is the subset of Square's Customer object Keeper uses.
type SquareCustomer struct {
	ID           string    `json:"id"`
	GivenName    string    `json:"given_name"`
	FamilyName   string    `json:"family_name"`
	EmailAddress string    `json:"email_address"`
	PhoneNumber  string    `json:"phone_number"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// SquareMoney is an amount in the currency's smallest denomination.
type SquareMoney struct {
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`
}

// SquarePayment is the subset of Square's Payment object Keeper uses.
type SquarePayment struct {
	ID          string      `json:"id"`
	OrderID     string      `json:"order_id"`
	CustomerID  string      `json:"customer_id"`
	AmountMoney SquareMoney `json:"amount_money"`
	TipMoney    SquareMoney `json:"tip_money"`
	Status      string      `json:"status"`
	BuyerEmail  string      `json:"buyer_email_address"`
	CreatedAt   time.Time   `json:"created_at"`
	UpdatedAt   time.Time   `json:"updated_at"`
}

// SquareMerchant is the subset of Square's Merchant object Keeper uses.
type SquareMerchant struct {
	ID           string `json:"id"`
	BusinessName string `json:"business_name"`
	Country      string `json:"country"`
	Status       string `json:"status"`
}

// CustomersPage is one page of the ListCustomers response.
type CustomersPage struct {
	Customers []SquareCustomer `json:"customers"`
	Cursor    string           `json:"cursor"`
}

// PaymentsPage is one page of the ListPayments response.
type PaymentsPage struct {
	Payments []SquarePayment `json:"payments"`
	Cursor   string          `json:"cursor"`
}

// MerchantsPage is the ListMerchants response.
type MerchantsPage struct {
	Merchants []SquareMerchant `json:"merchant"`
	Cursor    string           `json:"cursor"`
}

// DecodeCustomersPage parses a ListCustomers response body.
func DecodeCustomersPage(body []byte) (CustomersPage, error) {
	var page CustomersPage
	if err := json.Unmarshal(body, &page); err != nil {
		return CustomersPage{}, &PermanentError{Endpoint: endpointCustomers, Message: "malformed customers page: " + err.Error()}
	}
	return page, nil
}

// DecodePaymentsPage parses a ListPayments response body.
func DecodePaymentsPage(body []byte) (PaymentsPage, error) {
	var page PaymentsPage
	if err := json.Unmarshal(body, &page); err != nil {
		return PaymentsPage{}, &PermanentError{Endpoint: endpointPayments, Message: "malformed payments page: " + err.Error()}
	}
	return page, nil
}

// DecodeMerchantsPage parses a ListMerchants response body.
func DecodeMerchantsPage(body []byte) (MerchantsPage, error) {
	var page MerchantsPage
	if err := json.Unmarshal(body, &page); err != nil {
		return MerchantsPage{}, &PermanentError{Endpoint: endpointMerchants, Message: "malformed merchants page: " + err.Error()}
	}
	return page, nil
}
