// Keeper - Square POS Business Intelligence for Small Merchants
// Copyright 2026 raydawg88
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/raydawg88/keeper

package api

import (
	"net/http"
	"time"

	json "github.com/goccy/go-json"

	"github.com/raydawg88/keeper/internal/logging"
	"github.com/raydawg88/keeper/internal/middleware"
)

// Response is the envelope every endpoint returns.
type Response struct {
	Success bool      `json:"success"`
	Data    any       `json:"data,omitempty"`
	Error   *APIError `json:"error,omitempty"`
	Meta    *Meta     `json:"meta,omitempty"`
}

// APIError carries a machine-readable code alongside the message.
type APIError struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	Details   any    `json:"details,omitempty"`
	RequestID string `json:"request_id,omitempty"`
}

// Meta is response metadata, present on every success.
type Meta struct {
	RequestID  string      `json:"request_id,omitempty"`
	Timestamp  time.Time   `json:"timestamp"`
	Pagination *Pagination `json:"pagination,omitempty"`
}

// Pagination describes an offset-paginated list response.
type Pagination struct {
	Total   int  `json:"total"`
	Count   int  `json:"count"`
	Offset  int  `json:"offset"`
	Limit   int  `json:"limit"`
	HasMore bool `json:"has_more"`
}

// Error codes used across the API.
const (
	ErrCodeBadRequest         = "BAD_REQUEST"
	ErrCodeNotFound           = "NOT_FOUND"
	ErrCodeConflict           = "CONFLICT"
	ErrCodeValidationFailed   = "VALIDATION_FAILED"
	ErrCodeDatabaseError      = "DATABASE_ERROR"
	ErrCodeInternalError      = "INTERNAL_ERROR"
	ErrCodeServiceUnavailable = "SERVICE_UNAVAILABLE"
)

func writeJSON(w http.ResponseWriter, status int, body Response) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		logging.Error().Err(err).Msg("Failed to encode JSON response")
	}
}

func respond(w http.ResponseWriter, r *http.Request, status int, data any, pagination *Pagination) {
	writeJSON(w, status, Response{
		Success: true,
		Data:    data,
		Meta: &Meta{
			RequestID:  middleware.GetRequestID(r.Context()),
			Timestamp:  time.Now().UTC(),
			Pagination: pagination,
		},
	})
}

func respondError(w http.ResponseWriter, r *http.Request, status int, code, message string) {
	respondErrorDetails(w, r, status, code, message, nil)
}

func respondErrorDetails(w http.ResponseWriter, r *http.Request, status int, code, message string, details any) {
	requestID := middleware.GetRequestID(r.Context())
	writeJSON(w, status, Response{
		Success: false,
		Error: &APIError{
			Code:      code,
			Message:   message,
			Details:   details,
			RequestID: requestID,
		},
		Meta: &Meta{RequestID: requestID, Timestamp: time.Now().UTC()},
	})
}

func respondDatabaseError(w http.ResponseWriter, r *http.Request, err error) {
	logging.Error().Err(err).Str("path", r.URL.Path).Msg("Database error")
	respondError(w, r, http.StatusInternalServerError, ErrCodeDatabaseError, "a database error occurred")
}
