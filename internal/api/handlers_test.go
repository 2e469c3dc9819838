// Keeper - Square POS Business Intelligence for Small Merchants
// Copyright 2026 raydawg88
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/raydawg88/keeper

package api

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	json "github.com/goccy/go-json"

	"github.com/raydawg88/keeper/internal/config"
	"github.com/raydawg88/keeper/internal/matching"
	"github.com/raydawg88/keeper/internal/models"
	"github.com/raydawg88/keeper/internal/syncer"
)

type fakeStore struct {
	pingErr    error
	account    models.Account
	accountErr error

	customers []models.Customer
	insights  []models.Insight
	matches   []models.CustomerMatch

	listCalls int
	replaced  []models.CustomerMatch
}

func (s *fakeStore) Ping(ctx context.Context) error { return s.pingErr }

func (s *fakeStore) FirstAccount(ctx context.Context) (models.Account, error) {
	if s.accountErr != nil {
		return models.Account{}, s.accountErr
	}
	return s.account, nil
}

func (s *fakeStore) ListCustomers(ctx context.Context, accountID string, limit, offset int) ([]models.Customer, int, error) {
	s.listCalls++
	end := offset + limit
	if end > len(s.customers) {
		end = len(s.customers)
	}
	if offset > len(s.customers) {
		offset = len(s.customers)
	}
	return s.customers[offset:end], len(s.customers), nil
}

func (s *fakeStore) AllCustomers(ctx context.Context, accountID string) ([]models.Customer, error) {
	return s.customers, nil
}

func (s *fakeStore) ListInsights(ctx context.Context, accountID string, limit, offset int) ([]models.Insight, int, error) {
	return s.insights, len(s.insights), nil
}

func (s *fakeStore) ListMatches(ctx context.Context, accountID string, limit, offset int) ([]models.CustomerMatch, int, error) {
	return s.matches, len(s.matches), nil
}

func (s *fakeStore) ReplaceMatches(ctx context.Context, accountID string, matches []models.CustomerMatch) error {
	s.replaced = matches
	return nil
}

type fakeManager struct {
	status     syncer.Status
	triggerErr error
	triggered  int
}

func (m *fakeManager) Status() syncer.Status { return m.status }

func (m *fakeManager) TriggerSync(ctx context.Context) error {
	if m.triggerErr != nil {
		return m.triggerErr
	}
	m.triggered++
	return nil
}

func apiDefaults() config.APIConfig {
	return config.Defaults().API
}

func newTestServer(t *testing.T, store *fakeStore, manager *fakeManager) *httptest.Server {
	t.Helper()
	h := NewHandler(store, manager, matching.New(config.Defaults().Matching), apiDefaults())
	t.Cleanup(h.Close)
	srv := httptest.NewServer(NewRouter(h, apiDefaults()))
	t.Cleanup(srv.Close)
	return srv
}

func decodeResponse(t *testing.T, resp *http.Response) Response {
	t.Helper()
	defer resp.Body.Close()
	var body Response
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return body
}

func seededStore() *fakeStore {
	now := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	return &fakeStore{
		account: models.Account{ID: "acct-1", BusinessName: "Ray's Coffee", LastSyncAt: &now},
		customers: []models.Customer{
			{ID: "c1", FirstName: "Ada", LastName: "Lovelace", Email: "ada@example.com"},
			{ID: "c2", FirstName: "Grace", LastName: "Hopper", Email: "grace@example.com"},
			{ID: "c3", FirstName: "Tim", LastName: "Berners-Lee"},
		},
	}
}

func TestHealthOK(t *testing.T) {
	srv := newTestServer(t, seededStore(), &fakeManager{})

	resp, err := http.Get(srv.URL + "/health")
	if err != nil {
		t.Fatal(err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	body := decodeResponse(t, resp)
	if !body.Success {
		t.Fatal("expected success envelope")
	}
	data := body.Data.(map[string]any)
	if data["status"] != "ok" || data["database"] != "ok" {
		t.Fatalf("unexpected health body: %v", data)
	}
	if data["account"] != "Ray's Coffee" {
		t.Fatalf("account = %v, want Ray's Coffee", data["account"])
	}
}

func TestHealthDegradedWhenDatabaseDown(t *testing.T) {
	store := seededStore()
	store.pingErr = errors.New("connection lost")
	srv := newTestServer(t, store, &fakeManager{})

	resp, err := http.Get(srv.URL + "/health")
	if err != nil {
		t.Fatal(err)
	}
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", resp.StatusCode)
	}
	data := decodeResponse(t, resp).Data.(map[string]any)
	if data["status"] != "degraded" {
		t.Fatalf("status field = %v, want degraded", data["status"])
	}
}

func TestSyncStatus(t *testing.T) {
	manager := &fakeManager{status: syncer.Status{
		Running:    true,
		QueueDepth: 2,
		Endpoints: []models.SyncStatus{
			{Endpoint: "payments", CircuitState: "closed", SuccessRatio: 0.9},
		},
	}}
	srv := newTestServer(t, seededStore(), manager)

	resp, err := http.Get(srv.URL + "/api/v1/sync/status")
	if err != nil {
		t.Fatal(err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	data := decodeResponse(t, resp).Data.(map[string]any)
	if data["running"] != true {
		t.Fatalf("running = %v, want true", data["running"])
	}
	if data["queue_depth"] != float64(2) {
		t.Fatalf("queue_depth = %v, want 2", data["queue_depth"])
	}
}

func TestSyncTriggerAccepted(t *testing.T) {
	manager := &fakeManager{}
	srv := newTestServer(t, seededStore(), manager)

	resp, err := http.Post(srv.URL+"/api/v1/sync/trigger", "application/json", nil)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("status = %d, want 202", resp.StatusCode)
	}
	if manager.triggered != 1 {
		t.Fatalf("triggered = %d, want 1", manager.triggered)
	}
}

func TestSyncTriggerConflict(t *testing.T) {
	manager := &fakeManager{triggerErr: syncer.ErrSyncInProgress}
	srv := newTestServer(t, seededStore(), manager)

	resp, err := http.Post(srv.URL+"/api/v1/sync/trigger", "application/json", nil)
	if err != nil {
		t.Fatal(err)
	}
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("status = %d, want 409", resp.StatusCode)
	}
	body := decodeResponse(t, resp)
	if body.Success || body.Error == nil || body.Error.Code != ErrCodeConflict {
		t.Fatalf("unexpected error envelope: %+v", body)
	}
}

func TestCustomersPagination(t *testing.T) {
	srv := newTestServer(t, seededStore(), &fakeManager{})

	resp, err := http.Get(srv.URL + "/api/v1/customers?limit=2&offset=1")
	if err != nil {
		t.Fatal(err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	body := decodeResponse(t, resp)
	p := body.Meta.Pagination
	if p == nil {
		t.Fatal("expected pagination metadata")
	}
	if p.Total != 3 || p.Count != 2 || p.Offset != 1 || p.Limit != 2 {
		t.Fatalf("pagination = %+v", p)
	}
	if p.HasMore {
		t.Fatal("offset 1 + count 2 covers all 3 rows, has_more should be false")
	}
}

func TestCustomersBadLimit(t *testing.T) {
	srv := newTestServer(t, seededStore(), &fakeManager{})

	for _, q := range []string{"limit=0", "limit=abc", "offset=-1"} {
		resp, err := http.Get(srv.URL + "/api/v1/customers?" + q)
		if err != nil {
			t.Fatal(err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusBadRequest {
			t.Fatalf("query %q: status = %d, want 400", q, resp.StatusCode)
		}
	}
}

func TestCustomersLimitClamped(t *testing.T) {
	srv := newTestServer(t, seededStore(), &fakeManager{})

	resp, err := http.Get(srv.URL + "/api/v1/customers?limit=100000")
	if err != nil {
		t.Fatal(err)
	}
	body := decodeResponse(t, resp)
	if got := body.Meta.Pagination.Limit; got != apiDefaults().MaxPageSize {
		t.Fatalf("limit = %d, want clamped to %d", got, apiDefaults().MaxPageSize)
	}
}

func TestCustomersNoAccount(t *testing.T) {
	store := &fakeStore{accountErr: syncer.ErrNotFound}
	srv := newTestServer(t, store, &fakeManager{})

	resp, err := http.Get(srv.URL + "/api/v1/customers")
	if err != nil {
		t.Fatal(err)
	}
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", resp.StatusCode)
	}
	body := decodeResponse(t, resp)
	if body.Error == nil || body.Error.Code != ErrCodeNotFound {
		t.Fatalf("unexpected error envelope: %+v", body)
	}
}

func TestCustomersCached(t *testing.T) {
	store := seededStore()
	srv := newTestServer(t, store, &fakeManager{})

	for i := 0; i < 3; i++ {
		resp, err := http.Get(srv.URL + "/api/v1/customers?limit=2")
		if err != nil {
			t.Fatal(err)
		}
		resp.Body.Close()
	}
	if store.listCalls != 1 {
		t.Fatalf("store queried %d times, want 1 (cached)", store.listCalls)
	}
}

func TestImportMatches(t *testing.T) {
	store := seededStore()
	srv := newTestServer(t, store, &fakeManager{})

	payload := `{"records":[{"ref":"mailchimp:1","first_name":"Ada","last_name":"Lovelace","email":"ada@example.com"}]}`
	resp, err := http.Post(srv.URL+"/api/v1/matches/import", "application/json", strings.NewReader(payload))
	if err != nil {
		t.Fatal(err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	data := decodeResponse(t, resp).Data.(map[string]any)
	if data["records_processed"] != float64(1) || data["matches_found"] != float64(1) {
		t.Fatalf("unexpected import summary: %v", data)
	}
	if len(store.replaced) != 1 {
		t.Fatalf("ReplaceMatches stored %d matches, want 1", len(store.replaced))
	}
	m := store.replaced[0]
	if m.CustomerID != "c1" || m.ExternalRef != "mailchimp:1" || m.AccountID != "acct-1" {
		t.Fatalf("unexpected match: %+v", m)
	}
	if m.Confidence != 1.0 {
		t.Fatalf("confidence = %v, want 1.0 for exact email", m.Confidence)
	}
}

func TestImportMatchesInvalidJSON(t *testing.T) {
	srv := newTestServer(t, seededStore(), &fakeManager{})

	resp, err := http.Post(srv.URL+"/api/v1/matches/import", "application/json", strings.NewReader("{not json"))
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", resp.StatusCode)
	}
}

func TestImportMatchesValidation(t *testing.T) {
	srv := newTestServer(t, seededStore(), &fakeManager{})

	// Record missing the required ref.
	payload := `{"records":[{"email":"ada@example.com"}]}`
	resp, err := http.Post(srv.URL+"/api/v1/matches/import", "application/json", strings.NewReader(payload))
	if err != nil {
		t.Fatal(err)
	}
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", resp.StatusCode)
	}
	body := decodeResponse(t, resp)
	if body.Error == nil || body.Error.Code != ErrCodeValidationFailed {
		t.Fatalf("unexpected error envelope: %+v", body)
	}
}

func TestNotFoundEnvelope(t *testing.T) {
	srv := newTestServer(t, seededStore(), &fakeManager{})

	resp, err := http.Get(srv.URL + "/api/v1/nope")
	if err != nil {
		t.Fatal(err)
	}
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", resp.StatusCode)
	}
	body := decodeResponse(t, resp)
	if body.Success || body.Error == nil {
		t.Fatalf("expected error envelope, got %+v", body)
	}
}

func TestRequestIDPropagated(t *testing.T) {
	srv := newTestServer(t, seededStore(), &fakeManager{})

	req, _ := http.NewRequest(http.MethodGet, srv.URL+"/health", nil)
	req.Header.Set("X-Request-ID", "trace-42")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	if got := resp.Header.Get("X-Request-ID"); got != "trace-42" {
		t.Fatalf("X-Request-ID = %q, want trace-42", got)
	}
	body := decodeResponse(t, resp)
	if body.Meta == nil || body.Meta.RequestID != "trace-42" {
		t.Fatalf("envelope request_id = %+v", body.Meta)
	}
}
