// Keeper - Square POS Business Intelligence for Small Merchants
// Copyright 2026 raydawg88
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/raydawg88/keeper

package insights

import (
	"context"
	"testing"
	"time"

	"github.com/raydawg88/keeper/internal/config"
	"github.com/raydawg88/keeper/internal/database"
	"github.com/raydawg88/keeper/internal/models"
)

type fakeStore struct {
	stats  []database.CustomerStats
	tips   database.TipStats
	times  map[string][]time.Time
	stored []models.Insight
}

func (f *fakeStore) CustomerStats(context.Context, string) ([]database.CustomerStats, error) {
	return f.stats, nil
}

func (f *fakeStore) TipStats(context.Context, string) (database.TipStats, error) {
	return f.tips, nil
}

func (f *fakeStore) PaymentTimesByCustomer(context.Context, string) (map[string][]time.Time, error) {
	return f.times, nil
}

func (f *fakeStore) ReplaceInsights(_ context.Context, _ string, insights []models.Insight) error {
	f.stored = insights
	return nil
}

func insightsConfig() config.InsightsConfig {
	return config.InsightsConfig{
		ChurnDays:     45,
		MinConfidence: 0.75,
		MinValueCents: 10_000,
	}
}

func newTestGenerator(store *fakeStore, at time.Time) *Generator {
	g := New(store, insightsConfig())
	g.now = func() time.Time { return at }
	return g
}

func byType(insights []models.Insight, typ string) []models.Insight {
	var out []models.Insight
	for _, ins := range insights {
		if ins.Type == typ {
			out = append(out, ins)
		}
	}
	return out
}

func TestChurnRisk(t *testing.T) {
	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	store := &fakeStore{
		stats: []database.CustomerStats{
			// Quiet for 60 days and worth $240: flagged.
			{CustomerID: "c1", FirstName: "Ada", LastName: "Lovelace", Visits: 8, TotalSpentCents: 24_000, AvgSpentCents: 3_000, LastPaymentAt: now.AddDate(0, 0, -60)},
			// Quiet but low value: skipped.
			{CustomerID: "c2", Visits: 2, TotalSpentCents: 4_000, AvgSpentCents: 2_000, LastPaymentAt: now.AddDate(0, 0, -90)},
			// High value but recent: skipped.
			{CustomerID: "c3", Visits: 5, TotalSpentCents: 50_000, AvgSpentCents: 10_000, LastPaymentAt: now.AddDate(0, 0, -3)},
		},
	}
	g := newTestGenerator(store, now)

	if err := g.Generate(context.Background(), "acct"); err != nil {
		t.Fatal(err)
	}

	churn := byType(store.stored, "churn_risk")
	if len(churn) != 1 {
		t.Fatalf("churn insights = %d, want 1", len(churn))
	}
	ins := churn[0]
	if ins.CustomerID != "c1" {
		t.Fatalf("flagged %s, want c1", ins.CustomerID)
	}
	if ins.Confidence != 0.85 {
		t.Errorf("confidence = %v, want 0.85", ins.Confidence)
	}
	// Projected loss: a year of the average ticket.
	if ins.ValueCents != 36_000 {
		t.Errorf("value = %d, want 36000", ins.ValueCents)
	}
	if len(ins.ActionItems) == 0 {
		t.Error("churn insight missing action items")
	}
}

func TestTipOpportunity(t *testing.T) {
	now := time.Now()
	store := &fakeStore{
		// 100 payments, 20 tipped: 20% tip rate on $5000 of sales with
		// $100 of tips.
		tips: database.TipStats{
			TotalPayments:    100,
			TippedPayments:   20,
			TotalAmountCents: 500_000,
			TotalTipCents:    10_000,
		},
	}
	g := newTestGenerator(store, now)

	if err := g.Generate(context.Background(), "acct"); err != nil {
		t.Fatal(err)
	}

	tips := byType(store.stored, "tip_opportunity")
	if len(tips) != 1 {
		t.Fatalf("tip insights = %d, want 1", len(tips))
	}
	// Opportunity: 18% of 500000 = 90000, minus 10000 current = 80000,
	// annualized.
	if tips[0].ValueCents != 80_000*12 {
		t.Errorf("value = %d, want %d", tips[0].ValueCents, 80_000*12)
	}
}

func TestTipOpportunitySkipsSmallSampleAndHealthyRate(t *testing.T) {
	now := time.Now()

	small := &fakeStore{tips: database.TipStats{TotalPayments: 5, TippedPayments: 0, TotalAmountCents: 100_000}}
	if err := newTestGenerator(small, now).Generate(context.Background(), "acct"); err != nil {
		t.Fatal(err)
	}
	if len(byType(small.stored, "tip_opportunity")) != 0 {
		t.Error("flagged tip opportunity on a 5-payment sample")
	}

	healthy := &fakeStore{tips: database.TipStats{TotalPayments: 100, TippedPayments: 70, TotalAmountCents: 500_000, TotalTipCents: 80_000}}
	if err := newTestGenerator(healthy, now).Generate(context.Background(), "acct"); err != nil {
		t.Fatal(err)
	}
	if len(byType(healthy.stored, "tip_opportunity")) != 0 {
		t.Error("flagged tip opportunity despite healthy tip rate")
	}
}

func TestFrequencyDecline(t *testing.T) {
	now := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	base := now.AddDate(0, 0, -100)
	store := &fakeStore{
		stats: []database.CustomerStats{
			{CustomerID: "c1", FirstName: "Grace", Visits: 3, TotalSpentCents: 30_000, AvgSpentCents: 10_000, LastPaymentAt: now.AddDate(0, 0, -10)},
			{CustomerID: "c2", Visits: 3, TotalSpentCents: 30_000, AvgSpentCents: 10_000, LastPaymentAt: now.AddDate(0, 0, -10)},
		},
		times: map[string][]time.Time{
			// Gaps: 10 days, then 40 days. Declining.
			"c1": {base, base.AddDate(0, 0, 10), base.AddDate(0, 0, 50)},
			// Gaps: 10 days, then 12 days. Steady.
			"c2": {base, base.AddDate(0, 0, 10), base.AddDate(0, 0, 22)},
		},
	}
	g := newTestGenerator(store, now)

	if err := g.Generate(context.Background(), "acct"); err != nil {
		t.Fatal(err)
	}

	decline := byType(store.stored, "frequency_decline")
	if len(decline) != 1 {
		t.Fatalf("decline insights = %d, want 1", len(decline))
	}
	if decline[0].CustomerID != "c1" {
		t.Fatalf("flagged %s, want c1", decline[0].CustomerID)
	}
	// Six months of the average ticket.
	if decline[0].ValueCents != 60_000 {
		t.Errorf("value = %d, want 60000", decline[0].ValueCents)
	}
}

func TestVIPCustomer(t *testing.T) {
	now := time.Now()
	store := &fakeStore{
		stats: []database.CustomerStats{
			{CustomerID: "vip", FirstName: "Ada", Visits: 15, TotalSpentCents: 90_000, AvgSpentCents: 6_000, LastPaymentAt: now.AddDate(0, 0, -2)},
			{CustomerID: "occasional", Visits: 3, TotalSpentCents: 9_000, AvgSpentCents: 3_000, LastPaymentAt: now.AddDate(0, 0, -2)},
		},
	}
	g := newTestGenerator(store, now)

	if err := g.Generate(context.Background(), "acct"); err != nil {
		t.Fatal(err)
	}

	vips := byType(store.stored, "vip_customer")
	if len(vips) != 1 || vips[0].CustomerID != "vip" {
		t.Fatalf("vip insights = %+v, want only vip", vips)
	}
}

func TestFiltersLowValueInsights(t *testing.T) {
	now := time.Now()
	store := &fakeStore{
		stats: []database.CustomerStats{
			// Churns, but annualized value ($6 * 12) is under the $100
			// floor: filtered.
			{CustomerID: "c1", Visits: 20, TotalSpentCents: 12_000, AvgSpentCents: 600, LastPaymentAt: now.AddDate(0, 0, -60)},
		},
	}
	g := newTestGenerator(store, now)

	if err := g.Generate(context.Background(), "acct"); err != nil {
		t.Fatal(err)
	}
	if len(store.stored) != 0 {
		t.Fatalf("low-value insight survived filter: %+v", store.stored)
	}
}

func TestIsObvious(t *testing.T) {
	if !isObvious("Weekends are busier than weekdays") {
		t.Error("banned phrase not caught")
	}
	if isObvious("Customer Ada hasn't visited in 60 days") {
		t.Error("specific insight flagged as obvious")
	}
}
