// Keeper - Square POS Business Intelligence for Small Merchants
// Copyright 2026 raydawg88
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/raydawg88/keeper

// Package insights derives scored, dollar-valued business insights from the
// synced payment history. Every insight must clear a confidence floor and
// a minimum actionable dollar value, and generic observations a merchant
// already knows are filtered out.
package insights

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/raydawg88/keeper/internal/config"
	"github.com/raydawg88/keeper/internal/database"
	"github.com/raydawg88/keeper/internal/logging"
	"github.com/raydawg88/keeper/internal/models"
)

// Heuristic constants, calibrated against observed merchant data.
const (
	churnMinTotalCents   = 10_000 // only flag churn for $100+ customers
	declineMinTotalCents = 5_000  // only flag frequency decline for $50+ customers
	declineMinVisits     = 3
	declineRatio         = 1.5 // last interval 50% longer than the first
	lowTipRate           = 0.5
	industryTipRate      = 0.18
	minTipSample         = 10
	vipMinVisits         = 10
	vipMinTotalCents     = 50_000

	confidenceChurn   = 0.85
	confidenceTips    = 0.88
	confidenceDecline = 0.78
	confidenceVIP     = 0.82
)

// Store is the persistence surface the generator reads from and writes to.
type Store interface {
	CustomerStats(ctx context.Context, accountID string) ([]database.CustomerStats, error)
	TipStats(ctx context.Context, accountID string) (database.TipStats, error)
	PaymentTimesByCustomer(ctx context.Context, accountID string) (map[string][]time.Time, error)
	ReplaceInsights(ctx context.Context, accountID string, insights []models.Insight) error
}

// Generator produces the insight set for an account.
type Generator struct {
	store Store
	cfg   config.InsightsConfig

	// now is swappable for tests.
	now func() time.Time
}

// New creates a Generator.
func New(store Store, cfg config.InsightsConfig) *Generator {
	return &Generator{store: store, cfg: cfg, now: time.Now}
}

// Generate rebuilds the account's insights from current data. Insights are
// derived, so each run replaces the previous set.
func (g *Generator) Generate(ctx context.Context, accountID string) error {
	stats, err := g.store.CustomerStats(ctx, accountID)
	if err != nil {
		return fmt.Errorf("load customer stats: %w", err)
	}
	tips, err := g.store.TipStats(ctx, accountID)
	if err != nil {
		return fmt.Errorf("load tip stats: %w", err)
	}
	times, err := g.store.PaymentTimesByCustomer(ctx, accountID)
	if err != nil {
		return fmt.Errorf("load payment times: %w", err)
	}

	var all []models.Insight
	all = append(all, g.churnRisks(accountID, stats)...)
	all = append(all, g.tipOpportunity(accountID, tips)...)
	all = append(all, g.frequencyDeclines(accountID, stats, times)...)
	all = append(all, g.vipCustomers(accountID, stats)...)

	kept := all[:0]
	for _, ins := range all {
		if ins.Confidence < g.cfg.MinConfidence {
			continue
		}
		if ins.ValueCents < g.cfg.MinValueCents {
			continue
		}
		if isObvious(ins.Summary) {
			continue
		}
		kept = append(kept, ins)
	}

	if err := g.store.ReplaceInsights(ctx, accountID, kept); err != nil {
		return fmt.Errorf("store insights: %w", err)
	}
	logging.Info().Int("generated", len(all)).Int("kept", len(kept)).Msg("Insights regenerated")
	return nil
}

// churnRisks flags high-value customers who have gone quiet. The projected
// loss is a year of their average ticket.
func (g *Generator) churnRisks(accountID string, stats []database.CustomerStats) []models.Insight {
	now := g.now()
	var out []models.Insight
	for _, s := range stats {
		daysSince := int(now.Sub(s.LastPaymentAt).Hours() / 24)
		if daysSince <= g.cfg.ChurnDays || s.TotalSpentCents <= churnMinTotalCents {
			continue
		}
		out = append(out, models.Insight{
			AccountID:  accountID,
			CustomerID: s.CustomerID,
			Type:       "churn_risk",
			Summary: fmt.Sprintf("High-value customer %s hasn't visited in %d days",
				displayName(s), daysSince),
			Confidence: confidenceChurn,
			ValueCents: s.AvgSpentCents * 12,
			ActionItems: []string{
				"Send a personalized win-back message",
				fmt.Sprintf("Offer 15%% off their usual purchase (avg $%.2f)", float64(s.AvgSpentCents)/100),
				"Flag for follow-up if no visit within two weeks",
			},
			GeneratedAt: now,
		})
	}
	return out
}

// tipOpportunity flags an account-wide low tip rate against the 18%
// industry standard. Needs a meaningful sample to say anything.
func (g *Generator) tipOpportunity(accountID string, tips database.TipStats) []models.Insight {
	if tips.TotalPayments <= minTipSample {
		return nil
	}
	tipRate := float64(tips.TippedPayments) / float64(tips.TotalPayments)
	if tipRate >= lowTipRate {
		return nil
	}

	potentialCents := int64(industryTipRate * float64(tips.TotalAmountCents))
	opportunityCents := potentialCents - tips.TotalTipCents
	if opportunityCents <= 0 {
		return nil
	}

	return []models.Insight{{
		AccountID: accountID,
		Type:      "tip_opportunity",
		Summary: fmt.Sprintf("Only %.0f%% of payments include a tip; industry standard is %.0f%% of sales",
			tipRate*100, industryTipRate*100),
		Confidence: confidenceTips,
		ValueCents: opportunityCents * 12,
		ActionItems: []string{
			"Enable suggested tip amounts on the payment screen",
			"Train staff on tip prompt timing",
			fmt.Sprintf("Target: raise tip rate from %.0f%% toward industry norms", tipRate*100),
		},
		GeneratedAt: g.now(),
	}}
}

// frequencyDeclines flags customers whose gap between visits is stretching
// out. Needs at least three visits so two intervals can be compared.
func (g *Generator) frequencyDeclines(accountID string, stats []database.CustomerStats, times map[string][]time.Time) []models.Insight {
	byID := make(map[string]database.CustomerStats, len(stats))
	for _, s := range stats {
		byID[s.CustomerID] = s
	}

	var out []models.Insight
	for customerID, visits := range times {
		if len(visits) < declineMinVisits {
			continue
		}
		s, ok := byID[customerID]
		if !ok || s.TotalSpentCents <= declineMinTotalCents {
			continue
		}

		first := visits[1].Sub(visits[0])
		last := visits[len(visits)-1].Sub(visits[len(visits)-2])
		if float64(last) <= float64(first)*declineRatio {
			continue
		}

		out = append(out, models.Insight{
			AccountID:  accountID,
			CustomerID: customerID,
			Type:       "frequency_decline",
			Summary: fmt.Sprintf("Customer %s is visiting less often; the gap between visits grew from %d to %d days",
				displayName(s), int(first.Hours()/24), int(last.Hours()/24)),
			Confidence: confidenceDecline,
			// Six months of their average ticket is at stake.
			ValueCents: (s.TotalSpentCents / int64(s.Visits)) * 6,
			ActionItems: []string{
				"Send a personalized re-engagement campaign",
				"Offer a loyalty program or package deal",
				"Create a targeted retention offer",
			},
			GeneratedAt: g.now(),
		})
	}
	return out
}

// vipCustomers flags the regulars worth protecting.
func (g *Generator) vipCustomers(accountID string, stats []database.CustomerStats) []models.Insight {
	var out []models.Insight
	for _, s := range stats {
		if s.Visits < vipMinVisits || s.TotalSpentCents < vipMinTotalCents {
			continue
		}
		out = append(out, models.Insight{
			AccountID:  accountID,
			CustomerID: s.CustomerID,
			Type:       "vip_customer",
			Summary: fmt.Sprintf("Customer %s is a VIP: %d visits totaling $%.2f",
				displayName(s), s.Visits, float64(s.TotalSpentCents)/100),
			Confidence: confidenceVIP,
			ValueCents: s.AvgSpentCents * 12,
			ActionItems: []string{
				"Add to the VIP list for early access and perks",
				"Thank them personally on their next visit",
			},
			GeneratedAt: g.now(),
		})
	}
	return out
}

func displayName(s database.CustomerStats) string {
	name := strings.TrimSpace(s.FirstName + " " + s.LastName)
	if name == "" {
		if s.Email != "" {
			return s.Email
		}
		return "(unnamed)"
	}
	return name
}

// bannedPhrases are observations a merchant already knows; insights whose
// summary leans on them carry no information.
var bannedPhrases = []string{
	"weekends are busier",
	"more customers",
	"less customers",
	"higher sales",
	"lower sales",
	"busy periods",
	"slow periods",
}

func isObvious(summary string) bool {
	lower := strings.ToLower(summary)
	for _, phrase := range bannedPhrases {
		if strings.Contains(lower, phrase) {
			return true
		}
	}
	return false
}
