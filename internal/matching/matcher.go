// Keeper - Square POS Business Intelligence for Small Merchants
// Copyright 2026 raydawg88
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/raydawg88/keeper

// Package matching resolves externally imported customer records (mailing
// lists, loyalty exports) against customers synced from Square. Scores are
// deterministic identity signals: exact email is conclusive, a shared phone
// number is near-conclusive, and name similarity fills the fuzzy band.
package matching

import (
	"fmt"
	"sort"

	"github.com/raydawg88/keeper/internal/config"
	"github.com/raydawg88/keeper/internal/models"
)

// ExternalRecord is one imported customer record to resolve.
type ExternalRecord struct {
	// Ref identifies the record in its source system, e.g. "mailchimp:123".
	Ref       string `json:"ref" validate:"required"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Email     string `json:"email"`
	Phone     string `json:"phone"`
}

// Confidence anchors for each signal class.
const (
	scoreExactEmail = 1.0
	scoreExactPhone = 0.9
	scoreEmailLocal = 0.8
	// Name-only matches land in [nameFuzzyFloor, nameFuzzyCeil] scaled by
	// how similar the names actually are.
	nameFuzzyFloor = 0.6
	nameFuzzyCeil  = 0.8
)

// Matcher scores external records against synced customers.
type Matcher struct {
	cfg config.MatchingConfig
}

// New creates a Matcher with the given thresholds.
func New(cfg config.MatchingConfig) *Matcher {
	return &Matcher{cfg: cfg}
}

// FindMatches returns the best-scoring customers for record, at most
// MaxMatches, all at or above MinConfidence, strongest first.
func (m *Matcher) FindMatches(record ExternalRecord, customers []models.Customer) []models.CustomerMatch {
	var matches []models.CustomerMatch
	for i := range customers {
		score, reasons := m.score(record, &customers[i])
		if score < m.cfg.MinConfidence {
			continue
		}
		matches = append(matches, models.CustomerMatch{
			AccountID:       customers[i].AccountID,
			CustomerID:      customers[i].ID,
			ExternalRef:     record.Ref,
			Confidence:      score,
			ConfidenceLevel: m.level(score),
			Reasons:         reasons,
		})
	}

	sort.SliceStable(matches, func(i, j int) bool {
		return matches[i].Confidence > matches[j].Confidence
	})
	if len(matches) > m.cfg.MaxMatches {
		matches = matches[:m.cfg.MaxMatches]
	}
	return matches
}

// MatchAll resolves every record and returns the combined match list.
func (m *Matcher) MatchAll(records []ExternalRecord, customers []models.Customer) []models.CustomerMatch {
	var all []models.CustomerMatch
	for _, r := range records {
		all = append(all, m.FindMatches(r, customers)...)
	}
	return all
}

// score computes the confidence that record and customer are the same
// person, plus human-readable reasons. The strongest single signal wins;
// weaker corroborating signals only add reasons, not score.
func (m *Matcher) score(record ExternalRecord, customer *models.Customer) (float64, []string) {
	var score float64
	var reasons []string

	recEmail := normalizeEmail(record.Email)
	custEmail := normalizeEmail(customer.Email)
	recPhone := normalizePhone(record.Phone)
	custPhone := normalizePhone(customer.Phone)

	if recEmail != "" && recEmail == custEmail {
		score = scoreExactEmail
		reasons = append(reasons, "Exact email match")
	} else if recEmail != "" && custEmail != "" && emailLocal(recEmail) == emailLocal(custEmail) {
		score = maxf(score, scoreEmailLocal)
		reasons = append(reasons, "Email username match")
	}

	if recPhone != "" && recPhone == custPhone {
		score = maxf(score, scoreExactPhone)
		reasons = append(reasons, "Phone number match")
	}

	firstSim := nameSimilarity(normalizeName(record.FirstName), normalizeName(customer.FirstName))
	lastSim := nameSimilarity(normalizeName(record.LastName), normalizeName(customer.LastName))
	if firstSim == 1 {
		reasons = append(reasons, "Exact first name match")
	}
	if lastSim == 1 {
		reasons = append(reasons, "Exact last name match")
	}

	// Name-only fuzzy band: both components must be reasonably close.
	if firstSim > 0 && lastSim > 0 {
		nameScore := (firstSim + lastSim) / 2
		if nameScore >= 0.75 {
			fuzzy := nameFuzzyFloor + (nameFuzzyCeil-nameFuzzyFloor)*nameScore
			if fuzzy > score {
				score = fuzzy
				reasons = append(reasons, fmt.Sprintf("Name similarity (%.0f%%)", nameScore*100))
			}
		}
	}

	return score, reasons
}

// level buckets a confidence score against the configured thresholds.
func (m *Matcher) level(score float64) string {
	switch {
	case score >= m.cfg.HighConfidence:
		return "high"
	case score >= m.cfg.MediumConfidence:
		return "medium"
	default:
		return "low"
	}
}

func maxf(a, b float64) float64 {
	if a > b {
		return a
	}
	return b
}
