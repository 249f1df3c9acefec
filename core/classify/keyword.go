package classify

import (
	"context"
	"sort"
	"strings"

	"sapsan-iro/core/store"
)

// keywordBackend scores categories by weighted keyword hits over the incident
// title, description and affected systems. Deterministic: same incident text
// always yields the same verdict.
type keywordBackend struct {
	table map[string]map[string]float64
}

func NewKeywordBackend() Backend {
	return &keywordBackend{table: map[string]map[string]float64{
		CategoryUnauthorizedAccess: {
			"unauthorized": 0.35, "intrusion": 0.35, "badge": 0.20, "tailgat": 0.25,
			"forced": 0.25, "break-in": 0.35, "access": 0.15, "door": 0.15, "lock": 0.15,
		},
		CategoryPaymentAnomaly: {
			"payment": 0.35, "charge": 0.25, "refund": 0.25, "card": 0.20,
			"fraud": 0.35, "transaction": 0.25, "billing": 0.25, "chargeback": 0.35,
		},
		CategoryDataExposure: {
			"data": 0.20, "leak": 0.35, "exposed": 0.30, "breach": 0.35,
			"pii": 0.35, "database": 0.20, "credential": 0.30, "dump": 0.25,
		},
		CategoryFacilityFault: {
			"hvac": 0.35, "power": 0.25, "outage": 0.30, "water": 0.25,
			"elevator": 0.30, "fire": 0.30, "alarm": 0.20, "sensor": 0.20, "leak": 0.15,
		},
	}}
}

func (b *keywordBackend) Name() string { return "keyword" }

func (b *keywordBackend) Categorize(_ context.Context, incident *store.Incident) (*Result, error) {
	text := strings.ToLower(incident.Title + " " + incident.Description + " " +
		strings.Join(incident.AffectedSystems, " "))

	scores := make(map[string]float64, len(b.table))
	for category, keywords := range b.table {
		var score float64
		for kw, weight := range keywords {
			if strings.Contains(text, kw) {
				score += weight
			}
		}
		if score > 1 {
			score = 1
		}
		scores[category] = score
	}

	ranked := make([]store.CategoryScore, 0, len(scores))
	for category, score := range scores {
		ranked = append(ranked, store.CategoryScore{Category: category, Confidence: score})
	}
	sort.Slice(ranked, func(i, j int) bool {
		if ranked[i].Confidence != ranked[j].Confidence {
			return ranked[i].Confidence > ranked[j].Confidence
		}
		return ranked[i].Category < ranked[j].Category
	})

	best := ranked[0]
	if best.Confidence == 0 {
		return &Result{Category: CategoryGeneral, Confidence: 0.30}, nil
	}
	return &Result{
		Category:     best.Category,
		Confidence:   best.Confidence,
		Alternatives: ranked[1:3],
	}, nil
}
