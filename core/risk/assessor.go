package risk

import (
	"context"
	"fmt"
	"strings"

	"sapsan-iro/config"
	"sapsan-iro/core/classify"
	"sapsan-iro/core/store"
	"sapsan-iro/core/utils"
)

// Risk dimension names. Weight maps in config are keyed by these.
const (
	DimGuestSafety           = "guest_safety"
	DimFinancialImpact       = "financial_impact"
	DimComplianceRisk        = "compliance_risk"
	DimOperationalDisruption = "operational_disruption"
)

// DimensionScorer scores one risk dimension in [0,1]. Scorers must be pure
// functions of the incident and classification: no clock, no randomness, so
// the same inputs always produce the same assessment.
type DimensionScorer interface {
	Name() string
	Score(incident *store.Incident, classification *store.Classification) float64
}

type Assessor struct {
	scorers     []DimensionScorer
	assessments store.AssessmentsStore
	cfg         config.RiskConfig
	logger      *utils.Logger
}

func NewAssessor(assessments store.AssessmentsStore, cfg config.RiskConfig, logger *utils.Logger) *Assessor {
	return &Assessor{
		scorers: []DimensionScorer{
			guestSafetyScorer{},
			financialImpactScorer{},
			complianceRiskScorer{},
			operationalDisruptionScorer{},
		},
		assessments: assessments,
		cfg:         cfg,
		logger:      logger,
	}
}

// Assess scores every dimension, combines them with the category's configured
// weights and persists the snapshot. Unknown categories fall back to the
// general weight profile.
func (a *Assessor) Assess(ctx context.Context, incident *store.Incident, classification *store.Classification) (*store.RiskAssessment, error) {
	weights, ok := a.cfg.Weights[classification.Category]
	if !ok {
		weights = a.cfg.Weights[classify.CategoryGeneral]
	}
	if len(weights) == 0 {
		return nil, fmt.Errorf("no risk weights for category %s", classification.Category)
	}

	dimensions := make(map[string]float64, len(a.scorers))
	composite := 0.0
	for _, scorer := range a.scorers {
		score := clamp01(scorer.Score(incident, classification))
		dimensions[scorer.Name()] = score
		composite += score * weights[scorer.Name()]
	}
	composite = clamp01(composite)

	assessment := &store.RiskAssessment{
		IncidentID:           incident.ID,
		Dimensions:           dimensions,
		CompositeScore:       composite,
		EstimatedImpactCents: a.estimateImpact(incident, classification, composite),
	}
	if err := a.assessments.SaveRiskAssessment(ctx, assessment); err != nil {
		return nil, fmt.Errorf("save risk assessment: %w", err)
	}
	a.logger.Infof("risk: incident %s category %s composite %.2f impact %d",
		incident.ID, classification.Category, composite, assessment.EstimatedImpactCents)
	return assessment, nil
}

// estimateImpact scales the category's baseline exposure by the incident's
// priority and the composite severity.
func (a *Assessor) estimateImpact(incident *store.Incident, classification *store.Classification, composite float64) int64 {
	base, ok := a.cfg.BaseImpactCents[classification.Category]
	if !ok {
		base = a.cfg.BaseImpactCents[classify.CategoryGeneral]
	}
	multiplier := 0.5 + composite // [0.5, 1.5]
	switch strings.ToLower(incident.Priority) {
	case "critical":
		multiplier *= 2.0
	case "high":
		multiplier *= 1.5
	case "low":
		multiplier *= 0.5
	}
	return int64(float64(base) * multiplier)
}

type guestSafetyScorer struct{}

func (guestSafetyScorer) Name() string { return DimGuestSafety }

func (guestSafetyScorer) Score(incident *store.Incident, classification *store.Classification) float64 {
	score := 0.1
	switch classification.Category {
	case classify.CategoryUnauthorizedAccess:
		score = 0.6
	case classify.CategoryFacilityFault:
		score = 0.5
	}
	text := loweredText(incident)
	for _, kw := range []string{"guest", "room", "occupied", "injur", "evacuat"} {
		if strings.Contains(text, kw) {
			score += 0.15
		}
	}
	if incident.Priority == "critical" {
		score += 0.2
	}
	return score
}

type financialImpactScorer struct{}

func (financialImpactScorer) Name() string { return DimFinancialImpact }

func (financialImpactScorer) Score(incident *store.Incident, classification *store.Classification) float64 {
	score := 0.1
	switch classification.Category {
	case classify.CategoryPaymentAnomaly:
		score = 0.7
	case classify.CategoryDataExposure:
		score = 0.5
	case classify.CategoryUnauthorizedAccess:
		score = 0.3
	}
	text := loweredText(incident)
	for _, kw := range []string{"payment", "card", "refund", "revenue", "fraud"} {
		if strings.Contains(text, kw) {
			score += 0.1
		}
	}
	return score
}

type complianceRiskScorer struct{}

func (complianceRiskScorer) Name() string { return DimComplianceRisk }

func (complianceRiskScorer) Score(incident *store.Incident, classification *store.Classification) float64 {
	score := 0.05
	switch classification.Category {
	case classify.CategoryDataExposure:
		score = 0.8
	case classify.CategoryPaymentAnomaly:
		score = 0.5
	case classify.CategoryUnauthorizedAccess:
		score = 0.3
	}
	text := loweredText(incident)
	for _, kw := range []string{"pii", "gdpr", "personal data", "credential", "passport"} {
		if strings.Contains(text, kw) {
			score += 0.15
		}
	}
	return score
}

type operationalDisruptionScorer struct{}

func (operationalDisruptionScorer) Name() string { return DimOperationalDisruption }

func (operationalDisruptionScorer) Score(incident *store.Incident, classification *store.Classification) float64 {
	score := 0.1
	if classification.Category == classify.CategoryFacilityFault {
		score = 0.6
	}
	// Every affected system widens the blast radius.
	score += 0.1 * float64(len(incident.AffectedSystems))
	text := loweredText(incident)
	for _, kw := range []string{"outage", "down", "unavailable", "offline"} {
		if strings.Contains(text, kw) {
			score += 0.1
		}
	}
	return score
}

func loweredText(incident *store.Incident) string {
	return strings.ToLower(incident.Title + " " + incident.Description)
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
