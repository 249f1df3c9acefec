package risk

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sapsan-iro/config"
	"sapsan-iro/core/classify"
	"sapsan-iro/core/store"
	"sapsan-iro/core/utils"
)

type memAssessments struct {
	saved []*store.RiskAssessment
}

func (m *memAssessments) SaveClassification(context.Context, *store.Classification) error { return nil }
func (m *memAssessments) LatestClassification(context.Context, string) (*store.Classification, error) {
	return nil, store.ErrNotFound
}

func (m *memAssessments) SaveRiskAssessment(_ context.Context, r *store.RiskAssessment) error {
	r.ID = int64(len(m.saved) + 1)
	m.saved = append(m.saved, r)
	return nil
}

func (m *memAssessments) LatestRiskAssessment(context.Context, string) (*store.RiskAssessment, error) {
	if len(m.saved) == 0 {
		return nil, store.ErrNotFound
	}
	return m.saved[len(m.saved)-1], nil
}

func testRiskConfig() config.RiskConfig {
	flat := map[string]float64{
		DimGuestSafety:           0.4,
		DimFinancialImpact:       0.2,
		DimComplianceRisk:        0.2,
		DimOperationalDisruption: 0.2,
	}
	return config.RiskConfig{
		Weights: map[string]map[string]float64{
			classify.CategoryUnauthorizedAccess: flat,
			classify.CategoryGeneral: {
				DimGuestSafety:           0.25,
				DimFinancialImpact:       0.25,
				DimComplianceRisk:        0.25,
				DimOperationalDisruption: 0.25,
			},
		},
		BaseImpactCents: map[string]int64{
			classify.CategoryUnauthorizedAccess: 50000,
			classify.CategoryGeneral:            10000,
		},
	}
}

func newTestAssessor() (*Assessor, *memAssessments) {
	assessments := &memAssessments{}
	return NewAssessor(assessments, testRiskConfig(), utils.NewNopLogger()), assessments
}

func intrusionIncident(priority string) *store.Incident {
	return &store.Incident{
		ID:          "inc-1",
		Title:       "Badge intrusion alert",
		Description: "unauthorized entry attempt",
		Priority:    priority,
	}
}

func TestAssessWeightedComposite(t *testing.T) {
	assessor, assessments := newTestAssessor()
	classification := &store.Classification{IncidentID: "inc-1", Category: classify.CategoryUnauthorizedAccess}

	result, err := assessor.Assess(context.Background(), intrusionIncident("normal"), classification)
	require.NoError(t, err)

	// guest_safety 0.6, financial 0.3, compliance 0.3, operational 0.1
	assert.InDelta(t, 0.6, result.Dimensions[DimGuestSafety], 1e-9)
	assert.InDelta(t, 0.3, result.Dimensions[DimFinancialImpact], 1e-9)
	assert.InDelta(t, 0.3, result.Dimensions[DimComplianceRisk], 1e-9)
	assert.InDelta(t, 0.1, result.Dimensions[DimOperationalDisruption], 1e-9)
	assert.InDelta(t, 0.38, result.CompositeScore, 1e-9)

	// 50000 * (0.5 + 0.38), normal priority leaves the multiplier alone.
	assert.Equal(t, int64(44000), result.EstimatedImpactCents)
	require.Len(t, assessments.saved, 1)
}

func TestAssessDeterministic(t *testing.T) {
	assessor, _ := newTestAssessor()
	classification := &store.Classification{IncidentID: "inc-1", Category: classify.CategoryUnauthorizedAccess}

	first, err := assessor.Assess(context.Background(), intrusionIncident("normal"), classification)
	require.NoError(t, err)
	second, err := assessor.Assess(context.Background(), intrusionIncident("normal"), classification)
	require.NoError(t, err)

	assert.Equal(t, first.CompositeScore, second.CompositeScore)
	assert.Equal(t, first.Dimensions, second.Dimensions)
	assert.Equal(t, first.EstimatedImpactCents, second.EstimatedImpactCents)
}

func TestAssessPriorityScalesImpact(t *testing.T) {
	assessor, _ := newTestAssessor()
	classification := &store.Classification{IncidentID: "inc-1", Category: classify.CategoryUnauthorizedAccess}

	critical, err := assessor.Assess(context.Background(), intrusionIncident("critical"), classification)
	require.NoError(t, err)
	// Critical bumps guest safety to 0.8: composite 0.46, impact doubled.
	assert.InDelta(t, 0.46, critical.CompositeScore, 1e-9)
	assert.Equal(t, int64(96000), critical.EstimatedImpactCents)

	low, err := assessor.Assess(context.Background(), intrusionIncident("low"), classification)
	require.NoError(t, err)
	assert.Equal(t, int64(22000), low.EstimatedImpactCents)
}

func TestAssessUnknownCategoryFallsBackToGeneralProfile(t *testing.T) {
	assessor, _ := newTestAssessor()
	classification := &store.Classification{IncidentID: "inc-1", Category: classify.CategoryPaymentAnomaly}

	result, err := assessor.Assess(context.Background(), intrusionIncident("normal"), classification)
	require.NoError(t, err)
	// payment_anomaly has no weight profile in the test config; the general
	// quarter-weights apply. Scores: 0.1, 0.7, 0.5, 0.1.
	assert.InDelta(t, 0.35, result.CompositeScore, 1e-9)
	assert.Equal(t, int64(8500), result.EstimatedImpactCents)
}

func TestAssessCompositeClamped(t *testing.T) {
	assessor, _ := newTestAssessor()
	classification := &store.Classification{IncidentID: "inc-1", Category: classify.CategoryUnauthorizedAccess}

	incident := &store.Incident{
		ID:              "inc-1",
		Title:           "Guest room intrusion with injured occupant, evacuation ordered",
		Description:     "unauthorized access, guest injured, payment kiosk offline",
		Priority:        "critical",
		AffectedSystems: []string{"doors", "cameras", "pms", "kiosk", "network", "wifi"},
	}
	result, err := assessor.Assess(context.Background(), incident, classification)
	require.NoError(t, err)
	assert.LessOrEqual(t, result.CompositeScore, 1.0)
	for name, score := range result.Dimensions {
		assert.GreaterOrEqualf(t, score, 0.0, "dimension %s", name)
		assert.LessOrEqualf(t, score, 1.0, "dimension %s", name)
	}
}

func TestAssessNoWeightsAtAllErrors(t *testing.T) {
	assessor := NewAssessor(&memAssessments{}, config.RiskConfig{}, utils.NewNopLogger())
	classification := &store.Classification{IncidentID: "inc-1", Category: classify.CategoryGeneral}

	_, err := assessor.Assess(context.Background(), intrusionIncident("normal"), classification)
	require.Error(t, err)
}
