package decision

import (
	"context"
	"fmt"

	"github.com/gofrs/uuid/v5"

	"sapsan-iro/config"
	"sapsan-iro/core/policy"
	"sapsan-iro/core/store"
	"sapsan-iro/core/utils"
)

type Engine struct {
	registry  *TemplateRegistry
	validator *policy.Validator
	plans     store.PlansStore
	cfg       config.DecisionConfig
	logger    *utils.Logger
}

func NewEngine(registry *TemplateRegistry, validator *policy.Validator, plans store.PlansStore, cfg config.DecisionConfig, logger *utils.Logger) *Engine {
	return &Engine{registry: registry, validator: validator, plans: plans, cfg: cfg, logger: logger}
}

// Decide builds a candidate plan from the template registry, runs policy
// validation over it and applies the autonomy gates. The persisted plan
// supersedes any previous active plan for the incident. The rationale records
// the outcome of every gate, pass or fail.
func (e *Engine) Decide(ctx context.Context, incident *store.Incident, classification *store.Classification, risk *store.RiskAssessment) (*store.DecisionPlan, policy.ValidationResult, error) {
	planID, err := uuid.NewV4()
	if err != nil {
		return nil, policy.ValidationResult{}, fmt.Errorf("plan id: %w", err)
	}
	plan := &store.DecisionPlan{
		ID:         planID.String(),
		IncidentID: incident.ID,
		Confidence: classification.Confidence,
	}

	tpl := e.registry.Select(incident, classification)
	if tpl != nil {
		plan.Actions = tpl.Build(incident)
		plan.Rationale = append(plan.Rationale,
			fmt.Sprintf("template %s selected for category %s (%d actions)", tpl.Name, classification.Category, len(plan.Actions)))
	} else {
		plan.RequiresApproval = true
		plan.Rationale = append(plan.Rationale,
			fmt.Sprintf("no response template for category %s; human review required", classification.Category))
	}

	validation := e.validator.Validate(plan, incident, classification, risk)
	for _, v := range validation.Violations {
		plan.Rationale = append(plan.Rationale,
			fmt.Sprintf("policy %s (%s): %s", v.RuleID, v.Kind, v.Message))
	}

	plan.Autonomous = e.gate(plan, classification, risk, validation)
	if !plan.Autonomous {
		plan.RequiresApproval = true
	}

	if err := e.plans.SavePlan(ctx, plan); err != nil {
		return nil, validation, fmt.Errorf("save plan: %w", err)
	}
	e.logger.Infof("decision: incident %s plan %s autonomous=%v approval=%v actions=%d",
		incident.ID, plan.ID, plan.Autonomous, plan.RequiresApproval, len(plan.Actions))
	return plan, validation, nil
}

// gate evaluates the autonomy conditions. A blocking violation vetoes
// autonomy no matter what the scores say.
func (e *Engine) gate(plan *store.DecisionPlan, classification *store.Classification, risk *store.RiskAssessment, validation policy.ValidationResult) bool {
	if len(plan.Actions) == 0 {
		return false
	}
	if validation.HasBlocking() {
		plan.Rationale = append(plan.Rationale, "autonomy denied: blocking policy violation")
		return false
	}
	if validation.RequiresLegalReview {
		plan.Rationale = append(plan.Rationale, "autonomy denied: legal review required")
		return false
	}
	if classification.Confidence < e.cfg.AutonomyConfidenceFloor {
		plan.Rationale = append(plan.Rationale,
			fmt.Sprintf("autonomy denied: confidence %.2f below floor %.2f", classification.Confidence, e.cfg.AutonomyConfidenceFloor))
		return false
	}
	if risk.CompositeScore > e.cfg.AutonomyRiskCeiling {
		plan.Rationale = append(plan.Rationale,
			fmt.Sprintf("autonomy denied: composite risk %.2f above ceiling %.2f", risk.CompositeScore, e.cfg.AutonomyRiskCeiling))
		return false
	}
	if risk.EstimatedImpactCents > e.cfg.AutonomyImpactCeilingCents {
		plan.Rationale = append(plan.Rationale,
			fmt.Sprintf("autonomy denied: estimated impact %d above ceiling %d", risk.EstimatedImpactCents, e.cfg.AutonomyImpactCeilingCents))
		return false
	}
	plan.Rationale = append(plan.Rationale,
		fmt.Sprintf("autonomy granted: confidence %.2f, risk %.2f, impact %d within limits",
			classification.Confidence, risk.CompositeScore, risk.EstimatedImpactCents))
	return true
}
