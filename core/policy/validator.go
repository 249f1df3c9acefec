package policy

import (
	"sapsan-iro/core/store"
	"sapsan-iro/core/utils"
)

type ValidationResult struct {
	Approved            bool        `json:"approved"`
	Violations          []Violation `json:"violations,omitempty"`
	RequiresLegalReview bool        `json:"requires_legal_review"`
}

func (r ValidationResult) HasBlocking() bool {
	for _, v := range r.Violations {
		if v.Blocking {
			return true
		}
	}
	return false
}

type Validator struct {
	rules  []Rule
	logger *utils.Logger
}

func NewValidator(rules []Rule, logger *utils.Logger) *Validator {
	if len(rules) == 0 {
		rules = DefaultRules()
	}
	return &Validator{rules: rules, logger: logger}
}

// Validate runs every rule in order and collects all violations; it never
// stops at the first one, so the caller sees the complete objection list.
func (v *Validator) Validate(plan *store.DecisionPlan, incident *store.Incident, classification *store.Classification, risk *store.RiskAssessment) ValidationResult {
	var result ValidationResult
	for _, rule := range v.rules {
		violation := rule.Evaluate(plan, incident, classification, risk)
		if violation == nil {
			continue
		}
		violation.RuleID = rule.ID()
		violation.Kind = rule.Kind()
		result.Violations = append(result.Violations, *violation)
		if violation.RequiresLegalReview {
			result.RequiresLegalReview = true
		}
		v.logger.Warnf("policy: incident %s rule %s: %s (blocking=%v)",
			incident.ID, rule.ID(), violation.Message, violation.Blocking)
	}
	result.Approved = !result.HasBlocking()
	return result
}
