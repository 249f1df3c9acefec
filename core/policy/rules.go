package policy

import (
	"strings"

	"sapsan-iro/core/classify"
	"sapsan-iro/core/store"
)

type Kind string

const (
	KindRegulatory  Kind = "regulatory"
	KindOperational Kind = "operational"
)

// Violation is one rule's objection to a plan. Blocking violations make
// autonomy impossible; RequiresLegalReview routes the plan to a human with
// legal sign-off regardless of other gates.
type Violation struct {
	RuleID              string `json:"rule_id"`
	Kind                Kind   `json:"kind"`
	Message             string `json:"message"`
	Blocking            bool   `json:"blocking"`
	RequiresLegalReview bool   `json:"requires_legal_review"`
}

// Rule inspects a proposed plan against one policy. Returning nil means the
// rule has no objection.
type Rule interface {
	ID() string
	Kind() Kind
	Evaluate(plan *store.DecisionPlan, incident *store.Incident, classification *store.Classification, risk *store.RiskAssessment) *Violation
}

// RegulatoryRule and OperationalRule are the two rule variants; they differ
// only in kind so reporting can group them.
type RegulatoryRule struct {
	RuleID string
	Check  func(plan *store.DecisionPlan, incident *store.Incident, classification *store.Classification, risk *store.RiskAssessment) *Violation
}

func (r RegulatoryRule) ID() string { return r.RuleID }
func (r RegulatoryRule) Kind() Kind { return KindRegulatory }
func (r RegulatoryRule) Evaluate(plan *store.DecisionPlan, incident *store.Incident, classification *store.Classification, risk *store.RiskAssessment) *Violation {
	return r.Check(plan, incident, classification, risk)
}

type OperationalRule struct {
	RuleID string
	Check  func(plan *store.DecisionPlan, incident *store.Incident, classification *store.Classification, risk *store.RiskAssessment) *Violation
}

func (r OperationalRule) ID() string { return r.RuleID }
func (r OperationalRule) Kind() Kind { return KindOperational }
func (r OperationalRule) Evaluate(plan *store.DecisionPlan, incident *store.Incident, classification *store.Classification, risk *store.RiskAssessment) *Violation {
	return r.Check(plan, incident, classification, risk)
}

// DefaultRules is the built-in ordered rule set.
func DefaultRules() []Rule {
	return []Rule{
		privacyNotificationRule(),
		financialCapRule(200000),
		accessRevocationOrderRule(),
		quietHoursRule(),
	}
}

// privacyNotificationRule: incidents touching guest data must include a
// notification action; the plan also needs legal review before execution.
func privacyNotificationRule() Rule {
	return RegulatoryRule{
		RuleID: "privacy-notification",
		Check: func(plan *store.DecisionPlan, incident *store.Incident, classification *store.Classification, risk *store.RiskAssessment) *Violation {
			if classification.Category != classify.CategoryDataExposure {
				return nil
			}
			for _, act := range plan.Actions {
				if act.Type == "notification" {
					return &Violation{
						Message:             "guest data exposure requires legal review before outbound handling",
						RequiresLegalReview: true,
					}
				}
			}
			return &Violation{
				Message:             "guest data exposure plan lacks a notification action",
				Blocking:            true,
				RequiresLegalReview: true,
			}
		},
	}
}

// financialCapRule: estimated exposure above the cap is blocking; an
// autonomous system must not take actions whose downside exceeds the cap.
func financialCapRule(capCents int64) Rule {
	return RegulatoryRule{
		RuleID: "financial-cap",
		Check: func(plan *store.DecisionPlan, incident *store.Incident, classification *store.Classification, risk *store.RiskAssessment) *Violation {
			if risk.EstimatedImpactCents <= capCents {
				return nil
			}
			return &Violation{
				Message:  "estimated financial impact exceeds the autonomous handling cap",
				Blocking: true,
			}
		},
	}
}

// accessRevocationOrderRule: on safety-relevant incidents any access_control
// action must not depend on a notification action; containment goes first.
func accessRevocationOrderRule() Rule {
	return OperationalRule{
		RuleID: "access-revocation-order",
		Check: func(plan *store.DecisionPlan, incident *store.Incident, classification *store.Classification, risk *store.RiskAssessment) *Violation {
			if classification.Category != classify.CategoryUnauthorizedAccess {
				return nil
			}
			notifIDs := map[string]bool{}
			for _, act := range plan.Actions {
				if act.Type == "notification" {
					notifIDs[act.ID] = true
				}
			}
			for _, act := range plan.Actions {
				if act.Type != "access_control" {
					continue
				}
				for _, dep := range act.DependsOn {
					if notifIDs[dep] {
						return &Violation{
							Message: "access revocation must not wait on notification delivery",
						}
					}
				}
			}
			return nil
		},
	}
}

// quietHoursRule: workforce dispatch at night is flagged but not blocking;
// the decision gate treats it as advisory context.
func quietHoursRule() Rule {
	return OperationalRule{
		RuleID: "quiet-hours",
		Check: func(plan *store.DecisionPlan, incident *store.Incident, classification *store.Classification, risk *store.RiskAssessment) *Violation {
			hour := incident.ReportedAt.UTC().Hour()
			if hour >= 6 && hour < 22 {
				return nil
			}
			for _, act := range plan.Actions {
				if act.Type == "workforce_task" && !strings.EqualFold(incident.Priority, "critical") {
					return &Violation{
						Message: "non-critical workforce dispatch during quiet hours",
					}
				}
			}
			return nil
		},
	}
}
