package tests

import (
	"context"
	"errors"
	"testing"
	"time"

	"sapsan-iro/core/store"
)

func TestTransitionGuardsAndVersioning(t *testing.T) {
	env := setupEnv(t)
	ctx := context.Background()

	incident := &store.Incident{ID: "inc-guard", Title: "t", Description: "d"}
	if err := env.incidents.CreateIncident(ctx, incident); err != nil {
		t.Fatalf("create: %v", err)
	}

	// Skipping stages is not a legal move.
	if _, err := env.incidents.TransitionIncident(ctx, incident.ID, store.StatusReceived, store.StatusExecuting); !errors.Is(err, store.ErrConflict) {
		t.Fatalf("illegal transition should conflict, got %v", err)
	}

	updated, err := env.incidents.TransitionIncident(ctx, incident.ID, store.StatusReceived, store.StatusClassifying, "starting classification")
	if err != nil {
		t.Fatalf("transition: %v", err)
	}
	if updated.Version != 2 {
		t.Fatalf("version %d, want 2", updated.Version)
	}
	if len(updated.Rationale) != 1 {
		t.Fatalf("rationale not appended: %v", updated.Rationale)
	}

	// A second writer holding the stale status loses.
	if _, err := env.incidents.TransitionIncident(ctx, incident.ID, store.StatusReceived, store.StatusClassifying); !errors.Is(err, store.ErrConflict) {
		t.Fatalf("stale writer should conflict, got %v", err)
	}
}

func TestSavePlanSupersedesActivePlan(t *testing.T) {
	env := setupEnv(t)
	ctx := context.Background()

	if err := env.incidents.CreateIncident(ctx, &store.Incident{ID: "inc-plans", Title: "t", Description: "d"}); err != nil {
		t.Fatalf("create incident: %v", err)
	}
	first := &store.DecisionPlan{ID: "plan-one", IncidentID: "inc-plans",
		Actions: []store.Action{{ID: "a1", Type: "notification"}}}
	if err := env.plans.SavePlan(ctx, first); err != nil {
		t.Fatalf("save first: %v", err)
	}
	second := &store.DecisionPlan{ID: "plan-two", IncidentID: "inc-plans",
		Actions: []store.Action{{ID: "b1", Type: "notification"}}}
	if err := env.plans.SavePlan(ctx, second); err != nil {
		t.Fatalf("save second: %v", err)
	}

	active, err := env.plans.ActivePlan(ctx, "inc-plans")
	if err != nil {
		t.Fatalf("active plan: %v", err)
	}
	if active.ID != "plan-two" {
		t.Fatalf("active plan %s, want plan-two", active.ID)
	}
	old, err := env.plans.GetPlan(ctx, "plan-one")
	if err != nil {
		t.Fatalf("get superseded: %v", err)
	}
	if old.Status != store.PlanStatusSuperseded {
		t.Fatalf("old plan status %s, want superseded", old.Status)
	}
	if len(active.Actions) != 1 || active.Actions[0].ID != "b1" {
		t.Fatalf("active plan actions wrong: %+v", active.Actions)
	}
}

func TestPlanStatusGuard(t *testing.T) {
	env := setupEnv(t)
	ctx := context.Background()

	if err := env.incidents.CreateIncident(ctx, &store.Incident{ID: "inc-guard2", Title: "t", Description: "d"}); err != nil {
		t.Fatalf("create incident: %v", err)
	}
	plan := &store.DecisionPlan{ID: "plan-guard", IncidentID: "inc-guard2"}
	if err := env.plans.SavePlan(ctx, plan); err != nil {
		t.Fatalf("save: %v", err)
	}
	if err := env.plans.UpdatePlanStatus(ctx, plan.ID, store.PlanStatusActive, store.PlanStatusCompleted); err != nil {
		t.Fatalf("complete: %v", err)
	}
	if err := env.plans.UpdatePlanStatus(ctx, plan.ID, store.PlanStatusActive, store.PlanStatusAborted); !errors.Is(err, store.ErrConflict) {
		t.Fatalf("double finish should conflict, got %v", err)
	}
}

func TestImpactSummaryAggregates(t *testing.T) {
	env := setupEnv(t)
	ctx := context.Background()

	for _, id := range []string{"inc-s1", "inc-s2"} {
		if err := env.incidents.CreateIncident(ctx, &store.Incident{ID: id, Title: "t", Description: "d"}); err != nil {
			t.Fatalf("create %s: %v", id, err)
		}
	}
	if err := env.impacts.RecordImpact(ctx, &store.ImpactRecord{
		IncidentID: "inc-s1", InvestmentCents: 500, ValueDeliveredCents: 25000, ROIPercent: 4900, Automated: true,
	}); err != nil {
		t.Fatalf("record 1: %v", err)
	}
	if err := env.impacts.RecordImpact(ctx, &store.ImpactRecord{
		IncidentID: "inc-s2", InvestmentCents: 300, ValueDeliveredCents: 0, ROIPercent: -100, Automated: false,
	}); err != nil {
		t.Fatalf("record 2: %v", err)
	}

	sum, err := env.impacts.Summary(ctx, time.Time{})
	if err != nil {
		t.Fatalf("summary: %v", err)
	}
	if sum.Incidents != 2 || sum.Automated != 1 {
		t.Fatalf("counts wrong: %+v", sum)
	}
	if sum.InvestmentCents != 800 || sum.ValueDeliveredCents != 25000 {
		t.Fatalf("totals wrong: %+v", sum)
	}
}
