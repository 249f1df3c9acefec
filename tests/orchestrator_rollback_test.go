package tests

import (
	"context"
	"errors"
	"testing"

	"sapsan-iro/core/adapters"
	"sapsan-iro/core/orchestrate"
	"sapsan-iro/core/store"
	"sapsan-iro/core/utils"
)

func seedIncidentWithPlan(t *testing.T, env *testEnv, incidentID string, actions []store.Action) *store.DecisionPlan {
	t.Helper()
	ctx := context.Background()
	incident := &store.Incident{
		ID:          incidentID,
		Title:       "seeded incident",
		Description: "direct orchestrator run",
		Status:      store.StatusExecuting,
	}
	if err := env.incidents.CreateIncident(ctx, incident); err != nil {
		t.Fatalf("create incident: %v", err)
	}
	plan := &store.DecisionPlan{
		ID:         incidentID + "-plan",
		IncidentID: incidentID,
		Actions:    actions,
	}
	if err := env.plans.SavePlan(ctx, plan); err != nil {
		t.Fatalf("save plan: %v", err)
	}
	return plan
}

func TestRollbackReversesCompletionOrderAgainstStore(t *testing.T) {
	env := setupEnv(t)
	ctx := context.Background()
	env.adapter.failTypes["detonate"] = true

	registry := adapters.NewRegistry()
	registry.Register("probe", env.adapter)
	registry.Register("detonate", env.adapter)
	orch := orchestrate.NewOrchestrator(registry, env.plans, 2, utils.NewNopLogger())

	plan := seedIncidentWithPlan(t, env, "inc-rollback", []store.Action{
		{ID: "step-1", Type: "probe"},
		{ID: "step-2", Type: "probe", DependsOn: []string{"step-1"}},
		{ID: "step-3", Type: "detonate", Critical: true, DependsOn: []string{"step-2"}},
	})

	result, err := orch.Execute(ctx, plan)
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if !result.CriticalFailure || !result.RolledBack {
		t.Fatalf("expected rolled back critical failure, got %+v", result)
	}
	if result.FailedActionID != "step-3" {
		t.Fatalf("failed action %s, want step-3", result.FailedActionID)
	}

	// Undo happens in reverse completion order: step-2 first, then step-1.
	tokens := env.adapter.rolledBackTokens()
	if len(tokens) != 2 || tokens[0] != "undo-step-2" || tokens[1] != "undo-step-1" {
		t.Fatalf("rollback order %v, want [undo-step-2 undo-step-1]", tokens)
	}

	rows, err := env.plans.ListResults(ctx, plan.ID)
	if err != nil {
		t.Fatalf("list results: %v", err)
	}
	if len(rows) != 3 {
		t.Fatalf("expected 3 persisted results, got %d", len(rows))
	}
	wantStatus := map[string]string{
		"step-1": store.ActionStatusRolledBack,
		"step-2": store.ActionStatusRolledBack,
		"step-3": store.ActionStatusFailed,
	}
	for i, row := range rows {
		if row.CompletionSeq != int64(i+1) {
			t.Fatalf("completion seq %d at position %d", row.CompletionSeq, i)
		}
		if wantStatus[row.ActionID] != row.Status {
			t.Fatalf("action %s status %s, want %s", row.ActionID, row.Status, wantStatus[row.ActionID])
		}
	}
}

func TestRollbackFailureSurfacesIncomplete(t *testing.T) {
	env := setupEnv(t)
	ctx := context.Background()
	env.adapter.failTypes["detonate"] = true
	env.adapter.failRollback = true

	registry := adapters.NewRegistry()
	registry.Register("probe", env.adapter)
	registry.Register("detonate", env.adapter)
	orch := orchestrate.NewOrchestrator(registry, env.plans, 2, utils.NewNopLogger())

	plan := seedIncidentWithPlan(t, env, "inc-rollback-stuck", []store.Action{
		{ID: "step-1", Type: "probe"},
		{ID: "step-2", Type: "detonate", Critical: true, DependsOn: []string{"step-1"}},
	})

	result, err := orch.Execute(ctx, plan)
	if !errors.Is(err, orchestrate.ErrRollbackIncomplete) {
		t.Fatalf("expected ErrRollbackIncomplete, got %v", err)
	}
	if result.RolledBack {
		t.Fatalf("incomplete rollback must not report success")
	}

	// The succeeded action keeps its status: nothing was actually undone.
	rows, err := env.plans.ListResults(ctx, plan.ID)
	if err != nil {
		t.Fatalf("list results: %v", err)
	}
	for _, row := range rows {
		if row.ActionID == "step-1" && row.Status != store.ActionStatusSucceeded {
			t.Fatalf("step-1 status %s, want succeeded", row.Status)
		}
	}
}
