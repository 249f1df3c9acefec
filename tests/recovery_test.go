package tests

import (
	"context"
	"testing"
	"time"

	"sapsan-iro/core/store"
)

func TestRecoverReArmsMidPipelineIncident(t *testing.T) {
	env := setupEnv(t)
	ctx := context.Background()

	// The row exists but no workflow instance is running, as after a crash
	// between intake and classification.
	report := intrusionReport("rec:evt-1")
	incident := &store.Incident{
		ID:              "inc-recover",
		ExternalRef:     report.ExternalRef,
		Title:           report.Title,
		Description:     report.Description,
		Location:        report.Location,
		ReporterRef:     report.ReporterRef,
		AffectedSystems: report.AffectedSystems,
		Priority:        report.Priority,
	}
	if err := env.incidents.CreateIncident(ctx, incident); err != nil {
		t.Fatalf("create incident: %v", err)
	}

	if err := env.engine.Recover(ctx); err != nil {
		t.Fatalf("recover: %v", err)
	}
	final := env.waitForStatus(t, incident.ID, store.StatusResolved)
	if final.Status != store.StatusResolved {
		t.Fatalf("recovered incident status %s, want resolved", final.Status)
	}

	entries, err := env.audits.ListByIncident(ctx, incident.ID)
	if err != nil {
		t.Fatalf("audit: %v", err)
	}
	found := false
	for _, entry := range entries {
		if entry.Stage == "recover" {
			found = true
		}
	}
	if !found {
		t.Fatalf("no recover audit entry after restart")
	}
	if got := len(env.adapter.executedIDs()); got == 0 {
		t.Fatalf("recovered incident never executed its plan")
	}
}

func TestRecoverLeavesSuspendedIncidentAlone(t *testing.T) {
	env := setupEnv(t)
	ctx := context.Background()

	if err := env.incidents.CreateIncident(ctx, &store.Incident{
		ID:          "inc-suspended",
		Title:       "Card fraud alert",
		Description: "suspicious payment transactions flagged on gateway",
	}); err != nil {
		t.Fatalf("create incident: %v", err)
	}
	// An escalated incident survives the restart suspended; the sweeper owns
	// its deadline, not the recovery pass.
	if _, err := env.db.ExecContext(ctx,
		`UPDATE incidents SET status=? WHERE id=?`,
		store.StatusAwaitingApproval, "inc-suspended"); err != nil {
		t.Fatalf("suspend incident: %v", err)
	}

	if err := env.engine.Recover(ctx); err != nil {
		t.Fatalf("recover: %v", err)
	}
	time.Sleep(200 * time.Millisecond)

	incident, err := env.incidents.GetIncident(ctx, "inc-suspended")
	if err != nil {
		t.Fatalf("get incident: %v", err)
	}
	if incident.Status != store.StatusAwaitingApproval {
		t.Fatalf("suspended incident moved to %s", incident.Status)
	}
	if got := len(env.adapter.executedIDs()); got != 0 {
		t.Fatalf("suspended incident must not execute, adapter saw %d calls", got)
	}
}
