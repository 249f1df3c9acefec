package tests

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"sapsan-iro/config"
	"sapsan-iro/core/adapters"
	"sapsan-iro/core/classify"
	"sapsan-iro/core/decision"
	"sapsan-iro/core/escalate"
	"sapsan-iro/core/impact"
	"sapsan-iro/core/orchestrate"
	"sapsan-iro/core/policy"
	"sapsan-iro/core/risk"
	"sapsan-iro/core/store"
	"sapsan-iro/core/utils"
	"sapsan-iro/core/workflow"
)

// stubAdapter stands in for all external systems. Action types listed in
// failTypes fail their Execute call; failRollback makes every Rollback fail.
type stubAdapter struct {
	mu           sync.Mutex
	failTypes    map[string]bool
	failRollback bool
	executed     []string
	rolledBack   []string
}

func newStubAdapter() *stubAdapter {
	return &stubAdapter{failTypes: map[string]bool{}}
}

func (a *stubAdapter) Execute(_ context.Context, action store.Action) (*adapters.ExecResult, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.failTypes[action.Type] {
		return nil, &adapterError{msg: "stubbed failure for " + action.Type}
	}
	a.executed = append(a.executed, action.ID)
	return &adapters.ExecResult{RollbackToken: "undo-" + action.ID}, nil
}

func (a *stubAdapter) Rollback(_ context.Context, token string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.failRollback {
		return &adapterError{msg: "rollback refused"}
	}
	a.rolledBack = append(a.rolledBack, token)
	return nil
}

func (a *stubAdapter) Timeout() time.Duration { return 2 * time.Second }

func (a *stubAdapter) executedIDs() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]string{}, a.executed...)
}

func (a *stubAdapter) rolledBackTokens() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]string{}, a.rolledBack...)
}

type adapterError struct{ msg string }

func (e *adapterError) Error() string { return e.msg }

type testEnv struct {
	db            *store.DB
	cfg           *config.AppConfig
	incidents     store.IncidentsStore
	assessments   store.AssessmentsStore
	plans         store.PlansStore
	escalations   store.EscalationsStore
	impacts       store.ImpactStore
	audits        store.AuditStore
	engine        *workflow.Engine
	escalationMgr *escalate.Manager
	tracker       *impact.Tracker
	adapter       *stubAdapter
}

func testConfig(dir string) *config.AppConfig {
	return &config.AppConfig{
		DBDriver:   "sqlite",
		DBURL:      filepath.Join(dir, "sapsan.db"),
		Classifier: config.ClassifierConfig{Backend: "keyword", ConfidenceFloor: 0.5, TimeoutSec: 5},
		Risk: config.RiskConfig{
			Weights: map[string]map[string]float64{
				classify.CategoryUnauthorizedAccess: {
					risk.DimGuestSafety:           0.3,
					risk.DimFinancialImpact:       0.2,
					risk.DimComplianceRisk:        0.2,
					risk.DimOperationalDisruption: 0.3,
				},
				classify.CategoryPaymentAnomaly: {
					risk.DimGuestSafety:           0.1,
					risk.DimFinancialImpact:       0.5,
					risk.DimComplianceRisk:        0.3,
					risk.DimOperationalDisruption: 0.1,
				},
				classify.CategoryGeneral: {
					risk.DimGuestSafety:           0.25,
					risk.DimFinancialImpact:       0.25,
					risk.DimComplianceRisk:        0.25,
					risk.DimOperationalDisruption: 0.25,
				},
			},
			BaseImpactCents: map[string]int64{
				classify.CategoryUnauthorizedAccess: 50000,
				classify.CategoryPaymentAnomaly:     80000,
				classify.CategoryGeneral:            10000,
			},
		},
		Decision: config.DecisionConfig{
			AutonomyConfidenceFloor:    0.75,
			AutonomyRiskCeiling:        0.4,
			AutonomyImpactCeilingCents: 100000,
		},
		Escalation: config.EscalationConfig{DefaultTimeoutMin: 30, CallbackBaseURL: "http://localhost:8080"},
		Adapters:   config.AdaptersConfig{TimeoutSec: 5, MaxParallelActions: 2},
		Impact: config.ImpactConfig{
			PerCallCostCents:   12,
			PerMinuteCostCents: 50,
			AvoidedCostCents: map[string]int64{
				classify.CategoryUnauthorizedAccess: 25000,
				classify.CategoryPaymentAnomaly:     40000,
			},
		},
	}
}

func setupEnv(t *testing.T) *testEnv {
	t.Helper()
	cfg := testConfig(t.TempDir())
	logger := utils.NewNopLogger()
	db, err := store.NewDB(cfg, logger)
	if err != nil {
		t.Fatalf("db: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	if err := store.ApplyMigrations(context.Background(), db, logger); err != nil {
		t.Fatalf("migrations: %v", err)
	}

	incidents := store.NewIncidentsStore(db)
	assessments := store.NewAssessmentsStore(db)
	plans := store.NewPlansStore(db)
	escalations := store.NewEscalationsStore(db)
	impacts := store.NewImpactStore(db)
	audits := store.NewAuditStore(db)

	classifier := classify.NewService(classify.NewKeywordBackend(), assessments, cfg.Classifier, logger)
	assessor := risk.NewAssessor(assessments, cfg.Risk, logger)
	validator := policy.NewValidator(policy.DefaultRules(), logger)
	decider := decision.NewEngine(decision.NewTemplateRegistry(), validator, plans, cfg.Decision, logger)

	adapter := newStubAdapter()
	registry := adapters.NewRegistry()
	for _, actionType := range []string{"property_update", "access_control", "notification", "workforce_task"} {
		registry.Register(actionType, adapter)
	}
	orchestrator := orchestrate.NewOrchestrator(registry, plans, cfg.Adapters.MaxParallelActions, logger)
	notifier := escalate.NewHTTPWebhookNotifier("", logger)
	escalationMgr := escalate.NewManager(escalations, notifier, cfg.Escalation, logger)
	tracker := impact.NewTracker(impacts, cfg.Impact, logger)
	metrics := workflow.NewMetrics(prometheus.NewRegistry())

	engine := workflow.NewEngine(incidents, assessments, plans, audits,
		classifier, assessor, decider, orchestrator, escalationMgr, tracker, metrics, logger)
	engine.StartWithContext(context.Background())
	t.Cleanup(engine.Stop)

	return &testEnv{
		db:            db,
		cfg:           cfg,
		incidents:     incidents,
		assessments:   assessments,
		plans:         plans,
		escalations:   escalations,
		impacts:       impacts,
		audits:        audits,
		engine:        engine,
		escalationMgr: escalationMgr,
		tracker:       tracker,
		adapter:       adapter,
	}
}

func (env *testEnv) waitForStatus(t *testing.T, incidentID, want string) *store.Incident {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		incident, err := env.incidents.GetIncident(context.Background(), incidentID)
		if err != nil {
			t.Fatalf("get incident: %v", err)
		}
		if incident.Status == want {
			return incident
		}
		time.Sleep(20 * time.Millisecond)
	}
	incident, _ := env.incidents.GetIncident(context.Background(), incidentID)
	t.Fatalf("incident %s never reached %s (stuck at %s)", incidentID, want, incident.Status)
	return nil
}

func (env *testEnv) waitForEscalation(t *testing.T, incidentID string) *store.Escalation {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		esc, err := env.escalations.PendingForIncident(context.Background(), incidentID)
		if err == nil {
			return esc
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatalf("no pending escalation for incident %s", incidentID)
	return nil
}

func (env *testEnv) planForIncident(t *testing.T, incidentID string) *store.DecisionPlan {
	t.Helper()
	var planID string
	if err := env.db.QueryRowContext(context.Background(),
		`SELECT id FROM decision_plans WHERE incident_id=? ORDER BY created_at DESC LIMIT 1`,
		incidentID).Scan(&planID); err != nil {
		t.Fatalf("plan for incident %s: %v", incidentID, err)
	}
	plan, err := env.plans.GetPlan(context.Background(), planID)
	if err != nil {
		t.Fatalf("get plan %s: %v", planID, err)
	}
	return plan
}

func intrusionReport(externalRef string) workflow.IntakeRequest {
	return workflow.IntakeRequest{
		Title:           "Badge intrusion alert",
		Description:     "unauthorized entry attempt at service corridor",
		Location:        "service-corridor-b2",
		ReporterRef:     "sensor:badge-17",
		AffectedSystems: []string{"door-controller-7"},
		ExternalRef:     externalRef,
		Priority:        "normal",
	}
}

func paymentAnomalyReport(externalRef string) workflow.IntakeRequest {
	return workflow.IntakeRequest{
		Title:           "Card fraud alert",
		Description:     "suspicious payment transactions flagged on gateway",
		Location:        "front-desk-1",
		ReporterRef:     "monitor:payments",
		AffectedSystems: []string{"payment-gateway"},
		ExternalRef:     externalRef,
		Priority:        "normal",
	}
}
