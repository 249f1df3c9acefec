package workflow

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/gofrs/uuid/v5"

	"sapsan-iro/core/classify"
	"sapsan-iro/core/decision"
	"sapsan-iro/core/escalate"
	"sapsan-iro/core/impact"
	"sapsan-iro/core/orchestrate"
	"sapsan-iro/core/risk"
	"sapsan-iro/core/store"
	"sapsan-iro/core/utils"
)

var (
	// ErrAlreadyRunning means a workflow instance for the incident is active.
	ErrAlreadyRunning = errors.New("incident workflow already running")
	ErrInvalidIntake  = errors.New("invalid intake request")
)

// IntakeRequest is the normalized inbound report.
type IntakeRequest struct {
	Title           string   `json:"title"`
	Description     string   `json:"description"`
	Location        string   `json:"location"`
	ReporterRef     string   `json:"reporter_ref"`
	AffectedSystems []string `json:"affected_systems"`
	ExternalRef     string   `json:"external_ref"`
	Priority        string   `json:"priority"`
}

// Engine drives one logical workflow instance per incident through
// classify, assess, decide and execute. The inFlight map guarantees a single
// writer per incident; everything else is the stores' optimistic guards.
type Engine struct {
	incidents    store.IncidentsStore
	assessments  store.AssessmentsStore
	plans        store.PlansStore
	audits       store.AuditStore
	classifier   *classify.Service
	assessor     *risk.Assessor
	decider      *decision.Engine
	orchestrator *orchestrate.Orchestrator
	escalations  *escalate.Manager
	impacts      *impact.Tracker
	metrics      *Metrics
	logger       *utils.Logger

	mu       sync.Mutex
	inFlight map[string]struct{}
	running  bool
	runCtx   context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
}

func NewEngine(
	incidents store.IncidentsStore,
	assessments store.AssessmentsStore,
	plans store.PlansStore,
	audits store.AuditStore,
	classifier *classify.Service,
	assessor *risk.Assessor,
	decider *decision.Engine,
	orchestrator *orchestrate.Orchestrator,
	escalations *escalate.Manager,
	impacts *impact.Tracker,
	metrics *Metrics,
	logger *utils.Logger,
) *Engine {
	e := &Engine{
		incidents:    incidents,
		assessments:  assessments,
		plans:        plans,
		audits:       audits,
		classifier:   classifier,
		assessor:     assessor,
		decider:      decider,
		orchestrator: orchestrator,
		escalations:  escalations,
		impacts:      impacts,
		metrics:      metrics,
		logger:       logger,
		inFlight:     map[string]struct{}{},
	}
	escalations.SetExpiredHandler(e.handleExpiredEscalation)
	return e
}

func (e *Engine) Start() {
	e.StartWithContext(context.Background())
}

func (e *Engine) StartWithContext(ctx context.Context) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.running {
		return
	}
	e.runCtx, e.cancel = context.WithCancel(ctx)
	e.running = true
}

func (e *Engine) Stop() {
	_ = e.StopWithContext(context.Background())
}

func (e *Engine) StopWithContext(ctx context.Context) error {
	e.mu.Lock()
	if !e.running || e.cancel == nil {
		e.mu.Unlock()
		return nil
	}
	cancel := e.cancel
	e.cancel = nil
	e.running = false
	e.mu.Unlock()
	cancel()
	waitDone := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(waitDone)
	}()
	select {
	case <-waitDone:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Submit accepts an incident report and launches its workflow instance.
// A report with the external_ref of a still-open incident merges into it:
// the existing id comes back and no second workflow starts.
func (e *Engine) Submit(ctx context.Context, req IntakeRequest) (*store.Incident, bool, error) {
	if strings.TrimSpace(req.Title) == "" || strings.TrimSpace(req.Description) == "" {
		return nil, false, fmt.Errorf("%w: title and description required", ErrInvalidIntake)
	}

	if existing, err := e.incidents.FindOpenIncidentByExternalRef(ctx, req.ExternalRef); err != nil {
		return nil, false, err
	} else if existing != nil {
		e.audit(ctx, existing.ID, "intake", "system", "duplicate report merged",
			map[string]any{"external_ref": req.ExternalRef, "reporter_ref": req.ReporterRef})
		return existing, false, nil
	}

	id, err := uuid.NewV4()
	if err != nil {
		return nil, false, fmt.Errorf("incident id: %w", err)
	}
	incident := &store.Incident{
		ID:              id.String(),
		ExternalRef:     req.ExternalRef,
		Title:           req.Title,
		Description:     req.Description,
		Location:        req.Location,
		ReporterRef:     req.ReporterRef,
		AffectedSystems: req.AffectedSystems,
		Priority:        req.Priority,
		Status:          store.StatusReceived,
	}
	if err := e.incidents.CreateIncident(ctx, incident); err != nil {
		return nil, false, fmt.Errorf("create incident: %w", err)
	}
	e.audit(ctx, incident.ID, "intake", "system", "incident received",
		map[string]any{"title": incident.Title, "priority": incident.Priority, "external_ref": incident.ExternalRef})

	if err := e.launch(incident.ID); err != nil {
		return incident, true, err
	}
	return incident, true, nil
}

// launch spawns the instance goroutine under the single-writer guard.
func (e *Engine) launch(incidentID string) error {
	e.mu.Lock()
	if !e.running {
		e.mu.Unlock()
		return errors.New("workflow engine not started")
	}
	if _, busy := e.inFlight[incidentID]; busy {
		e.mu.Unlock()
		return ErrAlreadyRunning
	}
	e.inFlight[incidentID] = struct{}{}
	ctx := e.runCtx
	e.wg.Add(1)
	e.mu.Unlock()

	go func() {
		defer e.wg.Done()
		defer func() {
			e.mu.Lock()
			delete(e.inFlight, incidentID)
			e.mu.Unlock()
		}()
		e.runInstance(ctx, incidentID)
	}()
	return nil
}

// runInstance advances the incident stage by stage until it reaches a
// terminal state or suspends on an escalation. Each iteration re-reads the
// incident, so a restarted process resumes exactly where the row says.
func (e *Engine) runInstance(ctx context.Context, incidentID string) {
	for {
		if ctx.Err() != nil {
			return
		}
		incident, err := e.incidents.GetIncident(ctx, incidentID)
		if err != nil {
			e.logger.Errorf("workflow: load incident %s: %v", incidentID, err)
			return
		}
		switch incident.Status {
		case store.StatusReceived:
			if _, err := e.incidents.TransitionIncident(ctx, incidentID, store.StatusReceived, store.StatusClassifying); err != nil {
				e.logger.Errorf("workflow: incident %s to classifying: %v", incidentID, err)
				return
			}
		case store.StatusClassifying:
			if !e.stageClassify(ctx, incident) {
				return
			}
		case store.StatusAssessing:
			if !e.stageAssess(ctx, incident) {
				return
			}
		case store.StatusDeciding:
			suspended, ok := e.stageDecide(ctx, incident)
			if !ok || suspended {
				return
			}
		case store.StatusExecuting:
			e.stageExecute(ctx, incident)
			return
		default:
			return
		}
	}
}

func (e *Engine) stageClassify(ctx context.Context, incident *store.Incident) bool {
	started := time.Now()
	classification, err := e.classifier.Classify(ctx, incident)
	e.metrics.ObserveStage("classify", started)
	if err != nil {
		if errors.Is(err, classify.ErrUnavailable) {
			e.failIncident(ctx, incident.ID, store.StatusClassifying, "classifier unavailable after retry")
			return false
		}
		e.logger.Errorf("workflow: classify incident %s: %v", incident.ID, err)
		return false
	}
	e.audit(ctx, incident.ID, "classify", "system",
		fmt.Sprintf("classified as %s (confidence %.2f)", classification.Category, classification.Confidence),
		map[string]any{"category": classification.Category, "confidence": classification.Confidence})
	if _, err := e.incidents.TransitionIncident(ctx, incident.ID, store.StatusClassifying, store.StatusAssessing); err != nil {
		e.logger.Errorf("workflow: incident %s to assessing: %v", incident.ID, err)
		return false
	}
	return true
}

func (e *Engine) stageAssess(ctx context.Context, incident *store.Incident) bool {
	classification, err := e.assessments.LatestClassification(ctx, incident.ID)
	if err != nil {
		e.logger.Errorf("workflow: incident %s classification missing: %v", incident.ID, err)
		return false
	}
	started := time.Now()
	assessment, err := e.assessor.Assess(ctx, incident, classification)
	e.metrics.ObserveStage("assess", started)
	if err != nil {
		e.failIncident(ctx, incident.ID, store.StatusAssessing, "risk assessment failed: "+err.Error())
		return false
	}
	e.audit(ctx, incident.ID, "assess", "system",
		fmt.Sprintf("composite risk %.2f, estimated impact %d cents", assessment.CompositeScore, assessment.EstimatedImpactCents),
		map[string]any{"composite": assessment.CompositeScore, "impact_cents": assessment.EstimatedImpactCents, "dimensions": assessment.Dimensions})
	if _, err := e.incidents.TransitionIncident(ctx, incident.ID, store.StatusAssessing, store.StatusDeciding); err != nil {
		e.logger.Errorf("workflow: incident %s to deciding: %v", incident.ID, err)
		return false
	}
	return true
}

// stageDecide builds and validates a plan, then either hands off to
// execution or suspends on an escalation. The bool pair is (suspended, ok).
func (e *Engine) stageDecide(ctx context.Context, incident *store.Incident) (bool, bool) {
	classification, err := e.assessments.LatestClassification(ctx, incident.ID)
	if err != nil {
		e.logger.Errorf("workflow: incident %s classification missing: %v", incident.ID, err)
		return false, false
	}
	assessment, err := e.assessments.LatestRiskAssessment(ctx, incident.ID)
	if err != nil {
		e.logger.Errorf("workflow: incident %s assessment missing: %v", incident.ID, err)
		return false, false
	}

	started := time.Now()
	plan, validation, err := e.decider.Decide(ctx, incident, classification, assessment)
	e.metrics.ObserveStage("decide", started)
	if err != nil {
		e.failIncident(ctx, incident.ID, store.StatusDeciding, "decision failed: "+err.Error())
		return false, false
	}
	e.audit(ctx, incident.ID, "validate", "system",
		fmt.Sprintf("policy check: %d violations, approved=%v", len(validation.Violations), validation.Approved),
		map[string]any{"violations": validation.Violations, "legal_review": validation.RequiresLegalReview})
	e.audit(ctx, incident.ID, "decide", "system",
		fmt.Sprintf("plan %s: autonomous=%v, %d actions", plan.ID, plan.Autonomous, len(plan.Actions)),
		map[string]any{"plan_id": plan.ID, "autonomous": plan.Autonomous, "rationale": plan.Rationale})
	e.metrics.Decision(plan.Autonomous)

	if plan.Autonomous {
		if _, err := e.incidents.TransitionIncident(ctx, incident.ID, store.StatusDeciding, store.StatusExecuting); err != nil {
			e.logger.Errorf("workflow: incident %s to executing: %v", incident.ID, err)
			return false, false
		}
		return false, true
	}

	if _, err := e.incidents.TransitionIncident(ctx, incident.ID, store.StatusDeciding, store.StatusAwaitingApproval); err != nil {
		e.logger.Errorf("workflow: incident %s to awaiting_approval: %v", incident.ID, err)
		return false, false
	}
	esc, err := e.escalations.Create(ctx, incident, plan)
	if err != nil {
		e.failIncident(ctx, incident.ID, store.StatusAwaitingApproval, "escalation could not be created: "+err.Error())
		return false, false
	}
	e.audit(ctx, incident.ID, "escalate", "system",
		fmt.Sprintf("escalation %s pending until %s", esc.ID, esc.ExpiresAt.Format(time.RFC3339)),
		map[string]any{"escalation_id": esc.ID, "expires_at": esc.ExpiresAt})
	// Suspension is the stored awaiting_approval status, not a blocked
	// goroutine; approval re-launches the instance.
	return true, true
}

func (e *Engine) stageExecute(ctx context.Context, incident *store.Incident) {
	plan, err := e.plans.ActivePlan(ctx, incident.ID)
	if err != nil {
		e.failIncident(ctx, incident.ID, store.StatusExecuting, "no active plan to execute: "+err.Error())
		return
	}
	classification, err := e.assessments.LatestClassification(ctx, incident.ID)
	if err != nil {
		e.failIncident(ctx, incident.ID, store.StatusExecuting, "classification missing at execution: "+err.Error())
		return
	}

	started := time.Now()
	execution, execErr := e.orchestrator.Execute(ctx, plan)
	e.metrics.ObserveStage("execute", started)
	for _, res := range execution.Results {
		e.audit(ctx, incident.ID, "execute", "system",
			fmt.Sprintf("action %s %s", res.ActionID, res.Status),
			map[string]any{"action_id": res.ActionID, "status": res.Status, "duration_ms": res.DurationMS, "error": res.ErrorDetail})
	}

	switch {
	case execErr != nil && errors.Is(execErr, orchestrate.ErrRollbackIncomplete):
		e.audit(ctx, incident.ID, "rollback", "system", "rollback incomplete; manual remediation required",
			map[string]any{"failed_action": execution.FailedActionID})
		_ = e.plans.UpdatePlanStatus(ctx, plan.ID, store.PlanStatusActive, store.PlanStatusAborted)
		e.finishIncident(ctx, incident, plan, classification.Category, execution, store.StatusFailed,
			"rollback incomplete after critical action failure; manual remediation required")
	case execErr != nil:
		e.failIncident(ctx, incident.ID, store.StatusExecuting, "execution error: "+execErr.Error())
	case execution.CriticalFailure:
		e.audit(ctx, incident.ID, "rollback", "system", "critical failure, all completed actions rolled back",
			map[string]any{"failed_action": execution.FailedActionID})
		_ = e.plans.UpdatePlanStatus(ctx, plan.ID, store.PlanStatusActive, store.PlanStatusAborted)
		e.finishIncident(ctx, incident, plan, classification.Category, execution, store.StatusRolledBack,
			fmt.Sprintf("critical action %s failed; completed actions rolled back", execution.FailedActionID))
	default:
		_ = e.plans.UpdatePlanStatus(ctx, plan.ID, store.PlanStatusActive, store.PlanStatusCompleted)
		rationale := "plan executed"
		switch {
		case len(execution.Results) == 0:
			rationale = "plan had no actions; incident closed"
		case !execution.AllSucceeded():
			rationale = "plan executed with non-critical failures absorbed"
		}
		e.finishIncident(ctx, incident, plan, classification.Category, execution, store.StatusResolved, rationale)
	}
}

// ResolveEscalation applies a human decision: approval resumes execution,
// rejection closes the incident with the rationale trail intact.
func (e *Engine) ResolveEscalation(ctx context.Context, escalationID string, approve bool, resolverRef string) (*store.Escalation, error) {
	esc, err := e.escalations.Resolve(ctx, escalationID, approve, resolverRef)
	if err != nil {
		return nil, err
	}
	decisionWord := "rejected"
	if approve {
		decisionWord = "approved"
	}
	e.audit(ctx, esc.IncidentID, "escalate", resolverRef,
		fmt.Sprintf("escalation %s %s", esc.ID, decisionWord),
		map[string]any{"escalation_id": esc.ID, "decision": decisionWord})

	if approve {
		if _, err := e.incidents.TransitionIncident(ctx, esc.IncidentID, store.StatusAwaitingApproval, store.StatusExecuting,
			fmt.Sprintf("plan approved by %s", resolverRef)); err != nil {
			return esc, err
		}
		if err := e.launch(esc.IncidentID); err != nil && !errors.Is(err, ErrAlreadyRunning) {
			return esc, err
		}
		return esc, nil
	}

	e.failIncident(ctx, esc.IncidentID, store.StatusAwaitingApproval,
		fmt.Sprintf("plan rejected by %s", resolverRef))
	return esc, nil
}

// handleExpiredEscalation is the sweeper callback: an unanswered escalation
// fails its incident.
func (e *Engine) handleExpiredEscalation(ctx context.Context, esc store.Escalation) {
	e.audit(ctx, esc.IncidentID, "escalate", "system",
		fmt.Sprintf("escalation %s expired without a decision", esc.ID),
		map[string]any{"escalation_id": esc.ID})
	e.failIncident(ctx, esc.IncidentID, store.StatusAwaitingApproval, "escalation expired without a decision")
}

// Recover re-arms incidents that were mid-pipeline when the process stopped.
// awaiting_approval incidents stay suspended; the sweeper owns their expiry.
func (e *Engine) Recover(ctx context.Context) error {
	stuck, err := e.incidents.ListIncidentsByStatus(ctx,
		store.StatusReceived, store.StatusClassifying, store.StatusAssessing,
		store.StatusDeciding, store.StatusExecuting)
	if err != nil {
		return fmt.Errorf("list recoverable incidents: %w", err)
	}
	for _, incident := range stuck {
		e.logger.Infof("workflow: recovering incident %s (status %s)", incident.ID, incident.Status)
		e.audit(ctx, incident.ID, "recover", "system", "workflow re-armed after restart",
			map[string]any{"status": incident.Status})
		if err := e.launch(incident.ID); err != nil && !errors.Is(err, ErrAlreadyRunning) {
			e.logger.Errorf("workflow: recover incident %s: %v", incident.ID, err)
		}
	}
	return nil
}

// failIncident transitions to failed from the given status, records business
// impact and closes the books on the incident.
func (e *Engine) failIncident(ctx context.Context, incidentID, from, rationale string) {
	incident, err := e.incidents.TransitionIncident(ctx, incidentID, from, store.StatusFailed, rationale)
	if err != nil {
		e.logger.Errorf("workflow: fail incident %s from %s: %v", incidentID, from, err)
		return
	}
	e.audit(ctx, incidentID, "fail", "system", rationale, nil)
	e.metrics.IncidentDone(store.StatusFailed)

	plan, _ := e.plans.ActivePlan(ctx, incidentID)
	category := classify.CategoryGeneral
	if cl, err := e.assessments.LatestClassification(ctx, incidentID); err == nil {
		category = cl.Category
	}
	if _, err := e.impacts.Record(ctx, incident, plan, category, nil); err != nil {
		e.logger.Errorf("workflow: impact for incident %s: %v", incidentID, err)
	}
}

func (e *Engine) finishIncident(ctx context.Context, incident *store.Incident, plan *store.DecisionPlan, category string, execution *orchestrate.ExecutionResult, status, rationale string) {
	updated, err := e.incidents.TransitionIncident(ctx, incident.ID, store.StatusExecuting, status, rationale)
	if err != nil {
		e.logger.Errorf("workflow: finish incident %s as %s: %v", incident.ID, status, err)
		return
	}
	e.audit(ctx, incident.ID, "resolve", "system", rationale, map[string]any{"final_status": status})
	e.metrics.IncidentDone(status)
	if _, err := e.impacts.Record(ctx, updated, plan, category, execution); err != nil {
		e.logger.Errorf("workflow: impact for incident %s: %v", incident.ID, err)
	}
}

// audit appends an entry; audit failures are logged, never fatal to the
// pipeline.
func (e *Engine) audit(ctx context.Context, incidentID, stage, actor, message string, detail map[string]any) {
	entry := &store.AuditEntry{
		IncidentID: incidentID,
		Stage:      stage,
		Actor:      actor,
		Message:    message,
		Detail:     detail,
	}
	if err := e.audits.AppendAudit(context.WithoutCancel(ctx), entry); err != nil {
		e.logger.Errorf("workflow: audit %s/%s: %v", incidentID, stage, err)
	}
}

// RefreshEscalationGauge is wired to cron alongside the sweeper.
func (e *Engine) RefreshEscalationGauge(ctx context.Context) {
	pending, err := e.escalations.Pending(ctx)
	if err != nil {
		return
	}
	e.metrics.SetPendingEscalations(len(pending))
}
