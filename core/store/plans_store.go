package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"
)

const (
	PlanStatusActive     = "active"
	PlanStatusSuperseded = "superseded"
	PlanStatusCompleted  = "completed"
	PlanStatusAborted    = "aborted"
)

const (
	ActionStatusSucceeded  = "succeeded"
	ActionStatusFailed     = "failed"
	ActionStatusSkipped    = "skipped"
	ActionStatusRolledBack = "rolled_back"
)

// DecisionPlan is the chosen response for an incident. At most one active
// plan exists per incident; re-deciding supersedes the previous one.
type DecisionPlan struct {
	ID               string    `json:"id"`
	IncidentID       string    `json:"incident_id"`
	Autonomous       bool      `json:"autonomous"`
	Confidence       float64   `json:"confidence"`
	RequiresApproval bool      `json:"requires_approval"`
	Rationale        []string  `json:"rationale"`
	Status           string    `json:"status"`
	Actions          []Action  `json:"actions"`
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`
}

type Action struct {
	ID        string            `json:"id"`
	PlanID    string            `json:"-"`
	Position  int               `json:"position"`
	Type      string            `json:"type"`
	Params    map[string]string `json:"params,omitempty"`
	DependsOn []string          `json:"depends_on,omitempty"`
	Critical  bool              `json:"critical"`
}

type ActionResult struct {
	ID            int64     `json:"id"`
	PlanID        string    `json:"plan_id"`
	ActionID      string    `json:"action_id"`
	Status        string    `json:"status"`
	ExecutedAt    time.Time `json:"executed_at"`
	DurationMS    int64     `json:"duration_ms"`
	RollbackToken string    `json:"rollback_token,omitempty"`
	ErrorDetail   string    `json:"error_detail,omitempty"`
	CompletionSeq int64     `json:"completion_seq"`
}

type PlansStore interface {
	// SavePlan persists the plan with its actions and marks any previously
	// active plan for the incident as superseded. Runs in one transaction.
	SavePlan(ctx context.Context, plan *DecisionPlan) error
	GetPlan(ctx context.Context, id string) (*DecisionPlan, error)
	ActivePlan(ctx context.Context, incidentID string) (*DecisionPlan, error)
	// UpdatePlanStatus moves a plan between states with a conditional guard;
	// ErrConflict when the plan is not in the expected state.
	UpdatePlanStatus(ctx context.Context, id, from, to string) error
	SaveActionResult(ctx context.Context, result *ActionResult) error
	UpdateActionResult(ctx context.Context, result *ActionResult) error
	ListResults(ctx context.Context, planID string) ([]ActionResult, error)
}

type plansStore struct {
	db *DB
}

func NewPlansStore(db *DB) PlansStore {
	return &plansStore{db: db}
}

func (s *plansStore) SavePlan(ctx context.Context, plan *DecisionPlan) error {
	if plan.ID == "" || plan.IncidentID == "" {
		return errors.New("plan id and incident id required")
	}
	if plan.Status == "" {
		plan.Status = PlanStatusActive
	}
	now := time.Now().UTC()
	plan.CreatedAt = now
	plan.UpdatedAt = now

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `
		UPDATE decision_plans SET status=?, updated_at=? WHERE incident_id=? AND status=?`,
		PlanStatusSuperseded, now, plan.IncidentID, PlanStatusActive); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO decision_plans(id, incident_id, autonomous, confidence, requires_approval, rationale, status, created_at, updated_at)
		VALUES(?,?,?,?,?,?,?,?,?)`,
		plan.ID, plan.IncidentID, boolToInt(plan.Autonomous), plan.Confidence,
		boolToInt(plan.RequiresApproval), stringsToJSON(plan.Rationale), plan.Status, now, now); err != nil {
		return err
	}
	for i := range plan.Actions {
		act := &plan.Actions[i]
		act.PlanID = plan.ID
		if act.Position == 0 {
			act.Position = i
		}
		params, merr := json.Marshal(act.Params)
		if merr != nil || act.Params == nil {
			params = []byte("{}")
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO plan_actions(id, plan_id, position, type, params, depends_on, critical)
			VALUES(?,?,?,?,?,?,?)`,
			act.ID, plan.ID, act.Position, act.Type, string(params),
			stringsToJSON(act.DependsOn), boolToInt(act.Critical)); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (s *plansStore) GetPlan(ctx context.Context, id string) (*DecisionPlan, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, incident_id, autonomous, confidence, requires_approval, rationale, status, created_at, updated_at
		FROM decision_plans WHERE id=?`, id)
	return s.scanPlan(ctx, row)
}

func (s *plansStore) ActivePlan(ctx context.Context, incidentID string) (*DecisionPlan, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, incident_id, autonomous, confidence, requires_approval, rationale, status, created_at, updated_at
		FROM decision_plans WHERE incident_id=? AND status=? LIMIT 1`,
		incidentID, PlanStatusActive)
	return s.scanPlan(ctx, row)
}

func (s *plansStore) scanPlan(ctx context.Context, row *sql.Row) (*DecisionPlan, error) {
	var plan DecisionPlan
	var autonomous, approval int
	var rationaleRaw string
	if err := row.Scan(&plan.ID, &plan.IncidentID, &autonomous, &plan.Confidence, &approval,
		&rationaleRaw, &plan.Status, &plan.CreatedAt, &plan.UpdatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	plan.Autonomous = autonomous != 0
	plan.RequiresApproval = approval != 0
	_ = json.Unmarshal([]byte(rationaleRaw), &plan.Rationale)

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, plan_id, position, type, params, depends_on, critical
		FROM plan_actions WHERE plan_id=? ORDER BY position`, plan.ID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var act Action
		var paramsRaw, depsRaw string
		var critical int
		if err := rows.Scan(&act.ID, &act.PlanID, &act.Position, &act.Type, &paramsRaw, &depsRaw, &critical); err != nil {
			return nil, err
		}
		act.Critical = critical != 0
		_ = json.Unmarshal([]byte(paramsRaw), &act.Params)
		_ = json.Unmarshal([]byte(depsRaw), &act.DependsOn)
		plan.Actions = append(plan.Actions, act)
	}
	return &plan, rows.Err()
}

func (s *plansStore) UpdatePlanStatus(ctx context.Context, id, from, to string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE decision_plans SET status=?, updated_at=? WHERE id=? AND status=?`,
		to, time.Now().UTC(), id, from)
	if err != nil {
		return err
	}
	if affected, _ := res.RowsAffected(); affected == 0 {
		return ErrConflict
	}
	return nil
}

func (s *plansStore) SaveActionResult(ctx context.Context, result *ActionResult) error {
	if result.PlanID == "" || result.ActionID == "" {
		return errors.New("result plan id and action id required")
	}
	if result.ExecutedAt.IsZero() {
		result.ExecutedAt = time.Now().UTC()
	}
	return s.db.QueryRowContext(ctx, `
		INSERT INTO action_results(plan_id, action_id, status, executed_at, duration_ms, rollback_token, error_detail, completion_seq)
		VALUES(?,?,?,?,?,?,?,?) RETURNING id`,
		result.PlanID, result.ActionID, result.Status, result.ExecutedAt, result.DurationMS,
		nullableString(result.RollbackToken), nullableString(result.ErrorDetail), result.CompletionSeq).Scan(&result.ID)
}

func (s *plansStore) UpdateActionResult(ctx context.Context, result *ActionResult) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE action_results SET status=?, duration_ms=?, rollback_token=?, error_detail=?
		WHERE id=?`,
		result.Status, result.DurationMS, nullableString(result.RollbackToken),
		nullableString(result.ErrorDetail), result.ID)
	if err != nil {
		return err
	}
	if affected, _ := res.RowsAffected(); affected == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *plansStore) ListResults(ctx context.Context, planID string) ([]ActionResult, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, plan_id, action_id, status, executed_at, duration_ms, rollback_token, error_detail, completion_seq
		FROM action_results WHERE plan_id=? ORDER BY completion_seq, id`, planID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []ActionResult
	for rows.Next() {
		var r ActionResult
		var token, detail sql.NullString
		if err := rows.Scan(&r.ID, &r.PlanID, &r.ActionID, &r.Status, &r.ExecutedAt,
			&r.DurationMS, &token, &detail, &r.CompletionSeq); err != nil {
			return nil, err
		}
		r.RollbackToken = token.String
		r.ErrorDetail = detail.String
		out = append(out, r)
	}
	return out, rows.Err()
}

func boolToInt(v bool) int {
	if v {
		return 1
	}
	return 0
}

func nullableString(v string) any {
	if v == "" {
		return nil
	}
	return v
}
