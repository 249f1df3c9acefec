package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"
)

const (
	EscalationPending  = "pending"
	EscalationApproved = "approved"
	EscalationRejected = "rejected"
	EscalationExpired  = "expired"
)

type Escalation struct {
	ID          string     `json:"id"`
	IncidentID  string     `json:"incident_id"`
	PlanID      string     `json:"plan_id"`
	Status      string     `json:"status"`
	Rationale   []string   `json:"rationale"`
	ResolverRef string     `json:"resolver_ref,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	ExpiresAt   time.Time  `json:"expires_at"`
	ResolvedAt  *time.Time `json:"resolved_at,omitempty"`
}

type EscalationsStore interface {
	CreateEscalation(ctx context.Context, esc *Escalation) error
	GetEscalation(ctx context.Context, id string) (*Escalation, error)
	PendingForIncident(ctx context.Context, incidentID string) (*Escalation, error)
	ListPending(ctx context.Context) ([]Escalation, error)
	// ResolveEscalation flips a pending, unexpired escalation to approved or
	// rejected. ErrConflict when it was already resolved or has expired;
	// a deadline that passed wins over a late human decision.
	ResolveEscalation(ctx context.Context, id, status, resolverRef string, now time.Time) (*Escalation, error)
	// ExpireOverdue marks pending escalations past their deadline as expired
	// and returns them so the caller can fail the incidents.
	ExpireOverdue(ctx context.Context, now time.Time) ([]Escalation, error)
}

type escalationsStore struct {
	db *DB
}

func NewEscalationsStore(db *DB) EscalationsStore {
	return &escalationsStore{db: db}
}

const escalationColumns = `id, incident_id, plan_id, status, rationale, resolver_ref, created_at, expires_at, resolved_at`

func (s *escalationsStore) CreateEscalation(ctx context.Context, esc *Escalation) error {
	if esc.ID == "" || esc.IncidentID == "" || esc.PlanID == "" {
		return errors.New("escalation id, incident id and plan id required")
	}
	if esc.Status == "" {
		esc.Status = EscalationPending
	}
	if esc.CreatedAt.IsZero() {
		esc.CreatedAt = time.Now().UTC()
	}
	if esc.ExpiresAt.IsZero() {
		return errors.New("escalation expiry required")
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO escalations(`+escalationColumns+`)
		VALUES(?,?,?,?,?,?,?,?,?)`,
		esc.ID, esc.IncidentID, esc.PlanID, esc.Status, stringsToJSON(esc.Rationale),
		esc.ResolverRef, esc.CreatedAt, esc.ExpiresAt, nullableTime(esc.ResolvedAt))
	return err
}

func (s *escalationsStore) GetEscalation(ctx context.Context, id string) (*Escalation, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+escalationColumns+` FROM escalations WHERE id=?`, id)
	return scanEscalation(row)
}

func (s *escalationsStore) PendingForIncident(ctx context.Context, incidentID string) (*Escalation, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+escalationColumns+` FROM escalations
		WHERE incident_id=? AND status=? ORDER BY created_at DESC LIMIT 1`,
		incidentID, EscalationPending)
	return scanEscalation(row)
}

func (s *escalationsStore) ListPending(ctx context.Context) ([]Escalation, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+escalationColumns+` FROM escalations WHERE status=? ORDER BY expires_at`,
		EscalationPending)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectEscalations(rows)
}

func (s *escalationsStore) ResolveEscalation(ctx context.Context, id, status, resolverRef string, now time.Time) (*Escalation, error) {
	if status != EscalationApproved && status != EscalationRejected {
		return nil, errors.New("resolution must be approved or rejected")
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE escalations SET status=?, resolver_ref=?, resolved_at=?
		WHERE id=? AND status=? AND expires_at>?`,
		status, resolverRef, now, id, EscalationPending, now)
	if err != nil {
		return nil, err
	}
	if affected, _ := res.RowsAffected(); affected == 0 {
		if _, gerr := s.GetEscalation(ctx, id); gerr != nil {
			return nil, gerr
		}
		return nil, ErrConflict
	}
	return s.GetEscalation(ctx, id)
}

func (s *escalationsStore) ExpireOverdue(ctx context.Context, now time.Time) ([]Escalation, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+escalationColumns+` FROM escalations
		WHERE status=? AND expires_at<=?`, EscalationPending, now)
	if err != nil {
		return nil, err
	}
	overdue, err := collectEscalations(rows)
	rows.Close()
	if err != nil {
		return nil, err
	}
	var expired []Escalation
	for _, esc := range overdue {
		res, err := s.db.ExecContext(ctx, `
			UPDATE escalations SET status=?, resolved_at=?
			WHERE id=? AND status=?`,
			EscalationExpired, now, esc.ID, EscalationPending)
		if err != nil {
			return expired, err
		}
		if affected, _ := res.RowsAffected(); affected == 0 {
			continue // resolved concurrently
		}
		esc.Status = EscalationExpired
		resolved := now
		esc.ResolvedAt = &resolved
		expired = append(expired, esc)
	}
	return expired, nil
}

func scanEscalation(row *sql.Row) (*Escalation, error) {
	var esc Escalation
	var rationaleRaw string
	var resolvedAt sql.NullTime
	if err := row.Scan(&esc.ID, &esc.IncidentID, &esc.PlanID, &esc.Status, &rationaleRaw,
		&esc.ResolverRef, &esc.CreatedAt, &esc.ExpiresAt, &resolvedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	_ = json.Unmarshal([]byte(rationaleRaw), &esc.Rationale)
	if resolvedAt.Valid {
		t := resolvedAt.Time
		esc.ResolvedAt = &t
	}
	return &esc, nil
}

func collectEscalations(rows *sql.Rows) ([]Escalation, error) {
	var out []Escalation
	for rows.Next() {
		var esc Escalation
		var rationaleRaw string
		var resolvedAt sql.NullTime
		if err := rows.Scan(&esc.ID, &esc.IncidentID, &esc.PlanID, &esc.Status, &rationaleRaw,
			&esc.ResolverRef, &esc.CreatedAt, &esc.ExpiresAt, &resolvedAt); err != nil {
			return nil, err
		}
		_ = json.Unmarshal([]byte(rationaleRaw), &esc.Rationale)
		if resolvedAt.Valid {
			t := resolvedAt.Time
			esc.ResolvedAt = &t
		}
		out = append(out, esc)
	}
	return out, rows.Err()
}

func nullableTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return *t
}
