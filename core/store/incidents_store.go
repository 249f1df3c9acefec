package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	ErrConflict = errors.New("conflict")
	ErrNotFound = errors.New("not found")
)

// Incident lifecycle states. Terminal states have no outgoing transitions;
// the store refuses to move an incident out of them.
const (
	StatusReceived         = "received"
	StatusClassifying      = "classifying"
	StatusAssessing        = "assessing"
	StatusDeciding         = "deciding"
	StatusAwaitingApproval = "awaiting_approval"
	StatusExecuting        = "executing"
	StatusRolledBack       = "rolled_back"
	StatusResolved         = "resolved"
	StatusFailed           = "failed"
)

var incidentTransitions = map[string][]string{
	StatusReceived:         {StatusClassifying, StatusFailed},
	StatusClassifying:      {StatusAssessing, StatusFailed},
	StatusAssessing:        {StatusDeciding, StatusFailed},
	StatusDeciding:         {StatusAwaitingApproval, StatusExecuting, StatusFailed},
	StatusAwaitingApproval: {StatusExecuting, StatusFailed},
	StatusExecuting:        {StatusResolved, StatusRolledBack, StatusFailed},
}

func IsTerminalStatus(status string) bool {
	switch status {
	case StatusResolved, StatusRolledBack, StatusFailed:
		return true
	}
	return false
}

func transitionAllowed(from, to string) bool {
	for _, next := range incidentTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

type Incident struct {
	ID              string    `json:"id"`
	ExternalRef     string    `json:"external_ref,omitempty"`
	Title           string    `json:"title"`
	Description     string    `json:"description"`
	Location        string    `json:"location,omitempty"`
	ReporterRef     string    `json:"reporter_ref,omitempty"`
	AffectedSystems []string  `json:"affected_systems,omitempty"`
	Priority        string    `json:"priority"`
	Status          string    `json:"status"`
	Rationale       []string  `json:"rationale,omitempty"`
	ReportedAt      time.Time `json:"reported_at"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
	Version         int       `json:"version"`
}

type IncidentFilter struct {
	Search   string
	Status   string
	StatusIn []string
	Priority string
	Limit    int
	Offset   int
}

type IncidentsStore interface {
	CreateIncident(ctx context.Context, incident *Incident) error
	GetIncident(ctx context.Context, id string) (*Incident, error)
	ListIncidents(ctx context.Context, filter IncidentFilter) ([]Incident, error)
	// TransitionIncident moves an incident from an expected status to the
	// next one, appending rationale lines. Returns ErrConflict when the
	// incident is not in the expected status (single-writer guard).
	TransitionIncident(ctx context.Context, id, from, to string, rationale ...string) (*Incident, error)
	AppendRationale(ctx context.Context, id string, lines ...string) error
	FindOpenIncidentByExternalRef(ctx context.Context, externalRef string) (*Incident, error)
	ListIncidentsByStatus(ctx context.Context, statuses ...string) ([]Incident, error)
}

type incidentsStore struct {
	db *DB
}

func NewIncidentsStore(db *DB) IncidentsStore {
	return &incidentsStore{db: db}
}

const incidentColumns = `id, external_ref, title, description, location, reporter_ref, affected_systems, priority, status, rationale, reported_at, created_at, updated_at, version`

func (s *incidentsStore) CreateIncident(ctx context.Context, incident *Incident) error {
	if strings.TrimSpace(incident.ID) == "" {
		return errors.New("incident id required")
	}
	if strings.TrimSpace(incident.Title) == "" {
		return errors.New("incident title required")
	}
	if strings.TrimSpace(incident.Status) == "" {
		incident.Status = StatusReceived
	}
	if strings.TrimSpace(incident.Priority) == "" {
		incident.Priority = "normal"
	}
	if incident.Version <= 0 {
		incident.Version = 1
	}
	now := time.Now().UTC()
	if incident.ReportedAt.IsZero() {
		incident.ReportedAt = now
	}
	incident.CreatedAt = now
	incident.UpdatedAt = now
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO incidents(`+incidentColumns+`)
		VALUES(?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		incident.ID, strings.TrimSpace(incident.ExternalRef), incident.Title, incident.Description,
		strings.TrimSpace(incident.Location), strings.TrimSpace(incident.ReporterRef),
		stringsToJSON(incident.AffectedSystems), strings.ToLower(incident.Priority), incident.Status,
		stringsToJSON(incident.Rationale), incident.ReportedAt, now, now, incident.Version)
	return err
}

func (s *incidentsStore) GetIncident(ctx context.Context, id string) (*Incident, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+incidentColumns+` FROM incidents WHERE id=?`, id)
	return scanIncident(row)
}

func (s *incidentsStore) FindOpenIncidentByExternalRef(ctx context.Context, externalRef string) (*Incident, error) {
	ref := strings.TrimSpace(externalRef)
	if ref == "" {
		return nil, nil
	}
	row := s.db.QueryRowContext(ctx, `
		SELECT `+incidentColumns+` FROM incidents
		WHERE external_ref=? AND status NOT IN (?,?,?)
		ORDER BY created_at DESC LIMIT 1`,
		ref, StatusResolved, StatusRolledBack, StatusFailed)
	inc, err := scanIncident(row)
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	return inc, err
}

func (s *incidentsStore) ListIncidents(ctx context.Context, filter IncidentFilter) ([]Incident, error) {
	var clauses []string
	var args []any
	if len(filter.StatusIn) > 0 {
		placeholders := strings.TrimRight(strings.Repeat("?,", len(filter.StatusIn)), ",")
		clauses = append(clauses, fmt.Sprintf("status IN (%s)", placeholders))
		for _, st := range filter.StatusIn {
			args = append(args, strings.TrimSpace(st))
		}
	} else if filter.Status != "" {
		clauses = append(clauses, "status=?")
		args = append(args, filter.Status)
	}
	if filter.Priority != "" {
		clauses = append(clauses, "priority=?")
		args = append(args, strings.ToLower(filter.Priority))
	}
	if filter.Search != "" {
		clauses = append(clauses, "(title LIKE ? OR description LIKE ? OR location LIKE ?)")
		q := "%" + filter.Search + "%"
		args = append(args, q, q, q)
	}
	query := `SELECT ` + incidentColumns + ` FROM incidents`
	if len(clauses) > 0 {
		query += " WHERE " + strings.Join(clauses, " AND ")
	}
	query += " ORDER BY updated_at DESC"
	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", filter.Limit)
		if filter.Offset > 0 {
			query += fmt.Sprintf(" OFFSET %d", filter.Offset)
		}
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []Incident
	for rows.Next() {
		inc, err := scanIncidentRow(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, inc)
	}
	return res, rows.Err()
}

func (s *incidentsStore) ListIncidentsByStatus(ctx context.Context, statuses ...string) ([]Incident, error) {
	return s.ListIncidents(ctx, IncidentFilter{StatusIn: statuses})
}

func (s *incidentsStore) TransitionIncident(ctx context.Context, id, from, to string, rationale ...string) (*Incident, error) {
	if IsTerminalStatus(from) {
		return nil, ErrConflict
	}
	if !transitionAllowed(from, to) {
		return nil, fmt.Errorf("illegal transition %s -> %s: %w", from, to, ErrConflict)
	}
	current, err := s.GetIncident(ctx, id)
	if err != nil {
		return nil, err
	}
	merged := append(append([]string{}, current.Rationale...), trimAll(rationale)...)
	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx, `
		UPDATE incidents SET status=?, rationale=?, updated_at=?, version=version+1
		WHERE id=? AND status=?`,
		to, stringsToJSON(merged), now, id, from)
	if err != nil {
		return nil, err
	}
	if affected, _ := res.RowsAffected(); affected == 0 {
		return nil, ErrConflict
	}
	return s.GetIncident(ctx, id)
}

func (s *incidentsStore) AppendRationale(ctx context.Context, id string, lines ...string) error {
	clean := trimAll(lines)
	if len(clean) == 0 {
		return nil
	}
	current, err := s.GetIncident(ctx, id)
	if err != nil {
		return err
	}
	merged := append(append([]string{}, current.Rationale...), clean...)
	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx, `
		UPDATE incidents SET rationale=?, updated_at=?, version=version+1
		WHERE id=? AND version=?`,
		stringsToJSON(merged), now, id, current.Version)
	if err != nil {
		return err
	}
	if affected, _ := res.RowsAffected(); affected == 0 {
		return ErrConflict
	}
	return nil
}

func scanIncident(row *sql.Row) (*Incident, error) {
	var inc Incident
	var systemsRaw, rationaleRaw string
	if err := row.Scan(&inc.ID, &inc.ExternalRef, &inc.Title, &inc.Description, &inc.Location, &inc.ReporterRef,
		&systemsRaw, &inc.Priority, &inc.Status, &rationaleRaw, &inc.ReportedAt, &inc.CreatedAt, &inc.UpdatedAt, &inc.Version); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	_ = json.Unmarshal([]byte(systemsRaw), &inc.AffectedSystems)
	_ = json.Unmarshal([]byte(rationaleRaw), &inc.Rationale)
	return &inc, nil
}

func scanIncidentRow(rows *sql.Rows) (Incident, error) {
	var inc Incident
	var systemsRaw, rationaleRaw string
	if err := rows.Scan(&inc.ID, &inc.ExternalRef, &inc.Title, &inc.Description, &inc.Location, &inc.ReporterRef,
		&systemsRaw, &inc.Priority, &inc.Status, &rationaleRaw, &inc.ReportedAt, &inc.CreatedAt, &inc.UpdatedAt, &inc.Version); err != nil {
		return inc, err
	}
	_ = json.Unmarshal([]byte(systemsRaw), &inc.AffectedSystems)
	_ = json.Unmarshal([]byte(rationaleRaw), &inc.Rationale)
	return inc, nil
}

func stringsToJSON(items []string) string {
	if len(items) == 0 {
		return "[]"
	}
	b, err := json.Marshal(items)
	if err != nil {
		return "[]"
	}
	return string(b)
}

func trimAll(items []string) []string {
	var out []string
	for _, item := range items {
		if clean := strings.TrimSpace(item); clean != "" {
			out = append(out, clean)
		}
	}
	return out
}
