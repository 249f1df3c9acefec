package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"
)

// AuditEntry is one append-only record of a pipeline stage. The seq column
// is a per-incident counter assigned inside a transaction, so the entries of
// one incident form a gapless causal order regardless of wall-clock skew.
type AuditEntry struct {
	ID         int64          `json:"id"`
	IncidentID string         `json:"incident_id"`
	Seq        int64          `json:"seq"`
	Stage      string         `json:"stage"`
	Actor      string         `json:"actor"`
	Message    string         `json:"message"`
	Detail     map[string]any `json:"detail,omitempty"`
	CreatedAt  time.Time      `json:"created_at"`
}

type AuditStore interface {
	AppendAudit(ctx context.Context, entry *AuditEntry) error
	ListByIncident(ctx context.Context, incidentID string) ([]AuditEntry, error)
	ListByTimeRange(ctx context.Context, from, to time.Time) ([]AuditEntry, error)
}

type auditStore struct {
	db *DB
}

func NewAuditStore(db *DB) AuditStore {
	return &auditStore{db: db}
}

func (s *auditStore) AppendAudit(ctx context.Context, entry *AuditEntry) error {
	if entry.IncidentID == "" || entry.Stage == "" {
		return errors.New("audit incident id and stage required")
	}
	if entry.Actor == "" {
		entry.Actor = "system"
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	detail, err := json.Marshal(entry.Detail)
	if err != nil || entry.Detail == nil {
		detail = []byte("{}")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var seq int64
	if err := tx.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(seq),0)+1 FROM audit_log WHERE incident_id=?`,
		entry.IncidentID).Scan(&seq); err != nil {
		return err
	}
	var id int64
	if err := tx.QueryRowContext(ctx, `
		INSERT INTO audit_log(incident_id, seq, stage, actor, message, detail, created_at)
		VALUES(?,?,?,?,?,?,?) RETURNING id`,
		entry.IncidentID, seq, entry.Stage, entry.Actor, entry.Message, string(detail), entry.CreatedAt).Scan(&id); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	entry.Seq = seq
	entry.ID = id
	return nil
}

func (s *auditStore) ListByIncident(ctx context.Context, incidentID string) ([]AuditEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, incident_id, seq, stage, actor, message, detail, created_at
		FROM audit_log WHERE incident_id=? ORDER BY seq`, incidentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectAuditEntries(rows)
}

func (s *auditStore) ListByTimeRange(ctx context.Context, from, to time.Time) ([]AuditEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, incident_id, seq, stage, actor, message, detail, created_at
		FROM audit_log WHERE created_at>=? AND created_at<? ORDER BY created_at, incident_id, seq`,
		from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectAuditEntries(rows)
}

func collectAuditEntries(rows *sql.Rows) ([]AuditEntry, error) {
	var out []AuditEntry
	for rows.Next() {
		var entry AuditEntry
		var detailRaw string
		if err := rows.Scan(&entry.ID, &entry.IncidentID, &entry.Seq, &entry.Stage,
			&entry.Actor, &entry.Message, &detailRaw, &entry.CreatedAt); err != nil {
			return nil, err
		}
		_ = json.Unmarshal([]byte(detailRaw), &entry.Detail)
		out = append(out, entry)
	}
	return out, rows.Err()
}
