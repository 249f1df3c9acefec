package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"
)

// Classification is one classifier verdict for an incident. Verdicts are
// append-only; re-running the classifier adds a new row.
type Classification struct {
	ID           int64           `json:"id"`
	IncidentID   string          `json:"incident_id"`
	Category     string          `json:"category"`
	Confidence   float64         `json:"confidence"`
	Alternatives []CategoryScore `json:"alternatives,omitempty"`
	CreatedAt    time.Time       `json:"created_at"`
}

type CategoryScore struct {
	Category   string  `json:"category"`
	Confidence float64 `json:"confidence"`
}

// RiskAssessment is one risk snapshot for an incident, append-only like
// classifications.
type RiskAssessment struct {
	ID                   int64              `json:"id"`
	IncidentID           string             `json:"incident_id"`
	Dimensions           map[string]float64 `json:"dimensions"`
	EstimatedImpactCents int64              `json:"estimated_impact_cents"`
	CompositeScore       float64            `json:"composite_score"`
	CreatedAt            time.Time          `json:"created_at"`
}

type AssessmentsStore interface {
	SaveClassification(ctx context.Context, c *Classification) error
	LatestClassification(ctx context.Context, incidentID string) (*Classification, error)
	SaveRiskAssessment(ctx context.Context, r *RiskAssessment) error
	LatestRiskAssessment(ctx context.Context, incidentID string) (*RiskAssessment, error)
}

type assessmentsStore struct {
	db *DB
}

func NewAssessmentsStore(db *DB) AssessmentsStore {
	return &assessmentsStore{db: db}
}

func (s *assessmentsStore) SaveClassification(ctx context.Context, c *Classification) error {
	if c.IncidentID == "" {
		return errors.New("classification incident id required")
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now().UTC()
	}
	alts, err := json.Marshal(c.Alternatives)
	if err != nil || c.Alternatives == nil {
		alts = []byte("[]")
	}
	return s.db.QueryRowContext(ctx, `
		INSERT INTO classifications(incident_id, category, confidence, alternatives, created_at)
		VALUES(?,?,?,?,?) RETURNING id`,
		c.IncidentID, c.Category, c.Confidence, string(alts), c.CreatedAt).Scan(&c.ID)
}

func (s *assessmentsStore) LatestClassification(ctx context.Context, incidentID string) (*Classification, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, incident_id, category, confidence, alternatives, created_at
		FROM classifications WHERE incident_id=? ORDER BY id DESC LIMIT 1`, incidentID)
	var c Classification
	var altsRaw string
	if err := row.Scan(&c.ID, &c.IncidentID, &c.Category, &c.Confidence, &altsRaw, &c.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	_ = json.Unmarshal([]byte(altsRaw), &c.Alternatives)
	return &c, nil
}

func (s *assessmentsStore) SaveRiskAssessment(ctx context.Context, r *RiskAssessment) error {
	if r.IncidentID == "" {
		return errors.New("risk assessment incident id required")
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now().UTC()
	}
	dims, err := json.Marshal(r.Dimensions)
	if err != nil || r.Dimensions == nil {
		dims = []byte("{}")
	}
	return s.db.QueryRowContext(ctx, `
		INSERT INTO risk_assessments(incident_id, dimensions, estimated_impact_cents, composite_score, created_at)
		VALUES(?,?,?,?,?) RETURNING id`,
		r.IncidentID, string(dims), r.EstimatedImpactCents, r.CompositeScore, r.CreatedAt).Scan(&r.ID)
}

func (s *assessmentsStore) LatestRiskAssessment(ctx context.Context, incidentID string) (*RiskAssessment, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, incident_id, dimensions, estimated_impact_cents, composite_score, created_at
		FROM risk_assessments WHERE incident_id=? ORDER BY id DESC LIMIT 1`, incidentID)
	var r RiskAssessment
	var dimsRaw string
	if err := row.Scan(&r.ID, &r.IncidentID, &dimsRaw, &r.EstimatedImpactCents, &r.CompositeScore, &r.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	_ = json.Unmarshal([]byte(dimsRaw), &r.Dimensions)
	return &r, nil
}
