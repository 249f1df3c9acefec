package store

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

// ImpactRecord captures the business outcome of one closed incident.
// One record per incident; recording again is a no-op.
type ImpactRecord struct {
	IncidentID          string    `json:"incident_id"`
	InvestmentCents     int64     `json:"investment_cents"`
	ValueDeliveredCents int64     `json:"value_delivered_cents"`
	ROIPercent          float64   `json:"roi_percent"`
	Automated           bool      `json:"automated"`
	CreatedAt           time.Time `json:"created_at"`
}

// ImpactSummary aggregates impact records over all closed incidents.
type ImpactSummary struct {
	Incidents           int64   `json:"incidents"`
	Automated           int64   `json:"automated"`
	InvestmentCents     int64   `json:"investment_cents"`
	ValueDeliveredCents int64   `json:"value_delivered_cents"`
	AvgROIPercent       float64 `json:"avg_roi_percent"`
}

type ImpactStore interface {
	RecordImpact(ctx context.Context, rec *ImpactRecord) error
	GetImpact(ctx context.Context, incidentID string) (*ImpactRecord, error)
	ListImpact(ctx context.Context, since time.Time) ([]ImpactRecord, error)
	Summary(ctx context.Context, since time.Time) (*ImpactSummary, error)
}

type impactStore struct {
	db *DB
}

func NewImpactStore(db *DB) ImpactStore {
	return &impactStore{db: db}
}

func (s *impactStore) RecordImpact(ctx context.Context, rec *ImpactRecord) error {
	if rec.IncidentID == "" {
		return errors.New("impact incident id required")
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	existing, err := s.GetImpact(ctx, rec.IncidentID)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return err
	}
	if existing != nil {
		return nil
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO impact_records(incident_id, investment_cents, value_delivered_cents, roi_percent, automated, created_at)
		VALUES(?,?,?,?,?,?)`,
		rec.IncidentID, rec.InvestmentCents, rec.ValueDeliveredCents, rec.ROIPercent,
		boolToInt(rec.Automated), rec.CreatedAt)
	return err
}

func (s *impactStore) GetImpact(ctx context.Context, incidentID string) (*ImpactRecord, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT incident_id, investment_cents, value_delivered_cents, roi_percent, automated, created_at
		FROM impact_records WHERE incident_id=?`, incidentID)
	var rec ImpactRecord
	var automated int
	if err := row.Scan(&rec.IncidentID, &rec.InvestmentCents, &rec.ValueDeliveredCents,
		&rec.ROIPercent, &automated, &rec.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	rec.Automated = automated != 0
	return &rec, nil
}

func (s *impactStore) ListImpact(ctx context.Context, since time.Time) ([]ImpactRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT incident_id, investment_cents, value_delivered_cents, roi_percent, automated, created_at
		FROM impact_records WHERE created_at>=? ORDER BY created_at`, since)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []ImpactRecord
	for rows.Next() {
		var rec ImpactRecord
		var automated int
		if err := rows.Scan(&rec.IncidentID, &rec.InvestmentCents, &rec.ValueDeliveredCents,
			&rec.ROIPercent, &automated, &rec.CreatedAt); err != nil {
			return nil, err
		}
		rec.Automated = automated != 0
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (s *impactStore) Summary(ctx context.Context, since time.Time) (*ImpactSummary, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*), COALESCE(SUM(automated),0), COALESCE(SUM(investment_cents),0),
			COALESCE(SUM(value_delivered_cents),0), COALESCE(AVG(roi_percent),0)
		FROM impact_records WHERE created_at>=?`, since)
	var sum ImpactSummary
	if err := row.Scan(&sum.Incidents, &sum.Automated, &sum.InvestmentCents,
		&sum.ValueDeliveredCents, &sum.AvgROIPercent); err != nil {
		return nil, err
	}
	return &sum, nil
}
