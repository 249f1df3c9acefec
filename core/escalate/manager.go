package escalate

import (
	"context"
	"fmt"
	"time"

	"github.com/gofrs/uuid/v5"

	"sapsan-iro/config"
	"sapsan-iro/core/store"
	"sapsan-iro/core/utils"
)

// ExpiredHandler is called by the sweeper for each escalation it expires,
// so the workflow layer can fail the incident.
type ExpiredHandler func(ctx context.Context, esc store.Escalation)

type Manager struct {
	escalations store.EscalationsStore
	notifier    Notifier
	cfg         config.EscalationConfig
	logger      *utils.Logger
	onExpired   ExpiredHandler
}

func NewManager(escalations store.EscalationsStore, notifier Notifier, cfg config.EscalationConfig, logger *utils.Logger) *Manager {
	return &Manager{escalations: escalations, notifier: notifier, cfg: cfg, logger: logger}
}

func (m *Manager) SetExpiredHandler(h ExpiredHandler) {
	m.onExpired = h
}

// Create opens a pending escalation for the plan, snapshotting its rationale
// and deriving the deadline from the incident's priority. The outbound
// notification is best-effort; a delivery failure does not abort the
// escalation, which still expires on schedule.
func (m *Manager) Create(ctx context.Context, incident *store.Incident, plan *store.DecisionPlan) (*store.Escalation, error) {
	id, err := uuid.NewV4()
	if err != nil {
		return nil, fmt.Errorf("escalation id: %w", err)
	}
	now := utils.NowUTC()
	esc := &store.Escalation{
		ID:         id.String(),
		IncidentID: incident.ID,
		PlanID:     plan.ID,
		Rationale:  append([]string{}, plan.Rationale...),
		CreatedAt:  now,
		ExpiresAt:  now.Add(m.cfg.TimeoutFor(incident.Priority)),
	}
	if err := m.escalations.CreateEscalation(ctx, esc); err != nil {
		return nil, fmt.Errorf("create escalation: %w", err)
	}
	if err := m.notifier.Notify(ctx, buildNotification(esc, incident, m.cfg.CallbackBaseURL)); err != nil {
		m.logger.Errorf("escalate: notify for escalation %s: %v", esc.ID, err)
	}
	m.logger.Infof("escalate: incident %s plan %s pending until %s", incident.ID, plan.ID, esc.ExpiresAt.Format(time.RFC3339))
	return esc, nil
}

// Resolve records a human decision on a pending escalation. The store's
// conditional update makes a passed deadline win over a late approval.
func (m *Manager) Resolve(ctx context.Context, id string, approve bool, resolverRef string) (*store.Escalation, error) {
	status := store.EscalationRejected
	if approve {
		status = store.EscalationApproved
	}
	esc, err := m.escalations.ResolveEscalation(ctx, id, status, resolverRef, utils.NowUTC())
	if err != nil {
		return nil, err
	}
	m.logger.Infof("escalate: escalation %s %s by %s", esc.ID, esc.Status, resolverRef)
	return esc, nil
}

func (m *Manager) Pending(ctx context.Context) ([]store.Escalation, error) {
	return m.escalations.ListPending(ctx)
}

// Sweep expires overdue pending escalations and hands each to the expired
// handler. Wired to a cron schedule by the composition root.
func (m *Manager) Sweep(ctx context.Context) {
	expired, err := m.escalations.ExpireOverdue(ctx, utils.NowUTC())
	if err != nil {
		m.logger.Errorf("escalate: sweep: %v", err)
		return
	}
	for _, esc := range expired {
		m.logger.Warnf("escalate: escalation %s for incident %s expired", esc.ID, esc.IncidentID)
		if m.onExpired != nil {
			m.onExpired(ctx, esc)
		}
	}
}
