package impact

import (
	"context"
	"fmt"
	"time"

	"sapsan-iro/config"
	"sapsan-iro/core/orchestrate"
	"sapsan-iro/core/store"
	"sapsan-iro/core/utils"
)

type Tracker struct {
	impacts store.ImpactStore
	cfg     config.ImpactConfig
	logger  *utils.Logger
}

func NewTracker(impacts store.ImpactStore, cfg config.ImpactConfig, logger *utils.Logger) *Tracker {
	return &Tracker{impacts: impacts, cfg: cfg, logger: logger}
}

// Record writes the business outcome for a terminally closed incident.
// Investment covers every external call made (rollbacks included) plus the
// handling time; value is the configured avoided cost for the category,
// counted only when actions actually completed. Recording twice for the
// same incident is a no-op in the store.
func (t *Tracker) Record(ctx context.Context, incident *store.Incident, plan *store.DecisionPlan, category string, execution *orchestrate.ExecutionResult) (*store.ImpactRecord, error) {
	if !store.IsTerminalStatus(incident.Status) {
		return nil, fmt.Errorf("incident %s not terminal (%s)", incident.ID, incident.Status)
	}

	var calls int64
	succeeded := false
	if execution != nil {
		calls = execution.ExternalCalls()
		for _, res := range execution.Results {
			if res.Status == store.ActionStatusSucceeded {
				succeeded = true
			}
		}
	}
	elapsed := utils.NowUTC().Sub(incident.ReportedAt)
	if elapsed < 0 {
		elapsed = 0
	}
	minutes := int64(elapsed / time.Minute)
	investment := calls*t.cfg.PerCallCostCents + minutes*t.cfg.PerMinuteCostCents

	var value int64
	if incident.Status == store.StatusResolved && succeeded {
		value = t.cfg.AvoidedCostCents[category]
	}

	roi := 0.0
	if investment > 0 {
		roi = (float64(value) - float64(investment)) / float64(investment) * 100
	}

	rec := &store.ImpactRecord{
		IncidentID:          incident.ID,
		InvestmentCents:     investment,
		ValueDeliveredCents: value,
		ROIPercent:          roi,
		Automated:           plan != nil && plan.Autonomous,
	}
	if err := t.impacts.RecordImpact(ctx, rec); err != nil {
		return nil, fmt.Errorf("record impact: %w", err)
	}
	t.logger.Infof("impact: incident %s investment %d value %d roi %.1f%% automated=%v",
		incident.ID, investment, value, roi, rec.Automated)
	return rec, nil
}

func (t *Tracker) Summary(ctx context.Context, since time.Time) (*store.ImpactSummary, error) {
	return t.impacts.Summary(ctx, since)
}

func (t *Tracker) Export(ctx context.Context, since time.Time) ([]store.ImpactRecord, error) {
	return t.impacts.ListImpact(ctx, since)
}

// LogRollup is the daily cron job: one structured line summarizing the
// trailing 24h so operators can scrape value delivered from the logs.
func (t *Tracker) LogRollup(ctx context.Context) {
	sum, err := t.impacts.Summary(ctx, utils.NowUTC().Add(-24*time.Hour))
	if err != nil {
		t.logger.Errorf("impact: rollup: %v", err)
		return
	}
	t.logger.Infof("impact rollup 24h: incidents=%d automated=%d investment=%d value=%d avg_roi=%.1f%%",
		sum.Incidents, sum.Automated, sum.InvestmentCents, sum.ValueDeliveredCents, sum.AvgROIPercent)
}
