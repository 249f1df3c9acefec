package appbootstrap

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/robfig/cron/v3"

	"sapsan-iro/api"
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

type runtimeComposition struct {
	server *api.Server
	engine *workflow.Engine
	cron   *cron.Cron
}

func composeRuntime(cfg *config.AppConfig, db *store.DB, logger *utils.Logger) (*runtimeComposition, error) {
	incidents := store.NewIncidentsStore(db)
	assessments := store.NewAssessmentsStore(db)
	plans := store.NewPlansStore(db)
	escalations := store.NewEscalationsStore(db)
	impacts := store.NewImpactStore(db)
	audits := store.NewAuditStore(db)

	backend, err := classifierBackend(cfg)
	if err != nil {
		return nil, err
	}
	classifier := classify.NewService(backend, assessments, cfg.Classifier, logger)
	assessor := risk.NewAssessor(assessments, cfg.Risk, logger)
	validator := policy.NewValidator(policy.DefaultRules(), logger)
	decider := decision.NewEngine(decision.NewTemplateRegistry(), validator, plans, cfg.Decision, logger)
	registry := adapters.DefaultRegistry(cfg.Adapters, logger)
	orchestrator := orchestrate.NewOrchestrator(registry, plans, cfg.Adapters.MaxParallelActions, logger)
	notifier := escalate.NewHTTPWebhookNotifier(cfg.Escalation.WebhookURL, logger)
	escalationMgr := escalate.NewManager(escalations, notifier, cfg.Escalation, logger)
	tracker := impact.NewTracker(impacts, cfg.Impact, logger)

	promRegistry := prometheus.NewRegistry()
	promRegistry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := workflow.NewMetrics(promRegistry)

	engine := workflow.NewEngine(incidents, assessments, plans, audits,
		classifier, assessor, decider, orchestrator, escalationMgr, tracker, metrics, logger)

	server, err := api.NewServer(cfg, logger, promRegistry, incidents, plans, audits, engine, escalationMgr, tracker)
	if err != nil {
		return nil, err
	}

	scheduler := cron.New()
	if _, err := scheduler.AddFunc("@every 1m", func() {
		ctx, cancel := utils.SchedulerContext()
		defer cancel()
		escalationMgr.Sweep(ctx)
		engine.RefreshEscalationGauge(ctx)
	}); err != nil {
		return nil, fmt.Errorf("schedule escalation sweep: %w", err)
	}
	if _, err := scheduler.AddFunc("@daily", func() {
		ctx, cancel := utils.SchedulerContext()
		defer cancel()
		tracker.LogRollup(ctx)
	}); err != nil {
		return nil, fmt.Errorf("schedule impact rollup: %w", err)
	}

	return &runtimeComposition{server: server, engine: engine, cron: scheduler}, nil
}

func classifierBackend(cfg *config.AppConfig) (classify.Backend, error) {
	switch cfg.Classifier.Backend {
	case "", "keyword":
		return classify.NewKeywordBackend(), nil
	case "llm":
		return classify.NewLLMBackend(cfg.Classifier.LLMModel)
	default:
		return nil, fmt.Errorf("unknown classifier backend %q", cfg.Classifier.Backend)
	}
}
