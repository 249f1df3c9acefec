package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/casbin/casbin/v2"
	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"sapsan-iro/api/handlers"
	"sapsan-iro/config"
	"sapsan-iro/core/escalate"
	"sapsan-iro/core/impact"
	"sapsan-iro/core/store"
	"sapsan-iro/core/utils"
	"sapsan-iro/core/workflow"
)

type Server struct {
	cfg      *config.AppConfig
	logger   *utils.Logger
	enforcer *casbin.Enforcer
	registry *prometheus.Registry
	httpSrv  *http.Server

	incidents   store.IncidentsStore
	plans       store.PlansStore
	audits      store.AuditStore
	engine      *workflow.Engine
	escalations *escalate.Manager
	impacts     *impact.Tracker
}

func NewServer(
	cfg *config.AppConfig,
	logger *utils.Logger,
	registry *prometheus.Registry,
	incidents store.IncidentsStore,
	plans store.PlansStore,
	audits store.AuditStore,
	engine *workflow.Engine,
	escalations *escalate.Manager,
	impacts *impact.Tracker,
) (*Server, error) {
	enforcer, err := newEnforcer()
	if err != nil {
		return nil, err
	}
	return &Server{
		cfg:         cfg,
		logger:      logger,
		enforcer:    enforcer,
		registry:    registry,
		incidents:   incidents,
		plans:       plans,
		audits:      audits,
		engine:      engine,
		escalations: escalations,
		impacts:     impacts,
	}, nil
}

func (s *Server) Router() http.Handler {
	incidentsH := handlers.NewIncidentsHandler(s.incidents, s.plans, s.audits, s.engine, s.logger)
	escalationsH := handlers.NewEscalationsHandler(s.escalations, s.engine, s.logger)
	impactH := handlers.NewImpactHandler(s.impacts, s.logger)
	auditH := handlers.NewAuditHandler(s.audits, s.logger)

	r := chi.NewRouter()
	r.Use(s.recoverMiddleware)
	r.Use(s.loggingMiddleware)

	r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{}))
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	r.Route("/api", func(r chi.Router) {
		r.Use(s.jsonMiddleware)
		r.Use(s.withAPIKey)

		r.Post("/incidents", s.requirePermission("incidents", "write")(incidentsH.Submit))
		r.Get("/incidents", s.requirePermission("incidents", "read")(incidentsH.List))
		r.Get("/incidents/{id}", s.requirePermission("incidents", "read")(incidentsH.Get))
		r.Get("/incidents/{id}/plan", s.requirePermission("incidents", "read")(incidentsH.Plan))
		r.Get("/incidents/{id}/audit", s.requirePermission("audit", "read")(incidentsH.Audit))

		r.Get("/escalations", s.requirePermission("escalations", "read")(escalationsH.ListPending))
		r.Post("/escalations/{id}/resolve", s.requirePermission("escalations", "write")(escalationsH.Resolve))

		r.Get("/impact", s.requirePermission("impact", "read")(impactH.Export))
		r.Get("/impact/summary", s.requirePermission("impact", "read")(impactH.Summary))

		r.Get("/audit", s.requirePermission("audit", "read")(auditH.Export))
	})
	return r
}

func (s *Server) Start() error {
	s.httpSrv = &http.Server{
		Addr:              s.cfg.ListenAddr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.logger.Infof("api: listening on %s", s.cfg.ListenAddr)
	if err := s.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpSrv == nil {
		return nil
	}
	return s.httpSrv.Shutdown(ctx)
}
