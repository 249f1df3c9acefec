package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"sapsan-iro/core/store"
	"sapsan-iro/core/utils"
	"sapsan-iro/core/workflow"
)

type IncidentsHandler struct {
	incidents store.IncidentsStore
	plans     store.PlansStore
	audits    store.AuditStore
	engine    *workflow.Engine
	logger    *utils.Logger
}

func NewIncidentsHandler(incidents store.IncidentsStore, plans store.PlansStore, audits store.AuditStore, engine *workflow.Engine, logger *utils.Logger) *IncidentsHandler {
	return &IncidentsHandler{incidents: incidents, plans: plans, audits: audits, engine: engine, logger: logger}
}

var validPriorities = map[string]struct{}{
	"low":      {},
	"normal":   {},
	"high":     {},
	"critical": {},
}

// Submit accepts an incident report and answers 202 with the incident id.
// A duplicate external_ref of a still-open incident merges: the existing id
// comes back with 200 instead of a second workflow.
func (h *IncidentsHandler) Submit(w http.ResponseWriter, r *http.Request) {
	var req workflow.IntakeRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 256*1024)).Decode(&req); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	req.Priority = strings.ToLower(strings.TrimSpace(req.Priority))
	if req.Priority != "" {
		if _, ok := validPriorities[req.Priority]; !ok {
			http.Error(w, "invalid priority", http.StatusBadRequest)
			return
		}
	}
	incident, created, err := h.engine.Submit(r.Context(), req)
	if err != nil {
		if errors.Is(err, workflow.ErrInvalidIntake) {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		h.logger.Errorf("api: submit incident: %v", err)
		http.Error(w, "server error", http.StatusInternalServerError)
		return
	}
	status := http.StatusAccepted
	if !created {
		status = http.StatusOK
	}
	writeJSON(w, status, map[string]any{"id": incident.ID, "status": incident.Status, "merged": !created})
}

func (h *IncidentsHandler) Get(w http.ResponseWriter, r *http.Request) {
	incident, err := h.incidents.GetIncident(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			http.Error(w, "not found", http.StatusNotFound)
			return
		}
		http.Error(w, "server error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, incident)
}

func (h *IncidentsHandler) List(w http.ResponseWriter, r *http.Request) {
	filter := store.IncidentFilter{
		Search:   strings.TrimSpace(r.URL.Query().Get("q")),
		Status:   strings.ToLower(strings.TrimSpace(r.URL.Query().Get("status"))),
		Priority: strings.ToLower(strings.TrimSpace(r.URL.Query().Get("priority"))),
		Limit:    parseIntDefault(r.URL.Query().Get("limit"), 100),
		Offset:   parseIntDefault(r.URL.Query().Get("offset"), 0),
	}
	if raw := strings.TrimSpace(r.URL.Query().Get("status_in")); raw != "" {
		for _, part := range strings.Split(raw, ",") {
			if clean := strings.ToLower(strings.TrimSpace(part)); clean != "" {
				filter.StatusIn = append(filter.StatusIn, clean)
			}
		}
	}
	items, err := h.incidents.ListIncidents(r.Context(), filter)
	if err != nil {
		http.Error(w, "server error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items, "count": len(items)})
}

// Plan returns the active plan with its action results.
func (h *IncidentsHandler) Plan(w http.ResponseWriter, r *http.Request) {
	incidentID := chi.URLParam(r, "id")
	plan, err := h.plans.ActivePlan(r.Context(), incidentID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			http.Error(w, "no active plan", http.StatusNotFound)
			return
		}
		http.Error(w, "server error", http.StatusInternalServerError)
		return
	}
	results, err := h.plans.ListResults(r.Context(), plan.ID)
	if err != nil {
		http.Error(w, "server error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"plan": plan, "results": results})
}

func (h *IncidentsHandler) Audit(w http.ResponseWriter, r *http.Request) {
	entries, err := h.audits.ListByIncident(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		http.Error(w, "server error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": entries, "count": len(entries)})
}

func parseIntDefault(raw string, def int) int {
	if raw == "" {
		return def
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < 0 {
		return def
	}
	return v
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
