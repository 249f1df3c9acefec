package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"sapsan-iro/core/escalate"
	"sapsan-iro/core/store"
	"sapsan-iro/core/utils"
	"sapsan-iro/core/workflow"
)

type EscalationsHandler struct {
	manager *escalate.Manager
	engine  *workflow.Engine
	logger  *utils.Logger
}

func NewEscalationsHandler(manager *escalate.Manager, engine *workflow.Engine, logger *utils.Logger) *EscalationsHandler {
	return &EscalationsHandler{manager: manager, engine: engine, logger: logger}
}

func (h *EscalationsHandler) ListPending(w http.ResponseWriter, r *http.Request) {
	items, err := h.manager.Pending(r.Context())
	if err != nil {
		http.Error(w, "server error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items, "count": len(items)})
}

// Resolve applies an approve or reject decision. A 409 means the escalation
// was already resolved or its deadline passed first.
func (h *EscalationsHandler) Resolve(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Decision    string `json:"decision"`
		ResolverRef string `json:"resolver_ref"`
	}
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 64*1024)).Decode(&req); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	decision := strings.ToLower(strings.TrimSpace(req.Decision))
	if decision != "approve" && decision != "reject" {
		http.Error(w, "decision must be approve or reject", http.StatusBadRequest)
		return
	}
	if strings.TrimSpace(req.ResolverRef) == "" {
		http.Error(w, "resolver_ref required", http.StatusBadRequest)
		return
	}
	esc, err := h.engine.ResolveEscalation(r.Context(), chi.URLParam(r, "id"), decision == "approve", req.ResolverRef)
	if err != nil {
		switch {
		case errors.Is(err, store.ErrNotFound):
			http.Error(w, "not found", http.StatusNotFound)
		case errors.Is(err, store.ErrConflict):
			http.Error(w, "escalation already resolved or expired", http.StatusConflict)
		default:
			h.logger.Errorf("api: resolve escalation: %v", err)
			http.Error(w, "server error", http.StatusInternalServerError)
		}
		return
	}
	writeJSON(w, http.StatusOK, esc)
}
