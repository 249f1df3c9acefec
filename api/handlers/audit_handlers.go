package handlers

import (
	"net/http"
	"strings"
	"time"

	"sapsan-iro/core/store"
	"sapsan-iro/core/utils"
)

type AuditHandler struct {
	audits store.AuditStore
	logger *utils.Logger
}

func NewAuditHandler(audits store.AuditStore, logger *utils.Logger) *AuditHandler {
	return &AuditHandler{audits: audits, logger: logger}
}

// Export returns audit entries for one incident or a time range. With no
// parameters it exports the trailing 24 hours.
func (h *AuditHandler) Export(w http.ResponseWriter, r *http.Request) {
	if incidentID := strings.TrimSpace(r.URL.Query().Get("incident_id")); incidentID != "" {
		entries, err := h.audits.ListByIncident(r.Context(), incidentID)
		if err != nil {
			http.Error(w, "server error", http.StatusInternalServerError)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"items": entries, "count": len(entries)})
		return
	}
	to := time.Now().UTC()
	from := to.Add(-24 * time.Hour)
	if raw := r.URL.Query().Get("from"); raw != "" {
		if t, err := time.Parse(time.RFC3339, raw); err == nil {
			from = t.UTC()
		}
	}
	if raw := r.URL.Query().Get("to"); raw != "" {
		if t, err := time.Parse(time.RFC3339, raw); err == nil {
			to = t.UTC()
		}
	}
	entries, err := h.audits.ListByTimeRange(r.Context(), from, to)
	if err != nil {
		http.Error(w, "server error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": entries, "count": len(entries), "from": from, "to": to})
}
