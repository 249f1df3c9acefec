package handlers

import (
	"net/http"
	"time"

	"sapsan-iro/core/impact"
	"sapsan-iro/core/utils"
)

type ImpactHandler struct {
	tracker *impact.Tracker
	logger  *utils.Logger
}

func NewImpactHandler(tracker *impact.Tracker, logger *utils.Logger) *ImpactHandler {
	return &ImpactHandler{tracker: tracker, logger: logger}
}

func (h *ImpactHandler) Export(w http.ResponseWriter, r *http.Request) {
	since := parseSince(r, 30*24*time.Hour)
	items, err := h.tracker.Export(r.Context(), since)
	if err != nil {
		http.Error(w, "server error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items, "count": len(items), "since": since})
}

func (h *ImpactHandler) Summary(w http.ResponseWriter, r *http.Request) {
	since := parseSince(r, 30*24*time.Hour)
	sum, err := h.tracker.Summary(r.Context(), since)
	if err != nil {
		http.Error(w, "server error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, sum)
}

func parseSince(r *http.Request, def time.Duration) time.Time {
	if raw := r.URL.Query().Get("since"); raw != "" {
		if t, err := time.Parse(time.RFC3339, raw); err == nil {
			return t.UTC()
		}
	}
	return time.Now().UTC().Add(-def)
}
