package escalate

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"sapsan-iro/core/store"
	"sapsan-iro/core/utils"
)

// Notification is the outbound payload for a pending escalation. CallbackURL
// is where the on-call reviewer posts the decision.
type Notification struct {
	EscalationID string    `json:"escalation_id"`
	IncidentID   string    `json:"incident_id"`
	Title        string    `json:"title"`
	Priority     string    `json:"priority"`
	Rationale    []string  `json:"rationale"`
	ExpiresAt    time.Time `json:"expires_at"`
	CallbackURL  string    `json:"callback_url"`
}

type Notifier interface {
	Notify(ctx context.Context, n Notification) error
}

// HTTPWebhookNotifier posts escalation notifications to a configured webhook.
// An empty webhook URL disables delivery; the escalation still waits in the
// store and shows up in the pending list.
type HTTPWebhookNotifier struct {
	client     *http.Client
	webhookURL string
	logger     *utils.Logger
}

func NewHTTPWebhookNotifier(webhookURL string, logger *utils.Logger) *HTTPWebhookNotifier {
	return &HTTPWebhookNotifier{
		client:     &http.Client{Timeout: 10 * time.Second},
		webhookURL: strings.TrimSpace(webhookURL),
		logger:     logger,
	}
}

func (n *HTTPWebhookNotifier) Notify(ctx context.Context, notification Notification) error {
	if n.webhookURL == "" {
		n.logger.Warnf("escalate: no webhook configured, escalation %s waits unannounced", notification.EscalationID)
		return nil
	}
	raw, _ := json.Marshal(notification)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.webhookURL, bytes.NewReader(raw))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := n.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	return fmt.Errorf("escalation webhook status %d", resp.StatusCode)
}

func buildNotification(esc *store.Escalation, incident *store.Incident, callbackBase string) Notification {
	return Notification{
		EscalationID: esc.ID,
		IncidentID:   incident.ID,
		Title:        incident.Title,
		Priority:     incident.Priority,
		Rationale:    esc.Rationale,
		ExpiresAt:    esc.ExpiresAt,
		CallbackURL:  fmt.Sprintf("%s/api/escalations/%s/resolve", strings.TrimRight(callbackBase, "/"), esc.ID),
	}
}
