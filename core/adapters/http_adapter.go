package adapters

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gofrs/uuid/v5"

	"sapsan-iro/config"
	"sapsan-iro/core/store"
	"sapsan-iro/core/utils"
)

// HTTPAdapter talks to one external system over its action API:
// POST {base}/actions to execute, POST {base}/actions/rollback to undo.
// When no base URL is configured the adapter runs in dry-run mode, which
// logs the call and mints a local token; single-node deployments without
// the external systems still exercise the full pipeline that way.
type HTTPAdapter struct {
	system  string
	client  *http.Client
	baseURL string
	timeout time.Duration
	logger  *utils.Logger
}

func NewHTTPAdapter(system, baseURL string, timeout time.Duration, logger *utils.Logger) *HTTPAdapter {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &HTTPAdapter{
		system:  system,
		client:  &http.Client{Timeout: timeout},
		baseURL: strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		timeout: timeout,
		logger:  logger,
	}
}

func (a *HTTPAdapter) Timeout() time.Duration { return a.timeout }

func (a *HTTPAdapter) Execute(ctx context.Context, action store.Action) (*ExecResult, error) {
	if a.baseURL == "" {
		token, err := newToken()
		if err != nil {
			return nil, err
		}
		a.logger.Infof("adapter %s: dry-run execute action %s (%s)", a.system, action.ID, action.Type)
		return &ExecResult{RollbackToken: token, Detail: "dry-run"}, nil
	}
	payload := map[string]any{
		"action_id": action.ID,
		"type":      action.Type,
		"params":    action.Params,
	}
	var reply struct {
		RollbackToken string `json:"rollback_token"`
		Detail        string `json:"detail"`
	}
	if err := a.post(ctx, "/actions", payload, &reply); err != nil {
		return nil, fmt.Errorf("%s execute: %w", a.system, err)
	}
	return &ExecResult{RollbackToken: reply.RollbackToken, Detail: reply.Detail}, nil
}

func (a *HTTPAdapter) Rollback(ctx context.Context, token string) error {
	if strings.TrimSpace(token) == "" {
		return fmt.Errorf("%s rollback: empty token", a.system)
	}
	if a.baseURL == "" {
		a.logger.Infof("adapter %s: dry-run rollback token %s", a.system, token)
		return nil
	}
	if err := a.post(ctx, "/actions/rollback", map[string]any{"rollback_token": token}, nil); err != nil {
		return fmt.Errorf("%s rollback: %w", a.system, err)
	}
	return nil
}

func (a *HTTPAdapter) post(ctx context.Context, path string, payload any, out any) error {
	raw, _ := json.Marshal(payload)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+path, bytes.NewReader(raw))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := a.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("%s status %d", a.system, resp.StatusCode)
	}
	if out == nil {
		return nil
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return err
	}
	return json.Unmarshal(body, out)
}

func newToken() (string, error) {
	id, err := uuid.NewV4()
	if err != nil {
		return "", fmt.Errorf("rollback token: %w", err)
	}
	return id.String(), nil
}

// DefaultRegistry wires the four built-in systems by action type.
func DefaultRegistry(cfg config.AdaptersConfig, logger *utils.Logger) *Registry {
	timeout := time.Duration(cfg.TimeoutSec) * time.Second
	reg := NewRegistry()
	reg.Register("property_update", NewHTTPAdapter("property", cfg.PropertyURL, timeout, logger))
	reg.Register("access_control", NewHTTPAdapter("access-control", cfg.AccessControlURL, timeout, logger))
	reg.Register("notification", NewHTTPAdapter("notification", cfg.NotificationURL, timeout, logger))
	reg.Register("workforce_task", NewHTTPAdapter("workforce", cfg.WorkforceURL, timeout, logger))
	return reg
}
