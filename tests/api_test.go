package tests

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/crypto/bcrypt"

	"sapsan-iro/api"
	"sapsan-iro/config"
	"sapsan-iro/core/store"
	"sapsan-iro/core/utils"
)

func apiRouter(t *testing.T, env *testEnv) http.Handler {
	t.Helper()
	server, err := api.NewServer(env.cfg, utils.NewNopLogger(), prometheus.NewRegistry(),
		env.incidents, env.plans, env.audits, env.engine, env.escalationMgr, env.tracker)
	if err != nil {
		t.Fatalf("server: %v", err)
	}
	return server.Router()
}

func postJSON(t *testing.T, router http.Handler, path string, body any, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	raw, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(raw))
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	return rr
}

func getPath(router http.Handler, path string, headers map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	return rr
}

func TestAPISubmitGetAndAudit(t *testing.T) {
	env := setupEnv(t)
	router := apiRouter(t, env)

	rr := postJSON(t, router, "/api/incidents", intrusionReport("api:evt-1"), nil)
	if rr.Code != http.StatusAccepted {
		t.Fatalf("submit code %d: %s", rr.Code, rr.Body.String())
	}
	var created struct {
		ID     string `json:"id"`
		Merged bool   `json:"merged"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &created); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if created.Merged {
		t.Fatalf("fresh report reported as merged")
	}

	env.waitForStatus(t, created.ID, store.StatusResolved)

	rr = getPath(router, "/api/incidents/"+created.ID, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("get code %d", rr.Code)
	}
	var fetched store.Incident
	if err := json.Unmarshal(rr.Body.Bytes(), &fetched); err != nil {
		t.Fatalf("decode incident: %v", err)
	}
	if fetched.Status != store.StatusResolved {
		t.Fatalf("incident status %s, want resolved", fetched.Status)
	}

	rr = getPath(router, "/api/incidents/"+created.ID+"/audit", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("audit code %d", rr.Code)
	}
	var audit struct {
		Count int `json:"count"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &audit); err != nil {
		t.Fatalf("decode audit: %v", err)
	}
	if audit.Count == 0 {
		t.Fatalf("empty audit trail over the API")
	}

	rr = getPath(router, "/api/incidents/missing-id", nil)
	if rr.Code != http.StatusNotFound {
		t.Fatalf("missing incident code %d, want 404", rr.Code)
	}
}

func TestAPIDuplicateReportAnswersMerged(t *testing.T) {
	env := setupEnv(t)
	router := apiRouter(t, env)

	rr := postJSON(t, router, "/api/incidents", paymentAnomalyReport("api:dup-1"), nil)
	if rr.Code != http.StatusAccepted {
		t.Fatalf("submit code %d", rr.Code)
	}
	var first struct {
		ID string `json:"id"`
	}
	_ = json.Unmarshal(rr.Body.Bytes(), &first)
	env.waitForStatus(t, first.ID, store.StatusAwaitingApproval)

	rr = postJSON(t, router, "/api/incidents", paymentAnomalyReport("api:dup-1"), nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("duplicate code %d, want 200", rr.Code)
	}
	var second struct {
		ID     string `json:"id"`
		Merged bool   `json:"merged"`
	}
	_ = json.Unmarshal(rr.Body.Bytes(), &second)
	if !second.Merged || second.ID != first.ID {
		t.Fatalf("duplicate not merged: %+v", second)
	}
}

func TestAPIEscalationResolveFlow(t *testing.T) {
	env := setupEnv(t)
	router := apiRouter(t, env)

	incident, _, err := env.engine.Submit(context.Background(), paymentAnomalyReport("api:esc-1"))
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	env.waitForStatus(t, incident.ID, store.StatusAwaitingApproval)
	esc := env.waitForEscalation(t, incident.ID)

	rr := getPath(router, "/api/escalations", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("list code %d", rr.Code)
	}
	var listing struct {
		Count int `json:"count"`
	}
	_ = json.Unmarshal(rr.Body.Bytes(), &listing)
	if listing.Count != 1 {
		t.Fatalf("pending count %d, want 1", listing.Count)
	}

	rr = postJSON(t, router, "/api/escalations/"+esc.ID+"/resolve",
		map[string]string{"decision": "bounce", "resolver_ref": "ops:x"}, nil)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("bad decision code %d, want 400", rr.Code)
	}

	rr = postJSON(t, router, "/api/escalations/"+esc.ID+"/resolve",
		map[string]string{"decision": "approve", "resolver_ref": "ops:x"}, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("approve code %d: %s", rr.Code, rr.Body.String())
	}
	env.waitForStatus(t, incident.ID, store.StatusResolved)

	rr = postJSON(t, router, "/api/escalations/"+esc.ID+"/resolve",
		map[string]string{"decision": "reject", "resolver_ref": "ops:x"}, nil)
	if rr.Code != http.StatusConflict {
		t.Fatalf("second resolve code %d, want 409", rr.Code)
	}
}

func TestAPIKeyAuthAndRoles(t *testing.T) {
	env := setupEnv(t)
	operatorHash, err := bcrypt.GenerateFromPassword([]byte("op-key"), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	viewerHash, err := bcrypt.GenerateFromPassword([]byte("view-key"), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	env.cfg.Auth = config.AuthConfig{Operators: []config.OperatorKey{
		{Name: "dispatcher", Role: "operator", KeyHash: string(operatorHash)},
		{Name: "analyst", Role: "viewer", KeyHash: string(viewerHash)},
	}}
	router := apiRouter(t, env)

	if rr := getPath(router, "/api/incidents", nil); rr.Code != http.StatusUnauthorized {
		t.Fatalf("no key code %d, want 401", rr.Code)
	}
	if rr := getPath(router, "/api/incidents", map[string]string{"X-Api-Key": "wrong"}); rr.Code != http.StatusUnauthorized {
		t.Fatalf("bad key code %d, want 401", rr.Code)
	}
	if rr := getPath(router, "/api/incidents", map[string]string{"X-Api-Key": "view-key"}); rr.Code != http.StatusOK {
		t.Fatalf("viewer read code %d, want 200", rr.Code)
	}
	if rr := postJSON(t, router, "/api/incidents", intrusionReport("api:auth-1"),
		map[string]string{"X-Api-Key": "view-key"}); rr.Code != http.StatusForbidden {
		t.Fatalf("viewer write code %d, want 403", rr.Code)
	}
	if rr := postJSON(t, router, "/api/incidents", intrusionReport("api:auth-1"),
		map[string]string{"X-Api-Key": "op-key"}); rr.Code != http.StatusAccepted {
		t.Fatalf("operator write code %d, want 202", rr.Code)
	}

	if rr := getPath(router, "/healthz", nil); rr.Code != http.StatusOK {
		t.Fatalf("healthz code %d", rr.Code)
	}
	if rr := getPath(router, "/metrics", nil); rr.Code != http.StatusOK {
		t.Fatalf("metrics code %d", rr.Code)
	}
}
