package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/loyaltyco/loyalty/engine"
	"github.com/loyaltyco/loyalty/events"
	"github.com/loyaltyco/loyalty/ledger"
)

const testWorkflow = `{
	"workflowName": "PurchaseRule",
	"rules": [
		{
			"ruleName": "BigSpender",
			"expression": "PurchaseAmount > 5000",
			"onSuccess": "100"
		}
	]
}`

// newTestServer wires a server over in-memory stores. No database, no
// broker.
func newTestServer(t *testing.T) *Server {
	t.Helper()

	log := slog.New(slog.DiscardHandler)
	ruleStore := engine.NewInMemoryRuleStore()
	ledgerStore := ledger.NewInMemoryStore()

	compiler, err := engine.NewCompiler()
	if err != nil {
		t.Fatalf("NewCompiler() failed: %v", err)
	}

	registry := engine.NewRegistry(ruleStore, compiler, log)
	if err := registry.Reload(context.Background()); err != nil {
		t.Fatalf("Reload() failed: %v", err)
	}

	evaluator := engine.NewEvaluator(registry, ledgerStore, log)
	svc := ledger.NewService(ledgerStore, evaluator, events.NoopPublisher{}, log)

	return newServer(log, nil, ruleStore, compiler, registry, svc, ledgerStore)
}

func doJSON(t *testing.T, server *Server, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("failed to encode request body: %v", err)
		}
	}

	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	server.ServeHTTP(rec, req)
	return rec
}

func createRule(t *testing.T, server *Server, name, ruleJSON string, active bool) int64 {
	t.Helper()

	rec := doJSON(t, server, http.MethodPost, "/api/earning-rules/", CreateEarningRuleRequest{
		Name:     name,
		RuleJSON: ruleJSON,
		IsActive: active,
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create rule returned %d: %s", rec.Code, rec.Body.String())
	}

	var rule engine.EarningRule
	if err := json.Unmarshal(rec.Body.Bytes(), &rule); err != nil {
		t.Fatalf("failed to decode rule: %v", err)
	}
	return rule.ID
}

func TestHealthEndpoint(t *testing.T) {
	server := newTestServer(t)

	rec := doJSON(t, server, http.MethodGet, "/api/v1/health", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("health returned %d, want 200", rec.Code)
	}

	var body map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("failed to decode health body: %v", err)
	}
	if body["status"] != "healthy" {
		t.Errorf("status = %v, want healthy", body["status"])
	}
}

func TestCreateRuleRejectsInvalidDocument(t *testing.T) {
	server := newTestServer(t)

	tests := []struct {
		name string
		body CreateEarningRuleRequest
	}{
		{"empty rule JSON", CreateEarningRuleRequest{Name: "r", RuleJSON: ""}},
		{"not JSON", CreateEarningRuleRequest{Name: "r", RuleJSON: "{nope"}},
		{"missing workflow name", CreateEarningRuleRequest{Name: "r", RuleJSON: `{"rules": []}`}},
		{"missing name", CreateEarningRuleRequest{RuleJSON: testWorkflow}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := doJSON(t, server, http.MethodPost, "/api/earning-rules/", tt.body)
			if rec.Code != http.StatusBadRequest {
				t.Errorf("create returned %d, want 400: %s", rec.Code, rec.Body.String())
			}
		})
	}
}

func TestRuleCRUD(t *testing.T) {
	server := newTestServer(t)

	id := createRule(t, server, "Purchase Rule", testWorkflow, true)

	rec := doJSON(t, server, http.MethodGet, fmt.Sprintf("/api/earning-rules/%d", id), nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("get rule returned %d", rec.Code)
	}

	var rule engine.EarningRule
	if err := json.Unmarshal(rec.Body.Bytes(), &rule); err != nil {
		t.Fatalf("failed to decode rule: %v", err)
	}
	if rule.Name != "Purchase Rule" || !rule.Active {
		t.Errorf("unexpected rule: %+v", rule)
	}

	rec = doJSON(t, server, http.MethodDelete, fmt.Sprintf("/api/earning-rules/%d", id), nil)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("delete returned %d, want 204", rec.Code)
	}

	rec = doJSON(t, server, http.MethodGet, fmt.Sprintf("/api/earning-rules/%d", id), nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("get after delete returned %d, want 404", rec.Code)
	}
}

func TestRuleNotFoundResponses(t *testing.T) {
	server := newTestServer(t)

	rec := doJSON(t, server, http.MethodGet, "/api/earning-rules/9999", nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("get returned %d, want 404", rec.Code)
	}

	rec = doJSON(t, server, http.MethodDelete, "/api/earning-rules/9999", nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("delete returned %d, want 404", rec.Code)
	}

	rec = doJSON(t, server, http.MethodGet, "/api/earning-rules/abc", nil)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("non-numeric id returned %d, want 400", rec.Code)
	}
}

func TestPatchRuleStatusTakesEffect(t *testing.T) {
	server := newTestServer(t)

	id := createRule(t, server, "Purchase Rule", testWorkflow, false)

	// Inactive rule does not award.
	rec := doJSON(t, server, http.MethodPost, "/api/transactions/", TransactionRequest{UserID: 1, Amount: 6000})
	if rec.Code != http.StatusOK {
		t.Fatalf("record returned %d: %s", rec.Code, rec.Body.String())
	}
	var resp TransactionResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if resp.PointsEarned != 0 {
		t.Errorf("inactive rule awarded %d points", resp.PointsEarned)
	}

	active := true
	rec = doJSON(t, server, http.MethodPatch, fmt.Sprintf("/api/earning-rules/%d", id), UpdateRuleStatusRequest{IsActive: &active})
	if rec.Code != http.StatusNoContent {
		t.Fatalf("patch returned %d, want 204: %s", rec.Code, rec.Body.String())
	}

	rec = doJSON(t, server, http.MethodPost, "/api/transactions/", TransactionRequest{UserID: 2, Amount: 6000})
	if rec.Code != http.StatusOK {
		t.Fatalf("record returned %d", rec.Code)
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if resp.PointsEarned != 100 {
		t.Errorf("points = %d, want 100 after activation", resp.PointsEarned)
	}
}

func TestPatchRuleStatusRequiresField(t *testing.T) {
	server := newTestServer(t)
	id := createRule(t, server, "Purchase Rule", testWorkflow, true)

	rec := doJSON(t, server, http.MethodPatch, fmt.Sprintf("/api/earning-rules/%d", id), map[string]any{})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("patch without isActive returned %d, want 400", rec.Code)
	}
}

func TestRecordTransactionAndBalance(t *testing.T) {
	server := newTestServer(t)
	createRule(t, server, "Purchase Rule", testWorkflow, true)

	rec := doJSON(t, server, http.MethodPost, "/api/transactions/", TransactionRequest{UserID: 7, Amount: 6000})
	if rec.Code != http.StatusOK {
		t.Fatalf("record returned %d: %s", rec.Code, rec.Body.String())
	}

	var resp TransactionResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if resp.PointsEarned != 100 || resp.CurrentBalance != 100 {
		t.Errorf("response = %+v, want 100 points and balance", resp)
	}
	if resp.Transaction == nil || resp.Transaction.ID == 0 {
		t.Error("transaction missing from response")
	}

	rec = doJSON(t, server, http.MethodGet, "/api/points/7", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("balance returned %d", rec.Code)
	}
	var balance BalanceResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &balance); err != nil {
		t.Fatalf("failed to decode balance: %v", err)
	}
	if balance.Balance != 100 {
		t.Errorf("balance = %d, want 100", balance.Balance)
	}
}

func TestRecordTransactionValidation(t *testing.T) {
	server := newTestServer(t)

	rec := doJSON(t, server, http.MethodPost, "/api/transactions/", TransactionRequest{Amount: 100})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("missing user returned %d, want 400", rec.Code)
	}

	rec = doJSON(t, server, http.MethodPost, "/api/transactions/", TransactionRequest{UserID: 1, Amount: -5})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("negative amount returned %d, want 400", rec.Code)
	}
}

func TestSimulateDoesNotAffectBalance(t *testing.T) {
	server := newTestServer(t)
	createRule(t, server, "Purchase Rule", testWorkflow, true)

	rec := doJSON(t, server, http.MethodPost, "/api/transactions/simulate", TransactionRequest{UserID: 9, Amount: 6000})
	if rec.Code != http.StatusOK {
		t.Fatalf("simulate returned %d: %s", rec.Code, rec.Body.String())
	}

	var resp SimulateResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if resp.PointsEarned != 100 {
		t.Errorf("simulated points = %d, want 100", resp.PointsEarned)
	}

	rec = doJSON(t, server, http.MethodGet, "/api/points/9", nil)
	var balance BalanceResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &balance); err != nil {
		t.Fatalf("failed to decode balance: %v", err)
	}
	if balance.Balance != 0 {
		t.Errorf("balance = %d after simulate, want 0", balance.Balance)
	}
}

func TestListRulesEmpty(t *testing.T) {
	server := newTestServer(t)

	rec := doJSON(t, server, http.MethodGet, "/api/earning-rules/", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("list returned %d", rec.Code)
	}

	var body struct {
		Rules []*engine.EarningRule `json:"rules"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("failed to decode list: %v", err)
	}
	if body.Rules == nil || len(body.Rules) != 0 {
		t.Errorf("rules = %v, want empty array", body.Rules)
	}
}
