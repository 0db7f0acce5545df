package http

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"agentfin/internal/model"
	"agentfin/internal/onchain"
	"agentfin/internal/repository"
	"agentfin/internal/service"
	"agentfin/internal/webhook"
)

func newTestMux(t *testing.T) (*http.ServeMux, *webhook.Notifier) {
	t.Helper()
	store := repository.NewMemoryStore()
	allowances := service.NewAllowanceEngine(store, nil)
	ledger := service.NewLedger(store, allowances, nil)
	biller := service.NewBiller(store, ledger, nil)
	notifier := webhook.NewNotifier()
	chain := onchain.NewClient("http://127.0.0.1:0", "", nil)

	mux := http.NewServeMux()
	NewHandler(allowances, ledger, biller, notifier, chain).Register(mux)
	return mux, notifier
}

func doJSON(t *testing.T, mux *http.ServeMux, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
	}
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder, v any) {
	t.Helper()
	if err := json.Unmarshal(rec.Body.Bytes(), v); err != nil {
		t.Fatalf("decode response %q: %v", rec.Body.String(), err)
	}
}

func createAllowance(t *testing.T, mux *http.ServeMux, agentID string, daily int64) model.Allowance {
	t.Helper()
	rec := doJSON(t, mux, http.MethodPost, "/api/allowances",
		`{"agent_id":"`+agentID+`","owner_id":"owner-1","daily_limit":`+jsonInt(daily)+`}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("create allowance: %d %s", rec.Code, rec.Body.String())
	}
	var a model.Allowance
	decodeBody(t, rec, &a)
	return a
}

func jsonInt(n int64) string {
	b, _ := json.Marshal(n)
	return string(b)
}

func TestHealth(t *testing.T) {
	mux, _ := newTestMux(t)
	rec := doJSON(t, mux, http.MethodGet, "/health", "")
	if rec.Code != http.StatusOK || rec.Body.String() != "OK" {
		t.Errorf("health = %d %q", rec.Code, rec.Body.String())
	}
}

func TestCreateAllowance_Validation(t *testing.T) {
	mux, _ := newTestMux(t)

	tests := []struct {
		name    string
		body    string
		wantErr string
	}{
		{"missing agent", `{"owner_id":"o"}`, "Agent ID is required"},
		{"missing owner", `{"agent_id":"a"}`, "Owner ID is required"},
		{"negative limit", `{"agent_id":"a","owner_id":"o","daily_limit":-1}`, "Limits must not be negative"},
		{"bad json", `{`, "invalid_json"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := doJSON(t, mux, http.MethodPost, "/api/allowances", tt.body)
			if rec.Code != http.StatusBadRequest {
				t.Fatalf("code = %d", rec.Code)
			}
			var got map[string]string
			decodeBody(t, rec, &got)
			if got["error"] != tt.wantErr {
				t.Errorf("error = %q, want %q", got["error"], tt.wantErr)
			}
		})
	}
}

func TestSpendFlow(t *testing.T) {
	mux, _ := newTestMux(t)
	a := createAllowance(t, mux, "agent-1", 100)

	rec := doJSON(t, mux, http.MethodPost, "/api/spend/check", `{"agent_id":"agent-1","amount":50}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("check = %d %s", rec.Code, rec.Body.String())
	}
	var check model.CheckResult
	decodeBody(t, rec, &check)
	if !check.Allowed || check.AllowanceID != a.ID {
		t.Errorf("check = %+v", check)
	}

	rec = doJSON(t, mux, http.MethodPost, "/api/spend", `{"agent_id":"agent-1","amount":50,"category":"api_call"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("spend = %d %s", rec.Code, rec.Body.String())
	}
	var deduct model.DeductResult
	decodeBody(t, rec, &deduct)
	if !deduct.Success || deduct.TransactionID == "" {
		t.Errorf("deduct = %+v", deduct)
	}

	// Over the remaining budget: rejected with 422 and the reason in the body.
	rec = doJSON(t, mux, http.MethodPost, "/api/spend", `{"agent_id":"agent-1","amount":51}`)
	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("over-limit spend = %d", rec.Code)
	}
	decodeBody(t, rec, &deduct)
	if deduct.Success || deduct.Reason != "Daily limit exceeded" {
		t.Errorf("deduct = %+v", deduct)
	}

	rec = doJSON(t, mux, http.MethodGet, "/api/transactions?allowance_id="+a.ID, "")
	var txPage struct {
		Transactions []model.Transaction `json:"transactions"`
	}
	decodeBody(t, rec, &txPage)
	if len(txPage.Transactions) != 1 {
		t.Errorf("got %d transactions, want 1", len(txPage.Transactions))
	}
}

func TestSpend_MissingAgent(t *testing.T) {
	mux, _ := newTestMux(t)
	rec := doJSON(t, mux, http.MethodPost, "/api/spend", `{"amount":50}`)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("code = %d", rec.Code)
	}
}

func TestGetAllowance_NotFound(t *testing.T) {
	mux, _ := newTestMux(t)
	rec := doJSON(t, mux, http.MethodGet, "/api/allowances/missing", "")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("code = %d", rec.Code)
	}
	var got map[string]string
	decodeBody(t, rec, &got)
	if got["error"] != "Allowance not found" {
		t.Errorf("error = %q", got["error"])
	}
}

func TestUpdateAllowance(t *testing.T) {
	mux, _ := newTestMux(t)
	a := createAllowance(t, mux, "agent-1", 100)

	rec := doJSON(t, mux, http.MethodPatch, "/api/allowances/"+a.ID, `{"daily_limit":250,"status":"paused"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("patch = %d %s", rec.Code, rec.Body.String())
	}
	var got model.Allowance
	decodeBody(t, rec, &got)
	if got.DailyLimit != 250 || got.Status != model.AllowancePaused {
		t.Errorf("allowance = %+v", got)
	}

	rec = doJSON(t, mux, http.MethodPatch, "/api/allowances/"+a.ID, `{"status":"bogus"}`)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("bad status code = %d", rec.Code)
	}
}

func TestInvoiceLifecycleOverHTTP(t *testing.T) {
	mux, _ := newTestMux(t)
	createAllowance(t, mux, "agent-1", 1000)

	rec := doJSON(t, mux, http.MethodPost, "/api/invoices",
		`{"issuer_id":"issuer-1","recipient_id":"agent-1","amount":300,"memo":"june compute"}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("create = %d %s", rec.Code, rec.Body.String())
	}
	var inv model.Invoice
	decodeBody(t, rec, &inv)
	if inv.Status != model.InvoiceDraft || inv.Memo != "june compute" {
		t.Errorf("invoice = %+v", inv)
	}

	rec = doJSON(t, mux, http.MethodPost, "/api/invoices/"+inv.ID+"/send", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("send = %d %s", rec.Code, rec.Body.String())
	}

	rec = doJSON(t, mux, http.MethodPost, "/api/invoices/"+inv.ID+"/pay", `{"agent_id":"agent-1"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("pay = %d %s", rec.Code, rec.Body.String())
	}
	var paid struct {
		Status        string `json:"status"`
		TransactionID string `json:"transaction_id"`
	}
	decodeBody(t, rec, &paid)
	if paid.Status != "paid" || paid.TransactionID == "" {
		t.Errorf("pay response = %+v", paid)
	}

	// Double pay is a 422 with the canonical reason.
	rec = doJSON(t, mux, http.MethodPost, "/api/invoices/"+inv.ID+"/pay", `{"agent_id":"agent-1"}`)
	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("double pay = %d", rec.Code)
	}
	var got map[string]string
	decodeBody(t, rec, &got)
	if got["error"] != "Invoice already paid" {
		t.Errorf("error = %q", got["error"])
	}
}

func TestInvoiceValidation(t *testing.T) {
	mux, _ := newTestMux(t)
	rec := doJSON(t, mux, http.MethodPost, "/api/invoices", `{"issuer_id":"i","recipient_id":"r","amount":0}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("code = %d", rec.Code)
	}
	var got map[string]string
	decodeBody(t, rec, &got)
	if got["error"] != "Amount must be positive" {
		t.Errorf("error = %q", got["error"])
	}
}

func TestSubscriptionRoutes(t *testing.T) {
	mux, _ := newTestMux(t)
	a := createAllowance(t, mux, "agent-1", 1000)

	rec := doJSON(t, mux, http.MethodPost, "/api/subscriptions",
		`{"subscriber_id":"agent-1","provider_id":"provider-1","plan_id":"basic","amount":50,"interval":"weekly","allowance_id":"`+a.ID+`"}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("create = %d %s", rec.Code, rec.Body.String())
	}
	var sub model.Subscription
	decodeBody(t, rec, &sub)
	if sub.Interval != model.IntervalWeekly {
		t.Errorf("interval = %q", sub.Interval)
	}

	rec = doJSON(t, mux, http.MethodPost, "/api/subscriptions/"+sub.ID+"/pause", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("pause = %d", rec.Code)
	}
	rec = doJSON(t, mux, http.MethodPost, "/api/subscriptions/"+sub.ID+"/resume", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("resume = %d", rec.Code)
	}

	// Billing through the manual trigger settles the created-due subscription.
	rec = doJSON(t, mux, http.MethodPost, "/api/billing/run", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("billing run = %d %s", rec.Code, rec.Body.String())
	}
	var result model.BatchResult
	decodeBody(t, rec, &result)
	if result.Processed != 1 || result.Failures != 0 {
		t.Errorf("batch = %+v", result)
	}

	rec = doJSON(t, mux, http.MethodPost, "/api/subscriptions/"+sub.ID+"/cancel", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("cancel = %d", rec.Code)
	}

	rec = doJSON(t, mux, http.MethodPost, "/api/subscriptions",
		`{"subscriber_id":"agent-1","provider_id":"p","plan_id":"basic","amount":10,"interval":"hourly","allowance_id":"`+a.ID+`"}`)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("bad interval = %d", rec.Code)
	}
}

func TestSubscriptionValidation(t *testing.T) {
	mux, _ := newTestMux(t)

	tests := []struct {
		name    string
		body    string
		wantErr string
	}{
		{"missing subscriber", `{"provider_id":"p","plan_id":"basic","amount":10,"allowance_id":"a"}`, "Subscriber ID is required"},
		{"missing provider", `{"subscriber_id":"s","plan_id":"basic","amount":10,"allowance_id":"a"}`, "Provider ID is required"},
		{"missing plan", `{"subscriber_id":"s","provider_id":"p","amount":10,"allowance_id":"a"}`, "Plan ID is required"},
		{"zero amount", `{"subscriber_id":"s","provider_id":"p","plan_id":"basic","amount":0,"allowance_id":"a"}`, "Amount must be positive"},
		{"bad interval", `{"subscriber_id":"s","provider_id":"p","plan_id":"basic","amount":10,"interval":"hourly","allowance_id":"a"}`, "Invalid interval"},
		{"missing allowance", `{"subscriber_id":"s","provider_id":"p","plan_id":"basic","amount":10}`, "Allowance ID is required"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := doJSON(t, mux, http.MethodPost, "/api/subscriptions", tt.body)
			if rec.Code != http.StatusBadRequest {
				t.Fatalf("code = %d %s", rec.Code, rec.Body.String())
			}
			var got map[string]string
			decodeBody(t, rec, &got)
			if got["error"] != tt.wantErr {
				t.Errorf("error = %q, want %q", got["error"], tt.wantErr)
			}
		})
	}
}

func TestAgentSummaryRoute(t *testing.T) {
	mux, _ := newTestMux(t)
	createAllowance(t, mux, "agent-1", 100)
	doJSON(t, mux, http.MethodPost, "/api/spend", `{"agent_id":"agent-1","amount":40}`)

	rec := doJSON(t, mux, http.MethodGet, "/api/agents/agent-1/summary", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("summary = %d %s", rec.Code, rec.Body.String())
	}
	var summary model.AgentSummary
	decodeBody(t, rec, &summary)
	if summary.AgentID != "agent-1" || summary.Spending.Today != 40 || summary.Limits.Daily != 100 {
		t.Errorf("summary = %+v", summary)
	}
}

func TestWebhookRoutes(t *testing.T) {
	mux, notifier := newTestMux(t)

	rec := doJSON(t, mux, http.MethodPost, "/api/webhooks", `{"agent_id":"agent-1","url":"http://hooks.example/a"}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("register = %d", rec.Code)
	}
	rec = doJSON(t, mux, http.MethodPost, "/api/webhooks", `{"agent_id":"agent-1"}`)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("missing url = %d", rec.Code)
	}

	rec = doJSON(t, mux, http.MethodGet, "/api/webhooks/agent-1", "")
	var got struct {
		URLs []string `json:"urls"`
	}
	decodeBody(t, rec, &got)
	if len(got.URLs) != 1 || got.URLs[0] != "http://hooks.example/a" {
		t.Errorf("urls = %v", got.URLs)
	}

	rec = doJSON(t, mux, http.MethodDelete, "/api/webhooks", `{"agent_id":"agent-1","url":"http://hooks.example/a"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("unregister = %d", rec.Code)
	}
	if urls := notifier.URLs("agent-1"); len(urls) != 0 {
		t.Errorf("urls after unregister = %v", urls)
	}
}

func TestWalletBalance_ErrorEmbeddedInBody(t *testing.T) {
	mux, _ := newTestMux(t)

	// The configured RPC endpoint is unreachable; the route still answers 200
	// with a zero balance and the error attached.
	rec := doJSON(t, mux, http.MethodGet, "/api/wallet/0x1234/balance", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("code = %d", rec.Code)
	}
	var got map[string]any
	decodeBody(t, rec, &got)
	if got["balance"] != "0" || got["error"] == nil {
		t.Errorf("body = %v", got)
	}
}

func TestVerifyWallet_RequiredValidation(t *testing.T) {
	mux, _ := newTestMux(t)
	rec := doJSON(t, mux, http.MethodGet, "/api/wallet/0x1234/verify", "")
	if rec.Code != http.StatusBadRequest {
		t.Errorf("missing required = %d", rec.Code)
	}
	rec = doJSON(t, mux, http.MethodGet, "/api/wallet/0x1234/verify?required=-1", "")
	if rec.Code != http.StatusBadRequest {
		t.Errorf("negative required = %d", rec.Code)
	}
}
