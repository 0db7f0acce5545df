package http

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"agentfin/internal/model"
	"agentfin/internal/onchain"
	"agentfin/internal/service"
	"agentfin/internal/webhook"
)

type Handler struct {
	allowances *service.AllowanceEngine
	ledger     *service.Ledger
	biller     *service.Biller
	webhooks   *webhook.Notifier
	chain      *onchain.Client
}

func NewHandler(allowances *service.AllowanceEngine, ledger *service.Ledger, biller *service.Biller, webhooks *webhook.Notifier, chain *onchain.Client) *Handler {
	return &Handler{
		allowances: allowances,
		ledger:     ledger,
		biller:     biller,
		webhooks:   webhooks,
		chain:      chain,
	}
}

func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /health", h.Health)

	mux.HandleFunc("POST /api/allowances", h.CreateAllowance)
	mux.HandleFunc("GET /api/allowances", h.ListAllowances)
	mux.HandleFunc("GET /api/allowances/{id}", h.GetAllowance)
	mux.HandleFunc("PATCH /api/allowances/{id}", h.UpdateAllowance)
	mux.HandleFunc("POST /api/spend/check", h.CheckSpend)
	mux.HandleFunc("POST /api/spend", h.Spend)
	mux.HandleFunc("GET /api/transactions", h.ListTransactions)
	mux.HandleFunc("GET /api/agents/{agentId}/summary", h.AgentSummary)

	mux.HandleFunc("POST /api/invoices", h.CreateInvoice)
	mux.HandleFunc("GET /api/invoices", h.ListInvoices)
	mux.HandleFunc("GET /api/invoices/{id}", h.GetInvoice)
	mux.HandleFunc("POST /api/invoices/{id}/send", h.SendInvoice)
	mux.HandleFunc("POST /api/invoices/{id}/pay", h.PayInvoice)

	mux.HandleFunc("POST /api/subscriptions", h.CreateSubscription)
	mux.HandleFunc("GET /api/subscriptions", h.ListSubscriptions)
	mux.HandleFunc("GET /api/subscriptions/{id}", h.GetSubscription)
	mux.HandleFunc("POST /api/subscriptions/{id}/cancel", h.CancelSubscription)
	mux.HandleFunc("POST /api/subscriptions/{id}/pause", h.PauseSubscription)
	mux.HandleFunc("POST /api/subscriptions/{id}/resume", h.ResumeSubscription)
	mux.HandleFunc("POST /api/billing/run", h.RunBilling)

	mux.HandleFunc("POST /api/webhooks", h.RegisterWebhook)
	mux.HandleFunc("DELETE /api/webhooks", h.UnregisterWebhook)
	mux.HandleFunc("GET /api/webhooks/{agentId}", h.ListWebhooks)

	mux.HandleFunc("GET /api/wallet/{address}/balance", h.WalletBalance)
	mux.HandleFunc("GET /api/wallet/{address}/verify", h.VerifyWallet)
}

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

func (h *Handler) CreateAllowance(w http.ResponseWriter, r *http.Request) {
	var req struct {
		AgentID      string `json:"agent_id"`
		OwnerID      string `json:"owner_id"`
		DailyLimit   int64  `json:"daily_limit"`
		WeeklyLimit  int64  `json:"weekly_limit"`
		MonthlyLimit int64  `json:"monthly_limit"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondError(w, http.StatusBadRequest, "invalid_json")
		return
	}
	if req.AgentID == "" {
		h.respondError(w, http.StatusBadRequest, "Agent ID is required")
		return
	}
	if req.OwnerID == "" {
		h.respondError(w, http.StatusBadRequest, "Owner ID is required")
		return
	}
	if req.DailyLimit < 0 || req.WeeklyLimit < 0 || req.MonthlyLimit < 0 {
		h.respondError(w, http.StatusBadRequest, "Limits must not be negative")
		return
	}
	a, err := h.allowances.CreateAllowance(r.Context(), req.AgentID, req.OwnerID, req.DailyLimit, req.WeeklyLimit, req.MonthlyLimit)
	if err != nil {
		h.respondServiceError(w, err)
		return
	}
	h.respondJSON(w, http.StatusCreated, a)
}

func (h *Handler) ListAllowances(w http.ResponseWriter, r *http.Request) {
	f := model.AllowanceFilter{
		AgentID: r.URL.Query().Get("agent_id"),
		Status:  model.AllowanceStatus(r.URL.Query().Get("status")),
		Page:    pageFromQuery(r),
	}
	items, err := h.allowances.ListAllowances(r.Context(), f)
	if err != nil {
		h.respondServiceError(w, err)
		return
	}
	h.respondJSON(w, http.StatusOK, map[string]any{"allowances": items})
}

func (h *Handler) GetAllowance(w http.ResponseWriter, r *http.Request) {
	a, err := h.allowances.GetAllowance(r.Context(), r.PathValue("id"))
	if err != nil {
		h.respondServiceError(w, err)
		return
	}
	h.respondJSON(w, http.StatusOK, a)
}

func (h *Handler) UpdateAllowance(w http.ResponseWriter, r *http.Request) {
	var req struct {
		DailyLimit   *int64  `json:"daily_limit"`
		WeeklyLimit  *int64  `json:"weekly_limit"`
		MonthlyLimit *int64  `json:"monthly_limit"`
		Status       *string `json:"status"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondError(w, http.StatusBadRequest, "invalid_json")
		return
	}
	var status *model.AllowanceStatus
	if req.Status != nil {
		s := model.AllowanceStatus(*req.Status)
		if s != model.AllowanceActive && s != model.AllowancePaused && s != model.AllowanceExhausted {
			h.respondError(w, http.StatusBadRequest, "Invalid status")
			return
		}
		status = &s
	}
	a, err := h.allowances.UpdateAllowance(r.Context(), r.PathValue("id"), req.DailyLimit, req.WeeklyLimit, req.MonthlyLimit, status)
	if err != nil {
		h.respondServiceError(w, err)
		return
	}
	h.respondJSON(w, http.StatusOK, a)
}

func (h *Handler) CheckSpend(w http.ResponseWriter, r *http.Request) {
	var req model.SpendRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondError(w, http.StatusBadRequest, "invalid_json")
		return
	}
	if req.AgentID == "" && req.AllowanceID == "" {
		h.respondError(w, http.StatusBadRequest, "Agent ID is required")
		return
	}
	res, err := h.allowances.CheckSpend(r.Context(), req)
	if err != nil {
		h.respondServiceError(w, err)
		return
	}
	h.respondJSON(w, http.StatusOK, res)
}

func (h *Handler) Spend(w http.ResponseWriter, r *http.Request) {
	var req model.SpendRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondError(w, http.StatusBadRequest, "invalid_json")
		return
	}
	if req.AgentID == "" && req.AllowanceID == "" {
		h.respondError(w, http.StatusBadRequest, "Agent ID is required")
		return
	}
	res, err := h.allowances.DeductSpend(r.Context(), req)
	if err != nil {
		h.respondServiceError(w, err)
		return
	}
	status := http.StatusOK
	if !res.Success {
		status = http.StatusUnprocessableEntity
	}
	h.respondJSON(w, status, res)
}

func (h *Handler) ListTransactions(w http.ResponseWriter, r *http.Request) {
	f := model.TransactionFilter{
		AllowanceID: r.URL.Query().Get("allowance_id"),
		Page:        pageFromQuery(r),
	}
	items, err := h.allowances.ListTransactions(r.Context(), f)
	if err != nil {
		h.respondServiceError(w, err)
		return
	}
	h.respondJSON(w, http.StatusOK, map[string]any{"transactions": items})
}

func (h *Handler) AgentSummary(w http.ResponseWriter, r *http.Request) {
	summary, err := h.allowances.AgentSummary(r.Context(), r.PathValue("agentId"))
	if err != nil {
		h.respondServiceError(w, err)
		return
	}
	h.respondJSON(w, http.StatusOK, summary)
}

func (h *Handler) CreateInvoice(w http.ResponseWriter, r *http.Request) {
	var req struct {
		IssuerID    string `json:"issuer_id"`
		RecipientID string `json:"recipient_id"`
		Amount      int64  `json:"amount"`
		Currency    string `json:"currency"`
		Memo        string `json:"memo"`
		DueAt       *int64 `json:"due_at"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondError(w, http.StatusBadRequest, "invalid_json")
		return
	}
	if req.IssuerID == "" {
		h.respondError(w, http.StatusBadRequest, "Issuer ID is required")
		return
	}
	if req.RecipientID == "" {
		h.respondError(w, http.StatusBadRequest, "Recipient ID is required")
		return
	}
	if req.Amount <= 0 {
		h.respondError(w, http.StatusBadRequest, "Amount must be positive")
		return
	}
	var dueAt *time.Time
	if req.DueAt != nil {
		t := time.UnixMilli(*req.DueAt)
		dueAt = &t
	}
	inv, err := h.ledger.CreateInvoice(r.Context(), service.CreateInvoiceRequest{
		IssuerID:    req.IssuerID,
		RecipientID: req.RecipientID,
		Amount:      req.Amount,
		Currency:    req.Currency,
		Memo:        req.Memo,
		DueAt:       dueAt,
	})
	if err != nil {
		h.respondServiceError(w, err)
		return
	}
	h.respondJSON(w, http.StatusCreated, inv)
}

func (h *Handler) ListInvoices(w http.ResponseWriter, r *http.Request) {
	f := model.InvoiceFilter{
		AgentID: r.URL.Query().Get("agent_id"),
		Status:  model.InvoiceStatus(r.URL.Query().Get("status")),
		Page:    pageFromQuery(r),
	}
	items, err := h.ledger.ListInvoices(r.Context(), f)
	if err != nil {
		h.respondServiceError(w, err)
		return
	}
	h.respondJSON(w, http.StatusOK, map[string]any{"invoices": items})
}

func (h *Handler) GetInvoice(w http.ResponseWriter, r *http.Request) {
	inv, err := h.ledger.GetInvoice(r.Context(), r.PathValue("id"))
	if err != nil {
		h.respondServiceError(w, err)
		return
	}
	h.respondJSON(w, http.StatusOK, inv)
}

func (h *Handler) SendInvoice(w http.ResponseWriter, r *http.Request) {
	if err := h.ledger.SendInvoice(r.Context(), r.PathValue("id")); err != nil {
		h.respondServiceError(w, err)
		return
	}
	h.respondJSON(w, http.StatusOK, map[string]string{"status": "sent"})
}

func (h *Handler) PayInvoice(w http.ResponseWriter, r *http.Request) {
	var req struct {
		AgentID     string `json:"agent_id"`
		AllowanceID string `json:"allowance_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondError(w, http.StatusBadRequest, "invalid_json")
		return
	}
	if req.AgentID == "" {
		h.respondError(w, http.StatusBadRequest, "Agent ID is required")
		return
	}
	txID, err := h.ledger.PayInvoice(r.Context(), r.PathValue("id"), req.AgentID, req.AllowanceID)
	if err != nil {
		h.respondServiceError(w, err)
		return
	}
	h.respondJSON(w, http.StatusOK, map[string]any{"status": "paid", "transaction_id": txID})
}

func (h *Handler) CreateSubscription(w http.ResponseWriter, r *http.Request) {
	var req service.CreateSubscriptionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondError(w, http.StatusBadRequest, "invalid_json")
		return
	}
	if req.SubscriberID == "" {
		h.respondError(w, http.StatusBadRequest, "Subscriber ID is required")
		return
	}
	if req.ProviderID == "" {
		h.respondError(w, http.StatusBadRequest, "Provider ID is required")
		return
	}
	if req.PlanID == "" {
		h.respondError(w, http.StatusBadRequest, "Plan ID is required")
		return
	}
	if req.Amount <= 0 {
		h.respondError(w, http.StatusBadRequest, "Amount must be positive")
		return
	}
	if req.Interval != "" && !req.Interval.Valid() {
		h.respondError(w, http.StatusBadRequest, "Invalid interval")
		return
	}
	if req.AllowanceID == "" {
		h.respondError(w, http.StatusBadRequest, "Allowance ID is required")
		return
	}
	sub, err := h.biller.CreateSubscription(r.Context(), req)
	if err != nil {
		h.respondServiceError(w, err)
		return
	}
	h.respondJSON(w, http.StatusCreated, sub)
}

func (h *Handler) ListSubscriptions(w http.ResponseWriter, r *http.Request) {
	f := model.SubscriptionFilter{
		SubscriberID: r.URL.Query().Get("subscriber_id"),
		Status:       model.SubscriptionStatus(r.URL.Query().Get("status")),
		Page:         pageFromQuery(r),
	}
	items, err := h.biller.ListSubscriptions(r.Context(), f)
	if err != nil {
		h.respondServiceError(w, err)
		return
	}
	h.respondJSON(w, http.StatusOK, map[string]any{"subscriptions": items})
}

func (h *Handler) GetSubscription(w http.ResponseWriter, r *http.Request) {
	sub, err := h.biller.GetSubscription(r.Context(), r.PathValue("id"))
	if err != nil {
		h.respondServiceError(w, err)
		return
	}
	h.respondJSON(w, http.StatusOK, sub)
}

func (h *Handler) CancelSubscription(w http.ResponseWriter, r *http.Request) {
	if err := h.biller.CancelSubscription(r.Context(), r.PathValue("id")); err != nil {
		h.respondServiceError(w, err)
		return
	}
	h.respondJSON(w, http.StatusOK, map[string]string{"status": "cancelled"})
}

func (h *Handler) PauseSubscription(w http.ResponseWriter, r *http.Request) {
	if err := h.biller.PauseSubscription(r.Context(), r.PathValue("id")); err != nil {
		h.respondServiceError(w, err)
		return
	}
	h.respondJSON(w, http.StatusOK, map[string]string{"status": "paused"})
}

func (h *Handler) ResumeSubscription(w http.ResponseWriter, r *http.Request) {
	if err := h.biller.ResumeSubscription(r.Context(), r.PathValue("id")); err != nil {
		h.respondServiceError(w, err)
		return
	}
	h.respondJSON(w, http.StatusOK, map[string]string{"status": "active"})
}

func (h *Handler) RunBilling(w http.ResponseWriter, r *http.Request) {
	result, err := h.biller.ProcessDueSubscriptions(r.Context())
	if err != nil {
		h.respondServiceError(w, err)
		return
	}
	h.respondJSON(w, http.StatusOK, result)
}

func (h *Handler) RegisterWebhook(w http.ResponseWriter, r *http.Request) {
	var req struct {
		AgentID string `json:"agent_id"`
		URL     string `json:"url"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondError(w, http.StatusBadRequest, "invalid_json")
		return
	}
	if req.AgentID == "" {
		h.respondError(w, http.StatusBadRequest, "Agent ID is required")
		return
	}
	if req.URL == "" {
		h.respondError(w, http.StatusBadRequest, "URL is required")
		return
	}
	h.webhooks.Register(req.AgentID, req.URL)
	h.respondJSON(w, http.StatusCreated, map[string]string{"status": "registered"})
}

func (h *Handler) UnregisterWebhook(w http.ResponseWriter, r *http.Request) {
	var req struct {
		AgentID string `json:"agent_id"`
		URL     string `json:"url"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondError(w, http.StatusBadRequest, "invalid_json")
		return
	}
	if req.AgentID == "" || req.URL == "" {
		h.respondError(w, http.StatusBadRequest, "missing_params")
		return
	}
	h.webhooks.Unregister(req.AgentID, req.URL)
	h.respondJSON(w, http.StatusOK, map[string]string{"status": "unregistered"})
}

func (h *Handler) ListWebhooks(w http.ResponseWriter, r *http.Request) {
	urls := h.webhooks.URLs(r.PathValue("agentId"))
	h.respondJSON(w, http.StatusOK, map[string]any{"urls": urls})
}

func (h *Handler) WalletBalance(w http.ResponseWriter, r *http.Request) {
	address := r.PathValue("address")
	kind := r.URL.Query().Get("type")

	var (
		bal onchain.Balance
		err error
	)
	if kind == "native" {
		bal, err = h.chain.NativeBalance(r.Context(), address)
	} else {
		bal, err = h.chain.TokenBalance(r.Context(), address)
	}
	if err != nil {
		h.respondJSON(w, http.StatusOK, map[string]any{
			"balance":     "0",
			"balance_raw": "0",
			"error":       err.Error(),
		})
		return
	}
	h.respondJSON(w, http.StatusOK, bal)
}

func (h *Handler) VerifyWallet(w http.ResponseWriter, r *http.Request) {
	required, err := strconv.ParseFloat(r.URL.Query().Get("required"), 64)
	if err != nil || required < 0 {
		h.respondError(w, http.StatusBadRequest, "Required amount must be a non-negative number")
		return
	}
	res := h.chain.VerifyBalance(r.Context(), r.PathValue("address"), required)
	h.respondJSON(w, http.StatusOK, res)
}

func pageFromQuery(r *http.Request) model.Page {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))
	return model.Page{Limit: limit, Offset: offset}
}

// respondServiceError maps domain errors onto HTTP statuses: missing entities
// to 404, rejected state transitions and limit breaches to 422, anything else
// to 500.
func (h *Handler) respondServiceError(w http.ResponseWriter, err error) {
	switch {
	case model.IsNotFound(err):
		h.respondError(w, http.StatusNotFound, err.Error())
	case model.IsLimitExceeded(err),
		errors.Is(err, model.ErrAllowanceInactive),
		errors.Is(err, model.ErrAmountNotPositive),
		errors.Is(err, model.ErrInvoiceNotDraft),
		errors.Is(err, model.ErrInvoiceAlreadyPaid),
		errors.Is(err, model.ErrRecipientMismatch),
		errors.Is(err, model.ErrSubscriptionInactive),
		errors.Is(err, model.ErrInvoiceCreateFailed),
		errors.Is(err, model.ErrInvoiceSendFailed):
		h.respondError(w, http.StatusUnprocessableEntity, err.Error())
	default:
		h.respondError(w, http.StatusInternalServerError, model.ReasonString(err))
	}
}

func (h *Handler) respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		_ = json.NewEncoder(w).Encode(data)
	}
}

func (h *Handler) respondError(w http.ResponseWriter, status int, message string) {
	h.respondJSON(w, status, map[string]string{"error": message})
}
