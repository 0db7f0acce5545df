package service

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"agentfin/internal/model"
)

// warnThreshold is the percent of a limit at which usage starts being
// reported on transaction events.
const warnThreshold = 80

// AllowanceEngine evaluates and applies spends against agent allowances.
type AllowanceEngine struct {
	store Store
	bus   Publisher
	now   func() time.Time
}

// NewAllowanceEngine creates the engine. bus may be nil; events are then
// skipped.
func NewAllowanceEngine(store Store, bus Publisher) *AllowanceEngine {
	return &AllowanceEngine{store: store, bus: bus, now: time.Now}
}

// CreateAllowance registers a new budget for an agent. Zero limits mean
// unlimited.
func (e *AllowanceEngine) CreateAllowance(ctx context.Context, agentID, ownerID string, daily, weekly, monthly int64) (*model.Allowance, error) {
	a := &model.Allowance{
		ID:           uuid.NewString(),
		AgentID:      agentID,
		OwnerID:      ownerID,
		DailyLimit:   daily,
		WeeklyLimit:  weekly,
		MonthlyLimit: monthly,
		Status:       model.AllowanceActive,
		CreatedAt:    e.now(),
	}
	if err := e.store.CreateAllowance(ctx, a); err != nil {
		return nil, err
	}
	return a, nil
}

func (e *AllowanceEngine) GetAllowance(ctx context.Context, id string) (*model.Allowance, error) {
	return e.store.GetAllowance(ctx, id)
}

func (e *AllowanceEngine) ListAllowances(ctx context.Context, f model.AllowanceFilter) ([]model.Allowance, error) {
	f.Page = f.Page.Normalize()
	return e.store.ListAllowances(ctx, f)
}

// UpdateAllowance changes limits and/or status. Nil fields are left as-is.
func (e *AllowanceEngine) UpdateAllowance(ctx context.Context, id string, daily, weekly, monthly *int64, status *model.AllowanceStatus) (*model.Allowance, error) {
	a, err := e.store.GetAllowance(ctx, id)
	if err != nil {
		return nil, err
	}
	if daily != nil {
		a.DailyLimit = *daily
	}
	if weekly != nil {
		a.WeeklyLimit = *weekly
	}
	if monthly != nil {
		a.MonthlyLimit = *monthly
	}
	if status != nil {
		a.Status = *status
	}
	if err := e.store.UpdateAllowance(ctx, a); err != nil {
		return nil, err
	}
	return a, nil
}

func (e *AllowanceEngine) ListTransactions(ctx context.Context, f model.TransactionFilter) ([]model.Transaction, error) {
	f.Page = f.Page.Normalize()
	return e.store.ListTransactions(ctx, f)
}

// CheckSpend reports whether the proposed spend fits the resolved allowance.
// Pure read: no counters move. The returned error is reserved for storage
// failures; business rejections come back as Allowed=false with a reason.
func (e *AllowanceEngine) CheckSpend(ctx context.Context, req model.SpendRequest) (model.CheckResult, error) {
	a, err := e.resolveAllowance(ctx, req)
	if errors.Is(err, model.ErrAllowanceNotFound) {
		return model.CheckResult{Reason: err.Error()}, nil
	}
	if err != nil {
		return model.CheckResult{}, err
	}
	if err := checkLimits(a, req.Amount); err != nil {
		return model.CheckResult{Reason: err.Error()}, nil
	}
	return model.CheckResult{Allowed: true, AllowanceID: a.ID}, nil
}

// DeductSpend re-checks the spend and, if allowed, applies it: counters and
// the transaction record are written in one storage transaction, so a
// concurrent deduction can never push a counter past its limit and a counter
// update can never be left without its transaction row.
func (e *AllowanceEngine) DeductSpend(ctx context.Context, req model.SpendRequest) (model.DeductResult, error) {
	txID, _, err := e.deduct(ctx, req)
	if err != nil {
		if model.IsReason(err) {
			return model.DeductResult{Reason: err.Error()}, nil
		}
		return model.DeductResult{Reason: model.ErrDatabase.Error()}, err
	}
	return model.DeductResult{Success: true, TransactionID: txID}, nil
}

// deduct is the shared deduction path used by DeductSpend and the ledger's
// invoice payment. Rejections are returned as reason errors.
func (e *AllowanceEngine) deduct(ctx context.Context, req model.SpendRequest) (string, *model.Allowance, error) {
	a, err := e.resolveAllowance(ctx, req)
	if err != nil {
		return "", nil, err
	}
	if err := checkLimits(a, req.Amount); err != nil {
		return "", nil, err
	}

	txn := &model.Transaction{
		ID:          uuid.NewString(),
		AllowanceID: a.ID,
		Amount:      req.Amount,
		Category:    req.Category,
		Recipient:   req.Recipient,
		Status:      model.TransactionSuccess,
		CreatedAt:   e.now(),
	}
	// The check runs again under the row lock: two racing deductions both pass
	// the read above, but only states that still fit the limits commit.
	updated, err := e.store.RecordSpend(ctx, a.ID, req.Amount, txn, func(locked *model.Allowance) error {
		return checkLimits(locked, req.Amount)
	})
	if err != nil {
		return "", nil, err
	}

	e.publishTransaction(txn, updated)
	return txn.ID, updated, nil
}

// AgentSummary rolls up the agent's spending, limits and active
// subscriptions.
func (e *AllowanceEngine) AgentSummary(ctx context.Context, agentID string) (*model.AgentSummary, error) {
	a, err := e.store.FindAllowanceByAgent(ctx, agentID)
	if err != nil {
		return nil, err
	}

	subs, err := e.store.ListSubscriptions(ctx, model.SubscriptionFilter{
		SubscriberID: agentID,
		Status:       model.SubscriptionActive,
		Page:         model.Page{Limit: 100},
	})
	if err != nil {
		return nil, err
	}

	summary := &model.AgentSummary{
		AgentID: agentID,
		Spending: model.SummarySpending{
			Today:     a.SpentToday,
			ThisWeek:  a.SpentThisWeek,
			ThisMonth: a.SpentThisMonth,
		},
		Limits: model.SummaryLimits{
			Daily:   a.DailyLimit,
			Weekly:  a.WeeklyLimit,
			Monthly: a.MonthlyLimit,
		},
	}
	summary.Subscriptions.Active = len(subs)
	for _, sub := range subs {
		summary.Subscriptions.MonthlyRecurring += monthlyEquivalent(sub)
	}
	return summary, nil
}

// monthlyEquivalent normalizes a subscription amount to a per-month figure.
func monthlyEquivalent(sub model.Subscription) int64 {
	switch sub.Interval {
	case model.IntervalDaily:
		return sub.Amount * 30
	case model.IntervalWeekly:
		return sub.Amount * 4
	default:
		return sub.Amount
	}
}

// resolveAllowance looks up by id when given, otherwise takes the agent's
// first allowance.
func (e *AllowanceEngine) resolveAllowance(ctx context.Context, req model.SpendRequest) (*model.Allowance, error) {
	if req.AllowanceID != "" {
		return e.store.GetAllowance(ctx, req.AllowanceID)
	}
	return e.store.FindAllowanceByAgent(ctx, req.AgentID)
}

// checkLimits evaluates the rejection rules in their fixed order: status,
// amount positivity, then daily/weekly/monthly. A spend that lands exactly on
// a limit is allowed.
func checkLimits(a *model.Allowance, amount int64) error {
	if a.Status != model.AllowanceActive {
		return model.ErrAllowanceInactive
	}
	if amount <= 0 {
		return model.ErrAmountNotPositive
	}
	if a.DailyLimit > 0 && a.SpentToday+amount > a.DailyLimit {
		return model.ErrDailyLimitExceeded
	}
	if a.WeeklyLimit > 0 && a.SpentThisWeek+amount > a.WeeklyLimit {
		return model.ErrWeeklyLimitExceeded
	}
	if a.MonthlyLimit > 0 && a.SpentThisMonth+amount > a.MonthlyLimit {
		return model.ErrMonthlyLimitExceeded
	}
	return nil
}

func (e *AllowanceEngine) publishTransaction(txn *model.Transaction, a *model.Allowance) {
	if e.bus == nil {
		return
	}
	event := model.TransactionEvent{
		TransactionID: txn.ID,
		AllowanceID:   a.ID,
		AgentID:       a.AgentID,
		Amount:        txn.Amount,
		Category:      txn.Category,
		Recipient:     txn.Recipient,
		Usage:         limitUsage(a),
		CreatedAt:     txn.CreatedAt,
	}
	publish(e.bus, model.TopicTransactionCreated, event)
}

// limitUsage reports limits at or past the warning threshold.
func limitUsage(a *model.Allowance) []model.LimitUsage {
	var usage []model.LimitUsage
	limits := []struct {
		name  string
		limit int64
		spent int64
	}{
		{"daily", a.DailyLimit, a.SpentToday},
		{"weekly", a.WeeklyLimit, a.SpentThisWeek},
		{"monthly", a.MonthlyLimit, a.SpentThisMonth},
	}
	for _, l := range limits {
		if l.limit <= 0 {
			continue
		}
		percent := int(l.spent * 100 / l.limit)
		if percent >= warnThreshold {
			usage = append(usage, model.LimitUsage{
				Limit:       l.name,
				PercentUsed: percent,
				Exhausted:   l.spent >= l.limit,
			})
		}
	}
	return usage
}

// publish marshals the event and sends it on its way. Delivery is best
// effort: the operation already committed, so a bus failure is only logged.
func publish(bus Publisher, topic string, event any) {
	data, err := json.Marshal(event)
	if err != nil {
		slog.Error("failed to marshal event", "topic", topic, "error", err)
		return
	}
	if err := bus.Publish(topic, data); err != nil {
		slog.Error("failed to publish event", "topic", topic, "error", err)
	}
}
