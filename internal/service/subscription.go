package service

import (
	"context"
	"time"

	"github.com/google/uuid"

	"agentfin/internal/model"
)

// Biller manages recurring billing agreements and drives the ledger through
// the create/send/pay cycle on each due date.
type Biller struct {
	store  Store
	ledger *Ledger
	bus    Publisher
	now    func() time.Time
}

func NewBiller(store Store, ledger *Ledger, bus Publisher) *Biller {
	return &Biller{store: store, ledger: ledger, bus: bus, now: time.Now}
}

// CreateSubscriptionRequest carries the caller-validated subscription fields.
type CreateSubscriptionRequest struct {
	SubscriberID string         `json:"subscriber_id"`
	ProviderID   string         `json:"provider_id"`
	PlanID       string         `json:"plan_id"`
	Amount       int64          `json:"amount"`
	Interval     model.Interval `json:"interval,omitempty"`
	AllowanceID  string         `json:"allowance_id"`
}

// CreateSubscription inserts an active subscription with the first billing
// date set to now, so the next processing pass charges it immediately.
func (b *Biller) CreateSubscription(ctx context.Context, req CreateSubscriptionRequest) (*model.Subscription, error) {
	interval := req.Interval
	if interval == "" {
		interval = model.IntervalMonthly
	}
	now := b.now()
	sub := &model.Subscription{
		ID:              uuid.NewString(),
		SubscriberID:    req.SubscriberID,
		ProviderID:      req.ProviderID,
		PlanID:          req.PlanID,
		Amount:          req.Amount,
		Interval:        interval,
		NextBillingDate: now,
		Status:          model.SubscriptionActive,
		AllowanceID:     req.AllowanceID,
		CreatedAt:       now,
	}
	if err := b.store.CreateSubscription(ctx, sub); err != nil {
		return nil, err
	}
	b.publishSubscription(model.TopicSubscriptionCreated, sub, "", "")
	return sub, nil
}

func (b *Biller) GetSubscription(ctx context.Context, id string) (*model.Subscription, error) {
	return b.store.GetSubscription(ctx, id)
}

func (b *Biller) ListSubscriptions(ctx context.Context, f model.SubscriptionFilter) ([]model.Subscription, error) {
	f.Page = f.Page.Normalize()
	return b.store.ListSubscriptions(ctx, f)
}

// CancelSubscription terminates the agreement. Idempotent.
func (b *Biller) CancelSubscription(ctx context.Context, id string) error {
	if _, err := b.store.GetSubscription(ctx, id); err != nil {
		return err
	}
	return b.store.SetSubscriptionStatus(ctx, id, model.SubscriptionCancelled)
}

// PauseSubscription suspends billing without ending the agreement.
func (b *Biller) PauseSubscription(ctx context.Context, id string) error {
	sub, err := b.store.GetSubscription(ctx, id)
	if err != nil {
		return err
	}
	if sub.Status != model.SubscriptionActive {
		return model.ErrSubscriptionInactive
	}
	return b.store.SetSubscriptionStatus(ctx, id, model.SubscriptionPaused)
}

// ResumeSubscription reactivates a paused subscription. Missed cycles are not
// caught up: the next scan bills once, the due date having stayed in the
// past while paused.
func (b *Biller) ResumeSubscription(ctx context.Context, id string) error {
	sub, err := b.store.GetSubscription(ctx, id)
	if err != nil {
		return err
	}
	if sub.Status != model.SubscriptionPaused {
		return model.ErrSubscriptionInactive
	}
	return b.store.SetSubscriptionStatus(ctx, id, model.SubscriptionActive)
}

// ProcessBilling runs one billing cycle: create the invoice, send it, pay it
// from the subscriber's bound allowance, then advance the next billing date
// by one interval. A failed payment leaves the invoice sent and the
// subscription untouched; the next scan retries it.
func (b *Biller) ProcessBilling(ctx context.Context, subscriptionID string) (string, error) {
	sub, err := b.store.GetSubscription(ctx, subscriptionID)
	if err != nil {
		return "", err
	}
	if sub.Status != model.SubscriptionActive {
		return "", model.ErrSubscriptionInactive
	}

	dueAt := b.now()
	inv, err := b.ledger.CreateInvoice(ctx, CreateInvoiceRequest{
		IssuerID:    sub.ProviderID,
		RecipientID: sub.SubscriberID,
		Amount:      sub.Amount,
		DueAt:       &dueAt,
	})
	if err != nil {
		return "", model.ErrInvoiceCreateFailed
	}

	if err := b.ledger.SendInvoice(ctx, inv.ID); err != nil {
		return "", model.ErrInvoiceSendFailed
	}

	txID, err := b.ledger.PayInvoice(ctx, inv.ID, sub.SubscriberID, sub.AllowanceID)
	if err != nil {
		b.publishSubscription(model.TopicSubscriptionFailed, sub, "", model.ReasonString(err))
		return "", err
	}

	// Advance from the stored due date, not from wall clock, so a late scan
	// does not drift the schedule.
	next := sub.Interval.Next(sub.NextBillingDate)
	if err := b.store.AdvanceNextBilling(ctx, sub.ID, next); err != nil {
		return txID, err
	}
	sub.NextBillingDate = next
	b.publishSubscription(model.TopicSubscriptionBilled, sub, txID, "")
	return txID, nil
}

// ProcessDueSubscriptions bills every active subscription whose next billing
// date has passed, sequentially, each at most once per scan.
func (b *Biller) ProcessDueSubscriptions(ctx context.Context) (model.BatchResult, error) {
	due, err := b.store.ListDueSubscriptions(ctx, b.now())
	if err != nil {
		return model.BatchResult{}, err
	}

	result := model.BatchResult{Details: make([]model.BillingDetail, 0, len(due))}
	for _, sub := range due {
		txID, err := b.ProcessBilling(ctx, sub.ID)
		detail := model.BillingDetail{SubscriptionID: sub.ID, TransactionID: txID}
		if err != nil {
			detail.Error = model.ReasonString(err)
			result.Failures++
		} else {
			detail.Success = true
			result.Processed++
		}
		result.Details = append(result.Details, detail)
	}
	return result, nil
}

func (b *Biller) publishSubscription(topic string, sub *model.Subscription, txID, reason string) {
	if b.bus == nil {
		return
	}
	publish(b.bus, topic, model.SubscriptionEvent{
		SubscriptionID:  sub.ID,
		SubscriberID:    sub.SubscriberID,
		ProviderID:      sub.ProviderID,
		Amount:          sub.Amount,
		NextBillingDate: sub.NextBillingDate,
		TransactionID:   txID,
		Reason:          reason,
		CreatedAt:       b.now(),
	})
}
