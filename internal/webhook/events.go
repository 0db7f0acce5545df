package webhook

import (
	"context"
	"time"
)

// Event names an agent-facing financial event. invoice.overdue and
// allowance.exhausted via external detection are reserved for layers that
// watch due dates; the rest are emitted by the event worker.
type Event string

const (
	EventInvoiceCreated      Event = "invoice.created"
	EventInvoiceSent         Event = "invoice.sent"
	EventInvoicePaid         Event = "invoice.paid"
	EventInvoiceOverdue      Event = "invoice.overdue"
	EventSubscriptionCreated Event = "subscription.created"
	EventSubscriptionBilled  Event = "subscription.billed"
	EventSubscriptionFailed  Event = "subscription.failed"
	EventLimitWarning        Event = "allowance.limit_warning"
	EventAllowanceExhausted  Event = "allowance.exhausted"
)

// Convenience emitters for the common events.

func (n *Notifier) InvoiceCreated(ctx context.Context, agentID, invoiceID string, amount int64, issuerID string) Result {
	return n.NotifyAgent(ctx, agentID, EventInvoiceCreated, map[string]any{
		"invoiceId": invoiceID,
		"amount":    amount,
		"issuerId":  issuerID,
	})
}

func (n *Notifier) InvoiceSent(ctx context.Context, agentID, invoiceID string, amount int64, dueAt *time.Time) Result {
	data := map[string]any{
		"invoiceId": invoiceID,
		"amount":    amount,
	}
	if dueAt != nil {
		data["dueAt"] = dueAt.UnixMilli()
	}
	return n.NotifyAgent(ctx, agentID, EventInvoiceSent, data)
}

func (n *Notifier) InvoicePaid(ctx context.Context, agentID, invoiceID string, amount int64, transactionID string) Result {
	return n.NotifyAgent(ctx, agentID, EventInvoicePaid, map[string]any{
		"invoiceId":     invoiceID,
		"amount":        amount,
		"transactionId": transactionID,
	})
}

func (n *Notifier) SubscriptionCreated(ctx context.Context, agentID, subscriptionID string, amount int64, nextBillingDate time.Time) Result {
	return n.NotifyAgent(ctx, agentID, EventSubscriptionCreated, map[string]any{
		"subscriptionId":  subscriptionID,
		"amount":          amount,
		"nextBillingDate": nextBillingDate.UnixMilli(),
	})
}

func (n *Notifier) SubscriptionBilled(ctx context.Context, agentID, subscriptionID string, amount int64, nextBillingDate time.Time) Result {
	return n.NotifyAgent(ctx, agentID, EventSubscriptionBilled, map[string]any{
		"subscriptionId":  subscriptionID,
		"amount":          amount,
		"nextBillingDate": nextBillingDate.UnixMilli(),
	})
}

func (n *Notifier) SubscriptionFailed(ctx context.Context, agentID, subscriptionID, reason string) Result {
	return n.NotifyAgent(ctx, agentID, EventSubscriptionFailed, map[string]any{
		"subscriptionId": subscriptionID,
		"reason":         reason,
	})
}

func (n *Notifier) LimitWarning(ctx context.Context, agentID, allowanceID, limitType string, percentUsed int) Result {
	return n.NotifyAgent(ctx, agentID, EventLimitWarning, map[string]any{
		"allowanceId": allowanceID,
		"limitType":   limitType,
		"percentUsed": percentUsed,
	})
}

func (n *Notifier) AllowanceExhausted(ctx context.Context, agentID, allowanceID, limitType string) Result {
	return n.NotifyAgent(ctx, agentID, EventAllowanceExhausted, map[string]any{
		"allowanceId": allowanceID,
		"limitType":   limitType,
	})
}
