// Package worker consumes domain events from NATS and fans them out to
// registered webhook endpoints.
package worker

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/nats-io/nats.go"

	"agentfin/internal/model"
	"agentfin/internal/webhook"
)

const queueGroup = "webhook_notifiers"

// warnPercent mirrors the service-side warning threshold.
const warnPercent = 80

// NotifyWorker subscribes to the domain event topics and delivers webhook
// notifications for each. Subscriptions share a queue group so only one
// instance handles each event.
type NotifyWorker struct {
	notifier *webhook.Notifier
	nc       *nats.Conn
	subs     []*nats.Subscription
}

func NewNotifyWorker(notifier *webhook.Notifier, nc *nats.Conn) *NotifyWorker {
	return &NotifyWorker{notifier: notifier, nc: nc}
}

// Start subscribes to all topics and blocks until ctx is cancelled, then
// drains the subscriptions so in-flight handlers finish.
func (w *NotifyWorker) Start(ctx context.Context) error {
	handlers := map[string]func(context.Context, []byte){
		model.TopicTransactionCreated:  w.handleTransaction,
		model.TopicInvoiceCreated:      w.handleInvoiceCreated,
		model.TopicInvoiceSent:         w.handleInvoiceSent,
		model.TopicInvoicePaid:         w.handleInvoicePaid,
		model.TopicSubscriptionCreated: w.handleSubscriptionCreated,
		model.TopicSubscriptionBilled:  w.handleSubscriptionBilled,
		model.TopicSubscriptionFailed:  w.handleSubscriptionFailed,
	}

	for topic, handle := range handlers {
		handle := handle
		sub, err := w.nc.QueueSubscribe(topic, queueGroup, func(msg *nats.Msg) {
			handle(context.Background(), msg.Data)
		})
		if err != nil {
			return err
		}
		w.subs = append(w.subs, sub)
	}
	slog.Info("notify worker started", "topics", len(handlers))

	<-ctx.Done()
	for _, sub := range w.subs {
		if err := sub.Drain(); err != nil {
			slog.Error("failed to drain subscription", "subject", sub.Subject, "error", err)
		}
	}
	return nil
}

// Stop implements the infrastructure.Server interface; shutdown runs via ctx
// in Start.
func (w *NotifyWorker) Stop(ctx context.Context) error {
	return nil
}

func (w *NotifyWorker) handleTransaction(ctx context.Context, data []byte) {
	var ev model.TransactionEvent
	if !decode(data, &ev) {
		return
	}
	for _, usage := range ev.Usage {
		if usage.Exhausted {
			w.report(w.notifier.AllowanceExhausted(ctx, ev.AgentID, ev.AllowanceID, usage.Limit))
		} else if usage.PercentUsed >= warnPercent {
			w.report(w.notifier.LimitWarning(ctx, ev.AgentID, ev.AllowanceID, usage.Limit, usage.PercentUsed))
		}
	}
}

func (w *NotifyWorker) handleInvoiceCreated(ctx context.Context, data []byte) {
	var ev model.InvoiceEvent
	if !decode(data, &ev) {
		return
	}
	w.report(w.notifier.InvoiceCreated(ctx, ev.RecipientID, ev.InvoiceID, ev.Amount, ev.IssuerID))
}

func (w *NotifyWorker) handleInvoiceSent(ctx context.Context, data []byte) {
	var ev model.InvoiceEvent
	if !decode(data, &ev) {
		return
	}
	w.report(w.notifier.InvoiceSent(ctx, ev.RecipientID, ev.InvoiceID, ev.Amount, ev.DueAt))
}

func (w *NotifyWorker) handleInvoicePaid(ctx context.Context, data []byte) {
	var ev model.InvoiceEvent
	if !decode(data, &ev) {
		return
	}
	w.report(w.notifier.InvoicePaid(ctx, ev.IssuerID, ev.InvoiceID, ev.Amount, ev.TransactionID))
}

func (w *NotifyWorker) handleSubscriptionCreated(ctx context.Context, data []byte) {
	var ev model.SubscriptionEvent
	if !decode(data, &ev) {
		return
	}
	w.report(w.notifier.SubscriptionCreated(ctx, ev.SubscriberID, ev.SubscriptionID, ev.Amount, ev.NextBillingDate))
}

func (w *NotifyWorker) handleSubscriptionBilled(ctx context.Context, data []byte) {
	var ev model.SubscriptionEvent
	if !decode(data, &ev) {
		return
	}
	w.report(w.notifier.SubscriptionBilled(ctx, ev.SubscriberID, ev.SubscriptionID, ev.Amount, ev.NextBillingDate))
}

func (w *NotifyWorker) handleSubscriptionFailed(ctx context.Context, data []byte) {
	var ev model.SubscriptionEvent
	if !decode(data, &ev) {
		return
	}
	w.report(w.notifier.SubscriptionFailed(ctx, ev.SubscriberID, ev.SubscriptionID, ev.Reason))
}

func decode(data []byte, v any) bool {
	if err := json.Unmarshal(data, v); err != nil {
		slog.Error("failed to decode event", "error", err)
		return false
	}
	return true
}

func (w *NotifyWorker) report(res webhook.Result) {
	for _, e := range res.Errors {
		slog.Error("webhook delivery failed", "error", e)
	}
}
