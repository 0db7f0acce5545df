package service

import (
	"context"
	"time"

	"agentfin/internal/model"
)

// Store is the persistence boundary for the billing core. Implemented by
// repository.Store (Postgres) and repository.MemoryStore.
type Store interface {
	CreateAllowance(ctx context.Context, a *model.Allowance) error
	GetAllowance(ctx context.Context, id string) (*model.Allowance, error)
	FindAllowanceByAgent(ctx context.Context, agentID string) (*model.Allowance, error)
	ListAllowances(ctx context.Context, f model.AllowanceFilter) ([]model.Allowance, error)
	UpdateAllowance(ctx context.Context, a *model.Allowance) error

	// RecordSpend applies one deduction atomically: it loads the allowance with
	// an exclusive row lock, runs check against the locked state, increments the
	// spent counters by amount and inserts txn, all in a single storage
	// transaction. The returned allowance reflects the post-deduction counters.
	RecordSpend(ctx context.Context, allowanceID string, amount int64, txn *model.Transaction, check func(*model.Allowance) error) (*model.Allowance, error)
	ListTransactions(ctx context.Context, f model.TransactionFilter) ([]model.Transaction, error)

	CreateInvoice(ctx context.Context, inv *model.Invoice) error
	GetInvoice(ctx context.Context, id string) (*model.Invoice, error)
	ListInvoices(ctx context.Context, f model.InvoiceFilter) ([]model.Invoice, error)
	// SetInvoiceStatus transitions an invoice to the target status only when its
	// current status is in from; otherwise it returns model.ErrStateConflict.
	SetInvoiceStatus(ctx context.Context, id string, from []model.InvoiceStatus, to model.InvoiceStatus) error

	CreateSubscription(ctx context.Context, sub *model.Subscription) error
	GetSubscription(ctx context.Context, id string) (*model.Subscription, error)
	ListSubscriptions(ctx context.Context, f model.SubscriptionFilter) ([]model.Subscription, error)
	SetSubscriptionStatus(ctx context.Context, id string, status model.SubscriptionStatus) error
	AdvanceNextBilling(ctx context.Context, id string, next time.Time) error
	ListDueSubscriptions(ctx context.Context, now time.Time) ([]model.Subscription, error)
}

// Publisher publishes domain events to the message bus. *nats.Conn satisfies
// this directly.
type Publisher interface {
	Publish(subject string, data []byte) error
}
