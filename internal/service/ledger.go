package service

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"agentfin/internal/model"
)

// categoryInvoicePayment tags transactions created by invoice payments.
const categoryInvoicePayment = "invoice_payment"

const defaultCurrency = "USDC"

// Ledger creates, sends and pays invoices. Payment delegates to the
// AllowanceEngine for authorization and debit.
type Ledger struct {
	store      Store
	allowances *AllowanceEngine
	bus        Publisher
	now        func() time.Time
}

func NewLedger(store Store, allowances *AllowanceEngine, bus Publisher) *Ledger {
	return &Ledger{store: store, allowances: allowances, bus: bus, now: time.Now}
}

// CreateInvoiceRequest carries the caller-validated invoice fields.
type CreateInvoiceRequest struct {
	IssuerID    string     `json:"issuer_id"`
	RecipientID string     `json:"recipient_id"`
	Amount      int64      `json:"amount"`
	Currency    string     `json:"currency,omitempty"`
	Memo        string     `json:"memo,omitempty"`
	DueAt       *time.Time `json:"due_at,omitempty"`
}

// CreateInvoice inserts a new draft invoice. Amount positivity is the
// caller's responsibility per the validation layer.
func (l *Ledger) CreateInvoice(ctx context.Context, req CreateInvoiceRequest) (*model.Invoice, error) {
	currency := req.Currency
	if currency == "" {
		currency = defaultCurrency
	}
	inv := &model.Invoice{
		ID:          uuid.NewString(),
		IssuerID:    req.IssuerID,
		RecipientID: req.RecipientID,
		Amount:      req.Amount,
		Currency:    currency,
		Status:      model.InvoiceDraft,
		Memo:        req.Memo,
		DueAt:       req.DueAt,
		CreatedAt:   l.now(),
	}
	if err := l.store.CreateInvoice(ctx, inv); err != nil {
		return nil, err
	}
	l.publishInvoice(model.TopicInvoiceCreated, inv, "")
	return inv, nil
}

func (l *Ledger) GetInvoice(ctx context.Context, id string) (*model.Invoice, error) {
	return l.store.GetInvoice(ctx, id)
}

func (l *Ledger) ListInvoices(ctx context.Context, f model.InvoiceFilter) ([]model.Invoice, error) {
	f.Page = f.Page.Normalize()
	return l.store.ListInvoices(ctx, f)
}

// SendInvoice transitions a draft invoice to sent.
func (l *Ledger) SendInvoice(ctx context.Context, invoiceID string) error {
	inv, err := l.store.GetInvoice(ctx, invoiceID)
	if err != nil {
		return err
	}
	if inv.Status != model.InvoiceDraft {
		return model.ErrInvoiceNotDraft
	}
	err = l.store.SetInvoiceStatus(ctx, invoiceID, []model.InvoiceStatus{model.InvoiceDraft}, model.InvoiceSent)
	if errors.Is(err, model.ErrStateConflict) {
		return model.ErrInvoiceNotDraft
	}
	if err != nil {
		return err
	}
	inv.Status = model.InvoiceSent
	l.publishInvoice(model.TopicInvoiceSent, inv, "")
	return nil
}

// PayInvoice debits the paying agent's allowance and marks the invoice paid.
// Paid is terminal; a draft invoice may be paid directly (subscription
// invoices are settled internally without a customer-facing send step).
func (l *Ledger) PayInvoice(ctx context.Context, invoiceID, agentID, allowanceID string) (string, error) {
	inv, err := l.store.GetInvoice(ctx, invoiceID)
	if err != nil {
		return "", err
	}
	if inv.Status == model.InvoicePaid {
		return "", model.ErrInvoiceAlreadyPaid
	}
	if inv.RecipientID != agentID {
		return "", model.ErrRecipientMismatch
	}

	txID, _, err := l.allowances.deduct(ctx, model.SpendRequest{
		AgentID:     agentID,
		Amount:      inv.Amount,
		Category:    categoryInvoicePayment,
		Recipient:   inv.IssuerID,
		AllowanceID: allowanceID,
	})
	if err != nil {
		return "", err
	}

	err = l.store.SetInvoiceStatus(ctx, invoiceID,
		[]model.InvoiceStatus{model.InvoiceDraft, model.InvoiceSent}, model.InvoicePaid)
	if errors.Is(err, model.ErrStateConflict) {
		// Lost a race to another payer after our deduction committed.
		return "", model.ErrInvoiceAlreadyPaid
	}
	if err != nil {
		return "", err
	}
	inv.Status = model.InvoicePaid
	l.publishInvoice(model.TopicInvoicePaid, inv, txID)
	return txID, nil
}

func (l *Ledger) publishInvoice(topic string, inv *model.Invoice, txID string) {
	if l.bus == nil {
		return
	}
	publish(l.bus, topic, model.InvoiceEvent{
		InvoiceID:     inv.ID,
		IssuerID:      inv.IssuerID,
		RecipientID:   inv.RecipientID,
		Amount:        inv.Amount,
		DueAt:         inv.DueAt,
		TransactionID: txID,
		CreatedAt:     l.now(),
	})
}
