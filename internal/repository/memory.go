package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"agentfin/internal/model"
)

// MemoryStore is an in-memory service.Store. It backs unit tests and local
// development without Postgres. A single mutex gives RecordSpend the same
// serialization the SQL store gets from its row lock.
type MemoryStore struct {
	mu            sync.Mutex
	allowances    map[string]model.Allowance
	transactions  map[string]model.Transaction
	invoices      map[string]model.Invoice
	subscriptions map[string]model.Subscription
	order         int
	ordinals      map[string]int // insertion order per entity id
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		allowances:    make(map[string]model.Allowance),
		transactions:  make(map[string]model.Transaction),
		invoices:      make(map[string]model.Invoice),
		subscriptions: make(map[string]model.Subscription),
		ordinals:      make(map[string]int),
	}
}

func (s *MemoryStore) track(id string) {
	s.order++
	s.ordinals[id] = s.order
}

func (s *MemoryStore) CreateAllowance(ctx context.Context, a *model.Allowance) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.allowances[a.ID] = *a
	s.track(a.ID)
	return nil
}

func (s *MemoryStore) GetAllowance(ctx context.Context, id string) (*model.Allowance, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.allowances[id]
	if !ok {
		return nil, model.ErrAllowanceNotFound
	}
	return &a, nil
}

func (s *MemoryStore) FindAllowanceByAgent(ctx context.Context, agentID string) (*model.Allowance, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var found *model.Allowance
	for id, a := range s.allowances {
		if a.AgentID != agentID {
			continue
		}
		if found == nil || s.ordinals[id] < s.ordinals[found.ID] {
			a := a
			found = &a
		}
	}
	if found == nil {
		return nil, model.ErrAllowanceNotFound
	}
	return found, nil
}

func (s *MemoryStore) ListAllowances(ctx context.Context, f model.AllowanceFilter) ([]model.Allowance, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.Allowance
	for _, a := range s.allowances {
		if f.AgentID != "" && a.AgentID != f.AgentID {
			continue
		}
		if f.Status != "" && a.Status != f.Status {
			continue
		}
		out = append(out, a)
	}
	sortByOrdinal(out, s.ordinals, func(a model.Allowance) string { return a.ID })
	return page(out, f.Page), nil
}

func (s *MemoryStore) UpdateAllowance(ctx context.Context, a *model.Allowance) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.allowances[a.ID]; !ok {
		return model.ErrAllowanceNotFound
	}
	s.allowances[a.ID] = *a
	return nil
}

func (s *MemoryStore) RecordSpend(ctx context.Context, allowanceID string, amount int64, txn *model.Transaction, check func(*model.Allowance) error) (*model.Allowance, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.allowances[allowanceID]
	if !ok {
		return nil, model.ErrAllowanceNotFound
	}
	if err := check(&a); err != nil {
		return nil, err
	}
	a.SpentToday += amount
	a.SpentThisWeek += amount
	a.SpentThisMonth += amount
	s.allowances[allowanceID] = a
	s.transactions[txn.ID] = *txn
	s.track(txn.ID)
	return &a, nil
}

func (s *MemoryStore) ListTransactions(ctx context.Context, f model.TransactionFilter) ([]model.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.Transaction
	for _, t := range s.transactions {
		if f.AllowanceID != "" && t.AllowanceID != f.AllowanceID {
			continue
		}
		out = append(out, t)
	}
	// Newest first, matching the SQL store.
	sortByOrdinal(out, s.ordinals, func(t model.Transaction) string { return t.ID })
	reverse(out)
	return page(out, f.Page), nil
}

func (s *MemoryStore) CreateInvoice(ctx context.Context, inv *model.Invoice) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.invoices[inv.ID] = *inv
	s.track(inv.ID)
	return nil
}

func (s *MemoryStore) GetInvoice(ctx context.Context, id string) (*model.Invoice, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	inv, ok := s.invoices[id]
	if !ok {
		return nil, model.ErrInvoiceNotFound
	}
	return &inv, nil
}

func (s *MemoryStore) ListInvoices(ctx context.Context, f model.InvoiceFilter) ([]model.Invoice, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.Invoice
	for _, inv := range s.invoices {
		if f.AgentID != "" && inv.IssuerID != f.AgentID && inv.RecipientID != f.AgentID {
			continue
		}
		if f.Status != "" && inv.Status != f.Status {
			continue
		}
		out = append(out, inv)
	}
	sortByOrdinal(out, s.ordinals, func(inv model.Invoice) string { return inv.ID })
	reverse(out)
	return page(out, f.Page), nil
}

func (s *MemoryStore) SetInvoiceStatus(ctx context.Context, id string, from []model.InvoiceStatus, to model.InvoiceStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	inv, ok := s.invoices[id]
	if !ok {
		return model.ErrInvoiceNotFound
	}
	for _, st := range from {
		if inv.Status == st {
			inv.Status = to
			s.invoices[id] = inv
			return nil
		}
	}
	return model.ErrStateConflict
}

func (s *MemoryStore) CreateSubscription(ctx context.Context, sub *model.Subscription) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.subscriptions[sub.ID] = *sub
	s.track(sub.ID)
	return nil
}

func (s *MemoryStore) GetSubscription(ctx context.Context, id string) (*model.Subscription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sub, ok := s.subscriptions[id]
	if !ok {
		return nil, model.ErrSubscriptionNotFound
	}
	return &sub, nil
}

func (s *MemoryStore) ListSubscriptions(ctx context.Context, f model.SubscriptionFilter) ([]model.Subscription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.Subscription
	for _, sub := range s.subscriptions {
		if f.SubscriberID != "" && sub.SubscriberID != f.SubscriberID {
			continue
		}
		if f.Status != "" && sub.Status != f.Status {
			continue
		}
		out = append(out, sub)
	}
	sortByOrdinal(out, s.ordinals, func(sub model.Subscription) string { return sub.ID })
	return page(out, f.Page), nil
}

func (s *MemoryStore) SetSubscriptionStatus(ctx context.Context, id string, status model.SubscriptionStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sub, ok := s.subscriptions[id]
	if !ok {
		return model.ErrSubscriptionNotFound
	}
	sub.Status = status
	s.subscriptions[id] = sub
	return nil
}

func (s *MemoryStore) AdvanceNextBilling(ctx context.Context, id string, next time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sub, ok := s.subscriptions[id]
	if !ok {
		return model.ErrSubscriptionNotFound
	}
	sub.NextBillingDate = next
	s.subscriptions[id] = sub
	return nil
}

func (s *MemoryStore) ListDueSubscriptions(ctx context.Context, now time.Time) ([]model.Subscription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.Subscription
	for _, sub := range s.subscriptions {
		if sub.Status == model.SubscriptionActive && !sub.NextBillingDate.After(now) {
			out = append(out, sub)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].NextBillingDate.Before(out[j].NextBillingDate)
	})
	return out, nil
}

func sortByOrdinal[T any](items []T, ordinals map[string]int, id func(T) string) {
	sort.Slice(items, func(i, j int) bool {
		return ordinals[id(items[i])] < ordinals[id(items[j])]
	})
}

func page[T any](items []T, p model.Page) []T {
	if p.Offset >= len(items) {
		return nil
	}
	items = items[p.Offset:]
	if p.Limit > 0 && p.Limit < len(items) {
		items = items[:p.Limit]
	}
	return items
}

func reverse[T any](items []T) {
	for i, j := 0, len(items)-1; i < j; i, j = i+1, j-1 {
		items[i], items[j] = items[j], items[i]
	}
}
