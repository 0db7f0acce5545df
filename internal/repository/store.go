package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"agentfin/internal/model"
)

// Store is the Postgres-backed persistence layer.
type Store struct {
	db *pgxpool.Pool
}

func NewStore(db *pgxpool.Pool) *Store {
	return &Store{db: db}
}

const allowanceColumns = `id, agent_id, owner_id, daily_limit, weekly_limit, monthly_limit,
	spent_today, spent_this_week, spent_this_month, status, created_at`

func (s *Store) CreateAllowance(ctx context.Context, a *model.Allowance) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO allowances (id, agent_id, owner_id, daily_limit, weekly_limit, monthly_limit,
			spent_today, spent_this_week, spent_this_month, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		a.ID, a.AgentID, a.OwnerID, a.DailyLimit, a.WeeklyLimit, a.MonthlyLimit,
		a.SpentToday, a.SpentThisWeek, a.SpentThisMonth, a.Status, a.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert allowance: %w", err)
	}
	return nil
}

func (s *Store) GetAllowance(ctx context.Context, id string) (*model.Allowance, error) {
	row := s.db.QueryRow(ctx, `SELECT `+allowanceColumns+` FROM allowances WHERE id = $1`, id)
	return scanAllowance(row)
}

func (s *Store) FindAllowanceByAgent(ctx context.Context, agentID string) (*model.Allowance, error) {
	row := s.db.QueryRow(ctx, `
		SELECT `+allowanceColumns+` FROM allowances
		WHERE agent_id = $1 ORDER BY created_at LIMIT 1`, agentID)
	return scanAllowance(row)
}

func (s *Store) ListAllowances(ctx context.Context, f model.AllowanceFilter) ([]model.Allowance, error) {
	rows, err := s.db.Query(ctx, `
		SELECT `+allowanceColumns+` FROM allowances
		WHERE ($1 = '' OR agent_id = $1)
		  AND ($2 = '' OR status = $2)
		ORDER BY created_at
		LIMIT $3 OFFSET $4`,
		f.AgentID, string(f.Status), f.Limit, f.Offset)
	if err != nil {
		return nil, fmt.Errorf("list allowances: %w", err)
	}
	defer rows.Close()

	var out []model.Allowance
	for rows.Next() {
		a, err := scanAllowance(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *a)
	}
	return out, rows.Err()
}

func (s *Store) UpdateAllowance(ctx context.Context, a *model.Allowance) error {
	tag, err := s.db.Exec(ctx, `
		UPDATE allowances
		SET daily_limit = $2, weekly_limit = $3, monthly_limit = $4, status = $5
		WHERE id = $1`,
		a.ID, a.DailyLimit, a.WeeklyLimit, a.MonthlyLimit, a.Status)
	if err != nil {
		return fmt.Errorf("update allowance: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return model.ErrAllowanceNotFound
	}
	return nil
}

// RecordSpend locks the allowance row, re-validates against the locked state
// and writes the counter update plus the transaction record in one database
// transaction. Either everything commits or nothing does.
func (s *Store) RecordSpend(ctx context.Context, allowanceID string, amount int64, txn *model.Transaction, check func(*model.Allowance) error) (*model.Allowance, error) {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin spend tx: %w", err)
	}
	defer tx.Rollback(ctx)

	row := tx.QueryRow(ctx, `SELECT `+allowanceColumns+` FROM allowances WHERE id = $1 FOR UPDATE`, allowanceID)
	a, err := scanAllowance(row)
	if err != nil {
		return nil, err
	}
	if err := check(a); err != nil {
		return nil, err
	}

	a.SpentToday += amount
	a.SpentThisWeek += amount
	a.SpentThisMonth += amount
	if _, err := tx.Exec(ctx, `
		UPDATE allowances
		SET spent_today = $2, spent_this_week = $3, spent_this_month = $4
		WHERE id = $1`,
		a.ID, a.SpentToday, a.SpentThisWeek, a.SpentThisMonth); err != nil {
		return nil, fmt.Errorf("update spend counters: %w", err)
	}

	if _, err := tx.Exec(ctx, `
		INSERT INTO transactions (id, allowance_id, amount, category, recipient, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		txn.ID, txn.AllowanceID, txn.Amount, txn.Category, txn.Recipient, txn.Status, txn.CreatedAt); err != nil {
		return nil, fmt.Errorf("insert transaction: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit spend tx: %w", err)
	}
	return a, nil
}

func (s *Store) ListTransactions(ctx context.Context, f model.TransactionFilter) ([]model.Transaction, error) {
	rows, err := s.db.Query(ctx, `
		SELECT id, allowance_id, amount, category, recipient, status, created_at
		FROM transactions
		WHERE ($1 = '' OR allowance_id = $1)
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3`,
		f.AllowanceID, f.Limit, f.Offset)
	if err != nil {
		return nil, fmt.Errorf("list transactions: %w", err)
	}
	defer rows.Close()

	var out []model.Transaction
	for rows.Next() {
		var t model.Transaction
		if err := rows.Scan(&t.ID, &t.AllowanceID, &t.Amount, &t.Category, &t.Recipient, &t.Status, &t.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan transaction: %w", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

const invoiceColumns = `id, issuer_id, recipient_id, amount, currency, status, memo, due_at, created_at`

func (s *Store) CreateInvoice(ctx context.Context, inv *model.Invoice) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO invoices (id, issuer_id, recipient_id, amount, currency, status, memo, due_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		inv.ID, inv.IssuerID, inv.RecipientID, inv.Amount, inv.Currency, inv.Status, inv.Memo, inv.DueAt, inv.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert invoice: %w", err)
	}
	return nil
}

func (s *Store) GetInvoice(ctx context.Context, id string) (*model.Invoice, error) {
	row := s.db.QueryRow(ctx, `SELECT `+invoiceColumns+` FROM invoices WHERE id = $1`, id)
	inv, err := scanInvoice(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, model.ErrInvoiceNotFound
	}
	return inv, err
}

func (s *Store) ListInvoices(ctx context.Context, f model.InvoiceFilter) ([]model.Invoice, error) {
	rows, err := s.db.Query(ctx, `
		SELECT `+invoiceColumns+` FROM invoices
		WHERE ($1 = '' OR issuer_id = $1 OR recipient_id = $1)
		  AND ($2 = '' OR status = $2)
		ORDER BY created_at DESC
		LIMIT $3 OFFSET $4`,
		f.AgentID, string(f.Status), f.Limit, f.Offset)
	if err != nil {
		return nil, fmt.Errorf("list invoices: %w", err)
	}
	defer rows.Close()

	var out []model.Invoice
	for rows.Next() {
		inv, err := scanInvoice(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *inv)
	}
	return out, rows.Err()
}

func (s *Store) SetInvoiceStatus(ctx context.Context, id string, from []model.InvoiceStatus, to model.InvoiceStatus) error {
	states := make([]string, len(from))
	for i, st := range from {
		states[i] = string(st)
	}
	tag, err := s.db.Exec(ctx, `
		UPDATE invoices SET status = $2 WHERE id = $1 AND status = ANY($3)`,
		id, to, states)
	if err != nil {
		return fmt.Errorf("update invoice status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		if _, err := s.GetInvoice(ctx, id); err != nil {
			return err
		}
		return model.ErrStateConflict
	}
	return nil
}

const subscriptionColumns = `id, subscriber_id, provider_id, plan_id, amount, billing_interval,
	next_billing_date, status, allowance_id, created_at`

func (s *Store) CreateSubscription(ctx context.Context, sub *model.Subscription) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO subscriptions (id, subscriber_id, provider_id, plan_id, amount, billing_interval,
			next_billing_date, status, allowance_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		sub.ID, sub.SubscriberID, sub.ProviderID, sub.PlanID, sub.Amount, sub.Interval,
		sub.NextBillingDate, sub.Status, sub.AllowanceID, sub.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert subscription: %w", err)
	}
	return nil
}

func (s *Store) GetSubscription(ctx context.Context, id string) (*model.Subscription, error) {
	row := s.db.QueryRow(ctx, `SELECT `+subscriptionColumns+` FROM subscriptions WHERE id = $1`, id)
	sub, err := scanSubscription(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, model.ErrSubscriptionNotFound
	}
	return sub, err
}

func (s *Store) ListSubscriptions(ctx context.Context, f model.SubscriptionFilter) ([]model.Subscription, error) {
	rows, err := s.db.Query(ctx, `
		SELECT `+subscriptionColumns+` FROM subscriptions
		WHERE ($1 = '' OR subscriber_id = $1)
		  AND ($2 = '' OR status = $2)
		ORDER BY created_at
		LIMIT $3 OFFSET $4`,
		f.SubscriberID, string(f.Status), f.Limit, f.Offset)
	if err != nil {
		return nil, fmt.Errorf("list subscriptions: %w", err)
	}
	defer rows.Close()

	var out []model.Subscription
	for rows.Next() {
		sub, err := scanSubscription(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *sub)
	}
	return out, rows.Err()
}

func (s *Store) SetSubscriptionStatus(ctx context.Context, id string, status model.SubscriptionStatus) error {
	tag, err := s.db.Exec(ctx, `UPDATE subscriptions SET status = $2 WHERE id = $1`, id, status)
	if err != nil {
		return fmt.Errorf("update subscription status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return model.ErrSubscriptionNotFound
	}
	return nil
}

func (s *Store) AdvanceNextBilling(ctx context.Context, id string, next time.Time) error {
	tag, err := s.db.Exec(ctx, `UPDATE subscriptions SET next_billing_date = $2 WHERE id = $1`, id, next)
	if err != nil {
		return fmt.Errorf("advance next billing: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return model.ErrSubscriptionNotFound
	}
	return nil
}

func (s *Store) ListDueSubscriptions(ctx context.Context, now time.Time) ([]model.Subscription, error) {
	rows, err := s.db.Query(ctx, `
		SELECT `+subscriptionColumns+` FROM subscriptions
		WHERE status = $1 AND next_billing_date <= $2
		ORDER BY next_billing_date`,
		model.SubscriptionActive, now)
	if err != nil {
		return nil, fmt.Errorf("list due subscriptions: %w", err)
	}
	defer rows.Close()

	var out []model.Subscription
	for rows.Next() {
		sub, err := scanSubscription(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *sub)
	}
	return out, rows.Err()
}

func scanAllowance(row pgx.Row) (*model.Allowance, error) {
	var a model.Allowance
	err := row.Scan(&a.ID, &a.AgentID, &a.OwnerID, &a.DailyLimit, &a.WeeklyLimit, &a.MonthlyLimit,
		&a.SpentToday, &a.SpentThisWeek, &a.SpentThisMonth, &a.Status, &a.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, model.ErrAllowanceNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan allowance: %w", err)
	}
	return &a, nil
}

func scanInvoice(row pgx.Row) (*model.Invoice, error) {
	var inv model.Invoice
	err := row.Scan(&inv.ID, &inv.IssuerID, &inv.RecipientID, &inv.Amount, &inv.Currency,
		&inv.Status, &inv.Memo, &inv.DueAt, &inv.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("scan invoice: %w", err)
	}
	return &inv, nil
}

func scanSubscription(row pgx.Row) (*model.Subscription, error) {
	var sub model.Subscription
	err := row.Scan(&sub.ID, &sub.SubscriberID, &sub.ProviderID, &sub.PlanID, &sub.Amount,
		&sub.Interval, &sub.NextBillingDate, &sub.Status, &sub.AllowanceID, &sub.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("scan subscription: %w", err)
	}
	return &sub, nil
}
