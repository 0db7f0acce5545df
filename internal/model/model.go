package model

import "time"

type AllowanceStatus string

const (
	AllowanceActive    AllowanceStatus = "active"
	AllowancePaused    AllowanceStatus = "paused"
	AllowanceExhausted AllowanceStatus = "exhausted"
)

type InvoiceStatus string

const (
	InvoiceDraft     InvoiceStatus = "draft"
	InvoiceSent      InvoiceStatus = "sent"
	InvoicePaid      InvoiceStatus = "paid"
	InvoiceCancelled InvoiceStatus = "cancelled"
)

type SubscriptionStatus string

const (
	SubscriptionActive    SubscriptionStatus = "active"
	SubscriptionPaused    SubscriptionStatus = "paused"
	SubscriptionCancelled SubscriptionStatus = "cancelled"
)

type TransactionStatus string

const (
	TransactionSuccess TransactionStatus = "success"
	TransactionFailed  TransactionStatus = "failed"
)

// Interval is a subscription billing period.
type Interval string

const (
	IntervalDaily   Interval = "daily"
	IntervalWeekly  Interval = "weekly"
	IntervalMonthly Interval = "monthly"
)

func (i Interval) Valid() bool {
	switch i {
	case IntervalDaily, IntervalWeekly, IntervalMonthly:
		return true
	}
	return false
}

// Next returns t advanced by one billing period. Monthly intervals use calendar
// month arithmetic, so month-end dates roll over per time.Time.AddDate.
func (i Interval) Next(t time.Time) time.Time {
	switch i {
	case IntervalDaily:
		return t.AddDate(0, 0, 1)
	case IntervalWeekly:
		return t.AddDate(0, 0, 7)
	default:
		return t.AddDate(0, 1, 0)
	}
}

// Allowance is a spending budget an owner grants to an agent. Limits of zero
// mean unlimited. Spent counters are mutated only through Store.RecordSpend.
type Allowance struct {
	ID             string          `json:"id"`
	AgentID        string          `json:"agent_id"`
	OwnerID        string          `json:"owner_id"`
	DailyLimit     int64           `json:"daily_limit"`
	WeeklyLimit    int64           `json:"weekly_limit"`
	MonthlyLimit   int64           `json:"monthly_limit"`
	SpentToday     int64           `json:"spent_today"`
	SpentThisWeek  int64           `json:"spent_this_week"`
	SpentThisMonth int64           `json:"spent_this_month"`
	Status         AllowanceStatus `json:"status"`
	CreatedAt      time.Time       `json:"created_at"`
}

// Transaction is an immutable record of a completed spend.
type Transaction struct {
	ID          string            `json:"id"`
	AllowanceID string            `json:"allowance_id"`
	Amount      int64             `json:"amount"`
	Category    string            `json:"category"`
	Recipient   string            `json:"recipient"`
	Status      TransactionStatus `json:"status"`
	CreatedAt   time.Time         `json:"created_at"`
}

// Invoice is a bill from an issuer agent to a recipient agent.
// Lifecycle: draft -> sent -> paid, with cancelled reachable from any
// non-paid state. Paid is terminal.
type Invoice struct {
	ID          string        `json:"id"`
	IssuerID    string        `json:"issuer_id"`
	RecipientID string        `json:"recipient_id"`
	Amount      int64         `json:"amount"`
	Currency    string        `json:"currency"`
	Status      InvoiceStatus `json:"status"`
	Memo        string        `json:"memo,omitempty"`
	DueAt       *time.Time    `json:"due_at,omitempty"`
	CreatedAt   time.Time     `json:"created_at"`
}

// Subscription is a recurring billing agreement charged against one allowance.
type Subscription struct {
	ID              string             `json:"id"`
	SubscriberID    string             `json:"subscriber_id"`
	ProviderID      string             `json:"provider_id"`
	PlanID          string             `json:"plan_id"`
	Amount          int64              `json:"amount"`
	Interval        Interval           `json:"interval"`
	NextBillingDate time.Time          `json:"next_billing_date"`
	Status          SubscriptionStatus `json:"status"`
	AllowanceID     string             `json:"allowance_id"`
	CreatedAt       time.Time          `json:"created_at"`
}

// SpendRequest is the input for allowance checks and deductions. AllowanceID
// takes precedence for the lookup; otherwise the agent's first allowance is
// used. Recipient is only meaningful for deductions.
type SpendRequest struct {
	AgentID     string `json:"agent_id"`
	Amount      int64  `json:"amount"`
	Category    string `json:"category"`
	Recipient   string `json:"recipient,omitempty"`
	AllowanceID string `json:"allowance_id,omitempty"`
}

type CheckResult struct {
	Allowed     bool   `json:"allowed"`
	Reason      string `json:"reason,omitempty"`
	AllowanceID string `json:"allowance_id,omitempty"`
}

type DeductResult struct {
	Success       bool   `json:"success"`
	TransactionID string `json:"transaction_id,omitempty"`
	Reason        string `json:"reason,omitempty"`
}

// BillingDetail is the per-subscription outcome of one billing cycle.
type BillingDetail struct {
	SubscriptionID string `json:"subscription_id"`
	Success        bool   `json:"success"`
	TransactionID  string `json:"transaction_id,omitempty"`
	Error          string `json:"error,omitempty"`
}

// BatchResult aggregates a due-subscription scan.
type BatchResult struct {
	Processed int             `json:"processed"`
	Failures  int             `json:"failures"`
	Details   []BillingDetail `json:"details"`
}

// AgentSummary is the rolled-up financial state of one agent.
type AgentSummary struct {
	AgentID       string               `json:"agent_id"`
	Spending      SummarySpending      `json:"spending"`
	Limits        SummaryLimits        `json:"limits"`
	Subscriptions SummarySubscriptions `json:"subscriptions"`
}

type SummarySpending struct {
	Today     int64 `json:"today"`
	ThisWeek  int64 `json:"this_week"`
	ThisMonth int64 `json:"this_month"`
}

type SummaryLimits struct {
	Daily   int64 `json:"daily"`
	Weekly  int64 `json:"weekly"`
	Monthly int64 `json:"monthly"`
}

type SummarySubscriptions struct {
	Active           int   `json:"active"`
	MonthlyRecurring int64 `json:"monthly_recurring"`
}

const (
	defaultPageLimit = 50
	maxPageLimit     = 100
)

// Page is limit/offset pagination for list queries.
type Page struct {
	Limit  int `json:"limit"`
	Offset int `json:"offset"`
}

// Normalize clamps the page to the allowed range, defaulting the limit to 50.
func (p Page) Normalize() Page {
	if p.Limit <= 0 {
		p.Limit = defaultPageLimit
	}
	if p.Limit > maxPageLimit {
		p.Limit = maxPageLimit
	}
	if p.Offset < 0 {
		p.Offset = 0
	}
	return p
}

type AllowanceFilter struct {
	AgentID string
	Status  AllowanceStatus
	Page
}

// InvoiceFilter matches invoices where the agent is either issuer or recipient.
type InvoiceFilter struct {
	AgentID string
	Status  InvoiceStatus
	Page
}

type TransactionFilter struct {
	AllowanceID string
	Page
}

type SubscriptionFilter struct {
	SubscriberID string
	Status       SubscriptionStatus
	Page
}
