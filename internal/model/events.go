package model

import "time"

// Bus topics for domain events. The webhook worker consumes these and fans
// them out to agent-registered URLs; the core services only publish.
const (
	TopicTransactionCreated  = "transactions.created"
	TopicInvoiceCreated      = "invoices.created"
	TopicInvoiceSent         = "invoices.sent"
	TopicInvoicePaid         = "invoices.paid"
	TopicSubscriptionCreated = "subscriptions.created"
	TopicSubscriptionBilled  = "subscriptions.billed"
	TopicSubscriptionFailed  = "subscriptions.failed"
)

// LimitUsage describes how far one allowance limit has been consumed after a
// deduction. Only limits at or past the warning threshold are reported.
type LimitUsage struct {
	Limit       string `json:"limit"` // daily, weekly, monthly
	PercentUsed int    `json:"percent_used"`
	Exhausted   bool   `json:"exhausted"`
}

type TransactionEvent struct {
	TransactionID string       `json:"transaction_id"`
	AllowanceID   string       `json:"allowance_id"`
	AgentID       string       `json:"agent_id"`
	Amount        int64        `json:"amount"`
	Category      string       `json:"category"`
	Recipient     string       `json:"recipient"`
	Usage         []LimitUsage `json:"usage,omitempty"`
	CreatedAt     time.Time    `json:"created_at"`
}

type InvoiceEvent struct {
	InvoiceID     string     `json:"invoice_id"`
	IssuerID      string     `json:"issuer_id"`
	RecipientID   string     `json:"recipient_id"`
	Amount        int64      `json:"amount"`
	DueAt         *time.Time `json:"due_at,omitempty"`
	TransactionID string     `json:"transaction_id,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
}

type SubscriptionEvent struct {
	SubscriptionID  string    `json:"subscription_id"`
	SubscriberID    string    `json:"subscriber_id"`
	ProviderID      string    `json:"provider_id"`
	Amount          int64     `json:"amount"`
	NextBillingDate time.Time `json:"next_billing_date"`
	TransactionID   string    `json:"transaction_id,omitempty"`
	Reason          string    `json:"reason,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
}
