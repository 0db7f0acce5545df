package model

import "errors"

// Rejection reasons surfaced verbatim in API responses. The message text is
// part of the wire contract, hence the sentence casing.
var (
	ErrAllowanceNotFound    = errors.New("Allowance not found")
	ErrAllowanceInactive    = errors.New("Allowance is paused or inactive")
	ErrAmountNotPositive    = errors.New("Amount must be positive")
	ErrDailyLimitExceeded   = errors.New("Daily limit exceeded")
	ErrWeeklyLimitExceeded  = errors.New("Weekly limit exceeded")
	ErrMonthlyLimitExceeded = errors.New("Monthly limit exceeded")

	ErrInvoiceNotFound    = errors.New("Invoice not found")
	ErrInvoiceNotDraft    = errors.New("Invoice must be in draft status to send")
	ErrInvoiceAlreadyPaid = errors.New("Invoice already paid")
	ErrRecipientMismatch  = errors.New("Recipient mismatch")

	ErrSubscriptionNotFound = errors.New("Subscription not found")
	ErrSubscriptionInactive = errors.New("Subscription is not active")
	ErrInvoiceCreateFailed  = errors.New("Failed to create invoice")
	ErrInvoiceSendFailed    = errors.New("Failed to send invoice")

	ErrDatabase = errors.New("Database error")
)

// ErrStateConflict is returned by conditional status updates that matched a
// row but not the expected current status. It is mapped to an entity-specific
// reason before it reaches a caller.
var ErrStateConflict = errors.New("state conflict")

var reasonErrors = []error{
	ErrAllowanceNotFound,
	ErrAllowanceInactive,
	ErrAmountNotPositive,
	ErrDailyLimitExceeded,
	ErrWeeklyLimitExceeded,
	ErrMonthlyLimitExceeded,
	ErrInvoiceNotFound,
	ErrInvoiceNotDraft,
	ErrInvoiceAlreadyPaid,
	ErrRecipientMismatch,
	ErrSubscriptionNotFound,
	ErrSubscriptionInactive,
	ErrInvoiceCreateFailed,
	ErrInvoiceSendFailed,
}

// IsReason reports whether err is one of the API-facing rejection reasons.
func IsReason(err error) bool {
	for _, known := range reasonErrors {
		if errors.Is(err, known) {
			return true
		}
	}
	return false
}

// ReasonString returns the API-facing reason for err. Known reasons pass
// through verbatim; anything else is reported as a generic database failure.
func ReasonString(err error) string {
	for _, known := range reasonErrors {
		if errors.Is(err, known) {
			return known.Error()
		}
	}
	return ErrDatabase.Error()
}

// IsNotFound reports whether err is an entity-missing reason.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrAllowanceNotFound) ||
		errors.Is(err, ErrInvoiceNotFound) ||
		errors.Is(err, ErrSubscriptionNotFound)
}

// IsLimitExceeded reports whether err is one of the daily/weekly/monthly
// limit rejections.
func IsLimitExceeded(err error) bool {
	return errors.Is(err, ErrDailyLimitExceeded) ||
		errors.Is(err, ErrWeeklyLimitExceeded) ||
		errors.Is(err, ErrMonthlyLimitExceeded)
}
