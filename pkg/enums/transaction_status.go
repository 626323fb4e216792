package enums

import "fmt"

// TransactionStatus tracks a purchase attempt through the charge/verify/fulfill
// lifecycle. Transitions are one-directional; the reconciliation engine is the
// only writer.
type TransactionStatus string

const (
	TransactionStatusInitialized       TransactionStatus = "initialized"
	TransactionStatusPaymentFailed     TransactionStatus = "payment_failed"
	TransactionStatusPaid              TransactionStatus = "paid"
	TransactionStatusFulfilling        TransactionStatus = "fulfilling"
	TransactionStatusCompleted         TransactionStatus = "completed"
	TransactionStatusFulfillmentFailed TransactionStatus = "fulfillment_failed"
	TransactionStatusRefundPending     TransactionStatus = "refund_pending"
	TransactionStatusRefunding         TransactionStatus = "refunding"
	TransactionStatusRefunded          TransactionStatus = "refunded"
)

var validTransactionStatuses = []TransactionStatus{
	TransactionStatusInitialized,
	TransactionStatusPaymentFailed,
	TransactionStatusPaid,
	TransactionStatusFulfilling,
	TransactionStatusCompleted,
	TransactionStatusFulfillmentFailed,
	TransactionStatusRefundPending,
	TransactionStatusRefunding,
	TransactionStatusRefunded,
}

// String implements fmt.Stringer.
func (s TransactionStatus) String() string {
	return string(s)
}

// IsValid reports whether the value is known.
func (s TransactionStatus) IsValid() bool {
	for _, candidate := range validTransactionStatuses {
		if candidate == s {
			return true
		}
	}
	return false
}

// IsTerminal reports whether no further transition may leave this status.
func (s TransactionStatus) IsTerminal() bool {
	switch s {
	case TransactionStatusPaymentFailed, TransactionStatusCompleted, TransactionStatusRefunded:
		return true
	}
	return false
}

// ParseTransactionStatus converts raw input into a TransactionStatus.
func ParseTransactionStatus(value string) (TransactionStatus, error) {
	for _, candidate := range validTransactionStatuses {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid transaction status %q", value)
}
