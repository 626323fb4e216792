package enums

import "fmt"

// TransactionKind identifies what a purchase attempt delivers once paid.
type TransactionKind string

const (
	TransactionKindSubscription  TransactionKind = "subscription"
	TransactionKindWalletFunding TransactionKind = "wallet_funding"
	TransactionKindAirtime       TransactionKind = "airtime"
	TransactionKindData          TransactionKind = "data"
	TransactionKindGenericBill   TransactionKind = "generic_bill"
)

var validTransactionKinds = []TransactionKind{
	TransactionKindSubscription,
	TransactionKindWalletFunding,
	TransactionKindAirtime,
	TransactionKindData,
	TransactionKindGenericBill,
}

// String implements fmt.Stringer.
func (k TransactionKind) String() string {
	return string(k)
}

// IsValid reports whether the value is known.
func (k TransactionKind) IsValid() bool {
	for _, candidate := range validTransactionKinds {
		if candidate == k {
			return true
		}
	}
	return false
}

// IsBillerDelivered reports whether fulfillment goes through the gateway's
// bills API rather than an internal mutation.
func (k TransactionKind) IsBillerDelivered() bool {
	switch k {
	case TransactionKindAirtime, TransactionKindData, TransactionKindGenericBill:
		return true
	}
	return false
}

// ParseTransactionKind converts raw input into a TransactionKind.
func ParseTransactionKind(value string) (TransactionKind, error) {
	for _, candidate := range validTransactionKinds {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid transaction kind %q", value)
}
