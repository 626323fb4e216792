package flutterwave

import (
	"encoding/json"
	"strings"

	"github.com/shopspring/decimal"

	pkgerrors "github.com/maralempay/maralempay-backend/pkg/errors"
)

// VerifyStatus is the normalized charge status reported by the gateway.
type VerifyStatus string

const (
	VerifyStatusSuccessful VerifyStatus = "successful"
	VerifyStatusFailed     VerifyStatus = "failed"
	VerifyStatusPending    VerifyStatus = "pending"
)

// Customer identifies the paying customer on a hosted checkout session.
type Customer struct {
	Email       string `json:"email"`
	Name        string `json:"name,omitempty"`
	PhoneNumber string `json:"phonenumber,omitempty"`
}

// ChargeRequest initializes a hosted checkout session.
type ChargeRequest struct {
	Reference   string
	Amount      decimal.Decimal
	Currency    string
	Customer    Customer
	RedirectURL string
	Meta        map[string]string
}

// ChargeSession is the created checkout session.
type ChargeSession struct {
	CheckoutURL string
	Reference   string
}

// ChargeVerification is the normalized result of a verify call. Amount and
// currency are validated before use; a payload missing either is a gateway
// error, never a zero value.
type ChargeVerification struct {
	Status          VerifyStatus
	Amount          decimal.Decimal
	Currency        string
	GatewayChargeID string
	GatewayRef      string
	RawStatus       string
}

// BillPaymentRequest submits a fulfillment order funded from the operator's
// gateway balance.
type BillPaymentRequest struct {
	Type        string
	Destination string
	Amount      decimal.Decimal
	Reference   string
	BillerCode  string
}

// BillPayment is the accepted fulfillment order.
type BillPayment struct {
	FulfillmentRef string
	Status         string
	Raw            json.RawMessage
}

// Refund is the accepted refund of a settled charge.
type Refund struct {
	RefundRef string
	Status    string
}

// envelope is the gateway's standard response wrapper.
type envelope struct {
	Status  string          `json:"status"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

func (e envelope) ok() bool {
	return strings.EqualFold(e.Status, "success")
}

func parseVerifyStatus(raw string) (VerifyStatus, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "successful", "success":
		return VerifyStatusSuccessful, nil
	case "failed", "cancelled", "canceled", "voided":
		return VerifyStatusFailed, nil
	case "pending", "":
		return VerifyStatusPending, nil
	}
	return "", pkgerrors.New(pkgerrors.CodeDependency, "unrecognized charge status from gateway").WithDetails(map[string]any{"status": raw})
}
