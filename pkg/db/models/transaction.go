package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/maralempay/maralempay-backend/pkg/enums"
)

// Transaction is the ledger row for one purchase or funding attempt. It is the
// single source of truth for reconciliation status and is never deleted.
type Transaction struct {
	ID        uuid.UUID             `gorm:"column:id;type:uuid;primaryKey" json:"id"`
	Reference string                `gorm:"column:reference;not null;uniqueIndex" json:"reference"`
	Kind      enums.TransactionKind `gorm:"column:kind;not null" json:"kind"`
	OwnerID   uuid.UUID             `gorm:"column:owner_id;type:uuid;not null;index" json:"owner_id"`

	// RequestedAmount is the face value of the purchased service. ChargeAmount
	// is what the customer pays; the difference is the frozen discount.
	RequestedAmount decimal.Decimal `gorm:"column:requested_amount;type:numeric(19,4);not null" json:"requested_amount"`
	ChargeAmount    decimal.Decimal `gorm:"column:charge_amount;type:numeric(19,4);not null" json:"charge_amount"`
	DiscountAmount  decimal.Decimal `gorm:"column:discount_amount;type:numeric(19,4);not null" json:"discount_amount"`
	Currency        enums.Currency  `gorm:"column:currency;not null;default:'NGN'" json:"currency"`

	Status enums.TransactionStatus `gorm:"column:status;not null;default:'initialized';index" json:"status"`

	// ServiceType and Destination describe the biller-delivered service
	// (e.g. AIRTIME + phone number). Empty for wallet funding and subscriptions.
	ServiceType   string `gorm:"column:service_type" json:"service_type,omitempty"`
	Destination   string `gorm:"column:destination" json:"destination,omitempty"`
	CustomerEmail string `gorm:"column:customer_email" json:"customer_email,omitempty"`
	CustomerName  string `gorm:"column:customer_name" json:"customer_name,omitempty"`
	CustomerPhone string `gorm:"column:customer_phone" json:"customer_phone,omitempty"`

	// DiscountEligible is evaluated once at initiation and never recomputed for
	// an in-flight transaction.
	DiscountEligible bool `gorm:"column:discount_eligible;not null;default:false" json:"discount_eligible"`

	// WalletFunded marks purchases paid from the wallet balance instead of a
	// gateway charge; their refund path credits the wallet back.
	WalletFunded bool `gorm:"column:wallet_funded;not null;default:false" json:"wallet_funded"`

	GatewayChargeID    *string         `gorm:"column:gateway_charge_id" json:"gateway_charge_id,omitempty"`
	CheckoutURL        *string         `gorm:"column:checkout_url" json:"checkout_url,omitempty"`
	FulfillmentDetails json.RawMessage `gorm:"column:fulfillment_details;type:jsonb" json:"fulfillment_details,omitempty"`
	FailureReason      *string         `gorm:"column:failure_reason" json:"failure_reason,omitempty"`
	FulfillAttempts    int             `gorm:"column:fulfill_attempts;not null;default:0" json:"fulfill_attempts"`

	PaidAt      *time.Time `gorm:"column:paid_at" json:"paid_at,omitempty"`
	FulfilledAt *time.Time `gorm:"column:fulfilled_at" json:"fulfilled_at,omitempty"`
	RefundedAt  *time.Time `gorm:"column:refunded_at" json:"refunded_at,omitempty"`
	CreatedAt   time.Time  `gorm:"column:created_at;autoCreateTime;index" json:"created_at"`
	UpdatedAt   time.Time  `gorm:"column:updated_at;autoUpdateTime" json:"updated_at"`
}

// BeforeCreate assigns the primary key so the model works on both Postgres and
// the sqlite test driver.
func (t *Transaction) BeforeCreate(_ *gorm.DB) error {
	if t.ID == uuid.Nil {
		t.ID = uuid.New()
	}
	return nil
}
