package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// User is the external collaborator referenced by Transaction.OwnerID. The
// payments core reads subscription/eligibility fields and mutates the wallet
// balance only through the wallet service.
type User struct {
	ID        uuid.UUID `gorm:"column:id;type:uuid;primaryKey" json:"id"`
	Email     string    `gorm:"column:email;not null;uniqueIndex" json:"email"`
	FirstName string    `gorm:"column:first_name" json:"first_name,omitempty"`
	Phone     string    `gorm:"column:phone" json:"phone,omitempty"`

	WalletBalance         decimal.Decimal `gorm:"column:wallet_balance;type:numeric(19,4);not null;default:0" json:"wallet_balance"`
	SubscriptionExpiresAt *time.Time      `gorm:"column:subscription_expires_at" json:"subscription_expires_at,omitempty"`

	CreatedAt time.Time `gorm:"column:created_at;autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"column:updated_at;autoUpdateTime" json:"updated_at"`
}

// BeforeCreate assigns the primary key for Postgres and sqlite alike.
func (u *User) BeforeCreate(_ *gorm.DB) error {
	if u.ID == uuid.Nil {
		u.ID = uuid.New()
	}
	return nil
}

// IsSubscriber reports whether the user holds an active subscription at now.
func (u *User) IsSubscriber(now time.Time) bool {
	if u == nil || u.SubscriptionExpiresAt == nil {
		return false
	}
	return u.SubscriptionExpiresAt.After(now)
}
