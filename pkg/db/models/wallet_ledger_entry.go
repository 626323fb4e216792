package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/maralempay/maralempay-backend/pkg/enums"
)

// WalletLedgerEntry is the append-only audit record for a wallet balance
// mutation. Every balance change writes exactly one entry in the same DB
// transaction; the balance is the fold of entries.
type WalletLedgerEntry struct {
	ID        uuid.UUID             `gorm:"column:id;type:uuid;primaryKey" json:"id"`
	UserID    uuid.UUID             `gorm:"column:user_id;type:uuid;not null;index" json:"user_id"`
	Reference string                `gorm:"column:reference;not null;index" json:"reference"`
	Type      enums.WalletEntryType `gorm:"column:type;not null" json:"type"`

	Amount        decimal.Decimal `gorm:"column:amount;type:numeric(19,4);not null" json:"amount"`
	BalanceBefore decimal.Decimal `gorm:"column:balance_before;type:numeric(19,4);not null" json:"balance_before"`
	BalanceAfter  decimal.Decimal `gorm:"column:balance_after;type:numeric(19,4);not null" json:"balance_after"`

	Narration string    `gorm:"column:narration" json:"narration,omitempty"`
	CreatedAt time.Time `gorm:"column:created_at;autoCreateTime;index" json:"created_at"`
}

// BeforeCreate assigns the primary key for Postgres and sqlite alike.
func (e *WalletLedgerEntry) BeforeCreate(_ *gorm.DB) error {
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	return nil
}
