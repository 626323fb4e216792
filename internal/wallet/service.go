package wallet

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/maralempay/maralempay-backend/pkg/db/models"
	"github.com/maralempay/maralempay-backend/pkg/enums"
	pkgerrors "github.com/maralempay/maralempay-backend/pkg/errors"
	"github.com/maralempay/maralempay-backend/pkg/pagination"
)

// Service owns wallet balance mutations. Every credit and debit is a single
// guarded UPDATE paired with exactly one append-only ledger entry; callers
// must run both inside one database transaction by passing it via WithTx.
type Service struct {
	db *gorm.DB
}

// NewService returns a wallet service bound to the provided database.
func NewService(conn *gorm.DB) *Service {
	return &Service{db: conn}
}

// WithTx rebinds the service to an open transaction.
func (s *Service) WithTx(tx *gorm.DB) *Service {
	if tx == nil {
		return s
	}
	return &Service{db: tx}
}

// Credit adds funds to the user's wallet and records the ledger entry.
func (s *Service) Credit(ctx context.Context, userID uuid.UUID, reference string, amount decimal.Decimal, narration string) (*models.WalletLedgerEntry, error) {
	if !amount.IsPositive() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "credit amount must be positive")
	}

	result := s.db.WithContext(ctx).
		Model(&models.User{}).
		Where("id = ?", userID).
		Update("wallet_balance", gorm.Expr("wallet_balance + ?", amount))
	if result.Error != nil {
		return nil, result.Error
	}
	if result.RowsAffected == 0 {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "user not found")
	}

	after, err := s.balanceOf(ctx, userID)
	if err != nil {
		return nil, err
	}

	entry := &models.WalletLedgerEntry{
		UserID:        userID,
		Reference:     reference,
		Type:          enums.WalletEntryTypeCredit,
		Amount:        amount,
		BalanceBefore: after.Sub(amount),
		BalanceAfter:  after,
		Narration:     narration,
	}
	if err := s.db.WithContext(ctx).Create(entry).Error; err != nil {
		return nil, err
	}
	return entry, nil
}

// Debit removes funds from the user's wallet. The balance guard rides on the
// UPDATE itself, so concurrent debits can never overdraw the wallet.
func (s *Service) Debit(ctx context.Context, userID uuid.UUID, reference string, amount decimal.Decimal, narration string) (*models.WalletLedgerEntry, error) {
	if !amount.IsPositive() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "debit amount must be positive")
	}

	result := s.db.WithContext(ctx).
		Model(&models.User{}).
		Where("id = ? AND wallet_balance >= ?", userID, amount).
		Update("wallet_balance", gorm.Expr("wallet_balance - ?", amount))
	if result.Error != nil {
		return nil, result.Error
	}
	if result.RowsAffected == 0 {
		if _, err := s.balanceOf(ctx, userID); err != nil {
			return nil, err
		}
		return nil, pkgerrors.New(pkgerrors.CodeInsufficient, "wallet balance is below the debit amount")
	}

	after, err := s.balanceOf(ctx, userID)
	if err != nil {
		return nil, err
	}

	entry := &models.WalletLedgerEntry{
		UserID:        userID,
		Reference:     reference,
		Type:          enums.WalletEntryTypeDebit,
		Amount:        amount,
		BalanceBefore: after.Add(amount),
		BalanceAfter:  after,
		Narration:     narration,
	}
	if err := s.db.WithContext(ctx).Create(entry).Error; err != nil {
		return nil, err
	}
	return entry, nil
}

// Balance returns the current wallet balance.
func (s *Service) Balance(ctx context.Context, userID uuid.UUID) (decimal.Decimal, error) {
	return s.balanceOf(ctx, userID)
}

// Entries pages through the user's ledger history, newest first.
func (s *Service) Entries(ctx context.Context, userID uuid.UUID, limit int, cursor *pagination.Cursor) ([]models.WalletLedgerEntry, *pagination.Cursor, error) {
	normalized := pagination.NormalizeLimit(limit)

	q := s.db.WithContext(ctx).
		Model(&models.WalletLedgerEntry{}).
		Where("user_id = ?", userID)
	if cursor != nil {
		q = q.Where("(created_at, id) < (?, ?)", cursor.CreatedAt, cursor.ID)
	}

	var entries []models.WalletLedgerEntry
	if err := q.Order("created_at DESC, id DESC").Limit(normalized + 1).Find(&entries).Error; err != nil {
		return nil, nil, err
	}

	var next *pagination.Cursor
	if len(entries) > normalized {
		entries = entries[:normalized]
		last := entries[len(entries)-1]
		next = &pagination.Cursor{CreatedAt: last.CreatedAt, ID: last.ID}
	}
	return entries, next, nil
}

func (s *Service) balanceOf(ctx context.Context, userID uuid.UUID) (decimal.Decimal, error) {
	var user models.User
	if err := s.db.WithContext(ctx).Select("wallet_balance").Where("id = ?", userID).First(&user).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return decimal.Zero, pkgerrors.New(pkgerrors.CodeNotFound, "user not found")
		}
		return decimal.Zero, err
	}
	return user.WalletBalance, nil
}
