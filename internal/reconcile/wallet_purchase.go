package reconcile

import (
	"context"
	"errors"
	"strings"
	"time"

	"gorm.io/gorm"

	"github.com/maralempay/maralempay-backend/pkg/db/models"
	"github.com/maralempay/maralempay-backend/pkg/enums"
	pkgerrors "github.com/maralempay/maralempay-backend/pkg/errors"
)

// PurchaseFromWallet runs a purchase paid from the user's wallet balance
// instead of a gateway charge. The debit and the paid transition commit in one
// database transaction, so the wallet can never pay for a purchase that is not
// recorded as paid. Fulfillment then follows the same path as gateway charges;
// a failed delivery re-credits the wallet.
func (e *Engine) PurchaseFromWallet(ctx context.Context, input InitiateInput) (*models.Transaction, error) {
	if !input.Kind.IsBillerDelivered() && input.Kind != enums.TransactionKindSubscription {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "kind cannot be paid from wallet")
	}
	if input.Kind.IsBillerDelivered() && strings.TrimSpace(input.Destination) == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "destination is required")
	}

	user, err := e.users.FindByID(ctx, input.UserID)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	requested := input.Amount
	if input.Kind == enums.TransactionKindSubscription {
		requested = e.subscription.PriceDecimal()
	}
	if !requested.IsPositive() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "amount must be positive")
	}

	eligible := e.policy.Eligible(user, input.Kind, now)
	quote := e.policy.QuoteFor(requested, eligible)

	txn := &models.Transaction{
		Reference:        e.gateway.NewReference(referencePrefix),
		Kind:             input.Kind,
		OwnerID:          user.ID,
		RequestedAmount:  quote.RequestedAmount,
		ChargeAmount:     quote.ChargeAmount,
		DiscountAmount:   quote.DiscountAmount,
		Currency:         enums.CurrencyNGN,
		Status:           enums.TransactionStatusInitialized,
		ServiceType:      strings.TrimSpace(input.ServiceType),
		Destination:      strings.TrimSpace(input.Destination),
		CustomerEmail:    user.Email,
		CustomerName:     user.FirstName,
		CustomerPhone:    user.Phone,
		DiscountEligible: quote.Eligible,
		WalletFunded:     true,
	}
	if err := e.repo.Create(ctx, txn); err != nil {
		return nil, err
	}

	logCtx := e.logg.WithReference(ctx, txn.Reference)
	payErr := e.tx.WithTx(ctx, func(tx *gorm.DB) error {
		if _, err := e.wallet.WithTx(tx).Debit(ctx, txn.OwnerID, txn.Reference, txn.ChargeAmount, "wallet purchase"); err != nil {
			return err
		}
		paidAt := time.Now().UTC()
		moved, err := e.repo.WithTx(tx).TransitionStatus(ctx, txn.Reference, enums.TransactionStatusInitialized, enums.TransactionStatusPaid, map[string]any{
			"paid_at": &paidAt,
		})
		if err != nil {
			return err
		}
		if !moved {
			return errors.New("transaction already driven past initialized")
		}
		return nil
	})
	if payErr != nil {
		reason := payErr.Error()
		if _, terr := e.repo.TransitionStatus(ctx, txn.Reference, enums.TransactionStatusInitialized, enums.TransactionStatusPaymentFailed, map[string]any{
			"failure_reason": &reason,
		}); terr != nil {
			e.logg.Error(logCtx, "failed to record wallet payment failure", terr)
		}
		e.countOutcome(enums.TransactionStatusPaymentFailed, txn.Kind)
		e.logg.Warn(e.logg.WithField(logCtx, "reason", reason), "wallet payment failed")
		return nil, payErr
	}

	paid, err := e.repo.FindByReference(ctx, txn.Reference)
	if err != nil {
		return nil, err
	}
	e.logg.Info(logCtx, "wallet payment captured")
	return e.fulfill(logCtx, paid)
}
