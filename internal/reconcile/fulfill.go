package reconcile

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/sethvargo/go-retry"
	"gorm.io/gorm"

	"github.com/maralempay/maralempay-backend/pkg/db/models"
	"github.com/maralempay/maralempay-backend/pkg/enums"
	pkgerrors "github.com/maralempay/maralempay-backend/pkg/errors"
	"github.com/maralempay/maralempay-backend/pkg/flutterwave"
)

// errServiceDelivered marks the one failure mode that must never trigger a
// refund: the service went out but recording completion failed. The row stays
// in fulfilling for manual follow-up.
var errServiceDelivered = errors.New("service delivered but completion not recorded")

// fulfill acquires the delivery guard and runs the per-kind fulfillment with
// bounded retries. Exactly one caller ever wins the paid to fulfilling
// transition; everyone else gets the current snapshot back.
func (e *Engine) fulfill(ctx context.Context, txn *models.Transaction) (*models.Transaction, error) {
	moved, err := e.repo.TransitionStatus(ctx, txn.Reference, enums.TransactionStatusPaid, enums.TransactionStatusFulfilling, nil)
	if err != nil {
		return txn, err
	}
	if !moved {
		e.logg.Info(ctx, "fulfillment already claimed, returning current state")
		return e.repo.FindByReference(ctx, txn.Reference)
	}

	attempts := 0
	backoff := retry.WithMaxRetries(uint64(e.maxAttempts-1), retry.NewExponential(e.backoffBase))
	deliveryErr := retry.Do(ctx, backoff, func(ctx context.Context) error {
		attempts++
		return e.deliver(ctx, txn)
	})
	if deliveryErr != nil {
		if errors.Is(deliveryErr, errServiceDelivered) {
			e.logg.Error(ctx, "service delivered without completion record, manual reconciliation required", deliveryErr)
			current, ferr := e.repo.FindByReference(ctx, txn.Reference)
			if ferr != nil {
				return txn, ferr
			}
			return current, deliveryErr
		}
		return e.failFulfillment(ctx, txn, attempts, deliveryErr)
	}

	completed, err := e.repo.FindByReference(ctx, txn.Reference)
	if err != nil {
		return txn, err
	}
	e.countOutcome(enums.TransactionStatusCompleted, txn.Kind)
	e.logg.Info(ctx, "transaction completed")
	if serr := e.sender.PaymentReceipt(ctx, completed); serr != nil {
		e.logg.Warn(e.logg.WithField(ctx, "error", serr.Error()), "payment receipt email failed")
	}
	return completed, nil
}

// deliver performs one fulfillment attempt. Gateway and database failures come
// back wrapped as retryable; a delivered service whose completion record
// failed aborts the retry loop immediately.
func (e *Engine) deliver(ctx context.Context, txn *models.Transaction) error {
	now := time.Now().UTC()

	if txn.Kind.IsBillerDelivered() {
		// The biller always receives the full face value; the platform absorbs
		// the discount out of its own gateway balance.
		bill, err := e.gateway.SubmitBillPayment(ctx, flutterwave.BillPaymentRequest{
			Type:        txn.ServiceType,
			Destination: txn.Destination,
			Amount:      txn.RequestedAmount,
			Reference:   txn.Reference,
		})
		if err != nil {
			return retry.RetryableError(err)
		}

		details, _ := json.Marshal(map[string]any{
			"fulfillment_ref": bill.FulfillmentRef,
			"status":          bill.Status,
		})
		moved, err := e.repo.TransitionStatus(ctx, txn.Reference, enums.TransactionStatusFulfilling, enums.TransactionStatusCompleted, map[string]any{
			"fulfillment_details": string(details),
			"fulfilled_at":        &now,
			"fulfill_attempts":    gorm.Expr("fulfill_attempts + 1"),
		})
		if err != nil {
			return fmt.Errorf("%w: %v", errServiceDelivered, err)
		}
		if !moved {
			return fmt.Errorf("%w: transaction left fulfilling state", errServiceDelivered)
		}
		return nil
	}

	switch txn.Kind {
	case enums.TransactionKindWalletFunding:
		err := e.tx.WithTx(ctx, func(tx *gorm.DB) error {
			if _, err := e.wallet.WithTx(tx).Credit(ctx, txn.OwnerID, txn.Reference, txn.RequestedAmount, "wallet funding"); err != nil {
				return err
			}
			details, _ := json.Marshal(map[string]any{"credited": txn.RequestedAmount.String()})
			return e.completeInTx(ctx, tx, txn.Reference, details, now)
		})
		if err != nil {
			return retry.RetryableError(err)
		}
		return nil

	case enums.TransactionKindSubscription:
		err := e.tx.WithTx(ctx, func(tx *gorm.DB) error {
			expiry, err := e.users.WithTx(tx).ExtendSubscription(ctx, txn.OwnerID, e.subscriptionDays(), now)
			if err != nil {
				return err
			}
			details, _ := json.Marshal(map[string]any{"subscription_expires_at": expiry.Format(time.RFC3339)})
			return e.completeInTx(ctx, tx, txn.Reference, details, now)
		})
		if err != nil {
			return retry.RetryableError(err)
		}
		return nil
	}

	return fmt.Errorf("no fulfillment path for kind %s", txn.Kind)
}

func (e *Engine) completeInTx(ctx context.Context, tx *gorm.DB, reference string, details json.RawMessage, now time.Time) error {
	moved, err := e.repo.WithTx(tx).TransitionStatus(ctx, reference, enums.TransactionStatusFulfilling, enums.TransactionStatusCompleted, map[string]any{
		"fulfillment_details": string(details),
		"fulfilled_at":        &now,
		"fulfill_attempts":    gorm.Expr("fulfill_attempts + 1"),
	})
	if err != nil {
		return err
	}
	if !moved {
		return errors.New("transaction left fulfilling state")
	}
	return nil
}

func (e *Engine) subscriptionDays() int {
	if e.subscription.DurationDays > 0 {
		return e.subscription.DurationDays
	}
	return 90
}

// failFulfillment records the exhausted delivery attempts and drives the
// refund path. The customer was charged; the transaction must land in
// refunded or refund_pending, never vanish in fulfillment_failed.
func (e *Engine) failFulfillment(ctx context.Context, txn *models.Transaction, attempts int, cause error) (*models.Transaction, error) {
	reason := cause.Error()
	moved, err := e.repo.TransitionStatus(ctx, txn.Reference, enums.TransactionStatusFulfilling, enums.TransactionStatusFulfillmentFailed, map[string]any{
		"failure_reason":   &reason,
		"fulfill_attempts": attempts,
	})
	if err != nil {
		return txn, err
	}
	if !moved {
		return e.repo.FindByReference(ctx, txn.Reference)
	}
	e.logg.Error(ctx, "fulfillment failed after retries, starting refund", cause)

	refunded, err := e.issueRefund(ctx, txn, enums.TransactionStatusFulfillmentFailed, reason)
	current, ferr := e.repo.FindByReference(ctx, txn.Reference)
	if ferr != nil {
		return txn, ferr
	}
	if err != nil || !refunded {
		return current, pkgerrors.Wrap(pkgerrors.CodeRefundPending, err, "service delivery failed, refund pending")
	}
	return current, pkgerrors.New(pkgerrors.CodeFulfillment, "service delivery failed, payment refunded")
}

// issueRefund returns the customer's money from whichever source it came:
// wallet-funded purchases are re-credited to the wallet, gateway charges are
// refunded through the gateway. A failed refund parks the row in
// refund_pending and fires the money-at-risk metric.
func (e *Engine) issueRefund(ctx context.Context, txn *models.Transaction, from enums.TransactionStatus, reason string) (bool, error) {
	now := time.Now().UTC()

	if txn.WalletFunded {
		err := e.tx.WithTx(ctx, func(tx *gorm.DB) error {
			if _, err := e.wallet.WithTx(tx).Credit(ctx, txn.OwnerID, txn.Reference, txn.ChargeAmount, "refund: "+reason); err != nil {
				return err
			}
			moved, err := e.repo.WithTx(tx).TransitionStatus(ctx, txn.Reference, from, enums.TransactionStatusRefunded, map[string]any{
				"refunded_at": &now,
			})
			if err != nil {
				return err
			}
			if !moved {
				return errors.New("transaction no longer refundable")
			}
			return nil
		})
		if err != nil {
			e.parkRefund(ctx, txn, from, err)
			return false, err
		}
		e.finishRefund(ctx, txn)
		return true, nil
	}

	// Claim the row before touching the gateway so concurrent drivers (admin
	// retry racing the sweep) cannot both issue a real-money refund. The loser
	// backs off; the claim holder alone talks to the gateway.
	claimed, err := e.repo.TransitionStatus(ctx, txn.Reference, from, enums.TransactionStatusRefunding, nil)
	if err != nil {
		return false, err
	}
	if !claimed {
		e.logg.Info(ctx, "refund already claimed by another driver")
		return false, nil
	}

	if txn.GatewayChargeID == nil || *txn.GatewayChargeID == "" {
		err := errors.New("missing gateway charge id for refund")
		e.parkRefund(ctx, txn, enums.TransactionStatusRefunding, err)
		return false, err
	}

	if _, err := e.gateway.Refund(ctx, *txn.GatewayChargeID, txn.ChargeAmount, reason); err != nil {
		e.parkRefund(ctx, txn, enums.TransactionStatusRefunding, err)
		return false, err
	}

	moved, err := e.repo.TransitionStatus(ctx, txn.Reference, enums.TransactionStatusRefunding, enums.TransactionStatusRefunded, map[string]any{
		"refunded_at": &now,
	})
	if err != nil {
		return false, err
	}
	if !moved {
		return false, nil
	}
	e.finishRefund(ctx, txn)
	return true, nil
}

func (e *Engine) parkRefund(ctx context.Context, txn *models.Transaction, from enums.TransactionStatus, cause error) {
	if from != enums.TransactionStatusRefundPending {
		if _, err := e.repo.TransitionStatus(ctx, txn.Reference, from, enums.TransactionStatusRefundPending, nil); err != nil {
			e.logg.Error(ctx, "failed to park transaction for refund retry", err)
		}
	}
	e.metrics.IncRefundPending()
	e.countOutcome(enums.TransactionStatusRefundPending, txn.Kind)
	e.logg.Error(ctx, "refund failed, customer money at risk", cause)
}

func (e *Engine) finishRefund(ctx context.Context, txn *models.Transaction) {
	e.countOutcome(enums.TransactionStatusRefunded, txn.Kind)
	e.logg.Info(ctx, "payment refunded")
	if current, err := e.repo.FindByReference(ctx, txn.Reference); err == nil {
		if serr := e.sender.RefundNotice(ctx, current); serr != nil {
			e.logg.Warn(e.logg.WithField(ctx, "error", serr.Error()), "refund notice email failed")
		}
	}
}

// RetryRefund re-attempts the refund of a transaction parked in
// refund_pending. Safe to call repeatedly; anything not parked is a no-op.
func (e *Engine) RetryRefund(ctx context.Context, reference string) (*models.Transaction, error) {
	txn, err := e.repo.FindByReference(ctx, reference)
	if err != nil {
		return nil, err
	}
	if txn.Status != enums.TransactionStatusRefundPending {
		return txn, nil
	}

	reason := "refund retry"
	if txn.FailureReason != nil && *txn.FailureReason != "" {
		reason = *txn.FailureReason
	}
	logCtx := e.logg.WithReference(ctx, reference)
	if _, err := e.issueRefund(logCtx, txn, enums.TransactionStatusRefundPending, reason); err != nil {
		current, ferr := e.repo.FindByReference(ctx, reference)
		if ferr != nil {
			return txn, ferr
		}
		return current, err
	}
	return e.repo.FindByReference(ctx, reference)
}
