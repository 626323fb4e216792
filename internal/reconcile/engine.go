package reconcile

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/maralempay/maralempay-backend/internal/discount"
	"github.com/maralempay/maralempay-backend/internal/notifications"
	"github.com/maralempay/maralempay-backend/internal/transactions"
	"github.com/maralempay/maralempay-backend/internal/users"
	"github.com/maralempay/maralempay-backend/internal/wallet"
	"github.com/maralempay/maralempay-backend/pkg/config"
	"github.com/maralempay/maralempay-backend/pkg/db/models"
	"github.com/maralempay/maralempay-backend/pkg/enums"
	pkgerrors "github.com/maralempay/maralempay-backend/pkg/errors"
	"github.com/maralempay/maralempay-backend/pkg/flutterwave"
	"github.com/maralempay/maralempay-backend/pkg/logger"
	"github.com/maralempay/maralempay-backend/pkg/metrics"
)

const referencePrefix = "MPAY"

type gateway interface {
	NewReference(prefix string) string
	InitializeCharge(ctx context.Context, req flutterwave.ChargeRequest) (*flutterwave.ChargeSession, error)
	VerifyCharge(ctx context.Context, reference string) (*flutterwave.ChargeVerification, error)
	SubmitBillPayment(ctx context.Context, req flutterwave.BillPaymentRequest) (*flutterwave.BillPayment, error)
	Refund(ctx context.Context, gatewayChargeID string, amount decimal.Decimal, reason string) (*flutterwave.Refund, error)
}

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

// Engine drives a transaction through charge, verify, fulfill and refund. It
// is the only writer of transaction status; every transition goes through the
// ledger's conditional update so concurrent drivers cannot double-fulfill.
type Engine struct {
	repo    transactions.Repository
	users   users.Repository
	wallet  *wallet.Service
	policy  *discount.Policy
	gateway gateway
	tx      txRunner
	sender  notifications.Sender
	metrics *metrics.ReconcileMetrics
	logg    *logger.Logger

	redirectURL     string
	subscription    config.SubscriptionConfig
	maxAttempts     int
	stalenessWindow time.Duration
	sweepBatchSize  int
	backoffBase     time.Duration
}

// Params carries the engine's dependencies.
type Params struct {
	Repo    transactions.Repository
	Users   users.Repository
	Wallet  *wallet.Service
	Policy  *discount.Policy
	Gateway gateway
	Tx      txRunner
	Sender  notifications.Sender
	Metrics *metrics.ReconcileMetrics
	Logger  *logger.Logger

	RedirectURL  string
	Subscription config.SubscriptionConfig
	Reconcile    config.ReconcileConfig

	// FulfillBackoff overrides the base backoff between fulfillment attempts.
	FulfillBackoff time.Duration
}

// NewEngine wires the reconciliation engine.
func NewEngine(params Params) (*Engine, error) {
	if params.Repo == nil {
		return nil, fmt.Errorf("transactions repository required")
	}
	if params.Users == nil {
		return nil, fmt.Errorf("users repository required")
	}
	if params.Wallet == nil {
		return nil, fmt.Errorf("wallet service required")
	}
	if params.Policy == nil {
		return nil, fmt.Errorf("discount policy required")
	}
	if params.Gateway == nil {
		return nil, fmt.Errorf("payment gateway required")
	}
	if params.Tx == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}

	sender := params.Sender
	if sender == nil {
		sender = notifications.NewSender(context.Background(), config.SendgridConfig{}, nil)
	}
	maxAttempts := params.Reconcile.MaxFulfillAttempts
	if maxAttempts <= 0 {
		maxAttempts = 3
	}
	staleness := params.Reconcile.StalenessWindow
	if staleness <= 0 {
		staleness = 5 * time.Minute
	}
	batch := params.Reconcile.SweepBatchSize
	if batch <= 0 {
		batch = 100
	}
	backoff := params.FulfillBackoff
	if backoff <= 0 {
		backoff = 500 * time.Millisecond
	}

	return &Engine{
		repo:            params.Repo,
		users:           params.Users,
		wallet:          params.Wallet,
		policy:          params.Policy,
		gateway:         params.Gateway,
		tx:              params.Tx,
		sender:          sender,
		metrics:         params.Metrics,
		logg:            params.Logger,
		redirectURL:     params.RedirectURL,
		subscription:    params.Subscription,
		maxAttempts:     maxAttempts,
		stalenessWindow: staleness,
		sweepBatchSize:  batch,
		backoffBase:     backoff,
	}, nil
}

// InitiateInput describes a purchase request before pricing.
type InitiateInput struct {
	UserID      uuid.UUID
	Kind        enums.TransactionKind
	Amount      decimal.Decimal
	ServiceType string
	Destination string
}

// InitiateResult is the created checkout session.
type InitiateResult struct {
	Transaction *models.Transaction `json:"transaction"`
	CheckoutURL string              `json:"checkout_url"`
}

// Initiate prices the purchase, creates the ledger row and opens a hosted
// checkout session. The discount decision is frozen into the row here and
// never revisited for this transaction.
func (e *Engine) Initiate(ctx context.Context, input InitiateInput) (*InitiateResult, error) {
	if !input.Kind.IsValid() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "unknown transaction kind")
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
	}
	if err := e.repo.Create(ctx, txn); err != nil {
		return nil, err
	}

	logCtx := e.logg.WithReference(ctx, txn.Reference)
	session, err := e.gateway.InitializeCharge(ctx, flutterwave.ChargeRequest{
		Reference:   txn.Reference,
		Amount:      txn.ChargeAmount,
		Currency:    string(txn.Currency),
		RedirectURL: e.redirectURL,
		Customer: flutterwave.Customer{
			Email:       txn.CustomerEmail,
			Name:        txn.CustomerName,
			PhoneNumber: txn.CustomerPhone,
		},
		Meta: map[string]string{"kind": string(txn.Kind)},
	})
	if err != nil {
		e.logg.Error(logCtx, "checkout session creation failed", err)
		reason := "checkout session creation failed"
		if _, terr := e.repo.TransitionStatus(ctx, txn.Reference, enums.TransactionStatusInitialized, enums.TransactionStatusPaymentFailed, map[string]any{
			"failure_reason": &reason,
		}); terr != nil {
			e.logg.Error(logCtx, "failed to record checkout failure", terr)
		}
		e.countOutcome(enums.TransactionStatusPaymentFailed, txn.Kind)
		return nil, err
	}

	updates := map[string]any{"checkout_url": &session.CheckoutURL}
	if _, err := e.repo.TransitionStatus(ctx, txn.Reference, enums.TransactionStatusInitialized, enums.TransactionStatusInitialized, updates); err != nil {
		e.logg.Error(logCtx, "failed to record checkout url", err)
	}
	txn.CheckoutURL = &session.CheckoutURL

	e.logg.Info(logCtx, "purchase initiated")
	return &InitiateResult{Transaction: txn, CheckoutURL: session.CheckoutURL}, nil
}

// Get returns the current ledger snapshot for a reference.
func (e *Engine) Get(ctx context.Context, reference string) (*models.Transaction, error) {
	return e.repo.FindByReference(ctx, reference)
}

// Verify is the single drive function shared by the polling endpoint, the
// webhook ingestor and the stale sweep. It re-checks the charge with the
// gateway and, on confirmed payment of the exact expected amount, runs
// fulfillment. Replays on a transaction past initialized short-circuit to the
// recorded state.
func (e *Engine) Verify(ctx context.Context, reference string) (*models.Transaction, error) {
	txn, err := e.repo.FindByReference(ctx, reference)
	if err != nil {
		return nil, err
	}
	logCtx := e.logg.WithReference(ctx, txn.Reference)

	if txn.Status != enums.TransactionStatusInitialized {
		// Paid or later: another driver owns this transaction.
		if txn.Status == enums.TransactionStatusPaid {
			return e.fulfill(logCtx, txn)
		}
		return txn, nil
	}

	verification, err := e.gateway.VerifyCharge(ctx, reference)
	if err != nil {
		// Leave the row initialized; the sweep re-verifies later.
		return txn, err
	}

	switch verification.Status {
	case flutterwave.VerifyStatusPending:
		return txn, nil

	case flutterwave.VerifyStatusFailed:
		reason := fmt.Sprintf("gateway reported charge %s", verification.RawStatus)
		moved, terr := e.repo.TransitionStatus(ctx, reference, enums.TransactionStatusInitialized, enums.TransactionStatusPaymentFailed, map[string]any{
			"failure_reason": &reason,
		})
		if terr != nil {
			return txn, terr
		}
		if moved {
			e.countOutcome(enums.TransactionStatusPaymentFailed, txn.Kind)
			e.logg.Info(logCtx, "charge failed, no money moved")
		}
		return e.repo.FindByReference(ctx, reference)
	}

	// Successful per the gateway; the amount and currency must still match
	// exactly or the charge is treated as failed. Protects against short
	// payments slipping into fulfillment.
	if !verification.Amount.Equal(txn.ChargeAmount) || verification.Currency != string(txn.Currency) {
		reason := fmt.Sprintf(
			"amount mismatch: expected %s %s, gateway reported %s %s",
			txn.Currency, txn.ChargeAmount.StringFixed(2), verification.Currency, verification.Amount.StringFixed(2),
		)
		moved, terr := e.repo.TransitionStatus(ctx, reference, enums.TransactionStatusInitialized, enums.TransactionStatusPaymentFailed, map[string]any{
			"failure_reason":    &reason,
			"gateway_charge_id": &verification.GatewayChargeID,
		})
		if terr != nil {
			return txn, terr
		}
		if moved {
			e.countOutcome(enums.TransactionStatusPaymentFailed, txn.Kind)
			e.logg.Warn(e.logg.WithField(logCtx, "reason", reason), "charge amount mismatch")
		}
		current, ferr := e.repo.FindByReference(ctx, reference)
		if ferr != nil {
			return txn, ferr
		}
		return current, pkgerrors.New(pkgerrors.CodeAmountMismatch, reason)
	}

	now := time.Now().UTC()
	moved, err := e.repo.TransitionStatus(ctx, reference, enums.TransactionStatusInitialized, enums.TransactionStatusPaid, map[string]any{
		"paid_at":           &now,
		"gateway_charge_id": &verification.GatewayChargeID,
	})
	if err != nil {
		return txn, err
	}
	if !moved {
		// Lost the race; the winner drives fulfillment.
		e.logg.Info(logCtx, "verify lost transition race, returning current state")
		return e.repo.FindByReference(ctx, reference)
	}

	txn, err = e.repo.FindByReference(ctx, reference)
	if err != nil {
		return nil, err
	}
	e.logg.Info(logCtx, "charge verified and marked paid")
	return e.fulfill(logCtx, txn)
}

func (e *Engine) countOutcome(status enums.TransactionStatus, kind enums.TransactionKind) {
	e.metrics.IncOutcome(string(status), string(kind))
}
