package reconcile

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/maralempay/maralempay-backend/internal/discount"
	"github.com/maralempay/maralempay-backend/internal/transactions"
	"github.com/maralempay/maralempay-backend/internal/users"
	"github.com/maralempay/maralempay-backend/internal/wallet"
	"github.com/maralempay/maralempay-backend/pkg/config"
	"github.com/maralempay/maralempay-backend/pkg/db/models"
	"github.com/maralempay/maralempay-backend/pkg/enums"
	pkgerrors "github.com/maralempay/maralempay-backend/pkg/errors"
	"github.com/maralempay/maralempay-backend/pkg/flutterwave"
	"github.com/maralempay/maralempay-backend/pkg/logger"
)

type fakeGateway struct {
	mu sync.Mutex

	verifyFn func(reference string) (*flutterwave.ChargeVerification, error)
	billFn   func(req flutterwave.BillPaymentRequest) (*flutterwave.BillPayment, error)
	refundFn func(chargeID string, amount decimal.Decimal) (*flutterwave.Refund, error)

	chargeRequests []flutterwave.ChargeRequest
	billRequests   []flutterwave.BillPaymentRequest
	refundAmounts  []decimal.Decimal
}

func (f *fakeGateway) NewReference(prefix string) string {
	return fmt.Sprintf("%s-%s", prefix, uuid.NewString())
}

func (f *fakeGateway) InitializeCharge(_ context.Context, req flutterwave.ChargeRequest) (*flutterwave.ChargeSession, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.chargeRequests = append(f.chargeRequests, req)
	return &flutterwave.ChargeSession{
		CheckoutURL: "https://checkout.test/" + req.Reference,
		Reference:   req.Reference,
	}, nil
}

func (f *fakeGateway) VerifyCharge(_ context.Context, reference string) (*flutterwave.ChargeVerification, error) {
	if f.verifyFn == nil {
		return nil, errors.New("verify not stubbed")
	}
	return f.verifyFn(reference)
}

func (f *fakeGateway) SubmitBillPayment(_ context.Context, req flutterwave.BillPaymentRequest) (*flutterwave.BillPayment, error) {
	f.mu.Lock()
	f.billRequests = append(f.billRequests, req)
	f.mu.Unlock()
	if f.billFn == nil {
		return &flutterwave.BillPayment{FulfillmentRef: "FLW-" + req.Reference, Status: "success"}, nil
	}
	return f.billFn(req)
}

func (f *fakeGateway) Refund(_ context.Context, chargeID string, amount decimal.Decimal, _ string) (*flutterwave.Refund, error) {
	f.mu.Lock()
	f.refundAmounts = append(f.refundAmounts, amount)
	f.mu.Unlock()
	if f.refundFn == nil {
		return &flutterwave.Refund{RefundRef: "RF-1", Status: "completed"}, nil
	}
	return f.refundFn(chargeID, amount)
}

func (f *fakeGateway) billCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.billRequests)
}

type testTxRunner struct {
	conn *gorm.DB
}

func (r testTxRunner) WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error {
	tx := r.conn.WithContext(ctx).Begin()
	if tx.Error != nil {
		return tx.Error
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit().Error
}

type engineFixture struct {
	engine  *Engine
	conn    *gorm.DB
	gateway *fakeGateway
	repo    transactions.Repository
	wallet  *wallet.Service
}

func newFixture(t *testing.T) *engineFixture {
	t.Helper()

	conn, err := gorm.Open(sqlite.Open("file::memory:?cache=shared&_busy_timeout=5000"), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		t.Fatalf("failed to open test db: %v", err)
	}
	if err := conn.AutoMigrate(&models.User{}, &models.Transaction{}, &models.WalletLedgerEntry{}); err != nil {
		t.Fatalf("failed to migrate test db: %v", err)
	}
	t.Cleanup(func() {
		_ = conn.Migrator().DropTable(&models.WalletLedgerEntry{}, &models.Transaction{}, &models.User{})
	})

	gw := &fakeGateway{}
	repo := transactions.NewRepository(conn)
	walletSvc := wallet.NewService(conn)
	logg := logger.New(logger.Options{ServiceName: "test", Output: io.Discard})

	engine, err := NewEngine(Params{
		Repo:    repo,
		Users:   users.NewRepository(conn),
		Wallet:  walletSvc,
		Policy:  discount.NewPolicy(config.DiscountConfig{Rate: "0.10", MinWalletBalance: "1000"}),
		Gateway: gw,
		Tx:      testTxRunner{conn: conn},
		Logger:  logg,
		Subscription: config.SubscriptionConfig{
			PriceNGN:     "4500",
			DurationDays: 90,
		},
		Reconcile: config.ReconcileConfig{
			StalenessWindow:    5 * time.Minute,
			MaxFulfillAttempts: 3,
			SweepBatchSize:     100,
		},
		FulfillBackoff: time.Millisecond,
	})
	if err != nil {
		t.Fatalf("build engine: %v", err)
	}

	return &engineFixture{engine: engine, conn: conn, gateway: gw, repo: repo, wallet: walletSvc}
}

func (f *engineFixture) seedUser(t *testing.T, balance int64, subscribedUntil *time.Time) *models.User {
	t.Helper()

	user := &models.User{
		Email:                 fmt.Sprintf("mp_test_%s@example.com", uuid.NewString()),
		FirstName:             "Ade",
		WalletBalance:         decimal.NewFromInt(balance),
		SubscriptionExpiresAt: subscribedUntil,
	}
	if err := f.conn.Create(user).Error; err != nil {
		t.Fatalf("create user: %v", err)
	}
	return user
}

func successfulVerify(amount int64) func(string) (*flutterwave.ChargeVerification, error) {
	return func(reference string) (*flutterwave.ChargeVerification, error) {
		return &flutterwave.ChargeVerification{
			Status:          flutterwave.VerifyStatusSuccessful,
			Amount:          decimal.NewFromInt(amount),
			Currency:        "NGN",
			GatewayChargeID: "123456",
			GatewayRef:      "FLW-REF-1",
			RawStatus:       "successful",
		}, nil
	}
}

func TestSubscriptionPurchaseCompletesAndExtendsExpiry(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	user := f.seedUser(t, 0, nil)

	result, err := f.engine.Initiate(ctx, InitiateInput{
		UserID: user.ID,
		Kind:   enums.TransactionKindSubscription,
	})
	if err != nil {
		t.Fatalf("initiate: %v", err)
	}
	if result.CheckoutURL == "" {
		t.Fatal("expected a checkout url")
	}
	txn := result.Transaction
	if !txn.ChargeAmount.Equal(decimal.NewFromInt(4500)) {
		t.Fatalf("expected subscription charge 4500, got %s", txn.ChargeAmount)
	}

	f.gateway.verifyFn = successfulVerify(4500)
	final, err := f.engine.Verify(ctx, txn.Reference)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if final.Status != enums.TransactionStatusCompleted {
		t.Fatalf("expected completed, got %s", final.Status)
	}
	if final.PaidAt == nil || final.FulfilledAt == nil {
		t.Fatal("expected paid_at and fulfilled_at to be set")
	}

	var fresh models.User
	if err := f.conn.First(&fresh, "id = ?", user.ID).Error; err != nil {
		t.Fatalf("reload user: %v", err)
	}
	if fresh.SubscriptionExpiresAt == nil {
		t.Fatal("expected subscription expiry to be set")
	}
	expected := time.Now().UTC().AddDate(0, 0, 90)
	if diff := fresh.SubscriptionExpiresAt.Sub(expected); diff < -time.Minute || diff > time.Minute {
		t.Fatalf("expected expiry near %s, got %s", expected, fresh.SubscriptionExpiresAt)
	}
}

func TestDiscountedAirtimeChargesLessButFulfillsFaceValue(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	expiry := time.Now().Add(30 * 24 * time.Hour)
	user := f.seedUser(t, 5000, &expiry)

	result, err := f.engine.Initiate(ctx, InitiateInput{
		UserID:      user.ID,
		Kind:        enums.TransactionKindAirtime,
		Amount:      decimal.NewFromInt(1000),
		ServiceType: "AIRTIME",
		Destination: "+2348012345678",
	})
	if err != nil {
		t.Fatalf("initiate: %v", err)
	}
	txn := result.Transaction
	if !txn.ChargeAmount.Equal(decimal.NewFromInt(900)) {
		t.Fatalf("expected discounted charge 900, got %s", txn.ChargeAmount)
	}
	if !txn.DiscountEligible {
		t.Fatal("expected discount eligibility to be frozen on the row")
	}
	if got := f.gateway.chargeRequests[0].Amount; !got.Equal(decimal.NewFromInt(900)) {
		t.Fatalf("expected checkout opened for 900, got %s", got)
	}

	f.gateway.verifyFn = successfulVerify(900)
	final, err := f.engine.Verify(ctx, txn.Reference)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if final.Status != enums.TransactionStatusCompleted {
		t.Fatalf("expected completed, got %s", final.Status)
	}

	if f.gateway.billCalls() != 1 {
		t.Fatalf("expected exactly one bill payment, got %d", f.gateway.billCalls())
	}
	bill := f.gateway.billRequests[0]
	if !bill.Amount.Equal(decimal.NewFromInt(1000)) {
		t.Fatalf("biller must receive face value 1000, got %s", bill.Amount)
	}
	if bill.Destination != "+2348012345678" {
		t.Fatalf("unexpected destination %s", bill.Destination)
	}
}

func TestFulfillmentFailureRefundsCharge(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	expiry := time.Now().Add(30 * 24 * time.Hour)
	user := f.seedUser(t, 5000, &expiry)

	result, err := f.engine.Initiate(ctx, InitiateInput{
		UserID:      user.ID,
		Kind:        enums.TransactionKindAirtime,
		Amount:      decimal.NewFromInt(1000),
		ServiceType: "AIRTIME",
		Destination: "+2348012345678",
	})
	if err != nil {
		t.Fatalf("initiate: %v", err)
	}

	f.gateway.verifyFn = successfulVerify(900)
	f.gateway.billFn = func(flutterwave.BillPaymentRequest) (*flutterwave.BillPayment, error) {
		return nil, errors.New("network timeout")
	}

	final, err := f.engine.Verify(ctx, result.Transaction.Reference)
	if typed := pkgerrors.As(err); typed == nil || typed.Code() != pkgerrors.CodeFulfillment {
		t.Fatalf("expected fulfillment failure code, got %v", err)
	}
	if final.Status != enums.TransactionStatusRefunded {
		t.Fatalf("expected refunded, got %s", final.Status)
	}
	if final.RefundedAt == nil {
		t.Fatal("expected refunded_at to be set")
	}
	if final.FulfillAttempts != 3 {
		t.Fatalf("expected 3 fulfillment attempts, got %d", final.FulfillAttempts)
	}
	if f.gateway.billCalls() != 3 {
		t.Fatalf("expected 3 bill payment attempts, got %d", f.gateway.billCalls())
	}
	if len(f.gateway.refundAmounts) != 1 || !f.gateway.refundAmounts[0].Equal(decimal.NewFromInt(900)) {
		t.Fatalf("expected one refund of the charged 900, got %v", f.gateway.refundAmounts)
	}
}

func TestConcurrentVerifyFulfillsOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	expiry := time.Now().Add(30 * 24 * time.Hour)
	user := f.seedUser(t, 5000, &expiry)

	result, err := f.engine.Initiate(ctx, InitiateInput{
		UserID:      user.ID,
		Kind:        enums.TransactionKindAirtime,
		Amount:      decimal.NewFromInt(1000),
		ServiceType: "AIRTIME",
		Destination: "+2348012345678",
	})
	if err != nil {
		t.Fatalf("initiate: %v", err)
	}
	f.gateway.verifyFn = successfulVerify(900)

	const drivers = 4
	var wg sync.WaitGroup
	for i := 0; i < drivers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, verr := f.engine.Verify(ctx, result.Transaction.Reference); verr != nil {
				t.Errorf("concurrent verify: %v", verr)
			}
		}()
	}
	wg.Wait()

	if f.gateway.billCalls() != 1 {
		t.Fatalf("expected exactly one fulfillment, got %d", f.gateway.billCalls())
	}
	final, err := f.repo.FindByReference(ctx, result.Transaction.Reference)
	if err != nil {
		t.Fatalf("reload transaction: %v", err)
	}
	if final.Status != enums.TransactionStatusCompleted {
		t.Fatalf("expected completed, got %s", final.Status)
	}
}

func TestAmountMismatchFailsPaymentWithoutFulfillment(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	expiry := time.Now().Add(30 * 24 * time.Hour)
	user := f.seedUser(t, 5000, &expiry)

	result, err := f.engine.Initiate(ctx, InitiateInput{
		UserID:      user.ID,
		Kind:        enums.TransactionKindAirtime,
		Amount:      decimal.NewFromInt(1000),
		ServiceType: "AIRTIME",
		Destination: "+2348012345678",
	})
	if err != nil {
		t.Fatalf("initiate: %v", err)
	}

	f.gateway.verifyFn = successfulVerify(500)
	final, err := f.engine.Verify(ctx, result.Transaction.Reference)
	if typed := pkgerrors.As(err); typed == nil || typed.Code() != pkgerrors.CodeAmountMismatch {
		t.Fatalf("expected amount mismatch code, got %v", err)
	}
	if final.Status != enums.TransactionStatusPaymentFailed {
		t.Fatalf("expected payment_failed, got %s", final.Status)
	}
	if f.gateway.billCalls() != 0 {
		t.Fatal("fulfillment must never run on an amount mismatch")
	}
	if final.FailureReason == nil || *final.FailureReason == "" {
		t.Fatal("expected a recorded failure reason")
	}
}

func TestFailedChargeIsTerminalWithoutFulfillment(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	user := f.seedUser(t, 0, nil)

	result, err := f.engine.Initiate(ctx, InitiateInput{
		UserID:      user.ID,
		Kind:        enums.TransactionKindData,
		Amount:      decimal.NewFromInt(500),
		ServiceType: "DATA",
		Destination: "+2348012345678",
	})
	if err != nil {
		t.Fatalf("initiate: %v", err)
	}

	f.gateway.verifyFn = func(string) (*flutterwave.ChargeVerification, error) {
		return &flutterwave.ChargeVerification{
			Status:    flutterwave.VerifyStatusFailed,
			Amount:    decimal.NewFromInt(500),
			Currency:  "NGN",
			RawStatus: "cancelled",
		}, nil
	}
	final, err := f.engine.Verify(ctx, result.Transaction.Reference)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if final.Status != enums.TransactionStatusPaymentFailed {
		t.Fatalf("expected payment_failed, got %s", final.Status)
	}

	// Terminal states are write-once; replays return the recorded state.
	replay, err := f.engine.Verify(ctx, result.Transaction.Reference)
	if err != nil {
		t.Fatalf("replay verify: %v", err)
	}
	if replay.Status != enums.TransactionStatusPaymentFailed {
		t.Fatalf("expected replay to return payment_failed, got %s", replay.Status)
	}
	if f.gateway.billCalls() != 0 {
		t.Fatal("fulfillment must never run on a failed charge")
	}
}

func TestPendingVerifyLeavesTransactionInitialized(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	user := f.seedUser(t, 0, nil)

	result, err := f.engine.Initiate(ctx, InitiateInput{
		UserID:      user.ID,
		Kind:        enums.TransactionKindData,
		Amount:      decimal.NewFromInt(500),
		ServiceType: "DATA",
		Destination: "+2348012345678",
	})
	if err != nil {
		t.Fatalf("initiate: %v", err)
	}

	f.gateway.verifyFn = func(string) (*flutterwave.ChargeVerification, error) {
		return &flutterwave.ChargeVerification{
			Status:   flutterwave.VerifyStatusPending,
			Amount:   decimal.NewFromInt(500),
			Currency: "NGN",
		}, nil
	}
	current, err := f.engine.Verify(ctx, result.Transaction.Reference)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if current.Status != enums.TransactionStatusInitialized {
		t.Fatalf("expected initialized, got %s", current.Status)
	}
}

func TestFailedRefundParksForRetry(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	expiry := time.Now().Add(30 * 24 * time.Hour)
	user := f.seedUser(t, 5000, &expiry)

	result, err := f.engine.Initiate(ctx, InitiateInput{
		UserID:      user.ID,
		Kind:        enums.TransactionKindAirtime,
		Amount:      decimal.NewFromInt(1000),
		ServiceType: "AIRTIME",
		Destination: "+2348012345678",
	})
	if err != nil {
		t.Fatalf("initiate: %v", err)
	}

	f.gateway.verifyFn = successfulVerify(900)
	f.gateway.billFn = func(flutterwave.BillPaymentRequest) (*flutterwave.BillPayment, error) {
		return nil, errors.New("biller unavailable")
	}
	f.gateway.refundFn = func(string, decimal.Decimal) (*flutterwave.Refund, error) {
		return nil, errors.New("refund endpoint down")
	}

	parked, err := f.engine.Verify(ctx, result.Transaction.Reference)
	if typed := pkgerrors.As(err); typed == nil || typed.Code() != pkgerrors.CodeRefundPending {
		t.Fatalf("expected refund pending code, got %v", err)
	}
	if parked.Status != enums.TransactionStatusRefundPending {
		t.Fatalf("expected refund_pending, got %s", parked.Status)
	}

	// The retry sweep later succeeds.
	f.gateway.refundFn = nil
	final, err := f.engine.RetryRefund(ctx, result.Transaction.Reference)
	if err != nil {
		t.Fatalf("retry refund: %v", err)
	}
	if final.Status != enums.TransactionStatusRefunded {
		t.Fatalf("expected refunded, got %s", final.Status)
	}
	if final.RefundedAt == nil {
		t.Fatal("expected refunded_at to be set")
	}
}

// parkRefundPending drives an airtime purchase into refund_pending by failing
// both the biller and the first refund attempt, then restores the gateway
// stubs for the test proper.
func (f *engineFixture) parkRefundPending(t *testing.T, ctx context.Context) string {
	t.Helper()

	expiry := time.Now().Add(30 * 24 * time.Hour)
	user := f.seedUser(t, 5000, &expiry)

	result, err := f.engine.Initiate(ctx, InitiateInput{
		UserID:      user.ID,
		Kind:        enums.TransactionKindAirtime,
		Amount:      decimal.NewFromInt(1000),
		ServiceType: "AIRTIME",
		Destination: "+2348012345678",
	})
	if err != nil {
		t.Fatalf("initiate: %v", err)
	}

	f.gateway.verifyFn = successfulVerify(900)
	f.gateway.billFn = func(flutterwave.BillPaymentRequest) (*flutterwave.BillPayment, error) {
		return nil, errors.New("biller unavailable")
	}
	f.gateway.refundFn = func(string, decimal.Decimal) (*flutterwave.Refund, error) {
		return nil, errors.New("refund endpoint down")
	}
	parked, _ := f.engine.Verify(ctx, result.Transaction.Reference)
	if parked.Status != enums.TransactionStatusRefundPending {
		t.Fatalf("expected refund_pending, got %s", parked.Status)
	}

	f.gateway.billFn = nil
	f.gateway.refundFn = nil
	f.gateway.refundAmounts = nil
	return result.Transaction.Reference
}

func TestRetryRefundClaimsRowBeforeGatewayCall(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	reference := f.parkRefundPending(t, ctx)

	var statusDuringRefund enums.TransactionStatus
	f.gateway.refundFn = func(string, decimal.Decimal) (*flutterwave.Refund, error) {
		current, err := f.repo.FindByReference(ctx, reference)
		if err != nil {
			return nil, err
		}
		statusDuringRefund = current.Status
		return &flutterwave.Refund{RefundRef: "RF-1", Status: "completed"}, nil
	}

	final, err := f.engine.RetryRefund(ctx, reference)
	if err != nil {
		t.Fatalf("retry refund: %v", err)
	}
	if statusDuringRefund != enums.TransactionStatusRefunding {
		t.Fatalf("expected row claimed as refunding before the gateway call, got %s", statusDuringRefund)
	}
	if final.Status != enums.TransactionStatusRefunded {
		t.Fatalf("expected refunded, got %s", final.Status)
	}
	if final.RefundedAt == nil {
		t.Fatal("expected refunded_at to be set")
	}
}

func TestRefundNotDoubleIssuedWhenAlreadyClaimed(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	reference := f.parkRefundPending(t, ctx)

	// Both drivers read the row as refund_pending before either moves it.
	stale, err := f.repo.FindByReference(ctx, reference)
	if err != nil {
		t.Fatalf("reload transaction: %v", err)
	}
	moved, err := f.repo.TransitionStatus(ctx, reference, enums.TransactionStatusRefundPending, enums.TransactionStatusRefunding, nil)
	if err != nil || !moved {
		t.Fatalf("claim transition: moved=%v err=%v", moved, err)
	}

	refunded, err := f.engine.issueRefund(ctx, stale, enums.TransactionStatusRefundPending, "refund retry")
	if err != nil {
		t.Fatalf("losing driver must back off cleanly, got %v", err)
	}
	if refunded {
		t.Fatal("losing driver must not report a refund")
	}
	if len(f.gateway.refundAmounts) != 0 {
		t.Fatalf("losing driver must never call the gateway, got %d refunds", len(f.gateway.refundAmounts))
	}
}

func TestFailedRetryRefundParksRowAgain(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	reference := f.parkRefundPending(t, ctx)

	f.gateway.refundFn = func(string, decimal.Decimal) (*flutterwave.Refund, error) {
		return nil, errors.New("refund endpoint down")
	}
	if _, err := f.engine.RetryRefund(ctx, reference); err == nil {
		t.Fatal("expected retry to surface the gateway failure")
	}

	current, err := f.repo.FindByReference(ctx, reference)
	if err != nil {
		t.Fatalf("reload transaction: %v", err)
	}
	if current.Status != enums.TransactionStatusRefundPending {
		t.Fatalf("failed retry must park the row back in refund_pending, got %s", current.Status)
	}
}

func TestWalletPurchaseDebitsAndFulfills(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	expiry := time.Now().Add(30 * 24 * time.Hour)
	user := f.seedUser(t, 5000, &expiry)

	final, err := f.engine.PurchaseFromWallet(ctx, InitiateInput{
		UserID:      user.ID,
		Kind:        enums.TransactionKindAirtime,
		Amount:      decimal.NewFromInt(1000),
		ServiceType: "AIRTIME",
		Destination: "+2348012345678",
	})
	if err != nil {
		t.Fatalf("wallet purchase: %v", err)
	}
	if final.Status != enums.TransactionStatusCompleted {
		t.Fatalf("expected completed, got %s", final.Status)
	}
	if !final.WalletFunded {
		t.Fatal("expected wallet funded flag")
	}

	balance, err := f.wallet.Balance(ctx, user.ID)
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	// 10% discount applies: 5000 - 900.
	if !balance.Equal(decimal.NewFromInt(4100)) {
		t.Fatalf("expected balance 4100, got %s", balance)
	}

	var entries []models.WalletLedgerEntry
	if err := f.conn.Where("reference = ?", final.Reference).Find(&entries).Error; err != nil {
		t.Fatalf("list entries: %v", err)
	}
	if len(entries) != 1 || entries[0].Type != enums.WalletEntryTypeDebit {
		t.Fatalf("expected exactly one debit entry, got %v", entries)
	}
}

func TestWalletPurchaseInsufficientBalance(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	user := f.seedUser(t, 100, nil)

	_, err := f.engine.PurchaseFromWallet(ctx, InitiateInput{
		UserID:      user.ID,
		Kind:        enums.TransactionKindAirtime,
		Amount:      decimal.NewFromInt(1000),
		ServiceType: "AIRTIME",
		Destination: "+2348012345678",
	})
	if typed := pkgerrors.As(err); typed == nil || typed.Code() != pkgerrors.CodeInsufficient {
		t.Fatalf("expected insufficient balance, got %v", err)
	}

	balance, err := f.wallet.Balance(ctx, user.ID)
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	if !balance.Equal(decimal.NewFromInt(100)) {
		t.Fatalf("failed purchase must not touch the balance, got %s", balance)
	}
	if f.gateway.billCalls() != 0 {
		t.Fatal("fulfillment must never run on a failed wallet debit")
	}
}

func TestWalletPurchaseRefundsToWalletOnFulfillmentFailure(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	expiry := time.Now().Add(30 * 24 * time.Hour)
	user := f.seedUser(t, 5000, &expiry)

	f.gateway.billFn = func(flutterwave.BillPaymentRequest) (*flutterwave.BillPayment, error) {
		return nil, errors.New("biller unavailable")
	}
	final, err := f.engine.PurchaseFromWallet(ctx, InitiateInput{
		UserID:      user.ID,
		Kind:        enums.TransactionKindAirtime,
		Amount:      decimal.NewFromInt(1000),
		ServiceType: "AIRTIME",
		Destination: "+2348012345678",
	})
	if typed := pkgerrors.As(err); typed == nil || typed.Code() != pkgerrors.CodeFulfillment {
		t.Fatalf("expected fulfillment failure code, got %v", err)
	}
	if final.Status != enums.TransactionStatusRefunded {
		t.Fatalf("expected refunded, got %s", final.Status)
	}
	if len(f.gateway.refundAmounts) != 0 {
		t.Fatal("wallet purchases must refund to the wallet, not the gateway")
	}

	balance, err := f.wallet.Balance(ctx, user.ID)
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	if !balance.Equal(decimal.NewFromInt(5000)) {
		t.Fatalf("expected balance restored to 5000, got %s", balance)
	}
}

func TestSweepStaleReverifiesOldTransactions(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	user := f.seedUser(t, 0, nil)

	result, err := f.engine.Initiate(ctx, InitiateInput{
		UserID:      user.ID,
		Kind:        enums.TransactionKindData,
		Amount:      decimal.NewFromInt(500),
		ServiceType: "DATA",
		Destination: "+2348012345678",
	})
	if err != nil {
		t.Fatalf("initiate: %v", err)
	}
	stale := time.Now().Add(-time.Hour)
	if err := f.conn.Model(&models.Transaction{}).
		Where("reference = ?", result.Transaction.Reference).
		UpdateColumn("created_at", stale).Error; err != nil {
		t.Fatalf("backdate transaction: %v", err)
	}

	f.gateway.verifyFn = successfulVerify(500)
	sweep, err := f.engine.SweepStale(ctx)
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if sweep.VerifiedStale != 1 {
		t.Fatalf("expected 1 verified stale transaction, got %d", sweep.VerifiedStale)
	}

	final, err := f.repo.FindByReference(ctx, result.Transaction.Reference)
	if err != nil {
		t.Fatalf("reload transaction: %v", err)
	}
	if final.Status != enums.TransactionStatusCompleted {
		t.Fatalf("expected completed, got %s", final.Status)
	}
}
