package wallet

import (
	"context"
	"fmt"
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/maralempay/maralempay-backend/pkg/db/models"
	"github.com/maralempay/maralempay-backend/pkg/enums"
	pkgerrors "github.com/maralempay/maralempay-backend/pkg/errors"
)

func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	conn, err := gorm.Open(sqlite.Open("file::memory:?cache=shared&_busy_timeout=5000"), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		t.Fatalf("failed to open test db: %v", err)
	}
	if err := conn.AutoMigrate(&models.User{}, &models.WalletLedgerEntry{}); err != nil {
		t.Fatalf("failed to migrate test db: %v", err)
	}
	t.Cleanup(func() {
		_ = conn.Migrator().DropTable(&models.WalletLedgerEntry{}, &models.User{})
	})
	return conn
}

func seedUser(t *testing.T, conn *gorm.DB, balance int64) *models.User {
	t.Helper()

	user := &models.User{
		Email:         fmt.Sprintf("mp_test_%s@example.com", uuid.NewString()),
		WalletBalance: decimal.NewFromInt(balance),
	}
	if err := conn.Create(user).Error; err != nil {
		t.Fatalf("create user: %v", err)
	}
	return user
}

func TestCreditWritesPairedLedgerEntry(t *testing.T) {
	conn := openTestDB(t)
	svc := NewService(conn)
	ctx := context.Background()
	user := seedUser(t, conn, 500)

	entry, err := svc.Credit(ctx, user.ID, "MPAY-fund-1", decimal.NewFromInt(1000), "wallet funding")
	if err != nil {
		t.Fatalf("credit: %v", err)
	}
	if entry.Type != enums.WalletEntryTypeCredit {
		t.Fatalf("expected credit entry, got %s", entry.Type)
	}
	if !entry.BalanceBefore.Equal(decimal.NewFromInt(500)) {
		t.Fatalf("expected balance before 500, got %s", entry.BalanceBefore)
	}
	if !entry.BalanceAfter.Equal(decimal.NewFromInt(1500)) {
		t.Fatalf("expected balance after 1500, got %s", entry.BalanceAfter)
	}

	balance, err := svc.Balance(ctx, user.ID)
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	if !balance.Equal(decimal.NewFromInt(1500)) {
		t.Fatalf("expected balance 1500, got %s", balance)
	}
}

func TestDebitGuardsBalance(t *testing.T) {
	conn := openTestDB(t)
	svc := NewService(conn)
	ctx := context.Background()
	user := seedUser(t, conn, 800)

	entry, err := svc.Debit(ctx, user.ID, "MPAY-buy-1", decimal.NewFromInt(300), "airtime purchase")
	if err != nil {
		t.Fatalf("debit: %v", err)
	}
	if !entry.BalanceAfter.Equal(decimal.NewFromInt(500)) {
		t.Fatalf("expected balance after 500, got %s", entry.BalanceAfter)
	}

	_, err = svc.Debit(ctx, user.ID, "MPAY-buy-2", decimal.NewFromInt(501), "airtime purchase")
	if typed := pkgerrors.As(err); typed == nil || typed.Code() != pkgerrors.CodeInsufficient {
		t.Fatalf("expected insufficient balance, got %v", err)
	}

	balance, err := svc.Balance(ctx, user.ID)
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	if !balance.Equal(decimal.NewFromInt(500)) {
		t.Fatalf("failed debit must not change the balance, got %s", balance)
	}

	var entries []models.WalletLedgerEntry
	if err := conn.Where("user_id = ?", user.ID).Find(&entries).Error; err != nil {
		t.Fatalf("list entries: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("failed debit must not write a ledger entry, got %d entries", len(entries))
	}
}

func TestDebitUnknownUser(t *testing.T) {
	conn := openTestDB(t)
	svc := NewService(conn)
	ctx := context.Background()

	_, err := svc.Debit(ctx, uuid.New(), "MPAY-buy-3", decimal.NewFromInt(100), "airtime purchase")
	if typed := pkgerrors.As(err); typed == nil || typed.Code() != pkgerrors.CodeNotFound {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestAmountsMustBePositive(t *testing.T) {
	conn := openTestDB(t)
	svc := NewService(conn)
	ctx := context.Background()
	user := seedUser(t, conn, 100)

	if _, err := svc.Credit(ctx, user.ID, "MPAY-x", decimal.Zero, ""); pkgerrors.As(err) == nil {
		t.Fatal("expected zero credit to be rejected")
	}
	if _, err := svc.Debit(ctx, user.ID, "MPAY-x", decimal.NewFromInt(-5), ""); pkgerrors.As(err) == nil {
		t.Fatal("expected negative debit to be rejected")
	}
}

func TestEntriesPagination(t *testing.T) {
	conn := openTestDB(t)
	svc := NewService(conn)
	ctx := context.Background()
	user := seedUser(t, conn, 0)

	for i := 1; i <= 3; i++ {
		if _, err := svc.Credit(ctx, user.ID, fmt.Sprintf("MPAY-fund-%d", i), decimal.NewFromInt(int64(i*100)), "topup"); err != nil {
			t.Fatalf("credit %d: %v", i, err)
		}
	}

	page, next, err := svc.Entries(ctx, user.ID, 2, nil)
	if err != nil {
		t.Fatalf("first page: %v", err)
	}
	if len(page) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(page))
	}
	if next == nil {
		t.Fatal("expected a next cursor")
	}

	rest, last, err := svc.Entries(ctx, user.ID, 2, next)
	if err != nil {
		t.Fatalf("second page: %v", err)
	}
	if len(rest) != 1 {
		t.Fatalf("expected 1 remaining entry, got %d", len(rest))
	}
	if last != nil {
		t.Fatal("expected pagination to end")
	}
}
