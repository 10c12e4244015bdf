package postgres

import (
	"context"
	"os"
	"testing"

	"github.com/baldgiev-collab/serpifai/internal/app/domain/account"
	"github.com/baldgiev-collab/serpifai/internal/app/storage"
)

func TestStoreIntegration(t *testing.T) {
	dsn := os.Getenv("TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("TEST_POSTGRES_DSN not set; skipping postgres integration test")
	}

	db, err := Open(dsn)
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	defer db.Close()

	if err := Migrate(db); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	store := New(db)
	ctx := context.Background()

	acct, err := store.CreateAccount(ctx, account.Account{
		Email:         "it@example.com",
		LicenseKey:    "LIC-IT-" + t.Name(),
		CreditBalance: 30,
	})
	if err != nil {
		t.Fatalf("create account: %v", err)
	}

	debited, err := store.DebitCredits(ctx, acct.ID, 10)
	if err != nil {
		t.Fatalf("debit: %v", err)
	}
	if debited.CreditBalance != 20 || debited.TotalCreditsUsed != 10 {
		t.Fatalf("after debit: %+v", debited)
	}

	if _, err := store.DebitCredits(ctx, acct.ID, 100); err != storage.ErrInsufficientCredits {
		t.Fatalf("expected ErrInsufficientCredits, got %v", err)
	}

	refunded, err := store.RefundCredits(ctx, acct.ID, 10)
	if err != nil {
		t.Fatalf("refund: %v", err)
	}
	if refunded.CreditBalance != 30 || refunded.TotalCreditsUsed != 0 {
		t.Fatalf("after refund: %+v", refunded)
	}
}
