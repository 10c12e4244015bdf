package ledger

import (
	"context"
	"encoding/json"
	"sync"
	"testing"

	"github.com/baldgiev-collab/serpifai/internal/app/domain/account"
	domain "github.com/baldgiev-collab/serpifai/internal/app/domain/ledger"
	"github.com/baldgiev-collab/serpifai/internal/app/storage/memory"
	"github.com/baldgiev-collab/serpifai/internal/errors"
)

func seedAccount(t *testing.T, store *memory.Store, balance int64) account.Account {
	t.Helper()
	acct, err := store.CreateAccount(context.Background(), account.Account{
		Email:         "owner@example.com",
		LicenseKey:    "LIC-123",
		Status:        account.StatusActive,
		CreditBalance: balance,
	})
	if err != nil {
		t.Fatalf("seed account: %v", err)
	}
	return acct
}

func TestAuthorizeCompleteDebitsOnce(t *testing.T) {
	store := memory.New()
	acct := seedAccount(t, store, 30)
	svc := New(store, store, nil, nil)
	ctx := context.Background()

	auth, err := svc.Authorize(ctx, acct, "workflow-stage-2", json.RawMessage(`{"q":"x"}`))
	if err != nil {
		t.Fatalf("authorize: %v", err)
	}
	if auth.Cost != 10 {
		t.Fatalf("cost = %d, want 10", auth.Cost)
	}
	if auth.Remaining != 20 {
		t.Fatalf("remaining = %d, want 20", auth.Remaining)
	}

	if _, err := svc.Complete(ctx, auth.TransactionID, json.RawMessage(`{"ok":true}`)); err != nil {
		t.Fatalf("complete: %v", err)
	}

	final, err := store.GetAccount(ctx, acct.ID)
	if err != nil {
		t.Fatalf("get account: %v", err)
	}
	if final.CreditBalance != 20 {
		t.Fatalf("balance after complete = %d, want 20", final.CreditBalance)
	}
	if final.TotalCreditsUsed != 10 {
		t.Fatalf("total used = %d, want 10", final.TotalCreditsUsed)
	}

	tx, err := store.GetTransaction(ctx, auth.TransactionID)
	if err != nil {
		t.Fatalf("get transaction: %v", err)
	}
	if tx.Status != domain.StatusCompleted {
		t.Fatalf("status = %q, want completed", tx.Status)
	}
}

func TestFailRefundsExactlyOnce(t *testing.T) {
	store := memory.New()
	acct := seedAccount(t, store, 30)
	svc := New(store, store, nil, nil)
	ctx := context.Background()

	auth, err := svc.Authorize(ctx, acct, "workflow-stage-2", nil)
	if err != nil {
		t.Fatalf("authorize: %v", err)
	}

	tx, err := svc.Fail(ctx, auth.TransactionID, "downstream timeout")
	if err != nil {
		t.Fatalf("fail: %v", err)
	}
	if tx.Error != "downstream timeout" {
		t.Fatalf("error message = %q", tx.Error)
	}

	final, err := store.GetAccount(ctx, acct.ID)
	if err != nil {
		t.Fatalf("get account: %v", err)
	}
	if final.CreditBalance != 30 {
		t.Fatalf("balance after refund = %d, want 30", final.CreditBalance)
	}
	if final.TotalCreditsUsed != 0 {
		t.Fatalf("total used after refund = %d, want 0", final.TotalCreditsUsed)
	}

	// Second Fail must not refund again.
	if _, err := svc.Fail(ctx, auth.TransactionID, "again"); !errors.Is(err, errors.CodeConflict) {
		t.Fatalf("expected conflict on second fail, got %v", err)
	}
	final, _ = store.GetAccount(ctx, acct.ID)
	if final.CreditBalance != 30 {
		t.Fatalf("balance after duplicate fail = %d, want 30", final.CreditBalance)
	}
}

func TestCompleteThenFailConflicts(t *testing.T) {
	store := memory.New()
	acct := seedAccount(t, store, 30)
	svc := New(store, store, nil, nil)
	ctx := context.Background()

	auth, err := svc.Authorize(ctx, acct, "fetch-single", nil)
	if err != nil {
		t.Fatalf("authorize: %v", err)
	}
	if _, err := svc.Complete(ctx, auth.TransactionID, nil); err != nil {
		t.Fatalf("complete: %v", err)
	}
	if _, err := svc.Fail(ctx, auth.TransactionID, "late failure"); !errors.Is(err, errors.CodeConflict) {
		t.Fatalf("expected conflict, got %v", err)
	}
	// No refund happened.
	final, _ := store.GetAccount(ctx, acct.ID)
	if final.CreditBalance != 29 {
		t.Fatalf("balance = %d, want 29", final.CreditBalance)
	}
}

func TestAuthorizeInsufficientCredits(t *testing.T) {
	store := memory.New()
	acct := seedAccount(t, store, 5)
	svc := New(store, store, nil, nil)

	_, err := svc.Authorize(context.Background(), acct, "competitor-analysis", nil)
	if !errors.Is(err, errors.CodeInsufficient) {
		t.Fatalf("expected insufficient credits, got %v", err)
	}
	svcErr := errors.GetServiceError(err)
	if svcErr.Details["credits_needed"] != int64(30) {
		t.Fatalf("credits_needed = %v, want 30", svcErr.Details["credits_needed"])
	}
	if svcErr.Details["credits_remaining"] != int64(5) {
		t.Fatalf("credits_remaining = %v, want 5", svcErr.Details["credits_remaining"])
	}

	// Balance untouched, no journal row.
	final, _ := store.GetAccount(context.Background(), acct.ID)
	if final.CreditBalance != 5 {
		t.Fatalf("balance = %d, want 5", final.CreditBalance)
	}
}

func TestAuthorizeFreeActionSkipsJournal(t *testing.T) {
	store := memory.New()
	acct := seedAccount(t, store, 0)
	svc := New(store, store, nil, nil)

	auth, err := svc.Authorize(context.Background(), acct, "project-list", json.RawMessage(`{"page":3}`))
	if err != nil {
		t.Fatalf("authorize free action: %v", err)
	}
	if auth.Cost != 0 || auth.TransactionID != "" {
		t.Fatalf("free action authorization = %+v", auth)
	}
}

func TestConcurrentAuthorizeNeverOverdraws(t *testing.T) {
	store := memory.New()
	acct := seedAccount(t, store, 50)
	svc := New(store, store, nil, nil)
	ctx := context.Background()

	// 20 concurrent stage-2 requests at 10 credits each against a balance
	// of 50: exactly 5 may pass.
	var wg sync.WaitGroup
	granted := make(chan Authorization, 20)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if auth, err := svc.Authorize(ctx, acct, "workflow-stage-2", nil); err == nil {
				granted <- auth
			}
		}()
	}
	wg.Wait()
	close(granted)

	var count int
	for auth := range granted {
		count++
		if _, err := svc.Complete(ctx, auth.TransactionID, nil); err != nil {
			t.Fatalf("complete: %v", err)
		}
	}
	if count != 5 {
		t.Fatalf("granted %d authorizations, want 5", count)
	}

	final, _ := store.GetAccount(ctx, acct.ID)
	if final.CreditBalance != 0 {
		t.Fatalf("final balance = %d, want 0", final.CreditBalance)
	}
	if final.TotalCreditsUsed != 50 {
		t.Fatalf("total used = %d, want 50", final.TotalCreditsUsed)
	}
}

func TestHistoryNewestFirst(t *testing.T) {
	store := memory.New()
	acct := seedAccount(t, store, 100)
	svc := New(store, store, nil, nil)
	ctx := context.Background()

	actions := []string{"fetch-single", "workflow-stage-1", "competitor-analysis"}
	for _, action := range actions {
		auth, err := svc.Authorize(ctx, acct, action, nil)
		if err != nil {
			t.Fatalf("authorize %s: %v", action, err)
		}
		if _, err := svc.Complete(ctx, auth.TransactionID, nil); err != nil {
			t.Fatalf("complete %s: %v", action, err)
		}
	}

	history, err := svc.History(ctx, acct.ID, 2)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(history) != 2 {
		t.Fatalf("history length = %d, want 2", len(history))
	}
	if history[0].Action != "competitor-analysis" {
		t.Fatalf("history[0] = %q, want newest first", history[0].Action)
	}
}
