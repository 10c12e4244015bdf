package postgres

import (
	"context"
	"database/sql/driver"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"

	"github.com/baldgiev-collab/serpifai/internal/app/domain/ledger"
	"github.com/baldgiev-collab/serpifai/internal/app/storage"
)

func newMockStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return New(sqlx.NewDb(db, "sqlmock")), mock
}

var accountCols = []string{
	"id", "email", "license_key", "status", "credit_balance", "total_credits_used",
	"active_session_id", "session_started_at", "bound_identity", "created_at", "updated_at", "last_login_at",
}

func accountRowValues(balance, used int64) []driverValue {
	now := time.Now().UTC()
	return []driverValue{"acct-1", "owner@example.com", "LIC-123", "active", balance, used, nil, nil, nil, now, now, nil}
}

type driverValue = driver.Value

func TestDebitCreditsConditionalUpdate(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectQuery(`UPDATE accounts`).
		WithArgs("acct-1", int64(10), sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows(accountCols).AddRow(accountRowValues(20, 10)...))

	acct, err := store.DebitCredits(context.Background(), "acct-1", 10)
	if err != nil {
		t.Fatalf("debit: %v", err)
	}
	if acct.CreditBalance != 20 || acct.TotalCreditsUsed != 10 {
		t.Fatalf("account after debit = %+v", acct)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestDebitCreditsInsufficientBalance(t *testing.T) {
	store, mock := newMockStore(t)

	// Guarded update matches no row; the follow-up existence probe finds
	// the account, so the failure is a balance problem, not a missing row.
	mock.ExpectQuery(`UPDATE accounts`).
		WithArgs("acct-1", int64(50), sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows(accountCols))
	mock.ExpectQuery(`SELECT EXISTS`).
		WithArgs("acct-1").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))

	_, err := store.DebitCredits(context.Background(), "acct-1", 50)
	if err != storage.ErrInsufficientCredits {
		t.Fatalf("expected ErrInsufficientCredits, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestDebitCreditsMissingAccount(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectQuery(`UPDATE accounts`).
		WithArgs("ghost", int64(5), sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows(accountCols))
	mock.ExpectQuery(`SELECT EXISTS`).
		WithArgs("ghost").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(false))

	_, err := store.DebitCredits(context.Background(), "ghost", 5)
	if err != storage.ErrNotFound {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestBindIdentityConflict(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectQuery(`UPDATE accounts`).
		WithArgs("acct-1", "other@example.com", sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows(accountCols))
	mock.ExpectQuery(`SELECT EXISTS`).
		WithArgs("acct-1").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))

	_, err := store.BindIdentity(context.Background(), "acct-1", "other@example.com")
	if err != storage.ErrIdentityBound {
		t.Fatalf("expected ErrIdentityBound, got %v", err)
	}
}

var transactionCols = []string{
	"id", "account_id", "action", "credit_cost", "status",
	"request_snapshot", "response_snapshot", "error_message", "created_at", "completed_at",
}

func TestFinalizeTransactionGuardedOnReserved(t *testing.T) {
	store, mock := newMockStore(t)
	now := time.Now().UTC()

	mock.ExpectQuery(`UPDATE transactions`).
		WithArgs("tx-1", "completed", []byte(`{"ok":true}`), "", sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows(transactionCols).
			AddRow("tx-1", "acct-1", "workflow-stage-2", int64(10), "completed", nil, []byte(`{"ok":true}`), nil, now, now))

	tx, err := store.FinalizeTransaction(context.Background(), "tx-1", ledger.StatusCompleted, []byte(`{"ok":true}`), "")
	if err != nil {
		t.Fatalf("finalize: %v", err)
	}
	if tx.Status != ledger.StatusCompleted {
		t.Fatalf("status = %q", tx.Status)
	}
}

func TestFinalizeTransactionAlreadyFinalized(t *testing.T) {
	store, mock := newMockStore(t)
	now := time.Now().UTC()

	// Guarded update misses; the journal row exists in a final state.
	mock.ExpectQuery(`UPDATE transactions`).
		WithArgs("tx-1", "failed", nil, "late", sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows(transactionCols))
	mock.ExpectQuery(`SELECT .+ FROM transactions`).
		WithArgs("tx-1").
		WillReturnRows(sqlmock.NewRows(transactionCols).
			AddRow("tx-1", "acct-1", "workflow-stage-2", int64(10), "completed", nil, nil, nil, now, now))

	_, err := store.FinalizeTransaction(context.Background(), "tx-1", ledger.StatusFailed, nil, "late")
	if err != storage.ErrAlreadyFinalized {
		t.Fatalf("expected ErrAlreadyFinalized, got %v", err)
	}
}

func TestGetCacheMissOnExpiry(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectQuery(`SELECT value FROM fetch_cache`).
		WithArgs("key-1", sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"value"}))

	_, ok, err := store.GetCache(context.Background(), "key-1")
	if err != nil {
		t.Fatalf("get cache: %v", err)
	}
	if ok {
		t.Fatal("expired entry must be a miss")
	}
}

func TestPurgeExpiredReportsCount(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectExec(`DELETE FROM fetch_cache`).
		WithArgs(sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 7))

	removed, err := store.PurgeExpired(context.Background())
	if err != nil {
		t.Fatalf("purge: %v", err)
	}
	if removed != 7 {
		t.Fatalf("removed = %d, want 7", removed)
	}
}
