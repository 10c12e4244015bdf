// Package storage declares the persistence interfaces consumed by the
// gateway services. Implementations live in the memory, postgres and
// rediscache subpackages and are injected by the composition root.
package storage

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/baldgiev-collab/serpifai/internal/app/domain/account"
	"github.com/baldgiev-collab/serpifai/internal/app/domain/activity"
	"github.com/baldgiev-collab/serpifai/internal/app/domain/ledger"
)

// Sentinel errors shared by all store implementations.
var (
	ErrNotFound            = errors.New("record not found")
	ErrDuplicateLicense    = errors.New("license key already exists")
	ErrInsufficientCredits = errors.New("insufficient credit balance")
	ErrIdentityBound       = errors.New("account identity already bound")
	ErrAlreadyFinalized    = errors.New("transaction already finalized")
)

// AccountStore persists account records. Credit mutations are conditional
// single operations so concurrent requests against one account can never
// drive the balance negative.
type AccountStore interface {
	CreateAccount(ctx context.Context, acct account.Account) (account.Account, error)
	GetAccount(ctx context.Context, id string) (account.Account, error)
	GetAccountByLicense(ctx context.Context, licenseKey string) (account.Account, error)

	// UpdateSession overwrites the session fields and last-login timestamp.
	UpdateSession(ctx context.Context, id, sessionID string, startedAt time.Time) (account.Account, error)

	// BindIdentity sets the permanent identity once. ErrIdentityBound is
	// returned when the account is already bound to a different identity.
	BindIdentity(ctx context.Context, id, identity string) (account.Account, error)

	// DebitCredits atomically subtracts amount from the balance and adds it
	// to the usage counter, failing with ErrInsufficientCredits when the
	// balance is lower than amount.
	DebitCredits(ctx context.Context, id string, amount int64) (account.Account, error)

	// RefundCredits reverses a debit: balance grows, usage counter shrinks.
	RefundCredits(ctx context.Context, id string, amount int64) (account.Account, error)

	// AddCredits adjusts the balance without touching the usage counter.
	// Negative deltas fail with ErrInsufficientCredits instead of going
	// below zero.
	AddCredits(ctx context.Context, id string, delta int64) (account.Account, error)
}

// TransactionStore persists the credit transaction journal.
type TransactionStore interface {
	CreateTransaction(ctx context.Context, tx ledger.Transaction) (ledger.Transaction, error)
	GetTransaction(ctx context.Context, id string) (ledger.Transaction, error)

	// FinalizeTransaction moves a reserved transaction to completed or
	// failed exactly once; ErrAlreadyFinalized otherwise.
	FinalizeTransaction(ctx context.Context, id string, status ledger.Status, response json.RawMessage, errMsg string) (ledger.Transaction, error)

	ListTransactions(ctx context.Context, accountID string, limit int) ([]ledger.Transaction, error)
}

// ActivityStore records the request audit trail. Writers treat failures as
// non-fatal.
type ActivityStore interface {
	RecordActivity(ctx context.Context, entry activity.Entry) (activity.Entry, error)
}

// CacheStore is the TTL cache behind the fetcher action family.
type CacheStore interface {
	GetCache(ctx context.Context, key string) ([]byte, bool, error)
	SetCache(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// PurgeExpired removes expired records and reports how many were
	// dropped. Backends with native expiry may report zero.
	PurgeExpired(ctx context.Context) (int64, error)
}
