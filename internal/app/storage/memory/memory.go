// Package memory is an in-memory implementation of the storage interfaces.
// It is safe for concurrent use and is primarily intended for tests and
// local development.
package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/baldgiev-collab/serpifai/internal/app/domain/account"
	"github.com/baldgiev-collab/serpifai/internal/app/domain/activity"
	"github.com/baldgiev-collab/serpifai/internal/app/domain/ledger"
	"github.com/baldgiev-collab/serpifai/internal/app/storage"
)

// Store holds all records behind one mutex. Conditional credit updates are
// check-then-set under the write lock, which gives the same atomicity the
// SQL store gets from conditional UPDATEs.
type Store struct {
	mu                sync.RWMutex
	nextID            int64
	accounts          map[string]account.Account
	accountsByLicense map[string]string
	transactions      map[string]ledger.Transaction
	txByAccount       map[string][]string
	activities        []activity.Entry
	cache             map[string]cacheEntry
}

type cacheEntry struct {
	value     []byte
	expiresAt time.Time
}

var _ storage.AccountStore = (*Store)(nil)
var _ storage.TransactionStore = (*Store)(nil)
var _ storage.ActivityStore = (*Store)(nil)
var _ storage.CacheStore = (*Store)(nil)

// New creates an empty store.
func New() *Store {
	return &Store{
		nextID:            1,
		accounts:          make(map[string]account.Account),
		accountsByLicense: make(map[string]string),
		transactions:      make(map[string]ledger.Transaction),
		txByAccount:       make(map[string][]string),
		cache:             make(map[string]cacheEntry),
	}
}

func (s *Store) nextIDLocked() string {
	id := s.nextID
	s.nextID++
	return fmt.Sprintf("%d", id)
}

// AccountStore implementation -------------------------------------------------

func (s *Store) CreateAccount(_ context.Context, acct account.Account) (account.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if acct.ID == "" {
		acct.ID = s.nextIDLocked()
	} else if _, exists := s.accounts[acct.ID]; exists {
		return account.Account{}, fmt.Errorf("account %s already exists", acct.ID)
	}

	licenseKey := strings.TrimSpace(acct.LicenseKey)
	if licenseKey == "" {
		return account.Account{}, fmt.Errorf("license key is required")
	}
	if _, exists := s.accountsByLicense[licenseKey]; exists {
		return account.Account{}, storage.ErrDuplicateLicense
	}

	now := time.Now().UTC()
	acct.LicenseKey = licenseKey
	acct.CreatedAt = now
	acct.UpdatedAt = now
	if acct.Status == "" {
		acct.Status = account.StatusActive
	}

	s.accounts[acct.ID] = acct
	s.accountsByLicense[licenseKey] = acct.ID
	return acct, nil
}

func (s *Store) GetAccount(_ context.Context, id string) (account.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	acct, ok := s.accounts[id]
	if !ok {
		return account.Account{}, storage.ErrNotFound
	}
	return acct, nil
}

func (s *Store) GetAccountByLicense(_ context.Context, licenseKey string) (account.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.accountsByLicense[strings.TrimSpace(licenseKey)]
	if !ok {
		return account.Account{}, storage.ErrNotFound
	}
	return s.accounts[id], nil
}

func (s *Store) UpdateSession(_ context.Context, id, sessionID string, startedAt time.Time) (account.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	acct, ok := s.accounts[id]
	if !ok {
		return account.Account{}, storage.ErrNotFound
	}

	acct.ActiveSessionID = sessionID
	acct.SessionStartedAt = startedAt
	acct.LastLoginAt = startedAt
	acct.UpdatedAt = time.Now().UTC()

	s.accounts[id] = acct
	return acct, nil
}

func (s *Store) BindIdentity(_ context.Context, id, identity string) (account.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	acct, ok := s.accounts[id]
	if !ok {
		return account.Account{}, storage.ErrNotFound
	}
	if acct.BoundIdentity != "" && acct.BoundIdentity != identity {
		return account.Account{}, storage.ErrIdentityBound
	}

	acct.BoundIdentity = identity
	acct.UpdatedAt = time.Now().UTC()

	s.accounts[id] = acct
	return acct, nil
}

func (s *Store) DebitCredits(_ context.Context, id string, amount int64) (account.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	acct, ok := s.accounts[id]
	if !ok {
		return account.Account{}, storage.ErrNotFound
	}
	if acct.CreditBalance < amount {
		return account.Account{}, storage.ErrInsufficientCredits
	}

	acct.CreditBalance -= amount
	acct.TotalCreditsUsed += amount
	acct.UpdatedAt = time.Now().UTC()

	s.accounts[id] = acct
	return acct, nil
}

func (s *Store) RefundCredits(_ context.Context, id string, amount int64) (account.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	acct, ok := s.accounts[id]
	if !ok {
		return account.Account{}, storage.ErrNotFound
	}

	acct.CreditBalance += amount
	acct.TotalCreditsUsed -= amount
	if acct.TotalCreditsUsed < 0 {
		acct.TotalCreditsUsed = 0
	}
	acct.UpdatedAt = time.Now().UTC()

	s.accounts[id] = acct
	return acct, nil
}

func (s *Store) AddCredits(_ context.Context, id string, delta int64) (account.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	acct, ok := s.accounts[id]
	if !ok {
		return account.Account{}, storage.ErrNotFound
	}
	if acct.CreditBalance+delta < 0 {
		return account.Account{}, storage.ErrInsufficientCredits
	}

	acct.CreditBalance += delta
	acct.UpdatedAt = time.Now().UTC()

	s.accounts[id] = acct
	return acct, nil
}

// TransactionStore implementation ---------------------------------------------

func (s *Store) CreateTransaction(_ context.Context, tx ledger.Transaction) (ledger.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if tx.ID == "" {
		tx.ID = s.nextIDLocked()
	} else if _, exists := s.transactions[tx.ID]; exists {
		return ledger.Transaction{}, fmt.Errorf("transaction %s already exists", tx.ID)
	}
	if tx.Status == "" {
		tx.Status = ledger.StatusReserved
	}
	tx.CreatedAt = time.Now().UTC()
	tx.Request = append(json.RawMessage(nil), tx.Request...)

	s.transactions[tx.ID] = tx
	s.txByAccount[tx.AccountID] = append(s.txByAccount[tx.AccountID], tx.ID)
	return tx, nil
}

func (s *Store) GetTransaction(_ context.Context, id string) (ledger.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	tx, ok := s.transactions[id]
	if !ok {
		return ledger.Transaction{}, storage.ErrNotFound
	}
	return tx, nil
}

func (s *Store) FinalizeTransaction(_ context.Context, id string, status ledger.Status, response json.RawMessage, errMsg string) (ledger.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, ok := s.transactions[id]
	if !ok {
		return ledger.Transaction{}, storage.ErrNotFound
	}
	if tx.Status != ledger.StatusReserved {
		return tx, storage.ErrAlreadyFinalized
	}
	if status != ledger.StatusCompleted && status != ledger.StatusFailed {
		return ledger.Transaction{}, fmt.Errorf("invalid final status %q", status)
	}

	tx.Status = status
	tx.Response = append(json.RawMessage(nil), response...)
	tx.Error = errMsg
	tx.CompletedAt = time.Now().UTC()

	s.transactions[id] = tx
	return tx, nil
}

func (s *Store) ListTransactions(_ context.Context, accountID string, limit int) ([]ledger.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := s.txByAccount[accountID]
	result := make([]ledger.Transaction, 0, len(ids))
	for _, id := range ids {
		result = append(result, s.transactions[id])
	}
	sort.Slice(result, func(i, j int) bool { return result[i].CreatedAt.After(result[j].CreatedAt) })
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

// ActivityStore implementation ------------------------------------------------

func (s *Store) RecordActivity(_ context.Context, entry activity.Entry) (activity.Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if entry.ID == "" {
		entry.ID = s.nextIDLocked()
	}
	entry.CreatedAt = time.Now().UTC()
	s.activities = append(s.activities, entry)
	return entry, nil
}

// Activities returns a copy of the audit log, oldest first. Test helper.
func (s *Store) Activities() []activity.Entry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]activity.Entry(nil), s.activities...)
}

// CacheStore implementation ---------------------------------------------------

func (s *Store) GetCache(_ context.Context, key string) ([]byte, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entry, ok := s.cache[key]
	if !ok || time.Now().After(entry.expiresAt) {
		return nil, false, nil
	}
	return append([]byte(nil), entry.value...), true, nil
}

func (s *Store) SetCache(_ context.Context, key string, value []byte, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.cache[key] = cacheEntry{
		value:     append([]byte(nil), value...),
		expiresAt: time.Now().Add(ttl),
	}
	return nil
}

func (s *Store) PurgeExpired(_ context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	var purged int64
	for key, entry := range s.cache {
		if now.After(entry.expiresAt) {
			delete(s.cache, key)
			purged++
		}
	}
	return purged, nil
}
