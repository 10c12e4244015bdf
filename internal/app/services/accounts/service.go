// Package accounts serves the account-facing action family: license
// verification, balance queries, and manual credit adjustments.
package accounts

import (
	"context"

	"github.com/baldgiev-collab/serpifai/internal/app/domain/account"
	domainledger "github.com/baldgiev-collab/serpifai/internal/app/domain/ledger"
	"github.com/baldgiev-collab/serpifai/internal/app/storage"
	"github.com/baldgiev-collab/serpifai/internal/errors"
	"github.com/baldgiev-collab/serpifai/pkg/logger"
)

// Service exposes read and admin operations over accounts. Gateway request
// paths reach it through the action handler; the admin HTTP API calls it
// directly.
type Service struct {
	accounts storage.AccountStore
	txs      storage.TransactionStore
	log      *logger.Logger
}

// New builds the accounts service.
func New(accounts storage.AccountStore, txs storage.TransactionStore, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewDefault("accounts")
	}
	return &Service{accounts: accounts, txs: txs, log: log}
}

// Info is the caller-visible projection of an account. The license key and
// internal identifiers never leave the service.
type Info struct {
	Email            string `json:"email"`
	Status           string `json:"status"`
	CreditBalance    int64  `json:"credit_balance"`
	TotalCreditsUsed int64  `json:"total_credits_used"`
	MemberSince      string `json:"member_since"`
	LastLoginAt      string `json:"last_login_at,omitempty"`
}

// InfoFor projects an already-authenticated account.
func (s *Service) InfoFor(acct account.Account) Info {
	info := Info{
		Email:            acct.Email,
		Status:           string(acct.Status),
		CreditBalance:    acct.CreditBalance,
		TotalCreditsUsed: acct.TotalCreditsUsed,
		MemberSince:      acct.CreatedAt.UTC().Format("2006-01-02"),
	}
	if !acct.LastLoginAt.IsZero() {
		info.LastLoginAt = acct.LastLoginAt.UTC().Format("2006-01-02T15:04:05Z07:00")
	}
	return info
}

// Get returns an account by id.
func (s *Service) Get(ctx context.Context, id string) (account.Account, error) {
	acct, err := s.accounts.GetAccount(ctx, id)
	if err != nil {
		if err == storage.ErrNotFound {
			return account.Account{}, errors.Validation("account not found")
		}
		return account.Account{}, errors.Internal("account lookup failed", err)
	}
	return acct, nil
}

// Create provisions a new account.
func (s *Service) Create(ctx context.Context, acct account.Account) (account.Account, error) {
	if acct.Email == "" || acct.LicenseKey == "" {
		return account.Account{}, errors.Validation("email and license key are required")
	}
	created, err := s.accounts.CreateAccount(ctx, acct)
	if err != nil {
		if err == storage.ErrDuplicateLicense {
			return account.Account{}, errors.Validation("license key already in use")
		}
		return account.Account{}, errors.Internal("account create failed", err)
	}
	s.log.WithFields(map[string]interface{}{
		"account": created.ID,
		"email":   created.Email,
	}).Info("account created")
	return created, nil
}

// HasCredits reports whether the account can afford the given amount.
func (s *Service) HasCredits(ctx context.Context, id string, needed int64) (bool, int64, error) {
	acct, err := s.accounts.GetAccount(ctx, id)
	if err != nil {
		return false, 0, errors.Internal("account lookup failed", err)
	}
	return acct.CreditBalance >= needed, acct.CreditBalance, nil
}

// AdjustCredits applies a manual balance change outside the transaction
// journal. Positive deltas top the account up, negative deltas charge it.
// The store rejects adjustments that would make the balance negative.
func (s *Service) AdjustCredits(ctx context.Context, id string, delta int64) (account.Account, error) {
	if delta == 0 {
		return account.Account{}, errors.Validation("credit adjustment must be non-zero")
	}
	acct, err := s.accounts.AddCredits(ctx, id, delta)
	if err != nil {
		switch err {
		case storage.ErrNotFound:
			return account.Account{}, errors.Validation("account not found")
		case storage.ErrInsufficientCredits:
			fresh, ferr := s.accounts.GetAccount(ctx, id)
			remaining := int64(0)
			if ferr == nil {
				remaining = fresh.CreditBalance
			}
			return account.Account{}, errors.InsufficientCredits(-delta, remaining)
		}
		return account.Account{}, errors.Internal("credit adjustment failed", err)
	}
	s.log.WithFields(map[string]interface{}{
		"account": id,
		"delta":   delta,
		"balance": acct.CreditBalance,
	}).Info("credits adjusted")
	return acct, nil
}

// History lists recent transactions for an account, newest first.
func (s *Service) History(ctx context.Context, id string, limit int) ([]domainledger.Transaction, error) {
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	txs, err := s.txs.ListTransactions(ctx, id, limit)
	if err != nil {
		return nil, errors.Internal("transaction history lookup failed", err)
	}
	return txs, nil
}
