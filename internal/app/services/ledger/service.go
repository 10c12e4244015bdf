// Package ledger prices actions and settles credit transactions against
// account balances.
package ledger

import (
	"context"
	"encoding/json"

	"github.com/baldgiev-collab/serpifai/internal/app/domain/account"
	domain "github.com/baldgiev-collab/serpifai/internal/app/domain/ledger"
	"github.com/baldgiev-collab/serpifai/internal/app/storage"
	"github.com/baldgiev-collab/serpifai/internal/errors"
	"github.com/baldgiev-collab/serpifai/pkg/logger"
)

// Authorization reports the outcome of a successful Authorize call. For free
// actions TransactionID is empty and no journal row exists.
type Authorization struct {
	TransactionID string
	Cost          int64
	Remaining     int64
	TotalUsed     int64
}

// Service implements the credit ledger. The debit at Authorize time and the
// refund at Fail time are conditional store operations, never read-then-write,
// so concurrent requests against one account cannot drive the balance
// negative or double-spend a reservation.
type Service struct {
	accounts storage.AccountStore
	txs      storage.TransactionStore
	costs    *CostPolicy
	log      *logger.Logger
}

// New builds a ledger service. A nil policy selects the shipped pricing table.
func New(accounts storage.AccountStore, txs storage.TransactionStore, costs *CostPolicy, log *logger.Logger) *Service {
	if costs == nil {
		costs = DefaultCostPolicy()
	}
	if log == nil {
		log = logger.NewDefault("ledger")
	}
	return &Service{accounts: accounts, txs: txs, costs: costs, log: log}
}

// ResolveCost prices an action without side effects.
func (s *Service) ResolveCost(action string, payload json.RawMessage) int64 {
	return s.costs.ResolveCost(action, payload)
}

// Authorize prices the action and, when it costs anything, debits the account
// and opens a reserved transaction. The debit happens before the journal row
// is written; if the row cannot be written the debit is reversed.
func (s *Service) Authorize(ctx context.Context, acct account.Account, action string, payload json.RawMessage) (Authorization, error) {
	cost := s.costs.ResolveCost(action, payload)
	if cost == 0 {
		return Authorization{Cost: 0, Remaining: acct.CreditBalance, TotalUsed: acct.TotalCreditsUsed}, nil
	}

	debited, err := s.accounts.DebitCredits(ctx, acct.ID, cost)
	if err != nil {
		if err == storage.ErrInsufficientCredits {
			// Re-read for an accurate remaining figure in the error.
			remaining := acct.CreditBalance
			if fresh, ferr := s.accounts.GetAccount(ctx, acct.ID); ferr == nil {
				remaining = fresh.CreditBalance
			}
			return Authorization{}, errors.InsufficientCredits(cost, remaining)
		}
		return Authorization{}, errors.Internal("credit debit failed", err)
	}

	tx, err := s.txs.CreateTransaction(ctx, domain.Transaction{
		AccountID:  acct.ID,
		Action:     action,
		CreditCost: cost,
		Status:     domain.StatusReserved,
		Request:    payload,
	})
	if err != nil {
		if _, rerr := s.accounts.RefundCredits(ctx, acct.ID, cost); rerr != nil {
			s.log.WithError(rerr).WithField("account", acct.ID).Error("refund after failed journal write")
		}
		return Authorization{}, errors.Internal("transaction create failed", err)
	}

	return Authorization{
		TransactionID: tx.ID,
		Cost:          cost,
		Remaining:     debited.CreditBalance,
		TotalUsed:     debited.TotalCreditsUsed,
	}, nil
}

// Complete settles a reserved transaction as successful. The balance was
// already debited at Authorize time, so only the journal row changes.
// Completing an already-finalized transaction reports a conflict.
func (s *Service) Complete(ctx context.Context, transactionID string, result json.RawMessage) (domain.Transaction, error) {
	tx, err := s.txs.FinalizeTransaction(ctx, transactionID, domain.StatusCompleted, result, "")
	if err != nil {
		switch err {
		case storage.ErrAlreadyFinalized:
			return domain.Transaction{}, errors.Conflict("transaction already finalized")
		case storage.ErrNotFound:
			return domain.Transaction{}, errors.Conflict("transaction not found")
		}
		return domain.Transaction{}, errors.Internal("transaction completion failed", err)
	}
	return tx, nil
}

// Fail settles a reserved transaction as failed and refunds its cost exactly
// once. The finalize is the idempotency gate: only the caller that wins the
// reserved-to-failed transition performs the refund.
func (s *Service) Fail(ctx context.Context, transactionID, errMsg string) (domain.Transaction, error) {
	tx, err := s.txs.FinalizeTransaction(ctx, transactionID, domain.StatusFailed, nil, errMsg)
	if err != nil {
		switch err {
		case storage.ErrAlreadyFinalized:
			return domain.Transaction{}, errors.Conflict("transaction already finalized")
		case storage.ErrNotFound:
			return domain.Transaction{}, errors.Conflict("transaction not found")
		}
		return domain.Transaction{}, errors.Internal("transaction failure record failed", err)
	}

	if _, err := s.accounts.RefundCredits(ctx, tx.AccountID, tx.CreditCost); err != nil {
		s.log.WithError(err).WithFields(map[string]interface{}{
			"transaction": tx.ID,
			"account":     tx.AccountID,
			"cost":        tx.CreditCost,
		}).Error("refund failed after transaction failure")
		return tx, errors.Internal("credit refund failed", err)
	}
	return tx, nil
}

// History lists recent transactions for an account, newest first.
func (s *Service) History(ctx context.Context, accountID string, limit int) ([]domain.Transaction, error) {
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	txs, err := s.txs.ListTransactions(ctx, accountID, limit)
	if err != nil {
		return nil, errors.Internal("transaction history lookup failed", err)
	}
	return txs, nil
}
