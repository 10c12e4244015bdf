// Package session arbitrates which caller currently holds a license key.
package session

import (
	"context"
	"time"

	"github.com/baldgiev-collab/serpifai/internal/app/domain/account"
	"github.com/baldgiev-collab/serpifai/internal/app/storage"
	"github.com/baldgiev-collab/serpifai/internal/errors"
	"github.com/baldgiev-collab/serpifai/pkg/logger"
)

// Service resolves license keys to accounts and enforces the configured
// session policy before admitting a request.
type Service struct {
	accounts storage.AccountStore
	policy   Policy
	log      *logger.Logger
	now      func() time.Time
}

// New builds a session service over the given account store.
func New(accounts storage.AccountStore, policy Policy, log *logger.Logger) *Service {
	if policy == nil {
		policy = NewIPExclusivePolicy(DefaultTimeout)
	}
	if log == nil {
		log = logger.NewDefault("session")
	}
	return &Service{
		accounts: accounts,
		policy:   policy,
		log:      log,
		now:      time.Now,
	}
}

// Authenticate looks up the license key, applies the session policy, and on
// success records the caller as the current session holder. callerIdentity is
// the transport-level identity (client IP); assertedIdentity is whatever the
// payload claims (an email), trusted only for the policy signals that
// explicitly consume it.
func (s *Service) Authenticate(ctx context.Context, licenseKey, callerIdentity, assertedIdentity string) (account.Account, error) {
	if licenseKey == "" {
		return account.Account{}, errors.InvalidLicense()
	}

	acct, err := s.accounts.GetAccountByLicense(ctx, licenseKey)
	if err != nil {
		if err == storage.ErrNotFound {
			return account.Account{}, errors.InvalidLicense()
		}
		return account.Account{}, errors.Internal("account lookup failed", err)
	}
	if !acct.IsActive() {
		return account.Account{}, errors.InvalidLicense()
	}

	now := s.now()
	bindTo, err := s.policy.Check(acct, callerIdentity, assertedIdentity, now)
	if err != nil {
		s.log.WithFields(map[string]interface{}{
			"account": acct.ID,
			"caller":  callerIdentity,
			"policy":  s.policy.Name(),
		}).Warn("session rejected")
		return account.Account{}, err
	}

	if bindTo != "" {
		bound, err := s.accounts.BindIdentity(ctx, acct.ID, bindTo)
		switch {
		case err == nil:
			acct = bound
		case err == storage.ErrIdentityBound:
			// Lost a race with a concurrent first use. Re-check against
			// the now-bound identity.
			fresh, ferr := s.accounts.GetAccount(ctx, acct.ID)
			if ferr != nil {
				return account.Account{}, errors.Internal("account reload failed", ferr)
			}
			if fresh.BoundIdentity != bindTo {
				return account.Account{}, errors.AccountMismatch(fresh.BoundIdentity)
			}
			acct = fresh
		default:
			return account.Account{}, errors.Internal("identity binding failed", err)
		}
	}

	updated, err := s.accounts.UpdateSession(ctx, acct.ID, callerIdentity, now)
	if err != nil {
		return account.Account{}, errors.Internal("session update failed", err)
	}
	return updated, nil
}

// Resolve looks up a license key without touching session state. Read-only
// account operations use it so that balance checks do not steal sessions.
func (s *Service) Resolve(ctx context.Context, licenseKey string) (account.Account, error) {
	if licenseKey == "" {
		return account.Account{}, errors.InvalidLicense()
	}
	acct, err := s.accounts.GetAccountByLicense(ctx, licenseKey)
	if err != nil {
		if err == storage.ErrNotFound {
			return account.Account{}, errors.InvalidLicense()
		}
		return account.Account{}, errors.Internal("account lookup failed", err)
	}
	if !acct.IsActive() {
		return account.Account{}, errors.InvalidLicense()
	}
	return acct, nil
}
