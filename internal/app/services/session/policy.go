package session

import (
	"time"

	"github.com/baldgiev-collab/serpifai/internal/app/domain/account"
	"github.com/baldgiev-collab/serpifai/internal/errors"
)

// DefaultTimeout is how long an exclusive session holds a license after its
// last successful authentication.
const DefaultTimeout = 30 * time.Minute

// Policy decides whether a caller may hold the license right now. The two
// implementations are mutually exclusive alternatives selected by
// configuration; exactly one is active per gateway process.
//
// Check returns the identity the account must be permanently bound to before
// the session is accepted, or "" when no binding is required.
type Policy interface {
	Name() string
	Check(acct account.Account, callerIdentity, assertedIdentity string, now time.Time) (bindTo string, err error)
}

// ipExclusive is the shipped arbitration behavior: one caller identity
// (usually an IP) holds the license at a time. The hold is advisory; it
// expires after the timeout and the same account email may take over from a
// new address at any point.
type ipExclusive struct {
	timeout time.Duration
}

// NewIPExclusivePolicy builds the IP-exclusivity policy.
func NewIPExclusivePolicy(timeout time.Duration) Policy {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &ipExclusive{timeout: timeout}
}

func (p *ipExclusive) Name() string { return "ip-exclusive" }

func (p *ipExclusive) Check(acct account.Account, callerIdentity, assertedIdentity string, now time.Time) (string, error) {
	if acct.ActiveSessionID == "" || acct.ActiveSessionID == callerIdentity {
		return "", nil
	}

	// Same account holder on a new address (VPN hop, mobile handoff) may
	// take the session over without waiting for expiry.
	if assertedIdentity != "" && assertedIdentity == acct.Email {
		return "", nil
	}

	if now.Sub(acct.SessionStartedAt) < p.timeout {
		return "", errors.SessionActive(
			acct.SessionStartedAt.UTC().Format(time.RFC3339),
			int64(p.timeout/time.Second),
		)
	}
	return "", nil
}

// permanentBinding ties the license to the first asserted identity forever.
// Once bound, only that identity may use the license, regardless of address.
type permanentBinding struct{}

// NewPermanentBindingPolicy builds the permanent-binding policy.
func NewPermanentBindingPolicy() Policy {
	return permanentBinding{}
}

func (permanentBinding) Name() string { return "permanent-binding" }

func (permanentBinding) Check(acct account.Account, callerIdentity, assertedIdentity string, _ time.Time) (string, error) {
	identity := assertedIdentity
	if identity == "" {
		identity = callerIdentity
	}

	if acct.BoundIdentity == "" {
		return identity, nil
	}
	if acct.BoundIdentity != identity {
		return "", errors.AccountMismatch(acct.BoundIdentity)
	}
	return "", nil
}
