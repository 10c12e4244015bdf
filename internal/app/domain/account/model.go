// Package account contains the tenant account model. Accounts are provisioned
// by an external process; the gateway only reads them and mutates session and
// balance fields.
package account

import "time"

// Status enumerates the lifecycle states of an account.
type Status string

const (
	StatusActive    Status = "active"
	StatusInactive  Status = "inactive"
	StatusSuspended Status = "suspended"
)

// Account represents one licensed tenant of the gateway.
type Account struct {
	ID         string `json:"id"`
	Email      string `json:"email"`
	LicenseKey string `json:"license_key"`
	Status     Status `json:"status"`

	// Credit fields are mutated only through the conditional debit/refund
	// store operations, never by direct assignment.
	CreditBalance    int64 `json:"credit_balance"`
	TotalCreditsUsed int64 `json:"total_credits_used"`

	// Session fields are owned by the session guard.
	ActiveSessionID  string    `json:"active_session_id,omitempty"`
	SessionStartedAt time.Time `json:"session_started_at,omitempty"`
	BoundIdentity    string    `json:"bound_identity,omitempty"`

	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
	LastLoginAt time.Time `json:"last_login_at,omitempty"`
}

// IsActive reports whether the account may authenticate.
func (a Account) IsActive() bool { return a.Status == StatusActive }
