// Package ledger contains the credit transaction model. A transaction is the
// reservation-and-settlement record for one priced action invocation and is
// retained indefinitely as the audit trail.
package ledger

import (
	"encoding/json"
	"time"
)

// Status enumerates the transaction lifecycle. A transaction moves from
// reserved to exactly one of completed or failed.
type Status string

const (
	StatusReserved  Status = "reserved"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// Transaction records one priced action invocation against an account.
type Transaction struct {
	ID          string          `json:"id"`
	AccountID   string          `json:"account_id"`
	Action      string          `json:"action"`
	CreditCost  int64           `json:"credit_cost"`
	Status      Status          `json:"status"`
	Request     json.RawMessage `json:"request,omitempty"`
	Response    json.RawMessage `json:"response,omitempty"`
	Error       string          `json:"error,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
	CompletedAt time.Time       `json:"completed_at,omitempty"`
}

// Finalized reports whether the transaction has settled.
func (t Transaction) Finalized() bool {
	return t.Status == StatusCompleted || t.Status == StatusFailed
}
