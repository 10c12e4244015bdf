// Package activity contains the request audit log model.
package activity

import "time"

// Entry is one audit record written after a gateway request settles.
type Entry struct {
	ID             string    `json:"id"`
	AccountID      string    `json:"account_id"`
	Action         string    `json:"action"`
	Outcome        string    `json:"outcome"`
	CallerIdentity string    `json:"caller_identity"`
	Signed         bool      `json:"signed"`
	Details        string    `json:"details,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
}
