package accounts

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/baldgiev-collab/serpifai/internal/app/domain/account"
	"github.com/baldgiev-collab/serpifai/internal/errors"
)

// Handler serves the in-process account action family on the dispatch
// contract. All of its actions are free; pricing never reaches this handler
// with a reserved transaction.
type Handler struct {
	svc *Service
}

// NewHandler wraps the service for dispatch registration.
func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) Name() string { return "accounts" }

// Handle maps account action names onto service calls. The caller is already
// authenticated, so acct is trusted.
func (h *Handler) Handle(ctx context.Context, action string, payload json.RawMessage, acct account.Account) (json.RawMessage, error) {
	switch action {
	case "user-verify", "user-verify-license":
		return marshal(map[string]interface{}{
			"valid": true,
			"email": acct.Email,
		})

	case "user-info":
		return marshal(h.svc.InfoFor(acct))

	case "user-credits":
		return marshal(map[string]interface{}{
			"credit_balance":     acct.CreditBalance,
			"total_credits_used": acct.TotalCreditsUsed,
		})

	case "user-status":
		return marshal(map[string]interface{}{
			"status": string(acct.Status),
			"active": acct.IsActive(),
		})

	case "user-has-credits":
		var req struct {
			Amount int64 `json:"amount"`
		}
		if err := decode(payload, &req); err != nil {
			return nil, err
		}
		if req.Amount <= 0 {
			return nil, errors.Validation("amount must be positive")
		}
		ok, balance, err := h.svc.HasCredits(ctx, acct.ID, req.Amount)
		if err != nil {
			return nil, err
		}
		return marshal(map[string]interface{}{
			"has_credits":    ok,
			"credit_balance": balance,
		})

	case "user-add-credits", "user-deduct-credits":
		var req struct {
			Amount int64 `json:"amount"`
		}
		if err := decode(payload, &req); err != nil {
			return nil, err
		}
		if req.Amount <= 0 {
			return nil, errors.Validation("amount must be positive")
		}
		delta := req.Amount
		if action == "user-deduct-credits" {
			delta = -delta
		}
		updated, err := h.svc.AdjustCredits(ctx, acct.ID, delta)
		if err != nil {
			return nil, err
		}
		return marshal(map[string]interface{}{
			"credit_balance": updated.CreditBalance,
		})

	case "user-transactions":
		var req struct {
			Limit int `json:"limit"`
		}
		if err := decode(payload, &req); err != nil {
			return nil, err
		}
		txs, err := h.svc.History(ctx, acct.ID, req.Limit)
		if err != nil {
			return nil, err
		}
		return marshal(map[string]interface{}{
			"transactions": txs,
		})
	}
	return nil, errors.UnknownAction(action)
}

func decode(payload json.RawMessage, dst interface{}) error {
	if len(payload) == 0 {
		return nil
	}
	if err := json.Unmarshal(payload, dst); err != nil {
		return errors.PayloadMalformed(err)
	}
	return nil
}

func marshal(v interface{}) (json.RawMessage, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode handler result: %w", err)
	}
	return raw, nil
}
