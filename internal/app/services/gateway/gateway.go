// Package gateway orchestrates the request pipeline: verify, authenticate,
// price, authorize, dispatch, finalize.
package gateway

import (
	"context"
	"encoding/json"
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/baldgiev-collab/serpifai/internal/app/domain/account"
	"github.com/baldgiev-collab/serpifai/internal/app/domain/activity"
	"github.com/baldgiev-collab/serpifai/internal/app/metrics"
	"github.com/baldgiev-collab/serpifai/internal/app/services/dispatch"
	"github.com/baldgiev-collab/serpifai/internal/app/services/ledger"
	"github.com/baldgiev-collab/serpifai/internal/app/services/session"
	"github.com/baldgiev-collab/serpifai/internal/app/storage"
	"github.com/baldgiev-collab/serpifai/internal/errors"
	"github.com/baldgiev-collab/serpifai/internal/signing"
	"github.com/baldgiev-collab/serpifai/pkg/logger"
)

// cleanupProbability is the chance that a finished request also sweeps
// expired cache records. The sweep runs detached and never delays the
// response.
const cleanupProbability = 0.01

// Request is the decoded payload shape shared by signed and unsigned
// submissions.
type Request struct {
	License string          `json:"license"`
	Action  string          `json:"action"`
	Email   string          `json:"email,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Deps collects the gateway's collaborators.
type Deps struct {
	Verifier *signing.Signer
	Sessions *session.Service
	Ledger   *ledger.Service
	Router   *dispatch.Router
	Activity storage.ActivityStore
	Cache    storage.CacheStore
	Log      *logger.Logger

	// AllowUnsigned admits bodies submitted without an envelope. Such
	// requests are processed but flagged in the audit trail and metrics.
	AllowUnsigned bool
}

// Gateway is the per-request orchestrator. It holds no per-request state and
// is safe for concurrent use.
type Gateway struct {
	deps Deps
	log  *logger.Logger

	randMu sync.Mutex
	rand   *rand.Rand
}

// New builds a gateway from its collaborators.
func New(deps Deps) *Gateway {
	log := deps.Log
	if log == nil {
		log = logger.NewDefault("gateway")
	}
	return &Gateway{
		deps: deps,
		log:  log,
		rand: rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// Process handles one inbound request body end to end and returns the
// response object to serialize. Errors carry their own HTTP status via the
// service error type; the transport layer only maps, never decides.
func (g *Gateway) Process(ctx context.Context, body []byte, callerIdentity string) (map[string]interface{}, error) {
	start := time.Now()

	req, signed, err := g.decode(body)
	if err != nil {
		metrics.RecordGatewayRequest("", "rejected", signed, time.Since(start))
		return nil, err
	}

	result, ruleName, err := g.process(ctx, req, signed, callerIdentity)
	outcome := "ok"
	if err != nil {
		outcome = "failed"
	}
	metrics.RecordGatewayRequest(ruleName, outcome, signed, time.Since(start))
	g.maybeCleanupCache()
	if err != nil {
		return nil, err
	}
	return result, nil
}

// decode recovers the request from either a signed envelope or, when
// permitted, a bare body.
func (g *Gateway) decode(body []byte) (Request, bool, error) {
	var probe struct {
		Payload   string `json:"payload"`
		Signature string `json:"signature"`
		Timestamp int64  `json:"timestamp"`
	}
	var req Request

	if err := json.Unmarshal(body, &probe); err == nil && probe.Signature != "" && probe.Payload != "" {
		env := signing.Envelope{
			Payload:   probe.Payload,
			Signature: probe.Signature,
			Timestamp: probe.Timestamp,
		}
		if err := g.deps.Verifier.Verify(env, &req); err != nil {
			return Request{}, true, err
		}
		return req, true, nil
	}

	if !g.deps.AllowUnsigned {
		return Request{}, false, errors.SignatureInvalid()
	}
	if err := json.Unmarshal(body, &req); err != nil {
		return Request{}, false, errors.PayloadMalformed(err)
	}
	return req, false, nil
}

func (g *Gateway) process(ctx context.Context, req Request, signed bool, callerIdentity string) (map[string]interface{}, string, error) {
	if strings.TrimSpace(req.Action) == "" {
		return nil, "", errors.Validation("action is required")
	}

	acct, err := g.deps.Sessions.Authenticate(ctx, req.License, callerIdentity, req.Email)
	if err != nil {
		g.audit(ctx, account.Account{}, req.Action, "auth_rejected", callerIdentity, signed, err.Error())
		return nil, "", err
	}

	ruleName := g.deps.Router.Resolve(req.Action)

	auth, err := g.deps.Ledger.Authorize(ctx, acct, req.Action, req.Payload)
	if err != nil {
		g.audit(ctx, acct, req.Action, "authorize_rejected", callerIdentity, signed, err.Error())
		return nil, ruleName, err
	}
	metrics.RecordDebit(auth.Cost)

	result, err := g.deps.Router.Dispatch(ctx, req.Action, req.Payload, acct)
	if err != nil {
		g.settleFailure(ctx, auth, err)
		g.audit(ctx, acct, req.Action, "failed", callerIdentity, signed, err.Error())
		if svcErr := errors.GetServiceError(err); svcErr != nil {
			return nil, ruleName, svcErr
		}
		return nil, ruleName, errors.Internal("action handler failed", err)
	}

	if auth.TransactionID != "" {
		if _, err := g.deps.Ledger.Complete(ctx, auth.TransactionID, result); err != nil {
			// The handler already ran; surfacing a conflict here would
			// double-charge a retry. Log and serve the result.
			g.log.WithError(err).WithField("transaction", auth.TransactionID).Error("transaction completion failed")
		}
	}
	g.audit(ctx, acct, req.Action, "completed", callerIdentity, signed, "")

	response := map[string]interface{}{"success": true}
	if len(result) > 0 {
		var fields map[string]interface{}
		if err := json.Unmarshal(result, &fields); err == nil {
			for k, v := range fields {
				if k == "success" || k == "credits" {
					continue
				}
				response[k] = v
			}
		} else {
			response["data"] = json.RawMessage(result)
		}
	}
	if auth.Cost > 0 {
		response["credits"] = map[string]int64{
			"cost":      auth.Cost,
			"remaining": auth.Remaining,
			"used":      auth.TotalUsed,
		}
	}
	return response, ruleName, nil
}

// settleFailure refunds a reserved transaction after a handler fault. The
// inbound context may already be cancelled, so settlement runs detached.
func (g *Gateway) settleFailure(ctx context.Context, auth ledger.Authorization, cause error) {
	if auth.TransactionID == "" {
		return
	}
	sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()

	if _, err := g.deps.Ledger.Fail(sctx, auth.TransactionID, cause.Error()); err != nil {
		g.log.WithError(err).WithField("transaction", auth.TransactionID).Error("transaction failure settlement failed")
		return
	}
	metrics.RecordRefund(auth.Cost)
}

// audit records the request outcome. Audit failures never affect the caller.
func (g *Gateway) audit(ctx context.Context, acct account.Account, action, outcome, callerIdentity string, signed bool, detail string) {
	if g.deps.Activity == nil {
		return
	}
	actx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()

	_, err := g.deps.Activity.RecordActivity(actx, activity.Entry{
		AccountID:      acct.ID,
		Action:         action,
		Outcome:        outcome,
		CallerIdentity: callerIdentity,
		Signed:         signed,
		Details:        detail,
	})
	if err != nil {
		g.log.WithError(err).Warn("activity record failed")
	}
}

// maybeCleanupCache occasionally sweeps expired cache records after a
// request finishes. The sweep runs in its own goroutine with its own
// deadline and can never block or fail the request that triggered it.
func (g *Gateway) maybeCleanupCache() {
	if g.deps.Cache == nil {
		return
	}
	g.randMu.Lock()
	roll := g.rand.Float64()
	g.randMu.Unlock()
	if roll >= cleanupProbability {
		return
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		removed, err := g.deps.Cache.PurgeExpired(ctx)
		if err != nil {
			g.log.WithError(err).Warn("opportunistic cache cleanup failed")
			return
		}
		metrics.RecordCachePurge("opportunistic", removed)
		if removed > 0 {
			g.log.WithField("removed", removed).Debug("opportunistic cache cleanup")
		}
	}()
}
