// Package dispatch routes action names to category handlers under a fixed
// precedence order.
package dispatch

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/baldgiev-collab/serpifai/internal/app/domain/account"
	"github.com/baldgiev-collab/serpifai/internal/errors"
	"github.com/baldgiev-collab/serpifai/pkg/logger"
)

// DefaultHandlerTimeout bounds a single handler invocation. Downstream calls
// carry this budget independently of the inbound request deadline.
const DefaultHandlerTimeout = 90 * time.Second

// Handler is the uniform contract for one action category. Implementations
// are external collaborators; the router only promises to invoke the matched
// handler at most once per dispatch.
type Handler interface {
	Name() string
	Handle(ctx context.Context, action string, payload json.RawMessage, acct account.Account) (json.RawMessage, error)
}

// HandlerFunc adapts a function to the Handler contract.
type HandlerFunc struct {
	HandlerName string
	Fn          func(ctx context.Context, action string, payload json.RawMessage, acct account.Account) (json.RawMessage, error)
}

func (h HandlerFunc) Name() string { return h.HandlerName }

func (h HandlerFunc) Handle(ctx context.Context, action string, payload json.RawMessage, acct account.Account) (json.RawMessage, error) {
	return h.Fn(ctx, action, payload, acct)
}

// Matcher reports whether a rule claims an action name.
type Matcher func(action string) bool

// Exact matches one action name.
func Exact(name string) Matcher {
	return func(action string) bool { return action == name }
}

// Prefix matches actions starting with p.
func Prefix(p string) Matcher {
	return func(action string) bool { return strings.HasPrefix(action, p) }
}

// Suffix matches actions ending with s.
func Suffix(s string) Matcher {
	return func(action string) bool { return strings.HasSuffix(action, s) }
}

// Contains matches actions containing sub.
func Contains(sub string) Matcher {
	return func(action string) bool { return strings.Contains(action, sub) }
}

// Any matches when any of the given matchers match.
func Any(matchers ...Matcher) Matcher {
	return func(action string) bool {
		for _, m := range matchers {
			if m(action) {
				return true
			}
		}
		return false
	}
}

type rule struct {
	name    string
	match   Matcher
	handler Handler
}

// Router evaluates routing rules in registration order. Order is the only
// tiebreaker between overlapping keyword rules, so registration order is a
// documented contract, not an implementation detail.
type Router struct {
	rules   []rule
	timeout time.Duration
	log     *logger.Logger
}

// NewRouter builds an empty router.
func NewRouter(timeout time.Duration, log *logger.Logger) *Router {
	if timeout <= 0 {
		timeout = DefaultHandlerTimeout
	}
	if log == nil {
		log = logger.NewDefault("dispatch")
	}
	return &Router{timeout: timeout, log: log}
}

// Register appends a routing rule. Earlier registrations win over later ones.
func (r *Router) Register(name string, match Matcher, handler Handler) {
	r.rules = append(r.rules, rule{name: name, match: match, handler: handler})
}

// Resolve returns the rule name that would claim the action, or "" when no
// rule matches. Used by tests and diagnostics; Dispatch performs its own
// matching.
func (r *Router) Resolve(action string) string {
	action = normalize(action)
	for _, rl := range r.rules {
		if rl.match(action) {
			return rl.name
		}
	}
	return ""
}

// Dispatch invokes the first matching handler. The handler runs under its own
// timeout detached from the inbound request's cancellation, so a caller
// disconnect does not abandon a reserved transaction mid-flight.
func (r *Router) Dispatch(ctx context.Context, action string, payload json.RawMessage, acct account.Account) (json.RawMessage, error) {
	normalized := normalize(action)
	for _, rl := range r.rules {
		if !rl.match(normalized) {
			continue
		}

		hctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.timeout)
		defer cancel()

		start := time.Now()
		result, err := rl.handler.Handle(hctx, normalized, payload, acct)
		elapsed := time.Since(start)
		if err != nil {
			r.log.WithError(err).WithFields(map[string]interface{}{
				"action":  action,
				"rule":    rl.name,
				"handler": rl.handler.Name(),
				"took":    elapsed.String(),
			}).Warn("handler failed")
			return nil, err
		}
		r.log.WithFields(map[string]interface{}{
			"action":  action,
			"rule":    rl.name,
			"handler": rl.handler.Name(),
			"took":    elapsed.String(),
		}).Debug("handler finished")
		return result, nil
	}
	return nil, errors.UnknownAction(action)
}

func normalize(action string) string {
	return strings.ToLower(strings.TrimSpace(action))
}
