// Package app wires the gateway's services together and manages their
// lifecycle.
package app

import (
	"context"
	"net/http"
	"time"

	"github.com/baldgiev-collab/serpifai/internal/app/httpapi"
	"github.com/baldgiev-collab/serpifai/internal/app/janitor"
	acctsvc "github.com/baldgiev-collab/serpifai/internal/app/services/accounts"
	"github.com/baldgiev-collab/serpifai/internal/app/services/dispatch"
	"github.com/baldgiev-collab/serpifai/internal/app/services/gateway"
	ledgersvc "github.com/baldgiev-collab/serpifai/internal/app/services/ledger"
	"github.com/baldgiev-collab/serpifai/internal/app/services/session"
	"github.com/baldgiev-collab/serpifai/internal/app/storage"
	"github.com/baldgiev-collab/serpifai/internal/app/storage/memory"
	"github.com/baldgiev-collab/serpifai/internal/app/system"
	"github.com/baldgiev-collab/serpifai/internal/config"
	"github.com/baldgiev-collab/serpifai/internal/middleware"
	"github.com/baldgiev-collab/serpifai/internal/signing"
	"github.com/baldgiev-collab/serpifai/pkg/logger"
)

// Stores encapsulates persistence dependencies. Nil stores default to the
// in-memory implementation.
type Stores struct {
	Accounts     storage.AccountStore
	Transactions storage.TransactionStore
	Activity     storage.ActivityStore
	Cache        storage.CacheStore
}

// Application ties the gateway services together and manages their lifecycle.
type Application struct {
	manager *system.Manager
	log     *logger.Logger

	Gateway  *gateway.Gateway
	Accounts *acctsvc.Service
	Ledger   *ledgersvc.Service
	Sessions *session.Service
	Router   *dispatch.Router
	Server   *httpapi.Server
}

// New builds a fully initialised application from configuration and stores.
func New(cfg config.Config, stores Stores, log *logger.Logger) (*Application, error) {
	if log == nil {
		log = logger.New("app", cfg.Logging)
	}

	mem := memory.New()
	if stores.Accounts == nil {
		stores.Accounts = mem
	}
	if stores.Transactions == nil {
		stores.Transactions = mem
	}
	if stores.Activity == nil {
		stores.Activity = mem
	}
	if stores.Cache == nil {
		stores.Cache = mem
	}

	verifier, err := signing.New(cfg.Signing.Secret, cfg.Signing.Window())
	if err != nil {
		return nil, err
	}

	var policy session.Policy
	switch cfg.Session.Policy {
	case "permanent-binding":
		policy = session.NewPermanentBindingPolicy()
	default:
		policy = session.NewIPExclusivePolicy(cfg.Session.Timeout())
	}

	sessionSvc := session.New(stores.Accounts, policy, log.WithField("component", "session"))
	ledgerSvc := ledgersvc.New(stores.Accounts, stores.Transactions, nil, log.WithField("component", "ledger"))
	accountSvc := acctsvc.New(stores.Accounts, stores.Transactions, log.WithField("component", "accounts"))

	router := buildRouter(cfg, stores.Cache, accountSvc, log)

	gw := gateway.New(gateway.Deps{
		Verifier:      verifier,
		Sessions:      sessionSvc,
		Ledger:        ledgerSvc,
		Router:        router,
		Activity:      stores.Activity,
		Cache:         stores.Cache,
		Log:           log.WithField("component", "gateway"),
		AllowUnsigned: cfg.Server.AllowUnsigned,
	})

	auth := middleware.NewAuthMiddleware(cfg.Admin.JWTSecret, log.WithField("component", "auth"))
	server := httpapi.NewServer(cfg.Server, gw, accountSvc, auth, log.WithField("component", "httpapi"))

	manager := system.NewManager(log)
	manager.Register(janitor.New(stores.Cache, cfg.Janitor.Schedule, log.WithField("component", "janitor")))
	manager.Register(server)

	return &Application{
		manager:  manager,
		log:      log,
		Gateway:  gw,
		Accounts: accountSvc,
		Ledger:   ledgerSvc,
		Sessions: sessionSvc,
		Router:   router,
		Server:   server,
	}, nil
}

// buildRouter assembles the routing table. Registration order is a contract:
// the API proxy families first, then workflow and competitor, then the free
// in-process families, with the fetcher near-last so keyword overlaps like
// "competitor_fetch" resolve to the narrower family.
func buildRouter(cfg config.Config, cache storage.CacheStore, accountSvc *acctsvc.Service, log *logger.Logger) *dispatch.Router {
	router := dispatch.NewRouter(dispatch.DefaultHandlerTimeout, log.WithField("component", "dispatch"))

	// Clients spell family prefixes with either separator.
	prefixes := func(ps ...string) dispatch.Matcher {
		ms := make([]dispatch.Matcher, len(ps))
		for i, p := range ps {
			ms[i] = dispatch.Prefix(p)
		}
		return dispatch.Any(ms...)
	}

	upstreamClient := &http.Client{Timeout: dispatch.DefaultHandlerTimeout}
	registerUpstream := func(name string, match dispatch.Matcher) {
		url, ok := cfg.Upstream[name]
		if !ok {
			return
		}
		router.Register(name, match, dispatch.NewHTTPHandler(name, url, upstreamClient, log.WithField("upstream", name)))
	}

	registerUpstream("gemini", prefixes("gemini_", "gemini-", "ai_", "ai-"))
	registerUpstream("serper", prefixes("serper_", "serper-", "search_", "search-"))
	registerUpstream("pagespeed", prefixes("pagespeed_", "pagespeed-", "page_speed_", "page-speed-"))
	registerUpstream("openpagerank", dispatch.Any(
		prefixes("opr_", "opr-", "pagerank_", "pagerank-"),
		dispatch.Contains("domain_rank"),
		dispatch.Contains("domain-rank"),
	))
	registerUpstream("workflow", dispatch.Any(prefixes("workflow", "wf:"), dispatch.Contains("stage")))
	registerUpstream("competitor", dispatch.Any(
		prefixes("comp_", "comp-", "elite_", "elite-"),
		dispatch.Contains("competitor"),
	))

	router.Register("accounts", dispatch.Prefix("user-"), acctsvc.NewHandler(accountSvc))

	registerUpstream("project", dispatch.Contains("project"))
	registerUpstream("content", dispatch.Any(dispatch.Prefix("content"), dispatch.Contains("generate")))

	fetchClient := &http.Client{Timeout: cfg.Fetch.Timeout()}
	router.Register("fetch", dispatch.Contains("fetch"), dispatch.NewFetcher(cache, fetchClient, cfg.Fetch.TTL(), log.WithField("component", "fetcher")))

	return router
}

// Start brings all managed services up.
func (a *Application) Start(ctx context.Context) error {
	return a.manager.Start(ctx)
}

// Stop shuts the application down, allowing in-flight work to drain.
func (a *Application) Stop(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	return a.manager.Stop(ctx)
}
