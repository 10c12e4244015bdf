// Package httpapi exposes the gateway endpoint and the admin REST API.
package httpapi

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/baldgiev-collab/serpifai/internal/app/domain/account"
	"github.com/baldgiev-collab/serpifai/internal/app/metrics"
	"github.com/baldgiev-collab/serpifai/internal/app/services/accounts"
	"github.com/baldgiev-collab/serpifai/internal/app/services/gateway"
	"github.com/baldgiev-collab/serpifai/internal/config"
	"github.com/baldgiev-collab/serpifai/internal/errors"
	"github.com/baldgiev-collab/serpifai/internal/middleware"
	"github.com/baldgiev-collab/serpifai/pkg/logger"
)

const maxRequestBodyBytes = 1 << 20

// Server is the HTTP front of the gateway. It satisfies the system service
// contract so the manager owns its lifecycle.
type Server struct {
	cfg      config.ServerConfig
	gateway  *gateway.Gateway
	accounts *accounts.Service
	auth     *middleware.AuthMiddleware
	log      *logger.Logger
	srv      *http.Server
}

// NewServer wires the routes and middleware chain.
func NewServer(cfg config.ServerConfig, gw *gateway.Gateway, accts *accounts.Service, auth *middleware.AuthMiddleware, log *logger.Logger) *Server {
	if log == nil {
		log = logger.NewDefault("httpapi")
	}
	s := &Server{cfg: cfg, gateway: gw, accounts: accts, auth: auth, log: log}

	r := chi.NewRouter()
	r.Use(s.recoverer)
	r.Use(middleware.RequestLogger(log))
	r.Use(middleware.CORS())
	r.Use(middleware.SecureHeaders)
	if cfg.EnforceHTTPS {
		r.Use(middleware.EnforceHTTPS)
	}

	r.Get("/healthz", s.handleHealth)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	limiter := middleware.NewRateLimiter(cfg.RateLimitRPS, cfg.RateLimitBurst, log)
	r.Group(func(r chi.Router) {
		r.Use(limiter.Handler)
		r.Post("/", s.handleGateway)
		r.Post("/gateway", s.handleGateway)
	})

	r.Route("/admin", func(r chi.Router) {
		r.Use(auth.Handler)
		r.Post("/accounts", s.handleCreateAccount)
		r.Get("/accounts/{id}", s.handleGetAccount)
		r.Get("/accounts/{id}/transactions", s.handleListTransactions)
		r.Post("/accounts/{id}/credits", s.handleAdjustCredits)
	})

	s.srv = &http.Server{
		Addr:              cfg.Addr,
		Handler:           metrics.InstrumentHandler(r),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      2 * time.Minute,
	}
	return s
}

// Handler exposes the routed handler for tests.
func (s *Server) Handler() http.Handler { return s.srv.Handler }

func (s *Server) Name() string { return "httpapi" }

// Start begins serving in the background.
func (s *Server) Start(context.Context) error {
	go func() {
		s.log.WithField("addr", s.cfg.Addr).Info("http server listening")
		if err := s.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.log.WithError(err).Error("http server stopped")
		}
	}()
	return nil
}

// Stop drains connections until the context expires.
func (s *Server) Stop(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleGateway(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxRequestBodyBytes))
	if err != nil {
		writeServiceError(w, errors.PayloadMalformed(err))
		return
	}
	defer r.Body.Close()
	if len(body) == 0 {
		writeServiceError(w, errors.Validation("request body is required"))
		return
	}

	resp, err := s.gateway.Process(r.Context(), body, middleware.ClientIP(r))
	if err != nil {
		s.writeGatewayError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleCreateAccount(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Email         string `json:"email"`
		LicenseKey    string `json:"license_key"`
		CreditBalance int64  `json:"credit_balance"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeServiceError(w, errors.PayloadMalformed(err))
		return
	}

	acct, err := s.accounts.Create(r.Context(), account.Account{
		Email:         payload.Email,
		LicenseKey:    payload.LicenseKey,
		CreditBalance: payload.CreditBalance,
	})
	if err != nil {
		s.writeGatewayError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, acct)
}

func (s *Server) handleGetAccount(w http.ResponseWriter, r *http.Request) {
	acct, err := s.accounts.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeGatewayError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, acct)
}

func (s *Server) handleListTransactions(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if _, err := fmt.Sscanf(raw, "%d", &limit); err != nil {
			writeServiceError(w, errors.Validation("limit must be an integer"))
			return
		}
	}

	txs, err := s.accounts.History(r.Context(), chi.URLParam(r, "id"), limit)
	if err != nil {
		s.writeGatewayError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"transactions": txs})
}

func (s *Server) handleAdjustCredits(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Delta int64 `json:"delta"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeServiceError(w, errors.PayloadMalformed(err))
		return
	}

	acct, err := s.accounts.AdjustCredits(r.Context(), chi.URLParam(r, "id"), payload.Delta)
	if err != nil {
		s.writeGatewayError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, acct)
}

// writeGatewayError maps a pipeline error onto the wire contract. Unexpected
// faults are logged with detail and surfaced generically.
func (s *Server) writeGatewayError(w http.ResponseWriter, err error) {
	svcErr := errors.GetServiceError(err)
	if svcErr == nil {
		s.log.WithError(err).Error("unhandled error")
		svcErr = errors.Internal("internal error", err)
	}
	if svcErr.Code == errors.CodeInternal {
		s.log.WithError(svcErr).Error("request failed")
	}
	writeServiceError(w, svcErr)
}

func (s *Server) recoverer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				s.log.WithField("panic", fmt.Sprintf("%v", rec)).Error("handler panicked")
				writeServiceError(w, errors.Internal("internal error", nil))
			}
		}()
		next.ServeHTTP(w, r)
	})
}

func decodeJSON(body io.ReadCloser, dst interface{}) error {
	defer body.Close()
	dec := json.NewDecoder(io.LimitReader(body, maxRequestBodyBytes))
	dec.DisallowUnknownFields()
	return dec.Decode(dst)
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeServiceError(w http.ResponseWriter, err *errors.ServiceError) {
	body := map[string]interface{}{
		"success": false,
		"error":   err.Message,
	}
	if len(err.Details) > 0 {
		body["details"] = err.Details
	}
	writeJSON(w, err.HTTPStatus, body)
}
