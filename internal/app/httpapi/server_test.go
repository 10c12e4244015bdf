package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/baldgiev-collab/serpifai/internal/app/domain/account"
	"github.com/baldgiev-collab/serpifai/internal/app/services/accounts"
	"github.com/baldgiev-collab/serpifai/internal/app/services/dispatch"
	"github.com/baldgiev-collab/serpifai/internal/app/services/gateway"
	"github.com/baldgiev-collab/serpifai/internal/app/services/ledger"
	"github.com/baldgiev-collab/serpifai/internal/app/services/session"
	"github.com/baldgiev-collab/serpifai/internal/app/storage/memory"
	"github.com/baldgiev-collab/serpifai/internal/config"
	"github.com/baldgiev-collab/serpifai/internal/middleware"
	"github.com/baldgiev-collab/serpifai/internal/signing"
)

type testEnv struct {
	store  *memory.Store
	signer *signing.Signer
	server *Server
	auth   *middleware.AuthMiddleware
	acct   account.Account
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	store := memory.New()
	acct, err := store.CreateAccount(context.Background(), account.Account{
		Email:         "owner@example.com",
		LicenseKey:    "LIC-123",
		Status:        account.StatusActive,
		CreditBalance: 30,
	})
	if err != nil {
		t.Fatalf("seed account: %v", err)
	}

	signer, err := signing.New("test-secret", time.Minute)
	if err != nil {
		t.Fatalf("signer: %v", err)
	}

	router := dispatch.NewRouter(time.Second, nil)
	router.Register("workflow", dispatch.Contains("stage"), dispatch.HandlerFunc{
		HandlerName: "workflow",
		Fn: func(context.Context, string, json.RawMessage, account.Account) (json.RawMessage, error) {
			return json.RawMessage(`{"stage_result":"done"}`), nil
		},
	})
	router.Register("broken", dispatch.Contains("broken"), dispatch.HandlerFunc{
		HandlerName: "broken",
		Fn: func(context.Context, string, json.RawMessage, account.Account) (json.RawMessage, error) {
			return nil, fmt.Errorf("downstream exploded")
		},
	})

	gw := gateway.New(gateway.Deps{
		Verifier:      signer,
		Sessions:      session.New(store, nil, nil),
		Ledger:        ledger.New(store, store, nil, nil),
		Router:        router,
		Activity:      store,
		Cache:         store,
		AllowUnsigned: true,
	})

	auth := middleware.NewAuthMiddleware("admin-secret", nil)
	server := NewServer(config.ServerConfig{
		Addr:           ":0",
		AllowUnsigned:  true,
		RateLimitRPS:   1000,
		RateLimitBurst: 1000,
	}, gw, accounts.New(store, store, nil), auth, nil)

	return &testEnv{store: store, signer: signer, server: server, auth: auth, acct: acct}
}

func (e *testEnv) post(t *testing.T, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	raw, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshal body: %v", err)
	}
	req := httptest.NewRequest(http.MethodPost, "/", bytes.NewReader(raw))
	req.RemoteAddr = "1.2.3.4:5555"
	rec := httptest.NewRecorder()
	e.server.Handler().ServeHTTP(rec, req)
	return rec
}

func (e *testEnv) signedRequest(t *testing.T, req gateway.Request) signing.Envelope {
	t.Helper()
	env, err := e.signer.Sign(req)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	return env
}

func TestGatewayEndpointSuccess(t *testing.T) {
	e := newTestEnv(t)

	rec := e.post(t, e.signedRequest(t, gateway.Request{License: "LIC-123", Action: "workflow-stage-2"}))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}

	var resp struct {
		Success     bool   `json:"success"`
		StageResult string `json:"stage_result"`
		Credits     struct {
			Cost      int64 `json:"cost"`
			Remaining int64 `json:"remaining"`
			Used      int64 `json:"used"`
		} `json:"credits"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !resp.Success || resp.StageResult != "done" {
		t.Fatalf("response = %s", rec.Body.String())
	}
	if resp.Credits.Cost != 10 || resp.Credits.Remaining != 20 || resp.Credits.Used != 10 {
		t.Fatalf("credits = %+v", resp.Credits)
	}
}

func TestGatewayEndpointStatusMapping(t *testing.T) {
	e := newTestEnv(t)
	if _, err := e.store.DebitCredits(context.Background(), e.acct.ID, 25); err != nil {
		t.Fatalf("drain balance: %v", err)
	}

	cases := []struct {
		name string
		req  gateway.Request
		want int
	}{
		{"missing action", gateway.Request{License: "LIC-123"}, http.StatusBadRequest},
		{"bad license", gateway.Request{License: "LIC-NOPE", Action: "workflow-stage-1"}, http.StatusUnauthorized},
		{"insufficient credits", gateway.Request{License: "LIC-123", Action: "competitor-analysis"}, http.StatusPaymentRequired},
		{"unknown action", gateway.Request{License: "LIC-123", Action: "mystery"}, http.StatusNotFound},
		{"handler fault", gateway.Request{License: "LIC-123", Action: "broken-op"}, http.StatusInternalServerError},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := e.post(t, e.signedRequest(t, tc.req))
			if rec.Code != tc.want {
				t.Fatalf("status = %d, want %d, body = %s", rec.Code, tc.want, rec.Body.String())
			}
			var resp struct {
				Success bool   `json:"success"`
				Error   string `json:"error"`
			}
			if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
				t.Fatalf("decode: %v", err)
			}
			if resp.Success || resp.Error == "" {
				t.Fatalf("error body = %s", rec.Body.String())
			}
		})
	}
}

func TestGatewayEndpointInternalErrorHidesDetail(t *testing.T) {
	e := newTestEnv(t)

	rec := e.post(t, e.signedRequest(t, gateway.Request{License: "LIC-123", Action: "broken-op"}))
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d", rec.Code)
	}
	if bytes.Contains(rec.Body.Bytes(), []byte("downstream exploded")) {
		t.Fatalf("internal detail leaked: %s", rec.Body.String())
	}
}

func TestGatewayEndpointEmptyBody(t *testing.T) {
	e := newTestEnv(t)

	req := httptest.NewRequest(http.MethodPost, "/", bytes.NewReader(nil))
	rec := httptest.NewRecorder()
	e.server.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestHealthz(t *testing.T) {
	e := newTestEnv(t)

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	e.server.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	e := newTestEnv(t)

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	e.server.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestAdminRequiresToken(t *testing.T) {
	e := newTestEnv(t)

	req := httptest.NewRequest(http.MethodGet, "/admin/accounts/"+e.acct.ID, nil)
	rec := httptest.NewRecorder()
	e.server.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rec.Code)
	}
}

func TestAdminAccountLifecycle(t *testing.T) {
	e := newTestEnv(t)
	token, err := e.auth.IssueToken("ops", "admin", time.Minute)
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}

	do := func(method, path string, body []byte) *httptest.ResponseRecorder {
		req := httptest.NewRequest(method, path, bytes.NewReader(body))
		req.Header.Set("Authorization", "Bearer "+token)
		rec := httptest.NewRecorder()
		e.server.Handler().ServeHTTP(rec, req)
		return rec
	}

	rec := do(http.MethodPost, "/admin/accounts", []byte(`{"email":"new@example.com","license_key":"LIC-NEW","credit_balance":100}`))
	if rec.Code != http.StatusCreated {
		t.Fatalf("create status = %d, body = %s", rec.Code, rec.Body.String())
	}
	var created account.Account
	if err := json.Unmarshal(rec.Body.Bytes(), &created); err != nil {
		t.Fatalf("decode created: %v", err)
	}

	rec = do(http.MethodGet, "/admin/accounts/"+created.ID, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("get status = %d", rec.Code)
	}

	rec = do(http.MethodPost, "/admin/accounts/"+created.ID+"/credits", []byte(`{"delta":-30}`))
	if rec.Code != http.StatusOK {
		t.Fatalf("adjust status = %d, body = %s", rec.Code, rec.Body.String())
	}
	var adjusted account.Account
	if err := json.Unmarshal(rec.Body.Bytes(), &adjusted); err != nil {
		t.Fatalf("decode adjusted: %v", err)
	}
	if adjusted.CreditBalance != 70 {
		t.Fatalf("balance = %d, want 70", adjusted.CreditBalance)
	}

	rec = do(http.MethodGet, "/admin/accounts/"+created.ID+"/transactions", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("transactions status = %d", rec.Code)
	}
}
