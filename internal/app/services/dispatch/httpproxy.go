package dispatch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/tidwall/gjson"

	"github.com/baldgiev-collab/serpifai/internal/app/domain/account"
	"github.com/baldgiev-collab/serpifai/pkg/logger"
)

const maxProxyResponseBytes = 4 << 20

// HTTPHandler forwards a whole action category to an upstream HTTP service.
// The upstream speaks the same JSON contract as in-process handlers: a body
// with a boolean "success" field, business data on success, and an "error"
// string on failure.
type HTTPHandler struct {
	name   string
	url    string
	client *http.Client
	log    *logger.Logger
}

// NewHTTPHandler builds a proxying handler for one upstream endpoint. The
// client's own timeout is the outer bound; per-dispatch deadlines arrive via
// the context.
func NewHTTPHandler(name, url string, client *http.Client, log *logger.Logger) *HTTPHandler {
	if client == nil {
		client = http.DefaultClient
	}
	if log == nil {
		log = logger.NewDefault("dispatch.http")
	}
	return &HTTPHandler{name: name, url: url, client: client, log: log}
}

func (h *HTTPHandler) Name() string { return h.name }

type proxyRequest struct {
	Action    string          `json:"action"`
	AccountID string          `json:"account_id"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

func (h *HTTPHandler) Handle(ctx context.Context, action string, payload json.RawMessage, acct account.Account) (json.RawMessage, error) {
	body, err := json.Marshal(proxyRequest{Action: action, AccountID: acct.ID, Payload: payload})
	if err != nil {
		return nil, fmt.Errorf("encode upstream request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build upstream request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := h.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("upstream %s: %w", h.name, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxProxyResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("read upstream %s response: %w", h.name, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("upstream %s returned status %d", h.name, resp.StatusCode)
	}
	if !gjson.ValidBytes(raw) {
		return nil, fmt.Errorf("upstream %s returned invalid JSON", h.name)
	}

	parsed := gjson.ParseBytes(raw)
	if success := parsed.Get("success"); success.Exists() && !success.Bool() {
		msg := parsed.Get("error").String()
		if msg == "" {
			msg = "upstream reported failure"
		}
		return nil, fmt.Errorf("upstream %s: %s", h.name, msg)
	}
	return json.RawMessage(raw), nil
}
