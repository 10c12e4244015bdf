package dispatch

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/baldgiev-collab/serpifai/internal/app/domain/account"
	"github.com/baldgiev-collab/serpifai/internal/app/storage"
	"github.com/baldgiev-collab/serpifai/internal/errors"
	"github.com/baldgiev-collab/serpifai/pkg/logger"
)

const (
	// DefaultFetchTTL is how long fetched documents stay cached.
	DefaultFetchTTL = time.Hour

	maxFetchBodyBytes = 2 << 20
	maxMultiFetchURLs = 10
)

// Fetcher serves the fetch action family: retrieve remote documents with a
// TTL cache in front. Cache faults degrade to a plain fetch, never to a
// request failure.
type Fetcher struct {
	cache  storage.CacheStore
	client *http.Client
	ttl    time.Duration
	log    *logger.Logger
}

// NewFetcher builds the fetch handler.
func NewFetcher(cache storage.CacheStore, client *http.Client, ttl time.Duration, log *logger.Logger) *Fetcher {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	if ttl <= 0 {
		ttl = DefaultFetchTTL
	}
	if log == nil {
		log = logger.NewDefault("fetcher")
	}
	return &Fetcher{cache: cache, client: client, ttl: ttl, log: log}
}

func (f *Fetcher) Name() string { return "fetcher" }

type fetchResult struct {
	URL     string `json:"url"`
	Status  int    `json:"status,omitempty"`
	Body    string `json:"body,omitempty"`
	Cached  bool   `json:"cached"`
	Error   string `json:"error,omitempty"`
	Success bool   `json:"success"`
}

func (f *Fetcher) Handle(ctx context.Context, action string, payload json.RawMessage, _ account.Account) (json.RawMessage, error) {
	if strings.Contains(action, "multi") {
		return f.handleMulti(ctx, payload)
	}
	return f.handleSingle(ctx, payload)
}

func (f *Fetcher) handleSingle(ctx context.Context, payload json.RawMessage) (json.RawMessage, error) {
	var req struct {
		URL string `json:"url"`
	}
	if err := json.Unmarshal(payload, &req); err != nil {
		return nil, errors.PayloadMalformed(err)
	}
	if req.URL == "" {
		return nil, errors.Validation("url is required")
	}

	result := f.fetch(ctx, req.URL)
	if !result.Success {
		return nil, fmt.Errorf("fetch %s: %s", req.URL, result.Error)
	}
	return json.Marshal(result)
}

func (f *Fetcher) handleMulti(ctx context.Context, payload json.RawMessage) (json.RawMessage, error) {
	var req struct {
		URLs []string `json:"urls"`
	}
	if err := json.Unmarshal(payload, &req); err != nil {
		return nil, errors.PayloadMalformed(err)
	}
	if len(req.URLs) == 0 {
		return nil, errors.Validation("urls is required")
	}
	if len(req.URLs) > maxMultiFetchURLs {
		return nil, errors.Validation(fmt.Sprintf("at most %d urls per request", maxMultiFetchURLs))
	}

	results := make([]fetchResult, 0, len(req.URLs))
	for _, url := range req.URLs {
		if url == "" {
			results = append(results, fetchResult{URL: url, Error: "empty url"})
			continue
		}
		results = append(results, f.fetch(ctx, url))
	}
	return json.Marshal(map[string]interface{}{"results": results})
}

func (f *Fetcher) fetch(ctx context.Context, url string) fetchResult {
	key := cacheKey(url)

	if f.cache != nil {
		if cached, ok, err := f.cache.GetCache(ctx, key); err != nil {
			f.log.WithError(err).WithField("url", url).Warn("cache read failed")
		} else if ok {
			return fetchResult{URL: url, Status: http.StatusOK, Body: string(cached), Cached: true, Success: true}
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fetchResult{URL: url, Error: err.Error()}
	}
	resp, err := f.client.Do(req)
	if err != nil {
		return fetchResult{URL: url, Error: err.Error()}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxFetchBodyBytes))
	if err != nil {
		return fetchResult{URL: url, Status: resp.StatusCode, Error: err.Error()}
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fetchResult{URL: url, Status: resp.StatusCode, Error: fmt.Sprintf("status %d", resp.StatusCode)}
	}

	if f.cache != nil {
		if err := f.cache.SetCache(ctx, key, body, f.ttl); err != nil {
			f.log.WithError(err).WithField("url", url).Warn("cache write failed")
		}
	}
	return fetchResult{URL: url, Status: resp.StatusCode, Body: string(body), Success: true}
}

func cacheKey(url string) string {
	sum := sha256.Sum256([]byte(url))
	return hex.EncodeToString(sum[:])
}
