package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/gofiber/fiber/v3"
	"go.uber.org/zap"

	"searchproxy/internal/background"
	"searchproxy/internal/cache"
	"searchproxy/internal/cors"
	"searchproxy/internal/logging"
	"searchproxy/internal/request"
	"searchproxy/internal/testutil"
	"searchproxy/internal/upstream"
)

const testSSRSecret = "ssr-sentinel"

// pipeline bundles the assembled app with its fakes for assertions.
type pipeline struct {
	app      *fiber.App
	store    *testutil.MemStore
	queue    *background.Queue
	upstream *httptest.Server
	calls    *int
}

// newPipeline wires the full request pipeline against one upstream stub.
func newPipeline(t *testing.T, clientTTL time.Duration, upstreamHandler http.HandlerFunc) *pipeline {
	t.Helper()

	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		upstreamHandler(w, r)
	}))
	t.Cleanup(srv.Close)

	u, err := url.Parse(srv.URL)
	if err != nil {
		t.Fatalf("parse upstream url: %v", err)
	}

	dispatcher := upstream.New(upstream.Options{
		Scheme:        "http",
		SearchHosts:   []string{u.Host},
		AnalyticsHost: u.Host,
		AppID:         "TESTAPP",
		APIKey:        "test-key",
		Agent:         "search-proxy (test)",
	})

	store := testutil.NewMemStore()
	queue := background.New(zap.NewNop(), 64)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		queue.Shutdown(ctx)
	})

	gate := cache.NewGate(store, queue, 5*time.Minute, clientTTL, zap.NewNop())
	reqLog := logging.NewRequestLogger(zap.NewNop(), queue)

	app := fiber.New()
	app.Use(request.Middleware(testSSRSecret))
	app.Use(cors.Middleware())
	app.Options("/*", cors.Preflight)

	searchHandler := NewSearchHandler(dispatcher, gate, reqLog, zap.NewNop())
	eventsHandler := NewEventsHandler(dispatcher, reqLog, zap.NewNop())
	app.Get("/1/indexes/:index/queries", searchHandler.Queries)
	app.Post("/1/indexes/:index/queries", searchHandler.Queries)
	app.Post("/1/events", eventsHandler.Events)

	return &pipeline{app: app, store: store, queue: queue, upstream: srv, calls: &calls}
}

// drain waits for queued background work (cache stores, log lines).
func (p *pipeline) drain(t *testing.T) {
	t.Helper()
	done := make(chan struct{})
	if !p.queue.Submit(func() { close(done) }) {
		t.Fatal("queue rejected drain marker")
	}
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("background queue did not drain")
	}
}

func echoUpstream(body string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(body))
	}
}

func postQueries(t *testing.T, p *pipeline, target string, body []byte, mutate func(*http.Request)) *http.Response {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, target, bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if mutate != nil {
		mutate(req)
	}
	resp, err := p.app.Test(req)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	return resp
}

func decodeError(t *testing.T, resp *http.Response) map[string]any {
	t.Helper()
	var out map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode error body: %v", err)
	}
	return out
}

func TestSearchProxiesValidPost(t *testing.T) {
	p := newPipeline(t, 0, echoUpstream(`{"results":[{"hits":[]}]}`))

	resp := postQueries(t, p, "/1/indexes/products/queries", testutil.SearchBody(t, "jeans"), func(r *http.Request) {
		r.Header.Set("Origin", "https://shop.avocadostore.de")
	})

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	body, _ := io.ReadAll(resp.Body)
	if string(body) != `{"results":[{"hits":[]}]}` {
		t.Errorf("body = %s", body)
	}
	if got := resp.Header.Get("Access-Control-Allow-Origin"); got != "https://shop.avocadostore.de" {
		t.Errorf("Allow-Origin = %q", got)
	}
	if *p.calls != 1 {
		t.Errorf("upstream calls = %d, want 1", *p.calls)
	}
}

func TestSearchRejectsMalformedJSON(t *testing.T) {
	p := newPipeline(t, 0, echoUpstream("{}"))

	resp := postQueries(t, p, "/1/indexes/products/queries", []byte("{not json"), nil)

	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", resp.StatusCode)
	}
	out := decodeError(t, resp)
	if out["errorType"] != "malformed_json" {
		t.Errorf("errorType = %v", out["errorType"])
	}
	if out["timestamp"] == nil {
		t.Error("timestamp missing")
	}
	if *p.calls != 0 {
		t.Errorf("rejected request must not reach upstream, calls = %d", *p.calls)
	}
}

func TestSearchRejectsShortQueries(t *testing.T) {
	p := newPipeline(t, 0, echoUpstream("{}"))

	resp := postQueries(t, p, "/1/indexes/products/queries", testutil.SearchBody(t, "ab"), nil)

	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", resp.StatusCode)
	}
	if out := decodeError(t, resp); out["errorType"] != "too_short" {
		t.Errorf("errorType = %v", out["errorType"])
	}
}

func TestSearchRejectsInvalidCharacters(t *testing.T) {
	p := newPipeline(t, 0, echoUpstream("{}"))

	resp := postQueries(t, p, "/1/indexes/products/queries", testutil.SearchBody(t, "shoes 👟"), nil)

	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", resp.StatusCode)
	}
	out := decodeError(t, resp)
	if out["errorType"] != "invalid_characters" {
		t.Errorf("errorType = %v", out["errorType"])
	}
	if out["details"] != "shoes 👟" {
		t.Errorf("details = %v, want offending query", out["details"])
	}
	if *p.calls != 0 {
		t.Errorf("rejected request must not reach upstream, calls = %d", *p.calls)
	}
}

func TestSearchAcceptsAllEmptyBatch(t *testing.T) {
	p := newPipeline(t, 0, echoUpstream(`{"results":[]}`))

	resp := postQueries(t, p, "/1/indexes/products/queries", testutil.SearchBody(t, "", ""), nil)

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200 for category page batch", resp.StatusCode)
	}
	if *p.calls != 1 {
		t.Errorf("upstream calls = %d, want 1", *p.calls)
	}
}

func TestSearchCacheIdempotence(t *testing.T) {
	p := newPipeline(t, time.Minute, echoUpstream(`{"hits":[1]}`))

	target := "/1/indexes/products/queries?cacheKey=key-1"
	resp1 := postQueries(t, p, target, testutil.SearchBody(t, "jeans"), nil)
	if resp1.StatusCode != http.StatusOK {
		t.Fatalf("first pass status = %d", resp1.StatusCode)
	}
	p.drain(t)

	resp2 := postQueries(t, p, target, testutil.SearchBody(t, "jeans"), nil)
	if resp2.StatusCode != http.StatusOK {
		t.Fatalf("second pass status = %d", resp2.StatusCode)
	}
	body, _ := io.ReadAll(resp2.Body)
	if string(body) != `{"hits":[1]}` {
		t.Errorf("cached body = %s", body)
	}
	if got := resp2.Header.Get("Cache-Control"); got != "public, max-age=60" {
		t.Errorf("cached Cache-Control = %q", got)
	}
	if *p.calls != 1 {
		t.Errorf("upstream calls = %d, want 1 (second pass must be served from cache)", *p.calls)
	}
}

func TestSearchDistinctTokensCacheIndependently(t *testing.T) {
	p := newPipeline(t, time.Minute, echoUpstream("{}"))

	postQueries(t, p, "/1/indexes/products/queries?cacheKey=key-1", testutil.SearchBody(t, "jeans"), nil)
	postQueries(t, p, "/1/indexes/products/queries?cacheKey=key-2", testutil.SearchBody(t, "jeans"), nil)
	p.drain(t)

	if p.store.SetCalls != 2 {
		t.Errorf("store calls = %d, want 2 distinct entries", p.store.SetCalls)
	}
	if *p.calls != 2 {
		t.Errorf("upstream calls = %d, want 2", *p.calls)
	}
}

func TestSearchSSRFlagPartitionsCache(t *testing.T) {
	p := newPipeline(t, time.Minute, echoUpstream("{}"))

	target := "/1/indexes/products/queries?cacheKey=tok"
	postQueries(t, p, target, testutil.SearchBody(t, "jeans"), nil)
	postQueries(t, p, target, testutil.SearchBody(t, "jeans"), func(r *http.Request) {
		r.Header.Set(request.SSRHeader, testSSRSecret)
	})
	p.drain(t)

	if got := p.store.Len(); got != 2 {
		t.Errorf("stored entries = %d, want 2 (SSR flag must partition the cache)", got)
	}
	if *p.calls != 2 {
		t.Errorf("upstream calls = %d, want 2", *p.calls)
	}
}

func TestSearchZeroClientTTLBypassesCache(t *testing.T) {
	p := newPipeline(t, 0, echoUpstream("{}"))

	target := "/1/indexes/products/queries?cacheKey=tok"
	postQueries(t, p, target, testutil.SearchBody(t, "jeans"), nil)
	postQueries(t, p, target, testutil.SearchBody(t, "jeans"), nil)
	p.drain(t)

	if p.store.SetCalls != 0 {
		t.Errorf("store calls = %d, want 0 for zero client TTL", p.store.SetCalls)
	}
	if *p.calls != 2 {
		t.Errorf("upstream calls = %d, want 2 (no cache consult)", *p.calls)
	}
}

func TestSearchSSRCachesDespiteZeroClientTTL(t *testing.T) {
	p := newPipeline(t, 0, echoUpstream("{}"))

	target := "/1/indexes/products/queries?cacheKey=tok"
	ssr := func(r *http.Request) { r.Header.Set(request.SSRHeader, testSSRSecret) }
	postQueries(t, p, target, testutil.SearchBody(t, "jeans"), ssr)
	p.drain(t)
	postQueries(t, p, target, testutil.SearchBody(t, "jeans"), ssr)

	if *p.calls != 1 {
		t.Errorf("upstream calls = %d, want 1 (SSR always cache-eligible)", *p.calls)
	}
}

func TestSearchWithoutTokenNeverCached(t *testing.T) {
	p := newPipeline(t, time.Minute, echoUpstream("{}"))

	postQueries(t, p, "/1/indexes/products/queries", testutil.SearchBody(t, "jeans"), nil)
	p.drain(t)

	if p.store.SetCalls != 0 {
		t.Errorf("store calls = %d, want 0 without a cache token", p.store.SetCalls)
	}
}

func TestSearchHeaderTokenAlsoEnablesCaching(t *testing.T) {
	p := newPipeline(t, time.Minute, echoUpstream("{}"))

	withHeader := func(r *http.Request) { r.Header.Set(request.CacheKeyHeader, "tok") }
	postQueries(t, p, "/1/indexes/products/queries", testutil.SearchBody(t, "jeans"), withHeader)
	p.drain(t)
	postQueries(t, p, "/1/indexes/products/queries", testutil.SearchBody(t, "jeans"), withHeader)

	if *p.calls != 1 {
		t.Errorf("upstream calls = %d, want 1", *p.calls)
	}
}

func TestSearchFailedUpstreamNeverCached(t *testing.T) {
	p := newPipeline(t, time.Minute, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})

	resp := postQueries(t, p, "/1/indexes/products/queries?cacheKey=tok", testutil.SearchBody(t, "jeans"), nil)
	p.drain(t)

	if resp.StatusCode != http.StatusBadGateway {
		t.Fatalf("status = %d, want 502", resp.StatusCode)
	}
	out := decodeError(t, resp)
	if out["errorType"] != "algolia" {
		t.Errorf("errorType = %v", out["errorType"])
	}
	details, ok := out["details"].(map[string]any)
	if !ok {
		t.Fatalf("details missing: %v", out["details"])
	}
	attempts, ok := details["attempts"].([]any)
	if !ok || len(attempts) != 1 {
		t.Errorf("attempts = %v, want one per host", details["attempts"])
	}
	if p.store.SetCalls != 0 {
		t.Errorf("store calls = %d, failed responses must never be cached", p.store.SetCalls)
	}
}

func TestSearchErrorResponseCarriesCORSHeaders(t *testing.T) {
	p := newPipeline(t, 0, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})

	resp := postQueries(t, p, "/1/indexes/products/queries", testutil.SearchBody(t, "jeans"), func(r *http.Request) {
		r.Header.Set("Origin", "https://evil.com")
	})

	if resp.StatusCode != http.StatusBadGateway {
		t.Fatalf("status = %d, want 502", resp.StatusCode)
	}
	if got := resp.Header.Get("Access-Control-Allow-Origin"); got != cors.CanonicalOrigin {
		t.Errorf("Allow-Origin = %q, want canonical fallback on error path", got)
	}
}

func TestSearchGetIsProxiedButNotCached(t *testing.T) {
	p := newPipeline(t, time.Minute, echoUpstream(`{"hits":[]}`))

	req := httptest.NewRequest(http.MethodGet, "/1/indexes/products/queries?query=jeans&cacheKey=tok", nil)
	resp, err := p.app.Test(req)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	p.drain(t)

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if p.store.SetCalls != 0 {
		t.Errorf("store calls = %d, GET must not be cached", p.store.SetCalls)
	}
}

func TestPreflightShortCircuitsUpstream(t *testing.T) {
	p := newPipeline(t, time.Minute, echoUpstream("{}"))

	req := httptest.NewRequest(http.MethodOptions, "/1/indexes/products/queries", nil)
	req.Header.Set("Origin", "https://shop.avocadostore.de")
	resp, err := p.app.Test(req)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}

	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("status = %d, want 204", resp.StatusCode)
	}
	if *p.calls != 0 {
		t.Errorf("preflight must not call upstream, calls = %d", *p.calls)
	}
}
