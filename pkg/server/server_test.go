package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/homer-bot/homerbot/pkg/cache"
	"github.com/homer-bot/homerbot/pkg/chat"
	"github.com/homer-bot/homerbot/pkg/completion"
	"github.com/homer-bot/homerbot/pkg/metrics"
	"github.com/homer-bot/homerbot/pkg/models"
	"github.com/homer-bot/homerbot/pkg/provider/openai"
	"github.com/homer-bot/homerbot/pkg/tracing"
	"github.com/prometheus/client_golang/prometheus"
)

func setupServer(t *testing.T, upstream *httptest.Server) (*Server, *cache.Cache) {
	t.Helper()

	c, err := cache.New(10, time.Hour)
	if err != nil {
		t.Fatal(err)
	}

	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	tr := tracing.New(nil, tracing.WithMetrics(m))
	inv := completion.NewInvoker(openai.New("openai", upstream.URL+"/v1", "sk-provider", 5*time.Second))
	svc := chat.New(inv, tr, "donuts only", chat.Settings{
		Model:       "gpt-4o-mini",
		MaxTokens:   500,
		Temperature: 0.8,
	}, chat.WithCache(c), chat.WithMetrics(m))

	return New(":0", "homer-bot", svc, WithCache(c), WithGatherer(reg)), c
}

func upstreamOK(calls *atomic.Int32) *httptest.Server {
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"id":"chatcmpl-1","object":"chat.completion","model":"gpt-4o-mini",
			"choices":[{"index":0,"message":{"role":"assistant","content":"Try Voodoo Doughnut!"},"finish_reason":"stop"}],
			"usage":{"prompt_tokens":20,"completion_tokens":5,"total_tokens":25}}`)
	}))
}

func postChat(srv *Server, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/api/chat", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	srv.ServeHTTP(w, req)
	return w
}

func TestChat(t *testing.T) {
	var calls atomic.Int32
	upstream := upstreamOK(&calls)
	defer upstream.Close()

	srv, _ := setupServer(t, upstream)

	body := `{"message":"best donuts in Portland?","conversationHistory":[]}`
	w := postChat(srv, body)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	if w.Header().Get("X-Cache") != "miss" {
		t.Error("expected cache miss on first request")
	}

	var resp models.ChatResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.Message != "Try Voodoo Doughnut!" {
		t.Errorf("unexpected message %q", resp.Message)
	}
	if resp.Usage == nil || resp.Usage.TotalTokens == nil || *resp.Usage.TotalTokens != 25 {
		t.Errorf("unexpected usage %+v", resp.Usage)
	}
	first := w.Body.String()

	// Second identical request is served from the cache.
	w = postChat(srv, body)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if w.Header().Get("X-Cache") != "hit" {
		t.Error("expected cache hit on second request")
	}
	if w.Body.String() != first {
		t.Errorf("cached body differs:\n%s\n%s", first, w.Body.String())
	}
	if calls.Load() != 1 {
		t.Errorf("expected 1 upstream call, got %d", calls.Load())
	}
}

func TestChatWithHistorySkipsCache(t *testing.T) {
	var calls atomic.Int32
	upstream := upstreamOK(&calls)
	defer upstream.Close()

	srv, c := setupServer(t, upstream)

	body := `{"message":"and in Seattle?","conversationHistory":[{"role":"user","content":"best donuts in Portland?"},{"role":"assistant","content":"Voodoo!"}]}`
	for i := 0; i < 2; i++ {
		w := postChat(srv, body)
		if w.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d", w.Code)
		}
		if w.Header().Get("X-Cache") != "miss" {
			t.Error("multi-turn requests must never hit the cache")
		}
	}
	if calls.Load() != 2 {
		t.Errorf("expected 2 upstream calls, got %d", calls.Load())
	}
	if c.Len() != 0 {
		t.Errorf("expected empty cache, got %d entries", c.Len())
	}
}

func TestChatMissingMessage(t *testing.T) {
	var calls atomic.Int32
	upstream := upstreamOK(&calls)
	defer upstream.Close()

	srv, _ := setupServer(t, upstream)

	for _, body := range []string{`{}`, `{"message":""}`, `not json`} {
		w := postChat(srv, body)
		if w.Code != http.StatusBadRequest {
			t.Errorf("%s: expected 400, got %d", body, w.Code)
		}
		if got := strings.TrimSpace(w.Body.String()); got != `{"error":"Message is required"}` {
			t.Errorf("%s: unexpected body %s", body, got)
		}
	}
	if calls.Load() != 0 {
		t.Errorf("expected no upstream calls, got %d", calls.Load())
	}
}

func TestChatProviderFailure(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusServiceUnavailable)
		fmt.Fprint(w, `{"error":{"message":"overloaded","type":"server_error"}}`)
	}))
	defer upstream.Close()

	srv, c := setupServer(t, upstream)

	w := postChat(srv, `{"message":"hi"}`)
	if w.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", w.Code)
	}
	if got := strings.TrimSpace(w.Body.String()); got != `{"error":"Failed to process chat request"}` {
		t.Errorf("unexpected body %s", got)
	}
	if c.Len() != 0 {
		t.Error("failed replies must not be cached")
	}
}

func TestHealth(t *testing.T) {
	upstream := upstreamOK(new(atomic.Int32))
	defer upstream.Close()
	srv, _ := setupServer(t, upstream)

	w := httptest.NewRecorder()
	srv.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/health", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var body map[string]string
	_ = json.Unmarshal(w.Body.Bytes(), &body)
	if body["status"] != "ok" || body["service"] != "homer-bot" {
		t.Errorf("unexpected health body %v", body)
	}
}

func TestCacheEndpoints(t *testing.T) {
	var calls atomic.Int32
	upstream := upstreamOK(&calls)
	defer upstream.Close()
	srv, _ := setupServer(t, upstream)

	postChat(srv, `{"message":"glazed?"}`)
	postChat(srv, `{"message":"glazed?"}`)

	w := httptest.NewRecorder()
	srv.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/cache/stats", nil))
	var stats models.CacheStats
	if err := json.Unmarshal(w.Body.Bytes(), &stats); err != nil {
		t.Fatal(err)
	}
	if stats.Entries != 1 || stats.Hits != 1 || stats.Misses != 1 || stats.Capacity != 10 {
		t.Errorf("unexpected stats %+v", stats)
	}

	w = httptest.NewRecorder()
	srv.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/cache/clear?expired=true", nil))
	if !strings.Contains(w.Body.String(), `"removed":0`) {
		t.Errorf("expected nothing expired, got %s", w.Body.String())
	}

	w = httptest.NewRecorder()
	srv.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/cache/clear", nil))
	if !strings.Contains(w.Body.String(), `"removed":1`) {
		t.Errorf("expected 1 removed, got %s", w.Body.String())
	}
}

func TestMetricsEndpoint(t *testing.T) {
	var calls atomic.Int32
	upstream := upstreamOK(&calls)
	defer upstream.Close()
	srv, _ := setupServer(t, upstream)

	postChat(srv, `{"message":"sprinkles?"}`)

	w := httptest.NewRecorder()
	srv.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), `homerbot_llm_requests_total{model="gpt-4o-mini",status="ok"} 1`) {
		t.Errorf("expected request counter in metrics output")
	}
}

func TestCORSPreflight(t *testing.T) {
	upstream := upstreamOK(new(atomic.Int32))
	defer upstream.Close()
	srv, _ := setupServer(t, upstream)

	req := httptest.NewRequest(http.MethodOptions, "/api/chat", nil)
	req.Header.Set("Origin", "http://localhost:5173")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	w := httptest.NewRecorder()
	srv.ServeHTTP(w, req)

	if w.Header().Get("Access-Control-Allow-Origin") != "*" {
		t.Errorf("expected wildcard CORS origin, got %q", w.Header().Get("Access-Control-Allow-Origin"))
	}
}
