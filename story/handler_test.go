package story

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"story-gateway/story/application"
	"story-gateway/story/domain"
	"story-gateway/story/infra"
)

type fakeUpstream struct {
	srv   *httptest.Server
	calls atomic.Int32
	fail  atomic.Bool

	mu      sync.Mutex
	budgets []int
}

func (u *fakeUpstream) seenBudgets() []int {
	u.mu.Lock()
	defer u.mu.Unlock()
	return append([]int(nil), u.budgets...)
}

func newFakeUpstream(t *testing.T) *fakeUpstream {
	t.Helper()
	u := &fakeUpstream{}
	u.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		u.calls.Add(1)
		var body struct {
			GenerationConfig struct {
				MaxOutputTokens int `json:"maxOutputTokens"`
			} `json:"generationConfig"`
		}
		_ = json.NewDecoder(r.Body).Decode(&body)
		u.mu.Lock()
		u.budgets = append(u.budgets, body.GenerationConfig.MaxOutputTokens)
		u.mu.Unlock()

		if u.fail.Load() {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = io.WriteString(w, `{"error":{"code":503,"message":"The model is overloaded."}}`)
			return
		}
		_, _ = io.WriteString(w, `{"candidates":[{"content":{"parts":[{"text":"A dragon story."}]},"finishReason":"STOP"}],"usageMetadata":{"totalTokenCount":9}}`)
	}))
	t.Cleanup(u.srv.Close)
	return u
}

func newTestHandler(t *testing.T, u *fakeUpstream, limit int) (*Handler, *infra.CacheStore) {
	t.Helper()
	cache := infra.NewCacheStore()
	svc := &application.Service{
		Governor:   infra.NewWindowGovernor(limit, time.Hour),
		Cache:      cache,
		Generator:  infra.NewGeminiClient(infra.WithGeminiBaseURL(u.srv.URL)),
		DefaultKey: "default-key",
	}
	h := NewHandler(Options{
		Service:     svc,
		Environment: "test",
		CacheSize:   cache.Len,
	})
	return h, cache
}

func get(t *testing.T, h http.Handler, target string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, target, nil))
	var body map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("response is not JSON: %q", w.Body.String())
	}
	return w, body
}

func TestStory_ColdThenWarm(t *testing.T) {
	u := newFakeUpstream(t)
	h, cache := newTestHandler(t, u, 25)

	w1, b1 := get(t, h, "/story?word=dragon&wordCount=200")
	if w1.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %v", w1.Code, b1)
	}
	if b1["cached"] != false || b1["usedApiKey"] != "default" || b1["wordCount"] != "200" {
		t.Fatalf("unexpected gateway fields %v", b1)
	}
	if b1["story"] != "A dragon story." {
		t.Fatalf("expected upstream payload merged, got %v", b1)
	}
	if b := u.seenBudgets(); len(b) != 1 || b[0] != 350 {
		t.Fatalf("expected one upstream call with budget 350, got %v", b)
	}
	if _, ok := cache.Lookup(context.Background(), "dragon:200"); !ok {
		t.Fatalf("expected response cached under dragon:200")
	}

	w2, b2 := get(t, h, "/story?word=Dragon&wordCount=200")
	if w2.Code != http.StatusOK || b2["cached"] != true {
		t.Fatalf("expected cached 200, got %d %v", w2.Code, b2)
	}
	if b2["story"] != b1["story"] {
		t.Fatalf("expected identical payload")
	}
	if u.calls.Load() != 1 {
		t.Fatalf("expected no second upstream call, got %d", u.calls.Load())
	}
}

func TestStory_UserKeyReported(t *testing.T) {
	u := newFakeUpstream(t)
	h, _ := newTestHandler(t, u, 25)

	_, b := get(t, h, "/story?word=cat&apiKey=mine&wordCount=1000")
	if b["usedApiKey"] != "user" || b["wordCount"] != "1000" {
		t.Fatalf("unexpected body %v", b)
	}
	if b := u.seenBudgets(); len(b) != 1 || b[0] != 1500 {
		t.Fatalf("expected 1500 budget, got %v", b)
	}
}

func TestStory_MissingWord(t *testing.T) {
	u := newFakeUpstream(t)
	h, _ := newTestHandler(t, u, 1)

	for _, target := range []string{"/story", "/story?word=", "/story?word=%20%20"} {
		w, b := get(t, h, target)
		if w.Code != http.StatusBadRequest || b["error"] != "Word is required!" {
			t.Fatalf("%s: expected 400, got %d %v", target, w.Code, b)
		}
	}

	// validação não consome a cota
	w, _ := get(t, h, "/story?word=dragon")
	if w.Code != http.StatusOK {
		t.Fatalf("expected the single slot to still be available, got %d", w.Code)
	}
}

func TestStory_26thCallIsRateLimited(t *testing.T) {
	u := newFakeUpstream(t)
	h, _ := newTestHandler(t, u, 25)

	for i := 1; i <= 25; i++ {
		w, b := get(t, h, "/story?word=dragon")
		if w.Code != http.StatusOK {
			t.Fatalf("call %d: expected 200, got %d %v", i, w.Code, b)
		}
	}
	callsBefore := u.calls.Load()

	w, b := get(t, h, "/story?word=unicorn")
	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", w.Code)
	}
	if b["error"] != "Too many requests. Please try again later." {
		t.Fatalf("unexpected body %v", b)
	}
	if w.Header().Get("Retry-After") == "" || w.Header().Get("X-RateLimit-Limit") != "25" {
		t.Fatalf("expected rate limit headers, got %v", w.Header())
	}
	if u.calls.Load() != callsBefore {
		t.Fatalf("expected no upstream call after rejection")
	}

	// /health não passa pelo governor
	if w, _ := get(t, h, "/health"); w.Code != http.StatusOK {
		t.Fatalf("expected health to stay available, got %d", w.Code)
	}
}

func TestStory_UpstreamFailure(t *testing.T) {
	u := newFakeUpstream(t)
	u.fail.Store(true)
	h, _ := newTestHandler(t, u, 25)

	w, b := get(t, h, "/story?word=dragon&apiKey=k")
	if w.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", w.Code)
	}
	if b["error"] != "Story generation failed" || b["details"] != "The model is overloaded." || b["usedApiKey"] != "user" {
		t.Fatalf("unexpected body %v", b)
	}

	u.fail.Store(false)
	w, b = get(t, h, "/story?word=dragon&apiKey=k")
	if w.Code != http.StatusOK || b["cached"] != false {
		t.Fatalf("expected fresh upstream call after failure, got %d %v", w.Code, b)
	}
	if u.calls.Load() != 2 {
		t.Fatalf("expected 2 upstream calls, got %d", u.calls.Load())
	}
}

func TestHealth(t *testing.T) {
	u := newFakeUpstream(t)
	h, _ := newTestHandler(t, u, 25)

	w, b := get(t, h, "/health")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if b["status"] != "OK" || b["environment"] != "test" {
		t.Fatalf("unexpected body %v", b)
	}
	if _, err := time.Parse(time.RFC3339, b["timestamp"].(string)); err != nil {
		t.Fatalf("expected RFC3339 timestamp, got %v", b["timestamp"])
	}
	if cache, ok := b["cache"].(map[string]any); !ok || cache["entries"] != float64(0) {
		t.Fatalf("expected cache entries, got %v", b["cache"])
	}
}

func TestNotFound(t *testing.T) {
	u := newFakeUpstream(t)
	h, _ := newTestHandler(t, u, 25)

	for _, target := range []string{"/", "/stories", "/story/extra"} {
		w, b := get(t, h, target)
		if w.Code != http.StatusNotFound || b["error"] != "Endpoint not found" {
			t.Fatalf("%s: expected 404 JSON, got %d %v", target, w.Code, b)
		}
	}

	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/story?word=dragon", nil))
	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for POST /story, got %d", w.Code)
	}
}

func TestMetricsRouteOnlyWhenConfigured(t *testing.T) {
	metrics := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, "# metrics\n")
	})
	h := NewHandler(Options{Service: &application.Service{}, Metrics: metrics})

	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if w.Code != http.StatusOK || w.Body.String() != "# metrics\n" {
		t.Fatalf("expected metrics handler, got %d %q", w.Code, w.Body.String())
	}

	h = NewHandler(Options{Service: &application.Service{}})
	w = httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404 without metrics, got %d", w.Code)
	}
}

func TestStatusFor(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{domain.ErrValidation, http.StatusBadRequest},
		{&domain.RateLimitError{}, http.StatusTooManyRequests},
		{&domain.UpstreamError{Message: "x"}, http.StatusInternalServerError},
		{domain.ErrNotFound, http.StatusNotFound},
		{errors.New("other"), http.StatusInternalServerError},
	}
	for _, c := range cases {
		if got := statusFor(c.err); got != c.want {
			t.Errorf("statusFor(%v) = %d, want %d", c.err, got, c.want)
		}
	}
}

func TestRejectJSON(t *testing.T) {
	w := httptest.NewRecorder()
	RejectJSON(w, nil, http.StatusTooManyRequests, time.Second)
	if w.Code != http.StatusTooManyRequests || w.Header().Get("Content-Type") != "application/json; charset=utf-8" {
		t.Fatalf("unexpected response %d %v", w.Code, w.Header())
	}
	var b errorBody
	_ = json.Unmarshal(w.Body.Bytes(), &b)
	if b.Error != "Too many requests. Please try again later." {
		t.Fatalf("unexpected body %+v", b)
	}
}

func TestRequestLogger_SetsAndReusesID(t *testing.T) {
	var seen string
	h := RequestLogger(nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = RequestID(r.Context())
		w.WriteHeader(http.StatusNoContent)
	}))

	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	if seen == "" || w.Header().Get(RequestIDHeader) != seen {
		t.Fatalf("expected generated request id, got %q / %q", seen, w.Header().Get(RequestIDHeader))
	}

	r := httptest.NewRequest(http.MethodGet, "/health", nil)
	r.Header.Set(RequestIDHeader, "abc-123")
	w = httptest.NewRecorder()
	h.ServeHTTP(w, r)
	if seen != "abc-123" || w.Header().Get(RequestIDHeader) != "abc-123" {
		t.Fatalf("expected incoming id reused, got %q", seen)
	}
}

func TestMergePayload_GatewayFieldsWin(t *testing.T) {
	out, err := mergePayload(json.RawMessage(`{"story":"x","cached":"nope"}`), map[string]any{"cached": true})
	if err != nil {
		t.Fatal(err)
	}
	if out["story"] != "x" || out["cached"] != true {
		t.Fatalf("unexpected merge %v", out)
	}
	if _, err := mergePayload(json.RawMessage(`[1,2]`), nil); err == nil {
		t.Fatalf("expected error for non-object payload")
	}
}

func TestHealth_AdmissionTotals(t *testing.T) {
	h := NewHandler(Options{
		Service: &application.Service{},
		Admissions: func(ctx context.Context) (int64, int64, error) {
			if _, ok := ctx.Deadline(); !ok {
				t.Errorf("expected admissions lookup to be bounded by a deadline")
			}
			return 25, 3, nil
		},
	})
	_, b := get(t, h, "/health")
	adm, ok := b["admissions"].(map[string]any)
	if !ok || adm["allowed"] != float64(25) || adm["denied"] != float64(3) {
		t.Fatalf("expected admissions totals, got %v", b["admissions"])
	}

	h = NewHandler(Options{
		Service: &application.Service{},
		Admissions: func(context.Context) (int64, int64, error) {
			return 0, 0, errors.New("redis down")
		},
	})
	w, b := get(t, h, "/health")
	if w.Code != http.StatusOK {
		t.Fatalf("expected health to stay 200 when stats fail, got %d", w.Code)
	}
	if _, present := b["admissions"]; present {
		t.Fatalf("expected admissions omitted on error, got %v", b["admissions"])
	}
}

func TestWriteFailure_NotFoundGoesThroughStatusFor(t *testing.T) {
	h := NewHandler(Options{Service: &application.Service{}})
	w := httptest.NewRecorder()
	h.writeFailure(w, httptest.NewRequest(http.MethodGet, "/x", nil), fmt.Errorf("route: %w", domain.ErrNotFound))
	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", w.Code)
	}
	var b errorBody
	_ = json.Unmarshal(w.Body.Bytes(), &b)
	if b.Error != "Endpoint not found" || b.Details != "" {
		t.Fatalf("unexpected body %+v", b)
	}
}
