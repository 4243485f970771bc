package middleware

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func testLimiterConfig() RateLimiterConfig {
	return RateLimiterConfig{
		GeneralRate:     1,
		GeneralBurst:    2,
		ImportRate:      0.5,
		ImportBurst:     1,
		CleanupInterval: time.Minute,
	}
}

func sessionRequest(sessionID string) *http.Request {
	req := httptest.NewRequest(http.MethodGet, "/api/events", nil)
	return req.WithContext(ContextWithSessionID(req.Context(), sessionID))
}

func TestRateLimiter_GeneralAllowsBurstThen429(t *testing.T) {
	rl := NewRateLimiter(testLimiterConfig())
	defer rl.Stop()

	calls := 0
	handler := rl.GeneralMiddleware()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusOK)
	}))

	var last *httptest.ResponseRecorder
	for i := 0; i < 3; i++ {
		last = httptest.NewRecorder()
		handler.ServeHTTP(last, sessionRequest("s1"))
	}

	if calls != 2 {
		t.Errorf("handler calls = %d, want 2", calls)
	}
	if last.Code != http.StatusTooManyRequests {
		t.Fatalf("status = %d, want 429", last.Code)
	}
	if last.Header().Get("Retry-After") != "1" {
		t.Errorf("Retry-After = %q, want 1", last.Header().Get("Retry-After"))
	}
	var body ErrorResponseBody
	if err := json.NewDecoder(last.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode: %v", err)
	}
	if body.Code != "RATE_LIMIT_EXCEEDED" {
		t.Errorf("code = %q", body.Code)
	}
}

func TestRateLimiter_KeysAreIndependent(t *testing.T) {
	rl := NewRateLimiter(testLimiterConfig())
	defer rl.Stop()

	handler := rl.GeneralMiddleware()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	for i := 0; i < 2; i++ {
		handler.ServeHTTP(httptest.NewRecorder(), sessionRequest("s1"))
	}
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, sessionRequest("s2"))
	if w.Code != http.StatusOK {
		t.Errorf("other session status = %d, want 200", w.Code)
	}

	ipReq := httptest.NewRequest(http.MethodGet, "/health", nil)
	ipReq.RemoteAddr = "192.0.2.1:5555"
	w = httptest.NewRecorder()
	handler.ServeHTTP(w, ipReq)
	if w.Code != http.StatusOK {
		t.Errorf("ip-keyed status = %d, want 200", w.Code)
	}
	if rl.GeneralLimiterCount() != 3 {
		t.Errorf("GeneralLimiterCount() = %d, want 3", rl.GeneralLimiterCount())
	}
}

func TestRateLimiter_ImportLimitIsStricter(t *testing.T) {
	rl := NewRateLimiter(testLimiterConfig())
	defer rl.Stop()

	handler := rl.ImportMiddleware()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	first := httptest.NewRecorder()
	handler.ServeHTTP(first, sessionRequest("s1"))
	second := httptest.NewRecorder()
	handler.ServeHTTP(second, sessionRequest("s1"))

	if first.Code != http.StatusOK || second.Code != http.StatusTooManyRequests {
		t.Errorf("statuses = %d, %d; want 200, 429", first.Code, second.Code)
	}
	if second.Header().Get("Retry-After") != "2" {
		t.Errorf("Retry-After = %q, want 2", second.Header().Get("Retry-After"))
	}
	if rl.ImportLimiterCount() != 1 || rl.GeneralLimiterCount() != 0 {
		t.Errorf("counts = import %d, general %d", rl.ImportLimiterCount(), rl.GeneralLimiterCount())
	}
}

func TestRateLimiter_CleanupEvictsIdleEntries(t *testing.T) {
	rl := NewRateLimiter(testLimiterConfig())
	defer rl.Stop()

	handler := rl.GeneralMiddleware()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	handler.ServeHTTP(httptest.NewRecorder(), sessionRequest("s1"))

	rl.cleanup(time.Now())
	if rl.GeneralLimiterCount() != 1 {
		t.Fatalf("fresh entry evicted")
	}
	rl.cleanup(time.Now().Add(3 * time.Minute))
	if rl.GeneralLimiterCount() != 0 {
		t.Errorf("idle entry not evicted: %d", rl.GeneralLimiterCount())
	}
}

func TestRateLimiter_StopIsIdempotent(t *testing.T) {
	rl := NewRateLimiter(testLimiterConfig())
	rl.Stop()
	rl.Stop()
}
