package middleware

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/hitoshi/authcore/internal/model"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func requestFrom(remoteAddr string) *http.Request {
	req := httptest.NewRequest(http.MethodPost, "/token", nil)
	req.RemoteAddr = remoteAddr
	return req
}

// --- GeneralMiddleware のテスト ---

func TestRateLimitMiddleware_AllowsRequestsWithinLimit(t *testing.T) {
	rl := NewRateLimiter(RateLimiterConfig{
		GeneralRate:     2,
		GeneralBurst:    5,
		CredentialRate:  1,
		CredentialBurst: 10,
		CleanupInterval: 1 * time.Minute,
	})
	defer rl.Stop()

	handlerCallCount := 0
	handler := rl.GeneralMiddleware()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		handlerCallCount++
		w.WriteHeader(http.StatusOK)
	}))

	// バースト内の5リクエストは全て通る
	for i := 0; i < 5; i++ {
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, requestFrom("192.0.2.1:5000"))
		if w.Code != http.StatusOK {
			t.Errorf("request %d: status = %d, want %d", i, w.Code, http.StatusOK)
		}
	}

	if handlerCallCount != 5 {
		t.Errorf("handler call count = %d, want 5", handlerCallCount)
	}
}

func TestRateLimitMiddleware_Returns429WithRetryAfter(t *testing.T) {
	rl := NewRateLimiter(RateLimiterConfig{
		GeneralRate:     0.5,
		GeneralBurst:    2,
		CredentialRate:  1,
		CredentialBurst: 10,
		CleanupInterval: 1 * time.Minute,
	})
	defer rl.Stop()

	handler := rl.GeneralMiddleware()(okHandler())

	for i := 0; i < 2; i++ {
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, requestFrom("192.0.2.1:5000"))
		if w.Code != http.StatusOK {
			t.Fatalf("request %d: status = %d, want 200", i, w.Code)
		}
	}

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, requestFrom("192.0.2.1:6000"))

	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusTooManyRequests)
	}
	retryAfter, err := strconv.Atoi(w.Header().Get("Retry-After"))
	if err != nil || retryAfter != 2 {
		t.Errorf("Retry-After = %q, want 2", w.Header().Get("Retry-After"))
	}
	if ct := w.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %q, want application/json", ct)
	}
	var body ErrorResponseBody
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode body: %v", err)
	}
	if body.Code != "RATE_LIMIT_EXCEEDED" || body.Category != "system" {
		t.Errorf("unexpected body: %+v", body)
	}
}

func TestRateLimitMiddleware_IsolatesClients(t *testing.T) {
	rl := NewRateLimiter(RateLimiterConfig{
		GeneralRate:     1,
		GeneralBurst:    1,
		CredentialRate:  1,
		CredentialBurst: 1,
		CleanupInterval: 1 * time.Minute,
	})
	defer rl.Stop()

	handler := rl.GeneralMiddleware()(okHandler())

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, requestFrom("192.0.2.1:5000"))
	if w.Code != http.StatusOK {
		t.Fatalf("client A first request: status = %d", w.Code)
	}

	w = httptest.NewRecorder()
	handler.ServeHTTP(w, requestFrom("192.0.2.1:5000"))
	if w.Code != http.StatusTooManyRequests {
		t.Errorf("client A second request: status = %d, want 429", w.Code)
	}

	w = httptest.NewRecorder()
	handler.ServeHTTP(w, requestFrom("198.51.100.7:5000"))
	if w.Code != http.StatusOK {
		t.Errorf("client B should not be limited: status = %d", w.Code)
	}

	// 同一IPでも認証済みユーザーは別のキーになる
	req := requestFrom("192.0.2.1:5000")
	req = req.WithContext(ContextWithUser(req.Context(), &model.User{Username: "alice"}))
	w = httptest.NewRecorder()
	handler.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Errorf("authenticated user should have its own limiter: status = %d", w.Code)
	}
}

func TestCredentialMiddleware_IndependentFromGeneralLimit(t *testing.T) {
	rl := NewRateLimiter(RateLimiterConfig{
		GeneralRate:     100,
		GeneralBurst:    100,
		CredentialRate:  1.0 / 60.0,
		CredentialBurst: 3,
		CleanupInterval: 1 * time.Minute,
	})
	defer rl.Stop()

	general := rl.GeneralMiddleware()(okHandler())
	credential := rl.GeneralMiddleware()(rl.CredentialMiddleware()(okHandler()))

	for i := 0; i < 3; i++ {
		w := httptest.NewRecorder()
		credential.ServeHTTP(w, requestFrom("192.0.2.9:1"))
		if w.Code != http.StatusOK {
			t.Fatalf("credential request %d: status = %d", i, w.Code)
		}
	}

	w := httptest.NewRecorder()
	credential.ServeHTTP(w, requestFrom("192.0.2.9:1"))
	if w.Code != http.StatusTooManyRequests {
		t.Errorf("4th credential request: status = %d, want 429", w.Code)
	}
	if got := w.Header().Get("Retry-After"); got != "60" {
		t.Errorf("Retry-After = %q, want 60", got)
	}

	// 資格情報エンドポイントの制限はAPI全般に影響しない
	w = httptest.NewRecorder()
	general.ServeHTTP(w, requestFrom("192.0.2.9:1"))
	if w.Code != http.StatusOK {
		t.Errorf("general request: status = %d, want 200", w.Code)
	}
}

// --- クリーンアップのテスト ---

func TestRateLimiter_CleanupRemovesExpiredEntries(t *testing.T) {
	rl := NewRateLimiter(RateLimiterConfig{
		GeneralRate:     2,
		GeneralBurst:    5,
		CredentialRate:  1,
		CredentialBurst: 10,
		CleanupInterval: 50 * time.Millisecond, // テスト用に短く
	})
	defer rl.Stop()

	rl.GeneralMiddleware()(okHandler()).ServeHTTP(httptest.NewRecorder(), requestFrom("192.0.2.1:5000"))
	rl.CredentialMiddleware()(okHandler()).ServeHTTP(httptest.NewRecorder(), requestFrom("192.0.2.1:5000"))

	if rl.GeneralLimiterCount() != 1 || rl.CredentialLimiterCount() != 1 {
		t.Fatal("expected one limiter entry per tier")
	}

	// TTLはCleanupIntervalの2倍（100ms）。余裕をもって待つ
	time.Sleep(300 * time.Millisecond)

	if count := rl.GeneralLimiterCount(); count != 0 {
		t.Errorf("expected 0 general entries after cleanup, got %d", count)
	}
	if count := rl.CredentialLimiterCount(); count != 0 {
		t.Errorf("expected 0 credential entries after cleanup, got %d", count)
	}
}

func TestRateLimiter_StopIsIdempotent(t *testing.T) {
	rl := NewRateLimiter(DefaultRateLimiterConfig())
	rl.Stop()
	rl.Stop()
}

func TestClientKey(t *testing.T) {
	req := requestFrom("203.0.113.5:4242")
	if got := ClientKey(req); got != "ip:203.0.113.5" {
		t.Errorf("ClientKey = %q, want ip:203.0.113.5", got)
	}

	req.RemoteAddr = "no-port"
	if got := ClientKey(req); got != "ip:no-port" {
		t.Errorf("ClientKey = %q, want ip:no-port", got)
	}

	req = req.WithContext(ContextWithUser(req.Context(), &model.User{Username: "bob"}))
	if got := ClientKey(req); got != "user:bob" {
		t.Errorf("ClientKey = %q, want user:bob", got)
	}
}

// --- デフォルト設定値のテスト ---

func TestDefaultRateLimiterConfig(t *testing.T) {
	cfg := DefaultRateLimiterConfig()

	if cfg.GeneralRate != 2.0 { // 120/60 = 2
		t.Errorf("GeneralRate = %f, want 2.0", cfg.GeneralRate)
	}
	if cfg.GeneralBurst != 120 {
		t.Errorf("GeneralBurst = %d, want 120", cfg.GeneralBurst)
	}
	if cfg.CredentialRate == 0 {
		t.Error("CredentialRate should not be 0")
	}
	if cfg.CredentialBurst != 10 {
		t.Errorf("CredentialBurst = %d, want 10", cfg.CredentialBurst)
	}
}
