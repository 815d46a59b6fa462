package middleware

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/hitoshi/shopadmin/internal/model"
)

func testRateLimiterConfig(generalBurst, loginBurst int) RateLimiterConfig {
	return RateLimiterConfig{
		GeneralRate:     1,
		GeneralBurst:    generalBurst,
		LoginRate:       1,
		LoginBurst:      loginBurst,
		CleanupInterval: time.Minute,
	}
}

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func userRequest(userID string) *http.Request {
	req := httptest.NewRequest(http.MethodGet, "/dashboard", nil)
	return req.WithContext(ContextWithIdentity(req.Context(), &model.Identity{ID: userID, Email: userID + "@example.com"}))
}

func ipRequest(ip string) *http.Request {
	req := httptest.NewRequest(http.MethodGet, "/auth/login", nil)
	req.RemoteAddr = ip + ":40000"
	return req
}

// --- GeneralMiddleware のテスト ---

func TestGeneralMiddleware_AllowsRequestsWithinBurst(t *testing.T) {
	rl := NewRateLimiter(testRateLimiterConfig(5, 1))
	defer rl.Stop()

	handler := rl.GeneralMiddleware()(okHandler())

	for i := 0; i < 5; i++ {
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, userRequest("user-1"))
		if w.Code != http.StatusOK {
			t.Errorf("request %d: status = %d, want %d", i, w.Code, http.StatusOK)
		}
	}
}

func TestGeneralMiddleware_Returns429WithRetryAfter(t *testing.T) {
	rl := NewRateLimiter(testRateLimiterConfig(2, 1))
	defer rl.Stop()

	handler := rl.GeneralMiddleware()(okHandler())

	for i := 0; i < 2; i++ {
		handler.ServeHTTP(httptest.NewRecorder(), userRequest("user-limit"))
	}

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, userRequest("user-limit"))

	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusTooManyRequests)
	}
	if w.Header().Get("Retry-After") != "1" {
		t.Errorf("Retry-After = %q, want %q", w.Header().Get("Retry-After"), "1")
	}

	var body ErrorResponseBody
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("429 body should be JSON: %v", err)
	}
	if body.Code != model.ErrCodeRateLimited {
		t.Errorf("code = %q, want %q", body.Code, model.ErrCodeRateLimited)
	}
}

func TestGeneralMiddleware_IsolatesUsers(t *testing.T) {
	rl := NewRateLimiter(testRateLimiterConfig(1, 1))
	defer rl.Stop()

	handler := rl.GeneralMiddleware()(okHandler())

	handler.ServeHTTP(httptest.NewRecorder(), userRequest("user-a"))

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, userRequest("user-a"))
	if w.Code != http.StatusTooManyRequests {
		t.Errorf("user-a second request: status = %d, want 429", w.Code)
	}

	w = httptest.NewRecorder()
	handler.ServeHTTP(w, userRequest("user-b"))
	if w.Code != http.StatusOK {
		t.Errorf("user-b: status = %d, want 200", w.Code)
	}

	if rl.GeneralLimiterCount() != 2 {
		t.Errorf("GeneralLimiterCount() = %d, want 2", rl.GeneralLimiterCount())
	}
}

func TestGeneralMiddleware_WithoutIdentity_FallsBackToIP(t *testing.T) {
	rl := NewRateLimiter(testRateLimiterConfig(1, 1))
	defer rl.Stop()

	handler := rl.GeneralMiddleware()(okHandler())

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, ipRequest("192.0.2.1"))
	if w.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", w.Code)
	}
	w = httptest.NewRecorder()
	handler.ServeHTTP(w, ipRequest("192.0.2.1"))
	if w.Code != http.StatusTooManyRequests {
		t.Errorf("status = %d, want 429", w.Code)
	}
}

// --- LoginMiddleware のテスト ---

func TestLoginMiddleware_LimitsPerIP(t *testing.T) {
	rl := NewRateLimiter(testRateLimiterConfig(100, 2))
	defer rl.Stop()

	handler := rl.LoginMiddleware()(okHandler())

	for i := 0; i < 2; i++ {
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, ipRequest("203.0.113.9"))
		if w.Code != http.StatusOK {
			t.Errorf("request %d: status = %d, want 200", i, w.Code)
		}
	}

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, ipRequest("203.0.113.9"))
	if w.Code != http.StatusTooManyRequests {
		t.Errorf("third request: status = %d, want 429", w.Code)
	}

	// 別IPは影響を受けない
	w = httptest.NewRecorder()
	handler.ServeHTTP(w, ipRequest("203.0.113.10"))
	if w.Code != http.StatusOK {
		t.Errorf("other IP: status = %d, want 200", w.Code)
	}
}

func TestLoginMiddleware_IgnoresForwardedHeaderFromUntrustedPeer(t *testing.T) {
	rl := NewRateLimiter(testRateLimiterConfig(100, 2))
	defer rl.Stop()

	handler := rl.LoginMiddleware()(okHandler())

	allowed := 0
	for i := 0; i < 50; i++ {
		req := ipRequest("203.0.113.10")
		req.Header.Set("X-Forwarded-For", fmt.Sprintf("198.51.100.%d", i))
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, req)
		if w.Code == http.StatusOK {
			allowed++
		}
	}

	if allowed != 2 {
		t.Errorf("allowed = %d, want 2", allowed)
	}
	if n := rl.LoginLimiterCount(); n != 1 {
		t.Errorf("LoginLimiterCount() = %d, want 1", n)
	}
}

func TestLoginMiddleware_IndependentFromGeneralLimit(t *testing.T) {
	rl := NewRateLimiter(testRateLimiterConfig(1, 5))
	defer rl.Stop()

	general := rl.GeneralMiddleware()(okHandler())
	login := rl.LoginMiddleware()(okHandler())

	general.ServeHTTP(httptest.NewRecorder(), ipRequest("198.51.100.1"))

	w := httptest.NewRecorder()
	login.ServeHTTP(w, ipRequest("198.51.100.1"))
	if w.Code != http.StatusOK {
		t.Errorf("login limiter should be independent, status = %d", w.Code)
	}
	if rl.LoginLimiterCount() != 1 {
		t.Errorf("LoginLimiterCount() = %d, want 1", rl.LoginLimiterCount())
	}
}

func TestRateLimiter_CleanupRemovesExpiredEntries(t *testing.T) {
	rl := NewRateLimiter(RateLimiterConfig{
		GeneralRate:     1,
		GeneralBurst:    1,
		LoginRate:       1,
		LoginBurst:      1,
		CleanupInterval: time.Hour,
	})
	defer rl.Stop()

	rl.GeneralMiddleware()(okHandler()).ServeHTTP(httptest.NewRecorder(), userRequest("stale-user"))
	rl.LoginMiddleware()(okHandler()).ServeHTTP(httptest.NewRecorder(), ipRequest("192.0.2.50"))

	// 最終アクセス時刻を過去にずらす
	past := time.Now().Add(-3 * time.Hour)
	rl.general.mu.Lock()
	for _, kl := range rl.general.limiters {
		kl.lastAccess = past
	}
	rl.general.mu.Unlock()
	rl.login.mu.Lock()
	for _, kl := range rl.login.limiters {
		kl.lastAccess = past
	}
	rl.login.mu.Unlock()

	rl.cleanup()

	if rl.GeneralLimiterCount() != 0 || rl.LoginLimiterCount() != 0 {
		t.Errorf("counts after cleanup = %d/%d, want 0/0", rl.GeneralLimiterCount(), rl.LoginLimiterCount())
	}
}

func TestRateLimiter_StopIsIdempotent(t *testing.T) {
	rl := NewRateLimiter(DefaultRateLimiterConfig())
	rl.Stop()
	rl.Stop()
}

func TestNewRateLimiterConfig(t *testing.T) {
	cfg := NewRateLimiterConfig(120, 20)

	if cfg.GeneralRate != 2 {
		t.Errorf("GeneralRate = %v, want 2", cfg.GeneralRate)
	}
	if cfg.GeneralBurst != 120 {
		t.Errorf("GeneralBurst = %d, want 120", cfg.GeneralBurst)
	}
	if cfg.LoginBurst != 20 {
		t.Errorf("LoginBurst = %d, want 20", cfg.LoginBurst)
	}

	defaults := NewRateLimiterConfig(0, -1)
	if defaults.GeneralBurst != 120 || defaults.LoginBurst != 20 {
		t.Errorf("non-positive values should fall back to defaults, got %+v", defaults)
	}
}
