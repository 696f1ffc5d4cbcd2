package middleware

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"golang.org/x/time/rate"
)

func TestRequestIDMiddleware_GeneratesID(t *testing.T) {
	var captured string
	handler := NewRequestIDMiddleware()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		captured = RequestIDFromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/items", nil))

	if captured == "" {
		t.Fatal("リクエストIDがコンテキストに設定されるべき")
	}
	if got := rec.Header().Get("X-Request-Id"); got != captured {
		t.Errorf("レスポンスヘッダー = %q, コンテキストの値 %q と一致すべき", got, captured)
	}
}

func TestRequestIDMiddleware_PropagatesClientID(t *testing.T) {
	var captured string
	handler := NewRequestIDMiddleware()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		captured = RequestIDFromContext(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/items", nil)
	req.Header.Set("X-Request-Id", "client-supplied-id")
	handler.ServeHTTP(httptest.NewRecorder(), req)

	if captured != "client-supplied-id" {
		t.Errorf("request_id = %q, クライアント指定のIDを引き継ぐべき", captured)
	}
}

func TestLoggingMiddleware_LogsRequest(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))

	handler := NewLoggingMiddleware(logger)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))

	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/missing", nil))

	var entry map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("ログがJSONであるべき: %v (%s)", err, buf.String())
	}
	if entry["method"] != "GET" {
		t.Errorf("method = %v, want GET", entry["method"])
	}
	if entry["path"] != "/missing" {
		t.Errorf("path = %v, want /missing", entry["path"])
	}
	if entry["status"] != float64(404) {
		t.Errorf("status = %v, want 404", entry["status"])
	}
	if entry["level"] != "WARN" {
		t.Errorf("level = %v, 4xxはWARNで記録すべき", entry["level"])
	}
}

func TestLoggingMiddleware_IncludesRequestID(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))

	inner := NewLoggingMiddleware(logger)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	handler := NewRequestIDMiddleware()(inner)

	req := httptest.NewRequest(http.MethodGet, "/items", nil)
	req.Header.Set("X-Request-Id", "req-42")
	handler.ServeHTTP(httptest.NewRecorder(), req)

	var entry map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("ログがJSONであるべき: %v", err)
	}
	if entry["request_id"] != "req-42" {
		t.Errorf("request_id = %v, want req-42", entry["request_id"])
	}
}

func TestRecoveryMiddleware_CatchesPanic(t *testing.T) {
	handler := NewRecoveryMiddleware()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/items", nil))

	if rec.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, panicは500になるべき", rec.Code)
	}
}

func TestRateLimiter_GeneralAllowsWithinBurst(t *testing.T) {
	cfg := DefaultRateLimiterConfig()
	cfg.GeneralRate = rate.Limit(1)
	cfg.GeneralBurst = 3
	rl := NewRateLimiter(cfg)
	defer rl.Stop()

	handler := rl.GeneralMiddleware()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	for i := 0; i < 3; i++ {
		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/items", nil)
		req.RemoteAddr = "203.0.113.1:12345"
		handler.ServeHTTP(rec, req)
		if rec.Code != http.StatusOK {
			t.Fatalf("リクエスト%d: status = %d, バースト内は許可すべき", i+1, rec.Code)
		}
	}

	// バースト超過
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/items", nil)
	req.RemoteAddr = "203.0.113.1:12345"
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusTooManyRequests {
		t.Errorf("status = %d, バースト超過は429になるべき", rec.Code)
	}
	if rec.Header().Get("Retry-After") == "" {
		t.Error("429レスポンスにRetry-Afterが設定されるべき")
	}
}

func TestRateLimiter_IsolatesClientIPs(t *testing.T) {
	cfg := DefaultRateLimiterConfig()
	cfg.GeneralRate = rate.Limit(1)
	cfg.GeneralBurst = 1
	rl := NewRateLimiter(cfg)
	defer rl.Stop()

	handler := rl.GeneralMiddleware()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	reqA := httptest.NewRequest(http.MethodGet, "/items", nil)
	reqA.RemoteAddr = "203.0.113.1:1000"
	handler.ServeHTTP(httptest.NewRecorder(), reqA)

	// 別IPはバーストを消費していない
	rec := httptest.NewRecorder()
	reqB := httptest.NewRequest(http.MethodGet, "/items", nil)
	reqB.RemoteAddr = "203.0.113.2:1000"
	handler.ServeHTTP(rec, reqB)
	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, IPごとに独立したリミッターであるべき", rec.Code)
	}

	if rl.GeneralLimiterCount() != 2 {
		t.Errorf("リミッターエントリ数 = %d, want 2", rl.GeneralLimiterCount())
	}
}

func TestRateLimiter_MaintenanceIsIndependent(t *testing.T) {
	cfg := DefaultRateLimiterConfig()
	cfg.GeneralRate = rate.Limit(1)
	cfg.GeneralBurst = 1
	cfg.MaintenanceRate = rate.Limit(1)
	cfg.MaintenanceBurst = 1
	rl := NewRateLimiter(cfg)
	defer rl.Stop()

	general := rl.GeneralMiddleware()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	maint := rl.MaintenanceMiddleware()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/items", nil)
	req.RemoteAddr = "203.0.113.1:1000"
	general.ServeHTTP(httptest.NewRecorder(), req)

	// 読み取りAPIのバーストを使い切っても保守側は影響を受けない
	rec := httptest.NewRecorder()
	maintReq := httptest.NewRequest(http.MethodGet, "/cleanup", nil)
	maintReq.RemoteAddr = "203.0.113.1:1000"
	maint.ServeHTTP(rec, maintReq)
	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, 保守側のリミッターは独立しているべき", rec.Code)
	}
}

func TestClientIP(t *testing.T) {
	tests := []struct {
		name       string
		remoteAddr string
		xff        string
		want       string
	}{
		{"RemoteAddrのホスト部", "203.0.113.1:4567", "", "203.0.113.1"},
		{"X-Forwarded-Forの先頭", "10.0.0.1:80", "198.51.100.7, 10.0.0.1", "198.51.100.7"},
		{"空のXFFはRemoteAddrへフォールバック", "203.0.113.9:80", "", "203.0.113.9"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.RemoteAddr = tt.remoteAddr
			if tt.xff != "" {
				req.Header.Set("X-Forwarded-For", tt.xff)
			}
			if got := clientIP(req); got != tt.want {
				t.Errorf("clientIP = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestRateLimiter_CleanupRemovesStaleEntries(t *testing.T) {
	cfg := DefaultRateLimiterConfig()
	cfg.limiterExpiration = time.Millisecond
	rl := NewRateLimiter(cfg)
	defer rl.Stop()

	handler := rl.GeneralMiddleware()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	req := httptest.NewRequest(http.MethodGet, "/items", nil)
	req.RemoteAddr = "203.0.113.1:1000"
	handler.ServeHTTP(httptest.NewRecorder(), req)

	time.Sleep(5 * time.Millisecond)
	rl.cleanup()

	if rl.GeneralLimiterCount() != 0 {
		t.Errorf("期限切れエントリは破棄されるべき: count = %d", rl.GeneralLimiterCount())
	}
}
