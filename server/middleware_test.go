package server

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/reconic/backend/auth"
	"github.com/reconic/backend/config"
)

func TestAdminAuthMiddleware(t *testing.T) {
	tests := []struct {
		name           string
		username       string
		password       string
		token          string
		reqUsername    string
		reqPassword    string
		reqToken       string
		expectedStatus int
	}{
		{
			name:           "no auth configured - allows request",
			expectedStatus: http.StatusOK,
		},
		{
			name:           "valid basic auth",
			username:       "admin",
			password:       "secret123",
			reqUsername:    "admin",
			reqPassword:    "secret123",
			expectedStatus: http.StatusOK,
		},
		{
			name:           "invalid basic auth password",
			username:       "admin",
			password:       "secret123",
			reqUsername:    "admin",
			reqPassword:    "wrong",
			expectedStatus: http.StatusUnauthorized,
		},
		{
			name:           "valid token auth",
			token:          "test-token-12345",
			reqToken:       "test-token-12345",
			expectedStatus: http.StatusOK,
		},
		{
			name:           "invalid token auth",
			token:          "test-token-12345",
			reqToken:       "wrong-token",
			expectedStatus: http.StatusUnauthorized,
		},
		{
			name:           "token auth takes precedence over basic auth",
			username:       "admin",
			password:       "secret123",
			token:          "test-token-12345",
			reqToken:       "test-token-12345",
			reqUsername:    "wrong",
			reqPassword:    "wrong",
			expectedStatus: http.StatusOK,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &authConfig{
				adminUsername: tt.username,
				adminPassword: tt.password,
				adminToken:    tt.token,
				enabled:       (tt.username != "" && tt.password != "") || tt.token != "",
			}
			handler := adminAuth(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusOK)
			}), cfg)

			req := httptest.NewRequest(http.MethodGet, "/admin/monitor", nil)
			if tt.reqUsername != "" || tt.reqPassword != "" {
				req.SetBasicAuth(tt.reqUsername, tt.reqPassword)
			}
			if tt.reqToken != "" {
				req.Header.Set("X-Admin-Token", tt.reqToken)
			}
			rr := httptest.NewRecorder()
			handler.ServeHTTP(rr, req)

			if rr.Code != tt.expectedStatus {
				t.Errorf("expected status %d, got %d", tt.expectedStatus, rr.Code)
			}
			if tt.expectedStatus == http.StatusUnauthorized && rr.Header().Get("WWW-Authenticate") == "" {
				t.Error("expected WWW-Authenticate header on 401 response")
			}
		})
	}
}

func TestLoadRateLimiterConfig(t *testing.T) {
	t.Setenv("RATE_LIMIT_ENABLED", "")
	cfg := loadRateLimiterConfig(nil)
	if !cfg.enabled || cfg.perMinute != 20 || cfg.burst != 5 {
		t.Errorf("defaults = %+v", cfg)
	}

	cfg = loadRateLimiterConfig(&config.Config{AIRatePerMinute: 2})
	if cfg.burst != 1 {
		t.Errorf("burst = %d, want at least 1", cfg.burst)
	}

	t.Setenv("RATE_LIMIT_ENABLED", "0")
	if loadRateLimiterConfig(nil).enabled {
		t.Error("RATE_LIMIT_ENABLED=0 should disable limiting")
	}
}

func TestRateLimiterBurstPerKey(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	limiter := newUserRateLimiter(ctx, &rateLimiterConfig{enabled: true, perMinute: 6, burst: 2})

	if !limiter.allow("u1") || !limiter.allow("u1") {
		t.Fatal("burst requests should be allowed")
	}
	if limiter.allow("u1") {
		t.Error("request beyond burst should be denied")
	}
	if !limiter.allow("u2") {
		t.Error("other users have their own bucket")
	}
}

func TestRateLimiterDisabled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	limiter := newUserRateLimiter(ctx, &rateLimiterConfig{enabled: false, perMinute: 1, burst: 1})
	for i := 0; i < 50; i++ {
		if !limiter.allow("u1") {
			t.Fatalf("request %d denied while disabled", i+1)
		}
	}
}

func TestRateLimiterCleanup(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	limiter := newUserRateLimiter(ctx, &rateLimiterConfig{enabled: true, perMinute: 60, burst: 1})
	limiter.allow("idle")
	limiter.allow("active")

	limiter.mu.Lock()
	limiter.visitors["idle"].lastSeen = time.Now().Add(-5 * time.Minute)
	limiter.mu.Unlock()

	limiter.cleanup(time.Now())
	limiter.mu.Lock()
	defer limiter.mu.Unlock()
	if _, ok := limiter.visitors["idle"]; ok {
		t.Error("idle visitor should be dropped")
	}
	if _, ok := limiter.visitors["active"]; !ok {
		t.Error("active visitor should be kept")
	}
}

func TestRateLimitMiddlewareKeysOnUser(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	limiter := newUserRateLimiter(ctx, &rateLimiterConfig{enabled: true, perMinute: 1, burst: 1})
	handler := rateLimitMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}), limiter)

	send := func(user string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/api/ai/parse-project", nil)
		req.RemoteAddr = "10.0.0.1:5555"
		if user != "" {
			req = req.WithContext(auth.WithUser(req.Context(), user))
		}
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, req)
		return rr
	}

	if rr := send("u1"); rr.Code != http.StatusOK {
		t.Fatalf("first request: %d", rr.Code)
	}
	rr := send("u1")
	if rr.Code != http.StatusTooManyRequests {
		t.Fatalf("second request: expected 429, got %d", rr.Code)
	}
	if rr.Header().Get("Retry-After") == "" {
		t.Error("expected Retry-After header on 429 response")
	}
	// Same address, different user.
	if rr := send("u2"); rr.Code != http.StatusOK {
		t.Errorf("u2: expected 200, got %d", rr.Code)
	}
	// Anonymous callers fall back to the client address.
	if rr := send(""); rr.Code != http.StatusOK {
		t.Errorf("anonymous: expected 200, got %d", rr.Code)
	}
	if rr := send(""); rr.Code != http.StatusTooManyRequests {
		t.Errorf("anonymous repeat: expected 429, got %d", rr.Code)
	}
}

func TestClientIP(t *testing.T) {
	tests := []struct {
		name       string
		remoteAddr string
		forwarded  string
		want       string
	}{
		{"ipv4 with port", "192.168.1.1:12345", "", "192.168.1.1"},
		{"ipv6 with port", "[2001:db8::1]:12345", "", "2001:db8::1"},
		{"forwarded first hop", "10.0.0.1:1", "203.0.113.1, 10.0.0.2", "203.0.113.1"},
		{"forwarded ipv6 without port", "10.0.0.1:1", "2001:db8::42", "2001:db8::42"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.RemoteAddr = tt.remoteAddr
			if tt.forwarded != "" {
				req.Header.Set("X-Forwarded-For", tt.forwarded)
			}
			if got := clientIP(req); got != tt.want {
				t.Errorf("clientIP() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestCORSPermissive(t *testing.T) {
	handler := withCORSConfig(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}), &corsConfig{permissive: true})

	req := httptest.NewRequest(http.MethodOptions, "/api/projects", nil)
	req.Header.Set("Origin", "http://localhost:5173")
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusNoContent {
		t.Errorf("preflight: expected 204, got %d", rr.Code)
	}
	if got := rr.Header().Get("Access-Control-Allow-Origin"); got != "*" {
		t.Errorf("Allow-Origin = %q", got)
	}
}

func TestCORSRestricted(t *testing.T) {
	t.Setenv("ENV", "production")
	t.Setenv("CORS_PERMISSIVE", "")
	t.Setenv("CORS_ALLOWED_ORIGINS", "*.reconic.app")
	cfg := loadCORSConfig(&config.Config{SiteURL: "https://studio.example"})
	if cfg.permissive {
		t.Fatal("production should not be permissive")
	}
	handler := withCORSConfig(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}), cfg)

	tests := []struct {
		origin string
		want   string
	}{
		{"https://studio.example", "https://studio.example"},
		{"https://beta.reconic.app", "https://beta.reconic.app"},
		{"https://reconic.app", "https://reconic.app"},
		{"https://evil.example", ""},
	}
	for _, tt := range tests {
		req := httptest.NewRequest(http.MethodGet, "/api/projects", nil)
		req.Header.Set("Origin", tt.origin)
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, req)
		if got := rr.Header().Get("Access-Control-Allow-Origin"); got != tt.want {
			t.Errorf("origin %s: Allow-Origin = %q, want %q", tt.origin, got, tt.want)
		}
		if tt.want != "" && rr.Header().Get("Access-Control-Allow-Credentials") != "true" {
			t.Errorf("origin %s: expected credentials allowed", tt.origin)
		}
	}
}
