package middleware

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestSecurityHeaders(t *testing.T) {
	handler := SecurityHeaders(DefaultSecurityHeadersConfig())(
		http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
		}))

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/v1/rules", nil))

	checks := map[string]string{
		"Strict-Transport-Security": "max-age=31536000; includeSubDomains",
		"X-Frame-Options":           "DENY",
		"X-Content-Type-Options":    "nosniff",
		"Referrer-Policy":           "strict-origin-when-cross-origin",
	}
	for header, want := range checks {
		if got := w.Header().Get(header); got != want {
			t.Errorf("%s = %q, want %q", header, got, want)
		}
	}

	csp := w.Header().Get("Content-Security-Policy")
	if !strings.Contains(csp, "default-src 'none'") {
		t.Errorf("CSP missing default-src: %q", csp)
	}
	if !strings.Contains(csp, "frame-ancestors 'none'") {
		t.Errorf("CSP missing frame-ancestors: %q", csp)
	}
}

func TestSecurityHeadersDisabled(t *testing.T) {
	handler := SecurityHeaders(SecurityHeadersConfig{Enabled: false})(
		http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
		}))

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))

	if w.Header().Get("X-Frame-Options") != "" {
		t.Error("expected no headers when disabled")
	}
}

func TestLoginRateLimiter(t *testing.T) {
	l := NewLoginRateLimiter(3, time.Minute)
	defer l.Stop()

	for i := 0; i < 3; i++ {
		if !l.Allow("alice") {
			t.Fatalf("attempt %d should be allowed", i+1)
		}
	}
	if l.Allow("alice") {
		t.Error("4th attempt should be blocked")
	}

	// Other usernames are unaffected
	if !l.Allow("bob") {
		t.Error("bob should be allowed")
	}
}

func TestLoginRateLimiterWindowReset(t *testing.T) {
	l := NewLoginRateLimiter(1, time.Minute)
	defer l.Stop()

	if !l.Allow("carol") {
		t.Fatal("first attempt should be allowed")
	}
	if l.Allow("carol") {
		t.Fatal("second attempt should be blocked")
	}

	// Force the window to expire
	l.mu.Lock()
	l.byUser["carol"].resetAt = time.Now().Add(-time.Second)
	l.mu.Unlock()

	if !l.Allow("carol") {
		t.Error("attempt after window expiry should be allowed")
	}
}

func TestLoginRateLimiterSweep(t *testing.T) {
	l := NewLoginRateLimiter(5, time.Minute)
	defer l.Stop()

	l.Allow("dave")
	l.mu.Lock()
	l.byUser["dave"].resetAt = time.Now().Add(-time.Second)
	l.mu.Unlock()

	l.sweep()

	l.mu.Lock()
	_, exists := l.byUser["dave"]
	l.mu.Unlock()
	if exists {
		t.Error("expired entry should be removed")
	}
}

func TestCORSPreflight(t *testing.T) {
	cfg := CORSConfig{
		Enabled:        true,
		AllowedOrigins: []string{"https://ops.example.com"},
		AllowedMethods: []string{"GET", "POST"},
		AllowedHeaders: []string{"Content-Type"},
		MaxAge:         3600,
	}
	handler := CORS(cfg)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("preflight should not reach the handler")
	}))

	r := httptest.NewRequest(http.MethodOptions, "/v1/rules", nil)
	r.Header.Set("Origin", "https://ops.example.com")
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, r)

	if w.Code != http.StatusNoContent {
		t.Fatalf("status = %d, want 204", w.Code)
	}
	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "https://ops.example.com" {
		t.Errorf("Allow-Origin = %q", got)
	}
	if got := w.Header().Get("Access-Control-Max-Age"); got != "3600" {
		t.Errorf("Max-Age = %q", got)
	}
}

func TestCORSDisallowedOrigin(t *testing.T) {
	cfg := CORSConfig{
		Enabled:        true,
		AllowedOrigins: []string{"https://ops.example.com"},
	}
	handler := CORS(cfg)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	r := httptest.NewRequest(http.MethodGet, "/v1/rules", nil)
	r.Header.Set("Origin", "https://evil.example.com")
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, r)

	if w.Header().Get("Access-Control-Allow-Origin") != "" {
		t.Error("disallowed origin should get no CORS headers")
	}
}
