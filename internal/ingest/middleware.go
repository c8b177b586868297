package ingest

import (
	"log/slog"
	"net/http"
	"time"

	"argus-vms/internal/config"
)

// WithMiddleware wraps the intake handler with the standard chain.
// Wrapping happens inside out, so the rate limiter runs first and
// abusive clients never reach auth or the handler.
func WithMiddleware(handler http.Handler, cfg *config.Config) http.Handler {
	h := recoveryMiddleware(handler)
	h = loggingMiddleware(h)
	if cfg.Auth.Enabled {
		h = apiKeyMiddleware(h, cfg.Auth)
	}
	if cfg.RateLimit.Enabled {
		h = rateLimitMiddleware(h, cfg.RateLimit)
	}
	return h
}

func loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(wrapped, r)

		slog.Info("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", wrapped.status,
			"duration_ms", time.Since(start).Milliseconds(),
			"remote_addr", r.RemoteAddr,
		)
	})
}

// apiKeyMiddleware authenticates detection nodes by shared API key.
// Health and metrics stay open for probes.
func apiKeyMiddleware(next http.Handler, authCfg config.AuthConfig) http.Handler {
	valid := make(map[string]bool, len(authCfg.APIKeys))
	for _, key := range authCfg.APIKeys {
		valid[key] = true
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/health" || r.URL.Path == "/metrics" {
			next.ServeHTTP(w, r)
			return
		}

		key := r.Header.Get(authCfg.APIKeyHeader)
		switch {
		case key == "":
			http.Error(w, `{"success":false,"error":"missing API key"}`, http.StatusUnauthorized)
		case !valid[key]:
			http.Error(w, `{"success":false,"error":"invalid API key"}`, http.StatusUnauthorized)
		default:
			next.ServeHTTP(w, r)
		}
	})
}

func recoveryMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if err := recover(); err != nil {
				slog.Error("panic recovered", "error", err, "path", r.URL.Path)
				http.Error(w, `{"success":false,"error":"internal server error"}`, http.StatusInternalServerError)
			}
		}()
		next.ServeHTTP(w, r)
	})
}

// statusRecorder captures the response status for the request log.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (sr *statusRecorder) WriteHeader(code int) {
	sr.status = code
	sr.ResponseWriter.WriteHeader(code)
}
