// Package middleware provides HTTP middleware shared by the management API
// and the ingest surface.
package middleware

import (
	"fmt"
	"net/http"
	"strings"
)

// SecurityHeadersConfig controls the browser security headers set on every
// management API response.
type SecurityHeadersConfig struct {
	Enabled bool

	HSTSEnabled           bool
	HSTSMaxAge            int // seconds
	HSTSIncludeSubdomains bool

	CSPEnabled        bool
	CSPDefaultSrc     []string
	CSPConnectSrc     []string
	CSPFrameAncestors []string

	FrameOptionsValue   string // DENY or SAMEORIGIN
	ReferrerPolicyValue string
}

// DefaultSecurityHeadersConfig returns a locked-down configuration suitable
// for an API that serves no HTML of its own.
func DefaultSecurityHeadersConfig() SecurityHeadersConfig {
	return SecurityHeadersConfig{
		Enabled:               true,
		HSTSEnabled:           true,
		HSTSMaxAge:            31536000,
		HSTSIncludeSubdomains: true,
		CSPEnabled:            true,
		CSPDefaultSrc:         []string{"'none'"},
		CSPConnectSrc:         []string{"'self'"},
		CSPFrameAncestors:     []string{"'none'"},
		FrameOptionsValue:     "DENY",
		ReferrerPolicyValue:   "strict-origin-when-cross-origin",
	}
}

// SecurityHeaders returns a middleware that sets security headers on every
// response. With Enabled false it passes requests through untouched.
func SecurityHeaders(cfg SecurityHeadersConfig) func(http.Handler) http.Handler {
	if !cfg.Enabled {
		return func(next http.Handler) http.Handler { return next }
	}

	// Static values are computed once, not per request.
	hsts := fmt.Sprintf("max-age=%d", cfg.HSTSMaxAge)
	if cfg.HSTSIncludeSubdomains {
		hsts += "; includeSubDomains"
	}
	csp := buildCSP(cfg)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			h := w.Header()
			h.Set("X-Content-Type-Options", "nosniff")

			if cfg.HSTSEnabled {
				h.Set("Strict-Transport-Security", hsts)
			}
			if cfg.CSPEnabled {
				h.Set("Content-Security-Policy", csp)
			}
			if cfg.FrameOptionsValue != "" {
				h.Set("X-Frame-Options", cfg.FrameOptionsValue)
			}
			if cfg.ReferrerPolicyValue != "" {
				h.Set("Referrer-Policy", cfg.ReferrerPolicyValue)
			}

			next.ServeHTTP(w, r)
		})
	}
}

func buildCSP(cfg SecurityHeadersConfig) string {
	var directives []string
	add := func(name string, sources []string) {
		if len(sources) > 0 {
			directives = append(directives, name+" "+strings.Join(sources, " "))
		}
	}

	add("default-src", cfg.CSPDefaultSrc)
	add("connect-src", cfg.CSPConnectSrc)
	add("frame-ancestors", cfg.CSPFrameAncestors)

	return strings.Join(directives, "; ")
}
