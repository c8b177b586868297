package auth

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"net/http"
	"net/url"
	"strings"
)

// Double-submit cookie CSRF protection for the management API. The
// token lives in a JavaScript-readable cookie and every state-changing
// request must echo it back in a header or form field.

var (
	ErrCSRFTokenMissing = errors.New("CSRF token missing")
	ErrCSRFTokenInvalid = errors.New("CSRF token invalid")
)

const csrfTokenBytes = 32

// CSRFConfig holds CSRF protection settings. Zero values fall back to
// the defaults in NewCSRFProtection.
type CSRFConfig struct {
	CookieName    string
	HeaderName    string
	FormFieldName string
	CookiePath    string
	CookieDomain  string

	// CookieHTTPOnly must stay false for browser clients, the frontend
	// reads the cookie to fill the request header.
	CookieHTTPOnly bool
	CookieSecure   bool
	CookieSameSite http.SameSite

	// SkipMethods are never validated. Defaults to the safe methods.
	SkipMethods []string

	// TrustedOrigins are scheme://host values allowed to originate
	// state-changing requests. Empty disables the origin check.
	TrustedOrigins []string
}

// CSRFProtection issues and validates double-submit tokens.
type CSRFProtection struct {
	config *CSRFConfig
}

func NewCSRFProtection(config *CSRFConfig) *CSRFProtection {
	if config == nil {
		config = &CSRFConfig{CookieSecure: true, CookieSameSite: http.SameSiteStrictMode}
	}
	if config.CookieName == "" {
		config.CookieName = "XSRF-TOKEN"
	}
	if config.HeaderName == "" {
		config.HeaderName = "X-CSRF-Token"
	}
	if config.FormFieldName == "" {
		config.FormFieldName = "csrf_token"
	}
	if config.CookiePath == "" {
		config.CookiePath = "/"
	}
	if len(config.SkipMethods) == 0 {
		config.SkipMethods = []string{http.MethodGet, http.MethodHead, http.MethodOptions}
	}
	return &CSRFProtection{config: config}
}

// Middleware validates the token on state-changing requests and makes
// sure safe requests leave with a token cookie set.
func (c *CSRFProtection) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if c.safeMethod(r.Method) {
			c.issueToken(w, r)
			next.ServeHTTP(w, r)
			return
		}

		if err := c.ValidateToken(r); err != nil {
			http.Error(w, "CSRF validation failed", http.StatusForbidden)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// ExemptPath wraps Middleware but passes the listed paths through
// unchecked. Used for login, which cannot have a token cookie yet.
func (c *CSRFProtection) ExemptPath(paths ...string) func(http.Handler) http.Handler {
	exempt := make(map[string]bool, len(paths))
	for _, path := range paths {
		exempt[path] = true
	}

	return func(next http.Handler) http.Handler {
		protected := c.Middleware(next)
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if exempt[r.URL.Path] {
				next.ServeHTTP(w, r)
				return
			}
			protected.ServeHTTP(w, r)
		})
	}
}

// ValidateToken checks that the request token matches the cookie token
// and, when trusted origins are configured, that the request came from
// one of them.
func (c *CSRFProtection) ValidateToken(r *http.Request) error {
	cookie, err := r.Cookie(c.config.CookieName)
	if err != nil {
		return ErrCSRFTokenMissing
	}

	token := c.requestToken(r)
	if token == "" {
		return ErrCSRFTokenMissing
	}

	if !tokensEqual(cookie.Value, token) {
		return ErrCSRFTokenInvalid
	}

	if len(c.config.TrustedOrigins) > 0 {
		return c.checkOrigin(r)
	}
	return nil
}

func (c *CSRFProtection) safeMethod(method string) bool {
	for _, m := range c.config.SkipMethods {
		if strings.EqualFold(m, method) {
			return true
		}
	}
	return false
}

// issueToken sets a token cookie if the request does not carry one.
func (c *CSRFProtection) issueToken(w http.ResponseWriter, r *http.Request) {
	if _, err := r.Cookie(c.config.CookieName); err == nil {
		return
	}

	raw := make([]byte, csrfTokenBytes)
	if _, err := rand.Read(raw); err != nil {
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     c.config.CookieName,
		Value:    base64.URLEncoding.EncodeToString(raw),
		Path:     c.config.CookiePath,
		Domain:   c.config.CookieDomain,
		HttpOnly: c.config.CookieHTTPOnly,
		Secure:   c.config.CookieSecure,
		SameSite: c.config.CookieSameSite,
		MaxAge:   86400,
	})
}

// requestToken pulls the echoed token from the header, falling back to
// the form field.
func (c *CSRFProtection) requestToken(r *http.Request) string {
	if token := r.Header.Get(c.config.HeaderName); token != "" {
		return token
	}
	if err := r.ParseForm(); err != nil {
		return ""
	}
	return r.FormValue(c.config.FormFieldName)
}

// tokensEqual compares decoded tokens in constant time.
func tokensEqual(a, b string) bool {
	aRaw, err := base64.URLEncoding.DecodeString(a)
	if err != nil || len(aRaw) == 0 {
		return false
	}
	bRaw, err := base64.URLEncoding.DecodeString(b)
	if err != nil || len(bRaw) == 0 {
		return false
	}
	return subtle.ConstantTimeCompare(aRaw, bRaw) == 1
}

// checkOrigin rejects requests whose Origin (or Referer) does not
// match a trusted scheme://host exactly. Requests without either
// header pass, same-origin browser requests may omit both.
func (c *CSRFProtection) checkOrigin(r *http.Request) error {
	origin := r.Header.Get("Origin")
	if origin == "" {
		origin = r.Header.Get("Referer")
	}
	if origin == "" {
		return nil
	}

	originURL, err := url.Parse(origin)
	if err != nil {
		return errors.New("invalid origin URL")
	}
	originHost := strings.ToLower(originURL.Scheme + "://" + originURL.Host)

	for _, trusted := range c.config.TrustedOrigins {
		trustedURL, err := url.Parse(trusted)
		if err != nil {
			if strings.EqualFold(origin, trusted) || strings.EqualFold(originHost, trusted) {
				return nil
			}
			continue
		}
		if originHost == strings.ToLower(trustedURL.Scheme+"://"+trustedURL.Host) {
			return nil
		}
	}
	return errors.New("untrusted origin")
}
