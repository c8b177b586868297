// Package logging provides log redaction helpers. Camera stream URLs carry
// embedded credentials and session tokens grant full API access, so neither
// may reach the log stream in the clear.
package logging

import (
	"log/slog"
	"net/url"
	"regexp"
	"strings"
)

// MaskedValue replaces sensitive values in log output.
const MaskedValue = "[REDACTED]"

// sensitiveFields are attribute names whose values are always masked.
var sensitiveFields = map[string]bool{
	"password":      true,
	"passwd":        true,
	"secret":        true,
	"token":         true,
	"api_key":       true,
	"apikey":        true,
	"access_token":  true,
	"private_key":   true,
	"credentials":   true,
	"authorization": true,
	"bearer":        true,
	"session_id":    true,
	"cookie":        true,
	"stream_url":    true,
	"rtsp_url":      true,
}

// IsSensitiveField reports whether an attribute name should be masked.
// Matching is case-insensitive and includes substring hits, so
// "db_password" and "AdminToken" both qualify.
func IsSensitiveField(name string) bool {
	lower := strings.ToLower(name)

	if sensitiveFields[lower] {
		return true
	}

	for sensitive := range sensitiveFields {
		if strings.Contains(lower, sensitive) {
			return true
		}
	}

	return false
}

// streamURLFields keep host and path visible for troubleshooting; only the
// embedded credentials are stripped.
var streamURLFields = map[string]bool{
	"stream_url": true,
	"rtsp_url":   true,
}

// RedactAttr is a slog ReplaceAttr hook that masks sensitive attributes.
// Install it on the handler so redaction applies to every log site. Stream
// URLs and tokens are partially masked so log lines stay correlatable;
// error text is scrubbed for credential-shaped substrings.
func RedactAttr(groups []string, a slog.Attr) slog.Attr {
	if a.Value.Kind() != slog.KindString {
		return a
	}

	key := strings.ToLower(a.Key)
	switch {
	case streamURLFields[key]:
		a.Value = slog.StringValue(MaskStreamURL(a.Value.String()))
	case key == "token" || strings.HasSuffix(key, "_token"):
		a.Value = slog.StringValue(MaskToken(a.Value.String()))
	case IsSensitiveField(a.Key):
		a.Value = slog.StringValue(MaskedValue)
	case key == "error" || key == "err":
		a.Value = slog.StringValue(MaskSensitivePatterns(a.Value.String()))
	}
	return a
}

// MaskStreamURL strips embedded credentials from a camera stream URL.
// RTSP cameras commonly authenticate via userinfo in the URL; the host and
// path stay visible for troubleshooting.
func MaskStreamURL(raw string) string {
	if raw == "" {
		return ""
	}

	u, err := url.Parse(raw)
	if err != nil {
		return MaskedValue
	}

	if u.User != nil {
		u.User = url.UserPassword("***", "***")
	}
	return u.String()
}

// MaskToken shows only the edges of a token so two log lines can be
// correlated without exposing the value.
func MaskToken(token string) string {
	if token == "" {
		return ""
	}
	if len(token) <= 8 {
		return MaskedValue
	}
	return token[:4] + "****" + token[len(token)-4:]
}

var sensitivePatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)(api[_-]?key|token|secret|password|passwd)['":\s]*[=:]\s*['"]?([a-zA-Z0-9_\-\.]+)['"]?`),
	regexp.MustCompile(`(?i)bearer\s+[a-zA-Z0-9_\-\.]+`),
	regexp.MustCompile(`(?i)basic\s+[a-zA-Z0-9+/=]+`),
	regexp.MustCompile(`rtsp://[^:@/\s]+:[^@/\s]+@`),
}

// MaskSensitivePatterns masks credential-shaped substrings in free-form
// text, such as error messages that echo a connection string.
func MaskSensitivePatterns(s string) string {
	result := s
	for _, pattern := range sensitivePatterns {
		result = pattern.ReplaceAllString(result, MaskedValue)
	}
	return result
}
