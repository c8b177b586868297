// Package errors provides the error taxonomy for the rule engine and
// sanitization utilities that keep internal detail out of API responses.
package errors

import (
	"errors"
	"fmt"
	"path/filepath"
	"regexp"
	"strings"
)

var (
	// Absolute paths, Linux or Windows style.
	rePath = regexp.MustCompile(`(/[a-zA-Z0-9_\-./]+)|([A-Z]:\\[a-zA-Z0-9_\-\\ ./]+)`)

	// IPv4 addresses, including camera network addresses.
	reIPv4 = regexp.MustCompile(`\b(?:\d{1,3}\.){3}\d{1,3}\b`)

	// RTSP stream URLs may embed camera credentials.
	reStreamURL = regexp.MustCompile(`(?i)rtsps?://\S+`)

	// Driver and credential markers that flag a message as storage-internal.
	reStorageDetail = regexp.MustCompile(`(?i)(sql:|pq:|clickhouse|database:|connection string|password=|secret=|token=|api[_-]?key=)`)
)

// ProductionMode enables sanitization. In development the original error text
// passes through for debugging.
var ProductionMode = false

// SetProductionMode sets the sanitization flag. Called once during startup.
func SetProductionMode(production bool) {
	ProductionMode = production
}

// SanitizeError scrubs sensitive detail from an error before it reaches an
// API client.
func SanitizeError(err error) error {
	if err == nil {
		return nil
	}
	if !ProductionMode {
		return err
	}
	return errors.New(SanitizeString(err.Error()))
}

// SanitizeString scrubs sensitive detail from a string: stream URLs with
// embedded credentials, absolute file paths, IP addresses, driver errors, and
// stack traces.
func SanitizeString(s string) string {
	if !ProductionMode {
		return s
	}

	s = reStreamURL.ReplaceAllString(s, "rtsp://[redacted]")

	s = rePath.ReplaceAllStringFunc(s, filepath.Base)

	// Keep the first two octets so logs and responses still correlate.
	s = reIPv4.ReplaceAllStringFunc(s, func(match string) string {
		parts := strings.Split(match, ".")
		if len(parts) != 4 {
			return "x.x.x.x"
		}
		return fmt.Sprintf("%s.%s.x.x", parts[0], parts[1])
	})

	if reStorageDetail.MatchString(s) {
		return "storage operation failed"
	}
	if strings.Contains(s, "goroutine") || strings.Count(s, "\n") > 3 {
		return "internal server error - operation failed"
	}

	return s
}

// SafeErrorMessage returns a message fit for an API response. Classified
// errors expose their caller-safe message; everything else is sanitized
// before leaving the boundary.
func SafeErrorMessage(err error) string {
	if err == nil {
		return ""
	}

	var e *Error
	if errors.As(err, &e) {
		return e.Msg
	}

	msg := err.Error()
	lower := strings.ToLower(msg)
	for _, safe := range knownSafeMessages {
		if strings.Contains(lower, safe) {
			return msg
		}
	}

	return SanitizeString(msg)
}

// knownSafeMessages are user-facing phrases that pass through unsanitized.
var knownSafeMessages = []string{
	"missing required field",
	"invalid request",
	"rule not found",
	"camera not found",
	"alert not found",
	"unauthorized",
	"forbidden",
	"not found",
}
