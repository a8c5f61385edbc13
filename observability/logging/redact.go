package logging

import (
	"log/slog"
	"net/url"
	"strings"
)

// RedactedValue replaces sensitive values in log output.
const RedactedValue = "[REDACTED]"

// plainKeys are emitted verbatim by MaskField. Keys are compared lower-cased.
var plainKeys = map[string]struct{}{
	"service":       {},
	"env":           {},
	"message":       {},
	"severity":      {},
	"timestamp":     {},
	"error":         {},
	"reason":        {},
	"component":     {},
	"route":         {},
	"method":        {},
	"status":        {},
	"requestid":     {},
	"vault":         {},
	"reserve":       {},
	"module":        {},
	"feed":          {},
	"state_backend": {},
}

// IsAllowlisted reports whether key is logged without redaction.
func IsAllowlisted(key string) bool {
	_, ok := plainKeys[strings.ToLower(strings.TrimSpace(key))]
	return ok
}

// MaskValue returns RedactedValue for non-blank values and value otherwise.
func MaskValue(value string) string {
	if strings.TrimSpace(value) == "" {
		return value
	}
	return RedactedValue
}

// MaskField builds an attribute whose value is redacted unless key is
// allowlisted.
func MaskField(key, value string) slog.Attr {
	if IsAllowlisted(key) {
		return slog.String(key, value)
	}
	return slog.String(key, MaskValue(value))
}

// MaskDSN keeps the scheme, user, host and database of a connection string.
// The password is replaced by url.URL.Redacted and query parameters are
// dropped. Strings that do not parse as URLs with a host are redacted entirely,
// except sqlite file DSNs which carry no secrets.
func MaskDSN(key, dsn string) slog.Attr {
	trimmed := strings.TrimSpace(dsn)
	if trimmed == "" || strings.HasPrefix(trimmed, "file:") {
		return slog.String(key, trimmed)
	}
	parsed, err := url.Parse(trimmed)
	if err != nil || parsed.Host == "" {
		return slog.String(key, MaskValue(trimmed))
	}
	parsed.RawQuery = ""
	return slog.String(key, parsed.Redacted())
}
