package logging

import (
	"log/slog"
	"strings"
)

// RedactedValue replaces sensitive field values before they reach the log
// stream. Bearer tokens, signatures and secrets must never be written out
// verbatim.
const RedactedValue = "[REDACTED]"

var allowlisted = map[string]struct{}{
	"service":   {},
	"env":       {},
	"message":   {},
	"severity":  {},
	"timestamp": {},
	"error":     {},
	"reason":    {},
	"component": {},
	"paymentid": {},
	"shopid":    {},
	"status":    {},
}

// IsAllowlisted reports whether a key may be logged without masking.
func IsAllowlisted(key string) bool {
	_, ok := allowlisted[strings.ToLower(strings.TrimSpace(key))]
	return ok
}

// MaskField builds a slog.Attr whose value is redacted unless the key is on
// the allowlist. Empty values pass through untouched.
func MaskField(key, value string) slog.Attr {
	if strings.TrimSpace(value) == "" || IsAllowlisted(key) {
		return slog.String(key, value)
	}
	return slog.String(key, RedactedValue)
}
