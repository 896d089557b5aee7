package logging

import (
	"log/slog"
	"strings"
)

// RedactedValue replaces secrets in log output.
const RedactedValue = "[REDACTED]"

// sensitiveKeys are masked wherever they appear, including inside groups.
var sensitiveKeys = map[string]bool{
	"authorization": true,
	"passphrase":    true,
	"private_key":   true,
	"privatekey":    true,
	"secret":        true,
	"hmac_secret":   true,
	"jwt":           true,
}

func sensitive(key string) bool {
	return sensitiveKeys[strings.ToLower(strings.TrimSpace(key))]
}

// MaskField builds an attribute whose value is hidden when key names a
// credential. Bearer headers keep their scheme so rejected requests remain
// diagnosable. Empty values pass through.
func MaskField(key, value string) slog.Attr {
	if strings.TrimSpace(value) == "" || !sensitive(key) {
		return slog.String(key, value)
	}
	if scheme, _, ok := strings.Cut(strings.TrimSpace(value), " "); ok && strings.EqualFold(scheme, "bearer") {
		return slog.String(key, scheme+" "+RedactedValue)
	}
	return slog.String(key, RedactedValue)
}

// redactAttr is installed on every handler built by SetupWithOptions so a
// stray credential attribute never reaches the log sink verbatim.
func redactAttr(attr slog.Attr) slog.Attr {
	if !sensitive(attr.Key) || attr.Value.Kind() == slog.KindGroup {
		return attr
	}
	if attr.Value.Kind() == slog.KindString {
		return MaskField(attr.Key, attr.Value.String())
	}
	return slog.String(attr.Key, RedactedValue)
}
