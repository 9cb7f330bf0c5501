// Package security provides redaction and header validation helpers.
package security

import (
	"net/http"
	"net/url"
	"strings"
)

const redacted = "[REDACTED]"

// RedactURL removes sensitive information from a URL for safe logging.
// It redacts:
// - User credentials (user:pass@host)
// - Query parameters that look like secrets
// - The payload of data: URLs
func RedactURL(rawURL string) string {
	if rawURL == "" {
		return ""
	}

	parsed, err := url.Parse(rawURL)
	if err != nil {
		return "[invalid-url]"
	}

	if strings.EqualFold(parsed.Scheme, "data") {
		return "data:[...]"
	}

	if parsed.User != nil {
		parsed.User = url.User(redacted)
	}

	if parsed.RawQuery != "" {
		parsed.RawQuery = redactQueryParams(parsed.Query()).Encode()
	}

	return parsed.String()
}

// sensitiveParamPatterns are query parameter names that likely contain secrets
var sensitiveParamPatterns = []string{
	"password",
	"passwd",
	"pwd",
	"secret",
	"token",
	"api_key",
	"apikey",
	"api-key",
	"auth",
	"bearer",
	"credential",
	"key",
	"session",
	"sid",
	"private",
}

func redactQueryParams(params url.Values) url.Values {
	out := make(url.Values, len(params))

	for key, values := range params {
		if isSensitive(key) {
			out[key] = []string{redacted}
		} else {
			out[key] = values
		}
	}

	return out
}

func isSensitive(name string) bool {
	lower := strings.ToLower(name)
	for _, pattern := range sensitiveParamPatterns {
		if strings.Contains(lower, pattern) {
			return true
		}
	}
	return false
}

// sensitiveHeaders are always redacted regardless of name patterns.
var sensitiveHeaders = map[string]bool{
	"cookie":              true,
	"set-cookie":          true,
	"authorization":       true,
	"proxy-authorization": true,
}

// RedactHeaders flattens h into a lowercased map suitable for debug logging,
// replacing credential-bearing values.
func RedactHeaders(h http.Header) map[string]string {
	out := make(map[string]string, len(h))
	for name, values := range h {
		lower := strings.ToLower(name)
		if sensitiveHeaders[lower] || isSensitive(lower) {
			out[lower] = redacted
			continue
		}
		out[lower] = strings.Join(values, ", ")
	}
	return out
}
