package observability

import (
	"strings"
	"unicode"
)

const maxFieldLen = 256

// sanitizeString strips control characters and caps the length of values
// headed for structured log fields.
func sanitizeString(value string, limit int) string {
	if limit <= 0 {
		limit = maxFieldLen
	}
	cleaned := strings.Map(func(r rune) rune {
		if unicode.IsControl(r) && r != '\n' && r != '\r' && r != '\t' {
			return -1
		}
		return r
	}, value)
	if runes := []rune(cleaned); len(runes) > limit {
		return string(runes[:limit])
	}
	return cleaned
}

// SanitizeRoute cleans a route pattern for log and span use.
func SanitizeRoute(route string) string {
	if route == "" {
		return "/"
	}
	return sanitizeString(route, 180)
}

// SanitizeMethod cleans an HTTP method string.
func SanitizeMethod(method string) string {
	return sanitizeString(method, 10)
}

// SanitizeUserID bounds caller identifiers before they reach logs.
func SanitizeUserID(uid string) string {
	if uid == "" {
		return ""
	}
	return sanitizeString(uid, 64)
}
