package middleware

import (
	"net/http"
	"strings"

	"github.com/Wikid82/gearshare/backend/internal/util"
)

const maxLoggedValue = 200

// sensitiveHeaders are never written to logs.
var sensitiveHeaders = map[string]struct{}{
	"authorization":       {},
	"cookie":              {},
	"set-cookie":          {},
	"proxy-authorization": {},
	"x-api-key":           {},
	"x-csrf-token":        {},
	"x-forwarded-for":     {},
}

func truncate(s string) string {
	if len(s) > maxLoggedValue {
		return s[:maxLoggedValue]
	}
	return s
}

// SanitizeHeaders returns a log-safe copy of h with credentials redacted.
func SanitizeHeaders(h http.Header) map[string][]string {
	if h == nil {
		return nil
	}
	out := make(map[string][]string, len(h))
	for k, vals := range h {
		if _, ok := sensitiveHeaders[strings.ToLower(k)]; ok {
			out[k] = []string{"<redacted>"}
			continue
		}
		clean := make([]string, len(vals))
		for i, v := range vals {
			clean[i] = truncate(util.SanitizeForLog(v))
		}
		out[k] = clean
	}
	return out
}

// SanitizePath strips the query string and control characters from p.
func SanitizePath(p string) string {
	p, _, _ = strings.Cut(p, "?")
	return truncate(util.SanitizeForLog(p))
}
