// Package redact strips contact details from transcript text before it is
// logged or archived. Check-in conversations are health-adjacent content;
// artifacts must not become an accidental PII store.
package redact

import (
	"regexp"
	"strings"
	"sync/atomic"
)

var enabled atomic.Bool

var replacers = []struct {
	re    *regexp.Regexp
	token string
}{
	{regexp.MustCompile(`(?i)[a-z0-9._%+\-]+@[a-z0-9.\-]+\.[a-z]{2,}`), "[REDACTED_EMAIL]"},
	{regexp.MustCompile(`\b\+?\d[\d\s\-]{7,}\d\b`), "[REDACTED_PHONE]"},
}

// SetEnabled toggles redaction process-wide. The engine sets it once from
// config before any observer runs.
func SetEnabled(v bool) {
	enabled.Store(v)
}

// Enabled reports whether redaction is active.
func Enabled() bool {
	return enabled.Load()
}

// Text redacts emails and phone numbers when enabled.
func Text(in string) string {
	if !enabled.Load() || strings.TrimSpace(in) == "" {
		return in
	}
	out := in
	for _, r := range replacers {
		out = r.re.ReplaceAllString(out, r.token)
	}
	return out
}

// Fields returns fields with every string value passed through Text. The map
// is copied only when redaction is on.
func Fields(in map[string]any) map[string]any {
	if !enabled.Load() || len(in) == 0 {
		return in
	}
	out := make(map[string]any, len(in))
	for k, v := range in {
		if s, ok := v.(string); ok {
			out[k] = Text(s)
			continue
		}
		out[k] = v
	}
	return out
}
