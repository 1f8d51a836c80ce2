package redact

import (
	"regexp"
	"strings"
)

var (
	// Matches "Bearer <token>" (JWTs and opaque tokens).
	bearerTokenRe = regexp.MustCompile(`(?i)\bBearer\s+[^\s"']+`)

	// Common key=value formats that sometimes leak in error strings.
	apiKeyKVRe = regexp.MustCompile(`(?i)\b(api[_-]?key|gemini[_-]?api[_-]?key|sid|session[_-]?cookie)\b\s*[:=]\s*[^\s"']+`)

	// Slack webhook URLs embed a secret in the path.
	slackHookRe = regexp.MustCompile(`https://hooks\.slack\.com/services/[^\s"']+`)

	// Cookie headers carry the whole reader session.
	cookieHeaderRe = regexp.MustCompile(`(?i)\bCookie:\s*[^\r\n"']+`)
)

// Secrets removes obvious secret-bearing substrings from error/log strings.
func Secrets(s string) string {
	if s == "" {
		return ""
	}
	out := s
	out = bearerTokenRe.ReplaceAllString(out, "Bearer <redacted>")
	out = apiKeyKVRe.ReplaceAllString(out, "<redacted_kv>")
	out = slackHookRe.ReplaceAllString(out, "https://hooks.slack.com/services/<redacted>")
	out = cookieHeaderRe.ReplaceAllString(out, "Cookie: <redacted>")
	return strings.TrimSpace(out)
}

// Truncate produces a small, redacted, single-line hint from a response body.
// Response bodies can contain sensitive data; keep the hint short.
func Truncate(body []byte, max int) string {
	if len(body) == 0 {
		return ""
	}
	b := body
	if len(b) > max {
		b = b[:max]
	}
	s := Secrets(string(b))
	s = strings.ReplaceAll(s, "\n", " ")
	s = strings.ReplaceAll(s, "\r", " ")
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}
	if len(body) > max {
		return s + "..."
	}
	return s
}
