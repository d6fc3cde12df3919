package observability

import (
	"regexp"
	"strings"
)

const credentialRedacted = "[CREDENTIAL_REDACTED]"

// credentialPatterns match secrets that LLM client errors tend to echo back,
// such as vendor API keys and bearer headers.
var credentialPatterns = []*regexp.Regexp{
	// OpenAI and Anthropic keys: sk-..., sk-proj-..., sk-ant-api03-...
	regexp.MustCompile(`\bsk-(?:ant-|proj-)?[A-Za-z0-9_-]{16,}`),
	// Generic prefixed tokens: sk_, pk_, rk_, ghp_, xoxb_ and friends.
	regexp.MustCompile(`(?i)\b(?:sk|pk|rk|xox[baprs]|gh[pousr]|pat)_[a-z0-9_-]{8,}\b`),
	// JWT-like tokens.
	regexp.MustCompile(`(?i)eyj[a-z0-9_-]{8,}\.[a-z0-9_-]{8,}\.[a-z0-9_-]{8,}`),
	regexp.MustCompile(`(?i)\bBearer\s+[a-z0-9_.\-/+=]{8,}`),
	// DSN and query-string secrets.
	regexp.MustCompile(`(?i)\b(?:password|secret|token|api_key)\s*=\s*\S{4,}`),
}

// ContainsCredential reports whether s matches any credential pattern.
func ContainsCredential(s string) bool {
	if len(s) < 8 {
		return false
	}
	for _, p := range credentialPatterns {
		if p.MatchString(s) {
			return true
		}
	}
	return false
}

// ScrubCredentials replaces every credential match in s. Clean input is
// returned as is.
func ScrubCredentials(s string) string {
	if !ContainsCredential(s) {
		return s
	}
	for _, p := range credentialPatterns {
		s = p.ReplaceAllString(s, credentialRedacted)
	}
	return strings.TrimSpace(s)
}
