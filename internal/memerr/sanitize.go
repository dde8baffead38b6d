package memerr

import (
	"regexp"
	"strings"
)

// Patterns that would leak infrastructure detail to API clients.
var sensitivePatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)password\s*[:=]\s*\S+`),
	regexp.MustCompile(`(?i)token\s*[:=]\s*\S+`),
	regexp.MustCompile(`(?i)api[_-]?key\s*[:=]\s*\S+`),
	regexp.MustCompile(`(?i)bearer\s+[A-Za-z0-9\-._~+/]+=*`),
	regexp.MustCompile(`\b\d{1,3}\.\d{1,3}\.\d{1,3}\.\d{1,3}(:\d+)?\b`),
	regexp.MustCompile(`[a-zA-Z0-9.-]+:\d{4,5}\b`),
}

var whitespaceRun = regexp.MustCompile(`\s+`)

// Sanitize strips credentials and endpoint addresses from an error
// before it crosses the API boundary.
func Sanitize(err error) string {
	if err == nil {
		return ""
	}
	return SanitizeString(err.Error())
}

// SanitizeString applies the redaction patterns to an arbitrary string.
func SanitizeString(input string) string {
	if input == "" {
		return ""
	}
	result := input
	for _, pattern := range sensitivePatterns {
		result = pattern.ReplaceAllString(result, "[REDACTED]")
	}
	return strings.TrimSpace(whitespaceRun.ReplaceAllString(result, " "))
}
