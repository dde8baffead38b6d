// Package extraction turns free text into entity and relation triples
// ready for the graph store. The LLM-backed extractor is behind an
// interface so ingestion can be tested without a model endpoint.
package extraction

import (
	"context"
	"regexp"
	"strings"
)

// Triple is one extracted statement: two entities, a relation label,
// and the natural-language fact sentence it came from.
type Triple struct {
	Source   string `json:"source"`
	Relation string `json:"relation"`
	Target   string `json:"target"`
	Fact     string `json:"fact"`
}

// Extractor produces triples from normalized text.
type Extractor interface {
	Extract(ctx context.Context, text string) ([]Triple, error)
}

// MaxPromptInputLength caps text embedded into prompts.
const MaxPromptInputLength = 5000

var (
	injectionPatterns = []struct {
		pattern     *regexp.Regexp
		replacement string
	}{
		{regexp.MustCompile(`(?i)(ignore|forget|disregard)\s+(all|previous|the|above)\s+(instructions?|commands?|rules?)`), "[REDACTED]"},
		{regexp.MustCompile(`(?i)(you are|act as|pretend to be|roleplay as)\s+(a\s+)?(admin|administrator|root|system|developer)`), "[REDACTED]"},
		{regexp.MustCompile(`(?i)(system|assistant|ai|model):\s*`), "[REDACTED]"},
		{regexp.MustCompile(`(?i)(show|reveal|print|dump)\s+(your|the|system)\s+(prompt|instructions?|rules?)`), "[REDACTED]"},
	}

	consecutiveNewlines = regexp.MustCompile(`\n{3,}`)
)

// sanitizePromptInput caps length, strips control characters, and
// neutralizes instruction-override phrasing before the text reaches a
// prompt.
func sanitizePromptInput(text string) string {
	if text == "" {
		return ""
	}
	if len(text) > MaxPromptInputLength {
		text = text[:MaxPromptInputLength] + "..."
	}

	var b strings.Builder
	for _, ch := range text {
		if ch == '\n' || ch == '\t' || (ch >= 32 && ch != 127) {
			b.WriteRune(ch)
		}
	}
	text = b.String()

	for _, p := range injectionPatterns {
		text = p.pattern.ReplaceAllString(text, p.replacement)
	}

	text = strings.ReplaceAll(text, "```", "\\`\\`\\`")
	text = consecutiveNewlines.ReplaceAllString(text, "\n\n")

	return strings.TrimSpace(text)
}
