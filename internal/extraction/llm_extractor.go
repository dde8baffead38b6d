package extraction

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/graph-memory-service/internal/jsonx"
	"github.com/graph-memory-service/internal/llm"
	"github.com/graph-memory-service/internal/memerr"
)

// LLMExtractor extracts triples with a chat model using a few-shot
// prompt.
type LLMExtractor struct {
	client llm.ChatClient
	logger *zap.Logger
}

// NewLLMExtractor creates the extractor.
func NewLLMExtractor(client llm.ChatClient, logger *zap.Logger) *LLMExtractor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LLMExtractor{client: client, logger: logger}
}

const extractionSystemPrompt = `You extract knowledge triples from text. ` +
	`Return ONLY a JSON array, no prose. Each element: ` +
	`{"source": "...", "relation": "...", "target": "...", "fact": "one sentence"}.`

func buildExtractionPrompt(text string) string {
	return fmt.Sprintf(`Extract entity-relation triples from the text below.

EXAMPLES:
Text: "My sister Emma lives in Boston"
Output: [{"source": "Emma", "relation": "lives_in", "target": "Boston", "fact": "Emma, the user's sister, lives in Boston"}, {"source": "user", "relation": "sibling_of", "target": "Emma", "fact": "Emma is the user's sister"}]

Text: "I started working at Acme Corp last month as a data engineer"
Output: [{"source": "user", "relation": "works_at", "target": "Acme Corp", "fact": "The user works at Acme Corp as a data engineer"}]

Text: "The weather is nice today"
Output: []

NOW EXTRACT FROM:
Text: "%s"

Output JSON array (empty [] if nothing to extract):`, text)
}

// Extract runs one completion and parses the triples. A model reply
// that is not valid JSON is an upstream failure, not a crash.
func (e *LLMExtractor) Extract(ctx context.Context, text string) ([]Triple, error) {
	safe := sanitizePromptInput(text)
	if len(safe) < len(text)/2 {
		e.logger.Warn("input heavily sanitized before extraction",
			zap.Int("original_len", len(text)),
			zap.Int("sanitized_len", len(safe)))
	}
	if safe == "" {
		return nil, nil
	}

	reply, err := e.client.Complete(ctx, []llm.ChatMessage{
		{Role: "system", Content: extractionSystemPrompt},
		{Role: "user", Content: buildExtractionPrompt(safe)},
	})
	if err != nil {
		return nil, fmt.Errorf("extraction completion: %w", err)
	}

	triples, err := parseTriples(reply)
	if err != nil {
		return nil, memerr.NewUpstream("model", "extract", err)
	}

	e.logger.Debug("extraction completed", zap.Int("triples", len(triples)))
	return triples, nil
}

// parseTriples tolerates prose or fencing around the JSON array by
// slicing between the outermost brackets.
func parseTriples(reply string) ([]Triple, error) {
	reply = strings.TrimSpace(reply)

	start := strings.Index(reply, "[")
	end := strings.LastIndex(reply, "]")
	if start == -1 || end == -1 || end < start {
		return nil, fmt.Errorf("no JSON array in model reply")
	}

	var raw []Triple
	if err := jsonx.UnmarshalFromString(reply[start:end+1], &raw); err != nil {
		return nil, fmt.Errorf("parse triples: %w", err)
	}

	out := raw[:0]
	for _, t := range raw {
		t.Source = strings.TrimSpace(t.Source)
		t.Relation = strings.TrimSpace(t.Relation)
		t.Target = strings.TrimSpace(t.Target)
		t.Fact = strings.TrimSpace(t.Fact)
		if t.Source == "" || t.Relation == "" || t.Target == "" {
			continue
		}
		if t.Fact == "" {
			t.Fact = fmt.Sprintf("%s %s %s", t.Source, strings.ReplaceAll(t.Relation, "_", " "), t.Target)
		}
		out = append(out, t)
	}
	return out, nil
}
