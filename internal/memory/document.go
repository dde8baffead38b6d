package memory

import (
	"context"
	"fmt"
	"mime"
	"strings"
	"unicode/utf8"

	"github.com/graph-memory-service/internal/memerr"
)

// DocumentExtractor turns raw uploaded bytes into plain text.
type DocumentExtractor func(data []byte) (string, error)

// DocumentRegistry dispatches uploads by media type. Unsupported types
// are rejected before the pipeline touches the store.
type DocumentRegistry struct {
	extractors map[string]DocumentExtractor
}

// NewDocumentRegistry returns a registry with the built-in text
// formats registered.
func NewDocumentRegistry() *DocumentRegistry {
	r := &DocumentRegistry{extractors: make(map[string]DocumentExtractor)}
	r.Register("text/plain", extractPlainText)
	r.Register("text/markdown", extractPlainText)
	r.Register("text/csv", extractCSVText)
	return r
}

// Register adds an extractor for a media type.
func (r *DocumentRegistry) Register(mediaType string, fn DocumentExtractor) {
	r.extractors[mediaType] = fn
}

// Supported reports whether a content type can be handled.
func (r *DocumentRegistry) Supported(contentType string) bool {
	_, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return false
	}
	mediaType, _, _ := mime.ParseMediaType(contentType)
	_, ok := r.extractors[mediaType]
	return ok
}

func (r *DocumentRegistry) extract(contentType string, data []byte) (string, error) {
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return "", memerr.NewValidation("content_type", fmt.Sprintf("unparseable content type %q", contentType))
	}
	fn, ok := r.extractors[mediaType]
	if !ok {
		return "", memerr.NewValidation("content_type", fmt.Sprintf("unsupported content type %q", mediaType))
	}
	return fn(data)
}

func extractPlainText(data []byte) (string, error) {
	if !utf8.Valid(data) {
		return "", memerr.NewValidation("file", "not valid UTF-8 text")
	}
	return string(data), nil
}

// extractCSVText flattens rows into sentences so the extractor sees
// prose-like input instead of raw separators.
func extractCSVText(data []byte) (string, error) {
	text, err := extractPlainText(data)
	if err != nil {
		return "", err
	}
	lines := strings.Split(text, "\n")
	out := make([]string, 0, len(lines))
	for _, line := range lines {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		out = append(out, strings.Join(strings.Split(line, ","), ", "))
	}
	return strings.Join(out, "\n"), nil
}

// AddFromDocument extracts text from an uploaded file and feeds it to
// AddKnowledge. An unsupported or unparseable content type and an
// empty extraction are validation failures; nothing reaches the store.
// When sourceDescription is empty it is derived from the filename.
func (s *Service) AddFromDocument(ctx context.Context, data []byte, contentType, filename, userID, category, sourceDescription string) (*AddResult, error) {
	if len(data) == 0 {
		return nil, memerr.NewValidation("file", "empty upload")
	}

	text, err := s.docs.extract(contentType, data)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(text) == "" {
		return nil, memerr.NewValidation("file", "no content could be extracted")
	}

	if sourceDescription == "" {
		sourceDescription = "Content from uploaded file: " + filename
	}

	return s.AddKnowledge(ctx, text, userID, category, sourceDescription)
}
