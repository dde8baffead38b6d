package llm

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"math"
	"net/http"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"go.uber.org/zap"

	"github.com/graph-memory-service/internal/jsonx"
	"github.com/graph-memory-service/internal/memerr"
)

// Embedder turns text into a normalized vector.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// EmbedConfig holds settings for the Ollama embedding client.
type EmbedConfig struct {
	BaseURL   string
	Model     string
	Timeout   time.Duration
	CacheSize int
	CacheTTL  time.Duration
}

// OllamaEmbedder calls Ollama's /api/embeddings endpoint. Results are
// cached by exact input text with a TTL so repeat extraction of the
// same entities stays cheap.
type OllamaEmbedder struct {
	cfg        EmbedConfig
	httpClient *http.Client
	cache      *expirable.LRU[string, []float32]
	logger     *zap.Logger
}

type embedRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
}

type embedResponse struct {
	Embedding []float64 `json:"embedding"`
}

// NewOllamaEmbedder creates the embedder with its cache.
func NewOllamaEmbedder(cfg EmbedConfig, logger *zap.Logger) *OllamaEmbedder {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "http://localhost:11434"
	}
	if cfg.Model == "" {
		cfg.Model = "nomic-embed-text"
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.CacheSize == 0 {
		cfg.CacheSize = 4096
	}
	if cfg.CacheTTL == 0 {
		cfg.CacheTTL = time.Hour
	}
	return &OllamaEmbedder{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		cache:      expirable.NewLRU[string, []float32](cfg.CacheSize, nil, cfg.CacheTTL),
		logger:     logger,
	}
}

// Embed returns the L2-normalized embedding for text.
func (e *OllamaEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if cached, ok := e.cache.Get(text); ok {
		return cached, nil
	}

	body, err := jsonx.Marshal(embedRequest{Model: e.cfg.Model, Prompt: text})
	if err != nil {
		return nil, fmt.Errorf("marshal embed request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		e.cfg.BaseURL+"/api/embeddings", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build embed request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.httpClient.Do(req)
	if err != nil {
		return nil, memerr.NewUpstream("embedder", "embed", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(resp.Body)
		return nil, memerr.NewUpstream("embedder", "embed",
			fmt.Errorf("status %d: %s", resp.StatusCode, string(raw)))
	}

	var parsed embedResponse
	if err := jsonx.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, memerr.NewUpstream("embedder", "embed", fmt.Errorf("decode response: %w", err))
	}
	if len(parsed.Embedding) == 0 {
		return nil, memerr.NewUpstream("embedder", "embed", fmt.Errorf("empty embedding returned"))
	}

	vec := normalize(parsed.Embedding)
	e.cache.Add(text, vec)

	e.logger.Debug("embedded text",
		zap.Int("dimension", len(vec)),
		zap.Int("cache_len", e.cache.Len()))
	return vec, nil
}

// normalize converts to float32 and L2-normalizes.
func normalize(in []float64) []float32 {
	out := make([]float32, len(in))
	var sumSq float64
	for i, v := range in {
		out[i] = float32(v)
		sumSq += v * v
	}
	norm := float32(math.Sqrt(sumSq))
	if norm > 1e-9 {
		for i := range out {
			out[i] /= norm
		}
	}
	return out
}
